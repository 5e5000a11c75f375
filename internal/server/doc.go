// Package server は、カメラセッションをHTTPで操作するサーバーを提供します。
//
// CameraHostが1つのセッションの利用者となり、全ての操作を1つのミューテックスの下で行います。
// セッションからの通知は専用のゴルーチンが受け取り、状態に反映します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - カメラの開閉、設定、プレビュー、トーチ、録画の操作
//   - 1フレームの取得（期限付き）と静止画の撮影
//   - MJPEGとWebSocketによるストリーミング
//   - Bearerトークンとストリーム用JWTによる認証
//   - タイムラプスの状態と動画一覧の提供
package server
