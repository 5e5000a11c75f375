// Package camera 1台のカメラを専用スレッドに閉じ込めて操作する
//
// # 責務
// - ハードウェア操作を1本のワーカースレッドに直列化する（WorkerQueue）
// - 利用者向けの状態付きファサードを提供する（Session）
// - パラメーターの交渉、回転の計算、1回限りのフレーム配信を行う（Controller）
// - V4L2デバイスの検出とffmpeg経由のMJPEG取得
//
// # 使い分け
// 利用者はSessionだけを触る。SessionのメソッドはWorkerQueueに処理を積んですぐに戻り、
// 結果はSetReadyHandlerで登録したチャネルに Message として届く。
// フレームと静止画はリクエストごとのコールバックでワーカースレッドから渡される。
//
// # 仕様
//   - WorkerQueue: OSスレッドに固定した1本のゴルーチンでFIFO実行。参照カウントが0で終了
//   - Domains: 全カメラ共有か、カメラごとのスレッドかを配備時に選ぶ
//   - Controller: セーフモードによる再試行付きのパラメーター交渉
//   - Driver/Device: ハードウェア境界。コールバックはpost経由でワーカーに戻る
//   - MockDriver: テストと開発用。失敗の注入ができる
//
// # 前提要件（V4L2Driver）
//   - v4l-utils: カメラ名と対応解像度の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - ffmpeg: プレビューの取得に使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
