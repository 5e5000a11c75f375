package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// ストリームのフレーム取得間隔
	streamInterval = 100 * time.Millisecond
	// 連続でフレームが取れなければ切断する回数
	streamMaxFailures = 30
	// WebSocketの書き込み待ち時間
	wsWriteWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// nextJPEG は次のフレームをJPEGで返す。取れなければnil
func (s *Server) nextJPEG(c *gin.Context) []byte {
	data, err := s.host.Snapshot(c.Request.Context())
	if err != nil {
		s.log.Debug("ストリームのフレームを取得できませんでした", zap.Error(err))
		return nil
	}
	return data
}

// GetCameraStream はMJPEGストリーミングエンドポイント
func (s *Server) GetCameraStream(c *gin.Context) {
	if !s.host.Status().Open {
		abortWithError(c, http.StatusServiceUnavailable, "camera_not_active", "カメラが開かれていません")
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	s.log.Info("MJPEGストリームに接続しました", zap.String("remote", c.ClientIP()))
	defer s.log.Info("MJPEGストリームを切断しました", zap.String("remote", c.ClientIP()))

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	clientGone := c.Request.Context().Done()
	failures := 0
	for {
		select {
		case <-clientGone:
			return
		case <-ticker.C:
			frame := s.nextJPEG(c)
			if frame == nil {
				failures++
				if failures > streamMaxFailures {
					return
				}
				continue
			}
			failures = 0

			if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// GetCameraWebSocket はフレームをバイナリメッセージで送るWebSocketエンドポイント
func (s *Server) GetCameraWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocketへのアップグレードに失敗しました", zap.Error(err))
		return
	}
	defer conn.Close()

	// クライアントからの切断を検知する
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.log.Info("WebSocketストリームに接続しました", zap.String("remote", c.ClientIP()))
	defer s.log.Info("WebSocketストリームを切断しました", zap.String("remote", c.ClientIP()))

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
			frame := s.nextJPEG(c)
			if frame == nil {
				failures++
				if failures > streamMaxFailures {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "no frames"),
						time.Now().Add(wsWriteWait))
					return
				}
				continue
			}
			failures = 0

			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				s.log.Debug("WebSocketへの書き込みに失敗しました", zap.Error(err))
				return
			}
		}
	}
}
