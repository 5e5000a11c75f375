package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camkeeper/internal/camera"
	"camkeeper/internal/imaging"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// respondError はカメラのエラーをHTTPステータスに対応させて返す
func (s *Server) respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, camera.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, camera.ErrRecorderUnavailable):
		status, code = http.StatusServiceUnavailable, "recorder_unavailable"
	case errors.Is(err, camera.ErrCameraUnavailable), errors.Is(err, camera.ErrCameraNotOpen):
		status, code = http.StatusServiceUnavailable, "camera_unavailable"
	}
	if status == http.StatusInternalServerError {
		s.log.Error("リクエストの処理に失敗しました", zap.String("path", c.FullPath()), zap.Error(err))
	}
	abortWithError(c, status, code, err.Error())
}

// HealthCheck はヘルスチェックエンドポイント
func (s *Server) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイント
func (s *Server) GetStatus(c *gin.Context) {
	resp := gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"camera":    s.host.Status(),
		"driver":    s.config.Camera.Driver,
		"domain":    s.config.Camera.Domain,
		"auth":      s.auth.Enabled(),
		"timestamp": time.Now(),
	}
	if s.timelapse != nil {
		resp["timelapse"] = s.timelapse.Status()
	}
	c.JSON(http.StatusOK, resp)
}

// accepted は投入できた操作の結果を返す。実際の完了は/api/statusで確認する
func (s *Server) accepted(c *gin.Context, op string) {
	c.JSON(http.StatusAccepted, gin.H{
		"operation":  op,
		"session_id": s.host.Session().ID(),
		"status":     s.host.Status(),
	})
}

// OpenCamera はカメラを開く
func (s *Server) OpenCamera(c *gin.Context) {
	if err := s.host.Open(); err != nil {
		s.respondError(c, err)
		return
	}
	s.accepted(c, "open")
}

// ConfigureCamera はカメラを設定する
func (s *Server) ConfigureCamera(c *gin.Context) {
	if err := s.host.Configure(); err != nil {
		s.respondError(c, err)
		return
	}
	s.accepted(c, "configure")
}

// StartPreview はプレビューを開始する
func (s *Server) StartPreview(c *gin.Context) {
	if err := s.host.StartPreview(); err != nil {
		s.respondError(c, err)
		return
	}
	s.accepted(c, "preview")
}

// CloseCamera はカメラを閉じる。wait=trueなら解放まで待つ
func (s *Server) CloseCamera(c *gin.Context) {
	s.host.Close()
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.Server.FrameTimeout)
		defer cancel()
		if err := s.host.WaitClosed(ctx); err != nil {
			s.respondError(c, err)
			return
		}
	}
	s.accepted(c, "close")
}

type torchRequest struct {
	On *bool `json:"on" binding:"required"`
}

// SetTorch はトーチを切り替える
func (s *Server) SetTorch(c *gin.Context) {
	var req torchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.host.SetTorch(*req.On); err != nil {
		s.respondError(c, err)
		return
	}
	s.accepted(c, "torch")
}

type lightRequest struct {
	Lux *float64 `json:"lux" binding:"required"`
}

// PublishLight は外部の照度センサーの値を受け取る
func (s *Server) PublishLight(c *gin.Context) {
	var req lightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.host.PublishLux(*req.Lux); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, "sensor_unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"lux": *req.Lux})
}

// GetFrame は次のプレビューフレームを1枚返す
//
// format=rawなら変換せずに返し、形式とサイズをヘッダーで伝える。
func (s *Server) GetFrame(c *gin.Context) {
	frame, err := s.host.Frame(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	if c.Query("format") == "raw" {
		writeRaw(c, frame)
		return
	}
	s.writeJPEG(c, frame)
}

// GetPicture は静止画を撮影して返す
func (s *Server) GetPicture(c *gin.Context) {
	picture, err := s.host.Picture(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.writeJPEG(c, picture)
}

func writeRaw(c *gin.Context, frame *camera.SourceData) {
	c.Header("X-Frame-Format", string(frame.Format))
	c.Header("X-Frame-Width", strconv.Itoa(frame.Width))
	c.Header("X-Frame-Height", strconv.Itoa(frame.Height))
	c.Header("X-Frame-Rotation", strconv.Itoa(frame.Rotation))
	c.Data(http.StatusOK, "application/octet-stream", frame.Data)
}

func (s *Server) writeJPEG(c *gin.Context, frame *camera.SourceData) {
	data, err := imaging.EncodeJPEG(frame, imaging.Options{Rotate: true})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Data(http.StatusOK, "image/jpeg", data)
}

type recordRequest struct {
	Name string `json:"name"`
}

// StartRecord は録画を開始する
func (s *Server) StartRecord(c *gin.Context) {
	var req recordRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortWithError(c, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
	}
	path, err := s.host.StartRecord(req.Name)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"operation": "record_start", "path": path})
}

// StopRecord は録画を停止する
func (s *Server) StopRecord(c *gin.Context) {
	if err := s.host.StopRecord(); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"operation": "record_stop"})
}

// CreateToken はストリーム用トークンを発行する
func (s *Server) CreateToken(c *gin.Context) {
	if !s.auth.Enabled() {
		abortWithError(c, http.StatusNotFound, "auth_disabled", "認証が無効です")
		return
	}
	token, expires, err := s.auth.GenerateStreamToken()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expires})
}

// GetTimelapseStatus はタイムラプスの状態を返す
func (s *Server) GetTimelapseStatus(c *gin.Context) {
	if s.timelapse == nil {
		abortWithError(c, http.StatusNotFound, "timelapse_disabled", "タイムラプスが設定されていません")
		return
	}
	c.JSON(http.StatusOK, s.timelapse.Status())
}

// GetTimelapseVideos はタイムラプス動画の一覧を返す
func (s *Server) GetTimelapseVideos(c *gin.Context) {
	if s.timelapse == nil {
		abortWithError(c, http.StatusNotFound, "timelapse_disabled", "タイムラプスが設定されていません")
		return
	}
	videos, err := s.timelapse.Videos()
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"videos": videos})
}

// handleRoot はルートパスのハンドラ
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(`<!DOCTYPE html>
<html lang="ja">
<head>
    <meta charset="UTF-8">
    <title>camkeeper</title>
</head>
<body>
    <h1>camkeeper</h1>
    <p>サーバーが正常に起動しています。</p>
    <p>ステータス: <a href="/api/status">/api/status</a></p>
    <p>ヘルスチェック: <a href="/health">/health</a></p>
    <p>ライブ: <a href="/api/camera/stream">/api/camera/stream</a></p>
</body>
</html>`))
}
