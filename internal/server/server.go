package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"camkeeper/internal/config"
	"camkeeper/internal/timelapse"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	host       *CameraHost
	timelapse  *timelapse.Manager
	auth       *Auth
	log        *zap.Logger
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する。tlはnilでもよい
func New(cfg *config.Config, host *CameraHost, tl *timelapse.Manager, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:    cfg,
		host:      host,
		timelapse: tl,
		auth:      NewAuth(cfg.Server.AuthToken),
		log:       logger.Named("server"),
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      s.engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.HealthCheck)
	s.engine.GET("/", s.handleRoot)

	api := s.engine.Group("/api", s.auth.Middleware())
	api.GET("/status", s.GetStatus)
	api.POST("/token", s.CreateToken)

	cam := api.Group("/camera")
	cam.POST("/open", s.OpenCamera)
	cam.POST("/configure", s.ConfigureCamera)
	cam.POST("/preview", s.StartPreview)
	cam.POST("/close", s.CloseCamera)
	cam.POST("/torch", s.SetTorch)
	cam.POST("/light", s.PublishLight)
	cam.GET("/frame", s.GetFrame)
	cam.GET("/picture", s.GetPicture)
	cam.POST("/record/start", s.StartRecord)
	cam.POST("/record/stop", s.StopRecord)
	cam.GET("/stream", s.GetCameraStream)
	cam.GET("/ws", s.GetCameraWebSocket)

	tl := api.Group("/timelapse")
	tl.GET("/status", s.GetTimelapseStatus)
	tl.GET("/videos", s.GetTimelapseVideos)
}

// requestLogger はリクエストをzapで記録する
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("リクエスト",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return errors.Wrap(err, "サーバーの起動に失敗")
	}

	shutdownCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTPサーバーを起動しています", zap.String("addr", listener.Addr().String()))
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- errors.Wrap(err, "サーバーの起動に失敗")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.log.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.log.Info("シグナルを受信しました", zap.Stringer("signal", sig))
	case err := <-shutdownCh:
		return err
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンし、カメラを解放する
func (s *Server) Shutdown() error {
	s.log.Info("サーバーをシャットダウンしています")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "サーバーのシャットダウンに失敗")
	}
	if s.timelapse != nil {
		if err := s.timelapse.Stop(ctx); err != nil {
			s.log.Error("タイムラプスの停止に失敗しました", zap.Error(err))
		}
	}
	if err := s.host.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "カメラの解放に失敗")
	}

	s.log.Info("サーバーが正常にシャットダウンされました")
	return nil
}
