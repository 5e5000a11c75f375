package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"camkeeper/internal/server"
	"camkeeper/internal/timelapse"
)

func newServeCmd() *cobra.Command {
	var (
		host      string
		port      int
		autostart bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		Long:  `カメラを管理するHTTPサーバーを起動します。SIGINT/SIGTERMでカメラを解放して終了します。`,
		Example: `  # 設定ファイルの内容で起動
  camkeeper serve

  # モックカメラで起動
  CAMKEEPER_CAMERA_DRIVER=mock camkeeper serve -p 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), autostart)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&host, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	flags.IntVarP(&port, "port", "p", 0, "サーバーのポート (デフォルト: 8080)")
	flags.BoolVar(&autostart, "autostart", true, "起動時にカメラを開いてプレビューを始める")
	return cmd
}

func runServe(ctx context.Context, autostart bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.log.Sync() }()

	if autostart {
		if err := a.host.Start(); err != nil {
			return err
		}
	}

	var tl *timelapse.Manager
	if cfg.Timelapse.Enabled {
		tl = timelapse.NewManager(cfg.Timelapse, a.host, a.log)
		if err := tl.Start(ctx); err != nil {
			a.log.Error("タイムラプスを開始できませんでした", zap.Error(err))
			tl = nil
		}
	}

	srv := server.New(cfg, a.host, tl, a.log)
	a.log.Info("camkeeperを起動します",
		zap.String("addr", cfg.ServerAddress()),
		zap.String("driver", cfg.Camera.Driver),
		zap.String("domain", cfg.Camera.Domain),
	)
	return srv.Start(ctx)
}
