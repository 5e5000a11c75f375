package cmd

import (
	"context"

	"go.uber.org/zap"

	"camkeeper/internal/camera"
	"camkeeper/internal/config"
	"camkeeper/internal/logging"
	"camkeeper/internal/recorder"
	"camkeeper/internal/server"
)

// app はコマンドが共有するロガーとCameraHost
type app struct {
	log  *zap.Logger
	host *server.CameraHost
}

func newLogger(c *config.Config) (*zap.Logger, error) {
	return logging.New(c.Log.Level, c.Log.Development)
}

// newDriver は設定に応じたドライバーを作る
func newDriver(c *config.Config, log *zap.Logger) camera.Driver {
	if c.Camera.Driver == config.DriverMock {
		driver := camera.NewMockDriver()
		driver.SetAutoFrames(true)
		return driver
	}
	return camera.NewV4L2Driver(camera.NewLinuxDiscovery(), c.Camera.FPS, c.DeviceOverrides(), log)
}

// newApp はロガー、ドライバー、ワーカーのドメイン、CameraHostを組み立てる
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	log, err := newLogger(c)
	if err != nil {
		return nil, err
	}

	driver := newDriver(c, log)
	domains := camera.NewDomains(camera.DomainMode(c.Camera.Domain), log)

	opts := server.HostOptions{
		Settings:     c.CameraSettings(),
		Display:      c.DisplayConfiguration(),
		DeviceModel:  c.Camera.DeviceModel,
		RecordDir:    c.Recorder.Dir,
		MaxDuration:  c.Recorder.MaxDuration,
		FrameTimeout: c.Server.FrameTimeout,
	}
	if err := recorder.ValidateFFmpeg(ctx); err != nil {
		log.Warn("ffmpegが見つからないため録画を無効にします", zap.Error(err))
	} else {
		opts.Recorder = recorder.New(recorder.Config{
			FPS:     c.Camera.FPS,
			Quality: c.Recorder.Quality,
		}, log)
	}
	if c.Camera.AutoTorch {
		opts.LightSensor = camera.NewLuxFeed()
	}

	return &app{
		log:  log,
		host: server.NewCameraHost(driver, domains, opts, log),
	}, nil
}

// close はカメラを解放し、ロガーを書き出す
func (a *app) close(ctx context.Context) error {
	err := a.host.Shutdown(ctx)
	_ = a.log.Sync()
	return err
}
