package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camkeeper/internal/camera"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// TestConfigLoad は設定ファイルの読み込みをテストする
func TestConfigLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  frame_timeout: 500ms
camera:
  driver: mock
  domain: per-camera
  camera_id: 1
  viewport_width: 480
  viewport_height: 640
  display_rotation: 90
  focus_mode: macro
  auto_torch: true
  devices:
    - device: /dev/video2
      name: front
      facing: front
      orientation: 270
recorder:
  quality: 5
  max_duration: 2m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// 指定した値
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Server.FrameTimeout)
	assert.Equal(t, DriverMock, cfg.Camera.Driver)
	assert.Equal(t, string(camera.DomainPerCamera), cfg.Camera.Domain)
	assert.Equal(t, 2*time.Minute, cfg.Recorder.MaxDuration)

	// デフォルト値
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15, cfg.Camera.FPS)
	assert.True(t, cfg.Camera.AutoFocus)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.NotEmpty(t, cfg.Recorder.Dir)

	settings := cfg.CameraSettings()
	assert.Equal(t, 1, settings.CameraID)
	assert.Equal(t, camera.FocusMacro, settings.FocusMode)
	assert.True(t, settings.AutoTorchEnabled)
	assert.True(t, settings.AutoFocusEnabled)

	display := cfg.DisplayConfiguration()
	assert.Equal(t, camera.Size{Width: 480, Height: 640}, display.Viewport)
	assert.Equal(t, camera.Rotation90, display.Rotation)

	assert.Equal(t, map[string]camera.CameraInfo{
		"/dev/video2": {Name: "front", Facing: camera.FacingFront, Orientation: 270},
	}, cfg.DeviceOverrides())
}

// TestConfigLoad_MissingFile は指定した設定ファイルがない場合をテストする
func TestConfigLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// TestConfigLoad_Invalid は検証に失敗する設定ファイルをテストする
func TestConfigLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "camera:\n  driver: gphoto\n")
	_, err := Load(path)
	assert.Error(t, err)
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name      string
		modify    func(c *Config)
		expectErr bool
	}{
		{"正常な設定", func(*Config) {}, false},
		{"無効なポート番号", func(c *Config) { c.Server.Port = 99999 }, true},
		{"フレーム待ち時間なし", func(c *Config) { c.Server.FrameTimeout = 0 }, true},
		{"不明なドライバー", func(c *Config) { c.Camera.Driver = "gphoto" }, true},
		{"不明なドメイン", func(c *Config) { c.Camera.Domain = "process" }, true},
		{"無効なFPS", func(c *Config) { c.Camera.FPS = 0 }, true},
		{"無効な表示回転", func(c *Config) { c.Camera.DisplayRotation = 45 }, true},
		{"不明なフォーカスモード", func(c *Config) { c.Camera.FocusMode = "blur" }, true},
		{"カメラデバイスパスなし", func(c *Config) {
			c.Camera.Devices = []CameraDevice{{Name: "cam"}}
		}, true},
		{"不明なカメラの向き", func(c *Config) {
			c.Camera.Devices = []CameraDevice{{Device: "/dev/video0", Facing: "side"}}
		}, true},
		{"無効な取り付け角度", func(c *Config) {
			c.Camera.Devices = []CameraDevice{{Device: "/dev/video0", Orientation: 45}}
		}, true},
		{"無効な録画品質", func(c *Config) { c.Recorder.Quality = 0 }, true},
		{"タイムラプス間隔なし", func(c *Config) {
			c.Timelapse.Enabled = true
			c.Timelapse.CaptureInterval = 0
		}, true},
		{"不明なログレベル", func(c *Config) { c.Log.Level = "loud" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.modify(cfg)
			err := cfg.Validate()
			if tc.expectErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}
	assert.Equal(t, "192.168.1.100:9090", cfg.ServerAddress())
}

// TestEnvironmentVariables は環境変数の処理をテストする
func TestEnvironmentVariables(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")

	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("CAMKEEPER_CAMERA_DRIVER", "mock")
	t.Setenv("CAMKEEPER_SERVER_FRAME_TIMEOUT", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test.example.com", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, DriverMock, cfg.Camera.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Server.FrameTimeout)
}

// TestLoadEnvFile は.envファイルの読み込みをテストする
func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CAMKEEPER_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("CAMKEEPER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("CAMKEEPER_TEST_DOTENV"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("CAMKEEPER_TEST_DOTENV"))
}

// TestWriteDefault はデフォルト設定の書き出しと再読み込みをテストする
func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camkeeper", "config.yaml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "existing file is kept")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	want := Default()
	assert.Equal(t, want.Server, cfg.Server)
	assert.Equal(t, want.Recorder, cfg.Recorder)
	assert.Equal(t, want.Timelapse, cfg.Timelapse)
	assert.Equal(t, want.Log, cfg.Log)
	assert.Equal(t, want.CameraSettings(), cfg.CameraSettings())
	assert.Empty(t, cfg.Camera.Devices)
}
