// Package config はデフォルト値・設定ファイル・環境変数から設定を組み立てる
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"camkeeper/internal/camera"
	"camkeeper/internal/logging"
	"camkeeper/internal/timelapse"
)

const (
	appName   = "camkeeper"
	envPrefix = "CAMKEEPER"

	DriverV4L2 = "v4l2"
	DriverMock = "mock"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Camera    CameraConfig     `mapstructure:"camera" yaml:"camera"`
	Recorder  RecorderConfig   `mapstructure:"recorder" yaml:"recorder"`
	Timelapse timelapse.Config `mapstructure:"timelapse" yaml:"timelapse"`
	Log       LogConfig        `mapstructure:"log" yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"` // リッスンするホスト
	Port int    `mapstructure:"port" yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`   // 読み込みタイムアウト
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"` // 書き込みタイムアウト
	FrameTimeout time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"` // 1フレームの待ち時間

	// 空なら認証なし
	AuthToken string `mapstructure:"auth_token" yaml:"auth_token"`
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"`       // v4l2 / mock
	Domain   string `mapstructure:"domain" yaml:"domain"`       // ワーカーの共有単位: global / per-camera
	CameraID int    `mapstructure:"camera_id" yaml:"camera_id"` // -1なら既定のカメラ
	FPS      int    `mapstructure:"fps" yaml:"fps"`             // フレームレート (fps)

	// 表示先
	ViewportWidth   int `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int `mapstructure:"viewport_height" yaml:"viewport_height"`
	DisplayRotation int `mapstructure:"display_rotation" yaml:"display_rotation"` // 0/90/180/270

	FocusMode        string `mapstructure:"focus_mode" yaml:"focus_mode"`
	ScanInverted     bool   `mapstructure:"scan_inverted" yaml:"scan_inverted"`
	BarcodeSceneMode bool   `mapstructure:"barcode_scene_mode" yaml:"barcode_scene_mode"`
	MeteringEnabled  bool   `mapstructure:"metering_enabled" yaml:"metering_enabled"`
	ExposureEnabled  bool   `mapstructure:"exposure_enabled" yaml:"exposure_enabled"`
	AutoFocus        bool   `mapstructure:"auto_focus" yaml:"auto_focus"`
	AutoTorch        bool   `mapstructure:"auto_torch" yaml:"auto_torch"`
	DeviceModel      string `mapstructure:"device_model" yaml:"device_model"`

	// V4L2から取得できない向きと取り付け角度
	Devices []CameraDevice `mapstructure:"devices" yaml:"devices,omitempty"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	Device      string `mapstructure:"device" yaml:"device"`           // デバイスパス (例: /dev/video0)
	Name        string `mapstructure:"name" yaml:"name"`               // カメラ名
	Facing      string `mapstructure:"facing" yaml:"facing"`           // back / front
	Orientation int    `mapstructure:"orientation" yaml:"orientation"` // 0/90/180/270
}

// RecorderConfig は録画の設定
type RecorderConfig struct {
	Dir         string        `mapstructure:"dir" yaml:"dir"`
	Quality     int           `mapstructure:"quality" yaml:"quality"` // 1-5
	MaxDuration time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
}

// LogConfig はログの設定
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// Default はデフォルトの設定を返す
func Default() *Config {
	tl := timelapse.DefaultConfig()
	tl.OutputDir = filepath.Join(xdg.DataHome, appName, "timelapse")

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
			FrameTimeout: 3 * time.Second,
		},
		Camera: CameraConfig{
			Driver:    DriverV4L2,
			Domain:    string(camera.DomainGlobal),
			CameraID:  camera.NoRequestedCamera,
			FPS:       15,
			FocusMode: string(camera.FocusAuto),
			AutoFocus: true,
		},
		Recorder: RecorderConfig{
			Dir:     filepath.Join(xdg.DataHome, appName, "recordings"),
			Quality: 3,
		},
		Timelapse: tl,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath は既定の設定ファイルの場所を返す
func DefaultPath() (string, error) {
	path, err := xdg.ConfigFile(filepath.Join(appName, "config.yaml"))
	if err != nil {
		return "", errors.Wrap(err, "設定ファイルの場所を決められません")
	}
	return path, nil
}

// LoadEnvFile は.envファイルを環境変数に読み込む。ファイルがなければ何もしない
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), ".envの読み込みに失敗")
}

// Load は設定を読み込む
//
// デフォルト値、設定ファイル、CAMKEEPER_* 環境変数の順に上書きする。
// pathが空なら ./config.yaml と XDG_CONFIG_HOME/camkeeper/config.yaml を探し、なければデフォルトのまま。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 以前からの変数名
	_ = v.BindEnv("server.host", envPrefix+"_SERVER_HOST", "SERVER_HOST")
	_ = v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "SERVER_PORT", "PORT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "設定ファイルの読み込みに失敗: %s", path)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join(xdg.ConfigHome, appName))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "設定ファイルの読み込みに失敗")
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "設定の変換に失敗")
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "設定の検証に失敗")
	}
	return cfg, nil
}

// setDefaults は全てのキーをviperに登録する。環境変数だけで値を与えられるようにするため
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.frame_timeout", d.Server.FrameTimeout)
	v.SetDefault("server.auth_token", d.Server.AuthToken)

	v.SetDefault("camera.driver", d.Camera.Driver)
	v.SetDefault("camera.domain", d.Camera.Domain)
	v.SetDefault("camera.camera_id", d.Camera.CameraID)
	v.SetDefault("camera.fps", d.Camera.FPS)
	v.SetDefault("camera.viewport_width", d.Camera.ViewportWidth)
	v.SetDefault("camera.viewport_height", d.Camera.ViewportHeight)
	v.SetDefault("camera.display_rotation", d.Camera.DisplayRotation)
	v.SetDefault("camera.focus_mode", d.Camera.FocusMode)
	v.SetDefault("camera.scan_inverted", d.Camera.ScanInverted)
	v.SetDefault("camera.barcode_scene_mode", d.Camera.BarcodeSceneMode)
	v.SetDefault("camera.metering_enabled", d.Camera.MeteringEnabled)
	v.SetDefault("camera.exposure_enabled", d.Camera.ExposureEnabled)
	v.SetDefault("camera.auto_focus", d.Camera.AutoFocus)
	v.SetDefault("camera.auto_torch", d.Camera.AutoTorch)
	v.SetDefault("camera.device_model", d.Camera.DeviceModel)
	v.SetDefault("camera.devices", d.Camera.Devices)

	v.SetDefault("recorder.dir", d.Recorder.Dir)
	v.SetDefault("recorder.quality", d.Recorder.Quality)
	v.SetDefault("recorder.max_duration", d.Recorder.MaxDuration)

	v.SetDefault("timelapse.enabled", d.Timelapse.Enabled)
	v.SetDefault("timelapse.output_dir", d.Timelapse.OutputDir)
	v.SetDefault("timelapse.capture_interval", d.Timelapse.CaptureInterval)
	v.SetDefault("timelapse.update_interval", d.Timelapse.UpdateInterval)
	v.SetDefault("timelapse.quality", d.Timelapse.Quality)
	v.SetDefault("timelapse.max_frame_buffer", d.Timelapse.MaxFrameBuffer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("無効なポート番号: %d", c.Server.Port)
	}
	if c.Server.FrameTimeout <= 0 {
		return errors.Errorf("無効なフレーム待ち時間: %s", c.Server.FrameTimeout)
	}

	// カメラ設定の検証
	switch c.Camera.Driver {
	case DriverV4L2, DriverMock:
	default:
		return errors.Errorf("不明なドライバー: %q", c.Camera.Driver)
	}
	switch camera.DomainMode(c.Camera.Domain) {
	case camera.DomainGlobal, camera.DomainPerCamera:
	default:
		return errors.Errorf("不明なワーカードメイン: %q", c.Camera.Domain)
	}
	if c.Camera.FPS <= 0 {
		return errors.Errorf("無効なフレームレート: %d", c.Camera.FPS)
	}
	if c.Camera.ViewportWidth < 0 || c.Camera.ViewportHeight < 0 {
		return errors.Errorf("無効な表示サイズ: %dx%d", c.Camera.ViewportWidth, c.Camera.ViewportHeight)
	}
	if _, err := camera.RotationFromDegrees(c.Camera.DisplayRotation); err != nil {
		return err
	}
	if _, err := camera.ParseFocusMode(c.Camera.FocusMode); err != nil {
		return err
	}
	for i, d := range c.Camera.Devices {
		if d.Device == "" {
			return errors.Errorf("カメラ %d のデバイスパスがありません", i)
		}
		if _, err := parseFacing(d.Facing); err != nil {
			return errors.Wrapf(err, "カメラ %s", d.Device)
		}
		if _, err := camera.RotationFromDegrees(d.Orientation); err != nil {
			return errors.Wrapf(err, "カメラ %s の取り付け角度", d.Device)
		}
	}

	if c.Recorder.Quality < 1 || c.Recorder.Quality > 5 {
		return errors.Errorf("録画品質は1〜5で指定してください: %d", c.Recorder.Quality)
	}
	if c.Timelapse.Enabled && (c.Timelapse.CaptureInterval <= 0 || c.Timelapse.UpdateInterval <= 0) {
		return errors.New("タイムラプスの撮影間隔と更新間隔は正の値が必要です")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// CameraSettings はカメラを開く前に適用する設定を返す
func (c *Config) CameraSettings() camera.Settings {
	mode, _ := camera.ParseFocusMode(c.Camera.FocusMode)
	return camera.Settings{
		CameraID:         c.Camera.CameraID,
		FocusMode:        mode,
		ScanInverted:     c.Camera.ScanInverted,
		BarcodeSceneMode: c.Camera.BarcodeSceneMode,
		MeteringEnabled:  c.Camera.MeteringEnabled,
		ExposureEnabled:  c.Camera.ExposureEnabled,
		AutoFocusEnabled: c.Camera.AutoFocus,
		AutoTorchEnabled: c.Camera.AutoTorch,
	}
}

// DisplayConfiguration は表示先の設定を返す
func (c *Config) DisplayConfiguration() *camera.DisplayConfiguration {
	rotation, _ := camera.RotationFromDegrees(c.Camera.DisplayRotation)
	return camera.NewDisplayConfiguration(camera.Size{
		Width:  c.Camera.ViewportWidth,
		Height: c.Camera.ViewportHeight,
	}, rotation)
}

// DeviceOverrides はデバイスパスごとの向きと取り付け角度を返す
func (c *Config) DeviceOverrides() map[string]camera.CameraInfo {
	overrides := make(map[string]camera.CameraInfo, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		facing, _ := parseFacing(d.Facing)
		overrides[d.Device] = camera.CameraInfo{
			Name:        d.Name,
			Facing:      facing,
			Orientation: d.Orientation,
		}
	}
	return overrides
}

func parseFacing(s string) (camera.Facing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "back":
		return camera.FacingBack, nil
	case "front":
		return camera.FacingFront, nil
	default:
		return camera.FacingBack, errors.Errorf("不明なカメラの向き: %q", s)
	}
}

// WriteDefault はデフォルトの設定をYAMLでpathに書き出す。既にあればエラー
func WriteDefault(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("設定ファイルが既に存在します: %s", path)
		}
	}
	data, err := Default().Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "設定ディレクトリの作成に失敗")
	}
	return errors.Wrap(os.WriteFile(path, data, 0o600), "設定ファイルの書き込みに失敗")
}

// Marshal は設定をYAMLにする
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "設定のYAML変換に失敗")
	}
	return data, nil
}
