package timelapse

import (
	"context"
	"time"
)

// Frame はタイムラプス用に撮影した1枚
type Frame struct {
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"-"` // JPEG画像データ
}

// FrameSource はJPEGを1枚返すもの。カメラのセッションを持つ側が実装する
type FrameSource interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// FrameSourceFunc は関数をFrameSourceとして使うためのアダプター
type FrameSourceFunc func(ctx context.Context) ([]byte, error)

// Snapshot はf(ctx)を呼ぶ
func (f FrameSourceFunc) Snapshot(ctx context.Context) ([]byte, error) {
	return f(ctx)
}

// Config はタイムラプス設定
type Config struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`                   // 有効/無効
	OutputDir       string        `mapstructure:"output_dir" yaml:"output_dir"`             // 動画の出力先
	CaptureInterval time.Duration `mapstructure:"capture_interval" yaml:"capture_interval"` // 撮影間隔
	UpdateInterval  time.Duration `mapstructure:"update_interval" yaml:"update_interval"`   // 動画更新間隔
	Quality         int           `mapstructure:"quality" yaml:"quality"`                   // 動画品質 (1-5)
	MaxFrameBuffer  int           `mapstructure:"max_frame_buffer" yaml:"max_frame_buffer"` // 最大バッファサイズ
}

// Video はタイムラプス動画情報
type Video struct {
	Date     time.Time `json:"date"`      // 更新日時
	FilePath string    `json:"file_path"` // ファイルパス
	FileSize int64     `json:"file_size"` // ファイルサイズ
	Status   Status    `json:"status"`    // ステータス
}

// Status はタイムラプス動画のステータス
type Status string

const (
	StatusRecording Status = "recording" // 追記中
	StatusCompleted Status = "completed" // 完了
)

// DefaultConfig はデフォルトのタイムラプス設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		CaptureInterval: 2 * time.Second,
		UpdateInterval:  1 * time.Hour,
		Quality:         3,
		MaxFrameBuffer:  1800, // 1時間分（2秒間隔）
	}
}
