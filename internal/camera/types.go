package camera

import (
	"context"
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Size は幅と高さを表す不変の値
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rotate は縦横を入れ替えたサイズを返す（元の値は変更しない）
func (s Size) Rotate() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// Area は画素数を返す
func (s Size) Area() int {
	return s.Width * s.Height
}

// AspectRatio は幅/高さの比を返す
func (s Size) AspectRatio() float64 {
	if s.Height == 0 {
		return math.Inf(1)
	}
	return float64(s.Width) / float64(s.Height)
}

// FitsIn はsがotherの内側に収まるかを返す
func (s Size) FitsIn(other Size) bool {
	return s.Width <= other.Width && s.Height <= other.Height
}

// IsZero は未設定のサイズかどうかを返す
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// PixelFormat はフレームデータの画素フォーマット
type PixelFormat string

const (
	FormatNV21 PixelFormat = "NV21" // YUV420 semi-planar
	FormatYUYV PixelFormat = "YUYV" // YUV422 packed
	FormatMJPG PixelFormat = "MJPG" // Motion JPEGの1フレーム
	FormatJPEG PixelFormat = "JPEG" // 静止画JPEG
)

// frameLength は生フォーマットで期待されるバイト数を返す。圧縮フォーマットは-1
func (f PixelFormat) frameLength(size Size) int {
	switch f {
	case FormatNV21:
		return size.Area() * 3 / 2
	case FormatYUYV:
		return size.Area() * 2
	default:
		return -1
	}
}

// SourceData はキャプチャした1フレーム分のデータ
//
// コントローラーがフレームごとに生成し、登録されたコールバックへ一度だけ渡す。
type SourceData struct {
	Data     []byte
	Width    int
	Height   int
	Format   PixelFormat
	Rotation int // キャプチャ時の回転角度 (0/90/180/270)
}

// NewSourceData はフレームデータを検証してSourceDataを作成する
func NewSourceData(data []byte, width, height int, format PixelFormat, rotation int) (*SourceData, error) {
	if data == nil {
		return nil, errors.Wrap(ErrFrameDelivery, "フレームデータがありません")
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrFrameDelivery, "無効な解像度: %dx%d", width, height)
	}
	switch rotation {
	case 0, 90, 180, 270:
	default:
		return nil, errors.Wrapf(ErrFrameDelivery, "無効な回転角度: %d", rotation)
	}
	if want := format.frameLength(Size{Width: width, Height: height}); want >= 0 && len(data) != want {
		return nil, errors.Wrapf(ErrFrameDelivery, "データ長 %d が解像度 %dx%d (%s) と一致しません", len(data), width, height, format)
	}

	return &SourceData{
		Data:     data,
		Width:    width,
		Height:   height,
		Format:   format,
		Rotation: rotation,
	}, nil
}

// Size はフレームの解像度を返す
func (d *SourceData) Size() Size {
	return Size{Width: d.Width, Height: d.Height}
}

// Rotated は表示に対して90度傾いたフレームかを返す
func (d *SourceData) Rotated() bool {
	return d.Rotation%180 != 0
}

// Facing はカメラの向き
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// CameraInfo は回転計算に必要なカメラのメタデータ
type CameraInfo struct {
	ID          int    // カメラ番号
	Name        string // 表示名
	Facing      Facing // 前面/背面
	Orientation int    // センサーの取り付け角度 (0/90/180/270)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Driver  string   // ドライバー名
	Sizes   []Size   // サポートされる解像度
	Formats []string // サポートされるフォーマット
}
