package camera

import "time"

// 録画サイズの上限。これ以下の最初の候補を使う
const maxRecordWidth, maxRecordHeight = 1280, 720

// RecordSpec は録画1回分の指定
type RecordSpec struct {
	Path            string        // 出力ファイル
	Size            Size          // 動画サイズ。ゼロなら録画側の既定
	OrientationHint int           // センサーの取り付け角度
	MaxDuration     time.Duration // 0なら無制限
}

// Recorder はカメラのハンドルを借りて録画する外部の協力者
//
// コントローラーはPrepareの前にDeviceをUnlockし、Stopまたは失敗の後でLockし直す。
// 全てのメソッドはワーカースレッドから呼ばれる。
type Recorder interface {
	Prepare(dev Device, spec RecordSpec) error
	Start() error
	Stop() error
	// Reset は状態を破棄して再利用できるようにする。失敗しない
	Reset()
}

// selectRecordSize は上限以下の最初のサイズを選び、なければ表示に合うサイズを選ぶ
func selectRecordSize(sizes []Size, display *DisplayConfiguration, rotated bool) Size {
	for _, s := range sizes {
		if s.Width <= maxRecordWidth && s.Height <= maxRecordHeight {
			return s
		}
	}
	if size, ok := display.BestPreviewSize(sizes, rotated); ok {
		return size
	}
	return Size{}
}
