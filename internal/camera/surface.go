package camera

// Surface はプレビューの描画先
//
// 描画そのものはこのパッケージの範囲外で、実装はプレビュー開始直前に
// ワーカー上で一度だけ呼ばれる。
type Surface interface {
	AttachPreview(dev Device) error
}

// NoopSurface は何も描画しないSurface
//
// フレームをコールバックだけで受け取る場合に使う。
type NoopSurface struct{}

// AttachPreview は何もしない
func (NoopSurface) AttachPreview(Device) error {
	return nil
}

// SurfaceFunc は関数をSurfaceとして使うためのアダプター
type SurfaceFunc func(dev Device) error

// AttachPreview はf(dev)を呼ぶ
func (f SurfaceFunc) AttachPreview(dev Device) error {
	return f(dev)
}
