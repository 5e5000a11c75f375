package camera

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// V4L2Driver はv4l2-ctlとffmpegを使うLinux向けのDriver
//
// プレビューはMJPEGで配信し、静止画はストリームの次のフレームを使う。
type V4L2Driver struct {
	discovery Discovery
	fps       int
	overrides map[string]CameraInfo
	log       *zap.Logger
}

// NewV4L2Driver は新しいV4L2Driverを作成する
//
// overridesはデバイスパスごとの向き・取り付け角度。V4L2からは取得できないため設定で与える。
func NewV4L2Driver(discovery Discovery, fps int, overrides map[string]CameraInfo, logger *zap.Logger) *V4L2Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &V4L2Driver{
		discovery: discovery,
		fps:       fps,
		overrides: overrides,
		log:       logger,
	}
}

// NumCameras は利用可能なデバイスの数を返す
func (d *V4L2Driver) NumCameras(ctx context.Context) (int, error) {
	devices, err := d.discovery.ScanDevices(ctx)
	if err != nil {
		return 0, err
	}
	return len(devices), nil
}

func (d *V4L2Driver) device(ctx context.Context, id int) (string, error) {
	devices, err := d.discovery.ScanDevices(ctx)
	if err != nil {
		return "", err
	}
	if id < 0 || id >= len(devices) {
		return "", errors.Errorf("カメラ %d は存在しません", id)
	}
	return devices[id], nil
}

// Info はデバイスのメタデータを返す
func (d *V4L2Driver) Info(ctx context.Context, id int) (CameraInfo, error) {
	path, err := d.device(ctx, id)
	if err != nil {
		return CameraInfo{}, err
	}

	info := CameraInfo{ID: id, Name: path, Facing: FacingBack}
	if override, ok := d.overrides[path]; ok {
		info.Facing = override.Facing
		info.Orientation = override.Orientation
		if override.Name != "" {
			info.Name = override.Name
		}
	}
	if info.Name == path {
		if di, err := d.discovery.GetDeviceInfo(ctx, path); err == nil {
			info.Name = di.Name
		}
	}
	return info, nil
}

// Open はデバイスを開く
func (d *V4L2Driver) Open(ctx context.Context, id int, post func(func())) (Device, error) {
	path, err := d.device(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := d.discovery.GetDeviceInfo(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(info.Sizes) == 0 {
		return nil, errors.Wrapf(ErrNoResolution, "デバイス %s", path)
	}

	return &v4l2Device{
		path:   path,
		fps:    d.fps,
		post:   post,
		log:    d.log.With(zap.String("device", path)),
		params: v4l2Parameters(info),
	}, nil
}

// v4l2Parameters はデバイス情報から初期パラメーターを作る
func v4l2Parameters(info *DeviceInfo) *Parameters {
	p := NewParameters()
	p.SetSupportedPreviewSizes(info.Sizes)
	p.SetSupportedPictureSizes(info.Sizes)
	p.SetSupportedVideoSizes(info.Sizes)
	p.SetPreviewSize(info.Sizes[0])
	p.SetPictureSize(info.Sizes[0])
	p.SetPreviewFormat(FormatMJPG)
	p.Set(KeyFocusModeValues, FocusModeInfinity)
	p.Set(KeyFocusMode, FocusModeInfinity)
	p.Set(KeyFlashModeValues, FlashModeOff)
	p.Set(KeyFlashMode, FlashModeOff)
	return p
}

// v4l2Device はV4L2デバイスのハンドル
//
// メソッドはワーカースレッドから呼ばれ、フレームはストリームのゴルーチンからpostで戻す。
type v4l2Device struct {
	path string
	fps  int
	post func(func())
	log  *zap.Logger

	params      *Parameters
	orientation int
	previewing  bool
	unlocked    bool
	stream      *frameStream

	mu      sync.Mutex
	oneShot FrameHandler
	picture FrameHandler
}

func (v *v4l2Device) Parameters() (*Parameters, error) {
	return v.params.Clone(), nil
}

func (v *v4l2Device) SetParameters(p *Parameters) error {
	size, ok := p.PreviewSize()
	if !ok {
		return errors.Wrap(ErrParametersRejected, "プレビューサイズがありません")
	}
	if !containsSize(v.params.SupportedPreviewSizes(), size) {
		return errors.Wrapf(ErrParametersRejected, "対応していないプレビューサイズ: %s", size)
	}
	if mode := p.FlashMode(); mode != "" && mode != FlashModeOff {
		return errors.Wrapf(ErrParametersRejected, "対応していないフラッシュモード: %s", mode)
	}

	old, _ := v.params.PreviewSize()
	v.params = p.Clone()

	// 配信中に解像度が変わった場合は張り直す
	if size != old && v.stream != nil {
		v.stopStream()
		return v.startStream()
	}
	return nil
}

func containsSize(sizes []Size, size Size) bool {
	for _, s := range sizes {
		if s == size {
			return true
		}
	}
	return false
}

func (v *v4l2Device) SetDisplayOrientation(degrees int) error {
	v.orientation = degrees
	return nil
}

func (v *v4l2Device) StartPreview() error {
	if v.previewing {
		return nil
	}
	if err := v.startStream(); err != nil {
		return err
	}
	v.previewing = true
	return nil
}

func (v *v4l2Device) StopPreview() error {
	v.previewing = false
	v.stopStream()
	return nil
}

func (v *v4l2Device) startStream() error {
	size, _ := v.params.PreviewSize()
	stream := newFrameStream(v.path, size, v.fps, v.log)
	if err := stream.Start(v.onFrame); err != nil {
		return err
	}
	v.stream = stream
	return nil
}

func (v *v4l2Device) stopStream() {
	if v.stream == nil {
		return
	}
	v.stream.Stop()
	v.stream = nil
}

// onFrame はストリームのゴルーチンから呼ばれる
func (v *v4l2Device) onFrame(frame []byte) {
	v.mu.Lock()
	preview := v.oneShot
	picture := v.picture
	v.oneShot = nil
	v.picture = nil
	v.mu.Unlock()

	if preview != nil {
		v.post(func() { preview(frame) })
	}
	if picture != nil {
		v.post(func() { picture(frame) })
	}
}

func (v *v4l2Device) SetOneShotPreviewCallback(h FrameHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.oneShot = h
}

func (v *v4l2Device) TakePicture(h FrameHandler) error {
	if v.stream == nil {
		return errors.New("ストリームが開始されていません")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.picture = h
	return nil
}

// AutoFocus はUVCカメラでは連続AFに任せるため、すぐに成功を通知する
func (v *v4l2Device) AutoFocus(h FocusHandler) error {
	v.post(func() { h(true) })
	return nil
}

func (v *v4l2Device) CancelAutoFocus() error {
	return nil
}

// Unlock はストリームを止め、録画プロセスがデバイスを開けるようにする
func (v *v4l2Device) Unlock() error {
	if v.unlocked {
		return nil
	}
	v.unlocked = true
	v.stopStream()
	return nil
}

// Lock はプレビュー中であればストリームを再開する
func (v *v4l2Device) Lock() error {
	if !v.unlocked {
		return nil
	}
	v.unlocked = false
	if v.previewing {
		return v.startStream()
	}
	return nil
}

func (v *v4l2Device) Source() string {
	return v.path
}

func (v *v4l2Device) Release() error {
	v.previewing = false
	v.stopStream()
	v.mu.Lock()
	v.oneShot = nil
	v.picture = nil
	v.mu.Unlock()
	return nil
}
