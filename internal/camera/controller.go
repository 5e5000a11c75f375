package camera

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// 既知の問題があり、プレビューのフレームレートを明示する必要がある機種
const deviceModelGlass1 = "glass-1"

// ControllerOption はControllerの設定を変更する
type ControllerOption func(*Controller)

// WithLightSensor は周囲の明るさを測るセンサーを設定する
func WithLightSensor(sensor LightSensor) ControllerOption {
	return func(c *Controller) {
		c.sensor = sensor
	}
}

// WithRecorder は録画に使うRecorderを設定する
func WithRecorder(recorder Recorder) ControllerOption {
	return func(c *Controller) {
		c.recorder = recorder
	}
}

// WithDeviceModel は機種名を設定する
func WithDeviceModel(model string) ControllerOption {
	return func(c *Controller) {
		c.deviceModel = model
	}
}

// previewListener はプレビューの宛先と解像度を保持する。宛先は1回の配信で空になる
type previewListener struct {
	callback   PreviewCallback
	resolution Size
}

// pictureListener は静止画の宛先と解像度を保持する
type pictureListener struct {
	callback   PictureCallback
	resolution Size
}

// Controller はカメラのハンドルを所有し、ハードウェアを直接操作する
//
// スレッド安全ではない。CameraRotationとIsOpen以外の全てのメソッドは、
// Openを実行したワーカースレッドから呼び出すこと。
type Controller struct {
	driver   Driver
	post     func(func())
	baseLog  *zap.Logger
	log      *zap.Logger
	sensor   LightSensor
	recorder Recorder

	dev         Device
	info        CameraInfo
	settings    Settings
	display     *DisplayConfiguration
	deviceModel string

	previewing        bool
	recording         bool
	defaultParameters string
	haveDefaults      bool

	requestedPreviewSize Size
	previewSize          Size
	requestedPictureSize Size
	pictureSize          Size

	// 表示に対するカメラの回転。-1は未計算
	rotation *atomic.Int32
	opened   *atomic.Bool

	preview previewListener
	picture pictureListener

	autoFocus    *AutoFocusManager
	ambientLight *AmbientLightManager
}

// NewController は新しいControllerを作成する
//
// postはワーカーへ処理を投入する関数で、ハードウェアのコールバックと補助機能の処理に使う。
func NewController(driver Driver, post func(func()), logger *zap.Logger, opts ...ControllerOption) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		driver:   driver,
		post:     post,
		baseLog:  logger,
		log:      logger,
		settings: DefaultSettings(),
		display:  NewDisplayConfiguration(Size{}, Rotation0),
		rotation: atomic.NewInt32(-1),
		opened:   atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetCameraSettings は次のOpenで使う設定を保存する
func (c *Controller) SetCameraSettings(settings Settings) {
	c.settings = settings
}

// CameraSettings は現在の設定を返す
func (c *Controller) CameraSettings() Settings {
	return c.settings
}

// SetDisplayConfiguration は表示先の設定を保存する。nilは無視する
func (c *Controller) SetDisplayConfiguration(display *DisplayConfiguration) {
	if display != nil {
		c.display = display
	}
}

// SetDeviceModel は機種名を設定する
func (c *Controller) SetDeviceModel(model string) {
	c.deviceModel = model
}

// Open はカメラを取得する
func (c *Controller) Open(ctx context.Context) error {
	if c.dev != nil {
		return nil
	}

	dev, info, err := openCamera(ctx, c.driver, c.settings.CameraID, c.post)
	if err != nil {
		return err
	}

	c.dev = dev
	c.info = info
	c.log = c.baseLog.With(zap.Int("camera", info.ID))
	c.opened.Store(true)
	c.log.Info("カメラを開きました",
		zap.String("name", info.Name),
		zap.Stringer("facing", info.Facing),
		zap.Int("orientation", info.Orientation),
	)
	return nil
}

// IsOpen はハンドルを保持しているかを返す。どのスレッドから呼んでもよい
func (c *Controller) IsOpen() bool {
	return c.opened.Load()
}

// Info は開いたカメラのメタデータを返す
func (c *Controller) Info() CameraInfo {
	return c.info
}

// Configure は回転を計算し、パラメーターを交渉して適用する
func (c *Controller) Configure() error {
	if c.dev == nil {
		return errors.WithStack(ErrCameraNotOpen)
	}

	rotation := c.calculateDisplayRotation()
	c.rotation.Store(int32(rotation))
	if err := c.dev.SetDisplayOrientation(rotation); err != nil {
		c.log.Warn("表示の向きを設定できませんでした", zap.Int("rotation", rotation), zap.Error(err))
	}

	if err := c.setDesiredParameters(false); err != nil {
		c.log.Warn("パラメーターが拒否されました。セーフモードで再試行します", zap.Error(err))
		if err := c.setDesiredParameters(true); err != nil {
			c.log.Warn("セーフモードのパラメーターも拒否されました。設定せずに続行します", zap.Error(err))
		}
	}

	params, err := c.dev.Parameters()
	if err != nil {
		return errors.Wrap(err, "設定後のパラメーターを取得できません")
	}

	c.previewSize = c.requestedPreviewSize
	if params == nil {
		c.log.Warn("設定後のパラメーターがありません。要求したサイズを使います")
	} else if size, ok := params.PreviewSize(); ok {
		c.previewSize = size
	}
	c.preview.resolution = c.previewSize

	if !c.requestedPictureSize.IsZero() {
		c.pictureSize = c.requestedPictureSize
	} else if params != nil {
		if size, ok := params.PictureSize(); ok {
			c.pictureSize = size
		}
	}
	c.picture.resolution = c.pictureSize

	c.log.Info("カメラを設定しました",
		zap.Int("rotation", rotation),
		zap.Stringer("preview", c.previewSize),
		zap.Stringer("picture", c.pictureSize),
	)
	return nil
}

// calculateDisplayRotation はセンサーの向きと表示の回転から補正角度を求める
func (c *Controller) calculateDisplayRotation() int {
	degrees := c.display.Rotation.Degrees()
	if c.info.Facing == FacingFront {
		// 前面カメラは鏡像になる
		return (360 - (c.info.Orientation+degrees)%360) % 360
	}
	return (c.info.Orientation - degrees + 360) % 360
}

// loadDefaultParameters は初回のパラメーターを保存し、2回目以降はそれを復元して返す
func (c *Controller) loadDefaultParameters() (*Parameters, error) {
	params, err := c.dev.Parameters()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, nil
	}

	if !c.haveDefaults {
		c.defaultParameters = params.Flatten()
		c.haveDefaults = true
		return params, nil
	}
	if err := params.Unflatten(c.defaultParameters); err != nil {
		return nil, err
	}
	return params, nil
}

func (c *Controller) setDesiredParameters(safeMode bool) error {
	params, err := c.loadDefaultParameters()
	if err != nil {
		return errors.Wrap(err, "パラメーターを取得できません")
	}
	if params == nil {
		c.log.Warn("パラメーターを取得できません。設定せずに続行します")
		return nil
	}

	c.log.Debug("初期パラメーター", zap.String("parameters", params.Flatten()))
	if safeMode {
		c.log.Warn("セーフモードで設定します。ほとんどの設定は反映されません")
	}

	setFocus(c.log, params, c.settings.FocusMode, safeMode)

	if !safeMode {
		setTorch(c.log, params, false)
		if c.settings.ScanInverted {
			setInvertColor(c.log, params)
		}
		if c.settings.BarcodeSceneMode {
			setBarcodeSceneMode(c.log, params)
		}
		if c.settings.MeteringEnabled {
			setVideoStabilization(c.log, params)
			setFocusArea(c.log, params)
			setMetering(c.log, params)
		}
	}

	rotated := c.rotation.Load()%180 != 0

	c.requestedPreviewSize = Size{}
	if size, ok := c.display.BestPreviewSize(supportedPreviewSizes(params), rotated); ok {
		c.requestedPreviewSize = size
		params.SetPreviewSize(size)
	}

	c.requestedPictureSize = Size{}
	if size, ok := c.display.BestPreviewSize(supportedPictureSizes(params), rotated); ok {
		c.requestedPictureSize = size
		params.SetPictureSize(size)
	}

	if c.deviceModel == deviceModelGlass1 {
		// この機種はフレームレートを指定しないとプレビューが乱れる
		setBestPreviewFPS(c.log, params)
	}

	c.log.Debug("最終パラメーター", zap.String("parameters", params.Flatten()))
	if err := c.dev.SetParameters(params); err != nil {
		return errors.Wrap(ErrParametersRejected, err.Error())
	}
	return nil
}

// supportedPreviewSizes は対応プレビューサイズを返す。一覧がなければ現在のサイズ
func supportedPreviewSizes(params *Parameters) []Size {
	if sizes := params.SupportedPreviewSizes(); len(sizes) > 0 {
		return sizes
	}
	if size, ok := params.PreviewSize(); ok {
		return []Size{size}
	}
	return nil
}

func supportedPictureSizes(params *Parameters) []Size {
	if sizes := params.SupportedPictureSizes(); len(sizes) > 0 {
		return sizes
	}
	if size, ok := params.PictureSize(); ok {
		return []Size{size}
	}
	return nil
}

func supportedVideoSizes(params *Parameters) []Size {
	if sizes := params.SupportedVideoSizes(); len(sizes) > 0 {
		return sizes
	}
	return supportedPreviewSizes(params)
}

// AttachSurface はプレビューの描画先をハンドルに結び付ける。nilなら何もしない
func (c *Controller) AttachSurface(surface Surface) error {
	if c.dev == nil {
		return errors.WithStack(ErrCameraNotOpen)
	}
	if surface == nil {
		surface = NoopSurface{}
	}
	return surface.AttachPreview(c.dev)
}

// StartPreview はフレームの配信を開始し、補助機能を起動する
func (c *Controller) StartPreview() error {
	if c.dev == nil {
		return errors.WithStack(ErrCameraNotOpen)
	}
	if c.previewing {
		return nil
	}

	if err := c.dev.StartPreview(); err != nil {
		return errors.Wrap(err, "プレビューを開始できません")
	}
	c.previewing = true

	c.autoFocus = NewAutoFocusManager(c.dev, c.settings, c.post, c.log)
	c.autoFocus.Start()
	c.ambientLight = NewAmbientLightManager(c.sensor, c, c.settings, c.post, c.log)
	c.ambientLight.Start()
	return nil
}

// IsPreviewing はプレビュー中かを返す
func (c *Controller) IsPreviewing() bool {
	return c.previewing
}

// StopPreview は補助機能を止め、登録済みの宛先を消してからフレームの配信を止める
func (c *Controller) StopPreview() {
	if c.autoFocus != nil {
		c.autoFocus.Stop()
		c.autoFocus = nil
	}
	if c.ambientLight != nil {
		c.ambientLight.Stop()
		c.ambientLight = nil
	}

	if c.dev == nil || !c.previewing {
		return
	}

	c.preview.callback = nil
	c.picture.callback = nil
	c.dev.SetOneShotPreviewCallback(nil)
	if err := c.dev.StopPreview(); err != nil {
		c.log.Error("プレビューを停止できませんでした", zap.Error(err))
	}
	c.previewing = false
}

// Close はハンドルを解放する。失敗してもログに残すだけで、常に解放済みの状態になる
func (c *Controller) Close() {
	if c.dev == nil {
		return
	}

	if err := c.dev.Release(); err != nil {
		c.log.Error("カメラの解放に失敗しました", zap.Error(err))
	}
	c.dev = nil
	c.previewing = false
	c.opened.Store(false)
	c.log.Info("カメラを閉じました")
}

// RequestPreviewFrame は次の1フレームをcallbackに渡すよう登録する
//
// プレビュー中でなければ何もしない。先の登録がまだ配信されていなければ置き換える。
func (c *Controller) RequestPreviewFrame(callback PreviewCallback) {
	if c.dev == nil || !c.previewing {
		c.log.Debug("プレビュー中ではないためフレーム要求を無視します")
		return
	}
	c.preview.callback = callback
	c.dev.SetOneShotPreviewCallback(c.onPreviewFrame)
}

// RequestPicture は静止画を1枚撮影してcallbackに渡す。プレビュー中でなければ何もしない
func (c *Controller) RequestPicture(callback PictureCallback) {
	if c.dev == nil || !c.previewing {
		c.log.Debug("プレビュー中ではないため撮影要求を無視します")
		return
	}
	c.picture.callback = callback
	if err := c.dev.TakePicture(c.onPictureTaken); err != nil {
		c.picture.callback = nil
		c.log.Error("撮影を開始できませんでした", zap.Error(err))
		callback.OnPictureError(errors.Wrap(err, "撮影を開始できません"))
	}
}

func (c *Controller) onPreviewFrame(data []byte) {
	callback := c.preview.callback
	resolution := c.preview.resolution
	c.preview.callback = nil

	if callback == nil {
		c.log.Debug("宛先のないプレビューフレームを破棄しました")
		return
	}
	if resolution.IsZero() {
		c.log.Debug("解像度が未確定のプレビューフレームを受け取りました")
		callback.OnPreviewError(errors.WithStack(ErrNoResolution))
		return
	}

	format, err := c.previewFormat()
	if err != nil {
		c.log.Error("プレビューに失敗しました", zap.Error(err))
		callback.OnPreviewError(err)
		return
	}

	source, err := NewSourceData(data, resolution.Width, resolution.Height, format, c.CameraRotation())
	if err != nil {
		c.log.Error("プレビューに失敗しました", zap.Error(err))
		callback.OnPreviewError(err)
		return
	}
	callback.OnPreview(source)
}

func (c *Controller) onPictureTaken(data []byte) {
	callback := c.picture.callback
	resolution := c.picture.resolution
	c.picture.callback = nil

	if callback == nil {
		c.log.Debug("宛先のない静止画を破棄しました")
		return
	}
	if resolution.IsZero() {
		callback.OnPictureError(errors.WithStack(ErrNoResolution))
		return
	}

	source, err := NewSourceData(data, resolution.Width, resolution.Height, FormatJPEG, c.CameraRotation())
	if err != nil {
		c.log.Error("撮影に失敗しました", zap.Error(err))
		callback.OnPictureError(err)
		return
	}
	callback.OnPicture(source)
}

func (c *Controller) previewFormat() (PixelFormat, error) {
	if c.dev == nil {
		return "", errors.WithStack(ErrCameraNotOpen)
	}
	params, err := c.dev.Parameters()
	if err != nil {
		return "", errors.Wrap(ErrFrameDelivery, err.Error())
	}
	if params == nil {
		return "", errors.Wrap(ErrFrameDelivery, "パラメーターがありません")
	}
	return params.PreviewFormat(), nil
}

// SetTorch はトーチを切り替える
//
// 変更の前後でオートフォーカスを止めて再開する。失敗はログに残すだけで返さない。
func (c *Controller) SetTorch(on bool) {
	if c.dev == nil {
		return
	}

	isOn, err := c.IsTorchOn()
	if err != nil {
		c.log.Error("トーチの状態を取得できませんでした", zap.Error(err))
		return
	}
	if on == isOn {
		return
	}

	if c.autoFocus != nil {
		c.autoFocus.Stop()
	}

	params, err := c.dev.Parameters()
	switch {
	case err != nil:
		c.log.Error("トーチを切り替えられませんでした", zap.Error(err))
	case params == nil:
		c.log.Warn("パラメーターがないためトーチを切り替えられません")
	default:
		setTorch(c.log, params, on)
		if c.settings.ExposureEnabled {
			setBestExposure(c.log, params, on)
		}
		if err := c.dev.SetParameters(params); err != nil {
			c.log.Error("トーチを切り替えられませんでした", zap.Bool("on", on), zap.Error(err))
		}
	}

	if c.autoFocus != nil {
		c.autoFocus.Start()
	}
}

// IsTorchOn はトーチが点灯しているかを返す
func (c *Controller) IsTorchOn() (bool, error) {
	if c.dev == nil {
		return false, errors.WithStack(ErrCameraNotOpen)
	}
	params, err := c.dev.Parameters()
	if err != nil {
		return false, err
	}
	if params == nil {
		return false, nil
	}
	mode := params.FlashMode()
	return mode == FlashModeOn || mode == FlashModeTorch, nil
}

// IsCameraRotated はカメラが表示に対して90度傾いているかを返す
func (c *Controller) IsCameraRotated() (bool, error) {
	rotation := c.rotation.Load()
	if rotation < 0 {
		return false, errors.WithStack(ErrRotationUnknown)
	}
	return rotation%180 != 0, nil
}

// CameraRotation は表示に対するカメラの回転角度を返す。Configure前は-1
//
// どのスレッドから呼んでもよい。
func (c *Controller) CameraRotation() int {
	return int(c.rotation.Load())
}

// PreviewSize は表示の向きでのプレビューサイズを返す
func (c *Controller) PreviewSize() (Size, bool) {
	if c.previewSize.IsZero() {
		return Size{}, false
	}
	if rotated, err := c.IsCameraRotated(); err == nil && rotated {
		return c.previewSize.Rotate(), true
	}
	return c.previewSize, true
}

// NaturalPreviewSize はカメラ本来の向きでのプレビューサイズを返す
func (c *Controller) NaturalPreviewSize() (Size, bool) {
	return c.previewSize, !c.previewSize.IsZero()
}

// PictureSize は静止画サイズを返す
func (c *Controller) PictureSize() (Size, bool) {
	return c.pictureSize, !c.pictureSize.IsZero()
}

// StartRecord はハンドルをRecorderに貸し出して録画を始める
//
// 準備・開始に失敗した場合は録画を中止してハンドルを取り戻す。セッションは開いたまま。
func (c *Controller) StartRecord(path string, maxDuration time.Duration) error {
	if c.dev == nil {
		return errors.WithStack(ErrCameraNotOpen)
	}
	if c.recorder == nil {
		return errors.Wrap(ErrRecorderUnavailable, "Recorderが設定されていません")
	}
	if c.recording {
		return errors.Wrap(ErrRecorderUnavailable, "既に録画中です")
	}

	params, err := c.dev.Parameters()
	if err != nil {
		return errors.Wrap(ErrRecorderUnavailable, err.Error())
	}
	var sizes []Size
	if params != nil {
		sizes = supportedVideoSizes(params)
	}
	rotated := c.rotation.Load()%180 != 0
	spec := RecordSpec{
		Path:            path,
		Size:            selectRecordSize(sizes, c.display, rotated),
		OrientationHint: c.info.Orientation,
		MaxDuration:     maxDuration,
	}

	if err := c.dev.Unlock(); err != nil {
		return errors.Wrap(ErrRecorderUnavailable, err.Error())
	}
	if err := c.recorder.Prepare(c.dev, spec); err != nil {
		c.log.Warn("録画の準備に失敗しました", zap.String("path", path), zap.Error(err))
		c.abortRecord()
		return errors.Wrap(ErrRecorderUnavailable, err.Error())
	}
	if err := c.recorder.Start(); err != nil {
		c.log.Warn("録画を開始できませんでした", zap.String("path", path), zap.Error(err))
		c.abortRecord()
		return errors.Wrap(ErrRecorderUnavailable, err.Error())
	}

	c.recording = true
	c.log.Info("録画を開始しました", zap.String("path", path), zap.Stringer("size", spec.Size))
	return nil
}

// StopRecord は録画を止めてハンドルを取り戻す。録画中でなければ何もしない
func (c *Controller) StopRecord() error {
	if !c.recording {
		return nil
	}
	c.recording = false

	err := c.recorder.Stop()
	if err != nil {
		c.log.Error("録画の停止に失敗しました", zap.Error(err))
	}
	c.abortRecord()
	c.log.Info("録画を停止しました")
	return errors.Wrap(err, "録画の停止に失敗しました")
}

// IsRecording は録画中かを返す
func (c *Controller) IsRecording() bool {
	return c.recording
}

func (c *Controller) abortRecord() {
	c.recorder.Reset()
	if c.dev == nil {
		return
	}
	if err := c.dev.Lock(); err != nil {
		c.log.Error("カメラのロックに失敗しました", zap.Error(err))
	}
}
