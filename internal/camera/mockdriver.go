package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/pkg/errors"
)

// MockCamera はMockDriverが提供するカメラ1台分の定義
type MockCamera struct {
	Info       CameraInfo
	Parameters *Parameters
}

// DefaultMockParameters はテスト用の一般的なパラメーターを返す
func DefaultMockParameters() *Parameters {
	p := NewParameters()
	p.SetSupportedPreviewSizes([]Size{{640, 480}, {800, 600}, {1280, 720}})
	p.SetPreviewSize(Size{640, 480})
	p.SetSupportedPictureSizes([]Size{{1280, 960}, {640, 480}})
	p.SetPictureSize(Size{1280, 960})
	p.SetSupportedVideoSizes([]Size{{1920, 1080}, {1280, 720}, {640, 480}})
	p.SetPreviewFormat(FormatNV21)
	p.Set(KeyFocusModeValues, "auto,continuous-picture,macro,infinity")
	p.Set(KeyFocusMode, FocusModeAuto)
	p.Set(KeyFlashModeValues, "off,on,torch")
	p.Set(KeyFlashMode, FlashModeOff)
	p.Set(KeyEffectValues, "none,negative")
	p.Set(KeyEffect, "none")
	p.Set(KeySceneModeValues, "auto,barcode")
	p.Set(KeySceneMode, "auto")
	p.Set(KeyPreviewFPSRangeVals, "(7000,30000),(10000,20000),(15000,15000)")
	p.Set(KeyPreviewFPSRange, "7000,30000")
	p.Set(KeyMinExposure, "-4")
	p.Set(KeyMaxExposure, "4")
	p.Set(KeyExposureStep, "0.5")
	p.Set(KeyExposureCompensation, "0")
	p.Set(KeyVideoStabSupported, "true")
	p.Set(KeyMaxNumFocusAreas, "1")
	p.Set(KeyMaxNumMeteringAreas, "1")
	return p
}

// NewMockCamera はDefaultMockParametersを持つカメラを作成する
func NewMockCamera(name string, facing Facing, orientation int) MockCamera {
	return MockCamera{
		Info:       CameraInfo{Name: name, Facing: facing, Orientation: orientation},
		Parameters: DefaultMockParameters(),
	}
}

// MockDriver はテストと開発用のメモリ上のDriver
//
// 失敗の注入と呼び出し履歴の記録ができる。AutoFramesを有効にすると、要求に応じて
// 合成したフレームと静止画を自動で配信する。
type MockDriver struct {
	mu                sync.Mutex
	cameras           []MockCamera
	failOpen          error
	failSetParameters int
	autoFrames        bool
	calls             []string
	devices           []*MockDevice
}

// NewMockDriver は新しいMockDriverを作成する。camerasが空なら背面カメラ1台
func NewMockDriver(cameras ...MockCamera) *MockDriver {
	if len(cameras) == 0 {
		cameras = []MockCamera{NewMockCamera("モックカメラ", FacingBack, 90)}
	}
	return &MockDriver{cameras: cameras}
}

// FailOpen は以降のOpenをerrで失敗させる。nilで解除
func (d *MockDriver) FailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen = err
}

// FailSetParameters は次のn回のSetParametersを失敗させる
func (d *MockDriver) FailSetParameters(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failSetParameters = n
}

// SetAutoFrames は要求に応じた自動配信を切り替える
func (d *MockDriver) SetAutoFrames(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoFrames = enabled
}

// Calls は呼び出し履歴のコピーを返す
func (d *MockDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Device は最後に開かれたデバイスを返す
func (d *MockDriver) Device() *MockDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.devices) == 0 {
		return nil
	}
	return d.devices[len(d.devices)-1]
}

func (d *MockDriver) record(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *MockDriver) takeSetParametersFailure() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failSetParameters > 0 {
		d.failSetParameters--
		return true
	}
	return false
}

func (d *MockDriver) autoFramesEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoFrames
}

// NumCameras はカメラの数を返す
func (d *MockDriver) NumCameras(_ context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cameras), nil
}

// Info はカメラのメタデータを返す
func (d *MockDriver) Info(_ context.Context, id int) (CameraInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id < 0 || id >= len(d.cameras) {
		return CameraInfo{}, errors.Errorf("カメラ %d は存在しません", id)
	}
	info := d.cameras[id].Info
	info.ID = id
	return info, nil
}

// Open はMockDeviceを返す
func (d *MockDriver) Open(_ context.Context, id int, post func(func())) (Device, error) {
	d.record("open %d", id)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOpen != nil {
		return nil, d.failOpen
	}
	if id < 0 || id >= len(d.cameras) {
		return nil, errors.Errorf("カメラ %d は存在しません", id)
	}

	dev := &MockDevice{
		driver: d,
		id:     id,
		post:   post,
		params: d.cameras[id].Parameters.Clone(),
	}
	d.devices = append(d.devices, dev)
	return dev, nil
}

// MockDevice はMockDriverが返すDevice
type MockDevice struct {
	driver *MockDriver
	id     int
	post   func(func())

	mu          sync.Mutex
	params      *Parameters
	orientation int
	previewing  bool
	unlocked    bool
	released    bool
	oneShot     FrameHandler
	picture     FrameHandler
	focus       FocusHandler
	focusCalls  int
}

// Parameters は現在のパラメーターのコピーを返す
func (m *MockDevice) Parameters() (*Parameters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return nil, errors.New("解放済みのカメラです")
	}
	return m.params.Clone(), nil
}

// SetParameters はパラメーターを適用する
func (m *MockDevice) SetParameters(p *Parameters) error {
	m.driver.record("set-parameters")
	if m.driver.takeSetParametersFailure() {
		return errors.New("setParameters failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p.Clone()
	return nil
}

// SetDisplayOrientation は表示の向きを記録する
func (m *MockDevice) SetDisplayOrientation(degrees int) error {
	m.driver.record("set-display-orientation %d", degrees)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orientation = degrees
	return nil
}

// DisplayOrientation は最後に設定された表示の向きを返す
func (m *MockDevice) DisplayOrientation() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orientation
}

// StartPreview はプレビューを開始する
func (m *MockDevice) StartPreview() error {
	m.driver.record("start-preview")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewing = true
	return nil
}

// StopPreview はプレビューを停止する
func (m *MockDevice) StopPreview() error {
	m.driver.record("stop-preview")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewing = false
	m.oneShot = nil
	return nil
}

// Previewing はプレビュー中かを返す
func (m *MockDevice) Previewing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previewing
}

// SetOneShotPreviewCallback は次の1フレームの受け取り先を登録する
func (m *MockDevice) SetOneShotPreviewCallback(h FrameHandler) {
	m.mu.Lock()
	m.oneShot = h
	m.mu.Unlock()

	if h != nil && m.driver.autoFramesEnabled() {
		m.EmitPreviewFrame(m.syntheticPreviewFrame())
	}
}

// TakePicture は静止画の受け取り先を登録する
func (m *MockDevice) TakePicture(h FrameHandler) error {
	m.driver.record("take-picture")
	m.mu.Lock()
	if !m.previewing {
		m.mu.Unlock()
		return errors.New("プレビュー中ではありません")
	}
	m.picture = h
	m.mu.Unlock()

	if m.driver.autoFramesEnabled() {
		m.EmitPicture(m.syntheticPicture())
	}
	return nil
}

// AutoFocus はフォーカス完了の受け取り先を登録する
func (m *MockDevice) AutoFocus(h FocusHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus = h
	m.focusCalls++
	return nil
}

// CancelAutoFocus は登録済みのフォーカス要求を取り消す
func (m *MockDevice) CancelAutoFocus() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.focus = nil
	return nil
}

// FocusCalls はAutoFocusが呼ばれた回数を返す
func (m *MockDevice) FocusCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focusCalls
}

// CompleteFocus は登録済みのフォーカス要求を完了させる
func (m *MockDevice) CompleteFocus(success bool) bool {
	m.mu.Lock()
	h := m.focus
	m.focus = nil
	m.mu.Unlock()

	if h == nil {
		return false
	}
	m.post(func() { h(success) })
	return true
}

// Unlock はハンドルを貸し出す
func (m *MockDevice) Unlock() error {
	m.driver.record("unlock")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked = true
	return nil
}

// Lock はハンドルを取り戻す
func (m *MockDevice) Lock() error {
	m.driver.record("lock")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocked = false
	return nil
}

// Unlocked は貸し出し中かを返す
func (m *MockDevice) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlocked
}

// Source は外部プロセスが開けない疑似的な場所を返す
func (m *MockDevice) Source() string {
	return fmt.Sprintf("mock://%d", m.id)
}

// Release はカメラを解放する
func (m *MockDevice) Release() error {
	m.driver.record("release")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = true
	m.previewing = false
	m.oneShot = nil
	m.picture = nil
	return nil
}

// Released は解放済みかを返す
func (m *MockDevice) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// EmitPreviewFrame は登録済みの受け取り先へ1フレームをpost経由で届ける
//
// 受け取り先がなければfalseを返す。受け取り先は1回で解除される。
func (m *MockDevice) EmitPreviewFrame(data []byte) bool {
	m.mu.Lock()
	h := m.oneShot
	m.oneShot = nil
	previewing := m.previewing
	m.mu.Unlock()

	if h == nil || !previewing {
		return false
	}
	m.post(func() { h(data) })
	return true
}

// EmitPicture は登録済みの受け取り先へ静止画をpost経由で届ける
func (m *MockDevice) EmitPicture(data []byte) bool {
	m.mu.Lock()
	h := m.picture
	m.picture = nil
	m.mu.Unlock()

	if h == nil {
		return false
	}
	m.post(func() { h(data) })
	return true
}

func (m *MockDevice) syntheticPreviewFrame() []byte {
	m.mu.Lock()
	size, _ := m.params.PreviewSize()
	format := m.params.PreviewFormat()
	m.mu.Unlock()

	if n := format.frameLength(size); n > 0 {
		frame := make([]byte, n)
		// 輝度を中間の灰色、色差を無彩色にする
		for i := range frame {
			frame[i] = 0x80
		}
		return frame
	}
	return grayJPEG(size)
}

func (m *MockDevice) syntheticPicture() []byte {
	m.mu.Lock()
	size, _ := m.params.PictureSize()
	m.mu.Unlock()
	return grayJPEG(size)
}

func grayJPEG(size Size) []byte {
	if size.IsZero() {
		size = Size{Width: 16, Height: 16}
	}
	img := image.NewGray(image.Rect(0, 0, size.Width, size.Height))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetGray(0, 0, color.Gray{Y: 0xFF})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil
	}
	return buf.Bytes()
}
