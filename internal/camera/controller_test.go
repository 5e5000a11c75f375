package camera

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestController_Rotation(t *testing.T) {
	tests := []struct {
		name        string
		facing      Facing
		orientation int
		display     DisplayRotation
		want        int
	}{
		{"back 90 display 0", FacingBack, 90, Rotation0, 90},
		{"front 270 display 0", FacingFront, 270, Rotation0, 90},
		{"back 90 display 90", FacingBack, 90, Rotation90, 0},
		{"back 0 display 90", FacingBack, 0, Rotation90, 270},
		{"front 90 display 90", FacingFront, 90, Rotation90, 180},
		{"front 270 display 270", FacingFront, 270, Rotation270, 180},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver := NewMockDriver(NewMockCamera("cam", tt.facing, tt.orientation))
			h := newHarness(t, driver)
			h.openConfigured(NewDisplayConfiguration(Size{800, 600}, tt.display))

			assert.Equal(t, tt.want, h.ctrl.CameraRotation())
			assert.Equal(t, tt.want, driver.Device().DisplayOrientation())

			var rotated bool
			require.NoError(t, h.doErr(func() (err error) {
				rotated, err = h.ctrl.IsCameraRotated()
				return err
			}))
			assert.Equal(t, tt.want%180 != 0, rotated)
		})
	}
}

func TestController_RequiresOpenHandle(t *testing.T) {
	h := newHarness(t, NewMockDriver())

	err := h.doErr(h.ctrl.Configure)
	assert.True(t, errors.Is(err, ErrCameraNotOpen))

	err = h.doErr(h.ctrl.StartPreview)
	assert.True(t, errors.Is(err, ErrCameraNotOpen))

	_, err = h.ctrl.IsCameraRotated()
	assert.True(t, errors.Is(err, ErrRotationUnknown))
	assert.Equal(t, -1, h.ctrl.CameraRotation())

	// 開いていなければ何も起きない
	h.do(func() {
		h.ctrl.SetTorch(true)
		h.ctrl.StopPreview()
		h.ctrl.Close()
	})
	assert.Empty(t, h.driver.Calls())
}

func TestController_OpenFailure(t *testing.T) {
	driver := NewMockDriver()
	driver.FailOpen(errors.New("busy"))
	h := newHarness(t, driver)

	err := h.doErr(func() error { return h.ctrl.Open(context.Background()) })
	assert.True(t, errors.Is(err, ErrCameraUnavailable))
	assert.False(t, h.ctrl.IsOpen())
}

func TestOpenCamera_Selection(t *testing.T) {
	driver := NewMockDriver(
		NewMockCamera("front", FacingFront, 270),
		NewMockCamera("back", FacingBack, 90),
	)
	post := func(f func()) { f() }
	ctx := context.Background()

	_, info, err := openCamera(ctx, driver, NoRequestedCamera, post)
	require.NoError(t, err)
	assert.Equal(t, 1, info.ID)
	assert.Equal(t, FacingBack, info.Facing)

	_, info, err = openCamera(ctx, driver, 0, post)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ID)
	assert.Equal(t, FacingFront, info.Facing)

	_, _, err = openCamera(ctx, driver, 5, post)
	assert.True(t, errors.Is(err, ErrCameraUnavailable))

	// 背面カメラがなければ0番
	fronts := NewMockDriver(NewMockCamera("front", FacingFront, 270))
	_, info, err = openCamera(ctx, fronts, NoRequestedCamera, post)
	require.NoError(t, err)
	assert.Equal(t, 0, info.ID)
}

func TestController_ConfigureSelectsSizes(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	natural, ok := h.ctrl.NaturalPreviewSize()
	require.True(t, ok)
	assert.Equal(t, Size{800, 600}, natural)

	preview, ok := h.ctrl.PreviewSize()
	require.True(t, ok)
	assert.Equal(t, Size{800, 600}, preview)

	picture, ok := h.ctrl.PictureSize()
	require.True(t, ok)
	assert.Equal(t, Size{640, 480}, picture)

	params, err := driver.Device().Parameters()
	require.NoError(t, err)
	got, _ := params.PreviewSize()
	assert.Equal(t, Size{800, 600}, got)
	assert.Equal(t, FlashModeOff, params.FlashMode())
}

func TestController_PreviewSizeFollowsDisplay(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 90))
	h := newHarness(t, driver)
	h.openConfigured(NewDisplayConfiguration(Size{600, 800}, Rotation0))

	natural, _ := h.ctrl.NaturalPreviewSize()
	assert.Equal(t, Size{800, 600}, natural)

	preview, _ := h.ctrl.PreviewSize()
	assert.Equal(t, Size{600, 800}, preview)
}

func TestController_OptionalFeatures(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)

	settings := DefaultSettings()
	settings.ScanInverted = true
	settings.BarcodeSceneMode = true
	settings.MeteringEnabled = true
	settings.FocusMode = FocusContinuous
	h.do(func() { h.ctrl.SetCameraSettings(settings) })
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	params, err := driver.Device().Parameters()
	require.NoError(t, err)
	assert.Equal(t, EffectNegative, params.ColorEffect())
	assert.Equal(t, SceneModeBarcode, params.SceneMode())
	assert.Equal(t, FocusModeContinuousPicture, params.FocusMode())
	assert.Equal(t, "true", params.Get(KeyVideoStabilization))
	assert.Equal(t, "(-400,-400,400,400,1)", params.Get(KeyFocusAreas))
	assert.Equal(t, "(-400,-400,400,400,1)", params.Get(KeyMeteringAreas))
}

func TestController_SafeModeRetry(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	driver.FailSetParameters(1)
	h := newHarness(t, driver)

	settings := DefaultSettings()
	settings.BarcodeSceneMode = true
	settings.ScanInverted = true
	h.do(func() { h.ctrl.SetCameraSettings(settings) })
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	assert.Equal(t, 2, countCalls(driver.Calls(), "set-parameters"))

	params, err := driver.Device().Parameters()
	require.NoError(t, err)
	// セーフモードではシーンモードと色反転を適用しない
	assert.Equal(t, "auto", params.SceneMode())
	assert.Equal(t, "none", params.ColorEffect())
	// サイズの選択はセーフモードでも行う
	got, _ := params.PreviewSize()
	assert.Equal(t, Size{800, 600}, got)
}

func TestController_SafeModeAlsoRejected(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	driver.FailSetParameters(2)
	h := newHarness(t, driver)
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	assert.Equal(t, 2, countCalls(driver.Calls(), "set-parameters"))

	// ハードウェアの既定値のまま続行する
	natural, ok := h.ctrl.NaturalPreviewSize()
	require.True(t, ok)
	assert.Equal(t, Size{640, 480}, natural)
}

func TestController_DefaultParametersRestored(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)

	settings := DefaultSettings()
	settings.ScanInverted = true
	h.do(func() { h.ctrl.SetCameraSettings(settings) })
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	// 2回目の設定は保存した既定値から始まる
	settings.ScanInverted = false
	h.do(func() { h.ctrl.SetCameraSettings(settings) })
	require.NoError(t, h.doErr(h.ctrl.Configure))

	params, err := driver.Device().Parameters()
	require.NoError(t, err)
	assert.Equal(t, "none", params.ColorEffect())
}

func TestController_DeviceModelFPS(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver, WithDeviceModel(deviceModelGlass1))
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	params, err := driver.Device().Parameters()
	require.NoError(t, err)
	r, ok := params.PreviewFPSRange()
	require.True(t, ok)
	assert.Equal(t, FPSRange{Min: 10000, Max: 20000}, r)
}

func TestController_PreviewIsOneShot(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 90))
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{480, 640}, Rotation0))

	size, _ := h.ctrl.NaturalPreviewSize()
	require.Equal(t, Size{640, 480}, size)

	cb := &frameRecorder{}
	h.do(func() { h.ctrl.RequestPreviewFrame(cb) })
	require.True(t, dev.EmitPreviewFrame(nv21Frame(size)))
	h.flush()

	frames := cb.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, 640, frames[0].Width)
	assert.Equal(t, 480, frames[0].Height)
	assert.Equal(t, FormatNV21, frames[0].Format)
	assert.Equal(t, 90, frames[0].Rotation)

	// 再要求しない限り次のフレームは届かない
	assert.False(t, dev.EmitPreviewFrame(nv21Frame(size)))
	h.do(func() { h.ctrl.onPreviewFrame(nv21Frame(size)) })
	assert.Equal(t, 1, cb.Deliveries())
}

func TestController_PreviewRequestOverwrites(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))
	size, _ := h.ctrl.NaturalPreviewSize()

	first, second := &frameRecorder{}, &frameRecorder{}
	h.do(func() {
		h.ctrl.RequestPreviewFrame(first)
		h.ctrl.RequestPreviewFrame(second)
	})
	require.True(t, dev.EmitPreviewFrame(nv21Frame(size)))
	h.flush()

	assert.Equal(t, 0, first.Deliveries())
	assert.Equal(t, 1, second.Deliveries())
}

func TestController_PreviewFrameErrors(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	cb := &frameRecorder{}
	h.do(func() { h.ctrl.RequestPreviewFrame(cb) })
	require.True(t, dev.EmitPreviewFrame([]byte{1, 2, 3}))
	h.flush()

	errs := cb.Errors()
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], ErrFrameDelivery))
	assert.Empty(t, cb.Frames())

	// エラーでも登録は消費される
	h.do(func() { h.ctrl.onPreviewFrame(nv21Frame(Size{800, 600})) })
	assert.Equal(t, 1, cb.Deliveries())
}

func TestController_RequestIgnoredWithoutPreview(t *testing.T) {
	driver := NewMockDriver()
	h := newHarness(t, driver)
	require.NoError(t, h.doErr(func() error { return h.ctrl.Open(context.Background()) }))
	require.NoError(t, h.doErr(h.ctrl.Configure))

	cb := &frameRecorder{}
	h.do(func() {
		h.ctrl.RequestPreviewFrame(cb)
		h.ctrl.RequestPicture(cb)
	})
	assert.False(t, driver.Device().EmitPreviewFrame(nv21Frame(Size{640, 480})))
	assert.Equal(t, 0, countCalls(driver.Calls(), "take-picture"))
	assert.Equal(t, 0, cb.Deliveries())
}

func TestController_StopPreviewClearsCallbacks(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	cb := &frameRecorder{}
	h.do(func() {
		h.ctrl.RequestPreviewFrame(cb)
		h.ctrl.StopPreview()
		// 停止後に遅れて届いたフレーム
		h.ctrl.onPreviewFrame(nv21Frame(Size{800, 600}))
	})

	assert.Equal(t, 0, cb.Deliveries())
	assert.False(t, dev.Previewing())
	assert.False(t, h.ctrl.IsPreviewing())
}

func TestController_Picture(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	cb := &frameRecorder{}
	h.do(func() { h.ctrl.RequestPicture(cb) })
	require.True(t, dev.EmitPicture(grayJPEG(Size{640, 480})))
	h.flush()

	frames := cb.Frames()
	require.Len(t, frames, 1)
	assert.Equal(t, FormatJPEG, frames[0].Format)
	assert.Equal(t, Size{640, 480}, frames[0].Size())
	assert.False(t, dev.EmitPicture(grayJPEG(Size{640, 480})))
}

func TestController_Torch(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)

	settings := DefaultSettings()
	settings.ExposureEnabled = true
	h.do(func() { h.ctrl.SetCameraSettings(settings) })
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	var on bool
	h.do(func() {
		h.ctrl.SetTorch(true)
		on, _ = h.ctrl.IsTorchOn()
	})
	assert.True(t, on)
	params, _ := dev.Parameters()
	assert.Equal(t, FlashModeTorch, params.FlashMode())
	assert.Equal(t, 0, params.ExposureCompensation())

	h.do(func() {
		h.ctrl.SetTorch(false)
		on, _ = h.ctrl.IsTorchOn()
	})
	assert.False(t, on)
	params, _ = dev.Parameters()
	assert.Equal(t, FlashModeOff, params.FlashMode())
	assert.Equal(t, 3, params.ExposureCompensation())

	// 同じ状態への切り替えはパラメーターを書かない
	before := countCalls(driver.Calls(), "set-parameters")
	h.do(func() { h.ctrl.SetTorch(false) })
	assert.Equal(t, before, countCalls(driver.Calls(), "set-parameters"))
}

func TestController_TorchRejectedIsSwallowed(t *testing.T) {
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 0))
	h := newHarness(t, driver)
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	driver.FailSetParameters(1)
	var on bool
	h.do(func() {
		h.ctrl.SetTorch(true)
		on, _ = h.ctrl.IsTorchOn()
	})
	assert.False(t, on)
}

func TestController_Close(t *testing.T) {
	driver := NewMockDriver()
	h := newHarness(t, driver)
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	h.do(func() {
		h.ctrl.StopPreview()
		h.ctrl.Close()
		h.ctrl.Close()
	})
	assert.True(t, dev.Released())
	assert.False(t, h.ctrl.IsOpen())
	assert.Equal(t, 1, countCalls(driver.Calls(), "release"))
}

func TestController_Record(t *testing.T) {
	rec := &fakeRecorder{}
	driver := NewMockDriver(NewMockCamera("cam", FacingBack, 90))
	h := newHarness(t, driver, WithRecorder(rec))
	dev := h.openConfigured(NewDisplayConfiguration(Size{600, 800}, Rotation0))

	require.NoError(t, h.doErr(func() error { return h.ctrl.StartRecord("/tmp/out.mp4", time.Minute) }))
	assert.True(t, h.ctrl.IsRecording())
	assert.True(t, dev.Unlocked())
	require.Len(t, rec.specs, 1)
	assert.Equal(t, RecordSpec{
		Path:            "/tmp/out.mp4",
		Size:            Size{1280, 720},
		OrientationHint: 90,
		MaxDuration:     time.Minute,
	}, rec.specs[0])
	assert.Equal(t, "mock://0", rec.sources[0])

	// 録画中の二重開始は失敗する
	err := h.doErr(func() error { return h.ctrl.StartRecord("/tmp/other.mp4", 0) })
	assert.True(t, errors.Is(err, ErrRecorderUnavailable))

	require.NoError(t, h.doErr(h.ctrl.StopRecord))
	assert.False(t, h.ctrl.IsRecording())
	assert.False(t, dev.Unlocked())
	assert.Equal(t, 1, rec.resets)
}

func TestController_RecordPrepareFailureRelocks(t *testing.T) {
	rec := &fakeRecorder{failPrepare: errors.New("no space")}
	driver := NewMockDriver()
	h := newHarness(t, driver, WithRecorder(rec))
	dev := h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	err := h.doErr(func() error { return h.ctrl.StartRecord("/tmp/out.mp4", 0) })
	assert.True(t, errors.Is(err, ErrRecorderUnavailable))
	assert.False(t, h.ctrl.IsRecording())
	assert.False(t, dev.Unlocked())
	assert.True(t, h.ctrl.IsOpen())
	assert.Equal(t, 1, rec.resets)

	calls := driver.Calls()
	assert.Equal(t, 1, countCalls(calls, "unlock"))
	assert.Equal(t, 1, countCalls(calls, "lock"))
}

func TestController_RecordWithoutRecorder(t *testing.T) {
	h := newHarness(t, NewMockDriver())
	h.openConfigured(NewDisplayConfiguration(Size{800, 600}, Rotation0))

	err := h.doErr(func() error { return h.ctrl.StartRecord("/tmp/out.mp4", 0) })
	assert.True(t, errors.Is(err, ErrRecorderUnavailable))
	assert.NoError(t, h.doErr(h.ctrl.StopRecord))
}

func TestSelectRecordSize(t *testing.T) {
	display := NewDisplayConfiguration(Size{800, 600}, Rotation0)

	assert.Equal(t, Size{1280, 720}, selectRecordSize([]Size{{1920, 1080}, {1280, 720}, {640, 480}}, display, false))
	assert.Equal(t, Size{1920, 1080}, selectRecordSize([]Size{{3840, 2160}, {1920, 1080}}, display, false))
	assert.Equal(t, Size{}, selectRecordSize(nil, display, false))
}
