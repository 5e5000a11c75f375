package camera

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestV4L2Driver(t *testing.T, overrides map[string]CameraInfo) (*V4L2Driver, *MockDiscovery) {
	t.Helper()
	discovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video2"})
	return NewV4L2Driver(discovery, 15, overrides, zaptest.NewLogger(t)), discovery
}

func TestV4L2Driver_Info(t *testing.T) {
	driver, discovery := newTestV4L2Driver(t, map[string]CameraInfo{
		"/dev/video2": {Name: "front", Facing: FacingFront, Orientation: 270},
	})
	ctx := context.Background()

	n, err := driver.NumCameras(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := driver.Info(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, CameraInfo{ID: 0, Name: "テストカメラ 1", Facing: FacingBack}, info)

	info, err = driver.Info(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, CameraInfo{ID: 1, Name: "front", Facing: FacingFront, Orientation: 270}, info)

	_, err = driver.Info(ctx, 5)
	assert.Error(t, err)

	discovery.RemoveDevice("/dev/video0")
	n, err = driver.NumCameras(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestV4L2Driver_OpenParameters(t *testing.T) {
	driver, discovery := newTestV4L2Driver(t, nil)
	ctx := context.Background()
	post := func(fn func()) { fn() }

	dev, err := driver.Open(ctx, 0, post)
	require.NoError(t, err)
	assert.Equal(t, "/dev/video0", dev.Source())

	params, err := dev.Parameters()
	require.NoError(t, err)
	size, ok := params.PreviewSize()
	require.True(t, ok)
	assert.Equal(t, Size{1280, 720}, size)
	assert.Equal(t, FormatMJPG, params.PreviewFormat())
	assert.Equal(t, FocusModeInfinity, params.FocusMode())

	// 対応していないサイズとトーチは拒否する
	bad := params.Clone()
	bad.SetPreviewSize(Size{1920, 1080})
	assert.True(t, errors.Is(dev.SetParameters(bad), ErrParametersRejected))

	torch := params.Clone()
	torch.Set(KeyFlashMode, FlashModeTorch)
	assert.True(t, errors.Is(dev.SetParameters(torch), ErrParametersRejected))

	good := params.Clone()
	good.SetPreviewSize(Size{640, 480})
	require.NoError(t, dev.SetParameters(good))
	params, err = dev.Parameters()
	require.NoError(t, err)
	size, _ = params.PreviewSize()
	assert.Equal(t, Size{640, 480}, size)

	// ストリームなしでは撮影できない
	assert.Error(t, dev.TakePicture(func([]byte) {}))

	focused := false
	require.NoError(t, dev.AutoFocus(func(success bool) { focused = success }))
	assert.True(t, focused)

	require.NoError(t, dev.Unlock())
	require.NoError(t, dev.Lock())
	require.NoError(t, dev.Release())

	discovery.deviceInfos["/dev/video2"].Sizes = nil
	_, err = driver.Open(ctx, 1, post)
	assert.True(t, errors.Is(err, ErrNoResolution))
}
