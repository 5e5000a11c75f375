package camera

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const formatsExtOutput = `ioctl: VIDIOC_ENUM_FMT
	Type: Video Capture

	[0]: 'MJPG' (Motion-JPEG, compressed)
		Size: Discrete 1280x720
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
	[1]: 'YUYV' (YUYV 4:2:2)
		Size: Discrete 640x480
			Interval: Discrete 0.033s (30.000 fps)
		Size: Discrete 1920x1080
			Interval: Discrete 0.200s (5.000 fps)
`

const infoOutput = `Driver Info:
	Driver name      : uvcvideo
	Card type        : HD Webcam: HD Webcam
	Bus info         : usb-0000:00:14.0-6
`

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	// 存在しないデバイス
	if discovery.IsDeviceAvailable(ctx, "/dev/video999") {
		t.Error("Expected non-existent device to be unavailable")
	}

	// 無効なパス
	if discovery.IsDeviceAvailable(ctx, "/invalid/path") {
		t.Error("Expected invalid path to be unavailable")
	}
}

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()
	discovery.run = func(context.Context, ...string) ([]byte, error) {
		return nil, errors.New("v4l2-ctl not available")
	}

	// v4l2-ctlが使えない環境ではデバイスは見つからない
	devices, err := discovery.ScanDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestParseFormatsExt(t *testing.T) {
	formats, sizes := parseFormatsExt(formatsExtOutput)

	assert.Equal(t, []string{"MJPG", "YUYV"}, formats)
	assert.Equal(t, []Size{{1920, 1080}, {1280, 720}, {640, 480}}, sizes)
	assert.True(t, hasColorFormat(formats))
	assert.False(t, hasColorFormat([]string{"GREY"}))
}

func TestParseInfoField(t *testing.T) {
	assert.Equal(t, "HD Webcam: HD Webcam", parseInfoField(infoOutput, "Card type"))
	assert.Equal(t, "uvcvideo", parseInfoField(infoOutput, "Driver name"))
	assert.Empty(t, parseInfoField(infoOutput, "Serial"))
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		device string
		want   int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/null", 0},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDeviceNumber(tt.device))
		})
	}
}

func TestMockDiscovery(t *testing.T) {
	ctx := context.Background()
	mockDevices := []string{"/dev/video0", "/dev/video1"}
	discovery := NewMockDiscovery(mockDevices)

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		t.Fatalf("ScanDevices failed: %v", err)
	}
	if len(devices) != len(mockDevices) {
		t.Fatalf("Expected %d devices, got %d", len(mockDevices), len(devices))
	}
	for i, device := range devices {
		if device != mockDevices[i] {
			t.Errorf("Expected device %s, got %s", mockDevices[i], device)
		}
	}

	if !discovery.IsDeviceAvailable(ctx, "/dev/video0") {
		t.Error("Expected /dev/video0 to be available")
	}
	if discovery.IsDeviceAvailable(ctx, "/dev/video2") {
		t.Error("Expected /dev/video2 to be unavailable")
	}

	info, err := discovery.GetDeviceInfo(ctx, "/dev/video0")
	if err != nil {
		t.Fatalf("GetDeviceInfo failed: %v", err)
	}
	if info.Device != "/dev/video0" {
		t.Errorf("Expected device /dev/video0, got %s", info.Device)
	}
	if info.Name == "" {
		t.Error("Expected device name to be set")
	}
	if len(info.Sizes) == 0 {
		t.Error("Expected sizes to be set")
	}

	// 存在しないデバイスの情報取得
	if _, err := discovery.GetDeviceInfo(ctx, "/dev/video99"); err == nil {
		t.Error("Expected error for non-existent device")
	}
}

func TestMockDiscovery_AddRemoveDevice(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0"})

	discovery.AddDevice("/dev/video1")
	devices, err := discovery.ScanDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.True(t, discovery.IsDeviceAvailable(ctx, "/dev/video1"))

	discovery.RemoveDevice("/dev/video0")
	devices, err = discovery.ScanDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/video0"))

	// 重複追加
	discovery.AddDevice("/dev/video1")
	devices, err = discovery.ScanDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}
