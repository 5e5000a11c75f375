package camera

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	videoDevicePattern = regexp.MustCompile(`^/dev/video\d+$`)
	deviceNumberRe     = regexp.MustCompile(`video(\d+)`)
	formatLineRe       = regexp.MustCompile(`\[\d+\]:\s*'(\w+)'`)
	sizeLineRe         = regexp.MustCompile(`Size:\s*Discrete\s*(\d+)x(\d+)`)
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	// v4l2-ctlの出力を得る関数。テストで差し替える
	run func(ctx context.Context, args ...string) ([]byte, error)
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{run: runV4L2Ctl}
}

func runV4L2Ctl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "v4l2-ctl", args...).Output()
}

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, errors.Wrap(err, "デバイスのスキャンに失敗")
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}
		formats, _, err := d.listFormats(ctx, match)
		if err != nil || !hasColorFormat(formats) {
			continue
		}

		// 同じ物理カメラの複数ノードは最も小さい番号だけを使う
		name := d.deviceName(ctx, match)
		if name != "" && seen[name] {
			continue
		}
		seen[name] = true
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !videoDevicePattern.MatchString(device) {
		return false
	}
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo はデバイスの詳細情報を取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, errors.Errorf("デバイスが利用できません: %s", device)
	}

	formats, sizes, err := d.listFormats(ctx, device)
	if err != nil {
		return nil, err
	}

	info := &DeviceInfo{
		Device:  device,
		Name:    d.deviceName(ctx, device),
		Driver:  d.driverName(ctx, device),
		Sizes:   sizes,
		Formats: formats,
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}
	return info, nil
}

func (d *LinuxDiscovery) listFormats(ctx context.Context, device string) ([]string, []Size, error) {
	output, err := d.run(ctx, "--device", device, "--list-formats-ext")
	if err != nil {
		return nil, nil, errors.Wrapf(err, "フォーマット一覧の取得に失敗: %s", device)
	}
	formats, sizes := parseFormatsExt(string(output))
	return formats, sizes, nil
}

// deviceName は "Card type" を返す。取得できなければ空
func (d *LinuxDiscovery) deviceName(ctx context.Context, device string) string {
	return d.infoField(ctx, device, "Card type")
}

func (d *LinuxDiscovery) driverName(ctx context.Context, device string) string {
	return d.infoField(ctx, device, "Driver name")
}

func (d *LinuxDiscovery) infoField(ctx context.Context, device, field string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	output, err := d.run(ctx, "--device", device, "--info")
	if err != nil {
		return ""
	}
	return parseInfoField(string(output), field)
}

func parseInfoField(output, field string) string {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if ok && strings.TrimSpace(key) == field {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// parseFormatsExt は v4l2-ctl --list-formats-ext の出力からフォーマットと解像度を取り出す
//
// 解像度は重複を除き、面積の大きい順に並べる。
func parseFormatsExt(output string) ([]string, []Size) {
	var formats []string
	var sizes []Size
	seen := make(map[Size]bool)

	for _, line := range strings.Split(output, "\n") {
		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			formats = append(formats, m[1])
			continue
		}
		if m := sizeLineRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			size := Size{Width: w, Height: h}
			if !seen[size] {
				seen[size] = true
				sizes = append(sizes, size)
			}
		}
	}

	sort.SliceStable(sizes, func(i, j int) bool {
		return sizes[i].Area() > sizes[j].Area()
	})
	return formats, sizes
}

func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		if f == "YUYV" || f == "MJPG" {
			return true
		}
	}
	return false
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberRe.FindStringSubmatch(device)
	if len(matches) < 2 {
		return 0
	}
	num, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		m.AddDevice(device)
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, errors.Errorf("デバイスが見つかりません: %s", device)
	}

	// コピーを返す
	result := *info
	result.Sizes = append([]Size(nil), info.Sizes...)
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	if _, ok := m.deviceInfos[device]; ok {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device:  device,
		Name:    fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:  "mock",
		Sizes:   []Size{{Width: 1280, Height: 720}, {Width: 640, Height: 480}},
		Formats: []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
