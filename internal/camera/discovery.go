package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"camnego/internal/negotiate"
)

// LinuxDiscovery はLinux環境でのカメラデバイス検出を実装する
type LinuxDiscovery struct {
	run commandRunner
}

var (
	_ Discovery = (*LinuxDiscovery)(nil)
	_ Discovery = (*MockDiscovery)(nil)
)

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() *LinuxDiscovery {
	return &LinuxDiscovery{run: runCommand}
}

var deviceNumberPattern = regexp.MustCompile(`video(\d+)`)

// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	// デバイス番号でソート
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seenNames := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}

		formats, err := d.listFormats(ctx, match)
		if err != nil || !hasCaptureFormat(formats) {
			continue
		}

		// 同じ物理カメラの複数ノードは最も小さい番号だけを使う
		if name := d.deviceName(ctx, match); name != "" {
			if seenNames[name] {
				continue
			}
			seenNames[name] = true
		}

		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !isV4L2DevicePath(device) {
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
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	}

	formats, err := d.listFormats(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}

	info := buildDeviceInfo(device, d.deviceName(ctx, device), "uvcvideo", formats)
	d.readMounting(ctx, device).apply(info)
	return info, nil
}

func (d *LinuxDiscovery) listFormats(ctx context.Context, device string) (*formatList, error) {
	out, err := d.run(ctx, "v4l2-ctl", "--device", device, "--list-formats-ext")
	if err != nil {
		return nil, err
	}
	return parseFormatList(string(out)), nil
}

// deviceName はv4l2-ctlを使って実際のデバイス名を取得する
func (d *LinuxDiscovery) deviceName(ctx context.Context, device string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := d.run(ctx, "v4l2-ctl", "--device", device, "--info")
	if err != nil {
		return ""
	}
	return parseCardType(string(out))
}

// V4L2の取り付け情報コントロール
const (
	ctrlOrientation    = "camera_orientation"
	ctrlSensorRotation = "camera_sensor_rotation"
)

// mounting はドライバーが報告したカメラの取り付け情報
// 古いドライバーや多くのUSBカメラはコントロールを持たない
type mounting struct {
	facing      Facing
	hasFacing   bool
	rotation    int
	hasRotation bool
}

// readMounting はcamera_orientationとcamera_sensor_rotationを読む
// 片方だけ無いドライバーもあるので1つずつ問い合わせる
func (d *LinuxDiscovery) readMounting(ctx context.Context, device string) mounting {
	var m mounting

	if v, ok := d.readControl(ctx, device, ctrlOrientation); ok {
		m.facing, m.hasFacing = orientationFacing(v), true
	}
	if v, ok := d.readControl(ctx, device, ctrlSensorRotation); ok {
		m.rotation, m.hasRotation = v, true
	}
	return m
}

func (d *LinuxDiscovery) readControl(ctx context.Context, device, name string) (int, bool) {
	out, err := d.run(ctx, "v4l2-ctl", "--device", device, "--get-ctrl", name)
	if err != nil {
		return 0, false
	}
	return parseControl(string(out), name)
}

// apply は報告された値でinfoを上書きする。無い項目は名前からの推定のまま
func (m mounting) apply(info *DeviceInfo) {
	if m.hasFacing {
		info.Facing = m.facing
	}
	if m.hasRotation {
		info.Orientation = m.rotation
	}
}

// parseControl はv4l2-ctl --get-ctrlの"name: value"行から値を取り出す
func parseControl(output, name string) (int, bool) {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || strings.TrimSpace(key) != name {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// orientationFacing はV4L2_CID_CAMERA_ORIENTATIONの値を変換する
func orientationFacing(v int) Facing {
	switch v {
	case 0:
		return FacingFront
	case 1:
		return FacingBack
	case 2:
		return FacingExternal
	default:
		return FacingUnknown
	}
}

// buildDeviceInfo は解析済みのフォーマット一覧からDeviceInfoを組み立てる
func buildDeviceInfo(device, name, driver string, formats *formatList) *DeviceInfo {
	index := extractDeviceNumber(device)
	if name == "" {
		name = fmt.Sprintf("カメラ %d", index)
	}

	format := formats.preferred()
	return &DeviceInfo{
		Device:      device,
		Index:       index,
		Name:        name,
		Driver:      driver,
		Facing:      guessFacing(name),
		Resolutions: formats.sizes(format),
		FrameRates:  formats.rates(format),
		Formats:     formats.formatNames(),
	}
}

// parseCardType はv4l2-ctl --infoの出力から"Card type"を取り出す
func parseCardType(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Card type") {
			continue
		}
		if _, value, ok := strings.Cut(line, ":"); ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

// guessFacing はデバイス名から前面/背面を推定する
// camera_orientationが無いデバイス用で、名前に手掛かりが無ければ不明とする
func guessFacing(name string) Facing {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "front"), strings.Contains(lower, "integrated"), strings.Contains(lower, "facetime"):
		return FacingFront
	case strings.Contains(lower, "rear"), strings.Contains(lower, "back"):
		return FacingBack
	default:
		return FacingUnknown
	}
}

func hasCaptureFormat(formats *formatList) bool {
	for _, f := range formats.order {
		if f == "MJPG" || f == "YUYV" {
			return true
		}
	}
	return false
}

func isV4L2DevicePath(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	matches := deviceNumberPattern.FindStringSubmatch(device)
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
	mu          sync.Mutex
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
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, device)
	}

	// コピーを返す
	result := *info
	return &result, nil
}

// AddDevice はテスト用にデバイスを追加する
func (m *MockDiscovery) AddDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deviceInfos[device]; ok {
		return
	}

	m.devices = append(m.devices, device)
	m.deviceInfos[device] = &DeviceInfo{
		Device:      device,
		Index:       len(m.devices) - 1,
		Name:        fmt.Sprintf("テストカメラ %d", len(m.devices)),
		Driver:      "mock",
		Resolutions: append([]negotiate.Size(nil), DefaultTestResolutions...),
		FrameRates:  append([]int(nil), DefaultTestFrameRates...),
		Formats:     []string{"MJPG"},
	}
}

// RemoveDevice はテスト用にデバイスを削除する
func (m *MockDiscovery) RemoveDevice(device string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.devices {
		if d == device {
			m.devices = append(m.devices[:i], m.devices[i+1:]...)
			break
		}
	}
	delete(m.deviceInfos, device)
}
