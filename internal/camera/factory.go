package camera

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// DeviceConfig はカメラ追加時の設定
type DeviceConfig struct {
	ID          string     // 空の場合は自動生成
	Name        string     // 空の場合はデバイス情報から取得
	Device      string     // デバイスパス（v4l2の場合は必須）
	Type        DeviceType // 空の場合はv4l2
	Facing      Facing
	Orientation int
	Settings    Settings // 0の項目はマネージャーの既定値で補う
}

// DeviceCreator はデバイス作成関数の型
type DeviceCreator func(cfg DeviceConfig, log zerolog.Logger) (Device, error)

// DeviceFactory はデバイス種類毎の作成関数を保持する
type DeviceFactory struct {
	creators map[DeviceType]DeviceCreator
	log      zerolog.Logger
}

// NewDeviceFactory はv4l2とtestを登録済みのファクトリーを作成する
func NewDeviceFactory(log zerolog.Logger) *DeviceFactory {
	f := &DeviceFactory{
		creators: make(map[DeviceType]DeviceCreator),
		log:      log,
	}

	f.Register(DeviceTypeV4L2, newV4L2DeviceFromConfig)
	f.Register(DeviceTypeTest, newTestPatternDeviceFromConfig)

	return f
}

// Register はデバイス作成関数を登録する
func (f *DeviceFactory) Register(deviceType DeviceType, creator DeviceCreator) {
	f.creators[deviceType] = creator
}

// Create はデバイスを作成する
func (f *DeviceFactory) Create(cfg DeviceConfig) (Device, error) {
	deviceType := cfg.Type
	if deviceType == "" {
		deviceType = DeviceTypeV4L2
	}

	creator, exists := f.creators[deviceType]
	if !exists {
		return nil, fmt.Errorf("サポートされていないデバイスタイプ: %s", deviceType)
	}

	return creator(cfg, f.log)
}

// SupportedTypes は登録済みのデバイスタイプを返す
func (f *DeviceFactory) SupportedTypes() []DeviceType {
	types := make([]DeviceType, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func newV4L2DeviceFromConfig(cfg DeviceConfig, log zerolog.Logger) (Device, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("V4L2デバイスの作成にはデバイスパスが必要です")
	}
	return NewV4L2Device(cfg.Device, log), nil
}

func newTestPatternDeviceFromConfig(_ DeviceConfig, _ zerolog.Logger) (Device, error) {
	return NewTestPatternDevice(DefaultTestResolutions, DefaultTestFrameRates), nil
}
