package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"camnego/internal/camera"
	"camnego/internal/logger"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig  `yaml:"server"`
	Camera CameraConfig  `yaml:"camera"`
	Log    logger.Config `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	// 複数カメラ対応のための設定
	Devices []CameraDevice `yaml:"devices"`

	// デフォルト設定
	DefaultFPS    int `yaml:"default_fps"`    // フレームレート (fps)
	DefaultWidth  int `yaml:"default_width"`  // 画像幅
	DefaultHeight int `yaml:"default_height"` // 画像高さ

	// 自動検出
	AutoDiscovery bool          `yaml:"auto_discovery"`
	ScanInterval  time.Duration `yaml:"scan_interval"`
}

// CameraDevice は個別カメラの設定
type CameraDevice struct {
	ID     string `yaml:"id"`     // カメラID
	Name   string `yaml:"name"`   // カメラ名
	Device string `yaml:"device"` // デバイスパス (例: /dev/video0)
	Type   string `yaml:"type"`   // v4l2 または test（省略時はv4l2）

	Facing      string `yaml:"facing"`      // front / back / external
	Orientation int    `yaml:"orientation"` // 取り付け角度

	// カメラ固有の設定（デフォルト値より優先）
	FPS      int `yaml:"fps"`
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
	Rotation int `yaml:"rotation"`
}

// Default はデフォルト値の設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Devices:       []CameraDevice{},
			DefaultFPS:    15,
			DefaultWidth:  1280,
			DefaultHeight: 720,
			AutoDiscovery: true,
			ScanInterval:  30 * time.Second,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load は設定を読み込む
//
// デフォルト値に対して、指定されたYAMLファイルを順に重ね、最後に環境変数で上書きする。
// 存在しないファイルは無視する。
func Load(paths ...string) (*Config, error) {
	cfg := Default()

	for _, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}

		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("設定ファイル %s の解析に失敗: %w", path, err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// decode はYAMLを現在の値に重ねる。未知のキーはエラーにする
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Camera.DefaultWidth < 0 || c.Camera.DefaultHeight < 0 || c.Camera.DefaultFPS < 0 {
		return fmt.Errorf("無効なデフォルト設定: %dx%d %dfps",
			c.Camera.DefaultWidth, c.Camera.DefaultHeight, c.Camera.DefaultFPS)
	}

	ids := make(map[string]bool)
	for i, d := range c.Camera.Devices {
		if d.ID != "" {
			if ids[d.ID] {
				return fmt.Errorf("カメラIDが重複しています: %s", d.ID)
			}
			ids[d.ID] = true
		}

		switch camera.DeviceType(d.Type) {
		case "", camera.DeviceTypeV4L2:
			if d.Device == "" {
				return fmt.Errorf("カメラ %d: デバイスパスが設定されていません", i)
			}
		case camera.DeviceTypeTest:
		default:
			return fmt.Errorf("カメラ %d: 未対応のデバイスタイプ: %s", i, d.Type)
		}

		switch camera.Facing(d.Facing) {
		case camera.FacingUnknown, camera.FacingFront, camera.FacingBack, camera.FacingExternal:
		default:
			return fmt.Errorf("カメラ %d: 無効な向き: %s", i, d.Facing)
		}

		if d.Width < 0 || d.Height < 0 || d.FPS < 0 {
			return fmt.Errorf("カメラ %d: 無効な設定: %dx%d %dfps", i, d.Width, d.Height, d.FPS)
		}
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultSettings はカメラの既定の要求値を返す
func (c *Config) DefaultSettings() camera.Settings {
	return camera.Settings{
		FPS:    c.Camera.DefaultFPS,
		Width:  c.Camera.DefaultWidth,
		Height: c.Camera.DefaultHeight,
	}
}

// DeviceConfigs は設定ファイルのカメラをマネージャーに渡す形へ変換する
func (c *Config) DeviceConfigs() []camera.DeviceConfig {
	configs := make([]camera.DeviceConfig, 0, len(c.Camera.Devices))
	for _, d := range c.Camera.Devices {
		configs = append(configs, camera.DeviceConfig{
			ID:          d.ID,
			Name:        d.Name,
			Device:      d.Device,
			Type:        camera.DeviceType(d.Type),
			Facing:      camera.Facing(d.Facing),
			Orientation: d.Orientation,
			Settings: camera.Settings{
				FPS:      d.FPS,
				Width:    d.Width,
				Height:   d.Height,
				Rotation: d.Rotation,
			},
		})
	}
	return configs
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
