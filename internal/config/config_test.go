package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"camnego/internal/camera"
)

// TestConfigLoad はデフォルト設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout は 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// デフォルト値の検証
	if cfg.Camera.DefaultFPS <= 0 {
		t.Error("デフォルトFPSが設定されていません")
	}
	if cfg.Camera.DefaultWidth <= 0 || cfg.Camera.DefaultHeight <= 0 {
		t.Error("デフォルト解像度が設定されていません")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("ログレベルのデフォルトが違います: got %s", cfg.Log.Level)
	}
}

// TestLoadFile はYAMLファイルの読み込みをテストする
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camnego.yaml")
	content := `
server:
  port: 9000
camera:
  default_width: 640
  default_height: 480
  scan_interval: 5s
  devices:
    - id: front
      name: 前面カメラ
      device: /dev/video0
      facing: front
      rotation: 270
    - id: pattern
      type: test
      width: 320
      height: 240
log:
  level: debug
  modules:
    camera: trace
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("ポートが反映されていません: got %d", cfg.Server.Port)
	}
	// ファイルに無い項目はデフォルトのまま
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("ホストのデフォルトが失われています: got %s", cfg.Server.Host)
	}
	if cfg.Camera.DefaultFPS != 15 {
		t.Errorf("FPSのデフォルトが失われています: got %d", cfg.Camera.DefaultFPS)
	}
	if cfg.Camera.ScanInterval != 5*time.Second {
		t.Errorf("スキャン間隔が反映されていません: got %s", cfg.Camera.ScanInterval)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Modules["camera"] != "trace" {
		t.Errorf("ログ設定が反映されていません: %+v", cfg.Log)
	}

	devices := cfg.DeviceConfigs()
	if len(devices) != 2 {
		t.Fatalf("カメラ数が違います: got %d", len(devices))
	}
	if devices[0].Facing != camera.FacingFront || devices[0].Settings.Rotation != 270 {
		t.Errorf("前面カメラの設定が違います: %+v", devices[0])
	}
	if devices[1].Type != camera.DeviceTypeTest || devices[1].Settings.Width != 320 {
		t.Errorf("テストカメラの設定が違います: %+v", devices[1])
	}

	settings := cfg.DefaultSettings()
	if settings.Width != 640 || settings.Height != 480 || settings.FPS != 15 {
		t.Errorf("既定の要求値が違います: %+v", settings)
	}
}

// TestLoadFileErrors は不正なYAMLファイルをテストする
func TestLoadFileErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "未知のキー", content: "server:\n  listen: 8080\n"},
		{name: "型の不一致", content: "server:\n  port: abc\n"},
		{name: "検証エラー", content: "server:\n  port: 70000\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tc.content), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
		})
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Camera.Devices = []CameraDevice{
			{ID: "camera1", Name: "メインカメラ", Device: "/dev/video0"},
		}
		return cfg
	}

	testCases := []struct {
		name      string
		modify    func(*Config)
		expectErr bool
	}{
		{name: "正常な設定", modify: func(*Config) {}},
		{name: "カメラデバイスなし", modify: func(c *Config) { c.Camera.Devices = nil }},
		{name: "カメラIDなし", modify: func(c *Config) { c.Camera.Devices[0].ID = "" }},
		{name: "テストデバイスはパス不要", modify: func(c *Config) {
			c.Camera.Devices[0].Type = "test"
			c.Camera.Devices[0].Device = ""
		}},
		{name: "無効なポート番号", modify: func(c *Config) { c.Server.Port = 99999 }, expectErr: true},
		{name: "カメラデバイスパスなし", modify: func(c *Config) { c.Camera.Devices[0].Device = "" }, expectErr: true},
		{name: "カメラID重複", modify: func(c *Config) {
			c.Camera.Devices = append(c.Camera.Devices, CameraDevice{ID: "camera1", Device: "/dev/video1"})
		}, expectErr: true},
		{name: "未対応のデバイスタイプ", modify: func(c *Config) { c.Camera.Devices[0].Type = "x11" }, expectErr: true},
		{name: "外付けカメラ", modify: func(c *Config) { c.Camera.Devices[0].Facing = "external" }},
		{name: "無効な向き", modify: func(c *Config) { c.Camera.Devices[0].Facing = "side" }, expectErr: true},
		{name: "負の解像度", modify: func(c *Config) { c.Camera.Devices[0].Width = -1 }, expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数がファイルより優先されることをテストする
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("環境変数のログレベルが反映されていません: got %s", cfg.Log.Level)
	}
}
