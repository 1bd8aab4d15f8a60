package camera

import (
	"context"
	"errors"
	"time"

	"camnego/internal/negotiate"
)

// Status はカメラの動作状態を表す
type Status string

const (
	StatusInactive Status = "inactive" // カメラは停止中
	StatusActive   Status = "active"   // カメラは動作中
	StatusError    Status = "error"    // カメラでエラーが発生
)

// Facing はカメラの向き（前面・背面・外付け）を表す
type Facing string

const (
	FacingBack     Facing = "back"
	FacingFront    Facing = "front"
	FacingExternal Facing = "external"
	FacingUnknown  Facing = ""
)

var (
	// ErrCameraNotFound は指定されたIDのカメラが存在しないことを表す
	ErrCameraNotFound = errors.New("カメラが見つかりません")

	// ErrDeviceUnavailable はデバイスが利用できないことを表す
	ErrDeviceUnavailable = errors.New("デバイスが利用できません")

	// ErrDeviceBusy はデバイスが既に別のセッションに開かれていることを表す
	ErrDeviceBusy = errors.New("デバイスは使用中です")

	// ErrNotOpen はデバイスが開かれていないことを表す
	ErrNotOpen = errors.New("デバイスが開かれていません")

	// ErrAlreadyStreaming はセッションが既に配信中であることを表す
	ErrAlreadyStreaming = errors.New("既に配信中です")
)

// Camera は動的に管理されるカメラの情報を表す
type Camera struct {
	ID          string     // カメラの一意識別子
	Name        string     // カメラの表示名
	Device      string     // デバイスパス（例: /dev/video0）
	Type        DeviceType // デバイスの種類
	Facing      Facing     // 前面/背面
	Orientation int        // 取り付け角度（度）
	Settings    Settings   // 要求する設定
	Applied     Parameters // 交渉後に実際に適用された設定
	Status      Status     // 現在の状態
	Frames      uint64     // 配信したフレーム数
	LastSeen    time.Time  // 最後に確認された時刻
}

// Settings はカメラに要求する設定を表す
// デバイスが対応していない値でもよく、開始時に交渉される
type Settings struct {
	FPS      int // フレームレート
	Width    int // 画像幅
	Height   int // 画像高さ
	Rotation int // フレームに付与する回転角（度）
}

// Request は交渉用の要求値に変換する
func (s Settings) Request() negotiate.Request {
	return negotiate.Request{Width: s.Width, Height: s.Height, FPS: s.FPS}
}

// Capabilities はデバイスが報告した対応解像度とフレームレート
type Capabilities struct {
	Resolutions []negotiate.Size // デバイスの列挙順
	FrameRates  []int            // 空の場合はフレームレートを変更できない
}

// Manager はカメラの動的管理を担うインターフェース
type Manager interface {
	// Start はカメラマネージャーを開始する
	Start(ctx context.Context) error

	// Stop はカメラマネージャーを停止する
	Stop(ctx context.Context) error

	// GetCameras は現在管理されているカメラ一覧を取得する
	GetCameras() []Camera

	// GetCamera は指定されたIDのカメラを取得する
	GetCamera(id string) (*Camera, bool)

	// AddCamera はカメラを動的に追加する
	AddCamera(ctx context.Context, cfg DeviceConfig) (*Camera, error)

	// RemoveCamera はカメラを削除する
	RemoveCamera(ctx context.Context, id string) error

	// StartCamera は設定を交渉してカメラの配信を開始する
	StartCamera(ctx context.Context, id string, settings *Settings) (Parameters, error)

	// StopCamera はカメラを停止する
	StopCamera(ctx context.Context, id string) error

	// GetCapabilities はカメラの対応解像度とフレームレートを取得する
	GetCapabilities(ctx context.Context, id string) (Capabilities, error)

	// Subscribe はカメラのフレームを受信する。返された関数で購読を解除する
	Subscribe(id string) (<-chan Frame, func(), error)

	// LatestFrame はカメラが最後に配信したフレームを返す
	LatestFrame(id string) (Frame, bool)

	// DiscoverCameras はシステム内のカメラデバイスを再検出する
	DiscoverCameras(ctx context.Context) ([]string, error)
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string           // デバイスパス
	Index       int              // デバイス番号
	Name        string           // デバイス名
	Driver      string           // ドライバー名
	Facing      Facing           // 前面/背面
	Orientation int              // 取り付け角度（度）
	Resolutions []negotiate.Size // サポートされる解像度（列挙順）
	FrameRates  []int            // サポートされるフレームレート（列挙順）
	Formats     []string         // サポートされるフォーマット
}
