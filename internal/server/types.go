package server

import (
	"time"

	"camnego/internal/camera"
	"camnego/internal/negotiate"
)

// HealthResponse はヘルスチェックの応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバーのリッスン情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Status    string     `json:"status"`
	Server    ServerInfo `json:"server"`
	Cameras   int        `json:"cameras"`
	Active    int        `json:"active"`
	Frames    uint64     `json:"frames"`
	Timestamp time.Time  `json:"timestamp"`
}

// CameraSettings はカメラに要求する設定
type CameraSettings struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Fps      int `json:"fps"`
	Rotation int `json:"rotation"`
}

// CameraInfo はカメラ情報
type CameraInfo struct {
	Id          string             `json:"id"`
	Name        string             `json:"name"`
	Device      string             `json:"device"`
	Type        string             `json:"type"`
	Facing      string             `json:"facing,omitempty"`
	Orientation int                `json:"orientation"`
	Status      string             `json:"status"`
	Frames      uint64             `json:"frames"`
	Settings    CameraSettings     `json:"settings"`
	Applied     *camera.Parameters `json:"applied,omitempty"`
	LastSeen    time.Time          `json:"last_seen"`
}

// CamerasResponse はカメラ一覧の応答
type CamerasResponse struct {
	Cameras []CameraInfo `json:"cameras"`
}

// CapabilitiesResponse はカメラの対応一覧
type CapabilitiesResponse struct {
	CameraId    string           `json:"camera_id"`
	Resolutions []negotiate.Size `json:"resolutions"`
	FrameRates  []int            `json:"frame_rates"`
}

// StartRequest はカメラ開始の要求。省略した項目はカメラの設定値を使う
type StartRequest struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Fps      int `json:"fps"`
	Rotation int `json:"rotation"`
}

// StartResponse は交渉後に適用された設定
type StartResponse struct {
	CameraId string            `json:"camera_id"`
	Status   string            `json:"status"`
	Applied  camera.Parameters `json:"applied"`
}

// NegotiateRequest は設定交渉の要求
//
// CameraIdを指定した場合はそのカメラの対応一覧で交渉し、SizesとFrameRatesは無視する。
type NegotiateRequest struct {
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Fps        int              `json:"fps"`
	Sizes      []negotiate.Size `json:"sizes"`
	FrameRates []int            `json:"frame_rates"`
	CameraId   string           `json:"camera_id"`
}

// NegotiateResponse は交渉結果
type NegotiateResponse struct {
	Requested negotiate.Request `json:"requested"`
	negotiate.Result
}

// DiscoverResponse は再検出の結果
type DiscoverResponse struct {
	Devices []string `json:"devices"`
	Cameras int      `json:"cameras"`
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
