package server

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"camnego/internal/camera"
	"camnego/internal/config"
	"camnego/internal/negotiate"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
	"github.com/rs/zerolog"
)

// Handler はカメラAPIのハンドラ
type Handler struct {
	config        *config.Config
	cameraManager camera.Manager
	negotiator    *negotiate.Negotiator
	log           zerolog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// negotiatorSource は交渉に使うNegotiatorを公開するManager
type negotiatorSource interface {
	Negotiator() *negotiate.Negotiator
}

// NewHandler は新しいHandlerを作成する
// managerがNegotiatorを公開していれば、カメラの開始と同じNegotiatorで交渉する
func NewHandler(cfg *config.Config, manager camera.Manager, log zerolog.Logger) *Handler {
	var n *negotiate.Negotiator
	if src, ok := manager.(negotiatorSource); ok {
		n = src.Negotiator()
	}
	if n == nil {
		n = negotiate.New(camera.NewLogObserver(log))
	}

	return &Handler{
		config:        cfg,
		cameraManager: manager,
		negotiator:    n,
		log:           log,
		done:          make(chan struct{}),
	}
}

// Register はルートを登録する
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)

	api := r.Group("/api")
	api.GET("/status", h.GetStatus)
	api.POST("/negotiate", h.Negotiate)
	api.POST("/discover", h.DiscoverCameras)

	cameras := api.Group("/cameras")
	cameras.GET("", h.GetCameras)
	cameras.GET("/:id", h.GetCamera)
	cameras.GET("/:id/capabilities", h.GetCapabilities)
	cameras.POST("/:id/start", h.StartCamera)
	cameras.POST("/:id/stop", h.StopCamera)
	cameras.GET("/:id/snapshot", h.GetCameraSnapshot)
	cameras.GET("/:id/stream", h.GetCameraStream)
	cameras.GET("/:id/ws", h.GetCameraWebSocket)
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	cameras := h.cameraManager.GetCameras()

	active := 0
	var frames uint64
	for _, cam := range cameras {
		if cam.Status == camera.StatusActive {
			active++
		}
		frames += cam.Frames
	}

	c.JSON(http.StatusOK, StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Cameras:   len(cameras),
		Active:    active,
		Frames:    frames,
		Timestamp: time.Now(),
	})
}

// GetCameras はカメラ一覧取得エンドポイントの実装
func (h *Handler) GetCameras(c *gin.Context) {
	managedCameras := h.cameraManager.GetCameras()
	cameras := make([]CameraInfo, 0, len(managedCameras))
	for _, cam := range managedCameras {
		cameras = append(cameras, toCameraInfo(cam))
	}

	c.JSON(http.StatusOK, CamerasResponse{Cameras: cameras})
}

// GetCamera は個別カメラ取得エンドポイントの実装
func (h *Handler) GetCamera(c *gin.Context) {
	id, ok := h.cameraID(c)
	if !ok {
		return
	}

	cam, found := h.cameraManager.GetCamera(id)
	if !found {
		h.writeError(c, camera.ErrCameraNotFound)
		return
	}

	c.JSON(http.StatusOK, toCameraInfo(*cam))
}

// GetCapabilities はカメラの対応解像度とフレームレートを返す
func (h *Handler) GetCapabilities(c *gin.Context) {
	id, ok := h.cameraID(c)
	if !ok {
		return
	}
	caps, err := h.cameraManager.GetCapabilities(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CapabilitiesResponse{
		CameraId:    id,
		Resolutions: nonNilSizes(caps.Resolutions),
		FrameRates:  nonNilInts(caps.FrameRates),
	})
}

// StartCamera は設定を交渉してカメラを開始する
func (h *Handler) StartCamera(c *gin.Context) {
	id, ok := h.cameraID(c)
	if !ok {
		return
	}

	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.writeBadRequest(c, err)
			return
		}
	}

	var settings *camera.Settings
	if req != (StartRequest{}) {
		settings = &camera.Settings{
			Width:    req.Width,
			Height:   req.Height,
			FPS:      req.Fps,
			Rotation: req.Rotation,
		}
	}

	params, err := h.cameraManager.StartCamera(c.Request.Context(), id, settings)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartResponse{
		CameraId: id,
		Status:   string(camera.StatusActive),
		Applied:  params,
	})
}

// StopCamera はカメラを停止する
func (h *Handler) StopCamera(c *gin.Context) {
	id, ok := h.cameraID(c)
	if !ok {
		return
	}
	if err := h.cameraManager.StopCamera(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Negotiate は要求値と対応一覧から設定を交渉する
func (h *Handler) Negotiate(c *gin.Context) {
	var req NegotiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.writeBadRequest(c, err)
		return
	}

	sizes, rates := req.Sizes, req.FrameRates
	if req.CameraId != "" {
		caps, err := h.cameraManager.GetCapabilities(c.Request.Context(), req.CameraId)
		if err != nil {
			h.writeError(c, err)
			return
		}
		sizes, rates = caps.Resolutions, caps.FrameRates
	}

	request := negotiate.Request{Width: req.Width, Height: req.Height, FPS: req.Fps}
	result, err := h.negotiator.Negotiate(request, sizes, rates)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, NegotiateResponse{Requested: request, Result: result})
}

// DiscoverCameras はデバイスを再検出する
func (h *Handler) DiscoverCameras(c *gin.Context) {
	devices, err := h.cameraManager.DiscoverCameras(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	if devices == nil {
		devices = []string{}
	}
	c.JSON(http.StatusOK, DiscoverResponse{
		Devices: devices,
		Cameras: len(h.cameraManager.GetCameras()),
	})
}

// ヘルパー関数

// toCameraInfo はカメラ情報を応答の形に変換する
func toCameraInfo(cam camera.Camera) CameraInfo {
	info := CameraInfo{
		Id:          cam.ID,
		Name:        cam.Name,
		Device:      cam.Device,
		Type:        string(cam.Type),
		Facing:      string(cam.Facing),
		Orientation: cam.Orientation,
		Status:      string(cam.Status),
		Frames:      cam.Frames,
		Settings: CameraSettings{
			Width:    cam.Settings.Width,
			Height:   cam.Settings.Height,
			Fps:      cam.Settings.FPS,
			Rotation: cam.Settings.Rotation,
		},
		LastSeen: cam.LastSeen,
	}
	if cam.Status == camera.StatusActive {
		applied := cam.Applied
		info.Applied = &applied
	}
	return info
}

// cameraID はパスのカメラIDを取り出す。形式が不正な場合は400を書き込んでfalseを返す
func (h *Handler) cameraID(c *gin.Context) (string, bool) {
	var id string
	err := runtime.BindStyledParameterWithOptions("simple", "id", c.Param("id"), &id,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false})
	if err != nil {
		h.writeBadRequest(c, fmt.Errorf("パラメータidの形式が正しくありません: %w", err))
		return "", false
	}
	return id, true
}

// errorStatus はエラーに対応するHTTPステータスとエラーコードを返す
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		return http.StatusNotFound, "camera_not_found"
	case errors.Is(err, negotiate.ErrInvalidSize):
		return http.StatusBadRequest, "invalid_size"
	case errors.Is(err, negotiate.ErrNoMatch):
		return http.StatusUnprocessableEntity, "no_match"
	case errors.Is(err, camera.ErrAlreadyStreaming):
		return http.StatusConflict, "already_streaming"
	case errors.Is(err, camera.ErrDeviceBusy):
		return http.StatusConflict, "device_busy"
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "device_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError はエラーをErrorResponseとして書き込む
func (h *Handler) writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("リクエストの処理に失敗")
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

func (h *Handler) writeBadRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error:     "invalid_request",
		Message:   "リクエストの形式が正しくありません",
		Details:   stringPtr(err.Error()),
		Timestamp: time.Now(),
	})
}

// stringPtr は文字列のポインタを返すヘルパー関数
func stringPtr(s string) *string {
	return &s
}

func nonNilSizes(s []negotiate.Size) []negotiate.Size {
	if s == nil {
		return []negotiate.Size{}
	}
	return s
}

func nonNilInts(s []int) []int {
	if s == nil {
		return []int{}
	}
	return s
}
