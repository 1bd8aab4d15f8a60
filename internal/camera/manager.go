package camera

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"camnego/internal/negotiate"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ManagerOptions はDefaultCameraManagerの構成
type ManagerOptions struct {
	Discovery  Discovery             // nilの場合はデバイス検出を行わない
	Factory    *DeviceFactory        // nilの場合はNewDeviceFactory
	Negotiator *negotiate.Negotiator // nilの場合はログ出力するNegotiatorを作る
	Defaults   Settings              // カメラ追加時の既定の要求値
	Static     []DeviceConfig        // 起動時に追加するカメラ

	AutoDiscovery bool
	ScanInterval  time.Duration

	Logger zerolog.Logger
}

// managedCamera はカメラ毎のデバイスとセッション
type managedCamera struct {
	device     Device
	session    *Session
	frames     *Broadcaster
	caps       Capabilities
	discovered bool
}

// DefaultCameraManager はCamera Managerのデフォルト実装
type DefaultCameraManager struct {
	discovery  Discovery
	factory    *DeviceFactory
	negotiator *negotiate.Negotiator
	log        zerolog.Logger

	cameras map[string]*Camera
	managed map[string]*managedCamera
	mu      sync.RWMutex

	defaultSettings Settings
	static          []DeviceConfig

	// 制御用
	stopCh chan struct{}
	wg     sync.WaitGroup

	// 自動検出設定
	autoDiscovery bool
	scanInterval  time.Duration
}

var _ Manager = (*DefaultCameraManager)(nil)

// NewDefaultCameraManager は新しいDefaultCameraManagerを作成する
func NewDefaultCameraManager(opts ManagerOptions) *DefaultCameraManager {
	if opts.Factory == nil {
		opts.Factory = NewDeviceFactory(opts.Logger)
	}
	if opts.Negotiator == nil {
		opts.Negotiator = negotiate.New(NewLogObserver(opts.Logger))
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 30 * time.Second
	}

	return &DefaultCameraManager{
		discovery:       opts.Discovery,
		factory:         opts.Factory,
		negotiator:      opts.Negotiator,
		log:             opts.Logger,
		cameras:         make(map[string]*Camera),
		managed:         make(map[string]*managedCamera),
		defaultSettings: opts.Defaults,
		static:          opts.Static,
		stopCh:          make(chan struct{}),
		autoDiscovery:   opts.AutoDiscovery && opts.Discovery != nil,
		scanInterval:    opts.ScanInterval,
	}
}

// Start は設定済みのカメラを追加し、デバイス検出を開始する
func (m *DefaultCameraManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cfg := range m.static {
		if _, err := m.addCameraInternal(ctx, cfg, false); err != nil {
			return fmt.Errorf("カメラ %s の追加に失敗: %w", cfg.ID, err)
		}
	}

	if m.discovery != nil {
		if _, err := m.performDiscovery(ctx); err != nil {
			return fmt.Errorf("初期スキャンに失敗: %w", err)
		}
	}

	if m.autoDiscovery {
		m.wg.Add(1)
		go m.backgroundScan(ctx)
	}

	m.log.Info().Int("cameras", len(m.cameras)).Msg("カメラマネージャーを開始しました")
	return nil
}

// Stop はカメラマネージャーを停止する
func (m *DefaultCameraManager) Stop(ctx context.Context) error {
	// バックグラウンドスキャンはロックを取るため、先に止める
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	var stopErrors []error
	for id := range m.managed {
		if err := m.removeCameraInternal(ctx, id); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("カメラ %s の停止に失敗: %w", id, err))
		}
	}

	m.cameras = make(map[string]*Camera)
	m.managed = make(map[string]*managedCamera)
	m.stopCh = make(chan struct{})

	if len(stopErrors) > 0 {
		return fmt.Errorf("一部のカメラ停止に失敗: %w", errors.Join(stopErrors...))
	}
	return nil
}

// GetCameras は現在管理されているカメラ一覧をID順で取得する
func (m *DefaultCameraManager) GetCameras() []Camera {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cameras := make([]Camera, 0, len(m.cameras))
	for id, cam := range m.cameras {
		c := *cam
		c.Frames = m.managed[id].session.Frames()
		cameras = append(cameras, c)
	}
	sort.Slice(cameras, func(i, j int) bool { return cameras[i].ID < cameras[j].ID })

	return cameras
}

// GetCamera は指定されたIDのカメラを取得する
func (m *DefaultCameraManager) GetCamera(id string) (*Camera, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cam, exists := m.cameras[id]
	if !exists {
		return nil, false
	}

	// コピーを返す
	result := *cam
	result.Frames = m.managed[id].session.Frames()
	return &result, true
}

// AddCamera はカメラを動的に追加する
func (m *DefaultCameraManager) AddCamera(ctx context.Context, cfg DeviceConfig) (*Camera, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cam, err := m.addCameraInternal(ctx, cfg, false)
	if err != nil {
		return nil, err
	}

	result := *cam
	return &result, nil
}

// RemoveCamera はカメラを削除する
func (m *DefaultCameraManager) RemoveCamera(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.cameras[id]; !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	return m.removeCameraInternal(ctx, id)
}

// StartCamera は設定を交渉してカメラの配信を開始する
// settingsがnilの場合はカメラに保存された要求値を使う
func (m *DefaultCameraManager) StartCamera(ctx context.Context, id string, settings *Settings) (Parameters, error) {
	m.mu.RLock()
	mc, exists := m.managed[id]
	var requested Settings
	if exists {
		requested = m.cameras[id].Settings
	}
	m.mu.RUnlock()

	if !exists {
		return Parameters{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	if settings != nil {
		requested = m.withDefaults(*settings)
	}

	params, startErr := mc.session.Start(ctx, requested, mc.frames)

	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.cameras[id]
	if !ok {
		// 開始中に削除された
		if startErr == nil {
			_ = mc.session.Stop(ctx)
		}
		return Parameters{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	cam.LastSeen = time.Now()
	if startErr != nil {
		if errors.Is(startErr, ErrAlreadyStreaming) {
			return params, startErr
		}
		cam.Status = StatusError
		return Parameters{}, fmt.Errorf("カメラ %s の開始に失敗: %w", id, startErr)
	}

	cam.Settings = requested
	cam.Applied = params
	cam.Status = StatusActive
	if mc.session.Status() == StatusError {
		// 開始直後に配信が終わった
		cam.Status = StatusError
		cam.Applied = Parameters{}
	}

	return params, nil
}

// StopCamera はカメラを停止する
func (m *DefaultCameraManager) StopCamera(ctx context.Context, id string) error {
	m.mu.RLock()
	mc, exists := m.managed[id]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	err := mc.session.Stop(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cam, ok := m.cameras[id]; ok {
		cam.Status = StatusInactive
		cam.Applied = Parameters{}
		cam.LastSeen = time.Now()
	}

	return err
}

// GetCapabilities はカメラの対応解像度とフレームレートを取得する
//
// 配信中はデバイスを開き直せないため、最後に取得した一覧を返す。
func (m *DefaultCameraManager) GetCapabilities(ctx context.Context, id string) (Capabilities, error) {
	m.mu.RLock()
	mc, exists := m.managed[id]
	m.mu.RUnlock()

	if !exists {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	if mc.session.Status() == StatusActive {
		if caps := mc.session.Capabilities(); len(caps.Resolutions) > 0 {
			return caps, nil
		}
		m.mu.RLock()
		defer m.mu.RUnlock()
		return mc.caps, nil
	}

	caps, err := QueryCapabilities(ctx, mc.device)
	if err != nil {
		return Capabilities{}, err
	}

	m.mu.Lock()
	mc.caps = caps
	m.mu.Unlock()

	return caps, nil
}

// Subscribe はカメラのフレームを受信する
func (m *DefaultCameraManager) Subscribe(id string) (<-chan Frame, func(), error) {
	m.mu.RLock()
	mc, exists := m.managed[id]
	m.mu.RUnlock()

	if !exists {
		return nil, nil, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}

	ch, cancel := mc.frames.Subscribe()
	return ch, cancel, nil
}

// LatestFrame はカメラが最後に配信したフレームを返す
func (m *DefaultCameraManager) LatestFrame(id string) (Frame, bool) {
	m.mu.RLock()
	mc, exists := m.managed[id]
	m.mu.RUnlock()

	if !exists {
		return Frame{}, false
	}
	return mc.frames.Latest()
}

// Negotiator はカメラの交渉に使うNegotiatorを返す
func (m *DefaultCameraManager) Negotiator() *negotiate.Negotiator {
	return m.negotiator
}

// DiscoverCameras はシステム内のカメラデバイスを再検出する
func (m *DefaultCameraManager) DiscoverCameras(ctx context.Context) ([]string, error) {
	if m.discovery == nil {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.performDiscovery(ctx)
}

// performDiscovery は実際の検出処理を実行する（ロック済み前提）
func (m *DefaultCameraManager) performDiscovery(ctx context.Context) ([]string, error) {
	devices, err := m.discovery.ScanDevices(ctx)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(devices))
	for _, device := range devices {
		present[device] = true
		if m.findByDevice(device) != "" {
			continue
		}

		cfg := DeviceConfig{Device: device, Type: DeviceTypeV4L2}
		if _, err := m.addCameraInternal(ctx, cfg, true); err != nil {
			m.log.Warn().Err(err).Str("device", device).Msg("検出したカメラの追加に失敗")
		}
	}

	// 存在しなくなったデバイスを削除（検出で追加したものだけ）
	for id, mc := range m.managed {
		if !mc.discovered || present[m.cameras[id].Device] {
			continue
		}
		m.log.Info().Str("id", id).Str("device", m.cameras[id].Device).Msg("カメラが取り外されました")
		if err := m.removeCameraInternal(ctx, id); err != nil {
			m.log.Warn().Err(err).Str("id", id).Msg("カメラの削除に失敗")
		}
	}

	return devices, nil
}

// addCameraInternal は内部でカメラを追加する（ロック済み前提）
func (m *DefaultCameraManager) addCameraInternal(ctx context.Context, cfg DeviceConfig, discovered bool) (*Camera, error) {
	if cfg.Type == "" {
		cfg.Type = DeviceTypeV4L2
	}

	if cfg.ID != "" {
		if _, exists := m.cameras[cfg.ID]; exists {
			return nil, fmt.Errorf("カメラID %s は既に使われています", cfg.ID)
		}
	}

	var info *DeviceInfo
	if cfg.Type == DeviceTypeV4L2 {
		if id := m.findByDevice(cfg.Device); id != "" {
			return nil, fmt.Errorf("デバイス %s は既に追加されています", cfg.Device)
		}

		if m.discovery != nil {
			if !m.discovery.IsDeviceAvailable(ctx, cfg.Device) {
				return nil, fmt.Errorf("%w: %s", ErrDeviceUnavailable, cfg.Device)
			}

			var err error
			info, err = m.discovery.GetDeviceInfo(ctx, cfg.Device)
			if err != nil {
				return nil, fmt.Errorf("デバイス情報の取得に失敗: %w", err)
			}
		}
	}

	device, err := m.factory.Create(cfg)
	if err != nil {
		return nil, err
	}

	cam := &Camera{
		ID:          cfg.ID,
		Name:        cfg.Name,
		Device:      cfg.Device,
		Type:        cfg.Type,
		Facing:      cfg.Facing,
		Orientation: cfg.Orientation,
		Settings:    m.withDefaults(cfg.Settings),
		Status:      StatusInactive,
		LastSeen:    time.Now(),
	}
	if cam.ID == "" {
		cam.ID = uuid.New().String()
	}

	mc := &managedCamera{
		device:     device,
		frames:     NewBroadcaster(),
		discovered: discovered,
	}

	if info != nil {
		if cam.Name == "" {
			cam.Name = info.Name
		}
		if cam.Facing == FacingUnknown {
			cam.Facing = info.Facing
		}
		if cam.Orientation == 0 {
			cam.Orientation = info.Orientation
		}
		mc.caps = Capabilities{Resolutions: info.Resolutions, FrameRates: info.FrameRates}
	}
	if cam.Name == "" {
		cam.Name = fmt.Sprintf("%s カメラ", cam.Type)
	}

	log := m.log.With().Str("camera", cam.ID).Logger()
	mc.session = NewSession(device, m.negotiator, log)
	id := cam.ID
	mc.session.OnStreamEnd(func(error) {
		m.streamEnded(id, mc)
	})

	m.cameras[cam.ID] = cam
	m.managed[cam.ID] = mc

	log.Info().
		Str("name", cam.Name).
		Str("device", cam.Device).
		Str("type", string(cam.Type)).
		Msg("カメラを追加しました")

	return cam, nil
}

// removeCameraInternal は内部でカメラを削除する（ロック済み前提）
func (m *DefaultCameraManager) removeCameraInternal(ctx context.Context, id string) error {
	mc, exists := m.managed[id]
	if !exists {
		return nil
	}

	err := mc.session.Stop(ctx)
	mc.frames.Close()

	delete(m.cameras, id)
	delete(m.managed, id)

	return err
}

// streamEnded はデバイス側で配信が終わったカメラをエラー状態にし、視聴中の接続を切る
func (m *DefaultCameraManager) streamEnded(id string, mc *managedCamera) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cam, ok := m.cameras[id]
	if !ok || m.managed[id] != mc {
		return
	}
	// 通知までの間に再開されていれば何もしない
	if mc.session.Status() != StatusError {
		return
	}

	cam.Status = StatusError
	cam.Applied = Parameters{}
	cam.LastSeen = time.Now()
	mc.frames.Disconnect()
}

// findByDevice はデバイスパスからカメラIDを探す（ロック済み前提）
func (m *DefaultCameraManager) findByDevice(device string) string {
	if device == "" {
		return ""
	}
	for id, cam := range m.cameras {
		if cam.Device == device {
			return id
		}
	}
	return ""
}

// withDefaults は未指定の項目を既定値で補う
func (m *DefaultCameraManager) withDefaults(s Settings) Settings {
	if s.Width <= 0 {
		s.Width = m.defaultSettings.Width
	}
	if s.Height <= 0 {
		s.Height = m.defaultSettings.Height
	}
	if s.FPS <= 0 {
		s.FPS = m.defaultSettings.FPS
	}
	if s.Rotation == 0 {
		s.Rotation = m.defaultSettings.Rotation
	}
	return s
}

// backgroundScan は定期的なデバイススキャンを実行する
func (m *DefaultCameraManager) backgroundScan(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			if _, err := m.performDiscovery(ctx); err != nil {
				m.log.Warn().Err(err).Msg("デバイスの再スキャンに失敗")
			}
			m.mu.Unlock()
		}
	}
}

// QueryCapabilities はデバイスを一時的に開いて対応一覧を取得する
func QueryCapabilities(ctx context.Context, device Device) (caps Capabilities, err error) {
	if err := device.Open(ctx); err != nil {
		return Capabilities{}, fmt.Errorf("デバイスのオープンに失敗: %w", err)
	}
	defer func() {
		if stopErr := device.Stop(ctx); stopErr != nil && err == nil {
			err = fmt.Errorf("デバイスの解放に失敗: %w", stopErr)
		}
	}()

	caps.Resolutions, err = device.SupportedResolutions(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("対応解像度の取得に失敗: %w", err)
	}

	caps.FrameRates, err = device.SupportedFrameRates(ctx)
	if err != nil {
		return Capabilities{}, fmt.Errorf("対応フレームレートの取得に失敗: %w", err)
	}

	return caps, nil
}
