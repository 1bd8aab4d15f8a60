package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"camnego/internal/negotiate"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestManager は検出したデバイスをテストパターンで代用するマネージャーを作る
func newTestManager(t *testing.T, discovery Discovery) *DefaultCameraManager {
	t.Helper()

	factory := NewDeviceFactory(zerolog.Nop())
	factory.Register(DeviceTypeV4L2, func(_ DeviceConfig, _ zerolog.Logger) (Device, error) {
		return NewTestPatternDevice(DefaultTestResolutions, DefaultTestFrameRates), nil
	})

	m := NewDefaultCameraManager(ManagerOptions{
		Discovery: discovery,
		Factory:   factory,
		Defaults:  Settings{Width: 640, Height: 480, FPS: 15},
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func TestManagerDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})
	m := newTestManager(t, discovery)

	require.NoError(t, m.Start(ctx))

	cameras := m.GetCameras()
	require.Len(t, cameras, 2)
	for _, cam := range cameras {
		assert.NotEmpty(t, cam.ID)
		assert.Equal(t, DeviceTypeV4L2, cam.Type)
		assert.Equal(t, StatusInactive, cam.Status)
		assert.Equal(t, Settings{Width: 640, Height: 480, FPS: 15}, cam.Settings)
	}

	t.Run("取り外されたデバイスは削除される", func(t *testing.T) {
		discovery.RemoveDevice("/dev/video1")
		devices, err := m.DiscoverCameras(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"/dev/video0"}, devices)

		cameras := m.GetCameras()
		require.Len(t, cameras, 1)
		assert.Equal(t, "/dev/video0", cameras[0].Device)
	})

	t.Run("新しいデバイスは追加される", func(t *testing.T) {
		discovery.AddDevice("/dev/video2")
		_, err := m.DiscoverCameras(ctx)
		require.NoError(t, err)
		assert.Len(t, m.GetCameras(), 2)
	})

	t.Run("同じデバイスは二重に追加できない", func(t *testing.T) {
		_, err := m.AddCamera(ctx, DeviceConfig{Device: "/dev/video0"})
		require.Error(t, err)
	})

	t.Run("利用できないデバイスは追加できない", func(t *testing.T) {
		_, err := m.AddCamera(ctx, DeviceConfig{Device: "/dev/video9"})
		require.ErrorIs(t, err, ErrDeviceUnavailable)
	})
}

func TestManagerStaticCameras(t *testing.T) {
	ctx := context.Background()
	m := NewDefaultCameraManager(ManagerOptions{
		Defaults: Settings{Width: 640, Height: 480, FPS: 15},
		Static: []DeviceConfig{
			{ID: "front", Name: "前面", Type: DeviceTypeTest, Facing: FacingFront, Settings: Settings{Rotation: 270}},
		},
		Logger: zerolog.Nop(),
	})
	defer func() { _ = m.Stop(ctx) }()

	require.NoError(t, m.Start(ctx))

	cam, ok := m.GetCamera("front")
	require.True(t, ok)
	assert.Equal(t, "前面", cam.Name)
	assert.Equal(t, FacingFront, cam.Facing)
	assert.Equal(t, Settings{Width: 640, Height: 480, FPS: 15, Rotation: 270}, cam.Settings)

	// 返されたコピーを変更しても内部状態に影響しない
	cam.Name = "changed"
	again, _ := m.GetCamera("front")
	assert.Equal(t, "前面", again.Name)

	_, err := m.AddCamera(ctx, DeviceConfig{ID: "front", Type: DeviceTypeTest})
	require.Error(t, err)
}

func TestManagerStartStopCamera(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)
	require.NoError(t, m.Start(ctx))

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest, Name: "テスト"})
	require.NoError(t, err)

	frames, cancel, err := m.Subscribe(cam.ID)
	require.NoError(t, err)
	defer cancel()

	params, err := m.StartCamera(ctx, cam.ID, &Settings{Width: 300, Height: 250, FPS: 12, Rotation: 180})
	require.NoError(t, err)

	// 1.2倍以内で要求以上の352x288、フレームレートは最も近い10
	assert.Equal(t, Parameters{Size: negotiate.Size{Width: 352, Height: 288}, FPS: 10}, params)

	got, ok := m.GetCamera(cam.ID)
	require.True(t, ok)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, params, got.Applied)

	select {
	case f := <-frames:
		assert.Equal(t, 180, f.Rotation)
		assert.Equal(t, negotiate.Size{Width: 352, Height: 288}, f.Size)
	case <-time.After(2 * time.Second):
		t.Fatal("フレームが届きません")
	}

	latest, ok := m.LatestFrame(cam.ID)
	require.True(t, ok)
	assert.NotEmpty(t, latest.Data)

	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.ErrorIs(t, err, ErrAlreadyStreaming)

	caps, err := m.GetCapabilities(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTestResolutions, caps.Resolutions)

	require.NoError(t, m.StopCamera(ctx, cam.ID))
	got, _ = m.GetCamera(cam.ID)
	assert.Equal(t, StatusInactive, got.Status)
	assert.Equal(t, Parameters{}, got.Applied)

	// 停止済みのカメラを停止してもエラーにならない
	require.NoError(t, m.StopCamera(ctx, cam.ID))
}

func TestManagerCapabilitiesWhileInactive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest})
	require.NoError(t, err)

	caps, err := m.GetCapabilities(ctx, cam.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTestResolutions, caps.Resolutions)
	assert.Equal(t, DefaultTestFrameRates, caps.FrameRates)

	// 問い合わせ後はデバイスを解放しているので開始できる
	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.NoError(t, err)
}

func TestManagerUnknownCamera(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	_, err := m.StartCamera(ctx, "missing", nil)
	assert.ErrorIs(t, err, ErrCameraNotFound)
	assert.ErrorIs(t, m.StopCamera(ctx, "missing"), ErrCameraNotFound)
	assert.ErrorIs(t, m.RemoveCamera(ctx, "missing"), ErrCameraNotFound)

	_, err = m.GetCapabilities(ctx, "missing")
	assert.ErrorIs(t, err, ErrCameraNotFound)

	_, _, err = m.Subscribe("missing")
	assert.ErrorIs(t, err, ErrCameraNotFound)

	_, ok := m.LatestFrame("missing")
	assert.False(t, ok)
}

func TestManagerRemoveActiveCamera(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest})
	require.NoError(t, err)

	frames, cancel, err := m.Subscribe(cam.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.NoError(t, err)

	require.NoError(t, m.RemoveCamera(ctx, cam.ID))
	_, ok := m.GetCamera(cam.ID)
	assert.False(t, ok)

	// 削除で購読チャンネルは閉じられる
	require.Eventually(t, func() bool {
		select {
		case _, open := <-frames:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManagerNegotiationFailure(t *testing.T) {
	ctx := context.Background()

	factory := NewDeviceFactory(zerolog.Nop())
	factory.Register(DeviceTypeTest, func(_ DeviceConfig, _ zerolog.Logger) (Device, error) {
		return NewTestPatternDevice(nil, nil), nil
	})

	m := NewDefaultCameraManager(ManagerOptions{Factory: factory, Logger: zerolog.Nop()})
	defer func() { _ = m.Stop(ctx) }()

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest, Settings: Settings{Width: 640, Height: 480}})
	require.NoError(t, err)

	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.ErrorIs(t, err, negotiate.ErrNoMatch)

	got, _ := m.GetCamera(cam.ID)
	assert.Equal(t, StatusError, got.Status)
}

func TestManagerStreamEnd(t *testing.T) {
	ctx := context.Background()
	dev := NewTestPatternDevice(DefaultTestResolutions, DefaultTestFrameRates)

	factory := NewDeviceFactory(zerolog.Nop())
	factory.Register(DeviceTypeTest, func(_ DeviceConfig, _ zerolog.Logger) (Device, error) {
		return dev, nil
	})

	m := NewDefaultCameraManager(ManagerOptions{
		Factory:  factory,
		Defaults: Settings{Width: 320, Height: 240, FPS: 30},
		Logger:   zerolog.Nop(),
	})
	defer func() { _ = m.Stop(ctx) }()

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest})
	require.NoError(t, err)

	frames, cancel, err := m.Subscribe(cam.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.NoError(t, err)

	select {
	case <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("フレームが届きません")
	}

	dev.Interrupt(errors.New("capture process exited"))

	require.Eventually(t, func() bool {
		got, _ := m.GetCamera(cam.ID)
		return got.Status == StatusError
	}, 2*time.Second, 10*time.Millisecond)

	// 視聴中の購読は閉じられる
	require.Eventually(t, func() bool {
		select {
		case _, open := <-frames:
			return !open
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	got, _ := m.GetCamera(cam.ID)
	assert.Equal(t, Parameters{}, got.Applied)
	assert.NotZero(t, got.Frames)
	assert.False(t, dev.IsOpen())

	// カメラは残っていて、再び開始できる
	_, err = m.StartCamera(ctx, cam.ID, nil)
	require.NoError(t, err)
	got, _ = m.GetCamera(cam.ID)
	assert.Equal(t, StatusActive, got.Status)

	again, cancelAgain, err := m.Subscribe(cam.ID)
	require.NoError(t, err)
	defer cancelAgain()
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("再開後のフレームが届きません")
	}
}

func TestManagerFrameCount(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil)

	cam, err := m.AddCamera(ctx, DeviceConfig{Type: DeviceTypeTest})
	require.NoError(t, err)
	assert.Zero(t, cam.Frames)

	_, err = m.StartCamera(ctx, cam.ID, &Settings{Width: 176, Height: 144, FPS: 30})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, _ := m.GetCamera(cam.ID)
		return got.Frames >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cameras := m.GetCameras()
	require.Len(t, cameras, 1)
	assert.GreaterOrEqual(t, cameras[0].Frames, uint64(2))
}
