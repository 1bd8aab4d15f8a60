package camera

import (
	"context"
	"testing"

	"camnego/internal/negotiate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinuxDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewLinuxDiscovery()

	t.Run("存在しないデバイスは利用できない", func(t *testing.T) {
		assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/video999"))
	})

	t.Run("video以外のパスは利用できない", func(t *testing.T) {
		assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/null"))
		assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/video0x"))
	})

	t.Run("存在しないデバイスの情報取得はエラー", func(t *testing.T) {
		_, err := discovery.GetDeviceInfo(ctx, "/dev/video999")
		require.ErrorIs(t, err, ErrDeviceUnavailable)
	})
}

func TestBuildDeviceInfo(t *testing.T) {
	info := buildDeviceInfo("/dev/video2", parseCardType(sampleInfo), "uvcvideo", parseFormatList(sampleFormats))

	assert.Equal(t, 2, info.Index)
	assert.Equal(t, "Integrated Camera: Integrated C", info.Name)
	assert.Equal(t, FacingFront, info.Facing)
	assert.Equal(t, []string{"YUYV", "MJPG"}, info.Formats)
	assert.Equal(t, negotiate.Size{Width: 1280, Height: 720}, info.Resolutions[0])
	assert.Equal(t, []int{30, 15, 5, 24}, info.FrameRates)

	unnamed := buildDeviceInfo("/dev/video3", "", "uvcvideo", parseFormatList(""))
	assert.Equal(t, "カメラ 3", unnamed.Name)
	assert.Empty(t, unnamed.Resolutions)
}

func TestReadMounting(t *testing.T) {
	ctx := context.Background()

	t.Run("ドライバーの報告を名前からの推定より優先する", func(t *testing.T) {
		var calls []string
		d := &LinuxDiscovery{run: fakeRunner(map[string]string{
			ctrlOrientation:    "camera_orientation: 1\n",
			ctrlSensorRotation: "camera_sensor_rotation: 90\n",
		}, &calls)}

		info := buildDeviceInfo("/dev/video2", parseCardType(sampleInfo), "uvcvideo", parseFormatList(sampleFormats))
		require.Equal(t, FacingFront, info.Facing)

		d.readMounting(ctx, "/dev/video2").apply(info)
		assert.Equal(t, FacingBack, info.Facing)
		assert.Equal(t, 90, info.Orientation)
		assert.Equal(t, []string{
			"v4l2-ctl --device /dev/video2 --get-ctrl camera_orientation",
			"v4l2-ctl --device /dev/video2 --get-ctrl camera_sensor_rotation",
		}, calls)
	})

	t.Run("コントロールが無ければ名前から推定する", func(t *testing.T) {
		d := &LinuxDiscovery{run: fakeRunner(map[string]string{}, nil)}

		info := buildDeviceInfo("/dev/video2", parseCardType(sampleInfo), "uvcvideo", parseFormatList(sampleFormats))
		d.readMounting(ctx, "/dev/video2").apply(info)
		assert.Equal(t, FacingFront, info.Facing)
		assert.Equal(t, 0, info.Orientation)
	})

	t.Run("外付けで回転の報告なし", func(t *testing.T) {
		d := &LinuxDiscovery{run: fakeRunner(map[string]string{
			ctrlOrientation: "camera_orientation: 2\n",
		}, nil)}

		info := buildDeviceInfo("/dev/video4", "Rear Camera", "uvcvideo", parseFormatList(sampleFormats))
		d.readMounting(ctx, "/dev/video4").apply(info)
		assert.Equal(t, FacingExternal, info.Facing)
		assert.Equal(t, 0, info.Orientation)
	})
}

func TestParseControl(t *testing.T) {
	v, ok := parseControl("camera_sensor_rotation: 180\n", ctrlSensorRotation)
	require.True(t, ok)
	assert.Equal(t, 180, v)

	_, ok = parseControl("camera_orientation: 0\n", ctrlSensorRotation)
	assert.False(t, ok)

	_, ok = parseControl("camera_orientation: front\n", ctrlOrientation)
	assert.False(t, ok)
}

func TestOrientationFacing(t *testing.T) {
	assert.Equal(t, FacingFront, orientationFacing(0))
	assert.Equal(t, FacingBack, orientationFacing(1))
	assert.Equal(t, FacingExternal, orientationFacing(2))
	assert.Equal(t, FacingUnknown, orientationFacing(7))
}

func TestParseCardType(t *testing.T) {
	assert.Equal(t, "Integrated Camera: Integrated C", parseCardType(sampleInfo))
	assert.Equal(t, "", parseCardType("Driver name : uvcvideo"))
}

func TestGuessFacing(t *testing.T) {
	tests := []struct {
		name string
		want Facing
	}{
		{"Integrated Camera", FacingFront},
		{"FaceTime HD Camera", FacingFront},
		{"Rear Camera", FacingBack},
		{"HD Pro Webcam C920", FacingUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guessFacing(tt.name))
		})
	}
}

func TestExtractDeviceNumber(t *testing.T) {
	assert.Equal(t, 0, extractDeviceNumber("/dev/video0"))
	assert.Equal(t, 12, extractDeviceNumber("/dev/video12"))
	assert.Equal(t, 0, extractDeviceNumber("/dev/null"))
}

func TestHasCaptureFormat(t *testing.T) {
	assert.True(t, hasCaptureFormat(parseFormatList(sampleFormats)))
	assert.False(t, hasCaptureFormat(parseFormatList(`[0]: 'GREY' (8-bit Greyscale)`)))
}

func TestMockDiscovery(t *testing.T) {
	ctx := context.Background()
	mock := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})

	devices, err := mock.ScanDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/video0", "/dev/video1"}, devices)

	info, err := mock.GetDeviceInfo(ctx, "/dev/video1")
	require.NoError(t, err)
	assert.Equal(t, DefaultTestResolutions, info.Resolutions)

	// 返された情報を変更しても内部状態に影響しない
	info.Name = "changed"
	again, err := mock.GetDeviceInfo(ctx, "/dev/video1")
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again.Name)

	mock.AddDevice("/dev/video0")
	mock.RemoveDevice("/dev/video0")
	devices, err = mock.ScanDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/video1"}, devices)
	assert.False(t, mock.IsDeviceAvailable(ctx, "/dev/video0"))

	_, err = mock.GetDeviceInfo(ctx, "/dev/video0")
	require.ErrorIs(t, err, ErrDeviceUnavailable)
}
