package main

import (
	"context"
	"time"

	"camnego/internal/camera"
	"camnego/internal/negotiate"
)

// ProbeCmd はデバイスを一時的に開いて対応一覧を調べる
type ProbeCmd struct {
	Device  string        `arg:"" help:"デバイスパス (例: /dev/video0)。testでテストパターン"`
	Size    string        `help:"要求する解像度" default:"1280x720"`
	FPS     int           `help:"要求するフレームレート" default:"30"`
	Timeout time.Duration `help:"タイムアウト" default:"10s"`
}

// probeOutput はプローブ結果の出力形式
type probeOutput struct {
	Device      string            `json:"device"`
	Name        string            `json:"name,omitempty"`
	Facing      camera.Facing     `json:"facing,omitempty"`
	Formats     []string          `json:"formats,omitempty"`
	Resolutions []negotiate.Size  `json:"resolutions"`
	FrameRates  []int             `json:"frame_rates"`
	SizeRates   []int             `json:"size_frame_rates"` // 選ばれた解像度で使えるフレームレート
	Chosen      camera.Parameters `json:"chosen"`
}

// Run はデバイスの対応一覧と交渉結果をJSONで出力する
func (c *ProbeCmd) Run(g *globals) error {
	log := initLogger()

	requested, err := negotiate.ParseSize(c.Size)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	out := probeOutput{Device: c.Device}

	var device camera.Device
	if c.Device == string(camera.DeviceTypeTest) {
		device = camera.NewTestPatternDevice(camera.DefaultTestResolutions, camera.DefaultTestFrameRates)
	} else {
		info, err := camera.NewLinuxDiscovery().GetDeviceInfo(ctx, c.Device)
		if err != nil {
			return err
		}
		out.Name, out.Facing, out.Formats = info.Name, info.Facing, info.Formats
		device = camera.NewV4L2Device(c.Device, log)
	}

	n := negotiate.New(camera.NewLogObserver(log))

	// 配信開始と同じ手順で交渉し、必ず解放する
	ins, err := camera.Inspect(ctx, device, n, camera.Settings{
		Width:  requested.Width,
		Height: requested.Height,
		FPS:    c.FPS,
	})
	if err != nil {
		return err
	}

	out.Resolutions = ins.Capabilities.Resolutions
	out.FrameRates = ins.Capabilities.FrameRates
	out.SizeRates = ins.SizeRates
	out.Chosen = ins.Parameters

	return g.printJSON(out)
}
