package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"camnego/internal/negotiate"
)

// テストパターンデバイスの既定の対応一覧
var (
	DefaultTestResolutions = []negotiate.Size{
		{Width: 1280, Height: 720},
		{Width: 640, Height: 480},
		{Width: 352, Height: 288},
		{Width: 320, Height: 240},
		{Width: 176, Height: 144},
	}
	DefaultTestFrameRates = []int{5, 10, 15, 30}
)

// defaultTestFPS はフレームレートが適用されなかった場合の生成間隔
const defaultTestFPS = 15

// TestPatternDevice はグラデーション画像をJPEGで生成する仮想デバイス
// 実機が無い環境での動作確認とテストに使う
type TestPatternDevice struct {
	resolutions []negotiate.Size
	frameRates  []int

	mu     sync.Mutex
	open   bool
	params Parameters
	wg     sync.WaitGroup
	cancel context.CancelFunc
	end    chan error

	// テスト制御用
	failOpen       error
	failParameters error
}

// NewTestPatternDevice は新しいTestPatternDeviceを作成する
// resolutionsが空の場合は解像度の交渉に失敗するデバイスになる
func NewTestPatternDevice(resolutions []negotiate.Size, frameRates []int) *TestPatternDevice {
	return &TestPatternDevice{
		resolutions: append([]negotiate.Size(nil), resolutions...),
		frameRates:  append([]int(nil), frameRates...),
	}
}

// Open はデバイスを開く
func (d *TestPatternDevice) Open(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failOpen != nil {
		return d.failOpen
	}
	if d.open {
		return ErrDeviceBusy
	}
	d.open = true
	d.params = Parameters{}
	return nil
}

// SupportedResolutions は対応解像度を返す
func (d *TestPatternDevice) SupportedResolutions(_ context.Context) ([]negotiate.Size, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrNotOpen
	}
	return append([]negotiate.Size(nil), d.resolutions...), nil
}

// SupportedFrameRates は対応フレームレートを返す
func (d *TestPatternDevice) SupportedFrameRates(_ context.Context) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrNotOpen
	}
	return append([]int(nil), d.frameRates...), nil
}

// SetParameters はパラメータを保存する
func (d *TestPatternDevice) SetParameters(_ context.Context, params Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	if d.failParameters != nil {
		return d.failParameters
	}
	if !params.Size.Valid() {
		return fmt.Errorf("%w: %s", negotiate.ErrInvalidSize, params.Size)
	}
	d.params = params
	return nil
}

// StartStreaming はフレーム生成を開始する
func (d *TestPatternDevice) StartStreaming(ctx context.Context, sink FrameSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	if d.cancel != nil {
		return ErrAlreadyStreaming
	}

	fps := d.params.FPS
	if fps <= 0 {
		fps = defaultTestFPS
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.end = make(chan error, 1)

	d.wg.Add(1)
	go d.generate(ctx, d.params.Size, time.Second/time.Duration(fps), sink, d.end)

	return nil
}

// generate は指定間隔でフレームを生成する
func (d *TestPatternDevice) generate(ctx context.Context, size negotiate.Size, interval time.Duration, sink FrameSink, end <-chan error) {
	defer d.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var n int
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-end:
			endStream(sink, err)
			return
		case <-ticker.C:
			data, err := encodePattern(size, n)
			if err != nil {
				return
			}
			n++
			sink.PutFrame(Frame{Data: data, Size: size, Timestamp: time.Now()})
		}
	}
}

// Stop は生成を停止してデバイスを閉じる
func (d *TestPatternDevice) Stop(_ context.Context) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrNotOpen
	}
	cancel := d.cancel
	d.cancel = nil
	d.end = nil
	d.open = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	return nil
}

// IsOpen はデバイスが開かれているかを返す
func (d *TestPatternDevice) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

// AppliedParameters は最後に適用されたパラメータを返す
func (d *TestPatternDevice) AppliedParameters() Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Interrupt はテスト用に、停止要求なしで配信が終わった状態を作る
func (d *TestPatternDevice) Interrupt(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.end == nil {
		return
	}
	select {
	case d.end <- err:
	default:
	}
}

// SetFailOpen はテスト用にOpenの失敗を設定する
func (d *TestPatternDevice) SetFailOpen(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failOpen = err
}

// SetFailParameters はテスト用にSetParametersの失敗を設定する
func (d *TestPatternDevice) SetFailParameters(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failParameters = err
}

// encodePattern はフレーム番号に応じて流れるグラデーションを生成する
func encodePattern(size negotiate.Size, n int) ([]byte, error) {
	if !size.Valid() {
		return nil, errors.New("解像度が設定されていません")
	}

	img := image.NewYCbCr(image.Rect(0, 0, size.Width, size.Height), image.YCbCrSubsampleRatio420)
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.Y[img.YOffset(x, y)] = uint8((x + y + n*4) % 256)
		}
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
