package camera

import (
	"context"
	"time"

	"camnego/internal/negotiate"
)

// DeviceType はデバイスの種類を定義
type DeviceType string

const (
	// DeviceTypeV4L2 はV4L2（USBカメラ等）デバイスを表す
	DeviceTypeV4L2 DeviceType = "v4l2"
	// DeviceTypeTest はテストパターンを生成する仮想デバイスを表す
	DeviceTypeTest DeviceType = "test"
)

// Parameters はデバイスに適用するキャプチャパラメータ
type Parameters struct {
	Size negotiate.Size `json:"size"`
	FPS  int            `json:"fps"` // 0の場合はデバイスの既定値
}

// Frame はデバイスから届いた1フレーム
// Dataの中身（JPEG等）は解釈しない
type Frame struct {
	Data      []byte
	Size      negotiate.Size
	Rotation  int
	Sequence  uint64
	Timestamp time.Time
}

// FrameSink はフレームの受け取り先
//
// PutFrameはデバイスのキャプチャ用ゴルーチンから呼ばれる。
// 受け取ったDataは呼び出し後に再利用されないため保持してよい。
type FrameSink interface {
	PutFrame(Frame)
}

// StreamEndSink はデバイス側の理由で配信が終わったことも受け取るFrameSink
//
// ctxのキャンセルによる停止では呼ばれない。
type StreamEndSink interface {
	FrameSink
	EndStream(err error)
}

// endStream はsinkが対応していれば配信の終了を通知する
func endStream(sink FrameSink, err error) {
	if s, ok := sink.(StreamEndSink); ok {
		s.EndStream(err)
	}
}

// Device はキャプチャデバイスの操作を抽象化する
//
// Openしたデバイスは、Stopが呼ばれるまで開いたセッションが排他的に所有する。
type Device interface {
	// Open はデバイスを開く
	Open(ctx context.Context) error

	// SupportedResolutions は対応解像度をデバイスの列挙順で返す
	SupportedResolutions(ctx context.Context) ([]negotiate.Size, error)

	// SupportedFrameRates は対応フレームレートを返す。非対応の場合は空
	SupportedFrameRates(ctx context.Context) ([]int, error)

	// SetParameters はキャプチャパラメータを適用する
	SetParameters(ctx context.Context, params Parameters) error

	// StartStreaming はフレームのsinkへの配信を開始する
	StartStreaming(ctx context.Context, sink FrameSink) error

	// Stop は配信を停止してデバイスを解放する
	Stop(ctx context.Context) error
}

// SizedFrameRater は解像度毎に異なるフレームレートを報告できるデバイス
// Sessionは実装されていればSupportedFrameRatesの代わりにこちらを使う
type SizedFrameRater interface {
	FrameRatesForSize(ctx context.Context, size negotiate.Size) ([]int, error)
}
