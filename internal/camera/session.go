package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"camnego/internal/negotiate"

	"github.com/rs/zerolog"
)

// Session は1台のデバイスに対するキャプチャセッション
//
// デバイスを開いてからStopするまで、デバイスはこのセッションだけが使う。
type Session struct {
	device     Device
	negotiator *negotiate.Negotiator
	log        zerolog.Logger

	mu      sync.Mutex
	status  Status
	params  Parameters
	caps    Capabilities
	cancel  context.CancelFunc
	run     uint64 // Start毎に増える。古い配信からの終了通知を無視するため
	onEnd   func(error)
	seq     atomic.Uint64
	started time.Time
}

// NewSession は新しいSessionを作成する。negotiatorがnilの場合はObserverなしで交渉する
func NewSession(device Device, negotiator *negotiate.Negotiator, log zerolog.Logger) *Session {
	if negotiator == nil {
		negotiator = negotiate.New(nil)
	}
	return &Session{
		device:     device,
		negotiator: negotiator,
		log:        log,
		status:     StatusInactive,
	}
}

// Start はデバイスを開いて設定を交渉し、sinkへの配信を開始する
//
// 解像度が決まらない場合はデバイスを解放してエラーを返す。
// フレームレートが報告されない場合はデバイスの既定値のまま開始する。
func (s *Session) Start(ctx context.Context, settings Settings, sink FrameSink) (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusActive {
		return s.params, ErrAlreadyStreaming
	}

	s.log.Debug().
		Int("width", settings.Width).
		Int("height", settings.Height).
		Int("fps", settings.FPS).
		Int("rotation", settings.Rotation).
		Msg("セッションを開始します")

	if err := s.device.Open(ctx); err != nil {
		s.status = StatusError
		return Parameters{}, fmt.Errorf("デバイスのオープンに失敗: %w", err)
	}

	ins, err := negotiateDevice(ctx, s.device, s.negotiator, settings)
	if err != nil {
		s.release(ctx)
		s.status = StatusError
		return Parameters{}, err
	}
	s.caps = ins.Capabilities
	params := ins.Parameters

	if err := s.device.SetParameters(ctx, params); err != nil {
		s.release(ctx)
		s.status = StatusError
		return Parameters{}, fmt.Errorf("パラメータの適用に失敗: %w", err)
	}

	if params.FPS > 0 {
		s.log.Debug().Int("fps", params.FPS).Msg("フレームレートを設定しました")
	} else {
		s.log.Debug().Msg("フレームレートはデバイスの既定値です")
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.run++
	forward := &sessionSink{
		session:  s,
		run:      s.run,
		rotation: settings.Rotation,
		size:     params.Size,
		sink:     sink,
	}

	if err := s.device.StartStreaming(streamCtx, forward); err != nil {
		cancel()
		s.release(ctx)
		s.status = StatusError
		return Parameters{}, fmt.Errorf("配信の開始に失敗: %w", err)
	}

	s.cancel = cancel
	s.params = params
	s.status = StatusActive
	s.started = time.Now()

	s.log.Info().
		Stringer("size", params.Size).
		Int("fps", params.FPS).
		Msg("配信を開始しました")

	return params, nil
}

// Inspection はデバイスから得た対応一覧と交渉結果
type Inspection struct {
	Capabilities Capabilities
	Parameters   Parameters
	SizeRates    []int // Parameters.Sizeで使えるフレームレート
}

// negotiateDevice は開いたデバイスに対して解像度を決め、その解像度で使えるフレームレートを決める
//
// 配信の開始と一時的な問い合わせの両方がこの手順で交渉する。
func negotiateDevice(ctx context.Context, device Device, negotiator *negotiate.Negotiator, settings Settings) (Inspection, error) {
	var ins Inspection
	req := settings.Request()

	sizes, err := device.SupportedResolutions(ctx)
	if err != nil {
		return ins, fmt.Errorf("対応解像度の取得に失敗: %w", err)
	}
	ins.Capabilities.Resolutions = sizes

	size, err := negotiator.SelectResolution(req.Width, req.Height, sizes)
	if err != nil {
		return ins, fmt.Errorf("解像度の交渉に失敗: %w", err)
	}

	all, err := device.SupportedFrameRates(ctx)
	if err != nil {
		return ins, fmt.Errorf("対応フレームレートの取得に失敗: %w", err)
	}
	ins.Capabilities.FrameRates = all

	rates := all
	if sized, ok := device.(SizedFrameRater); ok {
		rates, err = sized.FrameRatesForSize(ctx, size)
		if err != nil {
			return ins, fmt.Errorf("解像度毎のフレームレートの取得に失敗: %w", err)
		}
	}
	ins.SizeRates = rates

	fps, err := negotiator.SelectFrameRate(req.FPS, rates)
	if err != nil && !errors.Is(err, negotiate.ErrNoChange) {
		return ins, fmt.Errorf("フレームレートの交渉に失敗: %w", err)
	}

	ins.Parameters = Parameters{Size: size, FPS: fps}
	return ins, nil
}

// Stop は配信を停止してデバイスを解放する。開始していない場合は何もしない
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusActive {
		s.log.Info().Msg("セッションは開始されていません")
		s.status = StatusInactive
		return nil
	}

	s.cancel()
	s.cancel = nil
	s.status = StatusInactive

	if err := s.device.Stop(ctx); err != nil {
		return fmt.Errorf("デバイスの停止に失敗: %w", err)
	}

	s.log.Info().
		Uint64("frames", s.seq.Load()).
		Dur("uptime", time.Since(s.started)).
		Msg("配信を停止しました")

	return nil
}

// release はエラー時にデバイスを解放する
func (s *Session) release(ctx context.Context) {
	if err := s.device.Stop(ctx); err != nil && !errors.Is(err, ErrNotOpen) {
		s.log.Warn().Err(err).Msg("デバイスの解放に失敗")
	}
}

// Status は現在の状態を返す
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Parameters は適用中のパラメータを返す
func (s *Session) Parameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Capabilities は最後の交渉でデバイスが報告した対応一覧を返す
func (s *Session) Capabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// Frames は開始からの配信フレーム数を返す
func (s *Session) Frames() uint64 {
	return s.seq.Load()
}

// OnStreamEnd はデバイス側で配信が終わったときに呼ぶ関数を設定する
// fnはセッションのロックの外で呼ばれる
func (s *Session) OnStreamEnd(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnd = fn
}

// streamEnded はデバイスを解放してセッションをエラー状態にする
func (s *Session) streamEnded(run uint64, cause error) {
	s.mu.Lock()
	if s.status != StatusActive || s.run != run {
		// 既に停止済みか、新しい配信が始まっている
		s.mu.Unlock()
		return
	}

	s.cancel()
	s.cancel = nil
	s.status = StatusError
	if err := s.device.Stop(context.Background()); err != nil && !errors.Is(err, ErrNotOpen) {
		s.log.Warn().Err(err).Msg("デバイスの解放に失敗")
	}
	onEnd := s.onEnd
	s.mu.Unlock()

	s.log.Error().
		Err(cause).
		Uint64("frames", s.seq.Load()).
		Dur("uptime", time.Since(s.started)).
		Msg("配信が予期せず終了しました")

	if onEnd != nil {
		onEnd(cause)
	}
}

// sessionSink はデバイスから届いたフレームに回転角と連番を付けて転送する
type sessionSink struct {
	session  *Session
	run      uint64
	rotation int
	size     negotiate.Size
	sink     FrameSink
}

func (f *sessionSink) PutFrame(frame Frame) {
	frame.Rotation = f.rotation
	frame.Sequence = f.session.seq.Add(1)
	if frame.Size == (negotiate.Size{}) {
		frame.Size = f.size
	}
	if frame.Timestamp.IsZero() {
		frame.Timestamp = time.Now()
	}
	f.sink.PutFrame(frame)
}

// EndStream はデバイスのキャプチャ用ゴルーチンから呼ばれる
// デバイスの停止はそのゴルーチンの終了を待つため、別のゴルーチンで処理する
func (f *sessionSink) EndStream(err error) {
	go f.session.streamEnded(f.run, err)
}

// Inspect はデバイスを一時的に開き、配信開始時と同じ手順で交渉して必ずデバイスを解放する
func Inspect(ctx context.Context, device Device, negotiator *negotiate.Negotiator, settings Settings) (ins Inspection, err error) {
	if negotiator == nil {
		negotiator = negotiate.New(nil)
	}

	if err := device.Open(ctx); err != nil {
		return Inspection{}, fmt.Errorf("デバイスのオープンに失敗: %w", err)
	}
	defer func() {
		if stopErr := device.Stop(ctx); stopErr != nil && err == nil {
			err = fmt.Errorf("デバイスの解放に失敗: %w", stopErr)
		}
	}()

	return negotiateDevice(ctx, device, negotiator, settings)
}

// Probe はデバイスを開いて要求に最も近い解像度を調べ、必ずデバイスを解放する
func Probe(ctx context.Context, device Device, negotiator *negotiate.Negotiator, width, height int) (negotiate.Size, error) {
	ins, err := Inspect(ctx, device, negotiator, Settings{Width: width, Height: height})
	if err != nil {
		return negotiate.Size{}, err
	}
	return ins.Parameters.Size, nil
}
