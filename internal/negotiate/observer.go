package negotiate

// Stage は解像度がどの段階で選ばれたかを表す
type Stage int

const (
	StageExact     Stage = iota + 1 // 完全一致
	StageNearAbove                  // 要求より少し大きい解像度
	StageFallback                   // 要求以下で最大、または最初の解像度
)

func (s Stage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageNearAbove:
		return "near_above"
	case StageFallback:
		return "fallback"
	default:
		return "none"
	}
}

// MarshalText はStageを文字列として書き出す
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind は交渉イベントの種類
type EventKind string

const (
	EventResolutionRequested EventKind = "resolution_requested"
	EventResolutionSelected  EventKind = "resolution_selected"
	EventResolutionNoMatch   EventKind = "resolution_no_match"
	EventFrameRateSelected   EventKind = "frame_rate_selected"
	EventFrameRateSkipped    EventKind = "frame_rate_skipped"
)

// Event は交渉中に発生した出来事
type Event struct {
	Kind EventKind

	// 解像度関連（Requestedは正規化後の値）
	Requested Size
	Chosen    Size
	Stage     Stage
	Supported []Size

	// フレームレート関連
	RequestedFPS int
	ChosenFPS    int
	SupportedFPS []int
}

// Observer は交渉イベントを受け取る
//
// Observeは交渉を行ったゴルーチンから同期的に呼ばれる。
// Supported/SupportedFPSは呼び出し元のスライスそのものなので変更してはならない。
type Observer interface {
	Observe(Event)
}

// ObserverFunc は関数をObserverとして扱うためのアダプタ
type ObserverFunc func(Event)

// Observe はfを呼び出す
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
