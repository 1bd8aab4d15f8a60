package negotiate

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch はサポートされる解像度が一つも無いことを表す
	ErrNoMatch = errors.New("一致する解像度がありません")

	// ErrNoChange はサポートされるフレームレートが報告されず、デバイスの既定値のままであることを表す
	ErrNoChange = errors.New("フレームレートは変更されません")

	// ErrInvalidSize は要求された解像度が不正であることを表す
	ErrInvalidSize = errors.New("無効な解像度")
)

// nearAboveTolerance は「少し大きい」とみなす上限の倍率
// QVGAを要求された場合にCIFを選べる程度の幅を持たせている
const nearAboveTolerance = 1.2

// Negotiator は交渉処理と、そのイベントを通知するObserverを保持する
type Negotiator struct {
	observer Observer
}

// New は新しいNegotiatorを作成する。observerがnilの場合はイベントを破棄する
func New(observer Observer) *Negotiator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Negotiator{observer: observer}
}

var defaultNegotiator = New(nil)

// SelectResolution はObserverなしで解像度を選択する
func SelectResolution(requestedW, requestedH int, supported []Size) (Size, error) {
	return defaultNegotiator.SelectResolution(requestedW, requestedH, supported)
}

// SelectFrameRate はObserverなしでフレームレートを選択する
func SelectFrameRate(requestedFPS int, supported []int) (int, error) {
	return defaultNegotiator.SelectFrameRate(requestedFPS, supported)
}

// SelectResolution はsupportedの中から要求に最も合う解像度を返す
//
// 戻り値は常に横長の向き。縦長が必要な呼び出し元はSize.Portraitで入れ替えること。
func (n *Negotiator) SelectResolution(requestedW, requestedH int, supported []Size) (Size, error) {
	size, _, err := n.selectResolution(requestedW, requestedH, supported)
	return size, err
}

func (n *Negotiator) selectResolution(requestedW, requestedH int, supported []Size) (Size, Stage, error) {
	if requestedW <= 0 || requestedH <= 0 {
		return Size{}, 0, fmt.Errorf("%w: %dx%d", ErrInvalidSize, requestedW, requestedH)
	}

	// デバイスは横長の解像度しか列挙しないため向きを揃える
	r := Size{Width: requestedW, Height: requestedH}.Landscape()

	n.observer.Observe(Event{
		Kind:      EventResolutionRequested,
		Requested: r,
		Supported: supported,
	})

	if len(supported) == 0 {
		n.observer.Observe(Event{Kind: EventResolutionNoMatch, Requested: r})
		return Size{}, 0, ErrNoMatch
	}

	chosen, stage := pickResolution(r, supported)

	n.observer.Observe(Event{
		Kind:      EventResolutionSelected,
		Requested: r,
		Chosen:    chosen,
		Stage:     stage,
		Supported: supported,
	})

	return chosen, stage, nil
}

// pickResolution は正規化済みの要求rに対して選択を行う。supportedは空でないこと
func pickResolution(r Size, supported []Size) (Size, Stage) {
	for _, s := range supported {
		if s == r {
			return s, StageExact
		}
	}

	maxW := float64(r.Width) * nearAboveTolerance
	maxH := float64(r.Height) * nearAboveTolerance
	for _, s := range supported {
		if s.Width < r.Width || s.Height < r.Height {
			continue
		}
		if float64(s.Width) <= maxW && float64(s.Height) <= maxH {
			return s, StageNearAbove
		}
	}

	// 最初に列挙されたものを起点に、要求以下で両辺とも大きいものがあれば置き換える
	candidate := supported[0]
	for _, s := range supported {
		if s.Width > r.Width || s.Height > r.Height {
			continue
		}
		if s.Width > candidate.Width && s.Height > candidate.Height {
			candidate = s
		}
	}
	return candidate, StageFallback
}

// SelectFrameRate はsupportedの中から要求に最も近いフレームレートを返す
//
// supportedが空の場合はErrNoChangeを返す。呼び出し元はデバイスの既定値を使うこと。
func (n *Negotiator) SelectFrameRate(requestedFPS int, supported []int) (int, error) {
	if len(supported) == 0 {
		n.observer.Observe(Event{Kind: EventFrameRateSkipped, RequestedFPS: requestedFPS})
		return 0, ErrNoChange
	}

	chosen := supported[0]
	nearest := -1 // 未設定
	for _, fps := range supported {
		diff := abs(fps - requestedFPS)
		if nearest < 0 || diff < nearest {
			nearest = diff
			chosen = fps
		}
	}

	n.observer.Observe(Event{
		Kind:         EventFrameRateSelected,
		RequestedFPS: requestedFPS,
		ChosenFPS:    chosen,
		SupportedFPS: supported,
	})

	return chosen, nil
}

// Request は交渉の要求値
type Request struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	FPS    int `json:"fps"`
}

// Result は交渉結果
type Result struct {
	Size  Size  `json:"size"`
	Stage Stage `json:"stage"`

	// FPSはFPSAppliedがfalseの場合は0（デバイスの既定値を使う）
	FPS        int  `json:"fps"`
	FPSApplied bool `json:"fps_applied"`
}

// Negotiate は解像度、フレームレートの順に交渉する
//
// 解像度が決まらない場合はエラーを返す。フレームレートが無いことはエラーにしない。
func (n *Negotiator) Negotiate(req Request, sizes []Size, rates []int) (Result, error) {
	size, stage, err := n.selectResolution(req.Width, req.Height, sizes)
	if err != nil {
		return Result{}, err
	}

	result := Result{Size: size, Stage: stage}

	fps, err := n.SelectFrameRate(req.FPS, rates)
	switch {
	case err == nil:
		result.FPS = fps
		result.FPSApplied = true
	case errors.Is(err, ErrNoChange):
	default:
		return Result{}, err
	}

	return result, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
