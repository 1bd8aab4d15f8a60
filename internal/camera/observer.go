package camera

import (
	"camnego/internal/negotiate"

	"github.com/rs/zerolog"
)

// NewLogObserver は交渉イベントをlogへ書き出すObserverを返す
func NewLogObserver(log zerolog.Logger) negotiate.Observer {
	return negotiate.ObserverFunc(func(e negotiate.Event) {
		switch e.Kind {
		case negotiate.EventResolutionRequested:
			arr := zerolog.Arr()
			for _, s := range e.Supported {
				arr.Str(s.String())
			}
			log.Debug().
				Stringer("requested", e.Requested).
				Array("supported", arr).
				Msg("解像度を交渉します")

		case negotiate.EventResolutionSelected:
			ev := log.Debug()
			if e.Stage == negotiate.StageFallback {
				ev = log.Info()
			}
			ev.Stringer("requested", e.Requested).
				Stringer("chosen", e.Chosen).
				Stringer("stage", e.Stage).
				Msg("解像度を選択しました")

		case negotiate.EventResolutionNoMatch:
			log.Warn().
				Stringer("requested", e.Requested).
				Msg("対応解像度がありません")

		case negotiate.EventFrameRateSelected:
			log.Debug().
				Int("requested", e.RequestedFPS).
				Int("chosen", e.ChosenFPS).
				Ints("supported", e.SupportedFPS).
				Msg("フレームレートを選択しました")

		case negotiate.EventFrameRateSkipped:
			log.Debug().
				Int("requested", e.RequestedFPS).
				Msg("フレームレートはデバイスの既定値を使います")
		}
	})
}
