// Package logger はzerologによるログ出力を初期化し、モジュール毎のロガーを提供する
package logger

import (
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
)

// Config はログ出力の設定
//
//   - Output: 空（出力しない）, stderr, stdout
//   - Format: 空（端末ならカラー）, color, text, json
//   - Time:   空（タイムスタンプなし）, UNIXMS, UNIXMICRO, UNIXNANO, またはtime.Layout形式
//   - Level:  disabled, trace, debug, info, warn, error
//   - Modules: モジュール名毎のレベル上書き（例: camera: debug）
type Config struct {
	Output  string            `yaml:"output"`
	Format  string            `yaml:"format"`
	Time    string            `yaml:"time"`
	Level   string            `yaml:"level"`
	Modules map[string]string `yaml:"modules"`
}

// DefaultConfig はデフォルトのログ設定を返す
func DefaultConfig() Config {
	return Config{
		Output: "stderr",
		Level:  "info",
		Time:   zerolog.TimeFormatUnixMs,
	}
}

var (
	mu      sync.RWMutex
	root    = zerolog.Nop()
	modules map[string]string
)

// Init はcfgに従ってルートロガーを構築する
func Init(cfg Config) {
	Set(New(cfg), cfg.Modules)
}

// New はcfgに従ってロガーを作成する
func New(cfg Config) zerolog.Logger {
	var writer io.Writer

	switch cfg.Output {
	case "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		return zerolog.Nop()
	}

	return build(writer, cfg)
}

func build(writer io.Writer, cfg Config) zerolog.Logger {
	if cfg.Format != "json" {
		console := zerolog.ConsoleWriter{Out: writer}

		switch cfg.Format {
		case "text":
			console.NoColor = true
		case "color":
			console.NoColor = false
		default:
			console.NoColor = !isTerminal(writer)
		}

		if cfg.Time != "" {
			console.TimeFormat = "15:04:05.000"
		} else {
			console.PartsOrder = []string{
				zerolog.LevelFieldName,
				zerolog.CallerFieldName,
				zerolog.MessageFieldName,
			}
		}

		writer = console
	}

	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		lvl = zerolog.InfoLevel
	}

	log := zerolog.New(writer).Level(lvl)
	if cfg.Time != "" {
		zerolog.TimeFieldFormat = cfg.Time
		log = log.With().Timestamp().Logger()
	}
	return log
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Set はルートロガーとモジュール毎のレベルを差し替える
func Set(log zerolog.Logger, levels map[string]string) {
	mu.Lock()
	defer mu.Unlock()
	root = log
	modules = levels
}

// Root はルートロガーを返す
func Root() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Get はモジュール用のロガーを返す
func Get(module string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	log := root.With().Str("module", module).Logger()

	if s, ok := modules[module]; ok {
		lvl, err := zerolog.ParseLevel(s)
		if err == nil {
			return log.Level(lvl)
		}
		root.Warn().Err(err).Str("module", module).Msg("ログレベルの解析に失敗")
	}

	return log
}
