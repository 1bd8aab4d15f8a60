package main

import (
	"encoding/json"
	"io"

	"camnego/internal/logger"

	"github.com/rs/zerolog"
)

// globals はサブコマンド間で共有する出力先
type globals struct {
	out io.Writer
}

// loggerConfig はフラグからログ設定を作る
func loggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = cli.LogLevel
	cfg.Format = cli.LogFormat
	return cfg
}

// initLogger はフラグに従ってロガーを初期化し、ルートロガーを返す
func initLogger() zerolog.Logger {
	logger.Init(loggerConfig())
	return logger.Root()
}

// printJSON は結果を整形済みJSONで書き出す
func (g *globals) printJSON(v any) error {
	enc := json.NewEncoder(g.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
