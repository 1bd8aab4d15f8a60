// Package main はcamnegoのコマンドラインツールです
package main

import (
	"os"

	"github.com/alecthomas/kong"
)

var version = "v0.0.0"

// cli はコマンドライン定義
var cli struct {
	Version   kong.VersionFlag `help:"バージョンを表示"`
	LogLevel  string           `help:"ログレベル (trace, debug, info, warn, error)" default:"info" env:"LOG_LEVEL"`
	LogFormat string           `help:"ログ形式 (color, text, json)"`

	Serve     ServeCmd     `cmd:"" default:"1" help:"HTTPサーバーを起動する"`
	Negotiate NegotiateCmd `cmd:"" help:"対応一覧に対して設定を交渉し、結果をJSONで表示する"`
	Probe     ProbeCmd     `cmd:"" help:"デバイスの対応一覧と交渉結果を表示する"`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("camnego"),
		kong.Description("カメラの解像度・フレームレート交渉サーバー"),
		kong.UsageOnError(),
		kong.Vars{"version": version},
		kong.Bind(&globals{out: os.Stdout}),
	)
	ctx.FatalIfErrorf(ctx.Run())
}
