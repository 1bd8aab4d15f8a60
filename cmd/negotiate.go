package main

import (
	"camnego/internal/camera"
	"camnego/internal/negotiate"
)

// NegotiateCmd は与えられた対応一覧に対して交渉する
type NegotiateCmd struct {
	Size  string `arg:"" help:"要求する解像度 (例: 1280x720)"`
	FPS   int    `help:"要求するフレームレート"`
	Sizes string `required:"" help:"対応解像度のカンマ区切りリスト (例: 1920x1080,1280x720)"`
	Rates []int  `help:"対応フレームレートのカンマ区切りリスト"`
}

// negotiateOutput は交渉結果の出力形式
type negotiateOutput struct {
	Requested negotiate.Request `json:"requested"`
	negotiate.Result
}

// Run は交渉結果をJSONで出力する
func (c *NegotiateCmd) Run(g *globals) error {
	log := initLogger()

	requested, err := negotiate.ParseSize(c.Size)
	if err != nil {
		return err
	}

	sizes, err := negotiate.ParseSizeList(c.Sizes)
	if err != nil {
		return err
	}

	n := negotiate.New(camera.NewLogObserver(log))
	req := negotiate.Request{Width: requested.Width, Height: requested.Height, FPS: c.FPS}

	result, err := n.Negotiate(req, sizes, c.Rates)
	if err != nil {
		return err
	}

	return g.printJSON(negotiateOutput{Requested: req, Result: result})
}
