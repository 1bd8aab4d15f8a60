package main

import (
	"context"

	"camnego/internal/camera"
	"camnego/internal/config"
	"camnego/internal/logger"
	"camnego/internal/server"

	"github.com/gin-gonic/gin"
)

// ServeCmd はHTTPサーバーを起動する
type ServeCmd struct {
	Config      []string `short:"c" help:"設定ファイル (後のファイルが優先)" default:"camnego.yaml" type:"path"`
	Host        string   `help:"サーバーのホスト (設定ファイルより優先)"`
	Port        int      `short:"p" help:"サーバーのポート (設定ファイルより優先)"`
	NoDiscovery bool     `help:"デバイスの自動検出を無効にする"`
}

// Run はサーバーを起動し、停止するまで待つ
func (c *ServeCmd) Run(_ *globals) error {
	cfg, err := config.Load(c.Config...)
	if err != nil {
		return err
	}

	// コマンドラインオプションで設定を上書き
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// 明示されたフラグだけを設定ファイルの値に重ねる
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.LogLevel != "info" {
		cfg.Log.Level = cli.LogLevel
	}
	logger.Init(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	opts := camera.ManagerOptions{
		Defaults:      cfg.DefaultSettings(),
		Static:        cfg.DeviceConfigs(),
		AutoDiscovery: cfg.Camera.AutoDiscovery,
		ScanInterval:  cfg.Camera.ScanInterval,
		Logger:        logger.Get("camera"),
	}
	if !c.NoDiscovery {
		opts.Discovery = camera.NewLinuxDiscovery()
	}

	log := logger.Get("server")
	log.Info().Str("addr", cfg.ServerAddress()).Str("version", version).Msg("camnego サーバーを起動します")

	srv := server.New(cfg, camera.NewDefaultCameraManager(opts), log)
	return srv.Start(context.Background())
}
