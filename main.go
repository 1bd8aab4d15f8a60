package main

import (
	"context"
	"os"

	"camnego/internal/camera"
	"camnego/internal/config"
	"camnego/internal/logger"
	"camnego/internal/server"

	"github.com/gin-gonic/gin"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load("camnego.yaml")
	if err != nil {
		l := logger.New(logger.DefaultConfig())
		l.Fatal().Err(err).Msg("設定の読み込みに失敗しました")
	}

	logger.Init(cfg.Log)
	gin.SetMode(gin.ReleaseMode)

	// カメラマネージャーを作成
	manager := camera.NewDefaultCameraManager(camera.ManagerOptions{
		Discovery:     camera.NewLinuxDiscovery(),
		Defaults:      cfg.DefaultSettings(),
		Static:        cfg.DeviceConfigs(),
		AutoDiscovery: cfg.Camera.AutoDiscovery,
		ScanInterval:  cfg.Camera.ScanInterval,
		Logger:        logger.Get("camera"),
	})

	// サーバーを作成
	srv := server.New(cfg, manager, logger.Get("server"))

	// サーバーを起動
	if err := srv.Start(context.Background()); err != nil {
		l := logger.Root()
		l.Error().Err(err).Msg("サーバーの起動に失敗しました")
		os.Exit(1)
	}
}
