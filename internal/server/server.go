package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camnego/internal/camera"
	"camnego/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	manager    camera.Manager
	handler    *Handler
	engine     *gin.Engine
	httpServer *http.Server
	log        zerolog.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, manager camera.Manager, log zerolog.Logger) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(log))

	handler := NewHandler(cfg, manager, log)
	handler.Register(engine)

	return &Server{
		config:  cfg,
		manager: manager,
		handler: handler,
		engine:  engine,
		log:     log,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
}

// Handler はルーティング済みのhttp.Handlerを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start はカメラマネージャーとサーバーを起動し、停止要求まで待つ
func (s *Server) Start(ctx context.Context) error {
	if err := s.manager.Start(ctx); err != nil {
		return fmt.Errorf("カメラマネージャーの起動に失敗: %w", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.manager.Stop(context.Background())
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.log.Info().Str("addr", listener.Addr().String()).Msg("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		s.log.Info().Msg("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		s.log.Info().Stringer("signal", sig).Msg("シグナルを受信しました")
	case err := <-shutdownCh:
		_ = s.manager.Stop(context.Background())
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーとカメラをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.log.Info().Msg("サーバーをシャットダウンしています...")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// ストリーミング中の接続を先に終わらせる
	s.handler.closeStreams()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("サーバーのシャットダウンに失敗: %w", err))
	}
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("カメラの停止に失敗: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.log.Info().Msg("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はginのアクセスログをzerologへ書き出す
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
