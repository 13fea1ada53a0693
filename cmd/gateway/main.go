// API Gatewayサービスのエントリポイント。
// セキュリティヘッダー、CORS、レート制限、JWT認証を適用し、
// パス接頭辞に応じてバックエンドへリクエストを転送する。
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/nao1215/edgegate/internal/config"
	"github.com/nao1215/edgegate/internal/gateway"
	"github.com/nao1215/edgegate/pkg/logging"
	"github.com/nao1215/edgegate/pkg/tracing"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run はゲートウェイを起動し、終了コードを返す。
func run() int {
	// .envが無いのは正常
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, ".envの読み込みに失敗: %v\n", err)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "設定の読み込みに失敗: %v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Development())
	if err != nil {
		fmt.Fprintf(os.Stderr, "ロガーの初期化に失敗: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(tracing.Options{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		logger.Error("トレーサーの初期化に失敗しました", zap.Error(err))
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("トレーサーの停止に失敗しました", zap.Error(err))
		}
	}()

	server, err := gateway.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Error("Gatewayサーバーの初期化に失敗しました", zap.Error(err))
		return 1
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("Gatewayサービスが異常終了しました", zap.Error(err))
		return 1
	}
	return 0
}
