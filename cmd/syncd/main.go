// cmd/syncd — 转录同步守护进程: 订阅后端推送, 维护转录状态, 提供 HTTP 面板。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/multi-agent/transcript-sync/internal/app"
	"github.com/multi-agent/transcript-sync/internal/config"
	"github.com/multi-agent/transcript-sync/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.LoadWithFile()
	if err != nil {
		logger.Fatal("config load failed", logger.FieldError, err)
	}
	logger.Init(cfg.LogEnv)
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", logger.FieldError, err)
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("startup failed", logger.FieldError, err)
	}
	defer a.Close()

	logger.Info("syncd starting",
		logger.FieldURL, cfg.BackendURL,
		logger.FieldTransport, cfg.StreamTransport,
		logger.FieldProjectID, cfg.ProjectID,
	)
	a.RestoreSession(ctx)

	if err := a.Run(ctx, cfg.ListenAddr); err != nil {
		a.Close()
		logger.Fatal("syncd stopped with error", logger.FieldError, err)
	}
	logger.Info("shutting down")
}
