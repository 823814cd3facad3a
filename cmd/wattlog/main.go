package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/wattlog/wattlog/pkg/config"
	"github.com/wattlog/wattlog/pkg/goals"
	"github.com/wattlog/wattlog/pkg/log"
	"github.com/wattlog/wattlog/pkg/metrics"
	"github.com/wattlog/wattlog/pkg/notify"
	"github.com/wattlog/wattlog/pkg/rollover"
	"github.com/wattlog/wattlog/pkg/server"
	"github.com/wattlog/wattlog/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	cfg := config.Configured()
	n := notify.Configured()
	tracker := goals.Configured(s, n)
	ctrl := rollover.Configured(s, cfg, tracker)

	// init server
	srv := server.Configured(s, cfg, n, tracker, ctrl)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	log.SetDefaultLogLevel(level)
	slog.SetDefault(log.Default())
	slog.Debug("logger configured", slog.String("level", level.String()))

	metrics.Init()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	// the rollover scheduler stops with the server
	rolloverDone := make(chan struct{})
	go func() {
		defer close(rolloverDone)
		if err := ctrl.Run(ctx); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "rollover scheduler failed", "error", err)
			cancel()
		}
	}()

	// Run will block until context is canceled or error happens
	err := srv.Run(ctx)
	cancel()
	<-rolloverDone
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
