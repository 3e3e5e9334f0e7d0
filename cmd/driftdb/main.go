package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"driftdb/internal/config"
	"driftdb/internal/ids"
	"driftdb/internal/logging"
	"driftdb/internal/metrics"
	"driftdb/internal/store"
	"driftdb/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	registry := metrics.NewRegistry()
	dir := store.NewDirectory(ids.New())

	httpServer := transport.NewServer(cfg, logger, dir, registry)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	httpServer.Start(errCh)

	var diagServer *transport.DiagnosticsServer
	if cfg.Metrics.Enabled {
		diagServer = transport.NewDiagnosticsServer(cfg.Metrics, dir, registry)
		diagServer.Start(errCh)
		logger.Info("diagnostics server listening", zap.String("addr", cfg.Metrics.ListenAddr))
	}

	roomGaugeDone := make(chan struct{})
	go sampleRoomCount(ctx, dir, registry, roomGaugeDone)
	go registry.SampleSystem(ctx, 5*time.Second)

	fatal := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			fatal = true
		}
		stop()
	}

	<-roomGaugeDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", zap.Error(err))
	}
	if diagServer != nil {
		if err := diagServer.Stop(shutdownCtx); err != nil {
			logger.Warn("diagnostics server shutdown error", zap.Error(err))
		}
	}

	if fatal {
		logger.Error("shutdown complete after fatal server error")
		logger.Sync() // nolint:errcheck
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func sampleRoomCount(ctx context.Context, dir *store.Directory, registry *metrics.Registry, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.Rooms.OpenRooms.Set(float64(dir.RoomCount()))
		}
	}
}
