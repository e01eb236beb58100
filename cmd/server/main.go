// Package main implements the stream engine's process entry point.
//
// Architecture follows the layered approach:
//   - Foundation: configuration and logging
//   - Metadata: Postgres-backed store, migrated on startup
//   - Subsystems: Media Pipeline Graph, Recording Subsystem, WebRTC
//     Session Manager, HLS Packager, Schedule Evaluator
//   - Health: HTTP liveness/readiness endpoints for container orchestration
//
// The HTTP/WebSocket control-plane gateway is out of scope (spec §1)
// and is expected to run as a separate process driving the subsystems
// above through their exported Go operations; this binary only owns
// their lifecycle.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/config"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/engine"
	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

func main() {
	configPath := "config/default.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	configManager, err := config.NewManager(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	cfg := configManager.Current()

	if err := logging.ConfigureGlobalLogging(&logging.LoggingConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		FileEnabled:    cfg.Logging.FileEnabled,
		FilePath:       cfg.Logging.FilePath,
		MaxFileSize:    cfg.Logging.MaxFileSizeMB,
		BackupCount:    cfg.Logging.BackupCount,
		ConsoleEnabled: cfg.Logging.ConsoleEnabled,
	}); err != nil {
		log.Fatalf("failed to configure logging: %v", err)
	}
	logger := logging.GetLogger("engine")
	logger.Info("starting stream engine")

	if err := configManager.WatchForChanges(); err != nil {
		logger.WithError(err).Warn("configuration hot reload disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct engine")
	}

	if err := eng.Start(ctx); err != nil {
		logger.WithError(err).Fatal("failed to start engine")
	}
	logger.Info("stream engine started")

	<-ctx.Done()
	logger.Info("received shutdown signal, stopping engine")

	if err := eng.Stop(); err != nil {
		logger.WithError(err).Error("engine did not stop cleanly")
	}
	if err := configManager.Close(); err != nil {
		logger.WithError(err).Warn("configuration watcher did not stop cleanly")
	}

	logger.Info("stream engine stopped")
}
