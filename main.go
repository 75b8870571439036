package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signal-meaning/voiceproxy/config"
	"github.com/signal-meaning/voiceproxy/logging"
	"github.com/signal-meaning/voiceproxy/server"
	"github.com/signal-meaning/voiceproxy/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// The logger is constructed once; its threshold never changes after
	// this point.
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.Debug)

	manager, err := session.NewManager(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create session manager: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go manager.StartCleanupRoutine(ctx)

	srv := server.New(cfg, manager, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
		log.Fatalf("Server error: %v", err)
	}

	logger.Info("server stopped")
}
