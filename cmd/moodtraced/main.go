// moodtraced serves the mood record store over HTTP with a websocket
// realtime feed. Configuration comes from an optional YAML file plus
// MOODTRACE_* environment overrides.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/moodtrace/moodtrace/internal/config"
	"github.com/moodtrace/moodtrace/internal/httpapi"
	"github.com/moodtrace/moodtrace/internal/moodtrace"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("MOODTRACE_CONFIG")), "path to YAML config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	storeOpts := moodtrace.StoreOptions{Logger: logger}
	if dsn := strings.TrimSpace(cfg.StateBackendDSN); dsn != "" {
		backend, err := moodtrace.BuildStateBackendFromDSN(dsn)
		if err != nil {
			logger.Fatal("failed to initialize state backend", zap.String("dsn", dsn), zap.Error(err))
		}
		storeOpts.StateBackend = backend
	} else {
		storeOpts.StateFile = cfg.StateFile
	}

	store := moodtrace.NewRecordStoreWithOptions(storeOpts)
	bus := moodtrace.NewEventBus(logger)

	if cfg.WatchStateFile && strings.TrimSpace(cfg.StateFile) != "" {
		watcher, err := moodtrace.NewWatcher(store, bus, cfg.StateFile, logger)
		if err != nil {
			logger.Fatal("failed to watch state file", zap.String("path", cfg.StateFile), zap.Error(err))
		}
		defer watcher.Close()
	}

	apiServer := httpapi.NewServerWithConfig(store, bus, httpapi.ServerConfig{
		AuthToken:       cfg.AuthToken,
		RateLimitMax:    cfg.RateLimitPerMinute,
		RateLimitWindow: time.Minute,
		Logger:          logger,
	})
	defer apiServer.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("moodtraced listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server failed", zap.Error(err))
	}
}
