package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/prabinpebam/wan22-runpod/config"
	"github.com/prabinpebam/wan22-runpod/internal/adapter/delivery"
	HTTPAdapter "github.com/prabinpebam/wan22-runpod/internal/adapter/http"
	"github.com/prabinpebam/wan22-runpod/internal/adapter/runpod"
	jsonstore "github.com/prabinpebam/wan22-runpod/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/prabinpebam/wan22-runpod/internal/adapter/storage/sqlite"
	"github.com/prabinpebam/wan22-runpod/internal/domain"
	"github.com/prabinpebam/wan22-runpod/internal/infrastructure/logger"
	"github.com/prabinpebam/wan22-runpod/internal/port"
	"github.com/prabinpebam/wan22-runpod/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting wan22 on port %d, storage=%s", cfg.Port, cfg.StorageDriver)

	var queueStore port.QueueStore
	var settingsStore port.SettingsStore
	switch cfg.StorageDriver {
	case "sqlite":
		store, err := sqlitestore.NewStore(cfg.DataDir)
		if err != nil {
			logger.Error.Printf("failed to open sqlite store: %v", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
		queueStore, settingsStore = store, store
	default:
		store, err := jsonstore.NewStore(cfg.DataDir)
		if err != nil {
			logger.Error.Printf("failed to open json store: %v", err)
			os.Exit(1)
		}
		queueStore, settingsStore = store, store
	}

	settingsSvc := service.NewSettingsService(settingsStore, cfg.CredentialSecret)
	if err := settingsSvc.Load(); err != nil {
		logger.Error.Printf("failed to load settings: %v", err)
		os.Exit(1)
	}

	// Environment seeds the API config only when nothing is saved yet.
	if !settingsSvc.APIConfig().Configured() && cfg.APIEndpoint != "" && cfg.APIKey != "" {
		seed := domain.APIConfig{Endpoint: cfg.APIEndpoint, APIKey: cfg.APIKey}
		if err := settingsSvc.SetAPIConfig(seed); err != nil {
			logger.Warn.Printf("failed to seed api config from environment: %v", err)
		}
	}

	sink, err := delivery.NewFileSink(cfg.OutputDir)
	if err != nil {
		logger.Error.Printf("failed to create output directory: %v", err)
		os.Exit(1)
	}

	client := runpod.NewClient(runpod.Options{Credentials: settingsSvc})
	eventBus := service.NewEventBus()

	engine := service.NewQueueEngine(client, queueStore, sink, eventBus, service.QueueOptions{
		PollInterval: cfg.PollInterval,
		MaxAttempts:  cfg.PollMaxAttempts,
		Retention:    cfg.Retention,
	})

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	if err := engine.Start(engineCtx); err != nil {
		logger.Error.Printf("failed to start queue engine: %v", err)
		os.Exit(1)
	}

	healthMon := service.NewHealthMonitor(client, eventBus, 30*time.Second)
	healthMon.Start(engineCtx)

	server := HTTPAdapter.NewServer(engine, settingsSvc, healthMon, eventBus)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server,
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 0, // SSE connections stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error.Printf("http shutdown error: %v", err)
		}

		// Stop poll loops; jobs resume from the persisted queue on the
		// next start.
		engineCancel()
		engine.Wait()

		logger.Info.Printf("shutdown complete")
	}()

	logger.Info.Printf("server listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error.Printf("server failed: %v", err)
		os.Exit(1)
	}
}
