package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"cashcompass/internal/amqp"
	"cashcompass/internal/config"
	apphttp "cashcompass/internal/http"
	applog "cashcompass/internal/log"
	"cashcompass/internal/services"
	"cashcompass/internal/settings"
	"cashcompass/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "api"})
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	var settingsOpts []settings.Option
	if cfg.LegacySettingsReads {
		settingsOpts = append(settingsOpts, settings.WithLegacyGlobalReads())
		logger.Warn("Legacy global settings reads enabled")
	}
	settingsStore := settings.NewStore(repo.DB(), settingsOpts...)

	// The AMQP nudge is an optimization; the worker's periodic sweep covers
	// for a missing broker, so a failed connection is not fatal here.
	var nudger services.MirrorNudger
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, mirror nudges disabled", "error", err)
		} else {
			defer amqpClient.Close()
			nudger = amqpClient
			logger.Info("AMQP nudges enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(
		":"+cfg.Port,
		services.NewUserService(repo),
		services.NewExpenseService(repo, nudger),
		settingsStore,
		repo,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting cashcompass server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
