package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"cashcompass/internal/amqp"
	"cashcompass/internal/config"
	applog "cashcompass/internal/log"
	"cashcompass/internal/mirror"
	"cashcompass/internal/mirror/memory"
	"cashcompass/internal/mirror/rtdb"
	"cashcompass/internal/services"
	"cashcompass/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Level: slog.LevelInfo, Component: "worker"})
	applog.SetDefault(logger)

	logger.Info("Starting cashcompass-worker")

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var remote mirror.Mirror
	switch cfg.MirrorBackend {
	case "rtdb":
		client, err := rtdb.NewFromEnv(ctx)
		if err != nil {
			logger.Error("Failed to initialize Firebase RTDB client", "error", err)
			os.Exit(1)
		}
		remote = client
		logger.Info("Initialized Firebase RTDB mirror", "database_url", cfg.FirebaseDatabaseURL)
	default:
		remote = memory.New()
		logger.Warn("Using in-memory mirror backend, remote data will not survive restarts")
	}

	procCfg := services.DefaultMirrorProcessorConfig()
	procCfg.PollInterval = cfg.SyncInterval
	procCfg.BatchSize = cfg.SyncBatchSize
	processor := services.NewMirrorProcessor(repo, remote, procCfg)

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start mirror processor", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// AMQP nudges shortcut the poll latency; the poll loop alone is enough
	// for correctness, so a missing broker only degrades freshness.
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, relying on periodic sweep only", "error", err)
		} else {
			defer amqpClient.Close()
			g.Go(func() error {
				err := amqpClient.ConsumeMirrorOps(gctx, func(msg *amqp.MirrorOpMessage) error {
					return processor.ProcessOne(gctx, msg.QueueID)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
	} else {
		logger.Info("AMQP disabled, relying on periodic sweep only")
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Shutting down worker...")
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Warn("Mirror processor shutdown timed out", "error", err)
	}
	logger.Info("Worker shutdown complete")
}
