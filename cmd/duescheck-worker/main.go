package main

import (
	"context"
	"errors"
	"os"
	"time"

	"duescheck/internal/amqp"
	"duescheck/internal/backend"
	"duescheck/internal/cli"
	"duescheck/internal/log"
	"duescheck/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting duescheck-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer sqliteRepo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	source, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize data backend", log.FieldError, err)
		os.Exit(1)
	}
	if source.Cleanup != nil {
		defer source.Cleanup()
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(sqliteRepo, source.Backend, cfg.SyncBatchSize)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", log.FieldError, err)
	}

	go syncWorker.RunBackfill(ctx, cfg.SyncInterval)

	go func() {
		if err := amqpClient.ConsumeSearchLog(ctx, syncWorker.HandleSyncMessage); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", log.FieldError, err)
		}
	}()

	logger.Info("Worker running",
		"backend", cfg.DataBackend,
		"sync_interval", cfg.SyncInterval,
		"batch_size", cfg.SyncBatchSize)
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
