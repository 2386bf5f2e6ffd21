package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"time"

	"duescheck/internal/amqp"
	"duescheck/internal/auth"
	"duescheck/internal/backend"
	"duescheck/internal/cache"
	"duescheck/internal/cli"
	apphttp "duescheck/internal/http"
	"duescheck/internal/log"
	"duescheck/internal/media"
	"duescheck/internal/realtime"
	"duescheck/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	ctx := context.Background()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	source, err := backend.NewFactory(logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize data backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	sqliteRepo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	// AMQP is optional: without it lookups stay in SQLite until the worker's
	// backfill picks them up.
	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, search history will be backfilled", log.FieldError, err)
		} else {
			publisher = amqpClient
		}
	}
	search := services.NewSearchLogService(sqliteRepo, publisher)

	pricing, _ := cfg.Pricing()
	shortCodes, _ := cfg.ShortCodes()
	groups, _ := cfg.Groups()
	dues := services.NewDuesService(source.Backend, source.Backend, search, services.DuesConfig{
		Pricing:    pricing,
		ShortCodes: shortCodes,
		Groups:     groups,
		CacheTTL:   cfg.SheetsCacheTTL,
	}, logger)

	cacheManager := cache.NewManager(logger)
	for _, c := range dues.Caches() {
		cacheManager.Register(c)
	}
	cacheManager.StartCleanup(cfg.SheetsCacheTTL)

	hub := realtime.NewHub(32)
	community := services.NewCommunityService(sqliteRepo, hub, logger)

	secret := cfg.AdminJWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Warn("ADMIN_JWT_SECRET not set, admin sessions end on restart")
	}
	authSvc, err := auth.NewService(sqliteRepo, secret, cfg.AdminSessionTTL, logger)
	if err != nil {
		logger.Error("Failed to initialize admin auth", log.FieldError, err)
		os.Exit(1)
	}
	if err := authSvc.Bootstrap(ctx, cfg.AdminPassword); err != nil {
		logger.Error("Failed to seed admin password", log.FieldError, err)
		os.Exit(1)
	}

	mediaStore, err := media.NewStore(cfg.UploadDir, logger)
	if err != nil {
		logger.Error("Failed to initialize upload directory", log.FieldError, err, "path", cfg.UploadDir)
		os.Exit(1)
	}

	srv, err := apphttp.NewServer(apphttp.Options{
		Addr:               ":" + cfg.Port,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CookieSecure:       cfg.CookieSecure,
	}, apphttp.Dependencies{
		Dues:      dues,
		Search:    search,
		Community: community,
		Auth:      authSvc,
		Media:     mediaStore,
		Hub:       hub,
		Storage:   sqliteRepo,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize HTTP server", log.FieldError, err)
		os.Exit(1)
	}

	// No WriteTimeout: /chat/stream responses stay open.
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	shutdownCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if amqpClient != nil {
			_ = amqpClient.Close()
		}
		if err := sqliteRepo.Close(); err != nil {
			logger.Error("Failed to close SQLite", log.FieldError, err)
		}
		if source.Cleanup != nil {
			_ = source.Cleanup()
		}
	})

	logger.Info("Starting duescheck server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp", amqpClient != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(shutdownCtx, done)
	logger.Info("Server stopped gracefully")
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
