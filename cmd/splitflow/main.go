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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/splitflow/splitflow/internal/analytics"
	"github.com/splitflow/splitflow/internal/archive"
	"github.com/splitflow/splitflow/internal/cache"
	"github.com/splitflow/splitflow/internal/config"
	"github.com/splitflow/splitflow/internal/database"
	"github.com/splitflow/splitflow/internal/httpserver"
	"github.com/splitflow/splitflow/internal/metrics"
	"github.com/splitflow/splitflow/internal/session"
	"github.com/splitflow/splitflow/internal/storage"
	"github.com/splitflow/splitflow/internal/traffic"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting splitflow",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	m := metrics.NewMetrics("splitflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage: PostgreSQL with in-memory fallback.
	var store *storage.Store
	db, err := database.OpenPostgres(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory storage", zap.Error(err))
		store = storage.NewMemoryStore()
	} else {
		defer db.Close()
		if err := database.RunMigrations(ctx, db.Pool); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		store = storage.NewPostgresStore(db.Pool)
	}

	// Cache: optional Redis.
	var c *cache.Cache
	if cfg.Redis.Enabled {
		c, err = cache.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, caching disabled", zap.Error(err))
			c = nil
		} else {
			defer c.Close()
		}
	}

	// Archive: optional ClickHouse event log.
	var archiver traffic.EventArchiver
	if cfg.ClickHouse.Enabled {
		chDB, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("ClickHouse not available, event archive disabled", zap.Error(err))
		} else {
			defer chDB.Close()
			if err := archive.RunMigrations(ctx, chDB.Conn); err != nil {
				logger.Fatal("archive migrations failed", zap.Error(err))
			}
			worker := archive.NewWorker(chDB.Conn, cfg.ClickHouse.BatchSize, cfg.ClickHouse.FlushInterval, m, logger)
			defer worker.Shutdown()
			archiver = worker
		}
	}

	// Geo: optional MaxMind lookup.
	var geo session.GeoResolver
	if cfg.Geo.Enabled {
		resolver, err := session.NewMaxMindGeoResolver(cfg.Geo.DatabasePath)
		if err != nil {
			logger.Warn("GeoIP database unavailable, geo disabled", zap.Error(err))
		} else {
			defer resolver.Close()
			geo = resolver
		}
	}

	catalog := traffic.NewCatalog(cfg.Reporting.BaseURL, cfg.Reporting.APIKey, cfg.Reporting.Timeout, logger)

	campaignSvc := traffic.NewCampaignService(store.Campaigns, c, m, logger)
	productSvc := traffic.NewProductService(store.Products, catalog, c, m, logger)
	paramSvc := traffic.NewParamService(store.Params, catalog, logger)
	distributionSvc := traffic.NewDistributionService(store.Distributions, campaignSvc, productSvc, paramSvc, c, logger)
	resolver := traffic.NewResolver(campaignSvc, store.Distributions, productSvc, m, logger, nil)
	attributor := traffic.NewAttributor(store.Events, store.Distributions, campaignSvc, archiver, m, logger)

	sessions := session.NewProvider(cfg.Session.CookieName, cfg.Session.TTL, geo)

	// Aggregation loop.
	if cfg.Aggregation.Enabled {
		sink := analytics.NewSink(cfg.Reporting.BaseURL, cfg.Reporting.APIKey, cfg.Reporting.Timeout, m, logger)
		aggregator := analytics.NewAggregator(store, sink, cfg.Aggregation.Interval, m, logger)
		go aggregator.Run(ctx)
	}

	handler := httpserver.NewServer(&httpserver.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Metrics:       m,
		Session:       sessions,
		Resolver:      resolver,
		Attributor:    attributor,
		Campaigns:     campaignSvc,
		Distributions: distributionSvc,
		Analytics:     analytics.NewService(store.Analytics),
		Health: func(ctx context.Context) error {
			if db != nil {
				return db.Health(ctx)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
