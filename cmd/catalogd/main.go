// Package main wires together the catalog ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/openshelf/catalogd/internal/api"
	"github.com/openshelf/catalogd/internal/clock/system"
	"github.com/openshelf/catalogd/internal/config"
	"github.com/openshelf/catalogd/internal/connector"
	"github.com/openshelf/catalogd/internal/dedup"
	"github.com/openshelf/catalogd/internal/ingest"
	"github.com/openshelf/catalogd/internal/logging"
	"github.com/openshelf/catalogd/internal/metrics"
	"github.com/openshelf/catalogd/internal/pipeline"
	"github.com/openshelf/catalogd/internal/scheduler"
	"github.com/openshelf/catalogd/internal/search"
	pgstore "github.com/openshelf/catalogd/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgstore.NewPool(ctx, pgstore.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime(),
	})
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer pool.Close()

	catalogStore, err := pgstore.NewCatalogStore(pool)
	if err != nil {
		logger.Fatal("catalog store init failed", zap.Error(err))
	}
	jobStore, err := pgstore.NewJobStore(pool)
	if err != nil {
		logger.Fatal("job store init failed", zap.Error(err))
	}

	client := connector.NewClient(connector.ClientConfig{
		UserAgent:  "catalogd/1.0 (+https://github.com/openshelf/catalogd)",
		MaxRetries: cfg.HTTP.MaxRetries,
	})
	registry := connector.NewRegistry(client)

	index := search.New(search.Config{
		Host:      cfg.Search.Host,
		APIKey:    cfg.Search.APIKey,
		IndexName: cfg.Search.IndexName,
	}, catalogStore)

	resolver := dedup.NewResolver(catalogStore)
	proc := pipeline.New(catalogStore, resolver, index, logger.Named("pipeline"))
	clock := system.New()
	service := ingest.NewService(jobStore, registry, proc, clock, logger.Named("ingest"))
	sched := scheduler.New(service, cfg.PollInterval(), logger.Named("scheduler"))

	apiServer := api.NewServer(jobStore, service, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("scheduler started", zap.Duration("interval", cfg.PollInterval()))
		if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
