package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/wolfman30/scheduling-integrator/internal/api/router"
	"github.com/wolfman30/scheduling-integrator/internal/app/bootstrap"
	appconfig "github.com/wolfman30/scheduling-integrator/internal/config"
	httpmiddleware "github.com/wolfman30/scheduling-integrator/internal/http/middleware"
	"github.com/wolfman30/scheduling-integrator/internal/integrator"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting scheduling integrator",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	integrationMetrics := metrics.NewIntegrationMetrics(reg)

	// Storage
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	cache, err := bootstrap.BuildCacheStore(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to build cache store", "error", err)
		os.Exit(1)
	}
	entities, closeEntities, err := bootstrap.BuildEntityRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build entity repository", "error", err)
		os.Exit(1)
	}
	defer closeEntities()

	integrations, err := integrator.LoadStaticSource(cfg.IntegrationsFile)
	if err != nil {
		logger.Error("failed to load integrations", "error", err, "path", cfg.IntegrationsFile)
		os.Exit(1)
	}

	flows, err := bootstrap.BuildFlowMatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to load flow rules", "error", err, "path", cfg.FlowRulesFile)
		os.Exit(1)
	}

	// Adapters and the scheduling facade
	registry := bootstrap.BuildRegistry(cfg, integrationMetrics, logger)
	service, err := bootstrap.BuildService(cfg, bootstrap.ServiceDeps{
		Registry: registry,
		Entities: entities,
		Cache:    cache,
		Flows:    flows,
		Metrics:  integrationMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to build scheduling service", "error", err)
		os.Exit(1)
	}

	syncers, err := bootstrap.BuildShadowSyncers(ctx, cfg, registry, integrations, logger)
	if err != nil {
		logger.Error("failed to build shadow sync", "error", err)
		os.Exit(1)
	}
	for _, syncer := range syncers {
		go syncer.Start(ctx)
	}

	// Setup router
	r := router.New(&router.Config{
		Logger:         logger,
		Integrations:   integrations,
		Operations:     service,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		OperatorSecret: cfg.OperatorJWTSecret,
		SyncLimiter:    syncLimiter(cfg.EntitySyncPerMinute),
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func syncLimiter(perMinute int) *httpmiddleware.KeyedLimiter {
	if perMinute <= 0 {
		return nil
	}
	return httpmiddleware.NewKeyedLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}
