// Command gatekeeper-sweeper runs the expired-entry sweeper as a standalone
// daemon against a shared permission store, exposing health and metrics
// endpoints for operations.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/config"
	"github.com/platinummonkey/gatekeeper/pkg/engine"
	"github.com/platinummonkey/gatekeeper/pkg/hierarchy"
	"github.com/platinummonkey/gatekeeper/pkg/observability"
	"github.com/platinummonkey/gatekeeper/pkg/store"
)

func main() {
	addr := flag.String("addr", ":8081", "Address to serve health and metrics on")
	flag.Parse()

	log := logrus.New()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	log.SetLevel(cfg.Observability.LogLevel)

	var (
		perms       store.PermissionStore
		redisClient *redis.Client
	)
	switch cfg.Store.Backend {
	case config.StoreBackendRedis:
		opts, err := redis.ParseURL(cfg.Store.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("invalid redis URL")
		}
		if cfg.Store.RedisPassword != "" {
			opts.Password = cfg.Store.RedisPassword
		}
		if cfg.Store.RedisDB != 0 {
			opts.DB = cfg.Store.RedisDB
		}
		opts.PoolSize = cfg.Store.RedisPoolSize
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		perms = store.NewRedisStore(redisClient, cfg.Store.RedisKeyPrefix)
	default:
		log.Warn("memory store backend configured; sweeping an empty in-process store")
		perms = store.NewMemoryStore()
	}

	var db *sql.DB
	if cfg.Hierarchy.PostgresURL != "" {
		hier, err := hierarchy.Open(context.Background(), cfg.Hierarchy.PostgresURL, cfg.Hierarchy.PostgresMaxConns)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to hierarchy database")
		}
		db = hier.DB()
		defer db.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	perms = store.NewInstrumentedStore(perms, cfg.Store.Backend, metrics)

	sweeper, err := engine.NewSweeper(perms, cfg.Engine.SweeperSchedule, log, metrics)
	if err != nil {
		log.WithError(err).Fatal("failed to create sweeper")
	}

	if cfg.Engine.SweeperEnabled {
		sweeper.Start()
		log.WithField("schedule", cfg.Engine.SweeperSchedule).Info("sweeper started")
	} else {
		log.Info("sweeper disabled; serving health and metrics only")
	}

	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.WithField("addr", *addr).Info("serving health and metrics")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("health server failed")
		}
	}()

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	if cfg.Engine.SweeperEnabled {
		sweeper.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("health server shutdown failed")
	}
}
