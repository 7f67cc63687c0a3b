package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"talon/internal/allocator"
	"talon/internal/cache"
	"talon/internal/config"
	"talon/internal/database"
	"talon/internal/events"
	"talon/internal/httpapi"
	"talon/internal/metrics"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("TALON_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	if err := db.EnsureDefaultSchedules(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("seed default schedules error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rdb *redis.Client
	var cacheLayer cache.Cache = cache.NewNoop()
	if cfg.Redis.Enabled && cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cacheLayer = cache.NewRedis(rdb, &logger)
		logger.Info().Str("address", cfg.Redis.Address).Msg("redis cache enabled")
	} else {
		logger.Info().Msg("running without cache layer")
	}

	metrics.Register()

	hub := events.NewHub(cfg.Events.BufferSize, &logger)
	hub.OnDrop(metrics.IncEventDropped)

	alloc := allocator.New(db, cacheLayer, hub, allocator.Config{
		MaxAttempts: cfg.AllocationMaxAttempts(),
		UseLock:     cfg.Allocation.UseLock,
		LockTTL:     cfg.AllocationLockTTL(),
		StatsTTL:    cfg.StatsTTL(),
	}, &logger)

	handler := httpapi.NewHandler(alloc, db, hub, &logger)
	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	routes := httpapi.LoggingMiddleware(&logger)(limiter.Middleware(handler.Routes()))

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     routes,
		ReadTimeout: cfg.ServerReadTimeout(),
	}

	if cfg.Monitoring.HealthCheckPort != 0 {
		go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9091
		}
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	if cfg.Sweeper.Enabled {
		go runSweeper(ctx, alloc, cfg, &logger)
	}

	backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
	go backup.Start(ctx)

	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("address", cfg.Server.Address).Msg("talon server started")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server error")
	}
	logger.Info().Msg("talon server stopped")
}

// runSweeper periodically auto-skips tickets stuck in 'called'.
func runSweeper(ctx context.Context, alloc *allocator.Allocator, cfg *config.Config, logger *zerolog.Logger) {
	ticker := time.NewTicker(cfg.SweeperInterval())
	defer ticker.Stop()

	logger.Info().
		Dur("interval", cfg.SweeperInterval()).
		Dur("grace", cfg.SweeperGrace()).
		Msg("sweeper started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := alloc.SweepStuckTickets(ctx, cfg.SweeperGrace(), cfg.SweeperBatchSize()); err != nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
