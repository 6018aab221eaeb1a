package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/copytrade/engine/internal/api"
	"github.com/copytrade/engine/internal/config"
	"github.com/copytrade/engine/internal/engine"
	"github.com/copytrade/engine/internal/handler"
	"github.com/copytrade/engine/internal/ingest"
	"github.com/copytrade/engine/internal/lock"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/notify"
	"github.com/copytrade/engine/internal/onchain"
	"github.com/copytrade/engine/internal/reconciler"
	"github.com/copytrade/engine/internal/scheduler"
	"github.com/copytrade/engine/internal/settlement"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis read-through cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Lock and notifier, both Redis-backed when REDIS_URL is set ---
	var locker lock.Locker = lock.NewMemoryLocker()
	var notifier notify.Notifier = notify.NoOp{}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		locker = lock.NewRedisLocker(rdb)
		notifier = notify.NewRedisNotifier(rdb)
		slog.Info("Redis lock and notifier enabled")
	} else {
		slog.Warn("REDIS_URL not set, using in-process lock and a no-op notifier")
	}

	// --- Venue, settlement, and the trade handlers built on top of them ---
	venueClient := venue.NewHTTPClient(cfg.DataAPIBaseURL, cfg.OrderBookAPIBaseURL)
	chain := onchain.NewRPCClient(cfg.ChainRPCURL, cfg.SettlementContractAddress, cfg.CollateralAddress)
	settle := settlement.NewAdapter(chain, cfg.SettlementContractAddress, cfg.CollateralAddress)
	now := time.Now

	handlers := handler.New(st, venueClient, settle, now)
	ingestor := ingest.New(venueClient, st, now)
	recon := reconciler.New(st, venueClient, handlers, now)
	eng := engine.New(st, venueClient, ingestor, handlers, recon, now)

	// --- Scheduler: per-task ticks and periodic reconciliation, both run
	// under the task's lock so a slow tick can never race a concurrent one.
	schedCfg := scheduler.Config{
		TickInterval:      cfg.TickInterval(),
		WorkerConcurrency: cfg.WorkerConcurrency,
		RetrySchedule:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		SyncEveryNTicks:   cfg.SyncEveryNTicks,
	}
	lockTTL := cfg.LockTTL()
	tickHandler := func(ctx context.Context, taskID string) error {
		return withLock(ctx, locker, taskID, lockTTL, eng.Tick)
	}
	reconcileHandler := func(ctx context.Context, taskID string) error {
		return withLock(ctx, locker, taskID, lockTTL, eng.Reconcile)
	}
	sched := scheduler.New(schedCfg, tickHandler, reconcileHandler)

	// --- Admin HTTP API and WebSocket feed ---
	hub := api.NewWSHub()
	go hub.Run()
	server := api.New(st, sched, notifier, hub, now)

	// --- Startup recovery: activities stuck in "claimed" from a prior
	// crash become eligible again, then every running task is scheduled.
	tasks, err := st.ListTasks(context.Background(), store.TaskFilter{})
	if err != nil {
		slog.Error("listing tasks at startup failed", "err", err)
		os.Exit(1)
	}
	scheduled := 0
	for _, t := range tasks {
		if t.Status != model.StatusRunning {
			continue
		}
		if err := st.ResetClaimedToNew(context.Background(), t.ID); err != nil {
			slog.Error("startup activity recovery failed", "task", t.ID, "err", err)
		}
		sched.Schedule(t.ID)
		scheduled++
	}
	slog.Info("scheduled running tasks at startup", "count", scheduled)

	httpSrv := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("copytrade-engine listening", "port", cfg.AdminPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down copytrade-engine...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown error, exiting with diagnostic", "err", err)
		os.Exit(1)
	}

	slog.Info("copytrade-engine stopped")
}

// withLock runs fn while holding taskID's lock, matching scheduler.TickHandler.
// A lock that is already held is not an error worth retrying loudly: the
// current holder is already doing this tick's work.
func withLock(ctx context.Context, l lock.Locker, taskID string, ttl time.Duration, fn func(ctx context.Context, taskID string) error) error {
	err := lock.Run(ctx, l, taskID, ttl, func(ctx context.Context) error {
		return fn(ctx, taskID)
	})
	if err == lock.ErrNotAcquired {
		metrics.LockContendedTotal.Inc()
		slog.Debug("skipped tick: lock contended", "task", taskID)
		return nil
	}
	return err
}
