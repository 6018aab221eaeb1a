// Package scheduler implements the per-task execution loop (C3): one ticker
// goroutine per running task feeding a bounded channel, drained by a fixed
// worker pool. The register/unregister-over-channels shape is grounded on
// the teacher's WSHub (internal/trade/ws_hub.go) generalized from "one hub,
// many client connections" to "one registry, many per-task tickers"; the
// graceful-shutdown idiom (signal channel, bounded drain, timed context) is
// grounded on cmd/server/main.go's shutdown sequence.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/copytrade/engine/internal/metrics"
)

// TickHandler runs one task's pending work for a single tick. Returning an
// error is retried per RetrySchedule; returning nil marks the tick done.
type TickHandler func(ctx context.Context, taskID string) error

// Config holds the scheduler's tunables (SPEC_FULL.md §6).
type Config struct {
	TickInterval      time.Duration
	WorkerConcurrency int
	RetrySchedule     []time.Duration
	SyncEveryNTicks   int
}

// DefaultConfig matches the configuration list in SPEC_FULL.md §6.
func DefaultConfig() Config {
	return Config{
		TickInterval:      5 * time.Second,
		WorkerConcurrency: 5,
		RetrySchedule:     []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		SyncEveryNTicks:   30,
	}
}

type tick struct {
	taskID string
	// forceReconcile marks a tick enqueued by Schedule itself: reconcile runs
	// immediately regardless of where the task's tick count sits relative to
	// SyncEveryNTicks.
	forceReconcile bool
}

// Scheduler drives the tick loop for every registered task and dispatches
// ticks to a bounded worker pool. ReconcileHandler, if set, fires every
// SyncEveryNTicks ticks for a task and once at Schedule time.
type Scheduler struct {
	cfg     Config
	handler TickHandler
	reconcile TickHandler

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	counts  map[string]int

	tickCh chan tick
	wg     sync.WaitGroup // ticker goroutines
	workWG sync.WaitGroup // worker goroutines

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// New builds a Scheduler. handler runs every tick; reconcile (may be nil)
// runs every SyncEveryNTicks ticks and once on Schedule.
func New(cfg Config, handler TickHandler, reconcile TickHandler) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:            cfg,
		handler:        handler,
		reconcile:      reconcile,
		cancels:        make(map[string]context.CancelFunc),
		counts:         make(map[string]int),
		tickCh:         make(chan tick, cfg.WorkerConcurrency*4),
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		s.workWG.Add(1)
		go s.worker()
	}
	return s
}

// Schedule starts a per-task ticker. Re-scheduling an already-running task
// is a no-op after stopping the previous ticker, so callers can call it
// unconditionally on restart.
func (s *Scheduler) Schedule(taskID string) {
	s.Unschedule(taskID)

	ctx, cancel := context.WithCancel(s.shutdownCtx)

	s.mu.Lock()
	s.cancels[taskID] = cancel
	s.counts[taskID] = 0
	n := len(s.cancels)
	s.mu.Unlock()
	metrics.ActiveTasks.Set(float64(n))

	if s.reconcile != nil {
		s.enqueueTick(tick{taskID: taskID, forceReconcile: true})
	}

	s.wg.Add(1)
	go s.runTicker(ctx, taskID)
}

// Unschedule stops a task's ticker. Safe to call on a task that was never
// scheduled.
func (s *Scheduler) Unschedule(taskID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	delete(s.cancels, taskID)
	delete(s.counts, taskID)
	n := len(s.cancels)
	s.mu.Unlock()
	metrics.ActiveTasks.Set(float64(n))

	if ok {
		cancel()
	}
}

// ClearAll stops every scheduled task's ticker. Used at startup before
// rescheduling running tasks, per SPEC_FULL.md §4.3.
func (s *Scheduler) ClearAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.cancels))
	for id := range s.cancels {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Unschedule(id)
	}
}

func (s *Scheduler) runTicker(ctx context.Context, taskID string) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.enqueueTick(tick{taskID: taskID})
		}
	}
}

func (s *Scheduler) enqueueTick(t tick) {
	select {
	case s.tickCh <- t:
	default:
		slog.Warn("scheduler: tick dropped, worker pool saturated", "task_id", t.taskID)
	}
}

func (s *Scheduler) worker() {
	defer s.workWG.Done()

	for t := range s.tickCh {
		s.runOneTick(t)
	}
}

func (s *Scheduler) runOneTick(t tick) {
	ctx := s.shutdownCtx
	taskID := t.taskID

	if err := s.runWithRetry(ctx, taskID, s.handler); err != nil {
		slog.Error("scheduler: tick failed after retries", "task_id", taskID, "err", err)
	}

	s.mu.Lock()
	s.counts[taskID]++
	due := t.forceReconcile || (s.reconcile != nil && s.cfg.SyncEveryNTicks > 0 && s.counts[taskID]%s.cfg.SyncEveryNTicks == 0)
	s.mu.Unlock()

	if due {
		if err := s.runWithRetry(ctx, taskID, s.reconcile); err != nil {
			slog.Error("scheduler: reconcile failed after retries", "task_id", taskID, "err", err)
		}
	}
}

func (s *Scheduler) runWithRetry(ctx context.Context, taskID string, fn TickHandler) error {
	if fn == nil {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= len(s.cfg.RetrySchedule); attempt++ {
		lastErr = fn(ctx, taskID)
		if lastErr == nil {
			return nil
		}
		if attempt == len(s.cfg.RetrySchedule) {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.RetrySchedule[attempt]):
		}
	}
	return lastErr
}

// Shutdown stops every ticker and waits (bounded by the given context) for
// in-flight ticks to drain before returning the worker pool.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.ClearAll()
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(s.tickCh)
		s.workWG.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
