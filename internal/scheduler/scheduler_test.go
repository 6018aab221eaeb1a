package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// countingHandler records every call it receives and optionally fails the
// first N calls for a given task, to exercise the retry path.
type countingHandler struct {
	mu       sync.Mutex
	calls    map[string]int
	failUpTo map[string]int
}

func newCountingHandler() *countingHandler {
	return &countingHandler{
		calls:    make(map[string]int),
		failUpTo: make(map[string]int),
	}
}

func (h *countingHandler) handle(_ context.Context, taskID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[taskID]++
	if h.calls[taskID] <= h.failUpTo[taskID] {
		return errors.New("transient failure")
	}
	return nil
}

func (h *countingHandler) count(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[taskID]
}

func waitForCount(t *testing.T, h *countingHandler, taskID string, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if h.count(taskID) >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s: got %d calls, want at least %d", taskID, h.count(taskID), want)
}

func testConfig() Config {
	return Config{
		TickInterval:      20 * time.Millisecond,
		WorkerConcurrency: 2,
		RetrySchedule:     []time.Duration{5 * time.Millisecond, 5 * time.Millisecond},
		SyncEveryNTicks:   3,
	}
}

func TestSchedule_TicksFireRepeatedly(t *testing.T) {
	h := newCountingHandler()
	s := New(testConfig(), h.handle, nil)
	defer s.Shutdown(context.Background())

	s.Schedule("task-1")
	waitForCount(t, h, "task-1", 3, time.Second)
}

func TestUnschedule_StopsFurtherTicks(t *testing.T) {
	h := newCountingHandler()
	s := New(testConfig(), h.handle, nil)
	defer s.Shutdown(context.Background())

	s.Schedule("task-1")
	waitForCount(t, h, "task-1", 1, time.Second)

	s.Unschedule("task-1")
	stopped := h.count("task-1")
	time.Sleep(100 * time.Millisecond)
	if h.count("task-1") > stopped+1 {
		t.Errorf("expected ticks to stop after Unschedule, count grew from %d to %d", stopped, h.count("task-1"))
	}
}

func TestClearAll_StopsEveryTask(t *testing.T) {
	h := newCountingHandler()
	s := New(testConfig(), h.handle, nil)
	defer s.Shutdown(context.Background())

	s.Schedule("task-1")
	s.Schedule("task-2")
	waitForCount(t, h, "task-1", 1, time.Second)
	waitForCount(t, h, "task-2", 1, time.Second)

	s.ClearAll()
	c1, c2 := h.count("task-1"), h.count("task-2")
	time.Sleep(100 * time.Millisecond)
	if h.count("task-1") > c1+1 || h.count("task-2") > c2+1 {
		t.Errorf("expected both tasks to stop ticking after ClearAll")
	}
}

func TestRunWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	h := newCountingHandler()
	h.failUpTo["task-1"] = 2

	s := New(testConfig(), h.handle, nil)
	defer s.Shutdown(context.Background())

	err := s.runWithRetry(context.Background(), "task-1", h.handle)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if h.count("task-1") != 3 {
		t.Errorf("expected 3 attempts (2 failures + 1 success), got %d", h.count("task-1"))
	}
}

func TestRunWithRetry_ExhaustsAndReturnsLastError(t *testing.T) {
	h := newCountingHandler()
	h.failUpTo["task-1"] = 100 // never succeeds within the retry budget

	s := New(testConfig(), h.handle, nil)
	defer s.Shutdown(context.Background())

	err := s.runWithRetry(context.Background(), "task-1", h.handle)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	// One initial attempt plus one per entry in RetrySchedule.
	want := len(testConfig().RetrySchedule) + 1
	if h.count("task-1") != want {
		t.Errorf("expected %d attempts, got %d", want, h.count("task-1"))
	}
}

func TestSchedule_TriggersReconcileImmediatelyOnSchedule(t *testing.T) {
	tick := newCountingHandler()
	reconcile := newCountingHandler()

	cfg := testConfig()
	// Large enough that the periodic modulo path cannot reach it within the
	// wait below; only the forced reconcile-on-Schedule path can.
	cfg.SyncEveryNTicks = 10_000
	s := New(cfg, tick.handle, reconcile.handle)
	defer s.Shutdown(context.Background())

	s.Schedule("task-1")
	waitForCount(t, reconcile, "task-1", 1, time.Second)
}

func TestSchedule_AlsoReconcilesOnSyncEveryNTicksBoundary(t *testing.T) {
	tick := newCountingHandler()
	reconcile := newCountingHandler()

	cfg := testConfig()
	cfg.SyncEveryNTicks = 3
	s := New(cfg, tick.handle, reconcile.handle)
	defer s.Shutdown(context.Background())

	s.Schedule("task-1")
	// Immediate reconcile at Schedule time.
	waitForCount(t, reconcile, "task-1", 1, time.Second)
	// And again once three ordinary ticks have elapsed.
	waitForCount(t, tick, "task-1", 3, time.Second)
	waitForCount(t, reconcile, "task-1", 2, time.Second)
}

func TestShutdown_StopsWorkersAndReturns(t *testing.T) {
	h := newCountingHandler()
	s := New(testConfig(), h.handle, nil)

	s.Schedule("task-1")
	waitForCount(t, h, "task-1", 1, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("expected clean shutdown, got %v", err)
	}
}
