// Package lock provides per-task mutual exclusion with TTL and safe release
// (SPEC_FULL.md C2). Contention policy is always "skip, never wait": a
// worker that cannot acquire a task's lock simply does not run that tick,
// and the next scheduled tick will try again.
package lock

import (
	"context"
	"time"
)

// Locker is the Distributed Lock interface. Implementations: Redis-backed
// (production, multi-process) and in-memory (tests, single-process / no
// Redis configured).
type Locker interface {
	// Acquire sets the lock for taskID if absent, with the given TTL, and
	// returns a token identifying this holder. ok is false if the lock is
	// already held.
	Acquire(ctx context.Context, taskID string, ttl time.Duration) (token string, ok bool, err error)
	// Release deletes the lock only if the stored token still matches —
	// compare-and-delete, so a holder can never release a lock it no
	// longer owns (e.g. after its TTL expired and someone else acquired
	// it).
	Release(ctx context.Context, taskID, token string) error
}

// Run acquires the lock for taskID, runs fn while held, and releases it
// afterward (even if fn panics). If the lock could not be acquired, Run
// returns ErrNotAcquired without calling fn — "skip, never wait".
func Run(ctx context.Context, l Locker, taskID string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.Acquire(ctx, taskID, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}
	defer func() {
		// Use a background context for release: the caller's ctx may
		// already be canceled (e.g. tick deadline), but the lock must
		// still be released promptly rather than waiting out the TTL.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, taskID, token)
	}()
	return fn(ctx)
}

// ErrNotAcquired is returned by Run when the task is already locked by
// another worker. Callers treat this as "tick skipped", not an error worth
// retrying within the same period.
var ErrNotAcquired = errNotAcquired{}

type errNotAcquired struct{}

func (errNotAcquired) Error() string { return "lock: not acquired, task already in progress" }
