package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker implements Locker with a process-local map guarded by a
// mutex. Used for single-process deployments with no Redis configured, and
// for tests that want deterministic contention without a Redis dependency.
type MemoryLocker struct {
	mu      sync.Mutex
	holders map[string]memoryLock
}

type memoryLock struct {
	token   string
	expires time.Time
}

// NewMemoryLocker creates a new in-process lock.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holders: make(map[string]memoryLock)}
}

func (l *MemoryLocker) Acquire(_ context.Context, taskID string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, ok := l.holders[taskID]; ok && now.Before(existing.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	l.holders[taskID] = memoryLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, taskID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.holders[taskID]; ok && existing.token == token {
		delete(l.holders, taskID)
	}
	return nil
}
