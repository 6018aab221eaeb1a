package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript performs the compare-and-delete atomically: only delete the
// key if its value still matches the token we were handed at acquisition
// time. This is the standard single-instance Redlock safe-release recipe.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// RedisLocker implements Locker using a Redis key per task with TTL, keyed
// as task-lock:{id} per SPEC_FULL.md §6's persisted-layout convention.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a Redis-backed distributed lock.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, taskID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(taskID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("lock: acquire %s: %w", taskID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, taskID, token string) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{lockKey(taskID)}, token).Result()
	// redis.Nil means the key was already gone (TTL expired); not an error.
	if err != nil && err != redis.Nil {
		return fmt.Errorf("lock: release %s: %w", taskID, err)
	}
	return nil
}

func lockKey(taskID string) string { return fmt.Sprintf("task-lock:%s", taskID) }
