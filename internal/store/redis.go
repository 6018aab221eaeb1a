package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/copytrade/engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the two lookups every tick performs (task-by-id and
// positions-by-task). Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateTask(ctx context.Context, t *model.Task) error {
	if err := s.primary.CreateTask(ctx, t); err != nil {
		return err
	}
	s.cacheTask(ctx, t)
	return nil
}

func (s *CachedStore) UpdateTask(ctx context.Context, t *model.Task) error {
	if err := s.primary.UpdateTask(ctx, t); err != nil {
		return err
	}
	s.cacheTask(ctx, t)
	return nil
}

func (s *CachedStore) DeleteTask(ctx context.Context, id string) error {
	if err := s.primary.DeleteTask(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, taskKey(id))
	return nil
}

func (s *CachedStore) UpsertPosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.UpsertPosition(ctx, p); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(p.TaskID))
	return nil
}

func (s *CachedStore) DeletePosition(ctx context.Context, taskID, asset, conditionID string) error {
	if err := s.primary.DeletePosition(ctx, taskID, asset, conditionID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(taskID))
	return nil
}

func (s *CachedStore) DeletePositionsByTask(ctx context.Context, taskID string) error {
	if err := s.primary.DeletePositionsByTask(ctx, taskID); err != nil {
		return err
	}
	s.rdb.Del(ctx, positionsKey(taskID))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	data, err := s.rdb.Get(ctx, taskKey(id)).Bytes()
	if err == nil {
		var t model.Task
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheTask(ctx, t)
	return t, nil
}

func (s *CachedStore) FindPositions(ctx context.Context, taskID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(taskID)).Bytes()
	if err == nil {
		var positions []model.Position
		if json.Unmarshal(data, &positions) == nil {
			return positions, nil
		}
	}

	positions, err := s.primary.FindPositions(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(positions); err == nil {
		s.rdb.Set(ctx, positionsKey(taskID), data, s.ttl)
	}
	return positions, nil
}

// --- Passthrough (not cached: low-traffic or always-fresh reads) ---

func (s *CachedStore) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	return s.primary.ListTasks(ctx, filter)
}

func (s *CachedStore) InsertActivity(ctx context.Context, a *model.Activity) error {
	return s.primary.InsertActivity(ctx, a)
}

func (s *CachedStore) ActivityExists(ctx context.Context, taskID, txHash string) (bool, error) {
	return s.primary.ActivityExists(ctx, taskID, txHash)
}

func (s *CachedStore) HasEarlierBuy(ctx context.Context, taskID, conditionID string, before int64) (bool, error) {
	return s.primary.HasEarlierBuy(ctx, taskID, conditionID, before)
}

func (s *CachedStore) UpdateActivity(ctx context.Context, a *model.Activity) error {
	return s.primary.UpdateActivity(ctx, a)
}

func (s *CachedStore) ListPendingActivities(ctx context.Context, taskID string) ([]model.Activity, error) {
	return s.primary.ListPendingActivities(ctx, taskID)
}

func (s *CachedStore) ListActivitiesByAsset(ctx context.Context, taskID, asset string) ([]model.Activity, error) {
	return s.primary.ListActivitiesByAsset(ctx, taskID, asset)
}

func (s *CachedStore) ResetClaimedToNew(ctx context.Context, taskID string) error {
	return s.primary.ResetClaimedToNew(ctx, taskID)
}

func (s *CachedStore) DeleteActivitiesByTask(ctx context.Context, taskID string) error {
	return s.primary.DeleteActivitiesByTask(ctx, taskID)
}

func (s *CachedStore) FindPosition(ctx context.Context, taskID, asset, conditionID string) (*model.Position, error) {
	return s.primary.FindPosition(ctx, taskID, asset, conditionID)
}

func (s *CachedStore) InsertTradeRecord(ctx context.Context, r *model.TradeRecord) error {
	return s.primary.InsertTradeRecord(ctx, r)
}

func (s *CachedStore) ListTradeRecordsByTask(ctx context.Context, taskID string) ([]model.TradeRecord, error) {
	return s.primary.ListTradeRecordsByTask(ctx, taskID)
}

func (s *CachedStore) DeleteTradeRecordsByTask(ctx context.Context, taskID string) error {
	return s.primary.DeleteTradeRecordsByTask(ctx, taskID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheTask(ctx context.Context, t *model.Task) {
	if data, err := json.Marshal(t); err == nil {
		s.rdb.Set(ctx, taskKey(t.ID), data, s.ttl)
	}
}

func taskKey(id string) string         { return fmt.Sprintf("task:%s", id) }
func positionsKey(taskID string) string { return fmt.Sprintf("positions:%s", taskID) }
