package store

import (
	"context"
	"sync"

	"github.com/copytrade/engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and for
// deployments with no DATABASE_URL configured. Not suitable for production
// (no persistence across restarts).
type MemoryStore struct {
	mu         sync.RWMutex
	tasks      map[string]*model.Task
	activities map[string]map[string]*model.Activity // taskID -> txHash -> activity
	positions  map[string]map[string]*model.Position // taskID -> "asset|conditionID" -> position
	records    map[string][]model.TradeRecord        // taskID -> records
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:      make(map[string]*model.Task),
		activities: make(map[string]map[string]*model.Activity),
		positions:  make(map[string]map[string]*model.Position),
		records:    make(map[string][]model.TradeRecord),
	}
}

func posKey(asset, conditionID string) string { return asset + "|" + conditionID }

// --- Tasks ---

func (s *MemoryStore) CreateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return ErrNotFound // reuse: a duplicate id is a caller bug, treat alike
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Mode != "" && t.Mode != filter.Mode {
			continue
		}
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, id)
	return nil
}

// --- Activities ---

func (s *MemoryStore) InsertActivity(_ context.Context, a *model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTx, ok := s.activities[a.TaskID]
	if !ok {
		byTx = make(map[string]*model.Activity)
		s.activities[a.TaskID] = byTx
	}
	cp := *a
	byTx[a.TxHash] = &cp
	return nil
}

func (s *MemoryStore) ActivityExists(_ context.Context, taskID, txHash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTx, ok := s.activities[taskID]
	if !ok {
		return false, nil
	}
	_, ok = byTx[txHash]
	return ok, nil
}

func (s *MemoryStore) HasEarlierBuy(_ context.Context, taskID, conditionID string, before int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.activities[taskID] {
		if a.Side == model.SideBuy && a.ConditionID == conditionID && a.Timestamp.Unix() < before {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpdateActivity(_ context.Context, a *model.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTx, ok := s.activities[a.TaskID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := byTx[a.TxHash]; !ok {
		return ErrNotFound
	}
	cp := *a
	byTx[a.TxHash] = &cp
	return nil
}

func (s *MemoryStore) ListPendingActivities(_ context.Context, taskID string) ([]model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Activity
	for _, a := range s.activities[taskID] {
		if a.State == model.ExecNew {
			out = append(out, *a)
		}
	}
	sortActivitiesByTime(out)
	return out, nil
}

func (s *MemoryStore) ListActivitiesByAsset(_ context.Context, taskID, asset string) ([]model.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Activity
	for _, a := range s.activities[taskID] {
		if a.Asset == asset {
			out = append(out, *a)
		}
	}
	sortActivitiesByTime(out)
	return out, nil
}

func (s *MemoryStore) ResetClaimedToNew(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.activities[taskID] {
		if a.State == model.ExecClaimed {
			a.State = model.ExecNew
		}
	}
	return nil
}

func (s *MemoryStore) DeleteActivitiesByTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.activities, taskID)
	return nil
}

// --- Positions ---

func (s *MemoryStore) UpsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byKey, ok := s.positions[p.TaskID]
	if !ok {
		byKey = make(map[string]*model.Position)
		s.positions[p.TaskID] = byKey
	}
	cp := *p
	byKey[posKey(p.Asset, p.ConditionID)] = &cp
	return nil
}

func (s *MemoryStore) DeletePosition(_ context.Context, taskID, asset, conditionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if byKey, ok := s.positions[taskID]; ok {
		delete(byKey, posKey(asset, conditionID))
	}
	return nil
}

func (s *MemoryStore) FindPositions(_ context.Context, taskID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, p := range s.positions[taskID] {
		out = append(out, *p)
	}
	return out, nil
}

func (s *MemoryStore) FindPosition(_ context.Context, taskID, asset, conditionID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey, ok := s.positions[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	p, ok := byKey[posKey(asset, conditionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) DeletePositionsByTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.positions, taskID)
	return nil
}

// --- Trade records ---

func (s *MemoryStore) InsertTradeRecord(_ context.Context, r *model.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[r.TaskID] = append(s.records[r.TaskID], *r)
	return nil
}

func (s *MemoryStore) ListTradeRecordsByTask(_ context.Context, taskID string) ([]model.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.TradeRecord, len(s.records[taskID]))
	copy(out, s.records[taskID])
	return out, nil
}

func (s *MemoryStore) DeleteTradeRecordsByTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, taskID)
	return nil
}

func sortActivitiesByTime(a []model.Activity) {
	// Insertion sort: activity lists per task/asset are small, and this
	// keeps a stable, dependency-free ordering by persisted timestamp.
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j].Timestamp.Before(a[j-1].Timestamp); j-- {
			a[j], a[j-1] = a[j-1], a[j]
		}
	}
}
