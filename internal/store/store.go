// Package store defines the persistence interface for the copy-trading
// engine. PostgreSQL is the system of record; Redis provides an optional
// read-through cache layer; an in-memory implementation backs tests and
// no-database deployments.
package store

import (
	"context"
	"errors"

	"github.com/copytrade/engine/internal/model"
)

// ErrNotFound is returned when a lookup by id finds nothing.
var ErrNotFound = errors.New("store: not found")

// TaskFilter narrows ListTasks by mode. An empty string matches every mode.
type TaskFilter struct {
	Mode model.Mode
}

// Store is the persistence interface for C1 (Task Store), the Mock side of
// C5 (Position Ledger), and C10 (Trade Record Log).
type Store interface {
	// --- Tasks (C1) ---

	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error)
	UpdateTask(ctx context.Context, t *model.Task) error
	DeleteTask(ctx context.Context, id string) error

	// --- Activities (C4 persistence) ---

	InsertActivity(ctx context.Context, a *model.Activity) error
	// ActivityExists reports whether (txHash, taskID) is already persisted.
	ActivityExists(ctx context.Context, taskID, txHash string) (bool, error)
	// HasEarlierBuy reports whether a BUY activity for (taskID, conditionID)
	// was already persisted strictly before the given timestamp.
	HasEarlierBuy(ctx context.Context, taskID, conditionID string, before int64) (bool, error)
	UpdateActivity(ctx context.Context, a *model.Activity) error
	// ListPendingActivities returns activities in state New for a task, in
	// persisted (venue chronological) order.
	ListPendingActivities(ctx context.Context, taskID string) ([]model.Activity, error)
	// ListActivitiesByAsset returns every activity for (taskID, asset),
	// regardless of state, in persisted order. Used by sell-ratio
	// reconstruction and Live sold-fraction bookkeeping.
	ListActivitiesByAsset(ctx context.Context, taskID, asset string) ([]model.Activity, error)
	// ResetClaimedToNew implements the startup recovery rule in SPEC_FULL.md
	// §5: activities stuck in "claimed" after a crash must become eligible
	// again.
	ResetClaimedToNew(ctx context.Context, taskID string) error
	DeleteActivitiesByTask(ctx context.Context, taskID string) error

	// --- Positions, Mock mode only (C5) ---

	UpsertPosition(ctx context.Context, p *model.Position) error
	DeletePosition(ctx context.Context, taskID, asset, conditionID string) error
	FindPositions(ctx context.Context, taskID string) ([]model.Position, error)
	FindPosition(ctx context.Context, taskID, asset, conditionID string) (*model.Position, error)
	DeletePositionsByTask(ctx context.Context, taskID string) error

	// --- Trade records, append-only (C10) ---

	InsertTradeRecord(ctx context.Context, r *model.TradeRecord) error
	ListTradeRecordsByTask(ctx context.Context, taskID string) ([]model.TradeRecord, error)
	DeleteTradeRecordsByTask(ctx context.Context, taskID string) error
}
