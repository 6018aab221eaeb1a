// Package engine is the per-tick orchestrator tying ingestion (C4) to the
// trade handlers (C7): one Tick ingests the target's newest activity and
// dispatches every pending Activity the task has accumulated to the right
// BUY/SELL/REDEEM handler for its Mode, owning the new -> claimed ->
// done-* transitions described in SPEC_FULL.md §4.7.e. Reconcile wraps the
// periodic position sweep (C8). Both methods match scheduler.TickHandler so
// they can be registered directly as the scheduler's tick and reconcile
// callbacks. The ingest-then-dispatch sequencing is grounded on the
// teacher's trade.Service.ExecuteTrade, which performs the same
// fetch-state -> validate -> execute -> persist sequence for a single
// trade; here it is generalized to a whole pending queue per tick.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/copytrade/engine/internal/handler"
	"github.com/copytrade/engine/internal/ingest"
	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/reconciler"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

// Engine composes the ingestor, trade handlers, and reconciler behind the
// scheduler's TickHandler shape.
type Engine struct {
	Store      store.Store
	Target     venue.DataClient
	Ingestor   *ingest.Ingestor
	Handlers   *handler.Handlers
	Reconciler *reconciler.Reconciler
	Now        func() time.Time
}

// New builds an Engine. now defaults to time.Now if nil.
func New(st store.Store, target venue.DataClient, ing *ingest.Ingestor, h *handler.Handlers, rec *reconciler.Reconciler, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{Store: st, Target: target, Ingestor: ing, Handlers: h, Reconciler: rec, Now: now}
}

// Tick runs one task's per-tick work: ingest the target's newest activity,
// then dispatch every activity left in state New.
func (e *Engine) Tick(ctx context.Context, taskID string) error {
	task, err := e.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("engine: load task %s: %w", taskID, err)
	}
	if task.Status != model.StatusRunning {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(string(task.Mode)).Observe(time.Since(start).Seconds())
	}()

	if err := e.Ingestor.Run(ctx, task); err != nil {
		return fmt.Errorf("engine: ingest for task %s: %w", taskID, err)
	}

	return e.dispatchPending(ctx, task)
}

// Reconcile runs the periodic position sweep for one task. Registered as
// the scheduler's reconcile callback.
func (e *Engine) Reconcile(ctx context.Context, taskID string) error {
	err := e.Reconciler.Sweep(ctx, taskID)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ReconcileRunsTotal.WithLabelValues(result).Inc()
	return err
}

// dispatchPending implements SPEC_FULL.md §4.7: claim every pending
// activity, look up the two positions each handler needs, and route it to
// the handler matching its Side and the task's Mode.
func (e *Engine) dispatchPending(ctx context.Context, task *model.Task) error {
	pending, err := e.Store.ListPendingActivities(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("engine: list pending activities for task %s: %w", task.ID, err)
	}
	if len(pending) == 0 {
		return nil
	}

	targetPositions, err := e.Target.Positions(ctx, task.TargetAddress)
	if err != nil {
		return fmt.Errorf("engine: load target positions for task %s: %w", task.ID, err)
	}
	targetByCondition := make(map[string]model.TargetPosition, len(targetPositions))
	for _, tp := range targetPositions {
		targetByCondition[tp.ConditionID] = tp
	}

	// Sell-ratio reconstruction needs, per asset, the sum of sizes of every
	// unprocessed SELL in this batch "including the current one" —
	// SPEC_FULL.md §4.7.c. Pre-compute it once for the whole batch rather
	// than re-scanning per activity, and subtract each SELL once it has been
	// handled so later SELLs see only the ones still pending.
	pendingSellSizeByAsset := make(map[string]float64)
	for _, a := range pending {
		if a.Side == model.SideSell {
			pendingSellSizeByAsset[a.Asset] += a.Size
		}
	}

	for i := range pending {
		activity := &pending[i]
		activity.State = model.ExecClaimed
		activity.ExecAttempts = 1
		if err := e.Store.UpdateActivity(ctx, activity); err != nil {
			slog.Error("engine: claim activity failed", "task", task.ID, "txHash", activity.TxHash, "err", err)
			continue
		}

		myPosition, err := e.myPosition(ctx, task, activity.Asset, activity.ConditionID)
		if err != nil && err != store.ErrNotFound {
			slog.Error("engine: find position failed", "task", task.ID, "asset", activity.Asset, "err", err)
			continue
		}

		var targetPosition *model.TargetPosition
		if tp, ok := targetByCondition[activity.ConditionID]; ok {
			targetPosition = &tp
		}

		result := e.dispatch(ctx, task, activity, myPosition, targetPosition, pendingSellSizeByAsset[activity.Asset])
		if activity.Side == model.SideSell {
			pendingSellSizeByAsset[activity.Asset] -= activity.Size
		}

		activity.State = stateForOutcome(result.Outcome)
		if err := e.Store.UpdateActivity(ctx, activity); err != nil {
			slog.Error("engine: persist activity outcome failed", "task", task.ID, "txHash", activity.TxHash, "err", err)
		}
		metrics.TradesTotal.WithLabelValues(string(activity.Side), string(result.Outcome)).Inc()
		if result.Err != nil {
			slog.Warn("engine: activity handling ended", "task", task.ID, "txHash", activity.TxHash, "side", activity.Side, "outcome", result.Outcome, "reason", result.Reason, "err", result.Err)
		}
	}

	return nil
}

func (e *Engine) dispatch(ctx context.Context, task *model.Task, activity *model.Activity, myPosition *model.Position, targetPosition *model.TargetPosition, pendingSellSize float64) handler.Result {
	switch activity.Side {
	case model.SideBuy:
		if task.Mode == model.ModeLive {
			return e.Handlers.BuyLive(ctx, task, activity, myPosition)
		}
		return e.Handlers.BuyMock(ctx, task, activity, myPosition)

	case model.SideSell:
		if task.Mode == model.ModeLive {
			myBoughtSizeTotal, err := e.sumMyBoughtSize(ctx, task.ID, activity.Asset)
			if err != nil {
				return handler.Result{Outcome: handler.OutcomeDoneSkipped, Reason: "bought-size lookup failed", Err: err}
			}
			return e.Handlers.SellLive(ctx, task, activity, myPosition, myBoughtSizeTotal, targetPosition, pendingSellSize)
		}
		return e.Handlers.SellMock(ctx, task, activity, myPosition, targetPosition, pendingSellSize)

	case model.SideRedeem:
		return e.Handlers.Redeem(ctx, task, activity, myPosition)

	default:
		return handler.Result{Outcome: handler.OutcomeDoneSkipped, Reason: fmt.Sprintf("unknown side %q", activity.Side)}
	}
}

// myPosition implements the Mode split in SPEC_FULL.md §4.5: Mock mode
// treats the local ledger as authoritative, while Live mode treats the
// venue's own-positions endpoint as authoritative for whether a position
// exists and how large it is, overlaying the locally tracked cost basis
// (avgPrice, totalBought, realizedPnl) the venue never reports. Returns
// store.ErrNotFound, matching store.FindPosition's contract, when no
// position exists either way.
func (e *Engine) myPosition(ctx context.Context, task *model.Task, asset, conditionID string) (*model.Position, error) {
	stored, err := e.Store.FindPosition(ctx, task.ID, asset, conditionID)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	if task.Mode != model.ModeLive {
		if err == store.ErrNotFound {
			return nil, store.ErrNotFound
		}
		return stored, nil
	}

	live, err := e.Target.Positions(ctx, task.Live.OperatorWallet)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch own live positions: %w", err)
	}
	for _, p := range live {
		if p.ConditionID != conditionID || p.Size <= 0 {
			continue
		}
		pos := model.Position{TaskID: task.ID, Asset: p.Asset, ConditionID: p.ConditionID, Size: p.Size}
		if stored != nil {
			pos.OutcomeIndex = stored.OutcomeIndex
			pos.AvgPrice = stored.AvgPrice
			pos.TotalBought = stored.TotalBought
			pos.RealizedPnl = stored.RealizedPnl
			pos.Title, pos.Slug, pos.OutcomeLabel = stored.Title, stored.Slug, stored.OutcomeLabel
		}
		return &pos, nil
	}
	return nil, store.ErrNotFound
}

// sumMyBoughtSize totals MyBoughtSize over every BUY activity recorded for
// (taskID, asset) — the "prior BUY myBoughtSize values" the Live sell-ratio
// reconstruction in SPEC_FULL.md §4.7.c needs. scaleOrZeroBuyActivities
// keeps these totals current as sells consume them.
func (e *Engine) sumMyBoughtSize(ctx context.Context, taskID, asset string) (float64, error) {
	activities, err := e.Store.ListActivitiesByAsset(ctx, taskID, asset)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range activities {
		if a.Side == model.SideBuy {
			total += a.MyBoughtSize
		}
	}
	return total, nil
}

func stateForOutcome(o handler.Outcome) model.ExecState {
	switch o {
	case handler.OutcomeDoneOK:
		return model.ExecDoneOK
	case handler.OutcomeDoneExhausted:
		return model.ExecDoneExhaust
	default:
		return model.ExecDoneSkip
	}
}
