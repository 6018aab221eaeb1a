// Package reconciler implements C8: a periodic sweep that closes positions
// the target trader no longer holds but this engine still does — the case
// the tick-driven ingest/handle pipeline can't catch on its own, since it
// only reacts to activity the target produces, never to activity it stops
// producing. The sweep-then-act shape is grounded on the teacher's
// reconciliation pass in cmd/server's startup sequence, generalized from
// "resync in-memory state against the database once at boot" to "resync
// this engine's positions against the target's positions on every sweep".
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/copytrade/engine/internal/handler"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

// Reconciler closes own positions the target trader has exited.
type Reconciler struct {
	Store    store.Store
	Target   venue.DataClient
	Handlers *handler.Handlers
	Now      func() time.Time
}

// New builds a Reconciler. now defaults to time.Now if nil.
func New(st store.Store, target venue.DataClient, h *handler.Handlers, now func() time.Time) *Reconciler {
	if now == nil {
		now = time.Now
	}
	return &Reconciler{Store: st, Target: target, Handlers: h, Now: now}
}

// Sweep implements SPEC_FULL.md §4.8: fetch this task's own positions and
// the target's current positions, and forced-close every own position whose
// conditionId is absent (or zero-size) in the target's set. Matches
// scheduler.TickHandler so it can be registered directly as the reconcile
// callback.
func (r *Reconciler) Sweep(ctx context.Context, taskID string) error {
	task, err := r.Store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("reconciler: load task %s: %w", taskID, err)
	}

	ownPositions, err := r.myPositions(ctx, task)
	if err != nil {
		return fmt.Errorf("reconciler: load positions for task %s: %w", taskID, err)
	}
	if len(ownPositions) == 0 {
		return nil
	}

	targetPositions, err := r.Target.Positions(ctx, task.TargetAddress)
	if err != nil {
		return fmt.Errorf("reconciler: load target positions: %w", err)
	}

	stillHeld := make(map[string]bool, len(targetPositions))
	for _, tp := range targetPositions {
		if tp.Size > 0 {
			stillHeld[tp.ConditionID] = true
		}
	}

	for i := range ownPositions {
		pos := &ownPositions[i]
		if stillHeld[pos.ConditionID] {
			continue
		}
		if res := r.forcedClose(ctx, task, pos); res.Err != nil {
			return fmt.Errorf("reconciler: forced close %s/%s: %w", task.ID, pos.ConditionID, res.Err)
		}
	}

	return nil
}

// myPositions implements the Mode split in SPEC_FULL.md §4.5: Mock mode
// enumerates the local ledger directly; Live mode enumerates the venue's
// own-positions endpoint and overlays each entry with the locally tracked
// cost basis, the same merge engine.myPosition performs for a single
// lookup.
func (r *Reconciler) myPositions(ctx context.Context, task *model.Task) ([]model.Position, error) {
	stored, err := r.Store.FindPositions(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if task.Mode != model.ModeLive {
		return stored, nil
	}

	live, err := r.Target.Positions(ctx, task.Live.OperatorWallet)
	if err != nil {
		return nil, fmt.Errorf("reconciler: fetch own live positions: %w", err)
	}
	storedByCondition := make(map[string]model.Position, len(stored))
	for _, p := range stored {
		storedByCondition[p.ConditionID] = p
	}

	out := make([]model.Position, 0, len(live))
	for _, p := range live {
		if p.Size <= 0 {
			continue
		}
		pos := model.Position{TaskID: task.ID, Asset: p.Asset, ConditionID: p.ConditionID, Size: p.Size}
		if s, ok := storedByCondition[p.ConditionID]; ok {
			pos.OutcomeIndex = s.OutcomeIndex
			pos.AvgPrice = s.AvgPrice
			pos.TotalBought = s.TotalBought
			pos.RealizedPnl = s.RealizedPnl
			pos.Title, pos.Slug, pos.OutcomeLabel = s.Title, s.Slug, s.OutcomeLabel
		}
		out = append(out, pos)
	}
	return out, nil
}

// forcedClose implements the forcedClose policy in SPEC_FULL.md §4.8: sell
// at best bid if the book has any, otherwise treat the market as settled
// and redeem. It builds a synthetic activity carrying the position's own
// condition/asset/price so the existing SELL and REDEEM handlers can run
// unchanged — with no target position supplied, the SELL handlers'
// sell-ratio reconstruction already resolves to "sell everything", which is
// exactly forcedClose's intent, and fillSell already ignores the slippage
// ceiling for SELL fills.
func (r *Reconciler) forcedClose(ctx context.Context, task *model.Task, pos *model.Position) handler.Result {
	book, err := r.Handlers.Books.OrderBook(ctx, pos.Asset)
	if err != nil {
		return handler.Result{Outcome: handler.OutcomeDoneSkipped, Reason: "order book fetch failed", Err: err}
	}

	synthetic := &model.Activity{
		TaskID:       task.ID,
		TxHash:       fmt.Sprintf("forced-close:%s:%s:%d", task.ID, pos.ConditionID, r.Now().Unix()),
		Timestamp:    r.Now(),
		ConditionID:  pos.ConditionID,
		Asset:        pos.Asset,
		OutcomeIndex: pos.OutcomeIndex,
		Size:         pos.Size,
		Price:        pos.AvgPrice,
		Title:        pos.Title,
		Slug:         pos.Slug,
		OutcomeLabel: pos.OutcomeLabel,
	}

	if hasBids(book) {
		synthetic.Side = model.SideSell
		if task.Mode == model.ModeLive {
			return r.Handlers.SellLive(ctx, task, synthetic, pos, pos.Size, nil, 0)
		}
		return r.Handlers.SellMock(ctx, task, synthetic, pos, nil, 0)
	}

	synthetic.Side = model.SideRedeem
	return r.Handlers.Redeem(ctx, task, synthetic, pos)
}

func hasBids(book venue.Book) bool {
	for _, l := range book.Bids {
		if l.Price > 0 && l.Size > 0 {
			return true
		}
	}
	return false
}
