// Package ingest implements C4: fetching a task's target trader activity,
// deduplicating it against what's already persisted, and writing new rows.
// Transport (timeouts, retries, JSON decoding) lives in internal/venue and
// internal/httpx; this package is transport-agnostic over venue.DataClient
// so its persistence rules are testable against an in-memory fake, the same
// separation the teacher draws between internal/trade.Service and
// internal/store.Store.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

// WindowMock and WindowLive are the default lookback windows (SPEC_FULL.md
// §4.4): wider in Mock (cheaper to re-fetch, no on-chain cost to lagging)
// and narrow in Live (keep latency low against the trader's real activity).
const (
	WindowMock = time.Hour
	WindowLive = time.Minute
)

// Ingestor fetches and persists one task's new activity per tick.
type Ingestor struct {
	Data  venue.DataClient
	Store store.Store
	Now   func() time.Time
}

// New builds an Ingestor.
func New(data venue.DataClient, st store.Store, now func() time.Time) *Ingestor {
	return &Ingestor{Data: data, Store: st, Now: now}
}

func windowFor(mode model.Mode) time.Duration {
	if mode == model.ModeLive {
		return WindowLive
	}
	return WindowMock
}

// Run fetches the task's recent activity and applies the persistence rules
// in SPEC_FULL.md §4.4, in the order the venue returns them:
//  1. Drop anything older than the window.
//  2. Skip anything already persisted for this (taskId, txHash).
//  3. Persist everything else; a BUY for a conditionId this task already has
//     an earlier persisted BUY for (from this response or an earlier tick)
//     is persisted pre-closed (ExecDoneSkip, ExecAttempts=
//     model.DuplicateSentinel) rather than left eligible. Because rows are
//     inserted one at a time in response order, a duplicate later in the
//     same response sees its predecessor already persisted.
//
// Each activity is inserted independently: a later failure does not roll
// back or block earlier successful inserts.
func (ig *Ingestor) Run(ctx context.Context, task *model.Task) error {
	now := ig.Now()
	cutoff := now.Add(-windowFor(task.Mode))

	pages, err := ig.Data.Activity(ctx, task.TargetAddress, cutoff)
	if err != nil {
		return fmt.Errorf("ingest: fetch activity for task %s: %w", task.ID, err)
	}

	for _, p := range pages {
		if p.Timestamp.Before(cutoff) {
			continue
		}

		exists, err := ig.Store.ActivityExists(ctx, task.ID, p.TxHash)
		if err != nil {
			return fmt.Errorf("ingest: check existing activity %s: %w", p.TxHash, err)
		}
		if exists {
			continue
		}

		a := &model.Activity{
			TxHash:       p.TxHash,
			TaskID:       task.ID,
			Timestamp:    p.Timestamp,
			ConditionID:  p.ConditionID,
			Asset:        p.Asset,
			Side:         p.Side,
			Size:         p.Size,
			Notional:     p.Notional,
			Price:        p.Price,
			OutcomeIndex: p.OutcomeIndex,
			Title:        p.Title,
			Slug:         p.Slug,
			OutcomeLabel: p.OutcomeLabel,
			State:        model.ExecNew,
		}

		if p.Side == model.SideBuy {
			hasEarlier, err := ig.Store.HasEarlierBuy(ctx, task.ID, p.ConditionID, p.Timestamp.Unix())
			if err != nil {
				return fmt.Errorf("ingest: check earlier buy for %s: %w", p.ConditionID, err)
			}
			if hasEarlier {
				a.State = model.ExecDoneSkip
				a.ExecAttempts = model.DuplicateSentinel
			}
		}

		if err := ig.Store.InsertActivity(ctx, a); err != nil {
			return fmt.Errorf("ingest: persist activity %s: %w", p.TxHash, err)
		}
		metrics.ActivitiesIngestedTotal.WithLabelValues(string(a.Side)).Inc()
	}

	return nil
}
