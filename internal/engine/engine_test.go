package engine

import (
	"context"
	"testing"
	"time"

	"github.com/copytrade/engine/internal/handler"
	"github.com/copytrade/engine/internal/ingest"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/onchain"
	"github.com/copytrade/engine/internal/reconciler"
	"github.com/copytrade/engine/internal/settlement"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

func closeEnough(a, b, eps float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= eps
}

func newEngine(t *testing.T, fake *venue.Fake) (*Engine, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	settle := settlement.NewAdapter(onchain.NewFake(), "0xsettlement", "0xcollateral")
	h := handler.New(mem, fake, settle, now)
	ing := ingest.New(fake, mem, now)
	rec := reconciler.New(mem, fake, h, now)
	return New(mem, fake, ing, h, rec, now), mem
}

// TestTick_IngestsAndExecutesBuy runs a whole tick end to end: a fresh BUY
// activity appears on the fake venue, gets ingested, and is filled in the
// same tick.
func TestTick_IngestsAndExecutesBuy(t *testing.T) {
	fake := venue.NewFake()
	eng, mem := newEngine(t, fake)

	task := &model.Task{
		ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget",
		FixedAmount: 20, InitialFinance: 1000, CurrentBalance: 1000, Status: model.StatusRunning,
	}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	fake.ActivityPages["0xtarget"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Price: 0.40},
	}
	fake.Books["asset1"] = venue.Book{Asks: []venue.Level{{Price: 0.40, Size: 1000}}}

	if err := eng.Tick(context.Background(), "t1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	pos, err := mem.FindPosition(context.Background(), "t1", "asset1", "cond1")
	if err != nil {
		t.Fatalf("expected position opened, got err=%v", err)
	}
	if !closeEnough(pos.Size, 50, 0.01) {
		t.Errorf("expected 50 tokens bought (20/0.40), got %v", pos.Size)
	}

	activities, _ := mem.ListActivitiesByAsset(context.Background(), "t1", "asset1")
	if len(activities) != 1 || activities[0].State != model.ExecDoneOK {
		t.Fatalf("expected activity marked done-ok, got %+v", activities)
	}

	updated, _ := mem.GetTask(context.Background(), "t1")
	if !closeEnough(updated.CurrentBalance, 980, 0.01) {
		t.Errorf("expected balance debited to 980, got %v", updated.CurrentBalance)
	}
}

// TestTick_SellDispatchesAgainstExistingPosition seeds a position and a
// pending SELL activity directly (bypassing ingest) and confirms dispatch
// alone sells it down.
func TestTick_SellDispatchesAgainstExistingPosition(t *testing.T) {
	fake := venue.NewFake()
	eng, mem := newEngine(t, fake)

	task := &model.Task{
		ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget",
		FixedAmount: 20, InitialFinance: 1000, CurrentBalance: 1000, Status: model.StatusRunning,
	}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	pos := &model.Position{TaskID: "t1", Asset: "asset1", ConditionID: "cond1", Size: 50, AvgPrice: 0.40}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	sell := &model.Activity{
		TxHash: "tx2", TaskID: "t1", Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		ConditionID: "cond1", Asset: "asset1", Side: model.SideSell, Size: 25, Price: 0.45,
		State: model.ExecNew,
	}
	if err := mem.InsertActivity(context.Background(), sell); err != nil {
		t.Fatalf("seed sell activity: %v", err)
	}

	// Target fully exited: absent target position means sell-ratio
	// reconstruction sells everything this task holds, not just the 25
	// named on the triggering activity.
	fake.TargetPos["0xtarget"] = nil
	fake.Books["asset1"] = venue.Book{Bids: []venue.Level{{Price: 0.45, Size: 1000}}}

	if err := eng.Tick(context.Background(), "t1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if _, err := mem.FindPosition(context.Background(), "t1", "asset1", "cond1"); err != store.ErrNotFound {
		t.Fatalf("expected position fully liquidated, got err=%v", err)
	}

	records, _ := mem.ListTradeRecordsByTask(context.Background(), "t1")
	if len(records) != 1 || records[0].Side != model.SideSell {
		t.Fatalf("expected 1 SELL trade record, got %+v", records)
	}
	if !closeEnough(records[0].Size, 50, 0.01) {
		t.Errorf("expected the full 50 tokens sold, got %v", records[0].Size)
	}
}

// TestTick_LiveSellReadsOwnPositionFromVenueNotStore seeds a stale local
// position row alongside a larger venue-reported size and confirms the
// sell-ratio math and fill size follow the venue figure, per SPEC_FULL.md
// §4.5's "Live find(taskId) delegates to the venue" rule.
func TestTick_LiveSellReadsOwnPositionFromVenueNotStore(t *testing.T) {
	fake := venue.NewFake()
	eng, mem := newEngine(t, fake)

	task := &model.Task{
		ID: "t1", Mode: model.ModeLive, TargetAddress: "0xtarget",
		Live:           &model.LiveConfig{OperatorWallet: "0xoperator", PrivateKey: "0xabc"},
		FixedAmount:    20, InitialFinance: 1000, CurrentBalance: 1000, Status: model.StatusRunning,
	}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Local row understates the position; the venue's own-wallet snapshot
	// is larger and must win.
	stale := &model.Position{TaskID: "t1", Asset: "asset1", ConditionID: "cond1", Size: 10, AvgPrice: 0.40}
	if err := mem.UpsertPosition(context.Background(), stale); err != nil {
		t.Fatalf("seed stale position: %v", err)
	}
	fake.TargetPos["0xoperator"] = []model.TargetPosition{{ConditionID: "cond1", Asset: "asset1", Size: 50}}

	sell := &model.Activity{
		TxHash: "tx2", TaskID: "t1", Timestamp: time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
		ConditionID: "cond1", Asset: "asset1", Side: model.SideSell, Size: 25, Price: 0.45,
		State: model.ExecNew,
	}
	if err := mem.InsertActivity(context.Background(), sell); err != nil {
		t.Fatalf("seed sell activity: %v", err)
	}
	fake.TargetPos["0xtarget"] = nil
	fake.Books["asset1"] = venue.Book{Bids: []venue.Level{{Price: 0.45, Size: 1000}}}

	if err := eng.Tick(context.Background(), "t1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	records, _ := mem.ListTradeRecordsByTask(context.Background(), "t1")
	if len(records) != 1 || records[0].Side != model.SideSell {
		t.Fatalf("expected 1 SELL trade record, got %+v", records)
	}
	if !closeEnough(records[0].Size, 50, 0.01) {
		t.Errorf("expected the venue-reported 50 tokens sold, not the stale local 10, got %v", records[0].Size)
	}
}

func TestTick_StoppedTaskIsNoop(t *testing.T) {
	fake := venue.NewFake()
	eng, mem := newEngine(t, fake)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget", Status: model.StatusStopped}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	fake.ActivityPages["0xtarget"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Price: 0.40},
	}

	if err := eng.Tick(context.Background(), "t1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	activities, _ := mem.ListActivitiesByAsset(context.Background(), "t1", "asset1")
	if len(activities) != 0 {
		t.Errorf("expected a stopped task to never ingest, got %+v", activities)
	}
}

func TestReconcile_DelegatesToReconcilerSweep(t *testing.T) {
	fake := venue.NewFake()
	eng, mem := newEngine(t, fake)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget", CurrentBalance: 1000}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	pos := &model.Position{TaskID: "t1", Asset: "asset1", ConditionID: "cond1", Size: 10, AvgPrice: 0.5}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}
	fake.TargetPos["0xtarget"] = nil
	fake.Books["asset1"] = venue.Book{Bids: []venue.Level{{Price: 0.5, Size: 100}}}

	if err := eng.Reconcile(context.Background(), "t1"); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, err := mem.FindPosition(context.Background(), "t1", "asset1", "cond1"); err != store.ErrNotFound {
		t.Fatalf("expected reconcile to forced-close the position, got err=%v", err)
	}
}
