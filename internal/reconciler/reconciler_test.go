package reconciler

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/copytrade/engine/internal/handler"
	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/onchain"
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

func newReconciler(t *testing.T, books *venue.Fake, chain onchain.ChainClient) (*Reconciler, *store.MemoryStore) {
	t.Helper()
	mem := store.NewMemoryStore()
	now := func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	settle := settlement.NewAdapter(chain, "0xsettlement", "0xcollateral")
	h := handler.New(mem, books, settle, now)
	r := New(mem, books, h, now)
	return r, mem
}

// TestSweep_ForcedCloseSellsAtBestBid reproduces the spec's reconciler
// scenario: an own position the target has exited gets sold at the book's
// best bid, with no slippage cap applied.
func TestSweep_ForcedCloseSellsAtBestBid(t *testing.T) {
	books := venue.NewFake()
	r, mem := newReconciler(t, books, onchain.NewFake())

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget", CurrentBalance: 1000}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	pos := &model.Position{TaskID: "t1", Asset: "C5-asset", ConditionID: "C5", Size: 50, AvgPrice: 0.40}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	// Target no longer holds C5.
	books.TargetPos["0xtarget"] = nil
	books.Books["C5-asset"] = venue.Book{Bids: []venue.Level{{Price: 0.45, Size: 1000}}}

	if err := r.Sweep(context.Background(), "t1"); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := mem.FindPosition(context.Background(), "t1", "C5-asset", "C5"); err != store.ErrNotFound {
		t.Fatalf("expected position closed, got err=%v", err)
	}

	records, _ := mem.ListTradeRecordsByTask(context.Background(), "t1")
	if len(records) != 1 || records[0].Side != model.SideSell {
		t.Fatalf("expected 1 SELL trade record, got %+v", records)
	}
	if !closeEnough(records[0].Size, 50, 0.01) {
		t.Errorf("expected forced-close to sell the full 50, got %v", records[0].Size)
	}
	if !closeEnough(records[0].Price, 0.45, 0.001) {
		t.Errorf("expected fill at best bid 0.45, got %v", records[0].Price)
	}
	if !closeEnough(records[0].RealizedPnl, 2.50, 0.01) {
		t.Errorf("expected realizedPnl 2.50, got %v", records[0].RealizedPnl)
	}

	updatedTask, _ := mem.GetTask(context.Background(), "t1")
	if !closeEnough(updatedTask.CurrentBalance, 1022.5, 0.01) {
		t.Errorf("expected balance credited with the 22.50 proceeds, got %v", updatedTask.CurrentBalance)
	}
}

func TestSweep_NoBidsFallsBackToRedeem(t *testing.T) {
	books := venue.NewFake()
	fakeChain := onchain.NewFake()
	cid, err := onchain.PadConditionID([]byte("C6"))
	if err != nil {
		t.Fatalf("PadConditionID: %v", err)
	}
	fakeChain.Denominators[cid] = big.NewInt(1)
	fakeChain.SlotCounts[cid] = 2
	fakeChain.Numerators[cid] = map[int]*big.Int{0: big.NewInt(1), 1: big.NewInt(0)}

	r, mem := newReconciler(t, books, fakeChain)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget", CurrentBalance: 1000}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	pos := &model.Position{TaskID: "t1", Asset: "C6-asset", ConditionID: "C6", OutcomeIndex: 0, Size: 20, AvgPrice: 0.30}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	books.TargetPos["0xtarget"] = nil
	// No book seeded for C6-asset: Books.Books["C6-asset"] is the zero Book{}.

	if err := r.Sweep(context.Background(), "t1"); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := mem.FindPosition(context.Background(), "t1", "C6-asset", "C6"); err != store.ErrNotFound {
		t.Fatalf("expected position redeemed away, got err=%v", err)
	}

	records, _ := mem.ListTradeRecordsByTask(context.Background(), "t1")
	if len(records) != 1 || records[0].Side != model.SideRedeem {
		t.Fatalf("expected 1 REDEEM trade record, got %+v", records)
	}
	if !closeEnough(records[0].RealizedPnl, 14.0, 0.01) {
		t.Errorf("expected realizedPnl 20*(1-0.30)=14.00, got %v", records[0].RealizedPnl)
	}
}

func TestSweep_PositionStillHeldByTargetUntouched(t *testing.T) {
	books := venue.NewFake()
	r, mem := newReconciler(t, books, onchain.NewFake())

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget", CurrentBalance: 1000}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	pos := &model.Position{TaskID: "t1", Asset: "C7-asset", ConditionID: "C7", Size: 30, AvgPrice: 0.5}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	books.TargetPos["0xtarget"] = []model.TargetPosition{{ConditionID: "C7", Asset: "C7-asset", Size: 10}}

	if err := r.Sweep(context.Background(), "t1"); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	got, err := mem.FindPosition(context.Background(), "t1", "C7-asset", "C7")
	if err != nil {
		t.Fatalf("expected position untouched, got err=%v", err)
	}
	if got.Size != 30 {
		t.Errorf("expected position size unchanged at 30, got %v", got.Size)
	}
}

// TestSweep_LiveModeEnumeratesOwnPositionsFromVenue confirms the reconciler
// lists Live own positions from the venue's own-wallet snapshot rather than
// the local ledger: a position absent from the venue snapshot but present
// locally must be left untouched (it is not, in fact, still held), and one
// present in both must be forced-closed if the target has exited it.
func TestSweep_LiveModeEnumeratesOwnPositionsFromVenue(t *testing.T) {
	books := venue.NewFake()
	r, mem := newReconciler(t, books, onchain.NewFake())

	task := &model.Task{
		ID: "t1", Mode: model.ModeLive, TargetAddress: "0xtarget",
		Live:           &model.LiveConfig{OperatorWallet: "0xoperator", PrivateKey: "0xabc"},
		CurrentBalance: 1000,
	}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// Stale local row for a position the venue no longer reports as held.
	stale := &model.Position{TaskID: "t1", Asset: "stale-asset", ConditionID: "stale", Size: 5, AvgPrice: 0.3}
	if err := mem.UpsertPosition(context.Background(), stale); err != nil {
		t.Fatalf("seed stale position: %v", err)
	}
	// Real local row, present in both the ledger and the venue snapshot.
	pos := &model.Position{TaskID: "t1", Asset: "C8-asset", ConditionID: "C8", Size: 50, AvgPrice: 0.40}
	if err := mem.UpsertPosition(context.Background(), pos); err != nil {
		t.Fatalf("seed position: %v", err)
	}

	books.TargetPos["0xoperator"] = []model.TargetPosition{{ConditionID: "C8", Asset: "C8-asset", Size: 50}}
	books.TargetPos["0xtarget"] = nil // target has exited C8
	books.Books["C8-asset"] = venue.Book{Bids: []venue.Level{{Price: 0.45, Size: 1000}}}

	if err := r.Sweep(context.Background(), "t1"); err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if _, err := mem.FindPosition(context.Background(), "t1", "C8-asset", "C8"); err != store.ErrNotFound {
		t.Fatalf("expected C8 forced-closed, got err=%v", err)
	}

	records, _ := mem.ListTradeRecordsByTask(context.Background(), "t1")
	if len(records) != 1 || records[0].Asset != "C8-asset" {
		t.Fatalf("expected exactly 1 trade record for C8-asset (stale-asset is not in the venue snapshot, so never swept), got %+v", records)
	}
}

func TestSweep_NoOwnPositionsIsNoop(t *testing.T) {
	books := venue.NewFake()
	r, mem := newReconciler(t, books, onchain.NewFake())

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xtarget"}
	if err := mem.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := r.Sweep(context.Background(), "t1"); err != nil {
		t.Fatalf("expected no-op sweep to succeed, got %v", err)
	}
}
