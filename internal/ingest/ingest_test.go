package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/copytrade/engine/internal/model"
	"github.com/copytrade/engine/internal/store"
	"github.com/copytrade/engine/internal/venue"
)

func newIngestor(t *testing.T, now time.Time) (*Ingestor, *venue.Fake, *store.MemoryStore) {
	t.Helper()
	fake := venue.NewFake()
	st := store.NewMemoryStore()
	ig := New(fake, st, func() time.Time { return now })
	return ig, fake, st
}

func mustTask(t *testing.T, st *store.MemoryStore, task *model.Task) {
	t.Helper()
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
}

func TestRun_PersistsNewActivity(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: now.Add(-5 * time.Minute), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Size: 10, Price: 0.5},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	exists, err := st.ActivityExists(context.Background(), "t1", "tx1")
	if err != nil || !exists {
		t.Fatalf("expected activity tx1 persisted, exists=%v err=%v", exists, err)
	}

	activities, _ := st.ListPendingActivities(context.Background(), "t1")
	if len(activities) != 1 {
		t.Fatalf("expected 1 pending activity, got %d", len(activities))
	}
	if activities[0].State != model.ExecNew {
		t.Errorf("expected new activity to be state new, got %s", activities[0].State)
	}
}

func TestRun_DropsActivitiesOlderThanWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "old", Timestamp: now.Add(-2 * time.Hour), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Size: 10},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	exists, _ := st.ActivityExists(context.Background(), "t1", "old")
	if exists {
		t.Error("expected activity older than the Mock window to be dropped")
	}
}

func TestRun_SkipsAlreadyPersistedTxHash(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	existing := &model.Activity{TxHash: "tx1", TaskID: "t1", Timestamp: now.Add(-10 * time.Minute), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Size: 5, State: model.ExecDoneOK}
	if err := st.InsertActivity(context.Background(), existing); err != nil {
		t.Fatalf("seed InsertActivity: %v", err)
	}

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: now.Add(-10 * time.Minute), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Size: 5},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	activities, _ := st.ListActivitiesByAsset(context.Background(), "t1", "asset1")
	if len(activities) != 1 {
		t.Fatalf("expected the pre-seeded activity to remain the only row, got %d", len(activities))
	}
	if activities[0].State != model.ExecDoneOK {
		t.Errorf("expected the seeded activity untouched, got state %s", activities[0].State)
	}
}

func TestRun_RepeatedBuySameConditionMarkedDuplicate(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: now.Add(-30 * time.Minute), ConditionID: "condA", Asset: "assetA", Side: model.SideBuy, Size: 10},
		{TxHash: "tx2", Timestamp: now.Add(-20 * time.Minute), ConditionID: "condA", Asset: "assetA", Side: model.SideBuy, Size: 8},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	first, err := st.ListActivitiesByAsset(context.Background(), "t1", "assetA")
	if err != nil || len(first) != 2 {
		t.Fatalf("expected 2 activities persisted, got %d err=%v", len(first), err)
	}

	var byTx = make(map[string]model.Activity)
	for _, a := range first {
		byTx[a.TxHash] = a
	}

	if byTx["tx1"].State != model.ExecNew {
		t.Errorf("expected first BUY to stay eligible, got state %s", byTx["tx1"].State)
	}
	dup := byTx["tx2"]
	if dup.State != model.ExecDoneSkip {
		t.Errorf("expected repeat BUY to be pre-closed, got state %s", dup.State)
	}
	if dup.ExecAttempts != model.DuplicateSentinel {
		t.Errorf("expected repeat BUY to carry the duplicate sentinel, got %d", dup.ExecAttempts)
	}
}

func TestRun_SellsAreNeverDeduplicatedByCondition(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeMock, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "s1", Timestamp: now.Add(-30 * time.Minute), ConditionID: "condA", Asset: "assetA", Side: model.SideSell, Size: 4},
		{TxHash: "s2", Timestamp: now.Add(-20 * time.Minute), ConditionID: "condA", Asset: "assetA", Side: model.SideSell, Size: 4},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	activities, _ := st.ListActivitiesByAsset(context.Background(), "t1", "assetA")
	for _, a := range activities {
		if a.State != model.ExecNew {
			t.Errorf("expected SELL activity %s to remain eligible, got state %s", a.TxHash, a.State)
		}
	}
}

func TestRun_UsesLiveWindowForLiveTasks(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ig, fake, st := newIngestor(t, now)

	task := &model.Task{ID: "t1", Mode: model.ModeLive, TargetAddress: "0xabc"}
	mustTask(t, st, task)

	fake.ActivityPages["0xabc"] = []venue.ActivityPage{
		{TxHash: "tx1", Timestamp: now.Add(-2 * time.Minute), ConditionID: "cond1", Asset: "asset1", Side: model.SideBuy, Size: 10},
	}

	if err := ig.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	exists, _ := st.ActivityExists(context.Background(), "t1", "tx1")
	if exists {
		t.Error("expected an activity older than the 1-minute Live window to be dropped")
	}
}
