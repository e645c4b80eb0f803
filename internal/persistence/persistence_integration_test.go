package persistence_test

import (
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/testutil"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func eventRow(seq int64, key string) persistence.EventRow {
	market := "punks"
	return persistence.EventRow{
		Sequence:       seq,
		EventType:      "deposit_tokens",
		IdempotencyKey: key,
		MarketID:       &market,
		Payload:        []byte(`{"market":"punks"}`),
		StateHash:      make([]byte, 32),
		PrevHash:       make([]byte, 32),
		Timestamp:      time.Unix(1700000000+seq, 0).UTC(),
		SourceSequence: seq,
	}
}

func journalRow(seq int64) persistence.JournalRow {
	return persistence.JournalRow{
		JournalID:     uuid.NewString(),
		BatchID:       uuid.NewString(),
		EventRef:      "k",
		Sequence:      seq,
		DebitAccount:  "reserve:punks:0:vault",
		CreditAccount: "user:x:wallet",
		Mint:          "USDC",
		Amount:        100,
		JournalType:   "deposit",
		Timestamp:     1700000000,
	}
}

// =============================================================================
// Persistence worker + event log reads
// =============================================================================

func TestPersistenceWorker_WritesAndReplays(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	in := make(chan persistence.CoreOutput, 8)
	worker := persistence.NewPersistenceWorker(db, in, 2, 5*time.Millisecond,
		observability.NewMetricsWith(prometheus.NewRegistry()))

	for seq := int64(0); seq < 3; seq++ {
		in <- persistence.CoreOutput{
			EventRow:    eventRow(seq, "key-"+string(rune('a'+seq))),
			JournalRows: []persistence.JournalRow{journalRow(seq)},
			EmittedAt:   time.Now(),
		}
	}
	close(in)
	if err := worker.Run(ctx); err != nil {
		t.Fatalf("worker: %v", err)
	}

	snapMgr := persistence.NewSnapshotManager(db)
	latest, err := snapMgr.GetLatestSequence(ctx)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 2 {
		t.Errorf("got latest %d, want 2", latest)
	}

	rows, err := snapMgr.LoadEventsFrom(ctx, 1, 10)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 || rows[0].Sequence != 1 || rows[1].Sequence != 2 {
		t.Fatalf("got %d rows, want sequences 1 and 2", len(rows))
	}
	if rows[0].MarketID == nil || *rows[0].MarketID != "punks" {
		t.Errorf("got market %v, want punks", rows[0].MarketID)
	}

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("deposit_tokens", "key-b")
	if err != nil || !dup {
		t.Errorf("got dup=%v err=%v, want logged key to be a duplicate", dup, err)
	}
	dup, err = checker.IsDuplicate("withdraw_tokens", "key-b")
	if err != nil || dup {
		t.Errorf("got dup=%v err=%v, want key scoped by instruction type", dup, err)
	}
}

func TestSnapshotManager_EmptyLog(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	snapMgr := persistence.NewSnapshotManager(db)
	latest, err := snapMgr.GetLatestSequence(context.Background())
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != -1 {
		t.Errorf("got %d, want -1 for an empty log", latest)
	}
	snap, err := snapMgr.LoadLatestSnapshot(context.Background())
	if err != nil || snap != nil {
		t.Errorf("got %v, %v, want nil snapshot on cold start", snap, err)
	}
}

// =============================================================================
// Snapshots
// =============================================================================

func TestSnapshotManager_OnlyVerifiedSnapshotsLoad(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)

	state, _ := json.Marshal(map[string]int64{"sequence": 10})
	hash := make([]byte, 32)
	hash[0] = 0xAB

	for _, seq := range []int64{10, 20} {
		if err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{Sequence: seq, StateHash: hash, State: state}); err != nil {
			t.Fatalf("save %d: %v", seq, err)
		}
	}
	if err := snapMgr.MarkVerified(ctx, 10); err != nil {
		t.Fatalf("verify: %v", err)
	}

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap == nil || snap.Sequence != 10 {
		t.Fatalf("got %+v, want verified snapshot 10 (20 is unverified)", snap)
	}
	if snap.StateHash[0] != 0xAB {
		t.Errorf("got hash %x, want prefix ab", snap.StateHash)
	}
	if string(snap.State) != string(state) {
		t.Errorf("got state %s, want %s", snap.State, state)
	}
}

func TestSnapshotManager_RejectsEmptyState(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	err := persistence.NewSnapshotManager(db).SaveSnapshot(context.Background(), &persistence.SnapshotData{Sequence: 1})
	if err == nil {
		t.Fatal("expected error for empty snapshot state")
	}
}

func TestMigrator_NothingPendingAfterUp(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	pending, err := persistence.NewMigrator(db, testutil.MigrationsDir(t)).Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("got pending %v, want none", pending)
	}
}
