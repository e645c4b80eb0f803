package main

import (
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// recoverCore rebuilds the core's state: latest verified snapshot, then
// configured markets the snapshot does not know, then every logged
// instruction after the snapshot.
func recoverCore(
	ctx context.Context,
	cfg config.Config,
	lendingCore *core.LendingCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	fromSequence := int64(0)
	if snap != nil {
		var state core.SnapshotState
		if err := json.Unmarshal(snap.State, &state); err != nil {
			return fmt.Errorf("decode snapshot %d: %w", snap.Sequence, err)
		}
		lendingCore.RestoreFromSnapshot(&state)
		fromSequence = snap.Sequence + 1
		logger.Info().Int64("sequence", snap.Sequence).Int("markets", len(state.Markets)).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start from sequence 0")
	}

	// Markets are configuration, not instructions, so they load before
	// replay. A market already in the snapshot keeps its recorded state.
	markets, err := cfg.BuildMarkets()
	if err != nil {
		return fmt.Errorf("build markets: %w", err)
	}
	for _, m := range markets {
		if lendingCore.HasMarket(m.ID) {
			continue
		}
		if err := lendingCore.AddMarket(m); err != nil {
			return fmt.Errorf("add market %s: %w", m.ID, err)
		}
		logger.Info().Str("market", m.ID).Int("reserves", len(m.Reserves)).Msg("market loaded")
	}

	start := time.Now()
	replayed, err := replayEventsFromLog(ctx, snapMgr, lendingCore, fromSequence, metrics)
	if err != nil {
		return fmt.Errorf("event replay: %w", err)
	}
	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	if replayed > 0 {
		logger.Info().Int64("events", replayed).Int64("sequence", lendingCore.GetSequence()).Msg("replay complete")
	}

	if snap != nil && replayed == 0 {
		var expected [32]byte
		copy(expected[:], snap.StateHash)
		if actual := lendingCore.GetStateHash(); actual != expected {
			return fmt.Errorf("state hash mismatch after restore: expected %x, got %x", expected, actual)
		}
		logger.Info().Msg("state hash verified after snapshot restore")
	}
	return nil
}

// replayEventsFromLog re-applies logged instructions from fromSequence on.
// Each one must reproduce its recorded state hash.
func replayEventsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	lendingCore *core.LendingCore,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	var total int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return total, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			return total, nil
		}

		for _, row := range rows {
			env, err := envelopeFromRow(row)
			if err != nil {
				return total, err
			}
			if err := lendingCore.Replay(env); err != nil {
				return total, err
			}
			total++
			if metrics != nil {
				metrics.ReplayEventsTotal.Inc()
			}
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}
}

func envelopeFromRow(row persistence.EventRow) (*event.EventEnvelope, error) {
	et, err := event.ParseEventType(row.EventType)
	if err != nil {
		return nil, fmt.Errorf("event %d: %w", row.Sequence, err)
	}
	env := &event.EventEnvelope{
		Sequence:       row.Sequence,
		IdempotencyKey: row.IdempotencyKey,
		EventType:      et,
		MarketID:       row.MarketID,
		Timestamp:      row.Timestamp,
		SourceSequence: row.SourceSequence,
		Payload:        row.Payload,
	}
	copy(env.StateHash[:], row.StateHash)
	copy(env.PrevHash[:], row.PrevHash)
	return env, nil
}

// --- Snapshots ---

// runPeriodicSnapshots snapshots the core whenever interval instructions
// have been applied since the last one.
func runPeriodicSnapshots(
	ctx context.Context,
	lendingCore *core.LendingCore,
	snapMgr *persistence.SnapshotManager,
	interval int64,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) {
	if interval <= 0 {
		interval = 10_000
	}

	last := lendingCore.GetSequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lendingCore.GetSequence()-last < interval {
				continue
			}
			seq, err := takeSnapshot(ctx, lendingCore, snapMgr, metrics)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq + 1
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

// takeSnapshot captures the core state and stores it as verified. It
// returns the last applied sequence the snapshot covers.
func takeSnapshot(
	ctx context.Context,
	lendingCore *core.LendingCore,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()

	state := lendingCore.CreateSnapshotState()
	if state.Sequence < 0 {
		return state.Sequence, fmt.Errorf("nothing applied yet")
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return state.Sequence, fmt.Errorf("encode snapshot: %w", err)
	}

	snap := &persistence.SnapshotData{
		Sequence:  state.Sequence,
		StateHash: state.StateHash[:],
		State:     encoded,
		CreatedAt: time.Now().UTC(),
	}
	if err := snapMgr.SaveSnapshot(ctx, snap); err != nil {
		return state.Sequence, fmt.Errorf("save snapshot: %w", err)
	}
	// Built from live state, so it is trusted as soon as it is stored.
	if err := snapMgr.MarkVerified(ctx, snap.Sequence); err != nil {
		return state.Sequence, fmt.Errorf("mark snapshot verified: %w", err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(len(encoded)))
		metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return snap.Sequence, nil
}
