package projection

import (
	"LendLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// cmd/lendledger bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	EventType      string
	MarketID       *string
	JournalEntries []JournalEntry
	Reserves       []ReserveRow
	Obligations    []ObligationRow
	Bids           []BidRow
	Timestamp      int64 // instruction time, unix seconds
}

// JournalEntry is a simplified journal for projection consumption. The
// debit side's balance increases.
type JournalEntry struct {
	Debit       AccountRef
	Credit      AccountRef
	Mint        string
	Amount      int64
	JournalType string
}

// ProjectionWorker updates projection tables from committed instructions.
// The projection channel is non-blocking with drop; a lagging projection
// is rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	history   *LiquidationHistoryProjection
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		history:   NewLiquidationHistoryProjection(0),
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
		lastSeq:   -1,
	}
}

// History exposes the in-memory liquidation history to the query layer.
func (pw *ProjectionWorker) History() *LiquidationHistoryProjection {
	return pw.history
}

func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if pw.lastSeq >= 0 && output.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().
					Int64("last_sequence", pw.lastSeq).
					Int64("sequence", output.Sequence).
					Msg("projection gap, rebuild balances from the event log")
			}

			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and can be rebuilt.
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
			}
			pw.history.Apply(output)
			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	steps := []struct {
		name string
		run  func() error
	}{
		{"balances", func() error { return pw.updateBalances(ctx, tx, output) }},
		{"reserves", func() error { return pw.upsertReserves(ctx, tx, output) }},
		{"obligations", func() error { return pw.upsertObligations(ctx, tx, output) }},
		{"bids", func() error { return pw.upsertBids(ctx, tx, output) }},
	}
	for _, s := range steps {
		start := time.Now()
		if err := s.run(); err != nil {
			return fmt.Errorf("%s projection: %w", s.name, err)
		}
		if pw.metrics != nil {
			pw.metrics.ProjectionUpdateDur.WithLabelValues(s.name).Observe(time.Since(start).Seconds())
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) updateBalances(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, j := range output.JournalEntries {
		if err := applyBalanceDelta(ctx, tx, j.Debit, j.Amount, output.Sequence); err != nil {
			return err
		}
		if err := applyBalanceDelta(ctx, tx, j.Credit, -j.Amount, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, ref AccountRef, delta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, scope, entity_id, mint, balance, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_path)
		DO UPDATE SET balance = projections.balances.balance + $5, last_sequence = $6, updated_at = NOW()
	`, ref.Path, ref.Scope, ref.EntityID, ref.Mint, delta, seq)
	return err
}

func (pw *ProjectionWorker) upsertReserves(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, r := range output.Reserves {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.reserves
				(market_id, reserve_index, reserve_id, token_mint, deposit_note_mint, loan_note_mint,
				 total_deposits, total_deposit_notes, total_loan_notes, outstanding_debt, uncollected_fees,
				 accrued_until, data, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (market_id, reserve_index) DO UPDATE SET
				total_deposits = $7, total_deposit_notes = $8, total_loan_notes = $9,
				outstanding_debt = $10, uncollected_fees = $11, accrued_until = $12,
				data = $13, last_sequence = $14, updated_at = NOW()
		`, r.MarketID, int32(r.Index), r.ReserveID, r.TokenMint, r.DepositNoteMint, r.LoanNoteMint,
			r.TotalDeposits, r.TotalDepositNotes, r.TotalLoanNotes, r.OutstandingDebt, r.UncollectedFees,
			r.AccruedUntil, r.Data, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func (pw *ProjectionWorker) upsertObligations(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, o := range output.Obligations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.obligations (obligation_id, market_id, owner, data, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (obligation_id) DO UPDATE SET data = $4, last_sequence = $5, updated_at = NOW()
		`, o.ID, o.MarketID, o.Owner, o.Data, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func (pw *ProjectionWorker) upsertBids(ctx context.Context, tx *sql.Tx, output ProjectionOutput) error {
	for _, b := range output.Bids {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.bids (bid_id, market_id, bidder, bid_mint, bid_limit, state, data, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (bid_id) DO UPDATE SET
				bid_mint = $4, bid_limit = $5, state = $6, data = $7, last_sequence = $8, updated_at = NOW()
		`, b.ID, b.MarketID, b.Bidder, b.Mint, b.Limit, b.State, b.Data, output.Sequence); err != nil {
			return err
		}
	}
	return nil
}

// RebuildBalances recomputes projections.balances from the journal table.
// Entity ids and scopes are recovered from the account path.
func RebuildBalances(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, scope, entity_id, mint, balance, last_sequence)
		SELECT account_path,
		       split_part(account_path, ':', 1),
		       CASE WHEN split_part(account_path, ':', 1) = 'external' THEN NULL
		            ELSE split_part(account_path, ':', 2)::uuid END,
		       mint,
		       SUM(delta),
		       MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, mint, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, mint, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, mint
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), -1), NOW() FROM event_log.events
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}
