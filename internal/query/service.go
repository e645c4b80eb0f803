package query

import (
	"LendLedger/internal/projection"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a projected entity does not exist.
var ErrNotFound = errors.New("not found")

// LiquidationHistory is the in-memory liquidation feed kept by the
// projection worker.
type LiquidationHistory interface {
	QueryByMarket(marketID string, limit int) []projection.LiquidationHistoryEntry
}

// QueryService provides read-only access to projection tables. Every
// response carries as_of_sequence, the last instruction the projections
// have applied.
type QueryService struct {
	db      *sql.DB
	history LiquidationHistory
}

func NewQueryService(db *sql.DB, history LiquidationHistory) *QueryService {
	return &QueryService{db: db, history: history}
}

// GetReserves returns every reserve of a market ordered by index.
func (qs *QueryService) GetReserves(ctx context.Context, marketID string) ([]ReserveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT reserve_index, reserve_id, token_mint, deposit_note_mint, loan_note_mint,
		       total_deposits::text, total_deposit_notes::text, total_loan_notes::text,
		       outstanding_debt::text, uncollected_fees::text, accrued_until, data, last_sequence
		FROM projections.reserves
		WHERE market_id = $1
		ORDER BY reserve_index
	`, marketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reserves []ReserveResponse
	for rows.Next() {
		r := ReserveResponse{MarketID: marketID, AsOfSequence: asOfSeq}
		var index int32
		var data []byte
		if err := rows.Scan(
			&index, &r.ReserveID, &r.TokenMint, &r.DepositNoteMint, &r.LoanNoteMint,
			&r.TotalDeposits, &r.TotalDepositNotes, &r.TotalLoanNotes,
			&r.OutstandingDebt, &r.UncollectedFees, &r.AccruedUntil, &data, &r.LastSequence,
		); err != nil {
			return nil, err
		}
		r.ReserveIndex = uint16(index)
		r.Detail = data
		reserves = append(reserves, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(reserves) == 0 {
		return nil, fmt.Errorf("market %s: %w", marketID, ErrNotFound)
	}
	return reserves, nil
}

// GetObligation returns one projected obligation.
func (qs *QueryService) GetObligation(ctx context.Context, obligationID uuid.UUID) (*ObligationResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	o := &ObligationResponse{ObligationID: obligationID, AsOfSequence: asOfSeq}
	var data []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT market_id, owner, data, last_sequence
		FROM projections.obligations
		WHERE obligation_id = $1
	`, obligationID).Scan(&o.MarketID, &o.Owner, &data, &o.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("obligation %s: %w", obligationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	o.Detail = data
	return o, nil
}

// GetBid returns a bidder's bid on a market, open or closed.
func (qs *QueryService) GetBid(ctx context.Context, marketID string, bidder uuid.UUID) (*BidResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	b := &BidResponse{MarketID: marketID, Bidder: bidder, AsOfSequence: asOfSeq}
	var data []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT bid_id, bid_mint, bid_limit::text, state, data, last_sequence
		FROM projections.bids
		WHERE market_id = $1 AND bidder = $2
	`, marketID, bidder).Scan(&b.BidID, &b.BidMint, &b.BidLimit, &b.State, &data, &b.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("bid %s/%s: %w", marketID, bidder, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	b.Detail = data
	return b, nil
}

// GetBalances returns every wallet account owned by a user.
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, mint, balance, last_sequence
		FROM projections.balances
		WHERE scope = 'user' AND entity_id = $1
		ORDER BY mint
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &BalanceResponse{Owner: owner, Balances: []MintBalance{}, AsOfSequence: asOfSeq}
	for rows.Next() {
		var b MintBalance
		if err := rows.Scan(&b.AccountPath, &b.Mint, &b.Balance, &b.LastSequence); err != nil {
			return nil, err
		}
		resp.Balances = append(resp.Balances, b)
	}
	return resp, rows.Err()
}

// GetJournalHistory returns journal entries touching an owner's wallets,
// newest first. afterSequence is an exclusive upper bound for paging.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	owner uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	accountPrefix := fmt.Sprintf("user:%s:%%", owner)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, mint, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Mint, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GetLiquidations returns recent liquidations of a market, newest first.
func (qs *QueryService) GetLiquidations(marketID string, limit int) []projection.LiquidationHistoryEntry {
	if qs.history == nil {
		return []projection.LiquidationHistoryEntry{}
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return qs.history.QueryByMarket(marketID, limit)
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and that projected balances
// of every mint sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}
	report := &IntegrityReport{AsOfSequence: asOfSeq}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash != e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT mint, SUM(balance)::bigint AS total
		FROM projections.balances
		GROUP BY mint
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedMint
		if err := balanceRows.Scan(&u.Mint, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedMints = append(report.UnbalancedMints, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedMints) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}
