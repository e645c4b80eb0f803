package projection

import (
	"LendLedger/internal/ledger"
	"LendLedger/internal/state"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// AccountRef identifies one side of a journal entry in the balances
// projection.
type AccountRef struct {
	Path     string
	Scope    string
	EntityID *uuid.UUID // nil for external accounts
	Mint     string
}

// ReserveRow is one row of projections.reserves. Counters are decimal
// strings so uint64 values round-trip through NUMERIC.
type ReserveRow struct {
	MarketID          string
	Index             uint16
	ReserveID         uuid.UUID
	TokenMint         string
	DepositNoteMint   string
	LoanNoteMint      string
	TotalDeposits     string
	TotalDepositNotes string
	TotalLoanNotes    string
	OutstandingDebt   string
	UncollectedFees   string
	AccruedUntil      int64
	Data              []byte
}

type ObligationRow struct {
	ID       uuid.UUID
	MarketID string
	Owner    uuid.UUID
	Data     []byte
}

type BidRow struct {
	ID       uuid.UUID
	MarketID string
	Bidder   uuid.UUID
	Mint     string
	Limit    string
	State    string
	Data     []byte
}

var scopeNames = map[ledger.AccountScope]string{
	ledger.AccountScopeUser:       "user",
	ledger.AccountScopeReserve:    "reserve",
	ledger.AccountScopeObligation: "obligation",
	ledger.AccountScopeEscrow:     "escrow",
	ledger.AccountScopeMarket:     "market",
	ledger.AccountScopeExternal:   "external",
}

// AccountRefFromKey flattens a ledger key for the balances table.
func AccountRefFromKey(k ledger.AccountKey) AccountRef {
	ref := AccountRef{
		Path:  k.AccountPath(),
		Scope: scopeNames[k.Scope],
		Mint:  k.Mint,
	}
	if k.Scope != ledger.AccountScopeExternal {
		id := uuid.UUID(k.EntityID)
		ref.EntityID = &id
	}
	return ref
}

// JournalEntriesFromBatch converts a committed batch for projection use.
func JournalEntriesFromBatch(b *ledger.Batch) []JournalEntry {
	if b == nil {
		return nil
	}
	out := make([]JournalEntry, 0, len(b.Journals))
	for _, j := range b.Journals {
		out = append(out, JournalEntry{
			Debit:       AccountRefFromKey(j.DebitAccount),
			Credit:      AccountRefFromKey(j.CreditAccount),
			Mint:        j.Mint,
			Amount:      j.Amount,
			JournalType: j.JournalType.String(),
		})
	}
	return out
}

// ReserveRowsFromMarkets flattens every reserve of the touched markets.
func ReserveRowsFromMarkets(markets []*state.Market) ([]ReserveRow, error) {
	var rows []ReserveRow
	for _, m := range markets {
		for _, r := range m.Reserves {
			data, err := json.Marshal(r)
			if err != nil {
				return nil, fmt.Errorf("encode reserve %s/%d: %w", m.ID, r.Index, err)
			}
			rows = append(rows, ReserveRow{
				MarketID:          m.ID,
				Index:             r.Index,
				ReserveID:         r.ID,
				TokenMint:         r.TokenMint,
				DepositNoteMint:   r.DepositNoteMint,
				LoanNoteMint:      r.LoanNoteMint,
				TotalDeposits:     strconv.FormatUint(r.State.TotalDeposits, 10),
				TotalDepositNotes: strconv.FormatUint(r.State.TotalDepositNotes, 10),
				TotalLoanNotes:    strconv.FormatUint(r.State.TotalLoanNotes, 10),
				OutstandingDebt:   r.State.OutstandingDebt.String(),
				UncollectedFees:   r.State.UncollectedFees.String(),
				AccruedUntil:      r.State.AccruedUntil,
				Data:              data,
			})
		}
	}
	return rows, nil
}

func ObligationRowsFrom(obligations []*state.Obligation) ([]ObligationRow, error) {
	rows := make([]ObligationRow, 0, len(obligations))
	for _, o := range obligations {
		data, err := json.Marshal(o)
		if err != nil {
			return nil, fmt.Errorf("encode obligation %s: %w", o.ID, err)
		}
		rows = append(rows, ObligationRow{ID: o.ID, MarketID: o.MarketID, Owner: o.Owner, Data: data})
	}
	return rows, nil
}

func BidRowsFrom(bids []*state.Bid) ([]BidRow, error) {
	rows := make([]BidRow, 0, len(bids))
	for _, b := range bids {
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode bid %s: %w", b.ID, err)
		}
		rows = append(rows, BidRow{
			ID:       b.ID,
			MarketID: b.MarketID,
			Bidder:   b.Bidder,
			Mint:     b.BidMint,
			Limit:    strconv.FormatUint(b.BidLimit, 10),
			State:    b.State.String(),
			Data:     data,
		})
	}
	return rows, nil
}
