package query

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ReserveResponse is one reserve of a market. Counters are decimal strings
// because they may exceed the JSON-safe integer range.
type ReserveResponse struct {
	MarketID          string          `json:"market_id"`
	ReserveIndex      uint16          `json:"reserve_index"`
	ReserveID         uuid.UUID       `json:"reserve_id"`
	TokenMint         string          `json:"token_mint"`
	DepositNoteMint   string          `json:"deposit_note_mint"`
	LoanNoteMint      string          `json:"loan_note_mint"`
	TotalDeposits     string          `json:"total_deposits"`
	TotalDepositNotes string          `json:"total_deposit_notes"`
	TotalLoanNotes    string          `json:"total_loan_notes"`
	OutstandingDebt   string          `json:"outstanding_debt"`
	UncollectedFees   string          `json:"uncollected_fees"`
	AccruedUntil      int64           `json:"accrued_until"`
	Detail            json.RawMessage `json:"detail"`
	LastSequence      int64           `json:"last_sequence"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

// ObligationResponse carries the projected obligation document.
type ObligationResponse struct {
	ObligationID uuid.UUID       `json:"obligation_id"`
	MarketID     string          `json:"market_id"`
	Owner        uuid.UUID       `json:"owner"`
	Detail       json.RawMessage `json:"detail"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

type BidResponse struct {
	BidID        uuid.UUID       `json:"bid_id"`
	MarketID     string          `json:"market_id"`
	Bidder       uuid.UUID       `json:"bidder"`
	BidMint      string          `json:"bid_mint"`
	BidLimit     string          `json:"bid_limit"`
	State        string          `json:"state"`
	Detail       json.RawMessage `json:"detail"`
	LastSequence int64           `json:"last_sequence"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Mint          string `json:"mint"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool             `json:"is_healthy"`
	HashChainBreaks []int64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedMints []UnbalancedMint `json:"unbalanced_mints,omitempty"`
	AsOfSequence    int64            `json:"as_of_sequence"`
}

// UnbalancedMint is a mint whose projected balances do not sum to zero.
type UnbalancedMint struct {
	Mint      string `json:"mint"`
	Imbalance int64  `json:"imbalance"`
}
