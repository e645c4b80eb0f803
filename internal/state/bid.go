// internal/state/bid.go
package state

import (
	"fmt"

	"LendLedger/internal/math"

	"github.com/google/uuid"
)

// BidState tracks the liquidation bid lifecycle.
type BidState int32

const (
	BidStatePlaced BidState = iota
	BidStateIncreased
	BidStateRevoked
	BidStateExecuted
)

func (s BidState) String() string {
	switch s {
	case BidStatePlaced:
		return "Placed"
	case BidStateIncreased:
		return "Increased"
	case BidStateRevoked:
		return "Revoked"
	case BidStateExecuted:
		return "Executed"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s BidState) CanTransitionTo(next BidState) bool {
	validTransitions := map[BidState][]BidState{
		BidStatePlaced:    {BidStateIncreased, BidStateRevoked, BidStateExecuted},
		BidStateIncreased: {BidStateIncreased, BidStateRevoked, BidStateExecuted},
		BidStateRevoked:   {},
		BidStateExecuted:  {},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the bid still holds escrow.
func (s BidState) IsOpen() bool {
	return s == BidStatePlaced || s == BidStateIncreased
}

// Bid is a liquidator's standing offer. While open, escrow holds exactly
// BidLimit units of BidMint.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	MarketID  string    `json:"market_id"`
	Bidder    uuid.UUID `json:"bidder"`
	BidMint   string    `json:"bid_mint"`
	Authority string    `json:"authority"` // escrow capability, hex
	BidLimit  uint64    `json:"bid_limit"`
	State     BidState  `json:"state"`
	PlacedAt  uint64    `json:"placed_at"`
	ClosedAt  uint64    `json:"closed_at,omitempty"`
}

// BidID is deterministic per market and bidder.
func BidID(marketID string, bidder uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("bid:"+marketID+":"+bidder.String()))
}

func NewBid(marketID string, bidder uuid.UUID, mint, authority string, limit, point uint64) (*Bid, error) {
	if limit == 0 {
		return nil, fmt.Errorf("bid limit must be > 0: %w", ErrInvalidParameter)
	}
	return &Bid{
		ID:        BidID(marketID, bidder),
		MarketID:  marketID,
		Bidder:    bidder,
		BidMint:   mint,
		Authority: authority,
		BidLimit:  limit,
		State:     BidStatePlaced,
		PlacedAt:  point,
	}, nil
}

func (b *Bid) Clone() *Bid {
	c := *b
	return &c
}

// Increase raises the limit by delta. The caller tops up escrow by the same
// amount.
func (b *Bid) Increase(delta uint64) error {
	if err := b.transition(BidStateIncreased); err != nil {
		return err
	}
	if delta == 0 {
		return fmt.Errorf("increase by 0: %w", ErrInvalidParameter)
	}
	limit, err := checkedAddU64(b.BidLimit, delta)
	if err != nil {
		return fmt.Errorf("bid limit: %w", err)
	}
	b.BidLimit = limit
	b.State = BidStateIncreased
	return nil
}

// Revoke closes the bid; the caller refunds the escrow.
func (b *Bid) Revoke(point uint64) error {
	if err := b.transition(BidStateRevoked); err != nil {
		return err
	}
	b.State = BidStateRevoked
	b.ClosedAt = point
	return nil
}

// MarkExecuted closes the bid after its escrow was disbursed.
func (b *Bid) MarkExecuted(point uint64) error {
	if err := b.transition(BidStateExecuted); err != nil {
		return err
	}
	b.State = BidStateExecuted
	b.ClosedAt = point
	return nil
}

func (b *Bid) transition(next BidState) error {
	if !b.State.IsOpen() {
		return fmt.Errorf("bid %s is %s: %w", b.ID, b.State, ErrBidClosed)
	}
	if !b.State.CanTransitionTo(next) {
		return fmt.Errorf("%s -> %s: %w", b.State, next, ErrInvalidBidTransition)
	}
	return nil
}

// ============================================================================
// Liquidation payoff
// ============================================================================

// Payoff is the debt a liquidation retires.
type Payoff struct {
	Notes  uint64
	Tokens uint64
}

// ComputePayoff clamps the requested notes to the loan balance and prices
// them at the loan-note rate rounded up, capped by the reserve's
// outstanding debt.
func ComputePayoff(requestedNotes, loanBalance uint64, snap ReserveSnapshot, outstandingDebt uint64) (Payoff, error) {
	notes := min(requestedNotes, loanBalance)
	if notes == 0 {
		return Payoff{}, fmt.Errorf("payoff of 0 notes: %w", ErrInvalidParameter)
	}
	tokens, err := snap.LoanNotesToTokens(notes, math.RoundUp)
	if err != nil {
		return Payoff{}, fmt.Errorf("payoff tokens: %w", err)
	}
	return Payoff{Notes: notes, Tokens: min(tokens, outstandingDebt)}, nil
}

// Disbursement splits an executed bid's escrow.
type Disbursement struct {
	Payoff    uint64 // to the reserve vault
	Fee       uint64 // to the market fee receiver
	Leftovers uint64 // to the root authority
}

// SplitEscrow divides bidLimit into payoff, premium fee and leftovers. The
// three parts always sum to bidLimit when payoff <= bidLimit.
func SplitEscrow(bidLimit, payoff uint64, premium math.Number) (Disbursement, error) {
	if payoff > bidLimit {
		return Disbursement{Payoff: bidLimit}, nil
	}
	surplus := bidLimit - payoff
	fee, err := math.FromUint64(surplus).Mul(premium).AsUint64(0, math.RoundDown)
	if err != nil {
		return Disbursement{}, fmt.Errorf("liquidation fee: %w", err)
	}
	return Disbursement{Payoff: payoff, Fee: fee, Leftovers: surplus - fee}, nil
}
