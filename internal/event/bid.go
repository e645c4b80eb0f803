// internal/event/bid.go
package event

import (
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// PlaceBid escrows BidLimit of BidMint from the signer's wallet.
type PlaceBid struct {
	Header
	Market   string `json:"market"`
	BidMint  string `json:"bid_mint"`
	BidLimit uint64 `json:"bid_limit"`
}

func (e *PlaceBid) EventType() EventType { return EventTypePlaceBid }
func (e *PlaceBid) MarketID() *string    { return marketRef(e.Market) }

// IncreaseBid tops up the signer's open bid.
type IncreaseBid struct {
	Header
	Market string `json:"market"`
	Delta  uint64 `json:"delta"`
}

func (e *IncreaseBid) EventType() EventType { return EventTypeIncreaseBid }
func (e *IncreaseBid) MarketID() *string    { return marketRef(e.Market) }

// RevokeBid refunds and closes the signer's open bid.
type RevokeBid struct {
	Header
	Market string `json:"market"`
}

func (e *RevokeBid) EventType() EventType { return EventTypeRevokeBid }
func (e *RevokeBid) MarketID() *string    { return marketRef(e.Market) }

// ExecuteBid liquidates an unhealthy obligation into Bidder's open bid.
// PayoffNotes is the number of loan notes to retire; it is clamped to the
// loan balance.
type ExecuteBid struct {
	Header
	Market       string    `json:"market"`
	Bidder       uuid.UUID `json:"bidder"`
	Obligation   uuid.UUID `json:"obligation"`
	ReserveIndex uint16    `json:"reserve_index"`
	NFTMint      string    `json:"nft_mint"`
	PayoffNotes  uint64    `json:"payoff_notes"`
}

func (e *ExecuteBid) EventType() EventType { return EventTypeExecuteBid }
func (e *ExecuteBid) MarketID() *string    { return marketRef(e.Market) }

// LiquidateSolvent lets the override authority retire debt of an obligation
// that is unhealthy at the override collateral price. Amount is both the
// override price and the debt to retire.
type LiquidateSolvent struct {
	Header
	Market       string       `json:"market"`
	Obligation   uuid.UUID    `json:"obligation"`
	ReserveIndex uint16       `json:"reserve_index"`
	Amount       state.Amount `json:"amount"`
}

func (e *LiquidateSolvent) EventType() EventType { return EventTypeLiquidateSolvent }
func (e *LiquidateSolvent) MarketID() *string    { return marketRef(e.Market) }
