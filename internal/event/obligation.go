// internal/event/obligation.go
package event

import (
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// InitObligation opens the owner's obligation in a market.
type InitObligation struct {
	Header
	Market string    `json:"market"`
	Owner  uuid.UUID `json:"owner"`
}

func (e *InitObligation) EventType() EventType { return EventTypeInitObligation }
func (e *InitObligation) MarketID() *string    { return marketRef(e.Market) }

// InitLoanAccount registers the loan-note account of one reserve.
type InitLoanAccount struct {
	Header
	Market       string    `json:"market"`
	Obligation   uuid.UUID `json:"obligation"`
	ReserveIndex uint16    `json:"reserve_index"`
}

func (e *InitLoanAccount) EventType() EventType { return EventTypeInitLoanAccount }
func (e *InitLoanAccount) MarketID() *string    { return marketRef(e.Market) }

// DepositNFT moves an NFT from the signer's wallet into obligation custody.
// Creator is the verified collection creator from the NFT's metadata.
type DepositNFT struct {
	Header
	Market     string    `json:"market"`
	Obligation uuid.UUID `json:"obligation"`
	NFTMint    string    `json:"nft_mint"`
	Creator    string    `json:"creator,omitempty"`
}

func (e *DepositNFT) EventType() EventType { return EventTypeDepositNFT }
func (e *DepositNFT) MarketID() *string    { return marketRef(e.Market) }

// WithdrawNFT returns custody of an NFT to the obligation owner.
type WithdrawNFT struct {
	Header
	Market     string    `json:"market"`
	Obligation uuid.UUID `json:"obligation"`
	NFTMint    string    `json:"nft_mint"`
}

func (e *WithdrawNFT) EventType() EventType { return EventTypeWithdrawNFT }
func (e *WithdrawNFT) MarketID() *string    { return marketRef(e.Market) }

// Borrow draws tokens from a reserve against the obligation's collateral.
type Borrow struct {
	Header
	Market       string       `json:"market"`
	Obligation   uuid.UUID    `json:"obligation"`
	ReserveIndex uint16       `json:"reserve_index"`
	Amount       state.Amount `json:"amount"`
}

func (e *Borrow) EventType() EventType { return EventTypeBorrow }
func (e *Borrow) MarketID() *string    { return marketRef(e.Market) }

// Repay returns tokens to a reserve on behalf of an obligation. Anyone may
// repay; the signer's wallet funds it.
type Repay struct {
	Header
	Market       string       `json:"market"`
	Obligation   uuid.UUID    `json:"obligation"`
	ReserveIndex uint16       `json:"reserve_index"`
	Amount       state.Amount `json:"amount"`
}

func (e *Repay) EventType() EventType { return EventTypeRepay }
func (e *Repay) MarketID() *string    { return marketRef(e.Market) }

// CloseLoanAccount unregisters a repaid loan position.
type CloseLoanAccount struct {
	Header
	Market       string    `json:"market"`
	Obligation   uuid.UUID `json:"obligation"`
	ReserveIndex uint16    `json:"reserve_index"`
}

func (e *CloseLoanAccount) EventType() EventType { return EventTypeCloseLoanAccount }
func (e *CloseLoanAccount) MarketID() *string    { return marketRef(e.Market) }
