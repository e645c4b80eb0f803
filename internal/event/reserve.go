// internal/event/reserve.go
package event

import "LendLedger/internal/state"

// OraclePrice is a signed mantissa scaled by 10^-Scale, as published by a
// price feed. Negative prices are rejected by the core.
type OraclePrice struct {
	Mantissa int64  `json:"mantissa"`
	Scale    uint32 `json:"scale"`
}

// MaxPriceScale bounds OraclePrice.Scale.
const MaxPriceScale = 38

// RefreshReserve accrues interest and refreshes the reserve snapshot and
// the market's NFT floor price.
type RefreshReserve struct {
	Header
	Market       string      `json:"market"`
	ReserveIndex uint16      `json:"reserve_index"`
	TokenPrice   OraclePrice `json:"token_price"`
	NFTPrice     OraclePrice `json:"nft_price"`
}

func (e *RefreshReserve) EventType() EventType { return EventTypeRefreshReserve }
func (e *RefreshReserve) MarketID() *string    { return marketRef(e.Market) }

// DepositTokens moves tokens from the signer's wallet into a reserve vault
// in exchange for deposit notes.
type DepositTokens struct {
	Header
	Market       string       `json:"market"`
	ReserveIndex uint16       `json:"reserve_index"`
	Amount       state.Amount `json:"amount"`
}

func (e *DepositTokens) EventType() EventType { return EventTypeDepositTokens }
func (e *DepositTokens) MarketID() *string    { return marketRef(e.Market) }

// WithdrawTokens burns deposit notes and returns tokens from the vault.
type WithdrawTokens struct {
	Header
	Market       string       `json:"market"`
	ReserveIndex uint16       `json:"reserve_index"`
	Amount       state.Amount `json:"amount"`
}

func (e *WithdrawTokens) EventType() EventType { return EventTypeWithdrawTokens }
func (e *WithdrawTokens) MarketID() *string    { return marketRef(e.Market) }
