package query

import (
	"github.com/google/uuid"
)

// BalanceResponse lists every wallet balance an owner holds.
type BalanceResponse struct {
	Owner    uuid.UUID     `json:"owner"`
	Balances []MintBalance `json:"balances"`

	AsOfSequence int64 `json:"as_of_sequence"` // last projected instruction
}

// MintBalance is one projected account. Wallets, deposit notes and NFTs
// all show up here; an NFT balance is 0 or 1.
type MintBalance struct {
	AccountPath  string `json:"account_path"`
	Mint         string `json:"mint"`
	Balance      int64  `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}
