// internal/event/wallet.go
package event

import "github.com/google/uuid"

// ExternalDeposit credits a user's wallet from outside the ledger. NFTs are
// deposited the same way with Amount 1.
type ExternalDeposit struct {
	Header
	Owner  uuid.UUID `json:"owner"`
	Mint   string    `json:"mint"`
	Amount uint64    `json:"amount"`
}

func (e *ExternalDeposit) EventType() EventType { return EventTypeExternalDeposit }
func (e *ExternalDeposit) MarketID() *string    { return nil }
