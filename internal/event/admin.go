// internal/event/admin.go
package event

import "LendLedger/internal/state"

// UpdateReserveConfig replaces a reserve's parameters. Override authority
// only.
type UpdateReserveConfig struct {
	Header
	Market       string              `json:"market"`
	ReserveIndex uint16              `json:"reserve_index"`
	Config       state.ReserveConfig `json:"config"`
}

func (e *UpdateReserveConfig) EventType() EventType { return EventTypeUpdateReserveConfig }
func (e *UpdateReserveConfig) MarketID() *string    { return marketRef(e.Market) }

// UpdateMarketFlags sets the halt flags of a market. Override authority
// only.
type UpdateMarketFlags struct {
	Header
	Market string            `json:"market"`
	Flags  state.MarketFlags `json:"flags"`
}

func (e *UpdateMarketFlags) EventType() EventType { return EventTypeUpdateMarketFlags }
func (e *UpdateMarketFlags) MarketID() *string    { return marketRef(e.Market) }
