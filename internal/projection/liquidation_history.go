package projection

import (
	"sync"

	"github.com/google/uuid"
)

// LiquidationHistoryEntry summarizes one liquidation from its journals.
type LiquidationHistoryEntry struct {
	Sequence   int64     `json:"sequence"`
	MarketID   string    `json:"market_id"`
	EventType  string    `json:"event_type"`
	Liquidator uuid.UUID `json:"liquidator"`
	Mint       string    `json:"mint"`
	Payoff     int64     `json:"payoff"`
	Fee        int64     `json:"fee"`
	Leftovers  int64     `json:"leftovers"`
	Collateral string    `json:"collateral,omitempty"` // NFT mint handed to the bidder
	Timestamp  int64     `json:"timestamp"`
}

// LiquidationHistoryProjection keeps the most recent liquidations in memory.
// It is rebuilt from the live stream after restart; the journal table is
// the durable record.
type LiquidationHistoryProjection struct {
	mu       sync.RWMutex
	entries  []LiquidationHistoryEntry
	capacity int
}

func NewLiquidationHistoryProjection(capacity int) *LiquidationHistoryProjection {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &LiquidationHistoryProjection{
		entries:  make([]LiquidationHistoryEntry, 0),
		capacity: capacity,
	}
}

// Apply records a liquidation if the output carries one.
func (p *LiquidationHistoryProjection) Apply(output ProjectionOutput) bool {
	if output.EventType != "execute_bid" && output.EventType != "liquidate_solvent" {
		return false
	}

	entry := LiquidationHistoryEntry{
		Sequence:  output.Sequence,
		EventType: output.EventType,
		Timestamp: output.Timestamp,
	}
	if output.MarketID != nil {
		entry.MarketID = *output.MarketID
	}

	found := false
	for _, j := range output.JournalEntries {
		switch j.JournalType {
		case "liquidation_payoff":
			entry.Payoff += j.Amount
			entry.Mint = j.Mint
			if j.Credit.EntityID != nil && j.Credit.Scope != "escrow" {
				entry.Liquidator = *j.Credit.EntityID
			}
			found = true
		case "liquidation_fee":
			entry.Fee += j.Amount
		case "liquidation_leftover":
			entry.Leftovers += j.Amount
		case "liquidation_collateral":
			entry.Collateral = j.Mint
			if j.Debit.EntityID != nil {
				entry.Liquidator = *j.Debit.EntityID
			}
		}
	}
	if !found {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	if len(p.entries) > p.capacity {
		p.entries = p.entries[len(p.entries)-p.capacity:]
	}
	return true
}

// QueryByMarket returns up to limit entries for a market, newest first.
func (p *LiquidationHistoryProjection) QueryByMarket(marketID string, limit int) []LiquidationHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]LiquidationHistoryEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].MarketID == marketID {
			result = append(result, p.entries[i])
		}
	}
	return result
}
