// internal/core/engine_state.go
package core

import (
	"context"
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// --- Run loop ---

// Request is one instruction submitted to the core's run loop. Done, when
// set, receives the processing result and should be buffered.
type Request struct {
	Event event.Event

	// AssignSequence stamps the next source sequence of the instruction's
	// partition instead of validating the one it carries.
	AssignSequence bool

	Done chan<- error
}

// Run applies requests one at a time until ctx is cancelled or requests is
// closed. Every ingestion path submits through here so the core has a
// single writer.
func (c *LendingCore) Run(ctx context.Context, requests <-chan Request) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req, ok := <-requests:
			if !ok {
				return nil
			}
			var err error
			if req.AssignSequence {
				err = c.ProcessAssigned(req.Event)
			} else {
				err = c.ProcessEvent(req.Event)
			}
			if req.Done != nil {
				req.Done <- err
			}
		}
	}
}

// Replay re-applies a persisted envelope without emitting it and checks the
// result against the recorded sequence and state hash.
func (c *LendingCore) Replay(env *event.EventEnvelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if env.Sequence != c.sequence {
		return fmt.Errorf("replay sequence %d, core expects %d", env.Sequence, c.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if err := c.process(evt, true); err != nil {
		return fmt.Errorf("replay seq %d: %w", env.Sequence, err)
	}
	if c.sequence != env.Sequence+1 {
		return fmt.Errorf("replay seq %d (%s) was not applied", env.Sequence, env.IdempotencyKey)
	}
	if got := c.hasher.GetPrevHash(); got != env.StateHash {
		return fmt.Errorf("replay seq %d: state hash %x, log has %x", env.Sequence, got, env.StateHash)
	}
	return nil
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64                       `json:"sequence"`
	StateHash       [32]byte                    `json:"state_hash"`
	Balances        []ledger.BalanceEntry       `json:"balances"`
	MintAuthorities []ledger.MintAuthorityEntry `json:"mint_authorities"`
	Markets         []*state.Market             `json:"markets"`
	Obligations     []*state.Obligation         `json:"obligations"`
	Bids            []*state.Bid                `json:"bids"`
	SequenceState   map[string]int64            `json:"sequence_state"`
	IdempotencyKeys []string                    `json:"idempotency_keys"`
}

// RestoreFromSnapshot replaces the core's in-memory state. On warm restart
// the latest snapshot is loaded, then newer events are replayed.
func (c *LendingCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence = snap.Sequence + 1 // Next sequence to assign
	c.hasher.SetPrevHash(snap.StateHash)
	c.balanceTracker.Restore(snap.Balances, snap.MintAuthorities)

	c.registry = state.NewRegistry()
	for _, m := range snap.Markets {
		c.registry.PutMarket(m)
	}
	for _, o := range snap.Obligations {
		c.registry.PutObligation(o)
	}
	for _, b := range snap.Bids {
		c.registry.PutBid(b)
	}

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
	c.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *LendingCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		MintAuthorities: c.balanceTracker.MintSnapshot(),
		Markets:         c.registry.Markets(),
		Obligations:     c.registry.Obligations(),
		Bids:            c.registry.Bids(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.Keys(),
	}
}

// --- Reads ---

// GetSequence returns the next sequence the core will assign.
func (c *LendingCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *LendingCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// Status is a point-in-time summary of the core.
type Status struct {
	Sequence    int64            `json:"sequence"`
	StateHash   string           `json:"state_hash"`
	Markets     int              `json:"markets"`
	Obligations int              `json:"obligations"`
	Partitions  map[string]int64 `json:"partitions"`
}

func (c *LendingCore) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.hasher.GetPrevHash()
	return Status{
		Sequence:    c.sequence,
		StateHash:   fmt.Sprintf("%x", h[:]),
		Markets:     len(c.registry.Markets()),
		Obligations: len(c.registry.Obligations()),
		Partitions:  c.sequenceValidator.GetAllPartitions(),
	}
}

// Market returns the committed market. The value must not be mutated.
func (c *LendingCore) Market(id string) (*state.Market, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Market(id)
}

// Obligation returns the committed obligation. The value must not be
// mutated.
func (c *LendingCore) Obligation(id uuid.UUID) (*state.Obligation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Obligation(id)
}

// Bid returns the bidder's latest bid in a market.
func (c *LendingCore) Bid(marketID string, bidder uuid.UUID) (*state.Bid, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registry.Bid(state.BidID(marketID, bidder))
}

// Balance returns the committed balance of an account.
func (c *LendingCore) Balance(key ledger.AccountKey) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.GetBalance(key)
}

// WalletBalance returns a user's committed balance of one mint.
func (c *LendingCore) WalletBalance(user uuid.UUID, mint string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balanceTracker.WalletBalance(user, mint)
}

// CheckInvariants runs the full ledger checks outside the periodic cadence.
func (c *LendingCore) CheckInvariants() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.validator.ValidateNonNegative(); err != nil {
		return err
	}
	return c.validator.ValidateGlobalBalance()
}
