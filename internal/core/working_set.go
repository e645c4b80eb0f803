// internal/core/working_set.go
package core

import (
	"fmt"
	"sort"

	"LendLedger/internal/ledger"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// workingSet is the scratch state of one instruction. Entities are cloned
// on first access and ledger effects are staged in tx; nothing reaches the
// registry or the tracker unless the instruction succeeds.
type workingSet struct {
	reg *state.Registry
	tx  *ledger.Transaction

	signer    uuid.UUID
	point     uint64
	timestamp int64

	markets     map[string]*state.Market
	obligations map[uuid.UUID]*state.Obligation
	bids        map[uuid.UUID]*state.Bid

	onCommit []func()
}

func newWorkingSet(reg *state.Registry, tx *ledger.Transaction, signer uuid.UUID, point uint64, timestamp int64) *workingSet {
	return &workingSet{
		reg:         reg,
		tx:          tx,
		signer:      signer,
		point:       point,
		timestamp:   timestamp,
		markets:     make(map[string]*state.Market),
		obligations: make(map[uuid.UUID]*state.Obligation),
		bids:        make(map[uuid.UUID]*state.Bid),
	}
}

func (ws *workingSet) market(id string) (*state.Market, error) {
	if m, ok := ws.markets[id]; ok {
		return m, nil
	}
	m, err := ws.reg.Market(id)
	if err != nil {
		return nil, err
	}
	c := m.Clone()
	ws.markets[id] = c
	return c, nil
}

// obligation loads an obligation and checks it belongs to marketID.
func (ws *workingSet) obligation(marketID string, id uuid.UUID) (*state.Obligation, error) {
	o, ok := ws.obligations[id]
	if !ok {
		committed, err := ws.reg.Obligation(id)
		if err != nil {
			return nil, err
		}
		o = committed.Clone()
		ws.obligations[id] = o
	}
	if o.MarketID != marketID {
		return nil, fmt.Errorf("obligation %s is in %s, not %s: %w", id, o.MarketID, marketID, state.ErrInvalidParameter)
	}
	return o, nil
}

func (ws *workingSet) hasObligation(id uuid.UUID) bool {
	if _, ok := ws.obligations[id]; ok {
		return true
	}
	return ws.reg.HasObligation(id)
}

func (ws *workingSet) putObligation(o *state.Obligation) {
	ws.obligations[o.ID] = o
}

// collateralHolder finds the obligation holding item, looking at staged
// obligations before the committed index.
func (ws *workingSet) collateralHolder(item string) (uuid.UUID, bool) {
	for id, o := range ws.obligations {
		if o.HasCollateral(item) {
			return id, true
		}
	}
	id, ok := ws.reg.CollateralOwner(item)
	if !ok {
		return uuid.Nil, false
	}
	if _, staged := ws.obligations[id]; staged {
		return uuid.Nil, false
	}
	return id, true
}

// bid returns the bid or ErrBidNotFound.
func (ws *workingSet) bid(id uuid.UUID) (*state.Bid, error) {
	if b, ok := ws.bids[id]; ok {
		return b, nil
	}
	committed, err := ws.reg.Bid(id)
	if err != nil {
		return nil, err
	}
	c := committed.Clone()
	ws.bids[id] = c
	return c, nil
}

func (ws *workingSet) putBid(b *state.Bid) {
	ws.bids[b.ID] = b
}

// afterCommit defers f until the instruction has been applied.
func (ws *workingSet) afterCommit(f func()) {
	ws.onCommit = append(ws.onCommit, f)
}

// commit publishes every staged entity to the registry.
func (ws *workingSet) commit() {
	for _, m := range ws.markets {
		ws.reg.PutMarket(m)
	}
	for _, o := range ws.obligations {
		ws.reg.PutObligation(o)
	}
	for _, b := range ws.bids {
		ws.reg.PutBid(b)
	}
	for _, f := range ws.onCommit {
		f()
	}
}

// touched returns the staged entities in deterministic order.
func (ws *workingSet) touched() ([]*state.Market, []*state.Obligation, []*state.Bid) {
	markets := make([]*state.Market, 0, len(ws.markets))
	for _, m := range ws.markets {
		markets = append(markets, m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].ID < markets[j].ID })

	obligations := make([]*state.Obligation, 0, len(ws.obligations))
	for _, o := range ws.obligations {
		obligations = append(obligations, o)
	}
	sort.Slice(obligations, func(i, j int) bool { return obligations[i].ID.String() < obligations[j].ID.String() })

	bids := make([]*state.Bid, 0, len(ws.bids))
	for _, b := range ws.bids {
		bids = append(bids, b)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].ID.String() < bids[j].ID.String() })

	return markets, obligations, bids
}
