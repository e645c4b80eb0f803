// internal/state/registry.go
package state

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Registry owns every market, obligation and bid, plus the ledger-wide
// uniqueness indexes for collateral items and loan accounts.
type Registry struct {
	markets     map[string]*Market
	obligations map[uuid.UUID]*Obligation
	bids        map[uuid.UUID]*Bid

	collateralIndex map[string]uuid.UUID    // nft mint -> obligation
	loanIndex       map[uuid.UUID]uuid.UUID // loan account -> obligation
}

func NewRegistry() *Registry {
	return &Registry{
		markets:         make(map[string]*Market),
		obligations:     make(map[uuid.UUID]*Obligation),
		bids:            make(map[uuid.UUID]*Bid),
		collateralIndex: make(map[string]uuid.UUID),
		loanIndex:       make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *Registry) PutMarket(m *Market) {
	r.markets[m.ID] = m
}

func (r *Registry) Market(id string) (*Market, error) {
	m, ok := r.markets[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownMarket)
	}
	return m, nil
}

// Markets returns markets sorted by id.
func (r *Registry) Markets() []*Market {
	out := make([]*Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Obligation(id uuid.UUID) (*Obligation, error) {
	o, ok := r.obligations[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownObligation)
	}
	return o, nil
}

func (r *Registry) HasObligation(id uuid.UUID) bool {
	_, ok := r.obligations[id]
	return ok
}

// PutObligation stores o and reindexes its collateral and loan accounts.
func (r *Registry) PutObligation(o *Obligation) {
	if prev, ok := r.obligations[o.ID]; ok {
		for _, item := range prev.CollateralItems() {
			delete(r.collateralIndex, item)
		}
		for _, p := range prev.Positions() {
			delete(r.loanIndex, p.Account)
		}
	}
	r.obligations[o.ID] = o
	for _, item := range o.CollateralItems() {
		r.collateralIndex[item] = o.ID
	}
	for _, p := range o.Positions() {
		r.loanIndex[p.Account] = o.ID
	}
}

// Obligations returns obligations sorted by id.
func (r *Registry) Obligations() []*Obligation {
	out := make([]*Obligation, 0, len(r.obligations))
	for _, o := range r.obligations {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// CollateralOwner returns the obligation holding item, if any.
func (r *Registry) CollateralOwner(item string) (uuid.UUID, bool) {
	id, ok := r.collateralIndex[item]
	return id, ok
}

// LoanAccountOwner returns the obligation holding account, if any.
func (r *Registry) LoanAccountOwner(account uuid.UUID) (uuid.UUID, bool) {
	id, ok := r.loanIndex[account]
	return id, ok
}

func (r *Registry) Bid(id uuid.UUID) (*Bid, error) {
	b, ok := r.bids[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrBidNotFound)
	}
	return b, nil
}

func (r *Registry) PutBid(b *Bid) {
	r.bids[b.ID] = b
}

// Bids returns bids sorted by id.
func (r *Registry) Bids() []*Bid {
	out := make([]*Bid, 0, len(r.bids))
	for _, b := range r.bids {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
