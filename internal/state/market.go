// internal/state/market.go
package state

import (
	"fmt"

	"LendLedger/internal/math"
)

// MarketFlags halt individual instruction families.
type MarketFlags struct {
	HaltBorrows  bool `toml:"halt_borrows" json:"halt_borrows"`
	HaltDeposits bool `toml:"halt_deposits" json:"halt_deposits"`
	HaltRepays   bool `toml:"halt_repays" json:"halt_repays"`
}

// Market groups the reserves lent against one NFT collection.
type Market struct {
	ID                string                   `json:"id"`
	Name              string                   `json:"name"`
	QuoteMint         string                   `json:"quote_mint"`
	CollectionCreator string                   `json:"collection_creator"`
	CollateralLimit   int                      `json:"collateral_limit"`
	Flags             MarketFlags              `json:"flags"`
	NFTPrice          Cache[math.Number]       `json:"nft_price"`
	Reserves          []*Reserve               `json:"reserves"`
	Snapshots         []Cache[ReserveSnapshot] `json:"snapshots"`
}

func NewMarket(id, name, quoteMint, creator string, collateralLimit int) *Market {
	if collateralLimit <= 0 {
		collateralLimit = DefaultCollateralLimit
	}
	return &Market{
		ID:                id,
		Name:              name,
		QuoteMint:         quoteMint,
		CollectionCreator: creator,
		CollateralLimit:   collateralLimit,
	}
}

// AddReserve appends a reserve with the next index and a stale snapshot.
func (m *Market) AddReserve(tokenMint string, decimals uint8, cfg ReserveConfig) (*Reserve, error) {
	if err := ValidateReserveConfig(cfg); err != nil {
		return nil, fmt.Errorf("reserve %s in %s: %w", tokenMint, m.ID, err)
	}
	for _, r := range m.Reserves {
		if r.TokenMint == tokenMint {
			return nil, fmt.Errorf("reserve %s already in %s: %w", tokenMint, m.ID, ErrInvalidParameter)
		}
	}
	r := NewReserve(m.ID, uint16(len(m.Reserves)), tokenMint, decimals, cfg)
	m.Reserves = append(m.Reserves, r)
	m.Snapshots = append(m.Snapshots, NewCache[ReserveSnapshot]())
	return r, nil
}

func (m *Market) Reserve(index uint16) (*Reserve, error) {
	if int(index) >= len(m.Reserves) {
		return nil, fmt.Errorf("%s reserve %d: %w", m.ID, index, ErrUnknownReserve)
	}
	return m.Reserves[index], nil
}

// SnapshotCache returns the mutable snapshot cache of a reserve.
func (m *Market) SnapshotCache(index uint16) (*Cache[ReserveSnapshot], error) {
	if int(index) >= len(m.Snapshots) {
		return nil, fmt.Errorf("%s reserve %d: %w", m.ID, index, ErrUnknownReserve)
	}
	return &m.Snapshots[index], nil
}

// SnapshotAt implements SnapshotSource.
func (m *Market) SnapshotAt(index uint16, point uint64) (ReserveSnapshot, error) {
	c, err := m.SnapshotCache(index)
	if err != nil {
		return ReserveSnapshot{}, err
	}
	return c.TryGet(point)
}

// CollateralPrice returns the NFT floor price fresh at point.
func (m *Market) CollateralPrice(point uint64) (math.Number, error) {
	p, err := m.NFTPrice.TryGet(point)
	if err != nil {
		return math.Zero, fmt.Errorf("%s nft price: %w", m.ID, err)
	}
	return p, nil
}

// Clone deep-copies reserves and caches.
func (m *Market) Clone() *Market {
	c := *m
	c.Reserves = make([]*Reserve, len(m.Reserves))
	for i, r := range m.Reserves {
		c.Reserves[i] = r.Clone()
	}
	c.Snapshots = append([]Cache[ReserveSnapshot](nil), m.Snapshots...)
	return &c
}
