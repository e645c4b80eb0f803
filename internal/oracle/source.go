// Package oracle supplies the prices and NFT metadata the ledger does not
// hold itself.
package oracle

import (
	"LendLedger/internal/event"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

var (
	ErrNoPrice    = errors.New("no price published")
	ErrNoMetadata = errors.New("no metadata published")
	ErrBadPrice   = errors.New("malformed price")
)

// PriceSource returns the latest price of a mint as mantissa * 10^-scale.
type PriceSource interface {
	Price(ctx context.Context, mint string) (event.OraclePrice, error)
}

// MetadataSource returns the verified collection creator of an NFT mint.
type MetadataSource interface {
	Creator(ctx context.Context, nftMint string) (string, error)
}

// parsePrice reads the mantissa/scale hash fields of a published price.
func parsePrice(mint string, fields map[string]string) (event.OraclePrice, error) {
	rawMantissa, ok := fields["mantissa"]
	if !ok {
		return event.OraclePrice{}, fmt.Errorf("price %s: %w", mint, ErrNoPrice)
	}
	mantissa, err := strconv.ParseInt(rawMantissa, 10, 64)
	if err != nil {
		return event.OraclePrice{}, fmt.Errorf("price %s mantissa %q: %w", mint, rawMantissa, ErrBadPrice)
	}

	var scale uint64
	if rawScale, ok := fields["scale"]; ok {
		scale, err = strconv.ParseUint(rawScale, 10, 32)
		if err != nil || scale > event.MaxPriceScale {
			return event.OraclePrice{}, fmt.Errorf("price %s scale %q: %w", mint, rawScale, ErrBadPrice)
		}
	}
	return event.OraclePrice{Mantissa: mantissa, Scale: uint32(scale)}, nil
}

// StaticSource serves fixed prices and creators; used for local runs and
// tests.
type StaticSource struct {
	mu       sync.RWMutex
	prices   map[string]event.OraclePrice
	creators map[string]string
}

func NewStaticSource() *StaticSource {
	return &StaticSource{
		prices:   make(map[string]event.OraclePrice),
		creators: make(map[string]string),
	}
}

func (s *StaticSource) SetPrice(mint string, p event.OraclePrice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[mint] = p
}

func (s *StaticSource) SetCreator(nftMint, creator string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creators[nftMint] = creator
}

func (s *StaticSource) Price(_ context.Context, mint string) (event.OraclePrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[mint]
	if !ok {
		return event.OraclePrice{}, fmt.Errorf("price %s: %w", mint, ErrNoPrice)
	}
	return p, nil
}

func (s *StaticSource) Creator(_ context.Context, nftMint string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creators[nftMint]
	if !ok {
		return "", fmt.Errorf("nft %s: %w", nftMint, ErrNoMetadata)
	}
	return c, nil
}
