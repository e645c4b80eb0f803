package ingestion

import (
	"LendLedger/internal/event"
	"LendLedger/internal/oracle"
	"context"
	"fmt"
	"time"
)

// Enricher fills instruction fields that clients may leave to the service.
// A DepositNFT without a creator gets it from the metadata source.
type Enricher struct {
	metadata oracle.MetadataSource
	timeout  time.Duration
}

func NewEnricher(metadata oracle.MetadataSource) *Enricher {
	return &Enricher{metadata: metadata, timeout: time.Second}
}

// Enrich mutates evt in place. A nil Enricher or metadata source leaves
// instructions untouched.
func (e *Enricher) Enrich(ctx context.Context, evt event.Event) error {
	if e == nil || e.metadata == nil {
		return nil
	}
	dep, ok := evt.(*event.DepositNFT)
	if !ok || dep.Creator != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	creator, err := e.metadata.Creator(ctx, dep.NFTMint)
	if err != nil {
		return fmt.Errorf("creator of %s: %w", dep.NFTMint, err)
	}
	dep.Creator = creator
	return nil
}
