package ingestion

import (
	"LendLedger/internal/config"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Refresher keeps reserve snapshots fresh by submitting a RefreshReserve
// for every configured reserve each interval, priced from the oracle.
type Refresher struct {
	markets   []config.MarketConfig
	prices    oracle.PriceSource
	submitter *Submitter
	signer    uuid.UUID
	interval  time.Duration
	slot      func(time.Time) uint64
	now       func() time.Time
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewRefresher(
	markets []config.MarketConfig,
	prices oracle.PriceSource,
	submitter *Submitter,
	signer uuid.UUID,
	interval time.Duration,
	slot func(time.Time) uint64,
	metrics *observability.Metrics,
) *Refresher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Refresher{
		markets:   markets,
		prices:    prices,
		submitter: submitter,
		signer:    signer,
		interval:  interval,
		slot:      slot,
		now:       time.Now,
		metrics:   metrics,
		logger:    observability.NewLogger("refresher"),
	}
}

func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RefreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshAll(ctx)
		}
	}
}

// RefreshAll submits one refresh per reserve. Failures are counted and
// logged; the next tick retries.
func (r *Refresher) RefreshAll(ctx context.Context) {
	now := r.now()
	slot := r.slot(now)
	for _, m := range r.markets {
		nftPrice, err := r.prices.Price(ctx, m.NFTFeed())
		if err != nil {
			r.oracleError(m.ID, m.NFTFeed(), err)
			continue
		}
		for idx, res := range m.Reserves {
			if ctx.Err() != nil {
				return
			}
			tokenPrice, err := r.prices.Price(ctx, res.Feed())
			if err != nil {
				r.oracleError(m.ID, res.Feed(), err)
				continue
			}
			r.submit(ctx, m.ID, uint16(idx), slot, now, tokenPrice, nftPrice)
		}
	}
}

func (r *Refresher) submit(
	ctx context.Context,
	marketID string,
	index uint16,
	slot uint64,
	now time.Time,
	tokenPrice, nftPrice event.OraclePrice,
) {
	evt := &event.RefreshReserve{
		Header: event.Header{
			RequestID: fmt.Sprintf("refresh:%s:%d:%d", marketID, index, slot),
			Signer:    r.signer,
			Slot:      slot,
			Timestamp: now.Unix(),
		},
		Market:       marketID,
		ReserveIndex: index,
		TokenPrice:   tokenPrice,
		NFTPrice:     nftPrice,
	}

	status := "applied"
	if err := r.submitter.Submit(ctx, evt); err != nil {
		status = "rejected"
		r.logger.Warn().Err(err).Str("market", marketID).Uint16("reserve", index).Msg("refresh rejected")
	}
	if r.metrics != nil {
		r.metrics.RefresherSubmitted.WithLabelValues(marketID, status).Inc()
	}
}

func (r *Refresher) oracleError(marketID, feed string, err error) {
	r.logger.Warn().Err(err).Str("market", marketID).Str("feed", feed).Msg("oracle price unavailable")
	if r.metrics != nil {
		r.metrics.OracleErrors.WithLabelValues("price").Inc()
		r.metrics.RefresherSubmitted.WithLabelValues(marketID, "oracle_error").Inc()
	}
}
