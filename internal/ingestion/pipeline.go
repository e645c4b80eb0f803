package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/oracle"
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Pipeline turns raw NATS messages into core requests.
//
// Messages are acked once the request is queued for the core, not after it
// is applied, so a slow core never trips AckWait. Backpressure still reaches
// NATS because the send to the core blocks. Core results are observed by a
// second goroutine in submission order.
type Pipeline struct {
	rawChan  <-chan RawEvent
	requests chan<- core.Request
	enricher *Enricher
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

type pending struct {
	evt      event.Event
	subject  string
	received time.Time
	done     <-chan error
}

func NewPipeline(
	rawChan <-chan RawEvent,
	requests chan<- core.Request,
	enricher *Enricher,
	metrics *observability.Metrics,
) *Pipeline {
	return &Pipeline{
		rawChan:  rawChan,
		requests: requests,
		enricher: enricher,
		metrics:  metrics,
		logger:   observability.NewLogger("ingestion"),
	}
}

// SetLogger replaces the component logger.
func (p *Pipeline) SetLogger(l zerolog.Logger) {
	p.logger = l
}

// Run consumes raw events until ctx is cancelled or rawChan is closed.
func (p *Pipeline) Run(ctx context.Context) error {
	results := make(chan pending, 4096)
	observed := make(chan struct{})
	go func() {
		defer close(observed)
		p.observe(ctx, results)
	}()
	defer func() {
		close(results)
		<-observed
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.rawChan:
			if !ok {
				return nil
			}
			if !p.handle(ctx, raw, results) {
				return ctx.Err()
			}
		}
	}
}

// handle processes one message. It returns false when ctx ended while the
// message was waiting for the core.
func (p *Pipeline) handle(ctx context.Context, raw RawEvent, results chan<- pending) bool {
	if p.metrics != nil && !raw.Published.IsZero() {
		p.metrics.NATSPullLatency.WithLabelValues(raw.Subject).Observe(raw.Timestamp.Sub(raw.Published).Seconds())
	}

	evt, err := ParseRawEvent(raw)
	if err != nil {
		// Malformed instructions would fail on every redelivery.
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed instruction")
		ack(raw.TermFunc, raw.AckFunc)
		return true
	}

	if err := p.enricher.Enrich(ctx, evt); err != nil {
		if errors.Is(err, oracle.ErrNoMetadata) {
			p.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("dropping instruction without metadata")
			ack(raw.AckFunc)
			return true
		}
		p.logger.Warn().Err(err).Str("key", evt.IdempotencyKey()).Msg("enrichment failed, redelivering")
		ack(raw.NakFunc)
		return true
	}

	done := make(chan error, 1)
	select {
	case p.requests <- core.Request{Event: evt, Done: done}:
		ack(raw.AckFunc)
	case <-ctx.Done():
		ack(raw.NakFunc)
		return false
	}

	select {
	case results <- pending{evt: evt, subject: raw.Subject, received: raw.Timestamp, done: done}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) observe(ctx context.Context, results <-chan pending) {
	for r := range results {
		var err error
		select {
		case err = <-r.done:
		case <-ctx.Done():
			return
		}
		eventType := r.evt.EventType().String()
		if err != nil {
			p.logger.Error().Err(err).
				Str("event_type", eventType).
				Str("subject", r.subject).
				Str("key", r.evt.IdempotencyKey()).
				Msg("instruction rejected")
			continue
		}
		if p.metrics != nil {
			p.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(r.received).Seconds())
		}
	}
}

// ack calls the first non-nil callback.
func ack(fns ...func()) {
	for _, fn := range fns {
		if fn != nil {
			fn()
			return
		}
	}
}
