package ingestion

import (
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"context"
	"fmt"
	"time"
)

// Submitter injects single instructions into the core and waits for the
// result. It serves admin and HTTP submissions, which are not part of a
// sequenced stream, so the core assigns their source sequence.
type Submitter struct {
	requests chan<- core.Request
	enricher *Enricher
	metrics  *observability.Metrics
	timeout  time.Duration
}

func NewSubmitter(requests chan<- core.Request, enricher *Enricher, metrics *observability.Metrics) *Submitter {
	return &Submitter{
		requests: requests,
		enricher: enricher,
		metrics:  metrics,
		timeout:  10 * time.Second,
	}
}

// SubmitJSON parses, enriches and applies one instruction.
func (s *Submitter) SubmitJSON(ctx context.Context, et event.EventType, body []byte) (event.Event, error) {
	evt, err := ParseInstruction(et, body)
	if err != nil {
		return nil, err
	}
	return evt, s.Submit(ctx, evt)
}

// Submit applies evt and returns the core's verdict.
func (s *Submitter) Submit(ctx context.Context, evt event.Event) error {
	start := time.Now()
	if err := s.enricher.Enrich(ctx, evt); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	select {
	case s.requests <- core.Request{Event: evt, AssignSequence: true, Done: done}:
	case <-ctx.Done():
		return fmt.Errorf("submit %s: %w", evt.EventType(), ctx.Err())
	}

	select {
	case err := <-done:
		if err == nil && s.metrics != nil {
			s.metrics.IngestToApply.WithLabelValues(evt.EventType().String()).Observe(time.Since(start).Seconds())
		}
		return err
	case <-ctx.Done():
		return fmt.Errorf("await %s: %w", evt.EventType(), ctx.Err())
	}
}
