package ingestion

import (
	"LendLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const outboundStream = "LEND_LEDGER_EVENTS"

// OutboundPublisher publishes applied instructions to NATS for downstream
// consumers. Subjects follow lend.ledger.events.<instruction>[.<market>].
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
	logger    zerolog.Logger
}

// PublishableEvent is an applied instruction and the value movements it
// caused.
type PublishableEvent struct {
	Sequence       int64              `json:"sequence"`
	EventType      string             `json:"event_type"`
	IdempotencyKey string             `json:"idempotency_key"`
	MarketID       *string            `json:"market_id,omitempty"`
	Payload        json.RawMessage    `json:"payload"`
	Journals       []PublishedJournal `json:"journals"`
	StateHash      string             `json:"state_hash"`
	Timestamp      time.Time          `json:"timestamp"`
}

// PublishedJournal is one double-entry movement. The debit account's
// balance increased.
type PublishedJournal struct {
	Debit       string `json:"debit"`
	Credit      string `json:"credit"`
	Mint        string `json:"mint"`
	Amount      int64  `json:"amount"`
	JournalType string `json:"journal_type"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Downstream consumers can read the event log directly.
				op.logger.Warn().Err(err).Int64("sequence", evt.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = op.js.Publish(ctx, OutboundSubject(evt), data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", evt.Sequence)))
	return err
}

// OutboundSubject builds lend.ledger.events.<instruction>[.<market>].
func OutboundSubject(evt PublishableEvent) string {
	subject := "lend.ledger.events." + evt.EventType
	if evt.MarketID != nil {
		subject += "." + *evt.MarketID
	}
	return subject
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       outboundStream,
		Subjects:   []string{"lend.ledger.events.>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Replicas:   1,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Str("stream", outboundStream).Msg("ensured outbound stream")
	return nil
}
