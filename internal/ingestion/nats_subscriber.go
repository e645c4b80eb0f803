package ingestion

import (
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes instruction streams from JetStream and hands raw
// messages to the ingestion pipeline.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an undecoded instruction as received from NATS.
type RawEvent struct {
	Subject    string
	Data       []byte
	Timestamp  time.Time // receive time
	Published  time.Time // stream timestamp, zero when unknown
	AckFunc    func()
	NakFunc    func()
	TermFunc   func()
	Redelivery uint64
}

// SubjectConfig binds one instruction type to its durable consumer.
type SubjectConfig struct {
	Subject      string
	EventType    event.EventType
	ConsumerName string
	StreamName   string
}

// streamGroup is one inbound stream and the instructions it carries.
type streamGroup struct {
	stream       string
	group        string
	instructions []event.EventType
}

var inboundGroups = []streamGroup{
	{
		stream: "LEND_RESERVES",
		group:  "reserves",
		instructions: []event.EventType{
			event.EventTypeRefreshReserve,
			event.EventTypeDepositTokens,
			event.EventTypeWithdrawTokens,
			event.EventTypeUpdateReserveConfig,
			event.EventTypeUpdateMarketFlags,
		},
	},
	{
		stream: "LEND_OBLIGATIONS",
		group:  "obligations",
		instructions: []event.EventType{
			event.EventTypeInitObligation,
			event.EventTypeInitLoanAccount,
			event.EventTypeCloseLoanAccount,
			event.EventTypeDepositNFT,
			event.EventTypeWithdrawNFT,
			event.EventTypeBorrow,
			event.EventTypeRepay,
		},
	},
	{
		stream: "LEND_BIDS",
		group:  "bids",
		instructions: []event.EventType{
			event.EventTypePlaceBid,
			event.EventTypeIncreaseBid,
			event.EventTypeRevokeBid,
			event.EventTypeExecuteBid,
			event.EventTypeLiquidateSolvent,
		},
	},
	{
		stream:       "LEND_WALLETS",
		group:        "wallets",
		instructions: []event.EventType{event.EventTypeExternalDeposit},
	},
}

// DefaultSubjects returns one consumer per instruction type:
// lend.<group>.<instruction>.>
func DefaultSubjects() []SubjectConfig {
	var out []SubjectConfig
	for _, g := range inboundGroups {
		for _, et := range g.instructions {
			out = append(out, SubjectConfig{
				Subject:      fmt.Sprintf("lend.%s.%s.>", g.group, et),
				EventType:    et,
				ConsumerName: "ledger-" + strings.ReplaceAll(et.String(), "_", "-"),
				StreamName:   g.stream,
			})
		}
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    observability.NewLogger("ingestion"),
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawEvent{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
				TermFunc:  func() { _ = msg.Term() },
			}
			if meta, err := msg.Metadata(); err == nil {
				raw.Published = meta.Timestamp
				raw.Redelivery = meta.NumDelivered - 1
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound JetStream streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	logger := observability.NewLogger("ingestion")
	for _, g := range inboundGroups {
		cfg := jetstream.StreamConfig{
			Name:      g.stream,
			Subjects:  []string{fmt.Sprintf("lend.%s.>", g.group)},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		}
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("ingestion")
	nc, err := nats.Connect(url,
		nats.Name("lendledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
