package main

import (
	"LendLedger/internal/core"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"encoding/hex"
	"time"
)

var bridgeLogger = observability.NewLogger("bridge")

// bridgeCoreOutputs converts core outputs into the persistence, projection
// and publisher formats. Persistence receives every output (blocking);
// projections and publishing drop when their channel is full. It returns
// once persistIn is closed and drained, closing persistOut behind it.
func bridgeCoreOutputs(
	persistIn <-chan core.CoreOutput,
	projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableEvent,
	metrics *observability.Metrics,
) {
	defer close(persistOut)

	for persistIn != nil {
		select {
		case output, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			persistOut <- toPersistence(output)

			select {
			case publishOut <- toPublishable(output):
			default:
				if metrics != nil {
					metrics.PublishDrops.Inc()
				}
			}

		case output, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case projectionOut <- toProjection(output):
			default:
				if metrics != nil {
					metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
				}
			}
		}
	}
}

func toPersistence(output core.CoreOutput) persistence.CoreOutput {
	env := output.Envelope
	p := persistence.CoreOutput{
		EventRow: persistence.EventRow{
			Sequence:       env.Sequence,
			EventType:      env.EventType.String(),
			IdempotencyKey: env.IdempotencyKey,
			MarketID:       env.MarketID,
			Payload:        env.Payload,
			StateHash:      env.StateHash[:],
			PrevHash:       env.PrevHash[:],
			Timestamp:      env.Timestamp,
			SourceSequence: env.SourceSequence,
		},
		EmittedAt: time.Now(),
	}
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			p.JournalRows = append(p.JournalRows, persistence.JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Mint:          j.Mint,
				Amount:        j.Amount,
				JournalType:   j.JournalType.String(),
				Timestamp:     j.Timestamp,
			})
		}
	}
	return p
}

func toProjection(output core.CoreOutput) projection.ProjectionOutput {
	env := output.Envelope
	p := projection.ProjectionOutput{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		MarketID:       env.MarketID,
		JournalEntries: projection.JournalEntriesFromBatch(output.Batch),
		Timestamp:      env.Timestamp.Unix(),
	}

	var err error
	if p.Reserves, err = projection.ReserveRowsFromMarkets(output.Markets); err != nil {
		bridgeLogger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("skip reserve projection")
	}
	if p.Obligations, err = projection.ObligationRowsFrom(output.Obligations); err != nil {
		bridgeLogger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("skip obligation projection")
	}
	if p.Bids, err = projection.BidRowsFrom(output.Bids); err != nil {
		bridgeLogger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("skip bid projection")
	}
	return p
}

func toPublishable(output core.CoreOutput) ingestion.PublishableEvent {
	env := output.Envelope
	evt := ingestion.PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		MarketID:       env.MarketID,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if output.Batch != nil {
		for _, j := range output.Batch.Journals {
			evt.Journals = append(evt.Journals, ingestion.PublishedJournal{
				Debit:       j.DebitAccount.AccountPath(),
				Credit:      j.CreditAccount.AccountPath(),
				Mint:        j.Mint,
				Amount:      j.Amount,
				JournalType: j.JournalType.String(),
			})
		}
	}
	return evt
}
