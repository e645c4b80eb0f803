package ingestion_test

import (
	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/oracle"
	"LendLedger/internal/state"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeCore answers every request with verdict and forwards the instruction
// to seen.
func fakeCore(ctx context.Context, verdict func(core.Request) error) (chan<- core.Request, <-chan core.Request) {
	requests := make(chan core.Request)
	seen := make(chan core.Request, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-requests:
				seen <- req
				if req.Done != nil {
					req.Done <- verdict(req)
				}
			}
		}
	}()
	return requests, seen
}

func accept(core.Request) error { return nil }

func recv(t *testing.T, ch <-chan core.Request) core.Request {
	t.Helper()
	select {
	case req := <-ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request")
		return core.Request{}
	}
}

type acks struct {
	ack, nak, term atomic.Int32
}

func (a *acks) attach(raw ingestion.RawEvent) ingestion.RawEvent {
	raw.AckFunc = func() { a.ack.Add(1) }
	raw.NakFunc = func() { a.nak.Add(1) }
	raw.TermFunc = func() { a.term.Add(1) }
	return raw
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func depositNFTPayload(creator string) map[string]interface{} {
	p := with(header("nft-1"), map[string]interface{}{
		"market":     "punks",
		"obligation": obligation.String(),
		"nft_mint":   "punk-7",
	})
	if creator != "" {
		p["creator"] = creator
	}
	return p
}

// =============================================================================
// Pipeline
// =============================================================================

func TestPipeline_ForwardsAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, seen := fakeCore(ctx, accept)
	rawChan := make(chan ingestion.RawEvent, 4)
	p := ingestion.NewPipeline(rawChan, requests, nil, nil)
	go p.Run(ctx)

	var a acks
	rawChan <- a.attach(rawFromJSON(t, "lend.obligations.deposit_nft.punks", depositNFTPayload("creator-1")))

	req := recv(t, seen)
	if req.AssignSequence {
		t.Error("stream instructions must keep their source sequence")
	}
	if _, ok := req.Event.(*event.DepositNFT); !ok {
		t.Fatalf("got %T, want *event.DepositNFT", req.Event)
	}
	waitFor(t, func() bool { return a.ack.Load() == 1 })
}

func TestPipeline_TerminatesMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, seen := fakeCore(ctx, accept)
	rawChan := make(chan ingestion.RawEvent, 4)
	p := ingestion.NewPipeline(rawChan, requests, nil, nil)
	go p.Run(ctx)

	var a acks
	rawChan <- a.attach(ingestion.RawEvent{Subject: "lend.obligations.borrow.punks", Data: []byte(`{"nope":1}`)})

	waitFor(t, func() bool { return a.term.Load() == 1 })
	if a.ack.Load() != 0 || a.nak.Load() != 0 {
		t.Errorf("got ack=%d nak=%d, want only term", a.ack.Load(), a.nak.Load())
	}
	select {
	case req := <-seen:
		t.Fatalf("malformed instruction reached the core: %T", req.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipeline_EnrichesCreator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	meta := oracle.NewStaticSource()
	meta.SetCreator("punk-7", "larva")

	requests, seen := fakeCore(ctx, accept)
	rawChan := make(chan ingestion.RawEvent, 4)
	p := ingestion.NewPipeline(rawChan, requests, ingestion.NewEnricher(meta), nil)
	go p.Run(ctx)

	var a acks
	rawChan <- a.attach(rawFromJSON(t, "lend.obligations.deposit_nft.punks", depositNFTPayload("")))

	req := recv(t, seen)
	if got := req.Event.(*event.DepositNFT).Creator; got != "larva" {
		t.Errorf("got creator %q, want larva", got)
	}
}

func TestPipeline_DropsUnknownNFT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, seen := fakeCore(ctx, accept)
	rawChan := make(chan ingestion.RawEvent, 4)
	p := ingestion.NewPipeline(rawChan, requests, ingestion.NewEnricher(oracle.NewStaticSource()), nil)
	go p.Run(ctx)

	var a acks
	rawChan <- a.attach(rawFromJSON(t, "lend.obligations.deposit_nft.punks", depositNFTPayload("")))

	waitFor(t, func() bool { return a.ack.Load() == 1 })
	select {
	case req := <-seen:
		t.Fatalf("instruction without creator reached the core: %T", req.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// Submitter
// =============================================================================

func TestSubmitter_AssignsSequenceAndReturnsVerdict(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rejected := errors.New("insufficient collateral")
	requests, seen := fakeCore(ctx, func(req core.Request) error {
		if req.Event.IdempotencyKey() == "bad" {
			return rejected
		}
		return nil
	})
	s := ingestion.NewSubmitter(requests, nil, nil)

	body, _ := json.Marshal(with(header("good"), map[string]interface{}{"market": "punks"}))
	if _, err := s.SubmitJSON(ctx, event.EventTypeRevokeBid, body); err != nil {
		t.Fatalf("SubmitJSON: %v", err)
	}
	if req := recv(t, seen); !req.AssignSequence {
		t.Error("submitted instructions must have their sequence assigned")
	}

	body, _ = json.Marshal(with(header("bad"), map[string]interface{}{"market": "punks"}))
	if _, err := s.SubmitJSON(ctx, event.EventTypeRevokeBid, body); !errors.Is(err, rejected) {
		t.Fatalf("got %v, want core verdict", err)
	}
}

func TestSubmitter_MalformedNeverReachesCore(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, seen := fakeCore(ctx, accept)
	s := ingestion.NewSubmitter(requests, nil, nil)

	if _, err := s.SubmitJSON(ctx, event.EventTypeBorrow, []byte(`{`)); !errors.Is(err, ingestion.ErrMalformed) {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
	select {
	case req := <-seen:
		t.Fatalf("malformed instruction reached the core: %T", req.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

// =============================================================================
// Refresher
// =============================================================================

func TestRefresher_SubmitsEveryReserve(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices := oracle.NewStaticSource()
	prices.SetPrice("punks", event.OraclePrice{Mantissa: 50, Scale: 0})
	prices.SetPrice("USDC", event.OraclePrice{Mantissa: 1, Scale: 0})
	prices.SetPrice("SOL", event.OraclePrice{Mantissa: 150, Scale: 0})

	markets := []config.MarketConfig{{
		ID: "punks",
		Reserves: []config.ReserveEntry{
			{TokenMint: "USDC", Decimals: 6, Config: state.DefaultReserveConfig},
			{TokenMint: "SOL", Decimals: 9, Config: state.DefaultReserveConfig},
		},
	}}

	requests, seen := fakeCore(ctx, accept)
	r := ingestion.NewRefresher(markets, prices, ingestion.NewSubmitter(requests, nil, nil),
		signer, time.Hour, func(time.Time) uint64 { return 77 }, nil)
	r.RefreshAll(ctx)

	for idx, wantMantissa := range []int64{1, 150} {
		req := recv(t, seen)
		rr, ok := req.Event.(*event.RefreshReserve)
		if !ok {
			t.Fatalf("got %T, want *event.RefreshReserve", req.Event)
		}
		if rr.ReserveIndex != uint16(idx) {
			t.Errorf("got reserve %d, want %d", rr.ReserveIndex, idx)
		}
		if rr.TokenPrice.Mantissa != wantMantissa || rr.NFTPrice.Mantissa != 50 {
			t.Errorf("got prices %+v/%+v, want %d/50", rr.TokenPrice, rr.NFTPrice, wantMantissa)
		}
		if rr.Slot != 77 {
			t.Errorf("got slot %d, want 77", rr.Slot)
		}
		if !req.AssignSequence {
			t.Error("refreshes must have their sequence assigned")
		}
	}
}

func TestRefresher_SkipsReserveWithoutPrice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prices := oracle.NewStaticSource()
	prices.SetPrice("punks", event.OraclePrice{Mantissa: 50})
	prices.SetPrice("SOL", event.OraclePrice{Mantissa: 150})

	markets := []config.MarketConfig{{
		ID: "punks",
		Reserves: []config.ReserveEntry{
			{TokenMint: "USDC", Decimals: 6},
			{TokenMint: "SOL", Decimals: 9},
		},
	}}

	requests, seen := fakeCore(ctx, accept)
	r := ingestion.NewRefresher(markets, prices, ingestion.NewSubmitter(requests, nil, nil),
		signer, time.Hour, func(time.Time) uint64 { return 1 }, nil)
	r.RefreshAll(ctx)

	req := recv(t, seen)
	if got := req.Event.(*event.RefreshReserve).ReserveIndex; got != 1 {
		t.Errorf("got reserve %d, want 1", got)
	}
	select {
	case extra := <-seen:
		t.Fatalf("unexpected extra refresh %+v", extra.Event)
	case <-time.After(50 * time.Millisecond):
	}
}
