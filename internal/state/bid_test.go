package state_test

import (
	"LendLedger/internal/math"
	"LendLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func newTestBid(t *testing.T, limit uint64) *state.Bid {
	t.Helper()
	b, err := state.NewBid("punks-test", uuid.New(), "USDC", "cap", limit, 1)
	if err != nil {
		t.Fatalf("new bid: %v", err)
	}
	return b
}

// ============================================================================
// Test: Bid lifecycle
// ============================================================================

func TestBidState_Transitions(t *testing.T) {
	cases := []struct {
		from, to state.BidState
		want     bool
	}{
		{state.BidStatePlaced, state.BidStateIncreased, true},
		{state.BidStatePlaced, state.BidStateRevoked, true},
		{state.BidStatePlaced, state.BidStateExecuted, true},
		{state.BidStateIncreased, state.BidStateIncreased, true},
		{state.BidStateIncreased, state.BidStateExecuted, true},
		{state.BidStateRevoked, state.BidStateIncreased, false},
		{state.BidStateExecuted, state.BidStateRevoked, false},
		{state.BidStateIncreased, state.BidStatePlaced, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestBid_ZeroLimitRejected(t *testing.T) {
	if _, err := state.NewBid("m", uuid.New(), "USDC", "cap", 0, 1); !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
}

func TestBid_IncreaseIsMonotonic(t *testing.T) {
	b := newTestBid(t, 100)
	if err := b.Increase(50); err != nil {
		t.Fatalf("increase: %v", err)
	}
	if b.BidLimit != 150 {
		t.Errorf("limit: got %d, want 150", b.BidLimit)
	}
	if b.State != state.BidStateIncreased {
		t.Errorf("state: got %s, want Increased", b.State)
	}
}

func TestBid_IncreaseOverflow(t *testing.T) {
	b := newTestBid(t, ^uint64(0)-1)
	if err := b.Increase(2); !errors.Is(err, state.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
	if b.BidLimit != ^uint64(0)-1 {
		t.Errorf("limit changed on failure: got %d", b.BidLimit)
	}
}

func TestBid_ClosedBidRejectsChanges(t *testing.T) {
	b := newTestBid(t, 100)
	if err := b.Revoke(2); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := b.Increase(1); !errors.Is(err, state.ErrBidClosed) {
		t.Errorf("increase: got %v, want ErrBidClosed", err)
	}
	if err := b.MarkExecuted(3); !errors.Is(err, state.ErrBidClosed) {
		t.Errorf("execute: got %v, want ErrBidClosed", err)
	}
}

func TestBidID_Deterministic(t *testing.T) {
	bidder := uuid.New()
	if state.BidID("m", bidder) != state.BidID("m", bidder) {
		t.Error("bid id should be deterministic")
	}
	if state.BidID("m", bidder) == state.BidID("n", bidder) {
		t.Error("bid id should depend on market")
	}
}

// ============================================================================
// Test: Payoff and escrow split
// ============================================================================

func TestComputePayoff_ClampsToBalanceAndDebt(t *testing.T) {
	snap := snapshotWithRates("1", "1.5")

	p, err := state.ComputePayoff(1_000, 100, snap, 1_000)
	if err != nil {
		t.Fatalf("payoff: %v", err)
	}
	if p.Notes != 100 || p.Tokens != 150 {
		t.Errorf("got %+v, want {Notes:100 Tokens:150}", p)
	}

	p, _ = state.ComputePayoff(100, 100, snap, 120)
	if p.Tokens != 120 {
		t.Errorf("debt cap: got %d, want 120", p.Tokens)
	}

	if _, err := state.ComputePayoff(0, 100, snap, 100); !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("zero request: got %v, want ErrInvalidParameter", err)
	}
}

func TestComputePayoff_RoundsUp(t *testing.T) {
	snap := snapshotWithRates("1", "1.01")
	p, _ := state.ComputePayoff(10, 10, snap, 1_000)
	if p.Tokens != 11 {
		t.Errorf("got %d, want 11", p.Tokens)
	}
}

func TestSplitEscrow_Liquidation(t *testing.T) {
	snap := snapshotWithRates("1", "1")
	payoff, err := state.ComputePayoff(500, 500, snap, 500)
	if err != nil {
		t.Fatalf("payoff: %v", err)
	}
	if payoff.Tokens != 500 {
		t.Fatalf("payoff tokens: got %d, want 500", payoff.Tokens)
	}

	d, err := state.SplitEscrow(600, payoff.Tokens, math.FromBps(500))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if d.Fee != 5 || d.Leftovers != 95 {
		t.Errorf("got fee %d leftovers %d, want 5 and 95", d.Fee, d.Leftovers)
	}
	if d.Payoff+d.Fee+d.Leftovers != 600 {
		t.Errorf("disbursed %d, want 600", d.Payoff+d.Fee+d.Leftovers)
	}
}

func TestSplitEscrow_Conservation(t *testing.T) {
	premiums := []uint64{0, 1, 100, 500, 3333, 10_000}
	for _, bps := range premiums {
		for limit := uint64(1); limit < 2_000; limit += 37 {
			for _, payoff := range []uint64{0, limit / 3, limit / 2, limit} {
				d, err := state.SplitEscrow(limit, payoff, math.FromBps(bps))
				if err != nil {
					t.Fatalf("split: %v", err)
				}
				if got := d.Payoff + d.Fee + d.Leftovers; got != limit {
					t.Errorf("bps %d limit %d payoff %d: got %d, want %d", bps, limit, payoff, got, limit)
				}
			}
		}
	}
}
