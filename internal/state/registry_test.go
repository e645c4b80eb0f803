package state_test

import (
	"LendLedger/internal/math"
	"LendLedger/internal/state"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestRegistry_IndexesFollowObligation(t *testing.T) {
	reg := state.NewRegistry()
	o := state.NewObligation("punks-test", uuid.New(), 1)
	account := state.LoanAccountID(o.ID, 0)
	_ = o.RegisterLoan(account, 0)
	_ = o.RegisterCollateral("nft-1")
	reg.PutObligation(o)

	if owner, ok := reg.CollateralOwner("nft-1"); !ok || owner != o.ID {
		t.Errorf("collateral owner: got (%s, %v), want (%s, true)", owner, ok, o.ID)
	}
	if owner, ok := reg.LoanAccountOwner(account); !ok || owner != o.ID {
		t.Errorf("loan owner: got (%s, %v), want (%s, true)", owner, ok, o.ID)
	}

	next := o.Clone()
	_ = next.UnregisterCollateral("nft-1")
	reg.PutObligation(next)
	if _, ok := reg.CollateralOwner("nft-1"); ok {
		t.Error("collateral index should drop unregistered item")
	}
}

func TestRegistry_UnknownLookups(t *testing.T) {
	reg := state.NewRegistry()
	if _, err := reg.Market("nope"); !errors.Is(err, state.ErrUnknownMarket) {
		t.Errorf("market: got %v, want ErrUnknownMarket", err)
	}
	if _, err := reg.Obligation(uuid.New()); !errors.Is(err, state.ErrUnknownObligation) {
		t.Errorf("obligation: got %v, want ErrUnknownObligation", err)
	}
	if _, err := reg.Bid(uuid.New()); !errors.Is(err, state.ErrBidNotFound) {
		t.Errorf("bid: got %v, want ErrBidNotFound", err)
	}
}

func TestMarket_CloneIsIndependent(t *testing.T) {
	m := state.NewMarket("punks-test", "Punks Test", "USDC", "creator", 1)
	_, _ = m.AddReserve("USDC", 6, state.DefaultReserveConfig)
	m.NFTPrice.RefreshTo(1, math.FromUint64(10))

	c := m.Clone()
	_ = c.Reserves[0].Deposit(100, 100)
	c.Snapshots[0].RefreshTo(2, state.ReserveSnapshot{})
	c.NFTPrice.Invalidate()

	if m.Reserves[0].State.TotalDeposits != 0 {
		t.Errorf("original reserve mutated: %d", m.Reserves[0].State.TotalDeposits)
	}
	if m.Snapshots[0].IsFresh() {
		t.Error("original snapshot mutated")
	}
	if !m.NFTPrice.IsFresh() {
		t.Error("original nft price mutated")
	}
}

func TestMarket_AddReserveRejectsDuplicateMint(t *testing.T) {
	m := state.NewMarket("punks-test", "Punks Test", "USDC", "creator", 1)
	if _, err := m.AddReserve("USDC", 6, state.DefaultReserveConfig); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := m.AddReserve("USDC", 6, state.DefaultReserveConfig); !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
	if _, err := m.Reserve(1); !errors.Is(err, state.ErrUnknownReserve) {
		t.Errorf("got %v, want ErrUnknownReserve", err)
	}
}
