package state_test

import (
	"LendLedger/internal/math"
	"LendLedger/internal/state"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
)

// newPricedMarket returns a market with one reserve whose snapshot is fresh
// at point with unit rates, the given price and a 125% collateral ratio.
func newPricedMarket(t *testing.T, point uint64, price string) *state.Market {
	t.Helper()
	m := state.NewMarket("punks-test", "Punks Test", "USDC", "creator", 1)
	r, err := m.AddReserve("USDC", 0, state.DefaultReserveConfig)
	if err != nil {
		t.Fatalf("add reserve: %v", err)
	}
	snap := r.Snapshot(math.MustParse(price), 0)
	m.Snapshots[0].RefreshTo(point, snap)
	return m
}

func newObligationWithLoan(t *testing.T, limit int) (*state.Obligation, uuid.UUID) {
	t.Helper()
	o := state.NewObligation("punks-test", uuid.New(), limit)
	account := state.LoanAccountID(o.ID, 0)
	if err := o.RegisterLoan(account, 0); err != nil {
		t.Fatalf("register loan: %v", err)
	}
	return o, account
}

func healthAt(t *testing.T, o *state.Obligation, m *state.Market, point uint64, nftPrice string) bool {
	t.Helper()
	if err := o.CacheValuation(m, point, math.MustParse(nftPrice)); err != nil {
		t.Fatalf("cache valuation: %v", err)
	}
	return o.IsHealthy(m, point)
}

// ============================================================================
// Test: Collateral registration
// ============================================================================

func TestObligation_SingleCollateralLimit(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), state.DefaultCollateralLimit)
	if err := o.RegisterCollateral("nft-1"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := o.RegisterCollateral("nft-2"); !errors.Is(err, state.ErrCollateralCapacityExceeded) {
		t.Errorf("got %v, want ErrCollateralCapacityExceeded", err)
	}
}

func TestObligation_DuplicateCollateral(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), state.CollateralCapacity)
	_ = o.RegisterCollateral("nft-1")
	if err := o.RegisterCollateral("nft-1"); !errors.Is(err, state.ErrDuplicateCollateral) {
		t.Errorf("got %v, want ErrDuplicateCollateral", err)
	}
}

func TestObligation_CollateralCapacity(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), state.CollateralCapacity)
	for i := 0; i < state.CollateralCapacity; i++ {
		if err := o.RegisterCollateral(fmt.Sprintf("nft-%d", i)); err != nil {
			t.Fatalf("item %d: %v", i, err)
		}
	}
	if err := o.RegisterCollateral("nft-12"); !errors.Is(err, state.ErrCollateralCapacityExceeded) {
		t.Errorf("got %v, want ErrCollateralCapacityExceeded", err)
	}
}

func TestObligation_UnregisterCollateral(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), 1)
	_ = o.RegisterCollateral("nft-1")

	if err := o.UnregisterCollateral("nft-1"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if o.CollateralCount() != 0 {
		t.Errorf("count: got %d, want 0", o.CollateralCount())
	}
	if err := o.UnregisterCollateral("nft-1"); !errors.Is(err, state.ErrUnregisteredCollateral) {
		t.Errorf("got %v, want ErrUnregisteredCollateral", err)
	}
	if err := o.RegisterCollateral("nft-2"); err != nil {
		t.Errorf("slot should be reusable: %v", err)
	}
}

// ============================================================================
// Test: Loan registration
// ============================================================================

func TestObligation_LoanCapacity(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), 1)
	for i := 0; i < state.LoanCapacity; i++ {
		if err := o.RegisterLoan(uuid.New(), uint16(i)); err != nil {
			t.Fatalf("loan %d: %v", i, err)
		}
	}
	if err := o.RegisterLoan(uuid.New(), 99); !errors.Is(err, state.ErrNoFreeObligation) {
		t.Errorf("got %v, want ErrNoFreeObligation", err)
	}
}

func TestObligation_DuplicateLoan(t *testing.T) {
	o, account := newObligationWithLoan(t, 1)

	if err := o.RegisterLoan(account, 1); !errors.Is(err, state.ErrDuplicatePosition) {
		t.Errorf("same account: got %v, want ErrDuplicatePosition", err)
	}
	if err := o.RegisterLoan(uuid.New(), 0); !errors.Is(err, state.ErrDuplicatePosition) {
		t.Errorf("same reserve: got %v, want ErrDuplicatePosition", err)
	}
}

func TestObligation_UnknownPosition(t *testing.T) {
	o := state.NewObligation("punks-test", uuid.New(), 1)
	if err := o.Borrow(uuid.New(), 1); !errors.Is(err, state.ErrUnregisteredPosition) {
		t.Errorf("borrow: got %v, want ErrUnregisteredPosition", err)
	}
	if err := o.Repay(uuid.New(), 1); !errors.Is(err, state.ErrUnregisteredPosition) {
		t.Errorf("repay: got %v, want ErrUnregisteredPosition", err)
	}
}

func TestObligation_LoanLifecycle(t *testing.T) {
	o, account := newObligationWithLoan(t, 1)

	_ = o.Borrow(account, 50)
	if err := o.UnregisterLoan(account); !errors.Is(err, state.ErrPositionNotEmpty) {
		t.Errorf("outstanding: got %v, want ErrPositionNotEmpty", err)
	}

	_ = o.Repay(account, 80)
	p, _ := o.Position(account)
	if p.Amount != 0 {
		t.Fatalf("repay should saturate: got %d, want 0", p.Amount)
	}
	if err := o.UnregisterLoan(account); err != nil {
		t.Errorf("unregister repaid: %v", err)
	}
}

func TestObligation_AnotherLoanOutstanding(t *testing.T) {
	o, account := newObligationWithLoan(t, 1)
	second := uuid.New()
	_ = o.RegisterLoan(second, 1)

	if err := o.CanBorrowFromReserve(1); err != nil {
		t.Fatalf("no debt yet: %v", err)
	}
	_ = o.Borrow(account, 10)
	if err := o.CanBorrowFromReserve(0); err != nil {
		t.Errorf("same reserve: %v", err)
	}
	if err := o.CanBorrowFromReserve(1); !errors.Is(err, state.ErrAnotherLoanOutstanding) {
		t.Errorf("got %v, want ErrAnotherLoanOutstanding", err)
	}
}

// ============================================================================
// Test: Valuation and health
// ============================================================================

func TestObligation_HealthBoundary(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	o, account := newObligationWithLoan(t, 1)
	_ = o.RegisterCollateral("nft-1")

	// 10 >= 8 * 1 * 1.25
	_ = o.Borrow(account, 8)
	if !healthAt(t, o, m, 1, "10") {
		t.Error("8 notes against 10 should be healthy")
	}

	_ = o.Borrow(account, 1)
	if healthAt(t, o, m, 1, "10") {
		t.Error("9 notes against 10 should be unhealthy")
	}
}

func TestObligation_NoLoansIsHealthy(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	o := state.NewObligation("punks-test", uuid.New(), 1)
	if !healthAt(t, o, m, 1, "0") {
		t.Error("obligation without debt should be healthy")
	}
}

func TestObligation_ValuationValues(t *testing.T) {
	m := newPricedMarket(t, 3, "2")
	o, account := newObligationWithLoan(t, 1)
	_ = o.RegisterCollateral("nft-1")
	_ = o.Borrow(account, 10)

	if err := o.CacheValuation(m, 3, math.FromUint64(100)); err != nil {
		t.Fatalf("cache valuation: %v", err)
	}
	v, err := o.Valuation.TryGet(3)
	if err != nil {
		t.Fatalf("valuation: %v", err)
	}
	if !v.CollateralValue.Equal(math.FromUint64(100)) {
		t.Errorf("collateral: got %s, want 100", v.CollateralValue)
	}
	if !v.LoanValue.Equal(math.FromUint64(20)) {
		t.Errorf("loan: got %s, want 20", v.LoanValue)
	}
}

func TestObligation_MutationInvalidatesValuation(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	o, account := newObligationWithLoan(t, 1)
	_ = o.RegisterCollateral("nft-1")
	_ = o.CacheValuation(m, 1, math.FromUint64(10))

	_ = o.Borrow(account, 1)
	if _, err := o.Valuation.TryGet(1); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
}

func TestObligation_IsHealthyWithoutValuationPanics(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	o, _ := newObligationWithLoan(t, 1)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	o.IsHealthy(m, 1)
}

func TestObligation_StaleReserveFailsValuation(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	o, account := newObligationWithLoan(t, 1)
	_ = o.Borrow(account, 1)

	if err := o.CacheValuation(m, 2, math.One); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
}

func TestObligation_HealthMonotonicity(t *testing.T) {
	m := newPricedMarket(t, 1, "1")
	prices := []string{"1", "5", "10", "11.25", "20", "100"}
	debts := []uint64{1, 4, 8, 9, 16, 80}

	for _, d := range debts {
		o, account := newObligationWithLoan(t, 1)
		_ = o.RegisterCollateral("nft-1")
		_ = o.Borrow(account, d)

		wasHealthy := false
		for _, p := range prices {
			healthy := healthAt(t, o, m, 1, p)
			if wasHealthy && !healthy {
				t.Errorf("debt %d: raising price to %s made obligation unhealthy", d, p)
			}
			wasHealthy = healthy
		}
	}

	for _, p := range prices {
		o, account := newObligationWithLoan(t, 1)
		_ = o.RegisterCollateral("nft-1")

		wasUnhealthy := false
		for _, d := range debts {
			_ = o.Borrow(account, d)
			healthy := healthAt(t, o, m, 1, p)
			if wasUnhealthy && healthy {
				t.Errorf("price %s: adding debt made obligation healthy", p)
			}
			wasUnhealthy = !healthy
		}
	}
}

func TestValuePosition(t *testing.T) {
	snap := state.ReserveSnapshot{
		Price:                math.FromUint64(3),
		LoanNoteExchangeRate: math.MustParse("1.5"),
		MinCollateralRatio:   math.FromBps(12500),
		Decimals:             0,
	}
	v := state.ValuePosition(state.Position{Amount: 4}, snap)
	if !v.MarketValue.Equal(math.FromUint64(18)) {
		t.Errorf("market value: got %s, want 18", v.MarketValue)
	}
	if !v.ComplementaryLimit.Equal(math.MustParse("22.5")) {
		t.Errorf("limit: got %s, want 22.5", v.ComplementaryLimit)
	}
}
