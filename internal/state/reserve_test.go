package state_test

import (
	"LendLedger/internal/math"
	"LendLedger/internal/state"
	"errors"
	"testing"
)

func newTestReserve(t *testing.T, mutate func(*state.ReserveConfig)) *state.Reserve {
	t.Helper()
	cfg := state.DefaultReserveConfig
	if mutate != nil {
		mutate(&cfg)
	}
	if err := state.ValidateReserveConfig(cfg); err != nil {
		t.Fatalf("invalid config: %v", err)
	}
	return state.NewReserve("punks-test", 0, "USDC", 0, cfg)
}

// ============================================================================
// Test: Deposits and withdrawals
// ============================================================================

func TestReserve_DepositAtParity(t *testing.T) {
	r := newTestReserve(t, nil)
	snap := r.Snapshot(math.One, r.State.TotalDeposits)

	notes, err := state.Tokens(1_000).ToDepositNotes(snap, math.RoundDown)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if notes != 1_000 {
		t.Errorf("notes: got %d, want 1000", notes)
	}
	if err := r.Deposit(1_000, notes); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if r.State.TotalDeposits != 1_000 {
		t.Errorf("vault: got %d, want 1000", r.State.TotalDeposits)
	}
	if r.State.TotalDepositNotes != 1_000 {
		t.Errorf("deposit notes: got %d, want 1000", r.State.TotalDepositNotes)
	}
}

func TestReserve_WithdrawBeyondVault(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(100, 100)

	err := r.Withdraw(101, 101)
	if !errors.Is(err, state.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
	if r.State.TotalDeposits != 100 {
		t.Errorf("vault changed on failure: got %d, want 100", r.State.TotalDeposits)
	}
}

func TestReserve_DepositOverflow(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(^uint64(0), 1)
	if err := r.Deposit(1, 1); !errors.Is(err, state.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: Borrow, repay, exchange rates
// ============================================================================

func TestReserve_BorrowKeepsDepositRate(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(1_000, 1_000)

	fee, _ := r.BorrowFee(400)
	if fee != 10 {
		t.Fatalf("fee: got %d, want 10", fee)
	}
	if err := r.Borrow(1, 400, 410, fee, 0); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if r.State.TotalDeposits != 600 {
		t.Errorf("vault: got %d, want 600", r.State.TotalDeposits)
	}
	if got := r.DepositNoteExchangeRate(r.State.TotalDeposits); !got.Equal(math.One) {
		t.Errorf("deposit rate: got %s, want 1", got)
	}
	if got := r.LoanNoteExchangeRate(); !got.Equal(math.One) {
		t.Errorf("loan rate: got %s, want 1", got)
	}
}

func TestReserve_BorrowBeyondVault(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(100, 100)
	if err := r.Borrow(1, 101, 101, 0, 0); !errors.Is(err, state.ErrInsufficientLiquidity) {
		t.Errorf("got %v, want ErrInsufficientLiquidity", err)
	}
}

func TestReserve_RepaySaturates(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(1_000, 1_000)
	_ = r.Borrow(1, 100, 100, 0, 0)

	if err := r.Repay(2, 150, 150); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if !r.State.OutstandingDebt.IsZero() {
		t.Errorf("debt: got %s, want 0", r.State.OutstandingDebt)
	}
	if r.State.TotalLoanNotes != 0 {
		t.Errorf("loan notes: got %d, want 0", r.State.TotalLoanNotes)
	}
	if r.State.TotalDeposits != 1_050 {
		t.Errorf("vault: got %d, want 1050", r.State.TotalDeposits)
	}
}

func TestReserve_Fees(t *testing.T) {
	r := newTestReserve(t, func(c *state.ReserveConfig) {
		c.LoanOriginationFee = 250
		c.ProtocolFeeRate = 10
	})

	cases := []struct {
		tokens, fee, protocol uint64
	}{
		{1_000, 25, 1},
		{1, 1, 1},
		{0, 0, 0},
		{10_000, 250, 10},
	}
	for _, c := range cases {
		fee, _ := r.BorrowFee(c.tokens)
		protocol, _ := r.ProtocolFee(c.tokens)
		if fee != c.fee || protocol != c.protocol {
			t.Errorf("tokens %d: got (%d, %d), want (%d, %d)", c.tokens, fee, protocol, c.fee, c.protocol)
		}
	}
}

// ============================================================================
// Test: Accrual
// ============================================================================

func TestReserve_AccrueInterest(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(1_000, 1_000)
	_ = r.Borrow(1, 1_000, 1_000, 0, 0)
	r.State.AccruedUntil = 1_000_000

	completion, err := r.Accrue(r.State.TotalDeposits, 1_000_000+86_400, 2)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if completion != state.CompletionFull {
		t.Fatalf("got %s, want Full", completion)
	}

	debt := r.State.OutstandingDebt
	if !debt.GreaterThan(math.FromUint64(1_000)) {
		t.Fatalf("debt did not grow: %s", debt)
	}
	interest := debt.SaturatingSub(math.FromUint64(1_000))
	if want := interest.Mul(math.FromBps(50)); !r.State.UncollectedFees.Equal(want) {
		t.Errorf("fees: got %s, want %s", r.State.UncollectedFees, want)
	}
	if !r.LoanNoteExchangeRate().GreaterThan(math.One) {
		t.Errorf("loan rate: got %s, want > 1", r.LoanNoteExchangeRate())
	}
}

func TestReserve_AccrueBackwardsFails(t *testing.T) {
	r := newTestReserve(t, nil)
	r.State.AccruedUntil = 500
	if _, err := r.Accrue(0, 499, 1); !errors.Is(err, state.ErrInvalidParameter) {
		t.Errorf("got %v, want ErrInvalidParameter", err)
	}
}

func TestReserve_PartialRefreshKeepsSnapshotStale(t *testing.T) {
	r := newTestReserve(t, func(c *state.ReserveConfig) { c.MaxAccrualSeconds = 100 })
	r.State.AccruedUntil = 1_000
	cache := state.NewCache[state.ReserveSnapshot]()
	cache.RefreshTo(1, r.Snapshot(math.One, 0))

	const point = 5
	for i := 0; i < 2; i++ {
		res, err := r.Refresh(0, 1_300, point, math.One, &cache)
		if err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
		if res.Completion != state.CompletionPartial {
			t.Fatalf("refresh %d: got %s, want Partial", i, res.Completion)
		}
		if _, err := cache.TryGet(point); !errors.Is(err, state.ErrStaleData) {
			t.Fatalf("refresh %d: got %v, want ErrStaleData", i, err)
		}
	}

	res, err := r.Refresh(0, 1_300, point, math.One, &cache)
	if err != nil {
		t.Fatalf("final refresh: %v", err)
	}
	if res.Completion != state.CompletionFull {
		t.Fatalf("got %s, want Full", res.Completion)
	}
	if _, err := cache.TryGet(point); err != nil {
		t.Errorf("snapshot should be fresh: %v", err)
	}
	if r.State.AccruedUntil != 1_300 {
		t.Errorf("accrued until: got %d, want 1300", r.State.AccruedUntil)
	}
}

func TestReserve_RefreshCollectsFeeNotes(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(1_000, 1_000)
	r.State.UncollectedFees = math.FromUint64(20)
	r.State.AccruedUntil = 10
	cache := state.NewCache[state.ReserveSnapshot]()

	res, err := r.Refresh(r.State.TotalDeposits, 10, 1, math.One, &cache)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	// rate = (1000 - 20) / 1000 = 0.98; 20 / 0.98 = 20.4
	if res.FeeNotes != 20 {
		t.Errorf("fee notes: got %d, want 20", res.FeeNotes)
	}
	if r.State.TotalDepositNotes != 1_020 {
		t.Errorf("deposit notes: got %d, want 1020", r.State.TotalDepositNotes)
	}
	if want := math.MustParse("0.4"); !r.State.UncollectedFees.Equal(want) {
		t.Errorf("uncollected: got %s, want %s", r.State.UncollectedFees, want)
	}
}

func TestReserve_RefreshBelowThresholdMintsNothing(t *testing.T) {
	r := newTestReserve(t, nil)
	_ = r.Deposit(1_000, 1_000)
	r.State.UncollectedFees = math.FromUint64(9)
	r.State.AccruedUntil = 10
	cache := state.NewCache[state.ReserveSnapshot]()

	res, _ := r.Refresh(r.State.TotalDeposits, 10, 1, math.One, &cache)
	if res.FeeNotes != 0 {
		t.Errorf("fee notes: got %d, want 0", res.FeeNotes)
	}
}

func TestValidateReserveConfig(t *testing.T) {
	cfg := state.DefaultReserveConfig
	cfg.MinCollateralRatio = 9_000
	if err := state.ValidateReserveConfig(cfg); err == nil {
		t.Error("expected error for ratio below 100%")
	}
	cfg = state.DefaultReserveConfig
	cfg.UtilizationRate1 = 9_600
	if err := state.ValidateReserveConfig(cfg); err == nil {
		t.Error("expected error for u1 > u2")
	}
}
