// internal/state/reserve.go
package state

import (
	"fmt"

	"LendLedger/internal/math"

	"github.com/google/uuid"
)

// ReserveConfig holds the tunable parameters of a reserve. Rates and ratios
// are in basis points.
type ReserveConfig struct {
	UtilizationRate1             uint64 `toml:"utilization_rate_1" json:"utilization_rate_1"`
	UtilizationRate2             uint64 `toml:"utilization_rate_2" json:"utilization_rate_2"`
	BorrowRate0                  uint64 `toml:"borrow_rate_0" json:"borrow_rate_0"`
	BorrowRate1                  uint64 `toml:"borrow_rate_1" json:"borrow_rate_1"`
	BorrowRate2                  uint64 `toml:"borrow_rate_2" json:"borrow_rate_2"`
	BorrowRate3                  uint64 `toml:"borrow_rate_3" json:"borrow_rate_3"`
	MinCollateralRatio           uint64 `toml:"min_collateral_ratio" json:"min_collateral_ratio"`
	LiquidationPremium           uint64 `toml:"liquidation_premium" json:"liquidation_premium"`
	ManageFeeRate                uint64 `toml:"manage_fee_rate" json:"manage_fee_rate"`
	ManageFeeCollectionThreshold uint64 `toml:"manage_fee_collection_threshold" json:"manage_fee_collection_threshold"`
	LoanOriginationFee           uint64 `toml:"loan_origination_fee" json:"loan_origination_fee"`
	ProtocolFeeRate              uint64 `toml:"protocol_fee_rate" json:"protocol_fee_rate"`
	MaxAccrualSeconds            uint64 `toml:"max_accrual_seconds" json:"max_accrual_seconds"`
}

// DefaultReserveConfig mirrors the parameters markets are launched with.
var DefaultReserveConfig = ReserveConfig{
	UtilizationRate1:             8500,
	UtilizationRate2:             9500,
	BorrowRate0:                  20000,
	BorrowRate1:                  20000,
	BorrowRate2:                  20000,
	BorrowRate3:                  20000,
	MinCollateralRatio:           12500,
	LiquidationPremium:           100,
	ManageFeeRate:                50,
	ManageFeeCollectionThreshold: 10,
	LoanOriginationFee:           250,
	ProtocolFeeRate:              0,
	MaxAccrualSeconds:            7 * 24 * 60 * 60,
}

// ValidateReserveConfig checks that config values are within valid ranges.
func ValidateReserveConfig(c ReserveConfig) error {
	if c.UtilizationRate1 > c.UtilizationRate2 || c.UtilizationRate2 > 10_000 {
		return fmt.Errorf("utilization rates must satisfy u1 <= u2 <= 10000, got %d, %d",
			c.UtilizationRate1, c.UtilizationRate2)
	}
	if c.MinCollateralRatio < 10_000 {
		return fmt.Errorf("min_collateral_ratio must be >= 10000, got %d", c.MinCollateralRatio)
	}
	if c.LiquidationPremium > 10_000 || c.ManageFeeRate > 10_000 {
		return fmt.Errorf("liquidation_premium and manage_fee_rate must be <= 10000")
	}
	if c.LoanOriginationFee > 10_000 || c.ProtocolFeeRate > 10_000 {
		return fmt.Errorf("loan_origination_fee and protocol_fee_rate must be <= 10000")
	}
	if c.MaxAccrualSeconds == 0 {
		return fmt.Errorf("max_accrual_seconds must be > 0")
	}
	return nil
}

func (c ReserveConfig) rateCurve() math.RateCurve {
	return math.NewRateCurveFromBps(
		c.UtilizationRate1, c.UtilizationRate2,
		c.BorrowRate0, c.BorrowRate1, c.BorrowRate2, c.BorrowRate3,
	)
}

// Completion reports whether an accrual caught up to the requested time.
type Completion int32

const (
	CompletionPartial Completion = iota
	CompletionFull
)

func (c Completion) String() string {
	if c == CompletionFull {
		return "Full"
	}
	return "Partial"
}

// ReserveState is the mutable accounting of a reserve.
type ReserveState struct {
	AccruedUntil            int64       `json:"accrued_until"` // unix seconds
	LastUpdated             uint64      `json:"last_updated"`  // slot
	OutstandingDebt         math.Number `json:"outstanding_debt"`
	UncollectedFees         math.Number `json:"uncollected_fees"`
	UncollectedProtocolFees math.Number `json:"uncollected_protocol_fees"`
	TotalDeposits           uint64      `json:"total_deposits"`
	TotalDepositNotes       uint64      `json:"total_deposit_notes"`
	TotalLoanNotes          uint64      `json:"total_loan_notes"`
}

// Reserve is an interest-bearing pool for one token.
type Reserve struct {
	ID              uuid.UUID     `json:"id"`
	Index           uint16        `json:"index"`
	MarketID        string        `json:"market_id"`
	TokenMint       string        `json:"token_mint"`
	DepositNoteMint string        `json:"deposit_note_mint"`
	LoanNoteMint    string        `json:"loan_note_mint"`
	Decimals        uint8         `json:"decimals"`
	Config          ReserveConfig `json:"config"`
	State           ReserveState  `json:"state"`
}

// NewReserve derives the note mints from the market and token mint.
func NewReserve(marketID string, index uint16, tokenMint string, decimals uint8, cfg ReserveConfig) *Reserve {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("reserve:%s:%s", marketID, tokenMint)))
	return &Reserve{
		ID:              id,
		Index:           index,
		MarketID:        marketID,
		TokenMint:       tokenMint,
		DepositNoteMint: fmt.Sprintf("%s:%s:deposit", marketID, tokenMint),
		LoanNoteMint:    fmt.Sprintf("%s:%s:loan", marketID, tokenMint),
		Decimals:        decimals,
		Config:          cfg,
	}
}

// Clone returns a deep copy; Number values are immutable.
func (r *Reserve) Clone() *Reserve {
	c := *r
	return &c
}

// Accrue applies interest to outstanding debt from AccruedUntil towards
// timestamp, at most MaxAccrualSeconds per call. A Partial result means the
// caller must invalidate derived values and call again.
func (r *Reserve) Accrue(vaultAmount uint64, timestamp int64, point uint64) (Completion, error) {
	st := &r.State
	if st.AccruedUntil == 0 {
		st.AccruedUntil = timestamp
		st.LastUpdated = point
		return CompletionFull, nil
	}
	if timestamp < st.AccruedUntil {
		return CompletionPartial, fmt.Errorf("accrue to %d before %d: %w",
			timestamp, st.AccruedUntil, ErrInvalidParameter)
	}

	elapsed := uint64(timestamp - st.AccruedUntil)
	step := elapsed
	if step > r.Config.MaxAccrualSeconds {
		step = r.Config.MaxAccrualSeconds
	}

	if !st.OutstandingDebt.IsZero() && step > 0 {
		util := math.Utilization(st.OutstandingDebt, math.FromUint64(vaultAmount))
		rate := r.Config.rateCurve().BorrowRate(util)
		interest := st.OutstandingDebt.Mul(math.CompoundInterest(rate, step))

		debt, err := st.OutstandingDebt.CheckedAdd(interest)
		if err != nil {
			return CompletionPartial, fmt.Errorf("accrue debt: %w", err)
		}
		fees, err := st.UncollectedFees.CheckedAdd(interest.Mul(math.FromBps(r.Config.ManageFeeRate)))
		if err != nil {
			return CompletionPartial, fmt.Errorf("accrue fees: %w", err)
		}
		st.OutstandingDebt = debt
		st.UncollectedFees = fees
	}

	st.AccruedUntil += int64(step)
	st.LastUpdated = point
	if step < elapsed {
		return CompletionPartial, nil
	}
	return CompletionFull, nil
}

// DepositNoteExchangeRate is tokens per deposit note.
func (r *Reserve) DepositNoteExchangeRate(vaultAmount uint64) math.Number {
	st := r.State
	total := math.FromUint64(vaultAmount).Add(st.OutstandingDebt).
		SaturatingSub(st.UncollectedFees).
		SaturatingSub(st.UncollectedProtocolFees)
	total = math.Max(math.One, total)
	notes := math.Max(math.One, math.FromUint64(st.TotalDepositNotes))
	return total.Div(notes)
}

// LoanNoteExchangeRate is tokens of debt per loan note.
func (r *Reserve) LoanNoteExchangeRate() math.Number {
	debt := math.Max(math.One, r.State.OutstandingDebt)
	notes := math.Max(math.One, math.FromUint64(r.State.TotalLoanNotes))
	return debt.Div(notes)
}

// Snapshot builds the values consumers price against.
func (r *Reserve) Snapshot(price math.Number, vaultAmount uint64) ReserveSnapshot {
	return ReserveSnapshot{
		Price:                   price,
		DepositNoteExchangeRate: r.DepositNoteExchangeRate(vaultAmount),
		LoanNoteExchangeRate:    r.LoanNoteExchangeRate(),
		MinCollateralRatio:      math.FromBps(r.Config.MinCollateralRatio),
		LiquidationBonus:        math.FromBps(r.Config.LiquidationPremium),
		Decimals:                r.Decimals,
	}
}

// AccrualResult is the outcome of Refresh.
type AccrualResult struct {
	Completion       Completion
	Snapshot         ReserveSnapshot
	FeeNotes         uint64
	ProtocolFeeNotes uint64
}

// Refresh runs one accrual step. On Partial the snapshot cache is
// invalidated. On Full it is refreshed to point and collectible fees are
// converted into deposit notes, which the caller must mint.
func (r *Reserve) Refresh(vaultAmount uint64, timestamp int64, point uint64,
	price math.Number, cache *Cache[ReserveSnapshot]) (AccrualResult, error) {

	completion, err := r.Accrue(vaultAmount, timestamp, point)
	if err != nil {
		cache.Invalidate()
		return AccrualResult{}, err
	}
	if completion == CompletionPartial {
		cache.Invalidate()
		return AccrualResult{Completion: CompletionPartial}, nil
	}

	snap := r.Snapshot(price, vaultAmount)
	cache.RefreshTo(point, snap)

	feeNotes, err := r.collectFees(&r.State.UncollectedFees, snap.DepositNoteExchangeRate)
	if err != nil {
		return AccrualResult{}, err
	}
	protocolNotes, err := r.collectFees(&r.State.UncollectedProtocolFees, snap.DepositNoteExchangeRate)
	if err != nil {
		return AccrualResult{}, err
	}

	return AccrualResult{
		Completion:       CompletionFull,
		Snapshot:         snap,
		FeeNotes:         feeNotes,
		ProtocolFeeNotes: protocolNotes,
	}, nil
}

func (r *Reserve) collectFees(acc *math.Number, depositRate math.Number) (uint64, error) {
	if acc.LessThan(math.FromUint64(r.Config.ManageFeeCollectionThreshold)) || acc.IsZero() {
		return 0, nil
	}
	notes, err := acc.Div(depositRate).AsUint64(0, math.RoundDown)
	if err != nil {
		return 0, fmt.Errorf("fee notes: %w", err)
	}
	if notes == 0 {
		return 0, nil
	}
	total := r.State.TotalDepositNotes + notes
	if total < notes {
		return 0, fmt.Errorf("deposit note supply: %w", ErrOverflow)
	}
	*acc = acc.SaturatingSub(math.FromUint64(notes).Mul(depositRate))
	r.State.TotalDepositNotes = total
	return notes, nil
}

// Deposit records tokens entering the vault and notes minted for them.
func (r *Reserve) Deposit(tokens, notes uint64) error {
	deposits, err := checkedAddU64(r.State.TotalDeposits, tokens)
	if err != nil {
		return fmt.Errorf("total deposits: %w", err)
	}
	depositNotes, err := checkedAddU64(r.State.TotalDepositNotes, notes)
	if err != nil {
		return fmt.Errorf("total deposit notes: %w", err)
	}
	r.State.TotalDeposits = deposits
	r.State.TotalDepositNotes = depositNotes
	return nil
}

// Withdraw records tokens leaving the vault and notes burned for them.
func (r *Reserve) Withdraw(tokens, notes uint64) error {
	if tokens > r.State.TotalDeposits {
		return fmt.Errorf("withdraw %d of %d: %w", tokens, r.State.TotalDeposits, ErrInsufficientLiquidity)
	}
	if notes > r.State.TotalDepositNotes {
		return fmt.Errorf("burn %d of %d deposit notes: %w", notes, r.State.TotalDepositNotes, ErrInvalidParameter)
	}
	r.State.TotalDeposits -= tokens
	r.State.TotalDepositNotes -= notes
	return nil
}

// Borrow records a new loan of requested tokens. fee and protocolFee are
// added to the debt and to their accumulators; newNotes are minted to the
// borrower.
func (r *Reserve) Borrow(point, requested, newNotes, fee, protocolFee uint64) error {
	st := &r.State
	if requested > st.TotalDeposits {
		return fmt.Errorf("borrow %d of %d: %w", requested, st.TotalDeposits, ErrInsufficientLiquidity)
	}
	total := math.FromUint64(requested).Add(math.FromUint64(fee)).Add(math.FromUint64(protocolFee))
	debt, err := st.OutstandingDebt.CheckedAdd(total)
	if err != nil {
		return fmt.Errorf("outstanding debt: %w", err)
	}
	loanNotes, err := checkedAddU64(st.TotalLoanNotes, newNotes)
	if err != nil {
		return fmt.Errorf("total loan notes: %w", err)
	}

	st.TotalDeposits -= requested
	st.OutstandingDebt = debt
	st.TotalLoanNotes = loanNotes
	st.UncollectedFees = st.UncollectedFees.SaturatingAdd(math.FromUint64(fee))
	st.UncollectedProtocolFees = st.UncollectedProtocolFees.SaturatingAdd(math.FromUint64(protocolFee))
	st.LastUpdated = point
	return nil
}

// Repay records tokens returned to the vault and loan notes burned.
// Debt and note totals saturate at zero to absorb rounding drift.
func (r *Reserve) Repay(point, tokens, notes uint64) error {
	st := &r.State
	deposits, err := checkedAddU64(st.TotalDeposits, tokens)
	if err != nil {
		return fmt.Errorf("total deposits: %w", err)
	}
	st.TotalDeposits = deposits
	st.OutstandingDebt = st.OutstandingDebt.SaturatingSub(math.FromUint64(tokens))
	if notes > st.TotalLoanNotes {
		st.TotalLoanNotes = 0
	} else {
		st.TotalLoanNotes -= notes
	}
	st.LastUpdated = point
	return nil
}

// WriteOff removes uncollectable debt without any tokens entering the vault.
func (r *Reserve) WriteOff(tokens uint64) {
	r.State.OutstandingDebt = r.State.OutstandingDebt.SaturatingSub(math.FromUint64(tokens))
}

// BorrowFee is the origination fee charged on a loan, rounded up.
func (r *Reserve) BorrowFee(tokens uint64) (uint64, error) {
	return math.FromUint64(tokens).Mul(math.FromBps(r.Config.LoanOriginationFee)).AsUint64(0, math.RoundUp)
}

// ProtocolFee is the protocol's share charged on a loan, rounded up.
func (r *Reserve) ProtocolFee(tokens uint64) (uint64, error) {
	return math.FromUint64(tokens).Mul(math.FromBps(r.Config.ProtocolFeeRate)).AsUint64(0, math.RoundUp)
}

// OutstandingDebtTokens is the debt rounded down to whole token units.
func (r *Reserve) OutstandingDebtTokens() uint64 {
	v, err := r.State.OutstandingDebt.AsUint64(0, math.RoundDown)
	if err != nil {
		return ^uint64(0)
	}
	return v
}

func checkedAddU64(a, b uint64) (uint64, error) {
	s := a + b
	if s < a {
		return 0, fmt.Errorf("%d + %d: %w", a, b, ErrOverflow)
	}
	return s, nil
}
