// internal/state/obligation.go
package state

import (
	"fmt"

	"LendLedger/internal/math"

	"github.com/google/uuid"
)

const (
	CollateralCapacity = 11
	LoanCapacity       = 16

	// DefaultCollateralLimit is the single-NFT collateral model.
	DefaultCollateralLimit = 1
)

// Side tags what a position represents. Only loans are tracked.
type Side int32

const (
	SideLoan Side = iota
)

func (s Side) String() string {
	if s == SideLoan {
		return "Loan"
	}
	return "Unknown"
}

// Position is a loan-note balance held through a registered loan account.
type Position struct {
	Account      uuid.UUID `json:"account"`
	Amount       uint64    `json:"amount"` // loan notes
	ReserveIndex uint16    `json:"reserve_index"`
	Side         Side      `json:"side"`
}

// CollateralSlot is one fixed slot; Occupied disambiguates an empty slot from
// a zero-valued item.
type CollateralSlot struct {
	Occupied bool   `json:"occupied"`
	Item     string `json:"item,omitempty"` // NFT mint
}

type LoanSlot struct {
	Occupied bool     `json:"occupied"`
	Position Position `json:"position"`
}

// Valuation is the aggregate value of an obligation at a sequence point.
type Valuation struct {
	CollateralValue math.Number `json:"collateral_value"`
	LoanValue       math.Number `json:"loan_value"`
}

// PositionValue is the quote value of a position and the collateral it
// requires.
type PositionValue struct {
	MarketValue        math.Number
	ComplementaryLimit math.Number
}

// SnapshotSource resolves a reserve's snapshot fresh at point.
type SnapshotSource interface {
	SnapshotAt(reserveIndex uint16, point uint64) (ReserveSnapshot, error)
}

// Obligation is a borrower's collateral and loan table within one market.
type Obligation struct {
	ID              uuid.UUID                          `json:"id"`
	MarketID        string                             `json:"market_id"`
	Owner           uuid.UUID                          `json:"owner"`
	CollateralLimit int                                `json:"collateral_limit"`
	Collateral      [CollateralCapacity]CollateralSlot `json:"collateral"`
	Loans           [LoanCapacity]LoanSlot             `json:"loans"`
	Valuation       Cache[Valuation]                   `json:"valuation"`
}

// ObligationID is deterministic per owner and market.
func ObligationID(marketID string, owner uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("obligation:"+marketID+":"+owner.String()))
}

// LoanAccountID is the loan-note account of an obligation for one reserve.
func LoanAccountID(obligationID uuid.UUID, reserveIndex uint16) uuid.UUID {
	return uuid.NewSHA1(obligationID, []byte(fmt.Sprintf("loan:%d", reserveIndex)))
}

func NewObligation(marketID string, owner uuid.UUID, collateralLimit int) *Obligation {
	if collateralLimit <= 0 || collateralLimit > CollateralCapacity {
		collateralLimit = DefaultCollateralLimit
	}
	return &Obligation{
		ID:              ObligationID(marketID, owner),
		MarketID:        marketID,
		Owner:           owner,
		CollateralLimit: collateralLimit,
	}
}

// Clone returns a copy. Slots are arrays, so the copy is deep.
func (o *Obligation) Clone() *Obligation {
	c := *o
	return &c
}

// ============================================================================
// Collateral
// ============================================================================

// RegisterCollateral adds item to the first free slot.
func (o *Obligation) RegisterCollateral(item string) error {
	if item == "" {
		return fmt.Errorf("empty collateral item: %w", ErrInvalidParameter)
	}
	if o.HasCollateral(item) {
		return fmt.Errorf("%s: %w", item, ErrDuplicateCollateral)
	}
	if o.CollateralCount() >= o.CollateralLimit {
		return fmt.Errorf("limit %d: %w", o.CollateralLimit, ErrCollateralCapacityExceeded)
	}
	for i := range o.Collateral {
		if !o.Collateral[i].Occupied {
			o.Valuation.Invalidate()
			o.Collateral[i] = CollateralSlot{Occupied: true, Item: item}
			return nil
		}
	}
	return ErrCollateralCapacityExceeded
}

func (o *Obligation) UnregisterCollateral(item string) error {
	for i := range o.Collateral {
		if o.Collateral[i].Occupied && o.Collateral[i].Item == item {
			o.Valuation.Invalidate()
			o.Collateral[i] = CollateralSlot{}
			return nil
		}
	}
	return fmt.Errorf("%s: %w", item, ErrUnregisteredCollateral)
}

func (o *Obligation) HasCollateral(item string) bool {
	for _, s := range o.Collateral {
		if s.Occupied && s.Item == item {
			return true
		}
	}
	return false
}

func (o *Obligation) CollateralCount() int {
	n := 0
	for _, s := range o.Collateral {
		if s.Occupied {
			n++
		}
	}
	return n
}

// CollateralItems lists registered items in slot order.
func (o *Obligation) CollateralItems() []string {
	var items []string
	for _, s := range o.Collateral {
		if s.Occupied {
			items = append(items, s.Item)
		}
	}
	return items
}

// ============================================================================
// Loans
// ============================================================================

// RegisterLoan opens a zero-balance position for account against a reserve.
// Each reserve and each account may appear at most once.
func (o *Obligation) RegisterLoan(account uuid.UUID, reserveIndex uint16) error {
	free := -1
	for i, s := range o.Loans {
		if !s.Occupied {
			if free < 0 {
				free = i
			}
			continue
		}
		if s.Position.Account == account || s.Position.ReserveIndex == reserveIndex {
			return fmt.Errorf("account %s reserve %d: %w", account, reserveIndex, ErrDuplicatePosition)
		}
	}
	if free < 0 {
		return ErrNoFreeObligation
	}
	o.Valuation.Invalidate()
	o.Loans[free] = LoanSlot{
		Occupied: true,
		Position: Position{Account: account, ReserveIndex: reserveIndex, Side: SideLoan},
	}
	return nil
}

// UnregisterLoan frees the slot of a fully repaid position.
func (o *Obligation) UnregisterLoan(account uuid.UUID) error {
	i, err := o.loanSlot(account)
	if err != nil {
		return err
	}
	if o.Loans[i].Position.Amount != 0 {
		return fmt.Errorf("%s: %w", account, ErrPositionNotEmpty)
	}
	o.Valuation.Invalidate()
	o.Loans[i] = LoanSlot{}
	return nil
}

// CanBorrowFromReserve rejects a loan while another reserve's loan is
// outstanding.
func (o *Obligation) CanBorrowFromReserve(reserveIndex uint16) error {
	for _, s := range o.Loans {
		if s.Occupied && s.Position.Amount > 0 && s.Position.ReserveIndex != reserveIndex {
			return fmt.Errorf("reserve %d has %d notes: %w",
				s.Position.ReserveIndex, s.Position.Amount, ErrAnotherLoanOutstanding)
		}
	}
	return nil
}

// Borrow adds loan notes to account's position.
func (o *Obligation) Borrow(account uuid.UUID, notes uint64) error {
	i, err := o.loanSlot(account)
	if err != nil {
		return err
	}
	o.Valuation.Invalidate()
	sum, err := checkedAddU64(o.Loans[i].Position.Amount, notes)
	if err != nil {
		return fmt.Errorf("position %s: %w", account, err)
	}
	o.Loans[i].Position.Amount = sum
	return nil
}

// Repay removes loan notes from account's position, saturating at zero.
func (o *Obligation) Repay(account uuid.UUID, notes uint64) error {
	i, err := o.loanSlot(account)
	if err != nil {
		return err
	}
	o.Valuation.Invalidate()
	p := &o.Loans[i].Position
	if notes >= p.Amount {
		p.Amount = 0
	} else {
		p.Amount -= notes
	}
	return nil
}

// Position returns the position held through account.
func (o *Obligation) Position(account uuid.UUID) (Position, error) {
	i, err := o.loanSlot(account)
	if err != nil {
		return Position{}, err
	}
	return o.Loans[i].Position, nil
}

// PositionForReserve returns the position against reserveIndex, if any.
func (o *Obligation) PositionForReserve(reserveIndex uint16) (Position, bool) {
	for _, s := range o.Loans {
		if s.Occupied && s.Position.ReserveIndex == reserveIndex {
			return s.Position, true
		}
	}
	return Position{}, false
}

// Positions returns registered positions in slot order.
func (o *Obligation) Positions() []Position {
	var out []Position
	for _, s := range o.Loans {
		if s.Occupied {
			out = append(out, s.Position)
		}
	}
	return out
}

// HasActiveLoans reports whether any registered position has a balance.
func (o *Obligation) HasActiveLoans() bool {
	for _, s := range o.Loans {
		if s.Occupied && s.Position.Amount > 0 {
			return true
		}
	}
	return false
}

func (o *Obligation) loanSlot(account uuid.UUID) (int, error) {
	for i, s := range o.Loans {
		if s.Occupied && s.Position.Account == account {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%s: %w", account, ErrUnregisteredPosition)
}

// ============================================================================
// Valuation
// ============================================================================

// ValuePosition prices a loan position against a snapshot.
func ValuePosition(p Position, snap ReserveSnapshot) PositionValue {
	tokens := math.FromUint64(p.Amount).Mul(snap.LoanNoteExchangeRate)
	mv := snap.TokenValue(tokens)
	return PositionValue{
		MarketValue:        mv,
		ComplementaryLimit: mv.Mul(snap.MinCollateralRatio),
	}
}

// CacheValuation recomputes collateral and loan value at point. Every
// reserve with a non-zero position must have a snapshot fresh at point.
func (o *Obligation) CacheValuation(src SnapshotSource, point uint64, collateralPrice math.Number) error {
	collateral := math.FromUint64(uint64(o.CollateralCount())).Mul(collateralPrice)

	loans := math.Zero
	for _, s := range o.Loans {
		if !s.Occupied || s.Position.Amount == 0 {
			continue
		}
		snap, err := src.SnapshotAt(s.Position.ReserveIndex, point)
		if err != nil {
			return fmt.Errorf("value reserve %d: %w", s.Position.ReserveIndex, err)
		}
		v, err := loans.CheckedAdd(ValuePosition(s.Position, snap).MarketValue)
		if err != nil {
			return fmt.Errorf("loan value: %w", err)
		}
		loans = v
	}

	o.Valuation.RefreshTo(point, Valuation{CollateralValue: collateral, LoanValue: loans})
	return nil
}

// IsHealthy compares the cached valuation against the strictest minimum
// collateral ratio among reserves with a non-zero position. It panics if
// CacheValuation was not run at point.
func (o *Obligation) IsHealthy(src SnapshotSource, point uint64) bool {
	v := o.Valuation.Expect(point, "obligation valuation read before CacheValuation")
	if !o.HasActiveLoans() {
		return true
	}

	ratio := math.Zero
	for _, s := range o.Loans {
		if !s.Occupied || s.Position.Amount == 0 {
			continue
		}
		snap, err := src.SnapshotAt(s.Position.ReserveIndex, point)
		if err != nil {
			panic(fmt.Sprintf("FATAL: reserve %d snapshot missing after valuation: %v", s.Position.ReserveIndex, err))
		}
		ratio = math.Max(ratio, snap.MinCollateralRatio)
	}

	return v.CollateralValue.GreaterOrEqual(v.LoanValue.Mul(ratio))
}
