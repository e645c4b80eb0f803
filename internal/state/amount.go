// internal/state/amount.go
package state

import (
	"fmt"

	"LendLedger/internal/math"
)

// AmountUnits tags the unit of a raw Amount value.
type AmountUnits int32

const (
	UnitsTokens AmountUnits = iota
	UnitsDepositNotes
	UnitsLoanNotes
)

func (u AmountUnits) String() string {
	switch u {
	case UnitsTokens:
		return "tokens"
	case UnitsDepositNotes:
		return "deposit_notes"
	case UnitsLoanNotes:
		return "loan_notes"
	default:
		return "unknown"
	}
}

// ParseAmountUnits maps the wire name of a unit back to its tag.
func ParseAmountUnits(s string) (AmountUnits, error) {
	switch s {
	case "tokens":
		return UnitsTokens, nil
	case "deposit_notes":
		return UnitsDepositNotes, nil
	case "loan_notes":
		return UnitsLoanNotes, nil
	default:
		return 0, fmt.Errorf("%q: %w", s, ErrInvalidUnits)
	}
}

func (u AmountUnits) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *AmountUnits) UnmarshalText(text []byte) error {
	parsed, err := ParseAmountUnits(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Amount is a raw quantity that only has meaning against a ReserveSnapshot.
type Amount struct {
	Units AmountUnits `json:"units"`
	Value uint64      `json:"value"`
}

func Tokens(v uint64) Amount       { return Amount{Units: UnitsTokens, Value: v} }
func DepositNotes(v uint64) Amount { return Amount{Units: UnitsDepositNotes, Value: v} }
func LoanNotes(v uint64) Amount    { return Amount{Units: UnitsLoanNotes, Value: v} }

func (a Amount) String() string {
	return fmt.Sprintf("%d %s", a.Value, a.Units)
}

// ReserveSnapshot is the reserve data consumers price against. It is only
// produced by a full accrual and is always read through a Cache.
type ReserveSnapshot struct {
	Price                   math.Number `json:"price"`
	DepositNoteExchangeRate math.Number `json:"deposit_note_exchange_rate"`
	LoanNoteExchangeRate    math.Number `json:"loan_note_exchange_rate"`
	MinCollateralRatio      math.Number `json:"min_collateral_ratio"`
	LiquidationBonus        math.Number `json:"liquidation_bonus"`
	Decimals                uint8       `json:"decimals"`
}

// DepositNotesToTokens converts notes at the deposit-note rate.
func (s ReserveSnapshot) DepositNotesToTokens(notes uint64, mode math.RoundingMode) (uint64, error) {
	return math.FromUint64(notes).Mul(s.DepositNoteExchangeRate).AsUint64(0, mode)
}

func (s ReserveSnapshot) TokensToDepositNotes(tokens uint64, mode math.RoundingMode) (uint64, error) {
	q, err := math.FromUint64(tokens).CheckedDiv(s.DepositNoteExchangeRate)
	if err != nil {
		return 0, err
	}
	return q.AsUint64(0, mode)
}

func (s ReserveSnapshot) LoanNotesToTokens(notes uint64, mode math.RoundingMode) (uint64, error) {
	return math.FromUint64(notes).Mul(s.LoanNoteExchangeRate).AsUint64(0, mode)
}

func (s ReserveSnapshot) TokensToLoanNotes(tokens uint64, mode math.RoundingMode) (uint64, error) {
	q, err := math.FromUint64(tokens).CheckedDiv(s.LoanNoteExchangeRate)
	if err != nil {
		return 0, err
	}
	return q.AsUint64(0, mode)
}

// TokenValue prices raw token units in quote terms.
func (s ReserveSnapshot) TokenValue(tokens math.Number) math.Number {
	return tokens.Mul(math.FromDecimal(1, -int32(s.Decimals))).Mul(s.Price)
}

// ToTokens converts any unit to tokens.
func (a Amount) ToTokens(s ReserveSnapshot, mode math.RoundingMode) (uint64, error) {
	switch a.Units {
	case UnitsTokens:
		return a.Value, nil
	case UnitsDepositNotes:
		return s.DepositNotesToTokens(a.Value, mode)
	case UnitsLoanNotes:
		return s.LoanNotesToTokens(a.Value, mode)
	default:
		return 0, fmt.Errorf("%s: %w", a, ErrInvalidUnits)
	}
}

// ToDepositNotes converts tokens or deposit notes. Loan notes are rejected.
func (a Amount) ToDepositNotes(s ReserveSnapshot, mode math.RoundingMode) (uint64, error) {
	switch a.Units {
	case UnitsTokens:
		return s.TokensToDepositNotes(a.Value, mode)
	case UnitsDepositNotes:
		return a.Value, nil
	default:
		return 0, fmt.Errorf("%s to deposit notes: %w", a, ErrInvalidUnits)
	}
}

// ToLoanNotes converts tokens or loan notes. Deposit notes are rejected.
func (a Amount) ToLoanNotes(s ReserveSnapshot, mode math.RoundingMode) (uint64, error) {
	switch a.Units {
	case UnitsTokens:
		return s.TokensToLoanNotes(a.Value, mode)
	case UnitsLoanNotes:
		return a.Value, nil
	default:
		return 0, fmt.Errorf("%s to loan notes: %w", a, ErrInvalidUnits)
	}
}
