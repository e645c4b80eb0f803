package ledger

import (
	"fmt"
	"sort"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies a batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateGlobalBalance verifies every mint is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	mints := make([]string, 0, len(totals))
	for m := range totals {
		mints = append(mints, m)
	}
	sort.Strings(mints)

	for _, m := range mints {
		if totals[m] != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %d", m, totals[m])
		}
	}
	return nil
}

// ValidateBalance checks an account holds exactly want
func (v *InvariantValidator) ValidateBalance(key AccountKey, want uint64) error {
	got := v.tracker.GetBalance(key)
	if got < 0 || uint64(got) != want {
		return fmt.Errorf("account %s has %d, want %d", key.AccountPath(), got, want)
	}
	return nil
}

// ValidateSupply checks a note mint's circulating supply equals want
func (v *InvariantValidator) ValidateSupply(mint string, want uint64) error {
	got := v.tracker.Supply(mint)
	if got < 0 || uint64(got) != want {
		return fmt.Errorf("supply of %s is %d, want %d", mint, got, want)
	}
	return nil
}

// ValidateNonNegative checks no owned account is overdrawn
func (v *InvariantValidator) ValidateNonNegative() error {
	return v.tracker.ValidateAllNonNegative()
}
