package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrMintMismatch      = errors.New("account mint mismatch")
	ErrAmountTooLarge    = errors.New("amount exceeds ledger range")
)

// Transaction stages transfers, mints and burns against a tracker. Nothing
// is visible to the tracker until Commit; dropping the transaction discards
// every staged effect.
type Transaction struct {
	tracker   *BalanceTracker
	eventRef  string
	sequence  int64
	timestamp int64
	batchID   uuid.UUID

	journals    []Journal
	deltas      map[AccountKey]int64
	authorities map[AccountKey]Capability
}

// Begin starts a transaction for one instruction.
func (bt *BalanceTracker) Begin(eventRef string, sequence, timestamp int64) *Transaction {
	return &Transaction{
		tracker:     bt,
		eventRef:    eventRef,
		sequence:    sequence,
		timestamp:   timestamp,
		batchID:     BatchID(eventRef),
		deltas:      make(map[AccountKey]int64),
		authorities: make(map[AccountKey]Capability),
	}
}

// Balance returns the committed balance plus staged changes.
func (tx *Transaction) Balance(key AccountKey) int64 {
	return tx.tracker.GetBalance(key) + tx.deltas[key]
}

// Supply returns the staged circulating supply of a mint.
func (tx *Transaction) Supply(mint string) int64 {
	return -tx.Balance(MintSupplyKey(mint))
}

// AuthorityOf returns the staged or committed owner of an account.
func (tx *Transaction) AuthorityOf(key AccountKey) (Capability, bool) {
	if c, ok := tx.authorities[key]; ok {
		return c, true
	}
	return tx.tracker.Authority(key)
}

// OpenAccount assigns an owner to an account. Reopening with the same owner
// is a no-op; a different owner is rejected.
func (tx *Transaction) OpenAccount(key AccountKey, owner Capability) error {
	if owner.IsZero() {
		return fmt.Errorf("open %s without owner: %w", key, ErrUnauthorized)
	}
	if existing, ok := tx.AuthorityOf(key); ok {
		if existing != owner {
			return fmt.Errorf("account %s owned by another authority: %w", key, ErrUnauthorized)
		}
		return nil
	}
	tx.authorities[key] = owner
	return nil
}

// Transfer moves amount from one account to another of the same mint. The
// authority must own the source account.
func (tx *Transaction) Transfer(from, to AccountKey, amount uint64, authority Capability, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if from.Mint != to.Mint {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrMintMismatch)
	}
	if err := tx.authorize(from, authority); err != nil {
		return err
	}
	return tx.move(from, to, amount, jt)
}

// ExternalDeposit credits an account from outside the ledger.
func (tx *Transaction) ExternalDeposit(to AccountKey, amount uint64) error {
	if amount == 0 {
		return nil
	}
	return tx.post(NewExternalAccountKey(SubTypeExternalDeposits, to.Mint), to, amount, JournalTypeExternalDeposit)
}

// MintNotes creates amount of a note mint into an account. The authority
// must be the mint's registered authority.
func (tx *Transaction) MintNotes(mint string, to AccountKey, amount uint64, authority Capability, jt JournalType) error {
	if amount == 0 {
		return nil
	}
	if to.Mint != mint {
		return fmt.Errorf("mint %s into %s: %w", mint, to, ErrMintMismatch)
	}
	owner, ok := tx.tracker.MintAuthority(mint)
	if !ok || owner != authority {
		return fmt.Errorf("mint %s: %w", mint, ErrUnauthorized)
	}
	return tx.post(MintSupplyKey(mint), to, amount, jt)
}

// BurnNotes destroys amount of a note mint held in an account. The
// authority must own the account.
func (tx *Transaction) BurnNotes(mint string, from AccountKey, amount uint64, authority Capability) error {
	if amount == 0 {
		return nil
	}
	if from.Mint != mint {
		return fmt.Errorf("burn %s from %s: %w", mint, from, ErrMintMismatch)
	}
	if err := tx.authorize(from, authority); err != nil {
		return err
	}
	return tx.move(from, MintSupplyKey(mint), amount, JournalTypeNoteBurn)
}

// Journals returns the staged journals in posting order.
func (tx *Transaction) Journals() []Journal {
	return tx.journals
}

// Batch returns the staged journals as a batch, or nil if nothing moved.
func (tx *Transaction) Batch() *Batch {
	if len(tx.journals) == 0 {
		return nil
	}
	return &Batch{
		BatchID:   tx.batchID,
		EventRef:  tx.eventRef,
		Sequence:  tx.sequence,
		Timestamp: tx.timestamp,
		Journals:  tx.journals,
	}
}

func (tx *Transaction) authorize(from AccountKey, authority Capability) error {
	owner, ok := tx.AuthorityOf(from)
	if !ok || owner != authority {
		return fmt.Errorf("debit %s: %w", from, ErrUnauthorized)
	}
	return nil
}

func (tx *Transaction) move(from, to AccountKey, amount uint64, jt JournalType) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("%d: %w", amount, ErrAmountTooLarge)
	}
	if have := tx.Balance(from); have < int64(amount) {
		return fmt.Errorf("%s has %d, need %d: %w", from, have, amount, ErrInsufficientFunds)
	}
	return tx.post(from, to, amount, jt)
}

// post records debit(to) / credit(from) without a funds check; used for
// boundary accounts that may go negative.
func (tx *Transaction) post(from, to AccountKey, amount uint64, jt JournalType) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("%d: %w", amount, ErrAmountTooLarge)
	}
	if from == to {
		return nil
	}
	v := int64(amount)
	idx := len(tx.journals)
	tx.journals = append(tx.journals, Journal{
		JournalID:     uuid.NewSHA1(tx.batchID, []byte(fmt.Sprintf("%d", idx))),
		BatchID:       tx.batchID,
		EventRef:      tx.eventRef,
		Sequence:      tx.sequence,
		DebitAccount:  to,
		CreditAccount: from,
		Mint:          to.Mint,
		Amount:        v,
		JournalType:   jt,
		Timestamp:     tx.timestamp,
	})
	tx.deltas[to] += v
	tx.deltas[from] -= v
	return nil
}
