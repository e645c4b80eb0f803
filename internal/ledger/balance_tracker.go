package ledger

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances and the capability
// that owns each account and each note mint.
type BalanceTracker struct {
	balances        map[AccountKey]int64
	authorities     map[AccountKey]Capability
	mintAuthorities map[string]Capability
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:        make(map[AccountKey]int64),
		authorities:     make(map[AccountKey]Capability),
		mintAuthorities: make(map[string]Capability),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// Supply returns the circulating supply of a note mint
func (bt *BalanceTracker) Supply(mint string) int64 {
	return -bt.balances[MintSupplyKey(mint)]
}

// Authority returns the capability that owns an account
func (bt *BalanceTracker) Authority(key AccountKey) (Capability, bool) {
	c, ok := bt.authorities[key]
	return c, ok
}

// MintAuthority returns the capability allowed to mint a note
func (bt *BalanceTracker) MintAuthority(mint string) (Capability, bool) {
	c, ok := bt.mintAuthorities[mint]
	return c, ok
}

// SetMintAuthority registers the authority of a note mint. Markets register
// their note mints when loaded.
func (bt *BalanceTracker) SetMintAuthority(mint string, c Capability) {
	bt.mintAuthorities[mint] = c
}

// SetAuthority registers the owner of an account outside a transaction.
func (bt *BalanceTracker) SetAuthority(key AccountKey, c Capability) {
	bt.authorities[key] = c
}

// Commit applies a transaction's journals and opened accounts atomically.
// The returned batch is nil when the transaction moved no value.
func (bt *BalanceTracker) Commit(tx *Transaction) (*Batch, error) {
	if tx.tracker != bt {
		return nil, fmt.Errorf("transaction %s belongs to another tracker", tx.eventRef)
	}

	batch := tx.Batch()
	if batch != nil {
		if err := bt.ApplyBatch(batch); err != nil {
			return nil, err
		}
	}
	for k, c := range tx.authorities {
		bt.authorities[k] = c
	}
	return batch, nil
}

// === Balance Queries ===

// WalletBalance returns a user's balance of one mint
func (bt *BalanceTracker) WalletBalance(userID uuid.UUID, mint string) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, mint))
}

// BalancesOf returns every non-zero balance of an entity, keyed by path
func (bt *BalanceTracker) BalancesOf(scope AccountScope, entityID [16]byte) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range bt.balances {
		if k.Scope == scope && k.EntityID == entityID && v != 0 {
			out[k.AccountPath()] = v
		}
	}
	return out
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances per mint (should be 0 for
// a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]int64 {
	totals := make(map[string]int64)

	for key, balance := range bt.balances {
		totals[key.Mint] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ValidateAllNonNegative checks every non-external account
func (bt *BalanceTracker) ValidateAllNonNegative() error {
	for key, balance := range bt.balances {
		if key.Scope != AccountScopeExternal && balance < 0 {
			return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
		}
	}
	return nil
}

// === Snapshots ===

// BalanceEntry is one account in a snapshot
type BalanceEntry struct {
	Key       AccountKey `json:"key"`
	Balance   int64      `json:"balance"`
	Authority Capability `json:"authority"`
	HasOwner  bool       `json:"has_owner"`
}

// MintAuthorityEntry is one note mint in a snapshot
type MintAuthorityEntry struct {
	Mint      string     `json:"mint"`
	Authority Capability `json:"authority"`
}

// Snapshot returns all balances and owners in deterministic order (for
// state hashing and persistence)
func (bt *BalanceTracker) Snapshot() []BalanceEntry {
	keys := make(map[AccountKey]struct{}, len(bt.balances))
	for k := range bt.balances {
		keys[k] = struct{}{}
	}
	for k := range bt.authorities {
		keys[k] = struct{}{}
	}

	out := make([]BalanceEntry, 0, len(keys))
	for k := range keys {
		owner, ok := bt.authorities[k]
		out = append(out, BalanceEntry{Key: k, Balance: bt.balances[k], Authority: owner, HasOwner: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.AccountPath() < out[j].Key.AccountPath() })
	return out
}

// MintSnapshot returns note mint authorities sorted by mint
func (bt *BalanceTracker) MintSnapshot() []MintAuthorityEntry {
	out := make([]MintAuthorityEntry, 0, len(bt.mintAuthorities))
	for m, c := range bt.mintAuthorities {
		out = append(out, MintAuthorityEntry{Mint: m, Authority: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mint < out[j].Mint })
	return out
}

// Restore replaces tracker contents from a snapshot
func (bt *BalanceTracker) Restore(entries []BalanceEntry, mints []MintAuthorityEntry) {
	bt.balances = make(map[AccountKey]int64, len(entries))
	bt.authorities = make(map[AccountKey]Capability)
	bt.mintAuthorities = make(map[string]Capability, len(mints))
	for _, e := range entries {
		if e.Balance != 0 {
			bt.balances[e.Key] = e.Balance
		}
		if e.HasOwner {
			bt.authorities[e.Key] = e.Authority
		}
	}
	for _, m := range mints {
		bt.mintAuthorities[m.Mint] = m.Authority
	}
}
