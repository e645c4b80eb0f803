package projection_test

import (
	"testing"

	"LendLedger/internal/ledger"
	"LendLedger/internal/projection"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

var (
	bidder = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	owner  = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func marketPtr(s string) *string { return &s }

// =============================================================================
// Row conversion
// =============================================================================

func TestAccountRefFromKey_ExternalHasNoEntity(t *testing.T) {
	ref := projection.AccountRefFromKey(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, "USDC"))
	if ref.EntityID != nil {
		t.Errorf("got entity %v, want nil", *ref.EntityID)
	}
	if ref.Scope != "external" {
		t.Errorf("got scope %q, want external", ref.Scope)
	}
	if ref.Mint != "USDC" {
		t.Errorf("got mint %q, want USDC", ref.Mint)
	}
}

func TestAccountRefFromKey_UserCarriesOwner(t *testing.T) {
	ref := projection.AccountRefFromKey(ledger.NewUserAccountKey(owner, "USDC"))
	if ref.EntityID == nil || *ref.EntityID != owner {
		t.Fatalf("got entity %v, want %v", ref.EntityID, owner)
	}
	if ref.Scope != "user" {
		t.Errorf("got scope %q, want user", ref.Scope)
	}
	if ref.Path != ledger.NewUserAccountKey(owner, "USDC").AccountPath() {
		t.Errorf("path mismatch: %s", ref.Path)
	}
}

func TestReserveRowsFromMarkets(t *testing.T) {
	m := state.NewMarket("m1", "Market", "USDC", "creator", 1)
	r, err := m.AddReserve("USDC", 6, state.DefaultReserveConfig)
	if err != nil {
		t.Fatalf("add reserve: %v", err)
	}
	r.State.TotalDeposits = 18_446_744_073_709_551_615

	rows, err := projection.ReserveRowsFromMarkets([]*state.Market{m})
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	row := rows[0]
	if row.TotalDeposits != "18446744073709551615" {
		t.Errorf("got total deposits %s, want max uint64", row.TotalDeposits)
	}
	if row.DepositNoteMint != r.DepositNoteMint || row.LoanNoteMint != r.LoanNoteMint {
		t.Errorf("note mints not carried over")
	}
	if len(row.Data) == 0 {
		t.Error("expected JSON data")
	}
}

func TestBidRowsFrom(t *testing.T) {
	b, err := state.NewBid("m1", bidder, "USDC", "cap", 500, 10)
	if err != nil {
		t.Fatalf("new bid: %v", err)
	}
	rows, err := projection.BidRowsFrom([]*state.Bid{b})
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if rows[0].Limit != "500" {
		t.Errorf("got limit %s, want 500", rows[0].Limit)
	}
	if rows[0].State != "Placed" {
		t.Errorf("got state %s, want Placed", rows[0].State)
	}
}

// =============================================================================
// Liquidation history
// =============================================================================

func liquidationOutput(seq int64, market string) projection.ProjectionOutput {
	bidID := state.BidID(market, bidder)
	escrow := projection.AccountRefFromKey(ledger.NewEscrowAccountKey(bidID, "USDC"))
	vault := projection.AccountRefFromKey(ledger.NewReserveAccountKey(uuid.New(), ledger.SubTypeVault, "USDC"))
	fees := projection.AccountRefFromKey(ledger.NewMarketAccountKey(market, ledger.SubTypeLiquidationFees, "USDC"))
	prize := projection.AccountRefFromKey(ledger.NewUserAccountKey(bidder, "nft-1"))
	custody := projection.AccountRefFromKey(ledger.NewObligationAccountKey(uuid.New(), ledger.SubTypeCollateral, "nft-1"))

	return projection.ProjectionOutput{
		Sequence:  seq,
		EventType: "execute_bid",
		MarketID:  marketPtr(market),
		Timestamp: 1_000,
		JournalEntries: []projection.JournalEntry{
			{Debit: vault, Credit: escrow, Mint: "USDC", Amount: 1000, JournalType: "liquidation_payoff"},
			{Debit: fees, Credit: escrow, Mint: "USDC", Amount: 5, JournalType: "liquidation_fee"},
			{Debit: prize, Credit: custody, Mint: "nft-1", Amount: 1, JournalType: "liquidation_collateral"},
		},
	}
}

func TestLiquidationHistory_RecordsExecution(t *testing.T) {
	h := projection.NewLiquidationHistoryProjection(10)
	if !h.Apply(liquidationOutput(7, "m1")) {
		t.Fatal("expected liquidation to be recorded")
	}

	got := h.QueryByMarket("m1", 10)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Payoff != 1000 || e.Fee != 5 {
		t.Errorf("got payoff=%d fee=%d, want 1000/5", e.Payoff, e.Fee)
	}
	if e.Collateral != "nft-1" {
		t.Errorf("got collateral %q, want nft-1", e.Collateral)
	}
	if e.Liquidator != bidder {
		t.Errorf("got liquidator %v, want %v", e.Liquidator, bidder)
	}
}

func TestLiquidationHistory_IgnoresOtherInstructions(t *testing.T) {
	h := projection.NewLiquidationHistoryProjection(10)
	out := liquidationOutput(1, "m1")
	out.EventType = "repay"
	if h.Apply(out) {
		t.Error("repay must not be recorded")
	}
}

func TestLiquidationHistory_CapacityAndOrder(t *testing.T) {
	h := projection.NewLiquidationHistoryProjection(2)
	h.Apply(liquidationOutput(1, "m1"))
	h.Apply(liquidationOutput(2, "m2"))
	h.Apply(liquidationOutput(3, "m1"))

	got := h.QueryByMarket("m1", 10)
	if len(got) != 1 {
		t.Fatalf("got %d entries, want 1 (oldest evicted)", len(got))
	}
	if got[0].Sequence != 3 {
		t.Errorf("got sequence %d, want 3", got[0].Sequence)
	}
}
