package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeExternalDeposit JournalType = iota
	JournalTypeDeposit
	JournalTypeWithdrawal
	JournalTypeNoteMint
	JournalTypeNoteBurn
	JournalTypeFeeNoteMint
	JournalTypeBorrow
	JournalTypeRepay
	JournalTypeCollateralDeposit
	JournalTypeCollateralWithdraw
	JournalTypeBidEscrow
	JournalTypeBidRefund
	JournalTypeLiquidationPayoff
	JournalTypeLiquidationFee
	JournalTypeLiquidationLeftover
	JournalTypeLiquidationCollateral
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeExternalDeposit:
		return "external_deposit"
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeNoteMint:
		return "note_mint"
	case JournalTypeNoteBurn:
		return "note_burn"
	case JournalTypeFeeNoteMint:
		return "fee_note_mint"
	case JournalTypeBorrow:
		return "borrow"
	case JournalTypeRepay:
		return "repay"
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeCollateralWithdraw:
		return "collateral_withdraw"
	case JournalTypeBidEscrow:
		return "bid_escrow"
	case JournalTypeBidRefund:
		return "bid_refund"
	case JournalTypeLiquidationPayoff:
		return "liquidation_payoff"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeLiquidationLeftover:
		return "liquidation_leftover"
	case JournalTypeLiquidationCollateral:
		return "liquidation_collateral"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Deterministic: derived from batch id and index
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source instruction
	Sequence      int64       // Global instruction sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Mint          string      // Token, note or NFT being moved
	Amount        int64       // Base units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Instruction timestamp (unix seconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// BatchID is deterministic per instruction so replays produce identical ids.
func BatchID(eventRef string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("batch:"+eventRef))
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount of one mint between two accounts of
// that mint, so every entry is balanced on its own.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.Mint != j.Mint || j.CreditAccount.Mint != j.Mint {
			return fmt.Errorf("journal %s moves %s between accounts of another mint", j.JournalID, j.Mint)
		}
	}

	return nil
}
