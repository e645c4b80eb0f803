// internal/core/accounts.go
package core

import (
	"LendLedger/internal/ledger"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// Account layout of the lending ledger.

func walletKey(user uuid.UUID, mint string) ledger.AccountKey {
	return ledger.NewUserAccountKey(user, mint)
}

func vaultKey(r *state.Reserve) ledger.AccountKey {
	return ledger.NewReserveAccountKey(r.ID, ledger.SubTypeVault, r.TokenMint)
}

func feeNotesKey(r *state.Reserve) ledger.AccountKey {
	return ledger.NewReserveAccountKey(r.ID, ledger.SubTypeFeeNotes, r.DepositNoteMint)
}

func protocolFeeNotesKey(r *state.Reserve) ledger.AccountKey {
	return ledger.NewReserveAccountKey(r.ID, ledger.SubTypeProtocolFeeNotes, r.DepositNoteMint)
}

func loanNotesKey(loanAccount uuid.UUID, r *state.Reserve) ledger.AccountKey {
	return ledger.NewObligationAccountKey(loanAccount, ledger.SubTypeLoanNotes, r.LoanNoteMint)
}

func collateralKey(obligationID uuid.UUID, nftMint string) ledger.AccountKey {
	return ledger.NewObligationAccountKey(obligationID, ledger.SubTypeCollateral, nftMint)
}

func escrowKey(b *state.Bid) ledger.AccountKey {
	return ledger.NewEscrowAccountKey(b.ID, b.BidMint)
}

func liquidationFeeKey(marketID, mint string) ledger.AccountKey {
	return ledger.NewMarketAccountKey(marketID, ledger.SubTypeLiquidationFees, mint)
}
