package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeReserve
	AccountScopeObligation
	AccountScopeEscrow
	AccountScopeMarket
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// Reserve sub-types
	SubTypeVault
	SubTypeFeeNotes
	SubTypeProtocolFeeNotes

	// Obligation sub-types
	SubTypeCollateral
	SubTypeLoanNotes

	// Escrow sub-types
	SubTypeBidEscrow

	// Market sub-types
	SubTypeLiquidationFees

	// External sub-types
	SubTypeExternalDeposits
	SubTypeMintSupply
)

// AccountKey is the in-memory key for balance tracking. Mint names the
// token, note or NFT the balance is denominated in.
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte
	SubType  AccountSubType
	Mint     string
}

// NewUserAccountKey creates a key for a user's wallet of one mint
func NewUserAccountKey(userID uuid.UUID, mint string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		Mint:     mint,
	}
}

// NewReserveAccountKey creates a key for a reserve-owned account
// (token vault, fee-note vaults)
func NewReserveAccountKey(reserveID uuid.UUID, subType AccountSubType, mint string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeReserve,
		EntityID: reserveID,
		SubType:  subType,
		Mint:     mint,
	}
}

// NewObligationAccountKey creates a key for an obligation-owned account.
// For loan notes the entity is the loan account, not the obligation.
func NewObligationAccountKey(entityID uuid.UUID, subType AccountSubType, mint string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeObligation,
		EntityID: entityID,
		SubType:  subType,
		Mint:     mint,
	}
}

// NewEscrowAccountKey creates a key for a bid's escrow
func NewEscrowAccountKey(bidID uuid.UUID, mint string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeEscrow,
		EntityID: bidID,
		SubType:  SubTypeBidEscrow,
		Mint:     mint,
	}
}

// NewMarketAccountKey creates a key for a market-level account
func NewMarketAccountKey(marketID string, subType AccountSubType, mint string) AccountKey {
	return AccountKey{
		Scope:    AccountScopeMarket,
		EntityID: MarketEntityID(marketID),
		SubType:  subType,
		Mint:     mint,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, mint string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Mint:    mint,
	}
}

// MintSupplyKey is the contra account that note mints and burns settle
// against. Its balance is the negated circulating supply.
func MintSupplyKey(mint string) AccountKey {
	return NewExternalAccountKey(SubTypeMintSupply, mint)
}

// MarketEntityID maps a market id onto the 16-byte entity space
func MarketEntityID(marketID string) [16]byte {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("market:"+marketID))
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	id := uuid.UUID(k.EntityID)

	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", id, k.subTypeName(), k.Mint)
	case AccountScopeReserve:
		return fmt.Sprintf("reserve:%s:%s:%s", id, k.subTypeName(), k.Mint)
	case AccountScopeObligation:
		return fmt.Sprintf("obligation:%s:%s:%s", id, k.subTypeName(), k.Mint)
	case AccountScopeEscrow:
		return fmt.Sprintf("escrow:%s:%s", id, k.Mint)
	case AccountScopeMarket:
		return fmt.Sprintf("market:%s:%s:%s", id, k.subTypeName(), k.Mint)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Mint)
	}
	return "unknown"
}

func (k AccountKey) String() string { return k.AccountPath() }

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeVault:
		return "vault"
	case SubTypeFeeNotes:
		return "fee_notes"
	case SubTypeProtocolFeeNotes:
		return "protocol_fee_notes"
	case SubTypeCollateral:
		return "collateral"
	case SubTypeLoanNotes:
		return "loan_notes"
	case SubTypeBidEscrow:
		return "bid_escrow"
	case SubTypeLiquidationFees:
		return "liquidation_fees"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeMintSupply:
		return "mint_supply"
	default:
		return "unknown"
	}
}
