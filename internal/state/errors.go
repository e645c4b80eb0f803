// internal/state/errors.go
package state

import (
	"errors"

	"LendLedger/internal/math"
)

// Capacity
var (
	ErrCollateralCapacityExceeded = errors.New("collateral capacity exceeded")
	ErrNoFreeObligation           = errors.New("no free loan slot in obligation")
)

// Duplicate / consistency
var (
	ErrDuplicateCollateral    = errors.New("collateral already registered")
	ErrDuplicatePosition      = errors.New("loan position already registered")
	ErrUnregisteredCollateral = errors.New("collateral not registered")
	ErrUnregisteredPosition   = errors.New("loan position not registered")
	ErrAnotherLoanOutstanding = errors.New("another loan is outstanding")
	ErrPositionNotEmpty       = errors.New("loan position still has a balance")
)

// Units
var ErrInvalidUnits = errors.New("invalid amount units")

// Valuation
var (
	ErrObligationHealthy      = errors.New("obligation is healthy")
	ErrObligationUnhealthy    = errors.New("obligation is unhealthy")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
)

// Market state
var (
	ErrInvalidOraclePrice    = errors.New("invalid oracle price")
	ErrStaleData             = errors.New("stale data")
	ErrMarketHalted          = errors.New("market operation halted")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity in reserve")
	ErrInvalidCollateral     = errors.New("collateral does not belong to market collection")
	ErrUnknownMarket         = errors.New("unknown market")
	ErrUnknownReserve        = errors.New("unknown reserve")
	ErrUnknownObligation     = errors.New("unknown obligation")
	ErrDuplicateObligation   = errors.New("obligation already exists")
)

// Bid
var (
	ErrBidMintMismatch          = errors.New("bid mint does not match reserve token")
	ErrLiquidationLowCollateral = errors.New("bid escrow below payoff")
	ErrInvalidParameter         = errors.New("invalid parameter")
	ErrBidExists                = errors.New("bid already open for bidder")
	ErrBidNotFound              = errors.New("bid not found")
	ErrBidClosed                = errors.New("bid is closed")
	ErrInvalidBidTransition     = errors.New("invalid bid state transition")
)

// Authority
var ErrUnauthorized = errors.New("unauthorized")

// Arithmetic
var ErrOverflow = math.ErrOverflow
