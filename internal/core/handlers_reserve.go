// internal/core/handlers_reserve.go
package core

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/math"
	"LendLedger/internal/state"

	"github.com/google/uuid"
)

// ============================================================================
// Wallets
// ============================================================================

func (c *LendingCore) handleExternalDeposit(ws *workingSet, e *event.ExternalDeposit) error {
	if err := c.requireRoot(ws); err != nil {
		return err
	}
	if e.Owner == uuid.Nil || e.Mint == "" || e.Amount == 0 {
		return fmt.Errorf("external deposit needs owner, mint and amount: %w", state.ErrInvalidParameter)
	}
	to, err := c.openWallet(ws, e.Owner, e.Mint)
	if err != nil {
		return err
	}
	return ws.tx.ExternalDeposit(to, e.Amount)
}

// openWallet returns the user's wallet of mint, assigning the user's
// authority on first use.
func (c *LendingCore) openWallet(ws *workingSet, user uuid.UUID, mint string) (ledger.AccountKey, error) {
	key := walletKey(user, mint)
	if err := ws.tx.OpenAccount(key, c.authorities.User(user)); err != nil {
		return ledger.AccountKey{}, err
	}
	return key, nil
}

func (c *LendingCore) requireRoot(ws *workingSet) error {
	if ws.signer != c.rootAuthority {
		return fmt.Errorf("signer %s is not the root authority: %w", ws.signer, state.ErrUnauthorized)
	}
	return nil
}

// ============================================================================
// Reserve refresh
// ============================================================================

func oraclePrice(p event.OraclePrice) (math.Number, error) {
	if p.Mantissa < 0 || p.Scale > event.MaxPriceScale {
		return math.Zero, fmt.Errorf("price %de-%d: %w", p.Mantissa, p.Scale, state.ErrInvalidOraclePrice)
	}
	return math.FromDecimal(p.Mantissa, -int32(p.Scale)), nil
}

// handleRefreshReserve is root only: the prices it carries value every
// obligation in the market.
func (c *LendingCore) handleRefreshReserve(ws *workingSet, e *event.RefreshReserve) error {
	if err := c.requireRoot(ws); err != nil {
		return err
	}
	tokenPrice, err := oraclePrice(e.TokenPrice)
	if err != nil {
		return err
	}
	nftPrice, err := oraclePrice(e.NFTPrice)
	if err != nil {
		return err
	}

	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	cache, err := m.SnapshotCache(e.ReserveIndex)
	if err != nil {
		return err
	}

	m.NFTPrice.RefreshTo(ws.point, nftPrice)

	res, err := r.Refresh(r.State.TotalDeposits, ws.timestamp, ws.point, tokenPrice, cache)
	if err != nil {
		return fmt.Errorf("refresh %s/%d: %w", m.ID, r.Index, err)
	}

	marketID, index := m.ID, r.Index
	if res.Completion == state.CompletionPartial {
		ws.afterCommit(func() {
			if c.metrics != nil {
				c.metrics.ReservePartialRefresh.WithLabelValues(marketID, fmt.Sprint(index)).Inc()
			}
		})
		return nil
	}

	marketCap := c.authorities.Market(m.ID)
	if err := ws.tx.MintNotes(r.DepositNoteMint, feeNotesKey(r), res.FeeNotes, marketCap, ledger.JournalTypeFeeNoteMint); err != nil {
		return err
	}
	if err := ws.tx.MintNotes(r.DepositNoteMint, protocolFeeNotesKey(r), res.ProtocolFeeNotes, marketCap, ledger.JournalTypeFeeNoteMint); err != nil {
		return err
	}

	debt := r.State.OutstandingDebt
	util := math.Utilization(debt, math.FromUint64(r.State.TotalDeposits))
	ws.afterCommit(func() {
		if c.metrics == nil {
			return
		}
		reserve := fmt.Sprint(index)
		if res.FeeNotes > 0 {
			c.metrics.ReserveFeeNotesMinted.WithLabelValues(marketID, reserve, "manage").Add(float64(res.FeeNotes))
		}
		if res.ProtocolFeeNotes > 0 {
			c.metrics.ReserveFeeNotesMinted.WithLabelValues(marketID, reserve, "protocol").Add(float64(res.ProtocolFeeNotes))
		}
		c.metrics.ObserveReserve(marketID, index,
			debt.Float64(),
			res.Snapshot.DepositNoteExchangeRate.Float64(),
			res.Snapshot.LoanNoteExchangeRate.Float64(),
			util.Float64(),
		)
	})
	return nil
}

// ============================================================================
// Deposits
// ============================================================================

func (c *LendingCore) handleDepositTokens(ws *workingSet, e *event.DepositTokens) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	if m.Flags.HaltDeposits {
		return fmt.Errorf("%s deposits: %w", m.ID, state.ErrMarketHalted)
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	snap, err := m.SnapshotAt(e.ReserveIndex, ws.point)
	if err != nil {
		return fmt.Errorf("deposit into %s/%d: %w", m.ID, r.Index, err)
	}

	tokens, err := e.Amount.ToTokens(snap, math.RoundUp)
	if err != nil {
		return err
	}
	notes, err := e.Amount.ToDepositNotes(snap, math.RoundDown)
	if err != nil {
		return err
	}
	if tokens == 0 || notes == 0 {
		return fmt.Errorf("deposit of %s mints nothing: %w", e.Amount, state.ErrInvalidParameter)
	}

	from := walletKey(ws.signer, r.TokenMint)
	if err := ws.tx.Transfer(from, vaultKey(r), tokens, c.authorities.User(ws.signer), ledger.JournalTypeDeposit); err != nil {
		return err
	}
	noteWallet, err := c.openWallet(ws, ws.signer, r.DepositNoteMint)
	if err != nil {
		return err
	}
	if err := ws.tx.MintNotes(r.DepositNoteMint, noteWallet, notes, c.authorities.Market(m.ID), ledger.JournalTypeNoteMint); err != nil {
		return err
	}
	return r.Deposit(tokens, notes)
}

func (c *LendingCore) handleWithdrawTokens(ws *workingSet, e *event.WithdrawTokens) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	snap, err := m.SnapshotAt(e.ReserveIndex, ws.point)
	if err != nil {
		return fmt.Errorf("withdraw from %s/%d: %w", m.ID, r.Index, err)
	}

	tokens, err := e.Amount.ToTokens(snap, math.RoundDown)
	if err != nil {
		return err
	}
	notes, err := e.Amount.ToDepositNotes(snap, math.RoundUp)
	if err != nil {
		return err
	}
	if tokens == 0 || notes == 0 {
		return fmt.Errorf("withdrawal of %s: %w", e.Amount, state.ErrInvalidParameter)
	}

	if err := r.Withdraw(tokens, notes); err != nil {
		return err
	}
	noteWallet := walletKey(ws.signer, r.DepositNoteMint)
	if err := ws.tx.BurnNotes(r.DepositNoteMint, noteWallet, notes, c.authorities.User(ws.signer)); err != nil {
		return err
	}
	to, err := c.openWallet(ws, ws.signer, r.TokenMint)
	if err != nil {
		return err
	}
	return ws.tx.Transfer(vaultKey(r), to, tokens, c.authorities.Market(m.ID), ledger.JournalTypeWithdrawal)
}

// ============================================================================
// Administration
// ============================================================================

func (c *LendingCore) handleUpdateReserveConfig(ws *workingSet, e *event.UpdateReserveConfig) error {
	if err := c.requireRoot(ws); err != nil {
		return err
	}
	if err := state.ValidateReserveConfig(e.Config); err != nil {
		return fmt.Errorf("%v: %w", err, state.ErrInvalidParameter)
	}
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	r.Config = e.Config

	// Snapshot carries config-derived ratios.
	cache, err := m.SnapshotCache(e.ReserveIndex)
	if err != nil {
		return err
	}
	cache.Invalidate()
	return nil
}

func (c *LendingCore) handleUpdateMarketFlags(ws *workingSet, e *event.UpdateMarketFlags) error {
	if err := c.requireRoot(ws); err != nil {
		return err
	}
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	m.Flags = e.Flags
	return nil
}
