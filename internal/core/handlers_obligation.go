// internal/core/handlers_obligation.go
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
// Obligation lifecycle
// ============================================================================

func (c *LendingCore) handleInitObligation(ws *workingSet, e *event.InitObligation) error {
	if ws.signer != e.Owner {
		return fmt.Errorf("signer %s cannot open obligation for %s: %w", ws.signer, e.Owner, state.ErrUnauthorized)
	}
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	id := state.ObligationID(m.ID, e.Owner)
	if ws.hasObligation(id) {
		return fmt.Errorf("%s in %s: %w", e.Owner, m.ID, state.ErrDuplicateObligation)
	}
	ws.putObligation(state.NewObligation(m.ID, e.Owner, m.CollateralLimit))
	return nil
}

// ownedObligation loads an obligation the signer owns.
func (c *LendingCore) ownedObligation(ws *workingSet, m *state.Market, id uuid.UUID) (*state.Obligation, error) {
	o, err := ws.obligation(m.ID, id)
	if err != nil {
		return nil, err
	}
	if o.Owner != ws.signer {
		return nil, fmt.Errorf("obligation %s owned by %s: %w", o.ID, o.Owner, state.ErrUnauthorized)
	}
	return o, nil
}

func (c *LendingCore) handleInitLoanAccount(ws *workingSet, e *event.InitLoanAccount) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	o, err := c.ownedObligation(ws, m, e.Obligation)
	if err != nil {
		return err
	}

	account := state.LoanAccountID(o.ID, r.Index)
	if err := o.RegisterLoan(account, r.Index); err != nil {
		return err
	}
	return ws.tx.OpenAccount(loanNotesKey(account, r), c.authorities.Market(m.ID))
}

func (c *LendingCore) handleCloseLoanAccount(ws *workingSet, e *event.CloseLoanAccount) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	o, err := c.ownedObligation(ws, m, e.Obligation)
	if err != nil {
		return err
	}
	return o.UnregisterLoan(state.LoanAccountID(o.ID, r.Index))
}

// ============================================================================
// Collateral
// ============================================================================

func (c *LendingCore) handleDepositNFT(ws *workingSet, e *event.DepositNFT) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	if e.Creator != m.CollectionCreator {
		return fmt.Errorf("%s created by %q, market expects %q: %w",
			e.NFTMint, e.Creator, m.CollectionCreator, state.ErrInvalidCollateral)
	}
	o, err := c.ownedObligation(ws, m, e.Obligation)
	if err != nil {
		return err
	}
	if holder, ok := ws.collateralHolder(e.NFTMint); ok {
		return fmt.Errorf("%s held by obligation %s: %w", e.NFTMint, holder, state.ErrDuplicateCollateral)
	}
	if err := o.RegisterCollateral(e.NFTMint); err != nil {
		return err
	}

	custody := collateralKey(o.ID, e.NFTMint)
	if err := ws.tx.OpenAccount(custody, c.authorities.Market(m.ID)); err != nil {
		return err
	}
	from := walletKey(ws.signer, e.NFTMint)
	return ws.tx.Transfer(from, custody, 1, c.authorities.User(ws.signer), ledger.JournalTypeCollateralDeposit)
}

func (c *LendingCore) handleWithdrawNFT(ws *workingSet, e *event.WithdrawNFT) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	o, err := c.ownedObligation(ws, m, e.Obligation)
	if err != nil {
		return err
	}
	if err := o.UnregisterCollateral(e.NFTMint); err != nil {
		return err
	}

	if o.HasActiveLoans() {
		price, err := m.CollateralPrice(ws.point)
		if err != nil {
			return err
		}
		if err := o.CacheValuation(m, ws.point, price); err != nil {
			return err
		}
		if !o.IsHealthy(m, ws.point) {
			return fmt.Errorf("withdraw %s from %s: %w", e.NFTMint, o.ID, state.ErrObligationUnhealthy)
		}
	}

	to, err := c.openWallet(ws, o.Owner, e.NFTMint)
	if err != nil {
		return err
	}
	return ws.tx.Transfer(collateralKey(o.ID, e.NFTMint), to, 1, c.authorities.Market(m.ID), ledger.JournalTypeCollateralWithdraw)
}

// ============================================================================
// Loans
// ============================================================================

func (c *LendingCore) handleBorrow(ws *workingSet, e *event.Borrow) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	if m.Flags.HaltBorrows {
		return fmt.Errorf("%s borrows: %w", m.ID, state.ErrMarketHalted)
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	o, err := c.ownedObligation(ws, m, e.Obligation)
	if err != nil {
		return err
	}
	pos, ok := o.PositionForReserve(r.Index)
	if !ok {
		return fmt.Errorf("reserve %d in %s: %w", r.Index, o.ID, state.ErrUnregisteredPosition)
	}
	snap, err := m.SnapshotAt(r.Index, ws.point)
	if err != nil {
		return fmt.Errorf("borrow from %s/%d: %w", m.ID, r.Index, err)
	}

	requested, err := e.Amount.ToTokens(snap, math.RoundDown)
	if err != nil {
		return err
	}
	if requested == 0 {
		return fmt.Errorf("borrow of %s: %w", e.Amount, state.ErrInvalidParameter)
	}
	fee, err := r.BorrowFee(requested)
	if err != nil {
		return err
	}
	protocolFee, err := r.ProtocolFee(requested)
	if err != nil {
		return err
	}
	total := requested + fee
	if total < requested {
		return fmt.Errorf("borrow total: %w", state.ErrOverflow)
	}
	if total+protocolFee < total {
		return fmt.Errorf("borrow total: %w", state.ErrOverflow)
	}
	total += protocolFee

	if err := o.CanBorrowFromReserve(r.Index); err != nil {
		return err
	}
	notes, err := snap.TokensToLoanNotes(total, math.RoundUp)
	if err != nil {
		return err
	}

	if err := r.Borrow(ws.point, requested, notes, fee, protocolFee); err != nil {
		return err
	}
	if err := o.Borrow(pos.Account, notes); err != nil {
		return err
	}

	price, err := m.CollateralPrice(ws.point)
	if err != nil {
		return err
	}
	if err := o.CacheValuation(m, ws.point, price); err != nil {
		return err
	}
	if !o.IsHealthy(m, ws.point) {
		return fmt.Errorf("borrow %d from %s/%d: %w", requested, m.ID, r.Index, state.ErrInsufficientCollateral)
	}

	marketCap := c.authorities.Market(m.ID)
	if err := ws.tx.MintNotes(r.LoanNoteMint, loanNotesKey(pos.Account, r), notes, marketCap, ledger.JournalTypeNoteMint); err != nil {
		return err
	}
	to, err := c.openWallet(ws, o.Owner, r.TokenMint)
	if err != nil {
		return err
	}
	return ws.tx.Transfer(vaultKey(r), to, requested, marketCap, ledger.JournalTypeBorrow)
}

func (c *LendingCore) handleRepay(ws *workingSet, e *event.Repay) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	if m.Flags.HaltRepays {
		return fmt.Errorf("%s repays: %w", m.ID, state.ErrMarketHalted)
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	// Anyone may repay on behalf of an obligation.
	o, err := ws.obligation(m.ID, e.Obligation)
	if err != nil {
		return err
	}
	pos, ok := o.PositionForReserve(r.Index)
	if !ok {
		return fmt.Errorf("reserve %d in %s: %w", r.Index, o.ID, state.ErrUnregisteredPosition)
	}
	snap, err := m.SnapshotAt(r.Index, ws.point)
	if err != nil {
		return fmt.Errorf("repay to %s/%d: %w", m.ID, r.Index, err)
	}

	requested, err := e.Amount.ToLoanNotes(snap, math.RoundDown)
	if err != nil {
		return err
	}
	notes := min(requested, pos.Amount)
	if notes == 0 {
		return fmt.Errorf("repay of %s: %w", e.Amount, state.ErrInvalidParameter)
	}

	var tokens uint64
	if e.Amount.Units == state.UnitsTokens && notes == requested {
		tokens = e.Amount.Value
	} else if tokens, err = snap.LoanNotesToTokens(notes, math.RoundUp); err != nil {
		return err
	}

	return c.settleRepayment(ws, m, r, o, pos, ws.signer, tokens, notes, ledger.JournalTypeRepay)
}

// settleRepayment moves tokens from payer into the vault, burns the loan
// notes and records the repayment on both books.
func (c *LendingCore) settleRepayment(
	ws *workingSet,
	m *state.Market,
	r *state.Reserve,
	o *state.Obligation,
	pos state.Position,
	payer uuid.UUID,
	tokens, notes uint64,
	jt ledger.JournalType,
) error {
	from := walletKey(payer, r.TokenMint)
	if err := ws.tx.Transfer(from, vaultKey(r), tokens, c.authorities.User(payer), jt); err != nil {
		return err
	}
	if err := ws.tx.BurnNotes(r.LoanNoteMint, loanNotesKey(pos.Account, r), notes, c.authorities.Market(m.ID)); err != nil {
		return err
	}
	if err := r.Repay(ws.point, tokens, notes); err != nil {
		return err
	}
	return o.Repay(pos.Account, notes)
}
