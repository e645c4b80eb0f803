// internal/core/handlers_liquidation.go
package core

import (
	"fmt"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/math"
	"LendLedger/internal/state"
)

// ============================================================================
// Bids
// ============================================================================

func (c *LendingCore) handlePlaceBid(ws *workingSet, e *event.PlaceBid) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	id := state.BidID(m.ID, ws.signer)
	if existing, err := ws.bid(id); err == nil && existing.State.IsOpen() {
		return fmt.Errorf("bidder %s in %s: %w", ws.signer, m.ID, state.ErrBidExists)
	}

	bidCap := c.authorities.Bid(m.ID, ws.signer)
	b, err := state.NewBid(m.ID, ws.signer, e.BidMint, bidCap.String(), e.BidLimit, ws.point)
	if err != nil {
		return err
	}
	ws.putBid(b)

	escrow := escrowKey(b)
	if err := ws.tx.OpenAccount(escrow, bidCap); err != nil {
		return err
	}
	from := walletKey(ws.signer, b.BidMint)
	if err := ws.tx.Transfer(from, escrow, b.BidLimit, c.authorities.User(ws.signer), ledger.JournalTypeBidEscrow); err != nil {
		return err
	}

	ws.afterCommit(func() {
		if c.metrics != nil {
			c.metrics.BidsPlaced.WithLabelValues(m.ID).Inc()
		}
	})
	return nil
}

func (c *LendingCore) handleIncreaseBid(ws *workingSet, e *event.IncreaseBid) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	b, err := ws.bid(state.BidID(m.ID, ws.signer))
	if err != nil {
		return err
	}
	if err := b.Increase(e.Delta); err != nil {
		return err
	}
	from := walletKey(ws.signer, b.BidMint)
	return ws.tx.Transfer(from, escrowKey(b), e.Delta, c.authorities.User(ws.signer), ledger.JournalTypeBidEscrow)
}

func (c *LendingCore) handleRevokeBid(ws *workingSet, e *event.RevokeBid) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	b, err := ws.bid(state.BidID(m.ID, ws.signer))
	if err != nil {
		return err
	}
	if err := b.Revoke(ws.point); err != nil {
		return err
	}

	escrow := escrowKey(b)
	refund := ws.tx.Balance(escrow)
	to, err := c.openWallet(ws, b.Bidder, b.BidMint)
	if err != nil {
		return err
	}
	if refund > 0 {
		if err := ws.tx.Transfer(escrow, to, uint64(refund), c.authorities.Bid(m.ID, b.Bidder), ledger.JournalTypeBidRefund); err != nil {
			return err
		}
	}

	ws.afterCommit(func() {
		if c.metrics != nil {
			c.metrics.BidsRevoked.WithLabelValues(m.ID).Inc()
		}
	})
	return nil
}

// ============================================================================
// Liquidation
// ============================================================================

// handleExecuteBid liquidates an unhealthy obligation into an open bid. The
// escrow pays off the debt, the premium on the surplus goes to the market
// fee account, the rest to the override authority, and the bidder receives
// the collateral.
func (c *LendingCore) handleExecuteBid(ws *workingSet, e *event.ExecuteBid) error {
	m, err := ws.market(e.Market)
	if err != nil {
		return err
	}
	r, err := m.Reserve(e.ReserveIndex)
	if err != nil {
		return err
	}
	o, err := ws.obligation(m.ID, e.Obligation)
	if err != nil {
		return err
	}
	b, err := ws.bid(state.BidID(m.ID, e.Bidder))
	if err != nil {
		return err
	}
	if !b.State.IsOpen() {
		return fmt.Errorf("bid %s is %s: %w", b.ID, b.State, state.ErrBidClosed)
	}
	if r.TokenMint != b.BidMint {
		return fmt.Errorf("bid in %s, reserve lends %s: %w", b.BidMint, r.TokenMint, state.ErrBidMintMismatch)
	}

	price, err := m.CollateralPrice(ws.point)
	if err != nil {
		return err
	}
	if err := o.CacheValuation(m, ws.point, price); err != nil {
		return err
	}
	if o.IsHealthy(m, ws.point) {
		return fmt.Errorf("obligation %s: %w", o.ID, state.ErrObligationHealthy)
	}

	pos, ok := o.PositionForReserve(r.Index)
	if !ok {
		return fmt.Errorf("reserve %d in %s: %w", r.Index, o.ID, state.ErrUnregisteredPosition)
	}
	snap, err := m.SnapshotAt(r.Index, ws.point)
	if err != nil {
		return err
	}
	payoff, err := state.ComputePayoff(e.PayoffNotes, pos.Amount, snap, r.OutstandingDebtTokens())
	if err != nil {
		return err
	}

	escrow := escrowKey(b)
	override := ws.signer == c.rootAuthority
	if balance := ws.tx.Balance(escrow); balance < 0 || uint64(balance) < payoff.Tokens {
		if !override {
			return fmt.Errorf("escrow %d below payoff %d: %w", balance, payoff.Tokens, state.ErrLiquidationLowCollateral)
		}
	}

	item := e.NFTMint
	if item == "" {
		items := o.CollateralItems()
		if len(items) != 1 {
			return fmt.Errorf("obligation %s holds %d items, name one: %w", o.ID, len(items), state.ErrInvalidParameter)
		}
		item = items[0]
	}
	if !o.HasCollateral(item) {
		return fmt.Errorf("%s in %s: %w", item, o.ID, state.ErrUnregisteredCollateral)
	}

	split, err := state.SplitEscrow(b.BidLimit, payoff.Tokens, snap.LiquidationBonus)
	if err != nil {
		return err
	}
	shortfall := payoff.Tokens - split.Payoff

	marketCap := c.authorities.Market(m.ID)
	bidCap := c.authorities.Bid(m.ID, b.Bidder)

	if err := ws.tx.BurnNotes(r.LoanNoteMint, loanNotesKey(pos.Account, r), payoff.Notes, marketCap); err != nil {
		return err
	}
	if err := ws.tx.Transfer(escrow, vaultKey(r), split.Payoff, bidCap, ledger.JournalTypeLiquidationPayoff); err != nil {
		return err
	}
	if err := ws.tx.Transfer(escrow, liquidationFeeKey(m.ID, r.TokenMint), split.Fee, bidCap, ledger.JournalTypeLiquidationFee); err != nil {
		return err
	}
	leftovers, err := c.openWallet(ws, c.rootAuthority, r.TokenMint)
	if err != nil {
		return err
	}
	if err := ws.tx.Transfer(escrow, leftovers, split.Leftovers, bidCap, ledger.JournalTypeLiquidationLeftover); err != nil {
		return err
	}

	if err := o.UnregisterCollateral(item); err != nil {
		return err
	}
	prize, err := c.openWallet(ws, b.Bidder, item)
	if err != nil {
		return err
	}
	if err := ws.tx.Transfer(collateralKey(o.ID, item), prize, 1, marketCap, ledger.JournalTypeLiquidationCollateral); err != nil {
		return err
	}

	if err := r.Repay(ws.point, split.Payoff, payoff.Notes); err != nil {
		return err
	}
	if shortfall > 0 {
		r.WriteOff(shortfall)
	}
	if err := o.Repay(pos.Account, payoff.Notes); err != nil {
		return err
	}
	if err := b.MarkExecuted(ws.point); err != nil {
		return err
	}

	if err := o.CacheValuation(m, ws.point, price); err != nil {
		return err
	}
	if !o.IsHealthy(m, ws.point) {
		return fmt.Errorf("obligation %s after liquidation: %w", o.ID, state.ErrObligationUnhealthy)
	}

	ws.afterCommit(func() {
		c.logger.Info().
			Str("market_id", m.ID).
			Str("obligation", o.ID.String()).
			Str("bidder", b.Bidder.String()).
			Uint64("payoff_tokens", split.Payoff).
			Uint64("fee", split.Fee).
			Uint64("leftovers", split.Leftovers).
			Uint64("shortfall", shortfall).
			Msg("obligation liquidated")
		if c.metrics == nil {
			return
		}
		c.metrics.LiquidationExecuted.WithLabelValues(m.ID).Inc()
		c.metrics.LiquidationFees.WithLabelValues(m.ID, r.TokenMint).Add(float64(split.Fee))
		if shortfall > 0 {
			c.metrics.LiquidationShortfall.WithLabelValues(m.ID).Add(float64(shortfall))
		}
	})
	return nil
}

// handleLiquidateSolvent retires debt with the override authority's own
// tokens, valuing the collateral at the override price. No collateral
// moves.
func (c *LendingCore) handleLiquidateSolvent(ws *workingSet, e *event.LiquidateSolvent) error {
	if err := c.requireRoot(ws); err != nil {
		return err
	}
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
		return err
	}

	overrideTokens, err := e.Amount.ToTokens(snap, math.RoundDown)
	if err != nil {
		return err
	}
	if err := o.CacheValuation(m, ws.point, math.FromUint64(overrideTokens)); err != nil {
		return err
	}
	if o.IsHealthy(m, ws.point) {
		return fmt.Errorf("obligation %s at override price %d: %w", o.ID, overrideTokens, state.ErrObligationHealthy)
	}

	requested, err := e.Amount.ToLoanNotes(snap, math.RoundDown)
	if err != nil {
		return err
	}
	payoff, err := state.ComputePayoff(requested, pos.Amount, snap, r.OutstandingDebtTokens())
	if err != nil {
		return err
	}
	if err := c.settleRepayment(ws, m, r, o, pos, ws.signer, payoff.Tokens, payoff.Notes, ledger.JournalTypeLiquidationPayoff); err != nil {
		return err
	}

	ws.afterCommit(func() {
		if c.metrics != nil {
			c.metrics.LiquidationSolvent.WithLabelValues(m.ID).Inc()
		}
	})
	return nil
}
