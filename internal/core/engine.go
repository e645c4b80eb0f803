package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/ledger"
	"LendLedger/internal/observability"
	"LendLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// globalCheckInterval is how often (in instructions) the full zero-sum
// check over every mint runs.
const globalCheckInterval = 1000

// Config carries the core's injected identities and limits.
type Config struct {
	StartSequence int64

	// RootAuthority is the user allowed to override liquidation limits,
	// bridge external deposits and change market parameters.
	RootAuthority uuid.UUID

	// CapabilitySalt scopes every derived account authority.
	CapabilitySalt string

	IdempotencyCapacity int
}

// LendingCore is the single-threaded instruction executor. Every
// instruction runs as one atomic unit against a working set; the committed
// state only changes when the instruction succeeds.
type LendingCore struct {
	mu sync.Mutex

	sequence          int64
	instructions      int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	registry          *state.Registry
	authorities       ledger.Authorities
	rootAuthority     uuid.UUID
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	replaying bool

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need about one applied
// instruction. The entity slices hold committed values that the core never
// mutates again.
type CoreOutput struct {
	Envelope    *event.EventEnvelope
	Batch       *ledger.Batch
	StateDelta  []byte
	Markets     []*state.Market
	Obligations []*state.Obligation
	Bids        []*state.Bid
}

func NewLendingCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *LendingCore {
	capacity := cfg.IdempotencyCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	balanceTracker := ledger.NewBalanceTracker()

	return &LendingCore{
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		registry:          state.NewRegistry(),
		authorities:       ledger.NewAuthorities(cfg.CapabilitySalt),
		rootAuthority:     cfg.RootAuthority,
		idempotency:       NewIdempotencyChecker(capacity, dbChecker, metrics),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            zerolog.Nop(),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// SetLogger replaces the default no-op logger.
func (c *LendingCore) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// AddMarket registers a market and its reserves. It opens the vault and
// fee accounts under the market authority and hands it the note mints.
func (c *LendingCore) AddMarket(m *state.Market) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.registry.Market(m.ID); err == nil {
		return fmt.Errorf("market %s already loaded: %w", m.ID, state.ErrInvalidParameter)
	}

	marketCap := c.authorities.Market(m.ID)
	for _, r := range m.Reserves {
		c.balanceTracker.SetAuthority(vaultKey(r), marketCap)
		c.balanceTracker.SetAuthority(feeNotesKey(r), marketCap)
		c.balanceTracker.SetAuthority(protocolFeeNotesKey(r), marketCap)
		c.balanceTracker.SetAuthority(liquidationFeeKey(m.ID, r.TokenMint), marketCap)
		c.balanceTracker.SetMintAuthority(r.DepositNoteMint, marketCap)
		c.balanceTracker.SetMintAuthority(r.LoanNoteMint, marketCap)
	}
	c.registry.PutMarket(m)
	return nil
}

// HasMarket reports whether a market is loaded.
func (c *LendingCore) HasMarket(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.registry.Market(id)
	return err == nil
}

// ProcessEvent is the main processing pipeline
func (c *LendingCore) ProcessEvent(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.process(evt, false)
}

// ProcessAssigned stamps the instruction with the next source sequence of
// its partition before processing. Used for submissions that do not come
// from a sequenced stream.
func (c *LendingCore) ProcessAssigned(evt event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	evt.Meta().Sequence = c.sequenceValidator.GetExpectedSequence(c.getPartition(evt))
	return c.process(evt, false)
}

func (c *LendingCore) process(evt event.Event, replay bool) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	hdr := evt.Meta()

	if err := hdr.Validate(); err != nil {
		c.reject(eventType, "invalid")
		return fmt.Errorf("invalid %s: %w", eventType, err)
	}

	partition := c.getPartition(evt)
	if replay {
		// The log only holds applied instructions; rejected ones still
		// advanced the cursor, so follow the recorded sequence.
		if next := hdr.Sequence + 1; next > c.sequenceValidator.GetExpectedSequence(partition) {
			c.sequenceValidator.RestorePartition(partition, next)
		}
	} else if applied, err := c.admit(evt, partition); !applied {
		return err
	}

	// Step 3: Dispatch against a working set
	tx := c.balanceTracker.Begin(idempotencyKey, c.sequence, hdr.Timestamp)
	ws := newWorkingSet(c.registry, tx, hdr.Signer, hdr.Slot, hdr.Timestamp)

	if err := c.dispatchEvent(ws, evt); err != nil {
		c.reject(eventType, rejectReason(err))
		c.logger.Debug().Err(err).Str("event_type", eventType).Str("request_id", idempotencyKey).Msg("instruction rejected")
		return fmt.Errorf("%s %s: %w", eventType, idempotencyKey, err)
	}

	// Step 4: Validate and apply ledger effects, then commit entities
	if batch := tx.Batch(); batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
	}
	batch, err := c.balanceTracker.Commit(tx)
	if err != nil {
		panic(fmt.Sprintf("FATAL: apply batch failed after validation: %v", err))
	}
	ws.commit()
	c.instructions++

	// Step 5: Post-checks
	if err := c.postCheckInvariants(ws); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State hash
	markets, obligations, bids := ws.touched()
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, markets, obligations, bids)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode applied instruction: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      hdr.Time(),
		SourceSequence: hdr.Sequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{
		Envelope:    envelope,
		Batch:       batch,
		StateDelta:  stateDigest,
		Markets:     markets,
		Obligations: obligations,
		Bids:        bids,
	}
	c.sequence++

	// Step 7: Emit. Persistence blocks (backpressure); projections drop
	// when full and rebuild from the log.
	if !replay {
		c.persistChan <- output
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		c.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		if batch != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	return nil
}

// admit runs the idempotency and ordering checks. It reports false when
// the instruction must not be applied; err is nil for duplicates and
// stale refreshes, which are dropped silently.
func (c *LendingCore) admit(evt event.Event, partition string) (bool, error) {
	eventType := evt.EventType().String()
	hdr := evt.Meta()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(eventType, evt.IdempotencyKey())

	// Step 2: Sequence validation
	if refresh, ok := evt.(*event.RefreshReserve); ok {
		if !isDuplicate {
			if err := c.sequenceValidator.ValidateRefreshSequence(refresh.Market, refresh.ReserveIndex, hdr.Sequence); err != nil {
				c.reject(eventType, "stale")
				return false, nil
			}
		}
	} else {
		expected := c.sequenceValidator.GetExpectedSequence(partition)
		if err := c.sequenceValidator.ValidateSequence(partition, hdr.Sequence, isDuplicate); err != nil {
			c.reject(eventType, "sequence")
			if c.metrics != nil {
				if hdr.Sequence < expected {
					c.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
				} else {
					c.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
				}
			}
			return false, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return false, nil
	}
	return true, nil
}

func (c *LendingCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// rejectReason maps an error to a low-cardinality metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, state.ErrStaleData):
		return "stale_data"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrUnauthorized), errors.Is(err, state.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, state.ErrInsufficientCollateral), errors.Is(err, state.ErrObligationUnhealthy):
		return "unhealthy"
	case errors.Is(err, state.ErrOverflow):
		return "overflow"
	case errors.Is(err, state.ErrMarketHalted):
		return "halted"
	default:
		return "validation"
	}
}

// getPartition determines partition key for sequence validation
func (c *LendingCore) getPartition(evt event.Event) string {
	if r, ok := evt.(*event.RefreshReserve); ok {
		return refreshPartition(r.Market, r.ReserveIndex)
	}
	if marketID := evt.MarketID(); marketID != nil {
		return fmt.Sprintf("market:%s", *marketID)
	}
	return "global"
}

// computeStateDigest creates canonical bytes for the state hash: every
// account the batch touched with its new balance, then every touched
// entity in its committed form.
func (c *LendingCore) computeStateDigest(
	batch *ledger.Batch,
	markets []*state.Market,
	obligations []*state.Obligation,
	bids []*state.Bid,
) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = appendUint32LE(digest, uint32(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	appendEntity := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("FATAL: encode entity for state digest: %v", err))
		}
		digest = appendUint32LE(digest, uint32(len(b)))
		digest = append(digest, b...)
	}
	for _, m := range markets {
		appendEntity(m)
	}
	for _, o := range obligations {
		appendEntity(o)
	}
	for _, b := range bids {
		appendEntity(b)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func appendUint32LE(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

// postCheckInvariants ties the entity books to the ledger for everything
// the instruction touched.
func (c *LendingCore) postCheckInvariants(ws *workingSet) error {
	for _, m := range ws.markets {
		for _, r := range m.Reserves {
			if err := c.validator.ValidateBalance(vaultKey(r), r.State.TotalDeposits); err != nil {
				return fmt.Errorf("reserve %s/%d vault: %w", m.ID, r.Index, err)
			}
			if err := c.validator.ValidateSupply(r.DepositNoteMint, r.State.TotalDepositNotes); err != nil {
				return fmt.Errorf("reserve %s/%d deposit notes: %w", m.ID, r.Index, err)
			}
			if err := c.validator.ValidateSupply(r.LoanNoteMint, r.State.TotalLoanNotes); err != nil {
				return fmt.Errorf("reserve %s/%d loan notes: %w", m.ID, r.Index, err)
			}
		}
	}

	for _, o := range ws.obligations {
		m, err := c.registry.Market(o.MarketID)
		if err != nil {
			return err
		}
		for _, p := range o.Positions() {
			r, err := m.Reserve(p.ReserveIndex)
			if err != nil {
				return err
			}
			if err := c.validator.ValidateBalance(loanNotesKey(p.Account, r), p.Amount); err != nil {
				return fmt.Errorf("obligation %s loan position: %w", o.ID, err)
			}
		}
		for _, item := range o.CollateralItems() {
			if err := c.validator.ValidateBalance(collateralKey(o.ID, item), 1); err != nil {
				return fmt.Errorf("obligation %s collateral: %w", o.ID, err)
			}
		}
	}

	for _, b := range ws.bids {
		want := uint64(0)
		if b.State.IsOpen() {
			want = b.BidLimit
		}
		if err := c.validator.ValidateBalance(escrowKey(b), want); err != nil {
			return fmt.Errorf("bid %s escrow: %w", b.ID, err)
		}
	}

	if c.instructions%globalCheckInterval == 0 {
		if err := c.validator.ValidateNonNegative(); err != nil {
			return fmt.Errorf("at sequence %d: %w", c.sequence, err)
		}
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at sequence %d: %w", c.sequence, err)
		}
	}

	return nil
}

func (c *LendingCore) dispatchEvent(ws *workingSet, evt event.Event) error {
	switch e := evt.(type) {
	case *event.ExternalDeposit:
		return c.handleExternalDeposit(ws, e)
	case *event.InitObligation:
		return c.handleInitObligation(ws, e)
	case *event.InitLoanAccount:
		return c.handleInitLoanAccount(ws, e)
	case *event.CloseLoanAccount:
		return c.handleCloseLoanAccount(ws, e)
	case *event.RefreshReserve:
		return c.handleRefreshReserve(ws, e)
	case *event.DepositTokens:
		return c.handleDepositTokens(ws, e)
	case *event.WithdrawTokens:
		return c.handleWithdrawTokens(ws, e)
	case *event.DepositNFT:
		return c.handleDepositNFT(ws, e)
	case *event.WithdrawNFT:
		return c.handleWithdrawNFT(ws, e)
	case *event.Borrow:
		return c.handleBorrow(ws, e)
	case *event.Repay:
		return c.handleRepay(ws, e)
	case *event.PlaceBid:
		return c.handlePlaceBid(ws, e)
	case *event.IncreaseBid:
		return c.handleIncreaseBid(ws, e)
	case *event.RevokeBid:
		return c.handleRevokeBid(ws, e)
	case *event.ExecuteBid:
		return c.handleExecuteBid(ws, e)
	case *event.LiquidateSolvent:
		return c.handleLiquidateSolvent(ws, e)
	case *event.UpdateReserveConfig:
		return c.handleUpdateReserveConfig(ws, e)
	case *event.UpdateMarketFlags:
		return c.handleUpdateMarketFlags(ws, e)
	default:
		return fmt.Errorf("unknown instruction type: %T", evt)
	}
}
