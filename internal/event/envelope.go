package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for instruction payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeExternalDeposit
	EventTypeInitObligation
	EventTypeInitLoanAccount
	EventTypeRefreshReserve
	EventTypeDepositTokens
	EventTypeWithdrawTokens
	EventTypeDepositNFT
	EventTypeWithdrawNFT
	EventTypeBorrow
	EventTypeRepay
	EventTypePlaceBid
	EventTypeIncreaseBid
	EventTypeRevokeBid
	EventTypeExecuteBid
	EventTypeLiquidateSolvent
	EventTypeCloseLoanAccount
	EventTypeUpdateReserveConfig
	EventTypeUpdateMarketFlags
)

var eventTypeNames = map[EventType]string{
	EventTypeExternalDeposit:  "external_deposit",
	EventTypeInitObligation:   "init_obligation",
	EventTypeInitLoanAccount:  "init_loan_account",
	EventTypeRefreshReserve:   "refresh_reserve",
	EventTypeDepositTokens:    "deposit_tokens",
	EventTypeWithdrawTokens:   "withdraw_tokens",
	EventTypeDepositNFT:       "deposit_nft",
	EventTypeWithdrawNFT:      "withdraw_nft",
	EventTypeBorrow:           "borrow",
	EventTypeRepay:            "repay",
	EventTypePlaceBid:         "place_bid",
	EventTypeIncreaseBid:      "increase_bid",
	EventTypeRevokeBid:        "revoke_bid",
	EventTypeExecuteBid:       "execute_bid",
	EventTypeLiquidateSolvent: "liquidate_solvent",

	EventTypeCloseLoanAccount:    "close_loan_account",
	EventTypeUpdateReserveConfig: "update_reserve_config",
	EventTypeUpdateMarketFlags:   "update_market_flags",
}

// String returns the wire name, also used in NATS subjects and HTTP routes.
func (et EventType) String() string {
	if n, ok := eventTypeNames[et]; ok {
		return n
	}
	return "unknown"
}

// ParseEventType maps a wire name back to its discriminator.
func ParseEventType(s string) (EventType, error) {
	for et, n := range eventTypeNames {
		if n == s {
			return et, nil
		}
	}
	return EventTypeUnknown, fmt.Errorf("unknown instruction type %q", s)
}

// EventEnvelope wraps every instruction in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (nil for wallet-level instructions)
	MarketID *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded instruction
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all instructions implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (nil for wallet-level instructions)
	MarketID() *string

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Meta returns the common instruction header
	Meta() *Header
}

// Header carries the fields every instruction shares.
type Header struct {
	RequestID string    `json:"request_id"`
	Signer    uuid.UUID `json:"signer"`
	Slot      uint64    `json:"slot"`
	Timestamp int64     `json:"timestamp"` // unix seconds
	Sequence  int64     `json:"source_sequence"`
}

func (h *Header) IdempotencyKey() string { return h.RequestID }
func (h *Header) SourceSequence() int64  { return h.Sequence }
func (h *Header) Meta() *Header          { return h }

// Time returns the instruction timestamp as a time.Time.
func (h *Header) Time() time.Time { return time.Unix(h.Timestamp, 0).UTC() }

// Validate checks the header fields the core relies on.
func (h *Header) Validate() error {
	if h.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if h.Signer == uuid.Nil {
		return fmt.Errorf("signer is required")
	}
	if h.Sequence < 0 {
		return fmt.Errorf("source_sequence must be >= 0, got %d", h.Sequence)
	}
	return nil
}

// New returns an empty instruction of the given type, ready for decoding.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeExternalDeposit:
		return &ExternalDeposit{}, nil
	case EventTypeInitObligation:
		return &InitObligation{}, nil
	case EventTypeInitLoanAccount:
		return &InitLoanAccount{}, nil
	case EventTypeRefreshReserve:
		return &RefreshReserve{}, nil
	case EventTypeDepositTokens:
		return &DepositTokens{}, nil
	case EventTypeWithdrawTokens:
		return &WithdrawTokens{}, nil
	case EventTypeDepositNFT:
		return &DepositNFT{}, nil
	case EventTypeWithdrawNFT:
		return &WithdrawNFT{}, nil
	case EventTypeBorrow:
		return &Borrow{}, nil
	case EventTypeRepay:
		return &Repay{}, nil
	case EventTypePlaceBid:
		return &PlaceBid{}, nil
	case EventTypeIncreaseBid:
		return &IncreaseBid{}, nil
	case EventTypeRevokeBid:
		return &RevokeBid{}, nil
	case EventTypeExecuteBid:
		return &ExecuteBid{}, nil
	case EventTypeLiquidateSolvent:
		return &LiquidateSolvent{}, nil
	case EventTypeCloseLoanAccount:
		return &CloseLoanAccount{}, nil
	case EventTypeUpdateReserveConfig:
		return &UpdateReserveConfig{}, nil
	case EventTypeUpdateMarketFlags:
		return &UpdateMarketFlags{}, nil
	default:
		return nil, fmt.Errorf("unknown instruction type %d", et)
	}
}

// Decode unmarshals a JSON payload into a typed instruction.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}

// Encode marshals an instruction into the payload stored in the event log.
func Encode(evt Event) ([]byte, error) {
	return json.Marshal(evt)
}

func marketRef(m string) *string {
	return &m
}
