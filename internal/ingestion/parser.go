package ingestion

import (
	"LendLedger/internal/event"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformed marks instructions that can never be applied. They are
// acknowledged and dropped rather than redelivered.
var ErrMalformed = errors.New("malformed instruction")

// ResolveEventType maps a subject of the form lend.<group>.<instruction>[.…]
// to its instruction type.
func ResolveEventType(subject string) (event.EventType, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 3 || parts[0] != "lend" {
		return event.EventTypeUnknown, fmt.Errorf("subject %q: %w", subject, ErrMalformed)
	}
	et, err := event.ParseEventType(parts[2])
	if err != nil {
		return event.EventTypeUnknown, fmt.Errorf("subject %q: %w", subject, errors.Join(ErrMalformed, err))
	}
	return et, nil
}

// ParseRawEvent decodes a NATS message into a typed instruction.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	et, err := ResolveEventType(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseInstruction(et, raw.Data)
}

// ParseInstruction strictly decodes a JSON instruction body and checks its
// structure. Unknown fields are rejected so misspelled keys fail loudly
// instead of decoding to zero values.
func ParseInstruction(et event.EventType, data []byte) (event.Event, error) {
	evt, err := event.New(et)
	if err != nil {
		return nil, errors.Join(ErrMalformed, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, errors.Join(ErrMalformed, err))
	}
	if dec.More() {
		return nil, fmt.Errorf("parse %s: trailing data: %w", et, ErrMalformed)
	}

	if err := validate(evt); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, errors.Join(ErrMalformed, err))
	}
	return evt, nil
}

// validate checks what can be known without core state.
func validate(evt event.Event) error {
	if err := evt.Meta().Validate(); err != nil {
		return err
	}
	if m := evt.MarketID(); m != nil && *m == "" {
		return errors.New("market is required")
	}

	switch e := evt.(type) {
	case *event.ExternalDeposit:
		if e.Owner == uuid.Nil {
			return errors.New("owner is required")
		}
		if e.Mint == "" {
			return errors.New("mint is required")
		}
		if e.Amount == 0 {
			return errors.New("amount must be positive")
		}
	case *event.InitObligation:
		if e.Owner == uuid.Nil {
			return errors.New("owner is required")
		}
	case *event.DepositTokens:
		if e.Amount.Value == 0 {
			return errors.New("amount must be positive")
		}
	case *event.WithdrawTokens:
		if e.Amount.Value == 0 {
			return errors.New("amount must be positive")
		}
	case *event.DepositNFT:
		if e.Obligation == uuid.Nil || e.NFTMint == "" {
			return errors.New("obligation and nft_mint are required")
		}
	case *event.WithdrawNFT:
		if e.Obligation == uuid.Nil || e.NFTMint == "" {
			return errors.New("obligation and nft_mint are required")
		}
	case *event.Borrow:
		if e.Obligation == uuid.Nil {
			return errors.New("obligation is required")
		}
		if e.Amount.Value == 0 {
			return errors.New("amount must be positive")
		}
	case *event.Repay:
		if e.Obligation == uuid.Nil {
			return errors.New("obligation is required")
		}
		if e.Amount.Value == 0 {
			return errors.New("amount must be positive")
		}
	case *event.PlaceBid:
		if e.BidMint == "" {
			return errors.New("bid_mint is required")
		}
		if e.BidLimit == 0 {
			return errors.New("bid_limit must be positive")
		}
	case *event.IncreaseBid:
		if e.Delta == 0 {
			return errors.New("delta must be positive")
		}
	case *event.ExecuteBid:
		if e.Bidder == uuid.Nil || e.Obligation == uuid.Nil || e.NFTMint == "" {
			return errors.New("bidder, obligation and nft_mint are required")
		}
	case *event.LiquidateSolvent:
		if e.Obligation == uuid.Nil {
			return errors.New("obligation is required")
		}
	}
	return nil
}
