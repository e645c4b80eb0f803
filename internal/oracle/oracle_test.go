package oracle

import (
	"context"
	"errors"
	"testing"

	"LendLedger/internal/event"
)

func TestParsePrice(t *testing.T) {
	p, err := parsePrice("SOL", map[string]string{"mantissa": "12345", "scale": "2"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Mantissa != 12345 || p.Scale != 2 {
		t.Errorf("got %+v, want 12345e-2", p)
	}
}

func TestParsePrice_DefaultScale(t *testing.T) {
	p, err := parsePrice("SOL", map[string]string{"mantissa": "7"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Scale != 0 {
		t.Errorf("got scale %d, want 0", p.Scale)
	}
}

func TestParsePrice_Errors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		want   error
	}{
		{"missing", map[string]string{}, ErrNoPrice},
		{"bad mantissa", map[string]string{"mantissa": "x"}, ErrBadPrice},
		{"bad scale", map[string]string{"mantissa": "1", "scale": "-1"}, ErrBadPrice},
		{"scale out of range", map[string]string{"mantissa": "1", "scale": "4294967295"}, ErrBadPrice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePrice("SOL", tt.fields)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParsePrice_NegativeMantissaPassesThrough(t *testing.T) {
	// Rejecting negative prices is the ledger's job.
	p, err := parsePrice("SOL", map[string]string{"mantissa": "-5"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Mantissa != -5 {
		t.Errorf("got %d, want -5", p.Mantissa)
	}
}

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	s := NewStaticSource()

	if _, err := s.Price(ctx, "SOL"); !errors.Is(err, ErrNoPrice) {
		t.Errorf("got %v, want ErrNoPrice", err)
	}
	if _, err := s.Creator(ctx, "nft-1"); !errors.Is(err, ErrNoMetadata) {
		t.Errorf("got %v, want ErrNoMetadata", err)
	}

	s.SetPrice("SOL", event.OraclePrice{Mantissa: 100, Scale: 1})
	s.SetCreator("nft-1", "creator-1")

	p, err := s.Price(ctx, "SOL")
	if err != nil || p.Mantissa != 100 {
		t.Errorf("got %+v, %v", p, err)
	}
	c, err := s.Creator(ctx, "nft-1")
	if err != nil || c != "creator-1" {
		t.Errorf("got %q, %v, want creator-1", c, err)
	}
}
