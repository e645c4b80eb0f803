package state_test

import (
	"LendLedger/internal/state"
	"errors"
	"testing"
)

// ============================================================================
// Test: Cache
// ============================================================================

func TestCache_NewIsStale(t *testing.T) {
	c := state.NewCache[int]()
	if _, err := c.TryGet(0); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
}

func TestCache_RefreshAndRequiredPoint(t *testing.T) {
	c := state.NewCache[int]()
	c.RefreshTo(10, 42)

	v, err := c.TryGet(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("got %d, want 42", v)
	}
	if _, err := c.TryGet(5); err != nil {
		t.Errorf("older requirement: unexpected error %v", err)
	}
	if _, err := c.TryGet(11); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("newer requirement: got %v, want ErrStaleData", err)
	}
}

func TestCache_InvalidateKeepsLastKnown(t *testing.T) {
	c := state.NewCache[int]()
	c.RefreshTo(10, 42)
	c.Invalidate()

	if c.IsFresh() {
		t.Error("cache should be stale after Invalidate")
	}
	if _, err := c.TryGet(10); !errors.Is(err, state.ErrStaleData) {
		t.Errorf("got %v, want ErrStaleData", err)
	}
	v, at := c.LastKnown()
	if v != 42 || at != 10 {
		t.Errorf("got (%d, %d), want (42, 10)", v, at)
	}
}

func TestCache_ExpectPanicsWhenStale(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	c := state.NewCache[int]()
	c.Expect(1, "read before refresh")
}

func TestCache_JSON(t *testing.T) {
	c := state.NewCache[int]()
	c.RefreshTo(7, 3)

	data, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out state.Cache[int]
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, err := out.TryGet(7); err != nil || v != 3 {
		t.Errorf("got (%d, %v), want (3, nil)", v, err)
	}
}
