package math_test

import (
	"LendLedger/internal/math"
	"errors"
	"testing"
)

// ============================================================================
// Test: Number conversions
// ============================================================================

func TestAsUint64_Rounding(t *testing.T) {
	n := math.MustParse("12.5")

	cases := []struct {
		mode math.RoundingMode
		want uint64
	}{
		{math.RoundDown, 12},
		{math.RoundUp, 13},
		{math.RoundHalfEven, 12},
	}
	for _, c := range cases {
		got, err := n.AsUint64(0, c.mode)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", c.mode, err)
		}
		if got != c.want {
			t.Errorf("%s: got %d, want %d", c.mode, got, c.want)
		}
	}
}

func TestAsUint64_TargetExponent(t *testing.T) {
	// 1.234567 at 10^-6 is 1234567 base units
	n := math.FromDecimal(1234567, -6)
	got, err := n.AsUint64(-6, math.RoundDown)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1234567 {
		t.Errorf("got %d, want %d", got, 1234567)
	}

	// 1500 at 10^3 rounds up to 2
	got, _ = math.FromUint64(1500).AsUint64(3, math.RoundUp)
	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestAsUint64_Overflow(t *testing.T) {
	huge := math.MustParse("18446744073709551616") // 2^64
	if _, err := huge.AsUint64(0, math.RoundDown); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestFromBps(t *testing.T) {
	if got := math.FromBps(12500); !got.Equal(math.MustParse("1.25")) {
		t.Errorf("got %s, want 1.25", got)
	}
	if got := math.FromBps(500); !got.Equal(math.MustParse("0.05")) {
		t.Errorf("got %s, want 0.05", got)
	}
}

func TestParse_RejectsNegative(t *testing.T) {
	if _, err := math.Parse("-1"); err == nil {
		t.Error("expected error for negative value")
	}
}

// ============================================================================
// Test: Arithmetic
// ============================================================================

func TestDiv_TruncatesToPrecision(t *testing.T) {
	got := math.FromUint64(2).Div(math.FromUint64(3))
	want := math.MustParse("0.666666666666666")
	if !got.Equal(want) {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCheckedSub_Underflow(t *testing.T) {
	_, err := math.FromUint64(1).CheckedSub(math.FromUint64(2))
	if !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestCheckedDiv_ByZero(t *testing.T) {
	_, err := math.One.CheckedDiv(math.Zero)
	if !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestCheckedAdd_Overflow(t *testing.T) {
	top := math.One.SaturatingAdd(math.MustParse("1e60"))
	if _, err := top.CheckedAdd(math.One); !errors.Is(err, math.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestSaturatingSub_ClampsAtZero(t *testing.T) {
	got := math.FromUint64(3).SaturatingSub(math.FromUint64(5))
	if !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestMinMax(t *testing.T) {
	a, b := math.FromUint64(3), math.FromUint64(7)
	if got := math.Min(a, b); !got.Equal(a) {
		t.Errorf("Min: got %s, want %s", got, a)
	}
	if got := math.Max(a, b); !got.Equal(b) {
		t.Errorf("Max: got %s, want %s", got, b)
	}
}

func TestNumber_JSON(t *testing.T) {
	n := math.MustParse("1.25")
	data, err := n.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out math.Number
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(n) {
		t.Errorf("got %s, want %s", out, n)
	}
}
