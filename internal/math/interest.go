// internal/math/interest.go
package math

// SecondsPerYear is the compounding period used for annual borrow rates.
const SecondsPerYear uint64 = 365 * 24 * 60 * 60

// taylorTerms bounds the series used by CompoundInterest.
const taylorTerms = 6

// RateCurve is a piecewise-linear borrow-rate curve over utilization with
// knots at (0, Rate0), (Utilization1, Rate1), (Utilization2, Rate2), (1, Rate3).
type RateCurve struct {
	Utilization1 Number
	Utilization2 Number
	Rate0        Number
	Rate1        Number
	Rate2        Number
	Rate3        Number
}

// NewRateCurveFromBps builds a curve from basis-point knots.
func NewRateCurveFromBps(util1, util2, r0, r1, r2, r3 uint64) RateCurve {
	return RateCurve{
		Utilization1: FromBps(util1),
		Utilization2: FromBps(util2),
		Rate0:        FromBps(r0),
		Rate1:        FromBps(r1),
		Rate2:        FromBps(r2),
		Rate3:        FromBps(r3),
	}
}

// Utilization returns debt / (debt + vault), or zero for an empty pool.
func Utilization(debt, vault Number) Number {
	total := debt.Add(vault)
	if total.IsZero() {
		return Zero
	}
	return debt.Div(total)
}

// BorrowRate evaluates the curve at the given utilization.
func (c RateCurve) BorrowRate(util Number) Number {
	switch {
	case util.LessThan(c.Utilization1):
		return interpolate(util, Zero, c.Utilization1, c.Rate0, c.Rate1)
	case util.LessThan(c.Utilization2):
		return interpolate(util, c.Utilization1, c.Utilization2, c.Rate1, c.Rate2)
	case util.LessThan(One):
		return interpolate(util, c.Utilization2, One, c.Rate2, c.Rate3)
	default:
		return c.Rate3
	}
}

// interpolate returns the value at x on the segment (x0, y0)-(x1, y1).
// Number is unsigned, so descending segments are walked from y0 down.
func interpolate(x, x0, x1, y0, y1 Number) Number {
	span := x1.SaturatingSub(x0)
	if span.IsZero() {
		return y0
	}
	frac := x.SaturatingSub(x0).Div(span)
	if y1.GreaterOrEqual(y0) {
		return y0.Add(y1.SaturatingSub(y0).Mul(frac))
	}
	return y0.SaturatingSub(y0.SaturatingSub(y1).Mul(frac))
}

// CompoundInterest returns e^(rate*seconds/SecondsPerYear) - 1, the growth
// factor of a balance over the interval.
func CompoundInterest(rate Number, seconds uint64) Number {
	if seconds == 0 || rate.IsZero() {
		return Zero
	}
	x := rate.Mul(FromUint64(seconds)).Div(FromUint64(SecondsPerYear))

	sum := Zero
	term := One
	for k := uint64(1); k <= taylorTerms; k++ {
		term = term.Mul(x).Div(FromUint64(k))
		if term.IsZero() {
			break
		}
		sum = sum.Add(term)
	}
	return sum
}
