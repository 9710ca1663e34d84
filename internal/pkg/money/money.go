// Package money holds the decimal helpers shared by the ledger and the
// execution engine. Balances, quantities and prices never round-trip through
// float64 except at the edges (market data in, metrics out).
package money

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantityPlaces is the precision quantities are truncated to.
const QuantityPlaces = 8

var (
	One   = decimal.NewFromInt(1)
	Zero  = decimal.Zero
	bpsK  = decimal.NewFromInt(10_000)
	Eps   = decimal.NewFromFloat(1e-12)
	hundo = decimal.NewFromInt(100)
)

func FromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return Zero
	}
	return decimal.NewFromFloat(val)
}

func ToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// FromBps converts basis points to a fraction (12.5 -> 0.00125).
func FromBps(bps float64) decimal.Decimal {
	return FromFloat(bps).Div(bpsK)
}

// Bps returns (a-b)/b in basis points; zero when b is zero.
func Bps(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	return ToFloat(a.Sub(b).Div(b).Mul(bpsK))
}

// Pct converts a percentage (5 means 5%) to a fraction.
func Pct(p float64) decimal.Decimal {
	return FromFloat(p).Div(hundo)
}

// TruncQty truncates a quantity down to QuantityPlaces.
func TruncQty(q decimal.Decimal) decimal.Decimal {
	return q.Truncate(QuantityPlaces)
}

// AdjustPrice moves price by bps in the direction given by sign (+1 up, -1 down).
func AdjustPrice(price decimal.Decimal, bps float64, sign int) decimal.Decimal {
	factor := One.Add(FromBps(bps).Mul(decimal.NewFromInt(int64(sign))))
	return price.Mul(factor)
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
