// Package signal defines the strategy-facing signal contract and the
// reference sources shipped with the runner.
package signal

import (
	"context"
	"fmt"
	"strings"
)

// Signal is a directional view: Direction in {-1, 0, 1}, Strength and
// Confidence in [0, 1].
type Signal struct {
	Direction  int     `json:"direction"`
	Strength   float64 `json:"strength"`
	Confidence float64 `json:"confidence"`
}

// Source produces signals for one strategy. ok is false when the source has
// no opinion yet (e.g. warming up).
type Source interface {
	Signal(ctx context.Context, symbol string, price float64) (sig Signal, ok bool, err error)
}

type Func func(ctx context.Context, symbol string, price float64) (Signal, bool, error)

func (f Func) Signal(ctx context.Context, symbol string, price float64) (Signal, bool, error) {
	return f(ctx, symbol, price)
}

// Static always returns the same signal.
type Static Signal

func (s Static) Signal(context.Context, string, float64) (Signal, bool, error) {
	return Signal(s), true, nil
}

type Params struct {
	Fast       int
	Slow       int
	History    int
	ScaleBps   float64
	Direction  int
	Strength   float64
	Confidence float64
}

// Factory builds a fresh, stateless-at-start source; replay uses it to
// avoid sharing history with the live source.
type Factory func() (Source, error)

// NewFactory resolves a strategy kind to a source constructor.
func NewFactory(kind string, p Params) (Factory, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "ema_cross":
		if _, err := NewEMACross(p.Fast, p.Slow, p.History, p.ScaleBps); err != nil {
			return nil, err
		}
		return func() (Source, error) { return NewEMACross(p.Fast, p.Slow, p.History, p.ScaleBps) }, nil
	case "static":
		if p.Direction < -1 || p.Direction > 1 {
			return nil, fmt.Errorf("static signal direction must be -1, 0 or 1, got %d", p.Direction)
		}
		s := Static{Direction: p.Direction, Strength: clamp01(p.Strength), Confidence: clamp01(p.Confidence)}
		return func() (Source, error) { return s, nil }, nil
	default:
		return nil, fmt.Errorf("unknown signal kind %q", kind)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
