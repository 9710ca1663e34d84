package signal

import (
	"context"
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"
)

// EMACross goes with the sign of EMA(fast)-EMA(slow) over the prices it has
// been fed. Strength is the gap relative to price, saturating at ScaleBps;
// confidence is the share of the last Slow bars agreeing with the current sign.
type EMACross struct {
	fast, slow int
	history    int
	scaleBps   float64

	mu     sync.Mutex
	prices []float64
}

func NewEMACross(fast, slow, history int, scaleBps float64) (*EMACross, error) {
	if fast <= 0 {
		fast = 12
	}
	if slow <= 0 {
		slow = 26
	}
	if fast >= slow {
		return nil, fmt.Errorf("ema fast period %d must be below slow period %d", fast, slow)
	}
	if history < slow*3 {
		history = slow * 3
	}
	if scaleBps <= 0 {
		scaleBps = 20
	}
	return &EMACross{fast: fast, slow: slow, history: history, scaleBps: scaleBps}, nil
}

func (e *EMACross) Signal(_ context.Context, _ string, price float64) (Signal, bool, error) {
	if price <= 0 {
		return Signal{}, false, fmt.Errorf("price must be positive, got %v", price)
	}
	e.mu.Lock()
	e.prices = append(e.prices, price)
	if over := len(e.prices) - e.history; over > 0 {
		e.prices = append(e.prices[:0], e.prices[over:]...)
	}
	closes := append([]float64(nil), e.prices...)
	e.mu.Unlock()

	if len(closes) < e.slow+1 {
		return Signal{}, false, nil
	}
	fastArr := talib.Ema(closes, e.fast)
	slowArr := talib.Ema(closes, e.slow)
	last := len(closes) - 1
	gap := fastArr[last] - slowArr[last]
	if gap == 0 {
		return Signal{}, true, nil
	}
	dir := 1
	if gap < 0 {
		dir = -1
	}
	agree, seen := 0, 0
	for i := last; i >= e.slow-1 && seen < e.slow; i-- {
		seen++
		if (fastArr[i]-slowArr[i])*float64(dir) > 0 {
			agree++
		}
	}
	gapBps := gap / price * 10_000
	if gapBps < 0 {
		gapBps = -gapBps
	}
	return Signal{
		Direction:  dir,
		Strength:   clamp01(gapBps / e.scaleBps),
		Confidence: float64(agree) / float64(seen),
	}, true, nil
}
