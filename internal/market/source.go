package market

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by providers when a snapshot cannot be produced.
var ErrUnavailable = errors.New("market data unavailable")

// Snapshot is a top-of-book view with a volatility estimate. Depth is the
// base quantity resting at the touch; Volatility is the standard deviation
// of recent mid returns as a fraction (0.002 == 20 bps).
type Snapshot struct {
	Symbol     string    `json:"symbol"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Mid        float64   `json:"mid"`
	SpreadBps  float64   `json:"spread_bps"`
	BidDepth   float64   `json:"bid_depth"`
	AskDepth   float64   `json:"ask_depth"`
	Volatility float64   `json:"volatility"`
	Timestamp  time.Time `json:"timestamp"`
}

// Valid reports whether the snapshot is usable for pricing.
func (s Snapshot) Valid() bool {
	return s.Bid > 0 && s.Ask > 0 && s.Ask >= s.Bid && s.Mid > 0
}

// Provider is the external market data collaborator.
type Provider interface {
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
}

// HistorySource returns closed candles, oldest first.
type HistorySource interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

// NewSnapshot fills Mid and SpreadBps from bid/ask.
func NewSnapshot(symbol string, bid, ask, bidDepth, askDepth, vol float64, ts time.Time) Snapshot {
	mid := (bid + ask) / 2
	spread := 0.0
	if mid > 0 {
		spread = (ask - bid) / mid * 10_000
	}
	return Snapshot{
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Mid:        mid,
		SpreadBps:  spread,
		BidDepth:   bidDepth,
		AskDepth:   askDepth,
		Volatility: vol,
		Timestamp:  ts,
	}
}
