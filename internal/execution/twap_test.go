package execution

import (
	"context"
	"testing"
	"time"

	"canarydesk/internal/market"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twapConfig() Config {
	cfg := DefaultConfig()
	cfg.SliceCeiling = 10
	cfg.TWAPSlices = 10
	cfg.IOCSlippageBps = 0
	return cfg
}

func TestTWAP_RoutesAboveCeilingAndAggregates(t *testing.T) {
	books := make([]market.Snapshot, 0, 10)
	for i := 0; i < 10; i++ {
		books = append(books, book(100+float64(i)*0.01, 2, 5, 0))
	}
	f := newFixture(t, twapConfig(), nil, cycle(0.5), books...)

	res, err := f.engine.Execute(context.Background(), Request{Symbol: "ETH/USDT", Side: SideBuy, Quantity: qty("1"), Style: StyleIOC})
	require.NoError(t, err)
	assert.Equal(t, StyleTWAP, res.Style)
	assert.Equal(t, StatusFilled, res.Status)
	assert.Equal(t, 10, res.Metrics.Slices)
	assert.True(t, res.FilledQty.Equal(qty("1")))

	notional := decimal.Zero
	for _, b := range books {
		notional = notional.Add(qty("0.1").Mul(decimal.NewFromFloat(b.Ask)))
	}
	assert.True(t, res.AvgPrice.Equal(notional.Round(8)), "avg=%s want=%s", res.AvgPrice, notional)

	require.Len(t, f.sleeps.sleeps, 9)
	for _, d := range f.sleeps.sleeps {
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.LessOrEqual(t, d, 8*time.Second)
	}
}

func TestTWAP_AbortsOnDrift(t *testing.T) {
	f := newFixture(t, twapConfig(), nil, cycle(0.5),
		book(100, 2, 5, 0), book(100.1, 2, 5, 0), book(100.2, 2, 5, 0), book(101, 2, 5, 0))

	res, err := f.engine.Execute(context.Background(), Request{Symbol: "ETH/USDT", Side: SideSell, Quantity: qty("1"), Style: StyleIOC})
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 3, res.Metrics.Slices)
	assert.True(t, res.FilledQty.Equal(qty("0.3")), res.FilledQty.String())
	assert.Contains(t, res.Reason, "drift")
}

func TestTWAP_SliceSnapshotsPassSpikeFilter(t *testing.T) {
	cfg := twapConfig()
	cfg.TWAPSlices = 3
	f := newFixture(t, cfg, nil, cycle(0.5),
		book(100, 2, 5, 0), book(130, 2, 5, 0), book(100, 2, 5, 0))
	warm := f.provider.base.Add(-30 * time.Second)
	for i := 0; i < cfg.SpikeMinSamples; i++ {
		f.engine.spikes.Observe("ETH/USDT", warm.Add(time.Duration(i)*time.Second), 99.9+0.2*float64(i%2))
	}

	res, err := f.engine.Execute(context.Background(), Request{Symbol: "ETH/USDT", Side: SideBuy, Quantity: qty("1"), Style: StyleIOC})
	require.NoError(t, err)
	assert.Equal(t, StyleTWAP, res.Style)
	assert.Equal(t, StatusFilled, res.Status, res.Reason)
	assert.Equal(t, 3, res.Metrics.Slices)
	assert.NotContains(t, res.Reason, "drift")
	assert.Equal(t, 4, f.provider.calls, "the spiked slice book is refetched once")
	assert.Len(t, f.sleeps.sleeps, 3)
}

func TestTWAP_CompletenessBound(t *testing.T) {
	tests := []struct {
		name   string
		depth  float64
		want   Status
		filled string
	}{
		{name: "96 percent is filled", depth: 0.096, want: StatusFilled, filled: "0.96"},
		{name: "95 percent is filled", depth: 0.095, want: StatusFilled, filled: "0.95"},
		{name: "90 percent is partial", depth: 0.09, want: StatusPartial, filled: "0.9"},
		{name: "nothing is failed", depth: 0, want: StatusFailed, filled: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, twapConfig(), nil, cycle(0.5), book(100, 2, tt.depth, 0))
			res, err := f.engine.Execute(context.Background(), Request{Symbol: "ETH/USDT", Side: SideBuy, Quantity: qty("1"), Style: StyleTWAP})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.True(t, res.FilledQty.Equal(qty(tt.filled)), res.FilledQty.String())
		})
	}
}

func TestTWAP_CancelKeepsFilledSlices(t *testing.T) {
	f := newFixture(t, twapConfig(), nil, cycle(0.5), book(100, 2, 5, 0))
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f.engine.sleepFn = func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return ctx.Err()
	}

	res, err := f.engine.Execute(ctx, Request{Symbol: "ETH/USDT", Side: SideBuy, Quantity: qty("1"), Style: StyleTWAP})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusPartial, res.Status)
	assert.True(t, res.FilledQty.Equal(qty("0.2")), res.FilledQty.String())
}

func TestSpikeFilter(t *testing.T) {
	f := NewSpikeFilter(time.Minute, 3, 5)
	base := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		f.Observe("btc/usdt", base.Add(time.Duration(i)*time.Second), 100+float64(i%2))
	}
	_, spike := f.Check("BTC/USDT", base.Add(10*time.Second), 100.5)
	assert.False(t, spike)
	z, spike := f.Check("BTC/USDT", base.Add(10*time.Second), 110)
	assert.True(t, spike)
	assert.Greater(t, z, 3.0)

	// Samples age out of the window.
	assert.Equal(t, 0, f.Samples("BTC/USDT", base.Add(2*time.Minute)))
	_, spike = f.Check("BTC/USDT", base.Add(2*time.Minute), 110)
	assert.False(t, spike)
}

func TestPriceRing_Wraps(t *testing.T) {
	r := newPriceRing(3)
	base := time.Unix(0, 0)
	for i := 0; i < 5; i++ {
		r.push(pricePoint{ts: base.Add(time.Duration(i) * time.Second), price: float64(i)}, base)
	}
	assert.Equal(t, []float64{2, 3, 4}, r.values(base))
	assert.Equal(t, []float64{4}, r.values(base.Add(4*time.Second)))
}
