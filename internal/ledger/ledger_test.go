package ledger

import (
	"testing"
	"time"

	"canarydesk/internal/execution"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newLedger(initial string) *Ledger {
	return New("ema", "BTC/USDT", d(initial), fixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}

// conserved checks balance + Σ cost + Σ entry fees == initial + realized.
func conserved(t *testing.T, l *Ledger) {
	t.Helper()
	st := l.Snapshot()
	lhs := st.Balance
	for _, p := range st.Positions {
		lhs = lhs.Add(p.Cost).Add(p.EntryFees)
	}
	assert.True(t, lhs.Equal(st.Initial.Add(st.Realized)), "lhs=%s rhs=%s", lhs, st.Initial.Add(st.Realized))
	assert.False(t, st.Balance.IsNegative())
}

func TestApplyFill_SizingScenario(t *testing.T) {
	l := newLedger("10000")
	fee := d("0.02").Mul(d("50010")).Mul(d("0.0002"))

	_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("0.02"), Price: d("50010"), Fee: fee})
	require.NoError(t, err)

	pos, ok := l.Position("BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, Long, pos.Side)
	assert.True(t, pos.Quantity.Equal(d("0.02")))
	assert.True(t, pos.EntryPrice().Equal(d("50010")))
	assert.True(t, l.Balance().Equal(d("10000").Sub(d("1000.2")).Sub(fee)), l.Balance().String())
	conserved(t, l)
}

func TestApplyFill_WeightedAverageAndRealized(t *testing.T) {
	l := newLedger("10000")
	_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("1"), Price: d("100"), Fee: d("0.1")})
	require.NoError(t, err)
	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("1"), Price: d("110"), Fee: d("0.1")})
	require.NoError(t, err)

	pos, _ := l.Position("BTC/USDT")
	assert.True(t, pos.EntryPrice().Equal(d("105")))
	conserved(t, l)

	order, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("1"), Price: d("120"), Fee: d("0.12")})
	require.NoError(t, err)
	// gross 15, exit fee 0.12, half of entry fees 0.1
	assert.True(t, order.RealizedPnL.Equal(d("14.78")), order.RealizedPnL.String())
	conserved(t, l)

	order, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("1"), Price: d("90"), Fee: d("0.09")})
	require.NoError(t, err)
	assert.True(t, order.RealizedPnL.Equal(d("-15.19")), order.RealizedPnL.String())
	_, open := l.Position("BTC/USDT")
	assert.False(t, open)
	conserved(t, l)

	st := l.Snapshot()
	assert.Equal(t, 4, st.Trades)
	assert.Equal(t, 1, st.Wins)
	assert.Equal(t, 1, st.Losses)
	assert.Equal(t, 0.5, st.WinRate)
	assert.True(t, st.FeesPaid.Equal(d("0.41")))
	assert.True(t, st.Balance.Equal(d("10000").Add(d("14.78")).Add(d("-15.19"))))
	assert.Len(t, l.Orders(), 4)
}

func TestApplyFill_ShortRoundTrip(t *testing.T) {
	l := newLedger("1000")
	_, err := l.ApplyFill(Fill{Symbol: "ETH/USDT", Side: execution.SideSell, Quantity: d("2"), Price: d("100"), Fee: d("0.2")})
	require.NoError(t, err)
	assert.True(t, l.Balance().Equal(d("799.8")))

	l.MarkPrice("ETH/USDT", d("95"))
	st := l.Snapshot()
	assert.True(t, st.Unrealized.Equal(d("10")), st.Unrealized.String())
	assert.True(t, st.Equity.Equal(d("1009.8")), st.Equity.String())

	order, err := l.ApplyFill(Fill{Symbol: "ETH/USDT", Side: execution.SideBuy, Quantity: d("2"), Price: d("95"), Fee: d("0.19")})
	require.NoError(t, err)
	assert.True(t, order.RealizedPnL.Equal(d("9.61")), order.RealizedPnL.String())
	assert.True(t, l.Balance().Equal(d("1009.61")))
	conserved(t, l)
}

func TestApplyFill_Rejections(t *testing.T) {
	l := newLedger("100")

	_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("1"), Price: d("100"), Fee: d("0.01")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.True(t, l.Balance().Equal(d("100")), "rejected fill must not touch the balance")
	assert.Empty(t, l.Orders())

	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("0.5"), Price: d("100"), Fee: d("0.01")})
	require.NoError(t, err)
	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("0.6"), Price: d("100"), Fee: d("0.01")})
	assert.ErrorIs(t, err, ErrPositionFlip)

	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("0"), Price: d("100")})
	assert.ErrorIs(t, err, ErrInvalidFill)
	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("0.1"), Price: d("100"), Fee: d("-1")})
	assert.ErrorIs(t, err, ErrInvalidFill)
	conserved(t, l)
}

func TestApplyFill_ShortLossBeyondBalanceRejected(t *testing.T) {
	l := newLedger("100")
	_, err := l.ApplyFill(Fill{Symbol: "ETH/USDT", Side: execution.SideSell, Quantity: d("1"), Price: d("100")})
	require.NoError(t, err)
	_, err = l.ApplyFill(Fill{Symbol: "ETH/USDT", Side: execution.SideBuy, Quantity: d("1"), Price: d("201")})
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	conserved(t, l)
}

func TestConservationOverRandomisedSequence(t *testing.T) {
	l := newLedger("5000")
	prices := []string{"100", "101.5", "99.25", "102", "98.75", "100.1"}
	for i, p := range prices {
		px := d(p)
		fee := d("0.1").Mul(px).Mul(d("0.0005"))
		side := execution.SideBuy
		if i%3 == 2 {
			side = execution.SideSell
		}
		_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: side, Quantity: d("0.1"), Price: px, Fee: fee})
		require.NoError(t, err)
		conserved(t, l)
	}
}

func TestCanAfford(t *testing.T) {
	l := newLedger("1000")
	assert.True(t, l.CanAfford(d("9.99"), d("100"), d("0.001")))
	assert.False(t, l.CanAfford(d("10"), d("100"), d("0.001")))
}

func TestCanClose_MatchesApplyFill(t *testing.T) {
	l := newLedger("1000")
	_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideSell, Quantity: d("10"), Price: d("100")})
	require.NoError(t, err)
	require.True(t, l.Balance().IsZero())

	assert.True(t, l.CanClose("BTC/USDT", d("10"), d("200"), decimal.Zero))
	assert.False(t, l.CanClose("BTC/USDT", d("10"), d("200.01"), decimal.Zero))
	assert.True(t, l.CanClose("BTC/USDT", d("10"), d("199"), d("0.001")))
	assert.False(t, l.CanClose("BTC/USDT", d("10"), d("200"), d("0.001")))
	assert.False(t, l.CanClose("BTC/USDT", d("5"), d("300"), decimal.Zero))
	assert.False(t, l.CanClose("BTC/USDT", d("11"), d("100"), decimal.Zero))
	assert.False(t, l.CanClose("ETH/USDT", d("1"), d("100"), decimal.Zero))

	_, err = l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("10"), Price: d("199"), Fee: d("1.99")})
	require.NoError(t, err)
	assert.Equal(t, "8.01", l.Balance().String())
	conserved(t, l)
}

func TestKFactorRefreshAndDowngrade(t *testing.T) {
	l := newLedger("1000")
	assert.Equal(t, 0.25, l.RefreshK(0.25))
	assert.Equal(t, 0.125, l.Downgrade())
	assert.Equal(t, 0.5, l.RefreshK(1.0))
	assert.Equal(t, MaxK, l.RefreshK(5))
	for i := 0; i < 10; i++ {
		l.Downgrade()
	}
	assert.Equal(t, MinK, l.K())
}

func TestStopIsSticky(t *testing.T) {
	l := newLedger("1000")
	assert.True(t, l.Stop("gates"))
	assert.False(t, l.Stop("again"))
	st := l.Snapshot()
	assert.False(t, st.Running)
	assert.Equal(t, "gates", st.StopReason)
}

func TestMarkPriceDrawdownAndDailyRollover(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	l := New("ema", "BTC/USDT", d("1000"), func() time.Time { return now })
	_, err := l.ApplyFill(Fill{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: d("5"), Price: d("100")})
	require.NoError(t, err)

	l.MarkPrice("BTC/USDT", d("120"))
	l.MarkPrice("BTC/USDT", d("90"))
	st := l.Snapshot()
	assert.True(t, st.Equity.Equal(d("950")))
	assert.InDelta(t, 150.0/1100.0, st.MaxDrawdown, 1e-12)
	assert.True(t, st.DailyPnL.Equal(d("-50")))

	now = now.Add(2 * time.Hour)
	l.MarkPrice("BTC/USDT", d("92"))
	st = l.Snapshot()
	assert.True(t, st.DailyPnL.Equal(d("10")), st.DailyPnL.String())
	assert.True(t, st.TotalPnL.Equal(d("-40")))
}

func TestRecordExecutionStats(t *testing.T) {
	l := newLedger("1000")
	l.RecordExecution(execution.Result{Status: execution.StatusFilled, FilledQty: d("1"), Metrics: execution.Metrics{SlippageBps: 3}})
	l.RecordExecution(execution.Result{Status: execution.StatusTimeout})
	l.RecordError()
	st := l.Snapshot()
	assert.Equal(t, 3, st.Attempts)
	assert.Equal(t, 2, st.ExecErrors)
	assert.InDelta(t, 2.0/3.0, st.ErrorRate, 1e-12)
	assert.Equal(t, 3.0, st.P95SlippageBps)
}
