package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"canarydesk/internal/canary"
	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/runner"
	"canarydesk/internal/store"
	"canarydesk/internal/store/sqlite"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecorder(t *testing.T) (*store.Recorder, *sqlite.SqliteStore) {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "canary.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return store.NewRecorder(st), st
}

func TestRecorder_SaveExecutionUpserts(t *testing.T) {
	ctx := context.Background()
	rec, st := newRecorder(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	record := execution.Record{
		Request: execution.Request{Symbol: "BTC/USDT", Side: execution.SideBuy, Quantity: decimal.NewFromInt(1), Tag: "momo:BTC/USDT"},
		Result: execution.Result{
			OrderID:      "ord-1",
			Symbol:       "BTC/USDT",
			Side:         execution.SideBuy,
			Style:        execution.StylePostOnly,
			Status:       execution.StatusPartial,
			RequestedQty: decimal.NewFromInt(1),
			FilledQty:    decimal.RequireFromString("0.4"),
			AvgPrice:     decimal.NewFromInt(100),
			Metrics:      execution.Metrics{SlippageBps: 1.5, FillRatio: 0.4, TimeToFill: 250 * time.Millisecond},
			SubmittedAt:  at,
			ResolvedAt:   at.Add(time.Second),
		},
	}
	require.NoError(t, rec.SaveExecution(ctx, record))

	record.Result.Status = execution.StatusFilled
	record.Result.FilledQty = decimal.NewFromInt(1)
	require.NoError(t, rec.SaveExecution(ctx, record))

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = uow.Rollback() }()
	rows, err := uow.Executions().ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "filled", rows[0].Status)
	assert.Equal(t, "1", rows[0].FilledQty)
	assert.Equal(t, int64(250), rows[0].TimeToFillMS)
	assert.Equal(t, "momo:BTC/USDT", rows[0].Tag)
}

func TestRecorder_SaveOrderByStrategy(t *testing.T) {
	ctx := context.Background()
	rec, st := newRecorder(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i, key := range []string{"a:BTC/USDT", "b:ETH/USDT", "a:BTC/USDT"} {
		o := ledger.Order{
			ID:          "o",
			Time:        base.Add(time.Duration(i) * time.Minute),
			Symbol:      "BTC/USDT",
			Side:        execution.SideSell,
			Quantity:    decimal.NewFromInt(int64(i + 1)),
			FilledPrice: decimal.NewFromInt(100),
			RealizedPnL: decimal.RequireFromString("-1.25"),
		}
		require.NoError(t, rec.SaveOrder(ctx, key, o))
	}

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = uow.Rollback() }()

	rows, err := uow.Orders().ListByStrategy(ctx, "a:BTC/USDT", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "3", rows[0].Quantity)
	assert.Equal(t, "-1.25", rows[0].RealizedPnL)

	all, err := uow.Orders().ListByStrategy(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecorder_ReportsRoundTripThroughPayload(t *testing.T) {
	ctx := context.Background()
	rec, _ := newRecorder(t)
	at := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	mk := func(id string, kind canary.ReportKind, offset time.Duration) canary.Report {
		return canary.Report{
			ID:   id,
			Kind: kind,
			At:   at.Add(offset),
			Status: canary.Status{
				SessionID:  "sess",
				Mode:       control.ModeCanary,
				CapitalPct: 15,
				Day:        3,
				Running:    true,
				TotalPnL:   decimal.RequireFromString("12.5"),
			},
			Recommendation: "All gates pass. Hold current capital.",
		}
	}
	require.NoError(t, rec.SaveReport(ctx, mk("r1", canary.KindMidday, 0)))
	require.NoError(t, rec.SaveReport(ctx, mk("r2", canary.KindEOD, time.Hour)))
	require.NoError(t, rec.SaveReport(ctx, mk("r3", canary.KindMidday, 2*time.Hour)))

	got, err := rec.RecentReports(ctx, string(canary.KindMidday), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "r3", got[0].ID)
	assert.Equal(t, 15.0, got[0].Status.CapitalPct)
	assert.True(t, got[0].Status.TotalPnL.Equal(decimal.RequireFromString("12.5")))

	all, err := rec.RecentReports(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRecorder_SaveReconciliation(t *testing.T) {
	ctx := context.Background()
	rec, st := newRecorder(t)
	rep := runner.Reconciliation{
		ID:            "rc-1",
		At:            time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Expected:      decimal.NewFromInt(30),
		Actual:        decimal.NewFromInt(27),
		Divergence:    decimal.NewFromInt(3),
		DivergencePct: 0.003,
		Threshold:     0.001,
		Flagged:       true,
	}
	require.NoError(t, rec.SaveReconciliation(ctx, rep))
	require.NoError(t, rec.SaveReconciliation(ctx, rep))

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = uow.Rollback() }()
	rows, err := uow.Reconciliations().ListRecent(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Flagged)
	assert.Equal(t, "3", rows[0].Divergence)
}

func TestRecorder_RequiresStore(t *testing.T) {
	var rec *store.Recorder
	assert.Error(t, rec.SaveOrder(context.Background(), "k", ledger.Order{}))
	_, err := sqlite.NewSqliteStore(" ")
	assert.Error(t, err)
}
