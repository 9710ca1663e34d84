package runner

import (
	"context"
	"fmt"
	"time"

	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/signal"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StrategyReplay struct {
	Key      string          `json:"key"`
	Bars     int             `json:"bars"`
	Trades   int             `json:"trades"`
	Expected decimal.Decimal `json:"expected"`
	Actual   decimal.Decimal `json:"actual"`
}

// Reconciliation compares replayed P&L with what the ledgers booked over
// the same window. It is diagnostic only.
type Reconciliation struct {
	ID            string           `json:"id"`
	At            time.Time        `json:"at"`
	Expected      decimal.Decimal  `json:"expected"`
	Actual        decimal.Decimal  `json:"actual"`
	Divergence    decimal.Decimal  `json:"divergence"`
	DivergencePct float64          `json:"divergence_pct"`
	Threshold     float64          `json:"threshold"`
	Flagged       bool             `json:"flagged"`
	Strategies    []StrategyReplay `json:"strategies"`
}

type sourceHistory struct {
	src      market.HistorySource
	interval string
	limit    int
}

// HistoryFromSource adapts a kline source to PriceHistory.
func HistoryFromSource(src market.HistorySource, interval string, limit int) PriceHistory {
	return sourceHistory{src: src, interval: interval, limit: limit}
}

func (h sourceHistory) Since(ctx context.Context, symbol string, since time.Time) ([]market.Candle, error) {
	candles, err := h.src.FetchHistory(ctx, symbol, h.interval, h.limit)
	if err != nil {
		return nil, err
	}
	cutoff := since.UnixMilli()
	out := candles[:0]
	for _, c := range candles {
		if c.CloseTime >= cutoff {
			out = append(out, c)
		}
	}
	return out, nil
}

// Reconcile replays each task's prices since its last checkpoint through a
// fresh signal source with the live sizing rules (no fees, fills at close)
// and compares the result with the ledger's P&L change.
func (r *Runner) Reconcile(ctx context.Context) (Reconciliation, error) {
	if r.deps.History == nil {
		return Reconciliation{}, fmt.Errorf("no price history configured")
	}
	r.reconMu.Lock()
	defer r.reconMu.Unlock()

	now := r.deps.Now()
	rep := Reconciliation{
		ID:        uuid.NewString(),
		At:        now,
		Expected:  decimal.Zero,
		Actual:    decimal.Zero,
		Threshold: r.cfg.Replay.MaxDivergencePct,
	}
	capital := decimal.Zero
	for _, t := range r.tasks {
		candles, err := r.deps.History.Since(ctx, t.symbol, t.checkpointAt)
		if err != nil {
			return rep, fmt.Errorf("history %s: %w", t.symbol, err)
		}
		st := t.ledger.Snapshot()
		start := st.Initial.Add(t.checkpointPnL)
		expected, trades, err := replayCandles(ctx, r.cfg, t.factory, t.symbol, start, st.KFactor, candles)
		if err != nil {
			return rep, fmt.Errorf("replay %s: %w", t.key, err)
		}
		actual := st.TotalPnL.Sub(t.checkpointPnL)
		t.checkpointAt, t.checkpointPnL = now, st.TotalPnL

		capital = capital.Add(st.Initial)
		rep.Expected = rep.Expected.Add(expected)
		rep.Actual = rep.Actual.Add(actual)
		rep.Strategies = append(rep.Strategies, StrategyReplay{
			Key: t.key, Bars: len(candles), Trades: trades, Expected: expected, Actual: actual,
		})
	}
	rep.Divergence = rep.Expected.Sub(rep.Actual).Abs()
	if capital.IsPositive() {
		rep.DivergencePct = money.ToFloat(rep.Divergence.Div(capital))
	}
	rep.Flagged = rep.DivergencePct > rep.Threshold
	r.metrics.divergence.Set(rep.DivergencePct)

	if rep.Flagged {
		logger.Warnf("Runner: reconciliation divergence expected=%s actual=%s divergence=%.4f%% threshold=%.4f%%",
			rep.Expected.StringFixed(2), rep.Actual.StringFixed(2), rep.DivergencePct*100, rep.Threshold*100)
	} else {
		logger.Infof("Runner: reconciliation ok expected=%s actual=%s divergence=%.4f%%",
			rep.Expected.StringFixed(2), rep.Actual.StringFixed(2), rep.DivergencePct*100)
	}
	r.reports = append(r.reports, rep)
	if over := len(r.reports) - r.cfg.Replay.Keep; over > 0 {
		r.reports = append(r.reports[:0], r.reports[over:]...)
	}
	if r.deps.Sink != nil {
		if err := r.deps.Sink.SaveReconciliation(context.WithoutCancel(ctx), rep); err != nil {
			logger.Warnf("Runner: persist reconciliation failed err=%v", err)
		}
	}
	return rep, nil
}

// Reconciliations returns the retained reports, oldest first.
func (r *Runner) Reconciliations() []Reconciliation {
	r.reconMu.Lock()
	defer r.reconMu.Unlock()
	return append([]Reconciliation(nil), r.reports...)
}

func replayCandles(ctx context.Context, cfg Config, factory signal.Factory, sym string, start decimal.Decimal, k float64, candles []market.Candle) (decimal.Decimal, int, error) {
	src, err := factory()
	if err != nil {
		return decimal.Zero, 0, err
	}
	at := time.Unix(0, 0)
	sim := ledger.New("replay", sym, start, func() time.Time { return at })
	trades := 0
	book := func(side execution.Side, qty, px decimal.Decimal) {
		if _, err := sim.ApplyFill(ledger.Fill{Symbol: sym, Side: side, Quantity: qty, Price: px}); err == nil {
			trades++
		}
	}
	for _, c := range candles {
		if c.Close <= 0 {
			continue
		}
		px := money.FromFloat(c.Close)
		sim.MarkPrice(sym, px)
		sig, ok, err := src.Signal(ctx, sym, c.Close)
		if err == nil && ok {
			var pos *ledger.Position
			if p, open := sim.Position(sym); open {
				pos = &p
			}
			a := decide(cfg, pos, sig, sizingInput{balance: sim.Balance(), k: k, price: px})
			if a.kind != actionNone {
				book(a.side, a.qty, px)
			}
		}
		if p, open := sim.Position(sym); open && exitReason(cfg, p, px) != "" {
			book(p.Side.OpeningSide().Opposite(), p.Quantity, px)
		}
	}
	return sim.Snapshot().TotalPnL, trades, nil
}
