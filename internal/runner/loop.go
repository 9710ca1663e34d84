package runner

import (
	"context"
	"errors"

	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/signal"

	"github.com/shopspring/decimal"
)

func (r *Runner) loop(ctx context.Context, t *task) {
	logger.Infof("Runner: task started key=%s", t.key)
	defer logger.Infof("Runner: task exited key=%s", t.key)
	for {
		if ctx.Err() != nil {
			return
		}
		if !t.ledger.Running() {
			return
		}
		st := r.deps.Control.Load()
		if st.KillSwitch {
			logger.Warnf("Runner: kill switch active, task halting key=%s reason=%s", t.key, st.KillReason)
			return
		}
		r.iterate(ctx, t, st)
		if err := r.deps.Sleep(ctx, r.cfg.Heartbeat); err != nil {
			return
		}
	}
}

// iterate is one pass of refresh k → price → signal → size → check →
// execute → book → exits. Every failure is local to this task.
func (r *Runner) iterate(ctx context.Context, t *task, st control.State) {
	k := t.ledger.RefreshK(r.targetK(t, st))
	r.metrics.kFactor.WithLabelValues(t.key).Set(k)

	snap, err := r.deps.Prices.GetSnapshot(ctx, t.symbol)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warnf("Runner: price unavailable key=%s err=%v", t.key, err)
			_ = r.deps.Sleep(ctx, r.cfg.PriceRetry)
		}
		return
	}
	price := money.FromFloat(snap.Mid)
	t.ledger.MarkPrice(t.symbol, price)
	if r.deps.Tape != nil {
		if err := r.deps.Tape.Append(ctx, t.symbol, snap.Timestamp, snap.Mid); err != nil && ctx.Err() == nil {
			logger.Warnf("Runner: tape append failed key=%s err=%v", t.key, err)
		}
	}

	sig, ok, err := t.source.Signal(ctx, t.symbol, snap.Mid)
	switch {
	case err != nil:
		logger.Warnf("Runner: signal failed key=%s err=%v", t.key, err)
	case ok:
		r.act(ctx, t, sig, snap, st)
	}
	r.checkExits(ctx, t, price)
}

func (r *Runner) act(ctx context.Context, t *task, sig signal.Signal, snap market.Snapshot, st control.State) {
	var pos *ledger.Position
	if p, open := t.ledger.Position(t.symbol); open {
		pos = &p
	}
	price := money.FromFloat(snap.Mid)
	in := sizingInput{
		balance: t.ledger.Balance(),
		k:       t.ledger.K(),
		price:   price,
	}
	a := decide(r.cfg, pos, sig, in)
	switch a.kind {
	case actionClose:
		r.closePosition(ctx, t, a.side, a.qty, price, a.reason)
	case actionOpen:
		// k never drops below ledger.MinK, so a zero allocation is checked here.
		if st.CapitalFraction() <= 0 {
			return
		}
		limit := money.AdjustPrice(price, r.cfg.LimitBufferBps, a.side.Sign()).Round(8)
		notional := a.qty.Mul(price)
		it := intent{
			qty:      a.qty,
			price:    limit,
			risk:     notional.Mul(money.FromFloat(r.cfg.StopDistance)),
			feeRate:  r.deps.Executor.MaxFeeRate(),
			notional: notional,
		}
		if name, err := preTrade(r.cfg, t.ledger, it); err != nil {
			r.metrics.riskRejections.WithLabelValues(name).Inc()
			logger.Warnf("Runner: %v key=%s side=%s qty=%s", err, t.key, a.side, a.qty)
			return
		}
		req := execution.Request{Symbol: t.symbol, Side: a.side, Quantity: a.qty, LimitPrice: limit, Style: t.strategy.Style}
		r.submit(ctx, t, req, price, "signal")
	}
}

func (r *Runner) checkExits(ctx context.Context, t *task, price decimal.Decimal) {
	pos, open := t.ledger.Position(t.symbol)
	if !open {
		return
	}
	reason := exitReason(r.cfg, pos, price)
	if reason == "" {
		return
	}
	logger.Infof("Runner: %s triggered key=%s entry=%s price=%s", reason, t.key, pos.EntryPrice().StringFixed(8), price.StringFixed(8))
	r.closePosition(ctx, t, pos.Side.OpeningSide().Opposite(), pos.Quantity, price, reason)
}

// closePosition sends a reducing order capped at ExitBufferBps past price.
// The ledger must be able to book the close at that cap with the highest
// fee rate, otherwise nothing is sent.
func (r *Runner) closePosition(ctx context.Context, t *task, side execution.Side, qty, price decimal.Decimal, reason string) {
	limit := money.AdjustPrice(price, r.cfg.ExitBufferBps, side.Sign()).Round(8)
	if !t.ledger.CanClose(t.symbol, qty, limit, r.deps.Executor.MaxFeeRate()) {
		r.metrics.riskRejections.WithLabelValues("close_balance").Inc()
		logger.Warnf("Runner: %v: close_balance: %s of %s @ %s not bookable key=%s",
			ErrRiskRejected, reason, qty, limit.StringFixed(8), t.key)
		return
	}
	req := execution.Request{Symbol: t.symbol, Side: side, Quantity: qty, LimitPrice: limit, Style: r.cfg.ExitStyle}
	r.submit(ctx, t, req, price, reason)
}

// submit sends one order and books whatever filled. The kill switch is
// re-read right before submission.
func (r *Runner) submit(ctx context.Context, t *task, req execution.Request, requested decimal.Decimal, reason string) {
	if st := r.deps.Control.Load(); st.KillSwitch || !t.ledger.Running() {
		return
	}
	req.Tag = t.key
	res, err := r.deps.Executor.Execute(ctx, req)
	if errors.Is(err, execution.ErrInvalidRequest) {
		t.ledger.RecordError()
		logger.Errorf("Runner: invalid order key=%s err=%v", t.key, err)
		return
	}
	t.ledger.RecordExecution(res)
	if err != nil && ctx.Err() == nil {
		logger.Warnf("Runner: execution error key=%s status=%s err=%v", t.key, res.Status, err)
	}
	if !res.HasFill() {
		return
	}
	order, err := t.ledger.ApplyFill(ledger.FillFromResult(res, requested, reason))
	if err != nil {
		logger.Errorf("Runner: fill not booked key=%s order=%s err=%v", t.key, res.OrderID, err)
		return
	}
	r.metrics.orders.WithLabelValues(t.key, reason).Inc()
	if r.deps.Sink != nil {
		if err := r.deps.Sink.SaveOrder(context.WithoutCancel(ctx), t.key, order); err != nil {
			logger.Warnf("Runner: persist order failed key=%s err=%v", t.key, err)
		}
	}
}
