package execution

import (
	"context"
	"fmt"
	"math"
	"time"

	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/pkg/money"

	"github.com/shopspring/decimal"
)

func (e *Engine) twapDelay() time.Duration {
	span := e.cfg.TWAPMaxDelay - e.cfg.TWAPMinDelay
	return e.cfg.TWAPMinDelay + time.Duration(float64(span)*e.sample())
}

// twap splits the parent into equal IOC slices, the last one absorbing the
// truncation remainder. Remaining slices are abandoned when the mid drifts
// past TWAPDriftBps from the parent's arrival mid or a slice cannot be sent.
func (e *Engine) twap(ctx context.Context, req Request, snap market.Snapshot) (fill, error) {
	n := e.cfg.TWAPSlices
	sliceQty := money.TruncQty(req.Quantity.Div(decimal.NewFromInt(int64(n))))
	if !sliceQty.IsPositive() {
		n, sliceQty = 1, req.Quantity
	}
	startMid := snap.Mid

	var (
		filled   = decimal.Zero
		notional = decimal.Zero
		fees     = decimal.Zero
		sent     int
		reason   string
		runErr   error
	)
	cur := snap
	for i := 0; i < n; i++ {
		qty := sliceQty
		if i == n-1 {
			qty = req.Quantity.Sub(sliceQty.Mul(decimal.NewFromInt(int64(n - 1))))
		}
		if i > 0 {
			if err := e.sleepFn(ctx, e.twapDelay()); err != nil {
				reason, runErr = "cancelled", err
				break
			}
			fresh, err := e.snapshot(ctx, req.Symbol)
			if err != nil {
				reason = fmt.Sprintf("slice %d snapshot: %v", i+1, err)
				if ctx.Err() != nil {
					runErr = ctx.Err()
				}
				break
			}
			cur = fresh
			drift := math.Abs(cur.Mid-startMid) / startMid * 10_000
			if drift > e.cfg.TWAPDriftBps {
				e.metrics.twapAborts.Inc()
				reason = fmt.Sprintf("drift %.1fbps beyond %.1fbps after %d slices", drift, e.cfg.TWAPDriftBps, sent)
				logger.Warnf("Execution: twap aborted symbol=%s %s", req.Symbol, reason)
				break
			}
		}
		child := req
		child.Quantity = qty
		child.Style = StyleIOC
		f, err := e.ioc(ctx, child, cur)
		sent++
		if err != nil {
			reason = fmt.Sprintf("slice %d: %v", i+1, err)
			if ctx.Err() != nil {
				runErr = ctx.Err()
			}
			break
		}
		if f.qty.IsPositive() {
			filled = filled.Add(f.qty)
			notional = notional.Add(f.qty.Mul(f.price))
			fees = fees.Add(f.fee)
		}
	}

	out := fill{style: StyleTWAP, qty: filled, feeRate: e.takerRate, fee: fees, reason: reason, slices: sent}
	ratio := money.ToFloat(filled.Div(req.Quantity))
	switch {
	case ratio >= e.cfg.TWAPFilledRatio:
		out.status = StatusFilled
	case filled.IsPositive():
		out.status = StatusPartial
	default:
		out.status = StatusFailed
	}
	if filled.IsPositive() {
		out.price = notional.Div(filled).Round(8)
	}
	return out, runErr
}
