package runner

import (
	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/signal"

	"github.com/shopspring/decimal"
)

type sizingInput struct {
	balance  decimal.Decimal
	k        float64
	strength float64
	price    decimal.Decimal
	// exposure is the quote notional already held on the same side.
	exposure decimal.Decimal
}

// riskAmount is balance × k × |strength|. The capital percentage is already
// part of k.
func riskAmount(in sizingInput) decimal.Decimal {
	strength := in.strength
	if strength < 0 {
		strength = -strength
	}
	return in.balance.
		Mul(money.FromFloat(in.k)).
		Mul(money.FromFloat(strength))
}

// sizeOrder converts the risk amount into a base quantity through the stop
// distance, then clamps it by the per-order notional and the exposure left
// for the symbol. Quantities are truncated, never rounded up.
func sizeOrder(cfg Config, in sizingInput) decimal.Decimal {
	if !in.price.IsPositive() || cfg.StopDistance <= 0 {
		return decimal.Zero
	}
	qty := riskAmount(in).Div(money.FromFloat(cfg.StopDistance)).Div(in.price)
	if maxQty := money.FromFloat(cfg.MaxOrderNotional).Div(in.price); qty.GreaterThan(maxQty) {
		qty = maxQty
	}
	remaining := money.FromFloat(cfg.MaxSymbolExposure).Sub(in.exposure)
	if !remaining.IsPositive() {
		return decimal.Zero
	}
	if maxQty := remaining.Div(in.price); qty.GreaterThan(maxQty) {
		qty = maxQty
	}
	qty = money.TruncQty(qty)
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}

type actionKind int

const (
	actionNone actionKind = iota
	actionOpen
	actionClose
)

type action struct {
	kind   actionKind
	side   execution.Side
	qty    decimal.Decimal
	reason string
}

// decide maps a signal onto the current position: an opposing signal closes
// it, an agreeing one adds within the exposure limits.
func decide(cfg Config, pos *ledger.Position, sig signal.Signal, in sizingInput) action {
	if sig.Direction == 0 || sig.Strength < cfg.MinStrength {
		return action{}
	}
	side := execution.SideBuy
	if sig.Direction < 0 {
		side = execution.SideSell
	}
	if pos != nil && pos.Side.OpeningSide() != side {
		return action{kind: actionClose, side: side, qty: pos.Quantity, reason: "signal reversal"}
	}
	if pos != nil {
		in.exposure = pos.Quantity.Mul(in.price)
	}
	in.strength = sig.Strength
	qty := sizeOrder(cfg, in)
	if !qty.IsPositive() {
		return action{}
	}
	return action{kind: actionOpen, side: side, qty: qty}
}

// exitReason applies the hard stop-loss / take-profit rules to a position.
func exitReason(cfg Config, pos ledger.Position, price decimal.Decimal) string {
	entry := pos.EntryPrice()
	if !entry.IsPositive() {
		return ""
	}
	move := money.ToFloat(price.Sub(entry).Div(entry))
	if pos.Side == ledger.Short {
		move = -move
	}
	switch {
	case move <= -cfg.StopLoss:
		return "stop_loss"
	case move >= cfg.TakeProfit:
		return "take_profit"
	default:
		return ""
	}
}
