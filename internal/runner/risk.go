package runner

import (
	"errors"
	"fmt"

	"canarydesk/internal/ledger"
	"canarydesk/internal/pkg/money"

	"github.com/shopspring/decimal"
)

var ErrRiskRejected = errors.New("risk check rejected order")

// intent is an opening order after sizing. price is the limit used for the
// balance check; notional and risk are taken at the mid.
type intent struct {
	qty      decimal.Decimal
	price    decimal.Decimal
	risk     decimal.Decimal
	feeRate  decimal.Decimal
	notional decimal.Decimal
}

type guard struct {
	name  string
	check func(cfg Config, l *ledger.Ledger, st ledger.State, in intent) error
}

var guards = []guard{
	{name: "daily_loss", check: dailyLossGuard},
	{name: "position_cap", check: positionCapGuard},
	{name: "balance", check: balanceGuard},
}

// dailyLossGuard assumes the order could be stopped out today.
func dailyLossGuard(cfg Config, _ *ledger.Ledger, st ledger.State, in intent) error {
	limit := st.Initial.Mul(money.FromFloat(cfg.DailyLossLimit)).Neg()
	projected := st.DailyPnL.Sub(in.risk)
	if projected.LessThan(limit) {
		return fmt.Errorf("projected daily pnl %s breaches limit %s", projected.StringFixed(2), limit.StringFixed(2))
	}
	return nil
}

func positionCapGuard(cfg Config, _ *ledger.Ledger, _ ledger.State, in intent) error {
	if ceiling := money.FromFloat(cfg.PositionCap); in.notional.GreaterThan(ceiling) {
		return fmt.Errorf("order notional %s above position cap %s", in.notional.StringFixed(2), ceiling.StringFixed(2))
	}
	return nil
}

func balanceGuard(_ Config, l *ledger.Ledger, _ ledger.State, in intent) error {
	if !l.CanAfford(in.qty, in.price, in.feeRate) {
		return fmt.Errorf("insufficient balance for %s @ %s", in.qty, in.price.StringFixed(8))
	}
	return nil
}

// preTrade runs the guard chain; the first failure wins and is never retried.
func preTrade(cfg Config, l *ledger.Ledger, in intent) (string, error) {
	st := l.Snapshot()
	for _, g := range guards {
		if err := g.check(cfg, l, st, in); err != nil {
			return g.name, fmt.Errorf("%w: %s: %v", ErrRiskRejected, g.name, err)
		}
	}
	return "", nil
}
