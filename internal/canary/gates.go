package canary

import (
	"fmt"

	"canarydesk/internal/control"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/runner"
)

const (
	GatePnL         = "pnl"
	GateDrawdown    = "drawdown"
	GateErrorRate   = "error_rate"
	GateP95Slippage = "p95_slippage"
	GateMinTrades   = "min_trades"
)

type GateResult struct {
	Name      string  `json:"name"`
	Pass      bool    `json:"pass"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

func (g GateResult) String() string {
	verdict := "FAIL"
	if g.Pass {
		verdict = "pass"
	}
	return fmt.Sprintf("%-12s %s value=%.4f threshold=%.4f", g.Name, verdict, g.Value, g.Threshold)
}

// EvaluateGates checks aggregated performance against the five gates, in a
// fixed order.
func EvaluateGates(cfg GateConfig, perf runner.Performance) []GateResult {
	pnlPct := 0.0
	if perf.Initial.IsPositive() {
		pnlPct = money.ToFloat(perf.TotalPnL.Div(perf.Initial))
	}
	return []GateResult{
		{Name: GatePnL, Value: pnlPct, Threshold: -cfg.MaxLossPct, Pass: pnlPct >= -cfg.MaxLossPct},
		{Name: GateDrawdown, Value: perf.MaxDrawdown, Threshold: cfg.MaxDrawdown, Pass: perf.MaxDrawdown <= cfg.MaxDrawdown},
		{Name: GateErrorRate, Value: perf.ErrorRate, Threshold: cfg.MaxErrorRate, Pass: perf.ErrorRate <= cfg.MaxErrorRate},
		{Name: GateP95Slippage, Value: perf.P95SlippageBps, Threshold: cfg.MaxP95SlippageBps, Pass: perf.P95SlippageBps <= cfg.MaxP95SlippageBps},
		{Name: GateMinTrades, Value: float64(perf.Trades), Threshold: float64(cfg.MinTrades), Pass: perf.Trades >= cfg.MinTrades},
	}
}

func AllPass(gates []GateResult) bool {
	for _, g := range gates {
		if !g.Pass {
			return false
		}
	}
	return len(gates) > 0
}

func failing(gates []GateResult) []string {
	var out []string
	for _, g := range gates {
		if !g.Pass {
			out = append(out, g.Name)
		}
	}
	return out
}

type Action string

const (
	ActionHold     Action = "hold"
	ActionRampUp   Action = "ramp_up"
	ActionRampDown Action = "ramp_down"
	ActionKill     Action = "kill"
)

type Decision struct {
	Action       Action       `json:"action"`
	Day          int          `json:"day"`
	PreviousPct  float64      `json:"previous_pct"`
	ScheduledPct float64      `json:"scheduled_pct"`
	NextPct      float64      `json:"next_pct"`
	Drawdown     float64      `json:"drawdown"`
	Gates        []GateResult `json:"gates"`
	Reason       string       `json:"reason"`
}

type decideInput struct {
	mode         control.Mode
	day          int
	current      float64
	scheduled    float64
	autoRamp     bool
	gates        []GateResult
	drawdown     float64
	killDrawdown float64
}

// decide is the daily capital decision. Any failing gate halves the
// current percentage; only a full pass may adopt a higher scheduled one.
// Live sessions never ramp up and shadow sessions carry no capital.
func decide(in decideInput) Decision {
	d := Decision{
		Action:       ActionHold,
		Day:          in.day,
		PreviousPct:  in.current,
		ScheduledPct: in.scheduled,
		NextPct:      in.current,
		Drawdown:     in.drawdown,
		Gates:        in.gates,
	}
	pass := AllPass(in.gates)
	switch {
	case in.mode == control.ModeShadow:
		d.Reason = "shadow session, capital unchanged"
	case !pass:
		d.Action = ActionRampDown
		d.NextPct = in.current / 2
		d.Reason = fmt.Sprintf("gates failing: %v", failing(in.gates))
	case in.mode == control.ModeLive:
		d.Reason = "live session holds while gates pass"
	case !in.autoRamp:
		d.Reason = "auto ramp disabled"
	case in.scheduled > in.current:
		d.Action = ActionRampUp
		d.NextPct = in.scheduled
		d.Reason = fmt.Sprintf("all gates pass, day %d schedule", in.day)
	default:
		d.Reason = "all gates pass, schedule not higher"
	}
	if in.mode != control.ModeShadow && in.killDrawdown > 0 && in.drawdown >= in.killDrawdown {
		d.Action = ActionKill
		d.Reason = fmt.Sprintf("drawdown %.2f%% breached kill floor %.2f%%", in.drawdown*100, in.killDrawdown*100)
	}
	return d
}
