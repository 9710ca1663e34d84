package runner

import (
	"sort"
	"time"

	"canarydesk/internal/ledger"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/pkg/stats"

	"github.com/shopspring/decimal"
)

// Performance aggregates every ledger of the run.
type Performance struct {
	Strategies     int             `json:"strategies"`
	Running        int             `json:"running"`
	Stopped        int             `json:"stopped"`
	Initial        decimal.Decimal `json:"initial"`
	Balance        decimal.Decimal `json:"balance"`
	Equity         decimal.Decimal `json:"equity"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	Realized       decimal.Decimal `json:"realized"`
	Drawdown       float64         `json:"drawdown"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	Attempts       int             `json:"attempts"`
	ErrorRate      float64         `json:"error_rate"`
	P95SlippageBps float64         `json:"p95_slippage_bps"`
	Trades         int             `json:"trades"`
	WinRate        float64         `json:"win_rate"`
}

// Performance sums the ledgers and tracks the drawdown of the combined
// equity curve across calls.
func (r *Runner) Performance() Performance {
	perf, _ := r.collect()
	return perf
}

func (r *Runner) collect() (Performance, []ledger.State) {
	perf := Performance{
		Strategies: len(r.tasks),
		Initial:    decimal.Zero,
		Balance:    decimal.Zero,
		Equity:     decimal.Zero,
		DailyPnL:   decimal.Zero,
		Realized:   decimal.Zero,
	}
	states := make([]ledger.State, 0, len(r.tasks))
	var (
		errs     int
		wins     int
		closed   int
		slippage []float64
	)
	for _, t := range r.tasks {
		st := t.ledger.Snapshot()
		states = append(states, st)
		if st.Running {
			perf.Running++
		} else {
			perf.Stopped++
		}
		perf.Initial = perf.Initial.Add(st.Initial)
		perf.Balance = perf.Balance.Add(st.Balance)
		perf.Equity = perf.Equity.Add(st.Equity)
		perf.DailyPnL = perf.DailyPnL.Add(st.DailyPnL)
		perf.Realized = perf.Realized.Add(st.Realized)
		perf.Attempts += st.Attempts
		perf.Trades += st.Trades
		errs += st.ExecErrors
		wins += st.Wins
		closed += st.Wins + st.Losses
		slippage = append(slippage, t.ledger.SlippageSamples()...)
	}
	perf.TotalPnL = perf.Equity.Sub(perf.Initial)
	if perf.Attempts > 0 {
		perf.ErrorRate = float64(errs) / float64(perf.Attempts)
	}
	if closed > 0 {
		perf.WinRate = float64(wins) / float64(closed)
	}
	perf.P95SlippageBps = stats.Percentile(slippage, 95)

	r.aggMu.Lock()
	if r.aggPeak.IsZero() || perf.Equity.GreaterThan(r.aggPeak) {
		r.aggPeak = perf.Equity
	}
	if r.aggPeak.IsPositive() {
		perf.Drawdown = money.ToFloat(r.aggPeak.Sub(perf.Equity).Div(r.aggPeak))
	}
	if perf.Drawdown > r.aggMaxDD {
		r.aggMaxDD = perf.Drawdown
	}
	perf.MaxDrawdown = r.aggMaxDD
	r.aggMu.Unlock()
	return perf, states
}

type CombinedState struct {
	Running        bool           `json:"running"`
	KillSwitch     bool           `json:"kill_switch"`
	CapitalPct     float64        `json:"capital_pct"`
	RampDay        int            `json:"ramp_day"`
	RampMultiplier float64        `json:"ramp_multiplier"`
	StartedAt      time.Time      `json:"started_at"`
	Aggregate      Performance    `json:"aggregate"`
	Strategies     []ledger.State `json:"strategies"`
}

// CombinedState is the dashboard view: aggregate plus per-strategy ledgers.
func (r *Runner) CombinedState() CombinedState {
	perf, states := r.collect()
	sort.Slice(states, func(i, j int) bool {
		if states[i].Name != states[j].Name {
			return states[i].Name < states[j].Name
		}
		return states[i].Symbol < states[j].Symbol
	})
	ctl := r.deps.Control.Load()
	r.mu.Lock()
	running, started := r.running, r.startedAt
	r.mu.Unlock()
	return CombinedState{
		Running:        running,
		KillSwitch:     ctl.KillSwitch,
		CapitalPct:     ctl.CapitalPct,
		RampDay:        int(r.rampDay.Load()),
		RampMultiplier: r.RampMultiplier(),
		StartedAt:      started,
		Aggregate:      perf,
		Strategies:     states,
	}
}
