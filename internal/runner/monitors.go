package runner

import (
	"fmt"
	"strings"

	"canarydesk/internal/ledger"
	"canarydesk/internal/logger"
)

// AdvanceRamp recomputes the day-since-start multiplier and pushes the new
// target k into every running ledger.
func (r *Runner) AdvanceRamp() float64 {
	r.mu.Lock()
	started := r.startedAt
	r.mu.Unlock()
	if started.IsZero() {
		return r.RampMultiplier()
	}
	day := int(r.deps.Now().Sub(started) / r.cfg.KRamp.DayLength)
	mult := RampMultiplier(r.cfg.KRamp.Steps, day)
	prevDay := r.rampDay.Swap(int64(day))
	if prev := r.RampMultiplier(); prev != mult || prevDay != int64(day) {
		logger.Infof("Runner: k ramp day=%d multiplier=%.2f (was %.2f)", day, mult, prev)
	}
	r.setRamp(mult)
	st := r.deps.Control.Load()
	for _, t := range r.tasks {
		if t.ledger.Running() {
			t.ledger.RefreshK(r.targetK(t, st))
		}
	}
	return mult
}

// GateSweep is the outcome of one auto-gates pass.
type GateSweep struct {
	Downgraded []string `json:"downgraded"`
	Stopped    []string `json:"stopped"`
	Total      int      `json:"total"`
	Halted     int      `json:"halted"`
	Killed     bool     `json:"killed"`
}

func (r *Runner) violations(st ledger.State) []string {
	g := r.cfg.AutoGates
	var out []string
	if st.Attempts >= g.MinAttempts && st.ErrorRate > g.MaxErrorRate {
		out = append(out, fmt.Sprintf("error_rate %.2f > %.2f", st.ErrorRate, g.MaxErrorRate))
	}
	if st.P95SlippageBps > g.MaxP95SlippageBps {
		out = append(out, fmt.Sprintf("p95_slippage %.1fbps > %.1fbps", st.P95SlippageBps, g.MaxP95SlippageBps))
	}
	if st.Drawdown > g.MaxDrawdown {
		out = append(out, fmt.Sprintf("drawdown %.2f%% > %.2f%%", st.Drawdown*100, g.MaxDrawdown*100))
	}
	if limit := st.Initial.InexactFloat64() * g.MaxDailyLoss; st.DailyPnL.InexactFloat64() < -limit {
		out = append(out, fmt.Sprintf("daily_loss %s < -%.2f", st.DailyPnL.StringFixed(2), limit))
	}
	return out
}

// SweepGates inspects every ledger. One violation halves k, StopViolations
// or more stop the strategy, and once KillStoppedRatio of strategies are
// stopped the global kill switch is set and every strategy is halted.
// It only ever lowers k or clears running.
func (r *Runner) SweepGates() GateSweep {
	g := r.cfg.AutoGates
	sweep := GateSweep{Total: len(r.tasks)}
	for _, t := range r.tasks {
		st := t.ledger.Snapshot()
		if !st.Running {
			sweep.Halted++
			continue
		}
		vs := r.violations(st)
		if len(vs) == 0 {
			continue
		}
		fatalDaily := g.DailyLossFatal && hasPrefix(vs, "daily_loss")
		if len(vs) >= g.StopViolations || fatalDaily {
			reason := "auto-gates: " + strings.Join(vs, "; ")
			if t.ledger.Stop(reason) {
				r.metrics.stops.WithLabelValues(t.key).Inc()
				logger.Warnf("Runner: strategy stopped key=%s %s", t.key, reason)
			}
			sweep.Stopped = append(sweep.Stopped, t.key)
			sweep.Halted++
			continue
		}
		k := t.ledger.Downgrade()
		r.metrics.downgrades.WithLabelValues(t.key).Inc()
		r.metrics.kFactor.WithLabelValues(t.key).Set(k)
		logger.Warnf("Runner: strategy downgraded key=%s k=%.4f violation=%s", t.key, k, vs[0])
		sweep.Downgraded = append(sweep.Downgraded, t.key)
	}
	if sweep.Total > 0 && float64(sweep.Halted)/float64(sweep.Total) >= g.KillStoppedRatio {
		reason := fmt.Sprintf("auto-gates: %d/%d strategies stopped", sweep.Halted, sweep.Total)
		st := r.deps.Control.Trip(reason)
		for _, t := range r.tasks {
			if t.ledger.Stop("kill switch: " + st.KillReason) {
				r.metrics.stops.WithLabelValues(t.key).Inc()
			}
		}
		sweep.Killed = true
		logger.Errorf("Runner: kill switch set, %s", reason)
	}
	return sweep
}

func hasPrefix(vs []string, prefix string) bool {
	for _, v := range vs {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}
