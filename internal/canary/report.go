package canary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/logger"
	"canarydesk/internal/notifier"
	"canarydesk/internal/runner"

	"github.com/google/uuid"
)

type ReportKind string

const (
	KindMidday     ReportKind = "midday"
	KindEOD        ReportKind = "eod"
	KindEvaluation ReportKind = "evaluation"
	KindKill       ReportKind = "kill"
)

// Report is one published snapshot: machine-readable fields plus the text
// sent to the notifier.
type Report struct {
	ID             string                  `json:"id"`
	Kind           ReportKind              `json:"kind"`
	At             time.Time               `json:"at"`
	Status         Status                  `json:"status"`
	Performance    runner.Performance      `json:"performance"`
	Quality        execution.QualityReport `json:"quality"`
	Gates          []GateResult            `json:"gates"`
	Decision       *Decision               `json:"decision,omitempty"`
	Recommendation string                  `json:"recommendation"`
	Text           string                  `json:"text"`
}

// Reports returns the retained reports, oldest first.
func (o *Orchestrator) Reports() []Report {
	o.reportMu.Lock()
	defer o.reportMu.Unlock()
	return append([]Report(nil), o.reports...)
}

// Publish produces an on-demand report of the given kind.
func (o *Orchestrator) Publish(ctx context.Context, kind ReportKind) Report {
	return o.publish(ctx, kind, nil)
}

func (o *Orchestrator) publish(ctx context.Context, kind ReportKind, d *Decision) Report {
	o.mu.Lock()
	perf := o.performanceLocked()
	gates := append([]GateResult(nil), o.gates...)
	if len(gates) == 0 {
		gates = EvaluateGates(o.cfg.Gates, perf)
	}
	o.mu.Unlock()
	st := o.Status()

	rep := Report{
		ID:          uuid.NewString(),
		Kind:        kind,
		At:          o.deps.Now(),
		Status:      st,
		Performance: perf,
		Gates:       gates,
		Decision:    d,
	}
	if o.deps.Quality != nil {
		rep.Quality = o.deps.Quality.QualityReport()
	}
	rep.Recommendation = recommend(st, gates, CapitalPct(o.cfg.Ramp, st.Day+1))
	rep.Text = renderReport(rep)

	if o.deps.Notifier != nil {
		if err := o.deps.Notifier.SendText(rep.Text); err != nil {
			logger.Warnf("Canary: notify failed kind=%s err=%v", kind, err)
		}
	} else {
		logger.InfoBlock(rep.Text)
	}
	if o.deps.Sink != nil {
		if err := o.deps.Sink.SaveReport(context.WithoutCancel(ctx), rep); err != nil {
			logger.Warnf("Canary: persist report failed kind=%s err=%v", kind, err)
		}
	}
	o.reportMu.Lock()
	o.reports = append(o.reports, rep)
	if over := len(o.reports) - o.cfg.KeepReports; over > 0 {
		o.reports = append(o.reports[:0], o.reports[over:]...)
	}
	o.reportMu.Unlock()
	return rep
}

func recommend(st Status, gates []GateResult, nextScheduled float64) string {
	switch {
	case st.KillSwitch:
		return "Kill switch active. Trading halted; investigate before starting a new session."
	case !st.Running:
		return "Session not running."
	case st.Mode == control.ModeShadow:
		return "Shadow session. Review gate table before starting a canary."
	}
	if names := failing(gates); len(names) > 0 {
		return fmt.Sprintf("Gates failing (%s). Expect capital to be halved at the next evaluation.", strings.Join(names, ", "))
	}
	if st.AutoRamp && nextScheduled > st.CapitalPct {
		return fmt.Sprintf("All gates pass. Capital may ramp to %.1f%% at the next evaluation.", nextScheduled)
	}
	return "All gates pass. Hold current capital."
}

func renderReport(rep Report) string {
	st, perf, q := rep.Status, rep.Performance, rep.Quality
	gateLines := make([]string, 0, len(rep.Gates))
	for _, g := range rep.Gates {
		gateLines = append(gateLines, g.String())
	}
	sections := []notifier.Section{
		{Title: "Session", Lines: []string{
			fmt.Sprintf("mode=%s running=%v day=%d", st.Mode, st.Running, st.Day),
			fmt.Sprintf("capital_pct=%.4f auto_ramp=%v kill_switch=%v", st.CapitalPct, st.AutoRamp, st.KillSwitch),
			st.KillReason,
		}},
		{Title: "P&L", Lines: []string{
			fmt.Sprintf("equity=%s total=%s daily=%s", perf.Equity.StringFixed(2), perf.TotalPnL.StringFixed(2), perf.DailyPnL.StringFixed(2)),
			fmt.Sprintf("drawdown=%.2f%% max=%.2f%%", perf.Drawdown*100, perf.MaxDrawdown*100),
			fmt.Sprintf("strategies=%d running=%d trades=%d win_rate=%.2f", perf.Strategies, perf.Running, perf.Trades, perf.WinRate),
		}},
		{Title: "Execution", Lines: []string{
			fmt.Sprintf("orders=%d error_rate=%.2f%%", q.Count, q.ErrorRate*100),
			fmt.Sprintf("slippage avg=%.2fbps p95=%.2fbps fill_ratio=%.2f", q.AvgSlippageBps, q.P95SlippageBps, q.AvgFillRatio),
		}},
		{Title: "Gates", Lines: gateLines},
	}
	if d := rep.Decision; d != nil {
		sections = append(sections, notifier.Section{Title: "Decision", Lines: []string{
			fmt.Sprintf("%s %.4f -> %.4f (scheduled %.4f)", d.Action, d.PreviousPct, d.NextPct, d.ScheduledPct),
			d.Reason,
		}})
	}
	return notifier.Message{
		Title:     "Canary " + strings.ToUpper(string(rep.Kind)) + " report",
		Sections:  sections,
		Footer:    rep.Recommendation,
		Timestamp: rep.At,
	}.Render()
}
