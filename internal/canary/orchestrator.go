// Package canary is the outer control loop: it owns the trading mode, the
// capital percentage ramp, the daily gate evaluation and the kill switch,
// and starts and stops the strategy runner for each session.
package canary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/logger"
	"canarydesk/internal/notifier"
	"canarydesk/internal/runner"
	"canarydesk/internal/scheduler"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyRunning = errors.New("canary already running")
	ErrNotRunning     = errors.New("canary not running")
	ErrInvalidMode    = errors.New("invalid canary mode")
)

// Runner is the part of the strategy runner the orchestrator drives.
type Runner interface {
	Start(ctx context.Context) error
	Stop()
	Performance() runner.Performance
}

// RunnerFactory builds a fresh runner bound to the session's controls.
type RunnerFactory func(ctl *control.Broadcast) (Runner, error)

type QualitySource interface {
	QualityReport() execution.QualityReport
}

type Sink interface {
	SaveReport(ctx context.Context, rep Report) error
}

type Deps struct {
	NewRunner  RunnerFactory
	Control    *control.Broadcast
	Quality    QualitySource
	Notifier   notifier.TextNotifier
	Sink       Sink
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// Status is the machine-readable canary state.
type Status struct {
	SessionID      string          `json:"session_id"`
	Mode           control.Mode    `json:"mode"`
	Running        bool            `json:"running"`
	CapitalPct     float64         `json:"capital_pct"`
	Day            int             `json:"day"`
	AutoRamp       bool            `json:"auto_ramp"`
	KillSwitch     bool            `json:"kill_switch_active"`
	KillReason     string          `json:"kill_reason,omitempty"`
	TotalPnL       decimal.Decimal `json:"total_pnl"`
	DailyPnL       decimal.Decimal `json:"daily_pnl"`
	Drawdown       float64         `json:"drawdown"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	ErrorRate      float64         `json:"error_rate"`
	P95SlippageBps float64         `json:"p95_slippage_bps"`
	Trades         int             `json:"trades"`
	Gates          map[string]bool `json:"gates"`
	LastAction     Action          `json:"last_action,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	NextEvaluation time.Time       `json:"next_evaluation"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type Orchestrator struct {
	cfg     Config
	deps    Deps
	metrics *collectors

	mu     sync.Mutex
	state  Status
	runner Runner
	gates  []GateResult
	cancel context.CancelFunc
	done   chan struct{}

	reportMu sync.Mutex
	reports  []Report
}

func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.NewRunner == nil {
		return nil, fmt.Errorf("canary requires a runner factory")
	}
	if deps.Control == nil {
		deps.Control = control.NewBroadcast(control.State{Mode: control.ModeShadow})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Orchestrator{
		cfg:     cfg.withDefaults(),
		deps:    deps,
		metrics: newCollectors(deps.Registerer),
	}, nil
}

func (o *Orchestrator) Control() *control.Broadcast { return o.deps.Control }

func (o *Orchestrator) initialPct(mode control.Mode) float64 {
	if mode == control.ModeLive {
		return o.cfg.LiveCapitalPct
	}
	return CapitalPct(o.cfg.Ramp, 1)
}

// Start opens a new session in mode. The session runs until ctx is done,
// Stop is called, or the kill switch ends it.
func (o *Orchestrator) Start(ctx context.Context, mode string) error {
	m, ok := control.ParseMode(mode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	o.mu.Lock()
	if o.state.Running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	prev := o.done
	o.mu.Unlock()
	if prev != nil {
		<-prev
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Running {
		return ErrAlreadyRunning
	}
	now := o.deps.Now()
	sid := uuid.NewString()
	pct := o.initialPct(m)

	var r Runner
	if m != control.ModeShadow {
		var err error
		if r, err = o.deps.NewRunner(o.deps.Control); err != nil {
			return fmt.Errorf("build runner: %w", err)
		}
	}
	o.deps.Control.Reset(control.State{SessionID: sid, Mode: m, CapitalPct: pct, Day: 1})

	runCtx, cancel := context.WithCancel(ctx)
	if r != nil {
		if err := r.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start runner: %w", err)
		}
	}
	o.state = Status{
		SessionID:      sid,
		Mode:           m,
		Running:        true,
		CapitalPct:     pct,
		Day:            1,
		AutoRamp:       !o.cfg.ManualRamp && m == control.ModeCanary,
		TotalPnL:       decimal.Zero,
		DailyPnL:       decimal.Zero,
		StartedAt:      now,
		NextEvaluation: now.Add(o.cfg.EvalInterval),
		UpdatedAt:      now,
	}
	o.runner, o.gates, o.cancel = r, nil, cancel
	o.done = make(chan struct{})
	o.metrics.capitalPct.Set(pct)
	o.metrics.day.Set(1)
	o.metrics.killSwitch.Set(0)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		scheduler.Every(gctx, "canary-evaluate", o.cfg.EvalInterval, func(ctx context.Context) {
			if _, err := o.Evaluate(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
				logger.Warnf("Canary: evaluation failed err=%v", err)
			}
		})
		return nil
	})
	g.Go(func() error {
		scheduler.Every(gctx, "canary-gates", o.cfg.GateInterval, func(context.Context) { o.CheckGates() })
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewAlignedScheduler(gctx, o.cfg.ReportInterval, o.cfg.MiddayOffset)
		s.Name = "canary-midday"
		s.Start(func() { o.publish(gctx, KindMidday, nil) })
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewAlignedScheduler(gctx, o.cfg.ReportInterval, o.cfg.EODOffset)
		s.Name = "canary-eod"
		s.Start(func() { o.publish(gctx, KindEOD, nil) })
		return nil
	})
	go o.supervise(sid, g, r, o.done)

	logger.Infof("Canary: session started id=%s mode=%s capital_pct=%.2f runner=%v", sid, m, pct, r != nil)
	return nil
}

// supervise waits for the monitors, then stops the runner so no order is
// left half-submitted.
func (o *Orchestrator) supervise(sid string, g *errgroup.Group, r Runner, done chan struct{}) {
	_ = g.Wait()
	if r != nil {
		r.Stop()
	}
	o.mu.Lock()
	if o.state.SessionID == sid && o.state.Running {
		o.state.Running = false
		o.state.UpdatedAt = o.deps.Now()
	}
	o.mu.Unlock()
	close(done)
	logger.Infof("Canary: session ended id=%s", sid)
}

// Stop cancels every monitor and the runner and waits for them. Safe to call
// repeatedly or when nothing is running.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	if o.state.Running {
		o.state.Running = false
		o.state.UpdatedAt = o.deps.Now()
		logger.Infof("Canary: stopping session id=%s", o.state.SessionID)
	}
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current session has fully wound down.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return o.done
}

func (o *Orchestrator) Status() Status {
	ctl := o.deps.Control.Load()
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.state
	st.Gates = make(map[string]bool, len(o.gates))
	for _, g := range o.gates {
		st.Gates[g.Name] = g.Pass
	}
	if ctl.SessionID == st.SessionID && ctl.KillSwitch {
		st.KillSwitch, st.KillReason = true, ctl.KillReason
	}
	return st
}

// performanceLocked is empty in shadow mode, which carries no runner.
func (o *Orchestrator) performanceLocked() runner.Performance {
	if o.runner == nil {
		return runner.Performance{Initial: decimal.Zero, TotalPnL: decimal.Zero, DailyPnL: decimal.Zero}
	}
	return o.runner.Performance()
}

func (o *Orchestrator) dayAt(now time.Time) int {
	return int(now.Sub(o.state.StartedAt)/o.cfg.DayLength) + 1
}

func (o *Orchestrator) absorbLocked(perf runner.Performance, gates []GateResult, now time.Time) {
	o.gates = gates
	o.state.TotalPnL = perf.TotalPnL
	o.state.DailyPnL = perf.DailyPnL
	o.state.Drawdown = perf.Drawdown
	o.state.MaxDrawdown = perf.MaxDrawdown
	o.state.ErrorRate = perf.ErrorRate
	o.state.P95SlippageBps = perf.P95SlippageBps
	o.state.Trades = perf.Trades
	o.state.UpdatedAt = now
}

// Evaluate runs the daily decision: gates, ramp up/down and the kill floor.
func (o *Orchestrator) Evaluate(ctx context.Context) (Decision, error) {
	o.mu.Lock()
	if !o.state.Running {
		o.mu.Unlock()
		return Decision{}, ErrNotRunning
	}
	now := o.deps.Now()
	day := o.dayAt(now)
	perf := o.performanceLocked()
	gates := EvaluateGates(o.cfg.Gates, perf)
	d := decide(decideInput{
		mode:         o.state.Mode,
		day:          day,
		current:      o.state.CapitalPct,
		scheduled:    CapitalPct(o.cfg.Ramp, day),
		autoRamp:     o.state.AutoRamp,
		gates:        gates,
		drawdown:     perf.MaxDrawdown,
		killDrawdown: o.cfg.KillDrawdown,
	})
	o.absorbLocked(perf, gates, now)
	o.state.Day = day
	o.state.CapitalPct = d.NextPct
	o.state.LastAction = d.Action
	o.state.NextEvaluation = now.Add(o.cfg.EvalInterval)
	o.deps.Control.Update(func(s *control.State) {
		s.CapitalPct = d.NextPct
		s.Day = day
	})
	if d.Action == ActionKill {
		o.haltLocked("canary: " + d.Reason)
	}
	o.mu.Unlock()

	o.metrics.capitalPct.Set(d.NextPct)
	o.metrics.day.Set(float64(day))
	o.metrics.evaluations.WithLabelValues(string(d.Action)).Inc()
	for _, name := range failing(gates) {
		o.metrics.gateFails.WithLabelValues(name).Inc()
	}
	logFn := logger.Infof
	if d.Action != ActionHold && d.Action != ActionRampUp {
		logFn = logger.Warnf
	}
	logFn("Canary: day=%d action=%s capital_pct=%.4f->%.4f reason=%s", day, d.Action, d.PreviousPct, d.NextPct, d.Reason)

	kind := KindEvaluation
	if d.Action == ActionKill {
		kind = KindKill
	}
	o.publish(ctx, kind, &d)
	return d, nil
}

// CheckGates refreshes the gate table between daily evaluations and ends the
// session when the kill switch is set elsewhere or the drawdown floor is
// breached. It never changes the capital percentage.
func (o *Orchestrator) CheckGates() []GateResult {
	o.mu.Lock()
	if !o.state.Running {
		o.mu.Unlock()
		return nil
	}
	now := o.deps.Now()
	perf := o.performanceLocked()
	gates := EvaluateGates(o.cfg.Gates, perf)
	o.absorbLocked(perf, gates, now)
	o.state.Day = o.dayAt(now)

	var reason string
	switch ctl := o.deps.Control.Load(); {
	case ctl.KillSwitch:
		reason = ctl.KillReason
	case o.state.Mode != control.ModeShadow && perf.MaxDrawdown >= o.cfg.KillDrawdown:
		reason = fmt.Sprintf("canary: drawdown %.2f%% breached kill floor %.2f%%", perf.MaxDrawdown*100, o.cfg.KillDrawdown*100)
	}
	if reason != "" {
		o.haltLocked(reason)
	}
	o.mu.Unlock()

	if reason != "" {
		o.publish(context.Background(), KindKill, nil)
	}
	return gates
}

// haltLocked sets the kill switch and ends the session without waiting; the
// supervisor stops the runner once the monitors have returned.
func (o *Orchestrator) haltLocked(reason string) {
	ctl := o.deps.Control.Trip(reason)
	o.state.Running = false
	o.state.KillSwitch = true
	o.state.KillReason = ctl.KillReason
	o.metrics.killSwitch.Set(1)
	logger.Errorf("Canary: kill switch set session=%s reason=%s", o.state.SessionID, strings.TrimSpace(ctl.KillReason))
	if o.cancel != nil {
		o.cancel()
	}
}
