// Package runner drives one trading loop per strategy×symbol, each with its
// own ledger, plus the k-ramp, auto-gates, reconciliation and venue cleanup
// monitors that share the run's lifetime.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/ledger"
	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/pkg/symbol"
	"canarydesk/internal/scheduler"
	"canarydesk/internal/signal"
	"canarydesk/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var ErrAlreadyRunning = errors.New("runner already running")

type Executor interface {
	Execute(ctx context.Context, req execution.Request) (execution.Result, error)
	MaxFeeRate() decimal.Decimal
}

// PriceHistory returns close prices recorded since a point in time.
type PriceHistory interface {
	Since(ctx context.Context, symbol string, since time.Time) ([]market.Candle, error)
}

type TapeWriter interface {
	Append(ctx context.Context, symbol string, ts time.Time, price float64) error
}

// Sink persists ledger orders and reconciliation reports.
type Sink interface {
	SaveOrder(ctx context.Context, strategyKey string, o ledger.Order) error
	SaveReconciliation(ctx context.Context, rep Reconciliation) error
}

type Deps struct {
	Executor   Executor
	Prices     market.Provider
	Control    *control.Broadcast
	Weights    signal.WeightsProvider
	Tape       TapeWriter
	History    PriceHistory
	Sink       Sink
	Venues     *venue.Registry
	Registerer prometheus.Registerer
	Now        func() time.Time
	Sleep      func(context.Context, time.Duration) error
}

type task struct {
	key      string
	strategy StrategyConfig
	symbol   string
	ledger   *ledger.Ledger
	source   signal.Source
	factory  signal.Factory

	// guarded by Runner.reconMu
	checkpointAt  time.Time
	checkpointPnL decimal.Decimal
}

type Runner struct {
	cfg     Config
	deps    Deps
	metrics *collectors
	tasks   []*task

	rampBits atomic.Uint64
	rampDay  atomic.Int64

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	aggMu    sync.Mutex
	aggPeak  decimal.Decimal
	aggMaxDD float64

	reconMu sync.Mutex
	reports []Reconciliation
}

func New(cfg Config, deps Deps) (*Runner, error) {
	cfg = cfg.withDefaults()
	if deps.Executor == nil || deps.Prices == nil {
		return nil, fmt.Errorf("runner requires an executor and a price provider")
	}
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("runner requires at least one strategy")
	}
	if deps.Control == nil {
		deps.Control = control.NewBroadcast(control.State{Mode: control.ModeCanary, CapitalPct: 100})
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = scheduler.Sleep
	}
	r := &Runner{cfg: cfg, deps: deps, metrics: newCollectors(deps.Registerer)}

	seen := make(map[string]bool)
	for _, sc := range cfg.Strategies {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return nil, fmt.Errorf("strategy name is required")
		}
		if len(sc.Symbols) == 0 {
			return nil, fmt.Errorf("strategy %s has no symbols", name)
		}
		factory, err := signal.NewFactory(sc.Kind, sc.Params)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", name, err)
		}
		for _, raw := range sc.Symbols {
			sym := symbol.Normalize(raw)
			key := name + ":" + sym
			if seen[key] {
				return nil, fmt.Errorf("duplicate strategy/symbol %s", key)
			}
			seen[key] = true
			src, err := factory()
			if err != nil {
				return nil, fmt.Errorf("strategy %s: %w", key, err)
			}
			r.tasks = append(r.tasks, &task{
				key:      key,
				strategy: sc,
				symbol:   sym,
				ledger:   ledger.New(name, sym, money.FromFloat(sc.Capital), deps.Now),
				source:   src,
				factory:  factory,
			})
		}
	}
	r.setRamp(RampMultiplier(cfg.KRamp.Steps, 0))
	return r, nil
}

// Start launches every task and monitor under one errgroup. The run ends
// when ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	now := r.deps.Now()
	if r.startedAt.IsZero() {
		r.startedAt = now
		for _, t := range r.tasks {
			t.checkpointAt = now
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	for _, t := range r.tasks {
		t := t
		g.Go(func() error {
			r.loop(gctx, t)
			return nil
		})
	}
	g.Go(func() error {
		scheduler.Every(gctx, "k-ramp", r.cfg.KRamp.Interval, func(context.Context) { r.AdvanceRamp() })
		return nil
	})
	g.Go(func() error {
		scheduler.Every(gctx, "auto-gates", r.cfg.AutoGates.Interval, func(context.Context) { r.SweepGates() })
		return nil
	})
	if r.deps.History != nil {
		g.Go(func() error {
			scheduler.Every(gctx, "reconcile", r.cfg.Replay.Interval, func(ctx context.Context) {
				if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
					logger.Warnf("Runner: reconciliation failed err=%v", err)
				}
			})
			return nil
		})
	}
	if r.deps.Venues != nil {
		g.Go(func() error {
			scheduler.Every(gctx, "venue-cleanup", r.cfg.VenueCleanup, func(context.Context) {
				r.deps.Venues.Cleanup(r.deps.Now())
			})
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	r.running, r.cancel, r.done = true, cancel, done
	logger.Infof("Runner: started tasks=%d ramp=%.2f", len(r.tasks), r.RampMultiplier())
	return nil
}

// Stop cancels every task and monitor and waits for them to return.
// Ledgers stay readable. Safe to call repeatedly.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.mu.Unlock()

	cancel()
	<-done
	logger.Infof("Runner: stopped")
}

func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Done is closed once a started run has fully wound down.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.done
}

func (r *Runner) Ledgers() []*ledger.Ledger {
	out := make([]*ledger.Ledger, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.ledger)
	}
	return out
}

func (r *Runner) setRamp(mult float64) { r.rampBits.Store(math.Float64bits(mult)) }

func (r *Runner) RampMultiplier() float64 { return math.Float64frombits(r.rampBits.Load()) }

// targetK is baseline weight × capital fraction × ramp multiplier, before
// the ledger applies its own downgrade factor. Weights are scaled so equal
// weights give 1.0, and the capital fraction comes from the control state
// the caller read for this decision.
func (r *Runner) targetK(t *task, st control.State) float64 {
	baseline := 1.0
	if r.deps.Weights != nil {
		if w, ok := r.deps.Weights.Weights()[t.key]; ok {
			baseline = w * float64(len(r.tasks))
		}
	}
	return baseline * st.CapitalFraction() * r.RampMultiplier()
}
