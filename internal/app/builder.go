package app

import (
	"fmt"
	"sync"

	"canarydesk/internal/canary"
	brcfg "canarydesk/internal/config"
	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/market/binance"
	"canarydesk/internal/notifier"
	"canarydesk/internal/runner"
	"canarydesk/internal/signal"
	"canarydesk/internal/store"
	"canarydesk/internal/store/sqlite"
	"canarydesk/internal/tape"
	apihttp "canarydesk/internal/transport/http/api"
	"canarydesk/internal/venue"

	"github.com/prometheus/client_golang/prometheus"
)

type AppBuilder struct {
	cfg *brcfg.Config

	providerFn func(brcfg.MarketConfig) (market.Provider, market.HistorySource, error)
	storeFn    func(brcfg.StoreConfig) (*sqlite.SqliteStore, error)
	tapeFn     func(brcfg.StoreConfig) (*tape.Tape, error)
	notifierFn func(brcfg.NotifyConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		providerFn: buildProvider,
		storeFn:    buildStore,
		tapeFn:     buildTape,
		notifierFn: buildNotifier,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// WithProvider replaces the market data provider (tests, demos).
func WithProvider(p market.Provider, h market.HistorySource) AppBuilderOption {
	return func(b *AppBuilder) {
		b.providerFn = func(brcfg.MarketConfig) (market.Provider, market.HistorySource, error) { return p, h, nil }
	}
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(brcfg.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func (b *AppBuilder) Build() (*App, error) {
	if b == nil || b.cfg == nil {
		return nil, fmt.Errorf("app builder requires config")
	}
	cfg := b.cfg
	reg := prometheus.NewRegistry()

	provider, history, err := b.providerFn(cfg.Market)
	if err != nil {
		return nil, fmt.Errorf("build market provider: %w", err)
	}
	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	tp, err := b.tapeFn(cfg.Store)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open tape: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = tp.Close()
		_ = st.Close()
		return nil, err
	}
	rec := store.NewRecorder(st)

	limits, health := venueConfigs(cfg.Venue)
	venues := venue.NewRegistry(limits, health)
	execCfg := executionConfig(cfg.Execution)
	engine := execution.NewEngine(execCfg, provider, venues.Get(execCfg.Venue),
		execution.WithRecorder(rec),
		execution.WithRegisterer(reg),
	)

	var weights *signal.FileWeights
	if path := cfg.Runner.WeightsPath; path != "" {
		if weights, err = signal.NewFileWeights(path); err != nil {
			return fail(fmt.Errorf("load weights: %w", err))
		}
	}

	runnerCfg := runnerConfig(cfg.Runner)
	replay := replayHistory(cfg.Runner.Replay, tp, history)
	active := &activeRunner{}
	factory := func(ctl *control.Broadcast) (canary.Runner, error) {
		deps := runner.Deps{
			Executor:   engine,
			Prices:     provider,
			Control:    ctl,
			Tape:       tp,
			History:    replay,
			Sink:       rec,
			Venues:     venues,
			Registerer: reg,
		}
		if weights != nil {
			deps.Weights = weights
		}
		r, err := runner.New(runnerCfg, deps)
		if err != nil {
			return nil, err
		}
		active.set(r)
		return r, nil
	}
	// Fail fast on strategy config errors instead of on first start.
	if _, err := runner.New(runnerCfg, runner.Deps{Executor: engine, Prices: provider}); err != nil {
		return fail(fmt.Errorf("runner config: %w", err))
	}

	orch, err := canary.New(canaryConfig(cfg.Canary), canary.Deps{
		NewRunner:  factory,
		Control:    control.NewBroadcast(control.State{Mode: control.ModeShadow}),
		Quality:    engine,
		Notifier:   b.notifierFn(cfg.Notify),
		Sink:       rec,
		Registerer: reg,
	})
	if err != nil {
		return fail(err)
	}

	server, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Canary:   orch,
		Runner:   active.state,
		Quality:  engine,
		Venues:   venues,
		History:  rec,
		Gatherer: reg,
	})
	if err != nil {
		return fail(err)
	}

	return &App{
		cfg:     cfg,
		engine:  engine,
		orch:    orch,
		http:    server,
		store:   st,
		tape:    tp,
		weights: weights,
		active:  active,
		Summary: newStartupSummary(cfg, history != nil && cfg.Runner.Replay.Source == "market"),
	}, nil
}

func buildProvider(cfg brcfg.MarketConfig) (market.Provider, market.HistorySource, error) {
	switch cfg.Provider {
	case "binance":
		p, err := binance.New(binanceConfig(cfg.Binance))
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	default:
		return market.NewSimProvider(simConfig(cfg.Sim)), nil, nil
	}
}

func buildStore(cfg brcfg.StoreConfig) (*sqlite.SqliteStore, error) {
	return sqlite.NewSqliteStore(cfg.Path)
}

func buildTape(cfg brcfg.StoreConfig) (*tape.Tape, error) {
	return tape.Open(cfg.TapePath)
}

func buildNotifier(cfg brcfg.NotifyConfig) notifier.TextNotifier {
	out := notifier.Multi{notifier.LogNotifier{Prefix: cfg.LogPrefix}}
	if cfg.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if cfg.Telegram.BaseURL != "" {
			tg.BaseURL = cfg.Telegram.BaseURL
		}
		out = append(out, tg)
	}
	return out
}

// replayHistory picks the price source reconciliation replays: provider
// klines when asked for and available, otherwise the recorded tape.
func replayHistory(cfg brcfg.ReplayConfig, tp *tape.Tape, src market.HistorySource) runner.PriceHistory {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Source == "market" {
		if src != nil {
			return runner.HistoryFromSource(src, cfg.KlineInterval, cfg.KlineLimit)
		}
		logger.Warnf("App: market history unavailable for replay, using the price tape")
	}
	return tp
}

// activeRunner remembers the runner of the current canary session.
type activeRunner struct {
	mu sync.RWMutex
	r  *runner.Runner
}

func (a *activeRunner) set(r *runner.Runner) {
	a.mu.Lock()
	a.r = r
	a.mu.Unlock()
}

func (a *activeRunner) state() (runner.CombinedState, bool) {
	a.mu.RLock()
	r := a.r
	a.mu.RUnlock()
	if r == nil {
		return runner.CombinedState{}, false
	}
	return r.CombinedState(), true
}
