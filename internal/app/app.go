package app

import (
	"context"
	"errors"
	"fmt"

	"canarydesk/internal/canary"
	brcfg "canarydesk/internal/config"
	"canarydesk/internal/execution"
	"canarydesk/internal/logger"
	"canarydesk/internal/signal"
	"canarydesk/internal/store/sqlite"
	"canarydesk/internal/tape"
	apihttp "canarydesk/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App owns the wired components: config → dependencies → HTTP + canary.
type App struct {
	cfg     *brcfg.Config
	engine  *execution.Engine
	orch    *canary.Orchestrator
	http    *apihttp.Server
	store   *sqlite.SqliteStore
	tape    *tape.Tape
	weights *signal.FileWeights
	active  *activeRunner
	Summary *StartupSummary
}

// NewApp builds the application from config without starting it.
func NewApp(cfg *brcfg.Config, opts ...AppBuilderOption) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return NewAppBuilder(cfg, opts...).Build()
}

// Run serves the API, starts the configured canary mode and blocks until ctx
// is cancelled or a component fails. The session is stopped before return.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()
	if a.Summary != nil {
		a.Summary.Print()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.weights != nil {
		group.Go(func() error {
			if err := a.weights.Watch(ctx); err != nil {
				logger.Warnf("App: weights watcher stopped err=%v", err)
			}
			return nil
		})
	}
	if mode := a.cfg.App.AutoStart; mode != "" {
		if err := a.orch.Start(ctx, mode); err != nil && !errors.Is(err, canary.ErrAlreadyRunning) {
			cancel()
			_ = group.Wait()
			return fmt.Errorf("auto start %s: %w", mode, err)
		}
	}
	group.Go(func() error {
		<-ctx.Done()
		a.orch.Stop()
		return nil
	})

	err := group.Wait()
	a.logFinal()
	return err
}

// Orchestrator exposes the canary orchestrator (tests, embedding).
func (a *App) Orchestrator() *canary.Orchestrator {
	if a == nil {
		return nil
	}
	return a.orch
}

func (a *App) logFinal() {
	st := a.orch.Status()
	q := a.engine.QualityReport()
	logger.Infof("App: shutdown session=%s mode=%s capital_pct=%.2f pnl=%s kill=%v orders=%d error_rate=%.4f",
		st.SessionID, st.Mode, st.CapitalPct, st.TotalPnL.StringFixed(2), st.KillSwitch, q.Count, q.ErrorRate)
}

func (a *App) close() {
	if a.tape != nil {
		if err := a.tape.Close(); err != nil {
			logger.Warnf("App: closing tape failed err=%v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("App: closing store failed err=%v", err)
		}
	}
}
