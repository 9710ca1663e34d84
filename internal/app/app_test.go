package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	brcfg "canarydesk/internal/config"
	"canarydesk/internal/market"
	"canarydesk/internal/notifier"
	"canarydesk/internal/tape"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingNotifier) SendText(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func testConfig(t *testing.T) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	return &brcfg.Config{
		App:    brcfg.AppConfig{Env: "test", LogLevel: "warn", HTTPAddr: "127.0.0.1:0"},
		Store:  brcfg.StoreConfig{Path: filepath.Join(dir, "canary.db"), TapePath: filepath.Join(dir, "tape.db")},
		Market: brcfg.MarketConfig{Provider: "sim", Sim: brcfg.SimMarketConfig{Seed: 7}},
		Execution: brcfg.ExecutionConfig{
			DefaultStyle: "market",
		},
		Runner: brcfg.RunnerConfig{
			Heartbeat: 20 * time.Millisecond,
			ExitStyle: "market",
			Replay:    brcfg.ReplayConfig{Enabled: true, Source: "tape"},
			Strategies: []brcfg.StrategyConfig{{
				Name:       "trend",
				Kind:       "static",
				Symbols:    []string{"BTCUSDT"},
				Capital:    10_000,
				Direction:  1,
				Strength:   1,
				Confidence: 1,
			}},
		},
		Canary: brcfg.CanaryConfig{KillDrawdown: 0.5},
		Notify: brcfg.NotifyConfig{LogPrefix: "[test]"},
	}
}

func TestNewApp_CanarySessionLifecycle(t *testing.T) {
	rn := &recordingNotifier{}
	sim := market.NewSimProvider(market.SimConfig{Seed: 1, StartPrices: map[string]float64{"BTC/USDT": 50_000}})
	a, err := NewApp(testConfig(t), WithNotifier(rn), WithProvider(sim, nil))
	require.NoError(t, err)
	defer a.close()

	_, ok := a.active.state()
	assert.False(t, ok, "no runner before the first session")

	orch := a.Orchestrator()
	require.NoError(t, orch.Start(context.Background(), "canary"))
	st, ok := a.active.state()
	require.True(t, ok)
	assert.Len(t, st.Strategies, 1)
	assert.Equal(t, "BTC/USDT", st.Strategies[0].Symbol)

	orch.Stop()
	assert.False(t, orch.Status().Running)
}

func TestNewApp_RejectsBadStrategy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Runner.Strategies[0].Direction = 3
	_, err := NewApp(cfg)
	assert.Error(t, err)
}

func TestRun_AutoStartStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.App.AutoStart = "shadow"
	a, err := NewApp(cfg, WithNotifier(&recordingNotifier{}))
	require.NoError(t, err)
	a.Summary = nil

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return a.Orchestrator().Status().Running }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	assert.False(t, a.Orchestrator().Status().Running)
}

type nopHistory struct{}

func (nopHistory) FetchHistory(context.Context, string, string, int) ([]market.Candle, error) {
	return nil, nil
}

func TestReplayHistory(t *testing.T) {
	tp, err := tape.Open(":memory:")
	require.NoError(t, err)
	defer tp.Close()

	assert.Nil(t, replayHistory(brcfg.ReplayConfig{}, tp, nil))
	assert.Equal(t, tp, replayHistory(brcfg.ReplayConfig{Enabled: true, Source: "tape"}, tp, nopHistory{}))
	assert.Equal(t, tp, replayHistory(brcfg.ReplayConfig{Enabled: true, Source: "market"}, tp, nil))
	got := replayHistory(brcfg.ReplayConfig{Enabled: true, Source: "market", KlineInterval: "1m", KlineLimit: 10}, tp, nopHistory{})
	assert.NotEqual(t, tp, got)
	assert.NotNil(t, got)
}

func TestBuildNotifier(t *testing.T) {
	n := buildNotifier(brcfg.NotifyConfig{})
	multi, ok := n.(notifier.Multi)
	require.True(t, ok)
	assert.Len(t, multi, 1)

	n = buildNotifier(brcfg.NotifyConfig{Telegram: brcfg.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", BaseURL: "http://example.invalid"}})
	multi = n.(notifier.Multi)
	require.Len(t, multi, 2)
	tg, ok := multi[1].(*notifier.Telegram)
	require.True(t, ok)
	assert.Equal(t, "http://example.invalid", tg.BaseURL)
}

func TestStartupSummary(t *testing.T) {
	cfg := testConfig(t)
	s := newStartupSummary(cfg, false)
	assert.Equal(t, "price tape", s.Replay)
	require.Len(t, s.Strategies, 1)
	assert.Equal(t, []string{"BTC/USDT"}, s.Strategies[0].Symbols)
	assert.Equal(t, []string{"log"}, s.Notifiers)
}
