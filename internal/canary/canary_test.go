package canary

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"canarydesk/internal/control"
	"canarydesk/internal/execution"
	"canarydesk/internal/runner"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	perf    runner.Performance
	starts  int
	stops   int
	ctl     *control.Broadcast
	running bool
}

func (f *fakeRunner) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.running = true
	return nil
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.stops++
	}
	f.running = false
}

func (f *fakeRunner) Performance() runner.Performance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perf
}

func (f *fakeRunner) set(p runner.Performance) {
	f.mu.Lock()
	f.perf = p
	f.mu.Unlock()
}

func (f *fakeRunner) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) SendText(text string) error {
	n.mu.Lock()
	n.texts = append(n.texts, text)
	n.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	reports []Report
}

func (s *recordingSink) SaveReport(_ context.Context, rep Report) error {
	s.mu.Lock()
	s.reports = append(s.reports, rep)
	s.mu.Unlock()
	return nil
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendText(text string) error {
	return m.Called(text).Error(0)
}

type MockSink struct {
	mock.Mock
}

func (m *MockSink) SaveReport(ctx context.Context, rep Report) error {
	return m.Called(ctx, rep).Error(0)
}

type staticQuality execution.QualityReport

func (q staticQuality) QualityReport() execution.QualityReport { return execution.QualityReport(q) }

func passing() runner.Performance {
	return runner.Performance{
		Strategies: 2,
		Running:    2,
		Initial:    decimal.NewFromInt(20_000),
		Equity:     decimal.NewFromInt(20_100),
		TotalPnL:   decimal.NewFromInt(100),
		DailyPnL:   decimal.NewFromInt(40),
		Trades:     12,
	}
}

func failingPerf(maxDrawdown float64) runner.Performance {
	p := passing()
	p.Trades = 0
	p.MaxDrawdown = maxDrawdown
	return p
}

type fixture struct {
	orch     *Orchestrator
	runner   *fakeRunner
	clock    *testClock
	notifier *recordingNotifier
	sink     *recordingSink
	built    int
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		runner:   &fakeRunner{perf: passing()},
		clock:    &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}
	orch, err := New(cfg, Deps{
		NewRunner: func(ctl *control.Broadcast) (Runner, error) {
			f.built++
			f.runner.ctl = ctl
			return f.runner, nil
		},
		Control:  control.NewBroadcast(control.State{Mode: control.ModeShadow}),
		Quality:  staticQuality{Count: 3, ErrorRate: 0.01},
		Notifier: f.notifier,
		Sink:     f.sink,
		Now:      f.clock.Now,
	})
	require.NoError(t, err)
	f.orch = orch
	t.Cleanup(orch.Stop)
	return f
}

func TestCapitalPct_PureScheduleLookup(t *testing.T) {
	steps := DefaultRamp()
	cases := map[int]float64{0: 5, 1: 5, 2: 5, 3: 15, 4: 15, 5: 30, 6: 30, 7: 30, 8: 50, 30: 50}
	for day, want := range cases {
		assert.Equal(t, want, CapitalPct(steps, day), "day %d", day)
		assert.Equal(t, CapitalPct(steps, day), CapitalPct(steps, day))
	}
	assert.Zero(t, CapitalPct(nil, 3))
}

func TestEvaluateGates(t *testing.T) {
	cfg := Config{}.withDefaults().Gates
	gates := EvaluateGates(cfg, passing())
	require.Len(t, gates, 5)
	assert.True(t, AllPass(gates))

	p := passing()
	p.TotalPnL = decimal.NewFromInt(-300)
	p.MaxDrawdown = 0.11
	p.ErrorRate = 0.06
	p.P95SlippageBps = 21
	p.Trades = 4
	for _, g := range EvaluateGates(cfg, p) {
		assert.False(t, g.Pass, g.Name)
	}
	assert.False(t, AllPass(nil))
}

func TestDecide_AnyFailingGateNeverRampsUp(t *testing.T) {
	base := EvaluateGates(Config{}.withDefaults().Gates, passing())
	for i := range base {
		gates := append([]GateResult(nil), base...)
		gates[i].Pass = false
		d := decide(decideInput{mode: control.ModeCanary, day: 8, current: 5, scheduled: 50, autoRamp: true, gates: gates})
		assert.Equal(t, ActionRampDown, d.Action, gates[i].Name)
		assert.Equal(t, 2.5, d.NextPct)
	}
}

func TestDecide(t *testing.T) {
	gates := EvaluateGates(Config{}.withDefaults().Gates, passing())
	cases := []struct {
		name   string
		in     decideInput
		action Action
		next   float64
	}{
		{"ramp up", decideInput{mode: control.ModeCanary, day: 3, current: 5, scheduled: 15, autoRamp: true}, ActionRampUp, 15},
		{"schedule not higher", decideInput{mode: control.ModeCanary, day: 3, current: 15, scheduled: 15, autoRamp: true}, ActionHold, 15},
		{"after halving holds below schedule", decideInput{mode: control.ModeCanary, day: 9, current: 50, scheduled: 30, autoRamp: true}, ActionHold, 50},
		{"manual ramp", decideInput{mode: control.ModeCanary, day: 3, current: 5, scheduled: 15}, ActionHold, 5},
		{"live never ramps up", decideInput{mode: control.ModeLive, day: 8, current: 25, scheduled: 50, autoRamp: true}, ActionHold, 25},
		{"shadow", decideInput{mode: control.ModeShadow, day: 8, current: 5, scheduled: 50, autoRamp: true}, ActionHold, 5},
		{"kill floor", decideInput{mode: control.ModeCanary, day: 3, current: 5, scheduled: 15, autoRamp: true, drawdown: 0.2, killDrawdown: 0.2}, ActionKill, 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.gates = gates
			d := decide(tc.in)
			assert.Equal(t, tc.action, d.Action)
			assert.Equal(t, tc.next, d.NextPct)
		})
	}
}

func TestOrchestrator_StartTwiceAndStopIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.ErrorIs(t, f.orch.Start(ctx, "paper"), ErrInvalidMode)
	require.NoError(t, f.orch.Start(ctx, "canary"))
	require.ErrorIs(t, f.orch.Start(ctx, "canary"), ErrAlreadyRunning)

	st := f.orch.Status()
	assert.True(t, st.Running)
	assert.Equal(t, control.ModeCanary, st.Mode)
	assert.Equal(t, 5.0, st.CapitalPct)
	assert.Equal(t, 1, st.Day)
	assert.True(t, st.AutoRamp)
	assert.Equal(t, 5.0, f.orch.Control().Load().CapitalPct)
	assert.Equal(t, st.SessionID, f.orch.Control().Load().SessionID)

	f.orch.Stop()
	f.orch.Stop()
	starts, stops := f.runner.counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, stops)
	assert.False(t, f.orch.Status().Running)

	_, err := f.orch.Evaluate(ctx)
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, f.orch.Start(ctx, "canary"))
	assert.NotEqual(t, st.SessionID, f.orch.Status().SessionID)
	assert.Equal(t, 2, f.built)
}

func TestOrchestrator_StopWithoutStart(t *testing.T) {
	f := newFixture(t, Config{})
	f.orch.Stop()
	<-f.orch.Done()
}

func TestOrchestrator_RunnerFactoryError(t *testing.T) {
	orch, err := New(Config{}, Deps{NewRunner: func(*control.Broadcast) (Runner, error) { return nil, errors.New("boom") }})
	require.NoError(t, err)
	require.Error(t, orch.Start(context.Background(), "canary"))
	assert.False(t, orch.Status().Running)
}

func TestOrchestrator_RampsUpWhileGatesPass(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.orch.Start(context.Background(), "canary"))

	d, err := f.orch.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
	assert.Equal(t, 5.0, d.NextPct)

	f.clock.Advance(48 * time.Hour)
	d, err = f.orch.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, d.Day)
	assert.Equal(t, ActionRampUp, d.Action)
	assert.Equal(t, 15.0, f.orch.Status().CapitalPct)
	assert.Equal(t, 15.0, f.orch.Control().Load().CapitalPct)
	assert.Equal(t, 3, f.orch.Control().Load().Day)

	st := f.orch.Status()
	assert.Len(t, st.Gates, 5)
	assert.True(t, st.Gates[GateMinTrades])
	assert.Equal(t, 12, st.Trades)
}

func TestOrchestrator_ConsecutiveFailuresHalveThenKill(t *testing.T) {
	f := newFixture(t, Config{LiveCapitalPct: 50, KillDrawdown: 0.2})
	f.runner.set(failingPerf(0.05))
	ctx := context.Background()
	require.NoError(t, f.orch.Start(ctx, "live"))
	assert.Equal(t, 50.0, f.orch.Status().CapitalPct)

	for _, want := range []float64{25, 12.5, 6.25, 3.125} {
		f.clock.Advance(24 * time.Hour)
		d, err := f.orch.Evaluate(ctx)
		require.NoError(t, err)
		assert.Equal(t, ActionRampDown, d.Action)
		assert.Equal(t, want, d.NextPct)
		assert.Equal(t, want, f.orch.Control().Load().CapitalPct)
	}

	f.runner.set(failingPerf(0.25))
	f.clock.Advance(24 * time.Hour)
	d, err := f.orch.Evaluate(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionKill, d.Action)

	<-f.orch.Done()
	st := f.orch.Status()
	assert.True(t, st.KillSwitch)
	assert.False(t, st.Running)
	assert.True(t, f.orch.Control().Load().KillSwitch)
	_, stops := f.runner.counts()
	assert.Equal(t, 1, stops)

	_, err = f.orch.Evaluate(ctx)
	require.ErrorIs(t, err, ErrNotRunning)

	reports := f.orch.Reports()
	require.NotEmpty(t, reports)
	last := reports[len(reports)-1]
	assert.Equal(t, KindKill, last.Kind)
	assert.Contains(t, last.Recommendation, "Kill switch active")
}

func TestOrchestrator_CheckGatesObservesRunnerKill(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.orch.Start(context.Background(), "canary"))

	f.orch.CheckGates()
	assert.True(t, f.orch.Status().Running)

	f.orch.Control().Trip("auto-gates: 2/4 strategies stopped")
	f.orch.CheckGates()
	<-f.orch.Done()
	st := f.orch.Status()
	assert.False(t, st.Running)
	assert.True(t, st.KillSwitch)
	assert.Equal(t, "auto-gates: 2/4 strategies stopped", st.KillReason)
	assert.Equal(t, 5.0, st.CapitalPct)
}

func TestOrchestrator_CheckGatesKillFloor(t *testing.T) {
	f := newFixture(t, Config{KillDrawdown: 0.1})
	require.NoError(t, f.orch.Start(context.Background(), "canary"))
	f.runner.set(failingPerf(0.12))
	f.orch.CheckGates()
	<-f.orch.Done()
	assert.True(t, f.orch.Status().KillSwitch)
}

func TestOrchestrator_ShadowRunsWithoutRunner(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.orch.Start(context.Background(), "shadow"))
	assert.Zero(t, f.built)

	d, err := f.orch.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ActionHold, d.Action)
	assert.False(t, f.orch.Status().AutoRamp)
}

func TestOrchestrator_ReportsGoToNotifierAndSink(t *testing.T) {
	f := newFixture(t, Config{KeepReports: 2})
	require.NoError(t, f.orch.Start(context.Background(), "canary"))

	rep := f.orch.Publish(context.Background(), KindMidday)
	assert.Equal(t, KindMidday, rep.Kind)
	assert.Equal(t, 3, rep.Quality.Count)
	assert.Contains(t, rep.Text, "Canary MIDDAY report")
	assert.Contains(t, rep.Recommendation, "All gates pass")

	_, err := f.orch.Evaluate(context.Background())
	require.NoError(t, err)
	f.orch.Publish(context.Background(), KindEOD)

	assert.Len(t, f.orch.Reports(), 2)
	assert.Len(t, f.sink.reports, 3)
	assert.Len(t, f.notifier.texts, 3)
	assert.Equal(t, KindEOD, f.orch.Reports()[1].Kind)
}

func TestOrchestrator_ReportDeliveryFailuresKeepReport(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	n := new(MockNotifier)
	sink := new(MockSink)
	n.On("SendText", mock.AnythingOfType("string")).Return(errors.New("telegram down")).Once()
	sink.On("SaveReport", mock.Anything, mock.MatchedBy(func(rep Report) bool {
		return rep.Kind == KindMidday && rep.ID != ""
	})).Return(errors.New("disk full")).Once()

	orch, err := New(Config{}, Deps{
		NewRunner: func(*control.Broadcast) (Runner, error) { return &fakeRunner{perf: passing()}, nil },
		Control:   control.NewBroadcast(control.State{Mode: control.ModeShadow}),
		Notifier:  n,
		Sink:      sink,
		Now:       clock.Now,
	})
	require.NoError(t, err)

	rep := orch.Publish(context.Background(), KindMidday)
	assert.Equal(t, KindMidday, rep.Kind)
	require.Len(t, orch.Reports(), 1)
	assert.Equal(t, rep.ID, orch.Reports()[0].ID)
	n.AssertExpectations(t)
	sink.AssertExpectations(t)
}
