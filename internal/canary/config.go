package canary

import (
	"sort"
	"time"
)

// RampStep applies Pct from FromDay (1-based) until the next step.
type RampStep struct {
	FromDay int
	Pct     float64
}

type GateConfig struct {
	// MaxLossPct is the P&L gate: total P&L may not fall below
	// -MaxLossPct of initial capital.
	MaxLossPct        float64
	MaxDrawdown       float64
	MaxErrorRate      float64
	MaxP95SlippageBps float64
	MinTrades         int
}

type Config struct {
	Ramp  []RampStep
	Gates GateConfig
	// KillDrawdown is the hard floor: at or beyond it the kill switch is set
	// and the session ends.
	KillDrawdown   float64
	LiveCapitalPct float64
	ManualRamp     bool

	DayLength    time.Duration
	EvalInterval time.Duration
	GateInterval time.Duration

	ReportInterval time.Duration
	MiddayOffset   time.Duration
	EODOffset      time.Duration
	KeepReports    int
}

func DefaultRamp() []RampStep {
	return []RampStep{
		{FromDay: 1, Pct: 5},
		{FromDay: 3, Pct: 15},
		{FromDay: 5, Pct: 30},
		{FromDay: 8, Pct: 50},
	}
}

func (c Config) withDefaults() Config {
	if len(c.Ramp) == 0 {
		c.Ramp = DefaultRamp()
	}
	steps := append([]RampStep(nil), c.Ramp...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].FromDay < steps[j].FromDay })
	c.Ramp = steps

	g := &c.Gates
	if g.MaxLossPct <= 0 {
		g.MaxLossPct = 0.01
	}
	if g.MaxDrawdown <= 0 {
		g.MaxDrawdown = 0.10
	}
	if g.MaxErrorRate <= 0 {
		g.MaxErrorRate = 0.05
	}
	if g.MaxP95SlippageBps <= 0 {
		g.MaxP95SlippageBps = 20
	}
	if g.MinTrades <= 0 {
		g.MinTrades = 5
	}
	if c.KillDrawdown <= 0 {
		c.KillDrawdown = 0.20
	}
	if c.LiveCapitalPct <= 0 || c.LiveCapitalPct > 100 {
		c.LiveCapitalPct = 50
	}
	if c.DayLength <= 0 {
		c.DayLength = 24 * time.Hour
	}
	if c.EvalInterval <= 0 {
		c.EvalInterval = c.DayLength
	}
	if c.GateInterval <= 0 {
		c.GateInterval = time.Minute
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = 24 * time.Hour
	}
	if c.MiddayOffset <= 0 {
		c.MiddayOffset = 12 * time.Hour
	}
	if c.EODOffset <= 0 {
		c.EODOffset = 23*time.Hour + 55*time.Minute
	}
	if c.KeepReports <= 0 {
		c.KeepReports = 100
	}
	return c
}
