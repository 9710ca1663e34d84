package runner

import (
	"sort"
	"time"

	"canarydesk/internal/execution"
	"canarydesk/internal/signal"
)

type StrategyConfig struct {
	Name    string
	Kind    string
	Symbols []string
	Capital float64
	Style   execution.Style
	Params  signal.Params
}

type AutoGatesConfig struct {
	Interval          time.Duration
	MaxErrorRate      float64
	MinAttempts       int
	MaxP95SlippageBps float64
	MaxDrawdown       float64
	MaxDailyLoss      float64
	StopViolations    int
	KillStoppedRatio  float64
	DailyLossFatal    bool
}

// KStep maps the first day it applies to a k multiplier.
type KStep struct {
	Day        int
	Multiplier float64
}

type KRampConfig struct {
	Interval  time.Duration
	DayLength time.Duration
	Steps     []KStep
}

type ReplayConfig struct {
	Interval         time.Duration
	MaxDivergencePct float64
	Keep             int
}

type Config struct {
	Strategies []StrategyConfig

	Heartbeat   time.Duration
	PriceRetry  time.Duration
	MinStrength float64

	StopDistance      float64
	MaxOrderNotional  float64
	MaxSymbolExposure float64
	PositionCap       float64
	DailyLossLimit    float64
	LimitBufferBps    float64
	ExitBufferBps     float64
	StopLoss          float64
	TakeProfit        float64
	ExitStyle         execution.Style

	VenueCleanup time.Duration

	AutoGates AutoGatesConfig
	KRamp     KRampConfig
	Replay    ReplayConfig
}

func DefaultKSteps() []KStep {
	return []KStep{{Day: 0, Multiplier: 0.25}, {Day: 1, Multiplier: 0.5}, {Day: 2, Multiplier: 1.0}}
}

func (c Config) withDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = 5 * time.Second
	}
	if c.PriceRetry <= 0 {
		c.PriceRetry = 2 * time.Second
	}
	if c.MinStrength <= 0 {
		c.MinStrength = 0.1
	}
	if c.StopDistance <= 0 {
		c.StopDistance = 0.02
	}
	if c.MaxOrderNotional <= 0 {
		c.MaxOrderNotional = 5_000
	}
	if c.MaxSymbolExposure <= 0 {
		c.MaxSymbolExposure = 10_000
	}
	if c.PositionCap <= 0 {
		c.PositionCap = c.MaxOrderNotional
	}
	if c.DailyLossLimit <= 0 {
		c.DailyLossLimit = 0.05
	}
	if c.LimitBufferBps <= 0 {
		c.LimitBufferBps = 25
	}
	if c.ExitBufferBps <= 0 {
		c.ExitBufferBps = 100
	}
	if c.StopLoss <= 0 {
		c.StopLoss = c.StopDistance
	}
	if c.TakeProfit <= 0 {
		c.TakeProfit = 2 * c.StopLoss
	}
	if _, ok := execution.ParseStyle(string(c.ExitStyle)); !ok {
		c.ExitStyle = execution.StyleMarket
	}
	if c.VenueCleanup <= 0 {
		c.VenueCleanup = 30 * time.Second
	}

	g := &c.AutoGates
	if g.Interval <= 0 {
		g.Interval = time.Minute
	}
	if g.MaxErrorRate <= 0 {
		g.MaxErrorRate = 0.2
	}
	if g.MinAttempts <= 0 {
		g.MinAttempts = 10
	}
	if g.MaxP95SlippageBps <= 0 {
		g.MaxP95SlippageBps = 25
	}
	if g.MaxDrawdown <= 0 {
		g.MaxDrawdown = 0.15
	}
	if g.MaxDailyLoss <= 0 {
		g.MaxDailyLoss = c.DailyLossLimit
	}
	if g.StopViolations <= 0 {
		g.StopViolations = 2
	}
	if g.KillStoppedRatio <= 0 || g.KillStoppedRatio > 1 {
		g.KillStoppedRatio = 0.5
	}

	k := &c.KRamp
	if k.Interval <= 0 {
		k.Interval = time.Minute
	}
	if k.DayLength <= 0 {
		k.DayLength = 24 * time.Hour
	}
	if len(k.Steps) == 0 {
		k.Steps = DefaultKSteps()
	}
	steps := append([]KStep(nil), k.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Day < steps[j].Day })
	k.Steps = steps

	r := &c.Replay
	if r.Interval <= 0 {
		r.Interval = time.Hour
	}
	if r.MaxDivergencePct <= 0 {
		r.MaxDivergencePct = 0.02
	}
	if r.Keep <= 0 {
		r.Keep = 48
	}
	for i := range c.Strategies {
		if c.Strategies[i].Capital <= 0 {
			c.Strategies[i].Capital = 10_000
		}
	}
	return c
}

// RampMultiplier is the k multiplier for a day count since start; days
// before the first step use the first step.
func RampMultiplier(steps []KStep, day int) float64 {
	if len(steps) == 0 {
		return 1
	}
	mult := steps[0].Multiplier
	for _, s := range steps {
		if day >= s.Day {
			mult = s.Multiplier
		}
	}
	return mult
}
