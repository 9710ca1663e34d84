package app

import (
	"strings"

	"canarydesk/internal/canary"
	brcfg "canarydesk/internal/config"
	"canarydesk/internal/execution"
	"canarydesk/internal/market"
	"canarydesk/internal/market/binance"
	"canarydesk/internal/runner"
	"canarydesk/internal/signal"
	"canarydesk/internal/venue"
)

func simConfig(c brcfg.SimMarketConfig) market.SimConfig {
	return market.SimConfig{
		Seed:         c.Seed,
		DefaultPrice: c.DefaultPrice,
		StartPrices:  c.StartPrices,
		SpreadBps:    c.SpreadBps,
		Depth:        c.Depth,
		StepVol:      c.StepVol,
	}
}

func binanceConfig(c brcfg.BinanceMarketConfig) binance.Config {
	return binance.Config{
		RESTBaseURL:       c.RESTBaseURL,
		HTTPTimeout:       c.HTTPTimeout,
		ProxyEnabled:      c.ProxyEnabled,
		RESTProxyURL:      c.RESTProxyURL,
		RequestsPerMinute: c.RequestsPerMinute,
		VolRefresh:        c.VolRefresh,
		VolLookback:       c.VolLookback,
	}
}

func venueConfigs(c brcfg.VenueConfig) (venue.LimiterConfig, venue.HealthConfig) {
	return venue.LimiterConfig{
			PerSecond:   c.PerSecond,
			PerMinute:   c.PerMinute,
			MaxAttempts: c.MaxAttempts,
			MaxWait:     c.MaxWait,
		}, venue.HealthConfig{
			Window:           c.Health.Window,
			MinSamples:       c.Health.MinSamples,
			MaxErrorRate:     c.Health.MaxErrorRate,
			FailureThreshold: c.Health.FailureThreshold,
			Cooldown:         c.Health.Cooldown,
		}
}

func executionConfig(c brcfg.ExecutionConfig) execution.Config {
	return execution.Config{
		Venue:               c.Venue,
		DefaultStyle:        execution.Style(strings.ToLower(c.DefaultStyle)),
		MakerFeeBps:         c.MakerFeeBps,
		TakerFeeBps:         c.TakerFeeBps,
		SliceCeiling:        c.SliceCeiling,
		TWAPSlices:          c.TWAPSlices,
		TWAPMinDelay:        c.TWAPMinDelay,
		TWAPMaxDelay:        c.TWAPMaxDelay,
		TWAPDriftBps:        c.TWAPDriftBps,
		TWAPFilledRatio:     c.TWAPFilledRatio,
		PostOnlyTimeout:     c.PostOnlyTimeout,
		PostOnlyMinQueue:    c.PostOnlyMinQueue,
		PostOnlyBaseFillP:   c.PostOnlyBaseFillP,
		PostOnlyVolFillK:    c.PostOnlyVolFillK,
		PostOnlyFallbackIOC: c.PostOnlyFallbackIOC,
		IOCSlippageBps:      c.IOCSlippageBps,
		MarketSlippageBps:   c.MarketSlippageBps,
		SpikeWindow:         c.SpikeWindow,
		SpikeSigma:          c.SpikeSigma,
		SpikeMinSamples:     c.SpikeMinSamples,
		SpikeDelay:          c.SpikeDelay,
		DataRetryDelay:      c.DataRetryDelay,
		HistorySize:         c.HistorySize,
	}
}

func runnerConfig(c brcfg.RunnerConfig) runner.Config {
	out := runner.Config{
		Heartbeat:         c.Heartbeat,
		PriceRetry:        c.PriceRetry,
		MinStrength:       c.MinStrength,
		StopDistance:      c.StopDistance,
		MaxOrderNotional:  c.MaxOrderNotional,
		MaxSymbolExposure: c.MaxSymbolExposure,
		PositionCap:       c.PositionCap,
		DailyLossLimit:    c.DailyLossLimit,
		LimitBufferBps:    c.LimitBufferBps,
		ExitBufferBps:     c.ExitBufferBps,
		StopLoss:          c.StopLoss,
		TakeProfit:        c.TakeProfit,
		ExitStyle:         execution.Style(strings.ToLower(c.ExitStyle)),
		VenueCleanup:      c.VenueCleanup,
		AutoGates: runner.AutoGatesConfig{
			Interval:          c.AutoGates.Interval,
			MaxErrorRate:      c.AutoGates.MaxErrorRate,
			MinAttempts:       c.AutoGates.MinAttempts,
			MaxP95SlippageBps: c.AutoGates.MaxP95SlippageBps,
			MaxDrawdown:       c.AutoGates.MaxDrawdown,
			MaxDailyLoss:      c.AutoGates.MaxDailyLoss,
			StopViolations:    c.AutoGates.StopViolations,
			KillStoppedRatio:  c.AutoGates.KillStoppedRatio,
			DailyLossFatal:    c.AutoGates.DailyLossFatal,
		},
		KRamp: runner.KRampConfig{
			Interval:  c.KRamp.Interval,
			DayLength: c.KRamp.DayLength,
		},
		Replay: runner.ReplayConfig{
			Interval:         c.Replay.Interval,
			MaxDivergencePct: c.Replay.MaxDivergencePct,
			Keep:             c.Replay.Keep,
		},
	}
	for _, st := range c.KRamp.Steps {
		out.KRamp.Steps = append(out.KRamp.Steps, runner.KStep{Day: st.Day, Multiplier: st.Multiplier})
	}
	for _, s := range c.Strategies {
		out.Strategies = append(out.Strategies, runner.StrategyConfig{
			Name:    s.Name,
			Kind:    s.Kind,
			Symbols: append([]string(nil), s.Symbols...),
			Capital: s.Capital,
			Style:   execution.Style(strings.ToLower(s.Style)),
			Params: signal.Params{
				Fast:       s.Fast,
				Slow:       s.Slow,
				History:    s.History,
				ScaleBps:   s.ScaleBps,
				Direction:  s.Direction,
				Strength:   s.Strength,
				Confidence: s.Confidence,
			},
		})
	}
	return out
}

func canaryConfig(c brcfg.CanaryConfig) canary.Config {
	out := canary.Config{
		Gates: canary.GateConfig{
			MaxLossPct:        c.Gates.MaxLossPct,
			MaxDrawdown:       c.Gates.MaxDrawdown,
			MaxErrorRate:      c.Gates.MaxErrorRate,
			MaxP95SlippageBps: c.Gates.MaxP95SlippageBps,
			MinTrades:         c.Gates.MinTrades,
		},
		KillDrawdown:   c.KillDrawdown,
		LiveCapitalPct: c.LiveCapitalPct,
		ManualRamp:     c.ManualRamp,
		DayLength:      c.DayLength,
		EvalInterval:   c.EvalInterval,
		GateInterval:   c.GateInterval,
		ReportInterval: c.ReportInterval,
		MiddayOffset:   c.MiddayOffset,
		EODOffset:      c.EODOffset,
		KeepReports:    c.KeepReports,
	}
	for _, st := range c.Ramp {
		out.Ramp = append(out.Ramp, canary.RampStep{FromDay: st.FromDay, Pct: st.Pct})
	}
	return out
}
