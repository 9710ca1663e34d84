package config

import "strings"

const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppLogFormat   = "text"
	defaultAppHTTPAddr    = ":9991"
	defaultStorePath      = "data/canarydesk.db"
	defaultTapePath       = "data/tape.db"
	defaultMarketProvider = "sim"
	defaultBinanceREST    = "https://fapi.binance.com"
	defaultExecutionVenue = "sim"
	defaultDefaultStyle   = "post_only"
	defaultExitStyle      = "market"
	defaultReplaySource   = "tape"
	defaultKlineInterval  = "1m"
	defaultKlineLimit     = 500
	defaultNotifyPrefix   = "[canary]"
	defaultTelegramBase   = "https://api.telegram.org"
	defaultStrategyKind   = "ema_cross"
	defaultStrategyCap    = 10_000
)

// applyDefaults fills keys the sources did not set. Numeric tunables left at
// zero fall through to the owning package's own defaults.
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Runner.applyDefaults(keys)
	c.Notify.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
	a.AutoStart = strings.ToLower(strings.TrimSpace(a.AutoStart))
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		stringFieldDefault("store.tape_path", &s.TapePath, defaultTapePath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.provider", &m.Provider, defaultMarketProvider),
		stringFieldDefault("market.binance.rest_base_url", &m.Binance.RESTBaseURL, defaultBinanceREST),
	)
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("execution.venue", &e.Venue, defaultExecutionVenue),
		stringFieldDefault("execution.default_style", &e.DefaultStyle, defaultDefaultStyle),
		boolFieldDefault("execution.post_only_fallback_ioc", &e.PostOnlyFallbackIOC, true),
	)
}

func (r *RunnerConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("runner.exit_style", &r.ExitStyle, defaultExitStyle),
		boolFieldDefault("runner.replay.enabled", &r.Replay.Enabled, true),
		stringFieldDefault("runner.replay.source", &r.Replay.Source, defaultReplaySource),
		stringFieldDefault("runner.replay.kline_interval", &r.Replay.KlineInterval, defaultKlineInterval),
		fieldDefault{
			key:   "runner.replay.kline_limit",
			need:  func() bool { return r.Replay.KlineLimit <= 0 },
			apply: func() { r.Replay.KlineLimit = defaultKlineLimit },
		},
	)
	for i := range r.Strategies {
		s := &r.Strategies[i]
		s.Name = strings.TrimSpace(s.Name)
		if strings.TrimSpace(s.Kind) == "" {
			s.Kind = defaultStrategyKind
		}
		if s.Capital == 0 {
			s.Capital = defaultStrategyCap
		}
	}
}

func (n *NotifyConfig) applyDefaults(keys keySet) {
	if n == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("notify.log_prefix", &n.LogPrefix, defaultNotifyPrefix),
		stringFieldDefault("notify.telegram.base_url", &n.Telegram.BaseURL, defaultTelegramBase),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
