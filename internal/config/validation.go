package config

import (
	"fmt"
	"strings"
)

var (
	validModes     = []string{"shadow", "canary", "live"}
	validStyles    = []string{"post_only", "ioc", "market", "twap"}
	validLevels    = []string{"debug", "info", "warn", "warning", "error"}
	validProviders = []string{"sim", "binance"}
	validKinds     = []string{"ema_cross", "static"}
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Runner.validate(); err != nil {
		return err
	}
	if err := validateSlicing(&c.Execution, &c.Runner); err != nil {
		return err
	}
	if err := c.Canary.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	if !oneOf(a.LogLevel, validLevels) {
		return fmt.Errorf("app.log_level must be one of %v, got %q", validLevels, a.LogLevel)
	}
	if f := strings.ToLower(a.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("app.log_format must be text or json, got %q", a.LogFormat)
	}
	if a.AutoStart != "" && !oneOf(a.AutoStart, validModes) {
		return fmt.Errorf("app.auto_start must be empty or one of %v, got %q", validModes, a.AutoStart)
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if !oneOf(m.Provider, validProviders) {
		return fmt.Errorf("market.provider must be one of %v, got %q", validProviders, m.Provider)
	}
	if m.Sim.SpreadBps < 0 || m.Sim.StepVol < 0 || m.Sim.Depth < 0 {
		return fmt.Errorf("market.sim values must be >= 0")
	}
	for sym, px := range m.Sim.StartPrices {
		if px <= 0 {
			return fmt.Errorf("market.sim.start_prices.%s must be > 0", sym)
		}
	}
	if m.Binance.ProxyEnabled && strings.TrimSpace(m.Binance.RESTProxyURL) == "" {
		return fmt.Errorf("market.binance.rest_proxy_url is required when proxy_enabled")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if !oneOf(e.DefaultStyle, validStyles[:3]) {
		return fmt.Errorf("execution.default_style must be one of %v, got %q", validStyles[:3], e.DefaultStyle)
	}
	if e.MakerFeeBps < 0 || e.TakerFeeBps < 0 {
		return fmt.Errorf("execution fees must be >= 0")
	}
	if e.TWAPFilledRatio < 0 || e.TWAPFilledRatio > 1 {
		return fmt.Errorf("execution.twap_filled_ratio must be within [0,1]")
	}
	if e.TWAPMaxDelay > 0 && e.TWAPMaxDelay < e.TWAPMinDelay {
		return fmt.Errorf("execution.twap_max_delay must be >= twap_min_delay")
	}
	return nil
}

func (r *RunnerConfig) validate() error {
	if len(r.Strategies) == 0 {
		return fmt.Errorf("runner.strategies requires at least one strategy")
	}
	if !oneOf(r.ExitStyle, validStyles) {
		return fmt.Errorf("runner.exit_style must be one of %v, got %q", validStyles, r.ExitStyle)
	}
	if r.StopDistance < 0 || r.StopDistance >= 1 {
		return fmt.Errorf("runner.stop_distance must be within [0,1)")
	}
	if r.DailyLossLimit < 0 || r.DailyLossLimit > 1 {
		return fmt.Errorf("runner.daily_loss_limit must be within [0,1]")
	}
	if src := r.Replay.Source; src != "tape" && src != "market" {
		return fmt.Errorf("runner.replay.source must be tape or market, got %q", src)
	}
	if r.AutoGates.KillStoppedRatio < 0 || r.AutoGates.KillStoppedRatio > 1 {
		return fmt.Errorf("runner.auto_gates.kill_stopped_ratio must be within [0,1]")
	}
	names := make(map[string]bool, len(r.Strategies))
	for i, s := range r.Strategies {
		if s.Name == "" {
			return fmt.Errorf("runner.strategies[%d] missing name", i)
		}
		if names[s.Name] {
			return fmt.Errorf("runner.strategies contains duplicate name %q", s.Name)
		}
		names[s.Name] = true
		if len(s.Symbols) == 0 {
			return fmt.Errorf("runner.strategies.%s requires at least one symbol", s.Name)
		}
		if !oneOf(s.Kind, validKinds) {
			return fmt.Errorf("runner.strategies.%s kind must be one of %v, got %q", s.Name, validKinds, s.Kind)
		}
		if s.Capital < 0 {
			return fmt.Errorf("runner.strategies.%s capital must be > 0", s.Name)
		}
		if s.Style != "" && !oneOf(s.Style, validStyles) {
			return fmt.Errorf("runner.strategies.%s style must be one of %v, got %q", s.Name, validStyles, s.Style)
		}
	}
	for _, st := range r.KRamp.Steps {
		if st.Day < 0 || st.Multiplier < 0 {
			return fmt.Errorf("runner.k_ramp.steps must have day >= 0 and multiplier >= 0")
		}
	}
	return nil
}

// validateSlicing rejects a slice ceiling the runner's order caps can never reach.
func validateSlicing(e *ExecutionConfig, r *RunnerConfig) error {
	limit := r.MaxOrderNotional
	if r.PositionCap > 0 && (limit <= 0 || r.PositionCap < limit) {
		limit = r.PositionCap
	}
	if limit > 0 && e.SliceCeiling > 0 && e.SliceCeiling >= limit {
		return fmt.Errorf("execution.slice_ceiling %v must be below the runner order cap %v (0 disables slicing)", e.SliceCeiling, limit)
	}
	return nil
}

func (c *CanaryConfig) validate() error {
	for _, st := range c.Ramp {
		if st.FromDay < 1 {
			return fmt.Errorf("canary.ramp from_day must be >= 1, got %d", st.FromDay)
		}
		if st.Pct <= 0 || st.Pct > 100 {
			return fmt.Errorf("canary.ramp pct must be within (0,100], got %v", st.Pct)
		}
	}
	if c.KillDrawdown < 0 || c.KillDrawdown > 1 {
		return fmt.Errorf("canary.kill_drawdown must be within [0,1]")
	}
	if c.LiveCapitalPct < 0 || c.LiveCapitalPct > 100 {
		return fmt.Errorf("canary.live_capital_pct must be within [0,100]")
	}
	if c.Gates.MaxDrawdown < 0 || c.Gates.MaxLossPct < 0 || c.Gates.MaxErrorRate < 0 {
		return fmt.Errorf("canary.gates thresholds must be >= 0")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
