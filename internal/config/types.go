package config

import (
	"strings"
	"time"
)

// Config is the root of the canarydesk configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Market    MarketConfig    `toml:"market"`
	Venue     VenueConfig     `toml:"venue"`
	Execution ExecutionConfig `toml:"execution"`
	Runner    RunnerConfig    `toml:"runner"`
	Canary    CanaryConfig    `toml:"canary"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
	// AutoStart names the canary mode started at boot; empty waits for the API.
	AutoStart string `toml:"auto_start"`
}

type StoreConfig struct {
	Path     string `toml:"path"`
	TapePath string `toml:"tape_path"`
}

type MarketConfig struct {
	Provider string              `toml:"provider"`
	Sim      SimMarketConfig     `toml:"sim"`
	Binance  BinanceMarketConfig `toml:"binance"`
}

type SimMarketConfig struct {
	Seed         int64              `toml:"seed"`
	DefaultPrice float64            `toml:"default_price"`
	StartPrices  map[string]float64 `toml:"start_prices"`
	SpreadBps    float64            `toml:"spread_bps"`
	Depth        float64            `toml:"depth"`
	StepVol      float64            `toml:"step_vol"`
}

type BinanceMarketConfig struct {
	RESTBaseURL       string        `toml:"rest_base_url"`
	HTTPTimeout       time.Duration `toml:"http_timeout"`
	ProxyEnabled      bool          `toml:"proxy_enabled"`
	RESTProxyURL      string        `toml:"rest_proxy_url"`
	RequestsPerMinute int           `toml:"requests_per_minute"`
	VolRefresh        time.Duration `toml:"vol_refresh"`
	VolLookback       int           `toml:"vol_lookback"`
}

type VenueConfig struct {
	PerSecond   int           `toml:"per_second"`
	PerMinute   int           `toml:"per_minute"`
	MaxAttempts int           `toml:"max_attempts"`
	MaxWait     time.Duration `toml:"max_wait"`

	Health HealthConfig `toml:"health"`
}

type HealthConfig struct {
	Window           time.Duration `toml:"window"`
	MinSamples       int           `toml:"min_samples"`
	MaxErrorRate     float64       `toml:"max_error_rate"`
	FailureThreshold int           `toml:"failure_threshold"`
	Cooldown         time.Duration `toml:"cooldown"`
}

type ExecutionConfig struct {
	Venue        string `toml:"venue"`
	DefaultStyle string `toml:"default_style"`

	MakerFeeBps float64 `toml:"maker_fee_bps"`
	TakerFeeBps float64 `toml:"taker_fee_bps"`

	SliceCeiling    float64       `toml:"slice_ceiling"`
	TWAPSlices      int           `toml:"twap_slices"`
	TWAPMinDelay    time.Duration `toml:"twap_min_delay"`
	TWAPMaxDelay    time.Duration `toml:"twap_max_delay"`
	TWAPDriftBps    float64       `toml:"twap_drift_bps"`
	TWAPFilledRatio float64       `toml:"twap_filled_ratio"`

	PostOnlyTimeout     time.Duration `toml:"post_only_timeout"`
	PostOnlyMinQueue    float64       `toml:"post_only_min_queue"`
	PostOnlyBaseFillP   float64       `toml:"post_only_base_fill_p"`
	PostOnlyVolFillK    float64       `toml:"post_only_vol_fill_k"`
	PostOnlyFallbackIOC bool          `toml:"post_only_fallback_ioc"`

	IOCSlippageBps    float64 `toml:"ioc_slippage_bps"`
	MarketSlippageBps float64 `toml:"market_slippage_bps"`

	SpikeWindow     time.Duration `toml:"spike_window"`
	SpikeSigma      float64       `toml:"spike_sigma"`
	SpikeMinSamples int           `toml:"spike_min_samples"`
	SpikeDelay      time.Duration `toml:"spike_delay"`

	DataRetryDelay time.Duration `toml:"data_retry_delay"`
	HistorySize    int           `toml:"history_size"`
}

type RunnerConfig struct {
	Heartbeat   time.Duration `toml:"heartbeat"`
	PriceRetry  time.Duration `toml:"price_retry"`
	MinStrength float64       `toml:"min_strength"`

	StopDistance      float64 `toml:"stop_distance"`
	MaxOrderNotional  float64 `toml:"max_order_notional"`
	MaxSymbolExposure float64 `toml:"max_symbol_exposure"`
	PositionCap       float64 `toml:"position_cap"`
	DailyLossLimit    float64 `toml:"daily_loss_limit"`
	LimitBufferBps    float64 `toml:"limit_buffer_bps"`
	ExitBufferBps     float64 `toml:"exit_buffer_bps"`
	StopLoss          float64 `toml:"stop_loss"`
	TakeProfit        float64 `toml:"take_profit"`
	ExitStyle         string  `toml:"exit_style"`

	VenueCleanup time.Duration `toml:"venue_cleanup"`
	WeightsPath  string        `toml:"weights_path"`

	AutoGates  AutoGatesConfig  `toml:"auto_gates"`
	KRamp      KRampConfig      `toml:"k_ramp"`
	Replay     ReplayConfig     `toml:"replay"`
	Strategies []StrategyConfig `toml:"strategies"`
}

type AutoGatesConfig struct {
	Interval          time.Duration `toml:"interval"`
	MaxErrorRate      float64       `toml:"max_error_rate"`
	MinAttempts       int           `toml:"min_attempts"`
	MaxP95SlippageBps float64       `toml:"max_p95_slippage_bps"`
	MaxDrawdown       float64       `toml:"max_drawdown"`
	MaxDailyLoss      float64       `toml:"max_daily_loss"`
	StopViolations    int           `toml:"stop_violations"`
	KillStoppedRatio  float64       `toml:"kill_stopped_ratio"`
	DailyLossFatal    bool          `toml:"daily_loss_fatal"`
}

type KStepConfig struct {
	Day        int     `toml:"day"`
	Multiplier float64 `toml:"multiplier"`
}

type KRampConfig struct {
	Interval  time.Duration `toml:"interval"`
	DayLength time.Duration `toml:"day_length"`
	Steps     []KStepConfig `toml:"steps"`
}

type ReplayConfig struct {
	Enabled          bool          `toml:"enabled"`
	Interval         time.Duration `toml:"interval"`
	MaxDivergencePct float64       `toml:"max_divergence_pct"`
	Keep             int           `toml:"keep"`
	// Source is "tape" (recorded mids) or "market" (provider klines).
	Source        string `toml:"source"`
	KlineInterval string `toml:"kline_interval"`
	KlineLimit    int    `toml:"kline_limit"`
}

type StrategyConfig struct {
	Name    string   `toml:"name"`
	Kind    string   `toml:"kind"`
	Symbols []string `toml:"symbols"`
	Capital float64  `toml:"capital"`
	Style   string   `toml:"style"`

	Fast       int     `toml:"fast"`
	Slow       int     `toml:"slow"`
	History    int     `toml:"history"`
	ScaleBps   float64 `toml:"scale_bps"`
	Direction  int     `toml:"direction"`
	Strength   float64 `toml:"strength"`
	Confidence float64 `toml:"confidence"`
}

type RampStepConfig struct {
	FromDay int     `toml:"from_day"`
	Pct     float64 `toml:"pct"`
}

type CanaryGatesConfig struct {
	MaxLossPct        float64 `toml:"max_loss_pct"`
	MaxDrawdown       float64 `toml:"max_drawdown"`
	MaxErrorRate      float64 `toml:"max_error_rate"`
	MaxP95SlippageBps float64 `toml:"max_p95_slippage_bps"`
	MinTrades         int     `toml:"min_trades"`
}

type CanaryConfig struct {
	Ramp           []RampStepConfig  `toml:"ramp"`
	Gates          CanaryGatesConfig `toml:"gates"`
	KillDrawdown   float64           `toml:"kill_drawdown"`
	LiveCapitalPct float64           `toml:"live_capital_pct"`
	ManualRamp     bool              `toml:"manual_ramp"`

	DayLength      time.Duration `toml:"day_length"`
	EvalInterval   time.Duration `toml:"eval_interval"`
	GateInterval   time.Duration `toml:"gate_interval"`
	ReportInterval time.Duration `toml:"report_interval"`
	MiddayOffset   time.Duration `toml:"midday_offset"`
	EODOffset      time.Duration `toml:"eod_offset"`
	KeepReports    int           `toml:"keep_reports"`
}

type NotifyConfig struct {
	LogPrefix string         `toml:"log_prefix"`
	Telegram  TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
	BaseURL  string `toml:"base_url"`
}

// keySet tracks the config paths set explicitly by a file or the environment.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
