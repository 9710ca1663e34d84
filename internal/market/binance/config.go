package binance

import (
	"strings"
	"time"
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	ProxyEnabled bool
	RESTProxyURL string

	// RequestsPerMinute throttles outbound REST calls (weight is not tracked).
	RequestsPerMinute int
	// VolRefresh is how long a kline-derived volatility estimate is reused.
	VolRefresh  time.Duration
	VolLookback int
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	if out.RequestsPerMinute <= 0 {
		out.RequestsPerMinute = 600
	}
	if out.VolRefresh <= 0 {
		out.VolRefresh = time.Minute
	}
	if out.VolLookback <= 1 {
		out.VolLookback = 30
	}
	return out
}
