package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	symbolpkg "canarydesk/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"
)

const (
	maxHistoryLimit = 1500
	// klineGrace covers the gap between a kline's close and the venue
	// publishing its final values.
	klineGrace = 10 * time.Second
)

type volEntry struct {
	vol float64
	at  time.Time
}

// Provider reads top-of-book snapshots and klines from Binance USDⓈ-M
// futures public REST endpoints. It implements market.Provider and
// market.HistorySource.
type Provider struct {
	cfg     Config
	client  *futures.Client
	limiter *rate.Limiter

	mu       sync.Mutex
	volCache map[string]volEntry
	nowFn    func() time.Time
}

func New(cfg Config) (*Provider, error) {
	final := cfg.withDefaults()
	client := futures.NewClient("", "")
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	perSec := rate.Limit(float64(final.RequestsPerMinute) / 60.0)
	return &Provider{
		cfg:      final,
		client:   client,
		limiter:  rate.NewLimiter(perSec, 5),
		volCache: make(map[string]volEntry),
		nowFn:    time.Now,
	}, nil
}

func (p *Provider) GetSnapshot(ctx context.Context, symbol string) (market.Snapshot, error) {
	clean := symbolpkg.Wire(symbol)
	if clean == "" {
		return market.Snapshot{}, fmt.Errorf("symbol is required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return market.Snapshot{}, err
	}
	depth, err := p.client.NewDepthService().Symbol(clean).Limit(5).Do(ctx)
	if err != nil {
		return market.Snapshot{}, fmt.Errorf("binance depth %s: %w", clean, err)
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return market.Snapshot{}, fmt.Errorf("binance depth %s: empty book: %w", clean, market.ErrUnavailable)
	}
	bid := parseFloat(depth.Bids[0].Price)
	ask := parseFloat(depth.Asks[0].Price)
	bidQty := parseFloat(depth.Bids[0].Quantity)
	askQty := parseFloat(depth.Asks[0].Quantity)

	ts := p.nowFn()
	if depth.Time > 0 {
		ts = time.UnixMilli(depth.Time)
	}
	snap := market.NewSnapshot(symbolpkg.Normalize(symbol), bid, ask, bidQty, askQty, p.volatility(ctx, clean), ts)
	if !snap.Valid() {
		return market.Snapshot{}, fmt.Errorf("binance depth %s: crossed or zero book: %w", clean, market.ErrUnavailable)
	}
	return snap, nil
}

// volatility returns the cached stdev of 1m log returns, refreshing it from
// klines when stale. A refresh failure keeps the last estimate.
func (p *Provider) volatility(ctx context.Context, clean string) float64 {
	p.mu.Lock()
	entry, ok := p.volCache[clean]
	p.mu.Unlock()
	now := p.nowFn()
	if ok && now.Sub(entry.at) < p.cfg.VolRefresh {
		return entry.vol
	}
	candles, err := p.FetchHistory(ctx, clean, "1m", p.cfg.VolLookback+1)
	if err != nil {
		logger.Warnf("BinanceProvider: volatility refresh failed symbol=%s err=%v", clean, err)
		return entry.vol
	}
	vol := realizedVol(candles)
	p.mu.Lock()
	p.volCache[clean] = volEntry{vol: vol, at: now}
	p.mu.Unlock()
	return vol
}

func (p *Provider) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := symbolpkg.Wire(symbol)
	if clean == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	kls, err := p.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if step, err := market.ParseInterval(interval); err == nil {
		out = dropOpenKline(out, step, p.nowFn())
	}
	return out, nil
}

// dropOpenKline removes the trailing kline while it is still forming.
func dropOpenKline(candles []market.Candle, step time.Duration, now time.Time) []market.Candle {
	n := len(candles)
	if n == 0 || candles[n-1].OpenTime <= 0 {
		return candles
	}
	if now.Before(candles[n-1].CloseAt(step).Add(klineGrace)) {
		return candles[:n-1]
	}
	return candles
}

func realizedVol(candles []market.Candle) float64 {
	if len(candles) < 3 {
		return 0
	}
	rets := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev, cur := candles[i-1].Close, candles[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		rets = append(rets, math.Log(cur/prev))
	}
	if len(rets) < 2 {
		return 0
	}
	var mean float64
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	var ss float64
	for _, r := range rets {
		ss += (r - mean) * (r - mean)
	}
	return math.Sqrt(ss / float64(len(rets)-1))
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
