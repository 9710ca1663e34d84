package execution

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/logger"
	"canarydesk/internal/market"
	"canarydesk/internal/pkg/money"
	"canarydesk/internal/pkg/symbol"
	"canarydesk/internal/scheduler"
	"canarydesk/internal/venue"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Recorder persists resolved executions. Failures are logged, never fatal.
type Recorder interface {
	SaveExecution(ctx context.Context, rec Record) error
}

type EngineOption func(*Engine)

func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
		if sleep != nil {
			e.sleepFn = sleep
		}
	}
}

// WithSampler replaces the uniform [0,1) source behind fill draws and delays.
func WithSampler(sample func() float64) EngineOption {
	return func(e *Engine) {
		if sample != nil {
			e.sampleFn = sample
		}
	}
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

func WithRegisterer(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.metrics = newCollectors(reg) }
}

type fill struct {
	status  Status
	style   Style
	qty     decimal.Decimal
	price   decimal.Decimal
	feeRate decimal.Decimal
	fee     decimal.Decimal
	reason  string
	slices  int
}

type styleFunc func(ctx context.Context, req Request, snap market.Snapshot) (fill, error)

// Engine turns order intents into simulated fills against the provider's
// book. It never touches a ledger; callers apply the returned fill.
type Engine struct {
	cfg      Config
	provider market.Provider
	venue    *venue.Venue
	spikes   *SpikeFilter
	history  *history
	recorder Recorder
	metrics  *collectors
	styles   map[Style]styleFunc

	makerRate decimal.Decimal
	takerRate decimal.Decimal

	nowFn    func() time.Time
	sleepFn  func(context.Context, time.Duration) error
	sampleMu sync.Mutex
	sampleFn func() float64

	seenMu sync.Mutex
	seen   map[string]time.Time
}

func NewEngine(cfg Config, provider market.Provider, v *venue.Venue, opts ...EngineOption) *Engine {
	cfg = cfg.withDefaults()
	if v == nil {
		v = venue.New(cfg.Venue, venue.LimiterConfig{}, venue.HealthConfig{})
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	e := &Engine{
		cfg:       cfg,
		provider:  provider,
		venue:     v,
		spikes:    NewSpikeFilter(cfg.SpikeWindow, cfg.SpikeSigma, cfg.SpikeMinSamples),
		history:   newHistory(cfg.HistorySize),
		makerRate: money.FromBps(cfg.MakerFeeBps),
		takerRate: money.FromBps(cfg.TakerFeeBps),
		nowFn:     time.Now,
		sleepFn:   scheduler.Sleep,
		sampleFn:  rng.Float64,
		seen:      make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newCollectors(nil)
	}
	e.styles = map[Style]styleFunc{
		StylePostOnly: e.postOnly,
		StyleIOC:      e.ioc,
		StyleMarket:   e.market,
		StyleTWAP:     e.twap,
	}
	return e
}

// MaxFeeRate is the highest fee rate any style may charge.
func (e *Engine) MaxFeeRate() decimal.Decimal {
	return money.Max(e.makerRate, e.takerRate)
}

// DefaultStyle is the style used for requests that leave Style empty.
func (e *Engine) DefaultStyle() Style { return e.cfg.DefaultStyle }

// Execute resolves one order. The returned Result is meaningful even when
// err is non-nil: a cancelled TWAP may carry slices that already filled,
// and callers must apply any fill it reports.
func (e *Engine) Execute(ctx context.Context, req Request) (Result, error) {
	req.Symbol = symbol.Normalize(req.Symbol)
	if req.Style == "" {
		req.Style = e.cfg.DefaultStyle
	}
	res := Result{
		OrderID:      uuid.NewString(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		Style:        req.Style,
		Status:       StatusPending,
		RequestedQty: req.Quantity,
		SubmittedAt:  e.nowFn(),
	}
	if err := req.validate(); err != nil {
		res.Status = StatusRejected
		res.Reason = err.Error()
		res.ResolvedAt = res.SubmittedAt
		return res, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	handler, ok := e.styles[req.Style]
	if !ok {
		res.Status = StatusRejected
		res.Reason = "unknown style " + string(req.Style)
		res.ResolvedAt = res.SubmittedAt
		return res, fmt.Errorf("%w: unknown style %q", ErrInvalidRequest, req.Style)
	}

	snap, err := e.snapshot(ctx, req.Symbol)
	if err != nil {
		res = e.finish(ctx, req, res, fill{status: StatusRejected, style: req.Style, reason: err.Error()}, snap)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, fmt.Errorf("%w: %s: %v", ErrMarketData, req.Symbol, err)
	}

	if req.Style != StyleTWAP && e.cfg.SliceCeiling > 0 {
		notional := money.ToFloat(req.Quantity) * snap.Mid
		if notional > e.cfg.SliceCeiling {
			logger.Infof("Execution: routing to twap symbol=%s notional=%.2f ceiling=%.2f", req.Symbol, notional, e.cfg.SliceCeiling)
			handler = e.twap
		}
	}
	f, err := handler(ctx, req, snap)
	return e.finish(ctx, req, res, f, snap), err
}

// QualityReport summarises the retained execution history.
func (e *Engine) QualityReport() QualityReport {
	return buildQualityReport(e.history.snapshot())
}

// History returns the retained records, oldest first.
func (e *Engine) History() []Record {
	return e.history.snapshot()
}

func (e *Engine) sample() float64 {
	e.sampleMu.Lock()
	defer e.sampleMu.Unlock()
	return e.sampleFn()
}

// fetch gets one snapshot, retrying once. Each attempt feeds venue health.
func (e *Engine) fetch(ctx context.Context, sym string) (market.Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			if err := e.sleepFn(ctx, e.cfg.DataRetryDelay); err != nil {
				return market.Snapshot{}, err
			}
		}
		snap, err := e.provider.GetSnapshot(ctx, sym)
		if err == nil {
			err = e.checkFresh(sym, snap)
		}
		if err == nil {
			e.venue.RecordOutcome(true)
			return snap, nil
		}
		if ctx.Err() != nil {
			return market.Snapshot{}, ctx.Err()
		}
		e.venue.RecordOutcome(false)
		lastErr = err
		logger.Warnf("Execution: snapshot failed symbol=%s attempt=%d err=%v", sym, attempt+1, err)
	}
	return market.Snapshot{}, lastErr
}

func (e *Engine) checkFresh(sym string, snap market.Snapshot) error {
	if !snap.Valid() {
		return fmt.Errorf("invalid book bid=%v ask=%v: %w", snap.Bid, snap.Ask, market.ErrUnavailable)
	}
	e.seenMu.Lock()
	defer e.seenMu.Unlock()
	last := e.seen[sym]
	if snap.Timestamp.Before(last) {
		return fmt.Errorf("stale snapshot ts=%s last=%s: %w", snap.Timestamp, last, market.ErrUnavailable)
	}
	e.seen[sym] = snap.Timestamp
	return nil
}

// snapshot fetches a book and runs it through the spike filter. A spike
// causes one delayed refetch; the result is used whatever it looks like.
func (e *Engine) snapshot(ctx context.Context, sym string) (market.Snapshot, error) {
	snap, err := e.fetch(ctx, sym)
	if err != nil {
		return snap, err
	}
	if z, spike := e.spikes.Check(sym, snap.Timestamp, snap.Mid); spike {
		e.metrics.spikes.Inc()
		logger.Warnf("Execution: spike filtered symbol=%s mid=%.8f z=%.2f, refetching", sym, snap.Mid, z)
		if err := e.sleepFn(ctx, e.cfg.SpikeDelay); err != nil {
			return snap, err
		}
		fresh, err := e.fetch(ctx, sym)
		switch {
		case err == nil:
			snap = fresh
		case ctx.Err() != nil:
			return snap, ctx.Err()
		default:
			logger.Warnf("Execution: spike refetch failed symbol=%s, using first snapshot err=%v", sym, err)
		}
	}
	e.spikes.Observe(sym, snap.Timestamp, snap.Mid)
	return snap, nil
}

func (e *Engine) acquire(ctx context.Context) error {
	err := e.venue.Acquire(ctx)
	if err == nil {
		return nil
	}
	reason := "rate_limited"
	if errors.Is(err, venue.ErrVenueBlocked) {
		reason = "blocked"
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	e.metrics.rejections.WithLabelValues(e.venue.Name, reason).Inc()
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

// postOnlyOffsetBps widens with spread and volatility, clamped to [1, 20].
func postOnlyOffsetBps(snap market.Snapshot) float64 {
	return money.Clamp(1+0.5*snap.SpreadBps+0.5*snap.Volatility*10_000, 1, 20)
}

func (e *Engine) postOnly(ctx context.Context, req Request, snap market.Snapshot) (fill, error) {
	offset := postOnlyOffsetBps(snap)
	var (
		price decimal.Decimal
		depth float64
	)
	if req.Side == SideBuy {
		price = money.AdjustPrice(money.FromFloat(snap.Bid), offset, -1)
		depth = snap.BidDepth
		if req.LimitPrice.IsPositive() {
			price = money.Min(price, req.LimitPrice)
		}
	} else {
		price = money.AdjustPrice(money.FromFloat(snap.Ask), offset, 1)
		depth = snap.AskDepth
		if req.LimitPrice.IsPositive() {
			price = money.Max(price, req.LimitPrice)
		}
	}
	price = price.Round(8)

	queue := depth / (1 + offset/10)
	if queue < e.cfg.PostOnlyMinQueue {
		logger.Warnf("Execution: post-only rejected symbol=%s queue=%.6f min=%.6f", req.Symbol, queue, e.cfg.PostOnlyMinQueue)
		return fill{status: StatusRejected, style: StylePostOnly, reason: fmt.Sprintf("queue depth %.6f below minimum %.6f", queue, e.cfg.PostOnlyMinQueue)}, nil
	}
	if err := e.acquire(ctx); err != nil {
		return fill{status: StatusRejected, style: StylePostOnly, reason: err.Error()}, err
	}

	prob := money.Clamp(e.cfg.PostOnlyBaseFillP+snap.Volatility*e.cfg.PostOnlyVolFillK, 0.05, 0.95)
	if u := e.sample(); u < prob {
		wait := time.Duration(float64(e.cfg.PostOnlyTimeout) * u / prob)
		if err := e.sleepFn(ctx, wait); err != nil {
			return fill{status: StatusRejected, style: StylePostOnly, reason: "cancelled while resting"}, err
		}
		return fill{
			status:  StatusFilled,
			style:   StylePostOnly,
			qty:     req.Quantity,
			price:   price,
			feeRate: e.makerRate,
			fee:     req.Quantity.Mul(price).Mul(e.makerRate),
		}, nil
	}
	if err := e.sleepFn(ctx, e.cfg.PostOnlyTimeout); err != nil {
		return fill{status: StatusRejected, style: StylePostOnly, reason: "cancelled while resting"}, err
	}
	if !e.cfg.PostOnlyFallbackIOC {
		return fill{status: StatusTimeout, style: StylePostOnly, reason: "post-only not filled before timeout"}, nil
	}
	fresh, err := e.fetch(ctx, req.Symbol)
	if err != nil {
		if ctx.Err() != nil {
			return fill{status: StatusTimeout, style: StylePostOnly, reason: "cancelled after timeout"}, ctx.Err()
		}
		logger.Warnf("Execution: ioc fallback skipped symbol=%s err=%v", req.Symbol, err)
		return fill{status: StatusTimeout, style: StylePostOnly, reason: "post-only timeout, fallback snapshot failed"}, nil
	}
	logger.Debugf("Execution: post-only timeout, falling back to ioc symbol=%s", req.Symbol)
	f, err := e.ioc(ctx, req, fresh)
	f.reason = strings.TrimSpace("post-only timeout " + f.reason)
	return f, err
}

func farTouch(side Side, snap market.Snapshot) (float64, float64) {
	if side == SideBuy {
		return snap.Ask, snap.AskDepth
	}
	return snap.Bid, snap.BidDepth
}

// beyondLimit reports whether price is worse than the request's limit.
func beyondLimit(req Request, price decimal.Decimal) bool {
	if !req.LimitPrice.IsPositive() {
		return false
	}
	if req.Side == SideBuy {
		return price.GreaterThan(req.LimitPrice)
	}
	return price.LessThan(req.LimitPrice)
}

func (e *Engine) ioc(ctx context.Context, req Request, snap market.Snapshot) (fill, error) {
	if err := e.acquire(ctx); err != nil {
		return fill{status: StatusRejected, style: StyleIOC, reason: err.Error()}, err
	}
	px, depth := farTouch(req.Side, snap)
	touch := money.FromFloat(px)
	if depth <= 0 {
		return fill{status: StatusFailed, style: StyleIOC, reason: "no liquidity at touch"}, nil
	}
	if beyondLimit(req, touch) {
		return fill{status: StatusFailed, style: StyleIOC, reason: "touch beyond limit price"}, nil
	}
	qty := money.Min(req.Quantity, money.TruncQty(money.FromFloat(depth)))
	if !qty.IsPositive() {
		return fill{status: StatusFailed, style: StyleIOC, reason: "no liquidity at touch"}, nil
	}
	slip := e.cfg.IOCSlippageBps * (0.5 + e.sample())
	price := money.AdjustPrice(touch, slip, req.Side.Sign())
	if beyondLimit(req, price) {
		price = req.LimitPrice
	}
	price = price.Round(8)
	status := StatusFilled
	if qty.LessThan(req.Quantity) {
		status = StatusPartial
	}
	return fill{
		status:  status,
		style:   StyleIOC,
		qty:     qty,
		price:   price,
		feeRate: e.takerRate,
		fee:     qty.Mul(price).Mul(e.takerRate),
	}, nil
}

func (e *Engine) market(ctx context.Context, req Request, snap market.Snapshot) (fill, error) {
	px, depth := farTouch(req.Side, snap)
	slip := e.cfg.MarketSlippageBps * (0.75 + 0.5*e.sample())
	if qty := money.ToFloat(req.Quantity); depth > 0 && qty > depth {
		slip += money.Clamp(e.cfg.MarketSlippageBps*(qty/depth-1), 0, 10*e.cfg.MarketSlippageBps)
	}
	price := money.AdjustPrice(money.FromFloat(px), slip, req.Side.Sign()).Round(8)
	if beyondLimit(req, price) {
		return fill{status: StatusRejected, style: StyleMarket, reason: "modelled price beyond limit"}, nil
	}
	if err := e.acquire(ctx); err != nil {
		return fill{status: StatusRejected, style: StyleMarket, reason: err.Error()}, err
	}
	return fill{
		status:  StatusFilled,
		style:   StyleMarket,
		qty:     req.Quantity,
		price:   price,
		feeRate: e.takerRate,
		fee:     req.Quantity.Mul(price).Mul(e.takerRate),
	}, nil
}

func (e *Engine) finish(ctx context.Context, req Request, res Result, f fill, snap market.Snapshot) Result {
	res.Status = f.status
	if f.style != "" {
		res.Style = f.style
	}
	res.FilledQty = f.qty
	res.AvgPrice = f.price
	res.FeeRate = f.feeRate
	res.Fee = f.fee.Round(8)
	res.Reason = f.reason
	res.ResolvedAt = e.nowFn()

	m := Metrics{BenchmarkPrice: snap.Mid, Slices: f.slices}
	if req.Quantity.IsPositive() {
		m.FillRatio = money.ToFloat(f.qty.Div(req.Quantity))
	}
	if res.HasFill() && snap.Mid > 0 {
		dev := money.Bps(f.price, money.FromFloat(snap.Mid))
		m.SlippageBps = dev * float64(req.Side.Sign())
		if dev < 0 {
			dev = -dev
		}
		m.EffectiveSpreadBps = 2 * dev
		m.TimeToFill = res.ResolvedAt.Sub(res.SubmittedAt)
		e.metrics.slippage.WithLabelValues(string(req.Style)).Observe(m.SlippageBps)
	}
	res.Metrics = m
	e.metrics.executions.WithLabelValues(string(req.Style), string(res.Status)).Inc()

	rec := Record{Request: req, Result: res}
	e.history.add(rec)
	if e.recorder != nil {
		if err := e.recorder.SaveExecution(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warnf("Execution: persist failed order=%s err=%v", res.OrderID, err)
		}
	}
	if res.HasFill() {
		logger.Infof("Execution: %s %s %s qty=%s/%s px=%s status=%s slip=%.2fbps",
			res.Style, res.Side, res.Symbol, res.FilledQty, res.RequestedQty, res.AvgPrice, res.Status, m.SlippageBps)
	} else {
		logger.Warnf("Execution: %s %s %s unresolved status=%s reason=%s",
			res.Style, res.Side, res.Symbol, res.Status, res.Reason)
	}
	return res
}
