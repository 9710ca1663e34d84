package market

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"canarydesk/internal/pkg/symbol"
)

type SimConfig struct {
	Seed         int64
	DefaultPrice float64
	StartPrices  map[string]float64
	SpreadBps    float64
	Depth        float64
	StepVol      float64
}

func (c SimConfig) withDefaults() SimConfig {
	if c.DefaultPrice <= 0 {
		c.DefaultPrice = 100
	}
	if c.SpreadBps <= 0 {
		c.SpreadBps = 2
	}
	if c.Depth <= 0 {
		c.Depth = 5
	}
	if c.StepVol <= 0 {
		c.StepVol = 0.001
	}
	return c
}

type simBook struct {
	mid     float64
	ewmaVar float64
	lastTS  time.Time
}

// SimProvider is the paper venue: each GetSnapshot advances a seeded
// geometric random walk for the symbol and quotes a book around it.
type SimProvider struct {
	mu    sync.Mutex
	cfg   SimConfig
	rng   *rand.Rand
	books map[string]*simBook
	fails map[string]int
	nowFn func() time.Time
}

func NewSimProvider(cfg SimConfig) *SimProvider {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimProvider{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		books: make(map[string]*simBook),
		fails: make(map[string]int),
		nowFn: time.Now,
	}
}

// FailNext makes the next n snapshot requests for symbol fail.
func (p *SimProvider) FailNext(sym string, n int) {
	p.mu.Lock()
	p.fails[symbol.Normalize(sym)] = n
	p.mu.Unlock()
}

// SetMid forces the next quote's mid price (tests and scripted scenarios).
func (p *SimProvider) SetMid(sym string, mid float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b := p.bookLocked(symbol.Normalize(sym))
	b.mid = mid
}

func (p *SimProvider) GetSnapshot(ctx context.Context, sym string) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	key := symbol.Normalize(sym)
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := p.fails[key]; n > 0 {
		p.fails[key] = n - 1
		return Snapshot{}, fmt.Errorf("sim %s: %w", key, ErrUnavailable)
	}
	b := p.bookLocked(key)

	z := p.rng.NormFloat64()
	ret := p.cfg.StepVol * z
	b.mid *= math.Exp(ret)
	b.ewmaVar = 0.94*b.ewmaVar + 0.06*ret*ret

	halfSpread := p.cfg.SpreadBps * (1 + 0.5*math.Abs(z)) / 2 / 10_000
	bid := b.mid * (1 - halfSpread)
	ask := b.mid * (1 + halfSpread)
	bidDepth := p.cfg.Depth * (0.5 + p.rng.Float64())
	askDepth := p.cfg.Depth * (0.5 + p.rng.Float64())

	ts := p.nowFn()
	if !ts.After(b.lastTS) {
		ts = b.lastTS.Add(time.Nanosecond)
	}
	b.lastTS = ts
	return NewSnapshot(key, bid, ask, bidDepth, askDepth, math.Sqrt(b.ewmaVar), ts), nil
}

func (p *SimProvider) bookLocked(key string) *simBook {
	b, ok := p.books[key]
	if ok {
		return b
	}
	start := p.cfg.DefaultPrice
	for k, v := range p.cfg.StartPrices {
		if symbol.Normalize(k) == key && v > 0 {
			start = v
		}
	}
	b = &simBook{mid: start, ewmaVar: p.cfg.StepVol * p.cfg.StepVol}
	p.books[key] = b
	return b
}
