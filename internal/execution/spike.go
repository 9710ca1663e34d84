package execution

import (
	"math"
	"strings"
	"sync"
	"time"

	"canarydesk/internal/pkg/stats"
)

const spikeRingCapacity = 512

type pricePoint struct {
	ts    time.Time
	price float64
}

// priceRing is a fixed-capacity ring of recent mids for one symbol. Appends
// are serialised by mu; readers copy out under the same lock.
type priceRing struct {
	mu   sync.Mutex
	buf  []pricePoint
	head int
	n    int
}

func newPriceRing(capacity int) *priceRing {
	return &priceRing{buf: make([]pricePoint, capacity)}
}

func (r *priceRing) pruneLocked(cutoff time.Time) {
	for r.n > 0 {
		oldest := (r.head - r.n + len(r.buf)) % len(r.buf)
		if !r.buf[oldest].ts.Before(cutoff) {
			return
		}
		r.n--
	}
}

func (r *priceRing) push(p pricePoint, cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(cutoff)
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
}

func (r *priceRing) values(cutoff time.Time) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(cutoff)
	out := make([]float64, 0, r.n)
	for i := r.n; i > 0; i-- {
		out = append(out, r.buf[(r.head-i+len(r.buf))%len(r.buf)].price)
	}
	return out
}

// SpikeFilter flags mids further than Sigma standard deviations from the
// rolling mean of the last Window of observations.
type SpikeFilter struct {
	window     time.Duration
	sigma      float64
	minSamples int

	mu    sync.RWMutex
	rings map[string]*priceRing
}

func NewSpikeFilter(window time.Duration, sigma float64, minSamples int) *SpikeFilter {
	return &SpikeFilter{
		window:     window,
		sigma:      sigma,
		minSamples: minSamples,
		rings:      make(map[string]*priceRing),
	}
}

func (f *SpikeFilter) ring(symbol string) *priceRing {
	key := strings.ToUpper(symbol)
	f.mu.RLock()
	r, ok := f.rings[key]
	f.mu.RUnlock()
	if ok {
		return r
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok = f.rings[key]; ok {
		return r
	}
	r = newPriceRing(spikeRingCapacity)
	f.rings[key] = r
	return r
}

// Check scores price against the window ending at ts without recording it.
// It returns the z-score and whether it exceeds the threshold; windows with
// too few samples or no dispersion never flag.
func (f *SpikeFilter) Check(symbol string, ts time.Time, price float64) (float64, bool) {
	vals := f.ring(symbol).values(ts.Add(-f.window))
	if len(vals) < f.minSamples {
		return 0, false
	}
	sd := stats.StdDev(vals)
	if sd <= 0 {
		return 0, false
	}
	z := math.Abs(price-stats.Mean(vals)) / sd
	return z, z > f.sigma
}

func (f *SpikeFilter) Observe(symbol string, ts time.Time, price float64) {
	if price <= 0 {
		return
	}
	f.ring(symbol).push(pricePoint{ts: ts, price: price}, ts.Add(-f.window))
}

// Samples returns how many observations are inside the window ending at ts.
func (f *SpikeFilter) Samples(symbol string, ts time.Time) int {
	return len(f.ring(symbol).values(ts.Add(-f.window)))
}
