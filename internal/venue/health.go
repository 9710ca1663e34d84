package venue

import (
	"fmt"
	"sync"
	"time"

	"canarydesk/internal/logger"
	"canarydesk/internal/pkg/circuit"
)

type HealthConfig struct {
	Window           time.Duration
	MinSamples       int
	MaxErrorRate     float64
	FailureThreshold int
	Cooldown         time.Duration
}

func (c HealthConfig) withDefaults() HealthConfig {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 20
	}
	if c.MaxErrorRate <= 0 {
		c.MaxErrorRate = 0.5
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 2 * time.Minute
	}
	return c
}

type outcome struct {
	at time.Time
	ok bool
}

// Health keeps a sliding window of execution outcomes for one venue. Either
// a run of consecutive failures (circuit breaker) or a windowed error rate
// above the ceiling blocks the venue's limiter for the cooldown.
type Health struct {
	mu       sync.Mutex
	name     string
	cfg      HealthConfig
	outcomes []outcome
	breaker  *circuit.CircuitBreaker
	limiter  *Limiter
	blocks   uint64
	nowFn    func() time.Time
}

func NewHealth(name string, cfg HealthConfig, limiter *Limiter) *Health {
	cfg = cfg.withDefaults()
	return &Health{
		name:    name,
		cfg:     cfg,
		breaker: circuit.NewCircuitBreaker("venue."+name, cfg.FailureThreshold, cfg.Cooldown),
		limiter: limiter,
		nowFn:   time.Now,
	}
}

func (h *Health) setClock(now func() time.Time) {
	h.nowFn = now
	h.breaker.SetClock(now)
}

// Record feeds one outcome and blocks the venue when a threshold is crossed.
func (h *Health) Record(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.nowFn()
	h.outcomes = append(h.outcomes, outcome{at: now, ok: ok})
	h.pruneLocked(now)

	// Lets an expired open breaker move to half-open before judging this outcome.
	h.breaker.Allow()
	if ok {
		h.breaker.RecordSuccess()
		return
	}
	wasOpen := h.breaker.State() == circuit.StateOpen
	h.breaker.RecordFailure()
	if wasOpen {
		return
	}
	reason := ""
	if h.breaker.State() == circuit.StateOpen {
		reason = fmt.Sprintf("%d consecutive failures", h.breaker.Failures())
	} else if rate, n := h.errorRateLocked(); n >= h.cfg.MinSamples && rate > h.cfg.MaxErrorRate {
		h.breaker.Trip()
		reason = fmt.Sprintf("error rate %.1f%% over %d samples", rate*100, n)
	}
	if reason == "" {
		return
	}
	until := h.breaker.BlockedUntil()
	if h.limiter != nil {
		h.limiter.Block(until)
	}
	h.blocks++
	h.outcomes = h.outcomes[:0]
	logger.Warnf("Venue %s: blocked until %s (%s)", h.name, until.Format(time.RFC3339), reason)
}

func (h *Health) ErrorRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(h.nowFn())
	rate, _ := h.errorRateLocked()
	return rate
}

func (h *Health) errorRateLocked() (float64, int) {
	n := len(h.outcomes)
	if n == 0 {
		return 0, 0
	}
	failed := 0
	for _, o := range h.outcomes {
		if !o.ok {
			failed++
		}
	}
	return float64(failed) / float64(n), n
}

func (h *Health) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.cfg.Window)
	i := 0
	for i < len(h.outcomes) && h.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		n := copy(h.outcomes, h.outcomes[i:])
		h.outcomes = h.outcomes[:n]
	}
}

func (h *Health) Prune(now time.Time) {
	h.mu.Lock()
	h.pruneLocked(now)
	h.mu.Unlock()
}

func (h *Health) Blocks() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.blocks
}
