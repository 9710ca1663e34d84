// Package venue tracks per-venue request budgets and health. Every execution
// attempt reserves a slot here before touching the (simulated) exchange.
package venue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrRateLimited  = errors.New("venue rate limit exceeded")
	ErrVenueBlocked = errors.New("venue blocked")
)

const minuteWindow = time.Minute

type LimiterConfig struct {
	PerSecond   int
	PerMinute   int
	MaxAttempts int
	MaxWait     time.Duration
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxWait <= 0 {
		c.MaxWait = time.Second
	}
	return c
}

// Limiter is a sliding-window limiter over request timestamps with both a
// per-second and a per-minute ceiling. The check and the reservation happen
// under one lock so concurrent callers can never both pass and overshoot.
type Limiter struct {
	mu           sync.Mutex
	cfg          LimiterConfig
	window       []time.Time
	total        uint64
	rejected     uint64
	blockedUntil time.Time

	nowFn   func() time.Time
	sleepFn func(context.Context, time.Duration) error
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	return &Limiter{
		cfg:     cfg.withDefaults(),
		nowFn:   time.Now,
		sleepFn: sleepCtx,
	}
}

// Allow reserves a slot at the current time if both ceilings permit.
func (l *Limiter) Allow() bool {
	_, err := l.reserve(l.nowFn())
	return err == nil
}

// Acquire reserves a slot, waiting for the window to free up at most
// MaxAttempts-1 times. It fails fast while the venue is blocked.
func (l *Limiter) Acquire(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		wait, err := l.reserve(l.nowFn())
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrVenueBlocked) || attempt >= l.cfg.MaxAttempts {
			return err
		}
		if wait > l.cfg.MaxWait {
			wait = l.cfg.MaxWait
		}
		if err := l.sleepFn(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) reserve(now time.Time) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total++
	if now.Before(l.blockedUntil) {
		l.rejected++
		return l.blockedUntil.Sub(now), ErrVenueBlocked
	}
	l.pruneLocked(now)

	if l.cfg.PerMinute > 0 && len(l.window) >= l.cfg.PerMinute {
		l.rejected++
		return l.window[0].Add(minuteWindow).Sub(now), ErrRateLimited
	}
	if l.cfg.PerSecond > 0 {
		cutoff := now.Add(-time.Second)
		inSecond := 0
		oldest := now
		for i := len(l.window) - 1; i >= 0 && l.window[i].After(cutoff); i-- {
			inSecond++
			oldest = l.window[i]
		}
		if inSecond >= l.cfg.PerSecond {
			l.rejected++
			return oldest.Add(time.Second).Sub(now), ErrRateLimited
		}
	}
	l.window = append(l.window, now)
	return 0, nil
}

func (l *Limiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-minuteWindow)
	i := 0
	for i < len(l.window) && !l.window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	// Copy down so the backing array does not keep growing.
	n := copy(l.window, l.window[i:])
	l.window = l.window[:n]
}

// Prune drops timestamps that left the window; the cleanup monitor calls it
// so idle venues release memory.
func (l *Limiter) Prune(now time.Time) {
	l.mu.Lock()
	l.pruneLocked(now)
	l.mu.Unlock()
}

// Block rejects every reservation until the given time. Earlier times never
// shorten an existing block.
func (l *Limiter) Block(until time.Time) {
	l.mu.Lock()
	if until.After(l.blockedUntil) {
		l.blockedUntil = until
	}
	l.mu.Unlock()
}

type LimiterStats struct {
	PerSecond    int       `json:"per_second"`
	PerMinute    int       `json:"per_minute"`
	InWindow     int       `json:"in_window"`
	Total        uint64    `json:"total"`
	Rejected     uint64    `json:"rejected"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
	Blocked      bool      `json:"blocked"`
}

func (l *Limiter) Stats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LimiterStats{
		PerSecond:    l.cfg.PerSecond,
		PerMinute:    l.cfg.PerMinute,
		InWindow:     len(l.window),
		Total:        l.total,
		Rejected:     l.rejected,
		BlockedUntil: l.blockedUntil,
		Blocked:      l.nowFn().Before(l.blockedUntil),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
