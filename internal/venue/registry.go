package venue

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Venue pairs a limiter with its health tracker.
type Venue struct {
	Name    string
	limiter *Limiter
	health  *Health
}

func New(name string, lc LimiterConfig, hc HealthConfig) *Venue {
	l := NewLimiter(lc)
	return &Venue{Name: name, limiter: l, health: NewHealth(name, hc, l)}
}

func (v *Venue) Acquire(ctx context.Context) error { return v.limiter.Acquire(ctx) }

func (v *Venue) RecordOutcome(ok bool) { v.health.Record(ok) }

func (v *Venue) Limiter() *Limiter { return v.limiter }

// SetClock swaps the time source of both limiter and health tracker.
func (v *Venue) SetClock(now func() time.Time, sleep func(context.Context, time.Duration) error) {
	v.limiter.mu.Lock()
	v.limiter.nowFn = now
	if sleep != nil {
		v.limiter.sleepFn = sleep
	}
	v.limiter.mu.Unlock()
	v.health.mu.Lock()
	v.health.setClock(now)
	v.health.mu.Unlock()
}

type Stats struct {
	Name      string       `json:"name"`
	Limiter   LimiterStats `json:"limiter"`
	ErrorRate float64      `json:"error_rate"`
	Blocks    uint64       `json:"blocks"`
	Blocked   bool         `json:"blocked"`
}

func (v *Venue) Stats() Stats {
	ls := v.limiter.Stats()
	return Stats{
		Name:      v.Name,
		Limiter:   ls,
		ErrorRate: v.health.ErrorRate(),
		Blocks:    v.health.Blocks(),
		Blocked:   ls.Blocked,
	}
}

// Registry hands out one Venue per name, created on first use with the
// registry's default configuration.
type Registry struct {
	mu      sync.RWMutex
	venues  map[string]*Venue
	limits  LimiterConfig
	health  HealthConfig
	perName map[string]LimiterConfig
}

func NewRegistry(limits LimiterConfig, health HealthConfig) *Registry {
	return &Registry{
		venues:  make(map[string]*Venue),
		limits:  limits,
		health:  health,
		perName: make(map[string]LimiterConfig),
	}
}

// Configure overrides the limiter configuration for one venue; it only
// affects venues not yet created.
func (r *Registry) Configure(name string, lc LimiterConfig) {
	r.mu.Lock()
	r.perName[strings.ToLower(name)] = lc
	r.mu.Unlock()
}

func (r *Registry) Get(name string) *Venue {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	v, ok := r.venues[key]
	r.mu.RUnlock()
	if ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.venues[key]; ok {
		return v
	}
	lc := r.limits
	if override, ok := r.perName[key]; ok {
		lc = override
	}
	v = New(key, lc, r.health)
	r.venues[key] = v
	return v
}

// Cleanup prunes every venue's windows.
func (r *Registry) Cleanup(now time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.venues {
		v.limiter.Prune(now)
		v.health.Prune(now)
	}
}

func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	out := make([]Stats, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v.Stats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
