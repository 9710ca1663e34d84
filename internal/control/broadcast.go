// Package control holds the process-wide trading controls (mode, capital
// percentage, kill switch) as a versioned snapshot. One writer at a time
// replaces the snapshot; readers load it without locking on every iteration.
package control

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Mode string

const (
	ModeShadow Mode = "shadow"
	ModeCanary Mode = "canary"
	ModeLive   Mode = "live"
)

// ParseMode accepts the three mode names case-insensitively.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeShadow:
		return ModeShadow, true
	case ModeCanary:
		return ModeCanary, true
	case ModeLive:
		return ModeLive, true
	default:
		return "", false
	}
}

// State is immutable once published; Update works on a copy.
type State struct {
	Version    uint64    `json:"version"`
	SessionID  string    `json:"session_id"`
	Mode       Mode      `json:"mode"`
	CapitalPct float64   `json:"capital_pct"`
	KillSwitch bool      `json:"kill_switch"`
	KillReason string    `json:"kill_reason,omitempty"`
	Day        int       `json:"day"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CapitalFraction returns CapitalPct as a fraction in [0, 1].
func (s State) CapitalFraction() float64 {
	switch {
	case s.CapitalPct <= 0:
		return 0
	case s.CapitalPct >= 100:
		return 1
	default:
		return s.CapitalPct / 100
	}
}

type Broadcast struct {
	writeMu sync.Mutex
	current atomic.Pointer[State]
	nowFn   func() time.Time
}

// NewBroadcast publishes the initial state at version 1.
func NewBroadcast(initial State) *Broadcast {
	b := &Broadcast{nowFn: time.Now}
	initial.Version = 1
	initial.UpdatedAt = b.nowFn()
	b.current.Store(&initial)
	return b
}

func (b *Broadcast) Load() State {
	if b == nil {
		return State{}
	}
	if s := b.current.Load(); s != nil {
		return *s
	}
	return State{}
}

// Update applies fn to a copy of the current state and publishes it. The
// kill switch is sticky: fn cannot clear it.
func (b *Broadcast) Update(fn func(*State)) State {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	prev := b.Load()
	next := prev
	if fn != nil {
		fn(&next)
	}
	if prev.KillSwitch {
		next.KillSwitch = true
		next.KillReason = prev.KillReason
	}
	next.Version = prev.Version + 1
	next.UpdatedAt = b.nowFn()
	b.current.Store(&next)
	return next
}

// Trip sets the kill switch. The first reason wins; later trips are no-ops
// apart from the returned state.
func (b *Broadcast) Trip(reason string) State {
	return b.Update(func(s *State) {
		if s.KillSwitch {
			return
		}
		s.KillSwitch = true
		s.KillReason = reason
	})
}

// Reset publishes a fresh session state, clearing the kill switch. Only a new
// orchestration session may call it.
func (b *Broadcast) Reset(next State) State {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	prev := b.Load()
	next.Version = prev.Version + 1
	next.UpdatedAt = b.nowFn()
	b.current.Store(&next)
	return next
}
