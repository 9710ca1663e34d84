package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBroadcast_UpdateBumpsVersion(t *testing.T) {
	b := NewBroadcast(State{Mode: ModeCanary, CapitalPct: 5})
	first := b.Load()
	assert.Equal(t, uint64(1), first.Version)

	next := b.Update(func(s *State) { s.CapitalPct = 15 })
	assert.Equal(t, uint64(2), next.Version)
	assert.Equal(t, 15.0, b.Load().CapitalPct)
	assert.Equal(t, 5.0, first.CapitalPct, "published snapshots are not mutated")
}

func TestBroadcast_KillSwitchIsSticky(t *testing.T) {
	b := NewBroadcast(State{Mode: ModeLive, CapitalPct: 50})
	b.Trip("drawdown")
	b.Trip("second reason")
	after := b.Update(func(s *State) {
		s.KillSwitch = false
		s.CapitalPct = 10
	})
	assert.True(t, after.KillSwitch)
	assert.Equal(t, "drawdown", after.KillReason)
	assert.Equal(t, 10.0, after.CapitalPct)

	reset := b.Reset(State{Mode: ModeCanary, CapitalPct: 5})
	assert.False(t, reset.KillSwitch)
	assert.Greater(t, reset.Version, after.Version)
}

func TestBroadcast_ConcurrentReadersSeeMonotonicVersions(t *testing.T) {
	b := NewBroadcast(State{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last uint64
			for j := 0; j < 500; j++ {
				v := b.Load().Version
				assert.GreaterOrEqual(t, v, last)
				last = v
			}
		}()
	}
	for i := 0; i < 200; i++ {
		b.Update(func(s *State) { s.Day++ })
	}
	wg.Wait()
	assert.Equal(t, 200, b.Load().Day)
}

func TestParseMode(t *testing.T) {
	m, ok := ParseMode(" Canary ")
	assert.True(t, ok)
	assert.Equal(t, ModeCanary, m)
	_, ok = ParseMode("paper")
	assert.False(t, ok)
	assert.Equal(t, 0.05, State{CapitalPct: 5}.CapitalFraction())
	assert.Equal(t, 1.0, State{CapitalPct: 150}.CapitalFraction())
}
