package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("venue", 3, time.Minute)
	cb.SetClock(func() time.Time { return now })
	cb.SetStateChangeHandler(func(string, State, State) {})

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow())
	assert.True(t, cb.BlockedUntil().IsZero())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
	assert.Equal(t, now.Add(time.Minute), cb.BlockedUntil())

	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("venue", 1, time.Second)
	cb.SetClock(func() time.Time { return now })
	cb.SetStateChangeHandler(func(string, State, State) {})

	cb.RecordFailure()
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, now.Add(time.Second), cb.BlockedUntil())
}

func TestCircuitBreaker_Trip(t *testing.T) {
	cb := NewCircuitBreaker("venue", 10, time.Hour)
	cb.SetStateChangeHandler(func(string, State, State) {})
	cb.Trip()
	assert.False(t, cb.Allow())
	assert.False(t, cb.BlockedUntil().IsZero())
}
