package circuitbreaker

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream unavailable")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New("oracle", Options{
		FailureThreshold: 3,
		CooldownPeriod:   time.Minute,
		Now:              clock.Now,
	})
}

func TestCircuitBreaker_BasicFunctionality(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Now()})
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit breaker should start closed")

	err := cb.Do(func() error { return nil })
	assert.NoError(t, err, "Successful calls should pass")
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should remain closed for successful calls")
}

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Now()})

	for i := 0; i < 2; i++ {
		err := cb.Do(func() error { return errUpstream })
		assert.ErrorIs(t, err, errUpstream)
	}
	assert.Equal(t, StateClosed, cb.GetState(), "Two failures are below the threshold")

	// A success resets the consecutive count
	require.NoError(t, cb.Do(func() error { return nil }))
	for i := 0; i < 2; i++ {
		_ = cb.Do(func() error { return errUpstream })
	}
	assert.Equal(t, StateClosed, cb.GetState())

	_ = cb.Do(func() error { return errUpstream })
	assert.Equal(t, StateOpen, cb.GetState(), "Third consecutive failure should trip the circuit")

	called := false
	err := cb.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "Open breaker must not invoke the call")
}

func TestCircuitBreaker_Recovery(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errUpstream })
	}
	require.Equal(t, StateOpen, cb.GetState())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrOpen, "Cooldown has not elapsed")

	clock.Advance(31 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.GetState())

	cb.Record(nil)
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should close after a successful trial call")
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errUpstream })
	}
	clock.Advance(2 * time.Minute)

	err := cb.Do(func() error { return errUpstream })
	assert.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, cb.GetState(), "A failed trial call should reopen immediately")
}

func TestCircuitBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	cb := New("oracle", Options{
		FailureThreshold: 3,
		CooldownPeriod:   time.Minute,
		SuccessThreshold: 2,
		Now:              clock.Now,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errUpstream })
	}
	clock.Advance(2 * time.Minute)

	require.NoError(t, cb.Allow(), "First caller after the cooldown is the trial")
	assert.ErrorIs(t, cb.Allow(), ErrOpen, "Concurrent callers are rejected while the trial runs")
	assert.ErrorIs(t, cb.Allow(), ErrOpen)

	cb.Record(nil)
	assert.Equal(t, StateHalfOpen, cb.GetState(), "One success is below the success threshold")

	require.NoError(t, cb.Allow(), "The next trial is admitted once the first is recorded")
	assert.ErrorIs(t, cb.Allow(), ErrOpen)
	cb.Record(nil)
	assert.Equal(t, StateClosed, cb.GetState())

	assert.NoError(t, cb.Allow())
	assert.NoError(t, cb.Allow(), "A closed breaker admits every caller")
}

func TestCircuitBreaker_CallbackExecution(t *testing.T) {
	var tripped atomic.Value
	done := make(chan struct{})

	cb := New("telegram", Options{
		FailureThreshold: 1,
		OnTrip: func(name string, lastErr error) {
			tripped.Store(name + ": " + lastErr.Error())
			close(done)
		},
	})

	_ = cb.Do(func() error { return errUpstream })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Callback should be executed when circuit trips")
	}
	assert.Equal(t, "telegram: upstream unavailable", tripped.Load())
}

func TestCircuitBreaker_ManualReset(t *testing.T) {
	cb := newTestBreaker(&fakeClock{now: time.Now()})

	for i := 0; i < 3; i++ {
		_ = cb.Do(func() error { return errUpstream })
	}
	require.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState(), "Circuit should be closed after manual reset")
	assert.NoError(t, cb.Do(func() error { return nil }))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
