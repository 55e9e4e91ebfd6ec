// Package circuitbreaker stops calling an outbound integration (price oracle, chat API)
// after repeated failures and lets a trial call through once a cooldown has passed.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow and Do while the breaker rejects calls
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of the circuit breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, no new calls allowed
	StateHalfOpen              // Testing if the integration has recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a CircuitBreaker
type Options struct {
	// Consecutive failures that trip the breaker, default 5
	FailureThreshold int

	// How long the breaker stays open before a trial call, default 1 minute
	CooldownPeriod time.Duration

	// Successful trial calls required to close again, default 1
	SuccessThreshold int

	// OnTrip is called asynchronously whenever the breaker opens
	OnTrip func(name string, lastErr error)

	// Now overrides the clock in tests
	Now func() time.Time
}

// CircuitBreaker guards a single outbound dependency
type CircuitBreaker struct {
	name string
	opts Options

	mu           sync.Mutex
	state        State
	failures     int
	successCount int
	lastTrip     time.Time

	// trialInFlight admits one caller at a time while half-open
	trialInFlight bool
}

// New creates a closed breaker
func New(name string, opts Options) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = time.Minute
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CircuitBreaker{name: name, opts: opts, state: StateClosed}
}

// Name identifies the guarded dependency in logs
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a call may proceed, moving an open breaker to half-open
// once the cooldown has elapsed. While half-open only one trial call is admitted
// until its outcome is recorded; every other caller gets ErrOpen.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.opts.Now().Sub(cb.lastTrip) < cb.opts.CooldownPeriod {
			return fmt.Errorf("%s: %w", cb.name, ErrOpen)
		}
		cb.state = StateHalfOpen
		cb.successCount = 0
		logrus.Infof("Circuit breaker %s half-open: testing recovery", cb.name)
	case StateHalfOpen:
		if cb.trialInFlight {
			return fmt.Errorf("%s: %w", cb.name, ErrOpen)
		}
	default:
		return nil
	}
	cb.trialInFlight = true
	return nil
}

// Record feeds the outcome of a call back into the breaker
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialInFlight = false

	if err != nil {
		cb.failures++
		if cb.state == StateHalfOpen || cb.failures >= cb.opts.FailureThreshold {
			cb.trip(err)
		}
		return
	}

	cb.failures = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.opts.SuccessThreshold {
			cb.state = StateClosed
			cb.successCount = 0
			logrus.Infof("Circuit breaker %s closed: dependency has recovered", cb.name)
		}
	}
}

// Do runs fn when the breaker allows it and records the result
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn()
	cb.Record(err)
	return err
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forcibly resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.trialInFlight = false
	logrus.Infof("Circuit breaker %s manually reset to closed state", cb.name)
}

// trip opens the breaker; callers hold the lock
func (cb *CircuitBreaker) trip(lastErr error) {
	cb.state = StateOpen
	cb.lastTrip = cb.opts.Now()
	cb.failures = 0
	cb.successCount = 0
	logrus.Warnf("Circuit breaker %s tripped: %v", cb.name, lastErr)

	if cb.opts.OnTrip != nil {
		go cb.opts.OnTrip(cb.name, lastErr)
	}
}
