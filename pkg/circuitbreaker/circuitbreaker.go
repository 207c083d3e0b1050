// Package circuitbreaker guards an optional dependency such as the snapshot
// cache. While the breaker is open, calls fail immediately, so the caller can
// go straight to its fallback and skip the dependency's timeout.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down passes.
	StateOpen
	// StateHalfOpen lets a limited number of probes through.
	StateHalfOpen
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
		return "unknown"
	}
}

var (
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when every half-open probe slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsRejected reports whether err means the breaker refused the call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Settings tune a breaker. Zero values are replaced by the defaults of New.
type Settings struct {
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration
	// MaxProbes bounds concurrent calls while half-open.
	MaxProbes int

	// OnStateChange runs under the breaker lock; keep it short.
	OnStateChange func(name string, from, to State)
	// IsFailure filters errors that say nothing about the dependency's health.
	IsFailure func(error) bool
	// Now is the time source.
	Now func() time.Time
}

// Option adjusts Settings.
type Option func(*Settings)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *Settings) { s.FailureThreshold = n }
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(s *Settings) { s.SuccessThreshold = n }
}

// WithTimeout sets the open-state cool-down.
func WithTimeout(d time.Duration) Option {
	return func(s *Settings) { s.CoolDown = d }
}

// WithMaxHalfOpenRequests sets the number of concurrent half-open probes.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *Settings) { s.MaxProbes = n }
}

// WithOnStateChange registers a transition callback.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnStateChange = fn }
}

// WithIsFailure sets the failure filter.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Settings) { s.Now = now }
}

func (s *Settings) applyDefaults() {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = 2
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.MaxProbes <= 0 {
		s.MaxProbes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
}

// Counts are cumulative except the two streak counters, which reset on every
// state change.
type Counts struct {
	Requests             int
	Rejected             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker is safe for concurrent use.
type CircuitBreaker struct {
	name string
	set  Settings

	mu     sync.Mutex
	state  State
	counts Counts
	// generation changes on every transition; outcomes of calls admitted in an
	// older generation are not counted.
	generation uint64
	openUntil  time.Time
	probes     int
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	var s Settings
	for _, opt := range opts {
		opt(&s)
	}
	s.applyDefaults()
	return &CircuitBreaker{name: name, set: s}
}

// CacheBreaker returns a breaker for an optional cache: it trips after three
// failures and probes again after ten seconds.
func CacheBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(name,
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithMaxHalfOpenRequests(1),
		WithOnStateChange(onStateChange),
	)
}

// Execute calls fn when the breaker admits it and records the outcome. A
// rejected call returns ErrCircuitOpen or ErrTooManyRequests.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err)
	return err
}

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.set.Now()
	if cb.state == StateOpen && !now.Before(cb.openUntil) {
		cb.transition(StateHalfOpen, now)
	}

	switch cb.state {
	case StateOpen:
		cb.counts.Rejected++
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.probes >= cb.set.MaxProbes {
			cb.counts.Rejected++
			return 0, ErrTooManyRequests
		}
		cb.probes++
	}
	cb.counts.Requests++
	return cb.generation, nil
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if gen != cb.generation {
		return
	}

	failed := err != nil
	if failed && cb.set.IsFailure != nil {
		failed = cb.set.IsFailure(err)
	}
	now := cb.set.Now()

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.probes--
			if cb.counts.ConsecutiveSuccesses >= cb.set.SuccessThreshold {
				cb.transition(StateClosed, now)
			}
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	switch {
	case cb.state == StateHalfOpen:
		cb.transition(StateOpen, now)
	case cb.counts.ConsecutiveFailures >= cb.set.FailureThreshold:
		cb.transition(StateOpen, now)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.generation++
	cb.probes = 0
	cb.counts.ConsecutiveFailures = 0
	cb.counts.ConsecutiveSuccesses = 0
	if to == StateOpen {
		cb.openUntil = now.Add(cb.set.CoolDown)
	}
	if cb.set.OnStateChange != nil {
		cb.set.OnStateChange(cb.name, from, to)
	}
}

// State reports the current position. An open breaker whose cool-down has
// passed still reports open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the counters.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.generation++
	cb.counts = Counts{}
	cb.probes = 0
}

// Name returns the breaker name given to New.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}
