// Package retry runs an operation again with exponential backoff and jitter.
// The progress pipeline uses it for its optimistic-concurrency loop: a
// version conflict re-runs the whole read-apply-commit cycle.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// RetryableError marks an error as worth another attempt.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so Do tries again. nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// PermanentError stops Do even when RetryIf would accept the cause.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Do returns it at once, unwrapped. nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned when the last allowed attempt still failed with a
// retryable error. It unwraps to that error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err carries an ExhaustedError.
func IsExhausted(err error) bool {
	var x *ExhaustedError
	return errors.As(err, &x)
}

// Policy describes how many attempts to make and how long to wait between them.
type Policy struct {
	// MaxAttempts counts the first call too.
	MaxAttempts int
	// InitialDelay is the wait after the first failure.
	InitialDelay time.Duration
	// MaxDelay caps the wait before jitter.
	MaxDelay time.Duration
	// Multiplier grows the wait after each failure.
	Multiplier float64
	// Jitter spreads each wait by ±Jitter of its length, in [0,1].
	Jitter float64

	// RetryIf decides on errors that are neither Retryable nor Permanent
	// wrappers. Without it only Retryable errors are retried.
	RetryIf func(error) bool
	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

func defaultPolicy() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
		Sleep:        sleep,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
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

// Option adjusts a Policy. Out-of-range values are ignored.
type Option func(*Policy)

// WithMaxAttempts sets the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		if n > 0 {
			p.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the first wait.
func WithInitialDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d >= 0 {
			p.InitialDelay = d
		}
	}
}

// WithMaxDelay caps the wait.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) {
		if d > 0 {
			p.MaxDelay = d
		}
	}
}

// WithMultiplier sets the growth factor.
func WithMultiplier(m float64) Option {
	return func(p *Policy) {
		if m >= 1 {
			p.Multiplier = m
		}
	}
}

// WithJitter sets the jitter fraction.
func WithJitter(j float64) Option {
	return func(p *Policy) {
		if j >= 0 && j <= 1 {
			p.Jitter = j
		}
	}
}

// WithRetryIf sets the retry predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *Policy) { p.RetryIf = fn }
}

// WithOnRetry sets the hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *Policy) { p.OnRetry = fn }
}

// WithSleep replaces the wait; tests pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Policy) {
		if fn != nil {
			p.Sleep = fn
		}
	}
}

// Retrier applies one Policy to any number of operations.
type Retrier struct {
	policy Policy
}

// New builds a Retrier from the defaults plus opts.
func New(opts ...Option) *Retrier {
	p := defaultPolicy()
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{policy: p}
}

// ConflictRetrier is tuned for optimistic-concurrency loops: short waits with
// wide jitter so writers that collided do not collide again. opts apply last.
func ConflictRetrier(maxAttempts int, initialDelay, maxDelay time.Duration, retryIf func(error) bool, opts ...Option) *Retrier {
	base := []Option{
		WithMaxAttempts(maxAttempts),
		WithInitialDelay(initialDelay),
		WithMaxDelay(maxDelay),
		WithJitter(0.5),
		WithRetryIf(retryIf),
	}
	return New(append(base, opts...)...)
}

// MaxAttempts returns the attempt budget.
func (r *Retrier) MaxAttempts() int {
	return r.policy.MaxAttempts
}

// classify returns whether err should be retried and the error to report.
func (r *Retrier) classify(err error) (bool, error) {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return false, perm.Err
	}
	var rt *RetryableError
	marked := errors.As(err, &rt)
	retry := marked
	if r.policy.RetryIf != nil {
		retry = r.policy.RetryIf(err)
	}
	if marked {
		return retry, rt.Err
	}
	return retry, err
}

// Do calls op until it succeeds, returns a non-retryable error, or the budget
// runs out. op can read its 1-based attempt number with AttemptFromContext.
// On exhaustion the result is an *ExhaustedError. If ctx ends while waiting,
// the last failure is returned as is.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(context.WithValue(ctx, attemptKey{}, attempt))
		if err == nil {
			return nil
		}
		last = err

		retry, cause := r.classify(err)
		if !retry {
			if IsPermanent(err) {
				return cause
			}
			return err
		}
		if attempt == r.policy.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: cause}
		}

		delay := r.backoff(attempt)
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, cause, delay)
		}
		if r.policy.Sleep(ctx, delay) != nil {
			return last
		}
	}
	return last
}

// backoff is InitialDelay·Multiplier^(attempt-1), capped, then jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.policy.MaxDelay))
	if j := r.policy.Jitter; j > 0 {
		d *= 1 + j*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

type attemptKey struct{}

// AttemptFromContext returns the attempt number inside Do, 0 elsewhere.
func AttemptFromContext(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

// Do runs op with a one-off Retrier.
func Do(ctx context.Context, op func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, op)
}

