package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func noSleep(context.Context, time.Duration) error { return nil }

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	var seen []int

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		seen = append(seen, AttemptFromContext(ctx))
		if calls < 3 {
			return errConflict
		}
		return nil
	},
		WithMaxAttempts(5),
		WithRetryIf(func(err error) bool { return errors.Is(err, errConflict) }),
		WithSleep(noSleep),
	)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDo_Exhausted(t *testing.T) {
	var retries []int
	err := Do(context.Background(), func(ctx context.Context) error {
		return Retryable(errConflict)
	},
		WithMaxAttempts(4),
		WithSleep(noSleep),
		WithOnRetry(func(attempt int, err error, _ time.Duration) {
			retries = append(retries, attempt)
		}),
	)

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.ErrorIs(t, err, errConflict)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, []int{1, 2, 3}, retries)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 4, exhausted.Attempts)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	}, WithMaxAttempts(5), WithSleep(noSleep))

	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentIsUnwrapped(t *testing.T) {
	boom := errors.New("bad input")
	err := Do(context.Background(), func(ctx context.Context) error {
		return Permanent(boom)
	}, WithRetryIf(func(error) bool { return true }), WithSleep(noSleep))

	assert.Equal(t, boom, err)
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errConflict)
	}, WithMaxAttempts(5), WithInitialDelay(time.Hour))

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errConflict)
}

func TestBackoff_CappedAndJittered(t *testing.T) {
	r := New(WithInitialDelay(10*time.Millisecond), WithMaxDelay(50*time.Millisecond), WithJitter(0.5))

	for attempt := 1; attempt <= 10; attempt++ {
		d := r.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 75*time.Millisecond)
	}

	noJitter := New(WithInitialDelay(10*time.Millisecond), WithJitter(0))
	assert.Equal(t, 10*time.Millisecond, noJitter.backoff(1))
	assert.Equal(t, 40*time.Millisecond, noJitter.backoff(3))
}

func TestConflictRetrier(t *testing.T) {
	r := ConflictRetrier(7, time.Millisecond, 10*time.Millisecond, func(error) bool { return true })
	assert.Equal(t, 7, r.MaxAttempts())

	var retried []int
	r = ConflictRetrier(3, time.Millisecond, 10*time.Millisecond,
		func(err error) bool { return errors.Is(err, errConflict) },
		WithSleep(noSleep),
		WithOnRetry(func(attempt int, _ error, _ time.Duration) { retried = append(retried, attempt) }),
	)
	calls := 0
	err := r.Do(context.Background(), func(context.Context) error {
		calls++
		return errConflict
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}
