package retrylimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	}, nil, fastConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastConfig()
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	}, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestWithRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return Permanent(errors.New("bad request"))
	}, nil, fastConfig())
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ExhaustionWrapsLastError(t *testing.T) {
	last := errors.New("still down")
	err := WithRetry(context.Background(), func() error {
		return last
	}, nil, fastConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "retry attempts exhausted (3)")
}

func TestWithRetry_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		cancel()
		return errors.New("flaky")
	}, nil, fastConfig())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestAdaptiveLimiter_AdjustsWithinBounds(t *testing.T) {
	lim := NewAdaptiveLimiter(4, 1, 8, 1, 0.5)
	require.Equal(t, 4.0, lim.CurrentLimit())

	lim.Failure()
	assert.Equal(t, 2.0, lim.CurrentLimit())
	lim.Failure()
	lim.Failure()
	assert.Equal(t, 1.0, lim.CurrentLimit(), "rate never drops below the floor")

	// Success right after an error must not raise the rate.
	lim.Success()
	assert.Equal(t, 1.0, lim.CurrentLimit())
}

func TestPermanent_NilPassthrough(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(errors.New("plain")))
	assert.True(t, IsPermanent(Permanent(errors.New("wrapped"))))
}
