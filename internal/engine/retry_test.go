package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	waits []time.Duration
}

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	return nil
}

func TestRetry_BackoffDoublesAndCaps(t *testing.T) {
	clock := &fakeClock{}
	r := Retrier{MaxAttempts: 6, Base: time.Second, Max: 10 * time.Second, Sleep: clock.sleep}

	calls := 0
	_, attempts, err := Retry(context.Background(), r, func(int) (int, error) {
		calls++
		return 0, errors.New("timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 6, attempts)
	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second,
	}, clock.waits)
}

func TestRetry_StopsOnSuccess(t *testing.T) {
	clock := &fakeClock{}
	r := Retrier{MaxAttempts: 3, Base: time.Second, Max: 10 * time.Second, Sleep: clock.sleep}

	val, attempts, err := Retry(context.Background(), r, func(attempt int) (string, error) {
		if attempt < 2 {
			return "", errors.New("reset")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, attempts)
	assert.Len(t, clock.waits, 1)
}

func TestRetry_PermanentErrorIsNotRetried(t *testing.T) {
	clock := &fakeClock{}
	r := Retrier{MaxAttempts: 3, Base: time.Second, Sleep: clock.sleep}
	cause := errors.New("unknown kind")

	_, attempts, err := Retry(context.Background(), r, func(int) (int, error) {
		return 0, Permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Empty(t, clock.waits)
}

func TestRetry_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := Retrier{MaxAttempts: 3, Base: time.Hour}

	_, attempts, err := Retry(ctx, r, func(int) (int, error) {
		return 0, errors.New("down")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
