package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialDelay:      time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	attempts := 0
	got, err := Retry(context.Background(), fastRetry(5), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("refused")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllFail(t *testing.T) {
	cause := errors.New("refused")
	_, err := Retry(context.Background(), fastRetry(3), func() (int, error) {
		return 0, cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "all 3 attempts failed")
}

func TestRetry_NonRetryable(t *testing.T) {
	cfg := fastRetry(5)
	cfg.Retryable = func(error) bool { return false }

	attempts := 0
	_, err := Retry(context.Background(), cfg, func() (int, error) {
		attempts++
		return 0, errors.New("bad address")
	})
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(10)
	cfg.InitialDelay = time.Hour

	_, err := Retry(ctx, cfg, func() (int, error) {
		cancel()
		return 0, errors.New("refused")
	})
	assert.ErrorIs(t, err, context.Canceled)
}
