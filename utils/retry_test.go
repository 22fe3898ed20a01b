package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) *RetryConfig {
	return &RetryConfig{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	}
}

func TestRetry_SuccessOnFirstAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(3), func() error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_SuccessAfterFailures(t *testing.T) {
	attempts := 0
	val, err := RetryWithValue(context.Background(), fastRetry(5), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("temporary")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, attempts)
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	boom := errors.New("persistent")
	err := Retry(context.Background(), fastRetry(2), func() error {
		attempts++
		return boom
	})
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, boom)
}

func TestRetry_RetryIfStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	cfg := fastRetry(5)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, fatal) }

	attempts := 0
	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return fatal
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxRetries: 10, BaseDelay: time.Hour}

	attempts := 0
	err := Retry(ctx, cfg, func() error {
		attempts++
		cancel()
		return errors.New("fail")
	})
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_ClampsToMaxDelay(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 10}
	assert.Equal(t, time.Second, backoff(cfg, 1))
	assert.Equal(t, 3*time.Second, backoff(cfg, 2))
}

func TestBackoff_JitterStaysInRange(t *testing.T) {
	cfg := &RetryConfig{BaseDelay: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := backoff(cfg, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
