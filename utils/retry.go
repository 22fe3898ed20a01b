package utils

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff for calls to external services.
type RetryConfig struct {
	// MaxRetries is the number of re-attempts after the first call (0 = none).
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Multiplier defaults to 2 when <= 0.
	Multiplier float64
	// Jitter spreads each delay by +/- this fraction (0.0 - 1.0).
	Jitter float64
	// RetryIf decides whether an error is worth another attempt. nil retries everything.
	RetryIf func(error) bool
}

func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.2,
	}
}

var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// Retry runs fn until it succeeds, RetryIf rejects the error, retries run
// out or ctx is done. The returned error wraps the last failure.
func Retry(ctx context.Context, cfg *RetryConfig, fn func() error) error {
	_, err := RetryWithValue(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithValue is Retry for functions that produce a value.
func RetryWithValue[T any](ctx context.Context, cfg *RetryConfig, fn func() (T, error)) (T, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn()
		if err == nil {
			return val, nil
		}
		if cfg.RetryIf != nil && !cfg.RetryIf(err) {
			return zero, err
		}
		if attempt > cfg.MaxRetries {
			return zero, errors.Join(ErrMaxRetriesExceeded, err)
		}

		timer := time.NewTimer(backoff(cfg, attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, errors.Join(ctx.Err(), err)
		case <-timer.C:
		}
	}
}

// backoff is BaseDelay * Multiplier^(attempt-1), jittered and clamped to MaxDelay.
func backoff(cfg *RetryConfig, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(cfg.BaseDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.Jitter > 0 {
		spread := delay * cfg.Jitter
		delay = delay - spread + rand.Float64()*2*spread
	}
	if cfg.MaxDelay > 0 && time.Duration(delay) > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return time.Duration(delay)
}
