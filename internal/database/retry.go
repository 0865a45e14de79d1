package database

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jpillora/backoff"
)

// RetryConfig defines retry behavior for transient persistence failures
type RetryConfig struct {
	MaxRetries int
	MinDelay   time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		MinDelay:   500 * time.Millisecond,
		MaxDelay:   15 * time.Second,
	}
}

// IsRetryable determines if an error should trigger a retry. Connection
// drops, deadlocks and rate limits are transient; everything else
// (constraint violations, validation failures) is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryablePatterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"deadlock",
		"lock timeout",
		"serialization failure",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// WithRetry runs fn with exponential backoff plus jitter. Non-retryable
// errors return immediately; retryable ones are retried up to
// MaxRetries times or until the context is cancelled.
func WithRetry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    cfg.MinDelay,
		Max:    cfg.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := b.Duration()
		log.Printf("[DATABASE-RETRY] %s failed (attempt %d): %v, retrying in %v", op, attempt+1, lastErr, delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	log.Printf("[DATABASE-RETRY] %s exhausted %d retries: %v", op, cfg.MaxRetries, lastErr)
	return lastErr
}
