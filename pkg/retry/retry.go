package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config holds retry configuration
type Config struct {
	MaxRetries     int           // Retries after the first attempt; 0 means a single attempt
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	Multiplier     float64       // Backoff multiplier (exponential)

	// OnRetry is called before sleeping between attempts
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig returns sensible defaults for retries
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Permanent marks err as not worth retrying; Do returns it unwrapped
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do executes fn with exponential backoff retries
func Do(ctx context.Context, config Config, fn func() error) error {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.Multiplier < 1 {
		config.Multiplier = 1
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.InitialBackoff
	b.MaxInterval = config.MaxBackoff
	b.Multiplier = config.Multiplier
	b.RandomizationFactor = 0

	attempts := 0
	operation := func() (struct{}, error) {
		attempts++
		return struct{}{}, fn()
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(config.MaxRetries + 1)),
	}
	if config.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, wait time.Duration) {
			config.OnRetry(attempts, err, wait)
		}))
	}

	_, err := backoff.Retry(ctx, operation, opts...)
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return fmt.Errorf("retry cancelled: %w", err)
	}

	if config.MaxRetries > 0 && attempts > config.MaxRetries {
		return fmt.Errorf("max retries (%d) exceeded: %w", config.MaxRetries, err)
	}

	return err
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.EAGAIN) {
		return true
	}

	// Network errors and temporary failures are retryable
	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"resource temporarily unavailable",
		"eof",
		"broken pipe",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
