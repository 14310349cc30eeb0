package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(retries int) Config {
	return Config{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_ZeroRetriesIsSingleAttempt(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(0), func() error {
		attempts++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(2), func() error {
		attempts++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "max retries (2) exceeded")
	assert.Equal(t, 3, attempts)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastConfig(5), func() error {
		attempts++
		return Permanent(boom)
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestDo_OnRetryCalledBetweenAttempts(t *testing.T) {
	var seen []int
	cfg := fastConfig(2)
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		seen = append(seen, attempt)
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("again") })

	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(3), func() error { return errors.New("unreachable") })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
		desc     string
	}{
		{nil, false, "nil error"},
		{syscall.ECONNREFUSED, true, "refused errno"},
		{fmt.Errorf("dial: %w", syscall.ENOENT), true, "missing socket"},
		{errors.New("i/o timeout"), true, "timeout text"},
		{errors.New("unexpected EOF"), true, "eof text"},
		{errors.New("permission denied"), false, "permission denied"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}
