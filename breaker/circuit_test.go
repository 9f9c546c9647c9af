package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerTripsAfterThreshold(t *testing.T) {
	cb := New(Config{FailureThreshold: 3, RecoveryTimeout: 10 * time.Millisecond, MinProbes: 2, SuccessThresholdPercent: 50})

	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen{})
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: 5 * time.Millisecond, MinProbes: 10, SuccessThresholdPercent: 50})

	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < 10; i++ {
		cb.RecordSuccess()
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := New(Config{FailureThreshold: 1, RecoveryTimeout: 5 * time.Millisecond, MinProbes: 10, SuccessThresholdPercent: 50})
	cb.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestIsRetryableNonRetryableTakesPrecedence(t *testing.T) {
	err := errors.New("connection timeout: 404 not found")
	assert.False(t, IsRetryable(err))
}

func TestIsRetryableUnknownDefaultsFalse(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("something went sideways")))
}

func TestIsRetryableMatchesKnownPatterns(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsRetryable(errors.New("503 service unavailable")))
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: 10 * time.Millisecond}
	err := Execute(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecuteStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()
	err := Execute(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("404 not found")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestExecuteBoundsTotalAttempts(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: 10 * time.Millisecond}
	err := Execute(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("connection timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestExecuteRateLimitNotCountedAgainstMaxRetries(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffMultiplier: 1, MaxDelay: time.Millisecond, RateLimitBackoff: time.Millisecond}
	err := Execute(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 5 {
			return RateLimitedError{Err: errors.New("429 too many requests")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)
}
