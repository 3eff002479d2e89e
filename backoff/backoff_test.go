package backoff

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
)

func fastPolicy() *Exponential {
	return &Exponential{Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func TestExponential_Delay(t *testing.T) {
	eb := &Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, 100 * time.Millisecond},
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{40, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, eb.Delay(tt.attempt))
		})
	}
}

func TestRetry_Success(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 3, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_RetryableError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 3, func(context.Context) error {
		calls++
		if calls < 2 {
			return syncErrors.NewRetryable(syncErrors.OpTransport, fmt.Errorf("temporary error"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_NonRetryableError(t *testing.T) {
	calls := 0
	want := syncErrors.NewValidationError(syncErrors.OpCreate, fmt.Errorf("bad body"))
	err := Retry(context.Background(), fastPolicy(), 5, func(context.Context) error {
		calls++
		return want
	})
	assert.Equal(t, want, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_MaxAttemptsExceeded(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(), 3, func(context.Context) error {
		calls++
		return syncErrors.NewNetworkError(syncErrors.OpFetch, fmt.Errorf("connection refused"))
	})
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Equal(t, 3, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := &Exponential{Initial: time.Hour, Max: time.Hour, Multiplier: 1}

	calls := 0
	err := Retry(ctx, policy, 3, func(context.Context) error {
		calls++
		cancel()
		return syncErrors.NewRetryable(syncErrors.OpTransport, fmt.Errorf("temporary error"))
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
