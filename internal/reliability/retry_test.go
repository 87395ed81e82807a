package reliability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	require.True(t, IsRetryableHTTPStatus(http.StatusServiceUnavailable))
	require.True(t, IsRetryableHTTPStatus(http.StatusTooManyRequests))
	require.False(t, IsRetryableHTTPStatus(http.StatusBadRequest))
	require.False(t, IsRetryableHTTPStatus(http.StatusInternalServerError))
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	cap := 700 * time.Millisecond
	require.Equal(t, base, Backoff(0, base, cap))
	require.Equal(t, 200*time.Millisecond, Backoff(1, base, cap))
	require.Equal(t, 400*time.Millisecond, Backoff(2, base, cap))
	require.Equal(t, cap, Backoff(3, base, cap))
	require.Equal(t, cap, Backoff(12, base, cap))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 4, Base: time.Millisecond, Cap: 2 * time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errors.New("connection refused"))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("HTTP 400")
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}, func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestDoReturnsLastErrorUnwrapped(t *testing.T) {
	last := errors.New("still starting")
	err := Do(context.Background(), Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}, func(context.Context) error {
		return Retryable(last)
	})
	require.Equal(t, last, err)
	require.False(t, IsRetryable(err))
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Policy{Attempts: 3, Base: time.Hour, Cap: time.Hour}, func(context.Context) error {
		return Retryable(errors.New("refused"))
	})
	require.ErrorIs(t, err, context.Canceled)
}
