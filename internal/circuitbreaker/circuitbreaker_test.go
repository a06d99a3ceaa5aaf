package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errProvider = errors.New("provider down")

func fail(ctx context.Context) error { return errProvider }

func ok(ctx context.Context) error { return nil }

func testBreaker(timeout time.Duration) *Breaker {
	return New("test", Config{
		MaxRequests:      2,
		Timeout:          timeout,
		FailureThreshold: 3,
		SuccessThreshold: 2,
	}, zap.NewNop())
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := testBreaker(time.Minute)
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Execute(context.Background(), ok))
	}
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := testBreaker(time.Minute)
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(context.Background(), fail), errProvider)
	}
	assert.Equal(t, StateOpen, b.CurrentState())
	assert.ErrorIs(t, b.Execute(context.Background(), ok), ErrOpen)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	b := testBreaker(time.Minute)
	b.Execute(context.Background(), fail)
	b.Execute(context.Background(), fail)
	b.Execute(context.Background(), ok)
	b.Execute(context.Background(), fail)
	b.Execute(context.Background(), fail)
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestHalfOpenRecovery(t *testing.T) {
	b := testBreaker(10 * time.Millisecond)
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), fail)
	}
	require.Equal(t, StateOpen, b.CurrentState())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, b.CurrentState())

	require.NoError(t, b.Execute(context.Background(), ok))
	require.NoError(t, b.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, b.CurrentState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(10 * time.Millisecond)
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), fail)
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CurrentState())

	assert.ErrorIs(t, b.Execute(context.Background(), fail), errProvider)
	assert.Equal(t, StateOpen, b.CurrentState())
}

func TestHalfOpenProbeLimit(t *testing.T) {
	b := testBreaker(10 * time.Millisecond)
	for i := 0; i < 3; i++ {
		b.Execute(context.Background(), fail)
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.CurrentState())

	// Hold both probe slots open, then a third call is rejected.
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for i := 0; i < 2; i++ {
		go b.Execute(context.Background(), func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		})
	}
	<-started
	<-started
	assert.ErrorIs(t, b.Execute(context.Background(), ok), ErrTooManyRequests)
	close(release)
}
