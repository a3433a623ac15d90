package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var errBackend = errors.New("backend down")

func newTestBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test-" + t.Name(),
		Threshold:    3,
		ResetTimeout: time.Minute,
		Logger:       zaptest.NewLogger(t),
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(t)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, StateClosed, cb.State())
	}
	assert.ErrorIs(t, cb.Execute(fail), errBackend)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(t)

	_ = cb.Execute(fail)
	_ = cb.Execute(fail)
	require.NoError(t, cb.Execute(succeed))
	_ = cb.Execute(fail)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	cb, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}

	*now = now.Add(2 * time.Minute)

	t.Run("failed probe reopens", func(t *testing.T) {
		assert.ErrorIs(t, cb.Execute(fail), errBackend)
		assert.Equal(t, StateOpen, cb.State())
	})

	*now = now.Add(2 * time.Minute)

	t.Run("successful probe closes", func(t *testing.T) {
		require.NoError(t, cb.Execute(succeed))
		assert.Equal(t, StateClosed, cb.State())
		assert.Zero(t, cb.Stats().Failures)
	})
}

func TestCircuitBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	cb, now := newTestBreaker(t)
	for i := 0; i < 3; i++ {
		_ = cb.Execute(fail)
	}
	*now = now.Add(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(succeed), ErrOpen)

	close(release)
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb, now := newTestBreaker(t)
	stats := cb.Stats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Equal(t, 3, stats.Threshold)
	assert.Nil(t, stats.LastFailure)

	_ = cb.Execute(fail)
	stats = cb.Stats()
	require.NotNil(t, stats.LastFailure)
	assert.Equal(t, *now, *stats.LastFailure)
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "defaults"})
	assert.Equal(t, 5, cb.Stats().Threshold)
	assert.Equal(t, 30*time.Second, cb.resetTimeout)
	assert.Equal(t, "defaults", cb.Name())
}
