package risk

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// scriptedSource returns configured results in order, repeating the last one
type scriptedSource struct {
	mu      sync.Mutex
	results []func() (*ThreatIntel, error)
	calls   int32
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Load(ctx context.Context) (*ThreatIntel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int(atomic.AddInt32(&s.calls, 1)) - 1
	if n >= len(s.results) {
		n = len(s.results) - 1
	}
	return s.results[n]()
}

func intelWithSuspicious(ips ...string) func() (*ThreatIntel, error) {
	return func() (*ThreatIntel, error) {
		return NewThreatIntel(ThreatIntelConfig{SuspiciousIPs: ips})
	}
}

func failing(err error) func() (*ThreatIntel, error) {
	return func() (*ThreatIntel, error) { return nil, err }
}

func TestNewProvider_InitialLoad(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultSource{}, zap.NewNop())
	require.NoError(t, err)

	assert.NotNil(t, p.Snapshot())
	assert.Equal(t, "default", p.SourceName())
	assert.False(t, p.LoadedAt().IsZero())
}

func TestNewProvider_InitialFailureIsConfigurationError(t *testing.T) {
	src := &scriptedSource{results: []func() (*ThreatIntel, error){failing(errors.New("connection refused"))}}

	_, err := NewProvider(context.Background(), src, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConfiguration))
}

func TestNewProvider_MalformedConfigKeepsCode(t *testing.T) {
	src := ConfigSource{Config: ThreatIntelConfig{SuspiciousIPs: []string{"nope"}}}

	_, err := NewProvider(context.Background(), src, nil)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrConfiguration))
}

func TestProvider_ReloadKeepsPreviousOnFailure(t *testing.T) {
	src := &scriptedSource{results: []func() (*ThreatIntel, error){
		intelWithSuspicious("198.51.100.1"),
		failing(errors.New("timeout")),
		intelWithSuspicious("198.51.100.2"),
	}}

	p, err := NewProvider(context.Background(), src, nil)
	require.NoError(t, err)
	first := p.Snapshot()

	assert.Error(t, p.Reload(context.Background()))
	assert.Same(t, first, p.Snapshot())

	require.NoError(t, p.Reload(context.Background()))
	assert.Equal(t, []string{"198.51.100.2"}, p.Snapshot().SuspiciousIPs())
}

func TestProvider_EngineSeesReloadedSnapshot(t *testing.T) {
	src := &scriptedSource{results: []func() (*ThreatIntel, error){
		intelWithSuspicious(),
		intelWithSuspicious("203.0.113.1"),
	}}
	p, err := NewProvider(context.Background(), src, nil)
	require.NoError(t, err)

	engine, err := NewEngine(p, Options{}, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, engine.Evaluate(context.Background(), cleanRequest()).Status)

	require.NoError(t, p.Reload(context.Background()))
	assert.Equal(t, StatusSuspicious, engine.Evaluate(context.Background(), cleanRequest()).Status)
}

func TestProvider_Run(t *testing.T) {
	src := &scriptedSource{results: []func() (*ThreatIntel, error){intelWithSuspicious()}}
	p, err := NewProvider(context.Background(), src, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&src.calls) >= 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestProvider_ConcurrentReadsDuringReload(t *testing.T) {
	p, err := NewProvider(context.Background(), DefaultSource{}, nil)
	require.NoError(t, err)
	engine, err := NewEngine(p, Options{}, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = p.Reload(context.Background())
		}()
		go func() {
			defer wg.Done()
			assert.Equal(t, StatusApproved, engine.Evaluate(context.Background(), cleanRequest()).Status)
		}()
	}
	wg.Wait()
}
