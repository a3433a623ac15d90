package risk

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
	"github.com/openidx/authrisk/internal/metrics"
)

// Source loads a threat intelligence snapshot from a backing store
type Source interface {
	Name() string
	Load(ctx context.Context) (*ThreatIntel, error)
}

// DefaultSource serves the bundled threat intelligence
type DefaultSource struct{}

// Name returns the source name
func (DefaultSource) Name() string { return "default" }

// Load builds the bundled snapshot
func (DefaultSource) Load(ctx context.Context) (*ThreatIntel, error) {
	return NewThreatIntel(DefaultThreatIntelConfig())
}

// ConfigSource serves a fixed ThreatIntelConfig
type ConfigSource struct {
	Config ThreatIntelConfig
}

// Name returns the source name
func (ConfigSource) Name() string { return "static" }

// Load validates the wrapped config
func (s ConfigSource) Load(ctx context.Context) (*ThreatIntel, error) {
	return NewThreatIntel(s.Config)
}

type snapshot struct {
	intel    *ThreatIntel
	loadedAt time.Time
}

// Provider holds the active snapshot and swaps it atomically on reload.
// Readers never block on a reload.
type Provider struct {
	source  Source
	current atomic.Pointer[snapshot]
	reload  sync.Mutex
	logger  *zap.Logger
}

// NewProvider loads the initial snapshot from source. A failure here is a
// configuration error and the caller must not start serving.
func NewProvider(ctx context.Context, source Source, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		source: source,
		logger: logger.With(zap.String("component", "threat-intel"), zap.String("source", source.Name())),
	}
	if err := p.Reload(ctx); err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.Configuration("initial threat intel load failed", err)
	}
	return p, nil
}

// Snapshot returns the active snapshot
func (p *Provider) Snapshot() *ThreatIntel {
	if s := p.current.Load(); s != nil {
		return s.intel
	}
	return nil
}

// LoadedAt returns when the active snapshot was loaded
func (p *Provider) LoadedAt() time.Time {
	if s := p.current.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// SourceName returns the name of the backing source
func (p *Provider) SourceName() string {
	return p.source.Name()
}

// Reload fetches a fresh snapshot. On failure the previous snapshot stays active.
func (p *Provider) Reload(ctx context.Context) error {
	p.reload.Lock()
	defer p.reload.Unlock()

	intel, err := p.source.Load(ctx)
	if err == nil && intel == nil {
		err = apperrors.ThreatIntelUnavailable(p.source.Name(), nil)
	}
	metrics.RecordThreatIntelReload(p.source.Name(), err == nil)
	if err != nil {
		p.logger.Error("Failed to load threat intel", zap.Error(err))
		return err
	}

	p.current.Store(&snapshot{intel: intel, loadedAt: time.Now().UTC()})

	stats := intel.Stats()
	metrics.SetThreatIntelEntries("suspicious_ips", stats.SuspiciousIPs)
	metrics.SetThreatIntelEntries("malicious_ips", stats.MaliciousIPs)
	metrics.SetThreatIntelEntries("blocked_zones", stats.BlockedZones)
	metrics.SetThreatIntelEntries("high_risk_zones", stats.HighRiskZones)

	p.logger.Info("Threat intel loaded",
		zap.Int("suspicious_ips", stats.SuspiciousIPs),
		zap.Int("malicious_ips", stats.MaliciousIPs),
		zap.Int("blocked_zones", stats.BlockedZones),
		zap.Int("high_risk_zones", stats.HighRiskZones))
	return nil
}

// Run reloads the snapshot every interval until ctx is cancelled
func (p *Provider) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Threat intel refresher stopped")
			return
		case <-ticker.C:
			// Errors are logged by Reload; the old snapshot keeps serving.
			_ = p.Reload(ctx)
		}
	}
}
