package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openidx/authrisk/internal/common/database"
	"github.com/openidx/authrisk/internal/common/resilience"
)

// Pinger is satisfied by the database package clients
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports a store up, degraded past a latency threshold, or down
type PingChecker struct {
	name     string
	pinger   Pinger
	critical bool
	slow     time.Duration
}

// NewPingChecker wraps any Pinger
func NewPingChecker(name string, p Pinger, critical bool, slow time.Duration) *PingChecker {
	return &PingChecker{name: name, pinger: p, critical: critical, slow: slow}
}

// NewPostgresChecker checks the threat intel database
func NewPostgresChecker(db *database.PostgresDB, critical bool) *PingChecker {
	return NewPingChecker("database", db, critical, 500*time.Millisecond)
}

// NewRedisChecker checks Redis
func NewRedisChecker(client *database.RedisClient, critical bool) *PingChecker {
	return NewPingChecker("redis", client, critical, 200*time.Millisecond)
}

// NewElasticsearchChecker checks the verdict store. It is never critical
// since evaluation continues when audit writes fail.
func NewElasticsearchChecker(es *database.ElasticsearchClient) *PingChecker {
	return NewPingChecker("elasticsearch", es, false, time.Second)
}

// NewSQLiteChecker checks the embedded threat intel database
func NewSQLiteChecker(db *sql.DB) *PingChecker {
	return NewPingChecker("sqlite", sqlPinger{db}, true, 200*time.Millisecond)
}

type sqlPinger struct{ db *sql.DB }

func (p sqlPinger) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Name returns the checker name
func (p *PingChecker) Name() string { return p.name }

// IsCritical returns true if this component is critical for readiness
func (p *PingChecker) IsCritical() bool { return p.critical }

// Check pings the store and measures latency
func (p *PingChecker) Check(ctx context.Context) ComponentStatus {
	start := time.Now()
	err := p.pinger.Ping(ctx)
	latency := time.Since(start)

	st := ComponentStatus{
		Status:    StatusUp,
		LatencyMS: float64(latency.Milliseconds()),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	switch {
	case err != nil:
		st.Status = StatusDown
		st.Details = err.Error()
	case p.slow > 0 && latency > p.slow:
		st.Status = StatusDegraded
		st.Details = "high latency"
	}
	return st
}

// SnapshotInfo is implemented by the threat intel provider
type SnapshotInfo interface {
	LoadedAt() time.Time
	SourceName() string
}

// ThreatIntelChecker reports the threat intel snapshot degraded once it is older
// than three refresh intervals, meaning several reloads in a row have failed.
// A stale snapshot still serves evaluations, so the checker is never down.
type ThreatIntelChecker struct {
	info     SnapshotInfo
	interval time.Duration
	now      func() time.Time
}

// NewThreatIntelChecker creates a checker; interval 0 disables the staleness check
func NewThreatIntelChecker(info SnapshotInfo, interval time.Duration) *ThreatIntelChecker {
	return &ThreatIntelChecker{info: info, interval: interval, now: time.Now}
}

// Name returns the checker name
func (t *ThreatIntelChecker) Name() string { return "threat_intel" }

// IsCritical returns false
func (t *ThreatIntelChecker) IsCritical() bool { return false }

// Check compares the snapshot age against the refresh interval
func (t *ThreatIntelChecker) Check(ctx context.Context) ComponentStatus {
	now := t.now()
	age := now.Sub(t.info.LoadedAt())
	st := ComponentStatus{
		Status:    StatusUp,
		Details:   fmt.Sprintf("source=%s age=%s", t.info.SourceName(), age.Truncate(time.Second)),
		CheckedAt: now.UTC().Format(time.RFC3339),
	}
	if t.interval > 0 && age > 3*t.interval {
		st.Status = StatusDegraded
	}
	return st
}

// StaticChecker reports a fixed status, e.g. for a store that is configured off
type StaticChecker struct {
	name     string
	status   string
	details  string
	critical bool
}

// NewStaticChecker creates a StaticChecker
func NewStaticChecker(name, status, details string, critical bool) *StaticChecker {
	return &StaticChecker{name: name, status: status, details: details, critical: critical}
}

// Name returns the checker name
func (s *StaticChecker) Name() string { return s.name }

// IsCritical returns true if this component is critical for readiness
func (s *StaticChecker) IsCritical() bool { return s.critical }

// Check returns the fixed status
func (s *StaticChecker) Check(ctx context.Context) ComponentStatus {
	return ComponentStatus{
		Status:    s.status,
		Details:   s.details,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// BreakerChecker reports degraded while a circuit breaker is not closed
type BreakerChecker struct {
	name    string
	breaker *resilience.CircuitBreaker
}

// NewBreakerChecker creates a BreakerChecker. It never affects readiness.
func NewBreakerChecker(name string, breaker *resilience.CircuitBreaker) *BreakerChecker {
	return &BreakerChecker{name: name, breaker: breaker}
}

// Name returns the checker name
func (b *BreakerChecker) Name() string { return b.name }

// IsCritical returns false
func (b *BreakerChecker) IsCritical() bool { return false }

// Check reports the breaker state
func (b *BreakerChecker) Check(ctx context.Context) ComponentStatus {
	stats := b.breaker.Stats()
	st := ComponentStatus{
		Status:    StatusUp,
		Details:   fmt.Sprintf("circuit %s", stats.State),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if stats.State != resilience.StateClosed {
		st.Status = StatusDegraded
		st.Details = fmt.Sprintf("circuit %s after %d failures", stats.State, stats.Failures)
	}
	return st
}
