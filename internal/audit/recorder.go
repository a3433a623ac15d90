package audit

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/openidx/authrisk/internal/common/resilience"
	"github.com/openidx/authrisk/internal/metrics"
	"github.com/openidx/authrisk/internal/risk"
)

// Recorder stores audit entries
type Recorder interface {
	Name() string
	Record(ctx context.Context, e Entry) error
}

// Trail turns verdicts into signed entries and hands them to a Recorder.
// It implements risk.VerdictRecorder.
type Trail struct {
	recorder Recorder
	signer   *Signer
	timeout  time.Duration
}

// NewTrail creates a Trail. signer may be nil.
func NewTrail(recorder Recorder, signer *Signer, timeout time.Duration) *Trail {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Trail{recorder: recorder, signer: signer, timeout: timeout}
}

// RecordVerdict stores one evaluation. The write outlives a cancelled
// request context but is bounded by the trail timeout.
func (t *Trail) RecordVerdict(ctx context.Context, req *risk.SignRequest, v *risk.Verdict) error {
	e := NewEntry(req, v)
	if err := t.signer.Sign(&e); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()
	return t.recorder.Record(ctx, e)
}

// LogRecorder writes entries to a zap logger
type LogRecorder struct {
	logger *zap.Logger
}

// NewLogRecorder creates a LogRecorder
func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogRecorder{logger: logger.With(zap.String("component", "verdict-audit"))}
}

// Name returns the sink name
func (r *LogRecorder) Name() string { return "log" }

// Record logs e
func (r *LogRecorder) Record(ctx context.Context, e Entry) error {
	checks := make([]string, 0, len(e.Checks))
	for _, c := range e.Checks {
		checks = append(checks, c.Name)
	}
	r.logger.Info("Sign attempt evaluated",
		zap.String("request_id", e.RequestID),
		zap.String("username", e.Username),
		zap.String("ip_address", e.IPAddress),
		zap.String("purpose", e.Purpose),
		zap.String("status", e.Status),
		zap.String("overall_risk", e.OverallRisk),
		zap.Int("total_weight", e.TotalWeight),
		zap.Strings("checks", checks),
		zap.Bool("fail_closed", e.FailClosed))
	metrics.RecordAuditWrite(r.Name(), nil)
	return nil
}

// Multi fans an entry out to several recorders
type Multi []Recorder

// Name returns the sink name
func (m Multi) Name() string { return "multi" }

// Record writes to every recorder and joins their errors
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Guarded sends entries through a circuit breaker so a failing store is
// skipped instead of holding every evaluation for the trail timeout.
type Guarded struct {
	next    Recorder
	breaker *resilience.CircuitBreaker
}

// NewGuarded wraps next with breaker
func NewGuarded(next Recorder, breaker *resilience.CircuitBreaker) *Guarded {
	return &Guarded{next: next, breaker: breaker}
}

// Name returns the wrapped sink name
func (g *Guarded) Name() string { return g.next.Name() }

// Record writes e unless the breaker is open
func (g *Guarded) Record(ctx context.Context, e Entry) error {
	err := g.breaker.Execute(func() error { return g.next.Record(ctx, e) })
	if errors.Is(err, resilience.ErrOpen) {
		metrics.RecordAuditWrite(g.Name(), err)
	}
	return err
}

// Breaker exposes the breaker for health reporting
func (g *Guarded) Breaker() *resilience.CircuitBreaker { return g.breaker }
