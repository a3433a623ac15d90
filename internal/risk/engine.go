package risk

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
	"github.com/openidx/authrisk/internal/metrics"
)

// Fail-closed causes reported in logs and metrics
const (
	FailCauseMissingRequest = "missing_request"
	FailCauseInvalidRequest = "invalid_request"
	FailCauseNoThreatIntel  = "no_threat_intel"
	FailCausePanic          = "panic"
)

// Options controls how lenient the checks are. It is fixed at construction.
type Options struct {
	// PermissiveMode allows private addresses and curl/wget user agents.
	PermissiveMode bool `mapstructure:"permissive_mode" json:"permissive_mode"`

	AllowPrivateIPs     bool     `mapstructure:"allow_private_ips" json:"allow_private_ips"`
	AllowCLIUserAgents  bool     `mapstructure:"allow_cli_user_agents" json:"allow_cli_user_agents"`
	PrivateIPExemptions []string `mapstructure:"private_ip_exemptions" json:"private_ip_exemptions,omitempty"`
}

// DefaultOptions returns strict options
func DefaultOptions() Options {
	return Options{}
}

// IntelProvider supplies the threat intelligence snapshot used for one evaluation
type IntelProvider interface {
	Snapshot() *ThreatIntel
}

// IntelFunc adapts a function to IntelProvider
type IntelFunc func() *ThreatIntel

// Snapshot calls f
func (f IntelFunc) Snapshot() *ThreatIntel {
	return f()
}

// StaticIntel returns an IntelProvider that always yields ti
func StaticIntel(ti *ThreatIntel) IntelProvider {
	return IntelFunc(func() *ThreatIntel { return ti })
}

// Engine evaluates sign attempts. It holds no per-request state and is safe
// for concurrent use.
type Engine struct {
	intel     IntelProvider
	evaluator *Evaluator
	opts      Options
	logger    *zap.Logger
	tracer    trace.Tracer

	now   func() time.Time
	newID func() string
}

// NewEngine creates a new Engine
func NewEngine(intel IntelProvider, opts Options, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if intel == nil {
		return nil, apperrors.Configuration("threat intel provider is required", nil)
	}
	evaluator, err := NewEvaluator(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		intel:     intel,
		evaluator: evaluator,
		opts:      opts,
		logger:    logger.With(zap.String("component", "risk-engine")),
		tracer:    otel.Tracer("github.com/openidx/authrisk/internal/risk"),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// Options returns the options the engine was built with
func (e *Engine) Options() Options {
	return e.opts
}

// Evaluate scores req and returns its verdict. It never returns nil and never
// panics: a missing or invalid request, a missing snapshot or any fault during
// evaluation yields the fail-closed verdict.
func (e *Engine) Evaluate(ctx context.Context, req *SignRequest) (verdict *Verdict) {
	start := time.Now()
	_, span := e.tracer.Start(ctx, "risk.Evaluate")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Risk evaluation panicked, failing closed",
				zap.Any("panic", r),
				zap.Stack("stack"))
			verdict = e.failClosed(FailCausePanic)
		}
		e.observe(span, req, verdict, start)
	}()

	if req == nil {
		e.logger.Error("Risk evaluation called without a request, failing closed")
		return e.failClosed(FailCauseMissingRequest)
	}
	if err := req.Validate(); err != nil {
		e.logger.Error("Invalid sign request, failing closed",
			zap.String("username", req.Username),
			zap.String("ip_address", req.IPAddress),
			zap.Error(err))
		return e.failClosed(FailCauseInvalidRequest)
	}

	intel := e.intel.Snapshot()
	if intel == nil {
		e.logger.Error("No threat intelligence snapshot available, failing closed")
		return e.failClosed(FailCauseNoThreatIntel)
	}

	checks := e.evaluator.Evaluate(req, intel)
	assessment := Aggregate(checks)

	verdict = &Verdict{
		RequestID:   e.newID(),
		Approved:    assessment.Approved,
		Message:     assessment.Message,
		OverallRisk: assessment.RiskLevel,
		Status:      assessment.Status,
		Reason:      assessment.Reason,
		Checks:      checks,
		EvaluatedAt: e.now(),
	}

	fields := []zap.Field{
		zap.String("request_id", verdict.RequestID),
		zap.String("username", req.Username),
		zap.String("ip_address", req.IPAddress),
		zap.String("purpose", string(req.Purpose)),
		zap.String("status", string(verdict.Status)),
		zap.String("risk_level", string(verdict.OverallRisk)),
		zap.Int("total_weight", assessment.TotalWeight),
		zap.Int("checks", len(checks)),
	}
	if verdict.Status == StatusApproved {
		e.logger.Debug("Risk evaluation completed", fields...)
	} else {
		e.logger.Info("Risk evaluation completed", fields...)
	}

	return verdict
}

// FailClosedVerdict builds the verdict returned when evaluation cannot complete
func FailClosedVerdict(requestID string, at time.Time) *Verdict {
	return &Verdict{
		RequestID:   requestID,
		Approved:    false,
		Message:     MessageInternalError,
		OverallRisk: RiskLevelCritical,
		Status:      StatusRejected,
		Checks:      []SecurityCheck{},
		FailClosed:  true,
		EvaluatedAt: at,
	}
}

func (e *Engine) failClosed(cause string) *Verdict {
	metrics.RecordFailClosed(cause)
	return FailClosedVerdict(e.newID(), e.now())
}

func (e *Engine) observe(span trace.Span, req *SignRequest, v *Verdict, start time.Time) {
	// telemetry must not turn a verdict into a panic
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recording risk evaluation telemetry panicked", zap.Any("panic", r))
		}
	}()

	purpose := ""
	if req != nil && (req.Purpose == PurposeSignIn || req.Purpose == PurposeSignUp) {
		purpose = string(req.Purpose)
	}
	metrics.RecordRiskEvaluation(purpose, string(v.Status), string(v.OverallRisk), time.Since(start))
	for _, c := range v.Checks {
		metrics.RecordRiskCheck(string(c.Name), string(c.RiskLevel))
	}

	span.SetAttributes(
		attribute.String("risk.status", string(v.Status)),
		attribute.String("risk.level", string(v.OverallRisk)),
		attribute.Int("risk.checks", len(v.Checks)),
		attribute.Bool("risk.fail_closed", v.FailClosed),
	)
	if v.FailClosed {
		span.SetStatus(codes.Error, "evaluation failed closed")
	}
}
