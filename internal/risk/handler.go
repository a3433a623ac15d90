package risk

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// VerdictRecorder persists verdicts for later review. Failures never change a verdict.
type VerdictRecorder interface {
	RecordVerdict(ctx context.Context, req *SignRequest, v *Verdict) error
}

// Handler exposes the engine over HTTP
type Handler struct {
	engine   *Engine
	provider *Provider
	recorder VerdictRecorder
	logger   *zap.Logger
}

// NewHandler creates a new risk handler. provider and recorder may be nil.
func NewHandler(engine *Engine, provider *Provider, recorder VerdictRecorder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		provider: provider,
		recorder: recorder,
		logger:   logger.With(zap.String("component", "risk-handler")),
	}
}

// RegisterRoutes registers risk routes. adminMiddleware guards the threat intel endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter, adminMiddleware ...gin.HandlerFunc) {
	api := r.Group("/api/v1/risk")
	{
		api.POST("/evaluate", h.Evaluate)
		api.POST("/authorize", h.Authorize)
	}

	admin := api.Group("/threat-intel")
	admin.Use(adminMiddleware...)
	{
		admin.GET("", h.GetThreatIntel)
		admin.POST("/reload", h.ReloadThreatIntel)
	}
}

// Evaluate handles POST /api/v1/risk/evaluate
func (h *Handler) Evaluate(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.evaluate(c, req))
}

// Authorize handles POST /api/v1/risk/authorize. Unlike Evaluate it maps the
// verdict to an HTTP outcome.
func (h *Handler) Authorize(c *gin.Context) {
	req, ok := h.bind(c)
	if !ok {
		return
	}
	v := h.evaluate(c, req)
	if err := Enforce(v); err != nil {
		if appErr, ok := apperrors.As(err); ok {
			appErr.WithMetadata("verdict", v)
		}
		apperrors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *Handler) bind(c *gin.Context) (*SignRequest, bool) {
	var req SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("Invalid request body").WithDetails(err.Error()))
		return nil, false
	}
	return &req, true
}

func (h *Handler) evaluate(c *gin.Context, req *SignRequest) *Verdict {
	ctx := c.Request.Context()
	v := h.engine.Evaluate(ctx, req)
	if h.recorder != nil {
		if err := h.recorder.RecordVerdict(ctx, req, v); err != nil {
			h.logger.Warn("Failed to record verdict",
				zap.String("request_id", v.RequestID),
				zap.Error(err))
		}
	}
	return v
}

// ThreatIntelSummary describes the active snapshot
type ThreatIntelSummary struct {
	Source   string           `json:"source"`
	LoadedAt time.Time        `json:"loaded_at"`
	Entries  ThreatIntelStats `json:"entries"`
	Options  Options          `json:"options"`
}

// GetThreatIntel handles GET /api/v1/risk/threat-intel
func (h *Handler) GetThreatIntel(c *gin.Context) {
	if h.provider == nil || h.provider.Snapshot() == nil {
		apperrors.HandleError(c, apperrors.ThreatIntelUnavailable("none", nil))
		return
	}
	c.JSON(http.StatusOK, ThreatIntelSummary{
		Source:   h.provider.SourceName(),
		LoadedAt: h.provider.LoadedAt(),
		Entries:  h.provider.Snapshot().Stats(),
		Options:  h.engine.Options(),
	})
}

// ReloadThreatIntel handles POST /api/v1/risk/threat-intel/reload
func (h *Handler) ReloadThreatIntel(c *gin.Context) {
	if h.provider == nil {
		apperrors.HandleError(c, apperrors.ThreatIntelUnavailable("none", nil))
		return
	}
	if err := h.provider.Reload(c.Request.Context()); err != nil {
		apperrors.HandleError(c, err)
		return
	}

	userID, _ := c.Get("user_id")
	h.logger.Info("Threat intel reloaded on request", zap.Any("user_id", userID))

	c.JSON(http.StatusOK, gin.H{
		"status":    "reloaded",
		"source":    h.provider.SourceName(),
		"loaded_at": h.provider.LoadedAt(),
		"entries":   h.provider.Snapshot().Stats(),
	})
}
