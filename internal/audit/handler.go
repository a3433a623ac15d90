package audit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// Searcher finds stored entries
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Entry, int, error)
}

// Handler serves the verdict trail to administrators
type Handler struct {
	searcher Searcher
	signer   *Signer
	logger   *zap.Logger
}

// NewHandler creates a new audit handler. signer may be nil.
func NewHandler(searcher Searcher, signer *Signer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		searcher: searcher,
		signer:   signer,
		logger:   logger.With(zap.String("component", "verdict-audit-handler")),
	}
}

// RegisterRoutes registers the verdict trail routes behind adminMiddleware
func (h *Handler) RegisterRoutes(r gin.IRouter, adminMiddleware ...gin.HandlerFunc) {
	verdicts := r.Group("/api/v1/risk/verdicts")
	verdicts.Use(adminMiddleware...)
	{
		verdicts.GET("", h.ListVerdicts)
		verdicts.GET("/:request_id", h.GetVerdict)
	}
}

// ListVerdicts handles GET /api/v1/risk/verdicts
func (h *Handler) ListVerdicts(c *gin.Context) {
	q := Query{
		Username:  c.Query("username"),
		IPAddress: c.Query("ip_address"),
		Status:    c.Query("status"),
	}
	var err error
	if q.From, err = parseTime(c.Query("from")); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("from must be RFC3339").WithDetails(err.Error()))
		return
	}
	if q.To, err = parseTime(c.Query("to")); err != nil {
		apperrors.HandleError(c, apperrors.BadRequest("to must be RFC3339").WithDetails(err.Error()))
		return
	}
	if s := c.Query("size"); s != "" {
		if q.Size, err = strconv.Atoi(s); err != nil {
			apperrors.HandleError(c, apperrors.BadRequest("size must be a number"))
			return
		}
	}

	entries, total, err := h.searcher.Search(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("Verdict search failed", zap.Error(err))
		apperrors.HandleError(c, apperrors.Wrap(err, apperrors.ErrElasticsearchError, "Verdict search failed", http.StatusServiceUnavailable))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"verdicts": entries,
	})
}

// GetVerdict handles GET /api/v1/risk/verdicts/:request_id and reports
// whether the stored entry still matches its signature.
func (h *Handler) GetVerdict(c *gin.Context) {
	id := c.Param("request_id")
	entries, _, err := h.searcher.Search(c.Request.Context(), Query{RequestID: id, Size: 1})
	if err != nil {
		h.logger.Error("Verdict lookup failed", zap.String("request_id", id), zap.Error(err))
		apperrors.HandleError(c, apperrors.Wrap(err, apperrors.ErrElasticsearchError, "Verdict lookup failed", http.StatusServiceUnavailable))
		return
	}
	if len(entries) == 0 {
		apperrors.HandleError(c, apperrors.NotFound("verdict"))
		return
	}

	e := entries[0]
	resp := gin.H{"verdict": e}
	if h.signer != nil {
		verr := h.signer.Verify(&e)
		resp["verified"] = verr == nil
		if IsTampered(verr) {
			h.logger.Warn("Stored verdict does not match its hash", zap.String("request_id", id))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
