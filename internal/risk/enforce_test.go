package risk

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

func TestEnforce(t *testing.T) {
	engine := newTestEngine(t, nil, Options{})
	ctx := context.Background()

	t.Run("approved passes", func(t *testing.T) {
		assert.NoError(t, Enforce(engine.Evaluate(ctx, cleanRequest())))

		minor := cleanRequest()
		minor.TermsAccepted = false
		assert.NoError(t, Enforce(engine.Evaluate(ctx, minor)))
	})

	t.Run("suspicious requires verification", func(t *testing.T) {
		req := cleanRequest()
		req.UserAgent = "SomeCrawler/1.0"

		err := Enforce(engine.Evaluate(ctx, req))
		require.Error(t, err)
		assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrVerificationRequired))
		assert.Equal(t, http.StatusUnauthorized, apperrors.GetStatusCode(err))
	})

	t.Run("rejected is forbidden", func(t *testing.T) {
		req := cleanRequest()
		req.Latitude, req.Longitude = pointy.Float64(35.7), pointy.Float64(51.4) // Tehran

		err := Enforce(engine.Evaluate(ctx, req))
		require.Error(t, err)
		assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrRiskRejected))
		assert.Equal(t, http.StatusForbidden, apperrors.GetStatusCode(err))

		appErr, ok := apperrors.As(err)
		require.True(t, ok)
		assert.Contains(t, appErr.Details, "Tehran")
		assert.Equal(t, "test-request", appErr.Metadata["request_id"])
	})

	t.Run("fail-closed is rejected", func(t *testing.T) {
		err := Enforce(engine.Evaluate(ctx, nil))
		assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrRiskRejected))
	})

	t.Run("nil verdict is rejected", func(t *testing.T) {
		assert.True(t, apperrors.IsErrorCode(Enforce(nil), apperrors.ErrRiskRejected))
	})
}
