package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(ErrBadRequest, "Test error", http.StatusBadRequest)

	assert.Equal(t, ErrBadRequest, err.Code)
	assert.Equal(t, "Test error", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Nil(t, err.Err)
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("original error")
	err := Wrap(originalErr, ErrInternal, "Wrapped error", http.StatusInternalServerError)

	assert.Equal(t, ErrInternal, err.Code)
	assert.Equal(t, originalErr, err.Err)
	assert.ErrorIs(t, err, originalErr)
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "Error without details",
			err:      &AppError{Code: ErrBadRequest, Message: "Invalid request"},
			expected: "[BAD_REQUEST] Invalid request",
		},
		{
			name:     "Error with details",
			err:      &AppError{Code: ErrRiskRejected, Message: "Sign attempt rejected", Details: "blocked zone"},
			expected: "[RISK_REJECTED] Sign attempt rejected: blocked zone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppError_WithMetadata(t *testing.T) {
	err := New(ErrValidation, "Invalid request", http.StatusBadRequest)
	err.WithMetadata("field", "ip_address")
	err.WithMetadata("value", "999.1.1.1")

	assert.Len(t, err.Metadata, 2)
	assert.Equal(t, "ip_address", err.Metadata["field"])
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name           string
		createError    func() *AppError
		expectedCode   ErrorCode
		expectedStatus int
	}{
		{"Internal", func() *AppError { return Internal("System error", nil) }, ErrInternal, http.StatusInternalServerError},
		{"BadRequest", func() *AppError { return BadRequest("Invalid input") }, ErrBadRequest, http.StatusBadRequest},
		{"Unauthorized", func() *AppError { return Unauthorized("Not authenticated") }, ErrUnauthorized, http.StatusUnauthorized},
		{"Forbidden", func() *AppError { return Forbidden("Access denied") }, ErrForbidden, http.StatusForbidden},
		{"Configuration", func() *AppError { return Configuration("bad zone", nil) }, ErrConfiguration, http.StatusInternalServerError},
		{"RiskRejected", func() *AppError { return RiskRejected("blocked") }, ErrRiskRejected, http.StatusForbidden},
		{"VerificationRequired", func() *AppError { return VerificationRequired("bot") }, ErrVerificationRequired, http.StatusUnauthorized},
		{"ThreatIntelUnavailable", func() *AppError { return ThreatIntelUnavailable("redis", nil) }, ErrThreatIntelUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.createError()
			assert.Equal(t, tt.expectedCode, err.Code)
			assert.Equal(t, tt.expectedStatus, err.StatusCode)
		})
	}
}

func TestRiskDecisionsAreDistinguishable(t *testing.T) {
	rejected := RiskRejected("r")
	verify := VerificationRequired("v")

	assert.NotEqual(t, rejected.Code, verify.Code)
	assert.NotEqual(t, rejected.StatusCode, verify.StatusCode)
}

func TestIsErrorCode_Wrapped(t *testing.T) {
	err := fmt.Errorf("loading intel: %w", Configuration("invalid zone", nil))

	assert.True(t, IsErrorCode(err, ErrConfiguration))
	assert.False(t, IsErrorCode(err, ErrInternal))
	assert.False(t, IsErrorCode(errors.New("plain"), ErrConfiguration))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(errors.New("plain")))
}

func TestHandleError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("app error", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Set("request_id", "req-1")

		HandleError(c, RiskRejected("blocked zone"))

		assert.Equal(t, http.StatusForbidden, w.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrRiskRejected, resp.Error)
		assert.Equal(t, "blocked zone", resp.Details)
		assert.Equal(t, "req-1", resp.RequestID)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)

		HandleError(c, errors.New("boom"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), string(ErrInternal))
	})
}

func TestErrorHandler_RecoversPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandler())
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
