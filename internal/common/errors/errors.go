// Package errors provides structured error handling for the risk service
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ErrorCode represents an application error code
type ErrorCode string

const (
	// General errors
	ErrInternal     ErrorCode = "INTERNAL_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrBadRequest   ErrorCode = "BAD_REQUEST"
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrForbidden    ErrorCode = "FORBIDDEN"
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrTimeout      ErrorCode = "TIMEOUT"
	ErrRateLimited  ErrorCode = "RATE_LIMITED"

	// Startup errors
	ErrConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// Authentication errors
	ErrInvalidToken      ErrorCode = "INVALID_TOKEN"
	ErrTokenExpired      ErrorCode = "TOKEN_EXPIRED"
	ErrInsufficientPerms ErrorCode = "INSUFFICIENT_PERMISSIONS"

	// Risk decisions
	ErrRiskRejected           ErrorCode = "RISK_REJECTED"
	ErrVerificationRequired   ErrorCode = "VERIFICATION_REQUIRED"
	ErrThreatIntelUnavailable ErrorCode = "THREAT_INTEL_UNAVAILABLE"

	// External service errors
	ErrDatabase           ErrorCode = "DATABASE_ERROR"
	ErrRedisError         ErrorCode = "REDIS_ERROR"
	ErrElasticsearchError ErrorCode = "ELASTICSEARCH_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	StatusCode int                    `json:"-"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Err        error                  `json:"-"` // Original error for logging
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the original error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an existing error into an AppError
func Wrap(err error, code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrInternal, message, http.StatusInternalServerError)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrBadRequest, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrUnauthorized, message, http.StatusUnauthorized)
}

// Forbidden creates a forbidden error
func Forbidden(message string) *AppError {
	return New(ErrForbidden, message, http.StatusForbidden)
}

// ValidationError creates a validation error
func ValidationError(message string) *AppError {
	return New(ErrValidation, message, http.StatusBadRequest)
}

// Timeout creates a timeout error
func Timeout(message string) *AppError {
	return New(ErrTimeout, message, http.StatusGatewayTimeout)
}

// RateLimited creates a too-many-requests error
func RateLimited(retryAfter int64) *AppError {
	return New(ErrRateLimited, "Rate limit exceeded", http.StatusTooManyRequests).
		WithMetadata("retry_after", retryAfter)
}

// Configuration creates an error for invalid startup configuration.
// Services must refuse to start when they receive one.
func Configuration(message string, err error) *AppError {
	return Wrap(err, ErrConfiguration, message, http.StatusInternalServerError)
}

// InvalidToken creates an invalid token error
func InvalidToken(details string) *AppError {
	return &AppError{
		Code:       ErrInvalidToken,
		Message:    "Invalid authentication token",
		Details:    details,
		StatusCode: http.StatusUnauthorized,
	}
}

// TokenExpired creates a token expired error
func TokenExpired() *AppError {
	return New(ErrTokenExpired, "Authentication token has expired", http.StatusUnauthorized)
}

// InsufficientPermissions creates an insufficient permissions error
func InsufficientPermissions(action string) *AppError {
	return New(ErrInsufficientPerms, "Insufficient permissions to perform this action", http.StatusForbidden).
		WithMetadata("action", action)
}

// RiskRejected is returned to callers that must block a sign attempt
func RiskRejected(reason string) *AppError {
	return &AppError{
		Code:       ErrRiskRejected,
		Message:    "Sign attempt rejected",
		Details:    reason,
		StatusCode: http.StatusForbidden,
	}
}

// VerificationRequired is returned when a sign attempt needs a step-up challenge
func VerificationRequired(reason string) *AppError {
	return &AppError{
		Code:       ErrVerificationRequired,
		Message:    "Additional verification required",
		Details:    reason,
		StatusCode: http.StatusUnauthorized,
	}
}

// ThreatIntelUnavailable creates an error for a missing or unreadable threat intelligence snapshot
func ThreatIntelUnavailable(source string, err error) *AppError {
	return Wrap(err, ErrThreatIntelUnavailable, "Threat intelligence unavailable", http.StatusServiceUnavailable).
		WithMetadata("source", source)
}

// DatabaseError creates a database error
func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:       ErrDatabase,
		Message:    "Database operation failed",
		Details:    operation,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ErrorResponse is the JSON response structure for errors
type ErrorResponse struct {
	Error     ErrorCode              `json:"error"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HandleError sends an error response to the client
func HandleError(c *gin.Context, err error) {
	appErr, ok := As(err)
	if !ok {
		appErr = Internal("An unexpected error occurred", err)
	}

	requestID, _ := c.Get("request_id")
	reqIDStr, _ := requestID.(string)

	c.JSON(appErr.StatusCode, ErrorResponse{
		Error:     appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		Metadata:  appErr.Metadata,
		RequestID: reqIDStr,
	})
}

// ErrorHandler is a middleware that handles panics and converts them to errors
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				var appErr *AppError

				switch e := err.(type) {
				case *AppError:
					appErr = e
				case error:
					appErr = Internal("Internal server error", e)
				default:
					appErr = Internal("Internal server error", fmt.Errorf("%v", err))
				}

				HandleError(c, appErr)
				c.Abort()
			}
		}()

		c.Next()
	}
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if appErr, ok := As(err); ok {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
