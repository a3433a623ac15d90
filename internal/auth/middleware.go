package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/openidx/authrisk/internal/common/errors"
)

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, tokenString string) (*Claims, error)
}

// RBACMiddleware enforces authentication and role checks on gin routes
type RBACMiddleware struct {
	validator TokenValidator
	logger    *zap.Logger
}

// NewRBACMiddleware creates a new RBAC middleware
func NewRBACMiddleware(validator TokenValidator, logger *zap.Logger) *RBACMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBACMiddleware{validator: validator, logger: logger.With(zap.String("component", "rbac"))}
}

// Authenticate validates the bearer token and stores the subject and roles in the context
func (m *RBACMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			m.abort(c, apperrors.Unauthorized("missing authorization header"))
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			m.abort(c, apperrors.Unauthorized("invalid authorization header format"))
			return
		}

		claims, err := m.validator.ValidateAccessToken(c.Request.Context(), token)
		if err != nil {
			m.logger.Warn("token validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path))
			if errors.Is(err, ErrTokenExpired) {
				m.abort(c, apperrors.TokenExpired())
			} else {
				m.abort(c, apperrors.InvalidToken(""))
			}
			return
		}

		c.Set(ContextKeyUserID, claims.Subject)
		c.Set(ContextKeyRoles, claims.Roles)
		c.Next()
	}
}

// RequireRole passes when the caller holds one of roles or a role above it
func (m *RBACMiddleware) RequireRole(roles ...Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		held, err := GetRolesFromContext(c)
		if err != nil {
			m.abort(c, apperrors.Forbidden(err.Error()))
			return
		}
		for _, h := range held {
			for _, want := range roles {
				if h.IsHigherOrEqual(want) {
					c.Next()
					return
				}
			}
		}

		m.logger.Warn("authorization failed: insufficient role",
			zap.Any("user_roles", held),
			zap.Any("required_roles", roles))
		m.abort(c, apperrors.InsufficientPermissions(c.Request.Method+" "+c.FullPath()))
	}
}

// RequirePermission passes when one of the caller's roles grants every permission
func (m *RBACMiddleware) RequirePermission(perms ...string) gin.HandlerFunc {
	required := make([]Permission, 0, len(perms))
	for _, p := range perms {
		parsed, err := ParsePermission(p)
		if err != nil {
			panic(err)
		}
		required = append(required, parsed)
	}

	return func(c *gin.Context) {
		held, err := GetRolesFromContext(c)
		if err != nil {
			m.abort(c, apperrors.Forbidden(err.Error()))
			return
		}
		for _, role := range held {
			if grantsAll(role, required) {
				c.Next()
				return
			}
		}

		m.logger.Warn("authorization failed: missing permission",
			zap.Any("user_roles", held),
			zap.Strings("permissions", perms))
		m.abort(c, apperrors.InsufficientPermissions(strings.Join(perms, ",")))
	}
}

func grantsAll(role Role, perms []Permission) bool {
	for _, p := range perms {
		if !role.HasPermission(p.Resource, p.Action) {
			return false
		}
	}
	return true
}

func (m *RBACMiddleware) abort(c *gin.Context, err *apperrors.AppError) {
	apperrors.HandleError(c, err)
	c.Abort()
}
