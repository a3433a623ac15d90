package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
)

var (
	// ErrUserNotFound is returned when user_id is not found in context
	ErrUserNotFound = errors.New("user not found in context")

	// ErrRolesNotFound is returned when roles are not found in context
	ErrRolesNotFound = errors.New("roles not found in context")
)

// Context keys set by Authenticate
const (
	ContextKeyUserID = "user_id"
	ContextKeyRoles  = "roles"
)

// GetUserFromContext returns the authenticated subject
func GetUserFromContext(c *gin.Context) (string, error) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return "", ErrUserNotFound
	}
	userID, ok := v.(string)
	if !ok || userID == "" {
		return "", ErrUserNotFound
	}
	return userID, nil
}

// GetRolesFromContext returns the roles of the authenticated subject
func GetRolesFromContext(c *gin.Context) ([]Role, error) {
	v, ok := c.Get(ContextKeyRoles)
	if !ok {
		return nil, ErrRolesNotFound
	}
	names, ok := v.([]string)
	if !ok {
		return nil, errors.New("roles in context is not a string slice")
	}
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		roles = append(roles, Role(n))
	}
	return roles, nil
}
