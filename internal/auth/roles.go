// Package auth guards the risk service's administrative endpoints with
// HS256 bearer tokens and role checks.
package auth

import (
	"fmt"
	"strings"
)

// Role is an operator role carried in the token
type Role string

const (
	// RoleAdmin can do everything
	RoleAdmin Role = "admin"
	// RoleSecurityAdmin manages threat intelligence
	RoleSecurityAdmin Role = "security_admin"
	// RoleAuditor reads the verdict trail
	RoleAuditor Role = "auditor"
)

// AllRoles lists the valid roles
var AllRoles = []Role{RoleAdmin, RoleSecurityAdmin, RoleAuditor}

var roleLevels = map[Role]int{
	RoleAdmin:         3,
	RoleSecurityAdmin: 2,
	RoleAuditor:       1,
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the position in the hierarchy, 0 for unknown roles
func (r Role) Level() int {
	return roleLevels[r]
}

// IsHigherOrEqual reports whether r inherits other
func (r Role) IsHigherOrEqual(other Role) bool {
	return r.IsValid() && other.IsValid() && r.Level() >= other.Level()
}

// Permission is a resource:action pair
type Permission struct {
	Resource string
	Action   string
}

// String returns "resource:action"
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// ParsePermission parses "resource:action"
func ParsePermission(perm string) (Permission, error) {
	parts := strings.SplitN(perm, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Permission{}, fmt.Errorf("invalid permission format: %s", perm)
	}
	return Permission{Resource: parts[0], Action: parts[1]}, nil
}

const (
	PermThreatIntelRead   = "threat_intel:read"
	PermThreatIntelReload = "threat_intel:reload"
	PermVerdictsRead      = "verdicts:read"
)

// rolePermissions lists what each role grants directly. Higher roles
// inherit everything below them.
var rolePermissions = map[Role][]string{
	RoleAdmin:         {},
	RoleSecurityAdmin: {PermThreatIntelRead, PermThreatIntelReload},
	RoleAuditor:       {PermVerdictsRead, PermThreatIntelRead},
}

// HasPermission reports whether r grants resource:action directly or by inheritance
func (r Role) HasPermission(resource, action string) bool {
	if r == RoleAdmin {
		return true
	}
	want := Permission{Resource: resource, Action: action}.String()
	for role, perms := range rolePermissions {
		if !r.IsHigherOrEqual(role) {
			continue
		}
		for _, p := range perms {
			if p == want {
				return true
			}
		}
	}
	return false
}
