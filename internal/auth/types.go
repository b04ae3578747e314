package auth

import "errors"

// Role represents an authorisation tier for API callers.
type Role string

const (
	// RoleViewer can read devices, run history and datapoints.
	RoleViewer Role = "viewer"

	// RoleOperator can also trigger and abort transitions and inject
	// datapoint values.
	RoleOperator Role = "operator"

	// RoleAdmin can also create, edit and delete virtual devices.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of roles a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is one of ValidRoles.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Sentinel errors for auth operations.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrInvalidRole  = errors.New("invalid role")
	ErrMissingToken = errors.New("missing bearer token")
	ErrForbidden    = errors.New("insufficient permissions")
)
