package auth

import (
	"errors"
	"regexp"
)

// clientIDPattern defines the valid format for client identifiers:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var clientIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidClientID checks if a client ID meets format requirements.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

// Role represents an authorisation tier for API clients.
type Role string

const (
	// RoleViewer can list devices and read controls and the command log.
	RoleViewer Role = "viewer"

	// RoleOperator can also send commands and write controls.
	RoleOperator Role = "operator"

	// RoleAdmin can also release and reclaim devices and read runtime metrics.
	RoleAdmin Role = "admin"
)

// ValidRoles is the set of valid client roles.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Client is a machine identity allowed to use the API.
type Client struct {
	ID      string `json:"id"`
	KeyHash string `json:"-"` // never serialised
	Role    Role   `json:"role"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient permissions")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)
