package rbac

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMembershipNotFound is returned when a user has no role in a workspace
var ErrMembershipNotFound = errors.New("membership not found")

// Role is a workspace membership role
type Role string

const (
	RoleOwner   Role = "OWNER"
	RoleAnalyst Role = "ANALYST"
)

// Weight orders roles; unknown roles weigh 0 and satisfy nothing
func (r Role) Weight() int {
	switch r {
	case RoleOwner:
		return 2
	case RoleAnalyst:
		return 1
	}
	return 0
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r.Weight() > 0
}

// AtLeast reports whether r grants everything min grants
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && min.Valid() && r.Weight() >= min.Weight()
}

func (r Role) String() string {
	return string(r)
}

// ParseRole parses a role name case-insensitively
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("invalid role %q", s)
	}
	return r, nil
}

// Membership binds a user to a workspace with a role
type Membership struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WorkspaceID string    `json:"workspace_id"`
	Role        Role      `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// Actor is the authenticated caller acting inside a workspace
type Actor struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        Role   `json:"role"`
	SessionID   string `json:"-"`
}
