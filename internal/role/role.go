package role

import (
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/permission"
)

// Role errors.
var (
	// ErrRoleNotFound indicates an assignment or inheritance reference to a
	// role that does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleCycle indicates a cyclic inherits chain.
	ErrRoleCycle = errors.New("role inheritance cycle")

	// ErrInvalidRole indicates a role definition that fails validation.
	ErrInvalidRole = errors.New("invalid role")

	// ErrRoleExists indicates a role id already in use.
	ErrRoleExists = errors.New("role already exists")

	// ErrInvalidAssignment indicates an assignment that fails validation.
	ErrInvalidAssignment = errors.New("invalid role assignment")

	// ErrAssignmentNotFound indicates a revoke of an unknown assignment.
	ErrAssignmentNotFound = errors.New("role assignment not found")
)

// Role is a named bundle of permissions with a hierarchy level.
type Role struct {
	ID           string   `json:"id" yaml:"id"`
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Level        int      `json:"level" yaml:"level"`
	Permissions  []string `json:"permissions" yaml:"permissions"`
	Inherits     []string `json:"inherits,omitempty" yaml:"inherits,omitempty"`
	IsSystemRole bool     `json:"isSystemRole" yaml:"isSystemRole"`
	TenantID     string   `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`

	grants *permission.Set
}

// Compile parses the role's permissions. It must be called before Grants.
func (r *Role) Compile() error {
	set, err := permission.NewSet(r.Permissions)
	if err != nil {
		return fmt.Errorf("role %q: %w", r.ID, err)
	}
	r.grants = set
	return nil
}

// Grants returns the parsed permission set.
func (r *Role) Grants() *permission.Set {
	return r.grants
}

// Clone returns a deep copy of the role.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	c := *r
	c.Permissions = append([]string(nil), r.Permissions...)
	c.Inherits = append([]string(nil), r.Inherits...)
	return &c
}

// Assignment binds a role to a user within a tenant.
type Assignment struct {
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	TenantID   string     `json:"tenantId"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`

	// Conditions are CEL expressions that must all hold for the role to
	// apply to a decision.
	Conditions []string `json:"conditions,omitempty"`
}

// Active reports whether the assignment is in effect at now.
func (a Assignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// CanManageRole reports whether a holder of a may manage b.
func CanManageRole(a, b *Role) bool {
	return a.Level > b.Level
}

// CanAssignRole reports whether a holder of a may assign b.
func CanAssignRole(a, b *Role) bool {
	return a.Level >= b.Level
}
