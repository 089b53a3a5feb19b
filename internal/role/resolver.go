package role

import (
	"context"
	"fmt"
	"time"
)

// Binding pairs an active assignment with its role.
type Binding struct {
	Assignment Assignment
	Role       *Role
}

// Resolver determines the roles a user holds in a tenant.
// It only reads from the store and is safe for concurrent use.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Bindings returns the user's assignments active at now, with their roles.
// An assignment referencing a missing role fails the call.
func (r *Resolver) Bindings(ctx context.Context, userID, tenantID string, now time.Time) ([]Binding, error) {
	assignments, err := r.store.ListAssignments(ctx, userID, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}

	bindings := make([]Binding, 0, len(assignments))
	for _, a := range assignments {
		if !a.Active(now) {
			continue
		}
		role, err := r.store.GetRole(ctx, tenantID, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("assignment of user %q: %w", userID, err)
		}
		bindings = append(bindings, Binding{Assignment: a, Role: role})
	}
	return bindings, nil
}

// EffectiveRoles returns the distinct roles held at now.
func (r *Resolver) EffectiveRoles(ctx context.Context, userID, tenantID string, now time.Time) ([]*Role, error) {
	bindings, err := r.Bindings(ctx, userID, tenantID, now)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(bindings))
	roles := make([]*Role, 0, len(bindings))
	for _, b := range bindings {
		if _, dup := seen[b.Role.ID]; dup {
			continue
		}
		seen[b.Role.ID] = struct{}{}
		roles = append(roles, b.Role)
	}
	return roles, nil
}

// Lookup returns a role by id within tenantID.
func (r *Resolver) Lookup(ctx context.Context, tenantID, roleID string) (*Role, error) {
	return r.store.GetRole(ctx, tenantID, roleID)
}

// Roles returns system roles followed by tenantID's custom roles.
func (r *Resolver) Roles(ctx context.Context, tenantID string) ([]*Role, error) {
	return r.store.ListRoles(ctx, tenantID)
}
