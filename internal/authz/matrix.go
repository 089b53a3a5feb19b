package authz

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// MatrixRole describes a row of the permission matrix.
type MatrixRole struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Level        int    `json:"level"`
	IsSystemRole bool   `json:"isSystemRole"`
}

// Matrix is the roles × permissions grant table.
type Matrix struct {
	Roles       []MatrixRole               `json:"roles"`
	Permissions []string                   `json:"permissions"`
	Grants      map[string]map[string]bool `json:"grants"`
}

// Allowed reports the cell for roleID and permission.
func (m *Matrix) Allowed(roleID, perm string) bool {
	return m.Grants[roleID][perm]
}

// PermissionMatrix builds the grant table of the system roles and the
// custom roles of tenantID against every catalog permission. A cell is set
// when the role's own grants cover the permission by global wildcard, exact
// id or resource wildcard. Inheritance and conditions are not applied.
func (e *Engine) PermissionMatrix(ctx context.Context, tenantID string) (*Matrix, error) {
	roles, err := e.resolver.Roles(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}

	ids := e.registry.IDs()
	patterns := make([]permission.Pattern, len(ids))
	for i, id := range ids {
		patterns[i] = permission.MustParse(id)
	}

	m := &Matrix{
		Roles:       make([]MatrixRole, 0, len(roles)),
		Permissions: ids,
		Grants:      make(map[string]map[string]bool, len(roles)),
	}
	for _, r := range roles {
		m.Roles = append(m.Roles, MatrixRole{
			ID:           r.ID,
			Name:         r.Name,
			Level:        r.Level,
			IsSystemRole: r.IsSystemRole,
		})
		row := make(map[string]bool, len(ids))
		grants := r.Grants()
		for i, p := range patterns {
			row[ids[i]] = grants.Match(p) != permission.NoMatch
		}
		m.Grants[r.ID] = row
	}
	return m, nil
}

// EffectivePermissions lists the catalog permissions covered by the roles
// userID holds in tenantID, including inherited roles. Conditional
// permissions are listed without evaluating their conditions and
// assignment conditions are not applied.
func (e *Engine) EffectivePermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	roles, err := e.resolver.EffectiveRoles(ctx, userID, tenantID, e.clock())
	if err != nil {
		return nil, err
	}

	var sets []*permission.Set
	seen := make(map[string]struct{})
	var collect func(r *role.Role, stack []string) error
	collect = func(r *role.Role, stack []string) error {
		for _, id := range stack {
			if id == r.ID {
				return fmt.Errorf("%w: %s", role.ErrRoleCycle, strings.Join(append(stack, r.ID), " -> "))
			}
		}
		if _, ok := seen[r.ID]; ok {
			return nil
		}
		stack = append(stack, r.ID)
		for _, parentID := range r.Inherits {
			parent, err := e.resolver.Lookup(ctx, tenantID, parentID)
			if err != nil {
				return fmt.Errorf("role %q inherits: %w", r.ID, err)
			}
			if err := collect(parent, stack); err != nil {
				return err
			}
		}
		seen[r.ID] = struct{}{}
		sets = append(sets, r.Grants())
		return nil
	}
	for _, r := range roles {
		if err := collect(r, nil); err != nil {
			return nil, err
		}
	}

	var out []string
	for _, id := range e.registry.IDs() {
		p := permission.MustParse(id)
		for _, s := range sets {
			if s.Match(p) != permission.NoMatch {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
