package authz

import (
	"context"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/rosterguard/internal/condition"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

type grant struct {
	role    string
	match   permission.Match
	noRoles bool
}

// walker evaluates one request against a role and, transitively, the roles
// it inherits.
type walker struct {
	resolver *role.Resolver
	tenantID string
	perm     permission.Pattern
	conds    []condition.Condition
	resource map[string]any
	ctx      map[string]any

	// done holds roles whose whole inheritance tree denied. Reaching one
	// again through another path is a diamond, not a cycle.
	done map[string]struct{}
}

func (w *walker) check(ctx context.Context, r *role.Role, stack []string) (grant, error) {
	for _, id := range stack {
		if id == r.ID {
			return grant{}, fmt.Errorf("%w: %s", role.ErrRoleCycle, strings.Join(append(stack, r.ID), " -> "))
		}
	}
	if _, ok := w.done[r.ID]; ok {
		return grant{}, nil
	}

	switch m := r.Grants().Match(w.perm); m {
	case permission.MatchGlobal:
		return grant{role: r.ID, match: m}, nil
	case permission.MatchExact, permission.MatchResource:
		ok, err := condition.EvaluateAll(w.conds, w.resource, w.ctx)
		if err != nil {
			return grant{}, fmt.Errorf("role %q: %w", r.ID, err)
		}
		if ok {
			return grant{role: r.ID, match: m}, nil
		}
		return grant{}, nil
	}

	stack = append(stack, r.ID)
	for _, parentID := range r.Inherits {
		if err := ctx.Err(); err != nil {
			return grant{}, err
		}
		parent, err := w.resolver.Lookup(ctx, w.tenantID, parentID)
		if err != nil {
			return grant{}, fmt.Errorf("role %q inherits: %w", r.ID, err)
		}
		g, err := w.check(ctx, parent, stack)
		if err != nil {
			return grant{}, err
		}
		if g.role != "" {
			return g, nil
		}
	}
	w.done[r.ID] = struct{}{}
	return grant{}, nil
}
