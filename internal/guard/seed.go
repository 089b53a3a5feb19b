package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// seedTenants creates the configured roles and assignments. Roles that
// already exist are left unchanged. Roles may be listed in any order;
// a role is created once the roles it inherits exist.
func (s *Service) seedTenants(ctx context.Context, tenants []config.TenantConfig) error {
	var errs []error
	for _, t := range tenants {
		if err := s.seedRoles(ctx, t.ID, t.Roles); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, req := range t.Assignments {
			if req.TenantID == "" {
				req.TenantID = t.ID
			}
			if _, err := s.roleManager.Assign(ctx, req); err != nil {
				errs = append(errs, fmt.Errorf("tenant %q: assign %q to %q: %w", t.ID, req.RoleID, req.UserID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) seedRoles(ctx context.Context, tenantID string, specs []role.Spec) error {
	pending := append([]role.Spec(nil), specs...)
	for len(pending) > 0 {
		var (
			next    []role.Spec
			lastErr error
		)
		for _, spec := range pending {
			_, err := s.roleManager.CreateCustomRole(ctx, tenantID, spec)
			switch {
			case err == nil:
			case errors.Is(err, role.ErrRoleExists):
				s.logger.Debug("seeded role already exists",
					observability.String("tenant_id", tenantID),
					observability.String("role_id", spec.ID),
				)
			case errors.Is(err, role.ErrRoleNotFound):
				next = append(next, spec)
				lastErr = err
			default:
				return fmt.Errorf("tenant %q: role %q: %w", tenantID, spec.ID, err)
			}
		}
		if len(next) == len(pending) {
			return fmt.Errorf("tenant %q: %w", tenantID, lastErr)
		}
		pending = next
	}
	return nil
}
