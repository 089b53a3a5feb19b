package guard

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/rosterguard/internal/apikey"
	"github.com/vyrodovalexey/rosterguard/internal/audit"
	"github.com/vyrodovalexey/rosterguard/internal/authz"
	"github.com/vyrodovalexey/rosterguard/internal/config"
	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/ratelimit"
	"github.com/vyrodovalexey/rosterguard/internal/role"
)

// HasPermission reports whether userID may perform permission in tenantID,
// optionally on resource. It never fails; errors deny and are audited.
func (s *Service) HasPermission(ctx context.Context, userID, tenantID, permission string,
	resource map[string]any) bool {
	return s.engine.Authorize(ctx, &authz.Request{
		UserID:     userID,
		TenantID:   tenantID,
		Permission: permission,
		Resource:   resource,
	}).Allowed
}

// Authorize decides req and returns the full decision.
func (s *Service) Authorize(ctx context.Context, req *authz.Request) *authz.Decision {
	return s.engine.Authorize(ctx, req)
}

// CheckRateLimit counts one request of identifier against resource. A
// non-nil override replaces the configured limit.
func (s *Service) CheckRateLimit(ctx context.Context, resource, identifier string,
	override *ratelimit.Limit) (*ratelimit.Result, error) {
	return s.limiter.Check(ctx, resource, identifier, override)
}

// GetRateLimitStatus reports the window of identifier without counting.
func (s *Service) GetRateLimitStatus(ctx context.Context, resource, identifier string,
	override *ratelimit.Limit) (*ratelimit.Result, error) {
	return s.limiter.StatusWithLimit(ctx, resource, identifier, override)
}

// ResetRateLimit clears the window of identifier on resource.
func (s *Service) ResetRateLimit(ctx context.Context, resource, identifier string) error {
	return s.limiter.Reset(ctx, resource, identifier)
}

// RateLimits returns the effective per-resource limits.
func (s *Service) RateLimits() map[string]ratelimit.Limit {
	return s.limiter.Limits()
}

// GetAuditLogs returns retained audit entries matching f, newest first.
func (s *Service) GetAuditLogs(f audit.Filter) []audit.Entry {
	return s.audit.Query(f)
}

// GetPermissionMatrix returns the roles by permissions grant table of
// tenantID.
func (s *Service) GetPermissionMatrix(ctx context.Context, tenantID string) (*authz.Matrix, error) {
	return s.engine.PermissionMatrix(ctx, tenantID)
}

// EffectiveRoles returns the roles userID actively holds in tenantID.
func (s *Service) EffectiveRoles(ctx context.Context, userID, tenantID string) ([]*role.Role, error) {
	return s.resolver.EffectiveRoles(ctx, userID, tenantID, s.clock())
}

// EffectivePermissions lists the catalog permissions userID holds in
// tenantID.
func (s *Service) EffectivePermissions(ctx context.Context, userID, tenantID string) ([]string, error) {
	return s.engine.EffectivePermissions(ctx, userID, tenantID)
}

// GenerateAPIKey issues a key and returns its metadata and secret.
func (s *Service) GenerateAPIKey(ctx context.Context, req apikey.GenerateRequest) (*apikey.APIKey, string, error) {
	key, secret, err := s.keys.Generate(ctx, req)
	if err != nil {
		return nil, "", err
	}
	s.recordChange(ctx, audit.Entry{
		UserID:     req.UserID,
		TenantID:   req.TenantID,
		Action:     ActionAPIKeyCreate,
		Resource:   "api_keys",
		ResourceID: key.ID,
		NewValues: map[string]any{
			"name":        key.Name,
			"prefix":      key.Prefix,
			"permissions": key.Permissions,
		},
	})
	return key, secret, nil
}

// ValidateAPIKey returns the key identified by secret when it is usable.
func (s *Service) ValidateAPIKey(ctx context.Context, secret string) (*apikey.APIKey, error) {
	return s.keys.Validate(ctx, secret)
}

// RevokeAPIKey revokes a key. Revoking a revoked key succeeds.
func (s *Service) RevokeAPIKey(ctx context.Context, keyID string) error {
	key, err := s.keys.Get(ctx, keyID)
	if err != nil {
		return err
	}
	if err := s.keys.Revoke(ctx, keyID); err != nil {
		return err
	}
	if key.Active {
		s.recordChange(ctx, audit.Entry{
			UserID:     key.UserID,
			TenantID:   key.TenantID,
			Action:     ActionAPIKeyRevoke,
			Resource:   "api_keys",
			ResourceID: key.ID,
			OldValues:  map[string]any{"active": true},
			NewValues:  map[string]any{"active": false},
		})
	}
	return nil
}

// ListAPIKeys returns the keys of tenantID.
func (s *Service) ListAPIKeys(ctx context.Context, tenantID string) ([]*apikey.APIKey, error) {
	return s.keys.List(ctx, tenantID)
}

// AuthorizeAPIKey rate limits and decides a request made with an API key.
func (s *Service) AuthorizeAPIKey(ctx context.Context, req apikey.AuthorizeRequest) (*apikey.AuthorizeResult, error) {
	return s.keys.Authorize(ctx, req)
}

// CreateCustomRole creates a tenant role.
func (s *Service) CreateCustomRole(ctx context.Context, tenantID, actorID string, spec role.Spec) (*role.Role, error) {
	r, err := s.roleManager.CreateCustomRole(ctx, tenantID, spec)
	if err != nil {
		return nil, err
	}
	s.recordChange(ctx, audit.Entry{
		UserID:     actorID,
		TenantID:   tenantID,
		Action:     ActionRoleCreate,
		Resource:   "roles",
		ResourceID: r.ID,
		NewValues: map[string]any{
			"level":       r.Level,
			"permissions": r.Permissions,
			"inherits":    r.Inherits,
		},
	})
	return r, nil
}

// AssignRole assigns a role. When req.AssignedBy is set the assigner must
// hold a role at least as senior as the one assigned.
func (s *Service) AssignRole(ctx context.Context, req role.AssignRequest) (role.Assignment, error) {
	if req.AssignedBy != "" {
		if err := s.checkAssigner(ctx, req.AssignedBy, req.TenantID, req.RoleID); err != nil {
			return role.Assignment{}, err
		}
	}
	a, err := s.roleManager.Assign(ctx, req)
	if err != nil {
		return role.Assignment{}, err
	}
	s.recordChange(ctx, audit.Entry{
		UserID:     req.AssignedBy,
		TenantID:   a.TenantID,
		Action:     ActionRoleAssign,
		Resource:   "roles",
		ResourceID: a.RoleID,
		NewValues:  map[string]any{"userId": a.UserID, "roleId": a.RoleID},
	})
	return a, nil
}

// RevokeRole removes an assignment.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID, tenantID, actorID string) error {
	if err := s.roleManager.Revoke(ctx, userID, roleID, tenantID); err != nil {
		return err
	}
	s.recordChange(ctx, audit.Entry{
		UserID:     actorID,
		TenantID:   tenantID,
		Action:     ActionRoleRevoke,
		Resource:   "roles",
		ResourceID: roleID,
		OldValues:  map[string]any{"userId": userID, "roleId": roleID},
	})
	return nil
}

func (s *Service) checkAssigner(ctx context.Context, actorID, tenantID, roleID string) error {
	target, err := s.resolver.Lookup(ctx, tenantID, roleID)
	if err != nil {
		return err
	}
	held, err := s.resolver.EffectiveRoles(ctx, actorID, tenantID, s.clock())
	if err != nil {
		return err
	}
	for _, r := range held {
		if role.CanAssignRole(r, target) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q may not assign role %q", ErrForbidden, actorID, roleID)
}

func (s *Service) recordChange(ctx context.Context, e audit.Entry) {
	e.Result = audit.ResultSuccess
	s.audit.Record(ctx, e)
}

// ApplyConfig applies a reloaded configuration: rate limits are replaced
// and tenant roles and assignments are seeded. Store backends are fixed
// at construction.
func (s *Service) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := s.limiter.SetLimits(cfg.RateLimiter()); err != nil {
		return err
	}
	if err := s.seedTenants(ctx, cfg.Tenants); err != nil {
		return err
	}
	s.logger.Info("configuration applied",
		observability.Int("tenants", len(cfg.Tenants)),
	)
	return nil
}
