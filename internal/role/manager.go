package role

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/vyrodovalexey/rosterguard/internal/observability"
	"github.com/vyrodovalexey/rosterguard/internal/permission"
)

var roleIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{1,62}$`)

// Spec describes a custom role to create.
type Spec struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Level       int      `json:"level" yaml:"level"`
	Permissions []string `json:"permissions" yaml:"permissions"`
	Inherits    []string `json:"inherits,omitempty" yaml:"inherits,omitempty"`
}

// AssignRequest describes a role assignment to create.
type AssignRequest struct {
	UserID     string     `json:"userId" yaml:"userId"`
	RoleID     string     `json:"roleId" yaml:"roleId"`
	TenantID   string     `json:"tenantId" yaml:"tenantId,omitempty"`
	AssignedBy string     `json:"assignedBy,omitempty" yaml:"assignedBy,omitempty"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Conditions []string   `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Manager performs validated writes of roles and assignments.
type Manager struct {
	store    Store
	registry *permission.Registry
	compiler *Compiler
	clock    func() time.Time
	logger   observability.Logger
}

// ManagerOption is a functional option for Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger.
func WithManagerLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithManagerClock sets the clock.
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.clock = clock
	}
}

// NewManager creates a manager.
func NewManager(store Store, registry *permission.Registry, compiler *Compiler, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		registry: registry,
		compiler: compiler,
		clock:    time.Now,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateCustomRole validates spec and stores it as a custom role of
// tenantID. Nothing is stored when any check fails.
func (m *Manager) CreateCustomRole(ctx context.Context, tenantID string, spec Spec) (*Role, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidRole)
	}
	if !roleIDPattern.MatchString(spec.ID) {
		return nil, fmt.Errorf("%w: id %q must match %s", ErrInvalidRole, spec.ID, roleIDPattern)
	}
	if spec.Level <= 0 || spec.Level >= OwnerLevel {
		return nil, fmt.Errorf("%w: level %d must be between 1 and %d", ErrInvalidRole, spec.Level, OwnerLevel-1)
	}
	if len(spec.Permissions) == 0 && len(spec.Inherits) == 0 {
		return nil, fmt.Errorf("%w: role %q grants nothing", ErrInvalidRole, spec.ID)
	}
	if err := m.registry.Validate(spec.Permissions); err != nil {
		return nil, err
	}
	if _, err := m.store.GetRole(ctx, tenantID, spec.ID); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrRoleExists, spec.ID)
	}

	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	r := &Role{
		ID:          spec.ID,
		Name:        name,
		Description: spec.Description,
		Level:       spec.Level,
		Permissions: append([]string(nil), spec.Permissions...),
		Inherits:    append([]string(nil), spec.Inherits...),
		TenantID:    tenantID,
	}
	if err := r.Compile(); err != nil {
		return nil, err
	}

	existing, err := m.store.ListRoles(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	if err := ValidateHierarchy(append(existing, r)); err != nil {
		return nil, err
	}

	if err := m.store.SaveRole(ctx, r); err != nil {
		return nil, err
	}

	m.logger.Info("custom role created",
		observability.String("tenant_id", tenantID),
		observability.String("role_id", r.ID),
		observability.Int("level", r.Level),
	)
	return r, nil
}

// Assign creates or replaces an assignment after checking that the role
// exists and its conditions compile.
func (m *Manager) Assign(ctx context.Context, req AssignRequest) (Assignment, error) {
	if req.UserID == "" || req.TenantID == "" || req.RoleID == "" {
		return Assignment{}, fmt.Errorf("%w: user, tenant and role are required", ErrInvalidAssignment)
	}

	now := m.clock()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return Assignment{}, fmt.Errorf("%w: expiry %s is not in the future", ErrInvalidAssignment, req.ExpiresAt.Format(time.RFC3339))
	}
	if _, err := m.store.GetRole(ctx, req.TenantID, req.RoleID); err != nil {
		return Assignment{}, err
	}
	if m.compiler != nil {
		if err := m.compiler.Validate(req.Conditions); err != nil {
			return Assignment{}, err
		}
	} else if len(req.Conditions) > 0 {
		return Assignment{}, fmt.Errorf("%w: conditions are not supported", ErrInvalidAssignment)
	}

	a := Assignment{
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		TenantID:   req.TenantID,
		AssignedBy: req.AssignedBy,
		AssignedAt: now,
		ExpiresAt:  req.ExpiresAt,
		Conditions: append([]string(nil), req.Conditions...),
	}
	if err := m.store.SaveAssignment(ctx, a); err != nil {
		return Assignment{}, err
	}

	m.logger.Info("role assigned",
		observability.String("tenant_id", a.TenantID),
		observability.String("user_id", a.UserID),
		observability.String("role_id", a.RoleID),
	)
	return a, nil
}

// Revoke removes an assignment.
func (m *Manager) Revoke(ctx context.Context, userID, roleID, tenantID string) error {
	if err := m.store.DeleteAssignment(ctx, userID, roleID, tenantID); err != nil {
		return err
	}
	m.logger.Info("role revoked",
		observability.String("tenant_id", tenantID),
		observability.String("user_id", userID),
		observability.String("role_id", roleID),
	)
	return nil
}
