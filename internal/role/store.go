package role

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store is the persistence boundary for roles and assignments.
// Implementations must return snapshots that callers may not mutate.
type Store interface {
	// GetRole returns a system role or a custom role of tenantID.
	GetRole(ctx context.Context, tenantID, roleID string) (*Role, error)

	// ListRoles returns system roles followed by tenantID's custom roles.
	ListRoles(ctx context.Context, tenantID string) ([]*Role, error)

	// ListAssignments returns the user's assignments in tenantID,
	// including expired ones.
	ListAssignments(ctx context.Context, userID, tenantID string) ([]Assignment, error)

	// SaveRole stores a new custom role. An id already used by a system
	// role or by a custom role of the same tenant returns ErrRoleExists.
	SaveRole(ctx context.Context, r *Role) error

	// SaveAssignment stores or replaces an assignment.
	SaveAssignment(ctx context.Context, a Assignment) error

	// DeleteAssignment removes an assignment.
	DeleteAssignment(ctx context.Context, userID, roleID, tenantID string) error
}

// MemoryStore is an in-memory Store seeded with system roles.
type MemoryStore struct {
	mu          sync.RWMutex
	system      map[string]*Role
	systemOrder []string
	custom      map[string]map[string]*Role
	assignments map[assignmentKey][]Assignment
}

type assignmentKey struct {
	tenantID string
	userID   string
}

// NewMemoryStore creates a store holding the given system roles.
func NewMemoryStore(system []*Role) *MemoryStore {
	s := &MemoryStore{
		system:      make(map[string]*Role, len(system)),
		custom:      make(map[string]map[string]*Role),
		assignments: make(map[assignmentKey][]Assignment),
	}
	for _, r := range system {
		s.system[r.ID] = r
		s.systemOrder = append(s.systemOrder, r.ID)
	}
	return s
}

// GetRole implements Store.
func (s *MemoryStore) GetRole(_ context.Context, tenantID, roleID string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.system[roleID]; ok {
		return r, nil
	}
	if r, ok := s.custom[tenantID][roleID]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrRoleNotFound, roleID)
}

// ListRoles implements Store.
func (s *MemoryStore) ListRoles(_ context.Context, tenantID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := make([]*Role, 0, len(s.system)+len(s.custom[tenantID]))
	for _, id := range s.systemOrder {
		roles = append(roles, s.system[id])
	}

	custom := make([]*Role, 0, len(s.custom[tenantID]))
	for _, r := range s.custom[tenantID] {
		custom = append(custom, r)
	}
	sort.Slice(custom, func(i, j int) bool {
		if custom[i].Level != custom[j].Level {
			return custom[i].Level > custom[j].Level
		}
		return custom[i].ID < custom[j].ID
	})
	return append(roles, custom...), nil
}

// ListAssignments implements Store.
func (s *MemoryStore) ListAssignments(_ context.Context, userID, tenantID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.assignments[assignmentKey{tenantID: tenantID, userID: userID}]
	out := make([]Assignment, len(src))
	copy(out, src)
	return out, nil
}

// SaveRole implements Store. Roles are stored as compiled clones.
func (s *MemoryStore) SaveRole(_ context.Context, r *Role) error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: custom role %q has no tenant", ErrInvalidRole, r.ID)
	}
	c := r.Clone()
	if c.Grants() == nil {
		if err := c.Compile(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.system[r.ID]; ok {
		return fmt.Errorf("%w: %q is a system role", ErrRoleExists, r.ID)
	}
	tenantRoles, ok := s.custom[r.TenantID]
	if !ok {
		tenantRoles = make(map[string]*Role)
		s.custom[r.TenantID] = tenantRoles
	}
	if _, ok := tenantRoles[r.ID]; ok {
		return fmt.Errorf("%w: %q", ErrRoleExists, r.ID)
	}
	tenantRoles[r.ID] = c
	return nil
}

// SaveAssignment implements Store.
func (s *MemoryStore) SaveAssignment(_ context.Context, a Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey{tenantID: a.TenantID, userID: a.UserID}
	list := s.assignments[key]
	for i := range list {
		if list[i].RoleID == a.RoleID {
			list[i] = a
			return nil
		}
	}
	s.assignments[key] = append(list, a)
	return nil
}

// DeleteAssignment implements Store.
func (s *MemoryStore) DeleteAssignment(_ context.Context, userID, roleID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assignmentKey{tenantID: tenantID, userID: userID}
	list := s.assignments[key]
	for i := range list {
		if list[i].RoleID == roleID {
			s.assignments[key] = append(list[:i:i], list[i+1:]...)
			if len(s.assignments[key]) == 0 {
				delete(s.assignments, key)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: user %q role %q", ErrAssignmentNotFound, userID, roleID)
}
