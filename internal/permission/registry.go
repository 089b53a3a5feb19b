package permission

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/vyrodovalexey/rosterguard/internal/condition"
)

// Definition describes a catalog permission.
type Definition struct {
	ID          string                `json:"id" yaml:"id"`
	Name        string                `json:"name" yaml:"name"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Resource    string                `json:"resource" yaml:"resource"`
	Action      string                `json:"action" yaml:"action"`
	Conditions  []condition.Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// Conditional reports whether the permission carries conditions.
func (d Definition) Conditional() bool {
	return len(d.Conditions) > 0
}

// Registry is an immutable catalog of permissions.
// It is safe for concurrent use.
type Registry struct {
	defs      map[string]Definition
	ordered   []Definition
	resources map[string]struct{}
	resOrder  []string
}

// NewRegistry builds a registry from definitions. Each definition must have
// an exact id, unique across the catalog, and valid conditions.
func NewRegistry(defs []Definition) (*Registry, error) {
	r := &Registry{
		defs:      make(map[string]Definition, len(defs)),
		ordered:   make([]Definition, 0, len(defs)),
		resources: make(map[string]struct{}),
	}

	title := cases.Title(language.English)
	for _, d := range defs {
		p, err := Parse(d.ID)
		if err != nil {
			return nil, err
		}
		if p.Kind != KindExact {
			return nil, fmt.Errorf("%w: %q: catalog entries must be exact", ErrInvalidPermission, d.ID)
		}
		if _, dup := r.defs[d.ID]; dup {
			return nil, fmt.Errorf("%w: %q: duplicate definition", ErrInvalidPermission, d.ID)
		}
		for _, c := range d.Conditions {
			if err := c.Validate(); err != nil {
				return nil, fmt.Errorf("permission %q: %w", d.ID, err)
			}
		}

		d.Resource, d.Action = p.Resource, p.Action
		if d.Name == "" {
			d.Name = title.String(strings.ReplaceAll(d.Action+" "+d.Resource, "_", " "))
		}

		r.defs[d.ID] = d
		r.ordered = append(r.ordered, d)
		if _, ok := r.resources[p.Resource]; !ok {
			r.resources[p.Resource] = struct{}{}
			r.resOrder = append(r.resOrder, p.Resource)
		}
	}

	return r, nil
}

// IsValid reports whether id is "*", a wildcard over a known resource, or
// a known exact permission.
func (r *Registry) IsValid(id string) bool {
	return r.check(id) == nil
}

// Validate checks every id. The first invalid id is reported.
func (r *Registry) Validate(ids []string) error {
	for _, id := range ids {
		if err := r.check(id); err != nil {
			return err
		}
	}
	return nil
}

// ParseKnown parses id and requires it to name a known exact permission.
func (r *Registry) ParseKnown(id string) (Pattern, error) {
	p, err := Parse(id)
	if err != nil {
		return Pattern{}, err
	}
	if p.Kind != KindExact {
		return Pattern{}, fmt.Errorf("%w: %q: a concrete permission is required", ErrInvalidPermission, id)
	}
	if _, ok := r.defs[id]; !ok {
		return Pattern{}, fmt.Errorf("%w: %q: unknown permission", ErrInvalidPermission, id)
	}
	return p, nil
}

func (r *Registry) check(id string) error {
	p, err := Parse(id)
	if err != nil {
		return err
	}
	switch p.Kind {
	case KindGlobal:
		return nil
	case KindResourceWildcard:
		if _, ok := r.resources[p.Resource]; !ok {
			return fmt.Errorf("%w: %q: unknown resource", ErrInvalidPermission, id)
		}
		return nil
	default:
		if _, ok := r.defs[id]; !ok {
			return fmt.Errorf("%w: %q: unknown permission", ErrInvalidPermission, id)
		}
		return nil
	}
}

// Lookup returns the definition for an exact id.
func (r *Registry) Lookup(id string) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Conditions returns the conditions registered on id.
func (r *Registry) Conditions(id string) []condition.Condition {
	return r.defs[id].Conditions
}

// Definitions returns all definitions in catalog order.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// IDs returns all exact permission ids in catalog order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ordered))
	for i, d := range r.ordered {
		out[i] = d.ID
	}
	return out
}

// Resources returns the known resource types in catalog order.
func (r *Registry) Resources() []string {
	out := make([]string, len(r.resOrder))
	copy(out, r.resOrder)
	return out
}

// ByResource returns the definitions grouped by resource, sorted by id.
func (r *Registry) ByResource() map[string][]Definition {
	out := make(map[string][]Definition, len(r.resOrder))
	for _, d := range r.ordered {
		out[d.Resource] = append(out[d.Resource], d)
	}
	for _, defs := range out {
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	}
	return out
}
