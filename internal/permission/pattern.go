package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Wildcard is the global wildcard permission.
const Wildcard = "*"

// ErrInvalidPermission indicates a malformed or unknown permission id.
var ErrInvalidPermission = errors.New("invalid permission")

// Kind classifies a permission pattern.
type Kind int

// Pattern kinds.
const (
	KindExact Kind = iota
	KindResourceWildcard
	KindGlobal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindResourceWildcard:
		return "resource_wildcard"
	default:
		return "exact"
	}
}

// Pattern is a parsed permission id held by a role.
type Pattern struct {
	Kind     Kind
	Resource string
	Action   string
}

// Parse parses "*", "resource:*" or "resource:action".
func Parse(id string) (Pattern, error) {
	if id == Wildcard {
		return Pattern{Kind: KindGlobal}, nil
	}

	resource, action, ok := strings.Cut(id, ":")
	switch {
	case !ok:
		return Pattern{}, fmt.Errorf("%w: %q: expected resource:action", ErrInvalidPermission, id)
	case resource == "" || action == "":
		return Pattern{}, fmt.Errorf("%w: %q: empty resource or action", ErrInvalidPermission, id)
	case resource == Wildcard:
		return Pattern{}, fmt.Errorf("%w: %q: resource cannot be a wildcard", ErrInvalidPermission, id)
	case strings.Contains(action, ":"):
		return Pattern{}, fmt.Errorf("%w: %q: too many segments", ErrInvalidPermission, id)
	case strings.ContainsAny(id, " \t\r\n"):
		return Pattern{}, fmt.Errorf("%w: %q: contains whitespace", ErrInvalidPermission, id)
	}

	if action == Wildcard {
		return Pattern{Kind: KindResourceWildcard, Resource: resource}, nil
	}
	return Pattern{Kind: KindExact, Resource: resource, Action: action}, nil
}

// MustParse is like Parse but panics on error. Used for static seed data.
func MustParse(id string) Pattern {
	p, err := Parse(id)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the permission id.
func (p Pattern) String() string {
	switch p.Kind {
	case KindGlobal:
		return Wildcard
	case KindResourceWildcard:
		return p.Resource + ":" + Wildcard
	default:
		return p.Resource + ":" + p.Action
	}
}

// Set is a parsed permission set indexed for constant-time matching.
type Set struct {
	global    bool
	resources map[string]struct{}
	exact     map[string]struct{}
	ids       []string
}

// NewSet parses ids into a Set.
func NewSet(ids []string) (*Set, error) {
	s := &Set{
		resources: make(map[string]struct{}),
		exact:     make(map[string]struct{}),
		ids:       make([]string, 0, len(ids)),
	}
	for _, id := range ids {
		p, err := Parse(id)
		if err != nil {
			return nil, err
		}
		s.add(p)
	}
	return s, nil
}

func (s *Set) add(p Pattern) {
	switch p.Kind {
	case KindGlobal:
		s.global = true
	case KindResourceWildcard:
		s.resources[p.Resource] = struct{}{}
	default:
		s.exact[p.String()] = struct{}{}
	}
	s.ids = append(s.ids, p.String())
}

// Match describes how a set covers a requested permission.
type Match int

// Match results, in the order the decision engine checks them.
const (
	NoMatch Match = iota
	MatchGlobal
	MatchExact
	MatchResource
)

// Match reports how the set covers the requested exact permission.
func (s *Set) Match(req Pattern) Match {
	if s == nil {
		return NoMatch
	}
	if s.global {
		return MatchGlobal
	}
	if _, ok := s.exact[req.String()]; ok {
		return MatchExact
	}
	if _, ok := s.resources[req.Resource]; ok {
		return MatchResource
	}
	return NoMatch
}

// IDs returns the permission ids in insertion order.
func (s *Set) IDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}
