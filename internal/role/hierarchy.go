package role

import "fmt"

// ValidateHierarchy checks that every inherits reference resolves within
// roles and that no inherits chain is cyclic. Diamonds are allowed.
func ValidateHierarchy(roles []*Role) error {
	byID := make(map[string]*Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int, len(roles))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case onStack:
			return fmt.Errorf("%w: %v", ErrRoleCycle, append(path, id))
		case done:
			return nil
		}
		r, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %q inherited by %q", ErrRoleNotFound, id, path[len(path)-1])
		}
		state[id] = onStack
		for _, parent := range r.Inherits {
			if err := visit(parent, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, r := range roles {
		if err := visit(r.ID, nil); err != nil {
			return err
		}
	}
	return nil
}
