package domain

import "sort"

// Actor is the authenticated caller of a request. It is built by the
// authentication middleware before any handler runs and is read-only from
// then on.
type Actor struct {
	ID          string
	permissions map[string]struct{}
}

// NewActor returns an Actor holding the given permissions. Blank entries are
// ignored.
func NewActor(id string, permissions ...string) *Actor {
	set := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	return &Actor{ID: id, permissions: set}
}

// Has reports whether the actor was granted permission p.
func (a *Actor) Has(p string) bool {
	if a == nil {
		return false
	}
	_, ok := a.permissions[p]
	return ok
}

// Permissions returns the granted permissions in sorted order.
func (a *Actor) Permissions() []string {
	if a == nil {
		return nil
	}
	out := make([]string, 0, len(a.permissions))
	for p := range a.permissions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
