package rbac

import (
	"github.com/platinummonkey/datawave/pkg/abac"
)

// Model is the mutable source of truth owned by the Manager. Snapshots are
// compiled from it; it is never shared with readers.
type Model struct {
	Users          map[string]User
	Roles          map[string]Role
	Permissions    map[string]Permission
	Groups         map[string]Group
	Resources      map[string]ResourceNode
	Assignments    map[string]RoleAssignment
	Denies         map[string]DenyAssignment
	AccessRequests map[string]AccessRequest
	Templates      map[string]abac.Template
}

// NewModel returns an empty model
func NewModel() *Model {
	return &Model{
		Users:          map[string]User{},
		Roles:          map[string]Role{},
		Permissions:    map[string]Permission{},
		Groups:         map[string]Group{},
		Resources:      map[string]ResourceNode{},
		Assignments:    map[string]RoleAssignment{},
		Denies:         map[string]DenyAssignment{},
		AccessRequests: map[string]AccessRequest{},
		Templates:      map[string]abac.Template{},
	}
}

// Clone copies every map. Entity values are shared, so callers replace
// slices and maps on entities rather than mutating them in place.
func (m *Model) Clone() *Model {
	return &Model{
		Users:          cloneMap(m.Users),
		Roles:          cloneMap(m.Roles),
		Permissions:    cloneMap(m.Permissions),
		Groups:         cloneMap(m.Groups),
		Resources:      cloneMap(m.Resources),
		Assignments:    cloneMap(m.Assignments),
		Denies:         cloneMap(m.Denies),
		AccessRequests: cloneMap(m.AccessRequests),
		Templates:      cloneMap(m.Templates),
	}
}

func cloneMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// principalExists reports whether the user or group behind p exists
func (m *Model) principalExists(p Principal) bool {
	switch p.Type {
	case PrincipalUser:
		_, ok := m.Users[p.ID]
		return ok
	case PrincipalGroup:
		_, ok := m.Groups[p.ID]
		return ok
	}
	return false
}

// roleReaches reports whether target is reachable from start by following
// parent edges. Iterative DFS; O(roles + edges).
func (m *Model) roleReaches(start, target string) bool {
	stack := []string{start}
	visited := map[string]bool{}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		stack = append(stack, m.Roles[id].ParentIDs...)
	}
	return false
}

// resourceReaches reports whether target is start or one of its ancestors
func (m *Model) resourceReaches(start, target string) bool {
	seen := map[string]bool{}
	for id := start; id != ""; id = m.Resources[id].ParentID {
		if id == target {
			return true
		}
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}
