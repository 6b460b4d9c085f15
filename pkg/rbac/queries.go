package rbac

import (
	"sort"
)

// AssignmentFilter narrows ListAssignments. Empty fields match everything.
type AssignmentFilter struct {
	PrincipalType PrincipalType
	PrincipalID   string
	RoleID        string
	ResourceID    string
}

// Users lists every user ordered by id
func (g *Graph) Users() []User {
	out := make([]User, 0, len(g.users))
	for _, id := range sortedKeys(g.users) {
		out = append(out, *g.users[id])
	}
	return out
}

// Roles lists every role ordered by id
func (g *Graph) Roles() []Role {
	out := make([]Role, 0, len(g.roles))
	for _, n := range g.roles {
		out = append(out, n.role)
	}
	return out
}

// Permission returns the permission with id
func (g *Graph) Permission(id string) (Permission, bool) {
	p, ok := g.permissions[id]
	if !ok {
		return Permission{}, false
	}
	return p.Permission, true
}

// Permissions lists every permission ordered by id
func (g *Graph) Permissions() []Permission {
	out := make([]Permission, 0, len(g.permissions))
	for _, id := range sortedKeys(g.permissions) {
		out = append(out, g.permissions[id].Permission)
	}
	return out
}

// Group returns the group with id
func (g *Graph) Group(id string) (Group, bool) {
	grp, ok := g.groups[id]
	if !ok {
		return Group{}, false
	}
	return *grp, true
}

// Groups lists every group ordered by id
func (g *Graph) Groups() []Group {
	out := make([]Group, 0, len(g.groups))
	for _, id := range sortedKeys(g.groups) {
		out = append(out, *g.groups[id])
	}
	return out
}

// Resources lists every resource node ordered by id
func (g *Graph) Resources() []ResourceNode {
	out := make([]ResourceNode, 0, len(g.resources))
	for _, id := range sortedKeys(g.resources) {
		out = append(out, *g.resources[id])
	}
	return out
}

// Assignment returns the role assignment with id
func (g *Graph) Assignment(id string) (RoleAssignment, bool) {
	for _, list := range g.assignments {
		for _, a := range list {
			if a.ID == id {
				return *a, true
			}
		}
	}
	return RoleAssignment{}, false
}

// ListAssignments returns assignments matching f, including expired ones,
// ordered by grant time then id
func (g *Graph) ListAssignments(f AssignmentFilter) []RoleAssignment {
	out := []RoleAssignment{}
	for p, list := range g.assignments {
		if f.PrincipalType != "" && p.Type != f.PrincipalType {
			continue
		}
		if f.PrincipalID != "" && p.ID != f.PrincipalID {
			continue
		}
		for _, a := range list {
			if f.RoleID != "" && a.RoleID != f.RoleID {
				continue
			}
			if f.ResourceID != "" && a.ResourceID != f.ResourceID {
				continue
			}
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].GrantedAt.Equal(out[j].GrantedAt) {
			return out[i].GrantedAt.Before(out[j].GrantedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Deny returns the deny assignment with id
func (g *Graph) Deny(id string) (DenyAssignment, bool) {
	for _, list := range g.denies {
		for _, d := range list {
			if d.ID == id {
				return d.DenyAssignment, true
			}
		}
	}
	return DenyAssignment{}, false
}

// ListDenies returns deny assignments, optionally for one principal, ordered
// by id
func (g *Graph) ListDenies(p Principal) []DenyAssignment {
	out := []DenyAssignment{}
	for principal, list := range g.denies {
		if p.Type != "" && principal.Type != p.Type {
			continue
		}
		if p.ID != "" && principal.ID != p.ID {
			continue
		}
		for _, d := range list {
			out = append(out, d.DenyAssignment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
