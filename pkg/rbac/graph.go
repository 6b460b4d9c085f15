package rbac

import (
	"sort"
	"time"

	"github.com/platinummonkey/datawave/pkg/abac"
)

type compiledPermission struct {
	Permission
	expr    *abac.Expr
	exprErr error
}

type compiledDeny struct {
	DenyAssignment
	expr    *abac.Expr
	exprErr error
}

type roleNode struct {
	role    Role
	parents []int
	perms   []*compiledPermission
}

// Graph is an immutable, compiled snapshot of the policy model. Roles live in
// an arena indexed by position; parent edges are int adjacency lists.
type Graph struct {
	version uint64
	builtAt time.Time

	roles     []roleNode
	roleIndex map[string]int

	permissions map[string]*compiledPermission
	users       map[string]*User
	groups      map[string]*Group
	groupsOf    map[string][]string
	resources   map[string]*ResourceNode
	children    map[string][]string

	assignments map[Principal][]*RoleAssignment
	denies      map[Principal][]*compiledDeny
}

// Compile builds a snapshot from m. Dangling references are skipped; the
// Manager rejects them on write, so they only appear in hand-edited stores.
func Compile(m *Model, version uint64) *Graph {
	g := &Graph{
		version:     version,
		builtAt:     time.Now(),
		roleIndex:   make(map[string]int, len(m.Roles)),
		permissions: make(map[string]*compiledPermission, len(m.Permissions)),
		users:       make(map[string]*User, len(m.Users)),
		groups:      make(map[string]*Group, len(m.Groups)),
		groupsOf:    map[string][]string{},
		resources:   make(map[string]*ResourceNode, len(m.Resources)),
		children:    map[string][]string{},
		assignments: map[Principal][]*RoleAssignment{},
		denies:      map[Principal][]*compiledDeny{},
	}

	for id, p := range m.Permissions {
		cp := &compiledPermission{Permission: p}
		cp.expr, cp.exprErr = abac.Parse(p.Conditions)
		g.permissions[id] = cp
	}

	roleIDs := sortedKeys(m.Roles)
	g.roles = make([]roleNode, len(roleIDs))
	for i, id := range roleIDs {
		g.roleIndex[id] = i
		g.roles[i].role = m.Roles[id]
	}
	for i := range g.roles {
		node := &g.roles[i]
		for _, pid := range node.role.ParentIDs {
			if j, ok := g.roleIndex[pid]; ok {
				node.parents = append(node.parents, j)
			}
		}
		for _, permID := range node.role.PermissionIDs {
			if cp, ok := g.permissions[permID]; ok {
				node.perms = append(node.perms, cp)
			}
		}
	}

	for id := range m.Users {
		u := m.Users[id]
		g.users[id] = &u
	}
	for id := range m.Groups {
		grp := m.Groups[id]
		g.groups[id] = &grp
		for _, uid := range grp.MemberIDs {
			g.groupsOf[uid] = append(g.groupsOf[uid], id)
		}
	}
	for uid := range g.groupsOf {
		sort.Strings(g.groupsOf[uid])
	}

	for id := range m.Resources {
		r := m.Resources[id]
		g.resources[id] = &r
		if r.ParentID != "" {
			g.children[r.ParentID] = append(g.children[r.ParentID], id)
		}
	}
	for parent := range g.children {
		sort.Strings(g.children[parent])
	}

	for _, id := range sortedKeys(m.Assignments) {
		a := m.Assignments[id]
		g.assignments[a.Principal] = append(g.assignments[a.Principal], &a)
	}
	for _, id := range sortedKeys(m.Denies) {
		d := m.Denies[id]
		cd := &compiledDeny{DenyAssignment: d}
		cd.expr, cd.exprErr = abac.Parse(d.Conditions)
		g.denies[d.Principal] = append(g.denies[d.Principal], cd)
	}

	return g
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Version returns the model version this snapshot was compiled from
func (g *Graph) Version() uint64 { return g.version }

// BuiltAt returns the compile time
func (g *Graph) BuiltAt() time.Time { return g.builtAt }

// User returns the user with id
func (g *Graph) User(id string) (*User, bool) {
	u, ok := g.users[id]
	return u, ok
}

// Role returns the role with id
func (g *Graph) Role(id string) (Role, bool) {
	i, ok := g.roleIndex[id]
	if !ok {
		return Role{}, false
	}
	return g.roles[i].role, true
}

// Resource returns the resource node with id
func (g *Graph) Resource(id string) (*ResourceNode, bool) {
	r, ok := g.resources[id]
	return r, ok
}

// GroupsOf returns the ids of the groups userID belongs to
func (g *Graph) GroupsOf(userID string) []string {
	return g.groupsOf[userID]
}

// principals returns the user followed by every group it belongs to
func (g *Graph) principals(userID string) []Principal {
	ps := []Principal{{Type: PrincipalUser, ID: userID}}
	for _, gid := range g.groupsOf[userID] {
		ps = append(ps, Principal{Type: PrincipalGroup, ID: gid})
	}
	return ps
}

// window is the chain of resources whose grants reach a check target
type window struct {
	// allow holds the target and the ancestors up to and including the first
	// node that blocks inheritance.
	allow []string
	// deny holds the target and every ancestor. Blocking never hides a deny.
	deny []string
}

func (g *Graph) resourceWindow(resource string) window {
	w := window{}
	blocked := false
	seen := map[string]bool{}
	for id := resource; id != "" && !seen[id]; {
		seen[id] = true
		w.deny = append(w.deny, id)
		if !blocked {
			w.allow = append(w.allow, id)
		}
		node, ok := g.resources[id]
		if !ok {
			break
		}
		if node.BlockInheritance {
			blocked = true
		}
		id = node.ParentID
	}
	return w
}

// inWindow reports whether scope is empty (global) or one of ids
func inWindow(scope string, ids []string) bool {
	if scope == "" {
		return true
	}
	for _, id := range ids {
		if id == scope {
			return true
		}
	}
	return false
}

// matchAny returns the first id in ids matched by pattern
func matchAny(pattern string, ids []string) (string, bool) {
	for _, id := range ids {
		if MatchPattern(pattern, id) {
			return id, true
		}
	}
	return "", false
}

// ResourceTreeNode is one node of the resource forest
type ResourceTreeNode struct {
	ResourceNode
	Children []*ResourceTreeNode `json:"children"`
}

// ResourceTree returns the resource forest rooted at nodes without a parent
func (g *Graph) ResourceTree() []*ResourceTreeNode {
	var build func(id string) *ResourceTreeNode
	build = func(id string) *ResourceTreeNode {
		n := &ResourceTreeNode{ResourceNode: *g.resources[id], Children: []*ResourceTreeNode{}}
		for _, child := range g.children[id] {
			n.Children = append(n.Children, build(child))
		}
		return n
	}

	roots := []*ResourceTreeNode{}
	for _, id := range sortedKeys(g.resources) {
		r := g.resources[id]
		if _, hasParent := g.resources[r.ParentID]; r.ParentID == "" || !hasParent {
			roots = append(roots, build(id))
		}
	}
	return roots
}
