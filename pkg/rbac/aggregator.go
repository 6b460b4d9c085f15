package rbac

import (
	"sort"
	"time"
)

// assignedRole is a role reached directly through an assignment
type assignedRole struct {
	roleID       string
	assignmentID string
	principal    Principal
	scope        string
	expiresAt    *time.Time
}

// grant is a relevant permission and where it came from
type grant struct {
	perm       *compiledPermission
	roleIDs    []string
	assignment assignedRole
	matched    string
}

// resolvePrincipal returns the live role assignments of userID and its
// groups. With a non-nil allowWindow only global assignments and those scoped
// to a resource in the window are kept.
func (g *Graph) resolvePrincipal(userID string, now time.Time, allowWindow []string) []assignedRole {
	var out []assignedRole
	for _, p := range g.principals(userID) {
		for _, a := range g.assignments[p] {
			if a.Expired(now) {
				continue
			}
			if allowWindow != nil && !inWindow(a.ResourceID, allowWindow) {
				continue
			}
			out = append(out, assignedRole{
				roleID:       a.RoleID,
				assignmentID: a.ID,
				principal:    p,
				scope:        a.ResourceID,
				expiresAt:    a.ExpiresAt,
			})
		}
	}
	return out
}

// aggregate expands the assigned roles and collects their permissions,
// deduplicated by permission id. When allowWindow is non-nil only permissions
// whose resource pattern matches some id in it are kept.
func (g *Graph) aggregate(assigned []assignedRole, allowWindow []string) []*grant {
	if len(assigned) == 0 {
		return nil
	}

	byRole := make(map[string]assignedRole, len(assigned))
	ids := make([]string, 0, len(assigned))
	for _, a := range assigned {
		if _, dup := byRole[a.roleID]; dup {
			continue
		}
		byRole[a.roleID] = a
		ids = append(ids, a.roleID)
	}

	via := map[int]string{}
	expanded := g.expand(ids, via)

	grants := map[string]*grant{}
	for _, idx := range expanded {
		node := &g.roles[idx]
		for _, cp := range node.perms {
			matched := cp.Resource
			if allowWindow != nil {
				var ok bool
				if matched, ok = matchAny(cp.Resource, allowWindow); !ok {
					continue
				}
			}
			if gr, ok := grants[cp.ID]; ok {
				gr.roleIDs = append(gr.roleIDs, node.role.ID)
				continue
			}
			grants[cp.ID] = &grant{
				perm:       cp,
				roleIDs:    []string{node.role.ID},
				assignment: byRole[via[idx]],
				matched:    matched,
			}
		}
	}

	out := make([]*grant, 0, len(grants))
	for _, gr := range grants {
		out = append(out, gr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].perm.ID < out[j].perm.ID })
	return out
}
