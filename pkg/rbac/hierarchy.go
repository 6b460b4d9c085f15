package rbac

// ExpandRoles returns the transitive closure of roleIDs over the parent
// relation, in BFS order starting with the inputs. Unknown ids are dropped.
// Expanding an already expanded set yields the same set.
func (g *Graph) ExpandRoles(roleIDs []string) []string {
	order := g.expand(roleIDs, nil)
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = g.roles[idx].role.ID
	}
	return out
}

// expand runs the BFS over arena indexes. When via is non-nil it records, for
// every reached role, the directly assigned role it was reached from.
func (g *Graph) expand(roleIDs []string, via map[int]string) []int {
	visited := make([]bool, len(g.roles))
	queue := make([]int, 0, len(roleIDs))
	for _, id := range roleIDs {
		idx, ok := g.roleIndex[id]
		if !ok || visited[idx] {
			continue
		}
		visited[idx] = true
		queue = append(queue, idx)
		if via != nil {
			via[idx] = id
		}
	}

	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		for _, parent := range g.roles[cur].parents {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			queue = append(queue, parent)
			if via != nil {
				via[parent] = via[cur]
			}
		}
	}
	return queue
}

// Ancestors returns every role roleID inherits from, excluding itself
func (g *Graph) Ancestors(roleID string) []string {
	expanded := g.ExpandRoles([]string{roleID})
	if len(expanded) == 0 {
		return nil
	}
	return expanded[1:]
}

// WouldCycle reports whether making parentID a parent of childID would create
// a cycle in this snapshot's hierarchy.
func (g *Graph) WouldCycle(childID, parentID string) bool {
	if childID == parentID {
		return true
	}
	for _, id := range g.ExpandRoles([]string{parentID}) {
		if id == childID {
			return true
		}
	}
	return false
}
