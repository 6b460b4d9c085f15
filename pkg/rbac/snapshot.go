package rbac

import (
	"sort"

	"github.com/platinummonkey/datawave/pkg/abac"
)

// Snapshot is everything readers see: the compiled graph plus the workflow
// state that does not affect evaluation. Snapshots are immutable once
// published.
type Snapshot struct {
	Graph     *Graph
	requests  map[string]AccessRequest
	templates map[string]abac.Template
}

// SnapshotSource provides the current snapshot without blocking
type SnapshotSource interface {
	Snapshot() *Snapshot
}

func newSnapshot(m *Model, g *Graph) *Snapshot {
	templates := make(map[string]abac.Template, len(m.Templates)+5)
	for _, t := range abac.BuiltInTemplates() {
		templates[t.ID] = t
	}
	for id, t := range m.Templates {
		templates[id] = t
	}
	return &Snapshot{
		Graph:     g,
		requests:  m.AccessRequests,
		templates: templates,
	}
}

// AccessRequest returns the access request with id
func (s *Snapshot) AccessRequest(id string) (AccessRequest, bool) {
	r, ok := s.requests[id]
	return r, ok
}

// AccessRequests lists requests matching the optional status and requester,
// newest first
func (s *Snapshot) AccessRequests(status AccessRequestStatus, requesterID string) []AccessRequest {
	out := []AccessRequest{}
	for _, r := range s.requests {
		if status != "" && r.Status != status {
			continue
		}
		if requesterID != "" && r.RequesterID != requesterID {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Template returns the condition template with id
func (s *Snapshot) Template(id string) (abac.Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// Templates lists built-in and custom condition templates
func (s *Snapshot) Templates() []abac.Template {
	out := make([]abac.Template, 0, len(s.templates))
	for _, id := range sortedKeys(s.templates) {
		out = append(out, s.templates[id])
	}
	return out
}

// StaticSource serves one fixed snapshot
type StaticSource struct {
	snap *Snapshot
}

// NewStaticSource compiles m once and serves it forever
func NewStaticSource(m *Model) *StaticSource {
	return &StaticSource{snap: newSnapshot(m, Compile(m, 1))}
}

// Snapshot returns the fixed snapshot
func (s *StaticSource) Snapshot() *Snapshot {
	return s.snap
}
