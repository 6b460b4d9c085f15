package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/datawave/pkg/abac"
)

// EntityKind names a persisted entity type
type EntityKind string

const (
	KindUser          EntityKind = "user"
	KindRole          EntityKind = "role"
	KindPermission    EntityKind = "permission"
	KindGroup         EntityKind = "group"
	KindResource      EntityKind = "resource"
	KindAssignment    EntityKind = "assignment"
	KindDeny          EntityKind = "deny"
	KindAccessRequest EntityKind = "access_request"
	KindTemplate      EntityKind = "template"
)

// ChangeOp is an upsert or a delete
type ChangeOp string

const (
	OpUpsert ChangeOp = "upsert"
	OpDelete ChangeOp = "delete"
)

// Change is one persisted mutation. Value holds the entity for upserts and
// is nil for deletes.
type Change struct {
	Op    ChangeOp
	Kind  EntityKind
	ID    string
	Value any
}

func upsert(kind EntityKind, id string, v any) Change {
	return Change{Op: OpUpsert, Kind: kind, ID: id, Value: v}
}

func remove(kind EntityKind, id string) Change {
	return Change{Op: OpDelete, Kind: kind, ID: id}
}

// Store persists the policy model. Apply writes a change set atomically:
// either every change lands or none does.
type Store interface {
	Load(ctx context.Context) (*Model, error)
	Apply(ctx context.Context, changes []Change) error
}

// applyToModel replays changes onto m. It is the in-memory twin of the SQL
// writes and rejects values of the wrong type.
func applyToModel(m *Model, changes []Change) error {
	for _, c := range changes {
		if c.Op == OpDelete {
			switch c.Kind {
			case KindUser:
				delete(m.Users, c.ID)
			case KindRole:
				delete(m.Roles, c.ID)
			case KindPermission:
				delete(m.Permissions, c.ID)
			case KindGroup:
				delete(m.Groups, c.ID)
			case KindResource:
				delete(m.Resources, c.ID)
			case KindAssignment:
				delete(m.Assignments, c.ID)
			case KindDeny:
				delete(m.Denies, c.ID)
			case KindAccessRequest:
				delete(m.AccessRequests, c.ID)
			case KindTemplate:
				delete(m.Templates, c.ID)
			default:
				return fmt.Errorf("unknown entity kind %q", c.Kind)
			}
			continue
		}

		ok := false
		switch v := c.Value.(type) {
		case User:
			m.Users[c.ID], ok = v, c.Kind == KindUser
		case Role:
			m.Roles[c.ID], ok = v, c.Kind == KindRole
		case Permission:
			m.Permissions[c.ID], ok = v, c.Kind == KindPermission
		case Group:
			m.Groups[c.ID], ok = v, c.Kind == KindGroup
		case ResourceNode:
			m.Resources[c.ID], ok = v, c.Kind == KindResource
		case RoleAssignment:
			m.Assignments[c.ID], ok = v, c.Kind == KindAssignment
		case DenyAssignment:
			m.Denies[c.ID], ok = v, c.Kind == KindDeny
		case AccessRequest:
			m.AccessRequests[c.ID], ok = v, c.Kind == KindAccessRequest
		case abac.Template:
			m.Templates[c.ID], ok = v, c.Kind == KindTemplate
		}
		if !ok {
			return fmt.Errorf("change %s %s/%s carries %T", c.Op, c.Kind, c.ID, c.Value)
		}
	}
	return nil
}

// MemoryStore keeps the model in process memory. It backs tests and the
// memory driver.
type MemoryStore struct {
	mu    sync.Mutex
	model *Model
	// failNext makes the next Apply fail; tests use it to check rollback
	failNext error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{model: NewModel()}
}

// Load returns a copy of the stored model
func (s *MemoryStore) Load(ctx context.Context) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Clone(), nil
}

// Apply applies changes to a copy and swaps it in only if every change is valid
func (s *MemoryStore) Apply(ctx context.Context, changes []Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failNext; err != nil {
		s.failNext = nil
		return err
	}

	next := s.model.Clone()
	if err := applyToModel(next, changes); err != nil {
		return err
	}
	s.model = next
	return nil
}

// FailNextApply makes the next Apply return err without writing anything
func (s *MemoryStore) FailNextApply(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}
