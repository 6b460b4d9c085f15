package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/audit"
)

// SQLStore persists the model in PostgreSQL or SQLite. Both dialects accept
// the same $n placeholders and ON CONFLICT upserts.
type SQLStore struct {
	db      *sql.DB
	dialect audit.Dialect
}

// NewSQLStore creates a store on db. Run RunMigrations first.
func NewSQLStore(db *sql.DB, dialect audit.Dialect) *SQLStore {
	if dialect == "" {
		dialect = audit.DialectPostgres
	}
	return &SQLStore{db: db, dialect: dialect}
}

// Apply writes changes in one transaction
func (s *SQLStore) Apply(ctx context.Context, changes []Change) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range changes {
		if err := s.applyChange(ctx, tx, c); err != nil {
			return fmt.Errorf("failed to apply %s %s/%s: %w", c.Op, c.Kind, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit changes: %w", err)
	}
	return nil
}

func (s *SQLStore) applyChange(ctx context.Context, tx *sql.Tx, c Change) error {
	if c.Op == OpDelete {
		return deleteEntity(ctx, tx, c.Kind, c.ID)
	}

	switch v := c.Value.(type) {
	case User:
		return upsertUser(ctx, tx, v)
	case Role:
		return upsertRole(ctx, tx, v)
	case Permission:
		return upsertPermission(ctx, tx, v)
	case Group:
		return upsertGroup(ctx, tx, v)
	case ResourceNode:
		return upsertResource(ctx, tx, v)
	case RoleAssignment:
		return upsertAssignment(ctx, tx, v)
	case DenyAssignment:
		return upsertDeny(ctx, tx, v)
	case AccessRequest:
		return upsertAccessRequest(ctx, tx, v)
	case abac.Template:
		return upsertTemplate(ctx, tx, v)
	default:
		return fmt.Errorf("unsupported value %T", c.Value)
	}
}

var deleteStatements = map[EntityKind][]string{
	KindUser: {
		"DELETE FROM rbac_group_members WHERE user_id = $1",
		"DELETE FROM rbac_users WHERE id = $1",
	},
	KindRole: {
		"DELETE FROM rbac_role_parents WHERE role_id = $1",
		"DELETE FROM rbac_role_permissions WHERE role_id = $1",
		"DELETE FROM rbac_roles WHERE id = $1",
	},
	KindPermission: {
		"DELETE FROM rbac_role_permissions WHERE permission_id = $1",
		"DELETE FROM rbac_permissions WHERE id = $1",
	},
	KindGroup: {
		"DELETE FROM rbac_group_members WHERE group_id = $1",
		"DELETE FROM rbac_groups WHERE id = $1",
	},
	KindResource:      {"DELETE FROM rbac_resources WHERE id = $1"},
	KindAssignment:    {"DELETE FROM rbac_role_assignments WHERE id = $1"},
	KindDeny:          {"DELETE FROM rbac_deny_assignments WHERE id = $1"},
	KindAccessRequest: {"DELETE FROM rbac_access_requests WHERE id = $1"},
	KindTemplate:      {"DELETE FROM rbac_condition_templates WHERE id = $1"},
}

func deleteEntity(ctx context.Context, tx *sql.Tx, kind EntityKind, id string) error {
	stmts, ok := deleteStatements[kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	return nil
}

func upsertUser(ctx context.Context, tx *sql.Tx, u User) error {
	attrs, err := jsonColumn(u.Attributes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rbac_users (id, email, display_name, is_active, is_verified, mfa_enabled, attributes, created_at, updated_at, deactivated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			is_active = excluded.is_active,
			is_verified = excluded.is_verified,
			mfa_enabled = excluded.mfa_enabled,
			attributes = excluded.attributes,
			updated_at = excluded.updated_at,
			deactivated_at = excluded.deactivated_at
	`, u.ID, u.Email, u.DisplayName, u.IsActive, u.IsVerified, u.MFAEnabled, attrs,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC(), nullTime(u.DeactivatedAt))
	return err
}

func upsertRole(ctx context.Context, tx *sql.Tx, r Role) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_roles (id, name, display_name, description, is_built_in, created_at, updated_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			display_name = excluded.display_name,
			description = excluded.description,
			updated_at = excluded.updated_at
	`, r.ID, r.Name, r.DisplayName, r.Description, r.IsBuiltIn, r.CreatedAt.UTC(), r.UpdatedAt.UTC(), r.CreatedBy)
	if err != nil {
		return err
	}

	if err := replaceLinks(ctx, tx, "rbac_role_parents", "parent_id", r.ID, r.ParentIDs); err != nil {
		return err
	}
	return replaceLinks(ctx, tx, "rbac_role_permissions", "permission_id", r.ID, r.PermissionIDs)
}

// replaceLinks rewrites the ordered link rows of one role
func replaceLinks(ctx context.Context, tx *sql.Tx, table, column, roleID string, ids []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE role_id = $1", roleID); err != nil {
		return err
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (role_id, "+column+", position) VALUES ($1, $2, $3)",
			roleID, id, i,
		); err != nil {
			return err
		}
	}
	return nil
}

func upsertPermission(ctx context.Context, tx *sql.Tx, p Permission) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_permissions (id, action, resource, conditions, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			action = excluded.action,
			resource = excluded.resource,
			conditions = excluded.conditions,
			description = excluded.description
	`, p.ID, p.Action, p.Resource, rawColumn(p.Conditions), p.Description, p.CreatedAt.UTC())
	return err
}

func upsertGroup(ctx context.Context, tx *sql.Tx, g Group) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_groups (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description
	`, g.ID, g.Name, g.Description, g.CreatedAt.UTC())
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_group_members WHERE group_id = $1", g.ID); err != nil {
		return err
	}
	for _, uid := range g.MemberIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_group_members (group_id, user_id) VALUES ($1, $2)", g.ID, uid,
		); err != nil {
			return err
		}
	}
	return nil
}

func upsertResource(ctx context.Context, tx *sql.Tx, r ResourceNode) error {
	attrs, err := jsonColumn(r.Attributes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rbac_resources (id, name, type, parent_id, block_inheritance, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			parent_id = excluded.parent_id,
			block_inheritance = excluded.block_inheritance,
			attributes = excluded.attributes
	`, r.ID, r.Name, r.Type, r.ParentID, r.BlockInheritance, attrs, r.CreatedAt.UTC())
	return err
}

func upsertAssignment(ctx context.Context, tx *sql.Tx, a RoleAssignment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_role_assignments (id, principal_type, principal_id, role_id, resource_id, granted_by, granted_at, expires_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			expires_at = excluded.expires_at
	`, a.ID, string(a.Type), a.Principal.ID, a.RoleID, a.ResourceID, a.GrantedBy, a.GrantedAt.UTC(),
		nullTime(a.ExpiresAt), string(a.Source))
	return err
}

func upsertDeny(ctx context.Context, tx *sql.Tx, d DenyAssignment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_deny_assignments (id, principal_type, principal_id, action, resource, conditions, reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			action = excluded.action,
			resource = excluded.resource,
			conditions = excluded.conditions,
			reason = excluded.reason
	`, d.ID, string(d.Type), d.Principal.ID, d.Action, d.Resource, rawColumn(d.Conditions), d.Reason,
		d.CreatedBy, d.CreatedAt.UTC())
	return err
}

func upsertAccessRequest(ctx context.Context, tx *sql.Tx, r AccessRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_access_requests (id, requester_id, role_id, resource_id, justification, status, reviewer_id, review_note, assignment_id, created_at, decided_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			reviewer_id = excluded.reviewer_id,
			review_note = excluded.review_note,
			assignment_id = excluded.assignment_id,
			decided_at = excluded.decided_at
	`, r.ID, r.RequesterID, r.RoleID, r.ResourceID, r.Justification, string(r.Status), r.ReviewerID,
		r.ReviewNote, r.AssignmentID, r.CreatedAt.UTC(), nullTime(r.DecidedAt), r.ExpiresAt.UTC())
	return err
}

func upsertTemplate(ctx context.Context, tx *sql.Tx, t abac.Template) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_condition_templates (id, name, description, category, conditions, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			conditions = excluded.conditions
	`, t.ID, t.Name, t.Description, t.Category, string(t.Conditions), t.CreatedBy, t.CreatedAt.UTC())
	return err
}

// Load reads the whole model
func (s *SQLStore) Load(ctx context.Context) (*Model, error) {
	m := NewModel()
	loaders := []struct {
		name string
		fn   func(context.Context, *Model) error
	}{
		{"users", s.loadUsers},
		{"groups", s.loadGroups},
		{"permissions", s.loadPermissions},
		{"roles", s.loadRoles},
		{"resources", s.loadResources},
		{"role assignments", s.loadAssignments},
		{"deny assignments", s.loadDenies},
		{"access requests", s.loadAccessRequests},
		{"condition templates", s.loadTemplates},
	}
	for _, l := range loaders {
		if err := l.fn(ctx, m); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", l.name, err)
		}
	}
	return m, nil
}

// each runs query and calls scan for every row
func (s *SQLStore) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLStore) loadUsers(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, email, display_name, is_active, is_verified, mfa_enabled, attributes, created_at, updated_at, deactivated_at
		FROM rbac_users`, func(rows *sql.Rows) error {
		var u User
		var attrs sql.NullString
		var deactivated sql.NullTime
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsActive, &u.IsVerified, &u.MFAEnabled,
			&attrs, &u.CreatedAt, &u.UpdatedAt, &deactivated); err != nil {
			return err
		}
		if err := decodeJSON(attrs, &u.Attributes); err != nil {
			return fmt.Errorf("user %s attributes: %w", u.ID, err)
		}
		u.DeactivatedAt = timePtr(deactivated)
		m.Users[u.ID] = u
		return nil
	})
}

func (s *SQLStore) loadGroups(ctx context.Context, m *Model) error {
	err := s.each(ctx, "SELECT id, name, description, created_at FROM rbac_groups", func(rows *sql.Rows) error {
		g := Group{MemberIDs: []string{}}
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt); err != nil {
			return err
		}
		m.Groups[g.ID] = g
		return nil
	})
	if err != nil {
		return err
	}
	return s.each(ctx, "SELECT group_id, user_id FROM rbac_group_members ORDER BY group_id, user_id", func(rows *sql.Rows) error {
		var gid, uid string
		if err := rows.Scan(&gid, &uid); err != nil {
			return err
		}
		if g, ok := m.Groups[gid]; ok {
			g.MemberIDs = append(g.MemberIDs, uid)
			m.Groups[gid] = g
		}
		return nil
	})
}

func (s *SQLStore) loadPermissions(ctx context.Context, m *Model) error {
	return s.each(ctx, "SELECT id, action, resource, conditions, description, created_at FROM rbac_permissions", func(rows *sql.Rows) error {
		var p Permission
		var cond sql.NullString
		if err := rows.Scan(&p.ID, &p.Action, &p.Resource, &cond, &p.Description, &p.CreatedAt); err != nil {
			return err
		}
		p.Conditions = rawValue(cond)
		m.Permissions[p.ID] = p
		return nil
	})
}

func (s *SQLStore) loadRoles(ctx context.Context, m *Model) error {
	err := s.each(ctx, `
		SELECT id, name, display_name, description, is_built_in, created_at, updated_at, created_by
		FROM rbac_roles`, func(rows *sql.Rows) error {
		r := Role{ParentIDs: []string{}, PermissionIDs: []string{}}
		if err := rows.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.IsBuiltIn,
			&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy); err != nil {
			return err
		}
		m.Roles[r.ID] = r
		return nil
	})
	if err != nil {
		return err
	}

	err = s.each(ctx, "SELECT role_id, parent_id FROM rbac_role_parents ORDER BY role_id, position", func(rows *sql.Rows) error {
		var rid, pid string
		if err := rows.Scan(&rid, &pid); err != nil {
			return err
		}
		if r, ok := m.Roles[rid]; ok {
			r.ParentIDs = append(r.ParentIDs, pid)
			m.Roles[rid] = r
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.each(ctx, "SELECT role_id, permission_id FROM rbac_role_permissions ORDER BY role_id, position", func(rows *sql.Rows) error {
		var rid, pid string
		if err := rows.Scan(&rid, &pid); err != nil {
			return err
		}
		if r, ok := m.Roles[rid]; ok {
			r.PermissionIDs = append(r.PermissionIDs, pid)
			m.Roles[rid] = r
		}
		return nil
	})
}

func (s *SQLStore) loadResources(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, name, type, parent_id, block_inheritance, attributes, created_at
		FROM rbac_resources`, func(rows *sql.Rows) error {
		var r ResourceNode
		var attrs sql.NullString
		if err := rows.Scan(&r.ID, &r.Name, &r.Type, &r.ParentID, &r.BlockInheritance, &attrs, &r.CreatedAt); err != nil {
			return err
		}
		if err := decodeJSON(attrs, &r.Attributes); err != nil {
			return fmt.Errorf("resource %s attributes: %w", r.ID, err)
		}
		m.Resources[r.ID] = r
		return nil
	})
}

func (s *SQLStore) loadAssignments(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, principal_type, principal_id, role_id, resource_id, granted_by, granted_at, expires_at, source
		FROM rbac_role_assignments`, func(rows *sql.Rows) error {
		var a RoleAssignment
		var ptype, source string
		var expires sql.NullTime
		if err := rows.Scan(&a.ID, &ptype, &a.Principal.ID, &a.RoleID, &a.ResourceID, &a.GrantedBy,
			&a.GrantedAt, &expires, &source); err != nil {
			return err
		}
		a.Type = PrincipalType(ptype)
		a.Source = AssignmentSource(source)
		a.ExpiresAt = timePtr(expires)
		m.Assignments[a.ID] = a
		return nil
	})
}

func (s *SQLStore) loadDenies(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, principal_type, principal_id, action, resource, conditions, reason, created_by, created_at
		FROM rbac_deny_assignments`, func(rows *sql.Rows) error {
		var d DenyAssignment
		var ptype string
		var cond sql.NullString
		if err := rows.Scan(&d.ID, &ptype, &d.Principal.ID, &d.Action, &d.Resource, &cond, &d.Reason,
			&d.CreatedBy, &d.CreatedAt); err != nil {
			return err
		}
		d.Type = PrincipalType(ptype)
		d.Conditions = rawValue(cond)
		m.Denies[d.ID] = d
		return nil
	})
}

func (s *SQLStore) loadAccessRequests(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, requester_id, role_id, resource_id, justification, status, reviewer_id, review_note, assignment_id, created_at, decided_at, expires_at
		FROM rbac_access_requests`, func(rows *sql.Rows) error {
		var r AccessRequest
		var status string
		var decided sql.NullTime
		if err := rows.Scan(&r.ID, &r.RequesterID, &r.RoleID, &r.ResourceID, &r.Justification, &status,
			&r.ReviewerID, &r.ReviewNote, &r.AssignmentID, &r.CreatedAt, &decided, &r.ExpiresAt); err != nil {
			return err
		}
		r.Status = AccessRequestStatus(status)
		r.DecidedAt = timePtr(decided)
		m.AccessRequests[r.ID] = r
		return nil
	})
}

func (s *SQLStore) loadTemplates(ctx context.Context, m *Model) error {
	return s.each(ctx, `
		SELECT id, name, description, category, conditions, created_by, created_at
		FROM rbac_condition_templates`, func(rows *sql.Rows) error {
		var t abac.Template
		var cond string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Category, &cond, &t.CreatedBy, &t.CreatedAt); err != nil {
			return err
		}
		t.Conditions = json.RawMessage(cond)
		m.Templates[t.ID] = t
		return nil
	})
}

func jsonColumn(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal attributes: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func rawColumn(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawValue(s sql.NullString) json.RawMessage {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.RawMessage(s.String)
}

func decodeJSON(s sql.NullString, v *map[string]any) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
