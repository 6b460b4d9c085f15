package rbac

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/audit"
)

// UserUpdate changes the fields that are set
type UserUpdate struct {
	Email       *string        `json:"email,omitempty"`
	DisplayName *string        `json:"display_name,omitempty"`
	IsVerified  *bool          `json:"is_verified,omitempty"`
	MFAEnabled  *bool          `json:"mfa_enabled,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"` // replaces all attributes when non-nil
}

// RoleUpdate changes the descriptive fields that are set
type RoleUpdate struct {
	DisplayName *string `json:"display_name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// ResourceUpdate changes the fields that are set. An empty ParentID makes the
// node a root.
type ResourceUpdate struct {
	Name             *string        `json:"name,omitempty"`
	Type             *string        `json:"type,omitempty"`
	ParentID         *string        `json:"parent_id,omitempty"`
	BlockInheritance *bool          `json:"block_inheritance,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// AssignRoleInput describes a new role assignment
type AssignRoleInput struct {
	Principal
	RoleID     string           `json:"role_id"`
	ResourceID string           `json:"resource_id,omitempty"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Source     AssignmentSource `json:"source,omitempty"`
}

func newID(id string) string {
	if id = strings.TrimSpace(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// ---- users ----

// CreateUser adds an active user
func (m *Manager) CreateUser(ctx context.Context, u User) (User, error) {
	err := m.commit(ctx, "create_user", func(t *txn) error {
		u.ID = newID(u.ID)
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return invalid("invalid email %q", u.Email)
		}
		if _, exists := t.model.Users[u.ID]; exists {
			return fmt.Errorf("user %q already exists: %w", u.ID, ErrConflict)
		}
		for _, other := range t.model.Users {
			if strings.EqualFold(other.Email, u.Email) {
				return fmt.Errorf("email %q already in use: %w", u.Email, ErrConflict)
			}
		}
		u.IsActive = true
		u.CreatedAt, u.UpdatedAt, u.DeactivatedAt = t.now, t.now, nil
		t.put(KindUser, u.ID, u)
		t.audit(audit.EventTypeUserCreate, audit.TargetUser, u.ID, nil, u)
		return nil
	})
	return u, err
}

// UpdateUser changes profile fields and ABAC attributes
func (m *Manager) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	var out User
	err := m.commit(ctx, "update_user", func(t *txn) error {
		before, ok := t.model.Users[id]
		if !ok {
			return notFound("user", id)
		}
		u := before
		if upd.Email != nil {
			if _, err := mail.ParseAddress(*upd.Email); err != nil {
				return invalid("invalid email %q", *upd.Email)
			}
			u.Email = *upd.Email
		}
		if upd.DisplayName != nil {
			u.DisplayName = *upd.DisplayName
		}
		if upd.IsVerified != nil {
			u.IsVerified = *upd.IsVerified
		}
		if upd.MFAEnabled != nil {
			u.MFAEnabled = *upd.MFAEnabled
		}
		if upd.Attributes != nil {
			u.Attributes = cloneMap(upd.Attributes)
		}
		u.UpdatedAt = t.now
		t.put(KindUser, id, u)
		t.audit(audit.EventTypeUserUpdate, audit.TargetUser, id, before, u)
		out = u
		return nil
	})
	return out, err
}

// DeactivateUser soft-deletes a user and revokes every assignment held
// directly by it
func (m *Manager) DeactivateUser(ctx context.Context, id string) (User, error) {
	var out User
	err := m.commit(ctx, "deactivate_user", func(t *txn) error {
		before, ok := t.model.Users[id]
		if !ok {
			return notFound("user", id)
		}
		if !before.IsActive {
			out = before
			return nil
		}
		u := before
		now := t.now
		u.IsActive = false
		u.DeactivatedAt = &now
		u.UpdatedAt = now
		t.put(KindUser, id, u)
		t.audit(audit.EventTypeUserDeactivate, audit.TargetUser, id, before, u)

		revokeAssignments(t, func(a RoleAssignment) bool {
			return a.Type == PrincipalUser && a.Principal.ID == id
		}, "user deactivated")
		out = u
		return nil
	})
	return out, err
}

// revokeAssignments drops every assignment matching pred and audits each
func revokeAssignments(t *txn, pred func(RoleAssignment) bool, why string) []string {
	var revoked []string
	for _, aid := range sortedKeys(t.model.Assignments) {
		a := t.model.Assignments[aid]
		if !pred(a) {
			continue
		}
		t.drop(KindAssignment, aid)
		ev := t.audit(audit.EventTypeAssignmentRevoke, audit.TargetRoleAssignment, aid, a, nil)
		ev.Metadata["reason"] = why
		revoked = append(revoked, aid)
	}
	return revoked
}

// ---- roles ----

// CreateRole adds a custom role. Parents and permissions must exist.
func (m *Manager) CreateRole(ctx context.Context, r Role) (Role, error) {
	err := m.commit(ctx, "create_role", func(t *txn) error {
		r.ID = newID(r.ID)
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return invalid("role name is required")
		}
		if _, exists := t.model.Roles[r.ID]; exists {
			return fmt.Errorf("role %q already exists: %w", r.ID, ErrConflict)
		}
		if err := uniqueRoleName(t.model, r.ID, r.Name); err != nil {
			return err
		}
		r.ParentIDs = dedupe(r.ParentIDs)
		for _, pid := range r.ParentIDs {
			if pid == r.ID {
				return fmt.Errorf("role %q cannot be its own parent: %w", r.ID, ErrCyclicRoleHierarchy)
			}
			if _, ok := t.model.Roles[pid]; !ok {
				return notFound("parent role", pid)
			}
		}
		r.PermissionIDs = dedupe(r.PermissionIDs)
		for _, pid := range r.PermissionIDs {
			if _, ok := t.model.Permissions[pid]; !ok {
				return notFound("permission", pid)
			}
		}
		if r.DisplayName == "" {
			r.DisplayName = r.Name
		}
		r.IsBuiltIn = false
		r.CreatedAt, r.UpdatedAt = t.now, t.now
		r.CreatedBy = t.actor
		t.put(KindRole, r.ID, r)
		t.audit(audit.EventTypeRoleCreate, audit.TargetRole, r.ID, nil, r)
		return nil
	})
	return r, err
}

func uniqueRoleName(model *Model, id, name string) error {
	for _, other := range model.Roles {
		if other.ID != id && strings.EqualFold(other.Name, name) {
			return fmt.Errorf("role name %q already in use: %w", name, ErrConflict)
		}
	}
	return nil
}

// mutableRole returns the role for modification, rejecting built-ins
func mutableRole(t *txn, id string) (Role, error) {
	r, ok := t.model.Roles[id]
	if !ok {
		return Role{}, notFound("role", id)
	}
	if r.IsBuiltIn {
		return Role{}, fmt.Errorf("role %q: %w", id, ErrBuiltInRole)
	}
	return r, nil
}

// UpdateRole changes a custom role's descriptive fields
func (m *Manager) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	var out Role
	err := m.commit(ctx, "update_role", func(t *txn) error {
		before, err := mutableRole(t, id)
		if err != nil {
			return err
		}
		r := before
		if upd.DisplayName != nil {
			r.DisplayName = *upd.DisplayName
		}
		if upd.Description != nil {
			r.Description = *upd.Description
		}
		r.UpdatedAt = t.now
		t.put(KindRole, id, r)
		t.audit(audit.EventTypeRoleUpdate, audit.TargetRole, id, before, r)
		out = r
		return nil
	})
	return out, err
}

// DeleteRole removes a custom role that nothing references
func (m *Manager) DeleteRole(ctx context.Context, id string) error {
	return m.commit(ctx, "delete_role", func(t *txn) error {
		r, err := mutableRole(t, id)
		if err != nil {
			return err
		}
		for _, a := range t.model.Assignments {
			if a.RoleID == id {
				return fmt.Errorf("role %q is still assigned (%s): %w", id, a.ID, ErrConflict)
			}
		}
		for _, other := range t.model.Roles {
			if contains(other.ParentIDs, id) {
				return fmt.Errorf("role %q is a parent of %q: %w", id, other.ID, ErrConflict)
			}
		}
		for _, req := range t.model.AccessRequests {
			if req.RoleID == id && req.Status == RequestPending {
				return fmt.Errorf("role %q has pending access request %s: %w", id, req.ID, ErrConflict)
			}
		}
		t.drop(KindRole, id)
		t.audit(audit.EventTypeRoleDelete, audit.TargetRole, id, r, nil)
		return nil
	})
}

// AddRoleParent makes parentID a parent of roleID. The edge is rejected if
// it would make any role its own ancestor.
func (m *Manager) AddRoleParent(ctx context.Context, roleID, parentID string) error {
	return m.commit(ctx, "add_role_parent", func(t *txn) error {
		before, err := mutableRole(t, roleID)
		if err != nil {
			return err
		}
		if _, ok := t.model.Roles[parentID]; !ok {
			return notFound("parent role", parentID)
		}
		if contains(before.ParentIDs, parentID) {
			return nil
		}
		if roleID == parentID || t.model.roleReaches(parentID, roleID) {
			return fmt.Errorf("adding %q as parent of %q: %w", parentID, roleID, ErrCyclicRoleHierarchy)
		}
		r := before
		r.ParentIDs = append(append([]string(nil), before.ParentIDs...), parentID)
		r.UpdatedAt = t.now
		t.put(KindRole, roleID, r)
		t.audit(audit.EventTypeRoleParentAdd, audit.TargetRole, roleID, before, r)
		return nil
	})
}

// RemoveRoleParent removes the parent edge if present
func (m *Manager) RemoveRoleParent(ctx context.Context, roleID, parentID string) error {
	return m.commit(ctx, "remove_role_parent", func(t *txn) error {
		before, err := mutableRole(t, roleID)
		if err != nil {
			return err
		}
		if !contains(before.ParentIDs, parentID) {
			return notFound("parent role", parentID)
		}
		r := before
		r.ParentIDs = without(before.ParentIDs, parentID)
		r.UpdatedAt = t.now
		t.put(KindRole, roleID, r)
		t.audit(audit.EventTypeRoleParentRemove, audit.TargetRole, roleID, before, r)
		return nil
	})
}

// AttachPermission grants permissionID through roleID
func (m *Manager) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	return m.commit(ctx, "attach_permission", func(t *txn) error {
		return attachPermission(t, roleID, permissionID)
	})
}

func attachPermission(t *txn, roleID, permissionID string) error {
	before, err := mutableRole(t, roleID)
	if err != nil {
		return err
	}
	if _, ok := t.model.Permissions[permissionID]; !ok {
		return notFound("permission", permissionID)
	}
	if contains(before.PermissionIDs, permissionID) {
		return nil
	}
	r := before
	r.PermissionIDs = append(append([]string(nil), before.PermissionIDs...), permissionID)
	r.UpdatedAt = t.now
	t.put(KindRole, roleID, r)
	t.audit(audit.EventTypePermissionAttach, audit.TargetRole, roleID, before, r).Metadata["permission_id"] = permissionID
	return nil
}

// DetachPermission removes permissionID from roleID
func (m *Manager) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	return m.commit(ctx, "detach_permission", func(t *txn) error {
		return detachPermission(t, roleID, permissionID, true)
	})
}

func detachPermission(t *txn, roleID, permissionID string, strict bool) error {
	before, err := mutableRole(t, roleID)
	if err != nil {
		return err
	}
	if !contains(before.PermissionIDs, permissionID) {
		if strict {
			return notFound("permission on role", permissionID)
		}
		return nil
	}
	r := before
	r.PermissionIDs = without(before.PermissionIDs, permissionID)
	r.UpdatedAt = t.now
	t.put(KindRole, roleID, r)
	t.audit(audit.EventTypePermissionDetach, audit.TargetRole, roleID, before, r).Metadata["permission_id"] = permissionID
	return nil
}

// ---- permissions ----

// CreatePermission adds a permission. Conditions are parsed and rejected if
// malformed.
func (m *Manager) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	err := m.commit(ctx, "create_permission", func(t *txn) error {
		p.ID = newID(p.ID)
		if !ValidPattern(p.Action) {
			return invalid("invalid action pattern %q", p.Action)
		}
		if !ValidPattern(p.Resource) {
			return invalid("invalid resource pattern %q", p.Resource)
		}
		if _, err := abac.Parse(p.Conditions); err != nil {
			return fmt.Errorf("permission %q: %w", p.ID, err)
		}
		if _, exists := t.model.Permissions[p.ID]; exists {
			return fmt.Errorf("permission %q already exists: %w", p.ID, ErrConflict)
		}
		p.CreatedAt = t.now
		t.put(KindPermission, p.ID, p)
		t.audit(audit.EventTypePermissionCreate, audit.TargetPermission, p.ID, nil, p)
		return nil
	})
	return p, err
}

// DeletePermission removes a permission and detaches it from every custom
// role. Permissions backing a built-in role cannot be deleted.
func (m *Manager) DeletePermission(ctx context.Context, id string) error {
	return m.commit(ctx, "delete_permission", func(t *txn) error {
		p, ok := t.model.Permissions[id]
		if !ok {
			return notFound("permission", id)
		}
		for _, rid := range sortedKeys(t.model.Roles) {
			r := t.model.Roles[rid]
			if !contains(r.PermissionIDs, id) {
				continue
			}
			if r.IsBuiltIn {
				return fmt.Errorf("permission %q backs role %q: %w", id, rid, ErrBuiltInRole)
			}
			if err := detachPermission(t, rid, id, false); err != nil {
				return err
			}
		}
		t.drop(KindPermission, id)
		t.audit(audit.EventTypePermissionDelete, audit.TargetPermission, id, p, nil)
		return nil
	})
}

// ---- groups ----

// CreateGroup adds a group. Initial members must exist.
func (m *Manager) CreateGroup(ctx context.Context, g Group) (Group, error) {
	err := m.commit(ctx, "create_group", func(t *txn) error {
		g.ID = newID(g.ID)
		g.Name = strings.TrimSpace(g.Name)
		if g.Name == "" {
			return invalid("group name is required")
		}
		if _, exists := t.model.Groups[g.ID]; exists {
			return fmt.Errorf("group %q already exists: %w", g.ID, ErrConflict)
		}
		for _, other := range t.model.Groups {
			if strings.EqualFold(other.Name, g.Name) {
				return fmt.Errorf("group name %q already in use: %w", g.Name, ErrConflict)
			}
		}
		g.MemberIDs = dedupe(g.MemberIDs)
		for _, uid := range g.MemberIDs {
			if _, ok := t.model.Users[uid]; !ok {
				return notFound("user", uid)
			}
		}
		g.CreatedAt = t.now
		t.put(KindGroup, g.ID, g)
		t.audit(audit.EventTypeGroupCreate, audit.TargetGroup, g.ID, nil, g)
		return nil
	})
	return g, err
}

// DeleteGroup removes a group together with its role and deny assignments
func (m *Manager) DeleteGroup(ctx context.Context, id string) error {
	return m.commit(ctx, "delete_group", func(t *txn) error {
		g, ok := t.model.Groups[id]
		if !ok {
			return notFound("group", id)
		}
		revokeAssignments(t, func(a RoleAssignment) bool {
			return a.Type == PrincipalGroup && a.Principal.ID == id
		}, "group deleted")
		for _, did := range sortedKeys(t.model.Denies) {
			d := t.model.Denies[did]
			if d.Type == PrincipalGroup && d.Principal.ID == id {
				t.drop(KindDeny, did)
				t.audit(audit.EventTypeDenyDelete, audit.TargetDenyAssignment, did, d, nil)
			}
		}
		t.drop(KindGroup, id)
		t.audit(audit.EventTypeGroupDelete, audit.TargetGroup, id, g, nil)
		return nil
	})
}

// AddGroupMember adds userID to groupID
func (m *Manager) AddGroupMember(ctx context.Context, groupID, userID string) error {
	return m.commit(ctx, "add_group_member", func(t *txn) error {
		before, ok := t.model.Groups[groupID]
		if !ok {
			return notFound("group", groupID)
		}
		if _, ok := t.model.Users[userID]; !ok {
			return notFound("user", userID)
		}
		if contains(before.MemberIDs, userID) {
			return nil
		}
		g := before
		g.MemberIDs = append(append([]string(nil), before.MemberIDs...), userID)
		t.put(KindGroup, groupID, g)
		t.audit(audit.EventTypeGroupMemberAdd, audit.TargetGroup, groupID, before, g).Metadata["user_id"] = userID
		return nil
	})
}

// RemoveGroupMember removes userID from groupID
func (m *Manager) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	return m.commit(ctx, "remove_group_member", func(t *txn) error {
		before, ok := t.model.Groups[groupID]
		if !ok {
			return notFound("group", groupID)
		}
		if !contains(before.MemberIDs, userID) {
			return notFound("group member", userID)
		}
		g := before
		g.MemberIDs = without(before.MemberIDs, userID)
		t.put(KindGroup, groupID, g)
		t.audit(audit.EventTypeGroupMemberRemove, audit.TargetGroup, groupID, before, g).Metadata["user_id"] = userID
		return nil
	})
}

// ---- resources ----

// CreateResource adds a resource node. Its id is its dotted name.
func (m *Manager) CreateResource(ctx context.Context, r ResourceNode) (ResourceNode, error) {
	err := m.commit(ctx, "create_resource", func(t *txn) error {
		r.ID = strings.TrimSpace(r.ID)
		if !ValidPattern(r.ID) || IsWildcard(r.ID) {
			return invalid("invalid resource id %q", r.ID)
		}
		if _, exists := t.model.Resources[r.ID]; exists {
			return fmt.Errorf("resource %q already exists: %w", r.ID, ErrConflict)
		}
		if r.ParentID != "" {
			if _, ok := t.model.Resources[r.ParentID]; !ok {
				return notFound("parent resource", r.ParentID)
			}
			if r.ParentID == r.ID {
				return fmt.Errorf("resource %q cannot be its own parent: %w", r.ID, ErrCyclicResourceHierarchy)
			}
		}
		if r.Name == "" {
			r.Name = r.ID
		}
		r.CreatedAt = t.now
		t.put(KindResource, r.ID, r)
		t.audit(audit.EventTypeResourceCreate, audit.TargetResource, r.ID, nil, r)
		return nil
	})
	return r, err
}

// UpdateResource changes a node. Re-parenting under its own subtree fails.
func (m *Manager) UpdateResource(ctx context.Context, id string, upd ResourceUpdate) (ResourceNode, error) {
	var out ResourceNode
	err := m.commit(ctx, "update_resource", func(t *txn) error {
		before, ok := t.model.Resources[id]
		if !ok {
			return notFound("resource", id)
		}
		r := before
		if upd.Name != nil {
			r.Name = *upd.Name
		}
		if upd.Type != nil {
			r.Type = *upd.Type
		}
		if upd.BlockInheritance != nil {
			r.BlockInheritance = *upd.BlockInheritance
		}
		if upd.Attributes != nil {
			r.Attributes = cloneMap(upd.Attributes)
		}
		if upd.ParentID != nil && *upd.ParentID != before.ParentID {
			parent := *upd.ParentID
			if parent != "" {
				if _, ok := t.model.Resources[parent]; !ok {
					return notFound("parent resource", parent)
				}
				if t.model.resourceReaches(parent, id) {
					return fmt.Errorf("moving %q under %q: %w", id, parent, ErrCyclicResourceHierarchy)
				}
			}
			r.ParentID = parent
		}
		t.put(KindResource, id, r)
		t.audit(audit.EventTypeResourceUpdate, audit.TargetResource, id, before, r)
		out = r
		return nil
	})
	return out, err
}

// DeleteResource removes a leaf node with no scoped assignments
func (m *Manager) DeleteResource(ctx context.Context, id string) error {
	return m.commit(ctx, "delete_resource", func(t *txn) error {
		r, ok := t.model.Resources[id]
		if !ok {
			return notFound("resource", id)
		}
		for _, other := range t.model.Resources {
			if other.ParentID == id {
				return fmt.Errorf("resource %q has child %q: %w", id, other.ID, ErrConflict)
			}
		}
		for _, a := range t.model.Assignments {
			if a.ResourceID == id {
				return fmt.Errorf("resource %q has scoped assignment %s: %w", id, a.ID, ErrConflict)
			}
		}
		t.drop(KindResource, id)
		t.audit(audit.EventTypeResourceDelete, audit.TargetResource, id, r, nil)
		return nil
	})
}

// ---- assignments ----

// AssignRole grants a role to a user or group, globally or on a resource
func (m *Manager) AssignRole(ctx context.Context, in AssignRoleInput) (RoleAssignment, error) {
	var out RoleAssignment
	err := m.commit(ctx, "assign_role", func(t *txn) error {
		a, err := assignRole(t, in)
		out = a
		return err
	})
	return out, err
}

func assignRole(t *txn, in AssignRoleInput) (RoleAssignment, error) {
	if !in.Type.Valid() {
		return RoleAssignment{}, invalid("invalid principal type %q", in.Type)
	}
	if !t.model.principalExists(in.Principal) {
		return RoleAssignment{}, notFound(string(in.Type), in.Principal.ID)
	}
	if in.Type == PrincipalUser && !t.model.Users[in.Principal.ID].IsActive {
		return RoleAssignment{}, invalid("user %q is deactivated", in.Principal.ID)
	}
	if _, ok := t.model.Roles[in.RoleID]; !ok {
		return RoleAssignment{}, notFound("role", in.RoleID)
	}
	if in.ResourceID != "" {
		if _, ok := t.model.Resources[in.ResourceID]; !ok {
			return RoleAssignment{}, notFound("resource", in.ResourceID)
		}
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(t.now) {
		return RoleAssignment{}, invalid("expires_at must be in the future")
	}
	if id := findAssignment(t.model, in.Principal, in.RoleID, in.ResourceID, t.now); id != "" {
		return RoleAssignment{}, fmt.Errorf("%s already holds role %q on %q (%s): %w", in.Principal, in.RoleID, in.ResourceID, id, ErrConflict)
	}
	if in.Source == "" {
		in.Source = SourceManual
	}

	a := RoleAssignment{
		ID:         uuid.NewString(),
		Principal:  in.Principal,
		RoleID:     in.RoleID,
		ResourceID: in.ResourceID,
		GrantedBy:  t.actor,
		GrantedAt:  t.now,
		Source:     in.Source,
	}
	if in.ExpiresAt != nil {
		exp := in.ExpiresAt.UTC()
		a.ExpiresAt = &exp
	}
	t.put(KindAssignment, a.ID, a)
	t.audit(audit.EventTypeAssignmentCreate, audit.TargetRoleAssignment, a.ID, nil, a)
	return a, nil
}

// RevokeAssignment removes a role assignment
func (m *Manager) RevokeAssignment(ctx context.Context, id string) error {
	return m.commit(ctx, "revoke_assignment", func(t *txn) error {
		a, ok := t.model.Assignments[id]
		if !ok {
			return notFound("role assignment", id)
		}
		t.drop(KindAssignment, id)
		t.audit(audit.EventTypeAssignmentRevoke, audit.TargetRoleAssignment, id, a, nil)
		return nil
	})
}

// ---- denies ----

// CreateDeny adds a deny assignment
func (m *Manager) CreateDeny(ctx context.Context, d DenyAssignment) (DenyAssignment, error) {
	err := m.commit(ctx, "create_deny", func(t *txn) error {
		d.ID = newID(d.ID)
		if !d.Type.Valid() {
			return invalid("invalid principal type %q", d.Type)
		}
		if !t.model.principalExists(d.Principal) {
			return notFound(string(d.Type), d.Principal.ID)
		}
		if !ValidPattern(d.Action) {
			return invalid("invalid action pattern %q", d.Action)
		}
		if !ValidPattern(d.Resource) {
			return invalid("invalid resource pattern %q", d.Resource)
		}
		if _, err := abac.Parse(d.Conditions); err != nil {
			return fmt.Errorf("deny %q: %w", d.ID, err)
		}
		if _, exists := t.model.Denies[d.ID]; exists {
			return fmt.Errorf("deny %q already exists: %w", d.ID, ErrConflict)
		}
		d.CreatedBy = t.actor
		d.CreatedAt = t.now
		t.put(KindDeny, d.ID, d)
		t.audit(audit.EventTypeDenyCreate, audit.TargetDenyAssignment, d.ID, nil, d)
		return nil
	})
	return d, err
}

// DeleteDeny removes a deny assignment
func (m *Manager) DeleteDeny(ctx context.Context, id string) error {
	return m.commit(ctx, "delete_deny", func(t *txn) error {
		d, ok := t.model.Denies[id]
		if !ok {
			return notFound("deny assignment", id)
		}
		t.drop(KindDeny, id)
		t.audit(audit.EventTypeDenyDelete, audit.TargetDenyAssignment, id, d, nil)
		return nil
	})
}

// ---- condition templates ----

// CreateTemplate adds a custom condition template
func (m *Manager) CreateTemplate(ctx context.Context, tpl abac.Template) (abac.Template, error) {
	err := m.commit(ctx, "create_template", func(t *txn) error {
		tpl.ID = newID(tpl.ID)
		tpl.Name = strings.TrimSpace(tpl.Name)
		if tpl.Name == "" {
			return invalid("template name is required")
		}
		expr, err := abac.Parse(tpl.Conditions)
		if err != nil {
			return fmt.Errorf("template %q: %w", tpl.ID, err)
		}
		if expr.IsEmpty() {
			return invalid("template conditions must not be empty")
		}
		for _, builtIn := range abac.BuiltInTemplates() {
			if builtIn.ID == tpl.ID {
				return fmt.Errorf("template %q is built in: %w", tpl.ID, ErrConflict)
			}
		}
		if _, exists := t.model.Templates[tpl.ID]; exists {
			return fmt.Errorf("template %q already exists: %w", tpl.ID, ErrConflict)
		}
		tpl.IsBuiltIn = false
		tpl.CreatedBy = t.actor
		tpl.CreatedAt = t.now
		t.put(KindTemplate, tpl.ID, tpl)
		t.audit(audit.EventTypeTemplateCreate, audit.TargetConditionTemplate, tpl.ID, nil, tpl)
		return nil
	})
	return tpl, err
}

// EnsureBuiltIns adds any missing built-in permission or role. Existing
// entities are left alone.
func (m *Manager) EnsureBuiltIns(ctx context.Context) error {
	return m.commit(ctx, "ensure_built_ins", func(t *txn) error {
		for _, p := range BuiltInPermissions() {
			if _, ok := t.model.Permissions[p.ID]; ok {
				continue
			}
			p.CreatedAt = t.now
			t.put(KindPermission, p.ID, p)
			t.audit(audit.EventTypePermissionCreate, audit.TargetPermission, p.ID, nil, p)
		}
		for _, r := range BuiltInRoles() {
			if _, ok := t.model.Roles[r.ID]; ok {
				continue
			}
			r.CreatedAt, r.UpdatedAt = t.now, t.now
			r.ParentIDs = []string{}
			t.put(KindRole, r.ID, r)
			t.audit(audit.EventTypeRoleCreate, audit.TargetRole, r.ID, nil, r)
		}
		return nil
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

// dedupe drops blanks and repeats, keeping first occurrences in order
func dedupe(list []string) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
