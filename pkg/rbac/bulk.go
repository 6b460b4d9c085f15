package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/datawave/pkg/audit"
)

// BulkRoleRequest assigns or removes every role to every listed principal
type BulkRoleRequest struct {
	UserIDs    []string   `json:"user_ids"`
	GroupIDs   []string   `json:"group_ids,omitempty"`
	RoleIDs    []string   `json:"role_ids"`
	ResourceID string     `json:"resource_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

func (r BulkRoleRequest) principals() []Principal {
	out := make([]Principal, 0, len(r.UserIDs)+len(r.GroupIDs))
	for _, id := range dedupe(r.UserIDs) {
		out = append(out, Principal{Type: PrincipalUser, ID: id})
	}
	for _, id := range dedupe(r.GroupIDs) {
		out = append(out, Principal{Type: PrincipalGroup, ID: id})
	}
	return out
}

// BulkPermissionRequest attaches or detaches every permission on every role
type BulkPermissionRequest struct {
	RoleIDs       []string `json:"role_ids"`
	PermissionIDs []string `json:"permission_ids"`
}

// BulkResult reports what a bulk operation changed
type BulkResult struct {
	Operation     string   `json:"operation"`
	Affected      int      `json:"affected"`
	AssignmentIDs []string `json:"assignment_ids,omitempty"`
	Skipped       int      `json:"skipped"`
}

// BulkAssignRoles assigns every role to every principal in one commit.
// Existing identical assignments are skipped; any other failure aborts the
// whole operation.
func (m *Manager) BulkAssignRoles(ctx context.Context, req BulkRoleRequest) (BulkResult, error) {
	res := BulkResult{Operation: "bulk_assign_roles", AssignmentIDs: []string{}}
	err := m.commit(ctx, res.Operation, func(t *txn) error {
		principals, roles, err := validateBulkRoles(t, req)
		if err != nil {
			return err
		}
		for _, p := range principals {
			for _, roleID := range roles {
				if findAssignment(t.model, p, roleID, req.ResourceID, t.now) != "" {
					res.Skipped++
					continue
				}
				a, err := assignRole(t, AssignRoleInput{
					Principal:  p,
					RoleID:     roleID,
					ResourceID: req.ResourceID,
					ExpiresAt:  req.ExpiresAt,
					Source:     SourceBulk,
				})
				if err != nil {
					return fmt.Errorf("assigning %q to %s: %w", roleID, p, err)
				}
				res.AssignmentIDs = append(res.AssignmentIDs, a.ID)
			}
		}
		res.Affected = len(res.AssignmentIDs)
		bulkAudit(t, res, req)
		return nil
	})
	return res, err
}

// BulkRemoveRoles revokes every matching assignment in one commit
func (m *Manager) BulkRemoveRoles(ctx context.Context, req BulkRoleRequest) (BulkResult, error) {
	res := BulkResult{Operation: "bulk_remove_roles", AssignmentIDs: []string{}}
	err := m.commit(ctx, res.Operation, func(t *txn) error {
		principals, roles, err := validateBulkRoles(t, req)
		if err != nil {
			return err
		}
		wanted := make(map[Principal]bool, len(principals))
		for _, p := range principals {
			wanted[p] = true
		}
		roleSet := make(map[string]bool, len(roles))
		for _, r := range roles {
			roleSet[r] = true
		}
		res.AssignmentIDs = revokeAssignments(t, func(a RoleAssignment) bool {
			return wanted[a.Principal] && roleSet[a.RoleID] && a.ResourceID == req.ResourceID
		}, "bulk removal")
		if res.AssignmentIDs == nil {
			res.AssignmentIDs = []string{}
		}
		res.Affected = len(res.AssignmentIDs)
		res.Skipped = len(principals)*len(roles) - res.Affected
		if res.Skipped < 0 {
			res.Skipped = 0
		}
		bulkAudit(t, res, req)
		return nil
	})
	return res, err
}

// BulkAssignPermissions attaches every permission to every role
func (m *Manager) BulkAssignPermissions(ctx context.Context, req BulkPermissionRequest) (BulkResult, error) {
	res := BulkResult{Operation: "bulk_assign_permissions"}
	err := m.commit(ctx, res.Operation, func(t *txn) error {
		roles, perms, err := validateBulkPermissions(t, req)
		if err != nil {
			return err
		}
		for _, roleID := range roles {
			for _, permID := range perms {
				if contains(t.model.Roles[roleID].PermissionIDs, permID) {
					res.Skipped++
					continue
				}
				if err := attachPermission(t, roleID, permID); err != nil {
					return err
				}
				res.Affected++
			}
		}
		bulkAudit(t, res, req)
		return nil
	})
	return res, err
}

// BulkRemovePermissions detaches every permission from every role
func (m *Manager) BulkRemovePermissions(ctx context.Context, req BulkPermissionRequest) (BulkResult, error) {
	res := BulkResult{Operation: "bulk_remove_permissions"}
	err := m.commit(ctx, res.Operation, func(t *txn) error {
		roles, perms, err := validateBulkPermissions(t, req)
		if err != nil {
			return err
		}
		for _, roleID := range roles {
			for _, permID := range perms {
				if !contains(t.model.Roles[roleID].PermissionIDs, permID) {
					res.Skipped++
					continue
				}
				if err := detachPermission(t, roleID, permID, false); err != nil {
					return err
				}
				res.Affected++
			}
		}
		bulkAudit(t, res, req)
		return nil
	})
	return res, err
}

// validateBulkRoles checks every reference before anything is staged
func validateBulkRoles(t *txn, req BulkRoleRequest) ([]Principal, []string, error) {
	principals := req.principals()
	roles := dedupe(req.RoleIDs)
	if len(principals) == 0 || len(roles) == 0 {
		return nil, nil, invalid("at least one principal and one role are required")
	}
	for _, p := range principals {
		if !t.model.principalExists(p) {
			return nil, nil, notFound(string(p.Type), p.ID)
		}
	}
	for _, id := range roles {
		if _, ok := t.model.Roles[id]; !ok {
			return nil, nil, notFound("role", id)
		}
	}
	if req.ResourceID != "" {
		if _, ok := t.model.Resources[req.ResourceID]; !ok {
			return nil, nil, notFound("resource", req.ResourceID)
		}
	}
	return principals, roles, nil
}

func validateBulkPermissions(t *txn, req BulkPermissionRequest) ([]string, []string, error) {
	roles := dedupe(req.RoleIDs)
	perms := dedupe(req.PermissionIDs)
	if len(roles) == 0 || len(perms) == 0 {
		return nil, nil, invalid("at least one role and one permission are required")
	}
	for _, id := range roles {
		if _, err := mutableRole(t, id); err != nil {
			return nil, nil, err
		}
	}
	for _, id := range perms {
		if _, ok := t.model.Permissions[id]; !ok {
			return nil, nil, notFound("permission", id)
		}
	}
	return roles, perms, nil
}

// findAssignment returns the id of a live assignment with the same key
func findAssignment(model *Model, p Principal, roleID, resourceID string, now time.Time) string {
	for id, a := range model.Assignments {
		if a.Principal == p && a.RoleID == roleID && a.ResourceID == resourceID && !a.Expired(now) {
			return id
		}
	}
	return ""
}

func bulkAudit(t *txn, res BulkResult, req any) {
	ev := t.audit(audit.EventTypeBulkOperation, "", "", nil, nil)
	ev.Action = res.Operation
	ev.Message = fmt.Sprintf("%s: %d affected, %d skipped", res.Operation, res.Affected, res.Skipped)
	ev.Metadata["request"] = req
	ev.Metadata["affected"] = res.Affected
}
