package rbac

import (
	"encoding/json"
	"time"
)

// PrincipalType distinguishes users from groups in assignments
type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalGroup PrincipalType = "group"
)

// Valid reports whether t is a known principal type
func (t PrincipalType) Valid() bool {
	return t == PrincipalUser || t == PrincipalGroup
}

// Principal identifies the subject of an assignment
type Principal struct {
	Type PrincipalType `json:"principal_type"`
	ID   string        `json:"principal_id"`
}

// User is an identity whose attributes feed ABAC subject conditions
type User struct {
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	DisplayName   string         `json:"display_name,omitempty"`
	IsActive      bool           `json:"is_active"`
	IsVerified    bool           `json:"is_verified"`
	MFAEnabled    bool           `json:"mfa_enabled"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeactivatedAt *time.Time     `json:"deactivated_at,omitempty"`
}

// SubjectAttributes returns the attribute set conditions see as user.*
func (u *User) SubjectAttributes() map[string]any {
	attrs := make(map[string]any, len(u.Attributes)+5)
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	attrs["id"] = u.ID
	attrs["email"] = u.Email
	attrs["is_active"] = u.IsActive
	attrs["is_verified"] = u.IsVerified
	attrs["mfa_enabled"] = u.MFAEnabled
	return attrs
}

// Role is a named bundle of permissions with optional parent roles
type Role struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DisplayName   string    `json:"display_name"`
	Description   string    `json:"description"`
	ParentIDs     []string  `json:"parent_ids"`
	PermissionIDs []string  `json:"permission_ids"`
	IsBuiltIn     bool      `json:"is_built_in"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CreatedBy     string    `json:"created_by,omitempty"`
}

// Permission is an (action, resource) pair with optional conditions.
// Action and Resource are dotted names and may end in a wildcard segment.
type Permission struct {
	ID          string          `json:"id"`
	Action      string          `json:"action"`
	Resource    string          `json:"resource"`
	Conditions  json.RawMessage `json:"conditions,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// String returns a string representation of the permission
func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Group is a named collection of users
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResourceNode is a governed resource. ID is the dotted resource name.
type ResourceNode struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	ParentID         string         `json:"parent_id,omitempty"`
	BlockInheritance bool           `json:"block_inheritance"`
	Attributes       map[string]any `json:"attributes,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// AssignmentSource records how an assignment was created
type AssignmentSource string

const (
	SourceManual        AssignmentSource = "manual"
	SourceAccessRequest AssignmentSource = "access_request"
	SourceBulk          AssignmentSource = "bulk"
	SourceBootstrap     AssignmentSource = "bootstrap"
)

// RoleAssignment grants a role to a principal, globally or on a resource subtree
type RoleAssignment struct {
	ID string `json:"id"`
	Principal
	RoleID     string           `json:"role_id"`
	ResourceID string           `json:"resource_id,omitempty"` // empty means global
	GrantedBy  string           `json:"granted_by,omitempty"`
	GrantedAt  time.Time        `json:"granted_at"`
	ExpiresAt  *time.Time       `json:"expires_at,omitempty"`
	Source     AssignmentSource `json:"source"`
}

// Expired reports whether the assignment has lapsed at now
func (a *RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// DenyAssignment blocks matching allow grants for a principal
type DenyAssignment struct {
	ID string `json:"id"`
	Principal
	Action     string          `json:"action"`
	Resource   string          `json:"resource"`
	Conditions json.RawMessage `json:"conditions,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	CreatedBy  string          `json:"created_by,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AccessRequestStatus is the lifecycle state of an access request
type AccessRequestStatus string

const (
	RequestPending   AccessRequestStatus = "pending"
	RequestApproved  AccessRequestStatus = "approved"
	RequestRejected  AccessRequestStatus = "rejected"
	RequestExpired   AccessRequestStatus = "expired"
	RequestWithdrawn AccessRequestStatus = "withdrawn"
)

// Terminal reports whether no further transition is allowed
func (s AccessRequestStatus) Terminal() bool {
	return s != RequestPending
}

// AccessRequest is a user-initiated request for a role grant
type AccessRequest struct {
	ID            string              `json:"id"`
	RequesterID   string              `json:"requester_id"`
	RoleID        string              `json:"role_id"`
	ResourceID    string              `json:"resource_id,omitempty"`
	Justification string              `json:"justification,omitempty"`
	Status        AccessRequestStatus `json:"status"`
	ReviewerID    string              `json:"reviewer_id,omitempty"`
	ReviewNote    string              `json:"review_note,omitempty"`
	AssignmentID  string              `json:"assignment_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	DecidedAt     *time.Time          `json:"decided_at,omitempty"`
	ExpiresAt     time.Time           `json:"expires_at"`
}

// EffectivePermission is one row of the effective-permissions listing
type EffectivePermission struct {
	Action      string `json:"action"`
	Resource    string `json:"resource"`
	IsEffective bool   `json:"is_effective"`
	Note        string `json:"note"`
}

// EffectivePermissionV2 adds provenance to EffectivePermission
type EffectivePermissionV2 struct {
	EffectivePermission
	PermissionID string          `json:"permission_id"`
	RoleIDs      []string        `json:"role_ids"`
	Conditions   json.RawMessage `json:"conditions,omitempty"`
	DeniedBy     []string        `json:"denied_by,omitempty"`
}

// AccessReviewReport summarises one access review run
type AccessReviewReport struct {
	ReviewedAt         time.Time        `json:"reviewed_at"`
	RevokedAssignments []string         `json:"revoked_assignments"`
	ExpiredRequests    []string         `json:"expired_requests"`
	StaleAssignments   []RoleAssignment `json:"stale_assignments"`
}

// Built-in role IDs
const (
	RoleAdmin  = "admin"
	RoleViewer = "viewer"
)

// BuiltInPermissions returns the permissions backing the built-in roles
func BuiltInPermissions() []Permission {
	return []Permission{
		{ID: "builtin.all", Action: "*", Resource: "*", Description: "Every action on every resource"},
		{ID: "builtin.view", Action: "*.view", Resource: "*", Description: "View any resource"},
	}
}

// BuiltInRoles returns all built-in role definitions
func BuiltInRoles() []Role {
	return []Role{
		{
			ID:            RoleAdmin,
			Name:          RoleAdmin,
			DisplayName:   "Administrator",
			Description:   "Full access to every resource",
			IsBuiltIn:     true,
			PermissionIDs: []string{"builtin.all"},
		},
		{
			ID:            RoleViewer,
			Name:          RoleViewer,
			DisplayName:   "Viewer",
			Description:   "Read-only access to every resource",
			IsBuiltIn:     true,
			PermissionIDs: []string{"builtin.view"},
		},
	}
}
