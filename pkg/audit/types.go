package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	// Authorization decisions
	EventTypeAuthzDecision          EventType = "authz.decision"
	EventTypeAuthzEvaluationFailure EventType = "authz.evaluation_failure"

	// Users
	EventTypeUserCreate     EventType = "rbac.user_create"
	EventTypeUserUpdate     EventType = "rbac.user_update"
	EventTypeUserDeactivate EventType = "rbac.user_deactivate"

	// Roles and permissions
	EventTypeRoleCreate        EventType = "rbac.role_create"
	EventTypeRoleUpdate        EventType = "rbac.role_update"
	EventTypeRoleDelete        EventType = "rbac.role_delete"
	EventTypeRoleParentAdd     EventType = "rbac.role_parent_add"
	EventTypeRoleParentRemove  EventType = "rbac.role_parent_remove"
	EventTypePermissionCreate  EventType = "rbac.permission_create"
	EventTypePermissionDelete  EventType = "rbac.permission_delete"
	EventTypePermissionAttach  EventType = "rbac.permission_attach"
	EventTypePermissionDetach  EventType = "rbac.permission_detach"
	EventTypeTemplateCreate    EventType = "rbac.template_create"
	EventTypeBulkOperation     EventType = "rbac.bulk_operation"
	EventTypeGroupCreate       EventType = "rbac.group_create"
	EventTypeGroupDelete       EventType = "rbac.group_delete"
	EventTypeGroupMemberAdd    EventType = "rbac.group_member_add"
	EventTypeGroupMemberRemove EventType = "rbac.group_member_remove"

	// Resources
	EventTypeResourceCreate EventType = "rbac.resource_create"
	EventTypeResourceUpdate EventType = "rbac.resource_update"
	EventTypeResourceDelete EventType = "rbac.resource_delete"

	// Assignments
	EventTypeAssignmentCreate EventType = "rbac.assignment_create"
	EventTypeAssignmentRevoke EventType = "rbac.assignment_revoke"
	EventTypeDenyCreate       EventType = "rbac.deny_create"
	EventTypeDenyDelete       EventType = "rbac.deny_delete"

	// Access request workflow
	EventTypeAccessRequestCreate   EventType = "rbac.access_request_create"
	EventTypeAccessRequestApprove  EventType = "rbac.access_request_approve"
	EventTypeAccessRequestReject   EventType = "rbac.access_request_reject"
	EventTypeAccessRequestExpire   EventType = "rbac.access_request_expire"
	EventTypeAccessRequestWithdraw EventType = "rbac.access_request_withdraw"
	EventTypeAccessReview          EventType = "rbac.access_review"
)

// EventStatus represents the outcome of an audited operation
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// TargetType is the kind of entity an event is about
type TargetType string

const (
	TargetUser              TargetType = "user"
	TargetRole              TargetType = "role"
	TargetPermission        TargetType = "permission"
	TargetGroup             TargetType = "group"
	TargetResource          TargetType = "resource"
	TargetRoleAssignment    TargetType = "role_assignment"
	TargetDenyAssignment    TargetType = "deny_assignment"
	TargetAccessRequest     TargetType = "access_request"
	TargetConditionTemplate TargetType = "condition_template"
)

// AuditEvent is an immutable record of a decision or a mutation
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Who
	ActorID   string `json:"actor_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// What
	Action     string     `json:"action,omitempty"`
	Resource   string     `json:"resource,omitempty"`
	TargetType TargetType `json:"target_type,omitempty"`
	TargetID   string     `json:"target_id,omitempty"`

	CorrelationID string `json:"correlation_id,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	// Before/after state for mutations
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks what changed in a mutation
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// SearchFilter defines criteria for searching audit logs
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorID       string
	EventTypes    []EventType
	Status        *EventStatus
	TargetType    TargetType
	TargetID      string
	Resource      string
	CorrelationID string

	Limit  int
	Offset int

	SortBy    string // timestamp, event_type or actor_id
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)

// AuditStats represents statistics about audit logs
type AuditStats struct {
	TotalEvents        int64                 `json:"total_events"`
	EventsByType       map[EventType]int64   `json:"events_by_type"`
	EventsByStatus     map[EventStatus]int64 `json:"events_by_status"`
	EventsByActor      map[string]int64      `json:"events_by_actor"`
	UniqueActors       int64                 `json:"unique_actors"`
	DeniedDecisions    int64                 `json:"denied_decisions"`
	EvaluationFailures int64                 `json:"evaluation_failures"`
	TimeRange          *TimeRange            `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
