package rbac

import (
	"time"
)

// Effect is the outcome of a check
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// CheckRequest asks whether a user may perform action on resource. The
// attribute maps supplement the stored user and resource attributes; stored
// values win on conflict.
type CheckRequest struct {
	UserID             string         `json:"user_id"`
	Action             string         `json:"action"`
	Resource           string         `json:"resource"`
	Subject            map[string]any `json:"subject,omitempty"`
	ResourceAttributes map[string]any `json:"resource_attributes,omitempty"`
	Environment        map[string]any `json:"environment,omitempty"`
	CorrelationID      string         `json:"correlation_id,omitempty"`
}

// Trail steps
const (
	StepResolve    = "resolve"
	StepPermission = "permission"
	StepDeny       = "deny"
	StepAudit      = "audit"
	StepFailure    = "failure"
)

// Trail outcomes
const (
	OutcomeAssigned      = "assigned"
	OutcomeApplicable    = "applicable"
	OutcomeNotApplicable = "not_applicable"
	OutcomeConditionErr  = "condition_error"
	OutcomeDenied        = "denied"
	OutcomeSkipped       = "skipped"
	OutcomeFailed        = "failed"
)

// TrailEntry is one auditable step of a decision
type TrailEntry struct {
	Step         string `json:"step"`
	Outcome      string `json:"outcome"`
	RoleID       string `json:"role_id,omitempty"`
	AssignmentID string `json:"assignment_id,omitempty"`
	PermissionID string `json:"permission_id,omitempty"`
	DenyID       string `json:"deny_id,omitempty"`
	Principal    string `json:"principal,omitempty"`
	Scope        string `json:"scope,omitempty"`
	Resource     string `json:"resource,omitempty"`
	Condition    string `json:"condition,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// Decision is the result of a check together with its reason trail
type Decision struct {
	Allowed       bool          `json:"allowed"`
	Effect        Effect        `json:"effect"`
	Reason        string        `json:"reason"`
	Note          string        `json:"note"`
	Trail         []TrailEntry  `json:"trail"`
	Version       uint64        `json:"version"`
	CorrelationID string        `json:"correlation_id"`
	Cached        bool          `json:"cached"`
	EvaluatedAt   time.Time     `json:"evaluated_at"`
	Duration      time.Duration `json:"duration_ns"`

	// volatile decisions depend on an expiring assignment and are not cached
	volatile bool
}

func allow(reason, note string, trail []TrailEntry) Decision {
	return Decision{Allowed: true, Effect: EffectAllow, Reason: reason, Note: note, Trail: trail}
}

func deny(reason, note string, trail []TrailEntry) Decision {
	return Decision{Allowed: false, Effect: EffectDeny, Reason: reason, Note: note, Trail: trail}
}

// clone copies the trail so cached decisions are never shared mutably
func (d Decision) clone() Decision {
	d.Trail = append([]TrailEntry(nil), d.Trail...)
	return d
}

func (p Principal) String() string {
	return string(p.Type) + ":" + p.ID
}
