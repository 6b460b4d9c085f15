package rbac

import (
	"errors"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/audit"
)

var (
	ErrCyclicRoleHierarchy     = errors.New("cyclic role hierarchy")
	ErrCyclicResourceHierarchy = errors.New("cyclic resource hierarchy")
	ErrInvalidStateTransition  = errors.New("invalid state transition")
	ErrNotFound                = errors.New("not found")
	ErrConflict                = errors.New("conflict")
	ErrBuiltInRole             = errors.New("built-in roles cannot be modified")
	ErrInvalidInput            = errors.New("invalid input")
	ErrForbidden               = errors.New("forbidden")

	ErrConditionEvaluation = abac.ErrConditionEvaluation
	ErrEvaluationTimeout   = abac.ErrEvaluationTimeout
	ErrAuditWriteFailure   = audit.ErrAuditWriteFailure
)

// Reason codes returned to API clients and recorded in decisions
const (
	ReasonAllowed                 = "allowed"
	ReasonNoMatchingPermission    = "no_matching_permission"
	ReasonExplicitDeny            = "explicit_deny"
	ReasonUnknownPrincipal        = "unknown_principal"
	ReasonPrincipalInactive       = "principal_inactive"
	ReasonConditionNotMet         = "condition_not_met"
	ReasonConditionError          = "condition_error"
	ReasonEvaluationTimeout       = "evaluation_timeout"
	ReasonEvaluationFailure       = "evaluation_failure"
	ReasonAuditWriteFailure       = "audit_write_failure"
	ReasonCancelled               = "cancelled"
	ReasonCyclicRoleHierarchy     = "cyclic_role_hierarchy"
	ReasonCyclicResourceHierarchy = "cyclic_resource_hierarchy"
	ReasonInvalidStateTransition  = "invalid_state_transition"
	ReasonInvalidCondition        = "invalid_condition"
	ReasonNotFound                = "not_found"
	ReasonConflict                = "conflict"
	ReasonBuiltInRole             = "built_in_role"
	ReasonInvalidInput            = "invalid_input"
	ReasonForbidden               = "forbidden"
	ReasonInternal                = "internal_error"
)

// ReasonCode maps an error to the code shown to API clients
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCyclicRoleHierarchy):
		return ReasonCyclicRoleHierarchy
	case errors.Is(err, ErrCyclicResourceHierarchy):
		return ReasonCyclicResourceHierarchy
	case errors.Is(err, ErrInvalidStateTransition):
		return ReasonInvalidStateTransition
	case errors.Is(err, ErrConditionEvaluation):
		return ReasonInvalidCondition
	case errors.Is(err, ErrEvaluationTimeout):
		return ReasonEvaluationTimeout
	case errors.Is(err, ErrAuditWriteFailure):
		return ReasonAuditWriteFailure
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrConflict):
		return ReasonConflict
	case errors.Is(err, ErrBuiltInRole):
		return ReasonBuiltInRole
	case errors.Is(err, ErrInvalidInput):
		return ReasonInvalidInput
	case errors.Is(err, ErrForbidden):
		return ReasonForbidden
	default:
		return ReasonInternal
	}
}
