package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/datawave/pkg/audit"
)

// AccessRequestInput is a user's request for a role
type AccessRequestInput struct {
	RequesterID   string `json:"requester_id"`
	RoleID        string `json:"role_id"`
	ResourceID    string `json:"resource_id,omitempty"`
	Justification string `json:"justification,omitempty"`
}

// CreateAccessRequest opens a pending request. An empty requester defaults
// to the calling actor.
func (m *Manager) CreateAccessRequest(ctx context.Context, in AccessRequestInput) (AccessRequest, error) {
	var out AccessRequest
	err := m.commit(ctx, "create_access_request", func(t *txn) error {
		if in.RequesterID == "" {
			in.RequesterID = t.actor
		}
		u, ok := t.model.Users[in.RequesterID]
		if !ok {
			return notFound("user", in.RequesterID)
		}
		if !u.IsActive {
			return invalid("user %q is deactivated", u.ID)
		}
		if _, ok := t.model.Roles[in.RoleID]; !ok {
			return notFound("role", in.RoleID)
		}
		if in.ResourceID != "" {
			if _, ok := t.model.Resources[in.ResourceID]; !ok {
				return notFound("resource", in.ResourceID)
			}
		}
		for _, r := range t.model.AccessRequests {
			if r.Status == RequestPending && r.RequesterID == in.RequesterID &&
				r.RoleID == in.RoleID && r.ResourceID == in.ResourceID {
				return fmt.Errorf("request %s is already pending: %w", r.ID, ErrConflict)
			}
		}

		out = AccessRequest{
			ID:            uuid.NewString(),
			RequesterID:   in.RequesterID,
			RoleID:        in.RoleID,
			ResourceID:    in.ResourceID,
			Justification: strings.TrimSpace(in.Justification),
			Status:        RequestPending,
			CreatedAt:     t.now,
			ExpiresAt:     t.now.Add(m.requestTTL),
		}
		t.put(KindAccessRequest, out.ID, out)
		t.audit(audit.EventTypeAccessRequestCreate, audit.TargetAccessRequest, out.ID, nil, out)
		return nil
	})
	return out, err
}

// pendingRequest returns the request if it may still transition
func pendingRequest(t *txn, id string) (AccessRequest, error) {
	r, ok := t.model.AccessRequests[id]
	if !ok {
		return AccessRequest{}, notFound("access request", id)
	}
	if r.Status.Terminal() {
		return AccessRequest{}, fmt.Errorf("access request %s is %s: %w", id, r.Status, ErrInvalidStateTransition)
	}
	return r, nil
}

// ApproveAccessRequest grants the requested role and closes the request in
// the same commit. The reviewer is the calling actor and may not be the
// requester.
func (m *Manager) ApproveAccessRequest(ctx context.Context, id, note string) (AccessRequest, error) {
	var out AccessRequest
	err := m.commit(ctx, "approve_access_request", func(t *txn) error {
		before, err := pendingRequest(t, id)
		if err != nil {
			return err
		}
		if !t.now.Before(before.ExpiresAt) {
			return fmt.Errorf("access request %s expired at %s: %w", id, before.ExpiresAt.Format(time.RFC3339), ErrInvalidStateTransition)
		}
		if t.actor != "" && t.actor == before.RequesterID {
			return fmt.Errorf("requester cannot approve their own request: %w", ErrForbidden)
		}

		a, err := assignRole(t, AssignRoleInput{
			Principal:  Principal{Type: PrincipalUser, ID: before.RequesterID},
			RoleID:     before.RoleID,
			ResourceID: before.ResourceID,
			Source:     SourceAccessRequest,
		})
		if err != nil {
			return err
		}

		out = decide(before, RequestApproved, t, note)
		out.AssignmentID = a.ID
		t.put(KindAccessRequest, id, out)
		t.audit(audit.EventTypeAccessRequestApprove, audit.TargetAccessRequest, id, before, out)
		return nil
	})
	return out, err
}

// RejectAccessRequest closes the request without a grant
func (m *Manager) RejectAccessRequest(ctx context.Context, id, note string) (AccessRequest, error) {
	var out AccessRequest
	err := m.commit(ctx, "reject_access_request", func(t *txn) error {
		before, err := pendingRequest(t, id)
		if err != nil {
			return err
		}
		out = decide(before, RequestRejected, t, note)
		t.put(KindAccessRequest, id, out)
		t.audit(audit.EventTypeAccessRequestReject, audit.TargetAccessRequest, id, before, out)
		return nil
	})
	return out, err
}

// WithdrawAccessRequest lets the requester cancel a pending request
func (m *Manager) WithdrawAccessRequest(ctx context.Context, id string) (AccessRequest, error) {
	var out AccessRequest
	err := m.commit(ctx, "withdraw_access_request", func(t *txn) error {
		before, err := pendingRequest(t, id)
		if err != nil {
			return err
		}
		if t.actor != before.RequesterID {
			return fmt.Errorf("only the requester may withdraw request %s: %w", id, ErrForbidden)
		}
		out = before
		out.Status = RequestWithdrawn
		now := t.now
		out.DecidedAt = &now
		t.put(KindAccessRequest, id, out)
		t.audit(audit.EventTypeAccessRequestWithdraw, audit.TargetAccessRequest, id, before, out)
		return nil
	})
	return out, err
}

// ExpireAccessRequests moves every pending request past its deadline at now
// to expired and returns their ids
func (m *Manager) ExpireAccessRequests(ctx context.Context, now time.Time) ([]string, error) {
	var expired []string
	err := m.commit(ctx, "expire_access_requests", func(t *txn) error {
		expired = expireRequests(t, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func expireRequests(t *txn, now time.Time) []string {
	expired := []string{}
	for _, id := range sortedKeys(t.model.AccessRequests) {
		r := t.model.AccessRequests[id]
		if r.Status != RequestPending || now.Before(r.ExpiresAt) {
			continue
		}
		after := r
		after.Status = RequestExpired
		decided := now.UTC()
		after.DecidedAt = &decided
		t.put(KindAccessRequest, id, after)
		t.audit(audit.EventTypeAccessRequestExpire, audit.TargetAccessRequest, id, r, after)
		expired = append(expired, id)
	}
	return expired
}

func decide(r AccessRequest, status AccessRequestStatus, t *txn, note string) AccessRequest {
	now := t.now
	r.Status = status
	r.ReviewerID = t.actor
	r.ReviewNote = strings.TrimSpace(note)
	r.DecidedAt = &now
	return r
}

// RunAccessReview revokes lapsed assignments, expires overdue requests and
// reports assignments older than the stale threshold. Stale assignments are
// only reported.
func (m *Manager) RunAccessReview(ctx context.Context, now time.Time) (AccessReviewReport, error) {
	report := AccessReviewReport{ReviewedAt: now.UTC()}
	err := m.commit(ctx, "access_review", func(t *txn) error {
		report.RevokedAssignments = revokeAssignments(t, func(a RoleAssignment) bool {
			return a.Expired(now)
		}, "expired")
		if report.RevokedAssignments == nil {
			report.RevokedAssignments = []string{}
		}
		report.ExpiredRequests = expireRequests(t, now)

		report.StaleAssignments = []RoleAssignment{}
		cutoff := now.Add(-m.staleAfter)
		for _, id := range sortedKeys(t.model.Assignments) {
			a := t.model.Assignments[id]
			if a.GrantedAt.Before(cutoff) {
				report.StaleAssignments = append(report.StaleAssignments, a)
			}
		}

		ev := t.audit(audit.EventTypeAccessReview, "", "", nil, nil)
		ev.Message = fmt.Sprintf("access review: %d revoked, %d expired requests, %d stale",
			len(report.RevokedAssignments), len(report.ExpiredRequests), len(report.StaleAssignments))
		ev.Metadata["revoked"] = report.RevokedAssignments
		ev.Metadata["expired_requests"] = report.ExpiredRequests
		ev.Metadata["stale"] = len(report.StaleAssignments)
		return nil
	})
	if err != nil {
		return AccessReviewReport{}, err
	}
	return report, nil
}
