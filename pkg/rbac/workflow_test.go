package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/datawave/pkg/audit"
)

func workflowFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.user(t, "reviewer", nil)
	f.permission(t, "read", "table.read", "table.*", "")
	f.role(t, "analyst", []string{"read"})
	f.resource(t, "table.sales", "", nil)
	return f
}

func (f *fixture) request(t *testing.T) AccessRequest {
	t.Helper()
	r, err := f.manager.CreateAccessRequest(asActor("alice"), AccessRequestInput{
		RoleID:        "analyst",
		ResourceID:    "table.sales",
		Justification: "  quarterly report  ",
	})
	require.NoError(t, err)
	return r
}

func TestAccessRequest_ApproveCreatesOneAssignment(t *testing.T) {
	f := workflowFixture(t)
	r := f.request(t)
	assert.Equal(t, RequestPending, r.Status)
	assert.Equal(t, "alice", r.RequesterID)
	assert.Equal(t, "quarterly report", r.Justification)
	assert.Equal(t, f.clock.Now().Add(72*time.Hour), r.ExpiresAt)
	assert.False(t, f.check("alice", "table.read", "table.sales").Allowed)

	approved, err := f.manager.ApproveAccessRequest(asActor("reviewer"), r.ID, "ok")
	require.NoError(t, err)
	assert.Equal(t, RequestApproved, approved.Status)
	assert.Equal(t, "reviewer", approved.ReviewerID)
	assert.Equal(t, "ok", approved.ReviewNote)
	require.NotNil(t, approved.DecidedAt)
	require.NotEmpty(t, approved.AssignmentID)

	assignments := f.manager.Snapshot().Graph.ListAssignments(AssignmentFilter{PrincipalID: "alice"})
	require.Len(t, assignments, 1)
	assert.Equal(t, approved.AssignmentID, assignments[0].ID)
	assert.Equal(t, SourceAccessRequest, assignments[0].Source)
	assert.Equal(t, "table.sales", assignments[0].ResourceID)
	assert.Equal(t, "reviewer", assignments[0].GrantedBy)

	assert.True(t, f.check("alice", "table.read", "table.sales").Allowed)

	stored, ok := f.manager.Snapshot().AccessRequest(r.ID)
	require.True(t, ok)
	assert.Equal(t, RequestApproved, stored.Status)
	assert.Len(t, f.sink.ofType(audit.EventTypeAccessRequestApprove), 1)
}

func TestAccessRequest_TerminalStatesAreFinal(t *testing.T) {
	f := workflowFixture(t)
	ctx := asActor("reviewer")

	approved := f.request(t)
	_, err := f.manager.ApproveAccessRequest(ctx, approved.ID, "")
	require.NoError(t, err)

	_, err = f.manager.ApproveAccessRequest(ctx, approved.ID, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.manager.RejectAccessRequest(ctx, approved.ID, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.manager.WithdrawAccessRequest(asActor("alice"), approved.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	require.NoError(t, f.manager.RevokeAssignment(context.Background(), approved.AssignmentID))
	rejected := f.request(t)
	out, err := f.manager.RejectAccessRequest(ctx, rejected.ID, "not needed")
	require.NoError(t, err)
	assert.Equal(t, RequestRejected, out.Status)
	assert.Empty(t, out.AssignmentID)

	_, err = f.manager.ApproveAccessRequest(ctx, rejected.ID, "")
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.Equal(t, ReasonInvalidStateTransition, ReasonCode(err))
	assert.Empty(t, f.manager.Snapshot().Graph.ListAssignments(AssignmentFilter{PrincipalID: "alice"}))
}

func TestAccessRequest_SelfApprovalForbidden(t *testing.T) {
	f := workflowFixture(t)
	r := f.request(t)

	_, err := f.manager.ApproveAccessRequest(asActor("alice"), r.ID, "")
	require.ErrorIs(t, err, ErrForbidden)

	stored, _ := f.manager.Snapshot().AccessRequest(r.ID)
	assert.Equal(t, RequestPending, stored.Status)
}

func TestAccessRequest_Withdraw(t *testing.T) {
	f := workflowFixture(t)
	r := f.request(t)

	_, err := f.manager.WithdrawAccessRequest(asActor("reviewer"), r.ID)
	require.ErrorIs(t, err, ErrForbidden)

	out, err := f.manager.WithdrawAccessRequest(asActor("alice"), r.ID)
	require.NoError(t, err)
	assert.Equal(t, RequestWithdrawn, out.Status)
	assert.Empty(t, out.ReviewerID)
}

func TestAccessRequest_DuplicatePendingConflicts(t *testing.T) {
	f := workflowFixture(t)
	f.request(t)

	_, err := f.manager.CreateAccessRequest(asActor("alice"), AccessRequestInput{RoleID: "analyst", ResourceID: "table.sales"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = f.manager.CreateAccessRequest(asActor("alice"), AccessRequestInput{RoleID: "analyst"})
	assert.NoError(t, err)
	assert.Len(t, f.manager.Snapshot().AccessRequests(RequestPending, "alice"), 2)
}

func TestAccessRequest_Validation(t *testing.T) {
	f := workflowFixture(t)

	_, err := f.manager.CreateAccessRequest(asActor("ghost"), AccessRequestInput{RoleID: "analyst"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.CreateAccessRequest(asActor("alice"), AccessRequestInput{RoleID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.manager.DeactivateUser(context.Background(), "alice")
	require.NoError(t, err)
	_, err = f.manager.CreateAccessRequest(asActor("alice"), AccessRequestInput{RoleID: "analyst"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAccessRequest_WorkflowKeepsGraphVersion(t *testing.T) {
	f := workflowFixture(t)
	version := f.manager.Version()

	r := f.request(t)
	_, err := f.manager.RejectAccessRequest(asActor("reviewer"), r.ID, "")
	require.NoError(t, err)
	assert.Equal(t, version, f.manager.Version())
}

func TestAccessRequest_Expiry(t *testing.T) {
	f := workflowFixture(t)
	r := f.request(t)

	expired, err := f.manager.ExpireAccessRequests(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)

	f.clock.Advance(73 * time.Hour)
	_, err = f.manager.ApproveAccessRequest(asActor("reviewer"), r.ID, "")
	require.ErrorIs(t, err, ErrInvalidStateTransition)

	expired, err = f.manager.ExpireAccessRequests(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, expired)

	stored, _ := f.manager.Snapshot().AccessRequest(r.ID)
	assert.Equal(t, RequestExpired, stored.Status)
	assert.Len(t, f.sink.ofType(audit.EventTypeAccessRequestExpire), 1)

	expired, err = f.manager.ExpireAccessRequests(context.Background(), f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestAccessReview(t *testing.T) {
	f := workflowFixture(t)
	ctx := context.Background()

	old := f.assign(t, "reviewer", RoleViewer, "")
	f.clock.Advance(100 * 24 * time.Hour)

	exp := f.clock.Now().Add(time.Hour)
	lapsing, err := f.manager.AssignRole(ctx, AssignRoleInput{
		Principal: Principal{Type: PrincipalUser, ID: "alice"},
		RoleID:    "analyst",
		ExpiresAt: &exp,
	})
	require.NoError(t, err)
	pending := f.request(t)

	now := f.clock.Now().Add(80 * time.Hour)
	report, err := f.manager.RunAccessReview(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, []string{lapsing.ID}, report.RevokedAssignments)
	assert.Equal(t, []string{pending.ID}, report.ExpiredRequests)
	require.Len(t, report.StaleAssignments, 1)
	assert.Equal(t, old.ID, report.StaleAssignments[0].ID)

	_, ok := f.manager.Snapshot().Graph.Assignment(lapsing.ID)
	assert.False(t, ok)
	_, ok = f.manager.Snapshot().Graph.Assignment(old.ID)
	assert.True(t, ok, "stale assignments are only reported")

	reviews := f.sink.ofType(audit.EventTypeAccessReview)
	require.Len(t, reviews, 1)
	assert.Equal(t, 1, reviews[0].Metadata["stale"])

	// a quiet review still leaves a record
	report, err = f.manager.RunAccessReview(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, report.RevokedAssignments)
	assert.Len(t, f.sink.ofType(audit.EventTypeAccessReview), 2)
}
