package rbac

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/datawave/pkg/audit"
)

func TestScenarioA_WildcardResourceGrant(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.permission(t, "dash.view", "dashboard.view", "dashboard.*", "")
	f.role(t, "dashboard_viewer", []string{"dash.view"})
	f.assign(t, "alice", "dashboard_viewer", "")

	dec := f.check("alice", "dashboard.view", "dashboard.summary")
	assert.True(t, dec.Allowed)
	assert.Equal(t, EffectAllow, dec.Effect)
	assert.Equal(t, ReasonAllowed, dec.Reason)
	assert.Contains(t, dec.Note, "dashboard_viewer")

	dec = f.check("alice", "dashboard.edit", "dashboard.summary")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonNoMatchingPermission, dec.Reason)
}

func TestScenarioB_DenyOverridesAllow(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.permission(t, "dash.view", "dashboard.view", "dashboard.*", "")
	f.role(t, "dashboard_viewer", []string{"dash.view"})
	f.assign(t, "alice", "dashboard_viewer", "")

	_, err := f.manager.CreateDeny(context.Background(), DenyAssignment{
		ID:        "no-summary",
		Principal: Principal{Type: PrincipalUser, ID: "alice"},
		Action:    "dashboard.view",
		Resource:  "dashboard.summary",
		Reason:    "contains unreleased numbers",
	})
	require.NoError(t, err)

	dec := f.check("alice", "dashboard.view", "dashboard.summary")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonExplicitDeny, dec.Reason)
	assert.Contains(t, dec.Note, "no-summary")

	// other dashboards are unaffected
	assert.True(t, f.check("alice", "dashboard.view", "dashboard.revenue").Allowed)
}

func TestScenarioC_SubjectAttributeCondition(t *testing.T) {
	f := newFixture(t)
	f.user(t, "eu-analyst", map[string]any{"region": "EU"})
	f.user(t, "us-analyst", map[string]any{"region": "US"})
	f.resource(t, "table.sales", "", map[string]any{"region": "US"})
	f.permission(t, "sales.read", "data.read", "table.sales", `{"region": {"$op": "eq", "value": "user_attr:region"}}`)
	f.role(t, "analyst", []string{"sales.read"})
	f.assign(t, "eu-analyst", "analyst", "")
	f.assign(t, "us-analyst", "analyst", "")

	dec := f.check("eu-analyst", "data.read", "table.sales")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonConditionNotMet, dec.Reason)

	dec = f.check("us-analyst", "data.read", "table.sales")
	assert.True(t, dec.Allowed)
}

func TestScenarioD_RoleInheritance(t *testing.T) {
	f := newFixture(t)
	f.user(t, "dana", nil)
	f.permission(t, "pipeline.run", "pipeline.run", "pipeline.*", "")
	f.role(t, "data_engineer", []string{"pipeline.run"}, RoleViewer)
	f.assign(t, "dana", "data_engineer", "")

	g := f.manager.Snapshot().Graph
	assert.ElementsMatch(t, []string{"data_engineer", RoleViewer}, g.ExpandRoles([]string{"data_engineer"}))
	assert.Equal(t, []string{RoleViewer}, g.Ancestors("data_engineer"))

	// own permission and the inherited viewer permission both apply
	assert.True(t, f.check("dana", "pipeline.run", "pipeline.nightly").Allowed)
	assert.True(t, f.check("dana", "dashboard.view", "dashboard.summary").Allowed)
	assert.False(t, f.check("dana", "dashboard.edit", "dashboard.summary").Allowed)
}

func TestExpandRolesIdempotent(t *testing.T) {
	f := newFixture(t)
	f.role(t, "a", nil)
	f.role(t, "b", nil, "a")
	f.role(t, "c", nil, "a")
	f.role(t, "d", nil, "b", "c")

	g := f.manager.Snapshot().Graph
	once := g.ExpandRoles([]string{"d"})
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, once)
	assert.ElementsMatch(t, once, g.ExpandRoles(once))
	assert.Empty(t, g.ExpandRoles([]string{"missing"}))
}

func TestResourceInheritance(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.resource(t, "server.prod", "", nil)
	f.resource(t, "database.sales", "server.prod", nil)
	f.resource(t, "table.orders", "database.sales", nil)
	f.resource(t, "database.hr", "server.prod", nil)
	f.resource(t, "table.salaries", "database.hr", nil)
	f.permission(t, "read.any", "data.read", "*", "")
	f.role(t, "reader", []string{"read.any"})
	f.assign(t, "alice", "reader", "server.prod")

	assert.True(t, f.check("alice", "data.read", "table.orders").Allowed, "grant on server flows to tables")
	assert.True(t, f.check("alice", "data.read", "table.salaries").Allowed)

	_, err := f.manager.UpdateResource(context.Background(), "database.hr", ResourceUpdate{BlockInheritance: boolPtr(true)})
	require.NoError(t, err)

	dec := f.check("alice", "data.read", "table.salaries")
	assert.False(t, dec.Allowed, "block_inheritance stops grants from above")
	assert.Equal(t, ReasonNoMatchingPermission, dec.Reason)
	assert.True(t, f.check("alice", "data.read", "table.orders").Allowed)

	// a grant below the block still applies
	f.assign(t, "alice", "reader", "database.hr")
	assert.True(t, f.check("alice", "data.read", "table.salaries").Allowed)
}

func TestDenyIsNeverBlocked(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.resource(t, "server.prod", "", nil)
	f.resource(t, "database.hr", "server.prod", map[string]any{})
	f.resource(t, "table.salaries", "database.hr", nil)
	_, err := f.manager.UpdateResource(context.Background(), "database.hr", ResourceUpdate{BlockInheritance: boolPtr(true)})
	require.NoError(t, err)
	f.permission(t, "read.any", "data.read", "*", "")
	f.role(t, "reader", []string{"read.any"})
	f.assign(t, "alice", "reader", "table.salaries")

	require.True(t, f.check("alice", "data.read", "table.salaries").Allowed)

	_, err = f.manager.CreateDeny(context.Background(), DenyAssignment{
		ID:        "prod-freeze",
		Principal: Principal{Type: PrincipalUser, ID: "alice"},
		Action:    "data.*",
		Resource:  "server.prod",
	})
	require.NoError(t, err)

	dec := f.check("alice", "data.read", "table.salaries")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonExplicitDeny, dec.Reason)
}

func TestGroupAssignmentsAndDenies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "alice", nil)
	f.user(t, "bob", nil)
	_, err := f.manager.CreateGroup(ctx, Group{ID: "analysts", Name: "Analysts", MemberIDs: []string{"alice"}})
	require.NoError(t, err)
	f.permission(t, "dash.view", "dashboard.view", "dashboard.*", "")
	f.role(t, "dashboard_viewer", []string{"dash.view"})
	_, err = f.manager.AssignRole(ctx, AssignRoleInput{Principal: Principal{Type: PrincipalGroup, ID: "analysts"}, RoleID: "dashboard_viewer"})
	require.NoError(t, err)

	assert.True(t, f.check("alice", "dashboard.view", "dashboard.summary").Allowed)
	assert.False(t, f.check("bob", "dashboard.view", "dashboard.summary").Allowed)

	require.NoError(t, f.manager.AddGroupMember(ctx, "analysts", "bob"))
	assert.True(t, f.check("bob", "dashboard.view", "dashboard.summary").Allowed)

	_, err = f.manager.CreateDeny(ctx, DenyAssignment{
		ID:        "group-block",
		Principal: Principal{Type: PrincipalGroup, ID: "analysts"},
		Action:    "*",
		Resource:  "dashboard.summary",
	})
	require.NoError(t, err)
	assert.False(t, f.check("bob", "dashboard.view", "dashboard.summary").Allowed)
}

func TestUnknownAndInactivePrincipals(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.assign(t, "alice", RoleAdmin, "")

	assert.True(t, f.check("alice", "anything.do", "anything").Allowed)

	dec := f.check("nobody", "anything.do", "anything")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonUnknownPrincipal, dec.Reason)

	_, err := f.manager.DeactivateUser(context.Background(), "alice")
	require.NoError(t, err)
	dec = f.check("alice", "anything.do", "anything")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonPrincipalInactive, dec.Reason)
}

func TestMalformedStoredConditionNeverAllows(t *testing.T) {
	m := NewModel()
	m.Users["alice"] = User{ID: "alice", IsActive: true}
	m.Permissions["broken"] = Permission{ID: "broken", Action: "data.read", Resource: "*", Conditions: json.RawMessage(`{"region": {"op": "nope", "value": 1}}`)}
	m.Roles["reader"] = Role{ID: "reader", Name: "reader", PermissionIDs: []string{"broken"}}
	m.Assignments["a1"] = RoleAssignment{ID: "a1", Principal: Principal{Type: PrincipalUser, ID: "alice"}, RoleID: "reader"}

	sink := &recordingSink{}
	e := NewEngine(NewStaticSource(m), sink, WithLogger(quietLog()))

	var dec Decision
	require.NotPanics(t, func() {
		dec = e.Check(context.Background(), CheckRequest{UserID: "alice", Action: "data.read", Resource: "table.sales"})
	})
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonConditionError, dec.Reason)
}

func TestPermissionWithoutConditionsAlwaysApplies(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.permission(t, "read.any", "data.read", "*", "")
	f.role(t, "reader", []string{"read.any"})
	f.assign(t, "alice", "reader", "")

	dec := f.engine.Check(context.Background(), CheckRequest{
		UserID:      "alice",
		Action:      "data.read",
		Resource:    "table.sales",
		Environment: map[string]any{"ip": "10.0.0.1"},
		Subject:     map[string]any{"clearance": 0},
	})
	assert.True(t, dec.Allowed)
}

func TestReadsAfterWritesAreNotStale(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.permission(t, "read.any", "data.read", "*", "")
	f.role(t, "reader", []string{"read.any"})
	a := f.assign(t, "alice", "reader", "")

	first := f.check("alice", "data.read", "table.sales")
	require.True(t, first.Allowed)
	assert.False(t, first.Cached)

	second := f.check("alice", "data.read", "table.sales")
	assert.True(t, second.Allowed)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Version, second.Version)

	require.NoError(t, f.manager.RevokeAssignment(context.Background(), a.ID))

	third := f.check("alice", "data.read", "table.sales")
	assert.False(t, third.Allowed)
	assert.False(t, third.Cached)
	assert.Greater(t, third.Version, first.Version)
}

func TestExpiringAssignmentIsNotCached(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.permission(t, "read.any", "data.read", "*", "")
	f.role(t, "reader", []string{"read.any"})
	expires := f.clock.Now().Add(time.Hour)
	_, err := f.manager.AssignRole(context.Background(), AssignRoleInput{
		Principal: Principal{Type: PrincipalUser, ID: "alice"},
		RoleID:    "reader",
		ExpiresAt: &expires,
	})
	require.NoError(t, err)

	require.True(t, f.check("alice", "data.read", "table.sales").Allowed)
	assert.False(t, f.check("alice", "data.read", "table.sales").Cached)

	f.clock.Advance(2 * time.Hour)
	dec := f.check("alice", "data.read", "table.sales")
	assert.False(t, dec.Allowed, "expired assignments are ignored")
}

func TestDecisionsAreAudited(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.assign(t, "alice", RoleViewer, "")

	allowed := f.check("alice", "dashboard.view", "dashboard.summary")
	denied := f.check("alice", "dashboard.edit", "dashboard.summary")
	require.True(t, allowed.Allowed)
	require.False(t, denied.Allowed)

	f.sink.mu.Lock()
	direct := append([]*audit.AuditEvent(nil), f.sink.events...)
	f.sink.mu.Unlock()

	decisions := f.sink.ofType(audit.EventTypeAuthzDecision)
	require.Len(t, decisions, 2)
	require.Len(t, direct, 1, "allow records use the non-blocking enqueue")
	assert.Equal(t, audit.EventStatusSuccess, direct[0].Status)
	assert.Equal(t, allowed.CorrelationID, direct[0].CorrelationID)

	var deniedEvent *audit.AuditEvent
	for _, e := range decisions {
		if e.Status == audit.EventStatusDenied {
			deniedEvent = e
		}
	}
	require.NotNil(t, deniedEvent, "deny records go through the retrying enqueue")
	assert.Equal(t, "dashboard.edit", deniedEvent.Action)
	assert.Equal(t, ReasonNoMatchingPermission, deniedEvent.Metadata["reason"])
}

func TestAllowDowngradedWhenAuditFails(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.assign(t, "alice", RoleAdmin, "")
	f.sink.failEnqueue = true

	dec := f.check("alice", "data.drop", "table.sales")
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonAuditWriteFailure, dec.Reason)
	require.NotEmpty(t, dec.Trail)
	assert.Equal(t, StepAudit, dec.Trail[len(dec.Trail)-1].Step)

	f.sink.mu.Lock()
	retried := f.sink.retried
	f.sink.mu.Unlock()
	require.NotEmpty(t, retried)
	last := retried[len(retried)-1]
	assert.Equal(t, audit.EventStatusDenied, last.Status)
	assert.Equal(t, ReasonAuditWriteFailure, last.Metadata["reason"])
}

// brokenSource serves a snapshot without a graph so evaluation panics
type brokenSource struct{}

func (brokenSource) Snapshot() *Snapshot { return &Snapshot{} }

func TestPanicFailsClosed(t *testing.T) {
	sink := &recordingSink{}
	e := NewEngine(brokenSource{}, sink, WithLogger(quietLog()))

	var dec Decision
	require.NotPanics(t, func() {
		dec = e.Check(context.Background(), CheckRequest{UserID: "alice", Action: "data.read", Resource: "table.sales"})
	})
	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonEvaluationFailure, dec.Reason)

	failures := sink.ofType(audit.EventTypeAuthzEvaluationFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, audit.EventStatusFailure, failures[0].Status)
}

func TestCancelledCheckHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", nil)
	f.assign(t, "alice", RoleAdmin, "")
	before := len(f.sink.ofType(audit.EventTypeAuthzDecision))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dec := f.engine.Check(ctx, CheckRequest{UserID: "alice", Action: "data.read", Resource: "table.sales"})

	assert.False(t, dec.Allowed)
	assert.Equal(t, ReasonCancelled, dec.Reason)
	assert.Len(t, f.sink.ofType(audit.EventTypeAuthzDecision), before)
}

func boolPtr(b bool) *bool { return &b }
