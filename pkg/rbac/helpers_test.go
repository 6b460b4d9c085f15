package rbac

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/contextkeys"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// recordingSink keeps every event. With failEnqueue set, Enqueue rejects
// events the way a full queue would.
type recordingSink struct {
	mu          sync.Mutex
	events      []*audit.AuditEvent
	retried     []*audit.AuditEvent
	failEnqueue bool
}

func (s *recordingSink) Enqueue(event *audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEnqueue {
		return audit.ErrAuditWriteFailure
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) EnqueueWithRetry(event *audit.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retried = append(s.retried, event)
}

// all returns every accepted event in order, direct and retried
func (s *recordingSink) all() []*audit.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(append([]*audit.AuditEvent(nil), s.events...), s.retried...)
}

func (s *recordingSink) ofType(t audit.EventType) []*audit.AuditEvent {
	var out []*audit.AuditEvent
	for _, e := range s.all() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	manager *Manager
	store   *MemoryStore
	sink    *recordingSink
	clock   *testClock
	engine  *Engine
}

// newFixture returns a manager with built-ins over a memory store plus an
// engine reading from it
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: NewMemoryStore(),
		sink:  &recordingSink{},
		clock: newTestClock(),
	}
	m, err := NewManager(context.Background(), ManagerConfig{
		Store:  f.store,
		Sink:   f.sink,
		Logger: quietLog(),
		Clock:  f.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, m.EnsureBuiltIns(context.Background()))
	f.manager = m
	f.engine = NewEngine(m, f.sink, WithLogger(quietLog()), WithClock(f.clock.Now), WithEvaluationTimeout(time.Second))
	return f
}

func asActor(actor string) context.Context {
	return contextkeys.WithActorID(context.Background(), actor)
}

func (f *fixture) user(t *testing.T, id string, attrs map[string]any) User {
	t.Helper()
	u, err := f.manager.CreateUser(context.Background(), User{ID: id, Email: id + "@example.com", Attributes: attrs})
	require.NoError(t, err)
	return u
}

func (f *fixture) permission(t *testing.T, id, action, resource, conditions string) {
	t.Helper()
	p := Permission{ID: id, Action: action, Resource: resource}
	if conditions != "" {
		p.Conditions = json.RawMessage(conditions)
	}
	_, err := f.manager.CreatePermission(context.Background(), p)
	require.NoError(t, err)
}

func (f *fixture) role(t *testing.T, id string, perms []string, parents ...string) {
	t.Helper()
	_, err := f.manager.CreateRole(context.Background(), Role{ID: id, Name: id, PermissionIDs: perms, ParentIDs: parents})
	require.NoError(t, err)
}

func (f *fixture) resource(t *testing.T, id, parent string, attrs map[string]any) {
	t.Helper()
	_, err := f.manager.CreateResource(context.Background(), ResourceNode{ID: id, Type: "test", ParentID: parent, Attributes: attrs})
	require.NoError(t, err)
}

func (f *fixture) assign(t *testing.T, userID, roleID, resourceID string) RoleAssignment {
	t.Helper()
	a, err := f.manager.AssignRole(context.Background(), AssignRoleInput{
		Principal:  Principal{Type: PrincipalUser, ID: userID},
		RoleID:     roleID,
		ResourceID: resourceID,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) check(userID, action, resource string) Decision {
	return f.engine.Check(context.Background(), CheckRequest{UserID: userID, Action: action, Resource: resource})
}
