package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/observability"
)

func TestNewScheduler_RejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	_, err := NewScheduler(f.manager, SchedulerConfig{ExpirySpec: "every now and then", Logger: quietLog()})
	assert.Error(t, err)
}

func TestScheduler_RunExpiry(t *testing.T) {
	f := workflowFixture(t)
	r := f.request(t)

	s, err := NewScheduler(f.manager, SchedulerConfig{Logger: quietLog()})
	require.NoError(t, err)

	require.NoError(t, s.RunExpiry(context.Background()))
	stored, _ := f.manager.Snapshot().AccessRequest(r.ID)
	assert.Equal(t, RequestPending, stored.Status)

	f.clock.Advance(72 * time.Hour)
	require.NoError(t, s.RunExpiry(context.Background()))
	stored, _ = f.manager.Snapshot().AccessRequest(r.ID)
	assert.Equal(t, RequestExpired, stored.Status)
}

func TestScheduler_RunReview(t *testing.T) {
	f := workflowFixture(t)
	exp := f.clock.Now().Add(time.Minute)
	a, err := f.manager.AssignRole(context.Background(), AssignRoleInput{
		Principal: Principal{Type: PrincipalUser, ID: "alice"},
		RoleID:    "analyst",
		ExpiresAt: &exp,
	})
	require.NoError(t, err)

	s, err := NewScheduler(f.manager, SchedulerConfig{Logger: quietLog()})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, s.RunReview(context.Background()))
	_, ok := f.manager.Snapshot().Graph.Assignment(a.ID)
	assert.False(t, ok)
	assert.Len(t, f.sink.ofType(audit.EventTypeAccessReview), 1)
}

func TestScheduler_JobRecordsOutcome(t *testing.T) {
	f := newFixture(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s, err := NewScheduler(f.manager, SchedulerConfig{Logger: quietLog(), Metrics: metrics})
	require.NoError(t, err)

	s.job("ok", func(context.Context) error { return nil })()
	s.job("broken", func(context.Context) error { return errors.New("boom") })()
	assert.NotPanics(t, s.job("broken", func(context.Context) error { panic("boom") }))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("ok", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("broken", "failure")))
}

func TestScheduler_JobHonorsTimeout(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.manager, SchedulerConfig{Logger: quietLog(), JobTimeout: 10 * time.Millisecond})
	require.NoError(t, err)

	var deadline bool
	s.job("slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadline = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return ctx.Err()
	})()
	assert.True(t, deadline)
}

func TestScheduler_StartStop(t *testing.T) {
	f := newFixture(t)
	s, err := NewScheduler(f.manager, SchedulerConfig{Logger: quietLog()})
	require.NoError(t, err)

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
