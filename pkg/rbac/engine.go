package rbac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/datawave/pkg/abac"
	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/contextkeys"
	"github.com/platinummonkey/datawave/pkg/observability"
)

// AuditSink accepts audit events without blocking the caller
type AuditSink interface {
	// Enqueue fails when the event cannot be accepted right now.
	Enqueue(event *audit.AuditEvent) error
	// EnqueueWithRetry keeps trying in the background with bounded backoff.
	EnqueueWithRetry(event *audit.AuditEvent)
}

// Checker is the read side used by handlers and middleware
type Checker interface {
	Check(ctx context.Context, req CheckRequest) Decision
	EffectivePermissions(ctx context.Context, userID, resource string) ([]EffectivePermissionV2, error)
}

// Engine evaluates checks against the current snapshot. It never blocks on
// writers and never returns an error from Check.
type Engine struct {
	source  SnapshotSource
	sink    AuditSink
	log     *logrus.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	timeout time.Duration
	now     func() time.Time

	decisions *lru.LRU[string, Decision]
	effective *lru.LRU[string, []EffectivePermissionV2]
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the operational logger
func WithLogger(log *logrus.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetrics enables prometheus instrumentation
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEvaluationTimeout bounds a single check
func WithEvaluationTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithCache sizes the decision and effective-permission caches. A size of
// zero disables caching.
func WithCache(size int, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		if size <= 0 {
			e.decisions, e.effective = nil, nil
			return
		}
		e.decisions = lru.NewLRU[string, Decision](size, nil, ttl)
		e.effective = lru.NewLRU[string, []EffectivePermissionV2](size, nil, ttl)
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reading snapshots from source
func NewEngine(source SnapshotSource, sink AuditSink, opts ...EngineOption) *Engine {
	e := &Engine{
		source:    source,
		sink:      sink,
		log:       logrus.New(),
		tracer:    otel.Tracer("github.com/platinummonkey/datawave/pkg/rbac"),
		timeout:   50 * time.Millisecond,
		now:       time.Now,
		decisions: lru.NewLRU[string, Decision](10000, nil, 5*time.Minute),
		effective: lru.NewLRU[string, []EffectivePermissionV2](10000, nil, 5*time.Minute),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check evaluates req and records the decision. Any internal failure yields a
// deny. A caller-cancelled context yields a deny with reason cancelled and no
// audit record.
func (e *Engine) Check(ctx context.Context, req CheckRequest) (dec Decision) {
	start := e.now()
	if req.CorrelationID == "" {
		req.CorrelationID = contextkeys.GetRequestID(ctx)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	ctx, span := e.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("authz.user_id", req.UserID),
		attribute.String("authz.action", req.Action),
		attribute.String("authz.resource", req.Resource),
	))
	defer span.End()

	var version uint64
	defer func() {
		if r := recover(); r != nil {
			e.log.WithFields(logrus.Fields{
				"user_id":        req.UserID,
				"action":         req.Action,
				"resource":       req.Resource,
				"correlation_id": req.CorrelationID,
			}).Errorf("panic during authorization check: %v\n%s", r, debug.Stack())
			dec = e.failClosed(req, version, start, ReasonEvaluationFailure, fmt.Sprintf("internal error: %v", r))
			e.record(ctx, req, &dec, true)
		}
		span.SetAttributes(attribute.Bool("authz.allowed", dec.Allowed), attribute.String("authz.reason", dec.Reason))
		if !dec.Allowed && dec.Reason == ReasonEvaluationFailure {
			span.SetStatus(codes.Error, dec.Note)
		}
		e.metrics.RecordDecision(string(dec.Effect), dec.Reason, dec.Cached, e.now().Sub(start))
	}()

	if errors.Is(ctx.Err(), context.Canceled) {
		return e.cancelled(req, start)
	}

	snap := e.source.Snapshot()
	version = snap.Graph.Version()

	key, cacheable := decisionKey(version, req)
	if cacheable && e.decisions != nil {
		if cached, ok := e.decisions.Get(key); ok {
			e.metrics.RecordCacheLookup("decision", true)
			dec = cached.clone()
			dec.Cached = true
			dec.CorrelationID = req.CorrelationID
			dec.EvaluatedAt = start
			dec.Duration = e.now().Sub(start)
			e.record(ctx, req, &dec, false)
			return dec
		}
		e.metrics.RecordCacheLookup("decision", false)
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	dec, err := e.evaluate(evalCtx, snap.Graph, req, start)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return e.cancelled(req, start)
		}
		reason := ReasonEvaluationFailure
		if errors.Is(err, ErrEvaluationTimeout) || errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonEvaluationTimeout
		}
		e.log.WithFields(logrus.Fields{
			"user_id":        req.UserID,
			"action":         req.Action,
			"resource":       req.Resource,
			"correlation_id": req.CorrelationID,
		}).WithError(err).Warn("authorization check failed closed")
		dec = e.failClosed(req, version, start, reason, err.Error())
		e.record(ctx, req, &dec, true)
		return dec
	}

	dec.Version = version
	dec.CorrelationID = req.CorrelationID
	dec.EvaluatedAt = start
	dec.Duration = e.now().Sub(start)
	if cacheable && e.decisions != nil && !dec.volatile {
		e.decisions.Add(key, dec.clone())
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return e.cancelled(req, start)
	}
	e.record(ctx, req, &dec, false)
	return dec
}

// evaluate runs resolve, expand, aggregate, conditions and the deny overlay.
// It returns an error only for deadline or cancellation.
func (e *Engine) evaluate(ctx context.Context, g *Graph, req CheckRequest, now time.Time) (Decision, error) {
	user, ok := g.User(req.UserID)
	if !ok {
		return deny(ReasonUnknownPrincipal, fmt.Sprintf("unknown user %q", req.UserID), nil), nil
	}
	if !user.IsActive {
		return deny(ReasonPrincipalInactive, fmt.Sprintf("user %q is deactivated", req.UserID), nil), nil
	}
	if req.Action == "" || req.Resource == "" {
		return deny(ReasonNoMatchingPermission, "action and resource are required", nil), nil
	}

	w := g.resourceWindow(req.Resource)
	rc := g.requestContext(user, req)

	var trail []TrailEntry
	volatile := false
	assigned := g.resolvePrincipal(user.ID, now, w.allow)
	for _, a := range assigned {
		if a.expiresAt != nil {
			volatile = true
		}
		trail = append(trail, TrailEntry{
			Step:         StepResolve,
			Outcome:      OutcomeAssigned,
			RoleID:       a.roleID,
			AssignmentID: a.assignmentID,
			Principal:    a.principal.String(),
			Scope:        a.scope,
		})
	}

	finish := func(d Decision) (Decision, error) {
		d.volatile = volatile
		return d, nil
	}

	var applicable *grant
	var sawConditionErr, sawConditionMiss bool
	for _, gr := range g.aggregate(assigned, w.allow) {
		if !MatchPattern(gr.perm.Action, req.Action) {
			continue
		}
		entry := TrailEntry{
			Step:         StepPermission,
			PermissionID: gr.perm.ID,
			RoleID:       gr.roleIDs[0],
			AssignmentID: gr.assignment.assignmentID,
			Scope:        gr.assignment.scope,
			Resource:     gr.matched,
		}
		if gr.perm.exprErr != nil {
			sawConditionErr = true
			entry.Outcome = OutcomeConditionErr
			entry.Detail = gr.perm.exprErr.Error()
			trail = append(trail, entry)
			continue
		}
		entry.Condition = gr.perm.expr.String()

		holds, err := gr.perm.expr.Evaluate(ctx, rc)
		if err != nil {
			return Decision{}, err
		}
		if !holds {
			sawConditionMiss = true
			entry.Outcome = OutcomeNotApplicable
			trail = append(trail, entry)
			continue
		}
		entry.Outcome = OutcomeApplicable
		trail = append(trail, entry)
		if applicable == nil {
			applicable = gr
		}
	}

	if applicable == nil {
		switch {
		case sawConditionErr:
			return finish(deny(ReasonConditionError, "a matching permission has a condition that could not be evaluated", trail))
		case sawConditionMiss:
			return finish(deny(ReasonConditionNotMet, "matching permissions exist but their conditions are not met", trail))
		default:
			return finish(deny(ReasonNoMatchingPermission, fmt.Sprintf("no permission grants %s on %s", req.Action, req.Resource), trail))
		}
	}

	match, denyTrail, err := g.matchDeny(ctx, user.ID, req.Action, w.deny, rc)
	if err != nil {
		return Decision{}, err
	}
	trail = append(trail, denyTrail...)
	if match != nil {
		note := fmt.Sprintf("denied by deny assignment %s on %s", match.deny.ID, match.resource)
		if match.deny.Reason != "" {
			note += ": " + match.deny.Reason
		}
		return finish(deny(ReasonExplicitDeny, note, trail))
	}

	note := fmt.Sprintf("granted via role %s (permission %s on %s)", strings.Join(applicable.roleIDs, ", "), applicable.perm.ID, applicable.perm.Resource)
	if applicable.matched != req.Resource {
		note += ", inherited from " + applicable.matched
	}
	return finish(allow(ReasonAllowed, note, trail))
}

// requestContext assembles the explicit ABAC context for a check
func (g *Graph) requestContext(user *User, req CheckRequest) *abac.Context {
	subject := abac.Attributes{}
	for k, v := range req.Subject {
		subject[k] = v
	}
	for k, v := range user.SubjectAttributes() {
		subject[k] = v
	}
	subject["groups"] = g.GroupsOf(user.ID)

	resource := abac.Attributes{}
	for k, v := range req.ResourceAttributes {
		resource[k] = v
	}
	if node, ok := g.Resource(req.Resource); ok {
		for k, v := range node.Attributes {
			resource[k] = v
		}
		resource["type"] = node.Type
		resource["name"] = node.Name
	}
	resource["id"] = req.Resource

	env := abac.Attributes{}
	for k, v := range req.Environment {
		env[k] = v
	}
	env["action"] = req.Action

	return &abac.Context{Subject: subject, Resource: resource, Environment: env}
}

// record emits the decision to the audit sink. An allow whose record cannot be
// enqueued becomes a deny; a deny record is retried in the background.
func (e *Engine) record(ctx context.Context, req CheckRequest, dec *Decision, failure bool) {
	if e.sink == nil {
		return
	}
	event := decisionEvent(ctx, req, dec, failure)
	if !dec.Allowed {
		e.sink.EnqueueWithRetry(event)
		return
	}
	if err := e.sink.Enqueue(event); err != nil {
		e.log.WithFields(logrus.Fields{
			"user_id":        req.UserID,
			"action":         req.Action,
			"resource":       req.Resource,
			"correlation_id": req.CorrelationID,
		}).WithError(err).Warn("audit record for allow decision could not be enqueued, denying")
		dec.Allowed = false
		dec.Effect = EffectDeny
		dec.Reason = ReasonAuditWriteFailure
		dec.Note = "access denied because the decision could not be audited"
		dec.Trail = append(dec.Trail, TrailEntry{Step: StepAudit, Outcome: OutcomeFailed, Detail: err.Error()})
		e.sink.EnqueueWithRetry(decisionEvent(ctx, req, dec, false))
	}
}

func decisionEvent(ctx context.Context, req CheckRequest, dec *Decision, failure bool) *audit.AuditEvent {
	eventType := audit.EventTypeAuthzDecision
	status := audit.EventStatusSuccess
	if !dec.Allowed {
		status = audit.EventStatusDenied
	}
	if failure {
		eventType = audit.EventTypeAuthzEvaluationFailure
		status = audit.EventStatusFailure
	}

	event := audit.NewEvent(ctx, eventType, status)
	event.ActorID = req.UserID
	event.Action = req.Action
	event.Resource = req.Resource
	event.TargetType = audit.TargetResource
	event.TargetID = req.Resource
	event.CorrelationID = req.CorrelationID
	event.Message = dec.Note
	if failure {
		event.ErrorMessage = dec.Note
	}
	event.Metadata["effect"] = string(dec.Effect)
	event.Metadata["reason"] = dec.Reason
	event.Metadata["version"] = dec.Version
	event.Metadata["cached"] = dec.Cached
	event.Metadata["trail"] = dec.Trail
	return event
}

func (e *Engine) failClosed(req CheckRequest, version uint64, start time.Time, reason, detail string) Decision {
	dec := deny(reason, "access denied: authorization could not be evaluated", []TrailEntry{
		{Step: StepFailure, Outcome: OutcomeFailed, Detail: detail},
	})
	dec.Version = version
	dec.CorrelationID = req.CorrelationID
	dec.EvaluatedAt = start
	dec.Duration = e.now().Sub(start)
	return dec
}

func (e *Engine) cancelled(req CheckRequest, start time.Time) Decision {
	dec := deny(ReasonCancelled, "request cancelled", nil)
	dec.CorrelationID = req.CorrelationID
	dec.EvaluatedAt = start
	return dec
}

// decisionKey derives the cache key. Requests whose attributes cannot be
// encoded are not cached.
func decisionKey(version uint64, req CheckRequest) (string, bool) {
	raw, err := json.Marshal(struct {
		V uint64         `json:"v"`
		U string         `json:"u"`
		A string         `json:"a"`
		T string         `json:"t"`
		S map[string]any `json:"s,omitempty"`
		R map[string]any `json:"r,omitempty"`
		E map[string]any `json:"e,omitempty"`
	}{version, req.UserID, req.Action, req.Resource, req.Subject, req.ResourceAttributes, req.Environment})
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), true
}
