package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/contextkeys"
	"github.com/platinummonkey/datawave/pkg/observability"
)

// ManagerConfig configures a Manager
type ManagerConfig struct {
	Store       Store
	Sink        AuditSink
	Invalidator Invalidator
	Logger      *logrus.Logger
	Metrics     *observability.Metrics

	// AccessRequestTTL is how long a request may stay pending (default 72h)
	AccessRequestTTL time.Duration
	// StaleAfter flags assignments older than this in access reviews
	// (default 90 days)
	StaleAfter time.Duration
	// StoreRetries bounds retries of a failed Store.Apply (default 3)
	StoreRetries uint64

	Clock func() time.Time
}

// Manager is the single writer of the policy model. Every mutation clones
// the model, validates, persists, then publishes a new snapshot. Readers use
// Snapshot and never take the lock.
type Manager struct {
	mu      sync.Mutex
	model   *Model
	version uint64
	current atomic.Pointer[Snapshot]

	store       Store
	sink        AuditSink
	invalidator Invalidator
	log         *logrus.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	requestTTL   time.Duration
	staleAfter   time.Duration
	storeRetries uint64

	reloads singleflight.Group
}

// NewManager loads the model from the store and publishes the first snapshot
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Invalidator == nil {
		cfg.Invalidator = NoopInvalidator{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.AccessRequestTTL <= 0 {
		cfg.AccessRequestTTL = 72 * time.Hour
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 90 * 24 * time.Hour
	}
	if cfg.StoreRetries == 0 {
		cfg.StoreRetries = 3
	}

	m := &Manager{
		store:        cfg.Store,
		sink:         cfg.Sink,
		invalidator:  cfg.Invalidator,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		now:          cfg.Clock,
		requestTTL:   cfg.AccessRequestTTL,
		staleAfter:   cfg.StaleAfter,
		storeRetries: cfg.StoreRetries,
	}

	model, err := m.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy model: %w", err)
	}
	m.mu.Lock()
	m.publish(model, true)
	m.mu.Unlock()
	return m, nil
}

// Snapshot returns the current immutable snapshot
func (m *Manager) Snapshot() *Snapshot {
	return m.current.Load()
}

// Version returns the current snapshot version
func (m *Manager) Version() uint64 {
	return m.Snapshot().Graph.Version()
}

// publish installs model and a snapshot of it. recompile is false when only
// workflow state changed, in which case the graph and its version are kept
// so decision caches stay warm. Caller holds mu.
func (m *Manager) publish(model *Model, recompile bool) {
	m.model = model
	var g *Graph
	if cur := m.current.Load(); cur != nil && !recompile {
		g = cur.Graph
	} else {
		m.version++
		g = Compile(model, m.version)
	}
	m.current.Store(newSnapshot(model, g))
	m.metrics.SetSnapshotVersion(g.Version())
}

// Reload rebuilds the snapshot from the store. Concurrent calls share one
// load. mu is held across the load so a local commit cannot land between
// reading the store and publishing what was read.
func (m *Manager) Reload(ctx context.Context) error {
	_, err, _ := m.reloads.Do("reload", func() (interface{}, error) {
		m.mu.Lock()
		model, err := m.store.Load(ctx)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("failed to reload policy model: %w", err)
		}
		m.publish(model, true)
		version := m.version
		m.mu.Unlock()
		m.log.WithField("version", version).Info("policy snapshot reloaded")
		return nil, nil
	})
	return err
}

// txn collects the changes and audit events of one mutation. put and drop
// keep the working model and the change list in step.
type txn struct {
	ctx     context.Context
	model   *Model
	now     time.Time
	actor   string
	changes []Change
	events  []*audit.AuditEvent
	err     error
}

func (t *txn) put(kind EntityKind, id string, v any) {
	t.apply(upsert(kind, id, v))
}

func (t *txn) drop(kind EntityKind, id string) {
	t.apply(remove(kind, id))
}

func (t *txn) apply(c Change) {
	if t.err != nil {
		return
	}
	if err := applyToModel(t.model, []Change{c}); err != nil {
		t.err = err
		return
	}
	t.changes = append(t.changes, c)
}

// audit records a mutation event emitted after the commit is published
func (t *txn) audit(eventType audit.EventType, targetType audit.TargetType, targetID string, before, after interface{}) *audit.AuditEvent {
	event := audit.NewMutationEvent(t.ctx, eventType, targetType, targetID, before, after)
	t.events = append(t.events, event)
	return event
}

// commit runs fn on a copy of the model under the write lock, persists its
// changes with bounded retries and publishes the result. Nothing is
// published or persisted when fn fails.
func (m *Manager) commit(ctx context.Context, op string, fn func(t *txn) error) error {
	m.mu.Lock()

	t := &txn{
		ctx:   ctx,
		model: m.model.Clone(),
		now:   m.now().UTC(),
		actor: contextkeys.GetActorID(ctx),
	}
	if err := fn(t); err != nil {
		m.mu.Unlock()
		m.metrics.RecordMutation(op, false)
		return err
	}
	if t.err != nil {
		m.mu.Unlock()
		m.metrics.RecordMutation(op, false)
		return fmt.Errorf("failed to stage %s: %w", op, t.err)
	}
	if len(t.changes) == 0 {
		version := m.version
		m.mu.Unlock()
		m.emit(t.events, version)
		return nil
	}

	if err := m.persist(ctx, t.changes); err != nil {
		m.mu.Unlock()
		m.metrics.RecordMutation(op, false)
		m.log.WithFields(logrus.Fields{
			"operation": op,
			"changes":   len(t.changes),
		}).WithError(err).Error("failed to persist policy mutation")
		return fmt.Errorf("failed to persist %s: %w", op, err)
	}

	m.publish(t.model, affectsGraph(t.changes))
	version := m.version
	m.mu.Unlock()

	m.metrics.RecordMutation(op, true)
	m.log.WithFields(logrus.Fields{
		"operation": op,
		"version":   version,
		"actor_id":  t.actor,
	}).Debug("policy mutation committed")

	m.emit(t.events, version)
	if err := m.invalidator.Publish(ctx, version); err != nil {
		m.log.WithError(err).WithField("version", version).Warn("failed to broadcast policy invalidation")
	}
	return nil
}

func (m *Manager) emit(events []*audit.AuditEvent, version uint64) {
	if m.sink == nil {
		return
	}
	for _, event := range events {
		event.Metadata["version"] = version
		m.sink.EnqueueWithRetry(event)
	}
}

func (m *Manager) persist(ctx context.Context, changes []Change) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	return backoff.Retry(func() error {
		err := m.store.Apply(ctx, changes)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, m.storeRetries), ctx))
}

// affectsGraph reports whether changes touch anything evaluation reads
func affectsGraph(changes []Change) bool {
	for _, c := range changes {
		if c.Kind != KindAccessRequest && c.Kind != KindTemplate {
			return true
		}
	}
	return false
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
