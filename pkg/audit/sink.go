package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrSinkClosed is returned by Enqueue after Close
var ErrSinkClosed = errors.New("audit sink closed")

// SinkMetrics receives sink instrumentation. *observability.Metrics
// implements it.
type SinkMetrics interface {
	SetAuditQueueDepth(depth int)
	RecordAuditDropped(reason string)
	RecordAuditWrite(success bool)
}

// SinkConfig configures a Sink
type SinkConfig struct {
	QueueSize int // bounded queue capacity (default 10000)
	Workers   int // goroutines draining the queue (default 4)

	// Write retries through the breaker
	MaxRetries     uint64        // default 3
	InitialBackoff time.Duration // default 50ms
	MaxBackoff     time.Duration // default 2s

	// EnqueueWithRetry gives up after this long (default 30s)
	RetryWindow time.Duration

	// Breaker opens after this many consecutive failed writes (default 5)
	BreakerFailures uint32
	// and stays open this long before probing again (default 30s)
	BreakerTimeout time.Duration

	Metrics SinkMetrics
}

func (c *SinkConfig) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 10000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.RetryWindow <= 0 {
		c.RetryWindow = 30 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Sink is the asynchronous, non-blocking front of a Logger
type Sink struct {
	logger  Logger
	cfg     SinkConfig
	log     *logrus.Logger
	breaker *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	closing bool // Close has started; no new background retries
	closed  bool
	queue   chan *AuditEvent
	workers sync.WaitGroup
	retries sync.WaitGroup

	// stop cancels in-flight writes and background retries
	stop       context.Context
	cancelStop context.CancelFunc
}

// NewSink starts the workers draining into logger
func NewSink(logger Logger, cfg SinkConfig, log *logrus.Logger) *Sink {
	cfg.setDefaults()
	if log == nil {
		log = logrus.New()
	}

	s := &Sink{
		logger: logger,
		cfg:    cfg,
		log:    log,
		queue:  make(chan *AuditEvent, cfg.QueueSize),
	}
	s.stop, s.cancelStop = context.WithCancel(context.Background())

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-writer",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("audit circuit breaker state changed")
		},
	})

	for i := 0; i < cfg.Workers; i++ {
		s.workers.Add(1)
		go s.worker()
	}

	return s
}

// Enqueue hands event to the workers without blocking. It fails when the
// sink is closed, the breaker is open or the queue is full.
func (s *Sink) Enqueue(event *AuditEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("%w: %w", ErrAuditWriteFailure, ErrSinkClosed)
	}
	if s.breaker.State() == gobreaker.StateOpen {
		s.dropped("breaker_open")
		return fmt.Errorf("%w: audit store unavailable", ErrAuditWriteFailure)
	}

	select {
	case s.queue <- event:
		s.depth()
		return nil
	default:
		s.dropped("queue_full")
		return fmt.Errorf("%w: audit queue full", ErrAuditWriteFailure)
	}
}

// EnqueueWithRetry enqueues event, retrying in the background with bounded
// exponential backoff. Events still not accepted after the retry window are
// logged and dropped.
func (s *Sink) EnqueueWithRetry(event *AuditEvent) {
	err := s.Enqueue(event)
	if err == nil || errors.Is(err, ErrSinkClosed) {
		if err != nil {
			s.lost(event, err)
		}
		return
	}

	s.mu.RLock()
	if s.closing {
		s.mu.RUnlock()
		s.dropped("closing")
		s.lost(event, err)
		return
	}
	s.retries.Add(1)
	s.mu.RUnlock()

	go func() {
		defer s.retries.Done()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = s.cfg.InitialBackoff
		b.MaxInterval = s.cfg.MaxBackoff
		b.MaxElapsedTime = s.cfg.RetryWindow

		err := backoff.Retry(func() error {
			err := s.Enqueue(event)
			if errors.Is(err, ErrSinkClosed) {
				return backoff.Permanent(err)
			}
			return err
		}, backoff.WithContext(b, s.stop))
		if err != nil {
			s.lost(event, err)
		}
	}()
}

func (s *Sink) worker() {
	defer s.workers.Done()
	for event := range s.queue {
		s.depth()
		s.write(event)
	}
}

// write persists one event through the breaker with bounded retries
func (s *Sink) write(event *AuditEvent) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff

	err := backoff.Retry(func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.logger.Log(s.stop, event)
		})
		if errors.Is(err, gobreaker.ErrOpenState) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.cfg.MaxRetries), s.stop))

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAuditWrite(err == nil)
	}
	if err != nil {
		s.dropped("write_failed")
		s.lost(event, err)
	}
}

func (s *Sink) lost(event *AuditEvent, err error) {
	s.log.WithFields(logrus.Fields{
		"event_id":       event.ID,
		"event_type":     event.EventType,
		"correlation_id": event.CorrelationID,
		"actor_id":       event.ActorID,
	}).WithError(err).Error("audit event lost")
}

func (s *Sink) dropped(reason string) {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.RecordAuditDropped(reason)
	}
}

func (s *Sink) depth() {
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.SetAuditQueueDepth(len(s.queue))
	}
}

// Len reports the number of queued events
func (s *Sink) Len() int {
	return len(s.queue)
}

// Close stops accepting events and drains the queue. Background retries get
// until ctx is done to land; once ctx expires in-flight writes are cancelled.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	retriesDone := make(chan struct{})
	go func() {
		s.retries.Wait()
		close(retriesDone)
	}()
	select {
	case <-retriesDone:
	case <-ctx.Done():
		s.cancelStop()
		<-retriesDone
	}

	s.mu.Lock()
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		s.cancelStop()
		<-drained
		err = fmt.Errorf("audit sink drain interrupted: %w", ctx.Err())
	}
	s.cancelStop()

	if cerr := s.logger.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close audit logger: %w", cerr)
	}
	return err
}
