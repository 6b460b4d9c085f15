package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/datawave/pkg/observability"
)

// Invalidator tells other instances that the policy changed
type Invalidator interface {
	Publish(ctx context.Context, version uint64) error
}

// NoopInvalidator is used when Redis is not configured
type NoopInvalidator struct{}

// Publish does nothing
func (NoopInvalidator) Publish(context.Context, uint64) error { return nil }

// InvalidationMessage is the payload published after each commit
type InvalidationMessage struct {
	Version uint64 `json:"version"`
	Origin  string `json:"origin"`
}

// RedisInvalidator broadcasts commits over Redis pub/sub
type RedisInvalidator struct {
	client  *redis.Client
	channel string
	origin  string
	log     *logrus.Logger
	metrics *observability.Metrics
}

// NewRedisInvalidator creates an invalidator with a fresh origin id
func NewRedisInvalidator(client *redis.Client, channel string, log *logrus.Logger, metrics *observability.Metrics) *RedisInvalidator {
	if channel == "" {
		channel = "datawave:rbac:invalidate"
	}
	if log == nil {
		log = logrus.New()
	}
	return &RedisInvalidator{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
		metrics: metrics,
	}
}

// Origin identifies this instance in published messages
func (r *RedisInvalidator) Origin() string { return r.origin }

// Publish announces version with bounded retries
func (r *RedisInvalidator) Publish(ctx context.Context, version uint64) error {
	payload, err := json.Marshal(InvalidationMessage{Version: version, Origin: r.origin})
	if err != nil {
		return fmt.Errorf("failed to marshal invalidation: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 25 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	err = backoff.Retry(func() error {
		return r.client.Publish(ctx, r.channel, payload).Err()
	}, backoff.WithContext(backoff.WithMaxRetries(b, 3), ctx))

	r.metrics.RecordInvalidation("publish", err == nil)
	if err != nil {
		return fmt.Errorf("failed to publish invalidation: %w", err)
	}
	return nil
}

// Listen calls onRemote for every message published by another instance
// until ctx is done. Malformed messages are logged and skipped.
func (r *RedisInvalidator) Listen(ctx context.Context, onRemote func(context.Context, InvalidationMessage)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("invalidation subscription closed")
			}
			var m InvalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				r.log.WithError(err).WithField("payload", msg.Payload).Warn("malformed invalidation message")
				r.metrics.RecordInvalidation("receive", false)
				continue
			}
			if m.Origin == r.origin {
				continue
			}
			r.metrics.RecordInvalidation("receive", true)
			onRemote(ctx, m)
		}
	}
}
