package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/datawave/pkg/contextkeys"
)

// ErrAuditWriteFailure is returned when an audit record cannot be accepted
var ErrAuditWriteFailure = errors.New("audit write failure")

// Logger is the interface for audit logging destinations
type Logger interface {
	// Log persists an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// NewEvent creates an event with an id, a UTC timestamp and the actor and
// correlation id taken from ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		EventType:     eventType,
		Status:        status,
		ActorID:       contextkeys.GetActorID(ctx),
		CorrelationID: contextkeys.GetRequestID(ctx),
		IPAddress:     contextkeys.GetClientIP(ctx),
		Metadata:      make(map[string]interface{}),
	}
}

// NewMutationEvent creates a successful mutation event with before/after state
func NewMutationEvent(ctx context.Context, eventType EventType, targetType TargetType, targetID string, before, after interface{}) *AuditEvent {
	event := NewEvent(ctx, eventType, EventStatusSuccess)
	event.TargetType = targetType
	event.TargetID = targetID
	if before != nil || after != nil {
		event.Changes = &ChangeDetails{Before: before, After: after}
	}
	return event
}

// noOpLogger is a logger that does nothing (used when no logger is configured)
type noOpLogger struct{}

// NewNoOpLogger returns a logger that discards events
func NewNoOpLogger() Logger {
	return &noOpLogger{}
}

func (l *noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (l *noOpLogger) Close() error {
	return nil
}
