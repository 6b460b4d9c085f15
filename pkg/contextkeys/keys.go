// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// HTTP layer, the decision engine and the audit trail agree on them.
//
// USAGE PATTERN:
//
//	ctx = contextkeys.WithActorID(ctx, r.Header.Get("X-Actor-ID"))
//	actor := contextkeys.GetActorID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains the request/correlation id string
	// Set by: rbac.RequestContextMiddleware
	// Used by: decision engine, audit trail, distributed tracing
	RequestIDKey Key = "request_id"

	// ActorIDKey contains the id of the caller performing an operation
	// Set by: rbac.RequestContextMiddleware from X-Actor-ID
	// Used by: policy manager (granted_by, created_by), audit trail
	ActorIDKey Key = "actor_id"

	// ClientIPKey contains the remote address of the caller
	// Set by: rbac.RequestContextMiddleware
	// Used by: audit trail
	ClientIPKey Key = "client_ip"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithActorID adds the acting principal to the context
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorIDKey, actorID)
}

// WithClientIP adds the client address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetActorID retrieves the acting principal from context
func GetActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(ActorIDKey).(string); ok {
		return actorID
	}
	return ""
}

// GetClientIP retrieves the client address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
