package rbac

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/datawave/pkg/contextkeys"
	"github.com/platinummonkey/datawave/pkg/httputil"
)

// Request headers set by the gateway
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderRequestID = "X-Request-ID"
)

// RequestContextMiddleware copies the actor, correlation id and client IP
// into the request context. A missing X-Request-ID is generated and echoed
// back.
func RequestContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)

		ctx := contextkeys.WithRequestID(r.Context(), requestID)
		if actor := strings.TrimSpace(r.Header.Get(HeaderActorID)); actor != "" {
			ctx = contextkeys.WithActorID(ctx, actor)
		}
		ctx = contextkeys.WithClientIP(ctx, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// PermissionMiddleware guards routes with decisions from the engine
type PermissionMiddleware struct {
	checker Checker
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker) *PermissionMiddleware {
	return &PermissionMiddleware{checker: checker}
}

// RequirePermission allows the request only if the actor may perform action
// on resource. The check is audited like any other decision.
func (pm *PermissionMiddleware) RequirePermission(action, resource string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := contextkeys.GetActorID(r.Context())
			if actor == "" {
				httputil.WriteErrorCode(w, http.StatusUnauthorized, "X-Actor-ID header required", ReasonUnknownPrincipal)
				return
			}

			dec := pm.checker.Check(r.Context(), CheckRequest{
				UserID:   actor,
				Action:   action,
				Resource: resource,
			})
			if !dec.Allowed {
				httputil.WriteErrorCode(w, http.StatusForbidden, "insufficient permissions: "+dec.Note, dec.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
