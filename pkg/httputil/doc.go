// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, decision)
//	httputil.WriteCreated(w, role)
//	httputil.WriteErrorCode(w, http.StatusConflict, err.Error(), "cyclic_role_hierarchy")
//
// Every error body has the shape {"error": message, "code": reason_code}.
//
// # Request Parsing
//
//	var req CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//	limit, err := httputil.ParseQueryInt(r, "limit", 100)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(log),
//		httputil.LoggingMiddleware(log),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
