// Package audit records authorization decisions and policy mutations.
//
// # Overview
//
// Every decision made by the rbac engine and every committed policy change
// produces an AuditEvent. Events are append-only: the database schema rejects
// updates and deletes, and the package exposes no path for either.
//
// # Event Types
//
// Decisions: authz.decision, authz.evaluation_failure
// Mutations: rbac.role_create, rbac.assignment_create, rbac.deny_create, ...
// Workflow: rbac.access_request_create, rbac.access_request_approve, ...
//
// # Delivery
//
// The engine never writes to a Logger directly. It hands events to a Sink,
// a bounded queue drained by worker goroutines. Each write goes through a
// circuit breaker and a bounded exponential retry:
//
//	sink := audit.NewSink(audit.NewMultiLogger(dbLogger, fileLogger), audit.SinkConfig{
//		QueueSize: 10000,
//		Workers:   4,
//	}, log)
//	defer sink.Close(ctx)
//
//	if err := sink.Enqueue(event); err != nil {
//		// queue full or breaker open
//	}
//
// Enqueue never blocks. EnqueueWithRetry keeps trying in the background with
// bounded backoff and is used for events that must not be dropped silently.
//
// # Querying
//
// DBStore provides search, lookup by id, statistics and export in JSON,
// NDJSON and CSV. Handlers exposes them under /rbac/audit-logs.
package audit
