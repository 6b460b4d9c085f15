// Package rbac provides the role-based and attribute-based access control
// core of the DataWave access-control decision service.
//
// # Overview
//
// DataWave governs access to data assets such as servers, databases, schemas,
// tables and dashboards. This package answers "may user U perform action A on
// resource R?" and owns the policy that answers it:
//
//  1. Users and Groups: principals. Groups carry role assignments for their members.
//  2. Permissions: an (action, resource) pattern pair with optional ABAC conditions.
//  3. Roles: named bundles of permissions. A role inherits every parent role.
//  4. Resources: a forest of dotted names (server.prod, table.sales).
//  5. Assignments: a role granted to a principal, globally or on a resource subtree.
//  6. Denies: explicit blocks that override any allow.
//
// # Patterns
//
// Actions and resources are dotted names matched segment by segment:
//
//	dashboard.*        matches dashboard.summary and dashboard.summary.q1, not dashboard
//	table.*.read       matches table.sales.read (inner * is exactly one segment)
//	scan.ruleset*      matches scan.ruleset and scan.ruleset.x, never scan.rulesetX
//	*                  matches everything
//
// # Evaluation
//
// A check resolves the user's live assignments (direct and through groups),
// expands roles through the hierarchy, aggregates permissions relevant to the
// resource window, evaluates conditions and finally applies denies:
//
//	engine := rbac.NewEngine(manager, sink, rbac.WithLogger(log))
//	dec := engine.Check(ctx, rbac.CheckRequest{
//		UserID:   "u-42",
//		Action:   "table.read",
//		Resource: "table.sales",
//	})
//	if !dec.Allowed {
//		log.Infof("denied: %s (%s)", dec.Reason, dec.Note)
//	}
//
// Grants on a resource flow down to its descendants until a node with
// BlockInheritance is reached. Denies always flow down. Check never returns
// an error: every internal failure, timeout or panic becomes a deny with a
// reason code, and an allow whose audit record cannot be queued is
// downgraded to a deny with reason audit_write_failure.
//
// # Snapshots
//
// Readers work on an immutable Snapshot published through an atomic pointer.
// The Manager is the only writer: it clones the model, validates the change,
// persists it through a Store and then publishes a freshly compiled Graph.
// Decision caches are keyed by snapshot version, so a publish invalidates them.
//
//	manager, err := rbac.NewManager(ctx, rbac.ManagerConfig{
//		Store:       rbac.NewSQLStore(db, audit.DialectPostgres),
//		Sink:        sink,
//		Invalidator: rbac.NewRedisInvalidator(client, channel, log, metrics),
//		Logger:      log,
//	})
//
// # Access requests
//
// Requests move from pending to approved, rejected, expired or withdrawn and
// never leave a terminal state. Approval creates exactly one assignment in the
// same commit. A Scheduler expires overdue requests and runs periodic access
// reviews.
//
// # Persistence
//
// SQLStore works against PostgreSQL and SQLite with the same statements.
// RunMigrations creates the rbac_* tables. MemoryStore backs tests and the
// memory driver.
//
// # Testing
//
// Tests use MemoryStore or an in-memory SQLite database:
//
//	go test ./pkg/rbac/...
//	go test -tags integration ./pkg/rbac/...   # PostgreSQL via testcontainers
package rbac
