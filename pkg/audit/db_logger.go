package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Dialect selects the SQL flavour used by DBLogger
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// DBLogger implements append-only audit logging to PostgreSQL or SQLite
type DBLogger struct {
	db      *sql.DB
	dialect Dialect
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB, dialect Dialect) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if dialect == "" {
		dialect = DialectPostgres
	}

	logger := &DBLogger{
		db:      db,
		dialect: dialect,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}

	return logger, nil
}

const postgresAuditSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id VARCHAR(36) PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(255),
		action VARCHAR(255),
		resource VARCHAR(255),
		target_type VARCHAR(50),
		target_id VARCHAR(255),
		correlation_id VARCHAR(100),
		ip_address VARCHAR(45),
		user_agent TEXT,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		changes JSONB,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_type, target_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_correlation_id ON audit_logs(correlation_id);

	CREATE OR REPLACE RULE audit_logs_no_update AS ON UPDATE TO audit_logs DO INSTEAD NOTHING;
	CREATE OR REPLACE RULE audit_logs_no_delete AS ON DELETE TO audit_logs DO INSTEAD NOTHING;
	`

const sqliteAuditSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		actor_id TEXT,
		action TEXT,
		resource TEXT,
		target_type TEXT,
		target_id TEXT,
		correlation_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		message TEXT,
		error_message TEXT,
		metadata TEXT,
		changes TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target ON audit_logs(target_type, target_id);

	CREATE TRIGGER IF NOT EXISTS audit_logs_no_update BEFORE UPDATE ON audit_logs
	BEGIN SELECT RAISE(ABORT, 'audit_logs is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS audit_logs_no_delete BEFORE DELETE ON audit_logs
	BEGIN SELECT RAISE(ABORT, 'audit_logs is append-only'); END;
	`

// ensureTable creates the audit_logs table if it doesn't exist. Updates and
// deletes are rejected at the database level.
func (l *DBLogger) ensureTable() error {
	query := postgresAuditSchema
	if l.dialect == DialectSQLite {
		query = sqliteAuditSchema
	}
	_, err := l.db.Exec(query)
	return err
}

const auditColumns = `id, timestamp, event_type, status,
			actor_id, action, resource, target_type, target_id,
			correlation_id, ip_address, user_agent,
			message, error_message, metadata, changes`

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (` + auditColumns + `) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16
		)
	`

	_, err = l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp, string(event.EventType), string(event.Status),
		event.ActorID, event.Action, event.Resource, string(event.TargetType), event.TargetID,
		event.CorrelationID, event.IPAddress, event.UserAgent,
		event.Message, event.ErrorMessage, nullJSON(metadataJSON), nullJSON(changesJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// nullJSON stores absent documents as SQL NULL
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

var sortColumns = map[string]string{
	"timestamp":  "timestamp",
	"event_type": "event_type",
	"actor_id":   "actor_id",
	"status":     "status",
}

// whereClause builds the filter predicate and its arguments
func (l *DBLogger) whereClause(filter SearchFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			types[i] = string(et)
		}
		if l.dialect == DialectPostgres {
			add("event_type = ANY($%d)", pq.Array(types))
		} else {
			placeholders := make([]string, len(types))
			for i, t := range types {
				args = append(args, t)
				placeholders[i] = fmt.Sprintf("$%d", len(args))
			}
			conds = append(conds, "event_type IN ("+strings.Join(placeholders, ", ")+")")
		}
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.TargetType != "" {
		add("target_type = $%d", string(filter.TargetType))
	}
	if filter.TargetID != "" {
		add("target_id = $%d", filter.TargetID)
	}
	if filter.Resource != "" {
		add("resource = $%d", filter.Resource)
	}
	if filter.CorrelationID != "" {
		add("correlation_id = $%d", filter.CorrelationID)
	}

	if len(conds) == 0 {
		return "WHERE 1=1", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// Search searches audit logs based on filters
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	where, args := l.whereClause(filter)
	query := "SELECT " + auditColumns + " FROM audit_logs " + where

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = "timestamp"
	}
	order := "DESC"
	if filter.SortOrder == "asc" {
		order = "ASC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id %s", column, order, order)

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 && l.dialect == DialectSQLite {
			query += " LIMIT -1"
		}
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Get retrieves one event by id. A missing event yields (nil, nil).
func (l *DBLogger) Get(ctx context.Context, id string) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_logs WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return event, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	event := &AuditEvent{
		Metadata: make(map[string]interface{}),
	}

	var eventType, status string
	var actorID, action, resource, targetType, targetID sql.NullString
	var correlationID, ipAddress, userAgent, message, errorMessage sql.NullString
	var metadataJSON, changesJSON sql.NullString

	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&actorID, &action, &resource, &targetType, &targetID,
		&correlationID, &ipAddress, &userAgent,
		&message, &errorMessage, &metadataJSON, &changesJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ActorID = actorID.String
	event.Action = action.String
	event.Resource = resource.String
	event.TargetType = TargetType(targetType.String)
	event.TargetID = targetID.String
	event.CorrelationID = correlationID.String
	event.IPAddress = ipAddress.String
	event.UserAgent = userAgent.String
	event.Message = message.String
	event.ErrorMessage = errorMessage.String

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if changesJSON.Valid && changesJSON.String != "" {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changesJSON.String), event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return event, nil
}

// GetStats retrieves audit log statistics
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*AuditStats, error) {
	stats := &AuditStats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
		EventsByActor:  make(map[string]int64),
	}

	where, args := l.whereClause(SearchFilter{StartTime: startTime, EndTime: endTime})
	if startTime != nil || endTime != nil {
		stats.TimeRange = &TimeRange{}
		if startTime != nil {
			stats.TimeRange.Start = *startTime
		}
		if endTime != nil {
			stats.TimeRange.End = *endTime
		}
	}

	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+where, args...).Scan(&stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get total events: %w", err)
	}

	if err := l.groupCount(ctx, "event_type", where, args, func(k string, n int64) {
		stats.EventsByType[EventType(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to get events by type: %w", err)
	}

	if err := l.groupCount(ctx, "status", where, args, func(k string, n int64) {
		stats.EventsByStatus[EventStatus(k)] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to get events by status: %w", err)
	}

	if err := l.groupCount(ctx, "actor_id", where+" AND actor_id IS NOT NULL AND actor_id <> ''", args, func(k string, n int64) {
		stats.EventsByActor[k] = n
	}); err != nil {
		return nil, fmt.Errorf("failed to get events by actor: %w", err)
	}
	stats.UniqueActors = int64(len(stats.EventsByActor))

	deniedWhere := where + fmt.Sprintf(" AND event_type = '%s' AND status = '%s'", EventTypeAuthzDecision, EventStatusDenied)
	err = l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs "+deniedWhere, args...).Scan(&stats.DeniedDecisions)
	if err != nil {
		return nil, fmt.Errorf("failed to get denied decisions: %w", err)
	}

	stats.EvaluationFailures = stats.EventsByType[EventTypeAuthzEvaluationFailure]

	return stats, nil
}

func (l *DBLogger) groupCount(ctx context.Context, column, where string, args []interface{}, fn func(string, int64)) error {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_logs %s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		fn(key.String, count)
	}
	return rows.Err()
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// The connection is shared with the policy store
	return nil
}
