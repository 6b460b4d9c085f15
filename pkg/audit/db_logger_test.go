package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var eventColumns = []string{
	"id", "timestamp", "event_type", "status",
	"actor_id", "action", "resource", "target_type", "target_id",
	"correlation_id", "ip_address", "user_agent",
	"message", "error_message", "metadata", "changes",
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db, DialectPostgres)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil, DialectPostgres)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_logs").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db, DialectPostgres)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure audit_logs table")
	})
}

func TestDBLogger_Log(t *testing.T) {
	t.Run("decision event", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}

		event := &AuditEvent{
			ID:            "evt-1",
			Timestamp:     time.Now().UTC(),
			EventType:     EventTypeAuthzDecision,
			Status:        EventStatusSuccess,
			ActorID:       "alice",
			Action:        "dashboard.view",
			Resource:      "dashboard.sales",
			TargetType:    TargetResource,
			TargetID:      "dashboard.sales",
			CorrelationID: "req-1",
			Metadata:      map[string]interface{}{"reason": "allowed"},
		}

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(
				"evt-1", sqlmock.AnyArg(), "authz.decision", "success",
				"alice", "dashboard.view", "dashboard.sales", "resource", "dashboard.sales",
				"req-1", "", "",
				"", "", `{"reason":"allowed"}`, nil,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("mutation with changes", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}

		event := NewMutationEvent(context.Background(), EventTypeRoleCreate, TargetRole, "editor", nil, map[string]string{"id": "editor"})

		mock.ExpectExec("INSERT INTO audit_logs").
			WithArgs(
				event.ID, sqlmock.AnyArg(), "rbac.role_create", "success",
				"", "", "", "role", "editor",
				"", "", "",
				"", "", nil, `{"after":{"id":"editor"}}`,
			).
			WillReturnResult(sqlmock.NewResult(1, 1))

		require.NoError(t, logger.Log(context.Background(), event))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}

		mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errors.New("connection reset"))

		err := logger.Log(context.Background(), &AuditEvent{ID: "x"})
		assert.ErrorContains(t, err, "failed to insert audit log")
	})

	t.Run("unmarshalable metadata", func(t *testing.T) {
		logger := &DBLogger{dialect: DialectPostgres}
		err := logger.Log(context.Background(), &AuditEvent{Metadata: map[string]interface{}{"bad": make(chan int)}})
		assert.ErrorContains(t, err, "failed to marshal metadata")
	})
}

func TestDBLogger_Search(t *testing.T) {
	t.Run("postgres event type filter uses ANY", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}
		now := time.Now().UTC()

		rows := sqlmock.NewRows(eventColumns).AddRow(
			"evt-1", now, "authz.decision", "denied",
			"alice", "dashboard.delete", "dashboard.sales", "resource", "dashboard.sales",
			"req-1", nil, nil,
			"denied by deny d1", nil, `{"reason":"explicit_deny"}`, nil,
		)
		mock.ExpectQuery(`SELECT .* FROM audit_logs WHERE actor_id = \$1 AND event_type = ANY\(\$2\) ORDER BY timestamp DESC, id DESC LIMIT \$3`).
			WithArgs("alice", sqlmock.AnyArg(), 10).
			WillReturnRows(rows)

		events, err := logger.Search(context.Background(), SearchFilter{
			ActorID:    "alice",
			EventTypes: []EventType{EventTypeAuthzDecision, EventTypeAuthzEvaluationFailure},
			Limit:      10,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "evt-1", events[0].ID)
		assert.Equal(t, EventStatusDenied, events[0].Status)
		assert.Equal(t, "explicit_deny", events[0].Metadata["reason"])
		assert.Empty(t, events[0].IPAddress)
		assert.Nil(t, events[0].Changes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sqlite event type filter uses IN", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectSQLite}

		mock.ExpectQuery(`WHERE event_type IN \(\$1, \$2\) AND status = \$3 ORDER BY actor_id ASC`).
			WithArgs("authz.decision", "rbac.role_create", "success").
			WillReturnRows(sqlmock.NewRows(eventColumns))

		status := EventStatusSuccess
		events, err := logger.Search(context.Background(), SearchFilter{
			EventTypes: []EventType{EventTypeAuthzDecision, EventTypeRoleCreate},
			Status:     &status,
			SortBy:     "actor_id",
			SortOrder:  "asc",
		})
		require.NoError(t, err)
		assert.Empty(t, events)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown sort column falls back to timestamp", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}

		mock.ExpectQuery(`WHERE 1=1 ORDER BY timestamp DESC`).WillReturnRows(sqlmock.NewRows(eventColumns))

		_, err := logger.Search(context.Background(), SearchFilter{SortBy: "id; DROP TABLE audit_logs"})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		logger := &DBLogger{db: db, dialect: DialectPostgres}

		mock.ExpectQuery("SELECT").WillReturnError(errors.New("boom"))

		_, err := logger.Search(context.Background(), SearchFilter{})
		assert.ErrorContains(t, err, "failed to search audit logs")
	})
}

func TestDBLogger_Get(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &DBLogger{db: db, dialect: DialectPostgres}

	mock.ExpectQuery(`FROM audit_logs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(eventColumns))

	event, err := logger.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, event)
	assert.NoError(t, mock.ExpectationsWereMet())
}
