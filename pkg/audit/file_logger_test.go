package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_Basic(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{
		BasePath: tmpDir,
		MaxSize:  1024 * 1024,
		MaxFiles: 5,
	})
	require.NoError(t, err)
	defer logger.Close()

	event := &AuditEvent{
		ID:        "evt-1",
		Timestamp: time.Now().UTC(),
		EventType: EventTypeAuthzDecision,
		Status:    EventStatusSuccess,
		ActorID:   "alice",
		Action:    "dashboard.view",
		Resource:  "dashboard.sales",
	}
	require.NoError(t, logger.Log(context.Background(), event))

	assert.FileExists(t, filepath.Join(tmpDir, "audit.ndjson"))

	events, err := logger.ReadLogs(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAuthzDecision, events[0].EventType)
	assert.Equal(t, "alice", events[0].ActorID)
}

func TestFileLogger_ReadLogsLimit(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	defer logger.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, logger.Log(context.Background(), &AuditEvent{EventType: EventTypeAuthzDecision}))
	}

	events, err := logger.ReadLogs(3)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	events, err = logger.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestFileLogger_Rotation(t *testing.T) {
	tmpDir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{
		BasePath: tmpDir,
		Rotate:   true,
		MaxSize:  200,
		MaxFiles: 2,
	})
	require.NoError(t, err)
	defer logger.Close()

	tick := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	logger.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	for i := 0; i < 20; i++ {
		require.NoError(t, logger.Log(context.Background(), &AuditEvent{
			ID:        "evt",
			EventType: EventTypeAuthzDecision,
			Message:   "padding padding padding padding padding padding",
		}))
	}

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "audit-*.ndjson"))
	require.NoError(t, err)
	assert.Len(t, rotated, 2)

	active, err := logger.ReadLogs(0)
	require.NoError(t, err)
	assert.Len(t, active, 1, "every record overflows the 200 byte limit")

	// the chain continues across the rotation boundary
	var total int
	for _, path := range append(rotated, filepath.Join(tmpDir, "audit.ndjson")) {
		n, err := VerifyFile(path)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 3, total)
}

func TestFileLogger_ChainResumesAfterReopen(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	require.NoError(t, logger.Log(context.Background(), &AuditEvent{ID: "a", EventType: EventTypeAuthzDecision}))
	require.NoError(t, logger.Close())

	logger, err = NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	defer logger.Close()
	require.NoError(t, logger.Log(context.Background(), &AuditEvent{ID: "b", EventType: EventTypeAuthzDecision}))

	n, err := VerifyFile(filepath.Join(dir, "audit.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestVerifyFile_DetectsTampering(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: dir})
	require.NoError(t, err)
	for _, actor := range []string{"alice", "bob", "carol"} {
		require.NoError(t, logger.Log(context.Background(), &AuditEvent{ActorID: actor, EventType: EventTypeAuthzDecision}))
	}
	require.NoError(t, logger.Close())

	path := filepath.Join(dir, "audit.ndjson")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	edited := strings.Replace(string(data), `"actor_id":"bob"`, `"actor_id":"mallory"`, 1)
	require.NotEqual(t, string(data), edited)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))
	_, err = VerifyFile(path)
	assert.ErrorIs(t, err, ErrChainBroken)

	lines := strings.SplitAfter(string(data), "\n")
	require.NoError(t, os.WriteFile(path, []byte(lines[0]+lines[2]), 0o644))
	_, err = VerifyFile(path)
	assert.ErrorIs(t, err, ErrChainBroken, "a dropped record breaks the chain")
}

func TestFileLogger_LogAfterClose(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	err = logger.Log(context.Background(), &AuditEvent{})
	assert.ErrorIs(t, err, ErrAuditWriteFailure)
	assert.NoError(t, logger.Close())
}

func TestNewFileLogger_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := NewFileLogger(FileLoggerConfig{BasePath: filepath.Join(file, "sub")})
	assert.ErrorContains(t, err, "failed to create audit log directory")
}
