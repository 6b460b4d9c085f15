package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/datawave/pkg/audit"
	"github.com/platinummonkey/datawave/pkg/config"
	"github.com/platinummonkey/datawave/pkg/rbac"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestOpenDatabase_MemoryUsesPrivateSQLite(t *testing.T) {
	db, dialect, err := openDatabase(context.Background(), config.DatabaseConfig{Driver: "memory"}, quietLogger())
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, audit.DialectSQLite, dialect)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)

	_, err = audit.NewDBLogger(db, dialect)
	assert.NoError(t, err)
}

func TestOpenDatabase_BadDriver(t *testing.T) {
	_, _, err := openDatabase(context.Background(), config.DatabaseConfig{Driver: "oracle", URL: "x"}, quietLogger())
	assert.Error(t, err)
}

func TestNewRedisClient_Disabled(t *testing.T) {
	client, err := newRedisClient(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, client)

	_, err = newRedisClient(context.Background(), config.RedisConfig{URL: "not-a-url"})
	assert.Error(t, err)
}

func TestSeedAndRunJob(t *testing.T) {
	ctx := context.Background()
	manager, err := rbac.NewManager(ctx, rbac.ManagerConfig{Logger: quietLogger()})
	require.NoError(t, err)

	require.NoError(t, seed(ctx, manager, "", quietLogger()), "no path is a no-op")

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - id: alice\n    email: alice@example.com\n"), 0o600))
	require.NoError(t, seed(ctx, manager, path, quietLogger()))
	_, ok := manager.Snapshot().Graph.User("alice")
	assert.True(t, ok)

	scheduler, err := rbac.NewScheduler(manager, rbac.SchedulerConfig{Logger: quietLogger()})
	require.NoError(t, err)
	assert.NoError(t, runJob(ctx, scheduler, rbac.JobExpireRequests))
	assert.NoError(t, runJob(ctx, scheduler, rbac.JobAccessReview))
	assert.Error(t, runJob(ctx, scheduler, "compact"))
}
