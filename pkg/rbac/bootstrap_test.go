package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedPolicy = `
permissions:
  - id: table.read
    action: table.read
    resource: "table.*"
  - id: table.read.eu
    action: table.read
    resource: "table.*"
    conditions:
      region: EU
      user.clearance: {op: gte, value: 2}
resources:
  - id: server.prod
    type: server
  - id: table.sales
    type: table
    parent: server.prod
    attributes:
      region: EU
users:
  - id: alice
    email: alice@example.com
    mfa: true
    attributes:
      clearance: 3
  - id: bob
    email: bob@example.com
groups:
  - id: analysts
    name: Analysts
    members: [alice, bob]
roles:
  - id: reader
    permissions: [table.read]
  - id: eu-reader
    parents: [reader]
    permissions: [table.read.eu]
assignments:
  - group: analysts
    role: eu-reader
    resource: server.prod
denies:
  - id: bob-no-read
    user: bob
    action: table.read
    resource: table.sales
    reason: contractor
`

func TestParseBootstrap(t *testing.T) {
	b, err := ParseBootstrap([]byte(seedPolicy))
	require.NoError(t, err)
	assert.Len(t, b.Permissions, 2)
	assert.Equal(t, "server.prod", b.Resources[1].Parent)
	assert.True(t, b.Users[0].MFA)
	assert.Equal(t, []string{"alice", "bob"}, b.Groups[0].Members)
	assert.Equal(t, "analysts", b.Assignments[0].Group)

	empty, err := ParseBootstrap(nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Users)

	_, err = ParseBootstrap([]byte("users:\n  - id: x\n    nickname: y\n"))
	assert.Error(t, err, "unknown fields are rejected")
}

func TestLoadBootstrap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedPolicy), 0o600))

	b, err := LoadBootstrap(path)
	require.NoError(t, err)
	assert.Len(t, b.Roles, 2)

	_, err = LoadBootstrap(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	b, err := ParseBootstrap([]byte(seedPolicy))
	require.NoError(t, err)

	res, err := f.manager.Seed(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 11, res.Created)
	assert.Zero(t, res.Skipped)

	assert.True(t, f.check("alice", "table.read", "table.sales").Allowed)
	bob := f.check("bob", "table.read", "table.sales")
	assert.False(t, bob.Allowed)
	assert.Equal(t, ReasonExplicitDeny, bob.Reason)

	assignments := f.manager.Snapshot().Graph.ListAssignments(AssignmentFilter{PrincipalType: PrincipalGroup})
	require.Len(t, assignments, 1)
	assert.Equal(t, SourceBootstrap, assignments[0].Source)

	// a second run changes nothing
	version := f.manager.Version()
	res, err = f.manager.Seed(context.Background(), b)
	require.NoError(t, err)
	assert.Zero(t, res.Created)
	assert.Equal(t, 11, res.Skipped)
	assert.Equal(t, version, f.manager.Version())
}

func TestSeed_NeverOverwrites(t *testing.T) {
	f := newFixture(t)
	f.user(t, "alice", map[string]any{"clearance": 1})

	b, err := ParseBootstrap([]byte(seedPolicy))
	require.NoError(t, err)
	_, err = f.manager.Seed(context.Background(), b)
	require.NoError(t, err)

	alice, ok := f.manager.Snapshot().Graph.User("alice")
	require.True(t, ok)
	assert.Equal(t, 1, alice.Attributes["clearance"])
	assert.False(t, alice.MFAEnabled)
}

func TestSeed_InvalidPolicyIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	b, err := ParseBootstrap([]byte(`
users:
  - id: carol
    email: carol@example.com
roles:
  - id: broken
    permissions: [does.not.exist]
`))
	require.NoError(t, err)

	version := f.manager.Version()
	_, err = f.manager.Seed(context.Background(), b)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, version, f.manager.Version())
	_, ok := f.manager.Snapshot().Graph.User("carol")
	assert.False(t, ok)

	b, err = ParseBootstrap([]byte(`
permissions:
  - id: bad
    action: table.read
    resource: "*"
    conditions:
      region: {op: sometimes, value: EU}
`))
	require.NoError(t, err)
	_, err = f.manager.Seed(context.Background(), b)
	assert.ErrorIs(t, err, ErrConditionEvaluation)
}
