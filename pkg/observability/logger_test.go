package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("debug", "json", &buf)
	require.NoError(t, err)

	log.WithField("role_id", "r1").Debug("role created")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "role created", entry["msg"])
	assert.Equal(t, "r1", entry["role_id"])
	assert.Equal(t, "debug", entry["level"])
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("warn", "text", &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewLogger_Invalid(t *testing.T) {
	_, err := NewLogger("loud", "json", nil)
	assert.Error(t, err)

	_, err = NewLogger("info", "xml", nil)
	assert.Error(t, err)
}

func TestUpdateLoggerWithTraceContext_NoSpan(t *testing.T) {
	log := logrus.New()
	entry := UpdateLoggerWithTraceContext(context.Background(), log)

	assert.NotContains(t, entry.Data, "trace_id")
	assert.Same(t, log, entry.Logger)
}

func TestInitOTel_Disabled(t *testing.T) {
	log := logrus.New()
	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, log)

	assert.NoError(t, err)
	assert.Nil(t, providers)
	assert.NoError(t, ShutdownOTel(context.Background(), nil, log))
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger("info", "json", &buf)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		defer RecoverPanic(log, "test job")
		panic("boom")
	})
	assert.Contains(t, buf.String(), "PANIC recovered")
	assert.Contains(t, buf.String(), "test job")

	called := false
	func() {
		defer RecoverPanicWithCallback(log, "cb", func() { called = true })
		panic("again")
	}()
	assert.True(t, called)

	assert.NoError(t, MustRecover(nil))
	assert.EqualError(t, MustRecover("x"), "panic: x")
}
