package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/opine/internal/config"
	"github.com/soaringjerry/opine/internal/db"
)

func TestNewWithSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data", "opine.db")

	a, err := New(context.Background(), &cfg, NewLogger(cfg.Log, &bytes.Buffer{}))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	require.NotNil(t, a.SQLite)
	assert.NotNil(t, a.Submission)
	assert.NotNil(t, a.Maintenance)

	report, err := a.Maintenance.RepairInvariants(context.Background(), a.Config.Batch)
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
}

func TestNewWarnsOnDevSecret(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "opine.db")

	var buf bytes.Buffer
	a, err := New(context.Background(), &cfg, NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })
	assert.Contains(t, buf.String(), "OPINE_JWT_SECRET is unset")
	assert.Contains(t, buf.String(), `"level":"WARN"`)

	buf.Reset()
	cfg.Auth.JWTSecret = "prod-secret"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "other.db")
	b, err := New(context.Background(), &cfg, NewLogger(config.LogConfig{Level: "info", Format: "json"}, &buf))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, b.Close()) })
	assert.NotContains(t, buf.String(), "OPINE_JWT_SECRET")
}

func TestNewWithMemory(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = config.DriverMemory

	a, err := New(context.Background(), &cfg, nil)
	require.NoError(t, err)
	_, ok := a.Store.(*db.MemoryStore)
	assert.True(t, ok)
	assert.Nil(t, a.SQLite)
	assert.NoError(t, a.Close())
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	NewLogger(config.LogConfig{Level: "bogus", Format: "text"}, &buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}
