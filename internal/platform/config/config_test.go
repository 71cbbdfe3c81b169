package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(Options{Service: "gateway", DefaultAddr: ":5000"})
	require.NoError(t, err)

	assert.Equal(t, "gateway", cfg.Service)
	assert.Equal(t, ":5000", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Broker.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Gateway.UpstreamTimeout)
	assert.Equal(t, 5, cfg.Consumer.MaxDeliver)
	assert.Equal(t, "http://localhost:5002", cfg.Gateway.TasksURL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("BROKER_RETRY_DELAY", "250ms")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load(Options{Service: "task-service", Required: []string{KeyJWTSecret}})
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.RetryDelay)
	assert.Equal(t, 3, cfg.Outbox.MaxAttempts)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, "collector:4317", cfg.Otel.Endpoint)
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := Load(Options{Service: "task-service", Required: []string{KeyJWTSecret, KeyDatabaseURL}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoad_FileWithRoutes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
log_level: debug
gateway:
  routes:
    - name: tasks
      prefix: /api/tasks
      target: http://tasks:5002
      rewrite: /tasks
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(Options{Service: "gateway", File: path})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Gateway.Routes, 1)
	assert.Equal(t, "/tasks", cfg.Gateway.Routes[0].Rewrite)
	assert.False(t, cfg.Gateway.Routes[0].Public)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")
	_, err := Load(Options{Service: "gateway"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LogLevel")
}
