package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "crewd_engagements", cfg.NATS.Bucket)
	assert.Equal(t, "crewd-phases", cfg.Temporal.TaskQueue)
	assert.Equal(t, 2, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, 15*time.Second, cfg.Orchestrator.InterruptPollInterval.Duration())
	assert.Equal(t, 24*time.Hour, cfg.Orchestrator.InterruptPollTimeout.Duration())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9191
  shutdown_timeout: 30s
nats:
  embedded: true
  bucket: test_bucket
orchestrator:
  max_retries: 3
  retry_backoff: 1s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.True(t, cfg.NATS.Embedded)
	assert.Equal(t, "test_bucket", cfg.NATS.Bucket)
	assert.Equal(t, 3, cfg.Orchestrator.MaxRetries)
	assert.Equal(t, time.Second, cfg.Orchestrator.RetryBackoff.Duration())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0o600))

	t.Setenv("SERVER_PORT", "9393")
	t.Setenv("TEMPORAL_TASK_QUEUE", "override-queue")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9393, cfg.Server.Port)
	assert.Equal(t, "override-queue", cfg.Temporal.TaskQueue)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log format")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Orchestrator.MaxRetries = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Orchestrator.InterruptPollTimeout = Duration(time.Second)
	cfg.Orchestrator.InterruptPollInterval = Duration(time.Minute)
	assert.Error(t, cfg.Validate())
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("SERVER_PORT"))
	assert.Equal(t, "nats.store_dir", envTransform("NATS_STORE_DIR"))
	assert.Equal(t, "orchestrator.interrupt_poll_timeout", envTransform("ORCHESTRATOR_INTERRUPT_POLL_TIMEOUT"))
	assert.Equal(t, "home", envTransform("HOME"))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	b, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(b))
}

func TestDurationParsing(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
