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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Runner.CommandTimeout)
	assert.Equal(t, "deploy", cfg.Events.SubjectPrefix)
	assert.Contains(t, cfg.Gateway.Denylist, "sudo rm")
	assert.True(t, cfg.Redact.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  level: debug
  format: console
runner:
  command_timeout: 30s
gateway:
  denylist:
    - "drop database"
events:
  nats_url: nats://localhost:4222
  subject_prefix: ci
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 30*time.Second, cfg.Runner.CommandTimeout)
	assert.Equal(t, []string{"drop database"}, cfg.Gateway.Denylist)
	assert.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	assert.Equal(t, "ci", cfg.Events.SubjectPrefix)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	t.Setenv("DEPLOYD_LOGGING_LEVEL", "warn")
	t.Setenv("DEPLOYD_EVENTS_SUBJECT_PREFIX", "staging")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "staging", cfg.Events.SubjectPrefix)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: shouty\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_CommandTimeout(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Runner.CommandTimeout = 0
	assert.Error(t, cfg.Validate())
}
