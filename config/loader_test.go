package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Minute, cfg.Approval.Deadline)
	assert.Equal(t, time.Hour, cfg.Approval.LinkTTL)
	assert.Equal(t, 3*time.Second, cfg.Run.SubscriberGrace)
	assert.Equal(t, 300*time.Millisecond, cfg.Run.HeadlessGrace)
	assert.Equal(t, 3, cfg.Run.MaxPendingPerUser)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/agentrun.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.HTTPPort, cfg.Server.HTTPPort)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  http_port: 9999
approval:
  deadline: 90s
  link_ttl: 30m
run:
  headless_grace: 100ms
  max_pending_per_user: 7
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: agentrun
  password: secret
  name: agentrun
  ssl_mode: disable
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, 90*time.Second, cfg.Approval.Deadline)
	assert.Equal(t, 30*time.Minute, cfg.Approval.LinkTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Run.HeadlessGrace)
	assert.Equal(t, 7, cfg.Run.MaxPendingPerUser)
	assert.Equal(t,
		"host=db.internal port=5432 user=agentrun password=secret dbname=agentrun sslmode=disable",
		cfg.Database.DSN())
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9999\n"), 0o600))

	t.Setenv("AGENTRUN_SERVER_HTTP_PORT", "7777")
	t.Setenv("AGENTRUN_APPROVAL_DEADLINE", "2m")
	t.Setenv("AGENTRUN_JWT_SECRET", "supersecret")
	t.Setenv("AGENTRUN_LOG_OUTPUT_PATHS", "stdout, /var/log/agentrun.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 2*time.Minute, cfg.Approval.Deadline)
	assert.Equal(t, "supersecret", cfg.JWT.Secret)
	assert.Equal(t, []string{"stdout", "/var/log/agentrun.log"}, cfg.Log.OutputPaths)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 6666, cfg.Server.HTTPPort)
}

func TestLoader_Validators(t *testing.T) {
	_, err := NewLoader().WithValidator(func(c *Config) error {
		return assert.AnError
	}).Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.HTTPPort = -1
	require.ErrorContains(t, cfg.Validate(), "invalid HTTP port")

	cfg = DefaultConfig()
	cfg.Approval.Deadline = 0
	require.ErrorContains(t, cfg.Validate(), "deadline")

	cfg = DefaultConfig()
	cfg.Run.SubscriberGrace = 10 * time.Millisecond
	cfg.Run.HeadlessGrace = time.Second
	require.ErrorContains(t, cfg.Validate(), "subscriber_grace")

	cfg = DefaultConfig()
	cfg.Database.Driver = "oracle"
	require.ErrorContains(t, cfg.Validate(), "unsupported database driver")
}

func TestDatabaseDSN_Sqlite(t *testing.T) {
	d := DatabaseConfig{Driver: "sqlite", Name: "test.db"}
	assert.Equal(t, "test.db", d.DSN())

	d.Driver = "unknown"
	assert.Equal(t, "", d.DSN())
}
