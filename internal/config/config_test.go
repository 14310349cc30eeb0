package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "zinit", cfg.Zinit.Binary)
	assert.Equal(t, "/var/run/zinit.sock", cfg.Zinit.Socket)
	assert.Equal(t, "/etc/zinit", cfg.Zinit.ConfigDir)
	assert.Equal(t, time.Duration(0), cfg.Zinit.Timeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":9310", cfg.Agent.Listen)
	assert.Equal(t, 4, cfg.Agent.Concurrency)
	assert.Equal(t, 0, cfg.Agent.Retries)
	assert.Empty(t, cfg.Agent.Services)
	assert.Empty(t, cfg.Agent.TrustedProxies)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
zinit:
  socket: /run/zinit.sock
  timeout: 30s
log:
  level: debug
  json: true
agent:
  listen: 127.0.0.1:9000
  services: [networkd, redis]
  concurrency: 2
  retries: 3
  retry_delay: 250ms
  trusted_proxies: [127.0.0.1]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/run/zinit.sock", cfg.Zinit.Socket)
	assert.Equal(t, 30*time.Second, cfg.Zinit.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "127.0.0.1:9000", cfg.Agent.Listen)
	assert.Equal(t, []string{"networkd", "redis"}, cfg.Agent.Services)
	assert.Equal(t, 2, cfg.Agent.Concurrency)
	assert.Equal(t, 3, cfg.Agent.Retries)
	assert.Equal(t, 250*time.Millisecond, cfg.Agent.RetryDelay)
	assert.Equal(t, []string{"127.0.0.1"}, cfg.Agent.TrustedProxies)
	// untouched keys keep their defaults
	assert.Equal(t, "zinit", cfg.Zinit.Binary)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "zinit:\n  binary: /usr/bin/zinit\nlog:\n  level: warn\n")
	t.Setenv("ZINITCTL_LOG_LEVEL", "error")
	t.Setenv("ZINITCTL_ZINIT_TIMEOUT", "5s")
	t.Setenv("ZINITCTL_AGENT_SERVICES", "ntp sshd")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/zinit", cfg.Zinit.Binary)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Zinit.Timeout)
	assert.Equal(t, []string{"ntp", "sshd"}, cfg.Agent.Services)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeConfig(t, "agent:\n  concurrency: 0\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent.concurrency")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b c"))
	assert.Empty(t, splitList(" , "))
}
