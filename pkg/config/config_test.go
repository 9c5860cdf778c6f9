package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg := LoadFromEnv()

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, "localhost", cfg.Joern.Host)
	assert.Equal(t, 8080, cfg.Joern.Port)
	assert.Equal(t, 300*time.Second, cfg.Query.Timeout)
	assert.False(t, cfg.Query.EnableCustomQueries, "raw CPGQL must be an opt-in")
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 100, cfg.Cache.HotSize)
	assert.Equal(t, 1000, cfg.Cache.ColdSize)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Concurrency.Floor)
	assert.Equal(t, 20, cfg.Concurrency.Ceiling)
	assert.Equal(t, time.Second, cfg.Concurrency.TargetLatency)
	assert.Equal(t, 5*time.Second, cfg.Metrics.SlowThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("JOERN_SERVER_HOST", "joern.internal")
	t.Setenv("JOERN_SERVER_PORT", "9000")
	t.Setenv("JOERN_MCP_CACHE_ENABLED", "false")
	t.Setenv("JOERN_MCP_QUERY_TIMEOUT", "120s")
	t.Setenv("JOERN_MCP_TARGET_LATENCY", "500ms")
	t.Setenv("JOERN_MCP_ENABLE_CUSTOM_QUERIES", "true")

	cfg := LoadFromEnv()
	assert.Equal(t, "joern.internal", cfg.Joern.Host)
	assert.Equal(t, 9000, cfg.Joern.Port)
	assert.False(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Query.EnableCustomQueries)
	assert.Equal(t, 120*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Concurrency.TargetLatency)
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("JOERN_MCP_QUERY_TIMEOUT", "45")
	cfg := LoadFromEnv()
	assert.Equal(t, 45*time.Second, cfg.Query.Timeout)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  transport: http
  http_addr: ":9090"
joern:
  host: engine.local
  port: 7000
cache:
  hot_size: 50
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Server.Transport)
	assert.Equal(t, ":9090", cfg.Server.HTTPAddr)
	assert.Equal(t, "engine.local", cfg.Joern.Host)
	assert.Equal(t, 7000, cfg.Joern.Port)
	assert.Equal(t, 50, cfg.Cache.HotSize)

	// Unset fields keep their defaults.
	assert.Equal(t, 1000, cfg.Cache.ColdSize)
}

func TestEnvWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("joern:\n  host: from-file\n"), 0o644))

	t.Setenv("JOERN_SERVER_HOST", "from-env")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Joern.Host)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Run("bad transport", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Server.Transport = "grpc"
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Joern.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("half-configured auth", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Joern.Username = "user"
		assert.Error(t, cfg.Validate())

		cfg.Joern.Password = "pass"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("floor above ceiling", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Concurrency.Floor = 30
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})
}

func TestStringOmitsSecrets(t *testing.T) {
	cfg := LoadFromEnv()
	cfg.Joern.Password = "hunter2"
	cfg.Server.AuthTokenHash = "$2a$10$secret"

	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "localhost")
}

func TestBaseURL(t *testing.T) {
	cfg := LoadFromEnv()
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL())
}
