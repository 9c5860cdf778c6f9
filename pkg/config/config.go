// Package config handles server configuration via environment
// variables and an optional YAML file.
//
// Configuration is loaded from environment variables using
// LoadFromEnv(), optionally layered over a YAML file with LoadFile().
// Environment variables always win, so a deployment can ship a base
// file and override per-instance settings in the environment.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//
//	fmt.Printf("Joern server: %s:%d\n", cfg.Joern.Host, cfg.Joern.Port)
//
// Environment Variables:
//
//   - JOERN_MCP_TRANSPORT="stdio" or "http"
//   - JOERN_MCP_HTTP_ADDR=":8080"
//   - JOERN_MCP_AUTH_TOKEN_HASH="$2a$10$..." (bcrypt hash)
//   - JOERN_SERVER_HOST=localhost
//   - JOERN_SERVER_PORT=8080
//   - JOERN_SERVER_USERNAME / JOERN_SERVER_PASSWORD
//   - JOERN_BINARY=joern
//   - JOERN_WORKSPACE_DIR=./workspace
//   - JOERN_MCP_QUERY_TIMEOUT=300s
//   - JOERN_MCP_ENABLE_CUSTOM_QUERIES=true
//   - JOERN_MCP_CACHE_ENABLED=true
//   - JOERN_MCP_CACHE_HOT_SIZE=100
//   - JOERN_MCP_CACHE_COLD_SIZE=1000
//   - JOERN_MCP_CACHE_TTL=1h
//   - JOERN_MCP_CONCURRENCY_FLOOR=2
//   - JOERN_MCP_CONCURRENCY_CEILING=20
//   - JOERN_MCP_CONCURRENCY_INITIAL=5
//   - JOERN_MCP_TARGET_LATENCY=1s
//   - JOERN_MCP_LOG_LEVEL=info
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
//
// Configuration is organized into logical sections:
//   - Server: MCP transport and HTTP settings
//   - Joern: engine connection and lifecycle
//   - Query: execution limits
//   - Cache: result cache tuning
//   - Concurrency: adaptive limiter bounds
//   - Metrics: performance tracking
//   - Logging: log output control
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Joern       JoernConfig       `yaml:"joern"`
	Query       QueryConfig       `yaml:"query"`
	Cache       CacheConfig       `yaml:"cache"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds MCP transport settings.
type ServerConfig struct {
	// Transport selects "stdio" or "http"
	Transport string `yaml:"transport"`
	// HTTPAddr is the listen address for http transport
	HTTPAddr string `yaml:"http_addr"`
	// AuthTokenHash is a bcrypt hash of the bearer token required on
	// http transport; empty disables auth
	AuthTokenHash string `yaml:"auth_token_hash"`
}

// JoernConfig holds engine connection settings.
type JoernConfig struct {
	// Host and Port of the Joern HTTP server
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Username and Password for basic auth; empty disables auth
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Binary is the joern executable used when managing the server
	Binary string `yaml:"binary"`
	// Manage controls whether the server spawns the engine itself
	Manage bool `yaml:"manage"`
	// WorkspaceDir is the engine workspace; the project registry lives
	// under it
	WorkspaceDir string `yaml:"workspace_dir"`
	// StartTimeout bounds managed-server startup
	StartTimeout time.Duration `yaml:"start_timeout"`
}

// QueryConfig holds execution limits.
type QueryConfig struct {
	// Timeout is the base per-query deadline
	Timeout time.Duration `yaml:"timeout"`
	// EnableCustomQueries gates the raw execute_query and batch_query
	// tools. Off by default: deployments opt in to raw CPGQL.
	EnableCustomQueries bool `yaml:"enable_custom_queries"`
}

// CacheConfig holds result cache tuning.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	// HotSize and ColdSize are tier capacities in entries
	HotSize  int `yaml:"hot_size"`
	ColdSize int `yaml:"cold_size"`
	// TTL is the cold-tier entry lifetime
	TTL time.Duration `yaml:"ttl"`
}

// ConcurrencyConfig holds adaptive limiter bounds.
type ConcurrencyConfig struct {
	Floor   int `yaml:"floor"`
	Ceiling int `yaml:"ceiling"`
	Initial int `yaml:"initial"`
	// TargetLatency is the latency the limiter steers toward
	TargetLatency time.Duration `yaml:"target_latency"`
}

// MetricsConfig holds performance tracking settings.
type MetricsConfig struct {
	// SlowThreshold marks queries at or above it as slow
	SlowThreshold time.Duration `yaml:"slow_threshold"`
	// WindowSize is the percentile sample window
	WindowSize int `yaml:"window_size"`
}

// LoggingConfig holds log output control.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
}

// LoadFromEnv creates a Config from environment variables with
// sensible defaults.
func LoadFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:     getEnv("JOERN_MCP_TRANSPORT", "stdio"),
			HTTPAddr:      getEnv("JOERN_MCP_HTTP_ADDR", ":8080"),
			AuthTokenHash: getEnv("JOERN_MCP_AUTH_TOKEN_HASH", ""),
		},
		Joern: JoernConfig{
			Host:         getEnv("JOERN_SERVER_HOST", "localhost"),
			Port:         getEnvInt("JOERN_SERVER_PORT", 8080),
			Username:     getEnv("JOERN_SERVER_USERNAME", ""),
			Password:     getEnv("JOERN_SERVER_PASSWORD", ""),
			Binary:       getEnv("JOERN_BINARY", "joern"),
			Manage:       getEnvBool("JOERN_MANAGE_SERVER", false),
			WorkspaceDir: getEnv("JOERN_WORKSPACE_DIR", "./workspace"),
			StartTimeout: getEnvDuration("JOERN_START_TIMEOUT", 60*time.Second),
		},
		Query: QueryConfig{
			Timeout:             getEnvDuration("JOERN_MCP_QUERY_TIMEOUT", 300*time.Second),
			EnableCustomQueries: getEnvBool("JOERN_MCP_ENABLE_CUSTOM_QUERIES", false),
		},
		Cache: CacheConfig{
			Enabled:  getEnvBool("JOERN_MCP_CACHE_ENABLED", true),
			HotSize:  getEnvInt("JOERN_MCP_CACHE_HOT_SIZE", 100),
			ColdSize: getEnvInt("JOERN_MCP_CACHE_COLD_SIZE", 1000),
			TTL:      getEnvDuration("JOERN_MCP_CACHE_TTL", time.Hour),
		},
		Concurrency: ConcurrencyConfig{
			Floor:         getEnvInt("JOERN_MCP_CONCURRENCY_FLOOR", 2),
			Ceiling:       getEnvInt("JOERN_MCP_CONCURRENCY_CEILING", 20),
			Initial:       getEnvInt("JOERN_MCP_CONCURRENCY_INITIAL", 5),
			TargetLatency: getEnvDuration("JOERN_MCP_TARGET_LATENCY", time.Second),
		},
		Metrics: MetricsConfig{
			SlowThreshold: getEnvDuration("JOERN_MCP_SLOW_THRESHOLD", 5*time.Second),
			WindowSize:    getEnvInt("JOERN_MCP_METRICS_WINDOW", 1000),
		},
		Logging: LoggingConfig{
			Level: getEnv("JOERN_MCP_LOG_LEVEL", "info"),
		},
	}
}

// LoadFile layers environment variables over a YAML config file. The
// file provides the base values; any environment variable that is set
// overrides it.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := LoadFromEnv()
	base := *cfg
	if err := yaml.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Re-apply the environment on top of the file values.
	final := base
	env := LoadFromEnv()
	applyEnvOverrides(&final, env)
	return &final, nil
}

// applyEnvOverrides copies env values into dst for every variable that
// is actually set in the process environment.
func applyEnvOverrides(dst, env *Config) {
	set := func(key string) bool {
		_, ok := os.LookupEnv(key)
		return ok
	}

	if set("JOERN_MCP_TRANSPORT") {
		dst.Server.Transport = env.Server.Transport
	}
	if set("JOERN_MCP_HTTP_ADDR") {
		dst.Server.HTTPAddr = env.Server.HTTPAddr
	}
	if set("JOERN_MCP_AUTH_TOKEN_HASH") {
		dst.Server.AuthTokenHash = env.Server.AuthTokenHash
	}
	if set("JOERN_SERVER_HOST") {
		dst.Joern.Host = env.Joern.Host
	}
	if set("JOERN_SERVER_PORT") {
		dst.Joern.Port = env.Joern.Port
	}
	if set("JOERN_SERVER_USERNAME") {
		dst.Joern.Username = env.Joern.Username
	}
	if set("JOERN_SERVER_PASSWORD") {
		dst.Joern.Password = env.Joern.Password
	}
	if set("JOERN_BINARY") {
		dst.Joern.Binary = env.Joern.Binary
	}
	if set("JOERN_MANAGE_SERVER") {
		dst.Joern.Manage = env.Joern.Manage
	}
	if set("JOERN_WORKSPACE_DIR") {
		dst.Joern.WorkspaceDir = env.Joern.WorkspaceDir
	}
	if set("JOERN_START_TIMEOUT") {
		dst.Joern.StartTimeout = env.Joern.StartTimeout
	}
	if set("JOERN_MCP_QUERY_TIMEOUT") {
		dst.Query.Timeout = env.Query.Timeout
	}
	if set("JOERN_MCP_ENABLE_CUSTOM_QUERIES") {
		dst.Query.EnableCustomQueries = env.Query.EnableCustomQueries
	}
	if set("JOERN_MCP_CACHE_ENABLED") {
		dst.Cache.Enabled = env.Cache.Enabled
	}
	if set("JOERN_MCP_CACHE_HOT_SIZE") {
		dst.Cache.HotSize = env.Cache.HotSize
	}
	if set("JOERN_MCP_CACHE_COLD_SIZE") {
		dst.Cache.ColdSize = env.Cache.ColdSize
	}
	if set("JOERN_MCP_CACHE_TTL") {
		dst.Cache.TTL = env.Cache.TTL
	}
	if set("JOERN_MCP_CONCURRENCY_FLOOR") {
		dst.Concurrency.Floor = env.Concurrency.Floor
	}
	if set("JOERN_MCP_CONCURRENCY_CEILING") {
		dst.Concurrency.Ceiling = env.Concurrency.Ceiling
	}
	if set("JOERN_MCP_CONCURRENCY_INITIAL") {
		dst.Concurrency.Initial = env.Concurrency.Initial
	}
	if set("JOERN_MCP_TARGET_LATENCY") {
		dst.Concurrency.TargetLatency = env.Concurrency.TargetLatency
	}
	if set("JOERN_MCP_SLOW_THRESHOLD") {
		dst.Metrics.SlowThreshold = env.Metrics.SlowThreshold
	}
	if set("JOERN_MCP_METRICS_WINDOW") {
		dst.Metrics.WindowSize = env.Metrics.WindowSize
	}
	if set("JOERN_MCP_LOG_LEVEL") {
		dst.Logging.Level = env.Logging.Level
	}
}

// Validate checks the configuration for startup-blocking problems.
//
// Returns nil if configuration is valid, or an error describing the
// problem.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport: %q", c.Server.Transport)
	}

	if c.Server.Transport == "http" && c.Server.HTTPAddr == "" {
		return fmt.Errorf("http transport requires a listen address")
	}

	if c.Joern.Port <= 0 || c.Joern.Port > 65535 {
		return fmt.Errorf("invalid joern port: %d", c.Joern.Port)
	}

	if (c.Joern.Username == "") != (c.Joern.Password == "") {
		return fmt.Errorf("joern username and password must be set together")
	}

	if c.Concurrency.Floor > c.Concurrency.Ceiling && c.Concurrency.Ceiling > 0 {
		return fmt.Errorf("concurrency floor %d exceeds ceiling %d",
			c.Concurrency.Floor, c.Concurrency.Ceiling)
	}

	if c.Query.Timeout <= 0 {
		return fmt.Errorf("invalid query timeout: %s", c.Query.Timeout)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}

	return nil
}

// String returns a safe string representation of the Config.
//
// Sensitive values like passwords and token hashes are NOT included in
// the output, making this safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Transport: %s, Joern: %s:%d, Manage: %v, Cache: %v, Concurrency: %d..%d, Timeout: %s}",
		c.Server.Transport,
		c.Joern.Host, c.Joern.Port,
		c.Joern.Manage,
		c.Cache.Enabled,
		c.Concurrency.Floor, c.Concurrency.Ceiling,
		c.Query.Timeout,
	)
}

// BaseURL returns the engine's HTTP endpoint.
func (c *Config) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Joern.Host, c.Joern.Port)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		// Try parsing as seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}
