package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "./data/appdock.db", cfg.Database.DSN)
	assert.Equal(t, "./data/uploads", cfg.Upload.Dir)
	assert.Equal(t, "100MB", cfg.Upload.MaxSize)
	assert.Equal(t, 10000, cfg.Ports.Min)
	assert.Equal(t, 20000, cfg.Ports.Max)
	assert.Equal(t, 4, cfg.Deploy.MaxConcurrent)
	assert.Equal(t, 80, cfg.Deploy.ContainerPort)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s

database:
  dsn: "/tmp/test.db"

upload:
  max_size: "10MB"

ports:
  min: 30000
  max: 31000

deploy:
  max_concurrent: 2
  container_port: 8000

log:
  level: "debug"
  format: "text"
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, 30000, cfg.Ports.Min)
	assert.Equal(t, 31000, cfg.Ports.Max)
	assert.Equal(t, 2, cfg.Deploy.MaxConcurrent)
	assert.Equal(t, 8000, cfg.Deploy.ContainerPort)
	assert.Equal(t, "debug", cfg.Log.Level)

	maxSize, err := cfg.Upload.MaxSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10*1024*1024), maxSize)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("APPDOCK_SERVER_HOST", "192.168.1.1")
	t.Setenv("APPDOCK_SERVER_PORT", "3000")
	t.Setenv("APPDOCK_DATABASE_DSN", "/custom/path.db")
	t.Setenv("APPDOCK_UPLOAD_MAX_SIZE", "1GB")
	t.Setenv("APPDOCK_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)

	maxSize, err := cfg.Upload.MaxSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1024*1024*1024), maxSize)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

func TestLoadConfig_InvalidPortRange(t *testing.T) {
	clearEnv(t)

	t.Setenv("APPDOCK_PORTS_MIN", "20000")
	t.Setenv("APPDOCK_PORTS_MAX", "10000")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestLoadConfig_InvalidUploadSize(t *testing.T) {
	clearEnv(t)

	t.Setenv("APPDOCK_UPLOAD_MAX_SIZE", "lots")

	_, err := LoadConfig("")
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestSetupLogger_JSONFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_TextFormat(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}

	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

func TestSetupLogger_InvalidLevel(t *testing.T) {
	cfg := &Config{
		Log: LogConfig{
			Level:  "invalid",
			Format: "json",
		},
	}

	// Should fall back to info level, not panic
	logger := SetupLogger(cfg)
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"APPDOCK_SERVER_HOST",
		"APPDOCK_SERVER_PORT",
		"APPDOCK_DATABASE_DSN",
		"APPDOCK_UPLOAD_DIR",
		"APPDOCK_UPLOAD_MAX_SIZE",
		"APPDOCK_PORTS_MIN",
		"APPDOCK_PORTS_MAX",
		"APPDOCK_LOG_LEVEL",
		"APPDOCK_LOG_FORMAT",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
