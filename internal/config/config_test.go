package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/compass-agent/internal/config"
	"github.com/PabloGalante/compass-agent/internal/domain"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into assertions.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COMPASS_CONFIG", "COMPASS_PORT", "PORT", "COMPASS_PROVIDER", "COMPASS_API_KEY", "API_KEY",
		"COMPASS_STORAGE_BACKEND", "COMPASS_GCP_PROJECT", "COMPASS_RETRY_MAX_ATTEMPTS",
		"COMPASS_RETRY_BASE_DELAY", "COMPASS_REDIS_TTL", "COMPASS_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, string(domain.ProviderGemini), cfg.Provider)
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, config.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.AnalysisModel)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.DeepSeek.BaseURL)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPASS_PROVIDER", "deepseek")
	t.Setenv("API_KEY", "fallback-key")
	t.Setenv("COMPASS_STORAGE_BACKEND", "redis")
	t.Setenv("COMPASS_REDIS_TTL", "24h")
	t.Setenv("COMPASS_RETRY_BASE_DELAY", "250ms")
	t.Setenv("PORT", "9090")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "deepseek", cfg.Provider)
	assert.Equal(t, "fallback-key", cfg.APIKey)
	assert.Equal(t, config.BackendRedis, cfg.Storage.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Storage.RedisTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "9090", cfg.Port)
}

func TestCompassAPIKeyWinsOverFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("COMPASS_API_KEY", "primary")
	t.Setenv("API_KEY", "fallback")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.APIKey)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "compass.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: mock
storage:
  backend: sqlite
  sqlite_path: /tmp/x.db
retry:
  max_attempts: 5
`), 0o600))

	// env still beats the file
	t.Setenv("COMPASS_RETRY_MAX_ATTEMPTS", "2")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mock", cfg.Provider)
	assert.Equal(t, config.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.Storage.SQLitePath)
	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"COMPASS_STORAGE_BACKEND": "postgres"}},
		{"firestore without project", map[string]string{"COMPASS_STORAGE_BACKEND": "firestore"}},
		{"unknown provider", map[string]string{"COMPASS_PROVIDER": "oracle"}},
		{"no attempts", map[string]string{"COMPASS_RETRY_MAX_ATTEMPTS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
