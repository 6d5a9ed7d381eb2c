package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.NotNil(t, cfg.Profiles)
	assert.Empty(t, cfg.Profiles)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 30, cfg.List.PerPage)
	assert.Equal(t, time.Minute, cfg.Auth.AutoRefreshInterval)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ExpiryBuffer)
	assert.Equal(t, "file", cfg.Store.Backend)
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.CurrentProfile)
	assert.Equal(t, "http://localhost:8000", cfg.Defaults.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
}

func TestLoad_WithConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")

	configContent := `current_profile: production
profiles:
  production:
    base_url: https://admin.bmr.example.org
http:
  timeout: 10s
  csrf_token: static-token
list:
  per_page: 50
store:
  backend: sqlite
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.CurrentProfile)
	assert.Equal(t, "https://admin.bmr.example.org", cfg.BaseURL(""))
	assert.Equal(t, 10*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "static-token", cfg.HTTP.CSRFToken)
	assert.Equal(t, 50, cfg.List.PerPage)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ExpiryBuffer, "unset keys keep defaults")
	assert.Equal(t, filepath.Join(filepath.Dir(configPath), "sessions", "production.db"), cfg.StorePath(""))
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BMR_BASE_URL", "http://env.example.org")
	t.Setenv("BMR_STORE_BACKEND", "redis")
	t.Setenv("BMR_REDIS_ADDR", "localhost:6380")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env.example.org", cfg.BaseURL("unknown"))
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6380", cfg.Store.RedisAddr)
}

func TestSaveProfile_RoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("staging", "https://staging.bmr.example.org"))

	info, err := os.Stat(configPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reloaded, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", reloaded.CurrentProfile)
	assert.Equal(t, "https://staging.bmr.example.org", reloaded.BaseURL("staging"))
	assert.Equal(t, 30*time.Second, reloaded.HTTP.Timeout)
}

func TestRemoveProfile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.SaveProfile("a", "http://a"))

	require.NoError(t, cfg.RemoveProfile("a"))
	assert.Empty(t, cfg.CurrentProfile)

	err = cfg.RemoveProfile("a")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetProfile_NotFound(t *testing.T) {
	cfg := Default()
	_, err := cfg.GetProfile("nope")
	require.Error(t, err)
	assert.Equal(t, "profile 'nope' not found", err.Error())
}
