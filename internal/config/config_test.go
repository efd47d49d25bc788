package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "pw")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./tinypaste.db", cfg.DataPath)
	assert.Equal(t, 1_048_576, cfg.MaxBytes)
	assert.Equal(t, 20, cfg.PageSize)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 512, cfg.CacheSize)
	assert.Equal(t, time.Minute, cfg.StatsInterval)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.BehindProxy)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "pw")
	t.Setenv("ADDR", "127.0.0.1:9000")
	t.Setenv("MAX_BYTES", "2048")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("BEHIND_PROXY", "true")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/paste")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr)
	assert.Equal(t, 2048, cfg.MaxBytes)
	assert.Equal(t, 30*time.Minute, cfg.SessionTTL)
	assert.True(t, cfg.BehindProxy)
	assert.Equal(t, "postgresql://u:p@db/paste", cfg.DatabaseURL)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "pw")
	t.Setenv("ADDR", ":7000")
	t.Setenv("PAGE_SIZE", "50")

	cfg, err := Load("", []string{"-addr", ":9999", "-max-bytes", "10"})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 10, cfg.MaxBytes)
	// untouched flags keep the environment value
	assert.Equal(t, 50, cfg.PageSize)
}

func TestEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ADMIN_PASSWORD_HASH='$argon2id$stub'\nLOG_FORMAT=console\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("ADMIN_PASSWORD_HASH")
		os.Unsetenv("LOG_FORMAT")
	})

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.NotEmpty(t, cfg.AdminPasswordHash)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "pw")
	_, err := Load(filepath.Join(t.TempDir(), "absent.env"), nil)
	assert.NoError(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("ADMIN_PASSWORD", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	_, err := Load("", nil)
	assert.Error(t, err)

	t.Setenv("ADMIN_PASSWORD", "pw")
	_, err = Load("", []string{"-max-bytes", "0"})
	assert.Error(t, err)

	_, err = Load("", []string{"-page-size", "-1"})
	assert.Error(t, err)

	_, err = Load("", []string{"-no-such-flag"})
	assert.Error(t, err)
}
