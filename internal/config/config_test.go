package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves into an empty directory so no stray .env is picked up.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := chdir(t)
	t.Setenv("AKTEN_DB", "")
	t.Setenv("AKTEN_ADDR", "")
	t.Setenv("AKTEN_DEV", "")

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "akten.db", filepath.Base(cfg.DBPath))
	assert.False(t, cfg.Dev)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/archiv.db
addr: ":9000"
tenant_address: "Hauptstraße 1, 12345 Berlin"
dev: true
`), 0o644))

	t.Setenv("AKTEN_DB", "")
	t.Setenv("AKTEN_DEV", "")
	t.Setenv("AKTEN_ADDR", ":7000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/archiv.db", cfg.DBPath)
	assert.Equal(t, ":7000", cfg.Addr, "environment wins over file")
	assert.Equal(t, "Hauptstraße 1, 12345 Berlin", cfg.TenantAddress)
	assert.True(t, cfg.Dev)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdir(t)
	t.Setenv("AKTEN_MODEL", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AKTEN_MODEL=test-model\n"), 0o644))
	// godotenv never overrides variables that are already set, even empty ones.
	os.Unsetenv("AKTEN_MODEL")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "test-model", cfg.Model)
	os.Unsetenv("AKTEN_MODEL")
}

func TestLoadRejectsBadFile(t *testing.T) {
	dir := chdir(t)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
