package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stronghold/trade-engine/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPath_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "./data/trades.db", cfg.DBPath)
	assert.NotEmpty(t, cfg.CORS.AllowedOrigins)
	assert.False(t, cfg.SeedOnStart)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
db_path: /var/lib/trades/trades.db
seed_on_start: true
cors:
  allowed_origins:
    - https://ledger.example.com
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/var/lib/trades/trades.db", cfg.DBPath)
	assert.True(t, cfg.SeedOnStart)
	assert.Equal(t, []string{"https://ledger.example.com"}, cfg.CORS.AllowedOrigins)
}

func TestLoad_PartialFile_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, `listen: ":3000"`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":3000", cfg.Listen)
	assert.Equal(t, "./data/trades.db", cfg.DBPath)
}

func TestLoad_MissingFile_Errors(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML_Errors(t *testing.T) {
	path := writeConfig(t, "listen: [unclosed")

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoad_BlankListen_Rejected(t *testing.T) {
	path := writeConfig(t, `listen: " "`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate_BlankOrigin_Rejected(t *testing.T) {
	cfg := config.Config{
		Listen: ":8080",
		DBPath: "x.db",
		CORS:   config.CORS{AllowedOrigins: []string{"https://ok.example.com", ""}},
	}
	assert.Error(t, cfg.Validate())
}
