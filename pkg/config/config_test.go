package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "helixdb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_max_size_gb: 25
vector_config:
  m: 24
  dimension: 64
graph_config:
  secondary_indices: [name, email]
bm25:
  enabled: false
graphvis_node_label: User
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.DBMaxSizeGB)
	assert.Equal(t, 24, cfg.VectorConfig.M)
	assert.Equal(t, 64, cfg.VectorConfig.Dimension)
	assert.Equal(t, []string{"name", "email"}, cfg.GraphConfig.SecondaryIndices)
	assert.False(t, cfg.BM25.Enabled)
	assert.Equal(t, "User", cfg.GraphvisNodeLabel)

	// Untouched fields keep their defaults.
	assert.Equal(t, 200, cfg.VectorConfig.EfConstruction)
	assert.Equal(t, 6969, cfg.Server.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().VectorConfig.M, cfg.VectorConfig.M)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HELIXDB_VECTOR_DIMENSION", "128")
	t.Setenv("HELIXDB_BM25_ENABLED", "false")
	t.Setenv("HELIXDB_SECONDARY_INDICES", "name, title")
	t.Setenv("HELIXDB_HTTP_PORT", "8080")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.VectorConfig.Dimension)
	assert.False(t, cfg.BM25.Enabled)
	assert.Equal(t, []string{"name", "title"}, cfg.GraphConfig.SecondaryIndices)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Auth.Enabled = true
	assert.Error(t, cfg.Validate(), "auth without a password is refused")
	cfg.Auth.AdminPassword = "secret"
	assert.NoError(t, cfg.Validate())
}
