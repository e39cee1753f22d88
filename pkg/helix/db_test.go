package helix

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/helixdb/pkg/config"
	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/traversal"
)

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg := config.Default()
	cfg.DataDir = dir

	db, err := Open(dir, cfg)
	require.NoError(t, err)

	txn := db.Storage.BeginRw()
	user := traversal.NewMut(db.Graph(), txn).
		AddN("User", map[string]protocol.Value{"name": protocol.String("Ada")}, nil).
		CollectToObj()
	require.NoError(t, txn.Commit())
	require.NoError(t, db.Close())

	db, err = Open(dir, cfg)
	require.NoError(t, err)
	defer db.Close()

	ro := db.Storage.BeginRo()
	defer ro.Rollback()
	got := traversal.New(db.Graph(), ro).NFromID(user.Node.ID).CollectToObj()
	require.Equal(t, traversal.TVNode, got.Kind)
	assert.True(t, got.Node.Property("name").Equal(protocol.String("Ada")))
}

func TestOpen_BM25Toggle(t *testing.T) {
	cfg := config.Default()
	cfg.BM25.Enabled = false
	db, err := OpenInMemory(cfg)
	require.NoError(t, err)
	defer db.Close()
	assert.Nil(t, db.Keyword)
	assert.Nil(t, db.Graph().Keyword)

	cfg2 := config.Default()
	db2, err := OpenInMemory(cfg2)
	require.NoError(t, err)
	defer db2.Close()
	assert.NotNil(t, db2.Keyword)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = -5
	_, err := OpenInMemory(cfg)
	assert.Error(t, err)
}
