// Package helix wires the storage engine, vector index and keyword index
// into one database handle. This is the embedding surface: open a
// directory, run traversals, close.
//
// Example:
//
//	db, err := helix.Open("./data", config.Default())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	txn := db.Storage.BeginRw()
//	defer txn.Rollback()
//	user := traversal.NewMut(db.Graph(), txn).
//		AddN("User", map[string]protocol.Value{"name": protocol.String("Ada")}, nil).
//		CollectToObj()
//	if err := txn.Commit(); err != nil {
//		log.Fatal(err)
//	}
//	_ = user
package helix

import (
	"fmt"

	"github.com/orneryd/helixdb/pkg/bm25"
	"github.com/orneryd/helixdb/pkg/config"
	"github.com/orneryd/helixdb/pkg/storage"
	"github.com/orneryd/helixdb/pkg/traversal"
	"github.com/orneryd/helixdb/pkg/vector"
)

// DB bundles the opened environment with its indexes.
type DB struct {
	Storage *storage.Engine
	Vectors *vector.Index
	Keyword *bm25.Index
	Config  *config.Config

	graph *traversal.Graph
}

// Open opens the environment at path and wires the indexes per cfg.
func Open(path string, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	eng, err := storage.Open(storage.Options{
		Path:             path,
		MaxSizeGB:        cfg.DBMaxSizeGB,
		SecondaryIndices: cfg.GraphConfig.SecondaryIndices,
		Float64:          cfg.VectorConfig.Float64,
	})
	if err != nil {
		return nil, err
	}

	vectors := vector.New(eng, vector.Config{
		M:              cfg.VectorConfig.M,
		EfConstruction: cfg.VectorConfig.EfConstruction,
		EfSearch:       cfg.VectorConfig.EfSearch,
		Dimension:      cfg.VectorConfig.Dimension,
		Cosine:         cfg.VectorConfig.Cosine,
	})
	eng.Vectors = vectors

	db := &DB{Storage: eng, Vectors: vectors, Config: cfg}
	db.graph = &traversal.Graph{Storage: eng, Vectors: vectors}

	if cfg.BM25.Enabled {
		keyword := bm25.New(eng)
		eng.Keyword = keyword
		db.Keyword = keyword
		db.graph.Keyword = keyword
	}
	return db, nil
}

// OpenInMemory opens a throwaway in-memory database. For tests.
func OpenInMemory(cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	eng, err := storage.Open(storage.Options{
		InMemory:         true,
		SecondaryIndices: cfg.GraphConfig.SecondaryIndices,
		Float64:          cfg.VectorConfig.Float64,
	})
	if err != nil {
		return nil, err
	}
	vectors := vector.New(eng, vector.Config{
		M:              cfg.VectorConfig.M,
		EfConstruction: cfg.VectorConfig.EfConstruction,
		EfSearch:       cfg.VectorConfig.EfSearch,
		Dimension:      cfg.VectorConfig.Dimension,
		Cosine:         cfg.VectorConfig.Cosine,
	})
	eng.Vectors = vectors
	db := &DB{Storage: eng, Vectors: vectors, Config: cfg}
	db.graph = &traversal.Graph{Storage: eng, Vectors: vectors}
	if cfg.BM25.Enabled {
		keyword := bm25.New(eng)
		eng.Keyword = keyword
		db.Keyword = keyword
		db.graph.Keyword = keyword
	}
	return db, nil
}

// Graph returns the traversal binding over this database.
func (db *DB) Graph() *traversal.Graph { return db.graph }

// Close flushes and closes the environment.
func (db *DB) Close() error { return db.Storage.Close() }
