package vector

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

func newTestIndex(t *testing.T, cfg Config) (*storage.Engine, *Index) {
	t.Helper()
	eng, err := storage.Open(storage.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng, New(eng, cfg)
}

func randVec(rng *rand.Rand, dim int) []float64 {
	v := make([]float64, dim)
	for i := range v {
		v[i] = rng.Float64()
	}
	return v
}

func TestInsert_RejectsWrongDimension(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 4})
	txn := eng.BeginRw()
	defer txn.Rollback()

	_, err := ix.Insert(txn, "Emb", []float64{1, 2, 3}, nil)
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)

	_, err = ix.Insert(txn, "Emb", nil, nil)
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)

	_, err = ix.Insert(txn, "Emb", []float64{1, 2, 3, 4}, nil)
	assert.NoError(t, err)
}

func TestSearch_EmptyIndexYieldsEmpty(t *testing.T) {
	eng, ix := newTestIndex(t, Config{})
	txn := eng.BeginRo()
	defer txn.Rollback()

	// Missing entry point is empty, not an error.
	results, err := ix.Search(txn, []float64{1, 2}, 5, "", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestInsert_LayerPresenceInvariant(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 8, EfConstruction: 32})
	rng := rand.New(rand.NewSource(7))

	txn := eng.BeginRw()
	var ids []protocol.ID
	for i := 0; i < 60; i++ {
		v, err := ix.Insert(txn, "Emb", randVec(rng, 8), nil)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	require.NoError(t, txn.Commit())

	ro := eng.BeginRo()
	defer ro.Rollback()

	for _, id := range ids {
		base, err := ix.Get(ro, id)
		require.NoError(t, err)
		// A vector at layer L is present at every layer below it, and each
		// layer's neighbour ids are themselves present at that layer.
		for l := 0; l <= base.Level; l++ {
			val, ok, err := ro.Get(storage.VectorKey(id, uint8(l)))
			require.NoError(t, err)
			require.True(t, ok, "vector %s missing at layer %d of %d", id, l, base.Level)
			rec, err := storage.DecodeVectorRecord(id, l, val)
			require.NoError(t, err)
			for _, nb := range rec.Neighbors {
				_, nbOK, err := ro.Get(storage.VectorKey(nb, uint8(l)))
				require.NoError(t, err)
				assert.True(t, nbOK, "neighbour %s absent at layer %d", nb, l)
			}
		}
		// And absent above its level.
		_, ok, err := ro.Get(storage.VectorKey(id, uint8(base.Level+1)))
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestSearch_RecallAgainstBruteForce(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 16, EfConstruction: 100})
	rng := rand.New(rand.NewSource(42))

	txn := eng.BeginRw()
	for i := 0; i < 400; i++ {
		_, err := ix.Insert(txn, "Emb", randVec(rng, 16), nil)
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	ro := eng.BeginRo()
	defer ro.Rollback()

	const k = 10
	queries := 20
	var hits, total int
	for q := 0; q < queries; q++ {
		query := randVec(rng, 16)

		exact, err := ix.BruteForce(ro, query, k, "Emb")
		require.NoError(t, err)
		approx, err := ix.Search(ro, query, k, "Emb", 64, nil)
		require.NoError(t, err)
		require.NotEmpty(t, approx)

		truth := make(map[protocol.ID]struct{}, len(exact))
		for _, v := range exact {
			truth[v.ID] = struct{}{}
		}
		for _, v := range approx {
			if _, ok := truth[v.ID]; ok {
				hits++
			}
		}
		total += len(exact)

		// Results arrive in ascending distance order.
		for i := 1; i < len(approx); i++ {
			assert.LessOrEqual(t, approx[i-1].Distance, approx[i].Distance)
		}
	}
	recall := float64(hits) / float64(total)
	assert.GreaterOrEqual(t, recall, 0.95, "recall@%d = %.3f", k, recall)
}

func TestSearch_LabelFilter(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 4})
	rng := rand.New(rand.NewSource(3))

	txn := eng.BeginRw()
	for i := 0; i < 20; i++ {
		label := "A"
		if i%2 == 1 {
			label = "B"
		}
		_, err := ix.Insert(txn, label, randVec(rng, 4), nil)
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	ro := eng.BeginRo()
	defer ro.Rollback()
	results, err := ix.Search(ro, []float64{0.5, 0.5, 0.5, 0.5}, 5, "A", 32, nil)
	require.NoError(t, err)
	for _, v := range results {
		assert.Equal(t, "A", v.Label)
	}
}

func TestDrop_RemovesEveryLayerAndReconnects(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 8, EfConstruction: 48})
	rng := rand.New(rand.NewSource(11))

	txn := eng.BeginRw()
	var ids []protocol.ID
	for i := 0; i < 40; i++ {
		v, err := ix.Insert(txn, "Emb", randVec(rng, 8), nil)
		require.NoError(t, err)
		ids = append(ids, v.ID)
	}
	require.NoError(t, txn.Commit())

	victim := ids[5]
	rw := eng.BeginRw()
	require.NoError(t, ix.Drop(rw, victim))
	require.NoError(t, rw.Commit())

	ro := eng.BeginRo()
	defer ro.Rollback()

	// No layer record of the victim survives.
	found := false
	require.NoError(t, ro.IterateKeys(storage.VectorPrefix(victim), func([]byte) (bool, error) {
		found = true
		return false, nil
	}))
	assert.False(t, found)

	// No surviving neighbour list references the victim.
	require.NoError(t, ro.IteratePrefix(storage.VectorsTablePrefix(), func(key, val []byte) (bool, error) {
		id, err := protocol.IDFromBytes(key[1 : 1+16])
		require.NoError(t, err)
		rec, err := storage.DecodeVectorRecord(id, int(key[len(key)-1]), val)
		require.NoError(t, err)
		for _, nb := range rec.Neighbors {
			assert.NotEqual(t, victim, nb, "dangling neighbour link on %s", id)
		}
		return true, nil
	}))

	// The index still answers searches over the survivors.
	results, err := ix.Search(ro, randVec(rng, 8), 5, "Emb", 32, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestDrop_EntryPointReelection(t *testing.T) {
	eng, ix := newTestIndex(t, Config{Dimension: 4})
	rng := rand.New(rand.NewSource(19))

	txn := eng.BeginRw()
	for i := 0; i < 10; i++ {
		_, err := ix.Insert(txn, "Emb", randVec(rng, 4), nil)
		require.NoError(t, err)
	}
	require.NoError(t, txn.Commit())

	// Drop whatever holds the entry point; searches must keep working.
	rw := eng.BeginRw()
	ep, _, hasEntry, err := ix.entryPoint(rw)
	require.NoError(t, err)
	require.True(t, hasEntry)
	require.NoError(t, ix.Drop(rw, ep))
	require.NoError(t, rw.Commit())

	ro := eng.BeginRo()
	defer ro.Rollback()
	results, err := ix.Search(ro, randVec(rng, 4), 3, "Emb", 16, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)

	_, _, hasEntry, err = ix.entryPoint(ro)
	require.NoError(t, err)
	assert.True(t, hasEntry)
}

func TestVectorRecord_RoundTrip(t *testing.T) {
	v := &storage.Vector{
		ID:         protocol.NewID(),
		Label:      "Emb",
		Data:       []float64{0.25, -1.5, 3.75},
		Level:      2,
		Properties: map[string]protocol.Value{"src": protocol.String("doc-1")},
	}
	neighbors := []protocol.ID{protocol.NewID(), protocol.NewID()}

	for _, wide := range []bool{false, true} {
		data, err := storage.EncodeVectorRecord(v, neighbors, true, wide)
		require.NoError(t, err)
		back, err := storage.DecodeVectorRecord(v.ID, 0, data)
		require.NoError(t, err)
		assert.Equal(t, v.Label, back.Label)
		assert.Equal(t, v.Level, back.Level)
		assert.Equal(t, neighbors, back.Neighbors)
		require.Len(t, back.Data, len(v.Data))
		for i := range v.Data {
			assert.InDelta(t, v.Data[i], back.Data[i], 1e-6)
		}
		assert.True(t, back.Property("src").Equal(protocol.String("doc-1")))
	}

	// Upper-layer records carry neighbours only.
	data, err := storage.EncodeVectorRecord(v, neighbors[:1], false, false)
	require.NoError(t, err)
	back, err := storage.DecodeVectorRecord(v.ID, 2, data)
	require.NoError(t, err)
	assert.Empty(t, back.Data)
	assert.Equal(t, neighbors[:1], back.Neighbors)
	assert.Equal(t, 2, back.Level)
}
