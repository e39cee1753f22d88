package traversal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
	"github.com/orneryd/helixdb/pkg/vector"
)

func newTestGraph(t *testing.T) *Graph {
	t.Helper()
	eng, err := storage.Open(storage.Options{InMemory: true, SecondaryIndices: []string{"name"}})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	vecIndex := vector.New(eng, vector.Config{})
	eng.Vectors = vecIndex
	return &Graph{Storage: eng, Vectors: vecIndex}
}

func TestAddN_CreateThenReadBack(t *testing.T) {
	g := newTestGraph(t)

	// Write side of the query.
	txn := g.Storage.BeginRw()
	created := NewMut(g, txn).
		AddN("User", map[string]protocol.Value{"arr": protocol.I64Array([]int64{1, 2, 3})}, nil).
		Collect()
	require.Len(t, created, 1)
	require.NoError(t, txn.Commit())

	user := created[0]
	require.Equal(t, TVNode, user.Kind)
	assert.Equal(t, "User", user.Node.Label)

	// Read side: a later query sees the same object by id.
	ro := g.Storage.BeginRo()
	defer ro.Rollback()
	got := New(g, ro).NFromID(user.Node.ID).Collect()
	require.Len(t, got, 1)
	assert.Equal(t, user.Node.ID, got[0].Node.ID)
	assert.True(t, got[0].Node.Property("arr").Equal(protocol.I64Array([]int64{1, 2, 3})))

	// Serialised shape carries id, label and properties.
	rv := FromTraversalVal(got[0])
	data, err := json.Marshal(rv)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, user.Node.ID.String(), decoded["id"])
	assert.Equal(t, "User", decoded["label"])
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, decoded["arr"])
}

func TestAddE_TraverseOut(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	a := NewMut(g, txn).AddN("File5", nil, nil).CollectToObj()
	b := NewMut(g, txn).AddN("File5", nil, nil).CollectToObj()
	edge := NewMut(g, txn).
		AddE("EdgeFile5", nil, a.Node.ID, b.Node.ID, true, EdgeNode).
		CollectToObj()
	require.Equal(t, TVEdge, edge.Kind)
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	// From a, out yields exactly b.
	out := New(g, ro).NFromID(a.Node.ID).Out("EdgeFile5", EdgeNode).Collect()
	require.Len(t, out, 1)
	assert.Equal(t, b.Node.ID, out[0].Node.ID)

	// From b, out yields nothing.
	assert.Empty(t, New(g, ro).NFromID(b.Node.ID).Out("EdgeFile5", EdgeNode).Collect())

	// The reverse direction works through In.
	in := New(g, ro).NFromID(b.Node.ID).In("EdgeFile5", EdgeNode).Collect()
	require.Len(t, in, 1)
	assert.Equal(t, a.Node.ID, in[0].Node.ID)

	// Edge endpoint resolution.
	from := New(g, ro).EFromID(edge.Edge.ID).FromN().CollectToObj()
	assert.Equal(t, a.Node.ID, from.Node.ID)
	to := New(g, ro).EFromID(edge.Edge.ID).ToN().CollectToObj()
	assert.Equal(t, b.Node.ID, to.Node.ID)

	// Type scan sees both, and out from the scan yields only b once.
	scanned := New(g, ro).NFromType("File5").Out("EdgeFile5", EdgeNode).Collect()
	require.Len(t, scanned, 1)
	assert.Equal(t, b.Node.ID, scanned[0].Node.ID)
}

func TestAddE_ShouldCheckRejectsMissingEndpoint(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	defer txn.Rollback()
	a := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()

	items, err := NewMut(g, txn).
		AddE("Knows", nil, a.Node.ID, protocol.NewID(), true, EdgeNode).
		CollectChecked()
	assert.ErrorIs(t, err, storage.ErrNodeNotFound)
	assert.Empty(t, items)

	// The error stays inside this pipeline; the transaction still works.
	b := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	ok := NewMut(g, txn).AddE("Knows", nil, a.Node.ID, b.Node.ID, true, EdgeNode).Collect()
	assert.Len(t, ok, 1)
}

func TestDrop_CascadeClearsAdjacency(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	a := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	b := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	edge := NewMut(g, txn).AddE("Knows", nil, a.Node.ID, b.Node.ID, true, EdgeNode).CollectToObj()
	require.NoError(t, txn.Commit())

	rw := g.Storage.BeginRw()
	targets := NewMutFrom(g, rw, []TraversalVal{a}).Collect()
	require.NoError(t, Drop(g, rw, targets))
	require.NoError(t, rw.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	// Scanning b's adjacency in either direction returns empty.
	assert.Empty(t, New(g, ro).NFromID(b.Node.ID).In("Knows", EdgeNode).Collect())
	assert.Empty(t, New(g, ro).NFromID(b.Node.ID).InE("Knows").Collect())

	// The edge is gone by id.
	_, err := New(g, ro).EFromID(edge.Edge.ID).CollectChecked()
	assert.ErrorIs(t, err, storage.ErrEdgeNotFound)
}

func TestErrorsStayInStream(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	a := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	// A missing id produces an error item; Collect skips it, the seeded
	// good item still flows in a combined pipeline.
	missing := New(g, ro).NFromID(protocol.NewID())
	assert.Empty(t, missing.Collect())

	_, err := New(g, ro).NFromID(protocol.NewID()).CollectChecked()
	assert.ErrorIs(t, err, storage.ErrNodeNotFound)

	got := New(g, ro).NFromID(a.Node.ID).Collect()
	assert.Len(t, got, 1)
}

func TestNFromIndex(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	alice := NewMut(g, txn).
		AddN("User", map[string]protocol.Value{"name": protocol.String("alice")}, nil).
		CollectToObj()
	NewMut(g, txn).
		AddN("User", map[string]protocol.Value{"name": protocol.String("bob")}, nil).
		Collect()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()
	hits := New(g, ro).NFromIndex("User", "name", protocol.String("alice")).Collect()
	require.Len(t, hits, 1)
	assert.Equal(t, alice.Node.ID, hits[0].Node.ID)

	assert.Empty(t, New(g, ro).NFromIndex("User", "name", protocol.String("carol")).Collect())
}

func TestUtilitySteps(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	for i := 0; i < 5; i++ {
		NewMut(g, txn).AddN("Item", map[string]protocol.Value{"n": protocol.I64(int64(i))}, nil).Collect()
	}
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	// Iteration order follows key order, which is creation order.
	all := New(g, ro).NFromType("Item").Collect()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Node.ID.Compare(all[i].Node.ID) < 0)
	}

	// Range slices.
	window := New(g, ro).NFromType("Item").Range(1, 2).Collect()
	require.Len(t, window, 2)
	assert.Equal(t, all[1].Node.ID, window[0].Node.ID)

	// Filter keeps matching items.
	filtered := New(g, ro).NFromType("Item").
		FilterRef(func(tv TraversalVal, _ *storage.Txn) (bool, error) {
			v, err := tv.CheckProperty("n")
			if err != nil {
				return false, err
			}
			n, _ := v.Int()
			return n%2 == 0, nil
		}).Collect()
	assert.Len(t, filtered, 3)

	// Count counts.
	count := New(g, ro).NFromType("Item").CountToVal()
	cnt, _ := count.Uint()
	assert.Equal(t, uint64(5), cnt)

	// Props projects a sub-object.
	props := New(g, ro).NFromType("Item").Range(0, 1).Props("n").CollectToObj()
	require.Equal(t, TVValue, props.Kind)
	obj, _ := props.Value.Obj()
	assert.True(t, obj["n"].Equal(protocol.I64(0)))

	// First-or-empty on an empty pipeline.
	assert.Equal(t, TVEmpty, New(g, ro).NFromType("Missing").CollectToObj().Kind)
}

func TestDedup_IsIdempotent(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	a := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	b := NewMut(g, txn).AddN("User", nil, nil).CollectToObj()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	seed := []TraversalVal{a, b, a, b, a}
	once := NewFrom(g, ro, seed).Dedup().Collect()
	twice := NewFrom(g, ro, once).Dedup().Collect()
	require.Len(t, once, 2)
	assert.Equal(t, once, twice)
	// First occurrence wins.
	assert.Equal(t, a.Node.ID, once[0].Node.ID)
}

func TestUpdate_MergesProperties(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	n := NewMut(g, txn).
		AddN("User", map[string]protocol.Value{"name": protocol.String("John"), "age": protocol.I32(20)}, nil).
		CollectToObj()
	require.NoError(t, txn.Commit())

	rw := g.Storage.BeginRw()
	updated := NewMutFrom(g, rw, []TraversalVal{n}).
		Update(map[string]protocol.Value{"age": protocol.I32(21)}).
		CollectToObj()
	require.NoError(t, rw.Commit())

	assert.True(t, updated.Node.Property("age").Equal(protocol.I32(21)))
	assert.True(t, updated.Node.Property("name").Equal(protocol.String("John")))

	ro := g.Storage.BeginRo()
	defer ro.Rollback()
	got := New(g, ro).NFromID(n.Node.ID).CollectToObj()
	assert.True(t, got.Node.Property("age").Equal(protocol.I32(21)))
}

func TestShortestPath(t *testing.T) {
	g := newTestGraph(t)

	// a -> b -> d and a -> c -> d plus a long detour a -> e -> f -> d.
	txn := g.Storage.BeginRw()
	mk := func() TraversalVal { return NewMut(g, txn).AddN("N", nil, nil).CollectToObj() }
	a, bNode, c, d, e, f := mk(), mk(), mk(), mk(), mk(), mk()
	link := func(x, y TraversalVal) {
		NewMut(g, txn).AddE("L", nil, x.Node.ID, y.Node.ID, true, EdgeNode).Collect()
	}
	link(a, bNode)
	link(bNode, d)
	link(a, c)
	link(c, d)
	link(a, e)
	link(e, f)
	link(f, d)
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	paths := New(g, ro).NFromID(a.Node.ID).ShortestPath("L", d.Node.ID).Collect()
	require.Len(t, paths, 1)
	path := paths[0].Path

	// Minimal hop count is 2 edges, 3 nodes.
	require.Len(t, path.Edges, 2)
	require.Len(t, path.Nodes, 3)
	assert.Equal(t, a.Node.ID, path.Nodes[0].ID)
	assert.Equal(t, d.Node.ID, path.Nodes[2].ID)

	// Edge endpoints match the node sequence.
	for i, edge := range path.Edges {
		assert.Equal(t, path.Nodes[i].ID, edge.From)
		assert.Equal(t, path.Nodes[i+1].ID, edge.To)
	}

	// The tie between b and c resolves to the lower id.
	middle := bNode.Node.ID
	if c.Node.ID.Compare(middle) < 0 {
		middle = c.Node.ID
	}
	assert.Equal(t, middle, path.Nodes[1].ID)

	// Unreachable target yields nothing.
	isolated := func() TraversalVal {
		rw := g.Storage.BeginRw()
		defer rw.Rollback()
		n := NewMut(g, rw).AddN("N", nil, nil).CollectToObj()
		rw.Commit()
		return n
	}()
	assert.Empty(t, New(g, ro2(t, g)).NFromID(a.Node.ID).ShortestPath("L", isolated.Node.ID).Collect())
}

func ro2(t *testing.T, g *Graph) *storage.Txn {
	t.Helper()
	txn := g.Storage.BeginRo()
	t.Cleanup(txn.Rollback)
	return txn
}

func TestRemapping_SpreadRenameExcludeInject(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	john := NewMut(g, txn).
		AddN("User", map[string]protocol.Value{"name": protocol.String("John"), "age": protocol.I32(20)}, nil).
		CollectToObj()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	vals := New(g, ro).NFromID(john.Node.ID).Collect()
	require.Len(t, vals, 1)

	remap := NewRemappingMap()
	id := john.Node.ID
	remap.Set(id, true, "username", InjectField(CheckPropertyRV(vals[0], "name")))
	remap.Set(id, true, "age", InjectField(RVString("21")))

	out := FromTraversalValsWithMixin(vals, remap)
	data, err := json.Marshal(out)
	require.NoError(t, err)

	var arr []map[string]any
	require.NoError(t, json.Unmarshal(data, &arr))
	require.Len(t, arr, 1)
	obj := arr[0]
	assert.Equal(t, id.String(), obj["id"])
	assert.Equal(t, "User", obj["label"])
	assert.Equal(t, "John", obj["name"])
	assert.Equal(t, "21", obj["age"], "injected value wins over the natural field")
	assert.Equal(t, "John", obj["username"])

	// Directives are consumed: the same map does not fire twice.
	assert.Empty(t, remap)

	// Exclude and rename, without spread only injected fields emit.
	vals = New(g, ro).NFromID(id).Collect()
	remap = NewRemappingMap()
	remap.Set(id, true, "age", ExcludeField())
	remap.Set(id, true, "name", RenameField("displayName"))
	out = FromTraversalValsWithMixin(vals, remap)
	data, _ = json.Marshal(out)
	arr = nil // Unmarshal would merge into the previous element's map
	require.NoError(t, json.Unmarshal(data, &arr))
	obj = arr[0]
	_, hasAge := obj["age"]
	assert.False(t, hasAge)
	_, hasName := obj["name"]
	assert.False(t, hasName)
	assert.Equal(t, "John", obj["displayName"])

	vals = New(g, ro).NFromID(id).Collect()
	remap = NewRemappingMap()
	remap.Set(id, false, "only", InjectField(RVString("this")))
	out = FromTraversalValsWithMixin(vals, remap)
	data, _ = json.Marshal(out)
	arr = nil
	require.NoError(t, json.Unmarshal(data, &arr))
	obj = arr[0]
	assert.Equal(t, map[string]any{"only": "this"}, obj)
}

func TestMap_SubTraversalSharesTxn(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	a := NewMut(g, txn).AddN("User", map[string]protocol.Value{"name": protocol.String("a")}, nil).CollectToObj()
	b := NewMut(g, txn).AddN("User", map[string]protocol.Value{"name": protocol.String("b")}, nil).CollectToObj()
	NewMut(g, txn).AddE("Knows", nil, a.Node.ID, b.Node.ID, true, EdgeNode).Collect()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	mapped := New(g, ro).NFromID(a.Node.ID).
		Map(func(tv TraversalVal, txn *storage.Txn) (TraversalVal, error) {
			// Count the item's neighbours with a sub-traversal on the same
			// transaction.
			n := New(g, txn).NFromID(tv.Node.ID).Out("Knows", EdgeNode).CountToVal()
			return ScalarVal(n), nil
		}).Collect()
	require.Len(t, mapped, 1)
	cnt, _ := mapped[0].Value.Uint()
	assert.Equal(t, uint64(1), cnt)
}

func TestVectorSteps(t *testing.T) {
	g := newTestGraph(t)

	txn := g.Storage.BeginRw()
	inserted := NewMut(g, txn).
		InsertV("Emb", []float64{1, 0, 0, 0}, map[string]protocol.Value{"tag": protocol.String("x")}).
		CollectToObj()
	require.Equal(t, TVVector, inserted.Kind)
	NewMut(g, txn).InsertV("Emb", []float64{0, 1, 0, 0}, nil).Collect()
	require.NoError(t, txn.Commit())

	ro := g.Storage.BeginRo()
	defer ro.Rollback()

	near := New(g, ro).SearchV([]float64{0.9, 0.1, 0, 0}, 1, "Emb", 16, nil).Collect()
	require.Len(t, near, 1)
	assert.Equal(t, inserted.Vector.ID, near[0].Vector.ID)

	brute := New(g, ro).BruteForceSearchV([]float64{0.9, 0.1, 0, 0}, 1, "Emb").Collect()
	require.Len(t, brute, 1)
	assert.Equal(t, inserted.Vector.ID, brute[0].Vector.ID)

	// Edges can target vectors when declared as such.
	rw := g.Storage.BeginRw()
	owner := NewMut(g, rw).AddN("User", nil, nil).CollectToObj()
	edge := NewMut(g, rw).
		AddE("HasEmbedding", nil, owner.Node.ID, inserted.Vector.ID, true, EdgeVec).
		CollectToObj()
	require.Equal(t, TVEdge, edge.Kind)
	require.NoError(t, rw.Commit())

	ro3 := g.Storage.BeginRo()
	defer ro3.Rollback()
	vecs := New(g, ro3).NFromID(owner.Node.ID).Out("HasEmbedding", EdgeVec).Collect()
	require.Len(t, vecs, 1)
	assert.Equal(t, TVVector, vecs[0].Kind)
	assert.Equal(t, inserted.Vector.ID, vecs[0].Vector.ID)
}
