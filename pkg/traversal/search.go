package traversal

import (
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// SearchV runs a k-NN query against the HNSW index, restricted to label,
// and yields the matching vectors ordered by distance. filter may be nil.
func (t *Traversal) SearchV(query []float64, k int, label string, ef int, filter func(*storage.Vector) bool) *Traversal {
	if t.graph.Vectors == nil {
		return t.with(onceIter(errItem(fmt.Errorf("%w: no vector index", storage.ErrVectorNotFound))))
	}
	results, err := t.graph.Vectors.Search(t.txn, query, k, label, ef, filter)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	items := make([]Item, len(results))
	for i, v := range results {
		items[i] = okItem(VectorVal(v))
	}
	return t.with(&sliceIter{items: items})
}

// BruteForceSearchV linearly scans every vector with the label, keeping
// a bounded top-k. Used when the index is absent or explicitly requested.
func (t *Traversal) BruteForceSearchV(query []float64, k int, label string) *Traversal {
	if t.graph.Vectors == nil {
		return t.with(onceIter(errItem(fmt.Errorf("%w: no vector index", storage.ErrVectorNotFound))))
	}
	results, err := t.graph.Vectors.BruteForce(t.txn, query, k, label)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	items := make([]Item, len(results))
	for i, v := range results {
		items[i] = okItem(VectorVal(v))
	}
	return t.with(&sliceIter{items: items})
}

// SearchBM25 runs a keyword query against the label's corpus and yields
// the matching nodes in descending score order.
func (t *Traversal) SearchBM25(label, query string, limit int) *Traversal {
	if t.graph.Keyword == nil {
		return t.with(onceIter(errItem(fmt.Errorf("%w: keyword index disabled", protocol.ErrInvalidInput))))
	}
	ids, err := t.graph.Keyword.Search(t.txn, label, query, limit)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	pos := 0
	return t.with(funcIter(func() (Item, bool) {
		if pos >= len(ids) {
			return Item{}, false
		}
		id := ids[pos]
		pos++
		node, err := t.graph.Storage.GetNode(t.txn, id)
		if err != nil {
			return errItem(err), true
		}
		return okItem(NodeVal(node)), true
	}))
}
