package traversal

import (
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// Iter is the pull-based pipeline element. Next returns the next item
// and whether one was produced; after false it must keep returning
// false.
type Iter interface {
	Next() (Item, bool)
}

// funcIter adapts a closure to Iter.
type funcIter func() (Item, bool)

func (f funcIter) Next() (Item, bool) { return f() }

// sliceIter yields a fixed set of items.
type sliceIter struct {
	items []Item
	pos   int
}

func (s *sliceIter) Next() (Item, bool) {
	if s.pos >= len(s.items) {
		return Item{}, false
	}
	item := s.items[s.pos]
	s.pos++
	return item, true
}

func emptyIter() Iter { return &sliceIter{} }

func valsIter(vals []TraversalVal) Iter {
	items := make([]Item, len(vals))
	for i, v := range vals {
		items[i] = okItem(v)
	}
	return &sliceIter{items: items}
}

func onceIter(item Item) Iter { return &sliceIter{items: []Item{item}} }

// Graph bundles the storage engine with the indexes traversals reach
// into. One Graph serves the whole process; transactions are per query.
type Graph struct {
	Storage *storage.Engine
	Vectors VectorSearcher
	Keyword KeywordSearcher
}

// VectorSearcher is what the vector steps need from the HNSW index.
type VectorSearcher interface {
	storage.VectorStore
	Get(txn *storage.Txn, id protocol.ID) (*storage.Vector, error)
	Insert(txn *storage.Txn, label string, data []float64, props map[string]protocol.Value) (*storage.Vector, error)
	Search(txn *storage.Txn, query []float64, k int, label string, ef int, filter func(*storage.Vector) bool) ([]*storage.Vector, error)
	BruteForce(txn *storage.Txn, query []float64, k int, label string) ([]*storage.Vector, error)
}

// KeywordSearcher is what the keyword step needs from the BM25 index.
type KeywordSearcher interface {
	Search(txn *storage.Txn, label, query string, limit int) ([]protocol.ID, error)
}

// Traversal is the read-only pipeline. It borrows the transaction for
// its whole life; the transaction must stay open until a terminal has
// consumed the pipeline.
type Traversal struct {
	inner Iter
	graph *Graph
	txn   *storage.Txn
}

// New starts an empty read-only traversal on txn.
func New(graph *Graph, txn *storage.Txn) *Traversal {
	return &Traversal{inner: emptyIter(), graph: graph, txn: txn}
}

// NewFrom starts a read-only traversal seeded with vals.
func NewFrom(graph *Graph, txn *storage.Txn, vals []TraversalVal) *Traversal {
	return &Traversal{inner: valsIter(vals), graph: graph, txn: txn}
}

func (t *Traversal) with(inner Iter) *Traversal {
	return &Traversal{inner: inner, graph: t.graph, txn: t.txn}
}

// Next pulls the next pipeline item.
func (t *Traversal) Next() (Item, bool) { return t.inner.Next() }

// RwTraversal is the mutating pipeline. It exclusively borrows the
// process's single write transaction.
type RwTraversal struct {
	inner Iter
	graph *Graph
	txn   *storage.Txn
}

// NewMut starts an empty read-write traversal on a write transaction.
func NewMut(graph *Graph, txn *storage.Txn) *RwTraversal {
	return &RwTraversal{inner: emptyIter(), graph: graph, txn: txn}
}

// NewMutFrom starts a read-write traversal seeded with vals.
func NewMutFrom(graph *Graph, txn *storage.Txn, vals []TraversalVal) *RwTraversal {
	return &RwTraversal{inner: valsIter(vals), graph: graph, txn: txn}
}

func (t *RwTraversal) with(inner Iter) *RwTraversal {
	return &RwTraversal{inner: inner, graph: t.graph, txn: t.txn}
}

// Next pulls the next pipeline item.
func (t *RwTraversal) Next() (Item, bool) { return t.inner.Next() }

// Ro reopens the read-write pipeline as a read-only traversal on the
// same transaction, so read steps can follow mutations and see their
// writes.
func (t *RwTraversal) Ro() *Traversal {
	return &Traversal{inner: t.inner, graph: t.graph, txn: t.txn}
}

// ============================================================================
// Terminals
// ============================================================================

func collect(it Iter) []TraversalVal {
	var out []TraversalVal
	for {
		item, ok := it.Next()
		if !ok {
			return out
		}
		if item.Err != nil {
			continue
		}
		out = append(out, item.Val)
	}
}

func collectChecked(it Iter) ([]TraversalVal, error) {
	var out []TraversalVal
	for {
		item, ok := it.Next()
		if !ok {
			return out, nil
		}
		if item.Err != nil {
			return nil, item.Err
		}
		out = append(out, item.Val)
	}
}

func collectDedup(it Iter) []TraversalVal {
	var out []TraversalVal
	seen := make(map[protocol.ID]struct{})
	for {
		item, ok := it.Next()
		if !ok {
			return out
		}
		if item.Err != nil {
			continue
		}
		if id, hasID := item.Val.ID(); hasID {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
		}
		out = append(out, item.Val)
	}
}

func takeAndCollect(it Iter, n int) []TraversalVal {
	var out []TraversalVal
	for len(out) < n {
		item, ok := it.Next()
		if !ok {
			break
		}
		if item.Err != nil {
			continue
		}
		out = append(out, item.Val)
	}
	return out
}

func countToVal(it Iter) protocol.Value {
	n := 0
	for {
		_, ok := it.Next()
		if !ok {
			return protocol.U64(uint64(n))
		}
		n++
	}
}

func collectToObj(it Iter) TraversalVal {
	for {
		item, ok := it.Next()
		if !ok {
			return EmptyVal
		}
		if item.Err != nil {
			continue
		}
		return item.Val
	}
}

func mapValueOr(it Iter, def bool, f func(protocol.Value) bool) (bool, error) {
	item, ok := it.Next()
	if !ok {
		return def, nil
	}
	if item.Err != nil {
		return false, item.Err
	}
	if item.Val.Kind != TVValue {
		return false, fmt.Errorf("%w: expected value, got %s", protocol.ErrConversion, item.Val.Kind)
	}
	return f(item.Val.Value), nil
}

// Collect drains the pipeline, skipping error items.
func (t *Traversal) Collect() []TraversalVal { return collect(t.inner) }

// CollectChecked drains the pipeline and fails on the first error item.
func (t *Traversal) CollectChecked() ([]TraversalVal, error) { return collectChecked(t.inner) }

// CollectDedup drains the pipeline, keeping the first occurrence of each
// id.
func (t *Traversal) CollectDedup() []TraversalVal { return collectDedup(t.inner) }

// TakeAndCollect drains at most n non-error items.
func (t *Traversal) TakeAndCollect(n int) []TraversalVal { return takeAndCollect(t.inner, n) }

// CountToVal counts every pipeline position, errors included, as the
// source sequence length.
func (t *Traversal) CountToVal() protocol.Value { return countToVal(t.inner) }

// CollectToObj returns the first non-error item, or Empty.
func (t *Traversal) CollectToObj() TraversalVal { return collectToObj(t.inner) }

// MapValueOr applies f to the first item's scalar value, returning def
// when the pipeline is empty.
func (t *Traversal) MapValueOr(def bool, f func(protocol.Value) bool) (bool, error) {
	return mapValueOr(t.inner, def, f)
}

// Collect drains the pipeline, skipping error items.
func (t *RwTraversal) Collect() []TraversalVal { return collect(t.inner) }

// CollectChecked drains the pipeline and fails on the first error item.
func (t *RwTraversal) CollectChecked() ([]TraversalVal, error) { return collectChecked(t.inner) }

// CollectDedup drains the pipeline, keeping the first occurrence of each
// id.
func (t *RwTraversal) CollectDedup() []TraversalVal { return collectDedup(t.inner) }

// TakeAndCollect drains at most n non-error items.
func (t *RwTraversal) TakeAndCollect(n int) []TraversalVal { return takeAndCollect(t.inner, n) }

// CountToVal counts every pipeline position.
func (t *RwTraversal) CountToVal() protocol.Value { return countToVal(t.inner) }

// CollectToObj returns the first non-error item, or Empty.
func (t *RwTraversal) CollectToObj() TraversalVal { return collectToObj(t.inner) }
