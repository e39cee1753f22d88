package traversal

import (
	"fmt"
	"log"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// AddN creates a node with a fresh UUIDv6 id, writes its record plus the
// requested secondary-index entries, indexes it for keyword search when
// enabled, and yields the new node.
func (t *RwTraversal) AddN(label string, props map[string]protocol.Value, secondaryIndices []string) *RwTraversal {
	node := &storage.Node{ID: protocol.NewID(), Label: label, Properties: props}
	if err := t.graph.Storage.PutNode(t.txn, node, secondaryIndices...); err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(NodeVal(node))))
}

// AddE creates an edge between from and to. With shouldCheck, both
// endpoints are verified against the store the edge type declares; a
// missing endpoint yields a not-found error item without failing the
// transaction.
func (t *RwTraversal) AddE(label string, props map[string]protocol.Value, from, to protocol.ID, shouldCheck bool, et EdgeType) *RwTraversal {
	if shouldCheck {
		if !t.endpointExists(from, et) || !t.endpointExists(to, et) {
			return t.with(onceIter(errItem(fmt.Errorf("%w: add_e endpoint missing", storage.ErrNodeNotFound))))
		}
	}
	edge := &storage.Edge{ID: protocol.NewID(), Label: label, From: from, To: to, Properties: props}
	if err := t.graph.Storage.AddEdge(t.txn, edge); err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(EdgeVal(edge))))
}

func (t *RwTraversal) endpointExists(id protocol.ID, et EdgeType) bool {
	if et == EdgeVec {
		return t.graph.Vectors != nil && t.graph.Vectors.Exists(t.txn, id)
	}
	return t.graph.Storage.NodeExists(t.txn, id)
}

// InsertV inserts a vector through the HNSW index and yields it.
func (t *RwTraversal) InsertV(label string, data []float64, props map[string]protocol.Value) *RwTraversal {
	vec, err := t.graph.Vectors.Insert(t.txn, label, data, props)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(VectorVal(vec))))
}

// Update merges newProps into each upstream node or edge, re-maintaining
// the secondary and keyword indexes, and yields the updated records.
func (t *RwTraversal) Update(newProps map[string]protocol.Value) *RwTraversal {
	inner := t.inner
	return t.with(funcIter(func() (Item, bool) {
		item, ok := inner.Next()
		if !ok {
			return Item{}, false
		}
		if item.Err != nil {
			return item, true
		}
		switch item.Val.Kind {
		case TVNode:
			updated, err := t.graph.Storage.UpdateNode(t.txn, item.Val.Node.ID, newProps)
			if err != nil {
				return errItem(err), true
			}
			return okItem(NodeVal(updated)), true
		case TVEdge:
			updated, err := t.graph.Storage.UpdateEdge(t.txn, item.Val.Edge.ID, newProps)
			if err != nil {
				return errItem(err), true
			}
			return okItem(EdgeVal(updated)), true
		default:
			return errItem(fmt.Errorf("%w: cannot update %s", protocol.ErrConversion, item.Val.Kind)), true
		}
	}))
}

// Drop invokes the matching drop on each collected item, continuing past
// per-item failures. The first error is returned after the sweep so the
// caller can decide whether to abort the transaction.
func Drop(graph *Graph, txn *storage.Txn, items []TraversalVal) error {
	var firstErr error
	record := func(err error, what string, id protocol.ID) {
		if err == nil {
			return
		}
		log.Printf("drop: %s %s: %v", what, id, err)
		if firstErr == nil {
			firstErr = err
		}
	}
	for _, item := range items {
		switch item.Kind {
		case TVNode:
			record(graph.Storage.DropNode(txn, item.Node.ID), "node", item.Node.ID)
		case TVEdge:
			record(graph.Storage.DropEdge(txn, item.Edge.ID), "edge", item.Edge.ID)
		case TVVector:
			record(graph.Vectors.Drop(txn, item.Vector.ID), "vector", item.Vector.ID)
		case TVEmpty:
			// Nothing to drop.
		default:
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: cannot drop %s", protocol.ErrConversion, item.Kind)
			}
		}
	}
	return firstErr
}
