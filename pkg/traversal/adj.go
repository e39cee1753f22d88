package traversal

import (
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// adjacency entry read off an out_edges/in_edges prefix scan.
type adjPair struct {
	edge  protocol.ID
	other protocol.ID
}

// scanAdjacency collects the (edge, other-endpoint) pairs for one node
// and label. The per-node list is small, so it is read eagerly; the
// pipeline stays lazy across upstream items.
func scanAdjacency(txn *storage.Txn, prefix []byte) ([]adjPair, error) {
	var pairs []adjPair
	err := txn.IteratePrefix(prefix, func(key, val []byte) (bool, error) {
		if len(key) < 16 || len(val) != 16 {
			return false, fmt.Errorf("%w: malformed adjacency entry", storage.ErrInvariantBroken)
		}
		var pair adjPair
		copy(pair.edge[:], key[len(key)-16:])
		copy(pair.other[:], val)
		pairs = append(pairs, pair)
		return true, nil
	})
	return pairs, err
}

// expand runs one upstream item at a time through produce, flattening
// the produced items lazily.
func expand(upstream Iter, produce func(TraversalVal) []Item) Iter {
	var pending []Item
	return funcIter(func() (Item, bool) {
		for {
			if len(pending) > 0 {
				item := pending[0]
				pending = pending[1:]
				return item, true
			}
			up, ok := upstream.Next()
			if !ok {
				return Item{}, false
			}
			if up.Err != nil {
				return up, true
			}
			pending = produce(up.Val)
		}
	})
}

// resolveEndpoint loads the far endpoint from the store the declared
// edge type names.
func resolveEndpoint(g *Graph, txn *storage.Txn, id protocol.ID, et EdgeType) Item {
	if et == EdgeVec {
		vec, err := g.Vectors.Get(txn, id)
		if err != nil {
			return errItem(err)
		}
		return okItem(VectorVal(vec))
	}
	node, err := g.Storage.GetNode(txn, id)
	if err != nil {
		return errItem(err)
	}
	return okItem(NodeVal(node))
}

// Out follows outgoing edges with the given label and yields the far
// endpoints, resolved per the declared edge type.
func (t *Traversal) Out(label string, et EdgeType) *Traversal {
	lh := storage.HashLabel(label)
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		id, ok := tv.ID()
		if !ok {
			return nil
		}
		pairs, err := scanAdjacency(t.txn, storage.OutEdgePrefix(id, lh))
		if err != nil {
			return []Item{errItem(err)}
		}
		items := make([]Item, 0, len(pairs))
		for _, p := range pairs {
			items = append(items, resolveEndpoint(t.graph, t.txn, p.other, et))
		}
		return items
	}))
}

// OutE follows outgoing edges with the given label and yields the edge
// records.
func (t *Traversal) OutE(label string) *Traversal {
	lh := storage.HashLabel(label)
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		id, ok := tv.ID()
		if !ok {
			return nil
		}
		pairs, err := scanAdjacency(t.txn, storage.OutEdgePrefix(id, lh))
		if err != nil {
			return []Item{errItem(err)}
		}
		items := make([]Item, 0, len(pairs))
		for _, p := range pairs {
			edge, err := t.graph.Storage.GetEdge(t.txn, p.edge)
			if err != nil {
				items = append(items, errItem(err))
				continue
			}
			items = append(items, okItem(EdgeVal(edge)))
		}
		return items
	}))
}

// In mirrors Out over the in_edges table.
func (t *Traversal) In(label string, et EdgeType) *Traversal {
	lh := storage.HashLabel(label)
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		id, ok := tv.ID()
		if !ok {
			return nil
		}
		pairs, err := scanAdjacency(t.txn, storage.InEdgePrefix(id, lh))
		if err != nil {
			return []Item{errItem(err)}
		}
		items := make([]Item, 0, len(pairs))
		for _, p := range pairs {
			items = append(items, resolveEndpoint(t.graph, t.txn, p.other, et))
		}
		return items
	}))
}

// InE mirrors OutE over the in_edges table.
func (t *Traversal) InE(label string) *Traversal {
	lh := storage.HashLabel(label)
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		id, ok := tv.ID()
		if !ok {
			return nil
		}
		pairs, err := scanAdjacency(t.txn, storage.InEdgePrefix(id, lh))
		if err != nil {
			return []Item{errItem(err)}
		}
		items := make([]Item, 0, len(pairs))
		for _, p := range pairs {
			edge, err := t.graph.Storage.GetEdge(t.txn, p.edge)
			if err != nil {
				items = append(items, errItem(err))
				continue
			}
			items = append(items, okItem(EdgeVal(edge)))
		}
		return items
	}))
}

func (t *Traversal) edgeEndpoint(pick func(*storage.Edge) protocol.ID, et EdgeType) *Traversal {
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		if tv.Kind != TVEdge {
			return []Item{errItem(fmt.Errorf("%w: expected edge, got %s", protocol.ErrConversion, tv.Kind))}
		}
		return []Item{resolveEndpoint(t.graph, t.txn, pick(tv.Edge), et)}
	}))
}

// FromN resolves each edge's source as a node.
func (t *Traversal) FromN() *Traversal {
	return t.edgeEndpoint(func(e *storage.Edge) protocol.ID { return e.From }, EdgeNode)
}

// ToN resolves each edge's target as a node.
func (t *Traversal) ToN() *Traversal {
	return t.edgeEndpoint(func(e *storage.Edge) protocol.ID { return e.To }, EdgeNode)
}

// FromV resolves each edge's source as a vector.
func (t *Traversal) FromV() *Traversal {
	return t.edgeEndpoint(func(e *storage.Edge) protocol.ID { return e.From }, EdgeVec)
}

// ToV resolves each edge's target as a vector.
func (t *Traversal) ToV() *Traversal {
	return t.edgeEndpoint(func(e *storage.Edge) protocol.ID { return e.To }, EdgeVec)
}
