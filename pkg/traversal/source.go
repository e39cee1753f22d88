package traversal

import (
	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// NFromID looks up one node by id. A missing id yields an error item.
func (t *Traversal) NFromID(id protocol.ID) *Traversal {
	node, err := t.graph.Storage.GetNode(t.txn, id)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(NodeVal(node))))
}

// EFromID looks up one edge by id.
func (t *Traversal) EFromID(id protocol.ID) *Traversal {
	edge, err := t.graph.Storage.GetEdge(t.txn, id)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(EdgeVal(edge))))
}

// VFromID looks up one vector by id.
func (t *Traversal) VFromID(id protocol.ID) *Traversal {
	vec, err := t.graph.Vectors.Get(t.txn, id)
	if err != nil {
		return t.with(onceIter(errItem(err)))
	}
	return t.with(onceIter(okItem(VectorVal(vec))))
}

// NFromType scans the nodes table lazily, keeping nodes whose label
// matches.
func (t *Traversal) NFromType(label string) *Traversal {
	return t.with(scanRecords(t.txn, storage.NodesTablePrefix(), func(key, val []byte) (Item, bool) {
		id, err := protocol.IDFromBytes(key[1:])
		if err != nil {
			return errItem(err), true
		}
		node, err := storage.DecodeNode(id, val)
		if err != nil {
			return errItem(err), true
		}
		if node.Label != label {
			return Item{}, false
		}
		return okItem(NodeVal(node)), true
	}))
}

// EFromType scans the edges table lazily, keeping edges whose label
// matches.
func (t *Traversal) EFromType(label string) *Traversal {
	return t.with(scanRecords(t.txn, storage.EdgesTablePrefix(), func(key, val []byte) (Item, bool) {
		id, err := protocol.IDFromBytes(key[1:])
		if err != nil {
			return errItem(err), true
		}
		edge, err := storage.DecodeEdge(id, val)
		if err != nil {
			return errItem(err), true
		}
		if edge.Label != label {
			return Item{}, false
		}
		return okItem(EdgeVal(edge)), true
	}))
}

// NFromIndex resolves nodes through the secondary index on
// (label, property) = value.
func (t *Traversal) NFromIndex(label, property string, value protocol.Value) *Traversal {
	prefix := storage.SecondaryPrefix(
		storage.HashLabel(label),
		storage.HashLabel(property),
		protocol.EncodeValue(nil, value),
	)
	var ids []protocol.ID
	err := t.txn.IterateKeys(prefix, func(key []byte) (bool, error) {
		if id, ok := storage.NodeIDFromSecondaryKey(key); ok {
			ids = append(ids, id)
		}
		return true, nil
	})
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

// scanRecords wraps a storage scanner as a lazy Iter. decide returns the
// item for a key/value pair, or keep=false to skip it.
func scanRecords(txn *storage.Txn, prefix []byte, decide func(key, val []byte) (Item, bool)) Iter {
	var sc *storage.Scanner
	done := false
	return funcIter(func() (Item, bool) {
		if done {
			return Item{}, false
		}
		if sc == nil {
			sc = txn.NewScanner(prefix)
		}
		for {
			key, val, ok, err := sc.Next()
			if err != nil {
				sc.Close()
				done = true
				return errItem(err), true
			}
			if !ok {
				sc.Close()
				done = true
				return Item{}, false
			}
			item, keep := decide(key, val)
			if keep {
				return item, true
			}
		}
	})
}
