package storage

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// GetNode fetches a node by id.
func (e *Engine) GetNode(txn *Txn, id protocol.ID) (*Node, error) {
	val, ok, err := txn.Get(NodeKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return DecodeNode(id, val)
}

// NodeExists reports whether a node record exists without decoding it.
func (e *Engine) NodeExists(txn *Txn, id protocol.ID) bool {
	_, ok, err := txn.Get(NodeKey(id))
	return err == nil && ok
}

// GetEdge fetches an edge by id.
func (e *Engine) GetEdge(txn *Txn, id protocol.ID) (*Edge, error) {
	val, ok, err := txn.Get(EdgeKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	return DecodeEdge(id, val)
}

// PutNode writes a node record and its secondary-index entries for the
// engine-wide indexed properties plus extraIndices, and indexes the node
// into the keyword index when one is wired.
func (e *Engine) PutNode(txn *Txn, n *Node, extraIndices ...string) error {
	data, err := EncodeNode(n)
	if err != nil {
		return err
	}
	if err := txn.Set(NodeKey(n.ID), data); err != nil {
		return err
	}
	for _, prop := range e.indexedProps(extraIndices) {
		v, ok := n.Properties[prop]
		if !ok {
			continue
		}
		key := SecondaryKey(HashLabel(n.Label), HashLabel(prop), protocol.EncodeValue(nil, v), n.ID)
		if err := txn.Set(key, nil); err != nil {
			return err
		}
	}
	if e.Keyword != nil {
		if err := e.Keyword.InsertDoc(txn, n.ID, n.Label, n.Properties); err != nil {
			return err
		}
	}
	return nil
}

// UpdateNode merges newProps into the node's property map and
// re-maintains the secondary and keyword indexes for changed fields.
func (e *Engine) UpdateNode(txn *Txn, id protocol.ID, newProps map[string]protocol.Value) (*Node, error) {
	old, err := e.GetNode(txn, id)
	if err != nil {
		return nil, err
	}
	merged := cloneProps(old.Properties)
	if merged == nil {
		merged = make(map[string]protocol.Value, len(newProps))
	}
	for k, v := range newProps {
		merged[k] = v
	}
	updated := &Node{ID: id, Label: old.Label, Properties: merged}

	data, err := EncodeNode(updated)
	if err != nil {
		return nil, err
	}
	if err := txn.Set(NodeKey(id), data); err != nil {
		return nil, err
	}

	lh := HashLabel(old.Label)
	for _, prop := range e.indexedProps(nil) {
		oldV, hadOld := old.Properties[prop]
		newV, hasNew := merged[prop]
		if hadOld && hasNew && oldV.Equal(newV) {
			continue
		}
		ph := HashLabel(prop)
		if hadOld {
			if err := txn.Delete(SecondaryKey(lh, ph, protocol.EncodeValue(nil, oldV), id)); err != nil {
				return nil, err
			}
		}
		if hasNew {
			if err := txn.Set(SecondaryKey(lh, ph, protocol.EncodeValue(nil, newV), id), nil); err != nil {
				return nil, err
			}
		}
	}

	if e.Keyword != nil {
		if err := e.Keyword.UpdateDoc(txn, id, old.Label, old.Properties, merged); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

// UpdateEdge merges newProps into the edge's property map. Endpoints are
// immutable.
func (e *Engine) UpdateEdge(txn *Txn, id protocol.ID, newProps map[string]protocol.Value) (*Edge, error) {
	old, err := e.GetEdge(txn, id)
	if err != nil {
		return nil, err
	}
	merged := cloneProps(old.Properties)
	if merged == nil {
		merged = make(map[string]protocol.Value, len(newProps))
	}
	for k, v := range newProps {
		merged[k] = v
	}
	updated := &Edge{ID: id, Label: old.Label, From: old.From, To: old.To, Properties: merged}
	data, err := EncodeEdge(updated)
	if err != nil {
		return nil, err
	}
	if err := txn.Set(EdgeKey(id), data); err != nil {
		return nil, err
	}
	return updated, nil
}

// AddEdge writes the edge record and both adjacency mirrors.
func (e *Engine) AddEdge(txn *Txn, edge *Edge) error {
	data, err := EncodeEdge(edge)
	if err != nil {
		return err
	}
	if err := txn.Set(EdgeKey(edge.ID), data); err != nil {
		return err
	}
	lh := HashLabel(edge.Label)
	if err := txn.Set(OutEdgeKey(edge.From, lh, edge.ID), edge.To[:]); err != nil {
		return err
	}
	if err := txn.Set(InEdgeKey(edge.To, lh, edge.ID), edge.From[:]); err != nil {
		return err
	}
	return nil
}

// DropEdge removes the edge record and both adjacency entries.
func (e *Engine) DropEdge(txn *Txn, id protocol.ID) error {
	edge, err := e.GetEdge(txn, id)
	if err != nil {
		return err
	}
	lh := HashLabel(edge.Label)
	if err := txn.Delete(EdgeKey(id)); err != nil {
		return err
	}
	if err := txn.Delete(OutEdgeKey(edge.From, lh, id)); err != nil {
		return err
	}
	return txn.Delete(InEdgeKey(edge.To, lh, id))
}

// DropNode removes the node, every incident edge with its mirror
// adjacency entry, the node's secondary-index entries, and its keyword
// postings. Missing node is a not-found error.
func (e *Engine) DropNode(txn *Txn, id protocol.ID) error {
	node, err := e.GetNode(txn, id)
	if err != nil {
		return err
	}

	// Outgoing side: each entry names the edge and far endpoint, which is
	// enough to delete the edge record and the mirror without decoding.
	type adj struct {
		key       []byte
		labelHash uint32
		edge      protocol.ID
		other     protocol.ID
	}
	var outs, ins []adj
	err = txn.IteratePrefix(OutEdgeNodePrefix(id), func(key, val []byte) (bool, error) {
		lh, edge, ok := adjEntry(key)
		if !ok || len(val) != 16 {
			return false, fmt.Errorf("%w: malformed out-adjacency entry", ErrInvariantBroken)
		}
		var other protocol.ID
		copy(other[:], val)
		outs = append(outs, adj{key: key, labelHash: lh, edge: edge, other: other})
		return true, nil
	})
	if err != nil {
		return err
	}
	err = txn.IteratePrefix(InEdgeNodePrefix(id), func(key, val []byte) (bool, error) {
		lh, edge, ok := adjEntry(key)
		if !ok || len(val) != 16 {
			return false, fmt.Errorf("%w: malformed in-adjacency entry", ErrInvariantBroken)
		}
		var other protocol.ID
		copy(other[:], val)
		ins = append(ins, adj{key: key, labelHash: lh, edge: edge, other: other})
		return true, nil
	})
	if err != nil {
		return err
	}

	for _, a := range outs {
		if err := txn.Delete(EdgeKey(a.edge)); err != nil {
			return err
		}
		if err := txn.Delete(InEdgeKey(a.other, a.labelHash, a.edge)); err != nil {
			return err
		}
		if err := txn.Delete(a.key); err != nil {
			return err
		}
	}
	for _, a := range ins {
		if err := txn.Delete(EdgeKey(a.edge)); err != nil {
			return err
		}
		if err := txn.Delete(OutEdgeKey(a.other, a.labelHash, a.edge)); err != nil {
			return err
		}
		if err := txn.Delete(a.key); err != nil {
			return err
		}
	}

	// Extra indices passed to PutNode are not recorded, so every property's
	// possible entry is removed; deleting an absent key is a no-op.
	lh := HashLabel(node.Label)
	for prop, v := range node.Properties {
		if err := txn.Delete(SecondaryKey(lh, HashLabel(prop), protocol.EncodeValue(nil, v), id)); err != nil {
			return err
		}
	}

	if e.Keyword != nil {
		if err := e.Keyword.DeleteDoc(txn, id, node.Label, node.Properties); err != nil {
			return err
		}
	}

	return txn.Delete(NodeKey(id))
}

// DropVector removes a vector through the wired vector store, which owns
// layer cleanup and neighbour reconnection.
func (e *Engine) DropVector(txn *Txn, id protocol.ID) error {
	if e.Vectors == nil {
		return fmt.Errorf("%w: no vector store wired", ErrVectorNotFound)
	}
	return e.Vectors.Drop(txn, id)
}

func (e *Engine) indexedProps(extra []string) []string {
	if len(extra) == 0 {
		return e.opts.SecondaryIndices
	}
	seen := make(map[string]struct{}, len(e.opts.SecondaryIndices)+len(extra))
	out := make([]string, 0, len(e.opts.SecondaryIndices)+len(extra))
	for _, p := range e.opts.SecondaryIndices {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	for _, p := range extra {
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Stats counts live records per table.
type Stats struct {
	NumNodes   int64 `json:"num_nodes"`
	NumEdges   int64 `json:"num_edges"`
	NumVectors int64 `json:"num_vectors"`
}

// GetDBStats counts nodes, edges and vectors. Vectors are counted as
// distinct ids, i.e. layer-0 records.
func (e *Engine) GetDBStats(txn *Txn) (*Stats, error) {
	stats := &Stats{}
	count := func(prefix byte, counter *int64, filter func(key []byte) bool) error {
		return txn.IterateKeys([]byte{prefix}, func(key []byte) (bool, error) {
			if filter == nil || filter(key) {
				*counter++
			}
			return true, nil
		})
	}
	if err := count(prefixNodes, &stats.NumNodes, nil); err != nil {
		return nil, err
	}
	if err := count(prefixEdges, &stats.NumEdges, nil); err != nil {
		return nil, err
	}
	err := count(prefixVectors, &stats.NumVectors, func(key []byte) bool {
		return len(key) == 1+16+1 && key[len(key)-1] == 0
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// GetDBStatsJSON renders the stats object for the visualiser.
func (e *Engine) GetDBStatsJSON(txn *Txn) (string, error) {
	stats, err := e.GetDBStats(txn)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// VisNode and VisEdge are the shapes inlined into the visualiser page.
type VisNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type VisEdge struct {
	ID    string `json:"id"`
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label"`
}

// NodesEdges is the {nodes, edges} payload for visualisation.
type NodesEdges struct {
	Nodes []VisNode `json:"nodes"`
	Edges []VisEdge `json:"edges"`
}

// NodesEdgesToJSON samples up to limit nodes (optionally restricted to
// one label) and the edges whose endpoints both made the sample.
func (e *Engine) NodesEdgesToJSON(txn *Txn, limit int, nodeLabel string) (string, error) {
	if limit <= 0 {
		limit = 100
	}
	result := NodesEdges{Nodes: []VisNode{}, Edges: []VisEdge{}}
	picked := make(map[protocol.ID]struct{})

	err := txn.IteratePrefix([]byte{prefixNodes}, func(key, val []byte) (bool, error) {
		id, err := protocol.IDFromBytes(key[1:])
		if err != nil {
			return false, err
		}
		node, err := DecodeNode(id, val)
		if err != nil {
			return false, err
		}
		if nodeLabel != "" && node.Label != nodeLabel {
			return true, nil
		}
		picked[id] = struct{}{}
		result.Nodes = append(result.Nodes, VisNode{ID: id.String(), Label: node.Label})
		return len(result.Nodes) < limit, nil
	})
	if err != nil {
		return "", err
	}

	err = txn.IteratePrefix([]byte{prefixEdges}, func(key, val []byte) (bool, error) {
		id, err := protocol.IDFromBytes(key[1:])
		if err != nil {
			return false, err
		}
		edge, err := DecodeEdge(id, val)
		if err != nil {
			return false, err
		}
		if _, ok := picked[edge.From]; !ok {
			return true, nil
		}
		if _, ok := picked[edge.To]; !ok {
			return true, nil
		}
		result.Edges = append(result.Edges, VisEdge{
			ID:    id.String(),
			From:  edge.From.String(),
			To:    edge.To.String(),
			Label: edge.Label,
		})
		return true, nil
	})
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
