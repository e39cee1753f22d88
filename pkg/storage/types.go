// Package storage implements the persistent core of HelixDB: one Badger
// environment holding the node, edge, adjacency, vector, secondary-index
// and keyword-index tables, plus the transaction lifecycle layered on it.
//
// The environment exclusively owns the on-disk tables. Transactions
// borrow the environment; iterators borrow their transaction and must not
// outlive it. Records handed back to callers are independent copies with
// no reference into storage.
//
// Example:
//
//	eng, err := storage.Open(storage.Options{Path: dir})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	txn := eng.BeginRw()
//	node := &storage.Node{ID: protocol.NewID(), Label: "User"}
//	if err := eng.PutNode(txn, node); err != nil {
//		txn.Rollback()
//		log.Fatal(err)
//	}
//	if err := txn.Commit(); err != nil {
//		log.Fatal(err)
//	}
package storage

import (
	"errors"
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// Sentinel errors for the engine. Callers classify failures with
// errors.Is; KindOf folds them into the coarse kinds the gateway maps to
// HTTP statuses.
var (
	ErrNodeNotFound     = errors.New("node not found")
	ErrEdgeNotFound     = errors.New("edge not found")
	ErrVectorNotFound   = errors.New("vector not found")
	ErrInvariantBroken  = errors.New("storage invariant broken")
	ErrStorageClosed    = errors.New("storage closed")
	ErrTableSetMismatch = errors.New("table set mismatch")
	ErrTxnClosed        = errors.New("transaction closed")
	ErrReadOnlyTxn      = errors.New("write on read-only transaction")
)

// ErrorKind is the coarse failure class used for user-visible mapping.
type ErrorKind int

const (
	KindStorage ErrorKind = iota
	KindNotFound
	KindConversion
	KindInput
	KindInvariant
)

// KindOf classifies err into an ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNodeNotFound),
		errors.Is(err, ErrEdgeNotFound),
		errors.Is(err, ErrVectorNotFound):
		return KindNotFound
	case errors.Is(err, protocol.ErrInvalidInput):
		return KindInput
	case errors.Is(err, protocol.ErrConversion):
		return KindConversion
	case errors.Is(err, ErrInvariantBroken):
		return KindInvariant
	default:
		return KindStorage
	}
}

// Node is a labelled vertex with a property map.
type Node struct {
	ID         protocol.ID
	Label      string
	Properties map[string]protocol.Value
}

// Edge is a labelled, directed arc between two endpoints. Endpoints are
// immutable after creation and may live in either the node or the vector
// store; the traversal layer resolves them by declared edge type.
type Edge struct {
	ID         protocol.ID
	Label      string
	From       protocol.ID
	To         protocol.ID
	Properties map[string]protocol.Value
}

// Vector is one point of the HNSW index. Data is held as float64 in
// memory regardless of the configured on-disk width. Level is the vector's
// top layer when read from its base record and the layer read otherwise;
// Neighbors is the list of the layer the record was read from. Distance is
// populated by searches and carried into serialised output as "score".
type Vector struct {
	ID         protocol.ID
	Label      string
	Data       []float64
	Level      int
	Neighbors  []protocol.ID
	Properties map[string]protocol.Value
	Distance   float64
}

// Property returns the named property, or Empty when absent.
func (n *Node) Property(name string) protocol.Value {
	if v, ok := n.Properties[name]; ok {
		return v
	}
	return protocol.Empty
}

// Property returns the named property, or Empty when absent.
func (e *Edge) Property(name string) protocol.Value {
	if v, ok := e.Properties[name]; ok {
		return v
	}
	return protocol.Empty
}

// Property returns the named property, or Empty when absent.
func (v *Vector) Property(name string) protocol.Value {
	if val, ok := v.Properties[name]; ok {
		return val
	}
	return protocol.Empty
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	return &Node{ID: n.ID, Label: n.Label, Properties: cloneProps(n.Properties)}
}

// Clone returns a deep copy of the edge.
func (e *Edge) Clone() *Edge {
	return &Edge{ID: e.ID, Label: e.Label, From: e.From, To: e.To, Properties: cloneProps(e.Properties)}
}

// Clone returns a deep copy of the vector.
func (v *Vector) Clone() *Vector {
	data := make([]float64, len(v.Data))
	copy(data, v.Data)
	neighbors := make([]protocol.ID, len(v.Neighbors))
	copy(neighbors, v.Neighbors)
	return &Vector{
		ID:         v.ID,
		Label:      v.Label,
		Data:       data,
		Level:      v.Level,
		Neighbors:  neighbors,
		Properties: cloneProps(v.Properties),
		Distance:   v.Distance,
	}
}

func cloneProps(props map[string]protocol.Value) map[string]protocol.Value {
	if props == nil {
		return nil
	}
	out := make(map[string]protocol.Value, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

func (n *Node) String() string {
	return fmt.Sprintf("Node(%s:%s)", n.Label, n.ID)
}

func (e *Edge) String() string {
	return fmt.Sprintf("Edge(%s:%s %s->%s)", e.Label, e.ID, e.From, e.To)
}
