// Package traversal implements the lazy pull-based pipeline that graph
// queries compile into: source selectors, adjacency steps, mutations and
// utility operators, all threaded through one borrowed transaction.
//
// A pipeline yields a sequence of results; errors ride inside the stream
// so one bad item does not abort the rest. Terminals either skip error
// items (Collect) or fail fast on the first (CollectChecked).
//
// Example:
//
//	tr := traversal.New(graph, txn).
//		NFromType("User").
//		Out("Follows", traversal.EdgeNode).
//		Dedup()
//	users := tr.Collect()
package traversal

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// TVKind tags the variant held by a TraversalVal.
type TVKind uint8

const (
	TVEmpty TVKind = iota
	TVNode
	TVEdge
	TVVector
	TVCount
	TVValue
	TVPath
)

// Path is a node sequence and the edges connecting consecutive nodes.
type Path struct {
	Nodes []*storage.Node
	Edges []*storage.Edge
}

// TraversalVal is the tagged union a pipeline position yields.
type TraversalVal struct {
	Kind   TVKind
	Node   *storage.Node
	Edge   *storage.Edge
	Vector *storage.Vector
	Count  int
	Value  protocol.Value
	Path   *Path
}

// EmptyVal is the absent traversal value.
var EmptyVal = TraversalVal{Kind: TVEmpty}

// NodeVal wraps a node.
func NodeVal(n *storage.Node) TraversalVal { return TraversalVal{Kind: TVNode, Node: n} }

// EdgeVal wraps an edge.
func EdgeVal(e *storage.Edge) TraversalVal { return TraversalVal{Kind: TVEdge, Edge: e} }

// VectorVal wraps a vector.
func VectorVal(v *storage.Vector) TraversalVal { return TraversalVal{Kind: TVVector, Vector: v} }

// CountVal wraps a count.
func CountVal(n int) TraversalVal { return TraversalVal{Kind: TVCount, Count: n} }

// ScalarVal wraps a scalar value.
func ScalarVal(v protocol.Value) TraversalVal { return TraversalVal{Kind: TVValue, Value: v} }

// PathVal wraps a path.
func PathVal(p *Path) TraversalVal { return TraversalVal{Kind: TVPath, Path: p} }

// ID returns the item's identity for node, edge and vector variants.
func (tv TraversalVal) ID() (protocol.ID, bool) {
	switch tv.Kind {
	case TVNode:
		return tv.Node.ID, true
	case TVEdge:
		return tv.Edge.ID, true
	case TVVector:
		return tv.Vector.ID, true
	}
	return protocol.ID{}, false
}

// Label returns the item's label for node, edge and vector variants.
func (tv TraversalVal) Label() (string, bool) {
	switch tv.Kind {
	case TVNode:
		return tv.Node.Label, true
	case TVEdge:
		return tv.Edge.Label, true
	case TVVector:
		return tv.Vector.Label, true
	}
	return "", false
}

// CheckProperty reads a property off the item. Missing properties come
// back Empty; non-item variants are a conversion error.
func (tv TraversalVal) CheckProperty(name string) (protocol.Value, error) {
	switch tv.Kind {
	case TVNode:
		return tv.Node.Property(name), nil
	case TVEdge:
		return tv.Edge.Property(name), nil
	case TVVector:
		return tv.Vector.Property(name), nil
	default:
		return protocol.Empty, fmt.Errorf("%w: no properties on %s", protocol.ErrConversion, tv.Kind)
	}
}

// String names the variant.
func (k TVKind) String() string {
	switch k {
	case TVEmpty:
		return "Empty"
	case TVNode:
		return "Node"
	case TVEdge:
		return "Edge"
	case TVVector:
		return "Vector"
	case TVCount:
		return "Count"
	case TVValue:
		return "Value"
	case TVPath:
		return "Path"
	}
	return fmt.Sprintf("TVKind(%d)", uint8(k))
}

// EdgeType declares which store an edge endpoint lives in.
type EdgeType uint8

const (
	// EdgeNode endpoints resolve against the nodes table.
	EdgeNode EdgeType = iota
	// EdgeVec endpoints resolve against the vector store.
	EdgeVec
)

// UnmarshalJSON accepts the wire names "node" and "vec".
func (et *EdgeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "node", "":
		*et = EdgeNode
	case "vec":
		*et = EdgeVec
	default:
		return fmt.Errorf("%w: unknown edge type %q", protocol.ErrInvalidInput, s)
	}
	return nil
}

// MarshalJSON emits the wire names.
func (et EdgeType) MarshalJSON() ([]byte, error) {
	if et == EdgeVec {
		return json.Marshal("vec")
	}
	return json.Marshal("node")
}

// Item is one pipeline position: a value or an error, never both.
type Item struct {
	Val TraversalVal
	Err error
}

func okItem(tv TraversalVal) Item { return Item{Val: tv} }
func errItem(err error) Item      { return Item{Val: EmptyVal, Err: err} }
