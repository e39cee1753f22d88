package traversal

import (
	"encoding/json"

	"github.com/orneryd/helixdb/pkg/protocol"
)

// ReturnValue is the serialisable form of a query output: a scalar, an
// object of named fields, an array, or nothing. Nodes and edges flatten
// into objects carrying id, label and their properties.
type ReturnValue struct {
	kind rvKind
	val  protocol.Value
	obj  map[string]ReturnValue
	arr  []ReturnValue
}

type rvKind uint8

const (
	rvEmpty rvKind = iota
	rvValue
	rvObject
	rvArray
)

// RVValue wraps a scalar.
func RVValue(v protocol.Value) ReturnValue { return ReturnValue{kind: rvValue, val: v} }

// RVString wraps a string scalar.
func RVString(s string) ReturnValue { return RVValue(protocol.String(s)) }

// RVObject wraps named fields.
func RVObject(fields map[string]ReturnValue) ReturnValue {
	return ReturnValue{kind: rvObject, obj: fields}
}

// RVArray wraps a list.
func RVArray(items ...ReturnValue) ReturnValue { return ReturnValue{kind: rvArray, arr: items} }

// RVEmpty is the absent output.
var RVEmpty = ReturnValue{kind: rvEmpty}

// Field reads a named field of an object output.
func (rv ReturnValue) Field(name string) (ReturnValue, bool) {
	if rv.kind != rvObject {
		return RVEmpty, false
	}
	f, ok := rv.obj[name]
	return f, ok
}

// Items returns the elements of an array output.
func (rv ReturnValue) Items() []ReturnValue { return rv.arr }

// MarshalJSON renders the output: objects as JSON objects, arrays as
// lists, scalars through the Value projection, empty as null.
func (rv ReturnValue) MarshalJSON() ([]byte, error) {
	switch rv.kind {
	case rvValue:
		return json.Marshal(rv.val)
	case rvObject:
		return json.Marshal(rv.obj)
	case rvArray:
		if rv.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(rv.arr)
	default:
		return []byte("null"), nil
	}
}

// itemFields flattens a node, edge or vector into its natural field set.
func itemFields(tv TraversalVal) map[string]ReturnValue {
	fields := make(map[string]ReturnValue)
	put := func(props map[string]protocol.Value) {
		for k, v := range props {
			fields[k] = RVValue(v)
		}
	}
	switch tv.Kind {
	case TVNode:
		fields["id"] = RVString(tv.Node.ID.String())
		fields["label"] = RVString(tv.Node.Label)
		put(tv.Node.Properties)
	case TVEdge:
		fields["id"] = RVString(tv.Edge.ID.String())
		fields["label"] = RVString(tv.Edge.Label)
		fields["from_node"] = RVString(tv.Edge.From.String())
		fields["to_node"] = RVString(tv.Edge.To.String())
		put(tv.Edge.Properties)
	case TVVector:
		fields["id"] = RVString(tv.Vector.ID.String())
		fields["label"] = RVString(tv.Vector.Label)
		fields["data"] = RVValue(protocol.F64Array(tv.Vector.Data))
		fields["score"] = RVValue(protocol.F64(tv.Vector.Distance))
		put(tv.Vector.Properties)
	}
	return fields
}

// FromTraversalVal serialises one traversal value without remappings.
func FromTraversalVal(tv TraversalVal) ReturnValue {
	switch tv.Kind {
	case TVNode, TVEdge, TVVector:
		return RVObject(itemFields(tv))
	case TVCount:
		return RVValue(protocol.U64(uint64(tv.Count)))
	case TVValue:
		return RVValue(tv.Value)
	case TVPath:
		nodes := make([]ReturnValue, len(tv.Path.Nodes))
		for i, n := range tv.Path.Nodes {
			nodes[i] = FromTraversalVal(NodeVal(n))
		}
		edges := make([]ReturnValue, len(tv.Path.Edges))
		for i, e := range tv.Path.Edges {
			edges[i] = FromTraversalVal(EdgeVal(e))
		}
		return RVObject(map[string]ReturnValue{
			"nodes": RVArray(nodes...),
			"edges": RVArray(edges...),
		})
	default:
		return RVEmpty
	}
}

// Remapping is one field directive applied at serialisation time.
type Remapping struct {
	// NewName renames the field while keeping its value.
	NewName string
	// Exclude removes the field.
	Exclude bool
	// Value injects a computed value under the field name.
	Value ReturnValue
	// hasValue distinguishes an injected Value from a pure rename.
	hasValue bool
}

// RenameField builds a rename directive.
func RenameField(newName string) Remapping { return Remapping{NewName: newName} }

// ExcludeField builds an exclude directive.
func ExcludeField() Remapping { return Remapping{Exclude: true} }

// InjectField builds an inject directive.
func InjectField(value ReturnValue) Remapping { return Remapping{Value: value, hasValue: true} }

// ResponseRemapping is the directive set for one item. Without Spread,
// only the injected fields are emitted; with it they merge into the
// item's natural field set.
type ResponseRemapping struct {
	Remappings map[string]Remapping
	Spread     bool
}

// RemappingMap carries per-item directives for one query, keyed by item
// id. Directives apply exactly once: they are removed when consumed.
type RemappingMap map[protocol.ID]*ResponseRemapping

// NewRemappingMap builds an empty remapping map.
func NewRemappingMap() RemappingMap { return make(RemappingMap) }

// Set registers one directive for the item, creating the entry on first
// use. spread applies to the whole item entry.
func (m RemappingMap) Set(id protocol.ID, spread bool, field string, r Remapping) {
	entry, ok := m[id]
	if !ok {
		entry = &ResponseRemapping{Remappings: make(map[string]Remapping)}
		m[id] = entry
	}
	entry.Spread = entry.Spread || spread
	entry.Remappings[field] = r
}

func applyRemappings(fields map[string]ReturnValue, remappings map[string]Remapping) map[string]ReturnValue {
	for name, r := range remappings {
		switch {
		case r.Exclude:
			delete(fields, name)
		case r.NewName != "":
			if v, ok := fields[name]; ok {
				delete(fields, name)
				fields[r.NewName] = v
			} else if r.hasValue {
				fields[name] = r.Value
			}
		case r.hasValue:
			fields[name] = r.Value
		}
	}
	return fields
}

func remapItem(tv TraversalVal, m RemappingMap) ReturnValue {
	id, hasID := tv.ID()
	if !hasID || m == nil {
		return FromTraversalVal(tv)
	}
	entry, ok := m[id]
	if !ok {
		return FromTraversalVal(tv)
	}
	delete(m, id)
	base := map[string]ReturnValue{}
	if entry.Spread {
		base = itemFields(tv)
	}
	return RVObject(applyRemappings(base, entry.Remappings))
}

// FromTraversalValsWithMixin serialises a collected pipeline, applying
// each item's remapping directives exactly once.
func FromTraversalValsWithMixin(vals []TraversalVal, m RemappingMap) ReturnValue {
	out := make([]ReturnValue, len(vals))
	for i, tv := range vals {
		switch tv.Kind {
		case TVNode, TVEdge, TVVector:
			out[i] = remapItem(tv, m)
		default:
			out[i] = FromTraversalVal(tv)
		}
	}
	return RVArray(out...)
}

// FromTraversalValWithMixin serialises a single value with remappings.
func FromTraversalValWithMixin(tv TraversalVal, m RemappingMap) ReturnValue {
	switch tv.Kind {
	case TVNode, TVEdge, TVVector:
		return remapItem(tv, m)
	default:
		return FromTraversalVal(tv)
	}
}

// CheckPropertyRV serialises a property lookup for injection.
func CheckPropertyRV(tv TraversalVal, name string) ReturnValue {
	v, err := tv.CheckProperty(name)
	if err != nil {
		return RVEmpty
	}
	return RVValue(v)
}
