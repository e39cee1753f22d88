// Package mcp exposes the traversal tool surface: stateful connections
// whose current item set each tool transforms, capped at 100 items per
// call.
package mcp

import (
	"fmt"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/traversal"
)

// itemCap is the soft cap on items a tool yields.
const itemCap = 100

// Operator compares a stored value against a filter value.
type Operator string

const (
	OpEq  Operator = "=="
	OpNeq Operator = "!="
	OpGt  Operator = ">"
	OpLt  Operator = "<"
	OpGte Operator = ">="
	OpLte Operator = "<="
)

// Execute applies the operator. Numeric values compare by magnitude
// regardless of width, since filter values arrive through JSON.
func (op Operator) Execute(a, b protocol.Value) bool {
	switch op {
	case OpEq:
		return valuesEqual(a, b)
	case OpNeq:
		return !valuesEqual(a, b)
	case OpGt, OpLt, OpGte, OpLte:
		cmp, ok := valuesOrder(a, b)
		if !ok {
			return false
		}
		switch op {
		case OpGt:
			return cmp > 0
		case OpLt:
			return cmp < 0
		case OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func numeric(v protocol.Value) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}
	if i, ok := v.Int(); ok {
		return float64(i), true
	}
	if u, ok := v.Uint(); ok {
		return float64(u), true
	}
	return 0, false
}

func valuesEqual(a, b protocol.Value) bool {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			return af == bf
		}
		return false
	}
	return a.Equal(b)
}

func valuesOrder(a, b protocol.Value) (int, bool) {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	if a.Kind() != b.Kind() {
		return 0, false
	}
	return a.Compare(b), true
}

// FilterProperty is one property constraint.
type FilterProperty struct {
	Key      string         `json:"key"`
	Value    protocol.Value `json:"value"`
	Operator *Operator      `json:"operator"`
}

// matches applies the constraint to one stored value. Array filter
// values match when any element does.
func (fp *FilterProperty) matches(stored protocol.Value) bool {
	check := func(want protocol.Value) bool {
		if fp.Operator != nil {
			return fp.Operator.Execute(stored, want)
		}
		return valuesEqual(stored, want)
	}
	if arr, ok := fp.Value.Arr(); ok {
		for _, want := range arr {
			if check(want) {
				return true
			}
		}
		return false
	}
	return check(fp.Value)
}

// SubTool is one traversal existence requirement inside filter_items.
type SubTool struct {
	ToolName string      `json:"tool_name"`
	Args     SubToolArgs `json:"args"`
}

// SubToolArgs carries the adjacency parameters of a sub-traversal.
type SubToolArgs struct {
	EdgeLabel string             `json:"edge_label"`
	EdgeType  traversal.EdgeType `json:"edge_type"`
	Filter    *FilterTraversal   `json:"filter"`
}

// FilterTraversal is the filter_items request: property constraints plus
// sub-traversals that must yield at least one item.
type FilterTraversal struct {
	Properties       []FilterProperty `json:"properties"`
	FilterTraversals []SubTool        `json:"filter_traversals"`
}

// Request shapes for the remaining tools.

type stepRequest struct {
	ConnectionID string             `json:"connection_id"`
	EdgeLabel    string             `json:"edge_label"`
	EdgeType     traversal.EdgeType `json:"edge_type"`
}

type typeRequest struct {
	ConnectionID string `json:"connection_id"`
	NodeType     string `json:"node_type"`
	EdgeType     string `json:"edge_type"`
}

type filterRequest struct {
	ConnectionID string `json:"connection_id"`
	FilterTraversal
}

type keywordRequest struct {
	ConnectionID string `json:"connection_id"`
	Label        string `json:"label"`
	Query        string `json:"query"`
	Limit        int    `json:"limit"`
}

type vectorTextRequest struct {
	ConnectionID string `json:"connection_id"`
	Label        string `json:"label"`
	Query        string `json:"query"`
	K            int    `json:"k"`
}

type toolResponse struct {
	ConnectionID string                  `json:"connection_id"`
	Result       []traversal.ReturnValue `json:"result"`
}

func errUnknownTool(name string) error {
	return fmt.Errorf("%w: unknown tool %q", protocol.ErrInvalidInput, name)
}
