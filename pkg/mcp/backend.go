package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/orneryd/helixdb/pkg/embed"
	"github.com/orneryd/helixdb/pkg/helix"
	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
	"github.com/orneryd/helixdb/pkg/traversal"
)

// Connection holds a tool session's current item set. Tools transform it
// in place: each call starts from the previous result.
type Connection struct {
	ID    string
	Items []traversal.TraversalVal
}

// Backend dispatches the traversal tools against one database.
type Backend struct {
	db       *helix.DB
	embedder *embed.Client

	mu          sync.Mutex
	connections map[string]*Connection
}

// NewBackend builds the tool backend. The embedding client follows the
// database's embedding_model option.
func NewBackend(db *helix.DB) *Backend {
	return &Backend{
		db: db,
		embedder: embed.New(embed.Config{
			APIURL: db.Config.EmbeddingURL,
			Model:  db.Config.EmbeddingModel,
		}),
		connections: make(map[string]*Connection),
	}
}

func (b *Backend) connection(id string) (*Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	conn, ok := b.connections[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown connection %q", protocol.ErrInvalidInput, id)
	}
	return conn, nil
}

// Call runs one tool. The body is the tool's JSON arguments; the reply
// carries the connection id and up to 100 serialised items.
func (b *Backend) Call(tool string, body []byte) (any, error) {
	switch tool {
	case "init":
		return b.initConnection()
	case "out_step", "in_step":
		var req stepRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.adjacencyStep(req, tool == "out_step", false)
	case "out_e_step", "in_e_step":
		var req stepRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.adjacencyStep(req, tool == "out_e_step", true)
	case "n_from_type":
		var req typeRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.fromType(req.ConnectionID, req.NodeType, false)
	case "e_from_type":
		var req typeRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.fromType(req.ConnectionID, req.EdgeType, true)
	case "filter_items":
		var req filterRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.filterItems(req)
	case "search_keyword":
		var req keywordRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.searchKeyword(req)
	case "search_vector_text":
		var req vectorTextRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		return b.searchVectorText(req)
	default:
		return nil, errUnknownTool(tool)
	}
}

func decode(body []byte, dst any) error {
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrInvalidInput, err)
	}
	return nil
}

func (b *Backend) initConnection() (any, error) {
	conn := &Connection{ID: uuid.NewString()}
	b.mu.Lock()
	b.connections[conn.ID] = conn
	b.mu.Unlock()
	return toolResponse{ConnectionID: conn.ID, Result: []traversal.ReturnValue{}}, nil
}

// respond caps, stores and serialises a tool result.
func (b *Backend) respond(conn *Connection, items []traversal.TraversalVal) (any, error) {
	if len(items) > itemCap {
		items = items[:itemCap]
	}
	conn.Items = items
	out := make([]traversal.ReturnValue, len(items))
	for i, tv := range items {
		out[i] = traversal.FromTraversalVal(tv)
	}
	return toolResponse{ConnectionID: conn.ID, Result: out}, nil
}

func (b *Backend) adjacencyStep(req stepRequest, out, edges bool) (any, error) {
	conn, err := b.connection(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	txn := b.db.Storage.BeginRo()
	defer txn.Rollback()

	tr := traversal.NewFrom(b.db.Graph(), txn, conn.Items)
	switch {
	case out && edges:
		tr = tr.OutE(req.EdgeLabel)
	case out:
		tr = tr.Out(req.EdgeLabel, req.EdgeType)
	case edges:
		tr = tr.InE(req.EdgeLabel)
	default:
		tr = tr.In(req.EdgeLabel, req.EdgeType)
	}
	return b.respond(conn, tr.TakeAndCollect(itemCap))
}

func (b *Backend) fromType(connID, label string, edges bool) (any, error) {
	conn, err := b.connection(connID)
	if err != nil {
		return nil, err
	}
	txn := b.db.Storage.BeginRo()
	defer txn.Rollback()

	tr := traversal.New(b.db.Graph(), txn)
	if edges {
		tr = tr.EFromType(label)
	} else {
		tr = tr.NFromType(label)
	}
	return b.respond(conn, tr.TakeAndCollect(itemCap))
}

// filterItems keeps items matching every property constraint whose
// requested sub-traversals all yield at least one result.
func (b *Backend) filterItems(req filterRequest) (any, error) {
	conn, err := b.connection(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	txn := b.db.Storage.BeginRo()
	defer txn.Rollback()

	kept := b.applyFilter(txn, conn.Items, &req.FilterTraversal)
	return b.respond(conn, kept)
}

func (b *Backend) applyFilter(txn *storage.Txn, items []traversal.TraversalVal, filter *FilterTraversal) []traversal.TraversalVal {
	var kept []traversal.TraversalVal
	for _, item := range items {
		if b.itemPasses(txn, item, filter) {
			kept = append(kept, item)
		}
	}
	return kept
}

func (b *Backend) itemPasses(txn *storage.Txn, item traversal.TraversalVal, filter *FilterTraversal) bool {
	for i := range filter.Properties {
		fp := &filter.Properties[i]
		stored, err := item.CheckProperty(fp.Key)
		if err != nil || !fp.matches(stored) {
			return false
		}
	}
	for i := range filter.FilterTraversals {
		if !b.subTraversalHit(txn, item, &filter.FilterTraversals[i]) {
			return false
		}
	}
	return true
}

func (b *Backend) subTraversalHit(txn *storage.Txn, item traversal.TraversalVal, sub *SubTool) bool {
	tr := traversal.NewFrom(b.db.Graph(), txn, []traversal.TraversalVal{item})
	switch sub.ToolName {
	case "out_step":
		tr = tr.Out(sub.Args.EdgeLabel, sub.Args.EdgeType)
	case "out_e_step":
		tr = tr.OutE(sub.Args.EdgeLabel)
	case "in_step":
		tr = tr.In(sub.Args.EdgeLabel, sub.Args.EdgeType)
	case "in_e_step":
		tr = tr.InE(sub.Args.EdgeLabel)
	default:
		return false
	}
	reached := tr.TakeAndCollect(itemCap)
	if sub.Args.Filter != nil {
		reached = b.applyFilter(txn, reached, sub.Args.Filter)
	}
	return len(reached) > 0
}

func (b *Backend) searchKeyword(req keywordRequest) (any, error) {
	conn, err := b.connection(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	if b.db.Keyword == nil {
		return nil, fmt.Errorf("%w: keyword index disabled", protocol.ErrInvalidInput)
	}
	limit := req.Limit
	if limit <= 0 || limit > itemCap {
		limit = itemCap
	}
	txn := b.db.Storage.BeginRo()
	defer txn.Rollback()

	items := traversal.New(b.db.Graph(), txn).
		SearchBM25(req.Label, req.Query, limit).
		TakeAndCollect(itemCap)
	return b.respond(conn, items)
}

func (b *Backend) searchVectorText(req vectorTextRequest) (any, error) {
	conn, err := b.connection(req.ConnectionID)
	if err != nil {
		return nil, err
	}
	embedding, err := b.embedder.Embed(context.Background(), req.Query)
	if err != nil {
		return nil, err
	}
	k := req.K
	if k <= 0 {
		k = 5
	}
	txn := b.db.Storage.BeginRo()
	defer txn.Rollback()

	items := traversal.New(b.db.Graph(), txn).
		SearchV(embedding, k, req.Label, 0, nil).
		TakeAndCollect(itemCap)
	return b.respond(conn, items)
}
