package server

import (
	"fmt"
	"sync"

	"github.com/orneryd/helixdb/pkg/helix"
	"github.com/orneryd/helixdb/pkg/storage"
	"github.com/orneryd/helixdb/pkg/traversal"
)

// HandlerInput is what a compiled query receives: the database, the
// transaction the gateway opened for it, the raw JSON request body, and
// a remapping map scoped to this query alone.
type HandlerInput struct {
	DB         *helix.DB
	Txn        *storage.Txn
	Body       []byte
	Remappings traversal.RemappingMap
}

// QueryHandler executes one compiled query and returns its named
// outputs. Returning an error rolls the transaction back.
type QueryHandler func(*HandlerInput) (map[string]traversal.ReturnValue, error)

// Query is one registered endpoint under POST /{name}.
type Query struct {
	Name string
	// ReadOnly queries run on a snapshot; the rest take the process's
	// single write transaction.
	ReadOnly bool
	Handler  QueryHandler
}

// queryRegistry holds the queries the gateway can dispatch.
type queryRegistry struct {
	mu      sync.RWMutex
	queries map[string]Query
}

func newQueryRegistry() *queryRegistry {
	return &queryRegistry{queries: make(map[string]Query)}
}

func (r *queryRegistry) register(q Query) error {
	if q.Name == "" || q.Handler == nil {
		return fmt.Errorf("query needs a name and a handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.queries[q.Name]; dup {
		return fmt.Errorf("query %q already registered", q.Name)
	}
	r.queries[q.Name] = q
	return nil
}

func (r *queryRegistry) lookup(name string) (Query, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.queries[name]
	return q, ok
}

// runQuery owns the transaction lifecycle: begin per the query's flavour,
// commit on success, roll back on any error.
func runQuery(db *helix.DB, q Query, body []byte) (map[string]traversal.ReturnValue, error) {
	var txn *storage.Txn
	if q.ReadOnly {
		txn = db.Storage.BeginRo()
	} else {
		txn = db.Storage.BeginRw()
	}
	defer txn.Rollback()

	input := &HandlerInput{
		DB:         db,
		Txn:        txn,
		Body:       body,
		Remappings: traversal.NewRemappingMap(),
	}
	out, err := q.Handler(input)
	if err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
