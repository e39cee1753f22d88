package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/helixdb/pkg/config"
	"github.com/orneryd/helixdb/pkg/helix"
	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/traversal"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *helix.DB) {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Workers = 2
	if mutate != nil {
		mutate(cfg)
	}
	db, err := helix.OpenInMemory(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv, err := New(db, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, db
}

// registerUserQueries wires the createUser/getUser pair the gateway
// contract is specified against.
func registerUserQueries(t *testing.T, srv *Server) {
	t.Helper()

	require.NoError(t, srv.RegisterQuery(Query{
		Name: "createUser",
		Handler: func(input *HandlerInput) (map[string]traversal.ReturnValue, error) {
			var req struct {
				Arr []int64 `json:"arr"`
			}
			if err := json.Unmarshal(input.Body, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidInput, err)
			}
			user := traversal.NewMut(input.DB.Graph(), input.Txn).
				AddN("User", map[string]protocol.Value{"arr": protocol.I64Array(req.Arr)}, nil).
				Collect()
			return map[string]traversal.ReturnValue{
				"user": traversal.FromTraversalValsWithMixin(user, input.Remappings),
			}, nil
		},
	}))

	require.NoError(t, srv.RegisterQuery(Query{
		Name:     "getUser",
		ReadOnly: true,
		Handler: func(input *HandlerInput) (map[string]traversal.ReturnValue, error) {
			var req struct {
				UserID protocol.ID `json:"user_id"`
			}
			if err := json.Unmarshal(input.Body, &req); err != nil {
				return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidInput, err)
			}
			user, err := traversal.New(input.DB.Graph(), input.Txn).
				NFromID(req.UserID).
				CollectChecked()
			if err != nil {
				return nil, err
			}
			return map[string]traversal.ReturnValue{
				"user": traversal.FromTraversalValsWithMixin(user, input.Remappings),
			}, nil
		},
	}))
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQuery_CreateThenReadBack(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	registerUserQueries(t, srv)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/createUser", map[string]any{"arr": []int64{1, 2, 3}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created struct {
		User []map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Len(t, created.User, 1)
	user := created.User[0]
	assert.Equal(t, "User", user["label"])
	assert.Equal(t, []any{float64(1), float64(2), float64(3)}, user["arr"])
	id := user["id"].(string)
	require.NotEmpty(t, id)

	// Read back by the returned id; the object round-trips.
	rec = postJSON(t, handler, "/getUser", map[string]any{"user_id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var fetched struct {
		User []map[string]any `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	require.Len(t, fetched.User, 1)
	assert.Equal(t, user, fetched.User[0])
}

func TestQuery_ErrorStatusMapping(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	registerUserQueries(t, srv)
	handler := srv.Handler()

	// Unknown query name.
	rec := postJSON(t, handler, "/noSuchQuery", map[string]any{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Malformed input maps to 400.
	rec = postJSON(t, handler, "/getUser", map[string]any{"user_id": "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing node maps to 404.
	rec = postJSON(t, handler, "/getUser", map[string]any{"user_id": protocol.NewID().String()})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQuery_RollbackOnError(t *testing.T) {
	srv, db := newTestServer(t, nil)
	require.NoError(t, srv.RegisterQuery(Query{
		Name: "failingWrite",
		Handler: func(input *HandlerInput) (map[string]traversal.ReturnValue, error) {
			traversal.NewMut(input.DB.Graph(), input.Txn).AddN("Ghost", nil, nil).Collect()
			return nil, errors.New("boom")
		},
	}))

	rec := postJSON(t, srv.Handler(), "/failingWrite", map[string]any{})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The aborted write left nothing behind.
	txn := db.Storage.BeginRo()
	defer txn.Rollback()
	ghosts := traversal.New(db.Graph(), txn).NFromType("Ghost").Collect()
	assert.Empty(t, ghosts)
}

func TestNodesEdgesEndpoint(t *testing.T) {
	srv, db := newTestServer(t, nil)
	handler := srv.Handler()

	txn := db.Storage.BeginRw()
	a := traversal.NewMut(db.Graph(), txn).AddN("User", nil, nil).CollectToObj()
	b := traversal.NewMut(db.Graph(), txn).AddN("File", nil, nil).CollectToObj()
	traversal.NewMut(db.Graph(), txn).
		AddE("Owns", nil, a.Node.ID, b.Node.ID, true, traversal.EdgeNode).Collect()
	require.NoError(t, txn.Commit())

	req := httptest.NewRequest(http.MethodGet, "/nodes_edges?limit=10", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Nodes []map[string]any `json:"nodes"`
			Edges []map[string]any `json:"edges"`
		} `json:"data"`
		Stats map[string]any `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Nodes, 2)
	assert.Len(t, resp.Data.Edges, 1)
	assert.Equal(t, float64(2), resp.Stats["num_nodes"])
	assert.Equal(t, float64(1), resp.Stats["num_edges"])

	// Label filter.
	req = httptest.NewRequest(http.MethodGet, "/nodes_edges?node_label=User", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Nodes, 1)
	assert.Empty(t, resp.Data.Edges)
}

func TestGraphvisEndpoint(t *testing.T) {
	srv, db := newTestServer(t, nil)

	txn := db.Storage.BeginRw()
	traversal.NewMut(db.Graph(), txn).AddN("User", nil, nil).Collect()
	require.NoError(t, txn.Commit())

	req := httptest.NewRequest(http.MethodGet, "/graphvis", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))

	page := rec.Body.String()
	assert.NotContains(t, page, "{NODES_JSON_DATA}", "placeholders must be substituted")
	assert.NotContains(t, page, "{NUM_NODES}")
	assert.Contains(t, page, `"shape":"dot"`)
}

func TestMetricsAndHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Drive one request so a counter exists.
	postJSON(t, handler, "/missing", map[string]any{})

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "helixdb_requests_total")
}

func TestBasicAuth(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Enabled = true
		cfg.Auth.AdminPassword = "hunter2"
	})
	registerUserQueries(t, srv)
	handler := srv.Handler()

	// No credentials.
	rec := postJSON(t, handler, "/createUser", map[string]any{"arr": []int64{}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong password.
	req := httptest.NewRequest(http.MethodPost, "/createUser", strings.NewReader(`{"arr":[]}`))
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Correct credentials.
	req = httptest.NewRequest(http.MethodPost, "/createUser", strings.NewReader(`{"arr":[1]}`))
	req.SetBasicAuth("admin", "hunter2")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWorkerPool_RunsToCompletion(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Close()

	var ran atomic.Int32
	err := pool.Process(context.Background(), func() { ran.Add(1) })
	require.NoError(t, err)
	assert.Equal(t, int32(1), ran.Load())

	// A cancelled context abandons the wait, not the work.
	started := make(chan struct{})
	finished := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		pool.Process(ctx, func() {
			close(started)
			time.Sleep(50 * time.Millisecond)
			close(finished)
		})
	}()
	<-started
	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run to completion after cancellation")
	}
}

func TestWorkerPool_ClosedRejectsWork(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Close()
	err := pool.Process(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}
