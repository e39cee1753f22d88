// Package server is the HTTP gateway over one HelixDB database: compiled
// queries under POST /{query}, the traversal tools under /mcp, and the
// visualisation and stats endpoints.
//
// Requests drain through a fixed worker pool; each worker runs one query
// to completion on one transaction. The gateway owns begin/commit/
// rollback — handlers never touch transaction lifecycle.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orneryd/helixdb/pkg/config"
	"github.com/orneryd/helixdb/pkg/helix"
	"github.com/orneryd/helixdb/pkg/mcp"
	"github.com/orneryd/helixdb/pkg/storage"
)

// Server is the HTTP gateway.
type Server struct {
	db      *helix.DB
	cfg     *config.Config
	pool    *WorkerPool
	queries *queryRegistry
	metrics *metrics
	mcp     *mcp.Backend

	httpServer   *http.Server
	listener     net.Listener
	passwordHash []byte
}

// New builds a gateway over db. The worker pool starts immediately;
// Start binds the listener.
func New(db *helix.DB, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = db.Config
	}
	s := &Server{
		db:      db,
		cfg:     cfg,
		pool:    NewWorkerPool(cfg.Server.Workers),
		queries: newQueryRegistry(),
		metrics: newMetrics(),
		mcp:     mcp.NewBackend(db),
	}
	if cfg.Auth.Enabled {
		hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Auth.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hashing admin password: %w", err)
		}
		s.passwordHash = hash
	}
	return s, nil
}

// RegisterQuery installs a compiled query under POST /{name}.
func (s *Server) RegisterQuery(q Query) error {
	return s.queries.register(q)
}

// Handler builds the router. Exposed for tests driving the server with
// httptest.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Group(func(r chi.Router) {
		if s.passwordHash != nil {
			r.Use(s.authMiddleware)
		}
		r.Get("/graphvis", s.handleGraphvis)
		r.Get("/nodes_edges", s.handleNodesEdges)
		r.Post("/mcp/{tool}", s.handleMCP)
		r.Post("/{query}", s.handleQuery)
	})
	return r
}

// Start binds the configured address and serves until Stop.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.Server.Address, strconv.Itoa(s.cfg.Server.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("helixdb listening on %s", addr)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("http server: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains the pool and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.pool.Close()
	return err
}

// ============================================================================
// Middleware
// ============================================================================

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("panic serving %s: %v", r.URL.Path, rec)
				s.writeError(w, r.URL.Path, fmt.Errorf("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		authorized := ok &&
			subtle.ConstantTimeCompare([]byte(user), []byte("admin")) == 1 &&
			bcrypt.CompareHashAndPassword(s.passwordHash, []byte(pass)) == nil
		if !authorized {
			w.Header().Set("WWW-Authenticate", `Basic realm="helixdb"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "query")
	q, ok := s.queries.lookup(name)
	if !ok {
		s.count(name, http.StatusNotFound)
		http.Error(w, fmt.Sprintf("unknown query %q", name), http.StatusNotFound)
		return
	}

	body := make([]byte, 0)
	if r.Body != nil {
		buf, err := readBody(r)
		if err != nil {
			s.count(name, http.StatusBadRequest)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body = buf
	}

	enqueued := time.Now()
	var out any
	var runErr error
	err := s.pool.Process(r.Context(), func() {
		s.metrics.queueWait.Observe(time.Since(enqueued).Seconds())
		start := time.Now()
		out, runErr = runQuery(s.db, q, body)
		s.metrics.queryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	})
	if err != nil {
		s.count(name, http.StatusServiceUnavailable)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if runErr != nil {
		s.writeError(w, name, runErr)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
	s.count(name, http.StatusOK)
}

func (s *Server) handleNodesEdges(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	label := r.URL.Query().Get("node_label")

	var payload string
	var runErr error
	err := s.pool.Process(r.Context(), func() {
		txn := s.db.Storage.BeginRo()
		defer txn.Rollback()
		data, err := s.db.Storage.NodesEdgesToJSON(txn, limit, label)
		if err != nil {
			runErr = err
			return
		}
		stats, err := s.db.Storage.GetDBStatsJSON(txn)
		if err != nil {
			runErr = err
			return
		}
		payload = fmt.Sprintf(`{"data": %s, "stats": %s}`, data, stats)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if runErr != nil {
		s.writeError(w, "nodes_edges", runErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(payload))
	s.count("nodes_edges", http.StatusOK)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")
	body, err := readBody(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var out any
	var runErr error
	err = s.pool.Process(r.Context(), func() {
		out, runErr = s.mcp.Call(tool, body)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if runErr != nil {
		s.writeError(w, "mcp/"+tool, runErr)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
	s.count("mcp/"+tool, http.StatusOK)
}

// ============================================================================
// Helpers
// ============================================================================

func readBody(r *http.Request) ([]byte, error) {
	const maxBody = 10 << 20
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return data, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

// writeError maps error kinds to coarse statuses: input 400, not-found
// 404, everything else 500.
func (s *Server) writeError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	switch storage.KindOf(err) {
	case storage.KindInput:
		status = http.StatusBadRequest
	case storage.KindNotFound:
		status = http.StatusNotFound
	}
	s.count(endpoint, status)
	http.Error(w, err.Error(), status)
}

func (s *Server) count(endpoint string, status int) {
	s.metrics.requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}
