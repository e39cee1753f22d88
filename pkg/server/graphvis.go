package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

//go:embed graphvis.html
var graphvisTemplate string

// handleGraphvis renders the embedded visualisation page with the graph
// sample and table counts inlined.
func (s *Server) handleGraphvis(w http.ResponseWriter, r *http.Request) {
	var page string
	var runErr error
	err := s.pool.Process(r.Context(), func() {
		page, runErr = s.renderGraphvis()
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if runErr != nil {
		s.writeError(w, "graphvis", runErr)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(page))
	s.count("graphvis", http.StatusOK)
}

func (s *Server) renderGraphvis() (string, error) {
	txn := s.db.Storage.BeginRo()
	defer txn.Rollback()

	raw, err := s.db.Storage.NodesEdgesToJSON(txn, 0, s.cfg.GraphvisNodeLabel)
	if err != nil {
		return "", err
	}

	var graph struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return "", err
	}
	for _, node := range graph.Nodes {
		node["color"] = "#97c2fc"
		node["shape"] = "dot"
	}
	for _, edge := range graph.Edges {
		edge["arrows"] = "to"
	}

	stats, err := s.db.Storage.GetDBStats(txn)
	if err != nil {
		return "", err
	}

	nodesJSON, err := json.Marshal(graph.Nodes)
	if err != nil {
		return "", err
	}
	edgesJSON, err := json.Marshal(graph.Edges)
	if err != nil {
		return "", err
	}

	page := graphvisTemplate
	page = strings.ReplaceAll(page, "{NODES_JSON_DATA}", string(nodesJSON))
	page = strings.ReplaceAll(page, "{EDGES_JSON_DATA}", string(edgesJSON))
	page = strings.ReplaceAll(page, "{NUM_NODES}", strconv.FormatInt(stats.NumNodes, 10))
	page = strings.ReplaceAll(page, "{NUM_EDGES}", strconv.FormatInt(stats.NumEdges, 10))
	page = strings.ReplaceAll(page, "{NUM_VECTORS}", strconv.FormatInt(stats.NumVectors, 10))
	page = strings.ReplaceAll(page, "{NUM_NODES_SHOWING}", strconv.Itoa(len(graph.Nodes)))
	return page, nil
}
