package traversal

import (
	"sort"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// ShortestPath finds the minimal-hop path from each upstream node to
// target over edges with the given label, walked in both directions as a
// bidirectional BFS. Unreachable targets yield nothing; reachable ones
// yield a Path whose edge endpoints match the node sequence. Frontier
// ties break toward the lower numeric id.
func (t *Traversal) ShortestPath(edgeLabel string, target protocol.ID) *Traversal {
	lh := storage.HashLabel(edgeLabel)
	return t.with(expand(t.inner, func(tv TraversalVal) []Item {
		id, ok := tv.ID()
		if !ok {
			return nil
		}
		path, err := t.shortestPath(lh, id, target)
		if err != nil {
			return []Item{errItem(err)}
		}
		if path == nil {
			return nil
		}
		return []Item{okItem(PathVal(path))}
	}))
}

// hop records how a BFS reached a node.
type hop struct {
	prev protocol.ID
	edge protocol.ID
}

func (t *Traversal) shortestPath(labelHash uint32, source, target protocol.ID) (*Path, error) {
	if source == target {
		node, err := t.graph.Storage.GetNode(t.txn, source)
		if err != nil {
			return nil, err
		}
		return &Path{Nodes: []*storage.Node{node}}, nil
	}

	fromSource := map[protocol.ID]hop{source: {}}
	fromTarget := map[protocol.ID]hop{target: {}}
	srcFrontier := []protocol.ID{source}
	tgtFrontier := []protocol.ID{target}

	for len(srcFrontier) > 0 && len(tgtFrontier) > 0 {
		// Expand the smaller frontier; lower ids first so that equal-length
		// paths resolve deterministically.
		forward := len(srcFrontier) <= len(tgtFrontier)
		var frontier []protocol.ID
		var visited, opposite map[protocol.ID]hop
		if forward {
			frontier, visited, opposite = srcFrontier, fromSource, fromTarget
		} else {
			frontier, visited, opposite = tgtFrontier, fromTarget, fromSource
		}
		sort.Slice(frontier, func(i, j int) bool { return frontier[i].Compare(frontier[j]) < 0 })

		var next []protocol.ID
		for _, cur := range frontier {
			neighbors, err := t.pathNeighbors(labelHash, cur, forward)
			if err != nil {
				return nil, err
			}
			sort.Slice(neighbors, func(i, j int) bool {
				return neighbors[i].other.Compare(neighbors[j].other) < 0
			})
			for _, nb := range neighbors {
				if _, seen := visited[nb.other]; seen {
					continue
				}
				visited[nb.other] = hop{prev: cur, edge: nb.edge}
				if _, met := opposite[nb.other]; met {
					return t.assemblePath(fromSource, fromTarget, source, target, nb.other)
				}
				next = append(next, nb.other)
			}
		}
		if forward {
			srcFrontier = next
		} else {
			tgtFrontier = next
		}
	}
	return nil, nil
}

// pathNeighbors walks out-adjacency when moving forward from the source
// and in-adjacency when moving backward from the target, so the met-in-
// the-middle path is directed source-to-target.
func (t *Traversal) pathNeighbors(labelHash uint32, id protocol.ID, forward bool) ([]adjPair, error) {
	prefix := storage.OutEdgePrefix(id, labelHash)
	if !forward {
		prefix = storage.InEdgePrefix(id, labelHash)
	}
	return scanAdjacency(t.txn, prefix)
}

func (t *Traversal) assemblePath(fromSource, fromTarget map[protocol.ID]hop, source, target, meet protocol.ID) (*Path, error) {
	// Walk meet -> source, reverse, then meet -> target.
	var idsBack []protocol.ID
	var edgesBack []protocol.ID
	for cur := meet; cur != source; {
		h := fromSource[cur]
		idsBack = append(idsBack, cur)
		edgesBack = append(edgesBack, h.edge)
		cur = h.prev
	}

	ids := []protocol.ID{source}
	var edgeIDs []protocol.ID
	for i := len(idsBack) - 1; i >= 0; i-- {
		ids = append(ids, idsBack[i])
		edgeIDs = append(edgeIDs, edgesBack[i])
	}
	for cur := meet; cur != target; {
		h := fromTarget[cur]
		ids = append(ids, h.prev)
		edgeIDs = append(edgeIDs, h.edge)
		cur = h.prev
	}

	path := &Path{
		Nodes: make([]*storage.Node, 0, len(ids)),
		Edges: make([]*storage.Edge, 0, len(edgeIDs)),
	}
	for _, id := range ids {
		node, err := t.graph.Storage.GetNode(t.txn, id)
		if err != nil {
			return nil, err
		}
		path.Nodes = append(path.Nodes, node)
	}
	for _, id := range edgeIDs {
		edge, err := t.graph.Storage.GetEdge(t.txn, id)
		if err != nil {
			return nil, err
		}
		path.Edges = append(path.Edges, edge)
	}
	return path, nil
}
