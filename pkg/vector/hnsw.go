// Package vector implements the HNSW index over the vectors table: a
// multi-layer proximity graph persisted inside the storage environment,
// with greedy descent through the upper layers and beam search at the
// bottom.
//
// All state lives in the transaction's view of the vectors table, so
// inserts participate in the surrounding write transaction and searches
// read a consistent snapshot.
package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/orneryd/helixdb/pkg/protocol"
	"github.com/orneryd/helixdb/pkg/storage"
)

// Config holds the HNSW build and search parameters.
type Config struct {
	// M is the max neighbour count per node per layer.
	M int
	// MMax0 is the layer-0 cap, conventionally 2M.
	MMax0 int
	// EfConstruction is the beam width during insert.
	EfConstruction int
	// EfSearch is the default beam width during search.
	EfSearch int
	// Dimension is the accepted vector dimension. 0 accepts any.
	Dimension int
	// Cosine normalises vectors on insert and searches by angle instead
	// of L2.
	Cosine bool
}

// DefaultConfig mirrors the conventional HNSW parameters.
func DefaultConfig() Config {
	return Config{M: 16, MMax0: 32, EfConstruction: 200, EfSearch: 100}
}

// Index is the HNSW index bound to one storage engine.
type Index struct {
	eng   *storage.Engine
	cfg   Config
	mL    float64
	randF func() float64
}

// New builds an index over eng. Zero config fields fall back to the
// defaults.
func New(eng *storage.Engine, cfg Config) *Index {
	def := DefaultConfig()
	if cfg.M <= 0 {
		cfg.M = def.M
	}
	if cfg.MMax0 <= 0 {
		cfg.MMax0 = 2 * cfg.M
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = def.EfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = def.EfSearch
	}
	return &Index{
		eng:   eng,
		cfg:   cfg,
		mL:    1.0 / math.Log(float64(cfg.M)),
		randF: rand.Float64,
	}
}

// Config returns the effective parameters.
func (ix *Index) Config() Config { return ix.cfg }

func (ix *Index) capAt(layer int) int {
	if layer == 0 {
		return ix.cfg.MMax0
	}
	return ix.cfg.M
}

func (ix *Index) randomLevel() int {
	r := ix.randF()
	if r <= 0 {
		r = math.SmallestNonzeroFloat64
	}
	return int(-math.Log(r) * ix.mL)
}

func (ix *Index) distance(a, b []float64) float64 {
	if ix.cfg.Cosine {
		var dot float64
		for i := range a {
			dot += a[i] * b[i]
		}
		return 1.0 - dot
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func normalize(v []float64) []float64 {
	var norm float64
	for _, f := range v {
		norm += f * f
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = f / norm
	}
	return out
}

// entry point persistence: id(16) + level(1) under the meta key.

func (ix *Index) entryPoint(txn *storage.Txn) (protocol.ID, int, bool, error) {
	val, ok, err := txn.Get(storage.HNSWEntryKey())
	if err != nil || !ok {
		return protocol.ID{}, 0, false, err
	}
	if len(val) != 17 {
		return protocol.ID{}, 0, false, fmt.Errorf("%w: malformed hnsw entry point", storage.ErrInvariantBroken)
	}
	id, _ := protocol.IDFromBytes(val[:16])
	return id, int(val[16]), true, nil
}

func (ix *Index) setEntryPoint(txn *storage.Txn, id protocol.ID, level int) error {
	val := append(id.Bytes(), byte(level))
	return txn.Set(storage.HNSWEntryKey(), val)
}

// layer record access, with a per-operation coordinate cache.

type layerCtx struct {
	txn   *storage.Txn
	ix    *Index
	cache map[protocol.ID][]float64
}

func (ix *Index) newCtx(txn *storage.Txn) *layerCtx {
	return &layerCtx{txn: txn, ix: ix, cache: make(map[protocol.ID][]float64)}
}

func (c *layerCtx) record(id protocol.ID, layer int) (*storage.Vector, error) {
	val, ok, err := c.txn.Get(storage.VectorKey(id, uint8(layer)))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s at layer %d", storage.ErrVectorNotFound, id, layer)
	}
	return storage.DecodeVectorRecord(id, layer, val)
}

func (c *layerCtx) data(id protocol.ID) ([]float64, error) {
	if d, ok := c.cache[id]; ok {
		return d, nil
	}
	rec, err := c.record(id, 0)
	if err != nil {
		return nil, err
	}
	c.cache[id] = rec.Data
	return rec.Data, nil
}

func (c *layerCtx) neighbors(id protocol.ID, layer int) ([]protocol.ID, error) {
	rec, err := c.record(id, layer)
	if err != nil {
		return nil, err
	}
	return rec.Neighbors, nil
}

func (c *layerCtx) writeNeighbors(v *storage.Vector, layer int, neighbors []protocol.ID) error {
	float64Width := c.ix.eng.Options().Float64
	data, err := storage.EncodeVectorRecord(v, neighbors, layer == 0, float64Width)
	if err != nil {
		return err
	}
	return c.txn.Set(storage.VectorKey(v.ID, uint8(layer)), data)
}

// rewriteNeighbors rewrites the neighbour list of an existing record,
// keeping its payload when it is the base layer.
func (c *layerCtx) rewriteNeighbors(id protocol.ID, layer int, neighbors []protocol.ID) error {
	rec, err := c.record(id, layer)
	if err != nil {
		return err
	}
	if layer == 0 {
		// Keep the payload intact; only the tail changes.
		return c.writeNeighbors(rec, 0, neighbors)
	}
	rec.Neighbors = nil
	return c.writeNeighbors(rec, layer, neighbors)
}

// cand is a candidate with its distance to the query.
type cand struct {
	id   protocol.ID
	dist float64
}

// candHeap orders candidates; max flips it into a max-heap for the
// bounded result set.
type candHeap struct {
	items []cand
	max   bool
}

func (h *candHeap) Len() int { return len(h.items) }
func (h *candHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].dist > h.items[j].dist
	}
	return h.items[i].dist < h.items[j].dist
}
func (h *candHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *candHeap) Push(x interface{}) { h.items = append(h.items, x.(cand)) }
func (h *candHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	x := old[n-1]
	h.items = old[:n-1]
	return x
}

// greedyClosest walks one layer keeping a single best candidate.
func (c *layerCtx) greedyClosest(query []float64, entry protocol.ID, layer int) (protocol.ID, error) {
	curData, err := c.data(entry)
	if err != nil {
		return protocol.ID{}, err
	}
	cur := entry
	curDist := c.ix.distance(query, curData)
	for {
		changed := false
		neighbors, err := c.neighbors(cur, layer)
		if err != nil {
			return protocol.ID{}, err
		}
		for _, nb := range neighbors {
			nbData, err := c.data(nb)
			if err != nil {
				return protocol.ID{}, err
			}
			if d := c.ix.distance(query, nbData); d < curDist {
				cur, curDist = nb, d
				changed = true
			}
		}
		if !changed {
			return cur, nil
		}
	}
}

// searchLayer is the beam search: a min-heap of candidates to expand and
// a bounded max-heap of the best ef seen. It stops when the nearest
// unexpanded candidate is farther than the worst kept result.
func (c *layerCtx) searchLayer(query []float64, entry protocol.ID, ef, layer int) ([]cand, error) {
	entryData, err := c.data(entry)
	if err != nil {
		return nil, err
	}
	entryDist := c.ix.distance(query, entryData)

	visited := map[protocol.ID]struct{}{entry: {}}
	candidates := &candHeap{}
	results := &candHeap{max: true}
	heap.Init(candidates)
	heap.Init(results)
	heap.Push(candidates, cand{id: entry, dist: entryDist})
	heap.Push(results, cand{id: entry, dist: entryDist})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(cand)
		if results.Len() >= ef && closest.dist > results.items[0].dist {
			break
		}
		neighbors, err := c.neighbors(closest.id, layer)
		if err != nil {
			return nil, err
		}
		for _, nb := range neighbors {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			nbData, err := c.data(nb)
			if err != nil {
				return nil, err
			}
			d := c.ix.distance(query, nbData)
			if results.Len() < ef || d < results.items[0].dist {
				heap.Push(candidates, cand{id: nb, dist: d})
				heap.Push(results, cand{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]cand, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(cand)
	}
	return out, nil
}

// selectNeighbors applies the diversity-preserving heuristic: walk the
// candidates nearest first and keep one only if no already-kept
// neighbour is closer to it than the query is.
func (c *layerCtx) selectNeighbors(candidates []cand, m int) ([]protocol.ID, error) {
	if len(candidates) <= m {
		out := make([]protocol.ID, len(candidates))
		for i, cd := range candidates {
			out[i] = cd.id
		}
		return out, nil
	}
	sorted := make([]cand, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	selected := make([]protocol.ID, 0, m)
	for _, cd := range sorted {
		if len(selected) >= m {
			break
		}
		cdData, err := c.data(cd.id)
		if err != nil {
			return nil, err
		}
		dominated := false
		for _, sel := range selected {
			selData, err := c.data(sel)
			if err != nil {
				return nil, err
			}
			if c.ix.distance(cdData, selData) < cd.dist {
				dominated = true
				break
			}
		}
		if !dominated {
			selected = append(selected, cd.id)
		}
	}
	// Backfill with the nearest remaining candidates when diversity
	// pruned below m.
	if len(selected) < m {
		have := make(map[protocol.ID]struct{}, len(selected))
		for _, id := range selected {
			have[id] = struct{}{}
		}
		for _, cd := range sorted {
			if len(selected) >= m {
				break
			}
			if _, ok := have[cd.id]; !ok {
				selected = append(selected, cd.id)
			}
		}
	}
	return selected, nil
}

// Insert adds a vector and links it into every layer up to its drawn
// level. It holds the write transaction for the whole operation.
func (ix *Index) Insert(txn *storage.Txn, label string, data []float64, props map[string]protocol.Value) (*storage.Vector, error) {
	if ix.cfg.Dimension > 0 && len(data) != ix.cfg.Dimension {
		return nil, fmt.Errorf("%w: vector dimension %d, index expects %d",
			protocol.ErrInvalidInput, len(data), ix.cfg.Dimension)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty vector", protocol.ErrInvalidInput)
	}
	if ix.cfg.Cosine {
		data = normalize(data)
	}

	level := ix.randomLevel()
	v := &storage.Vector{
		ID:         protocol.NewID(),
		Label:      label,
		Data:       data,
		Level:      level,
		Properties: props,
	}

	c := ix.newCtx(txn)
	c.cache[v.ID] = data

	ep, epLevel, hasEntry, err := ix.entryPoint(txn)
	if err != nil {
		return nil, err
	}
	if !hasEntry {
		for l := level; l >= 0; l-- {
			if err := c.writeNeighbors(v, l, nil); err != nil {
				return nil, err
			}
		}
		if err := ix.setEntryPoint(txn, v.ID, level); err != nil {
			return nil, err
		}
		return v.Clone(), nil
	}

	// Layers the new vector owns above the current top start empty.
	for l := level; l > epLevel; l-- {
		if err := c.writeNeighbors(v, l, nil); err != nil {
			return nil, err
		}
	}

	cur := ep
	for l := epLevel; l > level; l-- {
		cur, err = c.greedyClosest(data, cur, l)
		if err != nil {
			return nil, err
		}
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		candidates, err := c.searchLayer(data, cur, ix.cfg.EfConstruction, l)
		if err != nil {
			return nil, err
		}
		neighbors, err := c.selectNeighbors(candidates, ix.capAt(l))
		if err != nil {
			return nil, err
		}
		if err := c.writeNeighbors(v, l, neighbors); err != nil {
			return nil, err
		}

		for _, nb := range neighbors {
			list, err := c.neighbors(nb, l)
			if err != nil {
				return nil, err
			}
			list = append(list, v.ID)
			if len(list) > ix.capAt(l) {
				nbData, err := c.data(nb)
				if err != nil {
					return nil, err
				}
				cands := make([]cand, len(list))
				for i, id := range list {
					idData, err := c.data(id)
					if err != nil {
						return nil, err
					}
					cands[i] = cand{id: id, dist: ix.distance(nbData, idData)}
				}
				list, err = c.selectNeighbors(cands, ix.capAt(l))
				if err != nil {
					return nil, err
				}
			}
			if err := c.rewriteNeighbors(nb, l, list); err != nil {
				return nil, err
			}
		}

		if len(candidates) > 0 {
			cur = candidates[0].id
		}
	}

	if level > epLevel {
		if err := ix.setEntryPoint(txn, v.ID, level); err != nil {
			return nil, err
		}
	}
	return v.Clone(), nil
}

// Search returns the k nearest vectors to query with the given label.
// ef is raised to at least k; a missing entry point yields an empty
// result, not an error.
func (ix *Index) Search(txn *storage.Txn, query []float64, k int, label string, ef int, filter func(*storage.Vector) bool) ([]*storage.Vector, error) {
	if ix.cfg.Dimension > 0 && len(query) != ix.cfg.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index expects %d",
			protocol.ErrInvalidInput, len(query), ix.cfg.Dimension)
	}
	if ef <= 0 {
		ef = ix.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}
	if ix.cfg.Cosine {
		query = normalize(query)
	}

	ep, epLevel, hasEntry, err := ix.entryPoint(txn)
	if err != nil {
		return nil, err
	}
	if !hasEntry {
		return nil, nil
	}

	c := ix.newCtx(txn)
	cur := ep
	for l := epLevel; l > 0; l-- {
		cur, err = c.greedyClosest(query, cur, l)
		if err != nil {
			return nil, err
		}
	}
	candidates, err := c.searchLayer(query, cur, ef, 0)
	if err != nil {
		return nil, err
	}

	out := make([]*storage.Vector, 0, k)
	for _, cd := range candidates {
		if len(out) >= k {
			break
		}
		rec, err := c.record(cd.id, 0)
		if err != nil {
			return nil, err
		}
		if label != "" && rec.Label != label {
			continue
		}
		if filter != nil && !filter(rec) {
			continue
		}
		rec.Distance = cd.dist
		out = append(out, rec)
	}
	return out, nil
}

// BruteForce linearly scans every stored vector with the label, keeping
// a bounded top-k heap.
func (ix *Index) BruteForce(txn *storage.Txn, query []float64, k int, label string) ([]*storage.Vector, error) {
	if ix.cfg.Cosine {
		query = normalize(query)
	}
	top := &candHeap{max: true}
	heap.Init(top)
	err := txn.IteratePrefix(storage.VectorsTablePrefix(), func(key, val []byte) (bool, error) {
		if len(key) != 1+16+1 || key[len(key)-1] != 0 {
			return true, nil
		}
		id, err := protocol.IDFromBytes(key[1 : 1+16])
		if err != nil {
			return false, err
		}
		rec, err := storage.DecodeVectorRecord(id, 0, val)
		if err != nil {
			return false, err
		}
		if label != "" && rec.Label != label {
			return true, nil
		}
		if len(rec.Data) != len(query) {
			return true, nil
		}
		d := ix.distance(query, rec.Data)
		if top.Len() < k {
			heap.Push(top, cand{id: id, dist: d})
		} else if d < top.items[0].dist {
			heap.Pop(top)
			heap.Push(top, cand{id: id, dist: d})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	ordered := make([]cand, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(top).(cand)
	}
	c := ix.newCtx(txn)
	out := make([]*storage.Vector, 0, len(ordered))
	for _, cd := range ordered {
		rec, err := c.record(cd.id, 0)
		if err != nil {
			return nil, err
		}
		rec.Distance = cd.dist
		out = append(out, rec)
	}
	return out, nil
}

// Get fetches a vector's base record by id.
func (ix *Index) Get(txn *storage.Txn, id protocol.ID) (*storage.Vector, error) {
	val, ok, err := txn.Get(storage.VectorKey(id, 0))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrVectorNotFound, id)
	}
	return storage.DecodeVectorRecord(id, 0, val)
}

// Exists reports whether a vector is stored.
func (ix *Index) Exists(txn *storage.Txn, id protocol.ID) bool {
	_, ok, err := txn.Get(storage.VectorKey(id, 0))
	return err == nil && ok
}

// Drop removes the vector from every layer, unlinks it from each
// neighbour, and reconnects neighbours whose degree fell below half the
// layer cap to the closest of the dropped vector's remaining neighbours.
func (ix *Index) Drop(txn *storage.Txn, id protocol.ID) error {
	base, err := ix.Get(txn, id)
	if err != nil {
		return err
	}
	c := ix.newCtx(txn)
	c.cache[id] = base.Data

	for l := 0; l <= base.Level; l++ {
		rec, err := c.record(id, l)
		if err != nil {
			return err
		}
		peers := rec.Neighbors
		for _, nb := range peers {
			list, err := c.neighbors(nb, l)
			if err != nil {
				return err
			}
			pruned := list[:0]
			for _, other := range list {
				if other != id {
					pruned = append(pruned, other)
				}
			}
			if len(pruned) < ix.capAt(l)/2 {
				pruned, err = c.reconnect(nb, pruned, peers, id)
				if err != nil {
					return err
				}
			}
			if err := c.rewriteNeighbors(nb, l, pruned); err != nil {
				return err
			}
		}
		if err := txn.Delete(storage.VectorKey(id, uint8(l))); err != nil {
			return err
		}
	}

	ep, _, hasEntry, err := ix.entryPoint(txn)
	if err != nil {
		return err
	}
	if hasEntry && ep == id {
		return ix.electEntryPoint(txn)
	}
	return nil
}

// reconnect links nb to its closest candidate among the dropped vector's
// other neighbours that it is not already linked to.
func (c *layerCtx) reconnect(nb protocol.ID, current, candidates []protocol.ID, dropped protocol.ID) ([]protocol.ID, error) {
	have := make(map[protocol.ID]struct{}, len(current)+2)
	have[nb] = struct{}{}
	have[dropped] = struct{}{}
	for _, id := range current {
		have[id] = struct{}{}
	}
	nbData, err := c.data(nb)
	if err != nil {
		return nil, err
	}
	best := protocol.ID{}
	bestDist := math.Inf(1)
	for _, cd := range candidates {
		if _, skip := have[cd]; skip {
			continue
		}
		cdData, err := c.data(cd)
		if err != nil {
			return nil, err
		}
		if d := c.ix.distance(nbData, cdData); d < bestDist {
			best, bestDist = cd, d
		}
	}
	if best.IsZero() {
		return current, nil
	}
	return append(current, best), nil
}

// electEntryPoint rescans the vectors table for the highest remaining
// layer after the entry point was dropped.
func (ix *Index) electEntryPoint(txn *storage.Txn) error {
	var bestID protocol.ID
	bestLevel := -1
	err := txn.IterateKeys(storage.VectorsTablePrefix(), func(key []byte) (bool, error) {
		if len(key) != 1+16+1 {
			return true, nil
		}
		level := int(key[len(key)-1])
		if level > bestLevel {
			bestLevel = level
			copy(bestID[:], key[1:1+16])
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	if bestLevel < 0 {
		return txn.Delete(storage.HNSWEntryKey())
	}
	return ix.setEntryPoint(txn, bestID, bestLevel)
}
