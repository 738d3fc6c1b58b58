// Package hnsw implements a Hierarchical Navigable Small World graph: the
// in-memory approximate-nearest-neighbor index every Collection owns one
// of. Nodes live in a dense arena addressed by internal uint32 indices so
// adjacency arrays stay cache-dense; no node ever holds an owning
// reference to another node.
package hnsw

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/vecdb-io/vecdb/pkg/vector"
)

// ErrDimensionMismatch is returned when a vector's length does not match
// the index's configured dimension.
var ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")

// ErrDuplicateID is returned by Insert when id is already present and the
// caller did not ask for an update.
var ErrDuplicateID = errors.New("hnsw: duplicate id")

// Config holds the tunable parameters of the graph build/search algorithm.
type Config struct {
	M              int     // max neighbors per node, layers > 0
	M0             int     // max neighbors per node, layer 0
	EfConstruction int     // candidate list size during insert
	EfSearch       int     // default candidate list size during search
	LevelMult      float64 // level = floor(-ln(U(0,1)) * LevelMult)
}

// DefaultConfig returns M=16, M0=32, ef_construction=200, ef_search=50,
// level_mult=1/ln(M).
func DefaultConfig() Config {
	return Config{
		M:              16,
		M0:             32,
		EfConstruction: 200,
		EfSearch:       50,
		LevelMult:      1.0 / math.Log(16.0),
	}
}

// node is one arena slot. neighbors[l] holds the internal indices of its
// layer-l adjacency; index math.MaxUint32 is never a valid neighbor so a
// tombstoned slot's neighbors are simply left stale until Optimize.
type node struct {
	id        string
	vector    []float32
	level     int
	neighbors [][]uint32
	tombstone bool
	mu        sync.RWMutex
}

// Index is a single HNSW graph for vectors of a fixed dimension under a
// fixed distance metric.
type Index struct {
	cfg        Config
	dimensions int
	metric     vector.Metric

	mu         sync.RWMutex
	arena      []*node
	byID       map[string]uint32
	entryPoint uint32
	hasEntry   bool
	maxLevel   int
	liveCount  int
}

// New creates an empty index over vectors of the given dimension.
func New(dimensions int, metric vector.Metric, cfg Config) *Index {
	if cfg.M == 0 {
		cfg = DefaultConfig()
	}
	return &Index{
		cfg:        cfg,
		dimensions: dimensions,
		metric:     metric,
		byID:       make(map[string]uint32),
	}
}

// Insert adds id/vec to the graph and returns the level assigned to it.
// Fails with ErrDimensionMismatch, or ErrDuplicateID when id is already
// live. A tombstoned id can be inserted again, which is how the Collection
// layer routes explicit updates (Delete+Insert).
func (idx *Index) Insert(id string, vec []float32) (int, error) {
	if len(vec) != idx.dimensions {
		return 0, ErrDimensionMismatch
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if i, exists := idx.byID[id]; exists && !idx.arena[i].tombstone {
		return 0, ErrDuplicateID
	}

	level := idx.randomLevel()
	n := &node{
		id:        id,
		vector:    vec,
		level:     level,
		neighbors: make([][]uint32, level+1),
	}
	for l := range n.neighbors {
		n.neighbors[l] = make([]uint32, 0, idx.capForLayer(l))
	}

	self := uint32(len(idx.arena))
	idx.arena = append(idx.arena, n)
	idx.byID[id] = self
	idx.liveCount++

	if !idx.hasEntry {
		idx.entryPoint = self
		idx.hasEntry = true
		idx.maxLevel = level
		return level, nil
	}

	ep := idx.entryPoint
	epLevel := idx.arena[ep].level

	for l := epLevel; l > level; l-- {
		ep = idx.greedyClosest(vec, ep, l)
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		candidates := idx.searchLayer(vec, ep, idx.cfg.EfConstruction, l)
		chosen := idx.selectNeighborsDiverse(vec, candidates, idx.capForLayer(l))
		n.neighbors[l] = chosen

		for _, nb := range chosen {
			idx.linkAndShrink(nb, self, l)
		}

		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = self
		idx.maxLevel = level
	}

	return level, nil
}

// linkAndShrink adds self as a neighbor of nb at layer l, reapplying the
// diversity heuristic to shrink nb's adjacency back to its cap if needed.
// Every node the shrink drops from nb's list (self included) loses its
// edge back to nb as well, so adjacency stays symmetric.
func (idx *Index) linkAndShrink(nb, self uint32, l int) {
	other := idx.arena[nb]
	other.mu.Lock()
	defer other.mu.Unlock()

	if len(other.neighbors) <= l {
		return
	}

	cap := idx.capForLayer(l)
	if len(other.neighbors[l]) < cap {
		other.neighbors[l] = append(other.neighbors[l], self)
		return
	}

	all := append(append([]uint32{}, other.neighbors[l]...), self)
	other.neighbors[l] = idx.selectNeighborsDiverse(other.vector, all, cap)
	kept := make(map[uint32]bool, cap)
	for _, k := range other.neighbors[l] {
		kept[k] = true
	}
	for _, d := range all {
		if dn := idx.arena[d]; !kept[d] {
			dn.mu.Lock()
			pruned := make([]uint32, 0, len(dn.neighbors[l]))
			for _, x := range dn.neighbors[l] {
				if x != nb {
					pruned = append(pruned, x)
				}
			}
			dn.neighbors[l] = pruned
			dn.mu.Unlock()
		}
	}
}

func (idx *Index) capForLayer(l int) int {
	if l == 0 {
		return idx.cfg.M0
	}
	return idx.cfg.M
}

// Delete tombstones id. Idempotent; neighbor lists are not rewired until
// the next Optimize.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i, ok := idx.byID[id]
	if !ok {
		return
	}
	n := idx.arena[i]
	n.mu.Lock()
	already := n.tombstone
	n.tombstone = true
	n.mu.Unlock()

	if !already {
		idx.liveCount--
	}
}

// Result is one hit from Search: an id and its distance under the index's
// configured metric (ascending = more similar).
type Result struct {
	ID       string
	Distance float64
}

// Search returns at most k live (non-tombstoned) nearest neighbors to
// query, sorted ascending by distance, ties broken by id. An ef of zero or
// less uses the configured EfSearch; ef is then clamped up to k when
// smaller.
func (idx *Index) Search(query []float32, k int, ef int) ([]Result, error) {
	if len(query) != idx.dimensions {
		return nil, ErrDimensionMismatch
	}
	if ef <= 0 {
		ef = idx.cfg.EfSearch
	}
	if ef < k {
		ef = k
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry || k <= 0 {
		return []Result{}, nil
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.greedyClosest(query, ep, l)
	}

	candidates := idx.searchLayer(query, ep, ef, 0)

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		n := idx.arena[c]
		n.mu.RLock()
		tomb := n.tombstone
		n.mu.RUnlock()
		if tomb {
			continue
		}
		d, err := vector.Distance(idx.metric, query, n.vector)
		if err != nil {
			return nil, err
		}
		out = append(out, Result{ID: n.id, Distance: d})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})

	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Size returns the number of live (non-tombstoned) vectors.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.liveCount
}

// MemoryStats reports a rough accounting of the graph's footprint.
type MemoryStats struct {
	Bytes int64
	Nodes int
	Edges int
}

// MemoryStats returns an estimate of the index's memory footprint.
func (idx *Index) MemoryStats() MemoryStats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var edges int
	var bytes int64
	for _, n := range idx.arena {
		bytes += int64(len(n.vector)) * 4
		for _, layer := range n.neighbors {
			edges += len(layer)
			bytes += int64(len(layer)) * 4
		}
	}
	return MemoryStats{Bytes: bytes, Nodes: len(idx.arena), Edges: edges}
}

// Entry is one live (id, vector) pair, as returned by All.
type Entry struct {
	ID     string
	Vector []float32
}

// All returns every live (non-tombstoned) id/vector pair, for archive
// snapshotting (§4.D) and fragment export. Order is unspecified.
func (idx *Index) All() []Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]Entry, 0, idx.liveCount)
	for _, n := range idx.arena {
		n.mu.RLock()
		tomb := n.tombstone
		n.mu.RUnlock()
		if tomb {
			continue
		}
		out = append(out, Entry{ID: n.id, Vector: n.vector})
	}
	return out
}

// Optimize rebuilds the graph excluding tombstoned nodes, producing a
// fresh entry point and a compacted arena. It builds the replacement
// entirely off to the side and swaps it in under the write lock, so a
// concurrent Search never observes a half-built graph (§5).
func (idx *Index) Optimize() {
	idx.mu.RLock()
	live := make([]struct {
		id  string
		vec []float32
	}, 0, idx.liveCount)
	for _, n := range idx.arena {
		n.mu.RLock()
		tomb := n.tombstone
		n.mu.RUnlock()
		if !tomb {
			live = append(live, struct {
				id  string
				vec []float32
			}{n.id, n.vector})
		}
	}
	cfg := idx.cfg
	dims := idx.dimensions
	metric := idx.metric
	idx.mu.RUnlock()

	fresh := New(dims, metric, cfg)
	for _, l := range live {
		// Arena rebuild is not expected to hit ErrDuplicateID since `live`
		// was deduplicated by the prior arena's id map.
		if _, err := fresh.Insert(l.id, l.vec); err != nil {
			continue
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.arena = fresh.arena
	idx.byID = fresh.byID
	idx.entryPoint = fresh.entryPoint
	idx.hasEntry = fresh.hasEntry
	idx.maxLevel = fresh.maxLevel
	idx.liveCount = fresh.liveCount
}

// greedyClosest walks from entry toward the closest neighbor at level l,
// ef=1 style, stopping when no neighbor improves on the current node.
func (idx *Index) greedyClosest(query []float32, entry uint32, level int) uint32 {
	current := entry
	currentDist := idx.distTo(query, current)

	for {
		changed := false
		n := idx.arena[current]
		n.mu.RLock()
		var neighbors []uint32
		if len(n.neighbors) > level {
			neighbors = n.neighbors[level]
		}
		n.mu.RUnlock()

		for _, cand := range neighbors {
			d := idx.distTo(query, cand)
			if d < currentDist {
				current = cand
				currentDist = d
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current
}

func (idx *Index) distTo(query []float32, i uint32) float64 {
	d, _ := vector.Distance(idx.metric, query, idx.arena[i].vector)
	return d
}

// searchLayer runs a best-first search with a dynamic candidate list of
// size ef at the given level, returning candidate indices sorted ascending
// by distance.
func (idx *Index) searchLayer(query []float32, entry uint32, ef, level int) []uint32 {
	visited := map[uint32]bool{entry: true}

	candidates := &distHeap{}
	results := &distHeap{}
	heap.Init(candidates)
	heap.Init(results)

	entryDist := idx.distTo(query, entry)
	heap.Push(candidates, distItem{idx: entry, dist: entryDist})
	heap.Push(results, distItem{idx: entry, dist: entryDist, isMax: true})

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(distItem)

		if results.Len() >= ef {
			furthest := (*results)[0]
			if closest.dist > furthest.dist {
				break
			}
		}

		n := idx.arena[closest.idx]
		n.mu.RLock()
		var neighbors []uint32
		if len(n.neighbors) > level {
			neighbors = n.neighbors[level]
		}
		n.mu.RUnlock()

		for _, cand := range neighbors {
			if visited[cand] {
				continue
			}
			visited[cand] = true

			d := idx.distTo(query, cand)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, distItem{idx: cand, dist: d})
				heap.Push(results, distItem{idx: cand, dist: d, isMax: true})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(distItem).idx
	}
	return out
}

// selectNeighborsDiverse implements the build heuristic from §4.B: among
// candidates, keep the closest-to-`query` ones, but skip a candidate c if
// some already-kept neighbor n is closer to c than c is to query — this
// keeps edges spread across directions instead of all clustering toward
// the single nearest cluster.
func (idx *Index) selectNeighborsDiverse(query []float32, candidates []uint32, m int) []uint32 {
	if len(candidates) <= m {
		return candidates
	}

	type scored struct {
		i uint32
		d float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{i: c, d: idx.distTo(query, c)}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].d < ranked[j].d })

	kept := make([]uint32, 0, m)
	for _, cand := range ranked {
		if len(kept) >= m {
			break
		}
		diverse := true
		for _, k := range kept {
			dck, err := vector.Distance(idx.metric, idx.arena[cand.i].vector, idx.arena[k].vector)
			if err != nil {
				continue
			}
			if dck < cand.d {
				diverse = false
				break
			}
		}
		if diverse {
			kept = append(kept, cand.i)
		}
	}

	// The heuristic can reject more candidates than it keeps; backfill
	// with the next-closest rejected ones so degree caps stay full rather
	// than under-connecting the graph.
	if len(kept) < m {
		keptSet := make(map[uint32]bool, len(kept))
		for _, k := range kept {
			keptSet[k] = true
		}
		for _, cand := range ranked {
			if len(kept) >= m {
				break
			}
			if !keptSet[cand.i] {
				kept = append(kept, cand.i)
			}
		}
	}

	return kept
}

func (idx *Index) randomLevel() int {
	r := rand.Float64()
	for r == 0 {
		r = rand.Float64()
	}
	return int(-math.Log(r) * idx.cfg.LevelMult)
}

type distItem struct {
	idx   uint32
	dist  float64
	isMax bool
}

type distHeap []distItem

func (h distHeap) Len() int { return len(h) }
func (h distHeap) Less(i, j int) bool {
	if h[i].isMax {
		return h[i].dist > h[j].dist
	}
	return h[i].dist < h[j].dist
}
func (h distHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x interface{}) {
	*h = append(*h, x.(distItem))
}
func (h *distHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// String implements fmt.Stringer for debugging.
func (idx *Index) String() string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return fmt.Sprintf("hnsw.Index{dim=%d, nodes=%d, live=%d, maxLevel=%d}",
		idx.dimensions, len(idx.arena), idx.liveCount, idx.maxLevel)
}
