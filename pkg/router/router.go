package router

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/vecdb-io/vecdb/pkg/cache"
)

// Default remote-call deadlines (§5).
const (
	DefaultBulkIngestTimeout = 300 * time.Second
	DefaultBatchTimeout      = 60 * time.Second
	DefaultSearchTimeout     = 30 * time.Second
)

// ErrClusterUnavailable is returned when every shard in a fan-out search
// failed, leaving no results to return (§4.E, §7).
var ErrClusterUnavailable = errors.New("router: cluster unavailable, every shard failed")

// Hit is one merged fan-out search result.
type Hit struct {
	ID       string
	Distance float64
	Shard    uint32
}

// SearchOptions narrows a fan-out search.
type SearchOptions struct {
	EfSearch       int
	ScoreThreshold *float64
	Shards         []uint32 // nil means every active shard
}

// Result is a fan-out search's merged outcome.
type Result struct {
	Hits    []Hit
	Partial bool // true if one or more shards failed but at least one succeeded
}

// LocalShard binds a shard id to the live Collection backing it. Search
// and Count are injected as closures rather than an interface so the
// router has no import-time dependency on the collection package (§4.G:
// the router is generic over whatever local backend serves a shard).
type LocalShard struct {
	Collection string
	Search     func(ctx context.Context, query []float32, k int, efSearch int) ([]Hit, error)
	Count      func() int
}

// RemoteClient issues RPCs to remote cluster nodes (§4.E, §1: transport is
// an external collaborator the router consumes through this contract).
type RemoteClient interface {
	Search(ctx context.Context, node, collection string, shards []uint32, query []float32, k int, opts SearchOptions) ([]Hit, error)
	CollectionCount(ctx context.Context, node, collection string) (int64, error)
}

// Router routes vector ids to shards, fans a search out across local and
// remote shards, and merges the results.
type Router struct {
	ring *Ring

	mu       sync.RWMutex
	nodeOf   map[uint32]string // shard -> owning node; absent means local
	local    map[uint32]LocalShard
	selfNode string
	remote   RemoteClient

	countCache *cache.Cache
	countTTL   time.Duration

	log *TopologyLog // optional persisted topology event log
}

// Config controls Router construction.
type Config struct {
	VirtualNodesPerShard int
	CountCacheTTL        time.Duration
	SelfNode             string
	Remote               RemoteClient
}

// New returns a Router with an empty ring.
func New(cfg Config) *Router {
	ttl := cfg.CountCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Router{
		ring:       NewRing(cfg.VirtualNodesPerShard),
		nodeOf:     make(map[uint32]string),
		local:      make(map[uint32]LocalShard),
		selfNode:   cfg.SelfNode,
		remote:     cfg.Remote,
		countCache: cache.New(1024, ttl),
		countTTL:   ttl,
	}
}

// RouteVector returns the shard id that owns id (§4.E).
func (r *Router) RouteVector(id string) (uint32, bool) {
	return r.ring.Route(id)
}

// AddShard registers a new shard on the ring, local to this node until
// Rebalance assigns it to another node. It persists the event to the
// topology log, if one is attached, before returning.
func (r *Router) AddShard(id uint32, weight float32) error {
	r.ring.AddShard(id, weight)
	if r.log != nil {
		if err := r.log.Append(TopologyEvent{Kind: EventAddShard, ShardID: id, Weight: weight}); err != nil {
			return fmt.Errorf("router: persist add_shard: %w", err)
		}
	}
	return nil
}

// RemoveShard deletes a shard's virtual nodes from the ring.
func (r *Router) RemoveShard(id uint32) error {
	r.ring.RemoveShard(id)

	r.mu.Lock()
	delete(r.nodeOf, id)
	delete(r.local, id)
	r.mu.Unlock()

	if r.log != nil {
		if err := r.log.Append(TopologyEvent{Kind: EventRemoveShard, ShardID: id}); err != nil {
			return fmt.Errorf("router: persist remove_shard: %w", err)
		}
	}
	return nil
}

// Rebalance assigns every shard on the ring to a node, deterministically
// (§4.E), and records local ownership for shards assigned to selfNode.
func (r *Router) Rebalance(nodeIDs []string, vnodesPerNode int) map[uint32]string {
	shards := r.ring.ActiveShards()
	assignment := Rebalance(shards, nodeIDs, vnodesPerNode)

	r.mu.Lock()
	for shard, node := range assignment {
		if node == r.selfNode {
			delete(r.nodeOf, shard)
			continue
		}
		r.nodeOf[shard] = node
	}
	r.mu.Unlock()
	return assignment
}

// RegisterLocalShard attaches a live Collection's search/count closures to
// a shard this node owns.
func (r *Router) RegisterLocalShard(shardID uint32, ls LocalShard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[shardID] = ls
	delete(r.nodeOf, shardID) // local shards have no remote owner
}

// Search fans a query out across the requested shards (or every active
// shard), partitions them local-vs-remote, searches local shards in
// parallel and issues one RPC per remote node, then merges the results
// with a bounded top-k selection. A per-shard failure is logged and
// excluded from the merge (Result.Partial=true); only when every shard
// fails does Search return ErrClusterUnavailable (§4.E, §7).
func (r *Router) Search(ctx context.Context, query []float32, k int, opts SearchOptions) (*Result, error) {
	shards := opts.Shards
	if shards == nil {
		shards = r.ring.ActiveShards()
	}
	if len(shards) == 0 {
		return &Result{}, nil
	}

	r.mu.RLock()
	localShards := make(map[uint32]LocalShard)
	remoteByNode := make(map[string][]uint32)
	for _, s := range shards {
		if ls, ok := r.local[s]; ok {
			localShards[s] = ls
			continue
		}
		if node, ok := r.nodeOf[s]; ok {
			remoteByNode[node] = append(remoteByNode[node], s)
		}
	}
	r.mu.RUnlock()

	var (
		mu        sync.Mutex
		all       []Hit
		failures  int
		attempted int
		wg        sync.WaitGroup
	)

	run := func(n int, fn func() ([]Hit, error)) {
		attempted += n
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := fn()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures += n
				log.Printf("router: shard search failed: %v", err)
				return
			}
			all = append(all, hits...)
		}()
	}

	for shard, ls := range localShards {
		shard, ls := shard, ls
		run(1, func() ([]Hit, error) {
			hits, err := ls.Search(ctx, query, k, opts.EfSearch)
			for i := range hits {
				hits[i].Shard = shard
			}
			return hits, err
		})
	}
	for node, shardSet := range remoteByNode {
		node, shardSet := node, shardSet
		run(len(shardSet), func() ([]Hit, error) {
			if r.remote == nil {
				return nil, fmt.Errorf("router: no remote client configured for node %q", node)
			}
			return r.remote.Search(ctx, node, "", shardSet, query, k, opts)
		})
	}

	wg.Wait()

	if attempted > 0 && failures == attempted {
		return nil, ErrClusterUnavailable
	}

	if opts.ScoreThreshold != nil {
		all = filterByThreshold(all, *opts.ScoreThreshold)
	}

	merged := selectTopK(all, k)
	return &Result{Hits: merged, Partial: failures > 0}, nil
}

func filterByThreshold(hits []Hit, threshold float64) []Hit {
	out := hits[:0]
	for _, h := range hits {
		if h.Distance <= threshold {
			out = append(out, h)
		}
	}
	return out
}

// selectTopK keeps the k smallest-distance hits using a bounded max-heap
// (the idiomatic Go equivalent of select_nth_unstable-then-sort-prefix:
// O(n log k) instead of a full O(n log n) sort when n >> k), then sorts
// that prefix ascending by distance, ties broken by id (§4.E, §8 property 6).
func selectTopK(hits []Hit, k int) []Hit {
	if k <= 0 || len(hits) == 0 {
		return nil
	}
	if len(hits) <= k {
		sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
		return hits
	}

	h := &hitHeap{}
	heap.Init(h)
	for _, hit := range hits {
		if h.Len() < k {
			heap.Push(h, hit)
			continue
		}
		if less(hit, (*h)[0]) {
			heap.Pop(h)
			heap.Push(h, hit)
		}
	}

	out := make([]Hit, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Hit)
	}
	return out
}

func less(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.ID < b.ID
}

// hitHeap is a max-heap by distance, so the worst of the current top-k is
// always at the root and cheap to evict.
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return !less(h[i], h[j]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// VectorCount sums local shard counts for collection and fetches each
// remote node's count over RPC, caching the aggregate for countTTL and
// invalidating immediately on InvalidateCount (§4.E, §8 property 10).
func (r *Router) VectorCount(ctx context.Context, collection string) (int64, error) {
	key := r.countCache.Key(collection)
	if v, ok := r.countCache.Get(key); ok {
		return v.(int64), nil
	}

	r.mu.RLock()
	var total int64
	for _, ls := range r.local {
		if ls.Collection == collection {
			total += int64(ls.Count())
		}
	}
	nodes := make(map[string]bool)
	for shard, node := range r.nodeOf {
		if _, isLocal := r.local[shard]; isLocal {
			continue
		}
		nodes[node] = true
	}
	r.mu.RUnlock()

	for node := range nodes {
		if r.remote == nil {
			continue
		}
		count, err := r.remote.CollectionCount(ctx, node, collection)
		if err != nil {
			log.Printf("router: count rpc to node %q failed: %v", node, err)
			continue
		}
		total += count
	}

	r.countCache.Put(key, total)
	return total, nil
}

// InvalidateCount drops the cached count for collection; callers invoke
// this immediately after any local insert/delete (§8 property 10).
func (r *Router) InvalidateCount(collection string) {
	r.countCache.Remove(r.countCache.Key(collection))
}

// AttachTopologyLog wires a persisted event log so future
// AddShard/RemoveShard calls survive a process restart; call
// ReplayTopologyLog first to restore prior state.
func (r *Router) AttachTopologyLog(l *TopologyLog) {
	r.log = l
}

// NewPersistentRouter opens a BadgerDB-backed topology log under dir,
// constructs a Router, replays the log's recorded history into its ring,
// and attaches the log so future AddShard/RemoveShard calls persist.
func NewPersistentRouter(cfg Config, dir string) (*Router, error) {
	log, err := OpenTopologyLog(dir)
	if err != nil {
		return nil, err
	}
	r := New(cfg)
	r.AttachTopologyLog(log)
	if err := r.ReplayTopologyLog(); err != nil {
		log.Close()
		return nil, err
	}
	return r, nil
}

// ReplayTopologyLog rebuilds the ring from a previously attached
// topology log's recorded events, in the order they were appended.
func (r *Router) ReplayTopologyLog() error {
	if r.log == nil {
		return nil
	}
	events, err := r.log.Replay()
	if err != nil {
		return err
	}
	for _, ev := range events {
		switch ev.Kind {
		case EventAddShard:
			r.ring.AddShard(ev.ShardID, ev.Weight)
		case EventRemoveShard:
			r.ring.RemoveShard(ev.ShardID)
		}
	}
	return nil
}
