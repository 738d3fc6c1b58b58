// Package router implements the distributed shard router (§4.E): a
// consistent-hash ring mapping vector ids to shards, a shard-to-node
// ownership map, and a fan-out/merge search path with a TTL count cache.
package router

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
)

// DefaultVirtualNodes is the default number of ring positions a shard
// gets (§6 shard.virtual_nodes_per_shard).
const DefaultVirtualNodes = 100

// Shard is one partition of a collection (§3).
type Shard struct {
	ID     uint32
	Weight float32
	Active bool
}

// Ring is a consistent-hash ring of virtual nodes over shards. It is safe
// for concurrent use: topology changes (AddShard/RemoveShard) are rare,
// Route takes a read lock for the duration of the lookup.
type Ring struct {
	mu             sync.RWMutex
	vnodesPerShard int
	positions      []uint64          // sorted ascending
	owner          map[uint64]uint32 // position -> shard id
	shards         map[uint32]*Shard
}

// NewRing returns an empty ring with v virtual nodes per shard
// (DefaultVirtualNodes if v <= 0).
func NewRing(v int) *Ring {
	if v <= 0 {
		v = DefaultVirtualNodes
	}
	return &Ring{
		vnodesPerShard: v,
		owner:          make(map[uint64]uint32),
		shards:         make(map[uint32]*Shard),
	}
}

// AddShard inserts id's virtual nodes into the ring. Only the ids whose
// ring position crosses onto one of the new virtual nodes need to
// re-route (§3 Shard invariant, §8 property 2); existing virtual nodes
// are never moved.
func (r *Ring) AddShard(id uint32, weight float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.shards[id] = &Shard{ID: id, Weight: weight, Active: true}
	for i := 0; i < r.vnodesPerShard; i++ {
		pos := vnodeHash(id, i)
		if _, exists := r.owner[pos]; exists {
			continue // hash collision on an existing vnode; keep the prior owner
		}
		r.owner[pos] = id
		idx := sort.Search(len(r.positions), func(j int) bool { return r.positions[j] >= pos })
		r.positions = append(r.positions, 0)
		copy(r.positions[idx+1:], r.positions[idx:])
		r.positions[idx] = pos
	}
}

// RemoveShard deletes id's virtual nodes. Orphaned keys re-route to
// whichever shard now owns the next ring position.
func (r *Ring) RemoveShard(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.shards, id)
	kept := make([]uint64, 0, len(r.positions))
	for _, pos := range r.positions {
		if owner := r.owner[pos]; owner == id {
			delete(r.owner, pos)
			continue
		}
		kept = append(kept, pos)
	}
	r.positions = kept
}

// SetActive toggles a shard's active flag without removing its virtual
// nodes from the ring (used when a shard is temporarily unreachable
// rather than decommissioned).
func (r *Ring) SetActive(id uint32, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shards[id]; ok {
		s.Active = active
	}
}

// Route returns the shard that owns id: the first ring position whose
// hash is >= hash(id), wrapping to the ring's first position past the
// end (§4.E).
func (r *Ring) Route(id string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 {
		return 0, false
	}
	h := keyHash(id)
	idx := sort.Search(len(r.positions), func(i int) bool { return r.positions[i] >= h })
	if idx == len(r.positions) {
		idx = 0
	}
	return r.owner[r.positions[idx]], true
}

// Shards returns a snapshot of every shard currently on the ring.
func (r *Ring) Shards() []Shard {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Shard, 0, len(r.shards))
	for _, s := range r.shards {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveShards returns the ids of every active shard.
func (r *Ring) ActiveShards() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uint32
	for id, s := range r.shards {
		if s.Active {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func vnodeHash(shardID uint32, vnode int) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d", shardID, vnode)
	return h.Sum64()
}

func keyHash(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}

// Rebalance computes a deterministic assignment of shards to nodes by
// consistent-hashing the shards over a ring built from the nodes (§4.E).
// It re-runs on every membership change rather than incrementally
// adjusting a prior assignment, since the ring construction is cheap and
// this guarantees the same (shards, nodes) pair always yields the same
// assignment.
func Rebalance(shardIDs []uint32, nodeIDs []string, vnodesPerNode int) map[uint32]string {
	assignment := make(map[uint32]string, len(shardIDs))
	if len(nodeIDs) == 0 {
		return assignment
	}
	if vnodesPerNode <= 0 {
		vnodesPerNode = DefaultVirtualNodes
	}

	type vnode struct {
		hash uint64
		node string
	}
	vnodes := make([]vnode, 0, len(nodeIDs)*vnodesPerNode)
	for _, n := range nodeIDs {
		for i := 0; i < vnodesPerNode; i++ {
			h := fnv.New64a()
			fmt.Fprintf(h, "%s:%d", n, i)
			vnodes = append(vnodes, vnode{hash: h.Sum64(), node: n})
		}
	}
	sort.Slice(vnodes, func(i, j int) bool { return vnodes[i].hash < vnodes[j].hash })

	for _, sid := range shardIDs {
		h := fnv.New64a()
		fmt.Fprintf(h, "shard:%d", sid)
		target := h.Sum64()
		idx := sort.Search(len(vnodes), func(i int) bool { return vnodes[i].hash >= target })
		if idx == len(vnodes) {
			idx = 0
		}
		assignment[sid] = vnodes[idx].node
	}
	return assignment
}
