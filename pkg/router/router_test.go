package router

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRingRouteIsStable(t *testing.T) {
	ring := NewRing(50)
	ring.AddShard(1, 1)
	ring.AddShard(2, 1)
	ring.AddShard(3, 1)

	first, ok := ring.Route("vector-42")
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		again, ok := ring.Route("vector-42")
		require.True(t, ok)
		require.Equal(t, first, again)
	}
}

func TestRingAddShardMinimalRemap(t *testing.T) {
	ring := NewRing(100)
	for i := uint32(1); i <= 4; i++ {
		ring.AddShard(i, 1)
	}

	keys := make([]string, 500)
	before := make(map[string]uint32, 500)
	for i := range keys {
		keys[i] = "key-" + strconv.Itoa(i)
		owner, _ := ring.Route(keys[i])
		before[keys[i]] = owner
	}

	ring.AddShard(5, 1)

	moved := 0
	for _, k := range keys {
		after, _ := ring.Route(k)
		if after != before[k] {
			moved++
		}
	}

	// Adding a fifth shard to four should remap roughly 1/5 of keys, never
	// anywhere near all of them.
	require.Less(t, moved, len(keys)/2)
}

func TestRouterSearchMergesLocalShards(t *testing.T) {
	r := New(Config{VirtualNodesPerShard: 10})
	require.NoError(t, r.AddShard(1, 1))
	require.NoError(t, r.AddShard(2, 1))

	r.RegisterLocalShard(1, LocalShard{
		Collection: "docs",
		Search: func(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
			return []Hit{{ID: "a", Distance: 0.1}, {ID: "b", Distance: 0.5}}, nil
		},
		Count: func() int { return 2 },
	})
	r.RegisterLocalShard(2, LocalShard{
		Collection: "docs",
		Search: func(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
			return []Hit{{ID: "c", Distance: 0.2}}, nil
		},
		Count: func() int { return 1 },
	})

	res, err := r.Search(context.Background(), []float32{1, 0}, 2, SearchOptions{})
	require.NoError(t, err)
	require.False(t, res.Partial)
	require.Len(t, res.Hits, 2)
	require.Equal(t, "a", res.Hits[0].ID)
	require.Equal(t, "c", res.Hits[1].ID)
}

type flakyRemote struct{}

func (flakyRemote) Search(ctx context.Context, node, collection string, shards []uint32, query []float32, k int, opts SearchOptions) ([]Hit, error) {
	return nil, errors.New("node unreachable")
}

func (flakyRemote) CollectionCount(ctx context.Context, node, collection string) (int64, error) {
	return 0, errors.New("node unreachable")
}

func TestRouterSearchPartialFailureStillReturnsResults(t *testing.T) {
	r := New(Config{VirtualNodesPerShard: 10, Remote: flakyRemote{}})
	require.NoError(t, r.AddShard(1, 1))
	require.NoError(t, r.AddShard(2, 1))

	r.RegisterLocalShard(1, LocalShard{
		Collection: "docs",
		Search: func(ctx context.Context, query []float32, k, ef int) ([]Hit, error) {
			return []Hit{{ID: "a", Distance: 0.1}}, nil
		},
		Count: func() int { return 1 },
	})
	r.mu.Lock()
	r.nodeOf[2] = "node-b"
	r.mu.Unlock()

	res, err := r.Search(context.Background(), []float32{1, 0}, 5, SearchOptions{})
	require.NoError(t, err)
	require.True(t, res.Partial)
	require.Len(t, res.Hits, 1)
	require.Equal(t, "a", res.Hits[0].ID)
}

func TestRouterSearchClusterUnavailableWhenEveryShardFails(t *testing.T) {
	r := New(Config{VirtualNodesPerShard: 10, Remote: flakyRemote{}})
	require.NoError(t, r.AddShard(1, 1))
	r.mu.Lock()
	r.nodeOf[1] = "node-a"
	r.mu.Unlock()

	_, err := r.Search(context.Background(), []float32{1, 0}, 5, SearchOptions{})
	require.ErrorIs(t, err, ErrClusterUnavailable)
}

func TestRouterCountCacheInvalidation(t *testing.T) {
	r := New(Config{VirtualNodesPerShard: 10, CountCacheTTL: time.Minute})
	require.NoError(t, r.AddShard(1, 1))

	count := 3
	r.RegisterLocalShard(1, LocalShard{
		Collection: "docs",
		Count:      func() int { return count },
	})

	n, err := r.VectorCount(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	count = 9 // underlying count changes, but the cached value should stick
	n, err = r.VectorCount(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	r.InvalidateCount("docs")
	n, err = r.VectorCount(context.Background(), "docs")
	require.NoError(t, err)
	require.Equal(t, int64(9), n)
}

func TestTopologyLogPersistsAndReplays(t *testing.T) {
	dir := t.TempDir()

	log, err := OpenTopologyLog(dir)
	require.NoError(t, err)
	require.NoError(t, log.Append(TopologyEvent{Kind: EventAddShard, ShardID: 1, Weight: 1}))
	require.NoError(t, log.Append(TopologyEvent{Kind: EventAddShard, ShardID: 2, Weight: 1}))
	require.NoError(t, log.Append(TopologyEvent{Kind: EventRemoveShard, ShardID: 1}))
	require.NoError(t, log.Close())

	log2, err := OpenTopologyLog(dir)
	require.NoError(t, err)
	defer log2.Close()

	events, err := log2.Replay()
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, EventAddShard, events[0].Kind)
	require.Equal(t, uint32(1), events[0].ShardID)
	require.Equal(t, EventRemoveShard, events[2].Kind)
}

func TestNewPersistentRouterReplaysRing(t *testing.T) {
	dir := t.TempDir()

	r1, err := NewPersistentRouter(Config{VirtualNodesPerShard: 10}, dir)
	require.NoError(t, err)
	require.NoError(t, r1.AddShard(1, 1))
	require.NoError(t, r1.AddShard(2, 1))
	require.NoError(t, r1.log.Close())

	r2, err := NewPersistentRouter(Config{VirtualNodesPerShard: 10}, dir)
	require.NoError(t, err)
	defer r2.log.Close()

	require.ElementsMatch(t, []uint32{1, 2}, r2.ring.ActiveShards())
}
