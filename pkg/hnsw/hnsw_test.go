package hnsw

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/vecdb-io/vecdb/pkg/vector"
)

func randomVector(r *rand.Rand, dims int) []float32 {
	v := make([]float32, dims)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return vector.Normalize(v)
}

func TestInsertAndSearch(t *testing.T) {
	idx := New(8, vector.MetricCosine, DefaultConfig())
	r := rand.New(rand.NewSource(1))

	vecs := make(map[string][]float32)
	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("v%d", i)
		v := randomVector(r, 8)
		vecs[id] = v
		if _, err := idx.Insert(id, v); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}

	if idx.Size() != 200 {
		t.Fatalf("Size() = %d, want 200", idx.Size())
	}

	query := vecs["v0"]
	results, err := idx.Search(query, 5, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	if results[0].ID != "v0" {
		t.Errorf("closest to v0 should be v0 itself, got %s (dist %v)", results[0].ID, results[0].Distance)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Distance < results[i-1].Distance {
			t.Fatalf("results not sorted ascending: %v", results)
		}
	}
}

func TestInsertDimensionMismatch(t *testing.T) {
	idx := New(4, vector.MetricCosine, DefaultConfig())
	if _, err := idx.Insert("a", []float32{1, 2, 3}); err != ErrDimensionMismatch {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestInsertDuplicateID(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	v := []float32{1, 0, 0}
	if _, err := idx.Insert("a", v); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := idx.Insert("a", v); err != ErrDuplicateID {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}
}

func TestSearchEmptyIndex(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	results, err := idx.Search([]float32{1, 0, 0}, 5, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results on empty index, got %v", results)
	}
}

func TestSearchKExceedsLiveCount(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	idx.Insert("a", vector.Normalize([]float32{1, 0, 0}))
	idx.Insert("b", vector.Normalize([]float32{0, 1, 0}))

	results, err := idx.Search([]float32{1, 0, 0}, 10, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
}

func TestSingleNodeIndex(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	idx.Insert("only", vector.Normalize([]float32{1, 0, 0}))

	results, err := idx.Search([]float32{0, 1, 0}, 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "only" {
		t.Fatalf("results = %v, want [only]", results)
	}
}

func TestEfSearchClampedToK(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		idx.Insert(fmt.Sprintf("v%d", i), randomVector(r, 3))
	}

	results, err := idx.Search(randomVector(r, 3), 5, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5 even though ef < k", len(results))
	}
}

func TestDeleteIsTombstoneAndIdempotent(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	idx.Insert("a", vector.Normalize([]float32{1, 0, 0}))
	idx.Insert("b", vector.Normalize([]float32{0, 1, 0}))

	idx.Delete("a")
	if idx.Size() != 1 {
		t.Fatalf("Size() after delete = %d, want 1", idx.Size())
	}
	idx.Delete("a") // idempotent
	if idx.Size() != 1 {
		t.Fatalf("Size() after second delete = %d, want 1", idx.Size())
	}

	results, err := idx.Search([]float32{1, 0, 0}, 5, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, res := range results {
		if res.ID == "a" {
			t.Fatalf("tombstoned id %q returned by Search", res.ID)
		}
	}
}

func TestDeleteNonexistentIsNoop(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	idx.Insert("a", vector.Normalize([]float32{1, 0, 0}))
	idx.Delete("does-not-exist")
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", idx.Size())
	}
}

func TestOptimizeExcludesTombstonesAndPreservesVectors(t *testing.T) {
	idx := New(4, vector.MetricCosine, DefaultConfig())
	r := rand.New(rand.NewSource(3))

	kept := make(map[string][]float32)
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("v%d", i)
		v := randomVector(r, 4)
		idx.Insert(id, v)
		if i%3 == 0 {
			idx.Delete(id)
		} else {
			kept[id] = v
		}
	}

	preOptimizeSize := idx.Size()
	idx.Optimize()

	if idx.Size() != preOptimizeSize {
		t.Fatalf("Size() after Optimize = %d, want %d", idx.Size(), preOptimizeSize)
	}
	if idx.Size() != len(kept) {
		t.Fatalf("Size() after Optimize = %d, want %d live nodes", idx.Size(), len(kept))
	}

	for id, v := range kept {
		results, err := idx.Search(v, 1, 50)
		if err != nil {
			t.Fatalf("Search after Optimize: %v", err)
		}
		if len(results) != 1 || results[0].ID != id {
			t.Errorf("Search(%s) after Optimize = %v, want self as nearest", id, results)
		}
	}
}

func TestOptimizeOnEmptyIndex(t *testing.T) {
	idx := New(3, vector.MetricCosine, DefaultConfig())
	idx.Optimize()
	if idx.Size() != 0 {
		t.Fatalf("Size() = %d, want 0", idx.Size())
	}
}

func TestGraphSymmetryInvariant(t *testing.T) {
	idx := New(4, vector.MetricCosine, DefaultConfig())
	r := rand.New(rand.NewSource(4))
	for i := 0; i < 100; i++ {
		idx.Insert(fmt.Sprintf("v%d", i), randomVector(r, 4))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for from, n := range idx.arena {
		for level, neighbors := range n.neighbors {
			for _, to := range neighbors {
				other := idx.arena[to]
				reciprocal := false
				if len(other.neighbors) > level {
					for _, back := range other.neighbors[level] {
						if int(back) == from {
							reciprocal = true
							break
						}
					}
				}
				if !reciprocal {
					t.Errorf("edge %s -> %s at level %d has no reciprocal", n.id, other.id, level)
				}
			}
		}
	}
}

func TestDegreeCapsRespected(t *testing.T) {
	cfg := Config{M: 4, M0: 8, EfConstruction: 50, EfSearch: 20, LevelMult: DefaultConfig().LevelMult}
	idx := New(4, vector.MetricCosine, cfg)
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 150; i++ {
		idx.Insert(fmt.Sprintf("v%d", i), randomVector(r, 4))
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, n := range idx.arena {
		for level, neighbors := range n.neighbors {
			cap := cfg.M
			if level == 0 {
				cap = cfg.M0
			}
			if len(neighbors) > cap {
				t.Errorf("node %s level %d has %d neighbors, want <= %d", n.id, level, len(neighbors), cap)
			}
		}
	}
}

func TestMemoryStats(t *testing.T) {
	idx := New(4, vector.MetricCosine, DefaultConfig())
	r := rand.New(rand.NewSource(6))
	for i := 0; i < 30; i++ {
		idx.Insert(fmt.Sprintf("v%d", i), randomVector(r, 4))
	}

	stats := idx.MemoryStats()
	if stats.Nodes != 30 {
		t.Errorf("Nodes = %d, want 30", stats.Nodes)
	}
	if stats.Bytes <= 0 {
		t.Errorf("Bytes = %d, want > 0", stats.Bytes)
	}
	if stats.Edges <= 0 {
		t.Errorf("Edges = %d, want > 0", stats.Edges)
	}
}

func TestL2MetricIndex(t *testing.T) {
	idx := New(3, vector.MetricL2, DefaultConfig())
	idx.Insert("origin", []float32{0, 0, 0})
	idx.Insert("far", []float32{10, 10, 10})

	results, err := idx.Search([]float32{0.1, 0, 0}, 1, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].ID != "origin" {
		t.Errorf("nearest under L2 = %s, want origin", results[0].ID)
	}
}
