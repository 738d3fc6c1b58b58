package collection

import (
	"errors"

	"github.com/vecdb-io/vecdb/pkg/hnsw"
)

// HNSWBackend adapts *hnsw.Index to the Backend contract Collection
// drives. It is the default AnnBackend (§4.G); a GPU, quantized, or
// flat-scan backend can substitute by implementing Backend directly
// without going through this adapter.
type HNSWBackend struct {
	Index *hnsw.Index
}

// NewHNSWBackend wraps an existing HNSW index.
func NewHNSWBackend(idx *hnsw.Index) *HNSWBackend {
	return &HNSWBackend{Index: idx}
}

func (b *HNSWBackend) Insert(id string, vec []float32) (int, error) {
	level, err := b.Index.Insert(id, vec)
	if errors.Is(err, hnsw.ErrDuplicateID) {
		return level, errDuplicateBackend
	}
	return level, err
}

func (b *HNSWBackend) Delete(id string) {
	b.Index.Delete(id)
}

func (b *HNSWBackend) Search(query []float32, k int, ef int) ([]BackendResult, error) {
	results, err := b.Index.Search(query, k, ef)
	if err != nil {
		return nil, err
	}
	out := make([]BackendResult, len(results))
	for i, r := range results {
		out[i] = BackendResult{ID: r.ID, Distance: r.Distance}
	}
	return out, nil
}

func (b *HNSWBackend) Size() int {
	return b.Index.Size()
}

func (b *HNSWBackend) Optimize() {
	b.Index.Optimize()
}

func (b *HNSWBackend) All() []BackendEntry {
	entries := b.Index.All()
	out := make([]BackendEntry, len(entries))
	for i, e := range entries {
		out[i] = BackendEntry{ID: e.ID, Vector: e.Vector}
	}
	return out
}
