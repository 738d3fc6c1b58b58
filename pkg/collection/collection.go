// Package collection implements the Collection engine (§4.C): the
// dimension/metric-enforcing façade in front of an AnnBackend, holding the
// payload map under its own lock and optionally a quantization codec and a
// bound text Embedder whose build/save/load hook feeds the archive's
// Tokenizer file.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vecdb-io/vecdb/pkg/archive"
	"github.com/vecdb-io/vecdb/pkg/embedder"
	"github.com/vecdb-io/vecdb/pkg/quantize"
	"github.com/vecdb-io/vecdb/pkg/vector"
)

// State is the Collection's lifecycle state (§4.C).
type State int

const (
	Active State = iota
	Indexing
	ReadOnly
	Tombstoned
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Indexing:
		return "indexing"
	case ReadOnly:
		return "read_only"
	case Tombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

var (
	// ErrReadOnly is returned by mutating operations against a frozen
	// Collection (§4.C).
	ErrReadOnly = errors.New("collection: read-only, mutations rejected")
	// ErrTombstoned is returned by every operation against a deleted
	// Collection (§4.C).
	ErrTombstoned = errors.New("collection: tombstoned, not found")
	// ErrNotFound is returned when a vector id has no entry.
	ErrNotFound = errors.New("collection: vector not found")
	// ErrDuplicateID is returned by Insert when the id already exists.
	ErrDuplicateID = errors.New("collection: duplicate vector id")
	// ErrIndexing is returned by a second concurrent Optimize call.
	ErrIndexing = errors.New("collection: optimize already in progress")
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("collection: payload exceeds size limit")
	// ErrNoEmbedder is returned by InsertText when no Embedder is bound.
	ErrNoEmbedder = errors.New("collection: no text embedder bound")
)

// DimensionMismatchError enriches an hnsw dimension error with the
// collection's name (§7: "the Collection maps HNSW dimension errors to
// Collection-level precondition errors enriched with the collection name").
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Actual     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("collection %q: dimension mismatch: expected %d, got %d", e.Collection, e.Expected, e.Actual)
}

// Backend is the surface a Collection drives (§4.B, §4.G): satisfied
// structurally by *hnsw.Index, and by any quantized, GPU, or flat-scan
// substitute with the same contract.
type Backend interface {
	Insert(id string, vec []float32) (int, error)
	Delete(id string)
	Search(query []float32, k int, ef int) ([]BackendResult, error)
	Size() int
	Optimize()
	All() []BackendEntry
}

// BackendEntry is one live (id, vector) pair, as returned by Backend.All
// for archive snapshotting.
type BackendEntry struct {
	ID     string
	Vector []float32
}

// BackendResult mirrors hnsw.Result without importing pkg/hnsw directly,
// so any AnnBackend implementation can satisfy Backend without depending
// on the concrete graph package.
type BackendResult struct {
	ID       string
	Distance float64
}

// SearchHit is one ranked result from Search.
type SearchHit struct {
	ID       string
	Distance float64
	Payload  map[string]interface{}
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	EfSearch       int
	ScoreThreshold *float64
}

// MaxPayloadBytes bounds a single vector's JSON-encoded payload (§7
// Resource/capacity: quota exceeded).
const MaxPayloadBytes = 1 << 20

// Collection enforces dimension and metric, normalizes cosine inserts,
// and keeps a payload map in step with graph membership: a mutation
// updates the graph first (under the backend's own lock), then the payload
// map under payloadMu (§5). The two locks are never held together, so a
// Search that runs while an Insert is in progress can return the new id
// before its payload has been stored.
type Collection struct {
	Name       string
	Dimension  int
	Metric     vector.Metric
	Backend    Backend
	CreatedAt  time.Time
	UpdatedAt  time.Time

	stateMu sync.RWMutex
	state   State

	payloadMu sync.RWMutex
	payloads  map[string]map[string]interface{}

	quantizerMu      sync.RWMutex
	quantizer        quantize.Codec
	quantizerTrained bool

	embedderMu   sync.RWMutex
	textEmbedder embedder.Embedder
}

// New constructs an empty Active Collection backed by backend.
func New(name string, dimension int, metric vector.Metric, backend Backend) *Collection {
	now := time.Now()
	return &Collection{
		Name:      name,
		Dimension: dimension,
		Metric:    metric,
		Backend:   backend,
		CreatedAt: now,
		UpdatedAt: now,
		state:     Active,
		payloads:  make(map[string]map[string]interface{}),
	}
}

// State returns the Collection's current lifecycle state.
func (c *Collection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// SetQuantizer attaches a quantization codec (§4.C.1). The codec starts
// untrained: Insert/Update store raw (post-normalization) vectors until
// TrainQuantizer succeeds, at which point every subsequent insert is routed
// through Encode then Decode, so the graph ends up holding the decoded
// (lossy) reconstruction rather than the caller's exact vector — an
// asymmetric scheme (raw query against decoded database vectors) rather
// than a symmetric distance table, per §4.C.1's parenthetical. Swapping
// codecs does not retrain or reindex already-inserted vectors; that is a
// caller-driven full reindex per spec.
func (c *Collection) SetQuantizer(q quantize.Codec) {
	c.quantizerMu.Lock()
	defer c.quantizerMu.Unlock()
	c.quantizer = q
	c.quantizerTrained = false
}

// TrainQuantizer trains the attached codec on sample so subsequent inserts
// are quantized. Returns an error if no quantizer is attached.
func (c *Collection) TrainQuantizer(sample [][]float32) error {
	c.quantizerMu.Lock()
	defer c.quantizerMu.Unlock()
	if c.quantizer == nil {
		return fmt.Errorf("collection %q: no quantizer attached", c.Name)
	}
	if err := c.quantizer.Train(sample); err != nil {
		return fmt.Errorf("collection %q: train quantizer: %w", c.Name, err)
	}
	c.quantizerTrained = true
	return nil
}

// quantizeVector routes vec through the attached codec's Encode then Decode when
// one is attached and trained, returning the lossy reconstruction that
// actually gets stored in the graph (§4.C.1). With no quantizer, or one not
// yet trained, vec passes through unchanged.
func (c *Collection) quantizeVector(vec []float32) ([]float32, error) {
	c.quantizerMu.RLock()
	q, trained := c.quantizer, c.quantizerTrained
	c.quantizerMu.RUnlock()
	if q == nil || !trained {
		return vec, nil
	}

	code, err := q.Encode(vec)
	if err != nil {
		return nil, fmt.Errorf("collection %q: quantize: %w", c.Name, err)
	}
	decoded, err := q.Decode(code)
	if err != nil {
		return nil, fmt.Errorf("collection %q: dequantize: %w", c.Name, err)
	}
	return decoded, nil
}

// BindEmbedder attaches the text Embedder capability (§4.F): InsertText
// routes raw text through it, and when the embedder also implements
// Buildable (e.g. embedder.VocabEmbedder), its Save/Load is what Snapshot
// and Load persist as the archive's Tokenizer file.
func (c *Collection) BindEmbedder(e embedder.Embedder) {
	c.embedderMu.Lock()
	defer c.embedderMu.Unlock()
	c.textEmbedder = e
}

// TextEmbedder returns the bound Embedder, if any.
func (c *Collection) TextEmbedder() embedder.Embedder {
	c.embedderMu.RLock()
	defer c.embedderMu.RUnlock()
	return c.textEmbedder
}

// InsertText embeds text through the bound Embedder and inserts the
// resulting vector under id, failing with ErrNoEmbedder if none is bound.
// When the embedder is also Buildable, text is folded into its corpus
// state before the vector is inserted, so a bound BM25 vocabulary's term
// statistics stay in step with what gets searched (§3, §4.F).
func (c *Collection) InsertText(ctx context.Context, id, text string, payload map[string]interface{}) error {
	e := c.TextEmbedder()
	if e == nil {
		return ErrNoEmbedder
	}
	if b, ok := e.(embedder.Buildable); ok {
		if err := b.Build(map[string]string{id: text}); err != nil {
			return fmt.Errorf("collection %q: build vocabulary: %w", c.Name, err)
		}
	}
	vec, err := e.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("collection %q: embed text: %w", c.Name, err)
	}
	return c.Insert(id, vec, payload)
}

func (c *Collection) checkWritable() error {
	switch c.State() {
	case Tombstoned:
		return ErrTombstoned
	case ReadOnly:
		return ErrReadOnly
	}
	return nil
}

// Insert normalizes vec for cosine, validates dimension and payload size,
// then adds id to the graph and its payload to the payload map. Once
// Insert returns nil, Search sees both; a failed insert leaves neither
// visible (§4.C).
func (c *Collection) Insert(id string, vec []float32, payload map[string]interface{}) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if len(vec) != c.Dimension {
		return &DimensionMismatchError{Collection: c.Name, Expected: c.Dimension, Actual: len(vec)}
	}
	if payload != nil {
		if size, err := payloadSize(payload); err != nil {
			return err
		} else if size > MaxPayloadBytes {
			return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, size)
		}
	}

	stored, err := c.quantizeVector(c.prepareVector(vec))
	if err != nil {
		return err
	}

	if _, err := c.Backend.Insert(id, stored); err != nil {
		if errors.Is(err, errDuplicateBackend) {
			return ErrDuplicateID
		}
		return err
	}

	c.payloadMu.Lock()
	c.payloads[id] = payload
	c.payloadMu.Unlock()

	c.touch()
	return nil
}

// errDuplicateBackend is a sentinel the backend adapter maps its own
// duplicate-id error onto, so Collection doesn't need to import pkg/hnsw
// to compare errors.Is against hnsw.ErrDuplicateID directly.
var errDuplicateBackend = errors.New("collection: backend reported a duplicate id")

// Update replaces vec and payload for an existing id: a backend delete
// followed by a backend insert. The two are separate backend calls, each
// taking the backend's own lock, so a Search running between them does not
// see id at all.
func (c *Collection) Update(id string, vec []float32, payload map[string]interface{}) error {
	if err := c.checkWritable(); err != nil {
		return err
	}
	if len(vec) != c.Dimension {
		return &DimensionMismatchError{Collection: c.Name, Expected: c.Dimension, Actual: len(vec)}
	}

	c.payloadMu.RLock()
	_, exists := c.payloads[id]
	c.payloadMu.RUnlock()
	if !exists {
		return ErrNotFound
	}

	stored, err := c.quantizeVector(c.prepareVector(vec))
	if err != nil {
		return err
	}
	c.Backend.Delete(id)
	if _, err := c.Backend.Insert(id, stored); err != nil {
		return err
	}

	c.payloadMu.Lock()
	c.payloads[id] = payload
	c.payloadMu.Unlock()

	c.touch()
	return nil
}

// Delete tombstones id in the graph and removes its payload entry.
func (c *Collection) Delete(id string) error {
	if err := c.checkWritable(); err != nil {
		return err
	}

	c.payloadMu.Lock()
	_, exists := c.payloads[id]
	delete(c.payloads, id)
	c.payloadMu.Unlock()

	if !exists {
		return ErrNotFound
	}

	c.Backend.Delete(id)
	c.touch()
	return nil
}

// Get returns id's payload.
func (c *Collection) Get(id string) (map[string]interface{}, error) {
	if c.State() == Tombstoned {
		return nil, ErrTombstoned
	}

	c.payloadMu.RLock()
	defer c.payloadMu.RUnlock()
	p, ok := c.payloads[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

// Search runs query against the backend and attaches each hit's payload.
// EfSearch is passed straight through; a zero value lets the backend fall
// back to its own default.
func (c *Collection) Search(query []float32, k int, opts SearchOptions) ([]SearchHit, error) {
	if c.State() == Tombstoned {
		return nil, ErrTombstoned
	}
	if len(query) != c.Dimension {
		return nil, &DimensionMismatchError{Collection: c.Name, Expected: c.Dimension, Actual: len(query)}
	}

	prepared := c.prepareVector(query)
	results, err := c.Backend.Search(prepared, k, opts.EfSearch)
	if err != nil {
		return nil, err
	}

	c.payloadMu.RLock()
	defer c.payloadMu.RUnlock()

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		if opts.ScoreThreshold != nil && r.Distance > *opts.ScoreThreshold {
			continue
		}
		hits = append(hits, SearchHit{ID: r.ID, Distance: r.Distance, Payload: c.payloads[r.ID]})
	}
	return hits, nil
}

// Count returns the number of live vectors.
func (c *Collection) Count() int {
	return c.Backend.Size()
}

// Optimize rebuilds the backend's graph excluding tombstones under a
// dedicated Indexing state, then returns to Active. Concurrent Optimize
// calls are rejected rather than queued.
func (c *Collection) Optimize() error {
	c.stateMu.Lock()
	if c.state == Tombstoned {
		c.stateMu.Unlock()
		return ErrTombstoned
	}
	if c.state == Indexing {
		c.stateMu.Unlock()
		return ErrIndexing
	}
	prior := c.state
	c.state = Indexing
	c.stateMu.Unlock()

	c.Backend.Optimize()

	c.stateMu.Lock()
	c.state = prior
	c.stateMu.Unlock()

	c.touch()
	return nil
}

// Freeze moves the Collection to ReadOnly; mutations are rejected with
// ErrReadOnly until Unfreeze.
func (c *Collection) Freeze() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == Tombstoned {
		return ErrTombstoned
	}
	c.state = ReadOnly
	return nil
}

// Unfreeze returns a ReadOnly Collection to Active.
func (c *Collection) Unfreeze() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == Tombstoned {
		return ErrTombstoned
	}
	c.state = Active
	return nil
}

// Tombstone marks the Collection deleted; every subsequent operation
// fails with ErrTombstoned.
func (c *Collection) Tombstone() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = Tombstoned
}

func (c *Collection) touch() {
	c.payloadMu.Lock()
	c.UpdatedAt = time.Now()
	c.payloadMu.Unlock()
}

// prepareVector normalizes a copy of vec for cosine (§4.C), logging a
// warning and storing the zero vector for a degenerate input rather than
// dividing by a near-zero norm (§9 open question).
func (c *Collection) prepareVector(vec []float32) []float32 {
	if c.Metric != vector.MetricCosine {
		return vec
	}
	if vector.Degenerate(vec) {
		log.Printf("collection %q: degenerate vector (norm <= %g), storing zero vector", c.Name, vector.DegenerateNormEpsilon)
	}
	return vector.Normalize(vec)
}

func payloadSize(payload map[string]interface{}) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("collection: marshal payload: %w", err)
	}
	return len(data), nil
}
