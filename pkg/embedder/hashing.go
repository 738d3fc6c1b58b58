package embedder

import (
	"context"
	"errors"
	"hash/fnv"
	"math"

	"github.com/vecdb-io/vecdb/pkg/vocab"
)

// ErrEmptyText is returned by Embed when given an empty string.
var ErrEmptyText = errors.New("embedder: empty text")

// HashingEmbedder is a stateless reference Embedder: each token is
// feature-hashed into one of D dimensions with a sign bit from a second
// hash, following the standard hashing-trick construction (Weinberger et
// al.), then the accumulated vector is L2-normalized. It needs no
// training corpus, so it satisfies Embedder but not Buildable.
type HashingEmbedder struct {
	dimensions int
	model      string
}

// NewHashingEmbedder returns a HashingEmbedder producing vectors of the
// given dimension.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	return &HashingEmbedder{dimensions: dimensions, model: "hashing-trick-v1"}
}

func (h *HashingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := vocab.Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}
	return hashTokens(tokens, h.dimensions), nil
}

func (h *HashingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (h *HashingEmbedder) Dimensions() int { return h.dimensions }
func (h *HashingEmbedder) Model() string   { return h.model }

// VocabEmbedder combines the hashing trick with a BM25 vocabulary (§4.F):
// Embed hashes each token as HashingEmbedder does, but the vocabulary's
// Build/Save/Load hook lets the Collection persist and restore the term
// statistics that back downstream BM25 scoring alongside the vectors
// themselves (§4.D Tokenizer file).
type VocabEmbedder struct {
	dimensions int
	vocabulary *vocab.Vocabulary
}

// NewVocabEmbedder wraps an existing vocabulary (use vocab.New() for a
// fresh one) in an Embedder producing vectors of the given dimension.
func NewVocabEmbedder(dimensions int, v *vocab.Vocabulary) *VocabEmbedder {
	return &VocabEmbedder{dimensions: dimensions, vocabulary: v}
}

func (v *VocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	tokens := vocab.Tokenize(text)
	if len(tokens) == 0 {
		return nil, ErrEmptyText
	}
	return hashTokens(tokens, v.dimensions), nil
}

func (v *VocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := v.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (v *VocabEmbedder) Dimensions() int { return v.dimensions }
func (v *VocabEmbedder) Model() string   { return "vocab-hashing-trick-v1" }

// Build indexes docs into the bound vocabulary (§4.F build hook).
func (v *VocabEmbedder) Build(docs map[string]string) error {
	v.vocabulary.Build(docs)
	return nil
}

// Save serializes the bound vocabulary's term statistics.
func (v *VocabEmbedder) Save() ([]byte, error) {
	return v.vocabulary.Save()
}

// Load restores the bound vocabulary's term statistics, replacing the
// previously bound vocabulary wholesale (vocab.Load builds a fresh
// *vocab.Vocabulary rather than mutating one in place).
func (v *VocabEmbedder) Load(data []byte) error {
	loaded, err := vocab.Load(data)
	if err != nil {
		return err
	}
	v.vocabulary = loaded
	return nil
}

// Vocabulary returns the bound vocabulary directly, for callers that need
// BM25 scoring state outside of the Build/Save/Load hook.
func (v *VocabEmbedder) Vocabulary() *vocab.Vocabulary {
	return v.vocabulary
}

// hashTokens implements the hashing trick: token i's sign comes from bit 0
// of a second, differently-seeded hash, so two tokens colliding on the
// same dimension do not always reinforce each other.
func hashTokens(tokens []string, dimensions int) []float32 {
	vec := make([]float32, dimensions)
	for _, tok := range tokens {
		h1 := fnv.New32a()
		h1.Write([]byte(tok))
		idx := int(h1.Sum32()) % dimensions
		if idx < 0 {
			idx += dimensions
		}

		h2 := fnv.New32a()
		h2.Write([]byte("sign:" + tok))
		sign := float32(1)
		if h2.Sum32()&1 == 1 {
			sign = -1
		}

		vec[idx] += sign
	}

	var normSq float64
	for _, c := range vec {
		normSq += float64(c) * float64(c)
	}
	norm := math.Sqrt(normSq)
	if norm <= 1e-12 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
