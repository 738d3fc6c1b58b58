package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vecdb-io/vecdb/pkg/vocab"
)

func TestHashingEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	v1, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	require.Len(t, v1, 64)

	v2, err := e.Embed(ctx, "the quick brown fox")
	require.NoError(t, err)
	require.Equal(t, v1, v2)

	var normSq float64
	for _, c := range v1 {
		normSq += float64(c) * float64(c)
	}
	require.InDelta(t, 1.0, normSq, 1e-5)
}

func TestHashingEmbedderRejectsEmptyText(t *testing.T) {
	e := NewHashingEmbedder(32)
	_, err := e.Embed(context.Background(), "   ")
	require.ErrorIs(t, err, ErrEmptyText)
}

func TestHashingEmbedderDistinctTextsDiffer(t *testing.T) {
	e := NewHashingEmbedder(256)
	ctx := context.Background()
	a, err := e.Embed(ctx, "database systems")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "feline companions")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestVocabEmbedderBuildSaveLoadRoundTrip(t *testing.T) {
	v := NewVocabEmbedder(32, vocab.New())
	require.NoError(t, v.Build(map[string]string{
		"doc1": "vectors and graphs",
		"doc2": "graphs and shards",
	}))

	data, err := v.Save()
	require.NoError(t, err)

	v2 := NewVocabEmbedder(32, vocab.New())
	require.NoError(t, v2.Load(data))
	require.Equal(t, v.Vocabulary().Count(), v2.Vocabulary().Count())
}

func TestVocabEmbedderEmbedMatchesHashing(t *testing.T) {
	h := NewHashingEmbedder(48)
	v := NewVocabEmbedder(48, vocab.New())

	hv, err := h.Embed(context.Background(), "shard routing ring")
	require.NoError(t, err)
	vv, err := v.Embed(context.Background(), "shard routing ring")
	require.NoError(t, err)
	require.Equal(t, hv, vv)
}

type countingEmbedder struct {
	calls int
	dims  int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls++
	if text == "" {
		return nil, errors.New("empty")
	}
	return make([]float32, c.dims), nil
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return c.dims }
func (c *countingEmbedder) Model() string   { return "counting" }

func TestCachedSkipsRepeatedBaseCalls(t *testing.T) {
	base := &countingEmbedder{dims: 4}
	cached := NewCached(base, 10)
	ctx := context.Background()

	_, err := cached.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "hello")
	require.NoError(t, err)
	_, err = cached.Embed(ctx, "world")
	require.NoError(t, err)

	require.Equal(t, 2, base.calls)
	stats := cached.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(2), stats.Misses)
}

func TestCachedEvictsAtCapacity(t *testing.T) {
	base := &countingEmbedder{dims: 2}
	cached := NewCached(base, 2)
	ctx := context.Background()

	cached.Embed(ctx, "a")
	cached.Embed(ctx, "b")
	cached.Embed(ctx, "c") // evicts "a"
	cached.Embed(ctx, "a") // miss again

	require.Equal(t, 4, base.calls)
}
