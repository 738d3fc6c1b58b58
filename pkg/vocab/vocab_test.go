package vocab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Hello World", []string{"hello", "world"}},
		{"TypeScript, JavaScript, and Go!", []string{"typescript", "javascript", "and", "go"}},
		{"user@example.com", []string{"user", "example", "com"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.expected, Tokenize(tc.input))
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Hello World", Sanitize("Hello World"))
	assert.Equal(t, "Hello World Test", Sanitize("Hello\x00World\x01Test"))
	assert.Equal(t, "Line1\nLine2\tTabbed", Sanitize("Line1\nLine2\tTabbed"))
	assert.Equal(t, "", Sanitize(""))
}

func TestVocabulary_BuildAndScore(t *testing.T) {
	v := New()
	v.Build(map[string]string{
		"doc1": "the quick brown fox jumps over the lazy dog",
		"doc2": "a slow brown turtle never jumps",
		"doc3": "completely unrelated document about cooking",
	})

	require.Equal(t, 3, v.Count())

	results := v.Score("brown fox", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, "doc1", results[0].ID, "doc1 shares both query terms and should rank first")
}

func TestVocabulary_AddRemove(t *testing.T) {
	v := New()
	v.Add("a", "apples and oranges")
	v.Add("b", "oranges and pears")
	require.Equal(t, 2, v.Count())

	v.Remove("a")
	assert.Equal(t, 1, v.Count())

	results := v.Score("apples", 10)
	assert.Empty(t, results, "removed document's unique term should no longer match")
}

func TestVocabulary_EmptyQuery(t *testing.T) {
	v := New()
	v.Add("a", "some text")
	assert.Nil(t, v.Score("", 10))
	assert.Nil(t, v.Score("   ", 10))
}

func TestVocabulary_SaveLoad(t *testing.T) {
	v := New()
	v.Build(map[string]string{
		"doc1": "the quick brown fox",
		"doc2": "a slow brown turtle",
	})

	data, err := v.Save()
	require.NoError(t, err)

	restored, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, v.Count(), restored.Count())

	original := v.Score("brown", 10)
	reloaded := restored.Score("brown", 10)
	require.Equal(t, len(original), len(reloaded))
	for i := range original {
		assert.Equal(t, original[i].ID, reloaded[i].ID)
		assert.InDelta(t, original[i].Score, reloaded[i].Score, 1e-9)
	}
}

func TestVocabulary_ReindexSameID(t *testing.T) {
	v := New()
	v.Add("doc1", "alpha beta gamma")
	v.Add("doc1", "delta epsilon")

	assert.Equal(t, 1, v.Count())
	assert.Empty(t, v.Score("alpha", 10), "stale terms from the first index should be gone")
	assert.NotEmpty(t, v.Score("delta", 10))
}
