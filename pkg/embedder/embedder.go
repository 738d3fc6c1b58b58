// Package embedder defines the Embedder external capability contract
// (§4.F): text-to-vector conversion the core consumes but never inspects
// the internals of, plus a build/save/load hook for stateful embedders
// such as a BM25 vocabulary.
package embedder

import "context"

// Embedder generates vector embeddings from text. Implementations must be
// safe for concurrent use. The interface is declared independently so the
// core never imports a concrete provider package (Ollama, OpenAI, a local
// hashing scheme) directly.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// Buildable is the optional build/save/load hook (§4.F) for an Embedder
// whose vectors depend on corpus-wide state, such as a BM25 vocabulary's
// term statistics. Stateless embedders (external API clients, fixed
// hashing schemes) need not implement it.
type Buildable interface {
	Build(docs map[string]string) error
	Save() ([]byte, error)
	Load(data []byte) error
}
