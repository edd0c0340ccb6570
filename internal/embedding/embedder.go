// Package embedding turns dialogue text into fixed-length vectors. Backends implement
// Embedder; Provider adds the empty-input policy, caching, timeouts, and failure handling
// shared by corpus loading and query time.
package embedding

import "context"

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Identifier is implemented by embedders that can name the model behind their vectors.
// Vectors from embedders with different ids are not comparable even when their
// dimensions agree.
type Identifier interface {
	ModelID() string
}

// embedEach calls Embed for each text, stopping at the first error.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
