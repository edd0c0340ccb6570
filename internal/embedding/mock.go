package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand/v2"

	"github.com/hyperjump/cinetalk/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline development. The same
// text always yields the same unit-length vector.
type MockEmbedder struct {
	dimensions int
	fallback   bool
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a unit vector drawn from a PRNG seeded with the text hash.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := rand.New(rand.NewPCG(uint64(HashString(text)), uint64(e.dimensions)))
	emb := make([]float32, e.dimensions)
	for i := range emb {
		emb[i] = float32(r.NormFloat64())
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelID implements Identifier.
func (e *MockEmbedder) ModelID() string {
	return fmt.Sprintf("mock/%d", e.dimensions)
}

// Fallback reports whether the mock stands in for a backend that failed to start.
func (e *MockEmbedder) Fallback() bool {
	return e.fallback
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() >> 2)
}
