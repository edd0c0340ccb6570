package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/pkg/utils"
)

var (
	// ErrEmbeddingFailed wraps any backend failure surfaced by Provider.Embed.
	ErrEmbeddingFailed = errors.New("embedding failed")
	// ErrDimensionMismatch reports a vector whose length differs from the model dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the single embed function used for both corpus building and queries.
// Blank input yields an empty vector, results are cached by text, and every backend call
// is bounded by a timeout.
type Provider struct {
	embedder  Embedder
	cache     *EmbeddingCache
	timeout   time.Duration
	batchSize int
	logger    *zap.Logger
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithCacheSize sets the LRU capacity; zero disables caching.
func WithCacheSize(n int) ProviderOption {
	return func(p *Provider) { p.cache = NewEmbeddingCache(n) }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithBatchSize sets how many texts EmbedBatch sends per backend call.
func WithBatchSize(n int) ProviderOption {
	return func(p *Provider) { p.batchSize = n }
}

// WithLogger sets the logger used by EmbedOrEmpty.
func WithLogger(l *zap.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// NewProvider wraps e. Defaults: 10000-entry cache, 30s timeout, batches of 64, no-op logger.
func NewProvider(e Embedder, opts ...ProviderOption) *Provider {
	p := &Provider{
		embedder:  e,
		cache:     NewEmbeddingCache(10000),
		timeout:   30 * time.Second,
		batchSize: 64,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.batchSize < 1 {
		p.batchSize = 1
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

// ModelID identifies the model behind the vectors. Embedders that do not implement
// Identifier are named by type and dimension.
func (p *Provider) ModelID() string {
	if id, ok := p.embedder.(Identifier); ok {
		return id.ModelID()
	}
	return fmt.Sprintf("%T/%d", p.embedder, p.embedder.Dimensions())
}

// Fallback reports whether the embedder stands in for a backend that failed to start.
// Its vectors must not be persisted.
func (p *Provider) Fallback() bool {
	f, ok := p.embedder.(interface{ Fallback() bool })
	return ok && f.Fallback()
}

// Dimensions returns the model dimension D.
func (p *Provider) Dimensions() int {
	return p.embedder.Dimensions()
}

// Embed returns the vector for text. Whitespace-only input returns (nil, nil), meaning
// "no embedding". Backend failures, panics, timeouts and wrong-length vectors return an
// error wrapping ErrEmbeddingFailed.
func (p *Provider) Embed(ctx context.Context, text string) (vec []float32, err error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if cached, ok := p.cache.Get(text); ok {
		return cached, nil
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			vec, err = nil, fmt.Errorf("%w: panic: %v", ErrEmbeddingFailed, r)
		}
	}()

	vec, err = p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if d := p.embedder.Dimensions(); len(vec) != d {
		return nil, fmt.Errorf("%w: %w: got %d, expected %d", ErrEmbeddingFailed, ErrDimensionMismatch, len(vec), d)
	}
	p.cache.Set(text, vec)
	return vec, nil
}

// EmbedOrEmpty is Embed with the log-and-default policy: any failure is logged as a
// warning and yields an empty vector.
func (p *Provider) EmbedOrEmpty(ctx context.Context, text string) []float32 {
	vec, err := p.Embed(ctx, text)
	if err != nil {
		p.logger.Warn("embedding failed, using empty vector",
			zap.String("text", utils.Truncate(text, 40)),
			zap.Error(err))
		return nil
	}
	return vec
}

// EmbedBatch embeds texts with as few backend calls as possible and returns one entry per
// text. Blank texts and failures yield nil entries; cached texts skip the backend. When a
// batch call fails, its texts are embedded one at a time so partial progress is kept.
// Cancellation stops the work and leaves the remaining entries nil.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	var (
		pending []int
		inputs  []string
	)
	for i, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if cached, ok := p.cache.Get(text); ok {
			out[i] = cached
			continue
		}
		pending = append(pending, i)
		inputs = append(inputs, text)
	}

	for start := 0; start < len(inputs); start += p.batchSize {
		if ctx.Err() != nil {
			return out
		}
		end := min(start+p.batchSize, len(inputs))
		vecs, err := p.embedChunk(ctx, inputs[start:end])
		if err != nil {
			p.logger.Warn("batch embedding failed, embedding lines one at a time",
				zap.Int("texts", end-start), zap.Error(err))
			for j := start; j < end && ctx.Err() == nil; j++ {
				out[pending[j]] = p.EmbedOrEmpty(ctx, inputs[j])
			}
			continue
		}
		for j, vec := range vecs {
			p.cache.Set(inputs[start+j], vec)
			out[pending[start+j]] = vec
		}
	}
	return out
}

// embedChunk makes one bounded EmbedBatch call and validates its shape.
func (p *Provider) embedChunk(ctx context.Context, texts []string) (vecs [][]float32, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			vecs, err = nil, fmt.Errorf("%w: panic: %v", ErrEmbeddingFailed, r)
		}
	}()

	vecs, err = p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	d := p.embedder.Dimensions()
	for i, vec := range vecs {
		if len(vec) != d {
			return nil, fmt.Errorf("%w: %w: text %d got %d, expected %d", ErrEmbeddingFailed, ErrDimensionMismatch, i, len(vec), d)
		}
	}
	return vecs, nil
}

// CacheStats reports the query/line vector cache.
func (p *Provider) CacheStats() CacheStats {
	return p.cache.Stats()
}

// Close releases the underlying embedder.
func (p *Provider) Close() error {
	return p.embedder.Close()
}
