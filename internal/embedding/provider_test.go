package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// stubEmbedder lets tests control results, errors, and call counts.
type stubEmbedder struct {
	dims    int
	calls   atomic.Int32
	batches atomic.Int32
	fn      func(ctx context.Context, text string) ([]float32, error)
	batchFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.calls.Add(1)
	return s.fn(ctx, text)
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches.Add(1)
	if s.batchFn != nil {
		return s.batchFn(ctx, texts)
	}
	return embedEach(ctx, s, texts)
}

func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) Close() error    { return nil }

func TestProvider_blankInputIsEmptyNotError(t *testing.T) {
	stub := &stubEmbedder{dims: 2, fn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 0}, nil
	}}
	p := NewProvider(stub)
	for _, in := range []string{"", "   ", "\n\t"} {
		vec, err := p.Embed(context.Background(), in)
		require.NoError(t, err)
		assert.Empty(t, vec)
	}
	assert.Equal(t, int32(0), stub.calls.Load(), "blank input must not reach the model")
}

func TestProvider_cachesByTrimmedText(t *testing.T) {
	stub := &stubEmbedder{dims: 2, fn: func(context.Context, string) ([]float32, error) {
		return []float32{0.6, 0.8}, nil
	}}
	p := NewProvider(stub, WithCacheSize(10))
	ctx := context.Background()
	a, err := p.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "  hello ")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestProvider_backendErrorIsWrapped(t *testing.T) {
	boom := errors.New("model exploded")
	stub := &stubEmbedder{dims: 2, fn: func(context.Context, string) ([]float32, error) {
		return nil, boom
	}}
	p := NewProvider(stub)
	_, err := p.Embed(context.Background(), "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.ErrorIs(t, err, boom)
}

func TestProvider_wrongDimensionRejected(t *testing.T) {
	stub := &stubEmbedder{dims: 3, fn: func(context.Context, string) ([]float32, error) {
		return []float32{1, 2}, nil
	}}
	_, err := NewProvider(stub).Embed(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestProvider_panicRecovered(t *testing.T) {
	stub := &stubEmbedder{dims: 2, fn: func(context.Context, string) ([]float32, error) {
		panic("onnx crashed")
	}}
	_, err := NewProvider(stub).Embed(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestProvider_timeout(t *testing.T) {
	stub := &stubEmbedder{dims: 2, fn: func(ctx context.Context, _ string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := NewProvider(stub, WithTimeout(20*time.Millisecond))
	start := time.Now()
	_, err := p.Embed(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProvider_EmbedOrEmptyLogsWarning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	stub := &stubEmbedder{dims: 2, fn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("down")
	}}
	p := NewProvider(stub, WithLogger(zap.New(core)))
	vec := p.EmbedOrEmpty(context.Background(), "hello")
	assert.Nil(t, vec)
	assert.Equal(t, 1, logs.Len())
}

func TestProvider_withMockEmbedder(t *testing.T) {
	p := NewProvider(NewMockEmbedder(8))
	vec := p.EmbedOrEmpty(context.Background(), "안녕하세요")
	assert.Len(t, vec, 8)
	assert.Equal(t, 8, p.Dimensions())
	assert.NoError(t, p.Close())
}

func unitStub(dims int) *stubEmbedder {
	return &stubEmbedder{dims: dims, fn: func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		vec[len(text)%dims] = 1
		return vec, nil
	}}
}

func TestProvider_EmbedBatchChunksAndSkipsCached(t *testing.T) {
	stub := unitStub(4)
	p := NewProvider(stub, WithBatchSize(64), WithCacheSize(1000))
	ctx := context.Background()

	texts := make([]string, 130)
	for i := range texts {
		texts[i] = fmt.Sprintf("대사 %d", i)
	}
	texts[5] = "   "
	_, err := p.Embed(ctx, texts[7])
	require.NoError(t, err)
	stub.calls.Store(0)

	out := p.EmbedBatch(ctx, texts)
	require.Len(t, out, 130)
	assert.Nil(t, out[5])
	for i, vec := range out {
		if i != 5 {
			assert.Len(t, vec, 4, "text %d", i)
		}
	}
	// 128 uncached texts in chunks of 64.
	assert.Equal(t, int32(2), stub.batches.Load())
	assert.Equal(t, int32(128), stub.calls.Load())

	again := p.EmbedBatch(ctx, texts)
	assert.Equal(t, out, again)
	assert.Equal(t, int32(2), stub.batches.Load(), "second pass is served from the cache")
}

func TestProvider_EmbedBatchFallsBackPerText(t *testing.T) {
	stub := unitStub(4)
	stub.batchFn = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("batch endpoint down")
	}
	base := stub.fn
	stub.fn = func(ctx context.Context, text string) ([]float32, error) {
		if text == "broken" {
			return nil, errors.New("bad input")
		}
		return base(ctx, text)
	}
	p := NewProvider(stub, WithCacheSize(0))

	out := p.EmbedBatch(context.Background(), []string{"first", "broken", "third"})
	assert.Len(t, out[0], 4)
	assert.Nil(t, out[1])
	assert.Len(t, out[2], 4)
	assert.Equal(t, int32(1), stub.batches.Load())
	assert.Equal(t, int32(3), stub.calls.Load())
}

func TestProvider_EmbedBatchRejectsWrongShape(t *testing.T) {
	stub := unitStub(4)
	stub.batchFn = func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 0}}, nil
	}
	p := NewProvider(stub, WithCacheSize(0))
	out := p.EmbedBatch(context.Background(), []string{"a", "b"})
	assert.Len(t, out[0], 4, "falls back to single embeds")
	assert.Len(t, out[1], 4)
}

func TestProvider_EmbedBatchCanceled(t *testing.T) {
	stub := unitStub(4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewProvider(stub).EmbedBatch(ctx, []string{"a", "b"})
	assert.Equal(t, [][]float32{nil, nil}, out)
	assert.Equal(t, int32(0), stub.batches.Load())
}

func TestProvider_ModelID(t *testing.T) {
	assert.Equal(t, "mock/8", NewProvider(NewMockEmbedder(8)).ModelID())
	assert.Equal(t, "*embedding.stubEmbedder/3", NewProvider(unitStub(3)).ModelID())
	assert.NotEqual(t, NewProvider(NewMockEmbedder(4)).ModelID(), NewProvider(unitStub(4)).ModelID())
}

func TestProvider_Fallback(t *testing.T) {
	assert.False(t, NewProvider(NewMockEmbedder(4)).Fallback())
	assert.False(t, NewProvider(unitStub(4)).Fallback())
	m := NewMockEmbedder(4)
	m.fallback = true
	assert.True(t, NewProvider(m).Fallback())
}
