package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/embedding"
	"github.com/hyperjump/cinetalk/internal/storage"
)

// countingEmbedder wraps MockEmbedder and counts embedded texts and batch calls. Texts
// listed in fail return an error, failing any batch that contains them.
type countingEmbedder struct {
	*embedding.MockEmbedder
	calls   atomic.Int32
	batches atomic.Int32
	fail    map[string]bool
}

func newCountingEmbedder(dims int) *countingEmbedder {
	return &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(dims)}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.fail[text] {
		return nil, errors.New("model unavailable")
	}
	return c.MockEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batches.Add(1)
	for _, text := range texts {
		if c.fail[text] {
			return nil, errors.New("model unavailable")
		}
	}
	c.calls.Add(int32(len(texts)))
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

// renamedEmbedder produces the same vectors as MockEmbedder under another model id.
type renamedEmbedder struct {
	*countingEmbedder
	id string
}

func (r *renamedEmbedder) ModelID() string { return r.id }

// gatedEmbedder blocks when asked to embed gate until release is closed, and signals
// entered the first time that happens.
type gatedEmbedder struct {
	*embedding.MockEmbedder
	gate     string
	entered  chan struct{}
	release  chan struct{}
	signaled atomic.Bool
}

func newGatedEmbedder(dims int, gate string) *gatedEmbedder {
	return &gatedEmbedder{
		MockEmbedder: embedding.NewMockEmbedder(dims),
		gate:         gate,
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (g *gatedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == g.gate {
		if g.signaled.CompareAndSwap(false, true) {
			close(g.entered)
		}
		<-g.release
	}
	return g.MockEmbedder.Embed(ctx, text)
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := g.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func testDataConfig() *config.DataConfig {
	return &config.DataConfig{
		ScriptFiles:  []string{"script.xlsx", "script.csv"},
		PersonaFiles: []string{"persona.xlsx", "persona.csv"},
	}
}

func newTestLoader(t *testing.T, e embedding.Embedder, format string) *Loader {
	t.Helper()
	store, err := storage.NewCacheStore(format)
	require.NoError(t, err)
	provider := embedding.NewProvider(e, embedding.WithCacheSize(0))
	cacheFile := "script.vec"
	if format == storage.FormatSQLite {
		cacheFile = "script.db"
	}
	return NewLoader(provider, store, testDataConfig(), cacheFile)
}

func writeXLSX(t *testing.T, path string, rows [][]any) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f := excelize.NewFile()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := r
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

var extremeJobScript = [][]any{
	{"speaker", "utterance"},
	{"고반장", "지금까지 이런 맛은 없었다. 이것은 갈비인가 통닭인가."},
	{"장형사", "반장님, 치킨 배달 들어왔습니다."},
	{"고반장", "우리 가게 장사 너무 잘 되는 거 아니냐?"},
	{"마형사", "형님, 저희 형사예요."},
	{"", ""},
	{"장형사", "잠복 근무 중에 닭을 튀기고 있다니."},
	{"고반장", "수사는 계속한다."},
}
