package corpus

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/embedding"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/storage"
)

func TestLoader_buildsFromScriptThenCache(t *testing.T) {
	for _, format := range []string{storage.FormatBinary, storage.FormatSQLite} {
		t.Run(format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "extreme_job")
			writeXLSX(t, filepath.Join(dir, "script.xlsx"), extremeJobScript)
			ctx := context.Background()

			e := newCountingEmbedder(16)
			first, err := newTestLoader(t, e, format).Load(ctx, "extreme_job", dir)
			require.NoError(t, err)
			assert.Equal(t, models.SourceScript, first.Source)
			assert.Len(t, first.Lines, 7)
			assert.Equal(t, 7, first.EmbeddedCount())
			assert.Equal(t, int32(7), e.calls.Load())
			assert.True(t, first.HasSpeaker)
			assert.Equal(t, []string{"고반장", "장형사"}, first.TopCharacters)
			assert.Equal(t, 16, first.Dimensions)
			assert.NotNil(t, first.Personas)

			again := newCountingEmbedder(16)
			second, err := newTestLoader(t, again, format).Load(ctx, "extreme_job", dir)
			require.NoError(t, err)
			assert.Equal(t, models.SourceCache, second.Source)
			assert.Equal(t, int32(0), again.calls.Load(), "cache hit must not re-embed")
			require.Len(t, second.Lines, len(first.Lines))
			for i := range first.Lines {
				assert.Equal(t, first.Lines[i].Embedding, second.Lines[i].Embedding, "line %d", i)
				assert.Equal(t, first.Lines[i].Speaker, second.Lines[i].Speaker)
			}
			assert.Equal(t, first.TopCharacters, second.TopCharacters)
		})
	}
}

func TestLoader_dimensionMismatchRegenerates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "parasite")
	writeFile(t, filepath.Join(dir, "script.csv"), "speaker,utterance\n기우,아버지 저는 이게 위조나 범죄라고 생각 안 해요\n기택,너는 다 계획이 있구나\n")
	ctx := context.Background()

	_, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)

	upgraded := newCountingEmbedder(8)
	c, err := newTestLoader(t, upgraded, storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)
	assert.Equal(t, models.SourceScript, c.Source)
	assert.Equal(t, int32(2), upgraded.calls.Load())
	for _, l := range c.Lines {
		assert.Len(t, l.Embedding, 8)
	}

	// Regeneration happens exactly once.
	third := newCountingEmbedder(8)
	c, err = newTestLoader(t, third, storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, c.Source)
	assert.Equal(t, int32(0), third.calls.Load())
}

func TestLoader_corruptCacheRegenerates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "1987")
	writeFile(t, filepath.Join(dir, "script.csv"), "utterance\n탁 치니 억 하고 죽었습니다\n")
	writeFile(t, filepath.Join(dir, "script.vec"), "garbage")

	c, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "1987", dir)
	require.NoError(t, err)
	assert.Equal(t, models.SourceScript, c.Source)
	assert.False(t, c.HasSpeaker)
	assert.Empty(t, c.TopCharacters)

	snap, err := (&storage.BinaryStore{}).Load(context.Background(), filepath.Join(dir, "script.vec"))
	require.NoError(t, err, "cache should have been rewritten")
	assert.Equal(t, 4, snap.Dimensions())
}

func TestLoader_corruptCacheWithoutScript(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dogani")
	writeFile(t, filepath.Join(dir, "script.vec"), "garbage")

	_, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "dogani", dir)
	assert.ErrorIs(t, err, ErrNoSource)
	_, statErr := os.Stat(filepath.Join(dir, "script.vec"))
	assert.True(t, os.IsNotExist(statErr), "bad cache should be deleted")
}

func TestLoader_missingUtterance(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "theking")
	writeFile(t, filepath.Join(dir, "script.csv"), "speaker,line\n태수,권력은 그런 거야\n")
	_, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "theking", dir)
	assert.ErrorIs(t, err, ErrMissingUtterance)
}

func TestLoader_noSource(t *testing.T) {
	dir := t.TempDir()
	_, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "empty", dir)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestLoader_embeddingColumn(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	writeFile(t, filepath.Join(dir, "script.csv"),
		"speaker,utterance,embedding\n"+
			"A,hello there,\"[1, 0, 0, 0]\"\n"+
			"B,goodbye,not a vector\n"+
			"C,wrong size,\"[1, 0]\"\n")
	e := newCountingEmbedder(4)
	c, err := newTestLoader(t, e, storage.FormatBinary).Load(context.Background(), "m", dir)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0, 0}, c.Lines[0].Embedding)
	assert.Len(t, c.Lines[1].Embedding, 4)
	assert.Len(t, c.Lines[2].Embedding, 4)
	assert.Equal(t, int32(2), e.calls.Load(), "only malformed or mismatched cells are embedded")
}

func TestLoader_embeddingFailureKeepsPartialProgress(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	writeFile(t, filepath.Join(dir, "script.csv"), "utterance\nfirst\nbroken\nthird\n")
	e := newCountingEmbedder(4)
	e.fail = map[string]bool{"broken": true}

	c, err := newTestLoader(t, e, storage.FormatBinary).Load(context.Background(), "m", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, c.EmbeddedCount())
	assert.Empty(t, c.Lines[1].Embedding)

	// The next load uses the cache and only retries the missing line.
	e.fail = nil
	e.calls.Store(0)
	c, err = newTestLoader(t, e, storage.FormatBinary).Load(context.Background(), "m", dir)
	require.NoError(t, err)
	assert.Equal(t, models.SourceCache, c.Source)
	assert.Equal(t, int32(1), e.calls.Load())
	assert.Equal(t, 3, c.EmbeddedCount())
}

func TestLoader_personas(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "extreme_job")
	writeXLSX(t, filepath.Join(dir, "script.xlsx"), extremeJobScript)
	writeXLSX(t, filepath.Join(dir, "persona.xlsx"), [][]any{
		{"speaker", "persona_prompt"},
		{"고반장", "실적 없는 마약반 반장."},
	})
	c, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "extreme_job", dir)
	require.NoError(t, err)
	assert.Equal(t, models.PersonaMap{"고반장": "실적 없는 마약반 반장."}, c.Personas)
}

func TestLoader_badPersonaTableIsNotFatal(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	writeFile(t, filepath.Join(dir, "script.csv"), "utterance\nhi\n")
	writeFile(t, filepath.Join(dir, "persona.csv"), "who,what\nA,B\n")
	c, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(context.Background(), "m", dir)
	require.NoError(t, err)
	assert.Empty(t, c.Personas)
}

func TestLoader_canceledContext(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	writeFile(t, filepath.Join(dir, "script.csv"), "utterance\nhi\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestLoader(t, newCountingEmbedder(4), storage.FormatBinary).Load(ctx, "m", dir)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoader_cacheFromAnotherModelRegenerates(t *testing.T) {
	for _, format := range []string{storage.FormatBinary, storage.FormatSQLite} {
		t.Run(format, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "extreme_job")
			writeXLSX(t, filepath.Join(dir, "script.xlsx"), extremeJobScript)
			ctx := context.Background()

			_, err := newTestLoader(t, newCountingEmbedder(16), format).Load(ctx, "extreme_job", dir)
			require.NoError(t, err)

			other := &renamedEmbedder{countingEmbedder: newCountingEmbedder(16), id: "onnx/ko-sroberta-multitask/sentence_embedding"}
			loader := newTestLoader(t, other, format)
			c, err := loader.Load(ctx, "extreme_job", dir)
			require.NoError(t, err)
			assert.Equal(t, models.SourceScript, c.Source, "same dimension but another model must not reuse the cache")
			assert.Equal(t, int32(7), other.calls.Load())

			store, err := storage.NewCacheStore(format)
			require.NoError(t, err)
			snap, err := store.Load(ctx, filepath.Join(dir, loader.CacheFile()))
			require.NoError(t, err)
			assert.Equal(t, other.id, snap.Model)

			other.calls.Store(0)
			c, err = newTestLoader(t, other, format).Load(ctx, "extreme_job", dir)
			require.NoError(t, err)
			assert.Equal(t, models.SourceCache, c.Source)
			assert.Equal(t, int32(0), other.calls.Load())
		})
	}
}

func TestLoader_fallbackEmbedderNeitherWritesNorDeletesCache(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "parasite")
	writeFile(t, filepath.Join(dir, "script.csv"), "speaker,utterance\n기택,너는 계획이 다 있구나\n")
	ctx := context.Background()
	cachePath := filepath.Join(dir, "script.vec")

	fallback, err := embedding.NewFromConfig(&config.EmbeddingConfig{Provider: embedding.BackendOpenAI, Dimensions: 8}, nil)
	require.NoError(t, err)
	require.True(t, embedding.NewProvider(fallback).Fallback())

	c, err := newTestLoader(t, fallback, storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, c.EmbeddedCount())
	_, statErr := os.Stat(cachePath)
	assert.True(t, os.IsNotExist(statErr), "fallback vectors must not be cached")

	hosted := &renamedEmbedder{countingEmbedder: newCountingEmbedder(8), id: "openai/text-embedding-3-small"}
	_, err = newTestLoader(t, hosted, storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)
	before, err := os.ReadFile(cachePath)
	require.NoError(t, err)

	c, err = newTestLoader(t, fallback, storage.FormatBinary).Load(ctx, "parasite", dir)
	require.NoError(t, err)
	assert.Equal(t, models.SourceScript, c.Source)
	after, err := os.ReadFile(cachePath)
	require.NoError(t, err, "fallback must not delete a real model's cache")
	assert.Equal(t, before, after)
}

func TestLoader_backfillBatchesLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "m")
	var b strings.Builder
	b.WriteString("utterance\n")
	for i := 0; i < 150; i++ {
		fmt.Fprintf(&b, "대사 번호 %d\n", i)
	}
	writeFile(t, filepath.Join(dir, "script.csv"), b.String())

	e := newCountingEmbedder(4)
	c, err := newTestLoader(t, e, storage.FormatBinary).Load(context.Background(), "m", dir)
	require.NoError(t, err)
	assert.Equal(t, 150, c.EmbeddedCount())
	assert.Equal(t, int32(150), e.calls.Load())
	assert.Equal(t, int32(3), e.batches.Load(), "150 lines in batches of 64")
}
