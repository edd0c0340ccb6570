// Package corpus builds per-movie dialogue corpora with embeddings and keeps them in a registry.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/embedding"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/persona"
	"github.com/hyperjump/cinetalk/internal/storage"
	"github.com/hyperjump/cinetalk/internal/table"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// Script table column names.
const (
	ColumnSpeaker   = "speaker"
	ColumnUtterance = "utterance"
	ColumnEmbedding = "embedding"
)

var (
	// ErrNoSource means a movie folder has neither a cache nor a script table.
	ErrNoSource = errors.New("no cache or script table")
	// ErrMissingUtterance means the script table has no utterance column.
	ErrMissingUtterance = errors.New("script table missing utterance column")
)

// Option configures a Loader or Registry.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger for load progress and per-movie failures.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = utils.OrNop(o.logger)
	return o
}

// Loader turns one movie folder into a ready Corpus.
type Loader struct {
	provider     *embedding.Provider
	store        storage.CacheStore
	cacheFile    string
	scriptFiles  []string
	personaFiles []string
	logger       *zap.Logger
}

// NewLoader creates a loader. Script and persona file names come from cfg and are tried in order;
// cacheFile is the cache file name inside each movie folder.
func NewLoader(provider *embedding.Provider, store storage.CacheStore, cfg *config.DataConfig, cacheFile string, opts ...Option) *Loader {
	o := buildOptions(opts)
	return &Loader{
		provider:     provider,
		store:        store,
		cacheFile:    cacheFile,
		scriptFiles:  cfg.ScriptFiles,
		personaFiles: cfg.PersonaFiles,
		logger:       o.logger,
	}
}

// CacheFile returns the cache file name used inside movie folders.
func (l *Loader) CacheFile() string { return l.cacheFile }

// Load builds the corpus for movieID from dir:
//
//  1. a cache written by the provider's model with matching dimensions is used as is;
//     an undecodable cache, or one from another model, is deleted;
//  2. otherwise the script table is read, parsing any embedding column;
//  3. lines without a vector are embedded;
//  4. the result is written back to the cache (failure is only logged), unless the
//     provider is a fallback embedder;
//  5. speakers, the top characters and the persona table are attached.
//
// It returns ErrNoSource when there is nothing to load and ErrMissingUtterance when the
// script table lacks an utterance column.
func (l *Loader) Load(ctx context.Context, movieID, dir string) (*models.Corpus, error) {
	log := l.logger.With(zap.String("movie", movieID))
	dim := l.provider.Dimensions()
	cachePath := filepath.Join(dir, l.cacheFile)

	c := &models.Corpus{MovieID: movieID, Dimensions: dim}
	snap := l.tryCache(ctx, log, cachePath, dim, l.provider.ModelID())
	if snap != nil {
		c.Lines, c.HasSpeaker, c.Source = snap.Lines, snap.HasSpeaker, models.SourceCache
	} else {
		lines, hasSpeaker, err := l.readScript(dir, dim)
		if err != nil {
			return nil, err
		}
		c.Lines, c.HasSpeaker, c.Source = lines, hasSpeaker, models.SourceScript
	}

	filled, err := l.backfill(ctx, c.Lines)
	if err != nil {
		return nil, err
	}
	if c.Source == models.SourceScript || filled > 0 {
		l.persist(ctx, log, cachePath, c)
	}

	if c.HasSpeaker {
		c.TopCharacters = topCharacters(c.Lines)
	}
	c.Personas = l.loadPersonas(log, dir)

	log.Info("corpus ready",
		zap.String("source", c.Source),
		zap.Int("lines", len(c.Lines)),
		zap.Int("embedded", c.EmbeddedCount()),
		zap.Int("newly_embedded", filled),
		zap.Strings("top_characters", c.TopCharacters))
	return c, nil
}

// Rebuild deletes the movie's cache when a script table is present, then loads it, so
// edits to the script are picked up. Without a script the cache is kept.
func (l *Loader) Rebuild(ctx context.Context, movieID, dir string) (*models.Corpus, error) {
	if firstExisting(dir, l.scriptFiles) != "" {
		l.removeCache(l.logger.With(zap.String("movie", movieID)), filepath.Join(dir, l.cacheFile))
	}
	return l.Load(ctx, movieID, dir)
}

// tryCache returns a usable snapshot or nil. Bad caches are removed from disk, except
// that a fallback embedder never removes a cache it merely cannot use.
func (l *Loader) tryCache(ctx context.Context, log *zap.Logger, path string, dim int, model string) *storage.Snapshot {
	snap, err := l.store.Load(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrCacheNotFound):
		return nil
	case errors.Is(err, storage.ErrCacheCorrupt):
		log.Warn("discarding unreadable cache", zap.String("path", path), zap.Error(err))
		l.removeCache(log, path)
		return nil
	default:
		log.Warn("cache not loaded", zap.String("path", path), zap.Error(err))
		return nil
	}
	if snap.Model != model || snap.Dimensions() != dim {
		fields := []zap.Field{
			zap.String("path", path),
			zap.String("cache_model", snap.Model), zap.String("model", model),
			zap.Int("cache_dim", snap.Dimensions()), zap.Int("model_dim", dim),
		}
		if l.provider.Fallback() {
			log.Warn("ignoring cache from another model while on fallback embeddings", fields...)
			return nil
		}
		log.Warn("discarding cache from another embedding model", fields...)
		l.removeCache(log, path)
		return nil
	}
	dropWrongDimension(snap.Lines, dim)
	log.Debug("loaded cache", zap.String("path", path), zap.Int("lines", len(snap.Lines)))
	return snap
}

func (l *Loader) removeCache(log *zap.Logger, path string) {
	if err := l.store.Remove(path); err != nil {
		log.Warn("failed to remove cache", zap.String("path", path), zap.Error(err))
	}
}

// readScript reads the first script table found in dir.
func (l *Loader) readScript(dir string, dim int) ([]models.DialogueLine, bool, error) {
	path := firstExisting(dir, l.scriptFiles)
	if path == "" {
		return nil, false, ErrNoSource
	}
	tbl, err := table.Read(path)
	if err != nil {
		return nil, false, fmt.Errorf("read script %s: %w", filepath.Base(path), err)
	}
	utterCol := tbl.Column(ColumnUtterance)
	if utterCol < 0 {
		return nil, false, fmt.Errorf("%w: %s", ErrMissingUtterance, filepath.Base(path))
	}
	speakerCol := tbl.Column(ColumnSpeaker)
	embCol := tbl.Column(ColumnEmbedding)

	lines := make([]models.DialogueLine, tbl.Len())
	for i := range lines {
		lines[i].Utterance = strings.TrimSpace(tbl.Cell(i, utterCol))
		if speakerCol >= 0 {
			lines[i].Speaker = strings.TrimSpace(tbl.Cell(i, speakerCol))
		}
		if embCol >= 0 {
			lines[i].Embedding = parseVector(tbl.Cell(i, embCol))
		}
	}
	dropWrongDimension(lines, dim)
	return lines, speakerCol >= 0, nil
}

// backfill embeds every line that has text but no vector, in place, in batches.
// Embedding failures leave the line empty; only context cancellation aborts.
func (l *Loader) backfill(ctx context.Context, lines []models.DialogueLine) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var (
		idx   []int
		texts []string
	)
	for i := range lines {
		if lines[i].HasEmbedding() || strings.TrimSpace(lines[i].Utterance) == "" {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, lines[i].Utterance)
	}
	if len(texts) == 0 {
		return 0, nil
	}
	filled := 0
	for j, vec := range l.provider.EmbedBatch(ctx, texts) {
		if len(vec) > 0 {
			lines[idx[j]].Embedding = vec
			filled++
		}
	}
	return filled, ctx.Err()
}

func (l *Loader) persist(ctx context.Context, log *zap.Logger, path string, c *models.Corpus) {
	if l.provider.Fallback() {
		log.Warn("fallback embeddings in use, cache not written")
		return
	}
	if c.EmbeddedCount() == 0 {
		log.Warn("no embedded lines, cache not written")
		return
	}
	snap := &storage.Snapshot{Model: l.provider.ModelID(), HasSpeaker: c.HasSpeaker, Lines: c.Lines}
	if err := l.store.Save(ctx, path, snap); err != nil {
		log.Warn("failed to write cache", zap.String("path", path), zap.Error(err))
		return
	}
	log.Debug("cache written", zap.String("path", path), zap.String("format", l.store.Format()))
}

func (l *Loader) loadPersonas(log *zap.Logger, dir string) models.PersonaMap {
	path := firstExisting(dir, l.personaFiles)
	if path == "" {
		return models.PersonaMap{}
	}
	personas, err := persona.Load(path)
	if err != nil {
		log.Warn("failed to load persona table", zap.String("path", path), zap.Error(err))
		return models.PersonaMap{}
	}
	return personas
}

// dropWrongDimension clears vectors whose length is not dim so they get re-embedded.
func dropWrongDimension(lines []models.DialogueLine, dim int) {
	for i := range lines {
		if n := len(lines[i].Embedding); n > 0 && n != dim {
			lines[i].Embedding = nil
		}
	}
}

func firstExisting(dir string, names []string) string {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
