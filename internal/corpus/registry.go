package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/cinetalk/internal/models"
)

// Registry owns every loaded corpus. Corpora are never mutated after they are published;
// mu only guards replacing them. Loads of the same movie run one at a time, so the load
// that starts last also publishes and persists last.
type Registry struct {
	loader      *Loader
	root        string
	concurrency int
	logger      *zap.Logger

	mu      sync.RWMutex
	corpora map[string]*models.Corpus
	skipped map[string]string

	movieMu    sync.Mutex
	movieLocks map[string]*sync.Mutex
}

// NewRegistry creates an empty registry for movie folders under root. concurrency bounds
// parallel movie loads; values below 1 load sequentially.
func NewRegistry(loader *Loader, root string, concurrency int, opts ...Option) *Registry {
	o := buildOptions(opts)
	if concurrency < 1 {
		concurrency = 1
	}
	return &Registry{
		loader:      loader,
		root:        root,
		concurrency: concurrency,
		logger:      o.logger,
		corpora:     make(map[string]*models.Corpus),
		skipped:     make(map[string]string),
		movieLocks:  make(map[string]*sync.Mutex),
	}
}

// lockMovie serializes loads of movieID and returns the unlock function.
func (r *Registry) lockMovie(movieID string) func() {
	r.movieMu.Lock()
	l, ok := r.movieLocks[movieID]
	if !ok {
		l = &sync.Mutex{}
		r.movieLocks[movieID] = l
	}
	r.movieMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Root returns the data root.
func (r *Registry) Root() string { return r.root }

// LoadAll loads every movie folder under the root, replacing the current contents.
// A failing movie is logged and skipped. A missing root leaves the registry empty and
// returns an error.
func (r *Registry) LoadAll(ctx context.Context) error {
	ids, err := r.movieDirs()
	if err != nil {
		r.logger.Error("data root not readable, no movies loaded", zap.String("root", r.root), zap.Error(err))
		r.mu.Lock()
		r.corpora = make(map[string]*models.Corpus)
		r.skipped = make(map[string]string)
		r.mu.Unlock()
		return fmt.Errorf("read data root: %w", err)
	}

	type result struct {
		id     string
		corpus *models.Corpus
		err    error
	}
	results := make([]result, len(ids))
	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer r.lockMovie(id)()
			c, err := r.load(ctx, id, r.loader.Load)
			results[i] = result{id: id, corpus: c, err: err}
		}(i, id)
	}
	wg.Wait()

	corpora := make(map[string]*models.Corpus, len(ids))
	skipped := make(map[string]string)
	for _, res := range results {
		if res.err != nil {
			skipped[res.id] = res.err.Error()
			continue
		}
		corpora[res.id] = res.corpus
	}
	r.mu.Lock()
	r.corpora, r.skipped = corpora, skipped
	r.mu.Unlock()

	r.logger.Info("movies loaded",
		zap.Int("loaded", len(corpora)),
		zap.Int("skipped", len(skipped)),
		zap.String("root", r.root))
	return ctx.Err()
}

// Reload loads one movie again, reusing a valid cache, and swaps it in. On failure the
// movie is removed.
func (r *Registry) Reload(ctx context.Context, movieID string) error {
	defer r.lockMovie(movieID)()
	c, err := r.load(ctx, movieID, r.loader.Load)
	return r.swap(movieID, c, err)
}

// Rebuild is Reload after discarding the movie's cache, for when its script changed.
func (r *Registry) Rebuild(ctx context.Context, movieID string) error {
	defer r.lockMovie(movieID)()
	c, err := r.load(ctx, movieID, r.loader.Rebuild)
	return r.swap(movieID, c, err)
}

func (r *Registry) swap(movieID string, c *models.Corpus, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.corpora, movieID)
		r.skipped[movieID] = err.Error()
		return err
	}
	r.corpora[movieID] = c
	delete(r.skipped, movieID)
	return nil
}

// Put publishes c, replacing any corpus with the same movie id.
func (r *Registry) Put(c *models.Corpus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corpora[c.MovieID] = c
	delete(r.skipped, c.MovieID)
}

// Get returns the corpus for movieID.
func (r *Registry) Get(movieID string) (*models.Corpus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.corpora[movieID]
	return c, ok
}

// IDs returns the loaded movie ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.corpora))
	for id := range r.corpora {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of loaded movies.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.corpora)
}

// MovieStats summarizes one loaded corpus.
type MovieStats struct {
	ID            string   `json:"id"`
	Lines         int      `json:"lines"`
	Embedded      int      `json:"embedded"`
	Dimensions    int      `json:"dimensions"`
	Source        string   `json:"source"`
	HasSpeaker    bool     `json:"has_speaker"`
	TopCharacters []string `json:"top_characters"`
	Personas      int      `json:"personas"`
}

// Stats describes the registry contents.
type Stats struct {
	Movies  []MovieStats      `json:"movies"`
	Skipped map[string]string `json:"skipped,omitempty"`
}

// Stats returns per-movie statistics sorted by id, plus the reasons movies were skipped.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Movies: make([]MovieStats, 0, len(r.corpora))}
	for id, c := range r.corpora {
		s.Movies = append(s.Movies, MovieStats{
			ID:            id,
			Lines:         len(c.Lines),
			Embedded:      c.EmbeddedCount(),
			Dimensions:    c.Dimensions,
			Source:        c.Source,
			HasSpeaker:    c.HasSpeaker,
			TopCharacters: c.TopCharacters,
			Personas:      len(c.Personas),
		})
	}
	sort.Slice(s.Movies, func(i, j int) bool { return s.Movies[i].ID < s.Movies[j].ID })
	if len(r.skipped) > 0 {
		s.Skipped = make(map[string]string, len(r.skipped))
		for k, v := range r.skipped {
			s.Skipped[k] = v
		}
	}
	return s
}

type loadFunc func(ctx context.Context, movieID, dir string) (*models.Corpus, error)

// load runs fn for a single movie, converting panics into errors.
func (r *Registry) load(ctx context.Context, movieID string, fn loadFunc) (c *models.Corpus, err error) {
	log := r.logger.With(zap.String("movie", movieID))
	defer func() {
		if rec := recover(); rec != nil {
			c, err = nil, fmt.Errorf("panic while loading: %v", rec)
		}
		if err != nil {
			if errors.Is(err, ErrNoSource) {
				log.Info("skipping movie", zap.Error(err))
			} else {
				log.Warn("skipping movie", zap.Error(err))
			}
		}
	}()

	dir := filepath.Join(r.root, movieID)
	info, statErr := os.Stat(dir)
	if statErr != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: folder %s not found", ErrNoSource, movieID)
	}
	return fn(ctx, movieID, dir)
}

func (r *Registry) movieDirs() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}
