// Package search retrieves the dialogue lines of a movie most similar to a query.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/cinetalk/internal/config"
	"github.com/hyperjump/cinetalk/internal/embedding"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/vector"
)

// ErrMovieNotFound is returned for a movie id with no loaded corpus.
var ErrMovieNotFound = errors.New("movie not found")

// Corpora looks up loaded corpora by movie id.
type Corpora interface {
	Get(movieID string) (*models.Corpus, bool)
}

// Engine embeds queries and ranks corpus lines by cosine similarity.
type Engine struct {
	corpora  Corpora
	provider *embedding.Provider
	config   *config.RetrievalConfig
}

// NewEngine creates a retrieval engine with the given dependencies.
func NewEngine(corpora Corpora, provider *embedding.Provider, cfg *config.RetrievalConfig) *Engine {
	return &Engine{
		corpora:  corpora,
		provider: provider,
		config:   cfg,
	}
}

// DefaultK returns the configured number of context lines.
func (e *Engine) DefaultK() int {
	if e.config != nil && e.config.TopK > 0 {
		return e.config.TopK
	}
	return vector.DefaultK
}

// CacheStats reports the embedding cache shared by queries and corpus loading.
func (e *Engine) CacheStats() embedding.CacheStats {
	return e.provider.CacheStats()
}

// Retrieve returns the k lines of movieID most similar to query, highest first; k <= 0
// uses DefaultK. A failed query embedding degrades to an empty vector, so every line
// scores 0 and the first k lines come back in script order.
func (e *Engine) Retrieve(ctx context.Context, movieID, query string, k int) ([]models.ScoredLine, error) {
	c, ok := e.corpora.Get(movieID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMovieNotFound, movieID)
	}
	return e.RetrieveFrom(ctx, c, query, k), nil
}

// RetrieveFrom ranks the lines of an already resolved corpus, so callers that also read
// its personas see one consistent snapshot.
func (e *Engine) RetrieveFrom(ctx context.Context, c *models.Corpus, query string, k int) []models.ScoredLine {
	if k <= 0 {
		k = e.DefaultK()
	}
	q := e.provider.EmbedOrEmpty(ctx, query)
	return vector.TopK(c.Lines, q, k)
}

// Search validates req, runs Retrieve and reports the elapsed time.
func (e *Engine) Search(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error) {
	startTime := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	results, err := e.Retrieve(ctx, req.MovieID, req.Query, req.K)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.ScoredLine{}
	}
	return &models.RetrieveResponse{
		MovieID:   req.MovieID,
		Query:     req.Query,
		Results:   results,
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}
