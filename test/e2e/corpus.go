// Package e2e provides end-to-end tests over a generated multi-movie data root.
package e2e

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/hyperjump/cinetalk/pkg/utils"
)

// Line is one script row in the generated corpus.
type Line struct {
	Speaker   string
	Utterance string
}

// Movie is one generated movie folder.
type Movie struct {
	ID       string
	Lines    []Line
	Personas map[string]string
}

// QueryTestCase is a query whose best match must be line ExpectedIndex of MovieID.
type QueryTestCase struct {
	MovieID       string
	Query         string
	ExpectedIndex int
	Description   string
}

// Corpus holds generated movies and query test cases.
type Corpus struct {
	Movies       []Movie
	TestCases    []QueryTestCase
	TotalLines   int
	TotalQueries int
}

var speakers = []string{"고반장", "장형사", "마형사", "영호", "재훈"}

// BuildCorpus returns movies lines each. Every line carries two signature tokens that
// appear nowhere else, and every line gets a query made of exactly those tokens.
func BuildCorpus(movies, lines int) *Corpus {
	c := &Corpus{}
	for m := 0; m < movies; m++ {
		movie := Movie{
			ID:       fmt.Sprintf("movie_%02d", m),
			Personas: map[string]string{},
		}
		for i := 0; i < lines; i++ {
			a, b := signature(m, i)
			speaker := speakers[i%len(speakers)]
			movie.Lines = append(movie.Lines, Line{
				Speaker:   speaker,
				Utterance: fmt.Sprintf("%s 작전은 %s 에서 시작한다", a, b),
			})
			c.TestCases = append(c.TestCases, QueryTestCase{
				MovieID:       movie.ID,
				Query:         a + " " + b,
				ExpectedIndex: i,
				Description:   fmt.Sprintf("%s line %d", movie.ID, i),
			})
		}
		movie.Personas[speakers[0]] = fmt.Sprintf("당신은 %s의 반장입니다.", movie.ID)
		c.Movies = append(c.Movies, movie)
		c.TotalLines += lines
	}
	c.TotalQueries = len(c.TestCases)
	return c
}

func signature(movie, line int) (string, string) {
	return fmt.Sprintf("신호%02d%03d", movie, line), fmt.Sprintf("단서%02d%03d", movie, line)
}

// Vocabulary returns every distinct token in the corpus, in first-seen order.
func (c *Corpus) Vocabulary() []string {
	seen := make(map[string]bool)
	var vocab []string
	for _, m := range c.Movies {
		for _, l := range m.Lines {
			for _, tok := range strings.Fields(l.Utterance) {
				if !seen[tok] {
					seen[tok] = true
					vocab = append(vocab, tok)
				}
			}
		}
	}
	return vocab
}

// vocabEmbedder is a bag-of-words embedder with one dimension per known token and a
// shared dimension for unknown tokens. Cosine similarity between a query and a line is
// then exact token overlap.
type vocabEmbedder struct {
	index map[string]int
	dims  int
	calls atomic.Int32
}

func newVocabEmbedder(vocab []string) *vocabEmbedder {
	index := make(map[string]int, len(vocab))
	for i, tok := range vocab {
		index[tok] = i
	}
	return &vocabEmbedder{index: index, dims: len(vocab) + 1}
}

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.dims)
	for _, tok := range strings.Fields(text) {
		if i, ok := e.index[tok]; ok {
			vec[i]++
		} else {
			vec[e.dims-1]++
		}
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *vocabEmbedder) Dimensions() int { return e.dims }

func (e *vocabEmbedder) Close() error { return nil }
