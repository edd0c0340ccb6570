package vector

import (
	"sort"

	"github.com/hyperjump/cinetalk/internal/models"
)

// DefaultK is the number of context lines used for a chat reply.
const DefaultK = 5

// Score computes the cosine similarity of every line against query. The result is a new
// slice in corpus order; lines are copied by value so callers never write into the corpus.
func Score(lines []models.DialogueLine, query []float32) []models.ScoredLine {
	scored := make([]models.ScoredLine, len(lines))
	for i := range lines {
		scored[i] = models.ScoredLine{
			Index:      i,
			Line:       lines[i],
			Similarity: Cosine(query, lines[i].Embedding),
		}
	}
	return scored
}

// TopK returns the k most similar lines to query, highest first. Equal scores keep corpus
// order. Fewer than k lines yields all of them; k <= 0 yields none.
//
// This is a full linear scan. A corpus is one movie script (hundreds to a few thousand
// lines), so no index structure is kept.
func TopK(lines []models.DialogueLine, query []float32, k int) []models.ScoredLine {
	if k <= 0 || len(lines) == 0 {
		return nil
	}
	scored := Score(lines, query)
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k:k]
}
