// Package models defines core data structures for dialogue corpora, chat requests, and retrieval results.
package models

// DialogueLine is one line of a movie script. Embedding is empty until the line has been embedded.
type DialogueLine struct {
	Speaker   string    `json:"speaker,omitempty"`
	Utterance string    `json:"utterance"`
	Embedding []float32 `json:"-"`
}

// HasEmbedding reports whether the line carries a vector.
func (l *DialogueLine) HasEmbedding() bool {
	return len(l.Embedding) > 0
}

// PersonaMap maps character name to acting instructions.
type PersonaMap map[string]string

// Corpus source values.
const (
	SourceCache  = "cache"
	SourceScript = "script"
)

// Corpus is the loaded, read-only dialogue table for one movie.
// Once published to a registry it must not be mutated; per-request scores live in ScoredLine.
type Corpus struct {
	MovieID       string
	Lines         []DialogueLine
	HasSpeaker    bool
	TopCharacters []string
	Personas      PersonaMap
	Dimensions    int
	Source        string
}

// EmbeddedCount returns how many lines carry a vector.
func (c *Corpus) EmbeddedCount() int {
	n := 0
	for i := range c.Lines {
		if c.Lines[i].HasEmbedding() {
			n++
		}
	}
	return n
}

// ScoredLine is a request-local retrieval hit. Index is the line's position in Corpus.Lines.
type ScoredLine struct {
	Index      int          `json:"index"`
	Line       DialogueLine `json:"line"`
	Similarity float64      `json:"similarity"`
}
