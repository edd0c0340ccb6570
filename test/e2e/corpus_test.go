package e2e

import (
	"context"
	"strings"
	"testing"
)

func TestBuildCorpus_Counts(t *testing.T) {
	c := BuildCorpus(3, 12)
	if len(c.Movies) != 3 {
		t.Fatalf("expected 3 movies, got %d", len(c.Movies))
	}
	if c.TotalLines != 36 || c.TotalQueries != 36 {
		t.Errorf("lines=%d queries=%d, want 36 each", c.TotalLines, c.TotalQueries)
	}
	for _, m := range c.Movies {
		if len(m.Lines) != 12 {
			t.Errorf("%s: %d lines", m.ID, len(m.Lines))
		}
		if len(m.Personas) == 0 {
			t.Errorf("%s: no personas", m.ID)
		}
	}
}

func TestBuildCorpus_QueriesMatchOnlyTheirLine(t *testing.T) {
	c := BuildCorpus(2, 8)
	byID := make(map[string]Movie)
	for _, m := range c.Movies {
		byID[m.ID] = m
	}
	for _, tc := range c.TestCases {
		m := byID[tc.MovieID]
		for i, l := range m.Lines {
			has := true
			for _, tok := range strings.Fields(tc.Query) {
				if !strings.Contains(l.Utterance, tok) {
					has = false
				}
			}
			if has != (i == tc.ExpectedIndex) {
				t.Errorf("%s: line %d contains=%v", tc.Description, i, has)
			}
		}
	}
}

func TestVocabEmbedder_Overlap(t *testing.T) {
	c := BuildCorpus(1, 3)
	e := newVocabEmbedder(c.Vocabulary())
	ctx := context.Background()
	q, err := e.Embed(ctx, c.TestCases[1].Query)
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != e.Dimensions() {
		t.Fatalf("len = %d, want %d", len(q), e.Dimensions())
	}
	line, _ := e.Embed(ctx, c.Movies[0].Lines[1].Utterance)
	other, _ := e.Embed(ctx, c.Movies[0].Lines[2].Utterance)
	if dot(q, line) <= 0 {
		t.Error("query should overlap its own line")
	}
	if dot(q, other) != 0 {
		t.Error("query should not overlap another line")
	}
	unknown, _ := e.Embed(ctx, "전혀 모르는 말")
	if unknown[e.Dimensions()-1] == 0 {
		t.Error("unknown tokens should land in the last dimension")
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
