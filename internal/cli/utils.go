// Package cli provides output helpers for the cinetalk command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/hyperjump/cinetalk/internal/chat"
	"github.com/hyperjump/cinetalk/internal/corpus"
	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
	// OutputCompact prints one line per result.
	OutputCompact OutputFormat = "compact"
)

// ParseOutputFormat maps a flag value to an OutputFormat. Unknown values mean text.
func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputJSON:
		return OutputJSON
	case OutputCompact:
		return OutputCompact
	default:
		return OutputText
	}
}

// WriteRetrieveResults writes retrieval hits to w in the given format.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\n", r.Index, r.Similarity, lineText(r.Line))
		}
		return nil
	default:
		writeRetrieveResultsText(w, response)
		return nil
	}
}

func writeRetrieveResultsText(w io.Writer, response *models.RetrieveResponse) {
	fmt.Fprintf(w, "\nFound %d lines in %s for %q in %dms\n\n",
		len(response.Results), response.MovieID, response.Query, response.QueryTime)
	for rank, r := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Line: %d | Similarity: %.4f\n", rank+1, r.Index, r.Similarity)
		fmt.Fprintf(w, "\n%s\n\n", Truncate(lineText(r.Line), 200))
	}
}

func lineText(l models.DialogueLine) string {
	speaker := l.Speaker
	if speaker == "" {
		speaker = chat.UnknownSpeaker
	}
	return speaker + ": " + l.Utterance
}

// WriteStats writes registry statistics to w.
func WriteStats(w io.Writer, stats corpus.Stats, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "Movies: %d\n", len(stats.Movies))
	for _, m := range stats.Movies {
		fmt.Fprintf(w, "  %-20s lines=%d embedded=%d dims=%d source=%s personas=%d",
			m.ID, m.Lines, m.Embedded, m.Dimensions, m.Source, m.Personas)
		if len(m.TopCharacters) > 0 {
			fmt.Fprintf(w, " characters=%s", strings.Join(m.TopCharacters, ","))
		}
		fmt.Fprintln(w)
	}
	if len(stats.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped: %d\n", len(stats.Skipped))
		for _, id := range sortedKeys(stats.Skipped) {
			fmt.Fprintf(w, "  %-20s %s\n", id, stats.Skipped[id])
		}
	}
	return nil
}

// PrintRetrieveResults prints retrieval hits to stdout in text format.
func PrintRetrieveResults(response *models.RetrieveResponse) {
	_ = WriteRetrieveResults(os.Stdout, response, OutputText)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
