// Package persona loads per-movie character acting instructions.
package persona

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hyperjump/cinetalk/internal/models"
	"github.com/hyperjump/cinetalk/internal/table"
)

// Column names in a persona table.
const (
	ColumnSpeaker = "speaker"
	ColumnPrompt  = "persona_prompt"
)

// ErrMissingColumns is returned when a persona table lacks speaker or persona_prompt.
var ErrMissingColumns = errors.New("persona table missing speaker or persona_prompt column")

// Load reads the persona table at path. A missing file yields an empty map and no error.
// Rows with an empty speaker are skipped; a repeated speaker keeps its last prompt.
func Load(path string) (models.PersonaMap, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return models.PersonaMap{}, nil
		}
		return models.PersonaMap{}, err
	}
	tbl, err := table.Read(path)
	if err != nil {
		return models.PersonaMap{}, fmt.Errorf("read persona table: %w", err)
	}
	speakerCol, promptCol := tbl.Column(ColumnSpeaker), tbl.Column(ColumnPrompt)
	if speakerCol < 0 || promptCol < 0 {
		return models.PersonaMap{}, ErrMissingColumns
	}
	out := make(models.PersonaMap, tbl.Len())
	for i := 0; i < tbl.Len(); i++ {
		name := strings.TrimSpace(tbl.Cell(i, speakerCol))
		if name == "" {
			continue
		}
		out[name] = tbl.Cell(i, promptCol)
	}
	return out, nil
}

// Fallback is the generic instruction used for characters without a persona entry.
func Fallback(character string) string {
	return fmt.Sprintf("당신은 영화 속 등장인물 %s입니다.", character)
}

// Resolve returns the persona for character, or Fallback(character).
func Resolve(personas models.PersonaMap, character string) string {
	if p, ok := personas[character]; ok && strings.TrimSpace(p) != "" {
		return p
	}
	return Fallback(character)
}
