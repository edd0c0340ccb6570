package e2e

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
)

// ScriptFormats are the script table formats written by WriteDataRoot, alternating per movie.
var ScriptFormats = []string{".xlsx", ".csv"}

// WriteDataRoot writes every movie of c as a folder under root with a script table
// (xlsx and csv alternating) and a persona.csv.
func WriteDataRoot(root string, c *Corpus) error {
	for i, m := range c.Movies {
		dir := filepath.Join(root, m.ID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		rows := [][]string{{"speaker", "utterance"}}
		for _, l := range m.Lines {
			rows = append(rows, []string{l.Speaker, l.Utterance})
		}
		ext := ScriptFormats[i%len(ScriptFormats)]
		if err := WriteTable(filepath.Join(dir, "script"+ext), rows); err != nil {
			return fmt.Errorf("%s: %w", m.ID, err)
		}
		personas := [][]string{{"speaker", "persona_prompt"}}
		for speaker, prompt := range m.Personas {
			personas = append(personas, []string{speaker, prompt})
		}
		if err := WriteTable(filepath.Join(dir, "persona.csv"), personas); err != nil {
			return fmt.Errorf("%s: %w", m.ID, err)
		}
	}
	return nil
}

// WriteTable writes rows as .xlsx or .csv depending on the path's extension.
func WriteTable(path string, rows [][]string) error {
	if filepath.Ext(path) == ".xlsx" {
		return writeXLSX(path, rows)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeXLSX(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		row := make([]any, len(r))
		for j, v := range r {
			row[j] = v
		}
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
