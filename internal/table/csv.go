package table

import (
	"encoding/csv"
	"fmt"
	"strings"
	"unicode/utf8"
)

// readCSV parses comma-separated content. Invalid UTF-8 is replaced rather than rejected.
func readCSV(content []byte) ([][]string, error) {
	if !utf8.Valid(content) {
		content = []byte(strings.ToValidUTF8(string(content), "\ufffd"))
	}
	r := csv.NewReader(newReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return rows, nil
}
