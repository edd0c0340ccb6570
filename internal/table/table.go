// Package table reads small header-row tables (scripts and persona sheets) from .xlsx and .csv files.
package table

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat is returned for extensions other than .xlsx and .csv.
var ErrUnsupportedFormat = errors.New("unsupported table format")

// Table is a header row plus data rows. Rows may be shorter than the header.
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// Read opens the file at path and parses it based on its extension.
func Read(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ReadBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ReadBytes parses content according to ext, which includes the leading dot (e.g. ".xlsx").
func ReadBytes(content []byte, ext string) (*Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch ext {
	case ".xlsx":
		rows, err = readExcel(content)
	case ".csv":
		rows, err = readCSV(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, err
	}
	return newTable(rows), nil
}

func newTable(rows [][]string) *Table {
	t := &Table{index: make(map[string]int)}
	if len(rows) == 0 {
		return t
	}
	t.Header = make([]string, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		t.Header[i] = h
		if _, dup := t.index[h]; !dup && h != "" {
			t.index[h] = i
		}
	}
	for _, r := range rows[1:] {
		if isBlank(r) {
			continue
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

// Column returns the index of the named header column, or -1.
func (t *Table) Column(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	return t.Column(name) >= 0
}

// Cell returns the value at row, col; missing cells are empty.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return ""
	}
	r := t.Rows[row]
	if col >= len(r) {
		return ""
	}
	return r[col]
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func newReader(content []byte) *bytes.Reader {
	return bytes.NewReader(content)
}
