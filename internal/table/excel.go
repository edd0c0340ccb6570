package table

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// readExcel returns the rows of the first sheet.
func readExcel(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(newReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}
