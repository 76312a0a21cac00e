// Package sheets reads FAQ rows from an XLSX workbook or a Google Sheets
// spreadsheet. The first row of a sheet is the header.
package sheets

import (
	"context"
	"errors"
	"strings"

	"github.com/lanebot/faqrag/engine/ingest"
)

// DefaultSheet is the worksheet read when none is named and the workbook has it.
const DefaultSheet = "FAQ"

// ErrSheetNotFound is returned when the requested worksheet does not exist.
var ErrSheetNotFound = errors.New("sheets: worksheet not found")

// Source yields raw rows keyed by header.
type Source interface {
	Rows(ctx context.Context) ([]ingest.Row, error)
	Name() string
}

// RowsFromGrid turns a header row plus data rows into keyed rows. Blank rows
// and columns without a header are dropped; short rows are padded with "".
func RowsFromGrid(grid [][]string) []ingest.Row {
	if len(grid) == 0 {
		return nil
	}
	header := make([]string, len(grid[0]))
	for i, h := range grid[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([]ingest.Row, 0, len(grid)-1)
	for _, cells := range grid[1:] {
		if blank(cells) {
			continue
		}
		row := make(ingest.Row, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			var v string
			if i < len(cells) {
				v = cells[i]
			}
			row[h] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// pickSheet returns want when present, else DefaultSheet when present, else
// the first sheet.
func pickSheet(available []string, want string) (string, error) {
	if len(available) == 0 {
		return "", ErrSheetNotFound
	}
	if want != "" {
		for _, s := range available {
			if s == want {
				return s, nil
			}
		}
		return "", ErrSheetNotFound
	}
	for _, s := range available {
		if s == DefaultSheet {
			return s, nil
		}
	}
	return available[0], nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
