package sheets

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/lanebot/faqrag/engine/ingest"
)

// XLSX reads rows from a local workbook.
type XLSX struct {
	Path  string
	Sheet string
}

// Name identifies the source in logs and ingest messages.
func (x XLSX) Name() string {
	if x.Sheet == "" {
		return "xlsx:" + x.Path
	}
	return fmt.Sprintf("xlsx:%s#%s", x.Path, x.Sheet)
}

// Rows opens the workbook and returns the sheet's rows.
func (x XLSX) Rows(ctx context.Context) ([]ingest.Row, error) {
	f, err := excelize.OpenFile(x.Path)
	if err != nil {
		return nil, fmt.Errorf("sheets: open %s: %w", x.Path, err)
	}
	defer f.Close()
	return readWorkbook(ctx, f, x.Sheet)
}

// ReadXLSX reads rows of sheet from an XLSX stream. An empty sheet picks the default.
func ReadXLSX(ctx context.Context, r io.Reader, sheet string) ([]ingest.Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("sheets: open workbook: %w", err)
	}
	defer f.Close()
	return readWorkbook(ctx, f, sheet)
}

func readWorkbook(ctx context.Context, f *excelize.File, want string) ([]ingest.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sheet, err := pickSheet(f.GetSheetList(), want)
	if err != nil {
		return nil, fmt.Errorf("sheets: %q: %w", want, err)
	}
	grid, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("sheets: get rows for sheet %q: %w", sheet, err)
	}
	return RowsFromGrid(grid), nil
}
