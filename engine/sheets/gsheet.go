package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/lanebot/faqrag/engine/ingest"
)

// GoogleSheet reads rows from a Google Sheets spreadsheet.
type GoogleSheet struct {
	svc           *gsheets.Service
	spreadsheetID string
	sheet         string
}

// NewGoogleSheet creates a source using the given client options.
func NewGoogleSheet(ctx context.Context, spreadsheetID, sheet string, opts ...option.ClientOption) (*GoogleSheet, error) {
	if spreadsheetID == "" {
		return nil, errors.New("sheets: spreadsheet id is required")
	}
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: new service: %w", err)
	}
	return &GoogleSheet{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

// NewGoogleSheetFromFile authenticates with a service account key file.
func NewGoogleSheetFromFile(ctx context.Context, credentialsFile, spreadsheetID, sheet string) (*GoogleSheet, error) {
	return NewGoogleSheet(ctx, spreadsheetID, sheet,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gsheets.SpreadsheetsReadonlyScope),
	)
}

// Name identifies the source in logs and ingest messages.
func (g *GoogleSheet) Name() string {
	if g.sheet == "" {
		return "gsheet:" + g.spreadsheetID
	}
	return fmt.Sprintf("gsheet:%s#%s", g.spreadsheetID, g.sheet)
}

// Rows fetches the worksheet's formatted values.
func (g *GoogleSheet) Rows(ctx context.Context) ([]ingest.Row, error) {
	sheet, err := g.resolveSheet(ctx)
	if err != nil {
		return nil, err
	}
	vr, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, sheet).
		ValueRenderOption("FORMATTED_VALUE").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: get values %q: %w", sheet, mapAPIError(err))
	}

	grid := make([][]string, len(vr.Values))
	for i, row := range vr.Values {
		grid[i] = make([]string, len(row))
		for j, cell := range row {
			grid[i][j] = fmt.Sprint(cell)
		}
	}
	return RowsFromGrid(grid), nil
}

func (g *GoogleSheet) resolveSheet(ctx context.Context) (string, error) {
	ss, err := g.svc.Spreadsheets.Get(g.spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("sheets: get spreadsheet: %w", mapAPIError(err))
	}
	titles := make([]string, 0, len(ss.Sheets))
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	sheet, err := pickSheet(titles, g.sheet)
	if err != nil {
		return "", fmt.Errorf("sheets: %q: %w", g.sheet, err)
	}
	return sheet, nil
}

func mapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrSheetNotFound, err)
	}
	return err
}
