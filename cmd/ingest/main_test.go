package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanebot/faqrag/engine/config"
	"github.com/lanebot/faqrag/engine/sheets"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-file", "kb.xlsx", "-recreate"})
	require.NoError(t, err)
	assert.Equal(t, "xlsx", o.source)
	assert.Equal(t, "kb.xlsx", o.file)
	assert.True(t, o.recreate)

	_, err = parseFlags([]string{"-publish", "-consume"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-source", "csv"})
	assert.Error(t, err)
}

func TestOpenSourceXLSXUsesConfiguredSheet(t *testing.T) {
	src, err := openSource(context.Background(), config.Config{SheetName: "Prices"}, options{source: "xlsx", file: "kb.xlsx"})
	require.NoError(t, err)
	assert.Equal(t, sheets.XLSX{Path: "kb.xlsx", Sheet: "Prices"}, src)

	src, err = openSource(context.Background(), config.Config{SheetName: "Prices"}, options{source: "xlsx", file: "kb.xlsx", sheet: "FAQ"})
	require.NoError(t, err)
	assert.Equal(t, "xlsx:kb.xlsx#FAQ", src.Name())
}

func TestOpenSourceGoogleSheetNeedsCredentials(t *testing.T) {
	_, err := openSource(context.Background(), config.Config{SpreadsheetID: "abc"}, options{source: "gsheet"})
	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"SERVICE_ACCOUNT_FILE"}, missing.Keys)
}
