package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetParser reads a Google Sheet via the Sheets API. The location is a
// spreadsheet id, optionally with a range after "!" ("<id>!Sheet1!A1:Z").
// Without a range the first sheet is read whole. Credentials come from
// GOOGLE_SHEETS_CREDENTIALS_JSON or application default credentials.
type sheetParser struct{}

func (p *sheetParser) Rows(ctx context.Context, location string) (RowIterator, error) {
	spreadsheetId, readRange := splitSheetLocation(location)
	if spreadsheetId == "" {
		return nil, errors.New("sheet location is empty")
	}

	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsReadonlyScope)}
	if creds := strings.TrimSpace(os.Getenv("GOOGLE_SHEETS_CREDENTIALS_JSON")); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}

	if readRange == "" {
		meta, err := svc.Spreadsheets.Get(spreadsheetId).Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("sheet metadata %s: %w", spreadsheetId, err)
		}
		if len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil {
			return nil, errors.New("spreadsheet has no sheets")
		}
		readRange = meta.Sheets[0].Properties.Title
	}

	resp, err := svc.Spreadsheets.Values.Get(spreadsheetId, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheet values %s: %w", spreadsheetId, err)
	}
	if len(resp.Values) == 0 {
		return nil, errors.New("source document is empty")
	}

	headers := make([]string, len(resp.Values[0]))
	for i, cell := range resp.Values[0] {
		headers[i] = normalizeHeader(fmt.Sprint(cell))
	}

	records := make([][]string, 0, len(resp.Values)-1)
	for _, rowValues := range resp.Values[1:] {
		record := make([]string, len(rowValues))
		for i, cell := range rowValues {
			record[i] = fmt.Sprint(cell)
		}
		records = append(records, record)
	}

	return &sliceRowIterator{headers: headers, records: records}, nil
}

func splitSheetLocation(location string) (spreadsheetId string, readRange string) {
	location = strings.TrimSpace(location)
	if idx := strings.Index(location, "!"); idx >= 0 {
		return location[:idx], location[idx+1:]
	}
	return location, ""
}
