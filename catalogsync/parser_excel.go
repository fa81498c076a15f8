package catalogsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// excelParser reads the first sheet of an .xlsx workbook. Workbooks are
// loaded whole; supplier price lists are small enough that streaming the
// sheet is not worth the extra surface.
type excelParser struct{}

func (p *excelParser) Rows(ctx context.Context, location string) (RowIterator, error) {
	rc, err := openLocation(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	book, err := excelize.OpenReader(rc)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, errors.New("source document is empty")
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = normalizeHeader(h)
	}

	return &sliceRowIterator{headers: headers, records: rows[1:]}, nil
}
