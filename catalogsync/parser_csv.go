package catalogsync

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// csvParser streams rows from a CSV document. The first non-empty record
// is the header; records with fewer cells than the header are padded with
// empty strings rather than rejected.
type csvParser struct{}

func (p *csvParser) Rows(ctx context.Context, location string) (RowIterator, error) {
	rc, err := openLocation(ctx, location)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		rc.Close()
		return nil, errors.New("source document is empty")
	}
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("read header: %w", err)
	}

	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = normalizeHeader(h)
	}

	return &csvRowIterator{reader: reader, closer: rc, headers: headers}, nil
}

type csvRowIterator struct {
	reader  *csv.Reader
	closer  io.Closer
	headers []string
	done    bool
}

func (it *csvRowIterator) Next() (RawRow, bool, error) {
	if it.done {
		return nil, false, nil
	}
	record, err := it.reader.Read()
	if err == io.EOF {
		it.done = true
		it.closer.Close()
		return nil, false, nil
	}
	if err != nil {
		it.done = true
		it.closer.Close()
		return nil, false, fmt.Errorf("read record: %w", err)
	}
	return buildRow(it.headers, record), true, nil
}
