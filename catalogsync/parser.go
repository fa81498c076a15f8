package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pricelists_backend/models"
	"cloud.google.com/go/storage"
)

// RowIterator yields RawRows in source order. The sequence is finite and
// not restartable; a new Rows call re-reads from the origin.
type RowIterator interface {
	Next() (RawRow, bool, error)
}

// SourceParser produces the row sequence for one supplier source.
// Structural failures (unreachable source, malformed document, missing
// header) surface from Rows or from the first Next as a single task-level
// error, never per row.
type SourceParser interface {
	Rows(ctx context.Context, location string) (RowIterator, error)
}

var parserRegistry = map[models.SourceKind]SourceParser{}

func RegisterParser(kind models.SourceKind, p SourceParser) {
	parserRegistry[kind] = p
}

func ParserFor(kind models.SourceKind) (SourceParser, error) {
	p, ok := parserRegistry[kind]
	if !ok {
		return nil, fmt.Errorf("no parser registered for source kind %q", kind)
	}
	return p, nil
}

func init() {
	RegisterParser(models.SourceKindCSV, &csvParser{})
	RegisterParser(models.SourceKindExcelFile, &excelParser{})
	RegisterParser(models.SourceKindSheet, &sheetParser{})
}

// normalizeHeader folds a column label for case-insensitive lookup.
func normalizeHeader(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// buildRow maps one record onto the header labels. Cells beyond the record
// length come back as "" so downstream code sees missing optional columns
// as empty values.
func buildRow(headers []string, record []string) RawRow {
	row := make(RawRow, len(headers))
	for i, h := range headers {
		if h == "" {
			continue
		}
		if i < len(record) {
			row[h] = strings.TrimSpace(record[i])
		} else {
			row[h] = ""
		}
	}
	return row
}

type sliceRowIterator struct {
	headers []string
	records [][]string
	pos     int
}

func (it *sliceRowIterator) Next() (RawRow, bool, error) {
	if it.pos >= len(it.records) {
		return nil, false, nil
	}
	record := it.records[it.pos]
	it.pos++
	return buildRow(it.headers, record), true, nil
}

// openLocation fetches the source document. Supported locations: local
// paths, http(s) URLs and gs:// objects.
func openLocation(ctx context.Context, location string) (io.ReadCloser, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, errors.New("source location is empty")
	}

	switch {
	case strings.HasPrefix(location, "gs://"):
		return openGCSObject(ctx, location)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return openHTTPSource(ctx, location)
	default:
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("open source file: %w", err)
		}
		return f, nil
	}
}

func openHTTPSource(ctx context.Context, url string) (io.ReadCloser, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch source: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

func openGCSObject(ctx context.Context, location string) (io.ReadCloser, error) {
	trimmed := strings.TrimPrefix(location, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid gs:// location %q", location)
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	reader, err := client.Bucket(parts[0]).Object(parts[1]).NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("gcs open %s: %w", location, err)
	}
	return &gcsReadCloser{reader: reader, client: client}, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

type gcsReadCloser struct {
	reader *storage.Reader
	client *storage.Client
}

func (g *gcsReadCloser) Read(p []byte) (int, error) { return g.reader.Read(p) }

func (g *gcsReadCloser) Close() error {
	err := g.reader.Close()
	g.client.Close()
	return err
}
