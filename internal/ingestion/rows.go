package ingestion

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrNoHeader is returned when a source has no header row.
	ErrNoHeader = errors.New("no header row detected")
	// ErrUnreadableInput wraps decoding failures of the file itself.
	ErrUnreadableInput = errors.New("unreadable input")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
	gzipMagic     = []byte{0x1f, 0x8b}
)

const sniffLimit = 64 << 10

// Row is one raw source row keyed by header label. Number is the 1-based record number, the header being 1.
type Row struct {
	Number int
	Fields map[string]string
}

// RowReader yields rows one at a time and returns io.EOF after the last one.
type RowReader interface {
	Headers() []string
	Next() (Row, error)
}

// MalformedRowError reports a source line that could not be split into fields.
// The line is skipped and the stream continues.
type MalformedRowError struct {
	Line int
	Err  error
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

// NewRowReader picks a row source from the file name: .xlsx workbooks go through excelize,
// everything else is treated as delimited text, optionally gzip compressed.
func NewRowReader(fileName string, src io.Reader) (RowReader, error) {
	if src == nil {
		return nil, errors.New("data reader is required")
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".xlsx":
		return newWorkbookReader(src)
	case ".xls":
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	default:
		return newDelimitedReader(src)
	}
}

type delimitedReader struct {
	csv     *csv.Reader
	closer  io.Closer
	headers []string
	line    int
}

func newDelimitedReader(src io.Reader) (*delimitedReader, error) {
	reader := bufio.NewReaderSize(src, sniffLimit)
	var closer io.Closer
	if magic, err := reader.Peek(len(gzipMagic)); err == nil && bytes.Equal(magic, gzipMagic) {
		zr, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open gzip stream: %w", ErrUnreadableInput, err)
		}
		closer = zr
		reader = bufio.NewReaderSize(zr, sniffLimit)
	}
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = sniffDelimiter(reader)
	// Leading-space trimming would swallow empty fields between tabs.
	csvReader.TrimLeadingSpace = csvReader.Comma != '\t'
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	d := &delimitedReader{csv: csvReader, closer: closer}
	for {
		record, err := csvReader.Read()
		if errors.Is(err, io.EOF) {
			d.Close()
			return nil, ErrNoHeader
		}
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("%w: failed to read header: %w", ErrUnreadableInput, err)
		}
		d.line++
		if len(cleanRow(record)) == 0 {
			continue
		}
		d.headers = sanitizeHeaders(record)
		return d, nil
	}
}

// sniffDelimiter counts separators in the first line. Tabs win ties, then semicolons.
func sniffDelimiter(reader *bufio.Reader) rune {
	peek, _ := reader.Peek(sniffLimit)
	if idx := bytes.IndexByte(peek, '\n'); idx >= 0 {
		peek = peek[:idx]
	}
	tabs := bytes.Count(peek, []byte{'\t'})
	commas := bytes.Count(peek, []byte{','})
	semis := bytes.Count(peek, []byte{';'})
	switch {
	case tabs > 0 && tabs >= commas && tabs >= semis:
		return '\t'
	case semis > commas:
		return ';'
	default:
		return ','
	}
}

func (d *delimitedReader) Headers() []string {
	return d.headers
}

func (d *delimitedReader) Next() (Row, error) {
	for {
		record, err := d.csv.Read()
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		d.line++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return Row{}, &MalformedRowError{Line: d.line, Err: parseErr.Err}
			}
			return Row{}, fmt.Errorf("failed to read line %d: %w", d.line, err)
		}
		if len(cleanRow(record)) == 0 {
			continue
		}
		return Row{Number: d.line, Fields: zipRow(d.headers, record)}, nil
	}
}

func (d *delimitedReader) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

type workbookReader struct {
	file    *excelize.File
	rows    *excelize.Rows
	headers []string
	line    int
}

func newWorkbookReader(src io.Reader) (*workbookReader, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open xlsx: %w", ErrUnreadableInput, err)
	}
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: excel file has no sheets", ErrUnreadableInput)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: failed to read rows from xlsx: %w", ErrUnreadableInput, err)
	}

	w := &workbookReader{file: f, rows: rows}
	for rows.Next() {
		w.line++
		record, err := rows.Columns()
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("%w: failed to read xlsx header: %w", ErrUnreadableInput, err)
		}
		if len(cleanRow(record)) == 0 {
			continue
		}
		w.headers = sanitizeHeaders(record)
		return w, nil
	}
	w.Close()
	return nil, ErrNoHeader
}

func (w *workbookReader) Headers() []string {
	return w.headers
}

func (w *workbookReader) Next() (Row, error) {
	for w.rows.Next() {
		w.line++
		record, err := w.rows.Columns()
		if err != nil {
			return Row{}, &MalformedRowError{Line: w.line, Err: err}
		}
		if len(cleanRow(record)) == 0 {
			continue
		}
		return Row{Number: w.line, Fields: zipRow(w.headers, record)}, nil
	}
	if err := w.rows.Error(); err != nil {
		return Row{}, fmt.Errorf("failed to read xlsx rows: %w", err)
	}
	return Row{}, io.EOF
}

func (w *workbookReader) Close() error {
	if w.rows != nil {
		_ = w.rows.Close()
	}
	return w.file.Close()
}

// sliceRows serves pre-split rows, e.g. from tests or an in-memory source.
type sliceRows struct {
	headers []string
	records [][]string
	next    int
}

// NewSliceRowReader serves the given header and records as a RowReader.
func NewSliceRowReader(headers []string, records [][]string) RowReader {
	return &sliceRows{headers: sanitizeHeaders(headers), records: records}
}

func (s *sliceRows) Headers() []string {
	return s.headers
}

func (s *sliceRows) Next() (Row, error) {
	for s.next < len(s.records) {
		record := s.records[s.next]
		s.next++
		if len(cleanRow(record)) == 0 {
			continue
		}
		return Row{Number: s.next + 1, Fields: zipRow(s.headers, record)}, nil
	}
	return Row{}, io.EOF
}

func zipRow(headers, record []string) map[string]string {
	fields := make(map[string]string, len(headers))
	for idx, header := range headers {
		if idx < len(record) {
			fields[header] = strings.TrimSpace(record[idx])
		} else {
			fields[header] = ""
		}
	}
	return fields
}

func cleanRow(row []string) []string {
	cleaned := make([]string, 0, len(row))
	for _, value := range row {
		if strings.TrimSpace(value) != "" {
			cleaned = append(cleaned, value)
		}
	}
	return cleaned
}

// sanitizeHeaders trims labels, names blank ones and suffixes repeats so every key is unique.
func sanitizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.Join(strings.Fields(value), " ")
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}
