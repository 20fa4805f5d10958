package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// RecordSource yields raw records one at a time. Read returns io.EOF when the
// input is exhausted and a *RecordError for a single malformed line that can
// be skipped.
type RecordSource interface {
	Read() ([]string, error)
	// Offset is the number of input bytes consumed so far, or -1 when the
	// source cannot tell.
	Offset() int64
	// Line is the 1-based input line of the last record returned.
	Line() int
}

// RecordError reports a malformed line. Reading can continue after it.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// sniffDelimiters are tried in order when no delimiter is configured.
var sniffDelimiters = []rune{',', ';', '\t', '|'}

const sniffBytes = 64 << 10

type csvSource struct {
	r      *csv.Reader
	base   int64
	line   int
	offset int64
}

// NewCSVSource reads delimited text. A zero delimiter is detected from the
// first line. A leading UTF-8 byte order mark is skipped.
func NewCSVSource(r io.Reader, delimiter rune) (RecordSource, error) {
	if r == nil {
		return nil, errors.New("no input source")
	}
	br := bufio.NewReaderSize(r, sniffBytes)

	var base int64
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
		base = int64(len(utf8BOM))
	} else if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read source: %w", err)
	}

	if delimiter == 0 {
		head, err := firstLine(br)
		if err != nil {
			return nil, fmt.Errorf("read source: %w", err)
		}
		delimiter = DetectDelimiter(head)
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = !unicode.IsSpace(delimiter)
	return &csvSource{r: cr, base: base}, nil
}

// firstLine peeks at the first line of br. It waits only for as much input as
// that line needs, never for a full buffer.
func firstLine(br *bufio.Reader) ([]byte, error) {
	n := 1
	for {
		head, err := br.Peek(n)
		if i := bytes.IndexAny(head, "\r\n"); i >= 0 {
			return head[:i], nil
		}
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, bufio.ErrBufferFull):
			return head, nil
		case err != nil:
			return nil, err
		}
		n = br.Buffered() + 1
	}
}

func (s *csvSource) Read() ([]string, error) {
	rec, err := s.r.Read()
	s.offset = s.base + s.r.InputOffset()
	if err != nil {
		var pe *csv.ParseError
		if errors.As(err, &pe) {
			s.line = pe.StartLine
			return nil, &RecordError{Line: pe.StartLine, Err: pe.Err}
		}
		return nil, err
	}
	s.line, _ = s.r.FieldPos(0)
	return rec, nil
}

func (s *csvSource) Offset() int64 { return s.offset }
func (s *csvSource) Line() int     { return s.line }

// DetectDelimiter picks the candidate that occurs most often outside quotes
// on the first line of head. It falls back to a comma.
func DetectDelimiter(head []byte) rune {
	line := string(head)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}

	counts := make(map[rune]int, len(sniffDelimiters))
	quoted := false
	for _, c := range line {
		if c == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[c]++
		}
	}

	best, bestN := ',', 0
	for _, d := range sniffDelimiters {
		if counts[d] > bestN {
			best, bestN = d, counts[d]
		}
	}
	return best
}

type xlsxSource struct {
	file  *excelize.File
	rows  *excelize.Rows
	line  int
	bytes int64
}

// NewXLSXSource streams the rows of a workbook sheet. An empty sheet name
// selects the first sheet.
func NewXLSXSource(r io.Reader, sheet string) (RecordSource, error) {
	if r == nil {
		return nil, errors.New("no input source")
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open sheet %q: %w", sheet, err)
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Read() ([]string, error) {
	for s.rows.Next() {
		s.line++
		cols, err := s.rows.Columns()
		if err != nil {
			return nil, &RecordError{Line: s.line, Err: err}
		}
		if len(cols) == 0 {
			continue
		}
		for _, c := range cols {
			s.bytes += int64(len(c)) + 1
		}
		return cols, nil
	}
	if err := s.rows.Error(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Offset is unknown for workbooks: the compressed size says nothing about
// how far through the sheet we are.
func (s *xlsxSource) Offset() int64 { return -1 }
func (s *xlsxSource) Line() int     { return s.line }

// approxBytes is used for chunk sizing when Offset is unknown.
func (s *xlsxSource) approxBytes() int64 { return s.bytes }

func (s *xlsxSource) Close() error {
	_ = s.rows.Close()
	return s.file.Close()
}
