package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"egc/pkg/contracts/domain"
)

// DefaultChunkBytes bounds how much input one chunk covers.
const DefaultChunkBytes = 256 << 10

// Chunk is a bounded slice of raw records. Records are aligned to the
// reader's column list.
type Chunk struct {
	Index    int
	Records  [][]string
	Warnings []string
	// Offset is the number of input bytes consumed once this chunk was read,
	// -1 when unknown.
	Offset int64
}

// ChunkedReader pulls records from a RecordSource and groups them into
// chunks of roughly chunkBytes input bytes. It is a finite, non-restartable
// sequence: once Next returns io.EOF it keeps returning io.EOF.
type ChunkedReader struct {
	src        RecordSource
	chunkBytes int64
	header     bool

	columns []string
	started bool
	next    int
	pending []string
	done    bool
}

func NewChunkedReader(src RecordSource, header bool, chunkBytes int) *ChunkedReader {
	if chunkBytes <= 0 {
		chunkBytes = DefaultChunkBytes
	}
	return &ChunkedReader{src: src, header: header, chunkBytes: int64(chunkBytes)}
}

// Columns returns the resolved column names. They are known after the first
// call to Next.
func (r *ChunkedReader) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Next returns the next chunk, or io.EOF once the input is exhausted. Every
// chunk holds at least one record. Any other error is an I/O or decode fault
// and ends the sequence.
func (r *ChunkedReader) Next(ctx context.Context) (Chunk, error) {
	if r.done {
		return Chunk{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}

	chunk := Chunk{Index: r.next, Offset: -1}
	start := r.position()

	if !r.started {
		r.started = true
		if err := r.readHeader(&chunk); err != nil {
			r.done = true
			return Chunk{}, err
		}
	}

	if r.pending != nil {
		chunk.Records = append(chunk.Records, r.pending)
		r.pending = nil
	}

	for len(chunk.Records) == 0 || r.position()-start < r.chunkBytes {
		rec, err := r.src.Read()
		if err != nil {
			var recErr *RecordError
			if errors.As(err, &recErr) {
				chunk.Warnings = append(chunk.Warnings, recErr.Error())
				continue
			}
			if errors.Is(err, io.EOF) {
				r.done = true
				break
			}
			r.done = true
			return Chunk{}, err
		}
		rec, ok := r.shape(rec, &chunk)
		if !ok {
			continue
		}
		chunk.Records = append(chunk.Records, rec)
	}

	if len(chunk.Records) == 0 && r.done {
		return Chunk{}, io.EOF
	}
	chunk.Offset = r.src.Offset()
	r.next++
	return chunk, nil
}

// position is the byte cursor used for chunk sizing.
func (r *ChunkedReader) position() int64 {
	if off := r.src.Offset(); off >= 0 {
		return off
	}
	if s, ok := r.src.(interface{ approxBytes() int64 }); ok {
		return s.approxBytes()
	}
	return 0
}

// readHeader resolves the column list from the first non-blank record. In
// positional mode that record is data and is kept for the first chunk.
func (r *ChunkedReader) readHeader(chunk *Chunk) error {
	for {
		rec, err := r.src.Read()
		if err != nil {
			var recErr *RecordError
			if errors.As(err, &recErr) {
				chunk.Warnings = append(chunk.Warnings, recErr.Error())
				continue
			}
			if errors.Is(err, io.EOF) {
				r.done = true
				return nil
			}
			return err
		}
		if blank(rec) {
			continue
		}
		if r.header {
			r.columns = HeaderNames(rec)
			return nil
		}
		r.columns = PositionalNames(len(rec))
		r.pending = rec
		return nil
	}
}

// shape aligns rec to the column list. Short rows are kept with the missing
// cells absent; extra cells are dropped. Both are reported as warnings.
func (r *ChunkedReader) shape(rec []string, chunk *Chunk) ([]string, bool) {
	if blank(rec) {
		return nil, false
	}
	want := len(r.columns)
	switch {
	case len(rec) < want:
		chunk.Warnings = append(chunk.Warnings, fmt.Sprintf(
			"line %d: too few fields: expected %d fields but parsed %d", r.src.Line(), want, len(rec)))
	case len(rec) > want:
		chunk.Warnings = append(chunk.Warnings, fmt.Sprintf(
			"line %d: too many fields: expected %d fields but parsed %d", r.src.Line(), want, len(rec)))
		rec = rec[:want]
	}
	return rec, true
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// HeaderNames trims header cells, names empty ones column_N and suffixes
// duplicates with _1, _2 and so on.
func HeaderNames(rec []string) []string {
	names := make([]string, len(rec))
	seen := make(map[string]int, len(rec))
	for i, raw := range rec {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		base := name
		for n := seen[base]; ; n++ {
			if n > 0 {
				name = base + "_" + strconv.Itoa(n)
			}
			if _, taken := seen[name]; !taken {
				seen[base] = n + 1
				break
			}
		}
		seen[name] = 1
		names[i] = name
	}
	return names
}

// PositionalNames returns "0", "1", ... for header-less input.
func PositionalNames(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = strconv.Itoa(i)
	}
	return names
}

// Normalize coerces every cell of rec into a row keyed by columns. Cells
// beyond the record length are absent.
func Normalize(columns []string, rec []string) domain.NormalizedRow {
	row := make(domain.NormalizedRow, len(rec))
	for i, cell := range rec {
		if i >= len(columns) {
			break
		}
		row[columns[i]] = Coerce(cell)
	}
	return row
}

// NormalizeAll normalizes a chunk of records.
func NormalizeAll(columns []string, records [][]string) []domain.NormalizedRow {
	rows := make([]domain.NormalizedRow, len(records))
	for i, rec := range records {
		rows[i] = Normalize(columns, rec)
	}
	return rows
}
