package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func priceCSV(n int) string {
	var b strings.Builder
	b.WriteString("price,sku,note\n")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "%d,SKU-%03d,item number %d\n", i, i, i)
	}
	return b.String()
}

func readAll(t *testing.T, r *ChunkedReader) ([]Chunk, error) {
	t.Helper()
	var chunks []Chunk
	for {
		c, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, c)
	}
}

func newCSVReader(t *testing.T, data string, delim rune, header bool, chunkBytes int) *ChunkedReader {
	t.Helper()
	src, err := NewCSVSource(strings.NewReader(data), delim)
	require.NoError(t, err)
	return NewChunkedReader(src, header, chunkBytes)
}

func TestChunkedReader_HeaderAndRows(t *testing.T) {
	r := newCSVReader(t, priceCSV(3), ',', true, 0)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, []string{"price", "sku", "note"}, r.Columns())
	assert.Equal(t, [][]string{
		{"1", "SKU-001", "item number 1"},
		{"2", "SKU-002", "item number 2"},
		{"3", "SKU-003", "item number 3"},
	}, chunks[0].Records)
	assert.Empty(t, chunks[0].Warnings)
}

func TestChunkedReader_SplitsByBytes(t *testing.T) {
	data := priceCSV(200)
	r := newCSVReader(t, data, ',', true, 512)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	total := 0
	last := int64(-1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Records)
		assert.Greater(t, c.Offset, last, "offset must advance")
		last = c.Offset
		total += len(c.Records)
	}
	assert.Equal(t, 200, total)
	assert.Equal(t, int64(len(data)), last)

	_, err = r.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "reader is not restartable")
}

func TestChunkedReader_Positional(t *testing.T) {
	r := newCSVReader(t, "1,a\n2,b\n", ',', false, 0)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, []string{"0", "1"}, r.Columns())
	assert.Len(t, chunks[0].Records, 2)
}

func TestChunkedReader_RaggedRowsAreWarnings(t *testing.T) {
	data := "a,b,c\n1,2,3\n4,5\n6,7,8,9\n\n10,11,12\n"
	r := newCSVReader(t, data, ',', true, 0)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5"}, {"6", "7", "8"}, {"10", "11", "12"}}, c.Records)
	require.Len(t, c.Warnings, 2)
	assert.Contains(t, c.Warnings[0], "line 3: too few fields")
	assert.Contains(t, c.Warnings[1], "line 4: too many fields")
}

func TestChunkedReader_BareQuoteIsWarning(t *testing.T) {
	data := "name,price\n\"ok\",1\nbad\"quote,2\nfine,3\n"
	r := newCSVReader(t, data, ',', true, 0)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Len(t, chunks[0].Records, 2)
	require.Len(t, chunks[0].Warnings, 1)
	assert.Contains(t, chunks[0].Warnings[0], "line 3")
}

func TestChunkedReader_HeaderOnly(t *testing.T) {
	r := newCSVReader(t, "price,qty\n", ',', true, 0)

	chunks, err := readAll(t, r)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	assert.Equal(t, []string{"price", "qty"}, r.Columns())
}

func TestNewCSVSource_BOMAndDelimiterDetection(t *testing.T) {
	data := "\xEF\xBB\xBFprice;qty\n\"1,50\";2\n"
	src, err := NewCSVSource(strings.NewReader(data), 0)
	require.NoError(t, err)

	r := NewChunkedReader(src, true, 0)
	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, []string{"price", "qty"}, r.Columns())
	assert.Equal(t, [][]string{{"1,50", "2"}}, chunks[0].Records)
	assert.Equal(t, int64(len(data)), chunks[0].Offset)
}

// trickleReader hands out its parts one Read at a time, then blocks until
// released.
type trickleReader struct {
	parts   []string
	release chan struct{}
}

func (r *trickleReader) Read(p []byte) (int, error) {
	if len(r.parts) > 0 {
		n := copy(p, r.parts[0])
		r.parts[0] = r.parts[0][n:]
		if r.parts[0] == "" {
			r.parts = r.parts[1:]
		}
		return n, nil
	}
	<-r.release
	return 0, io.EOF
}

func TestNewCSVSource_DetectsFromFirstLineWithoutWaiting(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	in := &trickleReader{parts: []string{"price;", "qty\n1;2\n"}, release: release}

	type opened struct {
		src RecordSource
		err error
	}
	done := make(chan opened, 1)
	go func() {
		src, err := NewCSVSource(in, 0)
		done <- opened{src, err}
	}()

	select {
	case o := <-done:
		require.NoError(t, o.err)
		rec, err := o.src.Read()
		require.NoError(t, err)
		assert.Equal(t, []string{"price", "qty"}, rec)
	case <-time.After(2 * time.Second):
		t.Fatal("delimiter detection waited for more than the first line")
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		head string
		want rune
	}{
		{"a,b,c\n1;2", ','},
		{"a;b;c", ';'},
		{"a\tb\tc\r\n", '\t'},
		{"a|b", '|'},
		{"\"x;y\",z", ','},
		{"single", ','},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectDelimiter([]byte(tt.head)), tt.head)
	}
}

func TestHeaderNames(t *testing.T) {
	got := HeaderNames([]string{" price ", "price", "", "price", "price_1"})
	assert.Equal(t, []string{"price", "price_1", "column_3", "price_2", "price_1_1"}, got)
}

func TestNormalize(t *testing.T) {
	row := Normalize([]string{"price", "sku", "qty"}, []string{"$1,200.00", "A-1"})

	assert.Equal(t, 1200.0, row["price"])
	assert.Equal(t, "A-1", row["sku"])
	_, present := row["qty"]
	assert.False(t, present, "missing trailing cells stay absent")
}

func TestXLSXSource(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"price", "sku"}))
	for i := 1; i <= 5; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &[]any{float64(i) * 1.5, fmt.Sprintf("S%d", i)}))
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	require.NoError(t, f.Close())

	src, err := NewXLSXSource(&buf, "")
	require.NoError(t, err)
	defer src.(*xlsxSource).Close()

	assert.Equal(t, int64(-1), src.Offset())

	r := NewChunkedReader(src, true, 0)
	chunks, err := readAll(t, r)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, []string{"price", "sku"}, r.Columns())
	require.Len(t, chunks[0].Records, 5)
	assert.Equal(t, []string{"1.5", "S1"}, chunks[0].Records[0])
	assert.Equal(t, int64(-1), chunks[0].Offset)
}

func TestNewXLSXSource_NotAWorkbook(t *testing.T) {
	_, err := NewXLSXSource(strings.NewReader("price\n1\n"), "")
	assert.Error(t, err)
}
