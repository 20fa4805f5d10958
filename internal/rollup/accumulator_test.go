package rollup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/pkg/contracts/domain"
)

func priceRows(from, to int) []domain.NormalizedRow {
	rows := make([]domain.NormalizedRow, 0, to-from+1)
	for i := from; i <= to; i++ {
		rows = append(rows, domain.NormalizedRow{"price": float64(i), "sku": "A"})
	}
	return rows
}

func TestUpdate(t *testing.T) {
	s := Update(nil, 3)
	assert.Equal(t, domain.ColumnStats{Count: 1, Sum: 3, Min: 3, Max: 3}, s)

	s = Update(&s, -2)
	assert.Equal(t, int64(2), s.Count)
	assert.Equal(t, 1.0, s.Sum)
	assert.Equal(t, -2.0, s.Min)
	assert.Equal(t, 3.0, s.Max)
}

func TestAccumulator_FiftyRowPriceColumn(t *testing.T) {
	acc := New()
	acc.AddRows(priceRows(1, 50))

	summary := acc.Summary()
	require.Len(t, summary, 1)

	got := summary[0]
	assert.Equal(t, "price", got.Column)
	assert.Equal(t, int64(50), got.Count)
	assert.Equal(t, 1275.0, got.Sum)
	require.NotNil(t, got.Min)
	require.NotNil(t, got.Max)
	assert.Equal(t, 1.0, *got.Min)
	assert.Equal(t, 50.0, *got.Max)
	assert.Equal(t, 25.5, got.Avg)
}

func TestAccumulator_SkipsNonNumeric(t *testing.T) {
	acc := New()
	acc.AddRows([]domain.NormalizedRow{
		{"price": "", "name": "widget"},
		{"price": "n/a?", "name": "gadget"},
	})

	assert.Equal(t, 0, acc.Len())
	_, ok := acc.Stats("price")
	assert.False(t, ok, "strings must not create stats")
	assert.Empty(t, acc.Summary())

	acc.AddRow(domain.NormalizedRow{"price": 4.0, "name": "x"})
	s, ok := acc.Stats("price")
	require.True(t, ok)
	assert.Equal(t, int64(1), s.Count)
}

func TestRead_EmptyColumn(t *testing.T) {
	row := Read("qty", NewStats())

	assert.Equal(t, int64(0), row.Count)
	assert.Nil(t, row.Min)
	assert.Nil(t, row.Max)
	assert.Equal(t, 0.0, row.Avg)
	assert.False(t, math.IsInf(row.Sum, 0))
}

func TestAccumulator_ChunkingIsAssociative(t *testing.T) {
	rows := append(priceRows(1, 30), domain.NormalizedRow{"price": -7.5, "fee": 1.25})
	rows = append(rows, priceRows(31, 50)...)

	whole := New()
	whole.AddRows(rows)

	partitions := [][]int{
		{len(rows)},
		{1, len(rows) - 1},
		{10, 10, 10, len(rows) - 30},
		{25, len(rows) - 25},
	}

	for _, sizes := range partitions {
		var chunks [][]domain.NormalizedRow
		start := 0
		for _, n := range sizes {
			chunks = append(chunks, rows[start:start+n])
			start += n
		}

		seq := New()
		for _, c := range chunks {
			seq.AddRows(c)
		}

		merged := New()
		for i := len(chunks) - 1; i >= 0; i-- {
			part := New()
			part.AddRows(chunks[i])
			merged.Merge(part)
		}

		for _, col := range []string{"price", "fee"} {
			want, _ := whole.Stats(col)
			gotSeq, _ := seq.Stats(col)
			gotMerged, _ := merged.Stats(col)
			assert.Equal(t, want, gotSeq, "sequential %v %s", sizes, col)
			assert.Equal(t, want.Count, gotMerged.Count)
			assert.InDelta(t, want.Sum, gotMerged.Sum, 1e-9)
			assert.Equal(t, want.Min, gotMerged.Min)
			assert.Equal(t, want.Max, gotMerged.Max)
		}
	}
}

func TestFromSummary(t *testing.T) {
	first := New()
	first.AddRows(priceRows(1, 10))
	second := New()
	second.AddRows(priceRows(11, 50))

	acc := FromSummary(first.Summary())
	acc.Merge(FromSummary(second.Summary()))

	s, ok := acc.Stats("price")
	require.True(t, ok)
	assert.Equal(t, int64(50), s.Count)
	assert.Equal(t, 1275.0, s.Sum)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 50.0, s.Max)

	empty := FromSummary([]domain.RollupRow{{Column: "qty"}})
	row := empty.Summary()[0]
	assert.Nil(t, row.Min)
	assert.Equal(t, 0.0, row.Avg)
}

func TestAccumulator_OrderBy(t *testing.T) {
	acc := New()
	acc.OrderBy([]string{"sku", "qty", "price"})
	acc.AddRow(domain.NormalizedRow{"price": 2.0, "qty": 1.0, "zeta": 9.0})

	assert.Equal(t, []string{"qty", "price", "zeta"}, acc.Columns())
}
