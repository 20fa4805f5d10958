// Package rollup keeps streaming per-column statistics over normalized rows.
package rollup

import (
	"math"
	"sort"

	"egc/pkg/contracts/domain"
)

// NewStats returns empty stats with the min/max sentinels set.
func NewStats() domain.ColumnStats {
	return domain.ColumnStats{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Update folds one value into prev. A nil prev means the column has not been
// seen yet.
func Update(prev *domain.ColumnStats, v float64) domain.ColumnStats {
	s := NewStats()
	if prev != nil {
		s = *prev
	}
	s.Count++
	s.Sum += v
	s.Min = math.Min(s.Min, v)
	s.Max = math.Max(s.Max, v)
	return s
}

// Merge combines two partial aggregates of the same column.
func Merge(a, b domain.ColumnStats) domain.ColumnStats {
	return domain.ColumnStats{
		Count: a.Count + b.Count,
		Sum:   a.Sum + b.Sum,
		Min:   math.Min(a.Min, b.Min),
		Max:   math.Max(a.Max, b.Max),
	}
}

// Accumulator holds stats for every numeric column seen so far.
// It is not safe for concurrent use; fold partitions separately and Merge.
type Accumulator struct {
	stats map[string]domain.ColumnStats
	order []string
	rank  map[string]int
}

func New() *Accumulator {
	return &Accumulator{stats: make(map[string]domain.ColumnStats)}
}

// OrderBy makes Summary list the given columns first, in this order. It does
// not create stats for them.
func (a *Accumulator) OrderBy(columns []string) {
	a.rank = make(map[string]int, len(columns))
	for i, c := range columns {
		if _, dup := a.rank[c]; !dup {
			a.rank[c] = i
		}
	}
}

// AddRow updates stats with every float64 cell of row. Strings, including the
// empty "no value" marker, are skipped.
func (a *Accumulator) AddRow(row domain.NormalizedRow) {
	var fresh []string
	for col, cell := range row {
		v, ok := cell.(float64)
		if !ok {
			continue
		}
		prev, seen := a.stats[col]
		if !seen {
			fresh = append(fresh, col)
			continue
		}
		a.stats[col] = Update(&prev, v)
	}
	if len(fresh) == 0 {
		return
	}
	sort.Strings(fresh)
	for _, col := range fresh {
		a.order = append(a.order, col)
		a.stats[col] = Update(nil, row[col].(float64))
	}
}

func (a *Accumulator) AddRows(rows []domain.NormalizedRow) {
	for _, r := range rows {
		a.AddRow(r)
	}
}

// Merge folds other into a. Columns new to a are appended in other's order.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	for _, col := range other.order {
		s := other.stats[col]
		prev, ok := a.stats[col]
		if !ok {
			a.order = append(a.order, col)
			a.stats[col] = s
			continue
		}
		a.stats[col] = Merge(prev, s)
	}
}

// Stats returns the raw aggregate for col.
func (a *Accumulator) Stats(col string) (domain.ColumnStats, bool) {
	s, ok := a.stats[col]
	return s, ok
}

// Columns returns the numeric columns in summary order.
func (a *Accumulator) Columns() []string {
	cols := append([]string(nil), a.order...)
	if len(a.rank) == 0 {
		return cols
	}
	pos := func(c string) int {
		if r, ok := a.rank[c]; ok {
			return r
		}
		return len(a.rank)
	}
	sort.SliceStable(cols, func(i, j int) bool { return pos(cols[i]) < pos(cols[j]) })
	return cols
}

func (a *Accumulator) Len() int { return len(a.order) }

// Read converts stats into the external shape: min/max are nil for an empty
// column and avg is 0.
func Read(col string, s domain.ColumnStats) domain.RollupRow {
	row := domain.RollupRow{Column: col, Count: s.Count, Sum: s.Sum}
	if s.Count == 0 {
		return row
	}
	lo, hi := s.Min, s.Max
	row.Min = &lo
	row.Max = &hi
	row.Avg = s.Sum / float64(s.Count)
	return row
}

// Summary returns one RollupRow per numeric column. Columns passed to OrderBy
// come first, the rest follow in first-seen order.
func (a *Accumulator) Summary() []domain.RollupRow {
	out := make([]domain.RollupRow, 0, len(a.order))
	for _, col := range a.Columns() {
		out = append(out, Read(col, a.stats[col]))
	}
	return out
}

// FromSummary rebuilds an accumulator from a finished summary so results of
// separate runs can be merged.
func FromSummary(rows []domain.RollupRow) *Accumulator {
	a := New()
	for _, r := range rows {
		s := NewStats()
		s.Count = r.Count
		s.Sum = r.Sum
		if r.Min != nil {
			s.Min = *r.Min
		}
		if r.Max != nil {
			s.Max = *r.Max
		}
		if _, dup := a.stats[r.Column]; !dup {
			a.order = append(a.order, r.Column)
		}
		a.stats[r.Column] = s
	}
	return a
}
