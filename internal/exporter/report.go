package exporter

import (
	"fmt"
	"io"
	"strings"

	"egc/pkg/contracts/domain"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case. Empty means CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return "", fmt.Errorf("export path %q has no extension", path)
	}
	return ParseFormat(path[i+1:])
}

// ContentType is the HTTP media type of f.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Report is what an export contains.
type Report struct {
	Source    string
	TotalRows int64
	Rollups   []domain.RollupRow
	Daily     []domain.DailyRollup
}

var (
	rollupHeaders = []string{"column", "count", "sum", "min", "max", "avg"}
	dailyHeaders  = []string{"date", "orders", "gross", "fees", "net", "asp"}
)

func rollupRecords(rows []domain.RollupRow) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Column,
			formatInt(r.Count),
			formatStat(r.Sum),
			formatOptional(r.Min),
			formatOptional(r.Max),
			formatStat(r.Avg),
		})
	}
	return out
}

func dailyRecords(days []domain.DailyRollup) [][]string {
	out := make([][]string, 0, len(days))
	for _, d := range days {
		out = append(out, []string{
			d.Date,
			formatInt(int64(d.Orders)),
			formatFloat(d.Gross),
			formatFloat(d.Fees),
			formatFloat(d.Net),
			formatFloat(d.ASP),
		})
	}
	return out
}

// Export writes r to w in format f. CSV carries the rollup table only,
// followed by the daily table after a blank line when there is one.
func Export(w io.Writer, f Format, r Report) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, r)
	case FormatCSV:
		return writeReportCSV(w, r)
	default:
		return fmt.Errorf("unsupported export format %q", f)
	}
}

func writeReportCSV(w io.Writer, r Report) error {
	cw := NewCSVWriter(nil)
	if err := cw.Encode(w, WriteOptions{Headers: rollupHeaders, Records: rollupRecords(r.Rollups), BOMPrefix: true}); err != nil {
		return err
	}
	if len(r.Daily) == 0 {
		return nil
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	return cw.Encode(w, WriteOptions{Headers: dailyHeaders, Records: dailyRecords(r.Daily)})
}
