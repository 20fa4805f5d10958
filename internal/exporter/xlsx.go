package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"egc/pkg/contracts/domain"
)

const (
	SheetRollups = "Rollups"
	SheetDaily   = "Daily"
)

// WriteXLSX writes a workbook with a Rollups sheet and, when daily totals
// are present, a Daily sheet. Numbers are stored as numbers.
func WriteXLSX(w io.Writer, r Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetRollups); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := writeRows(f, SheetRollups, rollupHeaders, rollupCells(r.Rollups)); err != nil {
		return err
	}

	if len(r.Daily) > 0 {
		if _, err := f.NewSheet(SheetDaily); err != nil {
			return fmt.Errorf("add sheet %s: %w", SheetDaily, err)
		}
		if err := writeRows(f, SheetDaily, dailyHeaders, dailyCells(r.Daily)); err != nil {
			return err
		}
	}

	if r.Source != "" || r.TotalRows > 0 {
		if err := f.SetDocProps(&excelize.DocProperties{
			Title:       "Rollups",
			Description: fmt.Sprintf("%s, %d rows", r.Source, r.TotalRows),
		}); err != nil {
			return fmt.Errorf("set properties: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func rollupCells(rows []domain.RollupRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{r.Column, r.Count, r.Sum, optionalCell(r.Min), optionalCell(r.Max), r.Avg})
	}
	return out
}

func dailyCells(days []domain.DailyRollup) [][]any {
	out := make([][]any, 0, len(days))
	for _, d := range days {
		out = append(out, []any{d.Date, d.Orders, d.Gross, d.Fees, d.Net, d.ASP})
	}
	return out
}

func optionalCell(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
