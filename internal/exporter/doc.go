// Package exporter writes rollup summaries as CSV or XLSX.
//
// CSVWriter is the low-level table writer with optional UTF-8 BOM for Excel.
// Export renders a Report in either format:
//
//	err := exporter.Export(w, exporter.FormatXLSX, exporter.Report{
//		Source:  "orders.csv",
//		Rollups: rollups,
//		Daily:   daily,
//	})
package exporter
