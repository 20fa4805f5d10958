package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"egc/internal/exporter"
	"egc/internal/ingest"
	"egc/internal/rollup"
	"egc/internal/validation"
	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

type rollupOptions struct {
	parse      events.ParseOptions
	chunkBytes int
	jobs       int
	export     string
}

// fileResult is one parsed input.
type fileResult struct {
	File      string                 `json:"file"`
	Phase     domain.IngestionPhase  `json:"phase"`
	Columns   []string               `json:"columns"`
	TotalRows int64                  `json:"totalRows"`
	Warnings  []string               `json:"warnings,omitempty"`
	Rollups   []domain.RollupRow     `json:"rollups"`
	Sample    []domain.NormalizedRow `json:"sample,omitempty"`
}

type rollupOutput struct {
	Files    []fileResult       `json:"files"`
	Combined []domain.RollupRow `json:"combined,omitempty"`
}

func newRollupCmd() *cobra.Command {
	opts := rollupOptions{parse: events.ParseOptions{Header: true}}

	cmd := &cobra.Command{
		Use:   "rollup FILE...",
		Short: "Print numeric column rollups of CSV or XLSX files",
		Long: "Parses each file in chunks and prints count, sum, min, max and avg for\n" +
			"every numeric column. With several files a combined rollup follows.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len([]rune(opts.parse.Delimiter)) > 1 {
				return fmt.Errorf("delimiter must be a single character, got %q", opts.parse.Delimiter)
			}
			if opts.parse.SampleSize < 0 || opts.parse.SampleSize > events.MaxSampleSize {
				return fmt.Errorf("sample must be within 0..%d", events.MaxSampleSize)
			}
			v := validation.NewFileValidator(slog.Default())
			if err := v.ValidateInputFiles(args); err != nil {
				return err
			}
			var format exporter.Format
			if opts.export != "" {
				var err error
				if format, err = v.ValidateExportPath(opts.export); err != nil {
					return err
				}
			}

			out, err := runRollup(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			if opts.export != "" {
				if err := exportRollup(opts.export, format, args, out); err != nil {
					return err
				}
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), out)
			}
			return printRollupText(cmd.OutOrStdout(), out)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.parse.Header, "header", true, "treat the first row as column names")
	f.StringVar(&opts.parse.Delimiter, "delimiter", "", "field delimiter, detected when empty")
	f.IntVar(&opts.parse.SampleSize, "sample", 0, "rows to keep in the sample (0 keeps none in text output)")
	f.IntVar(&opts.chunkBytes, "chunk-bytes", ingest.DefaultChunkBytes, "input bytes per chunk")
	f.IntVar(&opts.jobs, "jobs", 4, "files parsed at the same time")
	f.StringVar(&opts.export, "export", "", "write the combined rollup to a .csv or .xlsx file")
	return cmd
}

// runRollup parses every file on its own goroutine, at most opts.jobs at a
// time. Results keep the argument order.
func runRollup(ctx context.Context, files []string, opts rollupOptions) (rollupOutput, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	if opts.jobs > 0 {
		g.SetLimit(opts.jobs)
	}
	for i, file := range files {
		g.Go(func() error {
			res, err := parseFile(ctx, file, opts)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rollupOutput{}, err
	}

	out := rollupOutput{Files: results}
	if len(results) > 1 {
		total := rollup.New()
		for _, r := range results {
			total.Merge(rollup.FromSummary(r.Rollups))
		}
		out.Combined = total.Summary()
	}
	return out, nil
}

func parseFile(ctx context.Context, file string, opts rollupOptions) (fileResult, error) {
	src, closer, err := ingest.FileOpener{}.Open(ctx, file)
	if err != nil {
		return fileResult{}, fmt.Errorf("open %s: %w", file, err)
	}
	defer closer.Close()

	runOpts := ingest.OptionsFromParse(opts.parse)
	runOpts.ChunkBytes = opts.chunkBytes

	ctrl := ingest.NewController(slog.Default())
	res := ctrl.Run(ctx, src, runOpts, func(events.Event) {})
	switch res.Phase {
	case domain.PhaseCompleted:
	case domain.PhaseAborted:
		return fileResult{}, fmt.Errorf("%s: %w", file, context.Canceled)
	default:
		return fileResult{}, errors.New(res.Err)
	}

	fr := fileResult{
		File:      file,
		Phase:     res.Phase,
		Columns:   res.Columns,
		TotalRows: res.State.TotalRows,
		Warnings:  res.State.Errors,
		Rollups:   res.Rollups,
	}
	if opts.parse.SampleSize > 0 {
		fr.Sample = res.Sample
	}
	return fr, nil
}

func exportRollup(path string, format exporter.Format, files []string, out rollupOutput) error {
	report := exporter.Report{Source: files[0], Rollups: out.Combined}
	for _, r := range out.Files {
		report.TotalRows += r.TotalRows
	}
	if len(out.Files) == 1 {
		report.Rollups = out.Files[0].Rollups
	} else {
		report.Source = strconv.Itoa(len(files)) + " files"
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export: %w", err)
	}
	if err := exporter.Export(f, format, report); err != nil {
		f.Close()
		return fmt.Errorf("write export: %w", err)
	}
	return f.Close()
}

func printRollupText(w io.Writer, out rollupOutput) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range out.Files {
		fmt.Fprintf(tw, "%s\t%d rows\t%d warnings\n", r.File, r.TotalRows, len(r.Warnings))
		writeRollupTable(tw, r.Rollups)
		fmt.Fprintln(tw)
	}
	if len(out.Combined) > 0 {
		fmt.Fprintln(tw, "combined")
		writeRollupTable(tw, out.Combined)
	}
	return tw.Flush()
}

func writeRollupTable(w io.Writer, rows []domain.RollupRow) {
	fmt.Fprintln(w, "COLUMN\tCOUNT\tSUM\tMIN\tMAX\tAVG")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Column, r.Count, num(r.Sum), optional(r.Min), optional(r.Max), num(r.Avg))
	}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return num(*v)
}
