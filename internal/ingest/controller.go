package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"egc/internal/infrastructure"
	"egc/internal/rollup"
	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

const (
	DefaultPreviewLimit = 20
	DefaultSampleLimit  = events.DefaultSampleSize
	MaxSampleLimit      = events.MaxSampleSize

	// maxWarnings caps how many row-shape warnings one run keeps.
	maxWarnings = 1000
)

// Format selects the record decoder.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// DetectFormat guesses the format from a file name.
func DetectFormat(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Source is the input of one run. Size is the total byte size, or a value
// <= 0 when unknown.
type Source struct {
	Name   string
	Reader io.Reader
	Size   int64
	Format Format
}

// Options configure one run. Zero values select the defaults.
type Options struct {
	Header       bool
	Delimiter    rune
	ChunkBytes   int
	PreviewLimit int
	SampleLimit  int
	Sheet        string
}

// OptionsFromParse converts protocol options into run options.
func OptionsFromParse(p events.ParseOptions) Options {
	return Options{
		Header:      p.Header,
		Delimiter:   p.DelimiterRune(),
		SampleLimit: p.ResolvedSampleSize(),
	}
}

func (o Options) withDefaults() Options {
	if o.ChunkBytes <= 0 {
		o.ChunkBytes = DefaultChunkBytes
	}
	if o.PreviewLimit <= 0 {
		o.PreviewLimit = DefaultPreviewLimit
	}
	switch {
	case o.SampleLimit <= 0:
		o.SampleLimit = DefaultSampleLimit
	case o.SampleLimit > MaxSampleLimit:
		o.SampleLimit = MaxSampleLimit
	}
	return o
}

// Emitter receives the events of a run in order. Payloads are already copies.
type Emitter func(events.Event)

// Result is the frozen state of a finished run.
type Result struct {
	Phase    domain.IngestionPhase  `json:"phase"`
	Columns  []string               `json:"columns"`
	State    domain.IngestionState  `json:"state"`
	Sample   []domain.NormalizedRow `json:"sample,omitempty"`
	Rollups  []domain.RollupRow     `json:"rollups"`
	Chunks   int                    `json:"chunks"`
	Duration time.Duration          `json:"duration"`
	Err      string                 `json:"error,omitempty"`
}

// Controller drives a parse: it reads chunks, normalizes rows, keeps the
// preview and the column rollups, and reports events. Cancellation is sticky,
// so use a fresh Controller for every run.
type Controller struct {
	logger    *slog.Logger
	cancelled atomic.Bool

	mu    sync.RWMutex
	phase domain.IngestionPhase
}

func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		logger: infrastructure.WithComponent(logger, "ingest_controller"),
		phase:  domain.PhaseIdle,
	}
}

// Cancel asks the running parse to stop. It is checked at every chunk
// boundary; a chunk that sees the flag is dropped whole.
func (c *Controller) Cancel() {
	c.cancelled.Store(true)
}

func (c *Controller) Phase() domain.IngestionPhase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

func (c *Controller) setPhase(p domain.IngestionPhase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

func (c *Controller) stopRequested(ctx context.Context) bool {
	return c.cancelled.Load() || ctx.Err() != nil
}

// run is the state owned by one call to Run.
type run struct {
	opts        Options
	state       domain.IngestionState
	sample      []domain.NormalizedRow
	acc         *rollup.Accumulator
	columns     []string
	headersSent bool
	dropped     int
	chunks      int
}

// Run parses src to completion, cancellation or failure and emits exactly one
// terminal event. It never panics on bad data; only I/O and decode faults fail
// the run.
func (c *Controller) Run(ctx context.Context, src Source, opts Options, emit Emitter) Result {
	started := time.Now()
	r := &run{opts: opts.withDefaults(), acc: rollup.New()}
	r.state.PreviewRows = make([]domain.NormalizedRow, 0, r.opts.PreviewLimit)
	c.setPhase(domain.PhaseParsing)

	logger := c.logger.With("source", src.Name)
	logger.InfoContext(ctx, "ingestion started",
		"header", r.opts.Header,
		"chunk_bytes", r.opts.ChunkBytes,
		"size", src.Size)

	finish := func(phase domain.IngestionPhase, ev events.Event, errMsg string) Result {
		c.setPhase(phase)
		r.state.Cancelled = phase == domain.PhaseAborted
		if r.dropped > 0 {
			r.state.Errors = append(r.state.Errors, fmt.Sprintf("%d more warnings not shown", r.dropped))
		}
		res := r.result(phase, time.Since(started), errMsg)
		if phase == domain.PhaseCompleted {
			emit(events.Sample(r.sample))
			ev = events.Done(r.state.TotalRows, r.state.Errors, res.Rollups)
		}
		emit(ev)
		logger.InfoContext(ctx, "ingestion finished",
			"phase", phase,
			"rows", r.state.TotalRows,
			"chunks", r.chunks,
			"warnings", len(r.state.Errors),
			"duration", res.Duration.String())
		return res
	}

	if src.Reader == nil {
		return finish(domain.PhaseFailed, events.Error("no input source provided"), "no input source provided")
	}

	records, closeFn, err := openSource(src, r.opts)
	if err != nil {
		msg := fmt.Sprintf("cannot read %s: %v", displayName(src.Name), err)
		logger.ErrorContext(ctx, "failed to open source", "error", err)
		return finish(domain.PhaseFailed, events.Error(msg), msg)
	}
	defer closeFn()

	reader := NewChunkedReader(records, r.opts.Header, r.opts.ChunkBytes)
	for {
		if c.stopRequested(ctx) {
			return finish(domain.PhaseAborted, events.Aborted(), "")
		}

		chunk, err := reader.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if c.stopRequested(ctx) {
				return finish(domain.PhaseAborted, events.Aborted(), "")
			}
			msg := fmt.Sprintf("failed to parse %s: %v", displayName(src.Name), err)
			logger.ErrorContext(ctx, "decode fault", "error", err, "chunk", chunk.Index)
			return finish(domain.PhaseFailed, events.Error(msg), msg)
		}

		if r.columns == nil {
			r.columns = reader.Columns()
			r.acc.OrderBy(r.columns)
		}
		rows := NormalizeAll(r.columns, chunk.Records)

		if c.stopRequested(ctx) {
			logger.DebugContext(ctx, "discarding chunk after cancel", "chunk", chunk.Index, "rows", len(rows))
			return finish(domain.PhaseAborted, events.Aborted(), "")
		}

		r.commit(chunk, rows, emit)
		emit(events.Chunk(rows))
		emit(events.Progress(r.state.TotalRows, chunk.Offset, percentOf(chunk.Offset, src.Size)))
	}

	if c.stopRequested(ctx) {
		return finish(domain.PhaseAborted, events.Aborted(), "")
	}
	if !r.headersSent {
		if cols := reader.Columns(); len(cols) > 0 {
			r.columns = cols
			r.headersSent = true
			emit(events.Headers(cols))
		}
	}
	return finish(domain.PhaseCompleted, events.Event{}, "")
}

// commit applies a whole chunk to the run state.
func (r *run) commit(chunk Chunk, rows []domain.NormalizedRow, emit Emitter) {
	r.chunks++
	if !r.headersSent {
		r.headersSent = true
		emit(events.Headers(r.columns))
	}

	for _, row := range rows {
		if len(r.state.PreviewRows) < r.opts.PreviewLimit {
			r.state.PreviewRows = append(r.state.PreviewRows, row.Clone())
		}
		if len(r.sample) < r.opts.SampleLimit {
			r.sample = append(r.sample, row.Clone())
		}
	}
	r.acc.AddRows(rows)
	r.state.TotalRows += int64(len(rows))

	for _, w := range chunk.Warnings {
		if len(r.state.Errors) >= maxWarnings {
			r.dropped++
			continue
		}
		r.state.Errors = append(r.state.Errors, w)
	}
}

func (r *run) result(phase domain.IngestionPhase, d time.Duration, errMsg string) Result {
	state := r.state
	state.PreviewRows = domain.CloneRows(r.state.PreviewRows)
	state.Errors = append([]string(nil), r.state.Errors...)
	return Result{
		Phase:    phase,
		Columns:  append([]string(nil), r.columns...),
		State:    state,
		Sample:   domain.CloneRows(r.sample),
		Rollups:  r.acc.Summary(),
		Chunks:   r.chunks,
		Duration: d,
		Err:      errMsg,
	}
}

func openSource(src Source, opts Options) (RecordSource, func(), error) {
	format := src.Format
	if format == "" {
		format = DetectFormat(src.Name)
	}
	switch format {
	case FormatXLSX:
		s, err := NewXLSXSource(src.Reader, opts.Sheet)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.(*xlsxSource).Close() }, nil
	default:
		s, err := NewCSVSource(src.Reader, opts.Delimiter)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

// percentOf returns cursor/size as 0..100, or -1 when either is unknown.
func percentOf(cursor, size int64) int {
	if cursor < 0 || size <= 0 {
		return -1
	}
	p := int(math.Round(float64(cursor) / float64(size) * 100))
	return max(0, min(100, p))
}

func displayName(name string) string {
	if name == "" {
		return "input"
	}
	return filepath.Base(name)
}
