package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

type recorder struct {
	events []events.Event
	onEmit func(events.Event)
}

func (r *recorder) emit(ev events.Event) {
	r.events = append(r.events, ev)
	if r.onEmit != nil {
		r.onEmit(ev)
	}
}

func (r *recorder) ofType(t events.EventType) []events.Event {
	var out []events.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) last() events.Event {
	return r.events[len(r.events)-1]
}

func (r *recorder) terminals() int {
	n := 0
	for _, ev := range r.events {
		if ev.Type.IsTerminal() {
			n++
		}
	}
	return n
}

func csvInput(data string) Source {
	return Source{Name: "orders.csv", Reader: strings.NewReader(data), Size: int64(len(data))}
}

func TestController_FiftyRowRollup(t *testing.T) {
	rec := &recorder{}
	ctrl := NewController(nil)

	res := ctrl.Run(context.Background(), csvInput(priceCSV(50)), Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, domain.PhaseCompleted, ctrl.Phase())
	assert.Equal(t, int64(50), res.State.TotalRows)
	assert.Equal(t, 1, rec.terminals())

	require.Len(t, res.Rollups, 1, "only price is numeric")
	price := res.Rollups[0]
	assert.Equal(t, "price", price.Column)
	assert.Equal(t, int64(50), price.Count)
	assert.Equal(t, 1275.0, price.Sum)
	assert.Equal(t, 1.0, *price.Min)
	assert.Equal(t, 50.0, *price.Max)
	assert.Equal(t, 25.5, price.Avg)

	done := rec.last()
	assert.Equal(t, events.EventDone, done.Type)
	assert.Equal(t, int64(50), done.RowsTotal)
	assert.Equal(t, res.Rollups, done.Rollups)

	headers := rec.ofType(events.EventHeaders)
	require.Len(t, headers, 1)
	assert.Equal(t, []string{"price", "sku", "note"}, headers[0].Columns)
	assert.Equal(t, events.EventHeaders, rec.events[0].Type)
}

func TestController_EventOrderPerChunk(t *testing.T) {
	rec := &recorder{}
	res := NewController(nil).Run(context.Background(), csvInput(priceCSV(100)), Options{Header: true, ChunkBytes: 256}, rec.emit)
	require.Equal(t, domain.PhaseCompleted, res.Phase)

	var rows int64
	chunks := 0
	for i, ev := range rec.events {
		switch ev.Type {
		case events.EventChunk:
			chunks++
			rows += int64(len(ev.Rows))
			require.Less(t, i+1, len(rec.events))
			next := rec.events[i+1]
			require.Equal(t, events.EventProgress, next.Type, "progress follows every chunk")
			assert.Equal(t, rows, next.RowsSoFar)
			require.NotNil(t, next.BytesSoFar)
			require.NotNil(t, next.Percent)
			assert.GreaterOrEqual(t, *next.Percent, 0)
			assert.LessOrEqual(t, *next.Percent, 100)
		}
	}
	assert.Equal(t, res.Chunks, chunks)
	assert.Greater(t, chunks, 1)
	assert.Equal(t, int64(100), rows)

	progress := rec.ofType(events.EventProgress)
	assert.Equal(t, 100, *progress[len(progress)-1].Percent)

	tail := rec.events[len(rec.events)-2:]
	assert.Equal(t, events.EventSample, tail[0].Type)
	assert.Equal(t, events.EventDone, tail[1].Type)
}

func TestController_PreviewAndSampleBounds(t *testing.T) {
	rec := &recorder{}
	opts := Options{Header: true, ChunkBytes: 300, PreviewLimit: 7, SampleLimit: 12}

	res := NewController(nil).Run(context.Background(), csvInput(priceCSV(500)), opts, rec.emit)

	require.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Len(t, res.State.PreviewRows, 7)
	assert.Len(t, res.Sample, 12)
	assert.Equal(t, int64(500), res.State.TotalRows)
	assert.Equal(t, 1.0, res.State.PreviewRows[0]["price"])

	samples := rec.ofType(events.EventSample)
	require.Len(t, samples, 1)
	assert.Len(t, samples[0].Rows, 12)
}

func TestController_SampleLimitClamped(t *testing.T) {
	res := NewController(nil).Run(context.Background(), csvInput(priceCSV(300)), Options{Header: true, SampleLimit: 1000}, func(events.Event) {})
	assert.Len(t, res.Sample, MaxSampleLimit)
}

func TestController_EventsAreCopies(t *testing.T) {
	var chunk events.Event
	rec := &recorder{onEmit: func(ev events.Event) {
		if ev.Type == events.EventChunk && chunk.Type == "" {
			chunk = ev
			ev.Rows[0]["price"] = "tampered"
		}
	}}

	res := NewController(nil).Run(context.Background(), csvInput(priceCSV(3)), Options{Header: true}, rec.emit)

	assert.Equal(t, 1.0, res.State.PreviewRows[0]["price"])
	assert.Equal(t, 1.0, res.Sample[0]["price"])
	assert.Equal(t, 6.0, res.Rollups[0].Sum)
}

func TestController_WarningsReportedWithDone(t *testing.T) {
	rec := &recorder{}
	data := "a,b\n1,2\n3\n4,5,6\n7,8\n"

	res := NewController(nil).Run(context.Background(), csvInput(data), Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, int64(4), res.State.TotalRows)
	assert.Len(t, res.State.Errors, 2)
	assert.Equal(t, res.State.Errors, rec.last().Warnings)
}

func TestController_MissingSourceFails(t *testing.T) {
	rec := &recorder{}
	ctrl := NewController(nil)

	res := ctrl.Run(context.Background(), Source{Name: "gone.csv"}, Options{}, rec.emit)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventError, rec.events[0].Type)
	assert.NotEmpty(t, rec.events[0].Message)
}

type failingReader struct {
	data string
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("disk on fire")
}

func TestController_DecodeFaultFails(t *testing.T) {
	rec := &recorder{}
	src := Source{Name: "/tmp/uploads/broken.csv", Reader: &failingReader{data: "a,b\n1,2\n"}}

	res := NewController(nil).Run(context.Background(), src, Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseFailed, res.Phase)
	last := rec.last()
	assert.Equal(t, events.EventError, last.Type)
	assert.Contains(t, last.Message, "broken.csv")
	assert.NotContains(t, last.Message, "/tmp/uploads")
	assert.Equal(t, 1, rec.terminals())
}

func TestController_CancelBeforeFirstChunk(t *testing.T) {
	rec := &recorder{}
	ctrl := NewController(nil)
	ctrl.Cancel()

	res := ctrl.Run(context.Background(), csvInput(priceCSV(10)), Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseAborted, res.Phase)
	assert.True(t, res.State.Cancelled)
	require.Len(t, rec.events, 1)
	assert.Equal(t, events.EventAborted, rec.events[0].Type)
}

func TestController_CancelAfterNChunks(t *testing.T) {
	const n = 3
	ctrl := NewController(nil)
	seen := 0
	rec := &recorder{}
	rec.onEmit = func(ev events.Event) {
		if ev.Type == events.EventChunk {
			seen++
			if seen == n {
				ctrl.Cancel()
			}
		}
	}

	res := ctrl.Run(context.Background(), csvInput(priceCSV(1000)), Options{Header: true, ChunkBytes: 256}, rec.emit)

	assert.Equal(t, domain.PhaseAborted, res.Phase)
	assert.Len(t, rec.ofType(events.EventChunk), n)
	assert.Len(t, rec.ofType(events.EventProgress), n)
	assert.Empty(t, rec.ofType(events.EventSample))
	assert.Equal(t, events.EventAborted, rec.last().Type)
	assert.Equal(t, 1, rec.terminals())
}

func TestController_CancelOnLastChunk(t *testing.T) {
	ctrl := NewController(nil)
	rec := &recorder{onEmit: func(ev events.Event) {
		if ev.Type == events.EventProgress {
			ctrl.Cancel()
		}
	}}

	res := ctrl.Run(context.Background(), csvInput(priceCSV(5)), Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseAborted, res.Phase)
	assert.Len(t, rec.ofType(events.EventChunk), 1)
	assert.Empty(t, rec.ofType(events.EventSample))
	assert.Empty(t, rec.ofType(events.EventDone))
	assert.Equal(t, events.EventAborted, rec.last().Type)
}

func TestController_ContextCancelAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{onEmit: func(ev events.Event) {
		if ev.Type == events.EventProgress {
			cancel()
		}
	}}

	res := NewController(nil).Run(ctx, csvInput(priceCSV(1000)), Options{Header: true, ChunkBytes: 256}, rec.emit)

	assert.Equal(t, domain.PhaseAborted, res.Phase)
	assert.Len(t, rec.ofType(events.EventChunk), 1)
}

func TestController_Positional(t *testing.T) {
	rec := &recorder{}
	res := NewController(nil).Run(context.Background(), csvInput("10,x\n20,y\n"), Options{Header: false}, rec.emit)

	require.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, []string{"0", "1"}, res.Columns)
	assert.Equal(t, int64(2), res.State.TotalRows)
	assert.Equal(t, 30.0, res.Rollups[0].Sum)
}

func TestController_EmptyInput(t *testing.T) {
	rec := &recorder{}
	res := NewController(nil).Run(context.Background(), csvInput(""), Options{Header: true}, rec.emit)

	assert.Equal(t, domain.PhaseCompleted, res.Phase)
	assert.Equal(t, int64(0), res.State.TotalRows)
	assert.Empty(t, res.Rollups)
	assert.Equal(t, events.EventDone, rec.last().Type)
}

func TestPercentOf(t *testing.T) {
	assert.Equal(t, -1, percentOf(10, 0))
	assert.Equal(t, -1, percentOf(-1, 100))
	assert.Equal(t, 50, percentOf(50, 100))
	assert.Equal(t, 100, percentOf(120, 100))
}

func TestOptionsFromParse(t *testing.T) {
	opts := OptionsFromParse(events.ParseOptions{Header: true, Delimiter: ";", SampleSize: 0})
	assert.True(t, opts.Header)
	assert.Equal(t, ';', opts.Delimiter)
	assert.Equal(t, DefaultSampleLimit, opts.SampleLimit)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatXLSX, DetectFormat("Orders.XLSX"))
	assert.Equal(t, FormatCSV, DetectFormat("orders.csv"))
	assert.Equal(t, FormatCSV, DetectFormat("orders"))
}
