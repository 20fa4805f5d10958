package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"egc/pkg/contracts/domain"
)

// EventType names an outbound ingestion event.
type EventType string

const (
	EventReady    EventType = "ready"
	EventHeaders  EventType = "headers"
	EventProgress EventType = "progress"
	EventChunk    EventType = "chunk"
	EventSample   EventType = "sample"
	EventDone     EventType = "done"
	EventAborted  EventType = "aborted"
	EventError    EventType = "error"
)

// IsTerminal reports whether the event ends a run.
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventAborted || t == EventError
}

// Event is one message from an ingestion worker. Only the fields belonging to
// Type are set.
type Event struct {
	Type EventType `json:"type"`

	Columns    []string               `json:"columns,omitempty"`
	RowsSoFar  int64                  `json:"rowsSoFar,omitempty"`
	BytesSoFar *int64                 `json:"bytesSoFar,omitempty"`
	Percent    *int                   `json:"percent,omitempty"`
	Rows       []domain.NormalizedRow `json:"rows,omitempty"`
	RowsTotal  int64                  `json:"rowsTotal,omitempty"`
	Warnings   []string               `json:"warnings,omitempty"`
	Rollups    []domain.RollupRow     `json:"rollups,omitempty"`
	Message    string                 `json:"message,omitempty"`
}

// MarshalJSON keeps zero counters on the events that own them.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	switch e.Type {
	case EventProgress:
		return json.Marshal(struct {
			alias
			RowsSoFar int64 `json:"rowsSoFar"`
		}{alias(e), e.RowsSoFar})
	case EventDone:
		return json.Marshal(struct {
			alias
			RowsTotal int64 `json:"rowsTotal"`
		}{alias(e), e.RowsTotal})
	case EventChunk, EventSample:
		rows := e.Rows
		if rows == nil {
			rows = []domain.NormalizedRow{}
		}
		return json.Marshal(struct {
			alias
			Rows []domain.NormalizedRow `json:"rows"`
		}{alias(e), rows})
	}
	return json.Marshal(alias(e))
}

func Ready() Event { return Event{Type: EventReady} }

func Headers(columns []string) Event {
	return Event{Type: EventHeaders, Columns: append([]string(nil), columns...)}
}

// Progress builds a progress event. bytes < 0 means unknown, percent < 0
// means the total size is unknown.
func Progress(rows, bytes int64, percent int) Event {
	ev := Event{Type: EventProgress, RowsSoFar: rows}
	if bytes >= 0 {
		b := bytes
		ev.BytesSoFar = &b
	}
	if percent >= 0 {
		p := percent
		ev.Percent = &p
	}
	return ev
}

func Chunk(rows []domain.NormalizedRow) Event {
	return Event{Type: EventChunk, Rows: domain.CloneRows(rows)}
}

func Sample(rows []domain.NormalizedRow) Event {
	return Event{Type: EventSample, Rows: domain.CloneRows(rows)}
}

func Done(total int64, warnings []string, rollups []domain.RollupRow) Event {
	return Event{
		Type:      EventDone,
		RowsTotal: total,
		Warnings:  append([]string(nil), warnings...),
		Rollups:   append([]domain.RollupRow(nil), rollups...),
	}
}

func Aborted() Event { return Event{Type: EventAborted} }

func Error(message string) Event { return Event{Type: EventError, Message: message} }

// CommandType names an inbound worker command.
type CommandType string

const (
	CommandParse  CommandType = "parse"
	CommandCancel CommandType = "cancel"
)

const (
	DefaultSampleSize = 20
	MaxSampleSize     = 200
)

// ParseOptions are the caller-facing knobs of a parse command.
type ParseOptions struct {
	Header     bool   `json:"header"`
	Delimiter  string `json:"delimiter,omitempty"`
	SampleSize int    `json:"sampleSize,omitempty"`
}

// ResolvedSampleSize clamps SampleSize into 1..200, defaulting to 20.
func (o ParseOptions) ResolvedSampleSize() int {
	switch {
	case o.SampleSize <= 0:
		return DefaultSampleSize
	case o.SampleSize > MaxSampleSize:
		return MaxSampleSize
	default:
		return o.SampleSize
	}
}

// DelimiterRune returns the configured delimiter, or 0 when it should be
// detected from the input.
func (o ParseOptions) DelimiterRune() rune {
	if o.Delimiter == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(o.Delimiter)
	return r
}

// Command is one message to an ingestion worker. Source identifies the input:
// an upload id on the server, a file path in the CLI.
type Command struct {
	Command CommandType  `json:"command"`
	Source  string       `json:"source,omitempty"`
	Options ParseOptions `json:"options"`
}

var ErrInvalidCommand = errors.New("invalid command")

// Validate checks that the command can be executed.
func (c Command) Validate() error {
	switch c.Command {
	case CommandCancel:
		return nil
	case CommandParse:
		if c.Source == "" {
			return fmt.Errorf("%w: parse requires a source", ErrInvalidCommand)
		}
		if c.Options.Delimiter != "" {
			r := c.Options.DelimiterRune()
			if utf8.RuneCountInString(c.Options.Delimiter) != 1 || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
				return fmt.Errorf("%w: delimiter must be a single character", ErrInvalidCommand)
			}
		}
		return nil
	case "":
		return fmt.Errorf("%w: missing command", ErrInvalidCommand)
	default:
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, c.Command)
	}
}

// ParseCommand decodes a JSON command.
func ParseCommand(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return cmd, cmd.Validate()
}
