package domain

import "time"

// NormalizedRow maps a column name to a coerced cell. Values are float64 when
// the raw token was numeric and string otherwise.
type NormalizedRow map[string]any

// Clone returns a copy that shares no memory with r.
func (r NormalizedRow) Clone() NormalizedRow {
	if r == nil {
		return nil
	}
	out := make(NormalizedRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// CloneRows deep-copies a row slice.
func CloneRows(rows []NormalizedRow) []NormalizedRow {
	if rows == nil {
		return nil
	}
	out := make([]NormalizedRow, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

// IngestionState is the mutable state of a single ingestion run.
type IngestionState struct {
	TotalRows   int64           `json:"totalRows"`
	PreviewRows []NormalizedRow `json:"previewRows"`
	Cancelled   bool            `json:"cancelled"`
	Errors      []string        `json:"errors"`
}

// IngestionPhase is the controller state machine position.
type IngestionPhase string

const (
	PhaseIdle      IngestionPhase = "idle"
	PhaseParsing   IngestionPhase = "parsing"
	PhaseCompleted IngestionPhase = "completed"
	PhaseAborted   IngestionPhase = "aborted"
	PhaseFailed    IngestionPhase = "failed"
)

// IsTerminal reports whether no further transition can happen.
func (p IngestionPhase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseAborted || p == PhaseFailed
}

// ColumnStats holds the running aggregate of one numeric column.
// Min and Max start at +Inf and -Inf.
type ColumnStats struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// RollupRow is the externally visible summary of one column. Min and Max are
// nil when the column never saw a number.
type RollupRow struct {
	Column string   `json:"column" validate:"required"`
	Count  int64    `json:"count" validate:"gte=0"`
	Sum    float64  `json:"sum"`
	Min    *float64 `json:"min"`
	Max    *float64 `json:"max"`
	Avg    float64  `json:"avg"`
}

// FileMeta describes the source a rollup came from.
type FileMeta struct {
	Name string `json:"name" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
	Type string `json:"type,omitempty"`
}

// RollupsPayload is what the reporting boundary accepts.
type RollupsPayload struct {
	Rollups   []RollupRow `json:"rollups" validate:"dive"`
	TotalRows int64       `json:"totalRows" validate:"gte=0"`
	Headers   []string    `json:"headers,omitempty"`
	FileMeta  *FileMeta   `json:"fileMeta,omitempty" validate:"omitempty"`
}

// RollupReport is a persisted RollupsPayload.
type RollupReport struct {
	ID         string         `json:"id"`
	ReceivedAt time.Time      `json:"receivedAt"`
	Payload    RollupsPayload `json:"payload"`
}

// OrderLite is one mapped order row. FeeRate is a whole percentage.
type OrderLite struct {
	Date            string  `json:"date"`
	ItemPrice       float64 `json:"itemPrice"`
	ShippingCharged float64 `json:"shippingCharged"`
	ShippingCost    float64 `json:"shippingCost"`
	COGS            float64 `json:"cogs"`
	FeeRate         float64 `json:"feeRate"`
	Qty             float64 `json:"qty"`
}

// DailyRollup aggregates mapped orders by date.
type DailyRollup struct {
	Date   string  `json:"date"`
	Orders int     `json:"orders"`
	Gross  float64 `json:"gross"`
	Fees   float64 `json:"fees"`
	Net    float64 `json:"net"`
	ASP    float64 `json:"asp"`
}

// MappingPreset is a named header mapping saved for reuse.
type MappingPreset struct {
	Name      string            `json:"name" validate:"required,max=100"`
	Mapping   map[string]string `json:"mapping" validate:"required"`
	Headers   []string          `json:"headers,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
