package operations

import (
	"time"

	"egc/internal/mapping"
	"egc/pkg/contracts/domain"
	"egc/pkg/contracts/events"
)

// JobStatus represents the status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the job can no longer change.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one background ingestion of an uploaded file.
type Job struct {
	ID          string              `json:"id"`
	Source      string              `json:"source"`
	Options     events.ParseOptions `json:"options"`
	Mapping     mapping.Mapping     `json:"mapping,omitempty"`
	Status      JobStatus           `json:"status"`
	Progress    int                 `json:"progress"`
	RowsSoFar   int64               `json:"rowsSoFar"`
	ETA         string              `json:"eta,omitempty"`
	Message     string              `json:"message,omitempty"`
	Error       string              `json:"error,omitempty"`
	TraceID     string              `json:"traceId,omitempty"`
	CreatedAt   time.Time           `json:"createdAt"`
	StartedAt   *time.Time          `json:"startedAt,omitempty"`
	CompletedAt *time.Time          `json:"completedAt,omitempty"`
}

// Clone returns a copy that shares no memory with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Mapping != nil {
		out.Mapping = make(mapping.Mapping, len(j.Mapping))
		for k, v := range j.Mapping {
			out.Mapping[k] = v
		}
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

// Snapshot is what a job produced. Rows are folded as they arrive; only the
// bounded preview and sample are kept. Daily is set for jobs submitted with a
// mapping.
type Snapshot struct {
	JobID          string                 `json:"jobId"`
	Columns        []string               `json:"columns"`
	TotalRows      int64                  `json:"totalRows"`
	Preview        []domain.NormalizedRow `json:"preview"`
	Sample         []domain.NormalizedRow `json:"sample,omitempty"`
	Warnings       []string               `json:"warnings"`
	Rollups        []domain.RollupRow     `json:"rollups"`
	Daily          []domain.DailyRollup   `json:"daily,omitempty"`
	MissingColumns []string               `json:"missingColumns,omitempty"`
	Chunks         int                    `json:"chunks"`
}

// Clone returns a deep copy of s.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Columns = append([]string(nil), s.Columns...)
	out.Preview = domain.CloneRows(s.Preview)
	out.Sample = domain.CloneRows(s.Sample)
	out.Warnings = append([]string(nil), s.Warnings...)
	out.Rollups = append([]domain.RollupRow(nil), s.Rollups...)
	out.Daily = append([]domain.DailyRollup(nil), s.Daily...)
	out.MissingColumns = append([]string(nil), s.MissingColumns...)
	return &out
}

// JobFilter for querying jobs
type JobFilter struct {
	Status JobStatus
	Since  time.Time
	Limit  int
}

// JobEvent is what subscribers see: a status change, optionally carrying the
// ingestion event that caused it.
type JobEvent struct {
	JobID    string        `json:"jobId"`
	Status   JobStatus     `json:"status"`
	Progress int           `json:"progress"`
	Event    *events.Event `json:"event,omitempty"`
}

// Broadcaster fans job events out to listeners.
type Broadcaster interface {
	BroadcastJobEvent(ev JobEvent)
}

// BroadcasterFunc adapts a function to Broadcaster.
type BroadcasterFunc func(JobEvent)

func (f BroadcasterFunc) BroadcastJobEvent(ev JobEvent) { f(ev) }

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastJobEvent(JobEvent) {}
