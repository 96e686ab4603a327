package stores

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the final status of a convergence run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusNoop      RunStatus = "noop"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ActionStatus represents the outcome of a recorded action
type ActionStatus string

const (
	ActionStatusApplied ActionStatus = "applied"
	ActionStatusPlanned ActionStatus = "planned"
	ActionStatusFailed  ActionStatus = "failed"
	ActionStatusSkipped ActionStatus = "skipped"
	ActionStatusDenied  ActionStatus = "denied"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one convergence run on a machine
type Run struct {
	ID            string     `json:"id"`
	MachineID     string     `json:"machine_id"`
	DocumentPath  string     `json:"document_path"`
	Status        RunStatus  `json:"status"`
	DryRun        bool       `json:"dry_run"`
	Resources     int        `json:"resources"`
	Actions       int        `json:"actions"`
	ActionsFailed int        `json:"actions_failed"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         *string    `json:"error,omitempty"`
	Metadata      string     `json:"metadata"` // JSON blob
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ActionResult represents one action executed, planned or skipped during a run
type ActionResult struct {
	ID           int64        `json:"id"`
	RunID        string       `json:"run_id"`
	Seq          int          `json:"seq"`
	ResourceKind string       `json:"resource_kind"`
	ResourceName string       `json:"resource_name"`
	Action       string       `json:"action"`
	Description  string       `json:"description"`
	Status       ActionStatus `json:"status"`
	Detail       string       `json:"detail"` // JSON blob
	Error        *string      `json:"error,omitempty"`
	DurationMS   int64        `json:"duration_ms"`
	CreatedAt    time.Time    `json:"created_at"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Resource  *string    `json:"resource,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	MachineID *string
	Status    *RunStatus
	Limit     int
	Offset    int
}

// Store defines the interface for the run history
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// SaveRun writes a finished run with its action results and events atomically.
	SaveRun(ctx context.Context, run *Run, results []*ActionResult, events []*Event) error

	// Action result operations
	CreateActionResult(ctx context.Context, result *ActionResult) error
	ListActionResultsByRun(ctx context.Context, runID string) ([]*ActionResult, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
