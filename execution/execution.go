// Package execution models pipeline runs and persists them with their
// append-only logs and structured errors.
package execution

import (
	"encoding/json"
	"time"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/ids"
	"github.com/teranos/plumb/internal/util"
)

// Status is the lifecycle state of a run
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValidStatus returns true if s names a known status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrorKind classifies a run failure
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation"
	KindTransformation ErrorKind = "transformation"
	KindDestination    ErrorKind = "destination"
	KindSystem         ErrorKind = "system"
)

// Level is the severity of a log entry
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Error is a structured failure recorded against a run
type Error struct {
	ID              string                 `json:"id"`
	Kind            ErrorKind              `json:"type"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Timestamp       time.Time              `json:"timestamp"`
	Stage           string                 `json:"stage,omitempty"`
	OffendingRecord map[string]interface{} `json:"record,omitempty"`
}

// NewError creates an Error with a fresh id
func NewError(kind ErrorKind, message string, at time.Time) Error {
	return Error{
		ID:        ids.NewErrorID(),
		Kind:      kind,
		Message:   message,
		Timestamp: at,
	}
}

// LogEntry is one line of a run's audit trail
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     Level                  `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// Execution is a single run of a pipeline
type Execution struct {
	ID               string     `json:"id"`
	PipelineID       string     `json:"pipelineId"`
	PipelineVersion  string     `json:"pipelineVersion"`
	Status           Status     `json:"status"`
	DryRun           bool       `json:"dryRun"`
	StartTime        time.Time  `json:"startTime"`
	EndTime          *time.Time `json:"endTime,omitempty"`
	RecordsProcessed int        `json:"recordsProcessed"`
	RecordsFailed    int        `json:"recordsFailed"`
	Errors           []Error    `json:"errors"`
	Logs             []LogEntry `json:"logs"`
}

// New creates a running execution
func New(pipelineID, pipelineVersion string, dryRun bool, now time.Time) *Execution {
	return &Execution{
		ID:              ids.NewExecutionID(),
		PipelineID:      pipelineID,
		PipelineVersion: pipelineVersion,
		Status:          StatusRunning,
		DryRun:          dryRun,
		StartTime:       now,
		Errors:          []Error{},
		Logs:            []LogEntry{},
	}
}

// Duration is EndTime - StartTime, or zero while running
func (e *Execution) Duration() time.Duration {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// Complete moves a running execution to completed
func (e *Execution) Complete(now time.Time, processed, failed int) error {
	if err := e.finish(StatusCompleted, now); err != nil {
		return err
	}
	e.RecordsProcessed = processed
	e.RecordsFailed = failed
	return nil
}

// Fail moves a running execution to failed
func (e *Execution) Fail(now time.Time, processed, failed int) error {
	if err := e.finish(StatusFailed, now); err != nil {
		return err
	}
	e.RecordsProcessed = processed
	e.RecordsFailed = failed
	return nil
}

// Cancel moves a running execution to cancelled
func (e *Execution) Cancel(now time.Time) error {
	return e.finish(StatusCancelled, now)
}

func (e *Execution) finish(to Status, now time.Time) error {
	if e.Status.IsTerminal() {
		return errors.AssertionFailedf("execution %s is already %s, cannot become %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.EndTime = &now
	return nil
}

// Clone returns a deep copy
func (e *Execution) Clone() *Execution {
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	c.Errors = make([]Error, len(e.Errors))
	for i, er := range e.Errors {
		er.Details = util.DeepCopyMap(er.Details)
		er.OffendingRecord = util.DeepCopyMap(er.OffendingRecord)
		c.Errors[i] = er
	}
	c.Logs = make([]LogEntry, len(e.Logs))
	for i, l := range e.Logs {
		l.Context = util.DeepCopyMap(l.Context)
		c.Logs[i] = l
	}
	return &c
}

// MarshalJSON adds the derived duration in milliseconds
func (e *Execution) MarshalJSON() ([]byte, error) {
	type plain Execution
	return json.Marshal(struct {
		*plain
		Duration *int64 `json:"duration,omitempty"`
	}{
		plain:    (*plain)(e),
		Duration: durationMS(e),
	})
}

func durationMS(e *Execution) *int64 {
	if e.EndTime == nil {
		return nil
	}
	ms := e.Duration().Milliseconds()
	return &ms
}
