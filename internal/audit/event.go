// Package audit records what a flagsync run did to the flag service as
// JSON lines under .flagsync/audit/.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event
type EventType string

const (
	EventTypeAnalysis          EventType = "analysis"
	EventTypePlanCreated       EventType = "plan_created"
	EventTypePlanValidated     EventType = "plan_validated"
	EventTypePlanStart         EventType = "plan_start"
	EventTypePlanComplete      EventType = "plan_complete"
	EventTypeOperationStart    EventType = "operation_start"
	EventTypeOperationComplete EventType = "operation_complete"
	EventTypeOperationFail     EventType = "operation_fail"
	EventTypeOperationSkip     EventType = "operation_skip"
	EventTypeConfirmation      EventType = "confirmation"
	EventTypeConsistency       EventType = "consistency_check"
	EventTypeRollback          EventType = "rollback"
)

// Event is one audit record.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// RunID groups the events of one CLI invocation.
	RunID       string `json:"run_id"`
	PlanID      string `json:"plan_id,omitempty"`
	OperationID string `json:"operation_id,omitempty"`
	FlagKey     string `json:"flag_key,omitempty"`

	Message string `json:"message"`
	// Level is info, warning or error.
	Level string `json:"level"`

	Data       map[string]any `json:"data,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Error      string         `json:"error,omitempty"`
	DryRun     bool           `json:"dry_run,omitempty"`
}

// NewEvent creates an event with ID, timestamp and level filled in.
func NewEvent(eventType EventType, message string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Message:   message,
		Level:     inferLevel(eventType),
	}
}

// WithPlan sets the plan ID
func (e *Event) WithPlan(planID string) *Event {
	e.PlanID = planID
	return e
}

// WithOperation sets the operation and flag
func (e *Event) WithOperation(operationID, flagKey string) *Event {
	e.OperationID = operationID
	e.FlagKey = flagKey
	return e
}

// WithData adds data to the event
func (e *Event) WithData(key string, value any) *Event {
	if e.Data == nil {
		e.Data = make(map[string]any)
	}
	e.Data[key] = value
	return e
}

// WithError sets the error field
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Level = "error"
	}
	return e
}

// WithDuration sets the duration
func (e *Event) WithDuration(d time.Duration) *Event {
	e.DurationMs = d.Milliseconds()
	return e
}

// WithDryRun marks the event as a rehearsal.
func (e *Event) WithDryRun(dryRun bool) *Event {
	e.DryRun = dryRun
	return e
}

// WithLevel overrides the inferred level.
func (e *Event) WithLevel(level string) *Event {
	e.Level = level
	return e
}

func inferLevel(eventType EventType) string {
	switch eventType {
	case EventTypeOperationFail:
		return "error"
	case EventTypeRollback, EventTypeOperationSkip:
		return "warning"
	default:
		return "info"
	}
}
