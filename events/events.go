// Package events defines the AgentEvent tagged union and the append-only,
// replay-safe event log the coordinator folds into workflow state. Every
// event carries a correlation_id so a single tool invocation's request and
// result can be joined across the log.
package events

import (
	"time"

	"github.com/manorchestra/core/observability"
)

// Kind enumerates the members of the AgentEvent tagged union.
type Kind string

const (
	KindGoalReceived         Kind = "GoalReceived"
	KindPlanGenerated        Kind = "PlanGenerated"
	KindToolCallRequested    Kind = "ToolCallRequested"
	KindToolResultReceived   Kind = "ToolResultReceived"
	KindManTaskOpened        Kind = "ManTaskOpened"
	KindManDecisionApplied   Kind = "ManDecisionApplied"
	KindCompensationExecuted Kind = "CompensationExecuted"
	KindWorkflowCompleted    Kind = "WorkflowCompleted"
	KindWorkflowFailed       Kind = "WorkflowFailed"
	KindWorkflowCancelled    Kind = "WorkflowCancelled"
)

// Event is one append-only record in a workflow's event log.
type Event struct {
	Kind          Kind           `json:"kind"`
	WorkflowID    string         `json:"workflow_id"`
	CorrelationID string         `json:"correlation_id"`
	StepID        string         `json:"step_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	RetryCount    int            `json:"retry_count,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Key returns this event's Omnitrace event key, used for dedup across
// at-least-once activity retries.
func (e Event) Key() string {
	return observability.EventKey(e.WorkflowID, string(e.Kind), e.StepID, e.RetryCount, e.Timestamp.Format(time.RFC3339Nano))
}

// Log is an append-only, in-memory event log. The coordinator holds one
// per workflow run and never archives it or continues as new, so a run's
// Log keeps every event appended to it.
type Log struct {
	events []Event
}

// Append adds an event to the log.
func (l *Log) Append(e Event) {
	l.events = append(l.events, e)
}

// Events returns the full (unarchived) event sequence.
func (l *Log) Events() []Event {
	return l.events
}

// Len reports the number of events in the log.
func (l *Log) Len() int {
	return len(l.events)
}

// Archive returns a fresh, empty Log for the next generation's events.
// The receiver is left unchanged: its events are not dropped.
func (l *Log) Archive() *Log {
	return &Log{}
}

// FirstTimestamp and LastTimestamp support logical-time duration
// measurement (WorkflowCompleted.duration_ms), per spec: the delta
// between GoalReceived and the terminal event's workflow-clock
// timestamps, never wall-clock time.Now().
func (l *Log) FirstTimestamp() time.Time {
	if len(l.events) == 0 {
		return time.Time{}
	}
	return l.events[0].Timestamp
}

func (l *Log) LastTimestamp() time.Time {
	if len(l.events) == 0 {
		return time.Time{}
	}
	return l.events[len(l.events)-1].Timestamp
}
