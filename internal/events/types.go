// Package events provides in-process streaming of pipeline and task workflow events
package events

import (
	"encoding/json"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// Pipeline execution lifecycle
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionProgress  EventType = "execution.progress"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"

	// EventTaskStreamChunk carries a slice of agent stdout
	EventTaskStreamChunk EventType = "task.stream_chunk"

	// Design lifecycle
	EventDesignStarted   EventType = "design.started"
	EventDesignProgress  EventType = "design.progress"
	EventDesignCompleted EventType = "design.completed"
	EventDesignFailed    EventType = "design.failed"

	// EventImplementationProgress reports the state of a task's implementation run
	EventImplementationProgress EventType = "implementation.progress"

	// EventScopeSplitProposed is emitted when a design reaches outside its epic
	EventScopeSplitProposed EventType = "scope.split_proposed"

	// Verification lifecycle
	EventVerificationStarted   EventType = "verification.started"
	EventVerificationProgress  EventType = "verification.progress"
	EventVerificationCompleted EventType = "verification.completed"
	EventVerificationFailed    EventType = "verification.failed"
)

// Event represents a single engine event
type Event struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   int64          `json:"timestamp"` // Unix milliseconds
	TaskID      string         `json:"task_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// MarshalData converts the Data map to JSON
func (e *Event) MarshalData() ([]byte, error) {
	if len(e.Data) == 0 {
		return nil, nil
	}
	return json.Marshal(e.Data)
}

// NewEvent creates a new event with the current timestamp
func NewEvent(eventType EventType, taskID, executionID string, data map[string]any) *Event {
	return &Event{
		Type:        eventType,
		Timestamp:   time.Now().UnixMilli(),
		TaskID:      taskID,
		ExecutionID: executionID,
		Data:        data,
	}
}

// EventFilter defines filters for streamed events
type EventFilter struct {
	Types       []EventType `json:"types,omitempty"`
	TaskID      string      `json:"task_id,omitempty"`
	ExecutionID string      `json:"execution_id,omitempty"`
	Since       int64       `json:"since,omitempty"` // Unix milliseconds
}
