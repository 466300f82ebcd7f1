// Package events provides event types and publishing infrastructure for loom.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventPRMerged indicates a pull request was merged upstream.
	EventPRMerged EventType = "pr_merged"
	// EventPRClosed indicates a pull request was closed without merging.
	EventPRClosed EventType = "pr_closed"
	// EventCIChanged indicates a pull request's CI status changed.
	EventCIChanged EventType = "ci_changed"
	// EventConflictEscalated indicates a rebase conflict was handed to an agent.
	EventConflictEscalated EventType = "conflict_escalated"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}
