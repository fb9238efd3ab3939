package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of task store mutation an event describes.
type EventType string

const (
	// EventTaskCreated indicates a task was added to the store.
	EventTaskCreated EventType = "task_created"
	// EventTaskUpdated indicates task fields changed without a status change.
	EventTaskUpdated EventType = "task_updated"
	// EventTaskStatusChanged indicates a task moved to a new status.
	EventTaskStatusChanged EventType = "task_status_changed"
	// EventTaskCompleted indicates a task entered done.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task entered failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskDeleted indicates a task was removed from the store.
	EventTaskDeleted EventType = "task_deleted"
)

// Event is an immutable fact about a task store mutation. Events are created
// and published by the store at the moment of mutation and are never mutated
// afterwards. They are not persisted: the store is the source of recoverable
// truth, the bus is only a wake-up mechanism.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`
	// Type is the kind of mutation.
	Type EventType `json:"type"`
	// TaskID is the ID of the mutated task.
	TaskID string `json:"task_id"`
	// Task is a snapshot of the task at the moment of mutation.
	Task *Task `json:"task"`
	// OldStatus is the status before a status change, if applicable.
	OldStatus TaskStatus `json:"old_status,omitempty"`
	// NewStatus is the status after a status change, if applicable.
	NewStatus TaskStatus `json:"new_status,omitempty"`
	// Source identifies the actor that caused the mutation
	// ("cli", "planner", "inbox", "specialist", ...).
	Source string `json:"source"`
	// Timestamp is when the mutation occurred.
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event for the given task snapshot.
func NewEvent(typ EventType, task *Task, source string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      typ,
		TaskID:    task.ID,
		Task:      task,
		Source:    source,
		Timestamp: time.Now(),
	}
}
