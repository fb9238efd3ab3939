package store

import (
	"fmt"
	"strings"

	"github.com/planion/planion/pkg/models"
)

// ValidationError indicates malformed input. The store rejects the operation
// without mutating anything.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// NotFoundError indicates an unknown task ID.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}

// InvalidTransitionError indicates a status change along an edge absent from
// the state machine. The task is left unchanged.
type InvalidTransitionError struct {
	ID   string
	From models.TaskStatus
	To   models.TaskStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// DependencyUnmetError indicates an attempt to start a task whose
// dependencies have not all completed.
type DependencyUnmetError struct {
	ID    string
	Unmet []string
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("task %s: unmet dependencies: %s", e.ID, strings.Join(e.Unmet, ", "))
}
