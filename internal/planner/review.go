package planner

import (
	"context"
	"fmt"

	"github.com/planion/planion/pkg/models"
)

// Reviewer validates a specialist's completed work before the task is marked
// done.
type Reviewer interface {
	// Review returns whether the result is accepted, and feedback for the
	// specialist when it is not.
	Review(ctx context.Context, task *models.Task) (accepted bool, feedback string, err error)
}

// AcceptAll is a Reviewer that approves everything. It is the default when no
// reviewer is configured: the review gate still runs, it just never rejects.
type AcceptAll struct{}

// Review implements Reviewer.
func (AcceptAll) Review(context.Context, *models.Task) (bool, string, error) {
	return true, "", nil
}

// ReviewerFunc adapts a function into a Reviewer.
type ReviewerFunc func(ctx context.Context, task *models.Task) (bool, string, error)

// Review implements Reviewer.
func (f ReviewerFunc) Review(ctx context.Context, task *models.Task) (bool, string, error) {
	return f(ctx, task)
}

// MaxRetriesExceededError indicates a task was rejected in review too many
// times and has been escalated to blocked for human attention.
type MaxRetriesExceededError struct {
	ID      string
	Retries int
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("task %s: %d review rejections, escalated for human review", e.ID, e.Retries)
}
