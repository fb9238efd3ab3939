package store

import (
	"fmt"
	"strings"

	"github.com/planion/planion/pkg/models"
)

// consolidateParentLocked derives a parent's status from its children. This
// is the only path that moves a parent while children exist; the parent's
// status is never set independently. The derivation is idempotent: with
// unchanged children a second run mutates nothing.
//
// Rules: all children done means the parent is done, with a result summary
// synthesized from the children; any child failed means the parent is failed,
// carrying the first failing child's blocker. Anything else leaves the parent
// untouched.
//
// Caller must hold s.mu.
func (s *Store) consolidateParentLocked(parentID, source string) error {
	parent, ok := s.tasks[parentID]
	if !ok {
		return nil
	}

	var children []*models.Task
	for _, tid := range s.order {
		if s.tasks[tid].ParentID == parentID {
			children = append(children, s.tasks[tid])
		}
	}
	if len(children) == 0 {
		return nil
	}

	var firstFailed *models.Task
	allDone := true
	for _, child := range children {
		if child.Status != models.TaskStatusDone {
			allDone = false
		}
		if child.Status == models.TaskStatusFailed && firstFailed == nil {
			firstFailed = child
		}
	}

	switch {
	case firstFailed != nil:
		if parent.Status == models.TaskStatusFailed {
			return nil
		}
		blocker := firstFailed.ContextString(models.ContextKeyBlocker)
		if blocker == "" {
			blocker = firstFailed.ContextString(models.ContextKeyStatusReason)
		}
		if blocker == "" {
			blocker = fmt.Sprintf("subtask %s (%q) failed", firstFailed.ID, firstFailed.Title)
		}
		if parent.Context == nil {
			parent.Context = make(map[string]any)
		}
		parent.Context[models.ContextKeyBlocker] = blocker
		return s.applyStatusLocked(parent, models.TaskStatusFailed,
			fmt.Sprintf("subtask %s failed: %s", firstFailed.ID, blocker), source)

	case allDone:
		if parent.Status == models.TaskStatusDone {
			return nil
		}
		parent.ResultSummary = synthesizeSummary(children)
		return s.applyStatusLocked(parent, models.TaskStatusDone,
			"all subtasks completed", source)

	default:
		return nil
	}
}

// synthesizeSummary concatenates the children's result summaries into the
// parent's evidence of completion.
func synthesizeSummary(children []*models.Task) string {
	var b strings.Builder
	b.WriteString("All subtasks completed:\n")
	for _, child := range children {
		summary := child.ResultSummary
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", child.Title, summary)
	}
	return b.String()
}
