// Package queue computes scheduling decisions over the task store. It holds
// no state of its own: every call derives its answer from the store's current
// contents, so the scheduler can never drift out of sync with the source of
// truth.
package queue

import (
	"sort"
	"time"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

// Scheduler selects which tasks are eligible to run and detects when a
// higher-priority arrival should displace running work.
type Scheduler struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Scheduler reading from the given store.
func New(s *store.Store) *Scheduler {
	return &Scheduler{store: s, now: time.Now}
}

// Runnable returns the tasks eligible for dispatch, highest priority first,
// FIFO by creation time within a priority. A task is eligible when:
//   - its status is todo or approved
//   - it is a leaf, meaning no non-terminal children (tasks with live
//     children complete through consolidation, never through direct
//     execution; a parent whose children all reached a terminal state is a
//     leaf again)
//   - its parent, if any, is not itself waiting for plan approval
//   - every dependency is done
//   - if its priority is scheduled, its scheduled time has arrived
func (q *Scheduler) Runnable() []*models.Task {
	tasks := q.store.ListTasks(store.Filter{})
	byID := make(map[string]*models.Task, len(tasks))
	hasActiveChildren := make(map[string]bool)
	for _, t := range tasks {
		byID[t.ID] = t
		if t.ParentID != "" && !t.Status.Terminal() {
			hasActiveChildren[t.ParentID] = true
		}
	}

	var eligible []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusTodo && t.Status != models.TaskStatusApproved {
			continue
		}
		if hasActiveChildren[t.ID] {
			continue
		}
		if t.ParentID != "" {
			if parent, ok := byID[t.ParentID]; ok && parent.Status == models.TaskStatusWaitingApproval {
				continue
			}
		}
		if !depsDone(t, byID) {
			continue
		}
		if t.Priority == models.PriorityScheduled && !q.scheduledTimeArrived(t) {
			continue
		}
		eligible = append(eligible, t)
	}

	// ListTasks is already in creation order, so a stable sort on priority
	// rank keeps FIFO within each priority.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Priority.Rank() < eligible[j].Priority.Rank()
	})
	return eligible
}

// Next returns the single highest-priority runnable task, or nil when nothing
// is eligible.
func (q *Scheduler) Next() *models.Task {
	runnable := q.Runnable()
	if len(runnable) == 0 {
		return nil
	}
	return runnable[0]
}

// Preemption pairs an incoming high-priority task with the running tasks it
// should displace. The scheduler only detects the situation; pausing is the
// planner's decision.
type Preemption struct {
	Incoming *models.Task
	Running  []*models.Task
}

// PreemptionCandidates reports eligible critical or high tasks alongside the
// strictly lower-priority tasks currently in progress. An empty result means
// nothing needs to be displaced.
func (q *Scheduler) PreemptionCandidates() []Preemption {
	inProgress := models.TaskStatusInProgress
	running := q.store.ListTasks(store.Filter{Status: &inProgress})
	if len(running) == 0 {
		return nil
	}

	var out []Preemption
	for _, incoming := range q.Runnable() {
		if incoming.Priority != models.PriorityCritical && incoming.Priority != models.PriorityHigh {
			continue
		}
		var displaced []*models.Task
		for _, r := range running {
			if r.Priority.Rank() > incoming.Priority.Rank() {
				displaced = append(displaced, r)
			}
		}
		if len(displaced) > 0 {
			out = append(out, Preemption{Incoming: incoming, Running: displaced})
		}
	}
	return out
}

// ResumableTasks returns paused tasks that may be resumed. Resumption is never
// automatic on priority alone: a paused task qualifies only while no runnable
// or in-progress task of strictly higher priority exists, and its dependencies
// are still done. Results are ordered highest priority first, FIFO within a
// priority.
func (q *Scheduler) ResumableTasks() []*models.Task {
	tasks := q.store.ListTasks(store.Filter{})
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	bestActive := -1
	for _, t := range tasks {
		if t.Status == models.TaskStatusInProgress {
			if bestActive == -1 || t.Priority.Rank() < bestActive {
				bestActive = t.Priority.Rank()
			}
		}
	}
	for _, t := range q.Runnable() {
		if bestActive == -1 || t.Priority.Rank() < bestActive {
			bestActive = t.Priority.Rank()
		}
	}

	var out []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusPaused {
			continue
		}
		if bestActive != -1 && bestActive < t.Priority.Rank() {
			continue
		}
		if !depsDone(t, byID) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() < out[j].Priority.Rank()
	})
	return out
}

// scheduledTimeArrived reports whether a scheduled task's start time has
// passed. A missing or unparseable scheduled_for leaves the task eligible;
// the priority defers work, it does not hold it hostage.
func (q *Scheduler) scheduledTimeArrived(t *models.Task) bool {
	raw := t.ContextString(models.ContextKeyScheduledFor)
	if raw == "" {
		return true
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return true
	}
	return !q.now().Before(at)
}

func depsDone(t *models.Task, byID map[string]*models.Task) bool {
	for _, depID := range t.Dependencies {
		dep, ok := byID[depID]
		if !ok || dep.Status != models.TaskStatusDone {
			return false
		}
	}
	return true
}
