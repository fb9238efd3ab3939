package models

import "time"

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus string

const (
	// TaskStatusTodo indicates the task has not started.
	TaskStatusTodo TaskStatus = "todo"
	// TaskStatusInProgress indicates a specialist is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusWaitingApproval indicates the task needs a human go-ahead.
	TaskStatusWaitingApproval TaskStatus = "waiting_approval"
	// TaskStatusApproved indicates a human confirmed the task may run.
	TaskStatusApproved TaskStatus = "approved"
	// TaskStatusWaitingReview indicates the specialist finished and the
	// orchestrator has not yet validated the result.
	TaskStatusWaitingReview TaskStatus = "waiting_review"
	// TaskStatusPaused indicates the task was preempted by higher-priority work.
	TaskStatusPaused TaskStatus = "paused"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was cancelled by a human.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusTodo, TaskStatusInProgress, TaskStatusWaitingApproval,
		TaskStatusApproved, TaskStatusWaitingReview, TaskStatusPaused,
		TaskStatusBlocked, TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
// Terminal tasks never transition again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// transitions is the canonical state machine. A status maps to the set of
// statuses it may transition into. Cancellation from any non-terminal state
// is handled in CanTransition rather than listed per edge.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusTodo:            {TaskStatusInProgress, TaskStatusWaitingApproval, TaskStatusBlocked},
	TaskStatusWaitingApproval: {TaskStatusApproved},
	TaskStatusApproved:        {TaskStatusInProgress},
	TaskStatusInProgress:      {TaskStatusWaitingReview, TaskStatusPaused, TaskStatusBlocked, TaskStatusFailed},
	TaskStatusWaitingReview:   {TaskStatusDone, TaskStatusTodo},
	TaskStatusPaused:          {TaskStatusInProgress},
	TaskStatusBlocked:         {TaskStatusTodo},
}

// CanTransition reports whether the state machine permits moving from one
// status to another. Terminal states permit no outgoing edges; callers treat
// terminal re-entry as an idempotent no-op rather than an error.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	if s.Terminal() {
		return false
	}
	if to == TaskStatusCancelled {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskPriority represents how urgently a task should be dispatched.
type TaskPriority string

const (
	// PriorityScheduled marks deferred tasks that only become dispatchable
	// once their scheduled time (context key "scheduled_for") has arrived.
	PriorityScheduled TaskPriority = "scheduled"
	// PriorityLow is for background work.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh preempts lower-priority executing work.
	PriorityHigh TaskPriority = "high"
	// PriorityCritical preempts everything else.
	PriorityCritical TaskPriority = "critical"
)

// Valid returns true if the priority is a known value.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityScheduled, PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	default:
		return false
	}
}

// Rank returns the dispatch rank of the priority. Lower ranks dispatch first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	case PriorityScheduled:
		return 4
	default:
		return 5
	}
}

// Context keys written by the orchestration core. The context map is open;
// these are the keys the core itself reads back.
const (
	// ContextKeyBlocker records why a task is blocked.
	ContextKeyBlocker = "blocker"
	// ContextKeyComplexity records the planner's complexity classification.
	ContextKeyComplexity = "complexity"
	// ContextKeyDependencyReason records why a task is waiting in todo.
	ContextKeyDependencyReason = "dependency_reason"
	// ContextKeyPauseReason records why a task was preempted.
	ContextKeyPauseReason = "pause_reason"
	// ContextKeyReviewFeedback accumulates rejection feedback from review.
	ContextKeyReviewFeedback = "review_feedback"
	// ContextKeyRetryCount counts review rejections.
	ContextKeyRetryCount = "retry_count"
	// ContextKeyRiskAssessment carries the risk notes for complex plans.
	ContextKeyRiskAssessment = "risk_assessment"
	// ContextKeyScheduledFor carries the RFC3339 dispatch time for
	// scheduled-priority tasks.
	ContextKeyScheduledFor = "scheduled_for"
	// ContextKeyStatusReason records the reason given for the latest
	// status transition.
	ContextKeyStatusReason = "status_reason"
	// ContextKeyApprovalRationale records what approval was asked for.
	ContextKeyApprovalRationale = "approval_rationale"
)

// Task represents a unit of work tracked through the lifecycle state machine.
type Task struct {
	// ID is the unique identifier for this task. Immutable.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`
	// Priority determines dispatch order and preemption.
	Priority TaskPriority `json:"priority"`
	// ParentID is the ID of the parent task, if any. Subtasks never have
	// their own subtasks; the hierarchy is at most two levels deep.
	ParentID string `json:"parent_id,omitempty"`
	// Dependencies lists task IDs that must reach done before this task
	// becomes schedulable.
	Dependencies []string `json:"dependencies,omitempty"`
	// AssignedTo is the ID of the specialist responsible for this task.
	AssignedTo string `json:"assigned_to,omitempty"`
	// Context carries working data between the orchestrator and
	// specialists: blockers, approval rationale, review feedback, results.
	Context map[string]any `json:"context,omitempty"`
	// ResultSummary is human-readable evidence of completion. Required
	// non-empty before the task may be marked done.
	ResultSummary string `json:"result_summary,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is refreshed on every mutation.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is set exactly once, on entering done.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsSubtask returns true if the task has a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// ContextString returns the context value for key as a string, or "" if the
// key is absent or not a string.
func (t *Task) ContextString(key string) string {
	if t.Context == nil {
		return ""
	}
	s, _ := t.Context[key].(string)
	return s
}

// ContextInt returns the context value for key as an int. JSON decoding
// produces float64 for numbers, so both are accepted.
func (t *Task) ContextInt(key string) int {
	if t.Context == nil {
		return 0
	}
	switch v := t.Context[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Clone returns a deep copy of the task. Snapshots placed in event payloads
// must not alias the stored task's slices or context map.
func (t *Task) Clone() *Task {
	c := *t
	if t.Dependencies != nil {
		c.Dependencies = make([]string, len(t.Dependencies))
		copy(c.Dependencies, t.Dependencies)
	}
	if t.Context != nil {
		c.Context = CloneContext(t.Context)
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// CloneContext deep-copies a context map. Nested maps and slices are copied;
// scalar values are shared.
func CloneContext(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		return CloneContext(vv)
	case []any:
		cp := make([]any, len(vv))
		for i, e := range vv {
			cp[i] = cloneValue(e)
		}
		return cp
	case []string:
		cp := make([]string, len(vv))
		copy(cp, vv)
		return cp
	default:
		return v
	}
}
