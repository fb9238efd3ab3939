// Package store implements the authoritative task repository. It owns CRUD,
// validates every state transition against the lifecycle state machine,
// enforces the hierarchy and dependency invariants, and publishes an event
// for every mutation. All other components are stateless reactors over it.
package store

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/internal/state"
	"github.com/planion/planion/pkg/models"
)

// Store is the single source of truth for tasks. Writes are serialized under
// one lock, which holds the per-task ordering guarantee: events observe
// mutations in the order the store applied them. Reads return deep copies so
// callers can never mutate stored state behind the store's back.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*models.Task
	order []string

	db  *state.DB
	bus *bus.Bus
	now func() time.Time
}

// New creates a Store backed by the given database and event bus. Existing
// tasks are loaded from the database so state survives restarts. Either
// collaborator may be nil: a nil db keeps the store purely in-memory, a nil
// bus disables event publication.
func New(db *state.DB, b *bus.Bus) (*Store, error) {
	s := &Store{
		tasks: make(map[string]*models.Task),
		db:    db,
		bus:   b,
		now:   time.Now,
	}

	if db != nil {
		tasks, err := db.ListTasks()
		if err != nil {
			return nil, fmt.Errorf("load tasks: %w", err)
		}
		for _, t := range tasks {
			s.tasks[t.ID] = t
			s.order = append(s.order, t.ID)
		}
		if len(tasks) > 0 {
			log.Printf("[store] loaded %d tasks from %s", len(tasks), db.Path())
		}
	}

	return s, nil
}

// AddTaskParams are the inputs to AddTask.
type AddTaskParams struct {
	Title        string
	Description  string
	Priority     models.TaskPriority
	ParentID     string
	Dependencies []string
	AssignedTo   string
	Context      map[string]any
}

// AddTask validates and stores a new task in status todo, then emits
// TASK_CREATED. The hierarchy is capped at two levels: a parent that is
// itself a subtask is rejected. Every dependency must already exist.
func (s *Store) AddTask(p AddTaskParams, source string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Title == "" {
		return nil, &ValidationError{Reason: "title must not be empty"}
	}

	priority := p.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown priority %q", p.Priority)}
	}

	if p.ParentID != "" {
		parent, ok := s.tasks[p.ParentID]
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("parent task %s does not exist", p.ParentID)}
		}
		if parent.IsSubtask() {
			return nil, &ValidationError{Reason: fmt.Sprintf("parent task %s is itself a subtask; subtasks may not have children", p.ParentID)}
		}
	}

	for _, depID := range p.Dependencies {
		if _, ok := s.tasks[depID]; !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("dependency %s does not exist", depID)}
		}
	}

	now := s.now()
	task := &models.Task{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Description: p.Description,
		Status:      models.TaskStatusTodo,
		Priority:    priority,
		ParentID:    p.ParentID,
		AssignedTo:  p.AssignedTo,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if len(p.Dependencies) > 0 {
		task.Dependencies = append([]string(nil), p.Dependencies...)
	}
	if len(p.Context) > 0 {
		task.Context = models.CloneContext(p.Context)
	}
	// A task resting in todo behind other work must say what it is waiting
	// for. Callers may provide a more specific reason; this is the fallback.
	if len(task.Dependencies) > 0 && task.ContextString(models.ContextKeyDependencyReason) == "" {
		if task.Context == nil {
			task.Context = make(map[string]any)
		}
		task.Context[models.ContextKeyDependencyReason] = dependencyReason(task.Dependencies)
	}

	s.tasks[task.ID] = task
	s.order = append(s.order, task.ID)
	if err := s.persistLocked(task); err != nil {
		return nil, err
	}

	log.Printf("[store] task added: %q (id=%s, priority=%s)", task.Title, task.ID, task.Priority)
	s.emit(models.NewEvent(models.EventTaskCreated, task.Clone(), source))
	return task.Clone(), nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return task.Clone(), nil
}

// Filter narrows ListTasks output. Nil fields match everything.
type Filter struct {
	Status   *models.TaskStatus
	Priority *models.TaskPriority
	ParentID *string
}

// ListTasks returns tasks in stable creation order, optionally filtered.
func (s *Store) ListTasks(f Filter) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, id := range s.order {
		task := s.tasks[id]
		if f.Status != nil && task.Status != *f.Status {
			continue
		}
		if f.Priority != nil && task.Priority != *f.Priority {
			continue
		}
		if f.ParentID != nil && task.ParentID != *f.ParentID {
			continue
		}
		out = append(out, task.Clone())
	}
	return out
}

// Children returns the subtasks of a parent, in creation order.
func (s *Store) Children(parentID string) []*models.Task {
	return s.ListTasks(Filter{ParentID: &parentID})
}

// Dependents returns the tasks that list id as a dependency.
func (s *Store) Dependents(id string) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Task
	for _, tid := range s.order {
		task := s.tasks[tid]
		for _, depID := range task.Dependencies {
			if depID == id {
				out = append(out, task.Clone())
				break
			}
		}
	}
	return out
}

// TaskUpdate describes a partial field update. Nil fields are untouched.
// Context is shallow-merged into the existing context, new keys winning, so
// blocker history is never erased wholesale.
type TaskUpdate struct {
	Title         *string
	Description   *string
	Priority      *models.TaskPriority
	AssignedTo    *string
	ResultSummary *string
	Context       map[string]any
}

// UpdateTask applies a partial update and emits TASK_UPDATED. ID, timestamps,
// hierarchy, and status are not updatable through this operation. An update
// that changes nothing is a no-op: no timestamp bump, no event.
func (s *Store) UpdateTask(id string, upd TaskUpdate, source string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	if upd.Priority != nil && !upd.Priority.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown priority %q", *upd.Priority)}
	}
	if upd.Title != nil && *upd.Title == "" {
		return nil, &ValidationError{Reason: "title must not be empty"}
	}

	changed := false
	if upd.Title != nil && *upd.Title != task.Title {
		task.Title = *upd.Title
		changed = true
	}
	if upd.Description != nil && *upd.Description != task.Description {
		task.Description = *upd.Description
		changed = true
	}
	if upd.Priority != nil && *upd.Priority != task.Priority {
		task.Priority = *upd.Priority
		changed = true
	}
	if upd.AssignedTo != nil && *upd.AssignedTo != task.AssignedTo {
		task.AssignedTo = *upd.AssignedTo
		changed = true
	}
	if upd.ResultSummary != nil && *upd.ResultSummary != task.ResultSummary {
		task.ResultSummary = *upd.ResultSummary
		changed = true
	}
	if len(upd.Context) > 0 {
		if s.mergeContextLocked(task, upd.Context) {
			changed = true
		}
	}

	if !changed {
		return task.Clone(), nil
	}

	task.UpdatedAt = s.now()
	if err := s.persistLocked(task); err != nil {
		return nil, err
	}

	s.emit(models.NewEvent(models.EventTaskUpdated, task.Clone(), source))
	return task.Clone(), nil
}

// UpdateTaskStatus moves a task along one state machine edge, records the
// reason in context, and emits TASK_STATUS_CHANGED (plus TASK_COMPLETED or
// TASK_FAILED for those terminal states). Re-entering a terminal state is an
// idempotent no-op. Entering in_progress requires every dependency done;
// entering done requires a non-empty result summary; entering blocked or
// paused requires a reason. Cancelling a parent cascades cancellation to its
// non-terminal children. A child reaching a new status triggers parent
// consolidation.
func (s *Store) UpdateTaskStatus(id string, newStatus models.TaskStatus, reason, source string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if !newStatus.Valid() {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}

	// Terminal re-entry is a no-op, not an error.
	if task.Status.Terminal() && task.Status == newStatus {
		return task.Clone(), nil
	}

	if !task.Status.CanTransition(newStatus) {
		return nil, &InvalidTransitionError{ID: id, From: task.Status, To: newStatus}
	}

	switch newStatus {
	case models.TaskStatusInProgress:
		if unmet := s.unmetDependenciesLocked(task); len(unmet) > 0 {
			return nil, &DependencyUnmetError{ID: id, Unmet: unmet}
		}
	case models.TaskStatusDone:
		if task.ResultSummary == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("task %s cannot be done without a result summary", id)}
		}
	case models.TaskStatusBlocked:
		if reason == "" && task.ContextString(models.ContextKeyBlocker) == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("task %s cannot be blocked without a reason", id)}
		}
	case models.TaskStatusPaused:
		if reason == "" {
			return nil, &ValidationError{Reason: fmt.Sprintf("task %s cannot be paused without a reason", id)}
		}
	}

	if err := s.applyStatusLocked(task, newStatus, reason, source); err != nil {
		return nil, err
	}

	// Cancelling a parent cancels every non-terminal child.
	if newStatus == models.TaskStatusCancelled {
		for _, childID := range s.order {
			child := s.tasks[childID]
			if child.ParentID != id || child.Status.Terminal() {
				continue
			}
			if err := s.applyStatusLocked(child, models.TaskStatusCancelled,
				fmt.Sprintf("parent task %s cancelled", id), source); err != nil {
				return nil, err
			}
		}
	}

	// A child's status change drives the parent's derived status.
	if task.ParentID != "" {
		if err := s.consolidateParentLocked(task.ParentID, source); err != nil {
			return nil, err
		}
	}

	return task.Clone(), nil
}

// applyStatusLocked performs the actual mutation for a validated transition
// and emits the corresponding events. Caller must hold s.mu.
func (s *Store) applyStatusLocked(task *models.Task, newStatus models.TaskStatus, reason, source string) error {
	oldStatus := task.Status
	task.Status = newStatus
	task.UpdatedAt = s.now()

	if reason != "" {
		if task.Context == nil {
			task.Context = make(map[string]any)
		}
		task.Context[models.ContextKeyStatusReason] = reason
		switch newStatus {
		case models.TaskStatusBlocked:
			task.Context[models.ContextKeyBlocker] = reason
		case models.TaskStatusPaused:
			task.Context[models.ContextKeyPauseReason] = reason
		}
	}

	if newStatus == models.TaskStatusDone && task.CompletedAt == nil {
		at := task.UpdatedAt
		task.CompletedAt = &at
	}

	if err := s.persistLocked(task); err != nil {
		return err
	}

	log.Printf("[store] task %s status %s -> %s", task.ID, oldStatus, newStatus)

	ev := models.NewEvent(models.EventTaskStatusChanged, task.Clone(), source)
	ev.OldStatus = oldStatus
	ev.NewStatus = newStatus
	s.emit(ev)

	switch newStatus {
	case models.TaskStatusDone:
		s.emit(models.NewEvent(models.EventTaskCompleted, task.Clone(), source))
	case models.TaskStatusFailed:
		s.emit(models.NewEvent(models.EventTaskFailed, task.Clone(), source))
	}
	return nil
}

// AddDependency records that task id must wait for depID. Rejects unknown
// ids, self-dependencies, and anything that would create a cycle.
func (s *Store) AddDependency(id, depID, source string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	if _, ok := s.tasks[depID]; !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("dependency %s does not exist", depID)}
	}
	if id == depID {
		return nil, &ValidationError{Reason: "task cannot depend on itself"}
	}
	for _, existing := range task.Dependencies {
		if existing == depID {
			return task.Clone(), nil
		}
	}
	if s.wouldCycleLocked(id, depID) {
		return nil, &ValidationError{Reason: fmt.Sprintf("dependency %s -> %s would create a cycle", id, depID)}
	}

	task.Dependencies = append(task.Dependencies, depID)
	if task.Context == nil {
		task.Context = make(map[string]any)
	}
	task.Context[models.ContextKeyDependencyReason] = dependencyReason(task.Dependencies)
	task.UpdatedAt = s.now()
	if err := s.persistLocked(task); err != nil {
		return nil, err
	}

	s.emit(models.NewEvent(models.EventTaskUpdated, task.Clone(), source))
	return task.Clone(), nil
}

// RemoveDependency removes depID from the task's dependency set. Removing a
// dependency that is not present is a no-op.
func (s *Store) RemoveDependency(id, depID, source string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}

	idx := -1
	for i, existing := range task.Dependencies {
		if existing == depID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return task.Clone(), nil
	}

	task.Dependencies = append(task.Dependencies[:idx], task.Dependencies[idx+1:]...)
	if len(task.Dependencies) == 0 {
		delete(task.Context, models.ContextKeyDependencyReason)
	} else {
		if task.Context == nil {
			task.Context = make(map[string]any)
		}
		task.Context[models.ContextKeyDependencyReason] = dependencyReason(task.Dependencies)
	}
	task.UpdatedAt = s.now()
	if err := s.persistLocked(task); err != nil {
		return nil, err
	}

	s.emit(models.NewEvent(models.EventTaskUpdated, task.Clone(), source))
	return task.Clone(), nil
}

// DeleteTask removes a task. A task with non-terminal children is refused
// unless cascade is set, in which case the children are cancelled and deleted
// with it. Terminal children are always deleted along with their parent.
// Deletion is refused while any surviving task still depends on a task being
// deleted, so the store never holds dangling dependency references.
func (s *Store) DeleteTask(id string, cascade bool, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return &NotFoundError{ID: id}
	}

	doomed := map[string]bool{id: true}
	for _, tid := range s.order {
		child := s.tasks[tid]
		if child.ParentID != id {
			continue
		}
		if !child.Status.Terminal() && !cascade {
			return &ValidationError{Reason: fmt.Sprintf("task %s has non-terminal child %s; cancel it or delete with cascade", id, child.ID)}
		}
		doomed[child.ID] = true
	}

	for _, tid := range s.order {
		if doomed[tid] {
			continue
		}
		for _, depID := range s.tasks[tid].Dependencies {
			if doomed[depID] {
				return &ValidationError{Reason: fmt.Sprintf("task %s depends on %s; remove the dependency first", tid, depID)}
			}
		}
	}

	// Cancel cascading children before removal so consumers observe a
	// coherent final status.
	if cascade {
		for tid := range doomed {
			t := s.tasks[tid]
			if tid != id && !t.Status.Terminal() {
				if err := s.applyStatusLocked(t, models.TaskStatusCancelled,
					fmt.Sprintf("parent task %s deleted", id), source); err != nil {
					return err
				}
			}
		}
	}

	remaining := s.order[:0]
	for _, tid := range s.order {
		if !doomed[tid] {
			remaining = append(remaining, tid)
			continue
		}
		t := s.tasks[tid]
		delete(s.tasks, tid)
		if s.db != nil {
			if err := s.db.DeleteTask(tid); err != nil {
				return fmt.Errorf("delete task %s: %w", tid, err)
			}
		}
		s.emit(models.NewEvent(models.EventTaskDeleted, t.Clone(), source))
	}
	s.order = remaining

	log.Printf("[store] task %s deleted (%q)", id, task.Title)
	return nil
}

// dependencyReason renders the default explanation for a task held in todo
// by its dependency set.
func dependencyReason(deps []string) string {
	return "waiting on " + strings.Join(deps, ", ")
}

// unmetDependenciesLocked returns the ids of dependencies not yet done.
// Caller must hold s.mu.
func (s *Store) unmetDependenciesLocked(task *models.Task) []string {
	var unmet []string
	for _, depID := range task.Dependencies {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != models.TaskStatusDone {
			unmet = append(unmet, depID)
		}
	}
	return unmet
}

// wouldCycleLocked reports whether adding the edge id -> depID closes a
// dependency cycle. Depth-first walk from depID back toward id.
// Caller must hold s.mu.
func (s *Store) wouldCycleLocked(id, depID string) bool {
	visited := make(map[string]bool)
	var visit func(cur string) bool
	visit = func(cur string) bool {
		if cur == id {
			return true
		}
		if visited[cur] {
			return false
		}
		visited[cur] = true
		task, ok := s.tasks[cur]
		if !ok {
			return false
		}
		for _, next := range task.Dependencies {
			if visit(next) {
				return true
			}
		}
		return false
	}
	return visit(depID)
}

// mergeContextLocked shallow-merges new context keys into the task, new keys
// winning. Returns true if anything effectively changed.
// Caller must hold s.mu.
func (s *Store) mergeContextLocked(task *models.Task, ctx map[string]any) bool {
	if task.Context == nil {
		task.Context = make(map[string]any)
	}
	changed := false
	for k, v := range ctx {
		if existing, ok := task.Context[k]; ok && equalValue(existing, v) {
			continue
		}
		task.Context[k] = v
		changed = true
	}
	return changed
}

// equalValue compares context values for the no-op check. Only scalar values
// are compared; composite values always count as a change.
func equalValue(a, b any) bool {
	switch a.(type) {
	case string, bool, int, int64, float64, nil:
		return a == b
	default:
		return false
	}
}

// persistLocked writes the task through to the database, if one is attached.
// Caller must hold s.mu.
func (s *Store) persistLocked(task *models.Task) error {
	if s.db == nil {
		return nil
	}
	if err := s.db.SaveTask(task); err != nil {
		return fmt.Errorf("persist task %s: %w", task.ID, err)
	}
	return nil
}

// emit publishes an event if a bus is attached.
func (s *Store) emit(ev models.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
