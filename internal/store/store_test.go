package store

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/internal/state"
	"github.com/planion/planion/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(nil, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustAdd(t *testing.T, s *Store, p AddTaskParams) *models.Task {
	t.Helper()
	task, err := s.AddTask(p, "test")
	if err != nil {
		t.Fatalf("add task %q: %v", p.Title, err)
	}
	return task
}

func mustStatus(t *testing.T, s *Store, id string, status models.TaskStatus, reason string) *models.Task {
	t.Helper()
	task, err := s.UpdateTaskStatus(id, status, reason, "test")
	if err != nil {
		t.Fatalf("status %s -> %s: %v", id, status, err)
	}
	return task
}

// finish walks a task through in_progress and review to done.
func finish(t *testing.T, s *Store, id, summary string) {
	t.Helper()
	mustStatus(t, s, id, models.TaskStatusInProgress, "started")
	mustStatus(t, s, id, models.TaskStatusWaitingReview, "specialist finished")
	if _, err := s.UpdateTask(id, TaskUpdate{ResultSummary: &summary}, "test"); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	mustStatus(t, s, id, models.TaskStatusDone, "review passed")
}

func TestAddTaskDefaults(t *testing.T) {
	s := newTestStore(t)

	task := mustAdd(t, s, AddTaskParams{Title: "do something"})
	if task.ID == "" {
		t.Error("expected generated id")
	}
	if task.Status != models.TaskStatusTodo {
		t.Errorf("expected todo, got %s", task.Status)
	}
	if task.Priority != models.PriorityMedium {
		t.Errorf("expected default medium priority, got %s", task.Priority)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("expected timestamps set")
	}
}

func TestAddTaskValidation(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "parent"})
	sub := mustAdd(t, s, AddTaskParams{Title: "sub", ParentID: parent.ID})

	cases := []struct {
		name string
		p    AddTaskParams
	}{
		{"empty title", AddTaskParams{}},
		{"unknown priority", AddTaskParams{Title: "t", Priority: "urgent"}},
		{"unknown parent", AddTaskParams{Title: "t", ParentID: "nope"}},
		{"subtask of subtask", AddTaskParams{Title: "t", ParentID: sub.ID}},
		{"unknown dependency", AddTaskParams{Title: "t", Dependencies: []string{"nope"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.AddTask(tc.p, "test")
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask("nope")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
}

func TestListTasksFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	a := mustAdd(t, s, AddTaskParams{Title: "a", Priority: models.PriorityHigh})
	b := mustAdd(t, s, AddTaskParams{Title: "b"})
	c := mustAdd(t, s, AddTaskParams{Title: "c", Priority: models.PriorityHigh})

	all := s.ListTasks(Filter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if all[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, all[i].ID, want)
		}
	}

	high := models.PriorityHigh
	filtered := s.ListTasks(Filter{Priority: &high})
	if len(filtered) != 2 {
		t.Errorf("expected 2 high tasks, got %d", len(filtered))
	}
}

func TestUpdateTaskMergesContext(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t", Context: map[string]any{"blocker": "old", "keep": "me"}})

	updated, err := s.UpdateTask(task.ID, TaskUpdate{Context: map[string]any{"blocker": "new", "extra": "x"}}, "test")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Context["blocker"] != "new" {
		t.Errorf("new key must win, got %v", updated.Context["blocker"])
	}
	if updated.Context["keep"] != "me" {
		t.Error("existing keys must survive a merge")
	}
	if updated.Context["extra"] != "x" {
		t.Error("new keys must be added")
	}
}

// A mutation that changes nothing must not bump updated_at or emit an event.
func TestUpdateTaskNoopDetection(t *testing.T) {
	b := bus.New()
	defer b.Close()
	s, err := New(nil, b)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var mu sync.Mutex
	events := 0
	b.Subscribe(models.EventTaskUpdated, func(models.Event) {
		mu.Lock()
		events++
		mu.Unlock()
	})

	task := mustAdd(t, s, AddTaskParams{Title: "t", Context: map[string]any{"k": "v"}})

	same := task.Title
	after, err := s.UpdateTask(task.ID, TaskUpdate{Title: &same, Context: map[string]any{"k": "v"}}, "test")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !after.UpdatedAt.Equal(task.UpdatedAt) {
		t.Error("no-op update must not bump updated_at")
	}

	b.Flush()
	mu.Lock()
	defer mu.Unlock()
	if events != 0 {
		t.Errorf("no-op update must not emit events, got %d", events)
	}
}

func TestUpdateTaskStatusRejectsIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t"})

	_, err := s.UpdateTaskStatus(task.ID, models.TaskStatusDone, "", "test")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != models.TaskStatusTodo || ite.To != models.TaskStatusDone {
		t.Errorf("unexpected edge in error: %s -> %s", ite.From, ite.To)
	}

	got, _ := s.GetTask(task.ID)
	if got.Status != models.TaskStatusTodo {
		t.Error("task must be unchanged after rejected transition")
	}
}

func TestTerminalReentryIsNoop(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t"})
	mustStatus(t, s, task.ID, models.TaskStatusCancelled, "user declined")

	again, err := s.UpdateTaskStatus(task.ID, models.TaskStatusCancelled, "again", "test")
	if err != nil {
		t.Fatalf("terminal re-entry must be a no-op, got %v", err)
	}
	if again.Status != models.TaskStatusCancelled {
		t.Errorf("unexpected status %s", again.Status)
	}
}

func TestDoneRequiresResultSummary(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t"})
	mustStatus(t, s, task.ID, models.TaskStatusInProgress, "started")
	mustStatus(t, s, task.ID, models.TaskStatusWaitingReview, "finished")

	_, err := s.UpdateTaskStatus(task.ID, models.TaskStatusDone, "", "test")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for done without summary, got %v", err)
	}
}

func TestBlockedRequiresReason(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t"})

	_, err := s.UpdateTaskStatus(task.ID, models.TaskStatusBlocked, "", "test")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for blocked without reason, got %v", err)
	}

	blocked := mustStatus(t, s, task.ID, models.TaskStatusBlocked, "missing credentials")
	if blocked.ContextString(models.ContextKeyBlocker) != "missing credentials" {
		t.Errorf("blocker not recorded: %v", blocked.Context)
	}
}

func TestInProgressRequiresDependenciesDone(t *testing.T) {
	s := newTestStore(t)
	dep := mustAdd(t, s, AddTaskParams{Title: "a"})
	task := mustAdd(t, s, AddTaskParams{Title: "b", Dependencies: []string{dep.ID}})

	_, err := s.UpdateTaskStatus(task.ID, models.TaskStatusInProgress, "", "test")
	var due *DependencyUnmetError
	if !errors.As(err, &due) {
		t.Fatalf("expected DependencyUnmetError, got %v", err)
	}
	if len(due.Unmet) != 1 || due.Unmet[0] != dep.ID {
		t.Errorf("unexpected unmet set %v", due.Unmet)
	}

	finish(t, s, dep.ID, "a done")
	mustStatus(t, s, task.ID, models.TaskStatusInProgress, "deps met")
}

func TestCompletedAtSetOnce(t *testing.T) {
	s := newTestStore(t)
	task := mustAdd(t, s, AddTaskParams{Title: "t"})
	finish(t, s, task.ID, "done")

	got, _ := s.GetTask(task.ID)
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at set")
	}
}

func TestConsolidationAllChildrenDone(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "Build X"})
	c1 := mustAdd(t, s, AddTaskParams{Title: "step 1", ParentID: parent.ID})
	c2 := mustAdd(t, s, AddTaskParams{Title: "step 2", ParentID: parent.ID})

	finish(t, s, c1.ID, "step 1 evidence")

	mid, _ := s.GetTask(parent.ID)
	if mid.Status != models.TaskStatusTodo {
		t.Errorf("parent must be untouched while children remain, got %s", mid.Status)
	}

	finish(t, s, c2.ID, "step 2 evidence")

	got, _ := s.GetTask(parent.ID)
	if got.Status != models.TaskStatusDone {
		t.Fatalf("expected parent done, got %s", got.Status)
	}
	if !strings.Contains(got.ResultSummary, "step 1 evidence") || !strings.Contains(got.ResultSummary, "step 2 evidence") {
		t.Errorf("synthesized summary missing child evidence: %q", got.ResultSummary)
	}
	if got.CompletedAt == nil {
		t.Error("expected parent completed_at set")
	}
}

func TestConsolidationChildFailed(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "Build X"})
	c1 := mustAdd(t, s, AddTaskParams{Title: "step 1", ParentID: parent.ID})
	mustAdd(t, s, AddTaskParams{Title: "step 2", ParentID: parent.ID})

	mustStatus(t, s, c1.ID, models.TaskStatusInProgress, "started")
	mustStatus(t, s, c1.ID, models.TaskStatusFailed, "compiler exploded")

	got, _ := s.GetTask(parent.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("expected parent failed, got %s", got.Status)
	}
	if got.ContextString(models.ContextKeyBlocker) == "" {
		t.Error("parent must carry the failing child's blocker")
	}
}

// Re-running consolidation with unchanged children must not mutate the parent.
func TestConsolidationIdempotent(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "Build X"})
	c1 := mustAdd(t, s, AddTaskParams{Title: "step 1", ParentID: parent.ID})
	finish(t, s, c1.ID, "evidence")

	first, _ := s.GetTask(parent.ID)

	s.mu.Lock()
	err := s.consolidateParentLocked(parent.ID, "test")
	s.mu.Unlock()
	if err != nil {
		t.Fatalf("re-consolidate: %v", err)
	}

	second, _ := s.GetTask(parent.ID)
	if !second.UpdatedAt.Equal(first.UpdatedAt) {
		t.Error("idempotent consolidation must not bump updated_at")
	}
	if second.ResultSummary != first.ResultSummary {
		t.Error("idempotent consolidation must not change the summary")
	}
}

func TestCancelParentCascades(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "p"})
	c1 := mustAdd(t, s, AddTaskParams{Title: "c1", ParentID: parent.ID})
	c2 := mustAdd(t, s, AddTaskParams{Title: "c2", ParentID: parent.ID})
	finish(t, s, c2.ID, "already done")

	mustStatus(t, s, parent.ID, models.TaskStatusCancelled, "user cancelled")

	got1, _ := s.GetTask(c1.ID)
	if got1.Status != models.TaskStatusCancelled {
		t.Errorf("non-terminal child must be cancelled, got %s", got1.Status)
	}
	got2, _ := s.GetTask(c2.ID)
	if got2.Status != models.TaskStatusDone {
		t.Errorf("terminal child must keep its status, got %s", got2.Status)
	}
}

func TestDeleteParentWithNonTerminalChild(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "p"})
	child := mustAdd(t, s, AddTaskParams{Title: "c", ParentID: parent.ID})

	err := s.DeleteTask(parent.ID, false, "test")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// After cancelling the child, deletion succeeds.
	mustStatus(t, s, child.ID, models.TaskStatusCancelled, "not needed")
	if err := s.DeleteTask(parent.ID, false, "test"); err != nil {
		t.Fatalf("delete after cancel: %v", err)
	}
	if _, err := s.GetTask(parent.ID); err == nil {
		t.Error("parent should be gone")
	}
	if _, err := s.GetTask(child.ID); err == nil {
		t.Error("terminal child is deleted along with its parent")
	}
}

func TestDeleteCascade(t *testing.T) {
	s := newTestStore(t)
	parent := mustAdd(t, s, AddTaskParams{Title: "p"})
	child := mustAdd(t, s, AddTaskParams{Title: "c", ParentID: parent.ID})

	if err := s.DeleteTask(parent.ID, true, "test"); err != nil {
		t.Fatalf("cascade delete: %v", err)
	}
	if _, err := s.GetTask(child.ID); err == nil {
		t.Error("cascade must delete children")
	}
}

func TestDeleteRefusedWhileDependedUpon(t *testing.T) {
	s := newTestStore(t)
	a := mustAdd(t, s, AddTaskParams{Title: "a"})
	mustAdd(t, s, AddTaskParams{Title: "b", Dependencies: []string{a.ID}})

	err := s.DeleteTask(a.ID, false, "test")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for dangling dependency, got %v", err)
	}
}

func TestDependencyReasonRecorded(t *testing.T) {
	s := newTestStore(t)

	dep := mustAdd(t, s, AddTaskParams{Title: "dep"})
	waiting := mustAdd(t, s, AddTaskParams{Title: "waiting", Dependencies: []string{dep.ID}})
	if reason := waiting.ContextString(models.ContextKeyDependencyReason); !strings.Contains(reason, dep.ID) {
		t.Errorf("created task must record what it waits on, got %q", reason)
	}

	// An explicit reason from the caller wins over the generated one.
	custom := mustAdd(t, s, AddTaskParams{
		Title:        "custom",
		Dependencies: []string{dep.ID},
		Context:      map[string]any{models.ContextKeyDependencyReason: "waiting on the schema"},
	})
	if got := custom.ContextString(models.ContextKeyDependencyReason); got != "waiting on the schema" {
		t.Errorf("caller-provided reason overwritten: %q", got)
	}

	late := mustAdd(t, s, AddTaskParams{Title: "late"})
	withDep, err := s.AddDependency(late.ID, dep.ID, "test")
	if err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	if reason := withDep.ContextString(models.ContextKeyDependencyReason); !strings.Contains(reason, dep.ID) {
		t.Errorf("added dependency must record a reason, got %q", reason)
	}

	cleared, err := s.RemoveDependency(late.ID, dep.ID, "test")
	if err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	if reason := cleared.ContextString(models.ContextKeyDependencyReason); reason != "" {
		t.Errorf("reason must clear with the last dependency, got %q", reason)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	a := mustAdd(t, s, AddTaskParams{Title: "a"})
	b := mustAdd(t, s, AddTaskParams{Title: "b", Dependencies: []string{a.ID}})
	c := mustAdd(t, s, AddTaskParams{Title: "c", Dependencies: []string{b.ID}})

	_, err := s.AddDependency(a.ID, c.ID, "test")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}

	if _, err := s.AddDependency(a.ID, a.ID, "test"); err == nil {
		t.Error("self-dependency must be rejected")
	}
}

func TestRemoveDependency(t *testing.T) {
	s := newTestStore(t)
	a := mustAdd(t, s, AddTaskParams{Title: "a"})
	b := mustAdd(t, s, AddTaskParams{Title: "b", Dependencies: []string{a.ID}})

	got, err := s.RemoveDependency(b.ID, a.ID, "test")
	if err != nil {
		t.Fatalf("remove dependency: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("dependency not removed: %v", got.Dependencies)
	}
}

// After every mutation, dependencies must reference only existing tasks.
func TestNoDanglingDependencies(t *testing.T) {
	s := newTestStore(t)
	a := mustAdd(t, s, AddTaskParams{Title: "a"})
	b := mustAdd(t, s, AddTaskParams{Title: "b", Dependencies: []string{a.ID}})
	finish(t, s, a.ID, "done")
	mustStatus(t, s, b.ID, models.TaskStatusCancelled, "no longer needed")

	for _, task := range s.ListTasks(Filter{}) {
		for _, depID := range task.Dependencies {
			if _, err := s.GetTask(depID); err != nil {
				t.Errorf("task %s holds dangling dependency %s", task.ID, depID)
			}
		}
	}
}

func TestEventsEmittedInOrder(t *testing.T) {
	b := bus.New()
	defer b.Close()
	s, err := New(nil, b)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	var mu sync.Mutex
	var types []models.EventType
	record := func(e models.Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	}
	b.Subscribe(models.EventTaskCreated, record)
	b.Subscribe(models.EventTaskStatusChanged, record)
	b.Subscribe(models.EventTaskFailed, record)

	task := mustAdd(t, s, AddTaskParams{Title: "t"})
	mustStatus(t, s, task.ID, models.TaskStatusInProgress, "started")
	mustStatus(t, s, task.ID, models.TaskStatusFailed, "broke")
	b.Flush()

	mu.Lock()
	defer mu.Unlock()
	want := []models.EventType{
		models.EventTaskCreated,
		models.EventTaskStatusChanged,
		models.EventTaskStatusChanged,
		models.EventTaskFailed,
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(types), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "planion.db")
	db, err := state.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s, err := New(db, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	task := mustAdd(t, s, AddTaskParams{
		Title:    "durable",
		Priority: models.PriorityCritical,
		Context:  map[string]any{"nested": map[string]any{"deep": "value"}},
	})
	mustStatus(t, s, task.ID, models.TaskStatusBlocked, "waiting on credentials")
	db.Close()

	db2, err := state.Open(path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	s2, err := New(db2, nil)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}

	got, err := s2.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Status != models.TaskStatusBlocked {
		t.Errorf("status lost across restart: %s", got.Status)
	}
	if got.ContextString(models.ContextKeyBlocker) != "waiting on credentials" {
		t.Errorf("blocker lost across restart: %v", got.Context)
	}
	nested, ok := got.Context["nested"].(map[string]any)
	if !ok || nested["deep"] != "value" {
		t.Errorf("nested context lost across restart: %v", got.Context)
	}
}
