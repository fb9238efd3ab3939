// Package planner implements the plan manager: a reactive controller that
// classifies and decomposes incoming tasks, dispatches runnable work to
// specialists, arbitrates preemption, and runs the review protocol. It keeps
// no task state of its own; every decision cycle re-derives its view from the
// store, so a lost event costs at most one poll interval.
package planner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/planion/planion/internal/bus"
	"github.com/planion/planion/internal/config"
	"github.com/planion/planion/internal/queue"
	"github.com/planion/planion/internal/specialist"
	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

// sourcePlanner attributes store mutations to the planner. TASK_CREATED
// events with this source are the planner's own subtask creations and are
// never re-planned, which is what keeps decomposition from recursing.
const sourcePlanner = "planner"

// contextKeyApprovalGranted marks that a human approved the task once, so a
// re-dispatched task is not gated a second time.
const contextKeyApprovalGranted = "approval_granted"

// Planner is the plan manager.
type Planner struct {
	store    *store.Store
	sched    *queue.Scheduler
	registry *specialist.Registry
	reviewer Reviewer
	session  Session

	maxSpecialists   int
	maxReviewRetries int
	pollInterval     time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc

	sem  chan struct{}
	wake chan struct{}
	wg   sync.WaitGroup
}

// New creates a Planner. Zero config fields fall back to defaults.
func New(s *store.Store, sched *queue.Scheduler, reg *specialist.Registry, cfg config.PlannerConfig, session Session) *Planner {
	if cfg.MaxSpecialists <= 0 {
		cfg.MaxSpecialists = 3
	}
	if cfg.MaxReviewRetries <= 0 {
		cfg.MaxReviewRetries = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Planner{
		store:            s,
		sched:            sched,
		registry:         reg,
		reviewer:         AcceptAll{},
		session:          session,
		maxSpecialists:   cfg.MaxSpecialists,
		maxReviewRetries: cfg.MaxReviewRetries,
		pollInterval:     cfg.PollInterval,
		inflight:         make(map[string]context.CancelFunc),
		sem:              make(chan struct{}, cfg.MaxSpecialists),
		wake:             make(chan struct{}, 1),
	}
}

// SetReviewer replaces the review policy. Call before Attach.
func (p *Planner) SetReviewer(r Reviewer) {
	p.reviewer = r
}

// Attach subscribes the planner to the bus.
func (p *Planner) Attach(b *bus.Bus) {
	b.Subscribe(models.EventTaskCreated, p.onTaskCreated)
	b.Subscribe(models.EventTaskStatusChanged, p.onStatusChanged)
	b.Subscribe(models.EventTaskCompleted, func(models.Event) { p.Kick() })
	b.Subscribe(models.EventTaskFailed, func(models.Event) { p.Kick() })
}

// onTaskCreated classifies and decomposes newly created root tasks. Subtasks
// and the planner's own creations are skipped; each creation triggers exactly
// one planning pass.
func (p *Planner) onTaskCreated(ev models.Event) {
	if ev.Source == sourcePlanner || ev.Task == nil || ev.Task.IsSubtask() {
		p.Kick()
		return
	}
	p.plan(ev.Task)
	p.Kick()
}

func (p *Planner) onStatusChanged(ev models.Event) {
	// A task leaving the running set takes its invocation with it.
	if ev.NewStatus.Terminal() || ev.NewStatus == models.TaskStatusPaused {
		p.cancelInflight(ev.TaskID)
	}
	// Remember human approval so a later re-dispatch is not gated again.
	if ev.OldStatus == models.TaskStatusWaitingApproval && ev.NewStatus == models.TaskStatusApproved {
		if _, err := p.store.UpdateTask(ev.TaskID, store.TaskUpdate{
			Context: map[string]any{contextKeyApprovalGranted: true},
		}, sourcePlanner); err != nil {
			log.Printf("[planner] record approval %s: %v", ev.TaskID, err)
		}
	}
	p.Kick()
}

// Kick signals the run loop to perform a decision cycle. Coalescing is fine;
// a cycle looks at everything.
func (p *Planner) Kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drives decision cycles until ctx is cancelled, then waits for inflight
// specialist invocations to wind down.
func (p *Planner) Run(ctx context.Context) error {
	log.Printf("[planner] session %s started (max specialists: %d)", p.session.ID, p.maxSpecialists)
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		p.Step(ctx)
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Printf("[planner] session %s stopped", p.session.ID)
			return ctx.Err()
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// Step performs one bounded decision cycle: arbitrate preemption, resume
// paused work, dispatch runnable work. Never blocks on specialists.
func (p *Planner) Step(ctx context.Context) {
	p.preempt()
	p.resume(ctx)
	p.dispatch(ctx)
}

// Wait blocks until all inflight specialist invocations have finished.
// Intended for tests and shutdown.
func (p *Planner) Wait() {
	p.wg.Wait()
}

// preempt pauses lower-priority running tasks when critical or high work is
// waiting. Paused tasks resume only through an explicit later decision; the
// reason records what displaced them.
func (p *Planner) preempt() {
	paused := make(map[string]bool)
	for _, pe := range p.sched.PreemptionCandidates() {
		for _, running := range pe.Running {
			if paused[running.ID] {
				continue
			}
			p.cancelInflight(running.ID)
			reason := fmt.Sprintf("preempted by %s priority task %s", pe.Incoming.Priority, pe.Incoming.ID)
			if _, err := p.store.UpdateTaskStatus(running.ID, models.TaskStatusPaused, reason, sourcePlanner); err != nil {
				log.Printf("[planner] preempt %s: %v", running.ID, err)
				continue
			}
			paused[running.ID] = true
			log.Printf("[planner] paused %s: %s", running.ID, reason)
		}
	}
}

// resume restarts paused tasks once nothing higher-priority is active.
func (p *Planner) resume(ctx context.Context) {
	for _, t := range p.sched.ResumableTasks() {
		if !p.tryAcquire() {
			return
		}
		task, err := p.store.UpdateTaskStatus(t.ID, models.TaskStatusInProgress, "resumed after preemption", sourcePlanner)
		if err != nil {
			p.release()
			log.Printf("[planner] resume %s: %v", t.ID, err)
			continue
		}
		log.Printf("[planner] resumed %s", task.ID)
		p.launch(ctx, task)
	}
}

// dispatch hands runnable tasks to specialists, bounded by the concurrency
// limit. Root tasks wait for classification; tasks carrying an unapproved
// gate go to waiting_approval instead of a specialist.
func (p *Planner) dispatch(ctx context.Context) {
	for _, t := range p.sched.Runnable() {
		if t.Status == models.TaskStatusTodo && !t.IsSubtask() &&
			t.ContextString(models.ContextKeyComplexity) == "" {
			// Created but not yet planned; the creation event is still in
			// flight.
			continue
		}
		if p.needsGate(t) {
			rationale := t.ContextString(models.ContextKeyApprovalRationale)
			if _, err := p.store.UpdateTaskStatus(t.ID, models.TaskStatusWaitingApproval, rationale, sourcePlanner); err != nil {
				log.Printf("[planner] gate %s: %v", t.ID, err)
			}
			continue
		}
		if p.isInflight(t.ID) {
			continue
		}
		if !p.tryAcquire() {
			return
		}
		task, err := p.store.UpdateTaskStatus(t.ID, models.TaskStatusInProgress, "dispatched", sourcePlanner)
		if err != nil {
			p.release()
			log.Printf("[planner] dispatch %s: %v", t.ID, err)
			continue
		}
		p.launch(ctx, task)
	}
}

// needsGate reports whether a todo task still requires human approval.
func (p *Planner) needsGate(t *models.Task) bool {
	if t.Status != models.TaskStatusTodo {
		return false
	}
	if t.ContextString(models.ContextKeyApprovalRationale) == "" {
		return false
	}
	granted, _ := t.Context[contextKeyApprovalGranted].(bool)
	return !granted
}

// launch runs one specialist invocation on its own goroutine with a
// cancellable context, so preemption and cancellation can abort it.
func (p *Planner) launch(ctx context.Context, task *models.Task) {
	invCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.inflight[task.ID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.release()
		defer p.clearInflight(task.ID)
		p.invoke(invCtx, task)
	}()
}

// invoke runs the specialist and applies its result.
func (p *Planner) invoke(ctx context.Context, task *models.Task) {
	specialistID := task.AssignedTo
	if specialistID == "" {
		specialistID = InferSpecialist(task)
		if _, err := p.store.UpdateTask(task.ID, store.TaskUpdate{AssignedTo: &specialistID}, sourcePlanner); err != nil {
			log.Printf("[planner] assign %s: %v", task.ID, err)
		}
	}

	res, err := p.registry.Invoke(ctx, specialistID, buildInstruction(task), task.Context)
	if err != nil {
		if ctx.Err() != nil {
			// Preempted or cancelled while running; the status change
			// already happened, the result is moot.
			log.Printf("[planner] invocation for %s aborted: %v", task.ID, ctx.Err())
			return
		}
		p.applyFailure(task.ID, err.Error())
		return
	}
	p.applyResult(ctx, task.ID, res)
}

// applyResult maps a structured result onto the state machine. The task is
// re-read first: if it left in_progress while the specialist was running
// (cancelled, preempted), the late result is discarded.
func (p *Planner) applyResult(ctx context.Context, id string, res *models.StructuredResult) {
	current, err := p.store.GetTask(id)
	if err != nil {
		log.Printf("[planner] apply result %s: %v", id, err)
		return
	}
	if current.Status != models.TaskStatusInProgress {
		log.Printf("[planner] discarding late result for %s (status %s)", id, current.Status)
		return
	}

	switch res.Kind {
	case models.ResultSuccess:
		summary := res.Success.Summary
		if _, err := p.store.UpdateTask(id, store.TaskUpdate{ResultSummary: &summary}, sourcePlanner); err != nil {
			log.Printf("[planner] record summary %s: %v", id, err)
			return
		}
		if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusWaitingReview, "specialist reported success", sourcePlanner); err != nil {
			log.Printf("[planner] to review %s: %v", id, err)
			return
		}
		p.review(ctx, id)

	case models.ResultNeedsApproval:
		rationale := res.NeedsApproval.What
		if _, err := p.store.UpdateTask(id, store.TaskUpdate{
			Context: map[string]any{models.ContextKeyApprovalRationale: rationale},
		}, sourcePlanner); err != nil {
			log.Printf("[planner] record rationale %s: %v", id, err)
		}
		if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusBlocked, "awaiting approval: "+rationale, sourcePlanner); err != nil {
			log.Printf("[planner] block %s: %v", id, err)
		}

	case models.ResultBlocked:
		if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusBlocked, res.Blocked.Description, sourcePlanner); err != nil {
			log.Printf("[planner] block %s: %v", id, err)
		}

	default:
		msg := "specialist reported failure"
		if res.Failed != nil && res.Failed.Message != "" {
			msg = res.Failed.Message
		}
		p.applyFailure(id, msg)
	}
}

// applyFailure marks a task failed unless it already left in_progress.
func (p *Planner) applyFailure(id, msg string) {
	current, err := p.store.GetTask(id)
	if err != nil {
		log.Printf("[planner] apply failure %s: %v", id, err)
		return
	}
	if current.Status != models.TaskStatusInProgress {
		log.Printf("[planner] discarding late failure for %s (status %s)", id, current.Status)
		return
	}
	if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusFailed, msg, sourcePlanner); err != nil {
		log.Printf("[planner] fail %s: %v", id, err)
	}
}

// review runs the review protocol on a task in waiting_review. Acceptance
// completes the task. Rejection sends it back to todo carrying feedback and a
// bumped retry counter; too many rejections escalate to blocked so a human
// takes over instead of the loop spinning forever.
func (p *Planner) review(ctx context.Context, id string) {
	task, err := p.store.GetTask(id)
	if err != nil {
		log.Printf("[planner] review %s: %v", id, err)
		return
	}
	if task.Status != models.TaskStatusWaitingReview {
		return
	}

	accepted, feedback, err := p.reviewer.Review(ctx, task)
	if err != nil {
		// Leave the task in waiting_review; a later cycle retries.
		log.Printf("[planner] reviewer error on %s: %v", id, err)
		return
	}

	if accepted {
		if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusDone, "review accepted", sourcePlanner); err != nil {
			log.Printf("[planner] accept %s: %v", id, err)
		}
		return
	}

	retries := task.ContextInt(models.ContextKeyRetryCount) + 1
	if _, err := p.store.UpdateTask(id, store.TaskUpdate{
		Context: map[string]any{
			models.ContextKeyRetryCount:     retries,
			models.ContextKeyReviewFeedback: feedback,
		},
	}, sourcePlanner); err != nil {
		log.Printf("[planner] record rejection %s: %v", id, err)
		return
	}
	if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusTodo,
		fmt.Sprintf("review rejected (attempt %d)", retries), sourcePlanner); err != nil {
		log.Printf("[planner] reject %s: %v", id, err)
		return
	}

	if retries >= p.maxReviewRetries {
		escErr := &MaxRetriesExceededError{ID: id, Retries: retries}
		log.Printf("[planner] %v", escErr)
		if _, err := p.store.UpdateTaskStatus(id, models.TaskStatusBlocked,
			fmt.Sprintf("needs human review: rejected %d times", retries), sourcePlanner); err != nil {
			log.Printf("[planner] escalate %s: %v", id, err)
		}
	}
}

func (p *Planner) tryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Planner) release() {
	<-p.sem
}

func (p *Planner) isInflight(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inflight[id]
	return ok
}

func (p *Planner) cancelInflight(id string) {
	p.mu.Lock()
	cancel, ok := p.inflight[id]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

func (p *Planner) clearInflight(id string) {
	p.mu.Lock()
	if cancel, ok := p.inflight[id]; ok {
		cancel()
		delete(p.inflight, id)
	}
	p.mu.Unlock()
}

// InferSpecialist picks a specialist for a task that has no assignment.
func InferSpecialist(task *models.Task) string {
	text := strings.ToLower(task.Title + " " + task.Description)
	switch {
	case containsAnyWord(text, "research", "investigate", "analyze", "compare", "evaluate", "summarize"):
		return specialist.SpecialistResearcher
	case containsAnyWord(text, "deploy", "install", "restart", "configure", "provision", "migrate", "server", "rotate"):
		return specialist.SpecialistSystemOperator
	default:
		return specialist.SpecialistCoder
	}
}

func containsAnyWord(text string, words ...string) bool {
	for _, w := range words {
		if containsWord(text, w) {
			return true
		}
	}
	return false
}

// buildInstruction renders the prompt handed to a specialist. Rejected work
// carries the review feedback so the retry is not blind.
func buildInstruction(task *models.Task) string {
	var b strings.Builder
	b.WriteString(task.Title)
	if task.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(task.Description)
	}
	if fb := task.ContextString(models.ContextKeyReviewFeedback); fb != "" {
		b.WriteString("\n\nA previous attempt was rejected in review. Address this feedback:\n")
		b.WriteString(fb)
	}
	return b.String()
}
