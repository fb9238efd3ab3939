package planner

import (
	"fmt"
	"log"

	"github.com/planion/planion/internal/store"
	"github.com/planion/planion/pkg/models"
)

// plan runs the planner's single decision cycle for a newly created root
// task: classify it, record the classification, and decompose it when the
// description yields concrete steps. Subtask creations never arrive here, so
// planning cannot recurse.
func (p *Planner) plan(task *models.Task) {
	complexity := Classify(task)

	ctx := map[string]any{models.ContextKeyComplexity: string(complexity)}
	if complexity == ComplexityComplex {
		if risks := RiskAssessment(task); risks != "" {
			ctx[models.ContextKeyRiskAssessment] = risks
		}
	}
	if _, err := p.store.UpdateTask(task.ID, store.TaskUpdate{Context: ctx}, sourcePlanner); err != nil {
		log.Printf("[planner] classify %s: %v", task.ID, err)
		return
	}
	log.Printf("[planner] task %s classified %s", task.ID, complexity)

	if complexity != ComplexityMedium && complexity != ComplexityComplex {
		return
	}

	steps := ExtractSteps(task.Description)
	if len(steps) < 2 {
		// Nothing to split; the task executes as a single unit.
		return
	}
	p.decompose(task, steps)
}

// decompose creates one subtask per step, linearly dependent so they execute
// in order. The hierarchy stays flat: steps become children of the root task,
// never grandchildren. The parent moves to waiting_approval before any
// subtask exists, so no step is schedulable until a human approves the plan;
// state-changing steps additionally carry their own approval gate.
func (p *Planner) decompose(task *models.Task, steps []string) {
	reason := fmt.Sprintf("plan drafted: %d steps await approval", len(steps))
	if _, err := p.store.UpdateTaskStatus(task.ID, models.TaskStatusWaitingApproval, reason, sourcePlanner); err != nil {
		log.Printf("[planner] gate plan %s: %v", task.ID, err)
		return
	}

	var prevID string
	for i, step := range steps {
		params := store.AddTaskParams{
			Title:    step,
			Priority: task.Priority,
			ParentID: task.ID,
		}
		if prevID != "" {
			params.Dependencies = []string{prevID}
			params.Context = map[string]any{
				models.ContextKeyDependencyReason: fmt.Sprintf("waiting on %q", steps[i-1]),
			}
		}
		sub, err := p.store.AddTask(params, sourcePlanner)
		if err != nil {
			log.Printf("[planner] decompose %s step %d: %v", task.ID, i+1, err)
			return
		}
		prevID = sub.ID

		if StateChanging(step) {
			p.gate(sub, step)
		}
	}
	log.Printf("[planner] task %s decomposed into %d subtasks", task.ID, len(steps))
}

// gate parks a subtask in waiting_approval before it can be dispatched.
func (p *Planner) gate(sub *models.Task, step string) {
	rationale := fmt.Sprintf("state-changing operation: %s", step)
	if _, err := p.store.UpdateTask(sub.ID, store.TaskUpdate{
		Context: map[string]any{models.ContextKeyApprovalRationale: rationale},
	}, sourcePlanner); err != nil {
		log.Printf("[planner] gate %s: %v", sub.ID, err)
		return
	}
	if _, err := p.store.UpdateTaskStatus(sub.ID, models.TaskStatusWaitingApproval, rationale, sourcePlanner); err != nil {
		log.Printf("[planner] gate %s: %v", sub.ID, err)
	}
}
