package planner

import (
	"fmt"
	"strings"

	"github.com/planion/planion/pkg/models"
)

// Complexity is the planner's estimate of how much orchestration a task needs.
type Complexity string

const (
	// ComplexityTrivial tasks go straight to a specialist.
	ComplexityTrivial Complexity = "trivial"
	// ComplexitySimple tasks go to a specialist as a single unit.
	ComplexitySimple Complexity = "simple"
	// ComplexityMedium tasks are decomposed into subtasks when steps can be
	// extracted.
	ComplexityMedium Complexity = "medium"
	// ComplexityComplex tasks are decomposed and additionally carry a risk
	// assessment, with approval gates on state-changing steps.
	ComplexityComplex Complexity = "complex"
)

// riskKeywords mark operations that change shared state and therefore need
// human approval before a specialist touches them.
var riskKeywords = []string{
	"deploy", "delete", "drop", "migrate", "migration", "rotate",
	"production", "prod", "restart", "credentials", "shutdown", "revoke",
}

// Classify estimates a task's complexity from its title and description.
// Classification happens exactly once, when the task is created; the result
// is recorded in the task context and never revised.
func Classify(task *models.Task) Complexity {
	text := task.Title + " " + task.Description
	words := len(strings.Fields(text))
	steps := len(ExtractSteps(task.Description))
	risky := len(assessRisks(text)) > 0

	switch {
	case risky && (steps >= 2 || words >= 25):
		return ComplexityComplex
	case steps >= 4 || words >= 60:
		return ComplexityMedium
	case steps >= 2 || words >= 12 || risky:
		return ComplexitySimple
	default:
		return ComplexityTrivial
	}
}

// ExtractSteps pulls an ordered list of steps out of a task description.
// Bulleted ("- ", "* ") and numbered ("1.", "2)") lines count as steps;
// anything else is prose and yields no steps.
func ExtractSteps(description string) []string {
	var steps []string
	for _, line := range strings.Split(description, "\n") {
		line = strings.TrimSpace(line)
		if step, ok := trimStepMarker(line); ok && step != "" {
			steps = append(steps, step)
		}
	}
	return steps
}

func trimStepMarker(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* "} {
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(line[len(prefix):]), true
		}
	}
	// Numbered markers: "1.", "2)", "10."
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return strings.TrimSpace(line[i+1:]), true
	}
	return "", false
}

// assessRisks returns the risk keywords present in the text.
func assessRisks(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for _, kw := range riskKeywords {
		if containsWord(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// containsWord reports whether w occurs in s on word boundaries, so "prod"
// does not match "product".
func containsWord(s, w string) bool {
	for start := 0; ; {
		i := strings.Index(s[start:], w)
		if i < 0 {
			return false
		}
		i += start
		before := i == 0 || !isWordChar(s[i-1])
		afterIdx := i + len(w)
		after := afterIdx >= len(s) || !isWordChar(s[afterIdx])
		if before && after {
			return true
		}
		start = i + 1
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// RiskAssessment renders the risk notes stored on complex tasks.
func RiskAssessment(task *models.Task) string {
	risks := assessRisks(task.Title + " " + task.Description)
	if len(risks) == 0 {
		return ""
	}
	return fmt.Sprintf("state-changing operations detected: %s", strings.Join(risks, ", "))
}

// StateChanging reports whether a piece of work modifies shared state and
// therefore needs an approval gate.
func StateChanging(text string) bool {
	return len(assessRisks(text)) > 0
}
