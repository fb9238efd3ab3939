package models

import (
	"encoding/json"
	"fmt"
)

// ResultKind is the tag of a StructuredResult. The set is closed: anything a
// specialist returns that does not parse into one of these kinds is treated
// as ResultFailed at the orchestrator boundary.
type ResultKind string

const (
	// ResultSuccess indicates the specialist finished the work.
	ResultSuccess ResultKind = "success"
	// ResultNeedsApproval indicates the specialist wants a human go-ahead
	// before making state-changing modifications.
	ResultNeedsApproval ResultKind = "needs_approval"
	// ResultBlocked indicates the specialist cannot proceed.
	ResultBlocked ResultKind = "blocked"
	// ResultFailed indicates an unrecoverable specialist error.
	ResultFailed ResultKind = "failed"
)

// Valid returns true if the kind is a known value.
func (k ResultKind) Valid() bool {
	switch k {
	case ResultSuccess, ResultNeedsApproval, ResultBlocked, ResultFailed:
		return true
	default:
		return false
	}
}

// Deliverables lists the artifacts a successful specialist run produced.
type Deliverables struct {
	Created  []string `json:"created,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Tests    []string `json:"tests,omitempty"`
}

// Verification reports how a successful run was verified.
type Verification struct {
	TestsPassed bool           `json:"tests_passed"`
	Details     map[string]any `json:"details,omitempty"`
}

// SuccessResult carries the evidence of a completed task.
type SuccessResult struct {
	Summary      string       `json:"summary"`
	Deliverables Deliverables `json:"deliverables"`
	Verification Verification `json:"verification"`
}

// ApprovalRequest describes what the specialist wants permission to do.
type ApprovalRequest struct {
	What        string   `json:"what"`
	Changes     []string `json:"changes,omitempty"`
	Risks       []string `json:"risks,omitempty"`
	TestingPlan string   `json:"testing_plan,omitempty"`
}

// ProposedSolution is one way out of a blocker.
type ProposedSolution struct {
	Option string   `json:"option"`
	Pros   []string `json:"pros,omitempty"`
	Cons   []string `json:"cons,omitempty"`
}

// BlockedResult describes why a specialist cannot proceed.
type BlockedResult struct {
	Type              string             `json:"type"`
	Description       string             `json:"description"`
	ProposedSolutions []ProposedSolution `json:"proposed_solutions,omitempty"`
	Recommendation    string             `json:"recommendation,omitempty"`
}

// FailedResult describes an unrecoverable specialist error.
type FailedResult struct {
	ErrorType            string `json:"error_type"`
	Message              string `json:"message"`
	RequiresIntervention bool   `json:"requires_intervention"`
}

// StructuredResult is the uniform response every specialist returns. Exactly
// one of the payload fields matching Kind is set.
type StructuredResult struct {
	Kind          ResultKind       `json:"kind"`
	Success       *SuccessResult   `json:"success,omitempty"`
	NeedsApproval *ApprovalRequest `json:"needs_approval,omitempty"`
	Blocked       *BlockedResult   `json:"blocked,omitempty"`
	Failed        *FailedResult    `json:"failed,omitempty"`
}

// Validate checks that the tag and payload agree.
func (r *StructuredResult) Validate() error {
	if !r.Kind.Valid() {
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	switch r.Kind {
	case ResultSuccess:
		if r.Success == nil {
			return fmt.Errorf("success result missing payload")
		}
		if r.Success.Summary == "" {
			return fmt.Errorf("success result missing summary")
		}
	case ResultNeedsApproval:
		if r.NeedsApproval == nil {
			return fmt.Errorf("needs_approval result missing payload")
		}
	case ResultBlocked:
		if r.Blocked == nil {
			return fmt.Errorf("blocked result missing payload")
		}
		if r.Blocked.Description == "" {
			return fmt.Errorf("blocked result missing description")
		}
	case ResultFailed:
		if r.Failed == nil {
			return fmt.Errorf("failed result missing payload")
		}
	}
	return nil
}

// ParseResult decodes a raw specialist payload into a StructuredResult.
// Anything that does not decode and validate fails closed: the returned
// result is ResultFailed carrying the parse diagnostic, never an error.
func ParseResult(raw []byte) *StructuredResult {
	var r StructuredResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return failClosed(fmt.Sprintf("unparseable specialist result: %v", err))
	}
	if err := r.Validate(); err != nil {
		return failClosed(fmt.Sprintf("malformed specialist result: %v", err))
	}
	return &r
}

func failClosed(msg string) *StructuredResult {
	return &StructuredResult{
		Kind: ResultFailed,
		Failed: &FailedResult{
			ErrorType:            "malformed_result",
			Message:              msg,
			RequiresIntervention: true,
		},
	}
}
