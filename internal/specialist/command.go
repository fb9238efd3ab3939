package specialist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"

	"github.com/planion/planion/pkg/models"
)

// CommandAdapter runs a specialist as an external process. The instruction
// and task context are written to stdin as JSON; the process is expected to
// print a structured result document on stdout. Whatever comes back goes
// through ParseResult, so a specialist that prints garbage surfaces as a
// failed result rather than being trusted.
type CommandAdapter struct {
	// Command is the program to run, followed by its arguments.
	Command []string
	// Dir is the working directory for the process. Empty means inherit.
	Dir string
}

// NewCommandAdapter creates a CommandAdapter for the given argv.
func NewCommandAdapter(command []string) *CommandAdapter {
	return &CommandAdapter{Command: command}
}

// invocationPayload is the JSON document written to the specialist's stdin.
type invocationPayload struct {
	SpecialistID string         `json:"specialist_id"`
	Instruction  string         `json:"instruction"`
	TaskContext  map[string]any `json:"task_context,omitempty"`
}

// Invoke implements Adapter.
func (a *CommandAdapter) Invoke(ctx context.Context, specialistID, instruction string, taskContext map[string]any) (*models.StructuredResult, error) {
	if len(a.Command) == 0 {
		return nil, fmt.Errorf("specialist %s has no command configured", specialistID)
	}

	payload, err := json.Marshal(invocationPayload{
		SpecialistID: specialistID,
		Instruction:  instruction,
		TaskContext:  taskContext,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal invocation: %w", err)
	}

	cmd := exec.CommandContext(ctx, a.Command[0], a.Command[1:]...)
	cmd.Dir = a.Dir
	cmd.Stdin = bytes.NewReader(payload)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("[specialist] invoking %s: %v", specialistID, a.Command)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("run %s: %w (stderr: %s)", a.Command[0], err, stderr.String())
	}

	// ParseResult fail-closes, so this never errors on content.
	res := models.ParseResult(stdout.Bytes())
	return res, nil
}
