// Package specialist defines the boundary between the orchestration core and
// the agents that execute work. The core never knows how a specialist runs;
// it hands over an instruction and gets back a structured result, or an error
// it treats as a failure.
package specialist

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/planion/planion/pkg/models"
)

// Well-known specialist ids.
const (
	SpecialistCoder          = "coder"
	SpecialistSystemOperator = "system-operator"
	SpecialistResearcher     = "researcher"
)

// Adapter invokes one specialist. Implementations must honor ctx cancellation
// and must never return a nil result with a nil error.
type Adapter interface {
	Invoke(ctx context.Context, specialistID, instruction string, taskContext map[string]any) (*models.StructuredResult, error)
}

// Func adapts a plain function into an Adapter. Used by tests and in-process
// specialists.
type Func func(ctx context.Context, specialistID, instruction string, taskContext map[string]any) (*models.StructuredResult, error)

// Invoke implements Adapter.
func (f Func) Invoke(ctx context.Context, specialistID, instruction string, taskContext map[string]any) (*models.StructuredResult, error) {
	return f(ctx, specialistID, instruction, taskContext)
}

// FailureError indicates that a specialist could not produce a result at all:
// the process died, the transport failed, or the invocation was cancelled.
// A specialist that ran but produced a bad payload is not a FailureError;
// that parses fail-closed into a failed StructuredResult instead.
type FailureError struct {
	SpecialistID string
	Err          error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("specialist %s failed: %v", e.SpecialistID, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Registry maps specialist ids to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register binds an adapter to a specialist id, replacing any previous
// binding.
func (r *Registry) Register(specialistID string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[specialistID] = a
}

// Resolve returns the adapter for a specialist id.
func (r *Registry) Resolve(specialistID string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[specialistID]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for specialist %q", specialistID)
	}
	return a, nil
}

// Known returns the registered specialist ids, sorted.
func (r *Registry) Known() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke resolves and invokes the adapter for a specialist id. Transport-level
// errors are wrapped in FailureError so callers can distinguish "the
// specialist broke" from "the specialist reported failure".
func (r *Registry) Invoke(ctx context.Context, specialistID, instruction string, taskContext map[string]any) (*models.StructuredResult, error) {
	a, err := r.Resolve(specialistID)
	if err != nil {
		return nil, &FailureError{SpecialistID: specialistID, Err: err}
	}
	res, err := a.Invoke(ctx, specialistID, instruction, taskContext)
	if err != nil {
		return nil, &FailureError{SpecialistID: specialistID, Err: err}
	}
	if res == nil {
		return nil, &FailureError{SpecialistID: specialistID, Err: fmt.Errorf("adapter returned no result")}
	}
	return res, nil
}
