package specialist

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/planion/planion/pkg/models"
)

func successResult(summary string) *models.StructuredResult {
	return &models.StructuredResult{
		Kind:    models.ResultSuccess,
		Success: &models.SuccessResult{Summary: summary},
	}
}

func TestRegistryResolveAndInvoke(t *testing.T) {
	r := NewRegistry()
	r.Register(SpecialistCoder, Func(func(_ context.Context, id, instruction string, _ map[string]any) (*models.StructuredResult, error) {
		if id != SpecialistCoder {
			t.Errorf("adapter received id %q", id)
		}
		return successResult("did: " + instruction), nil
	}))

	res, err := r.Invoke(context.Background(), SpecialistCoder, "write the thing", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Kind != models.ResultSuccess || res.Success.Summary != "did: write the thing" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestRegistryUnknownSpecialist(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "welder", "x", nil)
	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if fe.SpecialistID != "welder" {
		t.Errorf("unexpected specialist id in error: %s", fe.SpecialistID)
	}
}

func TestRegistryWrapsTransportError(t *testing.T) {
	r := NewRegistry()
	boom := fmt.Errorf("connection reset")
	r.Register(SpecialistResearcher, Func(func(context.Context, string, string, map[string]any) (*models.StructuredResult, error) {
		return nil, boom
	}))

	_, err := r.Invoke(context.Background(), SpecialistResearcher, "x", nil)
	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Error("FailureError must wrap the underlying cause")
	}
}

func TestRegistryNilResultIsFailure(t *testing.T) {
	r := NewRegistry()
	r.Register(SpecialistCoder, Func(func(context.Context, string, string, map[string]any) (*models.StructuredResult, error) {
		return nil, nil
	}))

	_, err := r.Invoke(context.Background(), SpecialistCoder, "x", nil)
	var fe *FailureError
	if !errors.As(err, &fe) {
		t.Fatalf("nil result with nil error must become a FailureError, got %v", err)
	}
}

func TestRegistryKnown(t *testing.T) {
	r := NewRegistry()
	noop := Func(func(context.Context, string, string, map[string]any) (*models.StructuredResult, error) {
		return successResult("ok"), nil
	})
	r.Register(SpecialistResearcher, noop)
	r.Register(SpecialistCoder, noop)
	r.Register(SpecialistSystemOperator, noop)

	want := []string{SpecialistCoder, SpecialistResearcher, SpecialistSystemOperator}
	if got := r.Known(); !reflect.DeepEqual(got, want) {
		t.Errorf("known ids: got %v, want %v", got, want)
	}
}

func TestCommandAdapterParsesStdout(t *testing.T) {
	a := NewCommandAdapter([]string{"sh", "-c", `echo '{"kind":"success","success":{"summary":"ran"}}'`})

	res, err := a.Invoke(context.Background(), SpecialistSystemOperator, "run it", nil)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.Kind != models.ResultSuccess || res.Success.Summary != "ran" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestCommandAdapterFailClosesOnGarbage(t *testing.T) {
	a := NewCommandAdapter([]string{"sh", "-c", `echo 'I refuse to emit JSON'`})

	res, err := a.Invoke(context.Background(), SpecialistCoder, "x", nil)
	if err != nil {
		t.Fatalf("garbage output is not a transport error: %v", err)
	}
	if res.Kind != models.ResultFailed {
		t.Fatalf("expected failed result, got %s", res.Kind)
	}
	if !res.Failed.RequiresIntervention {
		t.Error("malformed output must require intervention")
	}
}

func TestCommandAdapterCancellation(t *testing.T) {
	a := NewCommandAdapter([]string{"sleep", "60"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Invoke(ctx, SpecialistCoder, "x", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestCommandAdapterNoCommand(t *testing.T) {
	a := &CommandAdapter{}
	if _, err := a.Invoke(context.Background(), SpecialistCoder, "x", nil); err == nil {
		t.Error("expected error for missing command")
	}
}
