package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wasi-warden/warden/internal/audit"
	"github.com/wasi-warden/warden/internal/executor"
	"github.com/wasi-warden/warden/internal/policy"
)

// fakeStepper replays a scripted sequence of plan JSON strings, one per
// call to Step, so the loop's protocol handling can be tested without a
// real guest module.
type fakeStepper struct {
	plans     []string
	calls     int
	exhausted bool
}

func (f *fakeStepper) Step(_ context.Context, _, _ string) (string, error) {
	if f.calls >= len(f.plans) {
		f.calls++
		return `{"done":false,"actions":[]}`, nil
	}
	p := f.plans[f.calls]
	f.calls++
	return p, nil
}

func (f *fakeStepper) FuelExhausted() bool { return f.exhausted }

// fakeDispatcher records the actions it was asked to execute and returns a
// canned report per action.
type fakeDispatcher struct {
	reports func(actions []executor.Action) []executor.Report
}

func (f *fakeDispatcher) Execute(_ context.Context, _ string, _ int, actions []executor.Action) []executor.Report {
	if f.reports != nil {
		return f.reports(actions)
	}
	out := make([]executor.Report, len(actions))
	for i, a := range actions {
		out[i] = executor.Report{Capability: a.Capability, Success: true}
	}
	return out
}

func newTestLogger(t *testing.T) *audit.Logger {
	t.Helper()
	l, err := audit.Open(context.Background(), t.TempDir()+"/audit.jsonl", "")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close(context.Background()) })
	return l
}

func TestLoop_EmptyPlanCompletesImmediately(t *testing.T) {
	stepper := &fakeStepper{plans: []string{`{"done":true}`}}
	loop := New(stepper, &fakeDispatcher{}, newTestLogger(t))

	task := Task{ID: "noop", Goal: "noop", Policy: &policy.Snapshot{MaxSteps: 32}}
	outcome, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected host error: %v", err)
	}
	if outcome.Kind != Success {
		t.Fatalf("expected Success, got %+v", outcome)
	}
	if stepper.calls != 1 {
		t.Fatalf("expected exactly one step call, got %d", stepper.calls)
	}
}

func TestLoop_BudgetExceeded(t *testing.T) {
	stepper := &fakeStepper{plans: []string{
		`{"done":false,"actions":[]}`,
		`{"done":false,"actions":[]}`,
		`{"done":false,"actions":[]}`,
	}}
	loop := New(stepper, &fakeDispatcher{}, newTestLogger(t))

	task := Task{ID: "never-completes", Goal: "loop forever", Policy: &policy.Snapshot{MaxSteps: 3}}
	outcome, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected host error: %v", err)
	}
	if outcome.Kind != BudgetExceeded {
		t.Fatalf("expected BudgetExceeded, got %+v", outcome)
	}
	if stepper.calls != 3 {
		t.Fatalf("expected exactly max_steps calls, got %d", stepper.calls)
	}
}

func TestLoop_PathEscapeIsNonFatal(t *testing.T) {
	stepper := &fakeStepper{plans: []string{
		`{"done":false,"actions":[{"capability":"fs.read_file","input":{"dir":1,"relative_path":"../etc/passwd"}}]}`,
		`{"done":true}`,
	}}
	dispatcher := &fakeDispatcher{
		reports: func(actions []executor.Action) []executor.Report {
			return []executor.Report{{
				Capability: actions[0].Capability,
				Success:    false,
				Error:      &executor.ReportError{Kind: "PermissionDenied", Message: "path escapes workspace"},
			}}
		},
	}
	loop := New(stepper, dispatcher, newTestLogger(t))

	task := Task{ID: "escape", Goal: "read a file", Policy: &policy.Snapshot{MaxSteps: 32}}
	outcome, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected host error: %v", err)
	}
	if outcome.Kind != Success {
		t.Fatalf("expected the loop to continue to completion, got %+v", outcome)
	}
	if stepper.calls != 2 {
		t.Fatalf("expected two step calls (failure then completion), got %d", stepper.calls)
	}
}

func TestLoop_MalformedPlanIsTaskFailure(t *testing.T) {
	stepper := &fakeStepper{plans: []string{`not json`}}
	loop := New(stepper, &fakeDispatcher{}, newTestLogger(t))

	task := Task{ID: "bad-guest", Goal: "whatever", Policy: &policy.Snapshot{MaxSteps: 32}}
	outcome, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected host error: %v", err)
	}
	if outcome.Kind != TaskFailure || outcome.FailureKind != "SchemaError" {
		t.Fatalf("expected TaskFailure/SchemaError, got %+v", outcome)
	}
}

func TestLoop_ReservesParallelAnnotation(t *testing.T) {
	stepper := &fakeStepper{plans: []string{
		`{"done":false,"actions":[{"capability":"fs.read_file","input":{"parallel":true}}]}`,
	}}
	loop := New(stepper, &fakeDispatcher{}, newTestLogger(t))

	task := Task{ID: "parallel", Goal: "try parallel", Policy: &policy.Snapshot{MaxSteps: 32}}
	outcome, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected host error: %v", err)
	}
	if outcome.Kind != TaskFailure || outcome.FailureKind != "SchemaError" {
		t.Fatalf("expected the parallel annotation to be rejected, got %+v", outcome)
	}
}

func TestLoop_InitialObservationDefaultsToEmpty(t *testing.T) {
	var gotObs string
	stepper := &stepCapturingFakeStepper{onStep: func(_ context.Context, _, obs string) {
		gotObs = obs
	}}
	loop := New(stepper, &fakeDispatcher{}, newTestLogger(t))

	task := Task{ID: "t", Goal: "g", Policy: &policy.Snapshot{MaxSteps: 1}}
	_, err := loop.Run(context.Background(), task)
	if err != nil {
		t.Fatal(err)
	}

	var parsed executor.Observation
	if err := json.Unmarshal([]byte(gotObs), &parsed); err != nil {
		t.Fatalf("expected valid JSON observation, got %q: %v", gotObs, err)
	}
	if len(parsed.Actions) != 0 {
		t.Fatalf("expected empty actions on first observation, got %+v", parsed.Actions)
	}
}

type stepCapturingFakeStepper struct {
	onStep func(ctx context.Context, task, obs string)
}

func (s *stepCapturingFakeStepper) Step(ctx context.Context, task, obs string) (string, error) {
	s.onStep(ctx, task, obs)
	return `{"done":true}`, nil
}

func (s *stepCapturingFakeStepper) FuelExhausted() bool { return false }
