// Package orchestrator drives the sandboxed planner's step/act/observe
// protocol to completion under a bounded step budget (§4.4).
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/wasi-warden/warden/internal/audit"
	"github.com/wasi-warden/warden/internal/capability"
	"github.com/wasi-warden/warden/internal/executor"
	"github.com/wasi-warden/warden/internal/policy"
)

// Task is an immutable unit of work: a goal, an initial observation, and
// the policy snapshot in effect for its lifetime (§3).
type Task struct {
	ID                 string
	Goal               string
	InitialObservation json.RawMessage
	Policy             *policy.Snapshot
}

// Outcome classifies how a task's loop ended, matching the CLI exit-code
// contract in §6: Success → 0, BudgetExceeded → 1, TaskFailure → 2. Host or
// policy errors never reach Outcome; they are returned as a plain error from
// Run and map to exit 3 in the CLI layer.
type OutcomeKind string

const (
	Success        OutcomeKind = "success"
	BudgetExceeded OutcomeKind = "budget_exceeded"
	TaskFailure    OutcomeKind = "task_failure"
)

type Outcome struct {
	Kind        OutcomeKind
	Result      json.RawMessage
	FailureKind string
	Message     string
}

// Stepper is the subset of *sandbox.Sandbox the loop needs. It exists so
// tests can drive the loop's protocol handling without a real guest module.
type Stepper interface {
	Step(ctx context.Context, task, observation string) (string, error)
	FuelExhausted() bool
}

// Dispatcher is the subset of *executor.Executor the loop needs.
type Dispatcher interface {
	Execute(ctx context.Context, taskID string, stepIndex int, actions []executor.Action) []executor.Report
}

// Loop drives one Sandbox through the step/act/observe protocol.
type Loop struct {
	sb  Stepper
	ex  Dispatcher
	log *audit.Logger
}

func New(sb Stepper, ex Dispatcher, log *audit.Logger) *Loop {
	return &Loop{sb: sb, ex: ex, log: log}
}

// Run executes the bounded plan→act→observe protocol of §4.4.
func (l *Loop) Run(ctx context.Context, task Task) (Outcome, error) {
	obs := executor.Observation{Actions: nil}
	obsJSON := task.InitialObservation
	if len(obsJSON) == 0 {
		var err error
		obsJSON, err = json.Marshal(obs)
		if err != nil {
			return Outcome{}, fmt.Errorf("marshal initial observation: %w", err)
		}
	}

	maxSteps := task.Policy.MaxSteps
	for step := 0; step < maxSteps; step++ {
		if l.sb.FuelExhausted() {
			return Outcome{Kind: TaskFailure, FailureKind: string(capability.BudgetExceeded), Message: "sandbox fuel exhausted"}, nil
		}

		planJSON, err := l.sb.Step(ctx, task.Goal, string(obsJSON))
		if err != nil {
			return l.terminalOutcome(err), nil
		}

		var plan executor.Plan
		if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
			return Outcome{Kind: TaskFailure, FailureKind: string(capability.SchemaError), Message: fmt.Sprintf("guest returned non-conforming JSON: %v", err)}, nil
		}

		if plan.Done {
			return Outcome{Kind: Success, Result: plan.Result}, nil
		}

		if hasParallelAnnotation(plan) {
			return Outcome{Kind: TaskFailure, FailureKind: string(capability.SchemaError), Message: "parallel execution is reserved and not yet supported"}, nil
		}

		reports := l.ex.Execute(ctx, task.ID, step, plan.Actions)
		l.log.RecordStep(task.ID, step, len(plan.Actions))

		obs = executor.Observation{Actions: reports}
		obsJSON, err = json.Marshal(obs)
		if err != nil {
			return Outcome{}, fmt.Errorf("marshal observation: %w", err)
		}

		slog.Debug("orchestration step completed", "task", task.ID, "step", step, "actions", len(plan.Actions))
	}

	return Outcome{Kind: BudgetExceeded, FailureKind: string(capability.BudgetExceeded), Message: fmt.Sprintf("exceeded max_steps=%d", maxSteps)}, nil
}

// hasParallelAnnotation reserves the `parallel` field shape in an action's
// input object without honoring it: the open question in §9 says
// implementers should reserve the shape but reject the value. A `parallel`
// key placed beside `capability` (outside `input`) is not inspected.
func hasParallelAnnotation(plan executor.Plan) bool {
	for _, a := range plan.Actions {
		var probe struct {
			Parallel *bool `json:"parallel"`
		}
		if err := json.Unmarshal(a.Input, &probe); err == nil && probe.Parallel != nil && *probe.Parallel {
			return true
		}
	}
	return false
}

// terminalOutcome classifies a fatal error from guest.Step (trap, fuel
// exhaustion via context cancellation, instantiation failure) into the
// loop-level error kinds of §7.
func (l *Loop) terminalOutcome(err error) Outcome {
	if l.sb.FuelExhausted() {
		return Outcome{Kind: TaskFailure, FailureKind: string(capability.BudgetExceeded), Message: "sandbox fuel exhausted: " + err.Error()}
	}
	return Outcome{
		Kind:        TaskFailure,
		FailureKind: string(capability.GuestTrap),
		Message:     err.Error(),
	}
}
