package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wasi-warden/warden/internal/audit"
	"github.com/wasi-warden/warden/internal/executor"
	"github.com/wasi-warden/warden/internal/sandbox"
)

// Runner serves multiple tasks concurrently in one host process. Each task
// gets its own Sandbox and its own orchestration Loop; sandboxes never
// share state (§5, "one task = one orchestration loop = one sandbox
// instance... two tasks... no shared state").
//
// This generalizes the per-session lane model a chat-bot scheduler would
// use for per-conversation queues into one independent loop per task: there
// is no queueing or ordering guarantee across tasks, only within one task's
// own plan.
type Runner struct {
	engine *sandbox.Engine
	log    *audit.Logger

	mu       sync.Mutex
	draining bool
}

func NewRunner(engine *sandbox.Engine, log *audit.Logger) *Runner {
	return &Runner{engine: engine, log: log}
}

// RunResult pairs a task's outcome with its originating task for fan-in by
// callers that submitted a batch via RunAll.
type RunResult struct {
	Task    Task
	Outcome Outcome
	Err     error
}

// RunAll runs every task concurrently to completion and returns all
// results, preserving input order. It fails fast if the Runner is already
// draining (shutting down).
func (r *Runner) RunAll(ctx context.Context, tasks []Task, fuelUnits int64) ([]RunResult, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, fmt.Errorf("runner is draining, no new tasks accepted")
	}
	r.mu.Unlock()

	results := make([]RunResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			outcome, err := r.runOne(gctx, task, fuelUnits)
			results[i] = RunResult{Task: task, Outcome: outcome, Err: err}
			// A single task's host-level error does not cancel its
			// siblings: tasks share nothing, so one task's failure is not
			// evidence the others are unsafe to continue (§5).
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, task Task, fuelUnits int64) (Outcome, error) {
	sb, err := sandbox.New(ctx, r.engine, task.Policy, fuelUnits)
	if err != nil {
		return Outcome{}, fmt.Errorf("create sandbox for task %s: %w", task.ID, err)
	}
	defer func() {
		if closeErr := sb.Close(ctx); closeErr != nil {
			// Teardown failures are logged, not propagated: the task's own
			// outcome has already been determined by this point.
			r.log.RecordAction(task.ID, -1, -1, "sandbox.teardown", false, "ExternalFailure", nil)
		}
	}()

	ex := executor.New(sb, r.log)
	loop := New(sb, ex, r.log)
	return loop.Run(ctx, task)
}

// Drain marks the Runner as no longer accepting new task batches. In-flight
// RunAll calls still complete normally.
func (r *Runner) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}
