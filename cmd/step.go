package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wasi-warden/warden/internal/audit"
	"github.com/wasi-warden/warden/internal/executor"
	"github.com/wasi-warden/warden/internal/orchestrator"
	"github.com/wasi-warden/warden/internal/policy"
	"github.com/wasi-warden/warden/internal/sandbox"
)

var (
	stepPolicyPath string
	stepGuestPath  string
	stepGoal       string
	stepObs        string
	stepTaskID     string
	stepFuelUnits  int64
)

// stepCmd runs exactly one task to completion: load the policy, compile and
// instantiate the guest once, drive the orchestration loop, and print the
// final summary document (§6).
var stepCmd = &cobra.Command{
	Use:   "step",
	Short: "Run one agentic task inside a sandboxed guest to completion",
	RunE:  runStep,
}

func init() {
	stepCmd.Flags().StringVar(&stepPolicyPath, "policy", "", "path to the policy document (required)")
	stepCmd.Flags().StringVar(&stepGuestPath, "guest", "", "path to the compiled WASI guest module (required)")
	stepCmd.Flags().StringVar(&stepGoal, "task", "", "the task goal handed to the guest (required)")
	stepCmd.Flags().StringVar(&stepObs, "obs", "", "initial observation JSON handed to the guest's first step (defaults to an empty observation)")
	stepCmd.Flags().StringVar(&stepTaskID, "task-id", "", "task identifier; a random UUID is generated if absent")
	stepCmd.Flags().Int64Var(&stepFuelUnits, "fuel-units", sandbox.FuelUnitsDefault, "call-boundary fuel budget for the sandbox")
	_ = stepCmd.MarkFlagRequired("policy")
	_ = stepCmd.MarkFlagRequired("guest")
	_ = stepCmd.MarkFlagRequired("task")
}

// summary is the single JSON document the host prints summarizing the final
// task state, per §6.
type summary struct {
	TaskID      string          `json:"task_id"`
	Outcome     string          `json:"outcome"`
	Result      json.RawMessage `json:"result,omitempty"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Message     string          `json:"message,omitempty"`
}

func runStep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	taskID := stepTaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}

	pol, err := policy.Load(stepPolicyPath)
	if err != nil {
		return hostError(fmt.Errorf("load policy: %w", err))
	}

	logger, err := audit.Open(ctx, resolveAuditPath(pol), pol.OTELEndpoint)
	if err != nil {
		return hostError(fmt.Errorf("open audit log: %w", err))
	}
	defer logger.Close(ctx)

	wasmBytes, err := os.ReadFile(stepGuestPath)
	if err != nil {
		return hostError(fmt.Errorf("read guest module: %w", err))
	}

	engine, err := sandbox.NewEngine(ctx, wasmBytes)
	if err != nil {
		return hostError(fmt.Errorf("compile guest module: %w", err))
	}
	defer engine.Close(ctx)

	sb, err := sandbox.New(ctx, engine, pol, stepFuelUnits)
	if err != nil {
		return hostError(fmt.Errorf("instantiate sandbox: %w", err))
	}
	defer sb.Close(ctx)

	var initialObs json.RawMessage
	if stepObs != "" {
		if !json.Valid([]byte(stepObs)) {
			return hostError(fmt.Errorf("--obs is not valid JSON"))
		}
		initialObs = json.RawMessage(stepObs)
	}

	ex := executor.New(sb, logger)
	loop := orchestrator.New(sb, ex, logger)

	task := orchestrator.Task{
		ID:                 taskID,
		Goal:               stepGoal,
		InitialObservation: initialObs,
		Policy:             pol,
	}

	outcome, err := loop.Run(ctx, task)
	if err != nil {
		return hostError(fmt.Errorf("run task: %w", err))
	}

	return emitSummary(taskID, outcome)
}

func resolveAuditPath(pol *policy.Snapshot) string {
	if pol.AuditLogPath == "" {
		return "audit.jsonl"
	}
	return pol.AuditLogPath
}

func emitSummary(taskID string, outcome orchestrator.Outcome) error {
	s := summary{
		TaskID:      taskID,
		Outcome:     string(outcome.Kind),
		Result:      outcome.Result,
		FailureKind: outcome.FailureKind,
		Message:     outcome.Message,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return hostError(fmt.Errorf("encode summary: %w", err))
	}

	switch outcome.Kind {
	case orchestrator.Success:
		return nil
	case orchestrator.BudgetExceeded:
		os.Exit(1)
	case orchestrator.TaskFailure:
		os.Exit(2)
	}
	return nil
}

// hostError prints the host-level failure as a summary document (rather
// than a bare stderr message) so callers always get one JSON document on
// stdout, then exits with code 3 (§6).
func hostError(err error) error {
	s := summary{Outcome: "host_error", Message: err.Error()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(s)
	os.Exit(3)
	return nil
}
