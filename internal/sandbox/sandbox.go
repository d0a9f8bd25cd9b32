package sandbox

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wasi-warden/warden/internal/policy"
)

// FuelUnitsDefault bounds how many guest/host call-boundary crossings one
// task may spend before the sandbox is torn down as BudgetExceeded-adjacent
// (a guest trap from context cancellation, per §4.1's failure list).
const FuelUnitsDefault = 100_000

// Sandbox is the per-task isolation boundary: it owns the guest's linear
// memory (via its Guest), the capability handle tables, the alias map, and
// the policy snapshot in effect. A Sandbox is created at loop start and
// torn down at loop end; it is never reused or shared across tasks (§3).
type Sandbox struct {
	Guest   Guest
	Handles *HandleTable
	Policy  *policy.Snapshot

	cancel context.CancelFunc
	budget *fuelBudget
}

// New instantiates a fresh guest module from engine's cached compiled
// artifact with zero ambient authority: no preopened directories, no
// inherited environment, no network, and a bounded fuel budget drawn from
// fuelUnits.
func New(ctx context.Context, engine *Engine, pol *policy.Snapshot, fuelUnits int64) (*Sandbox, error) {
	sandboxCtx, cancel := context.WithCancel(ctx)

	budget := newFuelBudget(fuelUnits, cancel)
	sandboxCtx = experimental.WithFunctionListenerFactory(sandboxCtx, &listenerFactory{budget: budget})

	modCfg := wazero.NewModuleConfig().
		WithStartFunctions(). // no _start/_initialize auto-run; the host drives step() explicitly
		WithStdout(nil).
		WithStderr(nil).
		WithStdin(nil)
		// Deliberately no WithFS, WithEnv, or WithSysWalltime/WithSysNanosleep
		// overrides beyond defaults: no preopens, no inherited environment,
		// only a monotonic clock (§4.1).

	mod, err := engine.runtime.InstantiateModule(sandboxCtx, engine.compiled, modCfg)
	if err != nil {
		cancel()
		return nil, err
	}

	guest, err := newWazeroGuest(mod)
	if err != nil {
		_ = mod.Close(sandboxCtx)
		cancel()
		return nil, err
	}

	return &Sandbox{
		Guest:   guest,
		Handles: NewHandleTable(pol.Workspace),
		Policy:  pol,
		cancel:  cancel,
		budget:  budget,
	}, nil
}

// Step invokes the guest's step export under the per-action timeout derived
// from the policy, in addition to the sandbox-lifetime fuel budget.
func (s *Sandbox) Step(ctx context.Context, task, observation string) (string, error) {
	stepCtx, cancel := context.WithTimeout(ctx, s.stepTimeout())
	defer cancel()
	return s.Guest.Step(stepCtx, task, observation)
}

func (s *Sandbox) stepTimeout() time.Duration {
	if s.Policy.PerActionMs <= 0 {
		return 30 * time.Second
	}
	// A step may dispatch many actions; give it headroom over a single
	// action's budget rather than reusing it verbatim.
	return time.Duration(s.Policy.PerActionMs) * time.Millisecond * 8
}

// FuelExhausted reports whether the sandbox's CPU-bounding budget has been
// spent, meaning the next guest call will trap via context cancellation.
func (s *Sandbox) FuelExhausted() bool {
	return s.budget.exhausted()
}

// Close tears down the sandbox: releases every capability handle it held —
// browser sessions in creation order, followed by any process still
// tracked — then closes the guest's linear memory, satisfying §3's
// destructor invariant.
func (s *Sandbox) Close(ctx context.Context) error {
	defer s.cancel()
	s.Handles.Teardown()
	return s.Guest.Close(ctx)
}
