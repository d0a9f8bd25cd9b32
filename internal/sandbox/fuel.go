package sandbox

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// fuelBudget is the coarse CPU-bounding mechanism described in §4.1: wazero
// does not expose a true per-instruction fuel counter to interpreter-mode
// callers, so the budget is spent one unit per guest-to-host function-call
// boundary (every exported or imported call) and exhaustion cancels the
// sandbox's context, which wazero observes via WithCloseOnContextDone.
type fuelBudget struct {
	remaining int64
	cancel    context.CancelFunc
}

func newFuelBudget(units int64, cancel context.CancelFunc) *fuelBudget {
	return &fuelBudget{remaining: units, cancel: cancel}
}

// spend decrements the budget by one unit and cancels the sandbox's context
// the moment it is exhausted. It is safe to call after exhaustion: the
// cancellation is idempotent and further spends are harmless no-ops.
func (f *fuelBudget) spend() {
	if atomic.AddInt64(&f.remaining, -1) < 0 {
		f.cancel()
	}
}

func (f *fuelBudget) exhausted() bool {
	return atomic.LoadInt64(&f.remaining) < 0
}

// listenerFactory adapts fuelBudget to wazero's experimental function
// listener hook so every function call crossing the guest boundary spends
// one unit, regardless of which export or import is invoked.
type listenerFactory struct {
	budget *fuelBudget
}

func (f *listenerFactory) NewListener(api.FunctionDefinition) experimental.FunctionListener {
	return &fuelListener{budget: f.budget}
}

type fuelListener struct {
	budget *fuelBudget
}

func (l *fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	l.budget.spend()
}

func (l *fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}
func (l *fuelListener) Abandon(context.Context, api.Module, api.FunctionDefinition)          {}
