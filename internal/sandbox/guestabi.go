package sandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// Guest is the minimal ABI a guest module must export. Only three functions
// cross the Wasm boundary: the host never calls capability operations
// through guest imports — the guest requests them indirectly by returning
// an action plan from Step, which the Action Executor then carries out on
// the guest's behalf (§4.2.5, §6).
type Guest interface {
	// Step invokes the guest's step(task, observation) export and returns
	// its raw plan JSON.
	Step(ctx context.Context, task, observation string) (string, error)
	// Close releases the guest's linear memory and any other per-instance
	// runtime state.
	Close(ctx context.Context) error
}

// wazeroGuest adapts a single instantiated wazero module to the Guest
// interface using the alloc/dealloc/step export convention: the host writes
// UTF-8 bytes into guest-allocated memory, calls step(taskPtr, taskLen,
// obsPtr, obsLen), and unpacks the packed (ptr<<32|len) result to read the
// plan string back out of guest memory.
type wazeroGuest struct {
	mod api.Module

	alloc   api.Function
	dealloc api.Function
	step    api.Function
}

func newWazeroGuest(mod api.Module) (*wazeroGuest, error) {
	g := &wazeroGuest{
		mod:     mod,
		alloc:   mod.ExportedFunction("alloc"),
		dealloc: mod.ExportedFunction("dealloc"),
		step:    mod.ExportedFunction("step"),
	}
	if g.alloc == nil || g.dealloc == nil || g.step == nil {
		return nil, fmt.Errorf("guest module must export alloc, dealloc, and step")
	}
	return g, nil
}

func (g *wazeroGuest) Step(ctx context.Context, task, observation string) (string, error) {
	taskPtr, taskLen, err := g.writeString(ctx, task)
	if err != nil {
		return "", fmt.Errorf("write task: %w", err)
	}
	defer g.free(ctx, taskPtr, taskLen)

	obsPtr, obsLen, err := g.writeString(ctx, observation)
	if err != nil {
		return "", fmt.Errorf("write observation: %w", err)
	}
	defer g.free(ctx, obsPtr, obsLen)

	results, err := g.step.Call(ctx, uint64(taskPtr), uint64(taskLen), uint64(obsPtr), uint64(obsLen))
	if err != nil {
		return "", fmt.Errorf("guest trap in step: %w", err)
	}
	if len(results) != 1 {
		return "", fmt.Errorf("step returned %d results, want 1", len(results))
	}

	ptr, length := unpackPtrLen(results[0])
	defer g.free(ctx, ptr, length)

	out, ok := g.mod.Memory().Read(ptr, length)
	if !ok {
		return "", fmt.Errorf("step result out of guest memory bounds")
	}
	return string(out), nil
}

func (g *wazeroGuest) Close(ctx context.Context) error {
	return g.mod.Close(ctx)
}

func (g *wazeroGuest) writeString(ctx context.Context, s string) (uint32, uint32, error) {
	length := uint32(len(s))
	if length == 0 {
		return 0, 0, nil
	}
	results, err := g.alloc.Call(ctx, uint64(length))
	if err != nil {
		return 0, 0, fmt.Errorf("guest alloc failed: %w", err)
	}
	ptr := uint32(results[0])
	if !g.mod.Memory().Write(ptr, []byte(s)) {
		return 0, 0, fmt.Errorf("write out of guest memory bounds")
	}
	return ptr, length, nil
}

func (g *wazeroGuest) free(ctx context.Context, ptr, length uint32) {
	if length == 0 {
		return
	}
	_, _ = g.dealloc.Call(ctx, uint64(ptr), uint64(length))
}

// packPtrLen and unpackPtrLen implement the step() return convention: a
// single uint64 packing a 32-bit pointer in the high bits and a 32-bit
// length in the low bits.
func packPtrLen(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

func unpackPtrLen(v uint64) (ptr, length uint32) {
	return uint32(v >> 32), uint32(v)
}
