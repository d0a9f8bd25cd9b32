// Package sandbox compiles the guest module once per host process and
// instantiates one isolated, zero-ambient-authority sandbox per task.
package sandbox

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Engine is the process-global compilation and WASI environment. It is
// created once at host startup and shared read-only by every task's
// Sandbox.
type Engine struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	cache    wazero.CompilationCache
}

// NewEngine compiles wasmBytes once, instantiates WASI Preview 1 for the
// runtime, and returns the reusable Engine. Compilation failure here is
// fatal to the host process (§4.1).
func NewEngine(ctx context.Context, wasmBytes []byte) (*Engine, error) {
	cache := wazero.NewCompilationCache()
	cfg := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithCompilationCache(cache)

	rt := wazero.NewRuntimeWithConfig(ctx, cfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile guest module: %w", err)
	}

	return &Engine{runtime: rt, compiled: compiled, cache: cache}, nil
}

// Close releases the engine's runtime, compiled module, and compilation
// cache. It must run after every task using this Engine has finished.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.compiled.Close(ctx); err != nil {
		return err
	}
	if err := e.runtime.Close(ctx); err != nil {
		return err
	}
	return e.cache.Close(ctx)
}
