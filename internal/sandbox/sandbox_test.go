package sandbox

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// newFakeGuestModule builds a wazero host module that plays the role of a
// guest: it backs alloc/dealloc with a bump allocator and step with a
// canned JSON response, so newWazeroGuest's export lookup can be exercised
// without compiling real Wasm bytecode.
func newFakeGuestModule(t *testing.T, response string) (api.Module, func()) {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)

	var nextFree uint32 = 1024

	builder := rt.NewHostModuleBuilder("guest")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, size uint32) uint32 {
			ptr := nextFree
			nextFree += size
			return ptr
		}).
		Export("alloc")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, size uint32) {}).
		Export("dealloc")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, taskPtr, taskLen, obsPtr, obsLen uint32) uint64 {
			mem := m.Memory()
			ptr := nextFree
			respBytes := []byte(response)
			mem.Write(ptr, respBytes)
			nextFree += uint32(len(respBytes))
			return packPtrLen(ptr, uint32(len(respBytes)))
		}).
		Export("step")

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate fake guest: %v", err)
	}
	return mod, func() { _ = rt.Close(ctx) }
}

func TestNewWazeroGuest_ResolvesExports(t *testing.T) {
	mod, closeFn := newFakeGuestModule(t, `{"done":true,"result":{"ok":1}}`)
	defer closeFn()

	// Host modules exported via NewHostModuleBuilder don't carry their own
	// addressable linear memory the way a compiled Wasm module does, so
	// this test checks only that the alloc/dealloc/step exports resolve; it
	// does not call Step, and no test in this package exercises the
	// memory-backed read/write path.
	g, err := newWazeroGuest(mod)
	if err != nil {
		t.Fatalf("newWazeroGuest: %v", err)
	}

	if g.step == nil || g.alloc == nil || g.dealloc == nil {
		t.Fatal("expected alloc, dealloc, and step to be resolved")
	}
}

func TestNewWazeroGuest_MissingExportsRejected(t *testing.T) {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	builder := rt.NewHostModuleBuilder("incomplete")
	builder.NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, size uint32) uint32 { return 0 }).
		Export("alloc")

	mod, err := builder.Instantiate(ctx)
	if err != nil {
		t.Fatalf("instantiate: %v", err)
	}

	if _, err := newWazeroGuest(mod); err == nil {
		t.Fatal("expected error for guest missing dealloc/step exports")
	}
}

func TestPackUnpackPtrLen(t *testing.T) {
	cases := []struct {
		ptr, length uint32
	}{
		{0, 0},
		{1024, 256},
		{0xFFFFFFFF, 0xFFFFFFFF},
	}
	for _, c := range cases {
		packed := packPtrLen(c.ptr, c.length)
		gotPtr, gotLen := unpackPtrLen(packed)
		if gotPtr != c.ptr || gotLen != c.length {
			t.Errorf("pack/unpack(%d, %d) = (%d, %d)", c.ptr, c.length, gotPtr, gotLen)
		}
	}
}
