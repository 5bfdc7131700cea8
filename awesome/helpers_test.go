package awesome

import (
	"context"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func newTestRuntime(t testing.TB, cfg Config) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("new runtime failed: %v", err)
	}
	t.Cleanup(rt.Close)
	return rt
}

func doString(t testing.TB, rt *Runtime, source string) {
	t.Helper()
	if err := rt.DoString(context.Background(), source); err != nil {
		t.Fatalf("script failed: %v", err)
	}
}

func buildClass(t testing.TB, b *ClassBuilder, err error) *Class {
	t.Helper()
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	class, err := b.Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	return class
}

func allocate(t testing.TB, rt *Runtime, class *Class, global string) *Object {
	t.Helper()
	obj, err := class.Allocate(rt.State())
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if global != "" {
		rt.State().SetGlobal(global, obj.Table)
	}
	return obj
}

// callRecorder builds Go-backed Lua functions that remember their arguments.
type callRecorder struct {
	calls [][]lua.LValue
}

func (r *callRecorder) function(L *lua.LState, ret lua.LValue) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		args := make([]lua.LValue, L.GetTop())
		for i := range args {
			args[i] = L.Get(i + 1)
		}
		r.calls = append(r.calls, args)
		if ret == nil {
			return 0
		}
		L.Push(ret)
		return 1
	})
}
