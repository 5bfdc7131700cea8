package awesome

import (
	"testing"

	lua "github.com/yuin/gopher-lua"
)

func TestHandleResolve(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	doString(t, rt, `
top = 1
nested = { inner = { leaf = "x", fn = function() end } }`)

	tests := []struct {
		handle Handle
		ok     bool
	}{
		{"", false},
		{"top", true},
		{"nested.inner.leaf", true},
		{"nested.inner.absent", false},
		{"top.field", false},
		{"absent", false},
	}
	for _, tt := range tests {
		_, ok := tt.handle.Resolve(L)
		if ok != tt.ok {
			t.Fatalf("resolve %q: expected %v, got %v", tt.handle, tt.ok, ok)
		}
	}

	if _, ok := Handle("nested.inner.fn").Function(L); !ok {
		t.Fatalf("expected function handle")
	}
	if _, ok := Handle("nested.inner.leaf").Function(L); ok {
		t.Fatalf("string must not resolve as a function")
	}
	if tbl, ok := Handle("nested.inner").Table(L); !ok || tbl.RawGetString("leaf") != lua.LString("x") {
		t.Fatalf("expected table handle")
	}
	if !Handle("").IsZero() || Handle("top").IsZero() {
		t.Fatalf("unexpected IsZero results")
	}
}

func TestSignalsResolvedThroughHandle(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	unpublished := buildClass(t, b, nil)
	before, err := unpublished.Signals(L)
	if err != nil {
		t.Fatalf("signals before publication failed: %v", err)
	}

	class := buildClass(t, b.SaveClass("__signal_class"), nil)
	after, err := class.Signals(L)
	if err != nil {
		t.Fatalf("signals after publication failed: %v", err)
	}
	if before != after {
		t.Fatalf("expected the dispatch table signals namespace")
	}

	doString(t, rt, `getmetatable(__signal_class).signals = { replaced = true }`)
	replaced, err := class.Signals(L)
	if err != nil {
		t.Fatalf("signals after replacement failed: %v", err)
	}
	if replaced.RawGetString("replaced") != lua.LTrue {
		t.Fatalf("signals handle was not re-resolved")
	}
}
