package awesome

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	lua "github.com/yuin/gopher-lua"
)

func TestNewClassStartsEmpty(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	class := buildClass(t, b, err)

	props, err := class.Properties()
	if err != nil {
		t.Fatalf("properties failed: %v", err)
	}
	if props.Len() != 0 {
		t.Fatalf("expected empty property table, got %d entries", props.Len())
	}
	if got := class.State().Instances(); got != 0 {
		t.Fatalf("expected zero instances, got %d", got)
	}
	if class.Name() != "" {
		t.Fatalf("unpublished class should have no name, got %q", class.Name())
	}
	meta := class.Meta()
	if meta == nil {
		t.Fatalf("expected dispatch table")
	}
	if _, ok := meta.RawGetString("signals").(*lua.LTable); !ok {
		t.Fatalf("expected signals namespace in dispatch table")
	}
	if _, ok := meta.RawGetString("__index").(*lua.LFunction); !ok {
		t.Fatalf("expected __index trap")
	}
	for _, field := range []string{"index_miss_property", "newindex_miss_property"} {
		if _, ok := class.Table().RawGetString(field).(*lua.LFunction); !ok {
			t.Fatalf("expected %s function on class table", field)
		}
	}
}

func TestNewClassRejectsClosedRuntime(t *testing.T) {
	rt := MustNewRuntime(Config{})
	rt.Close()
	if _, err := NewClass(rt, nil, nil, nil); !errors.Is(err, ErrRuntimeClosed) {
		t.Fatalf("expected closed runtime error, got %v", err)
	}
	if _, err := NewClass(nil, nil, nil, nil); err == nil {
		t.Fatalf("expected nil runtime error")
	}
}

func TestPropertyPreservesInsertionOrder(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	names := []string{"width", "height", "label", "width", "visible"}
	for _, name := range names {
		b.Property(MustNewProperty(name, L.NewFunction(func(L *lua.LState) int { return 0 }), nil))
	}
	class := buildClass(t, b, nil)

	props, _ := class.Properties()
	if props.Len() != len(names) {
		t.Fatalf("expected %d properties, got %d", len(names), props.Len())
	}
	list := class.PropertyList()
	for i, p := range list {
		if p.Name() != names[i] {
			t.Fatalf("property %d: expected %s, got %s", i, names[i], p.Name())
		}
	}
	if got := class.State().PropertyCount(); got != int64(len(names)) {
		t.Fatalf("unexpected property count %d", got)
	}
	if class.FindProperty("width") != list[0] {
		t.Fatalf("expected first width property to win lookup")
	}
}

func TestPropertyRejectsNil(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	_, err = b.Property(nil).Method("later", rt.State().NewFunction(func(L *lua.LState) int { return 0 })).Build()
	if err == nil || !strings.Contains(err.Error(), "nil property") {
		t.Fatalf("expected sticky nil property error, got %v", err)
	}
}

func TestMethodWithoutDispatchTablePanics(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	b.class.table.Metatable = lua.LNil

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic for missing dispatch table")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "no dispatch table") {
			t.Fatalf("unexpected panic value: %v", r)
		}
	}()
	b.GoMethod("draw", func(L *lua.LState) int { return 0 })
}

func TestSaveClassPublishesSameObject(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	class := buildClass(t, b.SaveClass("__panel_class"), err)

	global, ok := L.GetGlobal("__panel_class").(*lua.LTable)
	if !ok {
		t.Fatalf("expected published table")
	}
	if global != class.Table() {
		t.Fatalf("published global is not the built class table")
	}
	if class.Name() != "__panel_class" {
		t.Fatalf("unexpected class name %q", class.Name())
	}
	registered, ok := rt.Classes().Lookup("__panel_class")
	if !ok || !registered.Equal(class) {
		t.Fatalf("expected class in registry")
	}
	state := class.State()
	if state.IndexMissHandle() != "__panel_class.index_miss_property" {
		t.Fatalf("unexpected index miss handle %q", state.IndexMissHandle())
	}
	if state.NewIndexMissHandle() != "__panel_class.newindex_miss_property" {
		t.Fatalf("unexpected newindex miss handle %q", state.NewIndexMissHandle())
	}
	if state.SignalsHandle() != "__panel_class.signals" {
		t.Fatalf("unexpected signals handle %q", state.SignalsHandle())
	}
}

func TestSaveClassAliasesMutations(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	built := buildClass(t, b.SaveClass("__button_class"), err)

	looked, err := ButtonClass(rt)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !looked.Equal(built) || looked.State() != built.State() {
		t.Fatalf("lookup did not return the built class")
	}

	if err := looked.AddProperty(L, MustNewProperty("label", nil, nil)); err != nil {
		t.Fatalf("add property failed: %v", err)
	}
	if built.FindProperty("label") == nil {
		t.Fatalf("property added through lookup alias not visible through built class")
	}
	built.AddMethod("late", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("late"))
		return 1
	}))
	doString(t, rt, `result = __button_class.late()`)
	if got := L.GetGlobal("result"); got.String() != "late" {
		t.Fatalf("method added after publication not visible to scripts, got %v", got)
	}
}

func TestMethodAddedAfterSaveVisibleToInstances(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	L := rt.State()
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	b.SaveClass("__slider_class").GoMethod("value", func(L *lua.LState) int {
		L.Push(lua.LNumber(42))
		return 1
	})
	class := buildClass(t, b, nil)
	allocate(t, rt, class, "slider")

	doString(t, rt, `result = slider:value()`)
	if got := L.GetGlobal("result"); got != lua.LNumber(42) {
		t.Fatalf("unexpected method result %v", got)
	}
}

func TestSaveClassRejectsInvalidNames(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	for _, name := range []string{"", "awful.button"} {
		b, err := NewClass(rt, nil, nil, nil)
		if err != nil {
			t.Fatalf("new class failed: %v", err)
		}
		if _, err := b.SaveClass(name).Build(); err == nil || !strings.Contains(err.Error(), "invalid class name") {
			t.Fatalf("expected invalid name error for %q, got %v", name, err)
		}
	}
}

func TestSaveClassRejectsTakenName(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	first, err := NewClass(rt, nil, nil, nil)
	buildClass(t, first.SaveClass("__client_class"), err)

	second, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	if _, err := second.SaveClass("__client_class").Build(); !errors.Is(err, ErrClassExists) {
		t.Fatalf("expected class exists error, got %v", err)
	}

	// saving the same class twice is harmless
	if _, err := first.SaveClass("__client_class").Build(); err != nil {
		t.Fatalf("re-saving the same class failed: %v", err)
	}
}

func TestSaveClassRejectsSecondName(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	_, err = b.SaveClass("__first_class").SaveClass("__second_class").Build()
	if !errors.Is(err, ErrClassExists) {
		t.Fatalf("expected ErrClassExists, got %v", err)
	}
	if rt.State().GetGlobal("__second_class") != lua.LNil {
		t.Fatalf("second name must not be published")
	}
	if names := rt.Classes().Names(); len(names) != 1 || names[0] != "__first_class" {
		t.Fatalf("unexpected registry names %v", names)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewMetricsCollector(rt))
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather failed: %v", err)
	}
}

func TestSaveClassPropagatesNamespaceFailure(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	doString(t, rt, `setmetatable(_G, { __newindex = function(t, k, v) error("globals are frozen") end })`)

	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	_, err = b.SaveClass("__frozen_class").Build()
	if err == nil {
		t.Fatalf("expected namespace write failure")
	}
	if !strings.Contains(err.Error(), "globals are frozen") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := rt.Classes().Lookup("__frozen_class"); ok {
		t.Fatalf("failed publication must not register the class")
	}
}

func TestSaveClassRejectsForeignReadBack(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	doString(t, rt, `
shadow = {}
setmetatable(_G, {
  __newindex = function(t, k, v) rawset(shadow, k, v) end,
  __index = function(t, k) return "not a class" end,
})`)

	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	if _, err := b.SaveClass("__odd_class").Build(); !errors.Is(err, ErrMalformedClass) {
		t.Fatalf("expected malformed read-back error, got %v", err)
	}
}

func TestMissPolicyBuilderRejectsUnknownPolicy(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b, err := NewClass(rt, nil, nil, nil)
	if err != nil {
		t.Fatalf("new class failed: %v", err)
	}
	if _, err := b.MissPolicy(MissPolicy(99)).Build(); err == nil {
		t.Fatalf("expected invalid policy error")
	}
}
