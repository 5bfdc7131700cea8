package awesome

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Handle is an indirect reference to a value in the Lua global namespace.
// It stores a key rather than the value so that native state never shares
// the lifetime of the Lua state. A dotted handle such as
// "__button_class.signals" walks fields starting from a global.
//
// Handles are resolved on every use; callers must not cache the result.
type Handle string

// IsZero reports whether the handle is absent.
func (h Handle) IsZero() bool {
	return h == ""
}

func (h Handle) String() string {
	return string(h)
}

// Resolve looks the handle up through L's globals. It reports false when the
// handle is absent, a step of the path is not a table, or the value is nil.
func (h Handle) Resolve(L *lua.LState) (lua.LValue, bool) {
	if h.IsZero() {
		return lua.LNil, false
	}
	parts := strings.Split(string(h), ".")
	value := L.GetGlobal(parts[0])
	for _, part := range parts[1:] {
		tbl, ok := value.(*lua.LTable)
		if !ok {
			return lua.LNil, false
		}
		value = L.GetField(tbl, part)
	}
	if value == lua.LNil {
		return lua.LNil, false
	}
	return value, true
}

// Function resolves the handle and requires the result to be callable.
func (h Handle) Function(L *lua.LState) (*lua.LFunction, bool) {
	value, ok := h.Resolve(L)
	if !ok {
		return nil, false
	}
	fn, ok := value.(*lua.LFunction)
	return fn, ok
}

// Table resolves the handle and requires the result to be a table.
func (h Handle) Table(L *lua.LState) (*lua.LTable, bool) {
	value, ok := h.Resolve(L)
	if !ok {
		return nil, false
	}
	tbl, ok := value.(*lua.LTable)
	return tbl, ok
}
