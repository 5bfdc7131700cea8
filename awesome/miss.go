package awesome

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// MissPolicy selects what the built-in miss handlers do with a field that
// matched no method and no property.
type MissPolicy int

const (
	// MissUnimplemented fails every miss with ErrMissNotImplemented.
	MissUnimplemented MissPolicy = iota
	// MissFail fails every miss with ErrNoSuchProperty.
	MissFail
	// MissIgnore reads nil and drops writes.
	MissIgnore
)

var missPolicyNames = map[MissPolicy]string{
	MissUnimplemented: "unimplemented",
	MissFail:          "fail",
	MissIgnore:        "ignore",
}

func (p MissPolicy) String() string {
	if name, ok := missPolicyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("MissPolicy(%d)", int(p))
}

func (p MissPolicy) valid() bool {
	_, ok := missPolicyNames[p]
	return ok
}

// ParseMissPolicy maps "unimplemented", "fail" or "ignore" to a policy. The
// empty string selects MissUnimplemented.
func ParseMissPolicy(s string) (MissPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return MissUnimplemented, nil
	}
	for policy, name := range missPolicyNames {
		if name == s {
			return policy, nil
		}
	}
	return 0, fmt.Errorf("awesome: unknown miss policy %q", s)
}

func (p MissPolicy) failure(handler string) error {
	switch p {
	case MissIgnore:
		return nil
	case MissFail:
		return fmt.Errorf("%s: %w", handler, ErrNoSuchProperty)
	default:
		return fmt.Errorf("%s: %w", handler, ErrMissNotImplemented)
	}
}

const (
	indexMissField    = "index_miss_property"
	newIndexMissField = "newindex_miss_property"
)

// builtinMissFailures maps the exact messages the built-in handlers raise
// back to their sentinels.
var builtinMissFailures = func() map[string]error {
	out := make(map[string]error)
	for _, field := range []string{indexMissField, newIndexMissField} {
		for _, policy := range []MissPolicy{MissUnimplemented, MissFail} {
			err := policy.failure(field)
			out[err.Error()] = errors.Unwrap(err)
		}
	}
	return out
}()

// missCause turns a failed miss handler call into the error reported to Go
// callers. Failures of the built-in handlers keep their sentinel.
func missCause(err error) error {
	err = scriptError(err)
	var se *ScriptError
	if errors.As(err, &se) {
		se.Kind = builtinMissFailures[se.Message]
	}
	if errors.Is(err, ErrNoSuchProperty) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrNoSuchProperty, err)
}

// raiseMissFailure raises err's message unadorned so missCause can
// recognise it.
func raiseMissFailure(L *lua.LState, err error) {
	L.Error(lua.LString(err.Error()), 0)
}

// indexMissProperty is the built-in index_miss_property handler. It reads
// the policy on every call so that later policy changes apply.
func indexMissProperty(state *ClassState) lua.LGFunction {
	return func(L *lua.LState) int {
		L.CheckTable(1)
		if err := state.Policy().failure(indexMissField); err != nil {
			raiseMissFailure(L, err)
			return 0
		}
		L.Push(lua.LNil)
		return 1
	}
}

// newIndexMissProperty is the built-in newindex_miss_property handler.
func newIndexMissProperty(state *ClassState) lua.LGFunction {
	return func(L *lua.LState) int {
		L.CheckTable(1)
		if err := state.Policy().failure(newIndexMissField); err != nil {
			raiseMissFailure(L, err)
		}
		return 0
	}
}

// callIndexMiss resolves the index miss handle and calls it once with
// (instance, key). An absent handler or a failing one is reported as
// ErrNoSuchProperty; the built-in handler under MissUnimplemented also
// matches ErrMissNotImplemented.
func (c *Class) callIndexMiss(L *lua.LState, obj lua.LValue, key lua.LValue) (lua.LValue, error) {
	name := lua.LVAsString(key)
	fn, ok := c.missHandler(L, c.state.indexMiss, indexMissField)
	if !ok {
		return lua.LNil, resolutionError(c.state, opIndex, name, ErrNoSuchProperty)
	}
	c.state.indexMisses.Add(1)
	c.state.logger.Debug("index miss", "class", c.state.name, "key", name, "handler", c.state.indexMiss.String())
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, obj, key); err != nil {
		return lua.LNil, resolutionError(c.state, opIndex, name, missCause(err))
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// callNewIndexMiss resolves the newindex miss handle and calls it once
// with (instance, key, value).
func (c *Class) callNewIndexMiss(L *lua.LState, obj lua.LValue, key lua.LValue, value lua.LValue) error {
	name := lua.LVAsString(key)
	fn, ok := c.missHandler(L, c.state.newIndexMiss, newIndexMissField)
	if !ok {
		return resolutionError(c.state, opNewIndex, name, ErrNoSuchProperty)
	}
	c.state.newIndexMisses.Add(1)
	c.state.logger.Debug("newindex miss", "class", c.state.name, "key", name, "handler", c.state.newIndexMiss.String())
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, obj, key, value); err != nil {
		return resolutionError(c.state, opNewIndex, name, missCause(err))
	}
	return nil
}

// missHandler resolves h. Unpublished classes have no handle yet and fall
// back to the handler stored on their own table.
func (c *Class) missHandler(L *lua.LState, h Handle, field string) (*lua.LFunction, bool) {
	if h.IsZero() {
		fn, ok := c.table.RawGetString(field).(*lua.LFunction)
		return fn, ok
	}
	fn, ok := h.Function(L)
	if !ok {
		c.state.logger.Warn("miss handler handle did not resolve to a function", "class", c.state.name, "handle", h.String())
	}
	return fn, ok
}
