package awesome

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

const propertyTypeName = "awesome.property"

// Property is a named field on class instances that is resolved through
// accessor functions instead of table storage. A nil getter makes the
// property write-only, a nil setter read-only. Properties are immutable once
// created.
type Property struct {
	name   string
	getter *lua.LFunction
	setter *lua.LFunction
}

// NewProperty constructs a property. Either accessor may be nil.
func NewProperty(name string, getter, setter *lua.LFunction) (*Property, error) {
	if name == "" {
		return nil, errors.New("awesome: property name must be non-empty")
	}
	return &Property{name: name, getter: getter, setter: setter}, nil
}

// MustNewProperty constructs a property or panics on invalid arguments.
func MustNewProperty(name string, getter, setter *lua.LFunction) *Property {
	p, err := NewProperty(name, getter, setter)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Property) Name() string           { return p.name }
func (p *Property) Getter() *lua.LFunction { return p.getter }
func (p *Property) Setter() *lua.LFunction { return p.setter }
func (p *Property) Readable() bool         { return p.getter != nil }
func (p *Property) Writable() bool         { return p.setter != nil }
func (p *Property) String() string         { return "property: " + p.name }

func (p *Property) get(L *lua.LState, obj lua.LValue) (lua.LValue, error) {
	if p.getter == nil {
		return lua.LNil, ErrWriteOnly
	}
	if err := L.CallByParam(lua.P{Fn: p.getter, NRet: 1, Protect: true}, obj); err != nil {
		return lua.LNil, fmt.Errorf("getter %s: %w", p.name, scriptError(err))
	}
	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

func (p *Property) set(L *lua.LState, obj, value lua.LValue) error {
	if p.setter == nil {
		return ErrReadOnly
	}
	if err := L.CallByParam(lua.P{Fn: p.setter, NRet: 0, Protect: true}, obj, value); err != nil {
		return fmt.Errorf("setter %s: %w", p.name, scriptError(err))
	}
	return nil
}

func (p *Property) toLua(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = p
	L.SetMetatable(ud, L.GetTypeMetatable(propertyTypeName))
	return ud
}

func propertyFromLua(value lua.LValue) (*Property, bool) {
	ud, ok := value.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	p, ok := ud.Value.(*Property)
	return p, ok
}

// properties in a property table are consulted in insertion order and the
// first name match wins, even when later entries share the name.
func findProperty(tbl *lua.LTable, name string) *Property {
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		if p, ok := propertyFromLua(tbl.RawGetInt(i)); ok && p.name == name {
			return p
		}
	}
	return nil
}

func listProperties(tbl *lua.LTable) []*Property {
	n := tbl.Len()
	out := make([]*Property, 0, n)
	for i := 1; i <= n; i++ {
		if p, ok := propertyFromLua(tbl.RawGetInt(i)); ok {
			out = append(out, p)
		}
	}
	return out
}

func registerPropertyType(L *lua.LState) {
	mt := L.NewTypeMetatable(propertyTypeName)
	mt.RawSetString("__index", L.NewFunction(func(L *lua.LState) int {
		p := checkProperty(L, 1)
		switch L.CheckString(2) {
		case "name":
			L.Push(lua.LString(p.name))
		case "getter":
			L.Push(optFunction(p.getter))
		case "setter":
			L.Push(optFunction(p.setter))
		default:
			L.Push(lua.LNil)
		}
		return 1
	}))
	mt.RawSetString("__newindex", L.NewFunction(func(L *lua.LState) int {
		p := checkProperty(L, 1)
		L.RaiseError("property %s is immutable", p.name)
		return 0
	}))
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(checkProperty(L, 1).String()))
		return 1
	}))
}

func checkProperty(L *lua.LState, n int) *Property {
	p, ok := propertyFromLua(L.CheckUserData(n))
	if !ok {
		L.ArgError(n, "property expected")
	}
	return p
}

func optFunction(fn *lua.LFunction) lua.LValue {
	if fn == nil {
		return lua.LNil
	}
	return fn
}
