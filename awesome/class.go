package awesome

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

const (
	classTypeName = "awesome.class"

	// classKey is the dispatch-table field pointing back at the class table.
	classKey = "__class"
)

// Allocator produces the native side of a new instance.
type Allocator func(L *lua.LState) (*Object, error)

// Collector releases the native side of an instance.
type Collector func(obj *Object)

// Checker reports whether obj is a valid instance of a class.
type Checker func(obj *Object) bool

// ClassState is the native record behind a class. It holds no Lua values:
// everything living in the Lua state (signals, miss handlers, the parent
// class) is reached through a Handle or a global name and re-resolved on use.
type ClassState struct {
	name      string
	parent    string
	allocator Allocator
	collector Collector
	checker   Checker
	maxDepth  int
	logger    *slog.Logger

	policy         atomic.Int32
	instances      atomic.Int64
	properties     atomic.Int64
	indexMisses    atomic.Int64
	newIndexMisses atomic.Int64

	signals      Handle
	indexMiss    Handle
	newIndexMiss Handle

	mu   sync.Mutex
	live map[*Object]struct{}
}

func (s *ClassState) Name() string   { return s.name }
func (s *ClassState) Parent() string { return s.parent }

// Instances returns the number of allocated, not yet collected instances.
func (s *ClassState) Instances() int64 { return s.instances.Load() }

// PropertyCount returns how many properties were attached to the class.
func (s *ClassState) PropertyCount() int64 { return s.properties.Load() }

// IndexMisses counts reads that reached the index miss handler.
func (s *ClassState) IndexMisses() int64 { return s.indexMisses.Load() }

// NewIndexMisses counts writes that reached the newindex miss handler.
func (s *ClassState) NewIndexMisses() int64 { return s.newIndexMisses.Load() }

func (s *ClassState) Policy() MissPolicy         { return MissPolicy(s.policy.Load()) }
func (s *ClassState) SignalsHandle() Handle      { return s.signals }
func (s *ClassState) IndexMissHandle() Handle    { return s.indexMiss }
func (s *ClassState) NewIndexMissHandle() Handle { return s.newIndexMiss }
func (s *ClassState) HasAllocator() bool         { return s.allocator != nil }
func (s *ClassState) HasCollector() bool         { return s.collector != nil }
func (s *ClassState) HasChecker() bool           { return s.checker != nil }

func (s *ClassState) String() string {
	if s.name == "" {
		return "class: <unpublished>"
	}
	return "class: " + s.name
}

func (s *ClassState) toLua(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(classTypeName))
	return ud
}

func registerClassType(L *lua.LState) {
	mt := L.NewTypeMetatable(classTypeName)
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		ud := L.CheckUserData(1)
		state, ok := ud.Value.(*ClassState)
		if !ok {
			L.ArgError(1, "class data expected")
		}
		L.Push(lua.LString(state.String()))
		return 1
	}))
}

// Class is the script-visible side of a class: a Lua table carrying the
// native record in `data`, the ordered property table in `properties`, and a
// dispatch table (its metatable) holding methods, traps and `signals`.
//
// A Class may be shared after Build. Nothing stops further mutation; holders
// must not mutate it concurrently with script execution.
type Class struct {
	table *lua.LTable
	state *ClassState
}

// ClassFromValue checks that value has the published class shape and wraps
// it. It fails with ErrMalformedClass otherwise.
func ClassFromValue(value lua.LValue) (*Class, error) {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: expected table, got %s", ErrMalformedClass, value.Type())
	}
	ud, ok := tbl.RawGetString("data").(*lua.LUserData)
	if !ok {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedClass)
	}
	state, ok := ud.Value.(*ClassState)
	if !ok {
		return nil, fmt.Errorf("%w: data is not class state", ErrMalformedClass)
	}
	if _, ok := tbl.RawGetString("properties").(*lua.LTable); !ok {
		return nil, fmt.Errorf("%w: missing properties", ErrMalformedClass)
	}
	meta, ok := tbl.Metatable.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: missing dispatch table", ErrMalformedClass)
	}
	if meta.RawGetString("__index") == lua.LNil {
		return nil, fmt.Errorf("%w: dispatch table has no __index", ErrMalformedClass)
	}
	return &Class{table: tbl, state: state}, nil
}

func (c *Class) Table() *lua.LTable  { return c.table }
func (c *Class) State() *ClassState  { return c.state }
func (c *Class) Name() string        { return c.state.name }
func (c *Class) String() string      { return c.state.String() }
func (c *Class) Equal(o *Class) bool { return o != nil && c.table == o.table }

// Meta returns the dispatch table, or nil if the class has none.
func (c *Class) Meta() *lua.LTable {
	meta, _ := c.table.Metatable.(*lua.LTable)
	return meta
}

// Properties returns the live property table.
func (c *Class) Properties() (*lua.LTable, error) {
	props, ok := c.table.RawGetString("properties").(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no property table", ErrMalformedClass, c)
	}
	return props, nil
}

// PropertyList snapshots the property table in resolution order.
func (c *Class) PropertyList() []*Property {
	props, err := c.Properties()
	if err != nil {
		return nil
	}
	return listProperties(props)
}

// FindProperty returns the first property named name, or nil.
func (c *Class) FindProperty(name string) *Property {
	props, err := c.Properties()
	if err != nil {
		return nil
	}
	return findProperty(props, name)
}

// AddMethod stores fn under name in the dispatch table. A class without a
// dispatch table is a programming error and panics.
func (c *Class) AddMethod(name string, fn lua.LValue) {
	meta := c.Meta()
	if meta == nil {
		panic(fmt.Sprintf("awesome: %s has no dispatch table", c))
	}
	meta.RawSetString(name, fn)
}

// AddProperty appends p to the property table. Duplicate names are kept;
// the earliest one shadows the rest.
func (c *Class) AddProperty(L *lua.LState, p *Property) error {
	if p == nil {
		return fmt.Errorf("awesome: nil property for %s", c)
	}
	props, err := c.Properties()
	if err != nil {
		return err
	}
	props.RawSetInt(props.Len()+1, p.toLua(L))
	c.state.properties.Add(1)
	return nil
}

// Signals returns the class's signal namespace. Published classes resolve it
// through their handle; unpublished ones read the dispatch table.
func (c *Class) Signals(L *lua.LState) (*lua.LTable, error) {
	if !c.state.signals.IsZero() {
		tbl, ok := c.state.signals.Table(L)
		if !ok {
			return nil, fmt.Errorf("awesome: signals handle %q of %s does not resolve to a table", c.state.signals, c)
		}
		return tbl, nil
	}
	if meta := c.Meta(); meta != nil {
		if tbl, ok := meta.RawGetString("signals").(*lua.LTable); ok {
			return tbl, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no signals", ErrMalformedClass, c)
}

// ParentClass resolves the parent by its published name. It reports false
// when the class has no parent.
func (c *Class) ParentClass(L *lua.LState) (*Class, bool, error) {
	if c.state.parent == "" {
		return nil, false, nil
	}
	value := L.GetGlobal(c.state.parent)
	if value == lua.LNil {
		return nil, false, fmt.Errorf("%w: parent %q of %s", ErrClassNotFound, c.state.parent, c)
	}
	parent, err := ClassFromValue(value)
	if err != nil {
		return nil, false, fmt.Errorf("parent %q of %s: %w", c.state.parent, c, err)
	}
	return parent, true, nil
}

// SetMissPolicy changes what the built-in miss handlers do. It takes effect
// on the next miss, including for instances that already exist.
func (c *Class) SetMissPolicy(p MissPolicy) error {
	if !p.valid() {
		return fmt.Errorf("awesome: invalid miss policy %s", p)
	}
	c.state.policy.Store(int32(p))
	return nil
}

// method looks name up in the dispatch table. Metamethod names are skipped
// so traps never leak out as instance fields.
func (c *Class) method(name string) (lua.LValue, bool) {
	if strings.HasPrefix(name, "__") {
		return lua.LNil, false
	}
	meta := c.Meta()
	if meta == nil {
		return lua.LNil, false
	}
	value := meta.RawGetString(name)
	return value, value != lua.LNil
}
