package awesome

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

const objectTypeName = "awesome.object"

// Object is a class instance. Table is the value scripts see; Data is left
// to the host for its native state.
type Object struct {
	Table *lua.LTable
	Data  any

	class *ClassState
}

// Class returns the record of the class that allocated obj, or nil once the
// object has been collected.
func (o *Object) Class() *ClassState {
	return o.class
}

// ObjectFrom returns the Object behind an instance table.
func ObjectFrom(value lua.LValue) (*Object, bool) {
	tbl, ok := value.(*lua.LTable)
	if !ok {
		return nil, false
	}
	ud, ok := tbl.RawGetString("data").(*lua.LUserData)
	if !ok {
		return nil, false
	}
	obj, ok := ud.Value.(*Object)
	return obj, ok
}

func registerObjectType(L *lua.LState) {
	mt := L.NewTypeMetatable(objectTypeName)
	mt.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		obj, ok := L.CheckUserData(1).Value.(*Object)
		if !ok || obj.class == nil {
			L.Push(lua.LString("object: <collected>"))
			return 1
		}
		L.Push(lua.LString(fmt.Sprintf("object: %s", obj.class.name)))
		return 1
	}))
}

// Allocate creates an instance: the allocator (if any) builds the native
// side, then the instance table is wired to the class dispatch table and the
// live-instance counter is incremented.
func (c *Class) Allocate(L *lua.LState) (*Object, error) {
	meta := c.Meta()
	if meta == nil {
		return nil, fmt.Errorf("%w: %s has no dispatch table", ErrMalformedClass, c)
	}
	obj := &Object{}
	if c.state.allocator != nil {
		allocated, err := c.state.allocator(L)
		if err != nil {
			return nil, fmt.Errorf("awesome: allocate %s: %w", c, err)
		}
		if allocated == nil {
			return nil, fmt.Errorf("awesome: allocate %s: allocator returned nil", c)
		}
		obj = allocated
	}
	if obj.Table == nil {
		obj.Table = L.NewTable()
	}
	obj.class = c.state

	ud := L.NewUserData()
	ud.Value = obj
	L.SetMetatable(ud, L.GetTypeMetatable(objectTypeName))
	obj.Table.RawSetString("data", ud)
	obj.Table.Metatable = meta

	c.state.mu.Lock()
	if c.state.live == nil {
		c.state.live = make(map[*Object]struct{})
	}
	c.state.live[obj] = struct{}{}
	c.state.mu.Unlock()

	count := c.state.instances.Add(1)
	c.state.logger.Debug("instance allocated", "class", c.state.name, "instances", count)
	return obj, nil
}

// New allocates an instance and assigns every field of init through the
// instance's write path, so properties run their setters.
func (c *Class) New(L *lua.LState, init *lua.LTable) (*Object, error) {
	obj, err := c.Allocate(L)
	if err != nil {
		return nil, err
	}
	if init == nil {
		return obj, nil
	}
	var setErr error
	init.ForEach(func(key, value lua.LValue) {
		if setErr != nil {
			return
		}
		setErr = c.NewIndex(L, obj.Table, key, value)
	})
	if setErr != nil {
		_ = c.Collect(obj)
		return nil, setErr
	}
	return obj, nil
}

// Collect runs the collector and releases obj from the class. Collecting an
// object twice, or through the wrong class, fails with ErrNotInstance.
// Instances still live when the runtime closes are collected then.
func (c *Class) Collect(obj *Object) error {
	return c.state.collect(obj)
}

func (s *ClassState) collect(obj *Object) error {
	s.mu.Lock()
	_, live := s.live[obj]
	if obj == nil || obj.class != s || !live {
		s.mu.Unlock()
		return fmt.Errorf("%w: collect through %s", ErrNotInstance, s)
	}
	delete(s.live, obj)
	s.mu.Unlock()

	if s.collector != nil {
		s.collector(obj)
	}
	obj.class = nil
	count := s.instances.Add(-1)
	s.logger.Debug("instance collected", "class", s.name, "instances", count)
	return nil
}

// collectAll collects every instance still alive and reports how many.
func (s *ClassState) collectAll() int {
	s.mu.Lock()
	objs := make([]*Object, 0, len(s.live))
	for obj := range s.live {
		objs = append(objs, obj)
	}
	s.mu.Unlock()

	n := 0
	for _, obj := range objs {
		if s.collect(obj) == nil {
			n++
		}
	}
	return n
}

// Check reports whether obj is an instance of the class. A class checker,
// when present, decides alone.
func (c *Class) Check(obj *Object) bool {
	if c.state.checker != nil {
		return c.state.checker(obj)
	}
	return obj != nil && obj.class == c.state
}

// Index resolves a read of key on obj: dispatch-table methods, then the
// property table in order, each walking the parent chain, then the index
// miss handler.
func (c *Class) Index(L *lua.LState, obj lua.LValue, key lua.LValue) (lua.LValue, error) {
	name := lua.LVAsString(key)
	depth := 0
	for cls := c; cls != nil; {
		if value, ok := cls.method(name); ok {
			return value, nil
		}
		if p := cls.FindProperty(name); p != nil {
			value, err := p.get(L, obj)
			if err != nil {
				return lua.LNil, resolutionError(c.state, opIndex, name, err)
			}
			return value, nil
		}
		parent, err := c.nextAncestor(L, cls, &depth)
		if err != nil {
			return lua.LNil, resolutionError(c.state, opIndex, name, err)
		}
		cls = parent
	}
	return c.callIndexMiss(L, obj, key)
}

// NewIndex resolves a write of key on obj through the first matching
// property's setter, walking the parent chain, then the newindex miss
// handler.
func (c *Class) NewIndex(L *lua.LState, obj lua.LValue, key lua.LValue, value lua.LValue) error {
	name := lua.LVAsString(key)
	depth := 0
	for cls := c; cls != nil; {
		if p := cls.FindProperty(name); p != nil {
			if err := p.set(L, obj, value); err != nil {
				return resolutionError(c.state, opNewIndex, name, err)
			}
			return nil
		}
		parent, err := c.nextAncestor(L, cls, &depth)
		if err != nil {
			return resolutionError(c.state, opNewIndex, name, err)
		}
		cls = parent
	}
	return c.callNewIndexMiss(L, obj, key, value)
}

func (c *Class) nextAncestor(L *lua.LState, cls *Class, depth *int) (*Class, error) {
	parent, ok, err := cls.ParentClass(L)
	if err != nil || !ok {
		return nil, err
	}
	*depth++
	if *depth > c.state.maxDepth {
		return nil, fmt.Errorf("parent chain of %s exceeds %d classes", c, c.state.maxDepth)
	}
	return parent, nil
}

// classOf finds the class whose dispatch table is recv's metatable.
func classOf(recv *lua.LTable) (*Class, bool) {
	meta, ok := recv.Metatable.(*lua.LTable)
	if !ok {
		return nil, false
	}
	cls, err := ClassFromValue(meta.RawGetString(classKey))
	if err != nil {
		return nil, false
	}
	return cls, true
}

// DefaultIndex is the object layer's __index trap. On the class table itself
// it reads the dispatch table; on instances it runs Class.Index.
func DefaultIndex(L *lua.LState) int {
	recv := L.CheckTable(1)
	key := L.CheckAny(2)
	cls, ok := classOf(recv)
	if !ok {
		L.ArgError(1, "class instance expected")
		return 0
	}
	if recv == cls.table {
		if value, ok := cls.method(lua.LVAsString(key)); ok {
			L.Push(value)
			return 1
		}
		L.Push(lua.LNil)
		return 1
	}
	value, err := cls.Index(L, recv, key)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(value)
	return 1
}

// DefaultNewIndex is the object layer's __newindex trap. Writes on the class
// table are stored raw; writes on instances run Class.NewIndex.
func DefaultNewIndex(L *lua.LState) int {
	recv := L.CheckTable(1)
	key := L.CheckAny(2)
	value := L.Get(3)
	cls, ok := classOf(recv)
	if !ok {
		L.ArgError(1, "class instance expected")
		return 0
	}
	if recv == cls.table {
		recv.RawSet(key, value)
		return 0
	}
	if err := cls.NewIndex(L, recv, key, value); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func callTrap(L *lua.LState) int {
	recv := L.CheckTable(1)
	init := L.OptTable(2, nil)
	cls, ok := classOf(recv)
	if !ok || recv != cls.table {
		L.ArgError(1, "class expected")
		return 0
	}
	obj, err := cls.New(L, init)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(obj.Table)
	return 1
}

// collectFunction backs the class table's collect field, the script-side
// way to release an instance: __button_class.collect(btn).
func collectFunction(state *ClassState) lua.LGFunction {
	return func(L *lua.LState) int {
		obj, ok := ObjectFrom(L.CheckTable(1))
		if !ok {
			L.ArgError(1, "class instance expected")
			return 0
		}
		if err := state.collect(obj); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

func tostringTrap(L *lua.LState) int {
	recv := L.CheckTable(1)
	cls, ok := classOf(recv)
	if !ok {
		L.Push(lua.LString("table"))
		return 1
	}
	if recv == cls.table {
		L.Push(lua.LString(cls.String()))
		return 1
	}
	L.Push(lua.LString(fmt.Sprintf("%s: %p", cls.Name(), recv)))
	return 1
}
