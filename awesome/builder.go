package awesome

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// ClassBuilder owns a class under construction. Every step returns the
// builder so calls chain; the first failure sticks and is reported by Build.
// Method panics instead when the class has no dispatch table, since that
// can only be a programming error.
type ClassBuilder struct {
	rt    *Runtime
	class *Class
	err   error
}

// NewClass allocates a class with the given native hooks, an empty property
// table, the built-in miss handlers and a dispatch table wired to the
// runtime's field-access traps. The class has no instances yet.
func NewClass(rt *Runtime, allocator Allocator, collector Collector, checker Checker) (*ClassBuilder, error) {
	if rt == nil {
		return nil, errors.New("awesome: new class requires a runtime")
	}
	if rt.state.IsClosed() {
		return nil, fmt.Errorf("awesome: new class: %w", ErrRuntimeClosed)
	}
	L := rt.state
	state := &ClassState{
		allocator: allocator,
		collector: collector,
		checker:   checker,
		maxDepth:  rt.config.MaxParentDepth,
		logger:    rt.logger,
	}
	state.policy.Store(int32(rt.config.MissPolicy))
	rt.track(state)

	table := L.NewTable()
	table.RawSetString("data", state.toLua(L))
	table.RawSetString(indexMissField, L.NewFunction(indexMissProperty(state)))
	table.RawSetString(newIndexMissField, L.NewFunction(newIndexMissProperty(state)))
	table.RawSetString("collect", L.NewFunction(collectFunction(state)))
	table.RawSetString("properties", L.NewTable())

	meta := L.NewTable()
	meta.RawSetString("signals", L.NewTable())
	meta.RawSetString("__index", L.NewFunction(rt.config.Index))
	meta.RawSetString("__newindex", L.NewFunction(rt.config.NewIndex))
	meta.RawSetString("__call", L.NewFunction(callTrap))
	meta.RawSetString("__tostring", L.NewFunction(tostringTrap))
	meta.RawSetString(classKey, table)
	table.Metatable = meta

	return &ClassBuilder{rt: rt, class: &Class{table: table, state: state}}, nil
}

// Method attaches fn under name in the dispatch table.
func (b *ClassBuilder) Method(name string, fn *lua.LFunction) *ClassBuilder {
	if b.err != nil {
		return b
	}
	b.class.AddMethod(name, fn)
	return b
}

// GoMethod attaches a Go function as a method.
func (b *ClassBuilder) GoMethod(name string, fn lua.LGFunction) *ClassBuilder {
	return b.Method(name, b.rt.state.NewFunction(fn))
}

// Property appends p to the property table. Names are not checked for
// duplicates; callers are responsible for not shadowing.
func (b *ClassBuilder) Property(p *Property) *ClassBuilder {
	if b.err != nil {
		return b
	}
	if err := b.class.AddProperty(b.rt.state, p); err != nil {
		b.err = err
	}
	return b
}

// Parent names the published class this one inherits methods and
// properties from.
func (b *ClassBuilder) Parent(name string) *ClassBuilder {
	if b.err != nil {
		return b
	}
	b.class.state.parent = name
	return b
}

// MissPolicy overrides the runtime's policy for this class's built-in miss
// handlers.
func (b *ClassBuilder) MissPolicy(p MissPolicy) *ClassBuilder {
	if b.err != nil {
		return b
	}
	if !p.valid() {
		b.err = fmt.Errorf("awesome: invalid miss policy %s", p)
		return b
	}
	b.class.state.policy.Store(int32(p))
	return b
}

// IndexMissHandler points the index miss handle at a global (or dotted
// path) holding a function called as handler(instance, key).
func (b *ClassBuilder) IndexMissHandler(key string) *ClassBuilder {
	if b.err != nil {
		return b
	}
	b.class.state.indexMiss = Handle(key)
	return b
}

// NewIndexMissHandler points the newindex miss handle at a global (or
// dotted path) holding a function called as handler(instance, key, value).
func (b *ClassBuilder) NewIndexMissHandler(key string) *ClassBuilder {
	if b.err != nil {
		return b
	}
	b.class.state.newIndexMiss = Handle(key)
	return b
}

// SaveClass publishes the class as the global name and reads it back, so the
// builder holds the very table scripts see. A class is published under one
// name only; saving it again under another fails with ErrClassExists. Handles that were not set
// explicitly are pointed at the published class's own fields, and the class
// is recorded in the runtime registry.
func (b *ClassBuilder) SaveClass(name string) *ClassBuilder {
	if b.err != nil {
		return b
	}
	if name == "" || strings.Contains(name, ".") {
		b.err = fmt.Errorf("awesome: invalid class name %q", name)
		return b
	}
	if published := b.class.state.name; published != "" && published != name {
		b.err = fmt.Errorf("awesome: save class %q: %w as %q", name, ErrClassExists, published)
		return b
	}
	if existing, ok := b.rt.classes.Lookup(name); ok && !existing.Equal(b.class) {
		b.err = fmt.Errorf("awesome: save class: %w: %q", ErrClassExists, name)
		return b
	}

	var saved *Class
	err := b.rt.protect(func(L *lua.LState) error {
		L.SetGlobal(name, b.class.table)
		var err error
		saved, err = ClassFromValue(L.GetGlobal(name))
		return err
	})
	if err != nil {
		b.err = fmt.Errorf("awesome: save class %q: %w", name, err)
		return b
	}
	b.class = saved

	state := b.class.state
	state.name = name
	if state.indexMiss.IsZero() {
		state.indexMiss = Handle(name + "." + indexMissField)
	}
	if state.newIndexMiss.IsZero() {
		state.newIndexMiss = Handle(name + "." + newIndexMissField)
	}
	if state.signals.IsZero() {
		state.signals = Handle(name + ".signals")
	}
	if err := b.rt.classes.Register(b.class); err != nil {
		b.err = fmt.Errorf("awesome: save class: %w", err)
		return b
	}
	state.logger.Debug("class published", "class", name, "parent", state.parent, "properties", state.PropertyCount())
	return b
}

// Err reports the first failure recorded by the builder.
func (b *ClassBuilder) Err() error {
	return b.err
}

// Build finishes construction and hands out the class. The class table stays
// mutable: late methods and properties remain visible to every holder.
func (b *ClassBuilder) Build() (*Class, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.class, nil
}
