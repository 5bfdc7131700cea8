package awesome

import (
	"fmt"
	"slices"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Registry maps published names to classes for one Runtime. It is created
// with the runtime and reset when the runtime closes.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

func newRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

// Register records c under its published name. Registering the same class
// again is a no-op; a different class under a taken name fails with
// ErrClassExists.
func (r *Registry) Register(c *Class) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("awesome: cannot register unpublished class")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.classes[name]; ok && !existing.Equal(c) {
		return fmt.Errorf("%w: %q", ErrClassExists, name)
	}
	r.classes[name] = c
	return nil
}

// Lookup returns the class published under name.
func (r *Registry) Lookup(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// Names returns the published names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Entries snapshots the registry in name order.
func (r *Registry) Entries() []*Class {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Class, 0, len(names))
	for _, name := range names {
		if c, ok := r.classes[name]; ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.classes)
}

func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.classes)
}

// WellKnownKey is the global name a well-known class is published under,
// e.g. "__button_class" for "button".
func WellKnownKey(name string) string {
	return "__" + name + "_class"
}

// LookupWellKnown reads the well-known class called name back from the Lua
// globals and checks its shape. It fails with ErrClassNotFound when nothing
// is published and ErrMalformedClass when the value is not a class.
func (rt *Runtime) LookupWellKnown(name string) (*Class, error) {
	key := WellKnownKey(name)
	value := rt.state.GetGlobal(key)
	if value == lua.LNil {
		return nil, fmt.Errorf("awesome: lookup %s: %w", key, ErrClassNotFound)
	}
	c, err := ClassFromValue(value)
	if err != nil {
		return nil, fmt.Errorf("awesome: lookup %s: %w", key, err)
	}
	return c, nil
}

// ButtonClass returns the published "button" class.
func ButtonClass(rt *Runtime) (*Class, error) {
	return rt.LookupWellKnown("button")
}
