package awesome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Config controls runtime construction and the defaults handed to classes.
type Config struct {
	MissPolicy     MissPolicy
	Logger         *slog.Logger
	Index          lua.LGFunction
	NewIndex       lua.LGFunction
	MaxParentDepth int
	SkipOpenLibs   bool
	CallStackSize  int
	RegistrySize   int
}

// Runtime owns a Lua state together with every class published into it.
// Classes live exactly as long as the runtime.
type Runtime struct {
	config  Config
	logger  *slog.Logger
	state   *lua.LState
	classes *Registry
	mu      sync.Mutex

	statesMu sync.Mutex
	states   []*ClassState
}

// NewRuntime constructs a Runtime with sane defaults and registers the Lua
// types the bridge relies on.
func NewRuntime(cfg Config) (*Runtime, error) {
	if !cfg.MissPolicy.valid() {
		return nil, fmt.Errorf("awesome: invalid miss policy %s", cfg.MissPolicy)
	}
	if cfg.MaxParentDepth < 0 {
		return nil, fmt.Errorf("awesome: max parent depth must be non-negative, got %d", cfg.MaxParentDepth)
	}
	if cfg.MaxParentDepth == 0 {
		cfg.MaxParentDepth = 16
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Index == nil {
		cfg.Index = DefaultIndex
	}
	if cfg.NewIndex == nil {
		cfg.NewIndex = DefaultNewIndex
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  cfg.SkipOpenLibs,
		CallStackSize: cfg.CallStackSize,
		RegistrySize:  cfg.RegistrySize,
	})
	registerPropertyType(L)
	registerClassType(L)
	registerObjectType(L)

	return &Runtime{
		config:  cfg,
		logger:  cfg.Logger,
		state:   L,
		classes: newRegistry(),
	}, nil
}

// MustNewRuntime constructs a Runtime or panics if the config is invalid.
func MustNewRuntime(cfg Config) *Runtime {
	rt, err := NewRuntime(cfg)
	if err != nil {
		panic(err)
	}
	return rt
}

// State exposes the underlying Lua state. Callers sharing the runtime across
// goroutines must only touch it inside Do.
func (rt *Runtime) State() *lua.LState {
	return rt.state
}

// Classes returns the registry of published classes.
func (rt *Runtime) Classes() *Registry {
	return rt.classes
}

// Logger returns the logger classes of this runtime report to.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// Close collects every instance still alive, tears down the Lua state and
// forgets every published class. Closing twice is a no-op.
func (rt *Runtime) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.statesMu.Lock()
	states := rt.states
	rt.states = nil
	rt.statesMu.Unlock()
	for _, state := range states {
		if n := state.collectAll(); n > 0 {
			rt.logger.Debug("instances collected at close", "class", state.name, "count", n)
		}
	}

	rt.classes.Reset()
	if !rt.state.IsClosed() {
		rt.state.Close()
	}
}

// track remembers a class so Close can collect its instances.
func (rt *Runtime) track(state *ClassState) {
	rt.statesMu.Lock()
	rt.states = append(rt.states, state)
	rt.statesMu.Unlock()
}

// Do runs fn with exclusive access to the Lua state inside a protected call,
// so Lua errors raised by fn come back as errors. fn must not call Do,
// DoString or DoFile again.
func (rt *Runtime) Do(fn func(L *lua.LState) error) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state.IsClosed() {
		return ErrRuntimeClosed
	}
	return rt.protect(fn)
}

// DoString executes Lua source with ctx attached to the state.
func (rt *Runtime) DoString(ctx context.Context, source string) error {
	return rt.run(ctx, func(L *lua.LState) error {
		return L.DoString(source)
	})
}

// DoFile executes the Lua file at path with ctx attached to the state.
func (rt *Runtime) DoFile(ctx context.Context, path string) error {
	return rt.run(ctx, func(L *lua.LState) error {
		if err := L.DoFile(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
}

func (rt *Runtime) run(ctx context.Context, exec func(L *lua.LState) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.state.IsClosed() {
		return ErrRuntimeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if ctx.Done() != nil {
		rt.state.SetContext(ctx)
		defer rt.state.RemoveContext()
	}
	if err := exec(rt.state); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}
		return fmt.Errorf("awesome: script failed: %w", err)
	}
	return nil
}

// protect runs fn inside a Lua protected call. It assumes the caller already
// has exclusive access to the state.
func (rt *Runtime) protect(fn func(L *lua.LState) error) error {
	L := rt.state
	var inner error
	wrapped := L.NewFunction(func(L *lua.LState) int {
		inner = fn(L)
		return 0
	})
	if err := L.CallByParam(lua.P{Fn: wrapped, NRet: 0, Protect: true}); err != nil {
		return err
	}
	return inner
}

// Install runs each provider against the runtime and returns the classes
// they published, in order.
func (rt *Runtime) Install(providers ...ClassProvider) ([]*Class, error) {
	classes := make([]*Class, 0, len(providers))
	for _, provider := range providers {
		if isNilProvider(provider) {
			return nil, errors.New("awesome: class provider must be non-nil")
		}
		var class *Class
		err := rt.Do(func(L *lua.LState) error {
			var err error
			class, err = provider.Install(rt)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("awesome: install class: %w", err)
		}
		classes = append(classes, class)
	}
	return classes, nil
}

// ConfigSummary provides a human-readable description of the runtime settings.
func (rt *Runtime) ConfigSummary() string {
	return fmt.Sprintf("miss_policy=%s max_parent_depth=%d open_libs=%t classes=%d",
		rt.config.MissPolicy, rt.config.MaxParentDepth, !rt.config.SkipOpenLibs, rt.classes.Count())
}
