package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mgomes/wmclass/awesome"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	lua "github.com/yuin/gopher-lua"
)

type widgetState struct {
	visible bool
}

type buttonState struct {
	widgetState
	label   string
	enabled bool
	clicks  int
}

func demoProviders() []awesome.ClassProvider {
	return []awesome.ClassProvider{
		awesome.ClassProviderFunc(installWidget),
		awesome.ClassProviderFunc(installButton),
	}
}

// installWidget publishes __widget_class, the parent of every demo class.
func installWidget(rt *awesome.Runtime) (*awesome.Class, error) {
	L := rt.State()
	b, err := awesome.NewClass(rt, func(L *lua.LState) (*awesome.Object, error) {
		return &awesome.Object{Data: &widgetState{visible: true}}, nil
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	visible := awesome.MustNewProperty("visible",
		L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(checkWidget(L, 1).visible))
			return 1
		}),
		L.NewFunction(func(L *lua.LState) int {
			checkWidget(L, 1).visible = lua.LVAsBool(L.Get(2))
			return 0
		}))
	return b.Property(visible).SaveClass(awesome.WellKnownKey("widget")).Build()
}

// installButton publishes __button_class with label, enabled and clicks
// properties and a click method.
func installButton(rt *awesome.Runtime) (*awesome.Class, error) {
	L := rt.State()
	allocate := func(L *lua.LState) (*awesome.Object, error) {
		return &awesome.Object{Data: &buttonState{
			widgetState: widgetState{visible: true},
			enabled:     true,
		}}, nil
	}
	check := func(obj *awesome.Object) bool {
		_, ok := obj.Data.(*buttonState)
		return ok && obj.Class() != nil
	}
	b, err := awesome.NewClass(rt, allocate, nil, check)
	if err != nil {
		return nil, err
	}

	label := awesome.MustNewProperty("label",
		L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LString(checkButton(L, 1).label))
			return 1
		}),
		L.NewFunction(func(L *lua.LState) int {
			checkButton(L, 1).label = L.CheckString(2)
			return 0
		}))
	enabled := awesome.MustNewProperty("enabled",
		L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LBool(checkButton(L, 1).enabled))
			return 1
		}),
		L.NewFunction(func(L *lua.LState) int {
			checkButton(L, 1).enabled = lua.LVAsBool(L.Get(2))
			return 0
		}))
	clicks := awesome.MustNewProperty("clicks",
		L.NewFunction(func(L *lua.LState) int {
			L.Push(lua.LNumber(checkButton(L, 1).clicks))
			return 1
		}), nil)

	return b.Parent(awesome.WellKnownKey("widget")).
		Property(label).
		Property(enabled).
		Property(clicks).
		GoMethod("click", clickButton).
		SaveClass(awesome.WellKnownKey("button")).
		Build()
}

// clickButton counts a click on an enabled button and returns the new total,
// or false when the button is disabled.
func clickButton(L *lua.LState) int {
	state := checkButton(L, 1)
	if !state.enabled {
		L.Push(lua.LFalse)
		return 1
	}
	state.clicks++
	L.Push(lua.LNumber(state.clicks))
	return 1
}

func checkObject(L *lua.LState, n int) *awesome.Object {
	obj, ok := awesome.ObjectFrom(L.CheckTable(n))
	if !ok || obj.Class() == nil {
		L.ArgError(n, "live object expected")
	}
	return obj
}

func checkWidget(L *lua.LState, n int) *widgetState {
	switch state := checkObject(L, n).Data.(type) {
	case *widgetState:
		return state
	case *buttonState:
		return &state.widgetState
	}
	L.ArgError(n, "widget expected")
	return nil
}

func checkButton(L *lua.LState, n int) *buttonState {
	state, ok := checkObject(L, n).Data.(*buttonState)
	if !ok {
		L.ArgError(n, "button expected")
	}
	return state
}

func classesCommand(args []string) error {
	fs := flag.NewFlagSet("classes", flag.ContinueOnError)
	fs.SetOutput(new(flagErrorSink))
	opts := bindCommonFlags(fs)
	format := fs.String("format", "table", "output format: table, metrics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	config, err := opts.resolve(fs)
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, config)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, path := range fs.Args() {
		if err := s.runtime.DoFile(ctx, path); err != nil {
			return fmt.Errorf("execution failed: %w", err)
		}
	}

	switch *format {
	case "table":
		return writeClassTable(os.Stdout, s.runtime)
	case "metrics":
		return writeClassMetrics(os.Stdout, s.runtime)
	default:
		return fmt.Errorf("awesome classes: unknown format %q", *format)
	}
}

func writeClassTable(w io.Writer, rt *awesome.Runtime) error {
	table := tablewriter.NewWriter(w)
	table.Header("Class", "Parent", "Properties", "Instances", "Index misses", "Newindex misses")

	for _, class := range rt.Classes().Entries() {
		state := class.State()
		parent := state.Parent()
		if parent == "" {
			parent = "-"
		}
		if err := table.Append([]string{
			class.Name(),
			parent,
			propertySummary(class),
			fmt.Sprint(state.Instances()),
			fmt.Sprint(state.IndexMisses()),
			fmt.Sprint(state.NewIndexMisses()),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func propertySummary(class *awesome.Class) string {
	props := class.PropertyList()
	if len(props) == 0 {
		return "-"
	}
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.Name()
		switch {
		case !p.Writable():
			names[i] += " (ro)"
		case !p.Readable():
			names[i] += " (wo)"
		}
	}
	return strings.Join(names, ", ")
}

func writeClassMetrics(w io.Writer, rt *awesome.Runtime) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(awesome.NewMetricsCollector(rt)); err != nil {
		return err
	}
	metricFamilies, err := registry.Gather()
	if err != nil {
		return err
	}
	encoder := expfmt.NewEncoder(w, expfmt.FmtText)
	var errs []error
	for _, mf := range metricFamilies {
		if err := encoder.Encode(mf); err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", mf.GetName(), err))
		}
	}
	return errors.Join(errs...)
}
