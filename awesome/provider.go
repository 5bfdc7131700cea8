package awesome

import "reflect"

// ClassProvider installs a class into a runtime. Host packages implement it
// to publish their classes; Runtime.Install runs providers with exclusive
// access to the Lua state.
type ClassProvider interface {
	Install(rt *Runtime) (*Class, error)
}

// ClassProviderFunc adapts a function to ClassProvider.
type ClassProviderFunc func(rt *Runtime) (*Class, error)

func (f ClassProviderFunc) Install(rt *Runtime) (*Class, error) {
	return f(rt)
}

func isNilProvider(p ClassProvider) bool {
	if p == nil {
		return true
	}
	value := reflect.ValueOf(p)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return value.IsNil()
	default:
		return false
	}
}
