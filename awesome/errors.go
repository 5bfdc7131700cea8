package awesome

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

var (
	ErrNoSuchProperty     = errors.New("no such property")
	ErrMissNotImplemented = errors.New("miss handler not implemented")
	ErrReadOnly           = errors.New("property is read-only")
	ErrWriteOnly          = errors.New("property is write-only")
	ErrMalformedClass     = errors.New("malformed class")
	ErrClassNotFound      = errors.New("class not found")
	ErrClassExists        = errors.New("class already published")
	ErrNotInstance        = errors.New("value is not an instance of the class")
	ErrRuntimeClosed      = errors.New("runtime is closed")
)

const (
	opIndex    = "index"
	opNewIndex = "newindex"
)

// ResolutionError reports a field access on an instance that could not be
// satisfied by a method, a property, or a miss handler.
type ResolutionError struct {
	Class string
	Key   string
	Op    string
	Err   error
}

func (e *ResolutionError) Error() string {
	class := e.Class
	if class == "" {
		class = "<unpublished>"
	}
	return fmt.Sprintf("awesome: %s %s.%s: %v", e.Op, class, e.Key, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func resolutionError(state *ClassState, op, key string, err error) error {
	return &ResolutionError{Class: state.Name(), Key: key, Op: op, Err: err}
}

// ScriptError is a failure raised by Lua code the bridge called: a getter, a
// setter or a miss handler. Its message is the raised value without the
// traceback; the full *lua.ApiError stays reachable through errors.As.
type ScriptError struct {
	Message string
	Kind    error
	Cause   *lua.ApiError
}

func (e *ScriptError) Error() string {
	return e.Message
}

func (e *ScriptError) Unwrap() []error {
	errs := []error{e.Cause}
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	return errs
}

func scriptError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) || apiErr.Object == nil {
		return err
	}
	return &ScriptError{Message: apiErr.Object.String(), Cause: apiErr}
}
