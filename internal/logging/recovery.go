package logging

import (
	"fmt"
	"runtime/debug"
)

// PanicError is what WrapError returns when fn panicked.
type PanicError struct {
	Component string
	Value     interface{}
	Stack     string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Component, e.Value)
}

// RecoveryHandler turns panics in bridge code into panic_recovered events.
// A panicking command handler must not take the bridge loop down with it.
type RecoveryHandler struct {
	Component string
	// OnPanic, if set, sees every recovered value with its stack.
	OnPanic func(value interface{}, stack string)
}

// NewRecoveryHandler returns a handler that logs under component.
func NewRecoveryHandler(component string) *RecoveryHandler {
	return &RecoveryHandler{Component: component}
}

// Wrap runs fn and swallows any panic after logging it.
func (r *RecoveryHandler) Wrap(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			r.report(v, string(debug.Stack()))
		}
	}()
	fn()
}

// WrapError runs fn. A panic becomes a *PanicError; otherwise fn's own
// error is returned unchanged.
func (r *RecoveryHandler) WrapError(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = r.report(v, string(debug.Stack()))
		}
	}()
	return fn()
}

func (r *RecoveryHandler) report(v interface{}, stack string) *PanicError {
	perr := &PanicError{Component: r.Component, Value: v, Stack: stack}
	New(r.Component).Error("panic_recovered", map[string]interface{}{"stack": stack}, perr)
	if r.OnPanic != nil {
		r.OnPanic(v, stack)
	}
	return perr
}

// SafeGo runs fn on its own goroutine. Fire-and-forget work (filler
// speech, gesture poses, shutdown handlers) uses it so a panic there is
// logged rather than fatal.
func SafeGo(component string, fn func()) {
	go NewRecoveryHandler(component).Wrap(fn)
}
