package util

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// PanicHandler provides centralized panic recovery and logging
type PanicHandler struct {
	logger *logrus.Logger
}

// NewPanicHandler creates a new panic handler
func NewPanicHandler(logger *logrus.Logger) *PanicHandler {
	return &PanicHandler{
		logger: logger,
	}
}

// Recover recovers from panics and logs them
func (ph *PanicHandler) Recover(component string) {
	if r := recover(); r != nil {
		ph.logPanic(component, r)
	}
}

// RecoverWithCallback recovers from panics and executes a callback
func (ph *PanicHandler) RecoverWithCallback(component string, callback func(interface{})) {
	if r := recover(); r != nil {
		ph.logPanic(component, r)

		if callback != nil {
			// Protect the callback itself from panics
			func() {
				defer func() {
					if cbPanic := recover(); cbPanic != nil {
						ph.logger.WithFields(logrus.Fields{
							"component":      component,
							"callback_panic": cbPanic,
						}).Error("Panic in panic recovery callback")
					}
				}()
				callback(r)
			}()
		}
	}
}

// WrapGoroutine wraps a goroutine function with panic recovery
func (ph *PanicHandler) WrapGoroutine(component string, fn func()) func() {
	return func() {
		defer ph.Recover(component)
		fn()
	}
}

// SafeGo starts a goroutine with panic recovery
func (ph *PanicHandler) SafeGo(component string, fn func()) {
	go ph.WrapGoroutine(component, fn)()
}

// SafeCall invokes fn, converting a panic into the returned error so a single
// bad iteration cannot kill a periodic loop.
func (ph *PanicHandler) SafeCall(component string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ph.logPanic(component, r)
			err = fmt.Errorf("panic in %s: %v", component, r)
		}
	}()
	return fn()
}

func (ph *PanicHandler) logPanic(component string, panicValue interface{}) {
	stack := debug.Stack()

	pc, file, line, ok := runtime.Caller(3)
	var caller string
	if ok {
		fn := runtime.FuncForPC(pc)
		if fn != nil {
			caller = fmt.Sprintf("%s:%d %s", file, line, fn.Name())
		} else {
			caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	ph.logger.WithFields(logrus.Fields{
		"component":   component,
		"panic_value": panicValue,
		"caller":      caller,
		"stack_trace": string(stack),
	}).Error("Panic recovered")
}
