package async

import (
	"fmt"
	"runtime/debug"
)

// PanicLogger captures panic reports from background goroutines.
type PanicLogger interface {
	Error(format string, args ...any)
}

// PanicError carries a value recovered from a background goroutine.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("goroutine %s panicked: %v", e.Name, e.Value)
}

// Go runs fn in its own goroutine and delivers the result on the returned
// channel, which receives exactly one value. A panic is logged and delivered
// as *PanicError.
func Go(logger PanicLogger, name string, fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				perr := &PanicError{Name: name, Value: r, Stack: debug.Stack()}
				if logger != nil {
					logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, perr.Stack)
				}
				done <- perr
			}
		}()
		done <- fn()
	}()
	return done
}
