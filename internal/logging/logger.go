// Package logging is the printf-style facade every component logs through.
// Messages are formatted here and emitted as structured slog records by the
// process logger in observability.
package logging

import (
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/beam-me/core/internal/observability"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var process atomic.Pointer[observability.Logger]

func init() {
	process.Store(observability.NewLogger(observability.LogConfig{Level: "info"}))
}

// Configure replaces the process logger. Component loggers resolve it on
// every call, so loggers created earlier follow the change.
func Configure(cfg observability.LogConfig) {
	process.Store(observability.NewLogger(cfg))
}

// NewComponentLogger returns the process logger tagged with component.
func NewComponentLogger(component string) Logger {
	return &componentLogger{component: component}
}

// Bind tags a specific observability logger with component.
func Bind(logger *observability.Logger, component string) Logger {
	if logger == nil {
		return Nop()
	}
	return &componentLogger{fixed: logger, component: component}
}

type componentLogger struct {
	fixed     *observability.Logger
	component string
}

func (c *componentLogger) target() *observability.Logger {
	l := c.fixed
	if l == nil {
		l = process.Load()
	}
	if c.component != "" {
		l = l.With("component", c.component)
	}
	return l
}

func (c *componentLogger) Debug(format string, args ...any) {
	c.target().Debug(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Info(format string, args ...any) {
	c.target().Info(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Warn(format string, args ...any) {
	c.target().Warn(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Error(format string, args ...any) {
	c.target().Error(fmt.Sprintf(format, args...))
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger { return nopLogger{} }

// IsNil reports whether logger is nil or a typed nil pointer.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return v.IsNil()
	}
	return false
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}
