package id

import "context"

type key uint8

const (
	runKey key = iota
	traceKey
	taskKey
)

func with(ctx context.Context, k key, v string) context.Context {
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, k, v)
}

func from(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(k).(string)
	return v
}

func WithRunID(ctx context.Context, runID string) context.Context { return with(ctx, runKey, runID) }
func RunIDFromContext(ctx context.Context) string                 { return from(ctx, runKey) }

// WithTraceID tags ctx with the ABN trace of the exchange being handled.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return with(ctx, traceKey, traceID)
}
func TraceIDFromContext(ctx context.Context) string { return from(ctx, traceKey) }

func WithTaskID(ctx context.Context, taskID string) context.Context { return with(ctx, taskKey, taskID) }
func TaskIDFromContext(ctx context.Context) string                  { return from(ctx, taskKey) }
