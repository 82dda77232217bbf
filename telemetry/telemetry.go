// Package telemetry defines the Logger/Metrics/Tracer surface that packages
// in this module take from their caller rather than reaching for a global,
// plus a Noop implementation for tests and a
// goa.design/clue + OpenTelemetry-backed implementation for production use.
package telemetry

import "context"

// Logger is a structured, context-carrying logger.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics records counters, timers, and gauges.
type Metrics interface {
	IncCounter(name string, tags map[string]string)
	RecordTimer(name string, millis float64, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

// Span is one unit of tracing work started by Tracer.Start.
type Span interface {
	End()
	AddEvent(name string, attrs map[string]string)
	SetStatus(err error)
	RecordError(err error)
}

// Tracer starts Spans.
type Tracer interface {
	Start(ctx context.Context, name string) (context.Context, Span)
}

// ToolTelemetry summarizes one tool execution for metrics/logging
// consumers that want a single struct rather than individual calls.
type ToolTelemetry struct {
	ToolName   string
	DurationMs int64
	IsError    bool
	Extra      map[string]any
}
