package telemetry

import "context"

type noopLogger struct{}

// NewNoopLogger returns a Logger that discards everything, for tests and
// embedders that wire their own logging.
func NewNoopLogger() Logger { return noopLogger{} }

func (noopLogger) Debug(ctx context.Context, msg string, keyvals ...any) {}
func (noopLogger) Info(ctx context.Context, msg string, keyvals ...any)  {}
func (noopLogger) Warn(ctx context.Context, msg string, keyvals ...any)  {}
func (noopLogger) Error(ctx context.Context, msg string, keyvals ...any) {}

type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) IncCounter(name string, tags map[string]string)                {}
func (noopMetrics) RecordTimer(name string, millis float64, tags map[string]string) {}
func (noopMetrics) RecordGauge(name string, value float64, tags map[string]string)  {}

type noopSpan struct{}

func (noopSpan) End()                                       {}
func (noopSpan) AddEvent(name string, attrs map[string]string) {}
func (noopSpan) SetStatus(err error)                         {}
func (noopSpan) RecordError(err error)                       {}

type noopTracer struct{}

// NewNoopTracer returns a Tracer producing spans that do nothing.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	return ctx, noopSpan{}
}
