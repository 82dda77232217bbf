package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelmetric "go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// ClueLogger backs Logger with goa.design/clue/log, the teacher's own
// structured, context-carried logger.
type ClueLogger struct{}

// NewClueLogger constructs a ClueLogger. Callers are expected to have
// already installed a clue log context via log.Context at process start;
// this type only issues the Debug/Info/Warn/Error calls.
func NewClueLogger() Logger { return ClueLogger{} }

func toFields(keyvals []any) []log.Fielder {
	fields := make([]log.Fielder, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, _ := keyvals[i].(string)
		fields = append(fields, log.KV{K: key, V: keyvals[i+1]})
	}
	return fields
}

// Debug implements Logger.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, toFields(keyvals)...)...)
}

// Info implements Logger.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, toFields(keyvals)...)...)
}

// Warn implements Logger.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}, log.KV{K: "level", V: "warn"}}, toFields(keyvals)...)...)
}

// Error implements Logger.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, errors.New(msg), toFields(keyvals)...)
}

// ClueMetrics backs Metrics with OpenTelemetry counters/histograms, the way
// the teacher wires its own telemetry package. Uses the global
// MeterProvider; configure it via otel.SetMeterProvider (typically through
// clue.ConfigureOpenTelemetry) before invoking runtime methods.
type ClueMetrics struct {
	meter otelmetric.Meter
}

// NewClueMetrics constructs a ClueMetrics.
func NewClueMetrics() Metrics {
	return ClueMetrics{meter: otel.Meter("github.com/rocisdk/agentcore")}
}

func attrsFromTags(tags map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// IncCounter implements Metrics.
func (m ClueMetrics) IncCounter(name string, tags map[string]string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), 1, otelmetric.WithAttributes(attrsFromTags(tags)...))
}

// RecordTimer implements Metrics.
func (m ClueMetrics) RecordTimer(name string, millis float64, tags map[string]string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), millis, otelmetric.WithAttributes(attrsFromTags(tags)...))
}

// RecordGauge implements Metrics. OTEL has no synchronous gauge instrument,
// so a histogram stands in, matching the teacher's own fallback.
func (m ClueMetrics) RecordGauge(name string, value float64, tags map[string]string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, otelmetric.WithAttributes(attrsFromTags(tags)...))
}

// OtelTracer backs Tracer with an OpenTelemetry tracer.
type OtelTracer struct {
	tracer oteltrace.Tracer
}

// NewOtelTracer wraps an OpenTelemetry Tracer.
func NewOtelTracer(tracer oteltrace.Tracer) Tracer {
	return OtelTracer{tracer: tracer}
}

// Start implements Tracer.
func (t OtelTracer) Start(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) AddEvent(name string, attrs map[string]string) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	s.span.AddEvent(name, oteltrace.WithAttributes(kvs...))
}

func (s otelSpan) SetStatus(err error) {
	if err != nil {
		s.span.SetStatus(codes.Error, err.Error())
		return
	}
	s.span.SetStatus(codes.Ok, "")
}

func (s otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
