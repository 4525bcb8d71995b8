package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry captures spans and metrics in memory so tests can
// assert on what instrumented code emits.
type TestTelemetry struct {
	recorder *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader

	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
}

// NewTestTelemetry builds an in-memory telemetry capture.
func NewTestTelemetry() *TestTelemetry {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &TestTelemetry{
		recorder: recorder,
		reader:   reader,
		traces:   sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
		metrics:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
}

// Install makes the capture the process-wide default and restores the
// previous providers when the test ends. Instrumented code resolves
// its tracer at construction, so Install must run before the code
// under test is built.
func (tt *TestTelemetry) Install(tb testing.TB) {
	tb.Helper()

	prevTraces := otel.GetTracerProvider()
	prevMetrics := otel.GetMeterProvider()
	otel.SetTracerProvider(tt.traces)
	otel.SetMeterProvider(tt.metrics)

	tb.Cleanup(func() {
		otel.SetTracerProvider(prevTraces)
		otel.SetMeterProvider(prevMetrics)
	})
}

// EndedSpans returns every span ended so far.
func (tt *TestTelemetry) EndedSpans() []sdktrace.ReadOnlySpan {
	return tt.recorder.Ended()
}

// Span returns the first ended span with the given name, or nil.
func (tt *TestTelemetry) Span(name string) sdktrace.ReadOnlySpan {
	for _, span := range tt.recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// RequireSpan fails the test when no ended span has the given name.
func (tt *TestTelemetry) RequireSpan(tb testing.TB, name string) sdktrace.ReadOnlySpan {
	tb.Helper()

	if span := tt.Span(name); span != nil {
		return span
	}

	names := make([]string, 0, len(tt.recorder.Ended()))
	for _, span := range tt.recorder.Ended() {
		names = append(names, span.Name())
	}
	tb.Fatalf("no span named %q recorded; recorded spans: %v", name, names)
	return nil
}

// Collect drains the current metric state.
func (tt *TestTelemetry) Collect(ctx context.Context) (metricdata.ResourceMetrics, error) {
	var rm metricdata.ResourceMetrics
	err := tt.reader.Collect(ctx, &rm)
	return rm, err
}

// SpanAttr returns a span attribute's value as its string form.
func SpanAttr(span sdktrace.ReadOnlySpan, key string) (string, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}
