package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/flamehaven01/rexsyn/id"
	"github.com/flamehaven01/rexsyn/job"
	"github.com/flamehaven01/rexsyn/observability"
)

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func setupTestMeter() (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return reader, mp
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		OrgID:    id.NewOrgID(),
		Pipeline: "structure_prediction",
	}
}

// collectSum returns the summed value of an Int64Counter by name.
func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	_, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	if e.Name() != "observability-metrics" {
		t.Errorf("name = %q", e.Name())
	}
}

func TestMetricsExtension_Counters(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if err := e.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if err := e.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if err := e.OnJobDeleted(ctx, j.ID, "sha256:x", 3); err != nil {
		t.Fatalf("OnJobDeleted: %v", err)
	}

	if got := collectSum(t, reader, "rexsyn.jobs.created"); got != 2 {
		t.Errorf("created = %d, want 2", got)
	}
}

func TestMetricsExtension_StageDuration(t *testing.T) {
	reader, mp := setupTestMeter()
	e := observability.NewMetricsExtensionWithMeter(mp.Meter("test"))
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnStageCompleted(ctx, j, "ethics_check", 2*time.Second); err != nil {
		t.Fatalf("OnStageCompleted: %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}

	found := false
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "rexsyn.stage.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatal("stage duration is not a float64 histogram")
			}
			for _, dp := range hist.DataPoints {
				found = true
				if dp.Sum != 2.0 {
					t.Errorf("recorded %v seconds, want 2", dp.Sum)
				}
				if v, ok := dp.Attributes.Value(attribute.Key("stage")); !ok || v.AsString() != "ethics_check" {
					t.Errorf("stage attribute = %v", v)
				}
			}
		}
	}
	if !found {
		t.Fatal("no stage duration datapoint recorded")
	}
}

func TestTracingExtension_StageSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	e := observability.NewTracingExtensionWithTracer(tracer)
	j := newTestJob()

	if err := e.OnStageCompleted(context.Background(), j, "semantic_routing", 500*time.Millisecond); err != nil {
		t.Fatalf("OnStageCompleted: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name() != "rexsyn.stage.run" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v", span.Status())
	}

	// The span start is backdated by the reported elapsed time.
	if d := span.EndTime().Sub(span.StartTime()); d < 400*time.Millisecond || d > 600*time.Millisecond {
		t.Errorf("span duration = %v, want about 500ms", d)
	}

	var foundStage bool
	for _, attr := range span.Attributes() {
		if attr.Key == "rexsyn.stage" && attr.Value.AsString() == "semantic_routing" {
			foundStage = true
		}
	}
	if !foundStage {
		t.Error("stage attribute missing")
	}
}

func TestTracingExtension_FailedJobSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	e := observability.NewTracingExtensionWithTracer(tracer)
	j := newTestJob()
	j.FailedStage = "structure_prediction"

	if err := e.OnJobFailed(context.Background(), j, errors.New("predictor down")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", span.Status())
	}
	if len(span.Events()) == 0 {
		t.Error("expected a recorded error event")
	}
}

func TestTracingExtension_SkipSpan(t *testing.T) {
	sr, tracer := setupTestTracer()
	e := observability.NewTracingExtensionWithTracer(tracer)

	if err := e.OnStageSkipped(context.Background(), newTestJob(), "input_validation"); err != nil {
		t.Fatalf("OnStageSkipped: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "rexsyn.stage.skip" {
		t.Fatalf("spans = %v", spans)
	}
}

func TestTracingExtension_NoopWithoutProvider(t *testing.T) {
	e := observability.NewTracingExtension()
	// Must not panic with the global noop tracer.
	if err := e.OnJobCompleted(context.Background(), newTestJob(), time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}
}
