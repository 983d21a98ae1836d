package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides spans for the domain work of the service: ingest
// runs, per-country derivation and dashboard rendering.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer.
//
// Returns:
//   - A pointer to a BusinessTracer backed by the global provider.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetBusinessTracer()}
}

// NewBusinessTracerWith creates a BusinessTracer on an explicit tracer.
func NewBusinessTracerWith(tracer trace.Tracer) *BusinessTracer {
	return &BusinessTracer{tracer: tracer}
}

// IngestMetrics summarises one ingest run.
type IngestMetrics struct {
	Countries int
	Skipped   int
	Fitted    int
	Duration  time.Duration
}

// TraceIngestRun starts a span for a full refresh of the upstream data.
//
// Parameters:
//   - ctx: The parent context.
//   - runID: The identifier recorded for the run.
//
// Returns:
//   - A context containing the new span.
//   - The created span. The caller ends it.
func (bt *BusinessTracer) TraceIngestRun(ctx context.Context, runID string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "ingest_run",
		trace.WithAttributes(attribute.String("ingest.run_id", runID)))
}

// RecordIngestMetrics adds the outcome of an ingest run to its span.
func (bt *BusinessTracer) RecordIngestMetrics(span trace.Span, metrics IngestMetrics) {
	span.SetAttributes(
		attribute.Int("ingest.countries", metrics.Countries),
		attribute.Int("ingest.skipped", metrics.Skipped),
		attribute.Int("ingest.fitted", metrics.Fitted),
		attribute.Int64("ingest.duration_ms", metrics.Duration.Milliseconds()),
	)
}

// TraceCountryDerivation starts a span for deriving one country's document.
func (bt *BusinessTracer) TraceCountryDerivation(ctx context.Context, country string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "country_derivation",
		trace.WithAttributes(attribute.String("country", country)))
}

// TraceDashboardView starts a span for rendering a dashboard view.
//
// Parameters:
//   - ctx: The parent context.
//   - country: The selected country.
//   - horizon: The forecast horizon in days.
//
// Returns:
//   - A context containing the new span.
//   - The created span. The caller ends it.
func (bt *BusinessTracer) TraceDashboardView(ctx context.Context, country string, horizon int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "dashboard_view",
		trace.WithAttributes(
			attribute.String("country", country),
			attribute.Int("dashboard.horizon", horizon),
		))
}

// RecordCacheResult marks whether a view was served from cache.
func (bt *BusinessTracer) RecordCacheResult(span trace.Span, hit bool) {
	span.SetAttributes(attribute.Bool("cache.hit", hit))
}

// RecordError records err on span and marks it failed.
func (bt *BusinessTracer) RecordError(span trace.Span, err error, description string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, description)
}
