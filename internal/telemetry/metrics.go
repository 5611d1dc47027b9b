package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the pipeline instruments. A nil *Metrics records nothing.
type Metrics struct {
	IngestCounter   metric.Int64Counter
	RespondCounter  metric.Int64Counter
	FallbackCounter metric.Int64Counter
	LLMCallCounter  metric.Int64Counter
	StageDuration   metric.Float64Histogram
}

// NewMetrics creates instruments on the global meter provider
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("legal-rag")

	ingest, err := meter.Int64Counter(
		"legalrag.ingest.total",
		metric.WithDescription("Documents ingested, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	respond, err := meter.Int64Counter(
		"legalrag.respond.total",
		metric.WithDescription("Response requests, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	fallbacks, err := meter.Int64Counter(
		"legalrag.llm.fallbacks",
		metric.WithDescription("Model calls replaced by a default value"),
	)
	if err != nil {
		return nil, err
	}

	calls, err := meter.Int64Counter(
		"legalrag.llm.calls",
		metric.WithDescription("Completion calls, by provider and outcome"),
	)
	if err != nil {
		return nil, err
	}

	stages, err := meter.Float64Histogram(
		"legalrag.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		IngestCounter:   ingest,
		RespondCounter:  respond,
		FallbackCounter: fallbacks,
		LLMCallCounter:  calls,
		StageDuration:   stages,
	}, nil
}

func outcome(ok bool) attribute.KeyValue {
	if ok {
		return attribute.String("outcome", "success")
	}
	return attribute.String("outcome", "failure")
}

func (m *Metrics) RecordIngest(ctx context.Context, ok bool) {
	if m == nil {
		return
	}
	m.IngestCounter.Add(ctx, 1, metric.WithAttributes(outcome(ok)))
}

func (m *Metrics) RecordRespond(ctx context.Context, found bool) {
	if m == nil {
		return
	}
	m.RespondCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("found", found)))
}

func (m *Metrics) RecordFallback(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.FallbackCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}

func (m *Metrics) RecordLLMCall(ctx context.Context, provider string, ok bool) {
	if m == nil {
		return
	}
	m.LLMCallCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider), outcome(ok)))
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}
