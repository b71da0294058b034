package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer opens spans around the stages of a backtest run.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a BusinessTracer on provider. A nil provider uses the global one.
func NewBusinessTracer(provider trace.TracerProvider) *BusinessTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &BusinessTracer{tracer: provider.Tracer(ServiceName)}
}

// TraceBacktestRun starts the root span of a run.
func (bt *BusinessTracer) TraceBacktestRun(ctx context.Context, runID string, assets int, top int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "backtest.run", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.Int("run.assets", assets),
		attribute.Int("run.top", top),
	))
}

// RecordRunOutcome annotates a run span with per-pair counts.
func (bt *BusinessTracer) RecordRunOutcome(span trace.Span, succeeded int, failed int) {
	span.SetAttributes(
		attribute.Int("run.pairs_succeeded", succeeded),
		attribute.Int("run.pairs_failed", failed),
	)
	if succeeded == 0 && failed > 0 {
		span.SetStatus(codes.Error, "all pairs failed")
		return
	}
	span.SetStatus(codes.Ok, "")
}

// TraceRanking starts a span for candidate-pair ranking.
func (bt *BusinessTracer) TraceRanking(ctx context.Context, distanceName string, candidates int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "backtest.rank", trace.WithAttributes(
		attribute.String("ranking.distance", distanceName),
		attribute.Int("ranking.candidates", candidates),
	))
}

// TracePair starts a span for one pair's pipeline.
func (bt *BusinessTracer) TracePair(ctx context.Context, pair string, rank int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "backtest.pair", trace.WithAttributes(
		attribute.String("pair.name", pair),
		attribute.Int("pair.rank", rank),
	))
}

// PairMetrics is the span payload of a completed pair.
type PairMetrics struct {
	Sigma       float64
	Mean        float64
	StdDev      float64
	FinalEquity float64
	Entries     int
}

// RecordPairResult adds pair metrics to a pair span.
func (bt *BusinessTracer) RecordPairResult(span trace.Span, metrics PairMetrics) {
	span.SetAttributes(
		attribute.Float64("pair.sigma", metrics.Sigma),
		attribute.Float64("pair.mean_return", metrics.Mean),
		attribute.Float64("pair.std_return", metrics.StdDev),
		attribute.Float64("pair.final_equity", metrics.FinalEquity),
		attribute.Int("pair.entries", metrics.Entries),
	)
	span.SetStatus(codes.Ok, "")
}

// RecordPairFailure marks a pair span as failed at stage.
func (bt *BusinessTracer) RecordPairFailure(span trace.Span, stage string, err error) {
	span.SetAttributes(attribute.String("pair.failed_stage", stage))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceNotification starts a span for notification delivery.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, channel string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.String("notification.channel", channel),
	))
}

// RecordNotificationResult records the outcome of a notification attempt.
func (bt *BusinessTracer) RecordNotificationResult(span trace.Span, err error) {
	span.SetAttributes(attribute.Bool("notification.success", err == nil))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
