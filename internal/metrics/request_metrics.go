package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("bridge-metrics")

// RequestMetrics provides metrics collection for scenario query handling.
type RequestMetrics struct {
	queriesReceivedCounter metric.Int64Counter
	queriesParsedCounter   metric.Int64Counter
	passthroughCounter     metric.Int64Counter
	transportFailCounter   metric.Int64Counter
	invokeDurationHist     metric.Float64Histogram
	queriesActiveGauge     metric.Int64UpDownCounter
}

// NewRequestMetrics creates a new request metrics collector.
func NewRequestMetrics() (*RequestMetrics, error) {
	queriesReceivedCounter, err := meter.Int64Counter(
		"citybrain.bridge.queries.received",
		metric.WithDescription("Total number of scenario queries received"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	queriesParsedCounter, err := meter.Int64Counter(
		"citybrain.bridge.queries.parsed",
		metric.WithDescription("Queries whose Modal output normalized into a canonical result"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	passthroughCounter, err := meter.Int64Counter(
		"citybrain.bridge.queries.passthrough",
		metric.WithDescription("Queries forwarded as raw passthrough text for client-side recovery"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	transportFailCounter, err := meter.Int64Counter(
		"citybrain.bridge.queries.transport_failed",
		metric.WithDescription("Queries that failed before any output was captured"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	invokeDurationHist, err := meter.Float64Histogram(
		"citybrain.bridge.invoke.duration",
		metric.WithDescription("Duration of Modal CLI invocations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	queriesActiveGauge, err := meter.Int64UpDownCounter(
		"citybrain.bridge.queries.active",
		metric.WithDescription("Number of scenario queries currently in flight"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, err
	}

	return &RequestMetrics{
		queriesReceivedCounter: queriesReceivedCounter,
		queriesParsedCounter:   queriesParsedCounter,
		passthroughCounter:     passthroughCounter,
		transportFailCounter:   transportFailCounter,
		invokeDurationHist:     invokeDurationHist,
		queriesActiveGauge:     queriesActiveGauge,
	}, nil
}

// RecordQueryReceived records a newly accepted scenario query.
func (rm *RequestMetrics) RecordQueryReceived(ctx context.Context) {
	rm.queriesReceivedCounter.Add(ctx, 1)
	rm.queriesActiveGauge.Add(ctx, 1)
}

// RecordQueryParsed records a query that produced a canonical result
// server-side.
func (rm *RequestMetrics) RecordQueryParsed(ctx context.Context, modelUsed string, duration time.Duration) {
	rm.queriesParsedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("model.used", modelUsed)),
	)
	rm.invokeDurationHist.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("outcome", "parsed")),
	)
	rm.queriesActiveGauge.Add(ctx, -1)
}

// RecordQueryPassthrough records a query whose output is being handed to the
// client as raw passthrough text.
func (rm *RequestMetrics) RecordQueryPassthrough(ctx context.Context, reason string, duration time.Duration) {
	rm.passthroughCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	rm.invokeDurationHist.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("outcome", "passthrough")),
	)
	rm.queriesActiveGauge.Add(ctx, -1)
}

// RecordTransportFailure records a query that failed at the Modal boundary.
func (rm *RequestMetrics) RecordTransportFailure(ctx context.Context, duration time.Duration) {
	rm.transportFailCounter.Add(ctx, 1)
	rm.invokeDurationHist.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("outcome", "transport_failed")),
	)
	rm.queriesActiveGauge.Add(ctx, -1)
}
