package ygggo_orm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all the metric instruments
type Metrics struct {
	connectionsActive  metric.Int64UpDownCounter
	connectionsTotal   metric.Int64Counter
	connectionDuration metric.Float64Histogram

	queriesTotal  metric.Int64Counter
	queryDuration metric.Float64Histogram

	transactionsTotal   metric.Int64Counter
	transactionDuration metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) *Metrics {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}

	m.connectionsActive, _ = meter.Int64UpDownCounter(
		"ygggo_orm_connections_active",
		metric.WithDescription("Number of connections checked out of the pool"),
	)
	m.connectionsTotal, _ = meter.Int64Counter(
		"ygggo_orm_connections_total",
		metric.WithDescription("Total number of connection checkouts"),
	)
	m.connectionDuration, _ = meter.Float64Histogram(
		"ygggo_orm_connection_duration_seconds",
		metric.WithDescription("How long connections stay checked out"),
		metric.WithUnit("s"),
	)
	m.queriesTotal, _ = meter.Int64Counter(
		"ygggo_orm_queries_total",
		metric.WithDescription("Total number of executed statements"),
	)
	m.queryDuration, _ = meter.Float64Histogram(
		"ygggo_orm_query_duration_seconds",
		metric.WithDescription("Duration of executed statements"),
		metric.WithUnit("s"),
	)
	m.transactionsTotal, _ = meter.Int64Counter(
		"ygggo_orm_transactions_total",
		metric.WithDescription("Total number of explicit transactions"),
	)
	m.transactionDuration, _ = meter.Float64Histogram(
		"ygggo_orm_transaction_duration_seconds",
		metric.WithDescription("Duration of explicit transactions"),
		metric.WithUnit("s"),
	)
	return m
}

func statusAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String("status", "error")
	}
	return attribute.String("status", "success")
}

func (e *Executor) recordConnectionAcquired(ctx context.Context) {
	if e.metrics == nil {
		return
	}
	e.metrics.connectionsActive.Add(ctx, 1)
	e.metrics.connectionsTotal.Add(ctx, 1)
}

func (e *Executor) recordConnectionReleased(ctx context.Context, held time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.connectionsActive.Add(ctx, -1)
	e.metrics.connectionDuration.Record(ctx, held.Seconds())
}

func (e *Executor) recordQuery(ctx context.Context, operation string, duration time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation), statusAttr(err))
	e.metrics.queriesTotal.Add(ctx, 1, attrs)
	e.metrics.queryDuration.Record(ctx, duration.Seconds(), attrs)
}

func (e *Executor) recordTransaction(ctx context.Context, outcome string, duration time.Duration, err error) {
	if e.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), statusAttr(err))
	e.metrics.transactionsTotal.Add(ctx, 1, attrs)
	e.metrics.transactionDuration.Record(ctx, duration.Seconds(), attrs)
}
