package ygggo_orm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/yggai/ygggo_orm"
	instrumentationVersion = "v0.1.0"
)

func newTracer(tp trace.TracerProvider) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))
}

// startSpan creates a new span with common database attributes
func (e *Executor) startSpan(ctx context.Context, operation, query string) (context.Context, trace.Span) {
	if !e.tracing {
		return ctx, trace.SpanFromContext(ctx)
	}
	ctx, span := e.tracer.Start(ctx, "ygggo_orm."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", e.dialect.Name()),
		attribute.String("db.operation", operation),
	)
	if query != "" {
		span.SetAttributes(attribute.String("db.statement", query))
	}
	return ctx, span
}

// finishSpan completes a span with error handling
func (e *Executor) finishSpan(span trace.Span, err error) {
	if !e.tracing {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
