package ygggo_orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yggai/ygggo_orm/dialect"
)

func newTracedExecutor(t *testing.T) (*Executor, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	cfg := newSQLiteConfig(t)
	cfg.Telemetry.Tracing = true
	exec := openSQLite(t, cfg, WithTracerProvider(tp))
	exporter.Reset()
	return exec, exporter
}

func spanAttrs(s tracetest.SpanStub) map[attribute.Key]string {
	out := make(map[attribute.Key]string, len(s.Attributes))
	for _, kv := range s.Attributes {
		out[kv.Key] = kv.Value.Emit()
	}
	return out
}

func TestTelemetry_StatementSpan(t *testing.T) {
	exec, exporter := newTracedExecutor(t)
	query := "INSERT INTO users (name) VALUES (?)"

	_, err := exec.Insert(context.Background(), dialect.Raw(query, "alice"))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "ygggo_orm.insert", span.Name)
	assert.Equal(t, codes.Ok, span.Status.Code)
	assert.Equal(t, "github.com/yggai/ygggo_orm", span.InstrumentationScope.Name)

	attrs := spanAttrs(span)
	assert.Equal(t, "sqlite", attrs["db.system"])
	assert.Equal(t, "insert", attrs["db.operation"])
	assert.Equal(t, query, attrs["db.statement"])
}

func TestTelemetry_ErrorSpan(t *testing.T) {
	exec, exporter := newTracedExecutor(t)

	_, err := exec.Select(context.Background(), dialect.Raw("SELECT * FROM missing_table"))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	require.NotEmpty(t, spans[0].Events)
	assert.Equal(t, "exception", spans[0].Events[0].Name)
}

func TestTelemetry_SpansFollowCallerContext(t *testing.T) {
	exec, exporter := newTracedExecutor(t)
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)).Tracer("test")

	ctx, parent := tracer.Start(context.Background(), "request")
	_, err := exec.Select(ctx, dialect.Raw("SELECT id FROM users"))
	require.NoError(t, err)
	parent.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "ygggo_orm.select", spans[0].Name)
	assert.Equal(t, parent.SpanContext().TraceID(), spans[0].SpanContext.TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), spans[0].Parent.SpanID())
}

func TestTelemetry_DisabledByDefault(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	exec := newSQLiteExecutor(t, WithTracerProvider(tp))

	_, err := exec.Select(context.Background(), dialect.Raw("SELECT id FROM users"))
	require.NoError(t, err)
	assert.Empty(t, exporter.GetSpans())
}
