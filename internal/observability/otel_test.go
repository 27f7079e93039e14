package observability

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "test-service", ServiceVersion: "1.0.0", Environment: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background(), testLogger()) })

	metrics, err := InitQueryMetrics()
	require.NoError(t, err)
	metrics.RecordQuery(context.Background(), QueryRecord{Type: "Book", Strategy: "direct", Statements: 1, Rows: 3})

	families, err := mp.Gatherer().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "relmap_queries_total")
}

func TestQueryMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewQueryMetrics(provider.Meter(InstrumentationName))
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordQuery(ctx, QueryRecord{Type: "Book", Strategy: "staged", Statements: 7, Rows: 12, Warnings: 2, Duration: 3 * time.Millisecond})
	metrics.RecordQuery(ctx, QueryRecord{Type: "Book", Strategy: "direct", Statements: 1, Err: errors.New("boom")})
	metrics.RecordWrite(ctx, "Book", "insert", nil)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}

	queries := byName["relmap.queries.total"].Data.(metricdata.Sum[int64])
	assert.Len(t, queries.DataPoints, 2)

	warnings := byName["relmap.materialize.warnings"].Data.(metricdata.Sum[int64])
	require.Len(t, warnings.DataPoints, 1)
	assert.Equal(t, int64(2), warnings.DataPoints[0].Value)

	writes := byName["relmap.writes.total"].Data.(metricdata.Sum[int64])
	require.Len(t, writes.DataPoints, 1)
	op, _ := writes.DataPoints[0].Attributes.Value("operation")
	assert.Equal(t, "insert", op.AsString())

	var nilMetrics *QueryMetrics
	assert.NotPanics(t, func() {
		nilMetrics.RecordQuery(ctx, QueryRecord{})
		nilMetrics.RecordWrite(ctx, "Book", "delete", nil)
	})
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "relmap.plan", attribute.String("relmap.type", "Book"))
	FinishSpan(span, nil)
	_, span = StartSpan(context.Background(), "relmap.execute")
	FinishSpan(span, errors.New("connection reset"))
	FinishSpan(nil, nil)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "relmap.plan", ended[0].Name())
	assert.Contains(t, ended[0].Attributes(), attribute.String("relmap.outcome", "success"))
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Len(t, ended[1].Events(), 1)
}

func TestParseOTLPProtocol(t *testing.T) {
	p, err := parseOTLPProtocol("")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, p)
	p, err = parseOTLPProtocol("HTTP")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, p)
	_, err = parseOTLPProtocol("udp")
	assert.ErrorContains(t, err, "unsupported OTLP protocol")
}

func TestNewExporters_Insecure(t *testing.T) {
	ctx := context.Background()
	for _, protocol := range []string{"grpc", "http/protobuf"} {
		cfg := ExporterConfig{Endpoint: "localhost:4317", Protocol: protocol, Insecure: true, RetryEnabled: true, Compression: "gzip"}
		traces, err := newTraceExporter(ctx, cfg)
		require.NoError(t, err, protocol)
		require.NoError(t, traces.Shutdown(ctx))

		logs, err := newLogExporter(ctx, cfg)
		require.NoError(t, err, protocol)
		require.NoError(t, logs.Shutdown(ctx))
	}
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	_, err := buildTLSConfig(ExporterConfig{TLSCertFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")

	_, err = newTraceExporter(context.Background(), ExporterConfig{Endpoint: "localhost:4317", TLSCertFile: "/nonexistent/ca.pem"})
	assert.Error(t, err)
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	path := t.TempDir() + "/ca.pem"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(ExporterConfig{TLSCertFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	path := t.TempDir() + "/client.crt"
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(ExporterConfig{TLSClientCertFile: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio(t *testing.T) {
	decide := func(s sdktrace.Sampler, ctx context.Context, id byte) sdktrace.SamplingDecision {
		return s.ShouldSample(sdktrace.SamplingParameters{ParentContext: ctx, TraceID: trace.TraceID{id}, Name: "test"}).Decision
	}
	assert.Equal(t, sdktrace.Drop, decide(traceSamplerForRatio(0), context.Background(), 1))
	assert.Equal(t, sdktrace.RecordAndSample, decide(traceSamplerForRatio(1), context.Background(), 2))

	sampledParent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	assert.Equal(t, sdktrace.RecordAndSample, decide(traceSamplerForRatio(0.5), sampledParent, 4))
}
