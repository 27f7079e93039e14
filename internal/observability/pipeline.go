package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName names relmap's tracer and meter.
const InstrumentationName = "relmap"

// StartSpan starts a pipeline span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(InstrumentationName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// FinishSpan records the outcome of a pipeline stage and ends the span.
func FinishSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("relmap.outcome", outcome))
	span.End()
}

// QueryMetrics holds the instruments of the query pipeline. A nil
// *QueryMetrics records nothing.
type QueryMetrics struct {
	duration   metric.Float64Histogram
	queries    metric.Int64Counter
	statements metric.Int64Histogram
	rows       metric.Int64Histogram
	warnings   metric.Int64Counter
	writes     metric.Int64Counter
}

// QueryRecord describes one executed query.
type QueryRecord struct {
	Type       string
	Strategy   string
	Statements int
	Rows       int
	Warnings   int
	Duration   time.Duration
	Err        error
}

// InitQueryMetrics creates the pipeline instruments on the global meter.
func InitQueryMetrics() (*QueryMetrics, error) {
	return NewQueryMetrics(otel.Meter(InstrumentationName))
}

// NewQueryMetrics creates the pipeline instruments on meter.
func NewQueryMetrics(meter metric.Meter) (*QueryMetrics, error) {
	duration, err := meter.Float64Histogram(
		"relmap.query.duration",
		metric.WithDescription("Duration of queries from planning to materialization in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}
	queries, err := meter.Int64Counter(
		"relmap.queries.total",
		metric.WithDescription("Total number of queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}
	statements, err := meter.Int64Histogram(
		"relmap.query.statements",
		metric.WithDescription("Number of statements in a query batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create statements histogram: %w", err)
	}
	rows, err := meter.Int64Histogram(
		"relmap.query.rows",
		metric.WithDescription("Number of rows materialized by a query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}
	warnings, err := meter.Int64Counter(
		"relmap.materialize.warnings",
		metric.WithDescription("Child rows dropped because their parent was not materialized"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create warnings counter: %w", err)
	}
	writes, err := meter.Int64Counter(
		"relmap.writes.total",
		metric.WithDescription("Total number of insert, update and delete statements executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create writes counter: %w", err)
	}
	return &QueryMetrics{
		duration:   duration,
		queries:    queries,
		statements: statements,
		rows:       rows,
		warnings:   warnings,
		writes:     writes,
	}, nil
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordQuery records one executed query.
func (m *QueryMetrics) RecordQuery(ctx context.Context, r QueryRecord) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("type", r.Type),
		attribute.String("strategy", r.Strategy),
		attribute.String("outcome", outcomeOf(r.Err)),
	)
	m.duration.Record(ctx, float64(r.Duration.Microseconds())/1000, attrs)
	m.queries.Add(ctx, 1, attrs)
	m.statements.Record(ctx, int64(r.Statements), attrs)
	m.rows.Record(ctx, int64(r.Rows), attrs)
	if r.Warnings > 0 {
		m.warnings.Add(ctx, int64(r.Warnings), metric.WithAttributes(attribute.String("type", r.Type)))
	}
}

// RecordWrite records one insert, update or delete.
func (m *QueryMetrics) RecordWrite(ctx context.Context, typeName, op string, err error) {
	if m == nil {
		return
	}
	m.writes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", typeName),
		attribute.String("operation", op),
		attribute.String("outcome", outcomeOf(err)),
	))
}
