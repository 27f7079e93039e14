package relmap

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"relmap/internal/dbexec"
	"relmap/internal/dialect"
	"relmap/internal/materialize"
	"relmap/internal/observability"
	"relmap/internal/planner"
	"relmap/internal/schema"
)

// ErrNotFound is returned by First when no row matches.
var ErrNotFound = errors.New("relmap: no matching row")

// QueryBuilder accumulates a query over T. Builders are not safe for
// concurrent use; build one per query.
type QueryBuilder[T any] struct {
	client *Client
	req    planner.Request
}

// Query starts a query over the modeled type T.
func Query[T any](c *Client) *QueryBuilder[T] {
	return &QueryBuilder[T]{client: c}
}

// Where adds a predicate. Repeated calls are combined with AND.
func (q *QueryBuilder[T]) Where(pred *Expr) *QueryBuilder[T] {
	q.req.Where = andWhere(q.req.Where, pred)
	return q
}

// OrderBy appends an ascending order on a dotted column path.
func (q *QueryBuilder[T]) OrderBy(path string) *QueryBuilder[T] {
	q.req.Order = append(q.req.Order, planner.OrderBy{Path: path})
	return q
}

// OrderByDesc appends a descending order on a dotted column path.
func (q *QueryBuilder[T]) OrderByDesc(path string) *QueryBuilder[T] {
	q.req.Order = append(q.req.Order, planner.OrderBy{Path: path, Desc: true})
	return q
}

// Limit caps the number of root instances returned.
func (q *QueryBuilder[T]) Limit(n uint64) *QueryBuilder[T] {
	q.req.Limit = n
	return q
}

// Offset skips root instances. Offset paging needs an order; the primary
// key is used when none is given.
func (q *QueryBuilder[T]) Offset(n uint64) *QueryBuilder[T] {
	q.req.Offset = n
	return q
}

// Include loads the named collections, e.g. "Chapters.Paragraphs". Every
// collection along a path is loaded.
func (q *QueryBuilder[T]) Include(paths ...string) *QueryBuilder[T] {
	q.req.Include = append(q.req.Include, paths...)
	return q
}

// ForUpdate locks the selected root rows for update where the dialect
// supports it.
func (q *QueryBuilder[T]) ForUpdate() *QueryBuilder[T] {
	q.req.Lock = dialect.LockUpdate
	return q
}

// ForShare takes a shared lock on the selected root rows where the dialect
// supports it.
func (q *QueryBuilder[T]) ForShare() *QueryBuilder[T] {
	q.req.Lock = dialect.LockShare
	return q
}

// Plan compiles the query without running it.
func (q *QueryBuilder[T]) Plan() (*planner.Plan, error) {
	g, err := schema.GraphOf[T]()
	if err != nil {
		return nil, err
	}
	conn, err := q.client.connectionFor(g)
	if err != nil {
		return nil, err
	}
	return planner.PlanQuery(g, conn.dialect, q.req, q.client.planOptions()...)
}

// Result is a materialized query together with any consistency warnings.
type Result[T any] struct {
	Items    []*T
	Warnings []ConsistencyWarning
}

// Execute runs the query and returns the root instances. If reading fails
// part way through, the instances built so far are returned with the error.
func (q *QueryBuilder[T]) Execute(ctx context.Context) ([]*T, error) {
	res, err := q.Fetch(ctx)
	if res == nil {
		return nil, err
	}
	return res.Items, err
}

// Fetch is Execute with the consistency warnings of the run.
func (q *QueryBuilder[T]) Fetch(ctx context.Context) (_ *Result[T], err error) {
	g, err := schema.GraphOf[T]()
	if err != nil {
		return nil, err
	}
	conn, err := q.client.connectionFor(g)
	if err != nil {
		return nil, err
	}
	logger := q.client.loggerFor(ctx, g)

	ctx, span := observability.StartSpan(ctx, "relmap.query",
		attribute.String("relmap.type", g.Type.Name()),
		attribute.String("db.system", conn.dialect.Name()),
	)
	defer func() { observability.FinishSpan(span, err) }()

	start := time.Now()
	plan, err := planner.PlanQuery(g, conn.dialect, q.req, q.client.planOptions()...)
	if err != nil {
		return nil, err
	}
	strategy := materialize.StrategyOf(plan)
	span.SetAttributes(
		attribute.String("relmap.strategy", strategy.String()),
		attribute.Int("relmap.statements", len(plan.Statements)),
	)
	logger.DebugContext(ctx, "planned query",
		slog.String("strategy", strategy.String()),
		slog.Int("statements", len(plan.Statements)),
		slog.Int("collections", plan.Cost.Collections),
	)
	logStatements(ctx, logger, plan.Statements)

	record := observability.QueryRecord{
		Type:       g.Type.Name(),
		Strategy:   strategy.String(),
		Statements: len(plan.Statements),
	}
	defer func() {
		record.Duration = time.Since(start)
		record.Err = err
		q.client.metrics.RecordQuery(ctx, record)
	}()

	cur, err := conn.executor.QueryBatch(ctx, plan.Statements)
	if err != nil {
		return nil, err
	}
	res, err := materialize.Materialize(ctx, plan, cur,
		materialize.WithStrict(q.client.strict),
		materialize.WithLogger(logger),
	)
	if closeErr := cur.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if res == nil {
		return nil, err
	}
	record.Rows = res.Rows
	record.Warnings = len(res.Warnings)
	return &Result[T]{Items: materialize.Collect[T](res), Warnings: res.Warnings}, err
}

// First returns the first matching instance, or ErrNotFound.
func (q *QueryBuilder[T]) First(ctx context.Context) (*T, error) {
	items, err := q.Limit(1).Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}
	return items[0], nil
}

// Count returns the number of root rows matching the predicate. Ordering,
// paging and includes are ignored.
func (q *QueryBuilder[T]) Count(ctx context.Context) (n int64, err error) {
	g, err := schema.GraphOf[T]()
	if err != nil {
		return 0, err
	}
	conn, err := q.client.connectionFor(g)
	if err != nil {
		return 0, err
	}
	ctx, span := observability.StartSpan(ctx, "relmap.count", attribute.String("relmap.type", g.Type.Name()))
	defer func() { observability.FinishSpan(span, err) }()

	stmt, err := planner.PlanCount(g, conn.dialect, q.req.Where)
	if err != nil {
		return 0, err
	}
	logStatements(ctx, q.client.loggerFor(ctx, g), []dbexec.Statement{{Query: stmt.SQL, Args: stmt.Args, Kind: dbexec.KindSelect}})

	rows, err := conn.executor.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}
