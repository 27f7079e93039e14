package relmap

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"go.opentelemetry.io/otel/attribute"

	"relmap/internal/dbexec"
	"relmap/internal/expr"
	"relmap/internal/observability"
	"relmap/internal/planner"
	"relmap/internal/schema"
)

// writeTarget resolves the graph and connection for T.
func writeTarget[T any](c *Client) (*schema.Graph, connection, error) {
	g, err := schema.GraphOf[T]()
	if err != nil {
		return nil, connection{}, err
	}
	conn, err := c.connectionFor(g)
	return g, conn, err
}

func instanceValue[T any](instance *T) (reflect.Value, error) {
	if instance == nil {
		return reflect.Value{}, fmt.Errorf("relmap: nil %s instance", reflect.TypeFor[T]().Name())
	}
	return reflect.ValueOf(instance).Elem(), nil
}

// exec runs one write statement and reports rows affected.
func (c *Client) exec(ctx context.Context, g *schema.Graph, conn connection, op string, q planner.SQLQuery) (n int64, err error) {
	ctx, span := observability.StartSpan(ctx, "relmap."+op, attribute.String("relmap.type", g.Type.Name()))
	defer func() {
		observability.FinishSpan(span, err)
		c.metrics.RecordWrite(ctx, g.Type.Name(), op, err)
	}()
	logStatements(ctx, c.loggerFor(ctx, g), []dbexec.Statement{{Query: q.SQL, Args: q.Args}})

	res, err := conn.executor.ExecContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Insert writes one instance. A single auto-generated primary key is read
// back into the instance, through RETURNING where the dialect has it and
// LastInsertId otherwise.
func Insert[T any](ctx context.Context, c *Client, instance *T) (err error) {
	g, conn, err := writeTarget[T](c)
	if err != nil {
		return err
	}
	v, err := instanceValue(instance)
	if err != nil {
		return err
	}
	plan, err := planner.PlanInsert(g, conn.dialect, v)
	if err != nil {
		return err
	}

	ctx, span := observability.StartSpan(ctx, "relmap.insert", attribute.String("relmap.type", g.Type.Name()))
	defer func() {
		observability.FinishSpan(span, err)
		c.metrics.RecordWrite(ctx, g.Type.Name(), "insert", err)
	}()
	logger := c.loggerFor(ctx, g)
	logStatements(ctx, logger, []dbexec.Statement{{Query: plan.SQL, Args: plan.Args}})

	if plan.Returning {
		rows, err := conn.executor.QueryContext(ctx, plan.SQL, plan.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return err
			}
			return fmt.Errorf("insert %s: no generated key returned", g.Type.Name())
		}
		var id any
		if err := rows.Scan(&id); err != nil {
			return err
		}
		if err := plan.Generated.Set(v, id); err != nil {
			return fmt.Errorf("insert %s: %w", g.Type.Name(), err)
		}
		return rows.Err()
	}

	res, err := conn.executor.ExecContext(ctx, plan.SQL, plan.Args...)
	if err != nil {
		return err
	}
	if plan.Generated == nil {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		logger.WarnContext(ctx, "generated key not available", slog.String("error", err.Error()))
		return nil
	}
	if err := plan.Generated.Set(v, id); err != nil {
		return fmt.Errorf("insert %s: %w", g.Type.Name(), err)
	}
	return nil
}

// UpdateInstance writes every non-key column of instance, matched by
// primary key, and reports the rows affected.
func UpdateInstance[T any](ctx context.Context, c *Client, instance *T) (int64, error) {
	g, conn, err := writeTarget[T](c)
	if err != nil {
		return 0, err
	}
	v, err := instanceValue(instance)
	if err != nil {
		return 0, err
	}
	q, err := planner.PlanUpdateInstance(g, conn.dialect, v)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, g, conn, "update", q)
}

// DeleteInstance deletes instance by primary key.
func DeleteInstance[T any](ctx context.Context, c *Client, instance *T) (int64, error) {
	g, conn, err := writeTarget[T](c)
	if err != nil {
		return 0, err
	}
	v, err := instanceValue(instance)
	if err != nil {
		return 0, err
	}
	q, err := planner.PlanDeleteInstance(g, conn.dialect, v)
	if err != nil {
		return 0, err
	}
	return c.exec(ctx, g, conn, "delete", q)
}

// UpdateBuilder is a predicate-driven UPDATE over T.
type UpdateBuilder[T any] struct {
	client *Client
	sets   []planner.Assignment
	where  *Expr
}

// Update starts a predicate-driven update of T.
func Update[T any](c *Client) *UpdateBuilder[T] {
	return &UpdateBuilder[T]{client: c}
}

// Set assigns value to a root column path.
func (u *UpdateBuilder[T]) Set(path string, value any) *UpdateBuilder[T] {
	u.sets = append(u.sets, planner.Assignment{Path: path, Value: value})
	return u
}

// Where restricts the rows updated. The predicate may only reference root
// columns. Without it every row is updated.
func (u *UpdateBuilder[T]) Where(pred *Expr) *UpdateBuilder[T] {
	u.where = andWhere(u.where, pred)
	return u
}

// Exec runs the update and reports the rows affected.
func (u *UpdateBuilder[T]) Exec(ctx context.Context) (int64, error) {
	g, conn, err := writeTarget[T](u.client)
	if err != nil {
		return 0, err
	}
	q, err := planner.PlanUpdate(g, conn.dialect, u.sets, u.where)
	if err != nil {
		return 0, err
	}
	return u.client.exec(ctx, g, conn, "update", q)
}

// DeleteBuilder is a predicate-driven DELETE over T.
type DeleteBuilder[T any] struct {
	client *Client
	where  *Expr
}

// Delete starts a predicate-driven delete of T.
func Delete[T any](c *Client) *DeleteBuilder[T] {
	return &DeleteBuilder[T]{client: c}
}

// Where restricts the rows deleted; see UpdateBuilder.Where.
func (d *DeleteBuilder[T]) Where(pred *Expr) *DeleteBuilder[T] {
	d.where = andWhere(d.where, pred)
	return d
}

// Exec runs the delete and reports the rows affected.
func (d *DeleteBuilder[T]) Exec(ctx context.Context) (int64, error) {
	g, conn, err := writeTarget[T](d.client)
	if err != nil {
		return 0, err
	}
	q, err := planner.PlanDelete(g, conn.dialect, d.where)
	if err != nil {
		return 0, err
	}
	return d.client.exec(ctx, g, conn, "delete", q)
}

func andWhere(current, pred *Expr) *Expr {
	if current == nil {
		return pred
	}
	return expr.And(current, pred)
}
