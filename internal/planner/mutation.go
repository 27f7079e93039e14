package planner

import (
	"errors"
	"fmt"
	"reflect"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/predicate"
	"relmap/internal/schema"
)

// InsertPlan is a single-row insert.
type InsertPlan struct {
	SQLQuery
	// Generated is the auto-generated primary-key column to write back.
	Generated *schema.Member
	// Returning reports whether the statement returns Generated as a row
	// instead of through LastInsertId.
	Returning bool
}

// Assignment sets one root column in a predicate-driven update.
type Assignment struct {
	Path  string
	Value any
}

func writer(g *schema.Graph, d dialect.Dialect) *builder {
	return &builder{graph: g, dialect: d, aliases: schema.Unqualified()}
}

// PlanInsert builds SQL for inserting one instance. Auto-generated columns
// are left to the database.
func PlanInsert(g *schema.Graph, d dialect.Dialect, instance reflect.Value) (*InsertPlan, error) {
	b := writer(g, d)
	table := b.table(g.Root())

	var columns []string
	var values []interface{}
	for _, c := range g.Columns(0) {
		m := g.Member(c)
		if m.Column.AutoGenerated {
			continue
		}
		columns = append(columns, b.quote(m.Column.Name))
		values = append(values, writeValue(m.Value(instance)))
	}

	plan := &InsertPlan{}
	if pk := g.PrimaryKey(0); len(pk) == 1 && g.Member(pk[0]).Column.AutoGenerated {
		plan.Generated = g.Member(pk[0])
		plan.Returning = d.SupportsReturning()
	}
	returning := ""
	if plan.Returning {
		returning = "RETURNING " + b.quote(plan.Generated.Column.Name)
	}

	if len(columns) == 0 {
		query := d.EmptyInsert(table)
		if returning != "" {
			query += " " + returning
		}
		plan.SQLQuery = SQLQuery{SQL: query}
		return plan, nil
	}

	ins := sq.Insert(table).Columns(columns...).Values(values...)
	if returning != "" {
		ins = ins.Suffix(returning)
	}
	q, err := b.finish(ins)
	if err != nil {
		return nil, err
	}
	plan.SQLQuery = q
	return plan, nil
}

// PlanUpdateInstance builds SQL that writes every non-key, non-generated
// column of instance, matched by primary key.
func PlanUpdateInstance(g *schema.Graph, d dialect.Dialect, instance reflect.Value) (SQLQuery, error) {
	b := writer(g, d)
	upd := sq.Update(b.table(g.Root()))
	sets := 0
	for _, c := range g.Columns(0) {
		m := g.Member(c)
		if m.Column.PrimaryKey || m.Column.AutoGenerated {
			continue
		}
		upd = upd.Set(b.quote(m.Column.Name), writeValue(m.Value(instance)))
		sets++
	}
	if sets == 0 {
		return SQLQuery{}, fmt.Errorf("update %s: no writable columns", b.typeName())
	}
	upd, err := b.whereKey(upd, instance)
	if err != nil {
		return SQLQuery{}, err
	}
	return b.finish(upd)
}

// PlanUpdate builds a predicate-driven UPDATE. SET targets must be root
// columns; a nil predicate updates every row.
func PlanUpdate(g *schema.Graph, d dialect.Dialect, sets []Assignment, where *expr.Node) (SQLQuery, error) {
	if len(sets) == 0 {
		return SQLQuery{}, fmt.Errorf("update set cannot be empty")
	}
	b := writer(g, d)
	upd := sq.Update(b.table(g.Root()))
	for _, set := range sets {
		m, err := g.Lookup(set.Path)
		if err != nil {
			return SQLQuery{}, err
		}
		if m.Kind != schema.KindColumn || m.Parent != 0 {
			return SQLQuery{}, &schema.ResolutionError{Type: b.typeName(), Path: set.Path, Reason: "SET target must be a root column"}
		}
		upd = upd.Set(b.quote(m.Column.Name), writeValue(set.Value))
	}
	if where != nil {
		compiled, err := predicate.Compile(where, g, b.aliases, d, predicate.RootColumnsOnly())
		if err != nil {
			return SQLQuery{}, err
		}
		upd = upd.Where(compiled)
	}
	return b.finish(upd)
}

// PlanDelete builds a predicate-driven DELETE; a nil predicate deletes every
// row.
func PlanDelete(g *schema.Graph, d dialect.Dialect, where *expr.Node) (SQLQuery, error) {
	b := writer(g, d)
	del := sq.Delete(b.table(g.Root()))
	if where != nil {
		compiled, err := predicate.Compile(where, g, b.aliases, d, predicate.RootColumnsOnly())
		if err != nil {
			return SQLQuery{}, err
		}
		del = del.Where(compiled)
	}
	return b.finish(del)
}

// PlanDeleteInstance builds SQL for deleting one instance by primary key.
func PlanDeleteInstance(g *schema.Graph, d dialect.Dialect, instance reflect.Value) (SQLQuery, error) {
	b := writer(g, d)
	del := sq.Delete(b.table(g.Root()))
	pk := g.PrimaryKey(0)
	if len(pk) == 0 {
		return SQLQuery{}, fmt.Errorf("delete %s: %w", b.typeName(), ErrNoPrimaryKey)
	}
	for _, c := range pk {
		m := g.Member(c)
		del = del.Where(sq.Eq{b.quote(m.Column.Name): m.Value(instance)})
	}
	return b.finish(del)
}

func (b *builder) whereKey(upd sq.UpdateBuilder, instance reflect.Value) (sq.UpdateBuilder, error) {
	pk := b.graph.PrimaryKey(0)
	if len(pk) == 0 {
		return upd, fmt.Errorf("update %s: %w", b.typeName(), ErrNoPrimaryKey)
	}
	for _, c := range pk {
		m := b.graph.Member(c)
		v := m.Value(instance)
		if v == nil {
			return upd, errors.New("update " + b.typeName() + ": primary key " + m.Name + " is nil")
		}
		upd = upd.Where(sq.Eq{b.quote(m.Column.Name): v})
	}
	return upd, nil
}

// writeValue stores booleans as 0/1.
func writeValue(v any) any {
	if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.Bool {
		if rv.Bool() {
			return 1
		}
		return 0
	}
	return v
}
