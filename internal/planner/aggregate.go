package planner

import (
	sq "github.com/Masterminds/squirrel"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/predicate"
	"relmap/internal/schema"
)

// PlanCount builds a COUNT(*) over the root entity with the same joins and
// predicate a select would use, so the count matches the rows returned.
func PlanCount(g *schema.Graph, d dialect.Dialect, where *expr.Node) (SQLQuery, error) {
	b := &builder{graph: g, dialect: d, aliases: schema.AssignAliases(g)}
	from, err := b.from(0)
	if err != nil {
		return SQLQuery{}, err
	}
	sel := sq.Select("COUNT(*)").From(from)
	if where != nil {
		compiled, err := predicate.Compile(where, g, b.aliases, d)
		if err != nil {
			return SQLQuery{}, err
		}
		sel = sel.Where(compiled)
	}
	return b.finish(sel)
}
