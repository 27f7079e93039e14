package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"relmap/internal/dbexec"
	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/naming"
	"relmap/internal/predicate"
	"relmap/internal/schema"
)

// Request is what the caller asks of one query.
type Request struct {
	Where *expr.Node
	Order []OrderBy
	// Limit caps the number of root rows; zero means no limit.
	Limit uint64
	// Offset skips root rows; zero means no offset.
	Offset uint64
	// Include lists dotted collection paths to load, e.g. "Chapters.Paragraphs".
	Include []string
	Lock    dialect.LockMode
}

// Stream describes one result set of a plan: the entity member whose
// instances it yields and the column members it carries, in select order.
// Result-set columns are named ColumnAlias(member index).
type Stream struct {
	Member  int
	Columns []int
}

// Plan is the output of planning a query: one executor batch plus the shape
// of each result set it produces.
type Plan struct {
	Graph   *schema.Graph
	Aliases *schema.Aliases
	Dialect dialect.Dialect
	// Staged is true when child collections were requested.
	Staged     bool
	Statements []dbexec.Statement
	// Streams has one entry per select statement, in batch order.
	Streams []Stream
	Params  map[string]any
	Cost    PlanCost
}

type planOptions struct {
	limits    *PlanLimits
	stageName func(path string) string
}

// PlanOption customizes planning behavior.
type PlanOption func(*planOptions)

// WithLimits enforces planner cost limits for a query.
func WithLimits(limits PlanLimits) PlanOption {
	return func(o *planOptions) {
		o.limits = &limits
	}
}

// WithStageNamer overrides how staging tables are named. The function
// receives the collection path ("" for the root) and returns an unquoted
// table name that must be unique within the session.
func WithStageNamer(name func(path string) string) PlanOption {
	return func(o *planOptions) {
		o.stageName = name
	}
}

var stageNamer = naming.Default()

// UniqueStageName is the default stage namer: the member path plus a random
// suffix, so concurrent batches on pooled sessions never collide.
func UniqueStageName(path string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return stageNamer.StageName(path, suffix)
}

// PlanQuery is the primary planning entrypoint.
func PlanQuery(g *schema.Graph, d dialect.Dialect, req Request, opts ...PlanOption) (*Plan, error) {
	options := &planOptions{stageName: UniqueStageName}
	for _, opt := range opts {
		opt(options)
	}

	b := &builder{graph: g, dialect: d, aliases: schema.AssignAliases(g)}
	included, depth, err := b.resolveIncludes(req.Include)
	if err != nil {
		return nil, err
	}

	var where sq.Sqlizer
	var params map[string]any
	if req.Where != nil {
		compiled, err := predicate.Compile(req.Where, g, b.aliases, d)
		if err != nil {
			return nil, err
		}
		where = compiled
		params = compiled.Params()
	}

	order, err := b.resolveOrder(req.Order)
	if err != nil {
		return nil, err
	}
	root, err := b.rootSelect(req, where, order)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Graph:   g,
		Aliases: b.aliases,
		Dialect: d,
		Params:  params,
	}
	if len(included) == 0 {
		plan.Statements = []dbexec.Statement{{Query: root.SQL, Args: root.Args, Kind: dbexec.KindSelect}}
		plan.Streams = []Stream{{Member: 0, Columns: b.entityColumns(0)}}
	} else {
		plan.Staged = true
		s := &stager{builder: b, included: included, rootOrder: order, name: options.stageName}
		if err := s.plan(root); err != nil {
			return nil, err
		}
		plan.Statements = s.statements()
		plan.Streams = s.streams
	}

	plan.Cost = PlanCost{Depth: depth, Collections: len(included), Statements: len(plan.Statements)}
	if options.limits != nil {
		if err := validateLimits(plan.Cost, *options.limits); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// rootSelect renders the root entity select with its reference joins,
// predicate, ordering, paging and lock hint.
func (b *builder) rootSelect(req Request, where sq.Sqlizer, order []orderTerm) (SQLQuery, error) {
	cols := b.entityColumns(0)
	from, err := b.from(0)
	if err != nil {
		return SQLQuery{}, err
	}
	base := sq.Select(b.selectColumns(cols)...).From(from)
	if where != nil {
		base = base.Where(where)
	}
	lock := b.dialect.LockClause(req.Lock, b.alias(0))

	if req.Offset > 0 {
		terms := order
		if terms == nil {
			terms = b.keyOrder(0)
		}
		if len(terms) == 0 {
			return SQLQuery{}, &MissingOrderingError{Type: b.typeName()}
		}
		over := strings.Join(renderOrder(terms, b.column), ", ")
		if lock != "" {
			return b.lockedPage(req, from, where, cols, terms, over, lock)
		}
		inner := base.Column(fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s) AS %s", over, rowNumberAlias))
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = ColumnAlias(c)
		}
		outer := sq.Select(names...).
			FromSelect(inner, "paged").
			Where(sq.Gt{rowNumberAlias: req.Offset})
		if req.Limit > 0 {
			outer = outer.Where(sq.LtOrEq{rowNumberAlias: req.Offset + req.Limit})
		}
		return b.finish(outer.OrderBy(rowNumberAlias))
	}

	if order != nil {
		base = base.OrderBy(renderOrder(order, b.column)...)
	}
	if req.Limit > 0 {
		base = base.Suffix(b.dialect.Limit(req.Limit))
	}
	if lock != "" {
		base = base.Suffix(lock)
	}
	return b.finish(base)
}

// lockedPage renders an offset page with a lock hint. Row locks are not
// allowed next to window functions, so the page's keys are numbered in a
// subquery and the outer select locks the rows matching them.
func (b *builder) lockedPage(req Request, from string, where sq.Sqlizer, cols []int, order []orderTerm, over, lock string) (SQLQuery, error) {
	keys := b.graph.PrimaryKey(0)
	if len(keys) == 0 {
		return SQLQuery{}, fmt.Errorf("%s: locking an offset page requires a primary key", b.typeName())
	}
	inner := sq.Select(b.selectColumns(keys)...).
		Column(fmt.Sprintf("ROW_NUMBER() OVER (ORDER BY %s) AS %s", over, rowNumberAlias)).
		From(from)
	if where != nil {
		inner = inner.Where(where)
	}
	names := make([]string, len(keys))
	targets := make([]string, len(keys))
	for i, k := range keys {
		names[i] = ColumnAlias(k)
		targets[i] = b.column(b.graph.Member(k))
	}
	page := sq.Select(names...).
		FromSelect(inner, "paged").
		Where(sq.Gt{rowNumberAlias: req.Offset})
	if req.Limit > 0 {
		page = page.Where(sq.LtOrEq{rowNumberAlias: req.Offset + req.Limit})
	}
	pageSQL, args, err := page.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	target := targets[0]
	if len(targets) > 1 {
		target = "(" + strings.Join(targets, ", ") + ")"
	}
	outer := sq.Select(b.selectColumns(cols)...).
		From(from).
		Where(sq.Expr(target+" IN ("+pageSQL+")", args...)).
		OrderBy(renderOrder(order, b.column)...).
		Suffix(lock)
	return b.finish(outer)
}

// resolveIncludes validates include paths and expands always-included
// collections beneath every loaded level. It returns the included
// collection members and the deepest nesting level.
func (b *builder) resolveIncludes(paths []string) (map[int]bool, int, error) {
	included := make(map[int]bool)
	var expand func(owner int)
	expand = func(owner int) {
		for _, c := range b.graph.Children(owner) {
			m := b.graph.Member(c)
			if m.Kind == schema.KindCollection && m.Collection.AlwaysInclude && !m.Terminal && !included[c] {
				included[c] = true
				expand(c)
			}
		}
	}
	expand(0)

	for _, path := range paths {
		owner := 0
		for _, name := range strings.Split(path, ".") {
			m, ok := b.graph.ChildByName(owner, strings.TrimSpace(name))
			if !ok {
				return nil, 0, &schema.ResolutionError{Type: b.typeName(), Path: path}
			}
			if m.Kind != schema.KindCollection {
				return nil, 0, &schema.ResolutionError{Type: b.typeName(), Path: path, Reason: m.Name + " is a " + m.Kind.String() + "; includes traverse collections only"}
			}
			if m.Terminal {
				return nil, 0, &schema.ResolutionError{Type: b.typeName(), Path: path, Reason: m.Name + " closes a type cycle and must be loaded with a separate query"}
			}
			if !included[m.Index] {
				included[m.Index] = true
				expand(m.Index)
			}
			owner = m.Index
		}
	}

	depth := 0
	for c := range included {
		depth = max(depth, b.graph.Member(c).Depth)
	}
	return included, depth, nil
}
