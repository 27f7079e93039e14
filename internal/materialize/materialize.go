// Package materialize turns the row streams of an executed plan back into a
// linked object graph.
package materialize

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"relmap/internal/dbexec"
	"relmap/internal/logging"
	"relmap/internal/planner"
	"relmap/internal/schema"
)

// Strategy selects how a plan's result sets become instances.
type Strategy int

const (
	// Direct reads one result set, one root instance per row.
	Direct Strategy = iota
	// Staged reads the root set and one set per included collection,
	// deduplicating through the identity map and attaching children to
	// their parents.
	Staged
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case Staged:
		return "staged"
	default:
		return "unknown"
	}
}

// StrategyOf picks the strategy for a plan.
func StrategyOf(p *planner.Plan) Strategy {
	if p.Staged {
		return Staged
	}
	return Direct
}

// Result is a materialized graph.
type Result struct {
	// Roots holds a pointer to each root instance, in stream order.
	Roots []reflect.Value
	// Rows counts the rows consumed across all result sets.
	Rows     int
	Warnings []ConsistencyWarning
}

// Collect returns the roots of r as typed pointers.
func Collect[T any](r *Result) []*T {
	out := make([]*T, 0, len(r.Roots))
	for _, v := range r.Roots {
		out = append(out, v.Interface().(*T))
	}
	return out
}

type options struct {
	strict bool
	logger *logging.Logger
}

// Option customizes materialization.
type Option func(*options)

// WithStrict turns consistency warnings into ErrInconsistentGraph.
func WithStrict(strict bool) Option {
	return func(o *options) {
		o.strict = strict
	}
}

// WithLogger sets the logger used for consistency warnings. The default is
// the logger carried by the context.
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Materialize consumes cur according to plan. If the cursor fails part way
// through, the graph built from the rows already consumed is returned along
// with the error.
func Materialize(ctx context.Context, plan *planner.Plan, cur dbexec.Cursor, opts ...Option) (*Result, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.FromContext(ctx)
	}
	if len(plan.Streams) == 0 {
		return nil, fmt.Errorf("materialize: plan has no result sets")
	}

	m := &materializer{
		graph:    plan.Graph,
		cur:      cur,
		opts:     o,
		result:   &Result{},
		identity: make(map[int]identityMap),
		pending:  make(map[int]map[string][]reflect.Value),
		done:     make(map[int]bool),
	}

	var err error
	switch StrategyOf(plan) {
	case Direct:
		err = m.read(plan.Streams[0], func(inst reflect.Value) error {
			m.result.Roots = append(m.result.Roots, inst)
			return nil
		})
	case Staged:
		err = m.staged(plan.Streams)
	}

	o.logger.DebugContext(ctx, "materialized graph",
		"type", plan.Graph.Type.Name(),
		"strategy", StrategyOf(plan).String(),
		"roots", len(m.result.Roots),
		"rows", m.result.Rows,
		"warnings", len(m.result.Warnings),
	)
	return m.result, err
}

type materializer struct {
	graph  *schema.Graph
	cur    dbexec.Cursor
	opts   options
	result *Result

	// identity holds one map per entity member, keyed by rendered primary key.
	identity map[int]identityMap
	// pending holds children read before their parent stream, by collection
	// member and rendered parent key.
	pending map[int]map[string][]reflect.Value
	done    map[int]bool
}

// staged reads the root stream and then one stream per collection. Streams
// arrive deepest-first below each level, so a collection's own children are
// waiting in pending by the time its rows are read.
func (m *materializer) staged(streams []planner.Stream) error {
	streamed := make(map[int]bool, len(streams))
	for _, s := range streams {
		streamed[s.Member] = true
	}
	for i, s := range streams {
		if i > 0 && !m.cur.NextResultSet() {
			if err := m.cur.Err(); err != nil {
				return err
			}
			return fmt.Errorf("materialize: executor returned %d result sets, plan expects %d", i, len(streams))
		}
		var nested []int
		for _, c := range m.graph.Children(s.Member) {
			if streamed[c] && m.graph.Member(c).Kind == schema.KindCollection {
				nested = append(nested, c)
			}
		}
		if err := m.read(s, m.stagedRow(s.Member, nested)); err != nil {
			return err
		}
		m.done[s.Member] = true
	}
	return m.orphans()
}

func (m *materializer) stagedRow(e int, nested []int) func(reflect.Value) error {
	pk := m.graph.PrimaryKey(e)
	ids := make(identityMap)
	m.identity[e] = ids
	return func(inst reflect.Value) error {
		key, keyed := keyOf(inst.Elem(), m.graph, pk)
		if keyed {
			if _, dup := ids[key]; dup {
				return nil
			}
			ids[key] = inst
		}
		if e == 0 {
			m.result.Roots = append(m.result.Roots, inst)
			return nil
		}
		if keyed {
			for _, c := range nested {
				for _, child := range m.pending[c][key] {
					appendChild(inst, m.graph.Member(c), child)
				}
				delete(m.pending[c], key)
			}
		}
		return m.attach(e, inst)
	}
}

// attach links a collection element to its parent, or parks it until the
// parent's stream is read.
func (m *materializer) attach(c int, inst reflect.Value) error {
	member := m.graph.Member(c)
	fk, _ := m.graph.ChildByName(c, member.Collection.ForeignKey)
	childKey, _ := keyOf(inst.Elem(), m.graph, m.graph.PrimaryKey(c))
	parentKey, ok := keyOf(inst.Elem(), m.graph, []int{fk.Index})
	if !ok {
		return m.warn(ConsistencyWarning{Collection: member.Path, ChildKey: childKey})
	}
	if !m.done[member.Parent] {
		byParent := m.pending[c]
		if byParent == nil {
			byParent = make(map[string][]reflect.Value)
			m.pending[c] = byParent
		}
		byParent[parentKey] = append(byParent[parentKey], inst)
		return nil
	}
	parent, found := m.identity[member.Parent][parentKey]
	if !found {
		return m.warn(ConsistencyWarning{Collection: member.Path, ParentKey: parentKey, ChildKey: childKey})
	}
	appendChild(parent, member, inst)
	return nil
}

// orphans reports children still waiting for a parent after every stream
// has been read.
func (m *materializer) orphans() error {
	for c := 1; c < m.graph.Len(); c++ {
		byParent := m.pending[c]
		if len(byParent) == 0 {
			continue
		}
		member := m.graph.Member(c)
		for parentKey, children := range byParent {
			for _, child := range children {
				childKey, _ := keyOf(child.Elem(), m.graph, m.graph.PrimaryKey(c))
				if err := m.warn(ConsistencyWarning{Collection: member.Path, ParentKey: parentKey, ChildKey: childKey}); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *materializer) warn(w ConsistencyWarning) error {
	m.opts.logger.Warn("dropping child row without a materialized parent",
		"collection", w.Collection,
		"parent_key", w.ParentKey,
		"child_key", w.ChildKey,
	)
	m.result.Warnings = append(m.result.Warnings, w)
	if m.opts.strict {
		return &InconsistentGraphError{Warning: w}
	}
	return nil
}

// read scans the current result set, building one instance per row.
func (m *materializer) read(s planner.Stream, handle func(reflect.Value) error) error {
	cols, err := m.cur.Columns()
	if err != nil {
		return err
	}
	if len(cols) != len(s.Columns) {
		return fmt.Errorf("materialize %s: result set has %d columns, plan expects %d",
			m.graph.Member(s.Member).Entity.Name(), len(cols), len(s.Columns))
	}
	for i, c := range s.Columns {
		if want := planner.ColumnAlias(c); !strings.EqualFold(cols[i], want) {
			return fmt.Errorf("materialize %s: result column %d is %q, plan expects %q",
				m.graph.Member(s.Member).Entity.Name(), i, cols[i], want)
		}
	}

	sh := newShape(m.graph, s)
	vals := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range vals {
		dest[i] = &vals[i]
	}
	for m.cur.Next() {
		if err := m.cur.Scan(dest...); err != nil {
			return err
		}
		inst, err := sh.build(s.Member, vals)
		if err != nil {
			return err
		}
		m.result.Rows++
		if err := handle(inst); err != nil {
			return err
		}
	}
	return m.cur.Err()
}

// appendChild appends child to the collection field of parent, creating the
// slice on first use.
func appendChild(parent reflect.Value, c *schema.Member, child reflect.Value) {
	field := parent.Elem().FieldByIndex(c.Field)
	item := child
	if field.Type().Elem().Kind() != reflect.Pointer {
		item = child.Elem()
	}
	field.Set(reflect.Append(field, item))
}
