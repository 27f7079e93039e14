package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/dbexec"
	"relmap/internal/schema"
)

// Aliases of staged tables inside collection statements.
const (
	parentStageAlias = "s"
	ownStageAlias    = "sc"
)

// stager expands included collections into a cascade of staged statements.
// Setup statements come parent-first, the root select is read first and
// collection selects follow in post-order so every collection's nested
// collections are read before the collection itself.
type stager struct {
	*builder
	included  map[int]bool
	rootOrder []orderTerm
	name      func(path string) string

	setups    []dbexec.Statement
	selects   []dbexec.Statement
	teardowns []dbexec.Statement
	streams   []Stream
}

func (s *stager) plan(root SQLQuery) error {
	stage := s.dialect.StageName(s.name(""))
	cols := s.entityColumns(0)
	if len(root.Args) > 0 && !s.dialect.BindsInStage() {
		if err := s.addFilledStage(stage, root, cols); err != nil {
			return err
		}
	} else {
		s.addStage(stage, root)
	}

	order := s.rootOrder
	if order == nil {
		order = s.keyOrder(0)
	}
	read := sq.Select(stagedColumns(parentStageAlias, cols)...).
		From(fmt.Sprintf("%s AS %s", stage, parentStageAlias)).
		OrderBy(renderOrder(order, stagedColumn(parentStageAlias))...)
	if err := s.addSelect(read, Stream{Member: 0, Columns: cols}); err != nil {
		return err
	}
	return s.collections(0, stage)
}

// collections plans every included collection directly beneath owner, whose
// rows are staged in ownerStage.
func (s *stager) collections(owner int, ownerStage string) error {
	for _, c := range s.graph.Children(owner) {
		if !s.included[c] {
			continue
		}
		m := s.graph.Member(c)
		fk, err := s.foreignKey(c, m.Collection.ForeignKey)
		if err != nil {
			return err
		}
		parentKey, err := s.singleKey(owner, m)
		if err != nil {
			return err
		}
		cols := s.entityColumns(c)
		from, err := s.from(c)
		if err != nil {
			return err
		}
		sel := sq.Select(s.selectColumns(cols)...).
			From(from).
			InnerJoin(fmt.Sprintf("%s AS %s ON %s = %s.%s",
				ownerStage, parentStageAlias, s.column(fk), parentStageAlias, ColumnAlias(parentKey.Index)))

		if !s.hasIncludedChildren(c) {
			read := sel.OrderBy(s.collectionOrder(owner, c, s.column)...)
			if err := s.addSelect(read, Stream{Member: c, Columns: cols}); err != nil {
				return err
			}
			continue
		}

		staged, err := s.finish(sel)
		if err != nil {
			return err
		}
		stage := s.dialect.StageName(s.name(m.Path))
		s.addStage(stage, staged)
		if err := s.collections(c, stage); err != nil {
			return err
		}
		read := sq.Select(stagedColumns(ownStageAlias, cols)...).
			From(fmt.Sprintf("%s AS %s", stage, ownStageAlias)).
			InnerJoin(fmt.Sprintf("%s AS %s ON %s.%s = %s.%s",
				ownerStage, parentStageAlias, ownStageAlias, ColumnAlias(fk.Index), parentStageAlias, ColumnAlias(parentKey.Index))).
			OrderBy(s.collectionOrder(owner, c, stagedColumn(ownStageAlias))...)
		if err := s.addSelect(read, Stream{Member: c, Columns: cols}); err != nil {
			return err
		}
	}
	return nil
}

// collectionOrder re-applies an explicit root order to first-level
// collections through the root stage, then orders by the element key.
func (s *stager) collectionOrder(owner, c int, element func(*schema.Member) string) []string {
	var out []string
	if owner == 0 && s.rootOrder != nil {
		out = renderOrder(s.rootOrder, stagedColumn(parentStageAlias))
	}
	return append(out, renderOrder(s.keyOrder(c), element)...)
}

func (s *stager) hasIncludedChildren(c int) bool {
	for _, child := range s.graph.Children(c) {
		if s.included[child] {
			return true
		}
	}
	return false
}

func (s *stager) addStage(stage string, q SQLQuery) {
	s.setups = append(s.setups, dbexec.Statement{
		Query: s.dialect.CreateStage(stage, q.SQL),
		Args:  q.Args,
		Kind:  dbexec.KindSetup,
	})
	s.teardowns = append(s.teardowns, dbexec.Statement{
		Query: s.dialect.DropStage(stage),
		Kind:  dbexec.KindTeardown,
	})
}

// addFilledStage creates the root stage empty and fills it with INSERT ...
// SELECT, which can carry the root predicate's parameters.
func (s *stager) addFilledStage(stage string, root SQLQuery, cols []int) error {
	from, err := s.from(0)
	if err != nil {
		return err
	}
	shape, err := s.finish(sq.Select(s.selectColumns(cols)...).From(from))
	if err != nil {
		return err
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = ColumnAlias(c)
	}
	s.setups = append(s.setups,
		dbexec.Statement{Query: s.dialect.CreateEmptyStage(stage, shape.SQL), Kind: dbexec.KindSetup},
		dbexec.Statement{
			Query: fmt.Sprintf("INSERT INTO %s (%s) %s", stage, strings.Join(names, ", "), root.SQL),
			Args:  root.Args,
			Kind:  dbexec.KindSetup,
		},
	)
	s.teardowns = append(s.teardowns, dbexec.Statement{
		Query: s.dialect.DropStage(stage),
		Kind:  dbexec.KindTeardown,
	})
	return nil
}

func (s *stager) addSelect(read sq.SelectBuilder, stream Stream) error {
	q, err := s.finish(read)
	if err != nil {
		return err
	}
	s.selects = append(s.selects, dbexec.Statement{Query: q.SQL, Args: q.Args, Kind: dbexec.KindSelect})
	s.streams = append(s.streams, stream)
	return nil
}

// statements assembles the batch: setups, selects, then teardowns in
// reverse creation order.
func (s *stager) statements() []dbexec.Statement {
	out := make([]dbexec.Statement, 0, len(s.setups)+len(s.selects)+len(s.teardowns))
	out = append(out, s.setups...)
	out = append(out, s.selects...)
	for i := len(s.teardowns) - 1; i >= 0; i-- {
		out = append(out, s.teardowns[i])
	}
	return out
}

func stagedColumn(stageAlias string) func(*schema.Member) string {
	return func(m *schema.Member) string {
		return stageAlias + "." + ColumnAlias(m.Index)
	}
}
