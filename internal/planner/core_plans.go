package planner

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"relmap/internal/dialect"
	"relmap/internal/schema"
)

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// ColumnAlias is the result-set name of a selected column member.
func ColumnAlias(memberIndex int) string {
	return fmt.Sprintf("c%d", memberIndex)
}

// rowNumberAlias names the paging row number in the derived table.
const rowNumberAlias = "rn_"

// builder carries the per-statement inputs shared by every plan.
type builder struct {
	graph   *schema.Graph
	dialect dialect.Dialect
	aliases *schema.Aliases
}

func (b *builder) quote(name string) string {
	return b.dialect.QuoteIdentifier(name)
}

func (b *builder) typeName() string {
	return b.graph.Type.Name()
}

// table renders the qualified table of an entity member.
func (b *builder) table(m *schema.Member) string {
	desc := m.Entity.Descriptor
	return b.dialect.TableName(desc.Database, desc.Schema, desc.Table)
}

func (b *builder) alias(i int) string {
	alias, _ := b.aliases.Of(i)
	return alias
}

// column renders a column member qualified by its owner's alias.
func (b *builder) column(m *schema.Member) string {
	col, _ := b.aliases.Column(b.graph, m, b.quote)
	return col
}

// entityColumns lists the column members loaded with entity member e: its
// own columns followed by those of every joinable reference beneath it, in
// member order. Collections are never part of an entity's row.
func (b *builder) entityColumns(e int) []int {
	var out []int
	for _, c := range b.graph.Children(e) {
		m := b.graph.Member(c)
		switch {
		case m.Kind == schema.KindColumn:
			out = append(out, c)
		case m.Kind == schema.KindReference && !m.Terminal:
			out = append(out, b.entityColumns(c)...)
		}
	}
	return out
}

// selectColumns renders "alias.col AS cN" for each column member.
func (b *builder) selectColumns(cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s AS %s", b.column(b.graph.Member(c)), ColumnAlias(c))
	}
	return out
}

// stagedColumns renders "stage.cN" for each column member.
func stagedColumns(stageAlias string, cols []int) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = stageAlias + "." + ColumnAlias(c)
	}
	return out
}

// foreignKey returns the column member of owner named by a relationship's
// foreign-key field.
func (b *builder) foreignKey(owner int, field string) (*schema.Member, error) {
	m, ok := b.graph.ChildByName(owner, field)
	if !ok || m.Kind != schema.KindColumn {
		owned := b.graph.Member(owner)
		return nil, &schema.ResolutionError{Type: owned.Entity.Name(), Path: field, Reason: "foreign key is not a declared column"}
	}
	return m, nil
}

// singleKey returns the only primary-key column of entity member e.
func (b *builder) singleKey(e int, via *schema.Member) (*schema.Member, error) {
	pk := b.graph.PrimaryKey(e)
	if len(pk) != 1 {
		return nil, &AmbiguousJoinError{
			Type:   b.typeName(),
			Member: via.Path,
			Target: b.graph.Member(e).Entity.Name(),
			Keys:   len(pk),
		}
	}
	return b.graph.Member(pk[0]), nil
}

// from renders the FROM clause of entity member e with a join for every
// joinable reference beneath it. Joins are LEFT when the foreign key is
// nullable and stay LEFT below an outer join.
func (b *builder) from(e int) (string, error) {
	var sb strings.Builder
	m := b.graph.Member(e)
	sb.WriteString(fmt.Sprintf("%s AS %s", b.table(m), b.alias(e)))
	if err := b.joins(&sb, e, false); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (b *builder) joins(sb *strings.Builder, owner int, outer bool) error {
	for _, c := range b.graph.Children(owner) {
		ref := b.graph.Member(c)
		if ref.Kind != schema.KindReference || ref.Terminal {
			continue
		}
		fk, err := b.foreignKey(owner, ref.Reference.ForeignKey)
		if err != nil {
			return err
		}
		pk, err := b.singleKey(c, ref)
		if err != nil {
			return err
		}
		left := outer || fk.Column.Nullable
		kind := "INNER JOIN"
		if left {
			kind = "LEFT JOIN"
		}
		fmt.Fprintf(sb, " %s %s AS %s ON %s = %s", kind, b.table(ref), b.alias(c), b.column(fk), b.column(pk))
		if err := b.joins(sb, c, left); err != nil {
			return err
		}
	}
	return nil
}

// finish applies the dialect placeholder format and renders the builder.
func (b *builder) finish(s sq.Sqlizer) (SQLQuery, error) {
	var (
		query string
		args  []interface{}
		err   error
	)
	switch q := s.(type) {
	case sq.SelectBuilder:
		query, args, err = q.PlaceholderFormat(b.dialect.Placeholder()).ToSql()
	case sq.InsertBuilder:
		query, args, err = q.PlaceholderFormat(b.dialect.Placeholder()).ToSql()
	case sq.UpdateBuilder:
		query, args, err = q.PlaceholderFormat(b.dialect.Placeholder()).ToSql()
	case sq.DeleteBuilder:
		query, args, err = q.PlaceholderFormat(b.dialect.Placeholder()).ToSql()
	default:
		query, args, err = s.ToSql()
	}
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
