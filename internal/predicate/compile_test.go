package predicate_test

import (
	"database/sql"
	"errors"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relmap/internal/dialect"
	"relmap/internal/expr"
	"relmap/internal/predicate"
	"relmap/internal/schema"
	"relmap/internal/testutil/library"
)

func compileFor[T any](t *testing.T, d dialect.Dialect, n *expr.Node, opts ...predicate.Option) (*predicate.Compiled, error) {
	t.Helper()
	g, err := schema.GraphOf[T]()
	require.NoError(t, err)
	aliases := schema.AssignAliases(g)
	if len(opts) > 0 {
		aliases = schema.Unqualified()
	}
	return predicate.Compile(n, g, aliases, d, opts...)
}

func TestCompile_AuthorStartsWith(t *testing.T) {
	b := expr.Param()
	pred := b.Field("Author").Field("Name").StartsWith("Ernest")

	got, err := compileFor[library.Book](t, dialect.MySQL(), pred)
	require.NoError(t, err)
	assert.Equal(t, "(t1.`Name` LIKE CONCAT(?, '%'))", got.SQL)
	assert.Equal(t, []any{"Ernest"}, got.Args)
	assert.Equal(t, map[string]any{"p0": "Ernest"}, got.Params())

	got, err = compileFor[library.Book](t, dialect.Postgres(), pred)
	require.NoError(t, err)
	assert.Equal(t, `(t1."Name" LIKE (? || '%'))`, got.SQL)
}

func TestCompile_RecompileChangesOnlyParameters(t *testing.T) {
	b := expr.Param()
	label := "fiction"
	pred := b.Field("Label").Eq(expr.Var(&label))

	first, err := compileFor[library.Tag](t, dialect.MySQL(), pred)
	require.NoError(t, err)
	require.Len(t, first.Args, 1)
	assert.Equal(t, "fiction", first.Args[0])

	label = "poetry"
	second, err := compileFor[library.Tag](t, dialect.MySQL(), pred)
	require.NoError(t, err)
	require.Len(t, second.Args, 1)
	assert.Equal(t, "poetry", second.Args[0])
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, "(t0.`Label` = ?)", first.SQL)
}

func TestCompile(t *testing.T) {
	b := expr.Param()
	var editor *int64
	ids := []int64{3, 1, 2}

	cases := []struct {
		name string
		node *expr.Node
		sql  string
		args []any
	}{
		{
			name: "comparisons joined with AND and OR",
			node: expr.Or(expr.And(b.Field("Id").Ge(10), b.Field("Id").Lt(20)), b.Field("Title").Ne("Draft")),
			sql:  "(((t0.`Id` >= ?) AND (t0.`Id` < ?)) OR (t0.`Title` <> ?))",
			args: []any{10, 20, "Draft"},
		},
		{
			name: "closed side on the left keeps operand order",
			node: expr.Lt(5, b.Field("Id")),
			sql:  "(? < t0.`Id`)",
			args: []any{5},
		},
		{
			name: "bare boolean member",
			node: b.Field("Available"),
			sql:  "(t0.`Available` = 1)",
		},
		{
			name: "negated boolean member",
			node: expr.Not(b.Field("Available")),
			sql:  "(NOT (t0.`Available` = 1))",
		},
		{
			name: "boolean equality binds 0/1 without implicit = 1",
			node: b.Field("Available").Eq(false),
			sql:  "(t0.`Available` = ?)",
			args: []any{0},
		},
		{
			name: "nil becomes IS NULL",
			node: b.Field("EditorId").Eq(expr.Var(&editor)),
			sql:  "(t0.`editor_id` IS NULL)",
		},
		{
			name: "nil becomes IS NOT NULL",
			node: expr.Ne(nil, b.Field("Editor").Field("Name")),
			sql:  "(t2.`Name` IS NOT NULL)",
		},
		{
			name: "closed arithmetic is evaluated on the host",
			node: b.Field("Id").Gt(expr.Add(40, 2)),
			sql:  "(t0.`Id` > ?)",
			args: []any{int64(42)},
		},
		{
			name: "string functions",
			node: b.Field("Title").Trim().ToUpper().Eq(b.Field("Author").Field("Name").ToLower()),
			sql:  "(UPPER(LTRIM(RTRIM(t0.`Title`))) = LOWER(t1.`Name`))",
		},
		{
			name: "replace binds its arguments in order",
			node: b.Field("Title").Replace("-", " ").Eq("A B"),
			sql:  "(REPLACE(t0.`Title`, ?, ?) = ?)",
			args: []any{"-", " ", "A B"},
		},
		{
			name: "ends with and contains",
			node: expr.And(b.Field("Title").EndsWith("Sea"), b.Field("Title").Contains("Old")),
			sql:  "((t0.`Title` LIKE CONCAT('%', ?)) AND (t0.`Title` LIKE CONCAT('%', ?, '%')))",
			args: []any{"Sea", "Old"},
		},
		{
			name: "list membership inlines integers",
			node: expr.Var(&ids).Contains(b.Field("Id")),
			sql:  "(t0.`Id` IN (3, 1, 2))",
		},
		{
			name: "list membership renders enums as integers",
			node: expr.Value([]library.Status{library.Published, library.Retired}).Contains(b.Field("Status")),
			sql:  "(t0.`Status` IN (1, 2))",
		},
		{
			name: "list membership quotes strings",
			node: expr.Value([]string{"it's", `a\b`}).Contains(b.Field("Title")),
			sql:  "(t0.`Title` IN ('it''s', 'a\\\\b'))",
		},
		{
			name: "list membership binds values with no literal form",
			node: expr.Value([]sql.NullString{{String: "x", Valid: true}}).Contains(b.Field("Title")),
			sql:  "(t0.`Title` IN (?))",
			args: []any{sql.NullString{String: "x", Valid: true}},
		},
		{
			name: "empty list matches nothing",
			node: expr.Value([]int{}).Contains(b.Field("Id")),
			sql:  "(1 = 0)",
		},
		{
			name: "closed condition is bound",
			node: expr.And(expr.Eq(1, 1), b.Field("Available")),
			sql:  "((? = 1) AND (t0.`Available` = 1))",
			args: []any{1},
		},
		{
			name: "raw passthrough",
			node: expr.Raw("{Author.Name} SOUNDS LIKE ? AND {Id} > ?", "Hemingway", 3),
			sql:  "(t1.`Name` SOUNDS LIKE ? AND t0.`Id` > ?)",
			args: []any{"Hemingway", 3},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := compileFor[library.Book](t, dialect.MySQL(), tc.node)
			require.NoError(t, err)
			assert.Equal(t, tc.sql, got.SQL)
			assert.Equal(t, tc.args, got.Args)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	b := expr.Param()

	t.Run("unknown member", func(t *testing.T) {
		_, err := compileFor[library.Book](t, dialect.MySQL(), b.Field("Publisher").Eq("x"))
		var resErr *schema.ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Equal(t, "Publisher", resErr.Path)
	})

	t.Run("collection traversal", func(t *testing.T) {
		_, err := compileFor[library.Book](t, dialect.MySQL(), b.Path("Chapters", "Title").Eq("x"))
		var resErr *schema.ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Contains(t, resErr.Reason, "collection")
	})

	t.Run("relationship used as a value", func(t *testing.T) {
		_, err := compileFor[library.Book](t, dialect.MySQL(), b.Field("Author").Eq(nil))
		var resErr *schema.ResolutionError
		require.True(t, errors.As(err, &resErr))
		assert.Contains(t, resErr.Reason, "not a column")
	})

	unsupported := []struct {
		name string
		node *expr.Node
		want string
	}{
		{"arithmetic over columns", expr.Add(b.Field("Id"), 1).Gt(2), "arithmetic over columns"},
		{"unknown method", b.Field("Title").Call("Reverse").Eq("x"), "method Reverse is not supported"},
		{"non boolean member as condition", b.Field("Title"), "is not a condition"},
		{"ordering against nil", b.Field("Id").Gt(nil), "ordering comparison against nil"},
		{"raw marker mismatch", expr.Raw("{Id} = ? AND ?", 1), "more ? markers"},
		{"raw with unused arguments", expr.Raw("{Id} = 1", 1), "1 arguments for 0"},
		{"closed non boolean", expr.Value(3), "want bool"},
	}
	for _, tc := range unsupported {
		t.Run(tc.name, func(t *testing.T) {
			_, err := compileFor[library.Book](t, dialect.MySQL(), tc.node)
			var unsupErr *predicate.UnsupportedExpressionError
			require.True(t, errors.As(err, &unsupErr), "got %v", err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCompile_RootColumnsOnly(t *testing.T) {
	b := expr.Param()

	got, err := compileFor[library.Book](t, dialect.MySQL(), b.Field("AuthorId").Eq(7), predicate.RootColumnsOnly())
	require.NoError(t, err)
	assert.Equal(t, "(`author_id` = ?)", got.SQL)

	_, err = compileFor[library.Book](t, dialect.MySQL(), b.Path("Author", "Name").Eq("x"), predicate.RootColumnsOnly())
	var resErr *schema.ResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Contains(t, resErr.Reason, "only root columns")
}

func TestCompiled_Sqlizer(t *testing.T) {
	b := expr.Param()
	g, err := schema.GraphOf[library.Book]()
	require.NoError(t, err)
	d := dialect.Postgres()
	aliases := schema.AssignAliases(g)

	where, err := predicate.Compile(b.Field("Title").Eq("Islands"), g, aliases, d)
	require.NoError(t, err)

	query, args, err := sq.Select("t0.id").From("books AS t0").
		Where(sq.Eq{"t0.status": 1}).
		Where(where).
		PlaceholderFormat(d.Placeholder()).
		ToSql()
	require.NoError(t, err)
	assert.Equal(t, `SELECT t0.id FROM books AS t0 WHERE t0.status = $1 AND (t0."Title" = $2)`, query)
	assert.Equal(t, []any{1, "Islands"}, args)
}

func TestCompile_QuestionMarksInText(t *testing.T) {
	b := expr.Param()
	g, err := schema.GraphOf[library.Book]()
	require.NoError(t, err)
	d := dialect.Postgres()

	render := func(t *testing.T, n *expr.Node) (string, []any) {
		t.Helper()
		where, err := predicate.Compile(n, g, schema.AssignAliases(g), d)
		require.NoError(t, err)
		query, args, err := sq.Select("t0.id").From("books AS t0").
			Where(where).
			PlaceholderFormat(d.Placeholder()).
			ToSql()
		require.NoError(t, err)
		return query, args
	}

	t.Run("list values holding ? are bound", func(t *testing.T) {
		query, args := render(t, expr.And(
			b.Field("Id").Eq(5),
			expr.Value([]string{"Why?", "plain"}).Contains(b.Field("Title")),
		))
		assert.Equal(t,
			`SELECT t0.id FROM books AS t0 WHERE ((t0."Id" = $1) AND (t0."Title" IN ($2, 'plain')))`,
			query)
		assert.Equal(t, []any{5, "Why?"}, args)
	})

	t.Run("quoted raw text keeps its markers", func(t *testing.T) {
		query, args := render(t, expr.Raw("{Title} = 'a?' AND {Id} > ?", 3))
		assert.Equal(t, `SELECT t0.id FROM books AS t0 WHERE (t0."Title" = 'a?' AND t0."Id" > $1)`, query)
		assert.Equal(t, []any{3}, args)
	})

	t.Run("quoted raw text on mysql", func(t *testing.T) {
		got, err := compileFor[library.Book](t, dialect.MySQL(), expr.Raw("{Title} <> '{Title}?'"))
		require.NoError(t, err)
		assert.Equal(t, "(t0.`Title` <> '{Title}?')", got.SQL)
		assert.Empty(t, got.Args)
	})

	t.Run("unterminated quote", func(t *testing.T) {
		_, err := compileFor[library.Book](t, dialect.MySQL(), expr.Raw("{Title} = 'a"))
		var unsupErr *predicate.UnsupportedExpressionError
		require.True(t, errors.As(err, &unsupErr))
		assert.Contains(t, err.Error(), "unterminated quoted span")
	})
}
