package dialect

import (
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{MySQL(), "users", "`users`"},
		{MySQL(), "select", "`select`"},         // reserved word
		{MySQL(), "first name", "`first name`"}, // space in name
		{MySQL(), "user`data", "`user``data`"},  // backtick in name
		{Postgres(), "Books", `"Books"`},
		{Postgres(), `a"b`, `"a""b"`},
		{Postgres(WithCasing(CaseLower)), "AuthorId", `"authorid"`},
		{SQLite(), "Title", `"Title"`},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name()+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteString(t *testing.T) {
	tests := []struct {
		dialect  Dialect
		input    string
		expected string
	}{
		{MySQL(), "hello", "'hello'"},
		{MySQL(), "it's", "'it''s'"},
		{MySQL(), `back\slash`, `'back\\slash'`},
		{Postgres(), `back\slash`, `'back\slash'`},
		{Postgres(), "a'b'c", "'a''b''c'"},
		{SQLite(), "", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name()+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.QuoteString(tt.input))
		})
	}
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "`library`.`books`", MySQL().TableName("library", "", "books"))
	assert.Equal(t, "`dbo`.`books`", MySQL().TableName("", "dbo", "books"))
	assert.Equal(t, `"public"."books"`, Postgres().TableName("library", "public", "books"))
	assert.Equal(t, `"books"`, SQLite().TableName("", "", "books"))
}

func TestConcat(t *testing.T) {
	assert.Equal(t, "CONCAT(?, '%')", MySQL().Concat("?", "'%'"))
	assert.Equal(t, "('%' || ? || '%')", Postgres().Concat("'%'", "?", "'%'"))
}

func TestStageStatements(t *testing.T) {
	my := MySQL()
	name := my.StageName("stage_books")
	assert.Equal(t, "CREATE TEMPORARY TABLE `stage_books` AS SELECT 1", my.CreateStage(name, "SELECT 1"))
	assert.Equal(t, "DROP TEMPORARY TABLE IF EXISTS `stage_books`", my.DropStage(name))

	lite := SQLite()
	name = lite.StageName("stage_books")
	assert.Equal(t, `CREATE TEMP TABLE "stage_books" AS SELECT 1`, lite.CreateStage(name, "SELECT 1"))
	assert.Equal(t, `DROP TABLE IF EXISTS temp."stage_books"`, lite.DropStage(name))
	assert.Equal(t, `CREATE TEMP TABLE "stage_books" AS SELECT 1 LIMIT 0`, lite.CreateEmptyStage(name, "SELECT 1"))

	pg := Postgres()
	name = pg.StageName("stage_books")
	assert.Equal(t, `CREATE TEMPORARY TABLE "stage_books" AS SELECT 1 WITH NO DATA`, pg.CreateEmptyStage(name, "SELECT 1"))
	assert.False(t, pg.BindsInStage())
	assert.True(t, my.BindsInStage())
	assert.True(t, lite.BindsInStage())
}

func TestLockClause(t *testing.T) {
	assert.Equal(t, "FOR UPDATE", MySQL().LockClause(LockUpdate, "t0"))
	assert.Equal(t, "FOR SHARE OF t0", Postgres().LockClause(LockShare, "t0"))
	assert.Empty(t, SQLite().LockClause(LockUpdate, "t0"))
	assert.Empty(t, MySQL().LockClause(LockNone, "t0"))
}

func TestForName(t *testing.T) {
	d, err := ForName("PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, NamePostgres, d.Name())
	assert.Equal(t, sq.Dollar, d.Placeholder())

	d, err = ForName("tidb")
	require.NoError(t, err)
	assert.Equal(t, NameMySQL, d.Name())

	_, err = ForName("oracle")
	require.Error(t, err)
}

func TestParseCasing(t *testing.T) {
	c, err := ParseCasing("LOWER")
	require.NoError(t, err)
	assert.Equal(t, CaseLower, c)

	c, err = ParseCasing("")
	require.NoError(t, err)
	assert.Equal(t, CasePreserve, c)

	_, err = ParseCasing("upper")
	require.Error(t, err)
}

func TestEmptyInsert(t *testing.T) {
	assert.Equal(t, "INSERT INTO `tags` () VALUES ()", MySQL().EmptyInsert("`tags`"))
	assert.Equal(t, `INSERT INTO "tags" DEFAULT VALUES`, Postgres().EmptyInsert(`"tags"`))
	assert.Equal(t, `INSERT INTO "tags" DEFAULT VALUES`, SQLite().EmptyInsert(`"tags"`))
}
