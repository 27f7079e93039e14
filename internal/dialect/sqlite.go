package dialect

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

type sqliteDialect struct {
	base
}

// SQLite returns the SQLite formatting strategy.
func SQLite(opts ...Option) Dialect {
	return sqliteDialect{base: newBase(opts)}
}

func (sqliteDialect) Name() string { return NameSQLite }

func (d sqliteDialect) QuoteIdentifier(name string) string {
	return quoteWith(d.fold(name), `"`)
}

func (sqliteDialect) QuoteString(s string) string { return quoteStandardString(s) }

// TableName treats schema as the attached database name.
func (d sqliteDialect) TableName(_, schema, table string) string {
	return qualify(d.QuoteIdentifier, schema, table)
}

func (sqliteDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (sqliteDialect) Concat(parts ...string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (d sqliteDialect) StageName(base string) string {
	return d.QuoteIdentifier(base)
}

func (sqliteDialect) CreateStage(name, selectSQL string) string {
	return "CREATE TEMP TABLE " + name + " AS " + selectSQL
}

func (sqliteDialect) BindsInStage() bool { return true }

func (d sqliteDialect) CreateEmptyStage(name, selectSQL string) string {
	return d.CreateStage(name, selectSQL+" LIMIT 0")
}

func (sqliteDialect) DropStage(name string) string {
	return "DROP TABLE IF EXISTS temp." + name
}

// LockClause is empty: SQLite locks the whole database file.
func (sqliteDialect) LockClause(LockMode, string) string { return "" }

func (sqliteDialect) SupportsReturning() bool { return false }
