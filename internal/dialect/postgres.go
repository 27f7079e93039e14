package dialect

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

type postgresDialect struct {
	base
}

// Postgres returns the PostgreSQL formatting strategy.
func Postgres(opts ...Option) Dialect {
	return postgresDialect{base: newBase(opts)}
}

func (postgresDialect) Name() string { return NamePostgres }

func (d postgresDialect) QuoteIdentifier(name string) string {
	return quoteWith(d.fold(name), `"`)
}

func (postgresDialect) QuoteString(s string) string { return quoteStandardString(s) }

// TableName ignores the database qualifier: cross-database references are
// not possible on one PostgreSQL connection.
func (d postgresDialect) TableName(_, schema, table string) string {
	return qualify(d.QuoteIdentifier, schema, table)
}

func (postgresDialect) Placeholder() sq.PlaceholderFormat { return sq.Dollar }

func (postgresDialect) Concat(parts ...string) string {
	return "(" + strings.Join(parts, " || ") + ")"
}

func (d postgresDialect) StageName(base string) string {
	return d.QuoteIdentifier(base)
}

func (postgresDialect) CreateStage(name, selectSQL string) string {
	return "CREATE TEMPORARY TABLE " + name + " AS " + selectSQL
}

// BindsInStage is false: CREATE TABLE AS is a utility statement and the
// server rejects parameters in it.
func (postgresDialect) BindsInStage() bool { return false }

func (d postgresDialect) CreateEmptyStage(name, selectSQL string) string {
	return d.CreateStage(name, selectSQL) + " WITH NO DATA"
}

func (postgresDialect) DropStage(name string) string {
	return "DROP TABLE IF EXISTS " + name
}

// LockClause scopes the lock to the root alias; PostgreSQL refuses to lock
// the nullable side of an outer join.
func (postgresDialect) LockClause(mode LockMode, rootAlias string) string {
	var clause string
	switch mode {
	case LockShare:
		clause = "FOR SHARE"
	case LockUpdate:
		clause = "FOR UPDATE"
	default:
		return ""
	}
	if rootAlias != "" {
		clause += " OF " + rootAlias
	}
	return clause
}

func (postgresDialect) SupportsReturning() bool { return true }
