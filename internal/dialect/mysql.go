package dialect

import (
	"strings"

	sq "github.com/Masterminds/squirrel"
)

type mysqlDialect struct {
	base
}

// MySQL returns the MySQL/TiDB formatting strategy.
func MySQL(opts ...Option) Dialect {
	return mysqlDialect{base: newBase(opts)}
}

func (mysqlDialect) Name() string { return NameMySQL }

func (d mysqlDialect) QuoteIdentifier(name string) string {
	return quoteWith(d.fold(name), "`")
}

func (mysqlDialect) QuoteString(s string) string { return quoteMySQLString(s) }

// TableName uses the database qualifier, falling back to schema since MySQL
// treats the two as synonyms.
func (d mysqlDialect) TableName(database, schema, table string) string {
	qualifier := database
	if qualifier == "" {
		qualifier = schema
	}
	return qualify(d.QuoteIdentifier, qualifier, table)
}

func (mysqlDialect) Placeholder() sq.PlaceholderFormat { return sq.Question }

func (mysqlDialect) Concat(parts ...string) string {
	return "CONCAT(" + strings.Join(parts, ", ") + ")"
}

func (d mysqlDialect) StageName(base string) string {
	return d.QuoteIdentifier(base)
}

func (mysqlDialect) CreateStage(name, selectSQL string) string {
	return "CREATE TEMPORARY TABLE " + name + " AS " + selectSQL
}

func (mysqlDialect) BindsInStage() bool { return true }

func (d mysqlDialect) CreateEmptyStage(name, selectSQL string) string {
	return d.CreateStage(name, selectSQL+" LIMIT 0")
}

func (mysqlDialect) DropStage(name string) string {
	return "DROP TEMPORARY TABLE IF EXISTS " + name
}

func (mysqlDialect) LockClause(mode LockMode, _ string) string {
	switch mode {
	case LockShare:
		return "LOCK IN SHARE MODE"
	case LockUpdate:
		return "FOR UPDATE"
	default:
		return ""
	}
}

func (mysqlDialect) SupportsReturning() bool { return false }

func (mysqlDialect) EmptyInsert(table string) string {
	return "INSERT INTO " + table + " () VALUES ()"
}
