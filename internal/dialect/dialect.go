// Package dialect isolates the SQL syntax differences between the supported
// databases. The statement generator and predicate compiler never write a
// quote character, a temp-table keyword or a locking clause themselves; they
// ask the Dialect selected for the type's configured connection.
package dialect

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Names of the built-in dialects, as used in configuration.
const (
	NameMySQL    = "mysql"
	NamePostgres = "postgres"
	NameSQLite   = "sqlite"
)

// LockMode selects a row-locking hint for a select.
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockUpdate
)

// Casing controls how declared identifiers are folded before quoting.
type Casing int

const (
	// CasePreserve quotes identifiers exactly as declared.
	CasePreserve Casing = iota
	// CaseLower folds identifiers to lower case before quoting.
	CaseLower
)

// ParseCasing maps a configuration value to a Casing.
func ParseCasing(value string) (Casing, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "preserve":
		return CasePreserve, nil
	case "lower":
		return CaseLower, nil
	default:
		return CasePreserve, fmt.Errorf("unknown identifier casing %q (expected preserve or lower)", value)
	}
}

// Dialect is the pluggable formatting strategy for one database flavor.
type Dialect interface {
	// Name returns the configuration name of the dialect.
	Name() string
	// QuoteIdentifier folds and quotes a single identifier.
	QuoteIdentifier(name string) string
	// QuoteString renders a string literal.
	QuoteString(s string) string
	// TableName renders a qualified table reference from the descriptor qualifiers.
	TableName(database, schema, table string) string
	// Placeholder is the squirrel placeholder format for bound parameters.
	Placeholder() sq.PlaceholderFormat
	// Concat renders string concatenation of already-rendered SQL operands.
	Concat(parts ...string) string
	// StageName returns the identifier used for a staging table.
	StageName(base string) string
	// CreateStage materializes selectSQL into a session-scoped staging table.
	CreateStage(name, selectSQL string) string
	// BindsInStage reports whether CreateStage accepts bound parameters.
	BindsInStage() bool
	// CreateEmptyStage creates a staging table with the columns of selectSQL
	// and no rows. selectSQL must carry no parameters.
	CreateEmptyStage(name, selectSQL string) string
	// DropStage tears a staging table down.
	DropStage(name string) string
	// LockClause returns the suffix for a locking select, or "" when unsupported.
	LockClause(mode LockMode, rootAlias string) string
	// Limit returns the native row-limiting clause.
	Limit(n uint64) string
	// SupportsReturning reports whether INSERT ... RETURNING is available.
	SupportsReturning() bool
	// EmptyInsert inserts a row made only of column defaults.
	EmptyInsert(table string) string
}

// Option customizes a built-in dialect.
type Option func(*base)

// WithCasing sets the identifier casing strategy.
func WithCasing(c Casing) Option {
	return func(b *base) {
		b.casing = c
	}
}

// ForName returns the built-in dialect registered under name.
func ForName(name string, opts ...Option) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case NameMySQL, "tidb", "mariadb":
		return MySQL(opts...), nil
	case NamePostgres, "postgresql", "pgx":
		return Postgres(opts...), nil
	case NameSQLite, "sqlite3":
		return SQLite(opts...), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// base carries the behavior shared by every built-in dialect.
type base struct {
	casing Casing
}

func (b base) fold(name string) string {
	if b.casing == CaseLower {
		return strings.ToLower(name)
	}
	return name
}

func newBase(opts []Option) base {
	b := base{}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b base) Limit(n uint64) string {
	return fmt.Sprintf("LIMIT %d", n)
}

func (base) EmptyInsert(table string) string {
	return "INSERT INTO " + table + " DEFAULT VALUES"
}

// qualify joins the non-empty parts with dots after quoting each.
func qualify(quote func(string) string, parts ...string) string {
	quoted := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		quoted = append(quoted, quote(part))
	}
	return strings.Join(quoted, ".")
}
