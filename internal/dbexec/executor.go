// Package dbexec provides the statement-execution primitive the query
// pipeline runs against: SQL text and parameters in, a forward row cursor
// out. Nothing here interprets SQL.
package dbexec

import (
	"context"
	"database/sql"
)

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Cursor is a forward, read-once cursor over one or more result sets.
type Cursor interface {
	Rows
	Columns() ([]string, error)
	// NextResultSet advances to the next result set, reporting false when
	// there are no more or an error occurred.
	NextResultSet() bool
}

// QueryExecutor abstracts single-statement SQL execution.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// BatchExecutor runs a statement batch as one invocation. Setup statements
// run before the select that follows them, every select contributes one
// result set, and teardown statements run when the cursor is closed.
type BatchExecutor interface {
	QueryBatch(ctx context.Context, batch []Statement) (Cursor, error)
}

// Executor is the full executor contract used by the client.
type Executor interface {
	QueryExecutor
	BatchExecutor
}

// StatementKind classifies a statement within a batch.
type StatementKind int

const (
	// KindSetup creates a staging artifact; it returns no rows.
	KindSetup StatementKind = iota
	// KindSelect produces one result set.
	KindSelect
	// KindTeardown removes a staging artifact after the last read.
	KindTeardown
)

func (k StatementKind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindSelect:
		return "select"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// Statement is one SQL statement of a batch with its bound arguments.
type Statement struct {
	Query string
	Args  []any
	Kind  StatementKind
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// QueryBatch pins one connection for the whole batch so session-scoped
// staging tables stay visible to the statements that read them. The
// connection is released when the returned cursor is closed.
func (e *StandardExecutor) QueryBatch(ctx context.Context, batch []Statement) (Cursor, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	cur := &batchCursor{ctx: ctx, conn: conn, batch: batch}
	if !cur.advance() {
		err := cur.err
		if closeErr := cur.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			err = errNoSelect
		}
		return nil, err
	}
	return cur, nil
}
