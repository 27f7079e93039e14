package dbexec

import (
	"context"
	"database/sql"
	"errors"
)

var errNoSelect = errors.New("dbexec: batch contains no select statement")

// batchCursor walks a statement batch on a pinned connection.
type batchCursor struct {
	ctx    context.Context
	conn   *sql.Conn
	batch  []Statement
	pos    int
	rows   *sql.Rows
	err    error
	staged bool
	closed bool
}

// advance runs pending setup statements and opens the next select.
func (c *batchCursor) advance() bool {
	for c.pos < len(c.batch) {
		stmt := c.batch[c.pos]
		c.pos++
		switch stmt.Kind {
		case KindSetup:
			c.staged = true
			if _, err := c.conn.ExecContext(c.ctx, stmt.Query, stmt.Args...); err != nil {
				c.err = err
				return false
			}
		case KindSelect:
			rows, err := c.conn.QueryContext(c.ctx, stmt.Query, stmt.Args...)
			if err != nil {
				c.err = err
				return false
			}
			c.rows = rows
			return true
		}
	}
	return false
}

func (c *batchCursor) Columns() ([]string, error) {
	if c.rows == nil {
		return nil, sql.ErrNoRows
	}
	return c.rows.Columns()
}

func (c *batchCursor) Next() bool {
	if c.rows == nil || c.err != nil {
		return false
	}
	return c.rows.Next()
}

func (c *batchCursor) Scan(dest ...any) error {
	if c.rows == nil {
		return sql.ErrNoRows
	}
	return c.rows.Scan(dest...)
}

func (c *batchCursor) NextResultSet() bool {
	if c.rows == nil || c.err != nil {
		return false
	}
	if err := c.rows.Err(); err != nil {
		c.err = err
		return false
	}
	if err := c.rows.Close(); err != nil {
		c.err = err
		return false
	}
	c.rows = nil
	return c.advance()
}

func (c *batchCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if c.rows != nil {
		return c.rows.Err()
	}
	return nil
}

// Close releases the current result set, runs every teardown statement and
// returns the connection to the pool. Teardown runs once any setup was
// attempted, even when the batch context is already cancelled.
func (c *batchCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.rows != nil {
		errs = append(errs, c.rows.Close())
		c.rows = nil
	}
	teardownCtx := context.WithoutCancel(c.ctx)
	for _, stmt := range c.batch {
		if !c.staged || stmt.Kind != KindTeardown {
			continue
		}
		if _, err := c.conn.ExecContext(teardownCtx, stmt.Query, stmt.Args...); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.conn.Close())
	return errors.Join(errs...)
}
