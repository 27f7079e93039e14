// Package sqlitedb provides isolated in-memory SQLite databases for tests
// that need to execute generated SQL.
package sqlitedb

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"relmap/internal/config"
	"relmap/internal/database"
	"relmap/internal/logging"
)

// TestDB is an open in-memory database private to one test.
type TestDB struct {
	*database.DB
	DatabaseName string
}

// NewTestDB opens a fresh in-memory database named after the test. The
// pool holds a single connection so the database and any temp tables live
// as long as the test. It is closed on cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	name := fmt.Sprintf("test_%s_%d", sanitizeName(t.Name()), time.Now().UnixNano())
	db, err := database.Open(context.Background(), "main", config.ConnectionConfig{
		Dialect: "sqlite",
		DSN:     "file:" + name + "?mode=memory&cache=private",
		Pool:    config.PoolConfig{MaxOpen: 1, MaxIdle: 1},
	}, database.Instrumentation{}, logging.Discard())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	tdb := &TestDB{DB: db, DatabaseName: name}
	t.Cleanup(func() {
		if err := tdb.Close(); err != nil {
			t.Logf("Warning: failed to close test database: %v", err)
		}
	})
	return tdb
}

// LoadSchema executes SQL text holding one or more statements separated by
// semicolons.
func (tdb *TestDB) LoadSchema(t *testing.T, schema string) {
	t.Helper()
	for i, stmt := range splitSQL(schema) {
		if _, err := tdb.SQL.Exec(stmt); err != nil {
			t.Fatalf("Failed to execute SQL statement %d: %v\nStatement: %s", i+1, err, stmt)
		}
	}
}

// sanitizeName makes a test name safe for use in a database URI.
func sanitizeName(name string) string {
	var result strings.Builder
	for _, ch := range name {
		if (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
			result.WriteRune(ch)
		} else {
			result.WriteRune('_')
		}
	}
	sanitized := result.String()
	if len(sanitized) > 40 {
		sanitized = sanitized[:40]
	}
	return sanitized
}

// splitSQL splits SQL text into individual statements.
// It doesn't handle semicolons inside strings or comments.
func splitSQL(sql string) []string {
	statements := strings.Split(sql, ";")
	result := make([]string, 0, len(statements))
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}
	return result
}
