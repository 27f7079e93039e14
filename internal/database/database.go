// Package database opens the configured connections: driver selection,
// optional OpenTelemetry instrumentation, pool settings and the startup
// readiness wait.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"

	"relmap/internal/config"
	"relmap/internal/dbexec"
	"relmap/internal/dialect"
	"relmap/internal/logging"
)

const maxRetryInterval = 30 * time.Second

// Instrumentation selects the otelsql features applied to a connection.
type Instrumentation struct {
	Metrics      bool
	Tracing      bool
	SQLCommenter bool
}

// InstrumentationFrom reads the instrumentation switches from the
// observability configuration.
func InstrumentationFrom(cfg config.ObservabilityConfig) Instrumentation {
	return Instrumentation{
		Metrics:      cfg.MetricsEnabled,
		Tracing:      cfg.TracingEnabled,
		SQLCommenter: cfg.SQLCommenterEnabled,
	}
}

// DB is an open connection together with the dialect that formats its SQL.
type DB struct {
	Name    string
	SQL     *sql.DB
	Dialect dialect.Dialect

	statsReg interface{ Unregister() error }
}

// Executor returns the statement executor for the connection.
func (db *DB) Executor() *dbexec.StandardExecutor {
	return dbexec.NewStandardExecutor(db.SQL)
}

// Close unregisters pool metrics and closes the handle.
func (db *DB) Close() error {
	var errs []error
	if db.statsReg != nil {
		errs = append(errs, db.statsReg.Unregister())
	}
	errs = append(errs, db.SQL.Close())
	return errors.Join(errs...)
}

// DriverName maps a dialect name to the registered database/sql driver.
func DriverName(dialectName string) (string, error) {
	switch dialectName {
	case dialect.NameMySQL:
		return "mysql", nil
	case dialect.NamePostgres:
		return "postgres", nil
	case dialect.NameSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("no driver for dialect %q", dialectName)
	}
}

func dbSystem(dialectName string) attribute.KeyValue {
	switch dialectName {
	case dialect.NamePostgres:
		return semconv.DBSystemPostgreSQL
	case dialect.NameSQLite:
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

// Open opens the named connection, applies its pool settings and waits for
// the database to answer. The returned DB must be closed by the caller.
func Open(ctx context.Context, name string, conn config.ConnectionConfig, inst Instrumentation, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	casing, err := dialect.ParseCasing(conn.FoldIdentifiers)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	d, err := dialect.ForName(conn.Dialect, dialect.WithCasing(casing))
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	driver, err := DriverName(d.Name())
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	if err := conn.RegisterTLS(name); err != nil {
		return nil, fmt.Errorf("connection %q: failed to register database TLS config: %w", name, err)
	}
	dsn, err := conn.DriverDSN(name)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}

	handle, statsReg, err := openHandle(driver, dsn, d.Name(), inst, logger)
	if err != nil {
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}
	db := &DB{Name: name, SQL: handle, Dialect: d, statsReg: statsReg}

	configurePool(handle, conn.Pool)
	if err := waitForDatabase(ctx, logger, handle, conn.ConnectionTimeout, conn.ConnectionRetryInterval); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connection %q: %w", name, err)
	}

	logger.Info("connected to database",
		slog.String("connection", name),
		slog.String("dialect", d.Name()),
		slog.Int("pool_max_open", conn.Pool.MaxOpen),
		slog.Int("pool_max_idle", conn.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", conn.Pool.MaxLifetime),
	)
	return db, nil
}

func openHandle(driver, dsn, dialectName string, inst Instrumentation, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if !inst.Metrics && !inst.Tracing {
		db, err := sql.Open(driver, dsn)
		return db, nil, err
	}

	system := dbSystem(dialectName)
	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if inst.Tracing {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	if inst.SQLCommenter && inst.Tracing {
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	} else if inst.SQLCommenter {
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var statsReg interface{ Unregister() error }
	if inst.Metrics {
		statsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", inst.Metrics),
		slog.Bool("tracing", inst.Tracing),
		slog.Bool("sqlcommenter", inst.SQLCommenter && inst.Tracing),
	)
	return db, statsReg, nil
}

func configurePool(db *sql.DB, pool config.PoolConfig) {
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
}

// waitForDatabase pings until the database answers or timeout elapses,
// doubling the retry interval up to maxRetryInterval.
func waitForDatabase(ctx context.Context, logger *logging.Logger, db *sql.DB, timeout, interval time.Duration) error {
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, maxRetryInterval)
	}
}
