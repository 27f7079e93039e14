package relmap

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"relmap/internal/config"
	"relmap/internal/database"
	"relmap/internal/dbexec"
	"relmap/internal/dialect"
	"relmap/internal/logging"
	"relmap/internal/observability"
	"relmap/internal/planner"
	"relmap/internal/schema"
)

// Executor runs statement batches. *dbexec.StandardExecutor over a *sql.DB
// is the usual implementation.
type Executor = dbexec.Executor

type connection struct {
	dialect  dialect.Dialect
	executor Executor
}

// Client routes each modeled type to the connection its descriptor names
// and runs the query pipeline against it. A Client is safe for concurrent
// use once built.
type Client struct {
	connections       map[string]connection
	defaultConnection string
	logger            *logging.Logger
	strict            bool
	limits            *planner.PlanLimits
	stageNamer        func(path string) string
	metrics           *observability.QueryMetrics
	registry          *database.Registry
}

// Option configures a Client.
type Option func(*Client)

// WithConnection registers a named connection. The first connection
// registered becomes the default unless WithDefaultConnection says
// otherwise.
func WithConnection(name string, d Dialect, exec Executor) Option {
	return func(c *Client) {
		c.connections[name] = connection{dialect: d, executor: exec}
		if c.defaultConnection == "" {
			c.defaultConnection = name
		}
	}
}

// WithDefaultConnection selects the connection used by types whose
// descriptor names none.
func WithDefaultConnection(name string) Option {
	return func(c *Client) {
		c.defaultConnection = name
	}
}

// WithLogger sets the client logger. Without it the logger carried by the
// call context is used.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithStrictConsistency makes a query fail when a child row cannot be
// attached to its parent instead of dropping it with a warning.
func WithStrictConsistency(strict bool) Option {
	return func(c *Client) {
		c.strict = strict
	}
}

// WithLimits bounds include depth and batch size.
func WithLimits(limits PlanLimits) Option {
	return func(c *Client) {
		c.limits = &limits
	}
}

// WithStageNamer overrides staging table naming. See planner.WithStageNamer.
func WithStageNamer(name func(path string) string) Option {
	return func(c *Client) {
		c.stageNamer = name
	}
}

// WithMetrics records pipeline metrics.
func WithMetrics(metrics *observability.QueryMetrics) Option {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// NewClient builds a client from options.
func NewClient(opts ...Option) *Client {
	c := &Client{connections: make(map[string]connection)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open connects every configured connection and builds a client over them.
// Extra options are applied after the configuration. Close releases the
// connections.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	logger := logging.FromContext(ctx)
	registry, err := database.OpenAll(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithDefaultConnection(cfg.DefaultConnection),
		WithStrictConsistency(cfg.Query.StrictConsistency),
		WithLogger(logger),
	}
	if cfg.Query.MaxIncludeDepth > 0 || cfg.Query.MaxStatements > 0 {
		base = append(base, WithLimits(PlanLimits{
			MaxIncludeDepth: cfg.Query.MaxIncludeDepth,
			MaxStatements:   cfg.Query.MaxStatements,
		}))
	}
	if cfg.Observability.MetricsEnabled {
		metrics, err := observability.InitQueryMetrics()
		if err != nil {
			_ = registry.Close()
			return nil, err
		}
		base = append(base, WithMetrics(metrics))
	}
	for _, name := range registry.Names() {
		db, _ := registry.Get(name)
		base = append(base, WithConnection(name, db.Dialect, db.Executor()))
	}

	c := NewClient(append(base, opts...)...)
	c.registry = registry
	return c, nil
}

// Close releases connections opened by Open. It is a no-op for clients
// built with NewClient.
func (c *Client) Close() error {
	if c.registry == nil {
		return nil
	}
	return c.registry.Close()
}

// Dialect returns the dialect of the named connection; "" selects the
// default.
func (c *Client) Dialect(name string) (Dialect, bool) {
	if name == "" {
		name = c.defaultConnection
	}
	conn, ok := c.connections[name]
	return conn.dialect, ok
}

// Connections lists the registered connection names in order.
func (c *Client) Connections() []string {
	names := make([]string, 0, len(c.connections))
	for name := range c.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) connectionFor(g *schema.Graph) (connection, error) {
	name := g.Root().Entity.Descriptor.Connection
	if name == "" {
		name = c.defaultConnection
	}
	conn, ok := c.connections[name]
	if !ok {
		return connection{}, fmt.Errorf("relmap: %s uses connection %q, which is not configured", g.Type.Name(), name)
	}
	return conn, nil
}

func (c *Client) loggerFor(ctx context.Context, g *schema.Graph) *logging.Logger {
	logger := c.logger
	if logger == nil {
		logger = logging.FromContext(ctx)
	}
	return logger.WithType(g.Type.Name())
}

func (c *Client) planOptions() []planner.PlanOption {
	var opts []planner.PlanOption
	if c.limits != nil {
		opts = append(opts, planner.WithLimits(*c.limits))
	}
	if c.stageNamer != nil {
		opts = append(opts, planner.WithStageNamer(c.stageNamer))
	}
	return opts
}

func logStatements(ctx context.Context, logger *logging.Logger, stmts []dbexec.Statement) {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	for i, stmt := range stmts {
		logger.DebugContext(ctx, "statement",
			slog.Int("index", i),
			slog.String("kind", stmt.Kind.String()),
			slog.String("sql", stmt.Query),
			slog.Int("args", len(stmt.Args)),
		)
	}
}
