// Package config loads relmap configuration from files, env vars, and flags,
// and validates it.
package config

import "time"

// Config holds the application configuration.
type Config struct {
	// DefaultConnection names the connection used by types whose descriptor
	// does not name one.
	DefaultConnection string                      `mapstructure:"default_connection"`
	Connections       map[string]ConnectionConfig `mapstructure:"connections"`
	Query             QueryConfig                 `mapstructure:"query"`
	Observability     ObservabilityConfig         `mapstructure:"observability"`
}

// Connection returns the named connection, resolving "" to the default.
func (c *Config) Connection(name string) (string, ConnectionConfig, bool) {
	if name == "" {
		name = c.DefaultConnection
	}
	conn, ok := c.Connections[name]
	return name, conn, ok
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// TLSConfig holds TLS settings for MySQL connections.
type TLSConfig struct {
	// Mode controls TLS behavior:
	//   - "off": No TLS (plaintext connection)
	//   - "skip-verify": TLS without server certificate verification (insecure)
	//   - "verify-ca": TLS with CA verification but no hostname check
	//   - "verify-full": TLS with full verification including hostname
	Mode string `mapstructure:"mode"`

	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// ConnectionConfig describes one database a modeled type can live in.
type ConnectionConfig struct {
	// Dialect is one of mysql, postgres or sqlite.
	Dialect string `mapstructure:"dialect"`
	// DSN is passed to the dialect's driver. MySQL DSNs are normalized
	// (parseTime, UTC, TLS) before use.
	DSN string `mapstructure:"dsn"`
	// DSNFile is a path to a file containing the DSN. "@-" reads stdin.
	DSNFile string `mapstructure:"dsn_file"`
	// Password replaces the password in DSN when set.
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	// FoldIdentifiers is preserve or lower.
	FoldIdentifiers string     `mapstructure:"fold_identifiers"`
	Pool            PoolConfig `mapstructure:"pool"`
	TLS             TLSConfig  `mapstructure:"tls"`

	// ConnectionTimeout bounds how long opening waits for the database to
	// answer a ping. Zero fails on the first error.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// QueryConfig tunes the query pipeline.
type QueryConfig struct {
	// StrictConsistency fails a query when a child row cannot be attached
	// to its parent instead of dropping it with a warning.
	StrictConsistency bool `mapstructure:"strict_consistency"`
	// MaxIncludeDepth caps collection nesting; zero is unlimited.
	MaxIncludeDepth int `mapstructure:"max_include_depth"`
	// MaxStatements caps the statements in one batch; zero is unlimited.
	MaxStatements int `mapstructure:"max_statements"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"` // Inject trace context into SQL queries
	Logging             LoggingConfig `mapstructure:"logging"`
	OTLP                OTLPConfig    `mapstructure:"otlp"`
}
