package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"relmap/internal/dialect"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	if len(c.Connections) == 0 {
		result.fail("connections", "no connections configured",
			"add connections.<name> with a dialect and dsn, or pass --dialect and --dsn")
	} else if _, ok := c.Connections[c.DefaultConnection]; !ok {
		result.fail("default_connection",
			fmt.Sprintf("default connection %q is not configured", c.DefaultConnection),
			"set default_connection to one of: "+strings.Join(c.connectionNames(), ", "))
	}
	for _, name := range c.connectionNames() {
		conn := c.Connections[name]
		conn.validate(name, result)
	}

	c.Query.validate(result)
	c.Observability.validate(result)
	return result
}

func (c *Config) connectionNames() []string {
	names := make([]string, 0, len(c.Connections))
	for name := range c.Connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *ConnectionConfig) validate(name string, result *ValidationResult) {
	prefix := "connections." + name
	if _, err := dialect.ForName(c.Dialect); err != nil {
		result.fail(prefix+".dialect", err.Error(), "valid values are: mysql, postgres, sqlite")
	}
	if _, err := dialect.ParseCasing(c.FoldIdentifiers); err != nil {
		result.fail(prefix+".fold_identifiers", err.Error(), "valid values are: preserve, lower")
	}

	if strings.TrimSpace(c.DSN) == "" {
		result.fail(prefix+".dsn", "dsn is required", "set dsn or dsn_file")
	} else if c.Dialect == dialect.NameMySQL {
		if _, err := c.DriverDSN(name); err != nil {
			result.fail(prefix+".dsn", err.Error(), "use the go-sql-driver/mysql DSN format user:pass@tcp(host:port)/db")
		}
	}

	if c.TLS.Mode != "" && c.Dialect != dialect.NameMySQL {
		result.warn(prefix+".tls.mode", "tls settings only apply to mysql connections",
			"configure TLS in the DSN for other drivers")
	}
	c.TLS.validate(prefix+".tls", result)

	if c.Pool.MaxOpen < 0 {
		result.fail(prefix+".pool.max_open", "max_open cannot be negative", "")
	}
	if c.Pool.MaxIdle < 0 {
		result.fail(prefix+".pool.max_idle", "max_idle cannot be negative", "")
	}
	if c.Pool.MaxIdle > c.Pool.MaxOpen && c.Pool.MaxOpen > 0 {
		result.warn(prefix+".pool.max_idle", "max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}
	if c.Dialect == dialect.NameSQLite && isMemoryDSN(c.DSN) && c.Pool.MaxOpen != 1 {
		result.warn(prefix+".pool.max_open", "every pooled connection opens its own in-memory sqlite database",
			"set max_open to 1 or use a shared cache DSN")
	}

	if c.ConnectionTimeout < 0 {
		result.fail(prefix+".connection_timeout", "connection_timeout cannot be negative", "")
	}
	if c.ConnectionRetryInterval < 0 {
		result.fail(prefix+".connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if c.ConnectionTimeout > 0 && c.ConnectionRetryInterval > c.ConnectionTimeout {
		result.warn(prefix+".connection_retry_interval", "connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
}

func (t *TLSConfig) validate(prefix string, result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.fail(prefix+".mode", fmt.Sprintf("invalid TLS mode %q", t.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && t.CAFile == "" {
		result.fail(prefix+".ca_file", "CA file is required for verify-ca and verify-full modes", "")
	}
	if (t.CertFile == "") != (t.KeyFile == "") {
		result.fail(prefix+".cert_file", "both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.warn(prefix+".mode", "skip-verify mode does not verify server certificates",
			"use verify-ca or verify-full in production")
	}
}

func (q *QueryConfig) validate(result *ValidationResult) {
	if q.MaxIncludeDepth < 0 {
		result.fail("query.max_include_depth", "max_include_depth cannot be negative", "use 0 for unlimited")
	}
	if q.MaxStatements < 0 {
		result.fail("query.max_statements", "max_statements cannot be negative", "use 0 for unlimited")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", "trace_sample_ratio must be between 0.0 and 1.0", "")
	}
	if o.SQLCommenterEnabled && !o.TracingEnabled {
		result.warn("observability.sqlcommenter_enabled", "sqlcommenter has no trace context to inject without tracing",
			"enable observability.tracing_enabled")
	}
	if o.TracingEnabled || o.Logging.ExportsEnabled {
		o.OTLP.validate("observability.otlp", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	if !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q", o.Endpoint),
			"use host:port or a full URL")
	}
	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
