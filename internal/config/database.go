package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"relmap/internal/dialect"
)

// tlsConfigName is the name a connection's TLS settings are registered
// under with the MySQL driver.
func tlsConfigName(connection string) string {
	return "relmap-" + connection
}

// DriverDSN returns the DSN handed to the connection's driver. MySQL DSNs
// always parse times in UTC and carry the configured TLS mode; a configured
// password replaces the one in the DSN for MySQL and PostgreSQL.
func (c *ConnectionConfig) DriverDSN(connection string) (string, error) {
	dsn := strings.TrimSpace(c.DSN)
	switch c.Dialect {
	case dialect.NameMySQL:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		parsed.ParseTime = true
		if parsed.Loc == nil {
			parsed.Loc = time.UTC
		}
		if c.Password != "" {
			parsed.Passwd = c.Password
		}
		if param := c.tlsParam(connection); param != "" && parsed.TLSConfig == "" {
			parsed.TLSConfig = param
		}
		return parsed.FormatDSN(), nil
	case dialect.NamePostgres:
		if c.Password == "" {
			return dsn, nil
		}
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			u, err := url.Parse(dsn)
			if err != nil {
				return "", fmt.Errorf("invalid postgres dsn: %w", err)
			}
			user := ""
			if u.User != nil {
				user = u.User.Username()
			}
			u.User = url.UserPassword(user, c.Password)
			return u.String(), nil
		}
		return dsn + " password='" + strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(c.Password) + "'", nil
	default:
		return dsn, nil
	}
}

func (c *ConnectionConfig) tlsParam(connection string) string {
	switch c.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName(connection)
	default:
		return c.TLS.Mode
	}
}

// RegisterTLS registers the connection's TLS settings with the MySQL
// driver. Only verify-ca and verify-full need a registered config; other
// modes are a no-op.
func (c *ConnectionConfig) RegisterTLS(connection string) error {
	if c.Dialect != dialect.NameMySQL || (c.TLS.Mode != "verify-ca" && c.TLS.Mode != "verify-full") {
		return nil
	}
	tlsCfg, err := c.TLS.build()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName(connection), tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (t *TLSConfig) build() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if t.CAFile != "" {
		caCert, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", t.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", t.CAFile)
		}
		tlsCfg.RootCAs = pool
	}
	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	} else if t.CertFile != "" || t.KeyFile != "" {
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}
	if t.Mode == "verify-full" && t.ServerName != "" {
		tlsCfg.ServerName = t.ServerName
	}
	return tlsCfg, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}
