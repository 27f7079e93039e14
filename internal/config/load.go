package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"relmap/internal/dialect"
)

// EnvPrefix prefixes every environment variable, e.g. RELMAP_QUERY_STRICT_CONSISTENCY.
const EnvPrefix = "RELMAP"

// Defaults applied to connections that leave these unset.
const (
	DefaultConnectionName          = "main"
	defaultConnectionRetryInterval = 2 * time.Second
)

// promptPassword reads a password without echo. Tests replace it.
var promptPassword = func(connection string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter password for connection %q: ", connection)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// stdin is read for "@-" file settings.
var stdin io.Reader = os.Stdin

// Load loads configuration with the following precedence:
// 1. Command line flags
// 2. Environment variables
// 3. Config file
// 4. Default values
//
// args are the command line arguments after the program name. Flags that
// Load does not define are an error.
func Load(args []string) (*Config, error) {
	fs := NewFlagSet("relmap")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return LoadFlags(fs)
}

// NewFlagSet defines every configuration flag on a new flag set using
// canonical snake_case keys.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Config file path")

	fs.String("default_connection", "", "Connection used by types that do not name one")
	fs.String("dialect", "", "Dialect of the default connection (mysql, postgres, sqlite)")
	fs.String("dsn", "", "DSN of the default connection")
	fs.String("dsn_file", "", "Path to file containing the default connection DSN (use @- for stdin)")
	fs.Bool("password_prompt", false, "Prompt for the default connection password")

	fs.Bool("query.strict_consistency", false, "Fail queries whose child rows cannot be attached to a parent")
	fs.Int("query.max_include_depth", 0, "Maximum collection nesting per query (0 = unlimited)")
	fs.Int("query.max_statements", 0, "Maximum statements per batch (0 = unlimited)")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for traces and logs (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	return fs
}

// LoadFlags loads configuration using an already parsed flag set created
// by NewFlagSet.
func LoadFlags(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("relmap")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/relmap/")
		v.AddConfigPath("$HOME/.relmap")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlags(fs, v)

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringMapHookFunc(",", "="),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaultConnectionFlags(fs, &cfg)
	applyConnectionDefaults(&cfg)
	if err := resolveSecrets(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindChangedFlags copies only explicitly-set flags into viper, preserving
// precedence: flags > env > file > defaults. Default-connection shorthands
// are applied after decoding.
func bindChangedFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config", "dialect", "dsn", "dsn_file", "password_prompt":
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

func applyDefaultConnectionFlags(fs *pflag.FlagSet, cfg *Config) {
	changed := false
	for _, name := range []string{"dialect", "dsn", "dsn_file", "password_prompt"} {
		if fs.Changed(name) {
			changed = true
		}
	}
	if !changed {
		return
	}
	if cfg.Connections == nil {
		cfg.Connections = make(map[string]ConnectionConfig)
	}
	conn := cfg.Connections[cfg.DefaultConnection]
	if fs.Changed("dialect") {
		conn.Dialect, _ = fs.GetString("dialect")
	}
	if fs.Changed("dsn") {
		conn.DSN, _ = fs.GetString("dsn")
		conn.DSNFile = ""
	}
	if fs.Changed("dsn_file") {
		conn.DSNFile, _ = fs.GetString("dsn_file")
		conn.DSN = ""
	}
	if fs.Changed("password_prompt") {
		conn.PasswordPrompt, _ = fs.GetBool("password_prompt")
	}
	cfg.Connections[cfg.DefaultConnection] = conn
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("default_connection", DefaultConnectionName)
	v.SetDefault("connections", map[string]any{})

	v.SetDefault("query.strict_consistency", false)
	v.SetDefault("query.max_include_depth", 0)
	v.SetDefault("query.max_statements", 0)

	v.SetDefault("observability.service_name", "relmap")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", false)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
}

func applyConnectionDefaults(cfg *Config) {
	for name, conn := range cfg.Connections {
		if d, err := dialect.ForName(conn.Dialect); err == nil {
			conn.Dialect = d.Name()
		}
		if conn.FoldIdentifiers == "" {
			conn.FoldIdentifiers = "preserve"
		}
		if conn.ConnectionRetryInterval <= 0 {
			conn.ConnectionRetryInterval = defaultConnectionRetryInterval
		}
		cfg.Connections[name] = conn
	}
}

// resolveSecrets reads DSN and password files and prompts where asked.
// Connections are visited in name order so prompts are stable.
func resolveSecrets(cfg *Config) error {
	names := make([]string, 0, len(cfg.Connections))
	for name := range cfg.Connections {
		names = append(names, name)
	}
	sort.Strings(names)

	var stdinKeys []string
	for _, name := range names {
		conn := cfg.Connections[name]
		if strings.TrimSpace(conn.DSNFile) == "@-" {
			stdinKeys = append(stdinKeys, "connections."+name+".dsn_file")
		}
		if strings.TrimSpace(conn.PasswordFile) == "@-" {
			stdinKeys = append(stdinKeys, "connections."+name+".password_file")
		}
	}
	if len(stdinKeys) > 1 {
		return fmt.Errorf(
			"multiple file settings use @- (%s); only one @- source is allowed",
			strings.Join(stdinKeys, ", "),
		)
	}

	for _, name := range names {
		conn := cfg.Connections[name]
		if conn.DSN == "" && conn.DSNFile != "" {
			dsn, err := readSecretFile(conn.DSNFile)
			if err != nil {
				return fmt.Errorf("failed to read connections.%s.dsn_file: %w", name, err)
			}
			conn.DSN = dsn
		}
		if conn.Password == "" && conn.PasswordFile != "" {
			pwd, err := readSecretFile(conn.PasswordFile)
			if err != nil {
				return fmt.Errorf("failed to read connections.%s.password_file: %w", name, err)
			}
			conn.Password = pwd
		}
		if conn.Password == "" && conn.PasswordPrompt {
			pwd, err := promptPassword(name)
			if err != nil {
				return fmt.Errorf("failed to read password for connection %q: %w", name, err)
			}
			conn.Password = pwd
		}
		cfg.Connections[name] = conn
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// stringToStringMapHookFunc decodes "k=v,k2=v2" strings, as env vars
// deliver them, into map[string]string.
func stringToStringMapHookFunc(sep, kv string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}
		out := map[string]string{}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return out, nil
		}
		for _, pair := range strings.Split(raw, sep) {
			k, val, ok := strings.Cut(pair, kv)
			if !ok {
				return nil, fmt.Errorf("invalid map entry %q (want key%svalue)", pair, kv)
			}
			out[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
		return out, nil
	}
}
