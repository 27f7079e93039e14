package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/common/expfmt"

	"relmap"
	"relmap/internal/config"
	"relmap/internal/logging"
	"relmap/internal/observability"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const usage = `Usage: relmap <command> [flags]

Commands:
  check     Validate configuration and connect to every configured database
  version   Print version and exit
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("relmap error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("no command given")
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(out, "relmap %s (%s)\n", Version, Commit)
		return nil
	case "check":
		return check(ctx, args[1:], out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func check(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	var cleanup cleanupStack
	defer func() { cleanup.run(context.Background(), nil) }()

	logger, err := initTelemetry(ctx, cfg, &cleanup)
	if err != nil {
		return err
	}
	ctx = logging.WithLogger(ctx, logger)

	var meterProvider *observability.MeterProvider
	if cfg.Observability.MetricsEnabled {
		meterProvider, err = observability.InitMeterProvider(telemetryConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		cleanup.push("meter provider", func(ctx context.Context) error {
			return meterProvider.Shutdown(ctx, logger.Logger)
		})
	}

	client, err := relmap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	cleanup.push("connections", func(context.Context) error { return client.Close() })

	for _, name := range client.Connections() {
		d, _ := client.Dialect(name)
		marker := ""
		if name == cfg.DefaultConnection {
			marker = " (default)"
		}
		fmt.Fprintf(out, "%s\t%s\tok%s\n", name, d.Name(), marker)
	}

	if meterProvider != nil {
		families, err := meterProvider.Gatherer().Gather()
		if err != nil {
			return fmt.Errorf("failed to gather metrics: %w", err)
		}
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(out, mf); err != nil {
				return err
			}
		}
	}
	return nil
}

func telemetryConfig(cfg *config.Config) observability.Config {
	otlp := cfg.Observability.OTLP
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLP: observability.ExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
		},
	}
}

// initTelemetry builds the logger and, when enabled, the OTLP log and trace
// pipelines. Shutdown hooks are pushed onto cleanup.
func initTelemetry(ctx context.Context, cfg *config.Config, cleanup *cleanupStack) (*logging.Logger, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: os.Stderr,
	}
	if cfg.Observability.Logging.ExportsEnabled {
		provider, err := observability.InitLoggerProvider(ctx, telemetryConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize log export: %w", err)
		}
		loggerCfg.LoggerProvider = provider.Provider()
		cleanup.push("logger provider", func(ctx context.Context) error {
			return provider.Shutdown(ctx, slog.Default())
		})
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	cleanup.logger = logger

	if cfg.Observability.TracingEnabled {
		otlp := cfg.Observability.OTLP
		logger.Info("initializing OpenTelemetry tracing",
			slog.String("service_name", cfg.Observability.ServiceName),
			slog.String("otlp_endpoint", otlp.Endpoint),
			slog.String("otlp_protocol", otlp.Protocol),
			slog.Bool("insecure", otlp.Insecure),
		)
		tracerProvider, err := observability.InitTracerProvider(ctx, telemetryConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		cleanup.push("tracer provider", func(ctx context.Context) error {
			return tracerProvider.Shutdown(ctx, logger.Logger)
		})
	}
	return logger, nil
}
