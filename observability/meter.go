package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/execkit/logger"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// Enabled turns metric export on.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ServiceName is the name of the service.
	ServiceName string `yaml:"service_name" mapstructure:"service_name"`
	// ServiceVersion is the version of the service.
	ServiceVersion string `yaml:"service_version" mapstructure:"service_version"`
	// Environment is the deployment environment (dev, staging, prod).
	Environment string `yaml:"environment" mapstructure:"environment"`
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string `yaml:"endpoint" mapstructure:"endpoint"`
	// Insecure allows insecure connections (for development).
	Insecure bool `yaml:"insecure" mapstructure:"insecure"`
	// Interval is the metric export interval.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter initializes the OpenTelemetry meter provider and installs it
// globally. The provider should be shut down when the run ends.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(ctx, config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Info("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns a named meter from the global provider.
func Meter(name string) metric.Meter {
	return otel.Meter(name)
}

// Metrics holds the execution instruments.
type Metrics struct {
	executionTotal    metric.Int64Counter
	executionDuration metric.Float64Histogram
	executionActive   metric.Int64UpDownCounter
	launchFailures    metric.Int64Counter
}

// NewMetrics creates metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	executionTotal, err := meter.Int64Counter("execution.total",
		metric.WithDescription("Total number of settled executions by backend and outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating execution.total counter: %w", err)
	}

	executionDuration, err := meter.Float64Histogram("execution.duration",
		metric.WithDescription("Duration of executions in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating execution.duration histogram: %w", err)
	}

	executionActive, err := meter.Int64UpDownCounter("execution.active",
		metric.WithDescription("Number of currently running executions"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating execution.active gauge: %w", err)
	}

	launchFailures, err := meter.Int64Counter("execution.launch_failures",
		metric.WithDescription("Commands a backend could not launch"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating execution.launch_failures counter: %w", err)
	}

	return &Metrics{
		executionTotal:    executionTotal,
		executionDuration: executionDuration,
		executionActive:   executionActive,
		launchFailures:    launchFailures,
	}, nil
}

// RecordExecutionStart increments the running execution count.
func (m *Metrics) RecordExecutionStart(ctx context.Context, backend string) {
	m.executionActive.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}

// RecordExecutionEnd decrements running executions and records the outcome.
func (m *Metrics) RecordExecutionEnd(ctx context.Context, backend, outcome string, duration time.Duration) {
	b := attribute.String("backend", backend)
	m.executionActive.Add(ctx, -1, metric.WithAttributes(b))
	m.executionTotal.Add(ctx, 1, metric.WithAttributes(b, attribute.String("outcome", outcome)))
	m.executionDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(b))
}

// RecordLaunchFailure counts a command that never started.
func (m *Metrics) RecordLaunchFailure(ctx context.Context, backend string) {
	m.launchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}
