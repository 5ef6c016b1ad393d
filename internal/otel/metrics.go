// Package otel provides OpenTelemetry metrics integration for aiperf.
package otel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "aiperf",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with aiperf-specific helpers.
type Metrics struct {
	config           *MetricsConfig
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	shutdown         func(context.Context) error
	mu               sync.RWMutex
	currentPhase     atomic.Int64
	phaseCallback    metric.Int64ObservableGauge
	phaseCallbackReg metric.Registration

	// Metric instruments
	creditLatency    metric.Float64Histogram
	errorCounter     metric.Int64Counter
	inFlightCredits  metric.Int64UpDownCounter
	retryCounter     metric.Int64Counter
	sseStallCounter  metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	// Create exporter based on type
	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	// Create resource with service information
	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	// Create meter provider
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	// Register metric instruments
	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	// Credit round-trip latency histogram (in milliseconds)
	m.creditLatency, err = m.meter.Float64Histogram(
		"aiperf.credit.latency",
		metric.WithDescription("End-to-end latency of a dispatched credit"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create credit latency histogram: %w", err)
	}

	// Error counter with category attribute
	m.errorCounter, err = m.meter.Int64Counter(
		"aiperf.errors",
		metric.WithDescription("Count of request errors by category"),
	)
	if err != nil {
		return fmt.Errorf("failed to create error counter: %w", err)
	}

	// In-flight credits gauge (up/down counter)
	m.inFlightCredits, err = m.meter.Int64UpDownCounter(
		"aiperf.credits.inflight",
		metric.WithDescription("Number of credits currently in flight across workers"),
	)
	if err != nil {
		return fmt.Errorf("failed to create in-flight credits counter: %w", err)
	}

	// Retry counter
	m.retryCounter, err = m.meter.Int64Counter(
		"aiperf.retries",
		metric.WithDescription("Count of worker transport retries"),
	)
	if err != nil {
		return fmt.Errorf("failed to create retry counter: %w", err)
	}

	// SSE stall counter
	m.sseStallCounter, err = m.meter.Int64Counter(
		"aiperf.sse_stalls",
		metric.WithDescription("Count of SSE stream stalls detected by workers"),
	)
	if err != nil {
		return fmt.Errorf("failed to create sse stall counter: %w", err)
	}

	// Current phase observable gauge
	m.phaseCallback, err = m.meter.Int64ObservableGauge(
		"aiperf.phase",
		metric.WithDescription("Current run phase index (0=warmup, 1=profiling)"),
	)
	if err != nil {
		return fmt.Errorf("failed to create phase gauge: %w", err)
	}

	// Register callback for phase gauge
	m.phaseCallbackReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.phaseCallback, m.currentPhase.Load())
			return nil
		},
		m.phaseCallback,
	)
	if err != nil {
		return fmt.Errorf("failed to register phase gauge callback: %w", err)
	}

	return nil
}

// RecordCreditLatency records the end-to-end latency of a dispatched credit.
func (m *Metrics) RecordCreditLatency(ctx context.Context, endpointType string, latencyMs float64, success bool) {
	if m.creditLatency == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("endpoint_type", endpointType),
		attribute.Bool("success", success),
	}

	m.creditLatency.Record(ctx, latencyMs, metric.WithAttributes(attrs...))
}

// RecordError records an error with the specified category.
func (m *Metrics) RecordError(ctx context.Context, category string) {
	if m.errorCounter == nil {
		return
	}

	m.errorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
	))
}

// IncrementInFlight increments the in-flight credits counter.
func (m *Metrics) IncrementInFlight(ctx context.Context) {
	if m.inFlightCredits == nil {
		return
	}

	m.inFlightCredits.Add(ctx, 1)
}

// DecrementInFlight decrements the in-flight credits counter.
func (m *Metrics) DecrementInFlight(ctx context.Context) {
	if m.inFlightCredits == nil {
		return
	}

	m.inFlightCredits.Add(ctx, -1)
}

// RecordRetry increments the transport retry counter.
func (m *Metrics) RecordRetry(ctx context.Context) {
	if m.retryCounter == nil {
		return
	}

	m.retryCounter.Add(ctx, 1)
}

// RecordSSEStall increments the SSE stall counter.
func (m *Metrics) RecordSSEStall(ctx context.Context) {
	if m.sseStallCounter == nil {
		return
	}

	m.sseStallCounter.Add(ctx, 1)
}

// SetCurrentPhase sets the current phase index for the observable gauge.
// This is thread-safe and will be read by the gauge callback.
func (m *Metrics) SetCurrentPhase(phaseIndex int) {
	m.currentPhase.Store(int64(phaseIndex))
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Unregister callback if registered
	if m.phaseCallbackReg != nil {
		if err := m.phaseCallbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister phase callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		// Return a no-op metrics instance
		cfg := DefaultMetricsConfig()
		m := &Metrics{
			config:        cfg,
			meterProvider: sdkmetric.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		return m
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
