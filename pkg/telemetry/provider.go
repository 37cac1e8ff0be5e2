// ABOUTME: OpenTelemetry provider implementation with metric and trace provider setup for btkv telemetry
// ABOUTME: Handles provider lifecycle, resource attributes, instrument caching and sampling configuration

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/KevoDB/btkv"

// TelemetryProvider implements the Telemetry interface using OpenTelemetry SDK.
type TelemetryProvider struct {
	config         Config
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	meter          metric.Meter
	tracer         oteltrace.Tracer
	resource       *sdkresource.Resource

	// serves /metrics when the prometheus exporter is enabled
	metricsServer *http.Server
	metricsAddr   net.Addr

	mu         sync.Mutex
	histograms map[string]metric.Float64Histogram
	counters   map[string]metric.Int64Counter
}

// New creates a new TelemetryProvider with the given configuration.
// A disabled configuration yields the no-op implementation.
func New(cfg Config) (Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	ctx := context.Background()

	metricExporters, err := createMetricExporters(cfg)
	if err != nil {
		return nil, err
	}
	var readers []sdkmetric.Reader
	for _, exporter := range metricExporters {
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.MetricInterval),
			sdkmetric.WithTimeout(cfg.ExportTimeout),
		))
	}

	var registry *prometheus.Registry
	if cfg.HasExporter(ExporterPrometheus) {
		registry = prometheus.NewRegistry()
		reader, err := createPrometheusReader(registry)
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
		}
		readers = append(readers, reader)
	}

	traceExporters, err := createTraceExporters(ctx, cfg)
	if err != nil {
		return nil, err
	}
	var processors []sdktrace.SpanProcessor
	for _, exporter := range traceExporters {
		processors = append(processors, sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
			sdktrace.WithMaxQueueSize(cfg.MaxQueueSize),
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
		))
	}

	p := newProvider(cfg, readers, processors)
	if registry != nil {
		if err := p.serveMetrics(registry); err != nil {
			p.Shutdown(ctx)
			return nil, err
		}
	}
	return p, nil
}

// serveMetrics exposes the registry on /metrics at the configured port
func (p *TelemetryProvider) serveMetrics(registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p.config.PrometheusPort))
	if err != nil {
		return fmt.Errorf("failed to listen for prometheus scrapes: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	p.metricsServer = &http.Server{Handler: mux}
	p.metricsAddr = ln.Addr()

	go p.metricsServer.Serve(ln)
	return nil
}

// MetricsAddr returns the address /metrics is served on, or nil when the
// prometheus exporter is off.
func (p *TelemetryProvider) MetricsAddr() net.Addr {
	return p.metricsAddr
}

// newProvider assembles the SDK providers from already built readers and
// span processors. Tests use it with in-memory readers and exporters.
func newProvider(cfg Config, readers []sdkmetric.Reader, processors []sdktrace.SpanProcessor) *TelemetryProvider {
	resource := sdkresource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(resource)}
	for _, reader := range readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
	}
	meterProvider := sdkmetric.NewMeterProvider(meterOpts...)

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	for _, processor := range processors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(processor))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)

	return &TelemetryProvider{
		config:         cfg,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		meter:          meterProvider.Meter(instrumentationName),
		tracer:         tracerProvider.Tracer(instrumentationName),
		resource:       resource,
		histograms:     make(map[string]metric.Float64Histogram),
		counters:       make(map[string]metric.Int64Counter),
	}
}

// RecordHistogram records value on the histogram called name, creating the
// instrument on first use.
func (p *TelemetryProvider) RecordHistogram(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	h, err := p.histogram(name)
	if err != nil {
		return
	}
	h.Record(contextOrBackground(ctx), value, metric.WithAttributes(attrs...))
}

// RecordCounter adds value to the counter called name.
func (p *TelemetryProvider) RecordCounter(ctx context.Context, name string, value int64, attrs ...attribute.KeyValue) {
	c, err := p.counter(name)
	if err != nil {
		return
	}
	c.Add(contextOrBackground(ctx), value, metric.WithAttributes(attrs...))
}

// StartSpan starts a span on the provider's tracer.
func (p *TelemetryProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return p.tracer.Start(contextOrBackground(ctx), name, oteltrace.WithAttributes(attrs...))
}

// Shutdown stops the metrics endpoint, then flushes and stops both
// providers. Errors from each are joined.
func (p *TelemetryProvider) Shutdown(ctx context.Context) error {
	ctx = contextOrBackground(ctx)
	var serverErr error
	if p.metricsServer != nil {
		serverErr = p.metricsServer.Shutdown(ctx)
	}
	return errors.Join(
		serverErr,
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}

func (p *TelemetryProvider) histogram(name string) (metric.Float64Histogram, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h, nil
	}
	h, err := p.meter.Float64Histogram(name)
	if err != nil {
		return nil, err
	}
	p.histograms[name] = h
	return h, nil
}

func (p *TelemetryProvider) counter(name string) (metric.Int64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Int64Counter(name)
	if err != nil {
		return nil, err
	}
	p.counters[name] = c
	return c, nil
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
