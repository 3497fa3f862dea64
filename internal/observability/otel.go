package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"applyforge/internal/config"
	"applyforge/internal/errors"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ObservabilityConfig holds the top-level observability switches. The finer
// grained knobs (OTLP endpoints, per-family tracking) are read from the full
// application config.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
	ConsoleOutput  bool
	PrettyPrint    bool
	SampleRate     float64
	Prometheus     PrometheusConfig
}

// Metrics bundles the custom instruments the application records into.
// Instruments stay nil when observability is disabled; every recording path
// checks before use.
type Metrics struct {
	// AI operation metrics
	AIProcessingTime metric.Float64Histogram
	AIRequestCount   metric.Int64Counter
	AIErrorCount     metric.Int64Counter
	AITokenUsage     metric.Int64Histogram

	// Business metrics
	PipelineRuns          metric.Int64Counter
	CoverLettersGenerated metric.Int64Counter
	DocumentsExtracted    metric.Int64Counter

	// Certificate metrics
	CertReloadCount metric.Int64Counter
	CertExpiryTime  metric.Float64Gauge

	// Rate limiting metrics
	RateLimitHits metric.Int64Counter
}

// ObservabilityManager owns the OpenTelemetry providers, the custom
// instruments and the shutdown of everything it started.
type ObservabilityManager struct {
	config         ObservabilityConfig
	fullConfig     *config.Config // tracking switches and OTLP settings
	logger         *errors.Logger
	res            *resource.Resource
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metrics        *Metrics
	shutdownFuncs  []func(context.Context) error
}

// NewObservabilityManager wires tracing and metrics according to the given
// configuration. A disabled config yields a manager whose tracers and
// instruments are all no-ops.
func NewObservabilityManager(obsConfig ObservabilityConfig, fullConfig *config.Config, logger *errors.Logger) (*ObservabilityManager, error) {
	if logger == nil {
		logger = errors.Discard()
	}

	om := &ObservabilityManager{
		config:     obsConfig,
		fullConfig: fullConfig,
		logger:     logger,
	}
	if !obsConfig.Enabled {
		return om, nil
	}

	res, err := om.newResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	om.res = res

	if err := om.initTracing(); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	if err := om.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	return om, nil
}

// newResource describes this process for exported telemetry. Tracing and
// metrics share the one resource.
func (om *ObservabilityManager) newResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(om.config.ServiceName),
			semconv.ServiceVersion(om.config.ServiceVersion),
			attribute.String("service.instance.id", om.serviceInstanceID()),
		),
	)
}

func (om *ObservabilityManager) initTracing() error {
	exporter, err := om.newTraceExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(om.res),
		trace.WithSampler(trace.TraceIDRatioBased(om.config.SampleRate)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	om.tracerProvider = tp
	om.shutdownFuncs = append(om.shutdownFuncs, tp.Shutdown)
	return nil
}

// newTraceExporter picks the span destination: console for development,
// OTLP when configured, otherwise spans are sampled but dropped.
func (om *ObservabilityManager) newTraceExporter() (trace.SpanExporter, error) {
	switch {
	case om.config.ConsoleOutput:
		opts := []stdouttrace.Option{}
		if om.config.PrettyPrint {
			opts = append(opts, stdouttrace.WithPrettyPrint())
		}
		return stdouttrace.New(opts...)
	case om.fullConfig != nil && om.fullConfig.Observability.OTLP.Enabled:
		return om.newOTLPTraceExporter()
	default:
		return dropSpanExporter{}, nil
	}
}

func (om *ObservabilityManager) initMetrics() error {
	readers, err := om.metricReaders()
	if err != nil {
		return err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(om.res)}
	for _, reader := range readers {
		opts = append(opts, sdkmetric.WithReader(reader))
	}
	mp := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(mp)
	om.meterProvider = mp
	om.shutdownFuncs = append(om.shutdownFuncs, mp.Shutdown)

	return om.initInstruments()
}

// metricReaders assembles one reader per configured destination. Console,
// OTLP and Prometheus can all run at once.
func (om *ObservabilityManager) metricReaders() ([]sdkmetric.Reader, error) {
	var readers []sdkmetric.Reader

	if om.config.ConsoleOutput {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create console metric exporter: %w", err)
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(om.metricsInterval())))
	}

	if om.fullConfig != nil && om.fullConfig.Observability.OTLP.Enabled {
		reader, err := om.newOTLPMetricsReader()
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metrics reader: %w", err)
		}
		readers = append(readers, reader)
	}

	if om.config.Prometheus.Enabled {
		reader, mux, err := newPrometheusReader(om.config.Prometheus)
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		readers = append(readers, reader)
		om.startPrometheusServer(mux)
	}

	// A manual reader keeps instrument creation working when no
	// destination is configured.
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewManualReader())
	}

	return readers, nil
}

// initInstruments creates the custom instruments. The first creation error
// wins; later instruments are still created so the Metrics struct is fully
// populated either way.
func (om *ObservabilityManager) initInstruments() error {
	meter := om.meterProvider.Meter(om.config.ServiceName)

	var firstErr error
	fail := func(name string, err error) {
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to create %s: %w", name, err)
		}
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		fail(name, err)
		return c
	}

	m := &Metrics{
		AIRequestCount:        counter("applyforge_ai_requests_total", "Total number of AI requests"),
		AIErrorCount:          counter("applyforge_ai_errors_total", "Total number of AI request errors"),
		PipelineRuns:          counter("applyforge_pipeline_runs_total", "Total number of analysis pipeline runs"),
		CoverLettersGenerated: counter("applyforge_cover_letters_generated_total", "Total number of cover letters generated"),
		DocumentsExtracted:    counter("applyforge_documents_extracted_total", "Total number of documents extracted"),
		CertReloadCount:       counter("applyforge_cert_reloads_total", "Total number of certificate reloads"),
		RateLimitHits:         counter("applyforge_rate_limit_hits_total", "Total number of rate limit hits"),
	}

	var err error
	m.AIProcessingTime, err = meter.Float64Histogram(
		"applyforge_ai_processing_duration_seconds",
		metric.WithDescription("Time spent processing AI requests"),
		metric.WithUnit("s"),
	)
	fail("applyforge_ai_processing_duration_seconds", err)

	m.AITokenUsage, err = meter.Int64Histogram(
		"applyforge_ai_token_usage_total",
		metric.WithDescription("Token usage for AI requests (input, output, total)"),
		metric.WithUnit("tokens"),
	)
	fail("applyforge_ai_token_usage_total", err)

	// Populated by the certificate manager on reloads and expiry checks.
	m.CertExpiryTime, err = meter.Float64Gauge(
		"applyforge_cert_expiry_seconds",
		metric.WithDescription("Seconds until certificate expiry"),
		metric.WithUnit("s"),
	)
	fail("applyforge_cert_expiry_seconds", err)

	om.metrics = m
	return firstErr
}

// GetMetrics returns the custom instruments. Before initialization it
// returns the zero Metrics value so callers can record unconditionally.
func (om *ObservabilityManager) GetMetrics() *Metrics {
	if om.metrics == nil {
		return &Metrics{}
	}
	return om.metrics
}

// HTTPMiddleware wraps a handler with otelhttp server instrumentation.
func (om *ObservabilityManager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !om.config.Enabled {
		return func(h http.Handler) http.Handler { return h }
	}

	return otelhttp.NewMiddleware(
		om.config.ServiceName,
		otelhttp.WithTracerProvider(om.tracerProvider),
		otelhttp.WithMeterProvider(om.meterProvider),
	)
}

// Tracer hands out a tracer, a noop one when observability is off.
func (om *ObservabilityManager) Tracer(name string) oteltrace.Tracer {
	if !om.config.Enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return otel.Tracer(name)
}

// Shutdown flushes and stops every component it started. Each component
// gets its shutdown attempt even when an earlier one fails; the first
// error is returned.
func (om *ObservabilityManager) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, shutdown := range om.shutdownFuncs {
		if err := shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// AIOperationResult carries the outcome of an instrumented AI call.
type AIOperationResult struct {
	Error      error
	TokenUsage *TokenUsage
}

// TokenUsage mirrors the provider's token accounting. The field layout
// matches the ai package's TokenUsage so the pipeline can convert between
// the two directly.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// TrackAIOperationWithTokens runs fn inside a span and records duration,
// request and error counts, and token usage under the configured tracking
// switches. When the instruments are absent fn still runs.
func (m *Metrics) TrackAIOperationWithTokens(ctx context.Context, operation string, fn func(context.Context) *AIOperationResult, om *ObservabilityManager) error {
	if m.AIProcessingTime == nil {
		if result := fn(ctx); result != nil {
			return result.Error
		}
		return nil
	}

	ctx, span := otel.Tracer("applyforge.ai").Start(ctx, "ai."+operation)
	defer span.End()

	start := time.Now()
	result := fn(ctx)
	duration := time.Since(start).Seconds()

	var err error
	var usage *TokenUsage
	if result != nil {
		err, usage = result.Error, result.TokenUsage
	}

	enabled, trackDuration, trackTokens := om.aiTrackingPolicy()
	if enabled {
		attrs := []attribute.KeyValue{
			attribute.String("operation", operation),
			attribute.Bool("success", err == nil),
		}
		if trackDuration {
			m.AIProcessingTime.Record(ctx, duration, metric.WithAttributes(attrs...))
		}
		m.AIRequestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
		if err != nil {
			m.AIErrorCount.Add(ctx, 1, metric.WithAttributes(attrs...))
		}
		if usage != nil && trackTokens && m.AITokenUsage != nil {
			m.recordTokenUsage(ctx, operation, usage)
		}
		span.SetAttributes(attrs...)
	}

	// Token counts always land on the span; traces stay the debugging
	// surface even when the token metric is switched off.
	if usage != nil {
		span.SetAttributes(
			attribute.Int64("ai.tokens.input", usage.InputTokens),
			attribute.Int64("ai.tokens.output", usage.OutputTokens),
			attribute.Int64("ai.tokens.total", usage.TotalTokens),
		)
	}

	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
	return err
}

// recordTokenUsage emits one histogram sample per token class.
func (m *Metrics) recordTokenUsage(ctx context.Context, operation string, usage *TokenUsage) {
	samples := []struct {
		class string
		value int64
	}{
		{"input", usage.InputTokens},
		{"output", usage.OutputTokens},
		{"total", usage.TotalTokens},
	}
	for _, s := range samples {
		m.AITokenUsage.Record(ctx, s.value, metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("token_type", s.class),
		))
	}
}

// aiTrackingPolicy reads the AI metric switches, defaulting to everything
// on when no full config is present.
func (om *ObservabilityManager) aiTrackingPolicy() (enabled, trackDuration, trackTokens bool) {
	if om.fullConfig == nil {
		return true, true, true
	}
	c := om.fullConfig.Observability.CustomMetrics.AIOperations
	return c.Enabled, c.TrackDuration, c.TrackTokenUsage
}

// RecordBusinessMetric bumps the counter behind metricType, tagging the
// sample with success plus any extra attributes. Unknown types and switched
// off metric families are ignored.
func (m *Metrics) RecordBusinessMetric(ctx context.Context, metricType string, success bool, om *ObservabilityManager, attributes ...attribute.KeyValue) {
	if om != nil && om.fullConfig != nil && !om.fullConfig.Observability.CustomMetrics.BusinessMetrics.Enabled {
		return
	}

	var counter metric.Int64Counter
	switch metricType {
	case "pipeline_run":
		counter = m.PipelineRuns
	case "cover_letter_generated":
		counter = m.CoverLettersGenerated
	case "document_extracted":
		counter = m.DocumentsExtracted
	case "rate_limit_hit":
		// Rate limiting sits under the infrastructure switches.
		if om != nil && om.fullConfig != nil && !om.fullConfig.Observability.CustomMetrics.Infrastructure.TrackRateLimits {
			return
		}
		counter = m.RateLimitHits
	default:
		return
	}
	if counter == nil {
		return
	}

	attrs := append([]attribute.KeyValue{attribute.Bool("success", success)}, attributes...)
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// dropSpanExporter discards spans when no exporter is configured.
type dropSpanExporter struct{}

func (dropSpanExporter) ExportSpans(context.Context, []trace.ReadOnlySpan) error { return nil }
func (dropSpanExporter) Shutdown(context.Context) error                          { return nil }

// newOTLPTraceExporter builds the OTLP/HTTP span exporter. Only called when
// the full config is present and OTLP is enabled.
func (om *ObservabilityManager) newOTLPTraceExporter() (trace.SpanExporter, error) {
	otlpCfg := om.fullConfig.Observability.OTLP

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(otlpCfg.Endpoint)}
	if otlpCfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(otlpCfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(otlpCfg.Headers))
	}

	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}
	return exporter, nil
}

// newOTLPMetricsReader builds a periodic reader exporting over OTLP/HTTP.
func (om *ObservabilityManager) newOTLPMetricsReader() (sdkmetric.Reader, error) {
	otlpCfg := om.fullConfig.Observability.OTLP

	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpointURL(otlpCfg.Endpoint)}
	if otlpCfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	if len(otlpCfg.Headers) > 0 {
		opts = append(opts, otlpmetrichttp.WithHeaders(otlpCfg.Headers))
	}

	exporter, err := otlpmetrichttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metrics exporter: %w", err)
	}
	return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(om.metricsInterval())), nil
}

// serviceInstanceID prefers the configured instance name. LoadConfig fills
// it from the hostname, so the literal fallback only covers a missing full
// config.
func (om *ObservabilityManager) serviceInstanceID() string {
	if om.fullConfig != nil && om.fullConfig.Observability.ServiceInstance != "" {
		return om.fullConfig.Observability.ServiceInstance
	}
	return "applyforge-1"
}

func (om *ObservabilityManager) metricsInterval() time.Duration {
	if om.fullConfig != nil && om.fullConfig.Observability.Metrics.CollectionInterval > 0 {
		return om.fullConfig.Observability.Metrics.CollectionInterval
	}
	return 15 * time.Second
}
