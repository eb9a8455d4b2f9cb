// Package instrumentation provides OpenTelemetry tracing and metrics for
// outbound requests. It exports traces via OTLP and metrics via Prometheus.
// Without Init the package falls back to the global otel providers, which
// are no-ops by default, so library users pay nothing unless they opt in.
package instrumentation

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"
)

const (
	ServiceName    = "never-primp"
	ServiceVersion = "1.0.0"
)

var (
	instrMu sync.Mutex
	tracer  trace.Tracer
	meter   metric.Meter

	requestCounter   metric.Int64Counter
	requestDuration  metric.Float64Histogram
	activeRequests   metric.Int64UpDownCounter
	redirectCounter  metric.Int64Counter
	cookieSetCounter metric.Int64Counter
	errorCounter     metric.Int64Counter
)

// Config holds instrumentation configuration.
type Config struct {
	// OTLPEndpoint is the OTLP trace exporter endpoint (e.g. "localhost:4318").
	OTLPEndpoint string
	// Environment is the deployment environment (e.g. "production").
	Environment string
	// SampleRate is the trace sampling rate (0.0 to 1.0).
	SampleRate float64
	// MetricsEnabled enables the Prometheus metrics reader.
	MetricsEnabled bool
}

// DefaultConfig returns configuration derived from the environment.
func DefaultConfig() Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	sampleRate := 1.0
	if env == "production" || env == "prod" {
		sampleRate = 0.1
	}
	if sr := os.Getenv("OTEL_SAMPLE_RATE"); sr != "" {
		if parsed, err := strconv.ParseFloat(sr, 64); err == nil && parsed >= 0 && parsed <= 1 {
			sampleRate = parsed
		}
	}

	return Config{
		OTLPEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		Environment:    env,
		SampleRate:     sampleRate,
		MetricsEnabled: os.Getenv("METRICS_ENABLED") != "false",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// Init sets up OpenTelemetry tracing and metrics and returns a shutdown
// function. Calling it is optional; see the package comment.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		klog.Warningf("Failed to create OTLP trace exporter: %v, continuing without tracing", err)
		traceExporter = nil
	}

	var sampler sdktrace.Sampler
	if cfg.Environment == "production" || cfg.Environment == "prod" {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	} else {
		sampler = sdktrace.AlwaysSample()
	}

	var tracerProvider *sdktrace.TracerProvider
	if traceExporter != nil {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.NeverSample()),
		)
	}
	otel.SetTracerProvider(tracerProvider)

	var meterProvider *sdkmetric.MeterProvider
	if cfg.MetricsEnabled {
		promExporter, err := prometheus.New()
		if err != nil {
			klog.Warningf("Failed to create Prometheus exporter: %v, continuing without metrics", err)
		} else {
			meterProvider = sdkmetric.NewMeterProvider(
				sdkmetric.WithReader(promExporter),
				sdkmetric.WithResource(res),
			)
			otel.SetMeterProvider(meterProvider)
		}
	}

	instrMu.Lock()
	tracer = otel.Tracer(ServiceName)
	meter = otel.Meter(ServiceName)
	err = initMetricsLocked()
	instrMu.Unlock()
	if err != nil {
		return nil, err
	}

	klog.Infof("OpenTelemetry initialized: env=%s, sample_rate=%.2f, metrics=%v",
		cfg.Environment, cfg.SampleRate, cfg.MetricsEnabled)

	return func(ctx context.Context) error {
		var errs []error
		if err := tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		if meterProvider != nil {
			if err := meterProvider.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return errs[0]
		}
		return nil
	}, nil
}

func initMetricsLocked() error {
	var err error

	requestCounter, err = meter.Int64Counter(
		"primp.requests.total",
		metric.WithDescription("Total number of outbound requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	requestDuration, err = meter.Float64Histogram(
		"primp.request.duration",
		metric.WithDescription("Duration of outbound requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	activeRequests, err = meter.Int64UpDownCounter(
		"primp.requests.active",
		metric.WithDescription("Number of in-flight requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	redirectCounter, err = meter.Int64Counter(
		"primp.redirects.total",
		metric.WithDescription("Total redirects followed"),
		metric.WithUnit("{redirect}"),
	)
	if err != nil {
		return err
	}

	cookieSetCounter, err = meter.Int64Counter(
		"primp.cookies.stored",
		metric.WithDescription("Total cookies stored from responses"),
		metric.WithUnit("{cookie}"),
	)
	if err != nil {
		return err
	}

	errorCounter, err = meter.Int64Counter(
		"primp.errors.total",
		metric.WithDescription("Total errors encountered"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return err
	}

	return nil
}

// MetricsHandler serves the Prometheus metrics registered by Init, for
// mounting on an application's mux (conventionally at /metrics).
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	instrMu.Lock()
	defer instrMu.Unlock()
	if tracer == nil {
		tracer = otel.Tracer(ServiceName)
	}
	return tracer
}

// StartSpan starts a new span with the given name.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// RequestTracer traces a single outbound request end to end.
type RequestTracer struct {
	ctx       context.Context
	span      trace.Span
	startTime time.Time
	host      string
	method    string
}

// StartRequest starts tracing an outbound request.
func StartRequest(ctx context.Context, method, host string) *RequestTracer {
	ctx, span := Tracer().Start(ctx, "primp.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(method),
			semconv.ServerAddress(host),
		),
	)

	if activeRequests != nil {
		activeRequests.Add(ctx, 1)
	}

	return &RequestTracer{
		ctx:       ctx,
		span:      span,
		startTime: time.Now(),
		host:      host,
		method:    method,
	}
}

// End completes the request trace.
func (rt *RequestTracer) End(statusCode int, err error) {
	duration := time.Since(rt.startTime).Milliseconds()

	if rt.span != nil {
		rt.span.SetAttributes(
			semconv.HTTPResponseStatusCode(statusCode),
			attribute.Int64("http.duration_ms", duration),
		)

		if err != nil {
			rt.span.RecordError(err)
			rt.span.SetStatus(codes.Error, err.Error())
		} else if statusCode >= 400 {
			rt.span.SetStatus(codes.Error, http.StatusText(statusCode))
		} else {
			rt.span.SetStatus(codes.Ok, "")
		}
		rt.span.End()
	}

	ctx := rt.ctx
	attrs := []attribute.KeyValue{
		attribute.String("method", rt.method),
		attribute.String("host", rt.host),
		attribute.Int("status_code", statusCode),
		attribute.Bool("success", err == nil && statusCode < 400),
	}

	if requestCounter != nil {
		requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if requestDuration != nil {
		requestDuration.Record(ctx, float64(duration), metric.WithAttributes(attrs...))
	}
	if activeRequests != nil {
		activeRequests.Add(ctx, -1)
	}
	if err != nil && errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_type", "request"),
			attribute.String("host", rt.host),
		))
	}
}

// Context returns the span context.
func (rt *RequestTracer) Context() context.Context {
	return rt.ctx
}

// RecordRedirect records a followed redirect.
func RecordRedirect(ctx context.Context, host string) {
	if redirectCounter != nil {
		redirectCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("host", host),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.AddEvent("redirect",
			trace.WithAttributes(attribute.String("host", host)),
		)
	}
}

// RecordCookiesStored records cookies persisted from a response.
func RecordCookiesStored(ctx context.Context, host string, count int) {
	if count == 0 {
		return
	}
	if cookieSetCounter != nil {
		cookieSetCounter.Add(ctx, int64(count), metric.WithAttributes(
			attribute.String("host", host),
		))
	}
}

// RecordError records an error event.
func RecordError(ctx context.Context, errorType string, err error) {
	if errorCounter != nil {
		errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("error_type", errorType),
		))
	}

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err,
			trace.WithAttributes(
				attribute.String("error_type", errorType),
			),
		)
	}
}
