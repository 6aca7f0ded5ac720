package observability

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// Resource defaults for spans exported by the relay and its tools.
const (
	DefaultServiceName      = "moq-relay"
	DefaultServiceVersion   = "dev"
	DefaultServiceNamespace = "moq"
)

// TracerConfig holds tracing configuration.
type TracerConfig struct {
	Endpoint       string
	Protocol       string // "grpc" or "http"; empty means http
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the share of root traces recorded. Zero records all of
	// them; spans continuing a remote trace follow the caller's decision.
	SampleRatio float64
}

func (c TracerConfig) withDefaults() TracerConfig {
	if c.Protocol == "" {
		c.Protocol = "http"
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = DefaultServiceVersion
	}
	return c
}

// Validate reports settings the exporter cannot work with.
func (c TracerConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("otlp endpoint required")
	}
	switch c.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("unsupported otlp protocol %q (want grpc or http)", c.Protocol)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio %v outside [0, 1]", c.SampleRatio)
	}
	return nil
}

func (c TracerConfig) sampler() sdktrace.Sampler {
	if c.SampleRatio == 0 || c.SampleRatio == 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
}

func (c TracerConfig) resource() (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.ServiceVersion),
		semconv.ServiceNamespace(DefaultServiceNamespace),
	}
	if host, err := os.Hostname(); err == nil {
		attrs = append(attrs, semconv.HostName(host))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func (c TracerConfig) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if c.Protocol == "grpc" {
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(c.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(c.Endpoint),
		otlptracehttp.WithInsecure(),
	)
}

// InitTracer sets up the global TracerProvider and the W3C trace context
// propagator used on admin calls.
func InitTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, *sdktrace.TracerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	cfg = cfg.withDefaults()

	exporter, err := cfg.exporter(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s exporter: %w", cfg.Protocol, err)
	}
	res, err := cfg.resource()
	if err != nil {
		return nil, nil, fmt.Errorf("resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, tp, nil
}
