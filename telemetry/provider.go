// Package telemetry wires core.Telemetry to the OpenTelemetry SDK. Traces
// export over OTLP/gRPC when an endpoint is configured, falling back to
// stdout otherwise; metrics are recorded in-process through a small set
// of heuristically-routed instruments, mirroring the teacher's
// telemetry.OTelProvider construction (resource + batched trace exporter
// + meter provider, one tracer/meter per service name) adapted to the
// exporters this module actually depends on.
package telemetry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	otelmetric "go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/artemis-pipeline/artemis/core"
)

// Provider implements core.Telemetry on top of the OpenTelemetry SDK.
type Provider struct {
	tracer oteltrace.Tracer
	meter  otelmetric.Meter
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider

	mu         sync.Mutex
	counters   map[string]otelmetric.Float64Counter
	histograms map[string]otelmetric.Float64Histogram

	shutdownOnce sync.Once
}

// NewProvider creates a Provider identifying itself as serviceName. When
// endpoint is non-empty, traces export via OTLP/gRPC to that collector
// address; when empty, traces print to stdout, which is useful for local
// runs and tests that have no collector to talk to.
func NewProvider(ctx context.Context, serviceName, endpoint string) (*Provider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceVersionKey.String("dev"),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	exporter, err := newTraceExporter(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)

	return &Provider{
		tracer:     tp.Tracer(serviceName),
		meter:      mp.Meter(serviceName),
		tp:         tp,
		mp:         mp,
		counters:   make(map[string]otelmetric.Float64Counter),
		histograms: make(map[string]otelmetric.Float64Histogram),
	}, nil
}

func newTraceExporter(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	if endpoint == "" {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
}

// StartSpan starts a span named name as a child of ctx, satisfying
// core.Telemetry.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	spanCtx, span := p.tracer.Start(ctx, name)
	return spanCtx, &otelSpan{span: span}
}

// RecordMetric records value under name, routing to a histogram
// instrument when the name suggests a duration/size distribution
// (containing "duration", "latency", "seconds", or "_ms") and to a
// counter otherwise, the same substring heuristic the teacher's
// telemetry package uses to avoid a second metric-kind parameter on
// every call site.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	if isDistributionMetric(name) {
		h := p.histogramFor(name)
		h.Record(context.Background(), value, otelmetric.WithAttributes(attrs...))
		return
	}

	c := p.counterFor(name)
	c.Add(context.Background(), value, otelmetric.WithAttributes(attrs...))
}

func isDistributionMetric(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"duration", "latency", "seconds", "_ms"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func (p *Provider) counterFor(name string) otelmetric.Float64Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c
	}
	c, _ := p.meter.Float64Counter(name)
	p.counters[name] = c
	return c
}

func (p *Provider) histogramFor(name string) otelmetric.Float64Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.histograms[name]; ok {
		return h
	}
	h, _ := p.meter.Float64Histogram(name)
	p.histograms[name] = h
	return h
}

// Shutdown flushes and closes both the trace and metric providers. Safe
// to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if shutErr := p.tp.Shutdown(ctx); shutErr != nil {
			err = shutErr
			return
		}
		err = p.mp.Shutdown(ctx)
	})
	return err
}

// otelSpan adapts an OpenTelemetry span to core.Span.
type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
