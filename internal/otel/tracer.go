// Package otel wires OpenTelemetry tracing and metrics into the agent.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ExporterType names where spans and metrics are shipped.
type ExporterType string

const (
	ExporterNone     ExporterType = "none"
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp-grpc"
	ExporterOTLPHTTP ExporterType = "otlp-http"
)

// Config selects the span exporter and identifies the agent on its spans.
type Config struct {
	Enabled        bool
	ServiceVersion string
	ExporterType   ExporterType

	// OTLPEndpoint is host:port of the collector, e.g. "localhost:4317".
	OTLPEndpoint string
	OTLPInsecure bool

	// SampleRate is the fraction of dispatch cycles traced. A sampled parent
	// carried in by traceparent is always followed.
	SampleRate float64

	AgentID string
	Port    string
}

// DefaultConfig returns a configuration with tracing disabled.
func DefaultConfig() *Config {
	return &Config{ExporterType: ExporterNone, SampleRate: 1}
}

// Tracer starts the spans of dispatch cycles and API submissions.
type Tracer struct {
	provider trace.TracerProvider
	tracer   trace.Tracer
	shutdown func(context.Context) error
	enabled  bool
}

// NewTracer builds a tracer shipping spans through cfg.ExporterType. A nil or
// disabled config yields NoopTracer.
func NewTracer(ctx context.Context, cfg *Config) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled || cfg.ExporterType == ExporterNone {
		return NoopTracer(), nil
	}

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("span exporter %q: %w", cfg.ExporterType, err)
	}
	return newSDKTracer(cfg, sdktrace.WithBatcher(exporter))
}

func newSDKTracer(cfg *Config, opts ...sdktrace.TracerProviderOption) (*Tracer, error) {
	res, err := agentResource(cfg.ServiceVersion, cfg.AgentID, cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	opts = append(opts,
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	tp := sdktrace.NewTracerProvider(opts...)

	return &Tracer{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName),
		shutdown: tp.Shutdown,
		enabled:  true,
	}, nil
}

func newSpanExporter(ctx context.Context, cfg *Config) (sdktrace.SpanExporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, errors.New("unsupported exporter")
	}
}

// NoopTracer returns a tracer whose spans record nothing.
func NoopTracer() *Tracer {
	tp := noop.NewTracerProvider()
	return &Tracer{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName),
		shutdown: func(context.Context) error { return nil },
	}
}

// Enabled reports whether spans are exported.
func (t *Tracer) Enabled() bool {
	return t.enabled
}

// Shutdown flushes pending spans.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}

// SetGlobalTracer installs t as the process-wide tracer provider and W3C
// trace context as the propagator.
func SetGlobalTracer(t *Tracer) {
	if t == nil || !t.enabled {
		return
	}
	otel.SetTracerProvider(t.provider)
	otel.SetTextMapPropagator(propagator)
}

// CycleSpanOptions describes one dispatch cycle of the agent.
type CycleSpanOptions struct {
	CycleID string
	Command string
	Code    int
	EUI     string
}

// StartCycleSpan starts the root span of a dispatch cycle.
func (t *Tracer) StartCycleSpan(ctx context.Context, opts CycleSpanOptions) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		AttrCycleID.String(opts.CycleID),
		AttrCommand.String(opts.Command),
		AttrCommandCode.Int(opts.Code),
	}
	if opts.EUI != "" {
		attrs = append(attrs, AttrEUI.String(opts.EUI))
	}

	return t.tracer.Start(ctx, "serversnitch.cycle "+opts.Command,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartSubmitSpan starts the client span of one API submission.
func (t *Tracer) StartSubmitSpan(ctx context.Context, url, eui string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "serversnitch.api.submit",
		trace.WithAttributes(semconv.URLFull(url), AttrEUI.String(eui)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// ErrorKind classifies why a cycle or submission failed.
type ErrorKind string

const (
	// ErrorTransport is a device or network I/O failure.
	ErrorTransport ErrorKind = "transport"
	// ErrorRejected is an API answer other than "200 OK".
	ErrorRejected ErrorKind = "rejected"
)

// RecordError marks span failed with err.
func RecordError(span trace.Span, err error, kind ErrorKind) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, trace.WithAttributes(AttrErrorKind.String(string(kind))))
	span.SetAttributes(AttrErrorKind.String(string(kind)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordSubmitRetry notes on span that a submission is retried after backoff.
func RecordSubmitRetry(span trace.Span, attempt int, backoff time.Duration, cause error) {
	if span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Int("retry.attempt", attempt),
		attribute.Int64("retry.backoff_ms", backoff.Milliseconds()),
	}
	if cause != nil {
		attrs = append(attrs, attribute.String("retry.cause", cause.Error()))
	}
	span.AddEvent("submit.retry", trace.WithAttributes(attrs...))
}

// TraceID returns the trace id carried by ctx, or "" outside a span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
