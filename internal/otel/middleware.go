package otel

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// propagator carries W3C traceparent between the agent and the API.
var propagator propagation.TextMapPropagator = propagation.TraceContext{}

// Inject writes the trace context of ctx into outgoing headers. Disabled
// tracers leave h untouched.
func (t *Tracer) Inject(ctx context.Context, h http.Header) {
	if t == nil || !t.enabled {
		return
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
}

// Route wraps h with a server span named "<method> <route>" that continues
// the caller's trace, so a submission and its ingestion share one trace.
func Route(t *Tracer, route string, h http.Handler) http.Handler {
	if t == nil || !t.enabled {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := t.tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRoute(route),
				semconv.HTTPRequestMethodKey.String(r.Method),
			),
		)
		defer span.End()

		sw := &statusWriter{ResponseWriter: w}
		h.ServeHTTP(sw, r.WithContext(ctx))

		// Zero when the handler hijacked the connection.
		if sw.status != 0 {
			span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		}
		if sw.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
		}
	})
}

// AnnotateIngest tags the request span with the device of the record it
// carried.
func AnnotateIngest(ctx context.Context, eui string) {
	trace.SpanFromContext(ctx).SetAttributes(AttrEUI.String(eui))
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the hijacker underneath.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
