// Package tracing provides OpenTelemetry span helpers for a call's lifecycle
// (used by the daemonkit facade's Daemon.Call) and for scheduler ticks
// (StartTick, which the scheduler loop does not call). Grounded on tombee-conductor's
// internal/tracing package: a TracerProvider constructor that attaches a
// resource carrying the service name (otel.go's NewOTelProvider) and a
// stdouttrace-backed SpanExporter for development/debugging use
// (export/console.go's NewConsoleExporter) — trimmed to the two exporters
// this pack's go.mod actually vendors (go.opentelemetry.io/otel/sdk and
// .../exporters/stdout/stdouttrace); the source's OTLP-HTTP and Prometheus
// metric exporters have no home here since nothing in this dependency set
// wires an OTLP collector endpoint or the otel Prometheus bridge
// specifically (statsexport already covers Prometheus via
// prometheus/client_golang directly).
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// InstanceID is a process-lifetime-unique identifier generated once at
// startup via google/uuid, attached to every span this package emits so
// traces from concurrently running daemon instances (or a daemon across an
// auto-restart) are distinguishable.
var InstanceID = uuid.NewString()

// Provider wraps an SDK TracerProvider plus the exporter it owns, so
// Shutdown can flush and close both in one call from the daemon's shutdown
// path.
type Provider struct {
	tp     *sdktrace.TracerProvider
	Tracer trace.Tracer
}

// Config selects the exporter and the resource attributes attached to
// every span.
type Config struct {
	ServiceName string
	Writer      io.Writer // console exporter destination; defaults to os.Stdout
	PrettyPrint bool
}

// New builds a Provider writing spans to cfg.Writer (or stdout) via
// stdouttrace, and installs it as the global TracerProvider so any
// otel.Tracer(...) call elsewhere in the process picks it up too.
func New(cfg Config) (*Provider, error) {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	var opts []stdouttrace.Option
	opts = append(opts, stdouttrace.WithWriter(writer))
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: new exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("daemonkit.instance_id", InstanceID),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: merge resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, Tracer: tp.Tracer("github.com/loykin/daemonkit")}, nil
}

// Shutdown flushes and closes the underlying exporter. Safe to call on a
// nil Provider (a daemon that never enabled tracing).
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// StartCall opens a span for one mediator call, tagged with the worker
// alias, method, and call id — closed by EndCall once the promise settles.
func (p *Provider) StartCall(ctx context.Context, alias, method string, callID int64) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.Tracer.Start(ctx, "mediator.call",
		trace.WithAttributes(
			attribute.String("daemonkit.alias", alias),
			attribute.String("daemonkit.method", method),
			attribute.Int64("daemonkit.call_id", callID),
		),
	)
}

// EndCall closes span, recording err as the span's status when non-nil.
func EndCall(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// StartTick opens a span for one scheduler main-loop iteration.
func (p *Provider) StartTick(ctx context.Context, iteration int64) (context.Context, trace.Span) {
	if p == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return p.Tracer.Start(ctx, "scheduler.tick",
		trace.WithAttributes(attribute.Int64("daemonkit.iteration", iteration)),
	)
}
