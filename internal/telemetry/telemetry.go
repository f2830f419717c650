// Package telemetry provides OpenTelemetry integration for bountyd.
//
// Telemetry is disabled by default (zero runtime overhead when off). When
// enabled, spans and metrics go to stdout (dev mode) and/or an OTLP/HTTP
// endpoint.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationScope = "github.com/solbounty/bountyd"

// Options selects the exporters. Mirrors the telemetry section of the
// bountyd config file.
type Options struct {
	Enabled      bool
	Stdout       bool
	OTLPEndpoint string
}

var (
	shutdownFns []func(context.Context) error

	counterOnce   sync.Once
	eventCounter  metric.Int64Counter
	escrowCounter metric.Int64Counter
	claimCounter  metric.Int64Counter
)

// Init configures OTel providers. When opts.Enabled is false this installs
// no-op providers and returns immediately (zero overhead path).
func Init(ctx context.Context, opts Options, serviceName, version string) error {
	if !opts.Enabled {
		otel.SetTracerProvider(tracenoop.NewTracerProvider())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithHost(),
		resource.WithProcess(),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	tp, err := buildTraceProvider(res, opts)
	if err != nil {
		return fmt.Errorf("telemetry: trace provider: %w", err)
	}
	otel.SetTracerProvider(tp)
	shutdownFns = append(shutdownFns, tp.Shutdown)

	mp, err := buildMetricProvider(ctx, res, opts)
	if err != nil {
		return fmt.Errorf("telemetry: metric provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	shutdownFns = append(shutdownFns, mp.Shutdown)

	return nil
}

func buildTraceProvider(res *resource.Resource, opts Options) (*sdktrace.TracerProvider, error) {
	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	// Traces only go to stdout; OTLP export is metrics-only for now.
	// TODO: add otlptracehttp once the collector deployment settles.
	if opts.Stdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(providerOpts...), nil
}

func buildMetricProvider(ctx context.Context, res *resource.Resource, opts Options) (*sdkmetric.MeterProvider, error) {
	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if opts.Stdout {
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second)),
		))
	}

	if opts.OTLPEndpoint != "" {
		exp, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(opts.OTLPEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp metric exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(30*time.Second)),
		))
	}

	return sdkmetric.NewMeterProvider(providerOpts...), nil
}

// Tracer returns a tracer with the given instrumentation name (or the global scope).
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Tracer(name)
}

// Meter returns a meter with the given instrumentation name (or the global scope).
func Meter(name string) metric.Meter {
	if name == "" {
		name = instrumentationScope
	}
	return otel.Meter(name)
}

func counters() {
	counterOnce.Do(func() {
		m := Meter("")
		eventCounter, _ = m.Int64Counter("bountyd.webhook.events",
			metric.WithDescription("Webhook deliveries by outcome"))
		escrowCounter, _ = m.Int64Counter("bountyd.escrow.operations",
			metric.WithDescription("Escrow operations by kind and result"))
		claimCounter, _ = m.Int64Counter("bountyd.claims",
			metric.WithDescription("Claim attempts by validation result"))
	})
}

// CountEvent records a webhook delivery outcome
// ("received", "ignored", "signature_rejected").
func CountEvent(ctx context.Context, outcome string) {
	counters()
	eventCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// CountEscrow records an escrow operation ("create"/"release", "ok"/"error").
func CountEscrow(ctx context.Context, op, result string) {
	counters()
	escrowCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("result", result),
	))
}

// CountClaim records a claim validation result ("valid"/"rejected").
func CountClaim(ctx context.Context, result string) {
	counters()
	claimCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// Shutdown flushes all spans/metrics and shuts down OTel providers.
func Shutdown(ctx context.Context) {
	for _, fn := range shutdownFns {
		_ = fn(ctx)
	}
	shutdownFns = nil
}
