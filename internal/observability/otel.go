// Package observability installs the OpenTelemetry tracer provider used by
// the HTTP middleware, the user service and the GORM plugin.
package observability

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-users-backend/internal/config"
	"github.com/tbourn/go-users-backend/internal/sysutil"
)

const (
	defaultServiceName = "go-users-backend"
	defaultVersion     = "dev"
)

// Shutdown flushes pending spans and stops the exporter.
type Shutdown func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Options describe the running process for the trace resource.
type Options struct {
	Version     string // service.version, "dev" when empty
	Environment string // deployment.environment, omitted when empty
}

// ---- test seams ----
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName string, opts Options) (*resource.Resource, error) {
		attrs := []resource.Option{
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceVersion(opts.Version),
			),
		}
		if opts.Environment != "" {
			attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(opts.Environment)))
		}
		return resource.New(ctx, attrs...)
	}
)

// SetupOTel configures tracing over OTLP/gRPC and returns its Shutdown.
//
// When tracing is disabled the globals are left untouched and Shutdown is a
// no-op. On error the globals are left untouched as well.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, opts Options) (Shutdown, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
	} else {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(clientOpts...))
	if err != nil {
		return nil, errors.Wrap(err, "otel: create exporter")
	}

	serviceName := sysutil.FirstNonEmpty(cfg.ServiceName, defaultServiceName)
	opts.Version = sysutil.FirstNonEmpty(opts.Version, defaultVersion)
	res, err := newServiceResourceFn(ctx, serviceName, opts)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, errors.Wrap(err, "otel: build resource")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

func clampRatio(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	}
	return r
}
