package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	lambdadetector "go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-lambda-go/otellambda"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "image-labelling"

// SetupTelemetry configures the OpenTelemetry SDK by setting up a global tracer provider.
// It also adds instrumentation middleware to the config so that all AWS SDK clients based on that config are instrumented.
// This function updates the configuration in place. It should be called before any AWS SDK clients are created.
func SetupTelemetry(ctx context.Context, cfg *aws.Config) (*trace.TracerProvider, func(context.Context), error) {
	// traces go to the collector layer running inside the lambda environment
	exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}

	res, err := lambdadetector.NewResourceDetector().Detect(ctx)
	if err != nil {
		return nil, nil, err
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exp),
		trace.WithResource(res),
	)
	setGlobals(tp)

	otelaws.AppendMiddlewares(&cfg.APIOptions)

	return tp, shutdownFunc(tp), nil
}

// SetupLocalTelemetry installs a tracer provider for the CLI and local server.
// Spans are exported over OTLP/HTTP when OTEL_EXPORTER_OTLP_ENDPOINT is set and
// dropped otherwise.
func SetupLocalTelemetry(ctx context.Context) (func(context.Context), error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}
	opts := []trace.TracerProviderOption{trace.WithResource(res)}
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		exp, err := otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trace.WithBatcher(exp))
	}
	tp := trace.NewTracerProvider(opts...)
	setGlobals(tp)
	return shutdownFunc(tp), nil
}

func setGlobals(tp *trace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

func shutdownFunc(tp *trace.TracerProvider) func(context.Context) {
	return func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "error shutting down tracer provider: %v\n", err)
		}
	}
}

// GetInstrumentedLambdaHandler wraps a lambda handler so every invocation is
// traced and spans are flushed before the invocation returns.
func GetInstrumentedLambdaHandler(tp *trace.TracerProvider, handler any) any {
	return otellambda.InstrumentHandler(
		handler,
		otellambda.WithTracerProvider(tp),
		otellambda.WithFlusher(tp),
	)
}

// GetInstrumentedHTTPHandler traces every request served by the handler.
func GetInstrumentedHTTPHandler(handler http.Handler, operation string) http.Handler {
	return otelhttp.NewHandler(handler, operation)
}

func GetInstrumentedHTTPClient() *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Dial: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).Dial,
		TLSHandshakeTimeout: 5 * time.Second,
	}

	return &http.Client{
		Transport: otelhttp.NewTransport(transport),
	}
}

func GetInstrumentedRedisClient(opts *redis.Options) *redis.Client {
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		fmt.Fprintf(os.Stderr, "error instrumenting redis client: %v\n", err)
	}
	return client
}
