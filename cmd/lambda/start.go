// Package lambda holds the entry point shared by every lambda function.
package lambda

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/construct"
	"github.com/blue-mimo/image-labelling/pkg/server"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
)

// handlerFactory is a factory function that returns a function suitable to use as a lambda handler. See
// https://docs.aws.amazon.com/lambda/latest/dg/golang-handler.html#golang-handler-signatures for information on the
// valid signatures a handler function can have to be used as a lambda handler.
type handlerFactory func(cfg aws.Config) any

// Start starts the lambda with the handler obtained from the factory function.
// The handler is instrumented with OpenTelemetry if a Honeycomb API key is
// provided, and errors are reported to Sentry if a DSN is configured.
func Start(makeHandler handlerFactory) {
	ctx := context.Background()
	cfg := aws.FromEnv(ctx)

	flush, err := telemetry.InitSentry(cfg.Sentry)
	if err != nil {
		panic(err)
	}
	defer flush()

	// an empty API key disables instrumentation
	if cfg.HoneycombAPIKey != "" {
		tp, telemetryShutdown, err := telemetry.SetupTelemetry(ctx, &cfg.Config)
		if err != nil {
			panic(err)
		}
		defer telemetryShutdown(ctx)

		handler := telemetry.GetInstrumentedLambdaHandler(tp, makeHandler(cfg))
		lambda.StartWithOptions(handler, lambda.WithContext(ctx))
	} else {
		lambda.StartWithOptions(makeHandler(cfg), lambda.WithContext(ctx))
	}
}

// StartHTTP starts an API Gateway (HTTP API) lambda serving the handler built
// from the constructed service.
func StartHTTP(makeHandler func(cfg aws.Config, service *construct.Service) http.Handler) {
	Start(func(cfg aws.Config) any {
		service := MustConstruct(cfg)
		return httpadapter.NewV2(server.Middleware(makeHandler(cfg, service))).ProxyWithContext
	})
}

// MustConstruct builds the service from AWS deps or panics.
func MustConstruct(cfg aws.Config) *construct.Service {
	service, err := aws.Construct(cfg)
	if err != nil {
		panic(err)
	}
	return service
}
