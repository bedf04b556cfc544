package main

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/construct"
	isredis "github.com/blue-mimo/image-labelling/pkg/redis"
	"github.com/blue-mimo/image-labelling/pkg/server"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
)

var portFlag = &cli.IntFlag{
	Name:    "port",
	Aliases: []string{"p"},
	Value:   9000,
	EnvVars: []string{"PORT"},
	Usage:   "port to bind the server to",
}

var serverCmd = &cli.Command{
	Name:  "server",
	Usage: "HTTP server interface to the image labelling service",
	Subcommands: []*cli.Command{
		{
			Name:  "start",
			Usage: "start a local server, labelling uploads in process with Rekognition",
			Flags: []cli.Flag{
				portFlag,
				&cli.StringFlag{
					Name:    "data-path",
					Aliases: []string{"d"},
					EnvVars: []string{"DATA_PATH"},
					Usage:   "directory to keep images, labels and suggestions in. Kept in memory when unset.",
				},
				&cli.StringFlag{
					Name:    "redis-url",
					Aliases: []string{"redis"},
					EnvVars: []string{"REDIS_URL"},
					Usage:   "address of a redis server to cache suggestion lookups in",
				},
				&cli.StringFlag{
					Name:    "redis-passwd",
					Aliases: []string{"rp"},
					EnvVars: []string{"REDIS_PASSWD"},
					Usage:   "passwd for redis",
				},
				&cli.IntFlag{
					Name:  "ingest-concurrency",
					Value: 4,
					Usage: "number of images labelled in parallel",
				},
				&cli.BoolFlag{
					Name:  "no-detector",
					Usage: "do not label uploads",
				},
				&cli.DurationFlag{
					Name:  "suggestions-interval",
					Value: construct.DefaultSuggestionsCacheTTL,
					Usage: "how often the prefix suggestions are rebuilt from the label counts",
				},
			},
			Action: func(cCtx *cli.Context) error {
				shutdownTelemetry, err := telemetry.SetupLocalTelemetry(cCtx.Context)
				if err != nil {
					return fmt.Errorf("setting up telemetry: %w", err)
				}
				defer shutdownTelemetry(cCtx.Context)

				var opts []construct.Option
				if cCtx.String("data-path") != "" {
					opts = append(opts, construct.WithDataPath(cCtx.String("data-path")))
				}
				if cCtx.String("redis-url") != "" {
					opts = append(opts, construct.WithSuggestionsClient(telemetry.GetInstrumentedRedisClient(&redis.Options{
						Addr:     cCtx.String("redis-url"),
						Password: cCtx.String("redis-passwd"),
					})))
				} else {
					opts = append(opts, construct.WithSuggestionsClient(isredis.NewMapStore()))
				}
				opts = append(opts, construct.WithSuggestionsRebuildInterval(cCtx.Duration("suggestions-interval")))
				if !cCtx.Bool("no-detector") {
					awsConfig, err := config.LoadDefaultConfig(cCtx.Context)
					if err != nil {
						return fmt.Errorf("loading aws config: %w", err)
					}
					opts = append(opts, construct.WithDetectorFactory(func(images types.ImageStore) types.LabelDetector {
						return aws.NewRekognitionDetector(awsConfig, aws.WithImageSource(images))
					}))
					opts = append(opts, construct.WithIngestOnUpload(cCtx.Int("ingest-concurrency")))
				}

				service, err := construct.Construct(construct.DefaultServiceConfig(), opts...)
				if err != nil {
					return err
				}
				return serve(cCtx, service)
			},
		},
		{
			Name:  "aws",
			Usage: "start a server backed by the AWS resources named in the environment",
			Flags: []cli.Flag{portFlag},
			Action: func(cCtx *cli.Context) error {
				cfg := aws.FromEnv(cCtx.Context)
				flush, err := telemetry.InitSentry(cfg.Sentry)
				if err != nil {
					return err
				}
				defer flush()
				// an empty API key disables instrumentation
				if cfg.HoneycombAPIKey != "" {
					_, telemetryShutdown, err := telemetry.SetupTelemetry(cCtx.Context, &cfg.Config)
					if err != nil {
						return fmt.Errorf("setting up telemetry: %w", err)
					}
					defer telemetryShutdown(cCtx.Context)
				}

				service, err := aws.Construct(cfg)
				if err != nil {
					return err
				}
				return serve(cCtx, service, server.WithMaxUploadBytes(cfg.MaxUploadBytes))
			},
		},
	},
}

func serve(cCtx *cli.Context, service *construct.Service, opts ...server.Option) error {
	addr := fmt.Sprintf(":%d", cCtx.Int("port"))
	if err := service.Startup(cCtx.Context); err != nil {
		return err
	}
	defer func() {
		if err := service.Shutdown(cCtx.Context); err != nil {
			log.Errorf("shutting down service: %s", err)
		}
	}()
	return server.ListenAndServe(addr, service.Catalog, service.Lookup, opts...)
}
