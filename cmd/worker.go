package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/urfave/cli/v2"
)

var workerCmd = &cli.Command{
	Name:  "worker",
	Usage: "label images by consuming the ingestion queue outside of lambda",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Value:   4,
			Usage:   "number of messages handled in parallel",
		},
		&cli.DurationFlag{
			Name:  "drain-timeout",
			Value: time.Minute,
			Usage: "how long to wait for in flight messages when stopping",
		},
	},
	Action: func(cCtx *cli.Context) error {
		cfg := aws.FromEnv(cCtx.Context)
		if cfg.IngestQueueURL == "" {
			return errors.New("INGEST_QUEUE_URL is not set")
		}
		service, err := aws.Construct(cfg)
		if err != nil {
			return err
		}

		queue := aws.NewSQSIngestQueue(cfg.Config, cfg.IngestQueueURL, cfg.ImagesBucket)
		poller, err := aws.NewIngestQueuePoller(queue, service.Ingestor, cCtx.Int("concurrency"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		poller.Start()
		log.Infof("consuming %s", cfg.IngestQueueURL)
		<-ctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), cCtx.Duration("drain-timeout"))
		defer cancel()
		err = poller.Stop(drainCtx)
		stats := poller.Stats()
		log.Infof("handled %d messages, %d failed", stats.Processed, stats.Failed)
		return err
	},
}
