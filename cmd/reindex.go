package main

import (
	"fmt"

	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/urfave/cli/v2"
)

var reindexCmd = &cli.Command{
	Name:      "reindex",
	ArgsUsage: "[image...]",
	Usage:     "label every uploaded image again, reconciling stored labels and counts",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Value:   4,
			Usage:   "number of images labelled in parallel when running locally",
		},
		&cli.StringFlag{
			Name:    "queue-url",
			Aliases: []string{"q"},
			EnvVars: []string{"INGEST_QUEUE_URL"},
			Usage:   "SQS queue consumed by the queue ingestion lambda. When set, images are queued instead of labelled locally.",
		},
	},
	Action: func(cCtx *cli.Context) error {
		cfg := aws.FromEnv(cCtx.Context)
		service, err := aws.Construct(cfg)
		if err != nil {
			return err
		}

		// named images only, or everything under the uploads prefix
		names := cCtx.Args().Slice()
		if len(names) == 0 {
			names, err = aws.NewS3ImageStore(cfg.Config, cfg.ImagesBucket).List(cCtx.Context)
			if err != nil {
				return fmt.Errorf("listing images: %w", err)
			}
		}

		if queueURL := cCtx.String("queue-url"); queueURL != "" {
			if err := aws.NewSQSIngestQueue(cfg.Config, queueURL, cfg.ImagesBucket).Queue(cCtx.Context, names...); err != nil {
				return err
			}
			log.Infof("queued %d images for labelling", len(names))
			return nil
		}

		report, err := service.Ingestor.ProcessAll(cCtx.Context, names, cCtx.Int("concurrency"))
		if err != nil {
			return err
		}
		log.Infof("labelled %d images in %s, %d failed", report.Processed-len(report.Failed), report.Duration, len(report.Failed))
		if len(report.Failed) > 0 {
			return fmt.Errorf("failed to label %d images: %v", len(report.Failed), report.Failed)
		}
		return nil
	},
}
