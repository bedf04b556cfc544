package main

import (
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
	"github.com/urfave/cli/v2"
)

var suggestionsCmd = &cli.Command{
	Name:  "suggestions",
	Usage: "manage the prefix suggestion table",
	Subcommands: []*cli.Command{
		{
			Name:  "rebuild",
			Usage: "recompute the prefix suggestions from the label counts in AWS",
			Action: func(cCtx *cli.Context) error {
				service, err := aws.Construct(aws.FromEnv(cCtx.Context))
				if err != nil {
					return err
				}
				report, err := service.Builder.Rebuild(cCtx.Context)
				if err != nil {
					return err
				}
				log.Infof("rebuilt suggestions for %d labels: %d prefixes written, %d deleted in %s", report.Labels, report.Written, report.Deleted, report.Duration)
				return nil
			},
		},
	},
}

var countsCmd = &cli.Command{
	Name:  "counts",
	Usage: "manage the label count table",
	Subcommands: []*cli.Command{
		{
			Name:  "rebuild",
			Usage: "recompute every label count from the label records in AWS",
			Action: func(cCtx *cli.Context) error {
				cfg := aws.FromEnv(cCtx.Context)
				dynamo := aws.NewDynamoClient(cfg.Config)
				report, err := ingestion.Recount(
					cCtx.Context,
					aws.NewDynamoLabelsTable(dynamo, cfg.LabelsTableName, cfg.LabelsIndexName),
					aws.NewDynamoLabelCountsTable(dynamo, cfg.LabelCountsTableName),
				)
				if err != nil {
					return err
				}
				log.Infof("recounted %d labels: %d updated, %d deleted", report.Labels, report.Updated, report.Deleted)
				return nil
			},
		},
	},
}
