package main

import (
	"context"

	"github.com/aws/aws-lambda-go/events"
	"github.com/blue-mimo/image-labelling/cmd/lambda"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
)

var log = telemetry.NewSentryLogger("lambda/updatesuggestions")

func main() {
	lambda.Start(makeHandler)
}

func makeHandler(cfg aws.Config) any {
	service := lambda.MustConstruct(cfg)

	return func(ctx context.Context, event events.EventBridgeEvent) error {
		report, err := service.Builder.Rebuild(ctx)
		if err != nil {
			log.Errorw("rebuilding prefix suggestions", "error", err)
			return err
		}
		log.Infow("rebuilt prefix suggestions", "labels", report.Labels, "written", report.Written, "deleted", report.Deleted, "duration", report.Duration)
		return nil
	}
}
