package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/blue-mimo/image-labelling/cmd/lambda"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
)

var log = telemetry.NewSentryLogger("lambda/processimage")

func main() {
	lambda.Start(makeHandler)
}

func makeHandler(cfg aws.Config) any {
	service := lambda.MustConstruct(cfg)

	return func(ctx context.Context, event events.S3Event) error {
		refs, err := aws.ObjectsFromS3Event(event)
		if err != nil {
			log.Errorw("decoding S3 event", "error", err)
			return err
		}
		var errs []error
		for _, ref := range refs {
			res, err := service.Ingestor.ProcessObject(ctx, ref.Bucket, ref.Key)
			if err != nil {
				log.Errorw("processing object", "bucket", ref.Bucket, "key", ref.Key, "error", err)
				errs = append(errs, fmt.Errorf("processing %s: %w", ref.Key, err))
				continue
			}
			if !res.Skipped {
				log.Infow("processed image", "image", res.Image, "labels", len(res.Labels))
			}
		}
		return errors.Join(errs...)
	}
}
