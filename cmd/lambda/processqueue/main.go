package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/blue-mimo/image-labelling/cmd/lambda"
	"github.com/blue-mimo/image-labelling/pkg/aws"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
)

var log = telemetry.NewSentryLogger("lambda/processqueue")

func main() {
	lambda.Start(makeHandler)
}

func makeHandler(cfg aws.Config) any {
	service := lambda.MustConstruct(cfg)

	// failed messages are reported individually so the rest of the batch is
	// not redelivered
	return func(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
		var (
			mu       sync.Mutex
			failures []events.SQSBatchItemFailure
			wg       sync.WaitGroup
		)
		for _, msg := range sqsEvent.Records {
			wg.Add(1)
			go func(msg events.SQSMessage) {
				defer wg.Done()
				if err := handleMessage(ctx, service.Ingestor, msg); err != nil {
					log.Errorw("processing message", "message", msg.MessageId, "error", err)
					mu.Lock()
					defer mu.Unlock()
					failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: msg.MessageId})
				}
			}(msg)
		}
		wg.Wait()
		return events.SQSEventResponse{BatchItemFailures: failures}, nil
	}
}

func handleMessage(ctx context.Context, ingestor *ingestion.Ingestor, msg events.SQSMessage) error {
	refs, err := aws.ObjectsFromMessage(msg.Body)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := ingestor.ProcessObject(ctx, ref.Bucket, ref.Key); err != nil {
			return fmt.Errorf("processing %s: %w", ref.Key, err)
		}
	}
	return nil
}
