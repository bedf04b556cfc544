package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	"github.com/google/uuid"
)

const (
	// maximum number of entries SQS accepts in one SendMessageBatch
	sendBatchLimit = 10
	// long poll time for ReceiveMessage
	receiveWaitSeconds = 20
)

// SQSAPIClient is the subset of the SQS client used to queue and consume
// ingestion jobs
type SQSAPIClient interface {
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// IngestMessage is an ingestion job received from the queue.
type IngestMessage struct {
	ReceiptHandle string
	Body          string
}

// SQSIngestQueue queues images for ingestion by sending S3 object-created
// notifications to the queue consumed by the queue ingestion lambda. The
// messages have the same shape as those S3 itself delivers, so the queue can
// also be fed by bucket notifications directly.
type SQSIngestQueue struct {
	queueURL  string
	bucket    string
	sqsClient SQSAPIClient
}

// NewSQSIngestQueue returns a new SQSIngestQueue for the given aws config
func NewSQSIngestQueue(cfg aws.Config, queueURL string, bucket string) *SQSIngestQueue {
	return NewSQSIngestQueueWithClient(sqs.NewFromConfig(cfg), queueURL, bucket)
}

// NewSQSIngestQueueWithClient returns a new SQSIngestQueue using the client
func NewSQSIngestQueueWithClient(client SQSAPIClient, queueURL string, bucket string) *SQSIngestQueue {
	return &SQSIngestQueue{queueURL: queueURL, bucket: bucket, sqsClient: client}
}

// Queue sends one notification per image name.
func (s *SQSIngestQueue) Queue(ctx context.Context, names ...string) error {
	var errs []error
	for start := 0; start < len(names); start += sendBatchLimit {
		end := min(start+sendBatchLimit, len(names))
		entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, end-start)
		for _, name := range names[start:end] {
			body, err := json.Marshal(objectCreatedEvent(s.bucket, imageutil.ObjectKey(name)))
			if err != nil {
				return fmt.Errorf("serializing notification for %s: %w", name, err)
			}
			entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
				Id:          aws.String(uuid.NewString()),
				MessageBody: aws.String(string(body)),
			})
		}
		out, err := s.sqsClient.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(s.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("sending ingestion messages: %w", err)
		}
		for _, f := range out.Failed {
			errs = append(errs, fmt.Errorf("sending ingestion message %s: %s", aws.ToString(f.Id), aws.ToString(f.Message)))
		}
	}
	return errors.Join(errs...)
}

// Read receives up to maxJobs messages, waiting up to the long poll time
// when the queue is empty.
func (s *SQSIngestQueue) Read(ctx context.Context, maxJobs int) ([]IngestMessage, error) {
	out, err := s.sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(maxJobs),
		WaitTimeSeconds:     receiveWaitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving ingestion messages: %w", err)
	}
	msgs := make([]IngestMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, IngestMessage{
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
		})
	}
	return msgs, nil
}

// Release makes a received message visible again.
func (s *SQSIngestQueue) Release(ctx context.Context, receiptHandle string) error {
	_, err := s.sqsClient.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("releasing ingestion message: %w", err)
	}
	return nil
}

// Delete removes a received message from the queue.
func (s *SQSIngestQueue) Delete(ctx context.Context, receiptHandle string) error {
	_, err := s.sqsClient.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("deleting ingestion message: %w", err)
	}
	return nil
}

func objectCreatedEvent(bucket, key string) events.S3Event {
	return events.S3Event{
		Records: []events.S3EventRecord{{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			EventName:    "ObjectCreated:Put",
			S3: events.S3Entity{
				Bucket: events.S3Bucket{Name: bucket},
				Object: events.S3Object{Key: url.QueryEscape(key)},
			},
		}},
	}
}

// ObjectRef names an object in a bucket.
type ObjectRef struct {
	Bucket string
	Key    string
}

// ObjectsFromS3Event returns the decoded bucket and key of every record in an
// S3 event notification. S3 encodes keys like form values, with spaces as '+'.
func ObjectsFromS3Event(event events.S3Event) ([]ObjectRef, error) {
	refs := make([]ObjectRef, 0, len(event.Records))
	for _, r := range event.Records {
		key, err := url.QueryUnescape(r.S3.Object.Key)
		if err != nil {
			return nil, fmt.Errorf("decoding object key %q: %w", r.S3.Object.Key, err)
		}
		refs = append(refs, ObjectRef{Bucket: r.S3.Bucket.Name, Key: key})
	}
	return refs, nil
}

// ObjectsFromMessage parses an SQS message body holding an S3 event
// notification. S3 test events carry no records and yield none.
func ObjectsFromMessage(body string) ([]ObjectRef, error) {
	var event events.S3Event
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		return nil, fmt.Errorf("parsing S3 notification: %w", err)
	}
	return ObjectsFromS3Event(event)
}
