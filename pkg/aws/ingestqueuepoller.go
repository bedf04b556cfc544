package aws

import (
	"context"
	"errors"

	"github.com/blue-mimo/image-labelling/pkg/internal/queuepoller"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
)

// IngestQueuePoller consumes the ingestion queue outside of lambda, labelling
// the images named by each message.
type IngestQueuePoller = queuepoller.QueuePoller[IngestMessage]

// NewIngestQueuePoller returns a poller that ingests every object referenced
// by messages read from the queue. A message is deleted once all its objects
// are ingested and released for retry otherwise.
func NewIngestQueuePoller(queue *SQSIngestQueue, ingestor *ingestion.Ingestor, concurrency int) (*IngestQueuePoller, error) {
	return queuepoller.NewQueuePoller(
		queue,
		ingestMessageHandler(ingestor),
		func(m IngestMessage) string { return m.ReceiptHandle },
		queuepoller.WithConcurrency(concurrency),
	)
}

func ingestMessageHandler(ingestor *ingestion.Ingestor) queuepoller.JobHandler[IngestMessage] {
	return func(ctx context.Context, m IngestMessage) error {
		refs, err := ObjectsFromMessage(m.Body)
		if err != nil {
			// unparseable messages are dropped, not retried
			log.Errorw("dropping unreadable ingestion message", "error", err)
			return nil
		}
		var errs []error
		for _, ref := range refs {
			res, err := ingestor.ProcessObject(ctx, ref.Bucket, ref.Key)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !res.Skipped {
				log.Infow("labelled image", "image", res.Image, "labels", len(res.Labels))
			}
		}
		return errors.Join(errs...)
	}
}
