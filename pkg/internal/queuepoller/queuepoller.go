// Package queuepoller reads jobs from a remote queue and hands them to a
// local job queue, deleting each job once handled and releasing it for retry
// when handling fails.
package queuepoller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/internal/jobqueue"
	logging "github.com/ipfs/go-log/v2"
)

const (
	defaultJobBatchSize = 10
	defaultConcurrency  = 4

	maxJobBatchSize      = 10
	maxJobProcessingTime = 5 * time.Minute
	readErrorBackoff     = 5 * time.Second
)

type (
	QueueReader[Job any] interface {
		Read(ctx context.Context, maxJobs int) ([]Job, error)
	}

	QueueReleaser interface {
		Release(ctx context.Context, jobID string) error
	}

	QueueDeleter interface {
		Delete(ctx context.Context, jobID string) error
	}

	Queue[Job any] interface {
		QueueReader[Job]
		QueueReleaser
		QueueDeleter
	}

	// JobHandler handles a single job read from the queue
	JobHandler[Job any] func(ctx context.Context, job Job) error

	// JobIdentifier returns the id the queue uses to release or delete a job
	JobIdentifier[Job any] func(job Job) string
)

var log = logging.Logger("queuepoller")

type config struct {
	jobBatchSize int
	concurrency  int
}

// Option configures the QueuePoller
type Option func(*config)

// WithJobBatchSize sets the maximum number of jobs read at once
func WithJobBatchSize(size int) Option {
	return func(cfg *config) {
		cfg.jobBatchSize = size
	}
}

// WithConcurrency sets the number of jobs handled in parallel
func WithConcurrency(concurrency int) Option {
	return func(cfg *config) {
		cfg.concurrency = concurrency
	}
}

// QueuePoller polls a queue for jobs and processes them
// using the provided JobHandler.
type QueuePoller[Job any] struct {
	queue        Queue[Job]
	jq           *jobqueue.JobQueue[Job]
	jobBatchSize int
	ctx          context.Context
	cancel       context.CancelFunc
	stopped      chan struct{}
	startOnce    sync.Once
	stopOnce     sync.Once
}

// NewQueuePoller creates a new QueuePoller instance.
func NewQueuePoller[Job any](queue Queue[Job], handler JobHandler[Job], identifier JobIdentifier[Job], opts ...Option) (*QueuePoller[Job], error) {
	cfg := &config{
		jobBatchSize: defaultJobBatchSize,
		concurrency:  defaultConcurrency,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.jobBatchSize < 1 || cfg.jobBatchSize > maxJobBatchSize {
		return nil, fmt.Errorf("job batch size %d must be between 1 and %d", cfg.jobBatchSize, maxJobBatchSize)
	}

	jq := jobqueue.NewJobQueue(
		jobHandler(queue, handler, identifier),
		jobqueue.WithConcurrency(cfg.concurrency),
		jobqueue.WithErrorHandler(func(err error) {
			log.Errorw("handling queued job", "error", err)
		}))

	return &QueuePoller[Job]{
		queue:        queue,
		jq:           jq,
		jobBatchSize: cfg.jobBatchSize,
		stopped:      make(chan struct{}),
	}, nil
}

// Start begins polling the queue in the background.
func (p *QueuePoller[Job]) Start() {
	p.startOnce.Do(func() {
		p.ctx, p.cancel = context.WithCancel(context.Background())
		p.jq.Startup()
		log.Info("Starting queue poller")

		go func() {
			defer close(p.stopped)
			for {
				select {
				case <-p.ctx.Done():
					log.Info("Stopping polling loop")
					return
				default:
					p.processJobs(p.ctx)
				}
			}
		}()
	})
}

// Stop stops the polling loop and waits for queued jobs to finish or for ctx
// to cancel.
func (p *QueuePoller[Job]) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel == nil {
			return
		}
		p.cancel()
		<-p.stopped
		err = p.jq.Shutdown(ctx)
	})
	return err
}

// Stats returns the number of handled and failed jobs.
func (p *QueuePoller[Job]) Stats() jobqueue.Stats {
	return p.jq.Stats()
}

// processJobs reads one batch of jobs and queues them in the job queue
func (p *QueuePoller[Job]) processJobs(ctx context.Context) {
	jobs, err := p.queue.Read(ctx, p.jobBatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Errorf("Error reading jobs from queue: %v", err)
		select {
		case <-ctx.Done():
		case <-time.After(readErrorBackoff):
		}
		return
	}

	for _, job := range jobs {
		if err := p.jq.Queue(ctx, job); err != nil {
			log.Errorf("Error queuing job: %v", err)
		}
	}
}

func jobHandler[Job any](queue Queue[Job], handler JobHandler[Job], identifier JobIdentifier[Job]) jobqueue.Handler[Job] {
	return func(ctx context.Context, job Job) error {
		jobCtx, cancel := context.WithTimeout(ctx, maxJobProcessingTime)
		defer cancel()

		err := handler(jobCtx, job)
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			// make the job visible again so that it can be retried
			if err := queue.Release(ctx, identifier(job)); err != nil {
				log.Warnf("Failed to release job %s: %s", identifier(job), err)
			}
			return fmt.Errorf("failed to perform job %s: %w", identifier(job), err)
		}

		// a job that timed out once is not retried
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warnf("Not retrying job %s: %s", identifier(job), err)
		}

		if err := queue.Delete(ctx, identifier(job)); err != nil {
			return fmt.Errorf("failed to delete job %s: %w", identifier(job), err)
		}
		return nil
	}
}
