// Package jobqueue runs jobs on a fixed pool of workers behind a bounded
// buffer.
package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQueueShutdown means the queue is shutdown so the job could not be queued
var ErrQueueShutdown = errors.New("queue is shutdown")

type (
	// Option modifies the config of a JobQueue
	Option func(*config)

	// Handler handles jobs of the given type
	Handler[Job any] func(ctx context.Context, j Job) error

	// JobQueue processes queued jobs in parallel with its handler.
	JobQueue[Job any] struct {
		*config
		handler    Handler[Job]
		onJobError func(Job, error)
		incoming   chan quitOrJob
		closed     chan struct{}
		closing    chan struct{}
		processed  atomic.Int64
		failed     atomic.Int64
	}

	config struct {
		jobTimeout      time.Duration
		shutdownTimeout time.Duration
		errorHandler    func(error)
		buffer          int
		concurrency     int
	}

	quitOrJob interface {
		isQuitOrJob()
	}

	job[Job any] struct {
		j Job
	}
	quit struct{}
)

// Stats counts the jobs handled so far.
type Stats struct {
	Processed int64
	Failed    int64
}

// WithBuffer lets up to buffer jobs wait while every worker is busy
func WithBuffer(buffer int) Option {
	return func(c *config) {
		c.buffer = buffer
	}
}

// WithConcurrency sets the number of workers
func WithConcurrency(concurrency int) Option {
	return func(c *config) {
		c.concurrency = concurrency
	}
}

// WithErrorHandler is called with the error of every failed job
func WithErrorHandler(errorHandler func(error)) Option {
	return func(c *config) {
		c.errorHandler = errorHandler
	}
}

// WithJobTimeout cancels the context passed to the handler after the timeout
func WithJobTimeout(jobTimeout time.Duration) Option {
	return func(c *config) {
		c.jobTimeout = jobTimeout
	}
}

// WithShutdownTimeout cancels the context of running jobs once the queue has
// been shutting down for the timeout.
func WithShutdownTimeout(shutdownTimeout time.Duration) Option {
	return func(c *config) {
		c.shutdownTimeout = shutdownTimeout
	}
}

// NewJobQueue returns a new job queue that processes with the given handler
func NewJobQueue[Job any](handler Handler[Job], opts ...Option) *JobQueue[Job] {
	c := &config{
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return &JobQueue[Job]{
		config:   c,
		handler:  handler,
		incoming: make(chan quitOrJob),
		closing:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

// OnJobError is like [WithErrorHandler] but also receives the failed job. It
// must be set before Startup.
func (p *JobQueue[Job]) OnJobError(fn func(Job, error)) {
	p.onJobError = fn
}

// Queue blocks until the job is accepted. It fails if the queue is shutdown or
// the context cancels first.
func (p *JobQueue[Job]) Queue(ctx context.Context, j Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.closing:
		return ErrQueueShutdown
	case p.incoming <- job[Job]{j}:
		return nil
	}
}

// Startup starts the queue in the background (returns immediately)
func (p *JobQueue[Job]) Startup() {
	go p.run()
}

// Shutdown stops accepting jobs and returns once every accepted job has been
// handled, or when the context cancels.
func (p *JobQueue[Job]) Shutdown(ctx context.Context) error {
	close(p.closing)
	// incoming is never closed, a concurrent Queue call would panic
	p.incoming <- quit{}
	select {
	case <-p.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the number of handled and failed jobs.
func (p *JobQueue[Job]) Stats() Stats {
	return Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
}

func (p *JobQueue[Job]) run() {
	defer close(p.closed)
	outgoing := make(chan Job, p.buffer)

	// cancelled to cut running jobs short after the shutdown timeout
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for range p.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range outgoing {
				p.handleJob(ctx, j)
			}
		}()
	}

	for queued := range p.incoming {
		switch typed := queued.(type) {
		case job[Job]:
			outgoing <- typed.j
		case quit:
			// quit is the last message, workers drain what is buffered
			close(outgoing)
			if p.shutdownTimeout != 0 {
				timer := time.AfterFunc(p.shutdownTimeout, cancel)
				defer timer.Stop()
			}
			wg.Wait()
			return
		}
	}
}

func (p *JobQueue[Job]) jobCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.jobTimeout != 0 {
		return context.WithTimeout(ctx, p.jobTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *JobQueue[Job]) handleJob(ctx context.Context, j Job) {
	ctx, cancel := p.jobCtx(ctx)
	defer cancel()
	err := p.handler(ctx, j)
	p.processed.Add(1)
	if err == nil {
		return
	}
	p.failed.Add(1)
	if p.errorHandler != nil {
		p.errorHandler(err)
	}
	if p.onJobError != nil {
		p.onJobError(j, err)
	}
}

func (job[Job]) isQuitOrJob() {}
func (quit) isQuitOrJob()     {}
