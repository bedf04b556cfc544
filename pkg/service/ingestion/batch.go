package ingestion

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/internal/jobqueue"
	"github.com/blue-mimo/image-labelling/pkg/types"
)

// BatchReport summarizes a run over many images.
type BatchReport struct {
	Processed int
	Failed    []string
	Duration  time.Duration
}

// ProcessAll ingests every named image on concurrency workers. Failures are
// logged and reported by name, a failed image does not stop the run.
func (i *Ingestor) ProcessAll(ctx context.Context, names []string, concurrency int) (BatchReport, error) {
	start := time.Now()
	var (
		mu     sync.Mutex
		failed []string
	)
	jq := jobqueue.NewJobQueue(
		func(ctx context.Context, name string) error {
			_, err := i.ProcessImage(ctx, name)
			return err
		},
		jobqueue.WithConcurrency(concurrency),
		jobqueue.WithBuffer(concurrency),
		jobqueue.WithJobTimeout(time.Minute),
	)
	jq.OnJobError(func(name string, err error) {
		log.Errorw("ingesting image", "image", name, "error", err)
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, name)
	})
	jq.Startup()

	var queueErr error
	for _, name := range names {
		if err := jq.Queue(ctx, name); err != nil {
			queueErr = fmt.Errorf("queueing %s: %w", name, err)
			break
		}
	}
	if err := jq.Shutdown(context.WithoutCancel(ctx)); err != nil {
		return BatchReport{}, errors.Join(queueErr, err)
	}

	slices.Sort(failed)
	stats := jq.Stats()
	return BatchReport{
		Processed: int(stats.Processed),
		Failed:    failed,
		Duration:  time.Since(start),
	}, queueErr
}

// RecountReport summarizes a recount of the label counts.
type RecountReport struct {
	Labels  int
	Updated int
	Deleted int
}

// Recount recomputes every label count from the label records. Counts that
// are already right are left alone, and counts for labels no image bears are
// deleted.
func Recount(ctx context.Context, labels types.LabelStore, counts types.LabelCountStore) (RecountReport, error) {
	want := map[string]int64{}
	for rec, err := range labels.All(ctx) {
		if err != nil {
			return RecountReport{}, fmt.Errorf("reading label records: %w", err)
		}
		want[rec.LabelName]++
	}

	existing, err := counts.All(ctx)
	if err != nil {
		return RecountReport{}, fmt.Errorf("reading label counts: %w", err)
	}
	have := make(map[string]int64, len(existing))
	for _, c := range existing {
		have[c.LabelName] = c.Count
	}

	report := RecountReport{Labels: len(want)}
	var errs []error
	for label, n := range want {
		if c, ok := have[label]; ok && c == n {
			continue
		}
		if err := counts.Put(ctx, types.LabelCount{LabelName: label, Count: n}); err != nil {
			errs = append(errs, fmt.Errorf("writing count for %s: %w", label, err))
			continue
		}
		report.Updated++
	}
	for label := range have {
		if _, ok := want[label]; ok {
			continue
		}
		if err := counts.Delete(ctx, label); err != nil {
			errs = append(errs, fmt.Errorf("deleting count for %s: %w", label, err))
			continue
		}
		report.Deleted++
	}
	log.Infow("recounted labels", "labels", report.Labels, "updated", report.Updated, "deleted", report.Deleted)
	return report, errors.Join(errs...)
}
