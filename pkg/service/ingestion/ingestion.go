// Package ingestion labels newly stored images and keeps the label counts in
// step with the stored label records.
package ingestion

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	"github.com/blue-mimo/image-labelling/pkg/types"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("ingestion")

const (
	DefaultMaxLabels     = 10
	DefaultMinConfidence = 75.0
)

// Result describes the outcome of ingesting one object.
type Result struct {
	Image   string
	Skipped bool
	// Labels is the full stored label set after ingestion.
	Labels []types.Label
	// Added and Removed name the labels whose counts changed.
	Added   []string
	Removed []string
}

type Ingestor struct {
	detector      types.LabelDetector
	labels        types.LabelStore
	counts        types.LabelCountStore
	notifier      types.LabelNotifier
	maxLabels     int
	minConfidence float64
}

// Option configures an Ingestor
type Option func(*Ingestor)

// WithNotifier publishes every ingestion result to the notifier.
func WithNotifier(n types.LabelNotifier) Option {
	return func(i *Ingestor) {
		i.notifier = n
	}
}

// WithMaxLabels sets the maximum number of labels stored per image.
func WithMaxLabels(n int) Option {
	return func(i *Ingestor) {
		i.maxLabels = n
	}
}

// WithMinConfidence sets the minimum confidence of a stored label.
func WithMinConfidence(c float64) Option {
	return func(i *Ingestor) {
		i.minConfidence = c
	}
}

func New(detector types.LabelDetector, labels types.LabelStore, counts types.LabelCountStore, opts ...Option) *Ingestor {
	i := &Ingestor{
		detector:      detector,
		labels:        labels,
		counts:        counts,
		maxLabels:     DefaultMaxLabels,
		minConfidence: DefaultMinConfidence,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ProcessObject ingests the object at key. Objects that are not images under
// the uploads prefix are skipped without error.
func (i *Ingestor) ProcessObject(ctx context.Context, bucket string, key string) (Result, error) {
	name, ok := imageutil.NameFromKey(key)
	if !ok || strings.Contains(name, "/") {
		log.Infow("skipping object", "bucket", bucket, "key", key)
		return Result{Image: key, Skipped: true}, nil
	}
	return i.ProcessImage(ctx, name)
}

// ProcessImage detects labels for the named image and reconciles them with
// the labels already stored for it. Only labels new to the image increment a
// count, and labels no longer detected are removed and decremented, so
// processing the same image again leaves the counts unchanged.
func (i *Ingestor) ProcessImage(ctx context.Context, name string) (Result, error) {
	detected, err := i.detector.DetectLabels(ctx, name, i.maxLabels, i.minConfidence)
	if err != nil {
		return Result{}, fmt.Errorf("detecting labels: %w", err)
	}
	labels := Filter(detected, i.maxLabels, i.minConfidence)

	existing, err := i.labels.Get(ctx, name)
	if err != nil {
		return Result{}, fmt.Errorf("reading existing labels: %w", err)
	}
	added, removed := diff(existing, labels)

	if len(labels) > 0 {
		if err := i.labels.Put(ctx, name, labels); err != nil {
			return Result{}, fmt.Errorf("writing labels: %w", err)
		}
	}

	var uncounted []string
	for _, label := range added {
		if err := i.counts.Increment(ctx, label); err != nil {
			log.Errorw("incrementing label count", "image", name, "label", label, "error", err)
			uncounted = append(uncounted, label)
		}
	}
	if len(uncounted) > 0 {
		// drop the records whose count did not move so a redelivery counts them
		if err := i.labels.Delete(ctx, name, uncounted); err != nil {
			log.Errorw("removing uncounted labels", "image", name, "error", err)
		}
		return Result{}, fmt.Errorf("incrementing label counts for %s: %s", name, strings.Join(uncounted, ", "))
	}

	if len(removed) > 0 {
		if err := i.labels.Delete(ctx, name, removed); err != nil {
			return Result{}, fmt.Errorf("removing stale labels: %w", err)
		}
		var errs []error
		for _, label := range removed {
			if err := i.counts.Decrement(ctx, label); err != nil {
				errs = append(errs, fmt.Errorf("decrementing %s: %w", label, err))
			}
		}
		if err := errors.Join(errs...); err != nil {
			return Result{}, err
		}
	}

	log.Infow("labelled image", "image", name, "labels", len(labels), "added", len(added), "removed", len(removed))

	if i.notifier != nil {
		if err := i.notifier.NotifyLabeled(ctx, name, labels); err != nil {
			log.Warnw("publishing label notification", "image", name, "error", err)
		}
	}

	return Result{Image: name, Labels: labels, Added: added, Removed: removed}, nil
}

// Filter normalizes detected labels: names are trimmed and lower-cased,
// confidences rounded to two decimals, and duplicate names keep their highest
// confidence. Labels under minConfidence are dropped and at most maxLabels
// are kept, preferring higher confidence. A maxLabels of zero keeps them all.
func Filter(detected []types.Label, maxLabels int, minConfidence float64) []types.Label {
	best := make(map[string]float64, len(detected))
	for _, d := range detected {
		name := strings.ToLower(strings.TrimSpace(d.Name))
		if name == "" || math.IsNaN(d.Confidence) || d.Confidence < minConfidence {
			continue
		}
		conf := math.Round(min(d.Confidence, 100)*100) / 100
		if c, ok := best[name]; !ok || conf > c {
			best[name] = conf
		}
	}

	labels := make([]types.Label, 0, len(best))
	for name, conf := range best {
		labels = append(labels, types.Label{Name: name, Confidence: conf})
	}
	SortLabels(labels)
	if maxLabels > 0 && len(labels) > maxLabels {
		labels = labels[:maxLabels]
	}
	return labels
}

// SortLabels orders labels by descending confidence, then by name.
func SortLabels(labels []types.Label) {
	slices.SortFunc(labels, func(a, b types.Label) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}

func diff(existing, labels []types.Label) (added, removed []string) {
	has := func(set []types.Label, name string) bool {
		return slices.ContainsFunc(set, func(l types.Label) bool { return l.Name == name })
	}
	for _, l := range labels {
		if !has(existing, l.Name) {
			added = append(added, l.Name)
		}
	}
	for _, l := range existing {
		if !has(labels, l.Name) {
			removed = append(removed, l.Name)
		}
	}
	return added, removed
}
