package ingestion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/blue-mimo/image-labelling/pkg/dsstore"
	"github.com/blue-mimo/image-labelling/pkg/internal/testutil"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
)

type mockDetector struct {
	labels map[string][]types.Label
	err    error
	calls  int
}

func (m *mockDetector) DetectLabels(ctx context.Context, image string, maxLabels int, minConfidence float64) ([]types.Label, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.labels[image], nil
}

type failingCounts struct {
	types.LabelCountStore
	failOn string
}

func (f *failingCounts) Increment(ctx context.Context, label string) error {
	if label == f.failOn {
		return errors.New("throughput exceeded")
	}
	return f.LabelCountStore.Increment(ctx, label)
}

type mockNotifier struct {
	images []string
	err    error
}

func (m *mockNotifier) NotifyLabeled(ctx context.Context, image string, labels []types.Label) error {
	m.images = append(m.images, image)
	return m.err
}

func newStores() (*dsstore.LabelStore, *dsstore.LabelCountStore) {
	return dsstore.NewLabelStore(dssync.MutexWrap(datastore.NewMapDatastore())),
		dsstore.NewLabelCountStore(dssync.MutexWrap(datastore.NewMapDatastore()))
}

func TestFilter(t *testing.T) {
	testCases := []struct {
		name          string
		detected      []types.Label
		maxLabels     int
		minConfidence float64
		expected      []types.Label
	}{
		{
			name:          "threshold drops low confidence",
			detected:      []types.Label{{Name: "Dog", Confidence: 98.5}, {Name: "Cat", Confidence: 40}},
			maxLabels:     10,
			minConfidence: 75,
			expected:      []types.Label{{Name: "dog", Confidence: 98.5}},
		},
		{
			name:          "threshold is inclusive",
			detected:      []types.Label{{Name: "Tree", Confidence: 75}},
			maxLabels:     10,
			minConfidence: 75,
			expected:      []types.Label{{Name: "tree", Confidence: 75}},
		},
		{
			name:          "duplicates keep highest confidence",
			detected:      []types.Label{{Name: "Dog", Confidence: 80}, {Name: "dog ", Confidence: 91.234}, {Name: "DOG", Confidence: 85}},
			maxLabels:     10,
			minConfidence: 75,
			expected:      []types.Label{{Name: "dog", Confidence: 91.23}},
		},
		{
			name: "caps at max labels by confidence",
			detected: []types.Label{
				{Name: "a", Confidence: 80}, {Name: "b", Confidence: 99}, {Name: "c", Confidence: 90}, {Name: "d", Confidence: 90},
			},
			maxLabels:     3,
			minConfidence: 75,
			expected:      []types.Label{{Name: "b", Confidence: 99}, {Name: "c", Confidence: 90}, {Name: "d", Confidence: 90}},
		},
		{
			name:          "zero max keeps all",
			detected:      []types.Label{{Name: "a", Confidence: 80}, {Name: "b", Confidence: 81}},
			minConfidence: 75,
			expected:      []types.Label{{Name: "b", Confidence: 81}, {Name: "a", Confidence: 80}},
		},
		{
			name:          "blank names dropped",
			detected:      []types.Label{{Name: "  ", Confidence: 99}},
			maxLabels:     10,
			minConfidence: 75,
			expected:      []types.Label{},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ingestion.Filter(tc.detected, tc.maxLabels, tc.minConfidence))
		})
	}
}

func TestProcessObject(t *testing.T) {
	ctx := context.Background()

	t.Run("stores filtered labels and counts", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{labels: map[string][]types.Label{
			"dog.jpg": {{Name: "Dog", Confidence: 98.5}, {Name: "Cat", Confidence: 40}},
		}}
		notifier := &mockNotifier{}
		ingestor := ingestion.New(detector, labels, counts, ingestion.WithNotifier(notifier))

		res, err := ingestor.ProcessObject(ctx, "images", "uploads/dog.jpg")
		require.NoError(t, err)
		require.False(t, res.Skipped)
		require.Equal(t, []types.Label{{Name: "dog", Confidence: 98.5}}, res.Labels)

		require.Equal(t, []types.Label{{Name: "dog", Confidence: 98.5}}, testutil.Must(labels.Get(ctx, "dog.jpg"))(t))
		require.Equal(t, []types.LabelCount{{LabelName: "dog", Count: 1}}, testutil.Must(counts.All(ctx))(t))
		require.Equal(t, []string{"dog.jpg"}, notifier.images)
	})

	t.Run("skips non image keys", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{}
		ingestor := ingestion.New(detector, labels, counts)

		for _, key := range []string{"other/dog.jpg", "uploads/notes.txt", "uploads/", "uploads/a/b.png"} {
			res, err := ingestor.ProcessObject(ctx, "images", key)
			require.NoError(t, err)
			require.True(t, res.Skipped, key)
		}
		require.Zero(t, detector.calls)
	})

	t.Run("redelivery does not double count", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{labels: map[string][]types.Label{
			"dog.jpg": {{Name: "Dog", Confidence: 98.5}, {Name: "Pet", Confidence: 90}},
		}}
		ingestor := ingestion.New(detector, labels, counts)

		testutil.Must(ingestor.ProcessImage(ctx, "dog.jpg"))(t)
		res := testutil.Must(ingestor.ProcessImage(ctx, "dog.jpg"))(t)
		require.Empty(t, res.Added)
		require.Empty(t, res.Removed)
		require.ElementsMatch(t, []types.LabelCount{{LabelName: "dog", Count: 1}, {LabelName: "pet", Count: 1}}, testutil.Must(counts.All(ctx))(t))
	})

	t.Run("overwrite reconciles labels", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{labels: map[string][]types.Label{
			"photo.png": {{Name: "Dog", Confidence: 98.5}, {Name: "Pet", Confidence: 90}},
		}}
		ingestor := ingestion.New(detector, labels, counts)
		testutil.Must(ingestor.ProcessImage(ctx, "photo.png"))(t)

		detector.labels["photo.png"] = []types.Label{{Name: "Cat", Confidence: 97}, {Name: "Pet", Confidence: 91}}
		res := testutil.Must(ingestor.ProcessImage(ctx, "photo.png"))(t)
		require.Equal(t, []string{"cat"}, res.Added)
		require.Equal(t, []string{"dog"}, res.Removed)

		require.ElementsMatch(t, []types.Label{{Name: "cat", Confidence: 97}, {Name: "pet", Confidence: 91}}, testutil.Must(labels.Get(ctx, "photo.png"))(t))
		require.ElementsMatch(t, []types.LabelCount{{LabelName: "cat", Count: 1}, {LabelName: "pet", Count: 1}}, testutil.Must(counts.All(ctx))(t))
	})

	t.Run("detector failure", func(t *testing.T) {
		labels, counts := newStores()
		boom := errors.New("access denied")
		ingestor := ingestion.New(&mockDetector{err: boom}, labels, counts)
		_, err := ingestor.ProcessImage(ctx, "dog.jpg")
		require.ErrorIs(t, err, boom)
	})

	t.Run("count failure leaves label uncounted for retry", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{labels: map[string][]types.Label{
			"dog.jpg": {{Name: "Dog", Confidence: 98.5}, {Name: "Pet", Confidence: 90}},
		}}
		failing := &failingCounts{LabelCountStore: counts, failOn: "pet"}
		_, err := ingestion.New(detector, labels, failing).ProcessImage(ctx, "dog.jpg")
		require.Error(t, err)
		require.Equal(t, []types.Label{{Name: "dog", Confidence: 98.5}}, testutil.Must(labels.Get(ctx, "dog.jpg"))(t))

		testutil.Must(ingestion.New(detector, labels, counts).ProcessImage(ctx, "dog.jpg"))(t)
		require.ElementsMatch(t, []types.LabelCount{{LabelName: "dog", Count: 1}, {LabelName: "pet", Count: 1}}, testutil.Must(counts.All(ctx))(t))
	})

	t.Run("notifier failure is not fatal", func(t *testing.T) {
		labels, counts := newStores()
		detector := &mockDetector{labels: map[string][]types.Label{"dog.jpg": {{Name: "Dog", Confidence: 98.5}}}}
		notifier := &mockNotifier{err: errors.New("topic gone")}
		_, err := ingestion.New(detector, labels, counts, ingestion.WithNotifier(notifier)).ProcessImage(ctx, "dog.jpg")
		require.NoError(t, err)
		require.Len(t, notifier.images, 1)
	})
}
