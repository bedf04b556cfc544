package construct

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/dsstore"
	"github.com/blue-mimo/image-labelling/pkg/internal/jobqueue"
	"github.com/blue-mimo/image-labelling/pkg/redis"
	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
	"github.com/blue-mimo/image-labelling/pkg/service/suggestions"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("service")

var (
	imagesNamespace      = datastore.NewKey("images")
	labelsNamespace      = datastore.NewKey("labels")
	labelCountsNamespace = datastore.NewKey("counts")
	suggestionsNamespace = datastore.NewKey("suggestions")
)

const (
	DefaultMaxLabels       = ingestion.DefaultMaxLabels
	DefaultMinConfidence   = ingestion.DefaultMinConfidence
	DefaultMaxSuggestions  = suggestions.DefaultMaxSuggestions
	DefaultMinPrefixLength = suggestions.DefaultMinPrefixLength
	DefaultMaxPrefixLength = suggestions.DefaultMaxPrefixLength
	// DefaultMaxUploadBytes bounds the size of a single upload
	DefaultMaxUploadBytes = 10 * 1024 * 1024
	// DefaultSuggestionsCacheTTL matches the rebuild schedule
	DefaultSuggestionsCacheTTL = 30 * time.Minute
)

// ServiceConfig sets specific config values for the service
type ServiceConfig struct {
	// MaxLabels is the most labels stored per image.
	MaxLabels int
	// MinConfidence is the lowest confidence of a stored label, 0 to 100.
	MinConfidence float64

	// MaxSuggestions is the number of candidates kept per prefix.
	MaxSuggestions int
	// MinPrefixLength and MaxPrefixLength bound the prefixes in the suggestion
	// table, in runes.
	MinPrefixLength int
	MaxPrefixLength int
	// MaxSuggestionLabels caps the labels considered by a rebuild, highest
	// counts first. Zero considers all of them.
	MaxSuggestionLabels int
	// SuggestionsCacheTTL is how long a cached lookup lives.
	SuggestionsCacheTTL time.Duration

	// MaxUploadBytes is the largest accepted upload.
	MaxUploadBytes int64
}

// DefaultServiceConfig returns a config with every value at its default.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxLabels:           DefaultMaxLabels,
		MinConfidence:       DefaultMinConfidence,
		MaxSuggestions:      DefaultMaxSuggestions,
		MinPrefixLength:     DefaultMinPrefixLength,
		MaxPrefixLength:     DefaultMaxPrefixLength,
		SuggestionsCacheTTL: DefaultSuggestionsCacheTTL,
		MaxUploadBytes:      DefaultMaxUploadBytes,
	}
}

type config struct {
	ds                datastore.Batching
	dataPath          string
	images            types.ImageStore
	labels            types.LabelStore
	counts            types.LabelCountStore
	suggestions       types.SuggestionStore
	detector          types.LabelDetector
	detectorFactory   func(types.ImageStore) types.LabelDetector
	notifier          types.LabelNotifier
	suggestionsClient redis.Client
	ingestOnUpload    bool
	ingestConcurrency int
	rebuildInterval   time.Duration
}

// Option configures how the service is constructed
type Option func(*config) error

// WithImageStore configures where image objects are kept.
func WithImageStore(store types.ImageStore) Option {
	return func(cfg *config) error {
		cfg.images = store
		return nil
	}
}

// WithLabelStore configures the store of label records.
func WithLabelStore(store types.LabelStore) Option {
	return func(cfg *config) error {
		cfg.labels = store
		return nil
	}
}

// WithLabelCountStore configures the store of label counts.
func WithLabelCountStore(store types.LabelCountStore) Option {
	return func(cfg *config) error {
		cfg.counts = store
		return nil
	}
}

// WithSuggestionStore configures the prefix suggestion table.
func WithSuggestionStore(store types.SuggestionStore) Option {
	return func(cfg *config) error {
		cfg.suggestions = store
		return nil
	}
}

// WithDetector configures the label detection backend. Without one the
// service cannot ingest images.
func WithDetector(detector types.LabelDetector) Option {
	return func(cfg *config) error {
		cfg.detector = detector
		return nil
	}
}

// WithDetectorFactory builds the label detection backend from the image store
// in use, for detectors that read image bytes themselves.
func WithDetectorFactory(factory func(types.ImageStore) types.LabelDetector) Option {
	return func(cfg *config) error {
		cfg.detectorFactory = factory
		return nil
	}
}

// WithNotifier publishes ingestion results.
func WithNotifier(notifier types.LabelNotifier) Option {
	return func(cfg *config) error {
		cfg.notifier = notifier
		return nil
	}
}

// WithSuggestionsClient puts a redis read through cache in front of
// suggestion lookups.
func WithSuggestionsClient(client redis.Client) Option {
	return func(cfg *config) error {
		cfg.suggestionsClient = client
		return nil
	}
}

// WithDataPath keeps every store not otherwise configured in flat FS
// datastores under the specified path, one directory per store.
func WithDataPath(dataPath string) Option {
	return func(cfg *config) error {
		if err := os.MkdirAll(dataPath, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		cfg.dataPath = dataPath
		return nil
	}
}

// WithDatastore keeps every store not otherwise configured in the given
// datastore, each under its own namespace.
func WithDatastore(ds datastore.Batching) Option {
	return func(cfg *config) error {
		cfg.ds = ds
		return nil
	}
}

// WithIngestOnUpload labels uploaded images in process on a background job
// queue, for running without an object store event source.
func WithIngestOnUpload(concurrency int) Option {
	return func(cfg *config) error {
		cfg.ingestOnUpload = true
		cfg.ingestConcurrency = max(concurrency, 1)
		return nil
	}
}

// WithSuggestionsRebuildInterval rebuilds the suggestion table once at
// startup and then on every interval until shutdown, for running without a
// scheduler. Cached lookups expire within one interval.
func WithSuggestionsRebuildInterval(interval time.Duration) Option {
	return func(cfg *config) error {
		if interval <= 0 {
			return fmt.Errorf("suggestions rebuild interval must be positive, got %s", interval)
		}
		cfg.rebuildInterval = interval
		return nil
	}
}

// Service bundles the operations of the application with lifecycle methods.
type Service struct {
	Catalog  *catalog.Catalog
	Ingestor *ingestion.Ingestor
	Builder  *suggestions.Builder
	Lookup   suggestions.Lookup
	Config   ServiceConfig

	startupFuncs  []func(ctx context.Context) error
	shutdownFuncs []func(ctx context.Context) error
}

func (s *Service) Startup(ctx context.Context) error {
	for _, startupFunc := range s.startupFuncs {
		err := startupFunc(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) Shutdown(ctx context.Context) error {
	for _, shutdownFunc := range s.shutdownFuncs {
		err := shutdownFunc(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// Construct builds the service. Stores that are not configured explicitly are
// backed by a datastore: flat FS under the data path if one is set, otherwise
// the configured datastore or an in-memory one.
func Construct(sc ServiceConfig, opts ...Option) (*Service, error) {
	var cfg config
	for _, opt := range opts {
		err := opt(&cfg)
		if err != nil {
			return nil, err
		}
	}

	s := &Service{Config: sc}

	openDatastore := func(ns datastore.Key) (datastore.Batching, error) {
		if cfg.dataPath != "" {
			dir := filepath.Join(cfg.dataPath, ns.Name())
			fds, err := flatfs.CreateOrOpen(dir, flatfs.IPFS_DEF_SHARD, true)
			if err != nil {
				return nil, fmt.Errorf("creating or opening %s datastore: %w", ns.Name(), err)
			}
			s.shutdownFuncs = append(s.shutdownFuncs, func(context.Context) error { return fds.Close() })
			return fds, nil
		}
		if cfg.ds == nil {
			log.Warnf("datastore not configured, using in-memory store")
			cfg.ds = dssync.MutexWrap(datastore.NewMapDatastore())
		}
		return namespace.Wrap(cfg.ds, ns), nil
	}

	if cfg.images == nil {
		ds, err := openDatastore(imagesNamespace)
		if err != nil {
			return nil, err
		}
		cfg.images = dsstore.NewImageStore(ds)
	}
	if cfg.labels == nil {
		ds, err := openDatastore(labelsNamespace)
		if err != nil {
			return nil, err
		}
		cfg.labels = dsstore.NewLabelStore(ds)
	}
	if cfg.counts == nil {
		ds, err := openDatastore(labelCountsNamespace)
		if err != nil {
			return nil, err
		}
		cfg.counts = dsstore.NewLabelCountStore(ds)
	}
	if cfg.suggestions == nil {
		ds, err := openDatastore(suggestionsNamespace)
		if err != nil {
			return nil, err
		}
		cfg.suggestions = dsstore.NewSuggestionStore(ds)
	}

	ingestOpts := []ingestion.Option{
		ingestion.WithMaxLabels(sc.MaxLabels),
		ingestion.WithMinConfidence(sc.MinConfidence),
	}
	if cfg.notifier != nil {
		ingestOpts = append(ingestOpts, ingestion.WithNotifier(cfg.notifier))
	}
	detector := cfg.detector
	if detector == nil && cfg.detectorFactory != nil {
		detector = cfg.detectorFactory(cfg.images)
	}
	if detector == nil {
		detector = noDetector{}
	}
	s.Ingestor = ingestion.New(detector, cfg.labels, cfg.counts, ingestOpts...)

	images := cfg.images
	if cfg.ingestOnUpload {
		jq := jobqueue.NewJobQueue(
			func(ctx context.Context, name string) error {
				_, err := s.Ingestor.ProcessImage(ctx, name)
				return err
			},
			jobqueue.WithBuffer(cfg.ingestConcurrency),
			jobqueue.WithConcurrency(cfg.ingestConcurrency),
			jobqueue.WithJobTimeout(time.Minute),
			jobqueue.WithErrorHandler(func(err error) {
				log.Errorw("ingesting uploaded image", "error", err)
			}),
		)
		s.startupFuncs = append(s.startupFuncs, func(context.Context) error { jq.Startup(); return nil })
		// the queue must drain before the datastores close
		s.shutdownFuncs = append([]func(context.Context) error{jq.Shutdown}, s.shutdownFuncs...)
		images = &ingestingImageStore{ImageStore: cfg.images, queue: jq}
	}

	s.Catalog = catalog.New(images, cfg.labels, cfg.counts)

	suggestionOpts := suggestions.Options{
		MaxSuggestions:  sc.MaxSuggestions,
		MinPrefixLength: sc.MinPrefixLength,
		MaxPrefixLength: sc.MaxPrefixLength,
		MaxLabels:       sc.MaxSuggestionLabels,
	}
	s.Builder = suggestions.NewBuilder(cfg.counts, cfg.suggestions, suggestionOpts)

	if cfg.rebuildInterval > 0 {
		r := &periodicRebuild{builder: s.Builder, interval: cfg.rebuildInterval}
		s.startupFuncs = append(s.startupFuncs, r.start)
		s.shutdownFuncs = append([]func(context.Context) error{r.stop}, s.shutdownFuncs...)
	}

	s.Lookup = suggestions.NewLookup(cfg.suggestions, sc.MaxPrefixLength)
	if cfg.suggestionsClient != nil {
		ttl := sc.SuggestionsCacheTTL
		if ttl == 0 {
			ttl = DefaultSuggestionsCacheTTL
		}
		if cfg.rebuildInterval > 0 {
			ttl = min(ttl, cfg.rebuildInterval)
		}
		s.Lookup = suggestions.WithCache(s.Lookup, redis.NewSuggestionStore(cfg.suggestionsClient, redis.WithExpiration(ttl)))
	}

	return s, nil
}

// ingestingImageStore queues every stored image for labelling.
type ingestingImageStore struct {
	types.ImageStore
	queue *jobqueue.JobQueue[string]
}

func (s *ingestingImageStore) Put(ctx context.Context, name string, contentType string, size int64, body io.Reader) error {
	if err := s.ImageStore.Put(ctx, name, contentType, size, body); err != nil {
		return err
	}
	if err := s.queue.Queue(context.WithoutCancel(ctx), name); err != nil {
		log.Errorw("queueing uploaded image for labelling", "image", name, "error", err)
	}
	return nil
}

// periodicRebuild runs the suggestion builder on a ticker.
type periodicRebuild struct {
	builder  *suggestions.Builder
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func (r *periodicRebuild) start(context.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			r.rebuild(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

func (r *periodicRebuild) rebuild(ctx context.Context) {
	if _, err := r.builder.Rebuild(ctx); err != nil && ctx.Err() == nil {
		log.Errorw("rebuilding suggestions", "error", err)
	}
}

func (r *periodicRebuild) stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noDetector struct{}

func (noDetector) DetectLabels(ctx context.Context, image string, maxLabels int, minConfidence float64) ([]types.Label, error) {
	return nil, fmt.Errorf("no label detector configured")
}
