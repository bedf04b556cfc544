package types

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
)

// ErrKeyNotFound means the key did not exist in the store
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidInput marks errors caused by client supplied input. The message of
// the wrapping error is safe to show to the client.
var ErrInvalidInput = errors.New("invalid input")

// ErrUploadTooLarge means an upload exceeded the configured size limit
var ErrUploadTooLarge = errors.New("upload too large")

// InputError is a client input error with a client facing message.
type InputError struct {
	Message string
}

func (e InputError) Error() string {
	return e.Message
}

func (e InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewInputError creates an [InputError] from a format string.
func NewInputError(format string, args ...any) error {
	return InputError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError is an [ErrKeyNotFound] with a client facing message.
type NotFoundError struct {
	Message string
}

func (e NotFoundError) Error() string {
	return e.Message
}

func (e NotFoundError) Is(target error) bool {
	return target == ErrKeyNotFound
}

func NewNotFoundError(format string, args ...any) error {
	return NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// Label is a single detected label with its confidence score in [0,100].
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// LabelRecord is one (image, label, confidence) row.
type LabelRecord struct {
	ImageName  string
	LabelName  string
	Confidence float64
}

// LabelCount is the running number of images bearing a label.
type LabelCount struct {
	LabelName string
	Count     int64
}

// Suggestion maps a typed prefix to ranked candidate label names.
type Suggestion struct {
	Prefix      string
	Suggestions []string
}

// Store describes a generic storage interface
type Store[Key, Value any] interface {
	// Put adds (or replaces) an item in the store.
	Put(ctx context.Context, key Key, value Value) error
	// Get retrieves an existing item from the store. If the item does not exist,
	// it should return [ErrKeyNotFound].
	Get(ctx context.Context, key Key) (Value, error)
}

// Cache describes a generic cache interface
type Cache[Key, Value any] interface {
	Set(ctx context.Context, key Key, value Value, expires bool) error
	SetExpirable(ctx context.Context, key Key, expires bool) error
	Get(ctx context.Context, key Key) (Value, error)
}

// ImageStore holds raw image objects addressed by image name.
type ImageStore interface {
	// Get returns the image bytes. If the image does not exist it returns
	// [ErrKeyNotFound].
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// Put stores (or replaces) an image.
	Put(ctx context.Context, name string, contentType string, size int64, body io.Reader) error
	// Delete removes an image. Deleting a missing image is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the names of all stored images.
	List(ctx context.Context) ([]string, error)
}

// LabelStore holds label records keyed by (image, label) with a secondary
// lookup by label.
type LabelStore interface {
	// Put writes a label record for each of the given labels.
	Put(ctx context.Context, image string, labels []Label) error
	// Get returns every label stored for the image. An image without labels
	// returns an empty slice.
	Get(ctx context.Context, image string) ([]Label, error)
	// Delete removes the records for the named labels of the image.
	Delete(ctx context.Context, image string, labelNames []string) error
	// ImagesWithLabel returns the names of images bearing the label.
	ImagesWithLabel(ctx context.Context, label string) ([]string, error)
	// All iterates over every label record.
	All(ctx context.Context) iter.Seq2[LabelRecord, error]
}

// LabelCountStore holds the per-label usage counters.
type LabelCountStore interface {
	// Increment atomically adds one to the label's counter, creating it at 1 if
	// absent.
	Increment(ctx context.Context, label string) error
	// Decrement atomically subtracts one from the label's counter, removing the
	// entry when it reaches zero. Decrementing a missing entry is a no-op.
	Decrement(ctx context.Context, label string) error
	// Put overwrites the counter for a label.
	Put(ctx context.Context, count LabelCount) error
	// Delete removes the counter for a label.
	Delete(ctx context.Context, label string) error
	// All returns every counter.
	All(ctx context.Context) ([]LabelCount, error)
}

// SuggestionStore holds precomputed prefix suggestions.
type SuggestionStore interface {
	// Get returns the candidates for a prefix or [ErrKeyNotFound].
	Get(ctx context.Context, prefix string) ([]string, error)
	// Prefixes returns every stored prefix.
	Prefixes(ctx context.Context) ([]string, error)
	// PutBatch writes (or overwrites) the given entries.
	PutBatch(ctx context.Context, suggestions []Suggestion) error
	// DeleteBatch removes the entries for the given prefixes.
	DeleteBatch(ctx context.Context, prefixes []string) error
}

// SuggestionCache caches suggestion lookups by prefix
type SuggestionCache Cache[string, []string]

// LabelDetector runs label detection on a stored image.
type LabelDetector interface {
	DetectLabels(ctx context.Context, image string, maxLabels int, minConfidence float64) ([]Label, error)
}

// LabelNotifier is told about every labelled image.
type LabelNotifier interface {
	NotifyLabeled(ctx context.Context, image string, labels []Label) error
}
