// Package server exposes the image catalog and suggestion lookup over HTTP.
// The same handlers back the local server and the API Gateway lambdas.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/blue-mimo/image-labelling/pkg/build"
	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/service/suggestions"
	"github.com/blue-mimo/image-labelling/pkg/telemetry"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("server")

const defaultMaxUploadBytes = 10 * 1024 * 1024

type config struct {
	maxUploadBytes int64
	allowedOrigins []string
}

type Option func(*config)

// WithMaxUploadBytes bounds the size of a single upload request.
func WithMaxUploadBytes(n int64) Option {
	return func(c *config) {
		c.maxUploadBytes = n
	}
}

// WithAllowedOrigins restricts the CORS origins. All origins are allowed by
// default.
func WithAllowedOrigins(origins ...string) Option {
	return func(c *config) {
		c.allowedOrigins = origins
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		maxUploadBytes: defaultMaxUploadBytes,
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxUploadBytes <= 0 {
		c.maxUploadBytes = defaultMaxUploadBytes
	}
	return c
}

// Catalog is the set of image operations served over HTTP.
type Catalog interface {
	Uploader
	Lister
	ImageGetter
	LabelGetter
	Deleter
}

var _ Catalog = (*catalog.Catalog)(nil)

// ListenAndServe creates a new image labelling HTTP server, and starts it up.
func ListenAndServe(addr string, images Catalog, lookup suggestions.Lookup, opts ...Option) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: telemetry.GetInstrumentedHTTPHandler(NewServer(images, lookup, opts...), "image-labelling"),
	}
	log.Infof("Listening on %s", addr)
	err := srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// NewServer creates the HTTP handler for every route.
func NewServer(images Catalog, lookup suggestions.Lookup, opts ...Option) http.Handler {
	c := newConfig(opts)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", GetRootHandler())
	mux.HandleFunc("GET /health", GetHealthHandler())
	mux.HandleFunc("POST /upload_image", PostUploadImageHandler(images, c.maxUploadBytes))
	mux.HandleFunc("GET /images", GetImagesHandler(images))
	mux.HandleFunc("GET /image/{name}", GetImageHandler(images))
	mux.HandleFunc("DELETE /image/{name}", DeleteImageHandler(images))
	mux.HandleFunc("GET /labels/{name}", GetLabelsHandler(images))
	mux.HandleFunc("GET /suggest_filters", GetSuggestFiltersHandler(lookup))
	return Middleware(mux, opts...)
}

// GetRootHandler displays version info when a GET request is sent to "/".
func GetRootHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "image-labelling %s\n", build.Version)
	}
}

// GetHealthHandler reports that the process is serving.
func GetHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
