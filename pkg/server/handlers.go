package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/service/suggestions"
	"github.com/blue-mimo/image-labelling/pkg/types"
)

type (
	Uploader interface {
		Upload(ctx context.Context, filename string, size int64, body io.Reader) (catalog.UploadResult, error)
	}

	Lister interface {
		List(ctx context.Context, params catalog.ListParams) (catalog.ListResult, error)
	}

	ImageGetter interface {
		Image(ctx context.Context, name string, maxWidth, maxHeight int) (catalog.Image, error)
	}

	LabelGetter interface {
		Labels(ctx context.Context, name string) ([]types.Label, error)
	}

	Deleter interface {
		Delete(ctx context.Context, name string) (catalog.DeleteResult, error)
	}
)

// PostUploadImageHandler stores the file sent in the "file" field of a
// multipart form.
func PostUploadImageHandler(uploader Uploader, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != "multipart/form-data" {
			writeError(w, types.NewInputError("Content-Type must be multipart/form-data"))
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		filename, data, err := readFilePart(r)
		if err != nil {
			writeError(w, err)
			return
		}

		res, err := uploader.Upload(r.Context(), filename, int64(len(data)), bytes.NewReader(data))
		if err != nil {
			writeError(w, err)
			return
		}
		caller, _ := CallerFromContext(r.Context())
		log.Infow("upload", "image", res.Filename, "size", len(data), "subject", caller.Subject, "username", caller.Username)
		writeJSON(w, http.StatusOK, res)
	}
}

// readFilePart returns the name and content of the first "file" part.
func readFilePart(r *http.Request) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, types.NewInputError("Content-Type must be multipart/form-data")
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, types.NewInputError("No file provided")
		}
		if err != nil {
			return "", nil, uploadReadError(err)
		}
		if part.FormName() != "file" || part.FileName() == "" {
			part.Close()
			continue
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return "", nil, uploadReadError(err)
		}
		return part.FileName(), data, nil
	}
}

func uploadReadError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return types.ErrUploadTooLarge
	}
	return types.NewInputError("Malformed multipart body")
}

// GetImagesHandler lists image names when a GET request is sent to
// "/images?page={page}&limit={limit}&filters={label,label}".
func GetImagesHandler(lister Lister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		page, err := intParam(query.Get("page"), "page", 0)
		if err != nil {
			writeError(w, err)
			return
		}
		limit, err := intParam(query.Get("limit"), "limit", catalog.DefaultLimit)
		if err != nil {
			writeError(w, err)
			return
		}

		params := catalog.ListParams{
			Page:    page,
			Limit:   limit,
			Filters: catalog.ParseFilters(query.Get("filters")),
		}
		// an explicit limit of 0 is rejected rather than defaulted
		if err := params.Validate(); err != nil {
			writeError(w, err)
			return
		}
		res, err := lister.List(r.Context(), params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GetImageHandler serves an image, scaled down when a GET request is sent to
// "/image/{name}?maxwidth={w}&maxheight={h}".
func GetImageHandler(getter ImageGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := pathName(r)
		if name == "" {
			writeError(w, types.NewInputError("Filename not provided"))
			return
		}
		query := r.URL.Query()
		maxWidth, err := intParam(query.Get("maxwidth"), "maxwidth", 0)
		if err != nil {
			writeError(w, err)
			return
		}
		maxHeight, err := intParam(query.Get("maxheight"), "maxheight", 0)
		if err != nil {
			writeError(w, err)
			return
		}

		img, err := getter.Image(r.Context(), name, maxWidth, maxHeight)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", img.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(img.Data); err != nil {
			log.Warnf("serving image %s: %s", name, err)
		}
	}
}

// GetLabelsHandler returns the labels of one image.
func GetLabelsHandler(getter LabelGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := pathName(r)
		if name == "" {
			writeError(w, types.NewInputError("Filename not provided"))
			return
		}
		labels, err := getter.Labels(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, labels)
	}
}

// DeleteImageHandler removes an image and its labels.
func DeleteImageHandler(deleter Deleter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deleter.Delete(r.Context(), pathName(r))
		if err != nil {
			writeError(w, err)
			return
		}
		caller, _ := CallerFromContext(r.Context())
		log.Infow("delete", "image", res.Filename, "labels", res.DeletedLabels, "subject", caller.Subject, "username", caller.Username)
		writeJSON(w, http.StatusOK, res)
	}
}

// GetSuggestFiltersHandler returns label names for a typed prefix when a GET
// request is sent to "/suggest_filters?prefix={prefix}".
func GetSuggestFiltersHandler(lookup suggestions.Lookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			writeError(w, types.NewInputError("Missing prefix parameter"))
			return
		}
		res, err := lookup.Suggest(r.Context(), prefix)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// pathName returns the {name} path value. Outside of a mux, as behind API
// Gateway, the last path segment is used.
func pathName(r *http.Request) string {
	if name := r.PathValue("name"); name != "" {
		return name
	}
	path := strings.TrimSuffix(r.URL.Path, "/")
	return path[strings.LastIndex(path, "/")+1:]
}

func intParam(value, name string, defaultValue int) (int, error) {
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, types.NewInputError("Invalid %s parameter: %s", name, value)
	}
	return n, nil
}
