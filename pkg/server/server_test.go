package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blue-mimo/image-labelling/pkg/dsstore"
	"github.com/blue-mimo/image-labelling/pkg/internal/testutil"
	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/service/suggestions"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	images *dsstore.ImageStore
	labels *dsstore.LabelStore
	counts *dsstore.LabelCountStore
	server *httptest.Server
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	newDS := func() datastore.Batching { return dssync.MutexWrap(datastore.NewMapDatastore()) }
	f := &fixture{
		images: dsstore.NewImageStore(newDS()),
		labels: dsstore.NewLabelStore(newDS()),
		counts: dsstore.NewLabelCountStore(newDS()),
	}
	suggestionStore := dsstore.NewSuggestionStore(newDS())
	require.NoError(t, suggestionStore.PutBatch(context.Background(), []types.Suggestion{
		{Prefix: "d", Suggestions: []string{"dog", "dolphin", "deer"}},
		{Prefix: "do", Suggestions: []string{"dog", "dolphin"}},
	}))

	c := catalog.New(f.images, f.labels, f.counts)
	f.server = httptest.NewServer(NewServer(c, suggestions.NewLookup(suggestionStore, suggestions.DefaultMaxPrefixLength), opts...))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) addImage(t *testing.T, name string, data []byte, labels ...types.Label) {
	ctx := context.Background()
	require.NoError(t, f.images.Put(ctx, name, "image/png", int64(len(data)), bytes.NewReader(data)))
	if len(labels) > 0 {
		require.NoError(t, f.labels.Put(ctx, name, labels))
	}
	for _, l := range labels {
		require.NoError(t, f.counts.Increment(ctx, l.Name))
	}
}

func (f *fixture) do(t *testing.T, method, path string, body io.Reader, header http.Header) *http.Response {
	req, err := http.NewRequest(method, f.server.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

func multipartBody(t *testing.T, field, filename string, data []byte) (io.Reader, string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestGetRootHandler(t *testing.T) {
	f := newFixture(t)
	res := f.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := testutil.Must(io.ReadAll(res.Body))(t)
	require.Contains(t, string(body), "image-labelling")

	res = f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, map[string]string{"status": "ok"}, decode[map[string]string](t, res))
}

func TestPostUploadImageHandler(t *testing.T) {
	png := testutil.PNG(t, 4, 4)

	testCases := []struct {
		name        string
		opts        []Option
		body        func(t *testing.T) (io.Reader, string)
		status      int
		expectedErr string
	}{
		{
			name:   "success",
			body:   func(t *testing.T) (io.Reader, string) { return multipartBody(t, "file", "dog.png", png) },
			status: http.StatusOK,
		},
		{
			name: "not multipart",
			body: func(t *testing.T) (io.Reader, string) {
				return strings.NewReader(`{"file":"dog.png"}`), "application/json"
			},
			status:      http.StatusBadRequest,
			expectedErr: "Content-Type must be multipart/form-data",
		},
		{
			name:        "no file field",
			body:        func(t *testing.T) (io.Reader, string) { return multipartBody(t, "image", "dog.png", png) },
			status:      http.StatusBadRequest,
			expectedErr: "No file provided",
		},
		{
			name:        "disallowed extension",
			body:        func(t *testing.T) (io.Reader, string) { return multipartBody(t, "file", "notes.txt", []byte("hello")) },
			status:      http.StatusBadRequest,
			expectedErr: "File type .txt not allowed",
		},
		{
			name: "too large",
			opts: []Option{WithMaxUploadBytes(512)},
			body: func(t *testing.T) (io.Reader, string) {
				return multipartBody(t, "file", "big.png", testutil.RandomBytes(t, 4096))
			},
			status:      http.StatusRequestEntityTooLarge,
			expectedErr: "File too large",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.opts...)
			body, contentType := tc.body(t)
			res := f.do(t, http.MethodPost, "/upload_image", body, http.Header{"Content-Type": {contentType}})
			require.Equal(t, tc.status, res.StatusCode)
			if tc.expectedErr != "" {
				require.Equal(t, tc.expectedErr, decode[errorResponse](t, res).Error)
				return
			}

			out := decode[catalog.UploadResult](t, res)
			require.Equal(t, "File uploaded successfully", out.Message)
			require.Equal(t, "dog.png", out.Filename)
			require.Equal(t, "uploads/dog.png", out.S3Key)
			require.Equal(t, []string{"dog.png"}, testutil.Must(f.images.List(context.Background()))(t))
		})
	}
}

func TestGetImagesHandler(t *testing.T) {
	f := newFixture(t)
	png := testutil.PNG(t, 2, 2)
	for i := range 12 {
		labels := []types.Label{{Name: "pet", Confidence: 90}}
		if i%2 == 0 {
			labels = append(labels, types.Label{Name: "dog", Confidence: 95})
		}
		f.addImage(t, fmt.Sprintf("img-%02d.png", i), png, labels...)
	}

	testCases := []struct {
		name        string
		query       string
		status      int
		images      []string
		pagination  catalog.Pagination
		expectedErr string
	}{
		{
			name:       "defaults",
			query:      "",
			status:     http.StatusOK,
			images:     []string{"img-00.png", "img-01.png", "img-02.png", "img-03.png", "img-04.png", "img-05.png", "img-06.png", "img-07.png", "img-08.png", "img-09.png"},
			pagination: catalog.Pagination{Page: 0, Limit: 10, Total: 12, TotalPages: 2},
		},
		{
			name:       "second page",
			query:      "?page=1&limit=5",
			status:     http.StatusOK,
			images:     []string{"img-05.png", "img-06.png", "img-07.png", "img-08.png", "img-09.png"},
			pagination: catalog.Pagination{Page: 1, Limit: 5, Total: 12, TotalPages: 3},
		},
		{
			name:       "filters",
			query:      "?filters=Dog,%20pet&limit=4",
			status:     http.StatusOK,
			images:     []string{"img-00.png", "img-02.png", "img-04.png", "img-06.png"},
			pagination: catalog.Pagination{Page: 0, Limit: 4, Total: 6, TotalPages: 2},
		},
		{
			name:       "page past the end",
			query:      "?page=9",
			status:     http.StatusOK,
			images:     []string{},
			pagination: catalog.Pagination{Page: 9, Limit: 10, Total: 12, TotalPages: 2},
		},
		{
			name:        "bad page",
			query:       "?page=first",
			status:      http.StatusBadRequest,
			expectedErr: "Invalid page parameter: first",
		},
		{
			name:        "limit out of range",
			query:       "?limit=101",
			status:      http.StatusBadRequest,
			expectedErr: "limit must be between 1 and 100",
		},
		{
			name:        "zero limit",
			query:       "?limit=0",
			status:      http.StatusBadRequest,
			expectedErr: "limit must be between 1 and 100",
		},
		{
			name:        "negative page",
			query:       "?page=-1",
			status:      http.StatusBadRequest,
			expectedErr: "page must be zero or greater",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.do(t, http.MethodGet, "/images"+tc.query, nil, nil)
			require.Equal(t, tc.status, res.StatusCode)
			if tc.expectedErr != "" {
				require.Equal(t, tc.expectedErr, decode[errorResponse](t, res).Error)
				return
			}
			out := decode[catalog.ListResult](t, res)
			require.Equal(t, tc.images, out.Images)
			require.Equal(t, tc.pagination, out.Pagination)
		})
	}
}

func TestGetImageHandler(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "wide.png", testutil.PNG(t, 40, 20))
	f.addImage(t, "empty.png", []byte{})

	t.Run("resized", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/image/wide.png?maxwidth=10", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "image/png", res.Header.Get("Content-Type"))
		cfg, format, err := image.DecodeConfig(res.Body)
		require.NoError(t, err)
		require.Equal(t, "png", format)
		require.Equal(t, 10, cfg.Width)
		require.Equal(t, 5, cfg.Height)
	})

	t.Run("original size", func(t *testing.T) {
		res := f.do(t, http.MethodGet, "/image/wide.png", nil, nil)
		require.Equal(t, http.StatusOK, res.StatusCode)
		cfg, _, err := image.DecodeConfig(res.Body)
		require.NoError(t, err)
		require.Equal(t, 40, cfg.Width)
	})

	testCases := []struct {
		name        string
		path        string
		status      int
		expectedErr string
	}{
		{name: "missing", path: "/image/missing.png", status: http.StatusNotFound, expectedErr: "Image not found"},
		{name: "empty", path: "/image/empty.png", status: http.StatusNotFound, expectedErr: "Image file is empty"},
		{name: "no extension", path: "/image/readme", status: http.StatusBadRequest, expectedErr: "No file extension found"},
		{name: "unknown extension", path: "/image/doc.xyz", status: http.StatusBadRequest, expectedErr: "Unrecognized file extension: .xyz"},
		{name: "bad bound", path: "/image/wide.png?maxheight=tall", status: http.StatusBadRequest, expectedErr: "Invalid maxheight parameter: tall"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.do(t, http.MethodGet, tc.path, nil, nil)
			require.Equal(t, tc.status, res.StatusCode)
			require.Equal(t, tc.expectedErr, decode[errorResponse](t, res).Error)
		})
	}
}

func TestGetLabelsHandler(t *testing.T) {
	f := newFixture(t)
	f.addImage(t, "dog.png", testutil.PNG(t, 2, 2),
		types.Label{Name: "pet", Confidence: 91.25},
		types.Label{Name: "dog", Confidence: 98.5},
	)

	res := f.do(t, http.MethodGet, "/labels/dog.png", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []types.Label{{Name: "dog", Confidence: 98.5}, {Name: "pet", Confidence: 91.25}}, decode[[]types.Label](t, res))

	res = f.do(t, http.MethodGet, "/labels/cat.png", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []types.Label{}, decode[[]types.Label](t, res))
}

func TestDeleteImageHandler(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	png := testutil.PNG(t, 2, 2)
	f.addImage(t, "dog.png", png, types.Label{Name: "dog", Confidence: 98.5}, types.Label{Name: "pet", Confidence: 91.25})
	f.addImage(t, "cat.png", png, types.Label{Name: "pet", Confidence: 90})

	res := f.do(t, http.MethodDelete, "/image/dog.png", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	out := decode[catalog.DeleteResult](t, res)
	require.Equal(t, "Image dog.png deleted successfully", out.Message)
	require.Equal(t, 2, out.DeletedLabels)

	require.Equal(t, []string{"cat.png"}, testutil.Must(f.images.List(ctx))(t))
	require.Equal(t, []types.LabelCount{{LabelName: "pet", Count: 1}}, testutil.Must(f.counts.All(ctx))(t))
}

func TestGetSuggestFiltersHandler(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name     string
		query    string
		status   int
		expected []string
	}{
		{name: "prefix", query: "?prefix=Do", status: http.StatusOK, expected: []string{"dog", "dolphin"}},
		{name: "longer prefix filters candidates", query: "?prefix=dol", status: http.StatusOK, expected: []string{}},
		{name: "unknown prefix", query: "?prefix=zebra", status: http.StatusOK, expected: []string{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res := f.do(t, http.MethodGet, "/suggest_filters"+tc.query, nil, nil)
			require.Equal(t, tc.status, res.StatusCode)
			require.Equal(t, tc.expected, decode[[]string](t, res))
		})
	}

	for _, query := range []string{"", "?prefix="} {
		t.Run("missing prefix "+query, func(t *testing.T) {
			res := f.do(t, http.MethodGet, "/suggest_filters"+query, nil, nil)
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
			require.Equal(t, "Missing prefix parameter", decode[errorResponse](t, res).Error)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("cors", func(t *testing.T) {
		f := newFixture(t)
		res := f.do(t, http.MethodGet, "/health", nil, http.Header{"Origin": {"https://example.org"}})
		require.Equal(t, http.StatusOK, res.StatusCode)
		require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
	})

	t.Run("caller from bearer token", func(t *testing.T) {
		token := testutil.Must(jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":              "user-1",
			"cognito:username": "alice",
		}).SignedString([]byte("not-verified")))(t)

		testCases := []struct {
			name   string
			header string
			caller Caller
			found  bool
		}{
			{name: "bearer token", header: "Bearer " + token, caller: Caller{Subject: "user-1", Username: "alice"}, found: true},
			{name: "no header"},
			{name: "malformed token", header: "Bearer not-a-jwt"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				var (
					caller Caller
					found  bool
				)
				handler := WithCaller(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					caller, found = CallerFromContext(r.Context())
				}))
				req := httptest.NewRequest(http.MethodGet, "/images", nil)
				if tc.header != "" {
					req.Header.Set("Authorization", tc.header)
				}
				handler.ServeHTTP(httptest.NewRecorder(), req)
				require.Equal(t, tc.found, found)
				require.Equal(t, tc.caller, caller)
			})
		}
	})
}

func TestPathName(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/prod/image/my%20dog.png", nil)
	require.Equal(t, "my dog.png", pathName(req))
}
