// Package client calls a deployed image labelling REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/build"
	"github.com/blue-mimo/image-labelling/pkg/service/catalog"
	"github.com/blue-mimo/image-labelling/pkg/types"
)

const (
	uploadPath  = "/upload_image"
	imagesPath  = "/images"
	imagePath   = "/image"
	labelsPath  = "/labels"
	suggestPath = "/suggest_filters"
)

// ErrFailedResponse is returned for any non 2xx response.
type ErrFailedResponse struct {
	StatusCode int
	// Message is the "error" field of the JSON body, or the raw body.
	Message string
}

func errFromResponse(res *http.Response) ErrFailedResponse {
	err := ErrFailedResponse{StatusCode: res.StatusCode}

	body, rerr := io.ReadAll(res.Body)
	if rerr != nil {
		err.Message = rerr.Error()
		return err
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		err.Message = payload.Error
	} else {
		err.Message = strings.TrimSpace(string(body))
	}
	return err
}

func (e ErrFailedResponse) Error() string {
	return fmt.Sprintf("http request failed, status: %d %s, message: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

type Client struct {
	serviceURL url.URL
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient configures the HTTP client to use for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithToken sends the token as a bearer token with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

func New(serviceURL url.URL, options ...Option) *Client {
	c := Client{
		serviceURL: serviceURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(&c)
	}
	return &c
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", build.UserAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request to server: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		defer res.Body.Close()
		return nil, errFromResponse(res)
	}
	return res, nil
}

func doJSON[T any](ctx context.Context, c *Client, method string, u *url.URL, body io.Reader, contentType string) (T, error) {
	var out T
	res, err := c.do(ctx, method, u, body, contentType)
	if err != nil {
		return out, err
	}
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decoding response: %w", err)
	}
	return out, nil
}

// Images lists a page of image names bearing every one of the filter labels.
func (c *Client) Images(ctx context.Context, params catalog.ListParams) (catalog.ListResult, error) {
	u := c.serviceURL.JoinPath(imagesPath)
	q := u.Query()
	q.Set("page", strconv.Itoa(params.Page))
	if params.Limit > 0 {
		q.Set("limit", strconv.Itoa(params.Limit))
	}
	if len(params.Filters) > 0 {
		q.Set("filters", strings.Join(params.Filters, ","))
	}
	u.RawQuery = q.Encode()
	return doJSON[catalog.ListResult](ctx, c, http.MethodGet, u, nil, "")
}

// Labels returns the labels of an image.
func (c *Client) Labels(ctx context.Context, name string) ([]types.Label, error) {
	return doJSON[[]types.Label](ctx, c, http.MethodGet, c.serviceURL.JoinPath(labelsPath, name), nil, "")
}

// Image downloads an image, scaled down to fit the bounds. Zero bounds are
// not sent.
func (c *Client) Image(ctx context.Context, name string, maxWidth, maxHeight int) (catalog.Image, error) {
	u := c.serviceURL.JoinPath(imagePath, name)
	q := u.Query()
	if maxWidth > 0 {
		q.Set("maxwidth", strconv.Itoa(maxWidth))
	}
	if maxHeight > 0 {
		q.Set("maxheight", strconv.Itoa(maxHeight))
	}
	u.RawQuery = q.Encode()

	res, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return catalog.Image{}, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return catalog.Image{}, fmt.Errorf("reading image: %w", err)
	}
	return catalog.Image{Name: name, ContentType: res.Header.Get("Content-Type"), Data: data}, nil
}

// Suggest returns label names for a typed prefix.
func (c *Client) Suggest(ctx context.Context, prefix string) ([]string, error) {
	u := c.serviceURL.JoinPath(suggestPath)
	q := u.Query()
	q.Set("prefix", prefix)
	u.RawQuery = q.Encode()
	return doJSON[[]string](ctx, c, http.MethodGet, u, nil, "")
}

// Upload sends an image as the "file" field of a multipart form.
func (c *Client) Upload(ctx context.Context, filename string, body io.Reader) (catalog.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return catalog.UploadResult{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(fw, body); err != nil {
		return catalog.UploadResult{}, fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return catalog.UploadResult{}, fmt.Errorf("closing form: %w", err)
	}
	return doJSON[catalog.UploadResult](ctx, c, http.MethodPost, c.serviceURL.JoinPath(uploadPath), &buf, mw.FormDataContentType())
}

// Delete removes an image and its labels.
func (c *Client) Delete(ctx context.Context, name string) (catalog.DeleteResult, error) {
	return doJSON[catalog.DeleteResult](ctx, c, http.MethodDelete, c.serviceURL.JoinPath(imagePath, name), nil, "")
}
