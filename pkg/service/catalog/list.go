package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/go-playground/validator/v10"
)

// ListParams selects a page of images. Page is zero based.
type ListParams struct {
	Page    int `validate:"gte=0"`
	Limit   int `validate:"gte=1,lte=100"`
	Filters []string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the page and limit as given, without applying the default
// limit.
func (p ListParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return listParamsError(err)
	}
	return nil
}

// Pagination describes the position of a page in the full result set.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// ListResult is one page of image names.
type ListResult struct {
	Images     []string   `json:"images"`
	Pagination Pagination `json:"pagination"`
}

// ParseFilters splits a comma separated label list. Entries are trimmed and
// lower-cased, and empty or repeated entries are dropped.
func ParseFilters(raw string) []string {
	var filters []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" && !slices.Contains(filters, f) {
			filters = append(filters, f)
		}
	}
	return filters
}

// List returns a page of image names in ascending order. With filters, only
// images bearing every filter label are included. A zero limit means
// [DefaultLimit].
func (c *Catalog) List(ctx context.Context, params ListParams) (ListResult, error) {
	if params.Limit == 0 {
		params.Limit = DefaultLimit
	}
	if err := params.Validate(); err != nil {
		return ListResult{}, err
	}

	var (
		names []string
		err   error
	)
	if len(params.Filters) == 0 {
		names, err = c.images.List(ctx)
		if err != nil {
			return ListResult{}, fmt.Errorf("listing images: %w", err)
		}
	} else {
		names, err = c.withAllLabels(ctx, params.Filters)
		if err != nil {
			return ListResult{}, err
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	total := len(names)
	start := total
	if params.Page <= total/params.Limit {
		start = min(params.Page*params.Limit, total)
	}
	end := min(start+params.Limit, total)
	page := names[start:end]
	if page == nil {
		page = []string{}
	}

	return ListResult{
		Images: page,
		Pagination: Pagination{
			Page:       params.Page,
			Limit:      params.Limit,
			Total:      total,
			TotalPages: (total + params.Limit - 1) / params.Limit,
		},
	}, nil
}

func (c *Catalog) withAllLabels(ctx context.Context, filters []string) ([]string, error) {
	var result map[string]struct{}
	for _, label := range filters {
		images, err := c.labels.ImagesWithLabel(ctx, label)
		if err != nil {
			return nil, fmt.Errorf("querying images with label %s: %w", label, err)
		}
		matched := make(map[string]struct{}, len(images))
		for _, img := range images {
			if _, ok := result[img]; result == nil || ok {
				matched[img] = struct{}{}
			}
		}
		result = matched
		if len(result) == 0 {
			break
		}
	}
	names := make([]string, 0, len(result))
	for img := range result {
		names = append(names, img)
	}
	return names, nil
}

func listParamsError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].Field() {
		case "Page":
			return types.NewInputError("page must be zero or greater")
		case "Limit":
			return types.NewInputError("limit must be between 1 and %d", MaxLimit)
		}
	}
	return types.NewInputError("invalid list parameters: %s", err)
}
