// Package storefront holds the storefront API services. Every call goes through
// an authenticated gateway, so services never see tokens or refresh logic.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// API is the subset of *gateway.Client the services need.
type API interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Patch(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string) error
}

// SortField is a product list sort key.
type SortField string

const (
	SortByID        SortField = "id"
	SortByPrice     SortField = "price"
	SortByTitle     SortField = "title"
	SortByCreatedAt SortField = "created_at"
)

// SortOrder is a product list sort direction.
type SortOrder string

const (
	Asc  SortOrder = "asc"
	Desc SortOrder = "desc"
)

// List defaults.
const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

var (
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidPage      = errors.New("page and page size must be positive")
)

// ListOptions selects a page of products. Zero values take the defaults.
type ListOptions struct {
	Page      int
	PageSize  int
	SortBy    SortField
	SortOrder SortOrder
}

func (o ListOptions) query() (url.Values, error) {
	if o.Page == 0 {
		o.Page = DefaultPage
	}
	if o.PageSize == 0 {
		o.PageSize = DefaultPageSize
	}
	if o.SortBy == "" {
		o.SortBy = SortByID
	}
	if o.SortOrder == "" {
		o.SortOrder = Asc
	}

	if o.Page < 0 || o.PageSize < 0 {
		return nil, ErrInvalidPage
	}
	switch o.SortBy {
	case SortByID, SortByPrice, SortByTitle, SortByCreatedAt:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortField, o.SortBy)
	}
	switch o.SortOrder {
	case Asc, Desc:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSortOrder, o.SortOrder)
	}

	return url.Values{
		"page":       {strconv.Itoa(o.Page)},
		"page_size":  {strconv.Itoa(o.PageSize)},
		"sort_by":    {string(o.SortBy)},
		"sort_order": {string(o.SortOrder)},
	}, nil
}

// ProductService reads the public catalogue.
type ProductService struct {
	api API
}

// NewProductService creates a ProductService.
func NewProductService(api API) *ProductService {
	return &ProductService{api: api}
}

// List returns one page of products.
func (s *ProductService) List(ctx context.Context, opts ListOptions) (*ProductList, error) {
	query, err := opts.query()
	if err != nil {
		return nil, err
	}
	var list ProductList
	if err := s.api.Get(ctx, "/api/v1/products", query, &list); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return &list, nil
}

// Get returns a single product.
func (s *ProductService) Get(ctx context.Context, id int64) (*Product, error) {
	var p Product
	if err := s.api.Get(ctx, productPath(id), nil, &p); err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return &p, nil
}

// Categories returns all categories.
func (s *ProductService) Categories(ctx context.Context) ([]Category, error) {
	return listCategories(ctx, s.api)
}

func listCategories(ctx context.Context, api API) ([]Category, error) {
	var categories []Category
	if err := api.Get(ctx, "/api/v1/categories", nil, &categories); err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

func productPath(id int64) string {
	return "/api/v1/products/" + strconv.FormatInt(id, 10)
}
