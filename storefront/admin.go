package storefront

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrTitleRequired    = errors.New("product title is required")
	ErrInvalidPrice     = errors.New("price must be a positive number of kopecks")
	ErrCategoryRequired = errors.New("category is required")
)

// MissingAttributeError names a required category attribute left empty.
type MissingAttributeError struct {
	Title string
}

func (e *MissingAttributeError) Error() string {
	return "required attribute is missing: " + e.Title
}

// AdminService manages the product catalogue. The API rejects non-admin users.
type AdminService struct {
	api API
}

// NewAdminService creates an AdminService.
func NewAdminService(api API) *AdminService {
	return &AdminService{api: api}
}

// CategoryAttributes returns the attribute definitions of a category.
func (s *AdminService) CategoryAttributes(ctx context.Context, categoryID int64) ([]Attribute, error) {
	var attrs []Attribute
	path := fmt.Sprintf("/api/v1/categories/%d/attributes", categoryID)
	if err := s.api.Get(ctx, path, nil, &attrs); err != nil {
		return nil, fmt.Errorf("failed to load attributes of category %d: %w", categoryID, err)
	}
	return attrs, nil
}

// CreateProduct creates a product.
func (s *AdminService) CreateProduct(ctx context.Context, payload ProductPayload) (*Product, error) {
	var p Product
	if err := s.api.Post(ctx, "/api/v1/products", payload, &p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return &p, nil
}

// UpdateProduct applies a partial update.
func (s *AdminService) UpdateProduct(ctx context.Context, id int64, update ProductUpdate) (*Product, error) {
	var p Product
	if err := s.api.Patch(ctx, productPath(id), update, &p); err != nil {
		return nil, fmt.Errorf("failed to update product %d: %w", id, err)
	}
	return &p, nil
}

// DeleteProduct deletes a product.
func (s *AdminService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.api.Delete(ctx, productPath(id)); err != nil {
		return fmt.Errorf("failed to delete product %d: %w", id, err)
	}
	return nil
}

// Categories returns all categories.
func (s *AdminService) Categories(ctx context.Context) ([]Category, error) {
	return listCategories(ctx, s.api)
}

// ProductDraft is product input as typed by a user: every field is text until
// Payload validates and converts it.
type ProductDraft struct {
	Title       string
	Price       string
	CategoryID  int64
	Description string
	Images      string // comma separated URLs
	Stock       string
	Attributes  map[string]string
}

// Payload validates the draft against the category attribute definitions and
// converts attribute values to their declared types.
func (d ProductDraft) Payload(defs []Attribute) (*ProductPayload, error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}

	price, err := strconv.ParseInt(strings.TrimSpace(d.Price), 10, 64)
	if err != nil || price <= 0 {
		return nil, ErrInvalidPrice
	}

	if d.CategoryID <= 0 {
		return nil, ErrCategoryRequired
	}

	for _, def := range defs {
		if def.Required && strings.TrimSpace(d.Attributes[def.Title]) == "" {
			return nil, &MissingAttributeError{Title: def.Title}
		}
	}

	attrs, err := ConvertAttributes(defs, d.Attributes)
	if err != nil {
		return nil, err
	}

	stock, err := strconv.Atoi(strings.TrimSpace(d.Stock))
	if err != nil {
		stock = 0
	}

	payload := &ProductPayload{
		Title:      title,
		Price:      price,
		CategoryID: d.CategoryID,
		Images:     splitList(d.Images),
		Stock:      &stock,
		Attributes: attrs,
	}
	if desc := strings.TrimSpace(d.Description); desc != "" {
		payload.Description = &desc
	}
	return payload, nil
}

// Draft field names, as accepted by Update.
const (
	FieldTitle       = "title"
	FieldPrice       = "price"
	FieldCategory    = "category"
	FieldDescription = "description"
	FieldImages      = "images"
	FieldStock       = "stock"
	FieldAttributes  = "attr"
)

// Update builds a partial update from the fields named in set. Fields that are
// set are validated as in Payload; required attributes are not enforced
// because the API keeps the stored values.
func (d ProductDraft) Update(defs []Attribute, set map[string]bool) (*ProductUpdate, error) {
	var u ProductUpdate

	if set[FieldTitle] {
		title := strings.TrimSpace(d.Title)
		if title == "" {
			return nil, ErrTitleRequired
		}
		u.Title = &title
	}
	if set[FieldPrice] {
		price, err := strconv.ParseInt(strings.TrimSpace(d.Price), 10, 64)
		if err != nil || price <= 0 {
			return nil, ErrInvalidPrice
		}
		u.Price = &price
	}
	if set[FieldCategory] {
		if d.CategoryID <= 0 {
			return nil, ErrCategoryRequired
		}
		u.CategoryID = &d.CategoryID
	}
	if set[FieldDescription] {
		desc := strings.TrimSpace(d.Description)
		u.Description = &desc
	}
	if set[FieldImages] {
		u.Images = splitList(d.Images)
	}
	if set[FieldStock] {
		stock, err := strconv.Atoi(strings.TrimSpace(d.Stock))
		if err != nil {
			stock = 0
		}
		u.Stock = &stock
	}
	if set[FieldAttributes] {
		attrs, err := ConvertAttributes(defs, d.Attributes)
		if err != nil {
			return nil, err
		}
		u.Attributes = attrs
	}
	return &u, nil
}

// ConvertAttributes converts raw attribute values to the types declared in defs.
// Empty values are dropped; values without a definition stay strings.
func ConvertAttributes(defs []Attribute, raw map[string]string) (map[string]any, error) {
	byTitle := make(map[string]Attribute, len(defs))
	for _, def := range defs {
		byTitle[def.Title] = def
	}

	out := make(map[string]any, len(raw))
	for key, value := range raw {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		switch byTitle[key].Kind() {
		case AttrNumber:
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("attribute %q must be a number, got %q", key, value)
			}
			out[key] = n
		case AttrBoolean:
			out[key] = strings.EqualFold(value, "true") || value == "1"
		default:
			out[key] = value
		}
	}
	return out, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
