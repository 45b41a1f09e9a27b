package storefront

import (
	"fmt"
	"strings"
)

// Category is a product category.
type Category struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// Product as returned by the API. Price is in kopecks.
type Product struct {
	ID          int64          `json:"id"`
	Title       string         `json:"title"`
	Price       int64          `json:"price"`
	CategoryID  int64          `json:"category_id"`
	Description *string        `json:"description"`
	Images      []string       `json:"images"`
	Stock       int            `json:"stock"`
	Status      string         `json:"status"`
	Attributes  map[string]any `json:"attributes"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	Category    *Category      `json:"category,omitempty"`
}

// Product statuses.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Available reports whether the product can be put in a cart.
func (p Product) Available() bool {
	return p.Status == StatusActive && p.Stock > 0
}

// ProductList is one page of products.
type ProductList struct {
	Items    []Product `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Pages    int       `json:"pages"`
}

// Attribute types. The API is not consistent about case, compare with Kind.
const (
	AttrString  = "string"
	AttrNumber  = "number"
	AttrBoolean = "boolean"
)

// Attribute is a category attribute definition.
type Attribute struct {
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Title      string `json:"title"`
	Type       string `json:"type"`
	Required   bool   `json:"required"`
}

// Kind returns the normalised attribute type.
func (a Attribute) Kind() string {
	return strings.ToLower(strings.TrimSpace(a.Type))
}

// ProductPayload is the body of a product create request.
type ProductPayload struct {
	Title       string         `json:"title"`
	Price       int64          `json:"price"`
	CategoryID  int64          `json:"category_id"`
	Description *string        `json:"description,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Stock       *int           `json:"stock,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// ProductUpdate is a partial product update; nil fields are left unchanged.
type ProductUpdate struct {
	Title       *string        `json:"title,omitempty"`
	Price       *int64         `json:"price,omitempty"`
	CategoryID  *int64         `json:"category_id,omitempty"`
	Description *string        `json:"description,omitempty"`
	Images      []string       `json:"images,omitempty"`
	Stock       *int           `json:"stock,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// User is the authenticated account.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	PictureURL string `json:"picture_url"`
	Role       string `json:"role"`
}

// IsAdmin reports whether the user may use the admin endpoints.
func (u User) IsAdmin() bool {
	return u.Role == "admin"
}

// FormatPrice renders kopecks as roubles, e.g. 13500000 -> "135 000,00 ₽".
func FormatPrice(kopecks int64) string {
	sign := ""
	if kopecks < 0 {
		sign = "-"
		kopecks = -kopecks
	}
	rub := fmt.Sprintf("%d", kopecks/100)

	var b strings.Builder
	for i, r := range rub {
		if i > 0 && (len(rub)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s,%02d ₽", sign, b.String(), kopecks%100)
}
