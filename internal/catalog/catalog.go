// Package catalog reads products and categories. Product details are kept
// in an in-process LRU cache with a TTL.
package catalog

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/cache"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/validate"
)

// Category groups products ("Seeds", "Fertilizers", ...).
type Category struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Slug   string `json:"slug"`
	Parent int64  `json:"parent,omitempty"`
}

// Product is a catalog item.
type Product struct {
	ID           int64       `json:"id"`
	Name         string      `json:"name"`
	Slug         string      `json:"slug"`
	Description  string      `json:"description,omitempty"`
	Category     int64       `json:"category"`
	CategoryName string      `json:"category_name,omitempty"`
	Price        money.Money `json:"price"`
	OldPrice     money.Money `json:"old_price,omitempty"`
	Unit         string      `json:"unit,omitempty"`
	InStock      bool        `json:"in_stock"`
	Stock        int         `json:"stock"`
	Image        string      `json:"image,omitempty"`
}

// Filter narrows a product listing. Zero fields are not sent.
type Filter struct {
	Category int64  `json:"category" validate:"gte=0"`
	Search   string `json:"search" validate:"max=100"`
	Ordering string `json:"ordering" validate:"omitempty,oneof=price -price name -name created_at -created_at"`
	InStock  bool   `json:"in_stock"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0,lte=100"`
}

// Query encodes f as listing query parameters.
func (f Filter) Query() url.Values {
	q := url.Values{}
	if f.Category > 0 {
		q.Set("category", strconv.FormatInt(f.Category, 10))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Ordering != "" {
		q.Set("ordering", f.Ordering)
	}
	if f.InStock {
		q.Set("in_stock", "true")
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return q
}

// Catalog is the product catalog API.
type Catalog struct {
	products   *api.Resource[Product]
	categories *api.Resource[Category]
	cache      *cache.Cache[int64, Product]
	validator  *validate.Validator
	logger     zerolog.Logger
}

// New creates a catalog holding up to cacheSize product details for ttl.
func New(c *api.Client, cacheSize int, ttl time.Duration, logger zerolog.Logger) *Catalog {
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Catalog{
		products:   api.NewResource[Product](c, "products"),
		categories: api.NewResource[Category](c, "categories"),
		cache:      cache.New[int64, Product](cacheSize, ttl),
		validator:  validate.New(),
		logger:     logger.With().Str("component", "catalog").Logger(),
	}
}

// Products lists one page of products matching f.
func (c *Catalog) Products(ctx context.Context, f Filter) (api.Page[Product], error) {
	if err := c.validator.Struct("catalog.products", f); err != nil {
		return api.Page[Product]{}, err
	}
	return c.products.List(ctx, f.Query())
}

// Product returns one product, from cache when fresh.
func (c *Catalog) Product(ctx context.Context, id int64) (Product, error) {
	if p, ok := c.cache.Get(id); ok {
		return p, nil
	}
	p, err := c.products.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	c.cache.Put(id, p)
	return p, nil
}

// Cached returns a product only if its details are already cached. It never
// touches the network.
func (c *Catalog) Cached(id int64) (Product, bool) {
	return c.cache.Get(id)
}

// Categories lists all categories.
func (c *Catalog) Categories(ctx context.Context) ([]Category, error) {
	page, err := c.categories.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Invalidate drops a cached product, e.g. after its stock changed.
func (c *Catalog) Invalidate(id int64) {
	c.cache.Delete(id)
}

// CacheStats reports product cache effectiveness.
func (c *Catalog) CacheStats() cache.Stats {
	s := c.cache.Stats()
	c.logger.Debug().
		Uint64("hits", s.Hits).
		Uint64("misses", s.Misses).
		Uint64("evictions", s.Evictions).
		Msg("product cache stats")
	return s
}
