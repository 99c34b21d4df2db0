package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
)

// Page is a paginated list response. Endpoints that return a bare JSON array
// decode into a single page.
type Page[T any] struct {
	Count    int    `json:"count"`
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
	Results  []T    `json:"results"`
}

func (p *Page[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*p = Page[T]{Count: len(items), Results: items}
		return nil
	}
	var raw struct {
		Count    int    `json:"count"`
		Next     string `json:"next"`
		Previous string `json:"previous"`
		Results  []T    `json:"results"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	*p = Page[T]{Count: raw.Count, Next: raw.Next, Previous: raw.Previous, Results: raw.Results}
	return nil
}

// Resource maps CRUD operations on one REST collection ("products",
// "cart/items", ...) to client calls. T is the shape the endpoints return.
type Resource[T any] struct {
	client *Client
	name   string
}

// NewResource creates a resource rooted at /<name>/.
func NewResource[T any](c *Client, name string) *Resource[T] {
	return &Resource[T]{client: c, name: strings.Trim(name, "/")}
}

// Name returns the resource path name.
func (r *Resource[T]) Name() string {
	return r.name
}

// Path returns the collection path, or the path of a sub-resource when
// segments are given: Path("check", "7") is /favorites/check/7/.
func (r *Resource[T]) Path(segments ...string) string {
	p := "/" + r.name + "/"
	for _, s := range segments {
		p += url.PathEscape(s) + "/"
	}
	return p
}

func (r *Resource[T]) op(verb string) string {
	return strings.ReplaceAll(r.name, "/", ".") + "." + verb
}

// List fetches one page of the collection.
func (r *Resource[T]) List(ctx context.Context, query url.Values) (Page[T], error) {
	var out Page[T]
	err := r.client.Do(ctx, r.op("list"), Request{Method: http.MethodGet, Path: r.Path(), Query: query}, &out)
	return out, err
}

// Retrieve fetches the collection root as a single object (singleton
// resources such as the cart).
func (r *Resource[T]) Retrieve(ctx context.Context) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("get"), Request{Method: http.MethodGet, Path: r.Path()}, &out)
	return out, err
}

// Get fetches one object by id.
func (r *Resource[T]) Get(ctx context.Context, id int64) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("get"), Request{Method: http.MethodGet, Path: r.Path(itoa(id))}, &out)
	return out, err
}

// Create POSTs body to the collection.
func (r *Resource[T]) Create(ctx context.Context, body any) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("create"), Request{Method: http.MethodPost, Path: r.Path(), Body: body}, &out)
	return out, err
}

// Update PUTs body to one object.
func (r *Resource[T]) Update(ctx context.Context, id int64, body any) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("update"), Request{Method: http.MethodPut, Path: r.Path(itoa(id)), Body: body}, &out)
	return out, err
}

// Patch PATCHes body onto one object.
func (r *Resource[T]) Patch(ctx context.Context, id int64, body any) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("update"), Request{Method: http.MethodPatch, Path: r.Path(itoa(id)), Body: body}, &out)
	return out, err
}

// Delete removes one object. Endpoints that answer with a body (the cart
// returns itself) decode into T; a 204 yields the zero value.
func (r *Resource[T]) Delete(ctx context.Context, id int64) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("delete"), Request{Method: http.MethodDelete, Path: r.Path(itoa(id))}, &out)
	return out, err
}

// DeleteAll sends DELETE to the collection root.
func (r *Resource[T]) DeleteAll(ctx context.Context) (T, error) {
	var out T
	err := r.client.Do(ctx, r.op("clear"), Request{Method: http.MethodDelete, Path: r.Path()}, &out)
	return out, err
}

// Call performs a custom request below the resource and decodes into out.
func (r *Resource[T]) Call(ctx context.Context, verb, method string, segments []string, body, out any) error {
	if method == "" {
		return perrors.New(perrors.KindUnknown, r.op(verb), "missing method")
	}
	return r.client.Do(ctx, r.op(verb), Request{Method: method, Path: r.Path(segments...), Body: body}, out)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
