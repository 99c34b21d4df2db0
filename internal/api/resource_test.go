package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func TestPage_DecodesBareArray(t *testing.T) {
	var p Page[item]
	require.NoError(t, json.Unmarshal([]byte(`[{"id":1,"name":"seed"},{"id":2,"name":"hoe"}]`), &p))
	assert.Equal(t, 2, p.Count)
	assert.Equal(t, []item{{1, "seed"}, {2, "hoe"}}, p.Results)
	assert.Empty(t, p.Next)
}

func TestPage_DecodesPaginatedObject(t *testing.T) {
	var p Page[item]
	body := `{"count":40,"next":"http://x/api/products/?page=3","previous":"http://x/api/products/?page=1","results":[{"id":21,"name":"urea"}]}`
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	assert.Equal(t, 40, p.Count)
	assert.Equal(t, "http://x/api/products/?page=3", p.Next)
	assert.Len(t, p.Results, 1)
}

func TestPage_RejectsGarbage(t *testing.T) {
	var p Page[item]
	assert.Error(t, json.Unmarshal([]byte(`"nope"`), &p))
}

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newResourceClient(t *testing.T, reply string) (*Client, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{r.Method, r.URL.Path, r.URL.RawQuery, string(body)})
		rec.mu.Unlock()
		if r.Method == http.MethodDelete && r.URL.Path == "/api/items/9/" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/api"}, nil, nil, zerolog.Nop()), rec
}

func TestResource_Paths(t *testing.T) {
	r := NewResource[item](nil, "/cart/items/")
	assert.Equal(t, "cart/items", r.Name())
	assert.Equal(t, "/cart/items/", r.Path())
	assert.Equal(t, "/cart/items/7/", r.Path("7"))
	assert.Equal(t, "cart.items.delete", r.op("delete"))
}

func TestResource_CRUD(t *testing.T) {
	c, calls := newResourceClient(t, `{"id":9,"name":"rake"}`)
	r := NewResource[item](c, "items")
	ctx := context.Background()

	got, err := r.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, item{9, "rake"}, got)

	_, err = r.Create(ctx, map[string]string{"name": "rake"})
	require.NoError(t, err)
	_, err = r.Patch(ctx, 9, map[string]int{"quantity": 2})
	require.NoError(t, err)
	_, err = r.Update(ctx, 9, item{9, "rake"})
	require.NoError(t, err)
	deleted, err := r.Delete(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, item{}, deleted, "204 yields the zero value")

	assert.Equal(t, []recorded{
		{http.MethodGet, "/api/items/9/", "", ""},
		{http.MethodPost, "/api/items/", "", `{"name":"rake"}`},
		{http.MethodPatch, "/api/items/9/", "", `{"quantity":2}`},
		{http.MethodPut, "/api/items/9/", "", `{"id":9,"name":"rake"}`},
		{http.MethodDelete, "/api/items/9/", "", ""},
	}, calls.all())
}

func TestResource_ListWithQuery(t *testing.T) {
	c, calls := newResourceClient(t, `[{"id":1,"name":"a"}]`)
	r := NewResource[item](c, "items")

	page, err := r.List(context.Background(), url.Values{"category": {"3"}})
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, "category=3", calls.all()[0].query)
}

func TestResource_CallRequiresMethod(t *testing.T) {
	r := NewResource[item](nil, "favorites")
	err := r.Call(context.Background(), "check", "", []string{"check", "1"}, nil, nil)
	assert.Error(t, err)
}
