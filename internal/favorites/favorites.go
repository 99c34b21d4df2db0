// Package favorites manages the user's favorite products with optimistic
// toggling.
package favorites

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/catalog"
)

// Favorite is one saved product.
type Favorite struct {
	ID        int64            `json:"id"`
	ProductID int64            `json:"product_id"`
	Product   *catalog.Product `json:"product,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// State is whether one product is a favorite. FavoriteID is 0 when it is not.
type State struct {
	IsFavorited bool  `json:"is_favorited"`
	FavoriteID  int64 `json:"favorite_id"`
}

// API is the favorites REST API.
type API struct {
	res *api.Resource[Favorite]
}

// NewAPI creates the favorites API.
func NewAPI(c *api.Client) *API {
	return &API{res: api.NewResource[Favorite](c, "favorites")}
}

// List returns every favorite.
func (a *API) List(ctx context.Context) ([]Favorite, error) {
	page, err := a.res.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Add saves a product.
func (a *API) Add(ctx context.Context, productID int64) (Favorite, error) {
	return a.res.Create(ctx, map[string]int64{"product_id": productID})
}

// Remove deletes a favorite by its own id.
func (a *API) Remove(ctx context.Context, favoriteID int64) error {
	_, err := a.res.Delete(ctx, favoriteID)
	return err
}

// Check asks whether a product is a favorite.
func (a *API) Check(ctx context.Context, productID int64) (State, error) {
	var st State
	err := a.res.Call(ctx, "check", http.MethodGet, []string{"check", strconv.FormatInt(productID, 10)}, nil, &st)
	return st, err
}
