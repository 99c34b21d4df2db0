// Package cart talks to the shopping cart endpoints and keeps an optimistic
// client-side copy of the cart.
package cart

import (
	"context"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/money"
)

// Item is one cart line.
type Item struct {
	ID          int64       `json:"id"`
	ProductID   int64       `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	TotalPrice  money.Money `json:"total_price"`
}

// Cart is the whole cart as the server reports it.
type Cart struct {
	Items      []Item      `json:"items"`
	TotalItems int         `json:"total_items"`
	TotalPrice money.Money `json:"total_price"`
}

// Clone returns a copy that shares no memory with c.
func (c Cart) Clone() Cart {
	out := c
	out.Items = append([]Item(nil), c.Items...)
	return out
}

// Item returns the line with the given id.
func (c Cart) Item(id int64) (Item, bool) {
	for _, it := range c.Items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// ProductLine returns the line holding productID.
func (c Cart) ProductLine(productID int64) (Item, bool) {
	for _, it := range c.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// Empty reports whether the cart has no lines.
func (c Cart) Empty() bool {
	return len(c.Items) == 0
}

// recalc recomputes line and cart totals from unit prices.
func (c Cart) recalc() Cart {
	c.TotalItems = 0
	c.TotalPrice = 0
	for i := range c.Items {
		c.Items[i].TotalPrice = c.Items[i].UnitPrice.Mul(c.Items[i].Quantity)
		c.TotalItems += c.Items[i].Quantity
		c.TotalPrice += c.Items[i].TotalPrice
	}
	return c
}

// API is the cart REST API. Every mutation answers with the full cart.
type API struct {
	cart  *api.Resource[Cart]
	items *api.Resource[Cart]
}

// NewAPI creates the cart API.
func NewAPI(c *api.Client) *API {
	return &API{
		cart:  api.NewResource[Cart](c, "cart"),
		items: api.NewResource[Cart](c, "cart/items"),
	}
}

// Get fetches the cart.
func (a *API) Get(ctx context.Context) (Cart, error) {
	return a.cart.Retrieve(ctx)
}

// AddItem adds quantity of a product, merging with an existing line.
func (a *API) AddItem(ctx context.Context, productID int64, quantity int) (Cart, error) {
	return a.items.Create(ctx, map[string]any{"product_id": productID, "quantity": quantity})
}

// UpdateItem sets a line's quantity.
func (a *API) UpdateItem(ctx context.Context, itemID int64, quantity int) (Cart, error) {
	return a.items.Patch(ctx, itemID, map[string]int{"quantity": quantity})
}

// RemoveItem deletes a line.
func (a *API) RemoveItem(ctx context.Context, itemID int64) (Cart, error) {
	return a.items.Delete(ctx, itemID)
}

// Clear empties the cart.
func (a *API) Clear(ctx context.Context) (Cart, error) {
	return a.cart.DeleteAll(ctx)
}
