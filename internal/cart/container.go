package cart

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/catalog"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/metrics"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/optimistic"
)

// DefaultMaxQuantity caps a single line.
const DefaultMaxQuantity = 99

// ProductLookup supplies name and price for an optimistic new line without a
// network call. *catalog.Catalog satisfies it.
type ProductLookup interface {
	Cached(id int64) (catalog.Product, bool)
}

// Container is the optimistic cart shown to the user.
type Container struct {
	api      *API
	value    *optimistic.Value[Cart]
	notifier notify.Notifier
	products ProductLookup
	maxQty   int
	logger   zerolog.Logger
}

// Option configures a Container.
type Option func(*Container)

// WithNotifier sets where failures and confirmations are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Container) { c.notifier = n }
}

// WithProducts lets new lines show name and price before the server answers.
func WithProducts(p ProductLookup) Option {
	return func(c *Container) { c.products = p }
}

// WithMaxQuantity sets the per-line quantity cap.
func WithMaxQuantity(n int) Option {
	return func(c *Container) {
		if n > 0 {
			c.maxQty = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) { c.logger = logger.With().Str("component", "cart").Logger() }
}

// NewContainer creates an empty cart container.
func NewContainer(a *API, m *metrics.Metrics, opts ...Option) *Container {
	c := &Container{
		api:      a,
		value:    optimistic.NewValue("cart", Cart{}, m),
		notifier: notify.Nop{},
		maxQty:   DefaultMaxQuantity,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load replaces the local cart with the server's.
func (c *Container) Load(ctx context.Context) (Cart, error) {
	cart, err := c.api.Get(ctx)
	if err != nil {
		c.report(ctx, "cart.get", err)
		return Cart{}, err
	}
	c.value.Set(cart)
	return cart.Clone(), nil
}

// Add puts quantity of productID in the cart.
func (c *Container) Add(ctx context.Context, productID int64, quantity int) (Cart, error) {
	const op = "cart.add"
	current := c.value.Get()
	have := 0
	if line, ok := current.ProductLine(productID); ok {
		have = line.Quantity
	}
	if err := c.checkQuantity(op, have+quantity, 1); err != nil {
		c.report(ctx, op, err)
		return current.Clone(), err
	}

	cart, err := c.value.Mutate(ctx, func(cur Cart) Cart {
		next := cur.Clone()
		for i := range next.Items {
			if next.Items[i].ProductID == productID {
				next.Items[i].Quantity += quantity
				return next.recalc()
			}
		}
		line := Item{ProductID: productID, Quantity: quantity}
		if c.products != nil {
			if p, ok := c.products.Cached(productID); ok {
				line.ProductName = p.Name
				line.UnitPrice = p.Price
			}
		}
		next.Items = append(next.Items, line)
		return next.recalc()
	}, func(ctx context.Context) (Cart, error) {
		return c.api.AddItem(ctx, productID, quantity)
	})
	if err != nil {
		c.report(ctx, op, err)
		return c.Snapshot(), err
	}
	c.notify(ctx, notify.Success(op, "Added to cart", addedMessage(cart, productID, quantity)))
	return cart.Clone(), nil
}

// SetQuantity changes a line's quantity. Zero removes the line.
func (c *Container) SetQuantity(ctx context.Context, itemID int64, quantity int) (Cart, error) {
	const op = "cart.update"
	if quantity == 0 {
		return c.Remove(ctx, itemID)
	}
	if err := c.checkQuantity(op, quantity, 1); err != nil {
		c.report(ctx, op, err)
		return c.Snapshot(), err
	}

	cart, err := c.value.Mutate(ctx, func(cur Cart) Cart {
		next := cur.Clone()
		for i := range next.Items {
			if next.Items[i].ID == itemID {
				next.Items[i].Quantity = quantity
			}
		}
		return next.recalc()
	}, func(ctx context.Context) (Cart, error) {
		return c.api.UpdateItem(ctx, itemID, quantity)
	})
	if err != nil {
		c.report(ctx, op, err)
		return c.Snapshot(), err
	}
	return cart.Clone(), nil
}

// Remove deletes a line.
func (c *Container) Remove(ctx context.Context, itemID int64) (Cart, error) {
	const op = "cart.remove"
	cart, err := c.value.Mutate(ctx, func(cur Cart) Cart {
		next := Cart{}
		for _, it := range cur.Items {
			if it.ID != itemID {
				next.Items = append(next.Items, it)
			}
		}
		return next.recalc()
	}, func(ctx context.Context) (Cart, error) {
		return c.api.RemoveItem(ctx, itemID)
	})
	if err != nil {
		c.report(ctx, op, err)
		return c.Snapshot(), err
	}
	return cart.Clone(), nil
}

// Clear empties the cart.
func (c *Container) Clear(ctx context.Context) (Cart, error) {
	const op = "cart.clear"
	cart, err := c.value.Mutate(ctx, func(Cart) Cart {
		return Cart{}
	}, func(ctx context.Context) (Cart, error) {
		return c.api.Clear(ctx)
	})
	if err != nil {
		c.report(ctx, op, err)
		return c.Snapshot(), err
	}
	c.notify(ctx, notify.Success(op, "Cart cleared", "All items were removed from the cart."))
	return cart.Clone(), nil
}

// Snapshot returns the displayed cart.
func (c *Container) Snapshot() Cart {
	return c.value.Get().Clone()
}

// Count returns the displayed number of units.
func (c *Container) Count() int {
	return c.value.Get().TotalItems
}

// Total returns the displayed cart total.
func (c *Container) Total() money.Money {
	return c.value.Get().TotalPrice
}

// Pending reports unsettled mutations.
func (c *Container) Pending() int {
	return c.value.Pending()
}

// OnChange registers fn to observe every displayed cart.
func (c *Container) OnChange(fn func(Cart)) {
	c.value.OnChange(fn)
}

func (c *Container) checkQuantity(op string, quantity, min int) error {
	if quantity < min || quantity > c.maxQty {
		return perrors.Validation(op, map[string][]string{
			"quantity": {fmt.Sprintf("Quantity must be between %d and %d", min, c.maxQty)},
		})
	}
	return nil
}

func (c *Container) report(ctx context.Context, op string, err error) {
	c.logger.Warn().Err(err).Str("op", op).Str("kind", string(perrors.KindOf(err))).Msg("cart operation failed")
	c.notify(ctx, notify.ForError(op, err))
}

func (c *Container) notify(ctx context.Context, n notify.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Error().Err(err).Msg("failed to deliver notification")
	}
}

func addedMessage(cart Cart, productID int64, quantity int) string {
	if line, ok := cart.ProductLine(productID); ok && line.ProductName != "" {
		return fmt.Sprintf("%s x%d", line.ProductName, quantity)
	}
	return fmt.Sprintf("%d item(s) added", quantity)
}
