// Package orders places and lists orders.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/cart"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/validate"
)

// Delivery methods.
const (
	DeliveryPickup  = "pickup"
	DeliveryCourier = "courier"
	DeliveryPost    = "post"
)

// Payment methods.
const (
	PaymentCash   = "cash"
	PaymentCard   = "card"
	PaymentOnline = "online"
)

// CheckoutRequest is the checkout form. The server builds the order from
// the current cart.
type CheckoutRequest struct {
	FullName       string `json:"full_name" validate:"required,max=200"`
	Phone          string `json:"phone" validate:"required,e164"`
	Email          string `json:"email,omitempty" validate:"omitempty,email"`
	DeliveryMethod string `json:"delivery_method" validate:"required,oneof=pickup courier post"`
	Address        string `json:"address,omitempty" validate:"required_unless=DeliveryMethod pickup,max=500"`
	PaymentMethod  string `json:"payment_method" validate:"required,oneof=cash card online"`
	Comment        string `json:"comment,omitempty" validate:"max=1000"`
}

// Item is one ordered line, priced at order time.
type Item struct {
	ProductID   int64       `json:"product_id"`
	ProductName string      `json:"product_name"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Money `json:"unit_price"`
	TotalPrice  money.Money `json:"total_price"`
}

// Order is a placed order.
type Order struct {
	ID             int64       `json:"id"`
	Number         string      `json:"number"`
	Status         string      `json:"status"`
	Items          []Item      `json:"items"`
	TotalPrice     money.Money `json:"total_price"`
	DeliveryMethod string      `json:"delivery_method"`
	PaymentMethod  string      `json:"payment_method"`
	Address        string      `json:"address,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Service is the orders API.
type Service struct {
	res       *api.Resource[Order]
	cart      *cart.Container
	validator *validate.Validator
	notifier  notify.Notifier
	logger    zerolog.Logger
}

// NewService creates the orders API. When cartC is set, checkout refuses an
// empty cart and reloads it after the order is placed.
func NewService(c *api.Client, cartC *cart.Container, n notify.Notifier, logger zerolog.Logger) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		res:       api.NewResource[Order](c, "orders"),
		cart:      cartC,
		validator: validate.New(),
		notifier:  n,
		logger:    logger.With().Str("component", "orders").Logger(),
	}
}

// Checkout places an order for the current cart.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (Order, error) {
	const op = "orders.create"
	if err := s.validator.Struct(op, req); err != nil {
		s.report(ctx, op, err)
		return Order{}, err
	}
	if s.cart != nil && s.cart.Count() == 0 {
		err := perrors.Validation(op, map[string][]string{"items": {"The cart is empty"}})
		s.report(ctx, op, err)
		return Order{}, err
	}

	order, err := s.res.Create(ctx, req)
	if err != nil {
		s.report(ctx, op, err)
		return Order{}, err
	}
	s.logger.Info().Int64("order_id", order.ID).Str("number", order.Number).Msg("order placed")
	s.notify(ctx, notify.Success(op, "Order placed", fmt.Sprintf("Order %s for %s", order.Number, order.TotalPrice)))

	if s.cart != nil {
		// The backend empties the cart when it accepts the order.
		if _, err := s.cart.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("reloading cart after checkout")
		}
	}
	return order, nil
}

// List returns the user's orders, newest first.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	page, err := s.res.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.res.Get(ctx, id)
}

func (s *Service) report(ctx context.Context, op string, err error) {
	s.notify(ctx, notify.ForError(op, err))
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver notification")
	}
}
