package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/cart"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/notify"
)

func validRequest() CheckoutRequest {
	return CheckoutRequest{
		FullName:       "Ivan Petrov",
		Phone:          "+79991234567",
		DeliveryMethod: DeliveryCourier,
		Address:        "Krasnodar, Severnaya 12",
		PaymentMethod:  PaymentCard,
	}
}

type shop struct {
	cartItems atomic.Int32
	orders    atomic.Int32
}

func (s *shop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/cart/" && r.Method == http.MethodGet:
		n := int(s.cartItems.Load())
		c := cart.Cart{TotalItems: n}
		if n > 0 {
			c.Items = []cart.Item{{ID: 1, ProductID: 1, Quantity: n, UnitPrice: 1000, TotalPrice: money.Money(1000 * n)}}
			c.TotalPrice = money.Money(1000 * n)
		}
		_ = json.NewEncoder(w).Encode(c)
	case r.URL.Path == "/orders/" && r.Method == http.MethodPost:
		var req CheckoutRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Address == "nowhere" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"address":["We do not deliver to this address."]}`))
			return
		}
		s.orders.Add(1)
		s.cartItems.Store(0)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Order{ID: 12, Number: "AG-0012", Status: "new", TotalPrice: 2000, DeliveryMethod: req.DeliveryMethod})
	case r.URL.Path == "/orders/" && r.Method == http.MethodGet:
		_, _ = w.Write([]byte(`{"count":1,"results":[{"id":12,"number":"AG-0012","status":"new","total_price":"20.00"}]}`))
	case r.URL.Path == "/orders/12/":
		_, _ = w.Write([]byte(`{"id":12,"number":"AG-0012","status":"shipped"}`))
	default:
		http.NotFound(w, r)
	}
}

func newTestService(t *testing.T, s *shop) (*Service, *cart.Container, *notify.Recorder) {
	t.Helper()
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	client := api.NewClient(api.Config{BaseURL: srv.URL, Timeout: time.Second}, nil, nil, zerolog.Nop())
	rec := notify.NewRecorder(10, nil)
	cartC := cart.NewContainer(cart.NewAPI(client), nil)
	return NewService(client, cartC, rec, zerolog.Nop()), cartC, rec
}

func TestCheckout_PlacesOrderAndReloadsCart(t *testing.T) {
	s := &shop{}
	s.cartItems.Store(2)
	svc, cartC, rec := newTestService(t, s)
	ctx := context.Background()
	_, err := cartC.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, cartC.Count())

	order, err := svc.Checkout(ctx, validRequest())
	require.NoError(t, err)
	assert.Equal(t, "AG-0012", order.Number)
	assert.Equal(t, DeliveryCourier, order.DeliveryMethod)
	assert.Equal(t, 0, cartC.Count())

	notes := rec.Drain()
	require.Len(t, notes, 1)
	assert.Equal(t, "Order AG-0012 for 20.00", notes[0].Message)
}

func TestCheckout_ValidatedClientSide(t *testing.T) {
	s := &shop{}
	s.cartItems.Store(1)
	svc, cartC, rec := newTestService(t, s)
	_, err := cartC.Load(context.Background())
	require.NoError(t, err)

	req := validRequest()
	req.Phone = "call me"
	req.Address = ""
	req.PaymentMethod = "barter"
	_, err = svc.Checkout(context.Background(), req)

	assert.ErrorIs(t, err, perrors.ErrValidation)
	fields := perrors.FieldErrors(err)
	assert.Contains(t, fields, "phone")
	assert.Contains(t, fields, "address")
	assert.Contains(t, fields, "payment_method")
	assert.Equal(t, int32(0), s.orders.Load())
	assert.Equal(t, perrors.KindValidation, rec.Drain()[0].Kind)
}

func TestCheckout_PickupNeedsNoAddress(t *testing.T) {
	s := &shop{}
	s.cartItems.Store(1)
	svc, cartC, _ := newTestService(t, s)
	_, err := cartC.Load(context.Background())
	require.NoError(t, err)

	req := validRequest()
	req.DeliveryMethod = DeliveryPickup
	req.Address = ""
	_, err = svc.Checkout(context.Background(), req)
	assert.NoError(t, err)
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := &shop{}
	svc, _, _ := newTestService(t, s)

	_, err := svc.Checkout(context.Background(), validRequest())
	assert.ErrorIs(t, err, perrors.ErrValidation)
	assert.Contains(t, perrors.FieldErrors(err), "items")
	assert.Equal(t, int32(0), s.orders.Load())
}

func TestCheckout_ServerFieldErrors(t *testing.T) {
	s := &shop{}
	s.cartItems.Store(1)
	svc, cartC, rec := newTestService(t, s)
	_, err := cartC.Load(context.Background())
	require.NoError(t, err)

	req := validRequest()
	req.Address = "nowhere"
	_, err = svc.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, perrors.ErrValidation)
	n := rec.Drain()[0]
	assert.Equal(t, []string{"We do not deliver to this address."}, n.Fields["address"])
	assert.Equal(t, 1, cartC.Count(), "cart untouched")
}

func TestListAndGet(t *testing.T) {
	svc, _, _ := newTestService(t, &shop{})
	ctx := context.Background()

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, money.Money(2000), list[0].TotalPrice)

	o, err := svc.Get(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "shipped", o.Status)
}
