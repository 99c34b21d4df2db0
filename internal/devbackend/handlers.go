package devbackend

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/agrostore/internal/account"
	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/catalog"
	"github.com/p-blackswan/agrostore/internal/courses"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/orders"
)

const nonFieldErrors = "non_field_errors"

type tokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

func fieldErrors(c *fiber.Ctx, fields map[string][]string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fields)
}

// writeError renders state and validation errors the way the real API does.
func writeError(c *fiber.Ctx, err error) error {
	var fe *fieldError
	var nf *notFoundError
	switch {
	case errors.As(err, &fe):
		return fieldErrors(c, map[string][]string{fe.field: {fe.message}})
	case errors.As(err, &nf):
		return detail(c, fiber.StatusNotFound, "Not found.")
	case perrors.KindOf(err) == perrors.KindValidation:
		return fieldErrors(c, perrors.FieldErrors(err))
	default:
		return err
	}
}

// bind decodes JSON into v and validates it. When ok is false the error
// response has already been written and err is what the handler returns.
func (s *Server) bind(c *fiber.Ctx, op string, v any) (ok bool, err error) {
	if err := c.BodyParser(v); err != nil {
		return false, detail(c, fiber.StatusBadRequest, "JSON parse error.")
	}
	if err := s.validator.Struct(op, v); err != nil {
		return false, writeError(c, err)
	}
	return true, nil
}

func pathID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	return id, err == nil && id > 0
}

// Auth

func (s *Server) grant(c *fiber.Ctx, userID int64, grant string, status int, extra fiber.Map) error {
	access, refresh, err := s.tokens.pair(userID)
	if err != nil {
		return err
	}
	s.metrics.tokens.WithLabelValues(grant).Inc()
	if n := s.state.mergeGuestCart(strings.Clone(c.Get(api.SessionKeyHeader)), userID); n > 0 {
		s.logger.Info().Int64("user", userID).Int("lines", n).Msg("merged guest cart")
	}
	body := fiber.Map{"access": access, "refresh": refresh}
	for k, v := range extra {
		body[k] = v
	}
	return c.Status(status).JSON(body)
}

func (s *Server) obtainToken(c *fiber.Ctx) error {
	var creds account.Credentials
	if ok, err := s.bind(c, "auth.token", &creds); !ok {
		return err
	}
	p, ok := s.state.authenticate(creds.Email, creds.Password)
	if !ok {
		return detail(c, fiber.StatusUnauthorized, "No active account found with the given credentials")
	}
	return s.grant(c, p.ID, "password", fiber.StatusOK, nil)
}

func (s *Server) register(c *fiber.Ctx) error {
	var reg account.Registration
	if ok, err := s.bind(c, "auth.register", &reg); !ok {
		return err
	}
	p, err := s.state.register(reg)
	if err != nil {
		return writeError(c, err)
	}
	s.logger.Info().Int64("user", p.ID).Msg("user registered")
	return s.grant(c, p.ID, "register", fiber.StatusCreated, fiber.Map{"user": p})
}

func (s *Server) refreshToken(c *fiber.Ctx) error {
	var body struct {
		Refresh string `json:"refresh" validate:"required"`
	}
	if ok, err := s.bind(c, "auth.refresh", &body); !ok {
		return err
	}
	cl, err := s.tokens.parse(body.Refresh, tokenRefresh)
	if err != nil {
		s.logger.Debug().Err(err).Msg("refresh rejected")
		return tokenInvalid(c)
	}
	if _, ok := s.state.profile(cl.UserID); !ok {
		return tokenInvalid(c)
	}

	resp := tokenPair{}
	if resp.Access, err = s.tokens.issue(cl.UserID, tokenAccess, s.config.AccessTTL); err != nil {
		return err
	}
	if s.config.RotateRefresh {
		if resp.Refresh, err = s.tokens.issue(cl.UserID, tokenRefresh, s.config.RefreshTTL); err != nil {
			return err
		}
		s.tokens.revoke(cl)
	}
	s.metrics.tokens.WithLabelValues("refresh").Inc()
	return c.JSON(resp)
}

func (s *Server) logout(c *fiber.Ctx) error {
	var body struct {
		Refresh string `json:"refresh" validate:"required"`
	}
	if ok, err := s.bind(c, "auth.logout", &body); !ok {
		return err
	}
	// The refresh token is the credential here; no bearer is required.
	cl, err := s.tokens.parse(body.Refresh, tokenRefresh)
	if err != nil {
		return detail(c, fiber.StatusBadRequest, "Token is invalid or expired")
	}
	s.tokens.revoke(cl)
	return detail(c, fiber.StatusOK, "Successfully logged out.")
}

func (s *Server) me(c *fiber.Ctx) error {
	p, ok := s.state.profile(userIDOf(c))
	if !ok {
		return tokenInvalid(c)
	}
	return c.JSON(p)
}

// Catalog

func (s *Server) listCategories(c *fiber.Ctx) error {
	return c.JSON(s.state.listCategories())
}

func (s *Server) listProducts(c *fiber.Ctx) error {
	f := catalog.Filter{
		Category: int64(c.QueryInt("category")),
		Search:   c.Query("search"),
		Ordering: c.Query("ordering"),
		InStock:  c.QueryBool("in_stock"),
		Page:     c.QueryInt("page"),
		PageSize: c.QueryInt("page_size"),
	}
	if err := s.validator.Struct("products.list", f); err != nil {
		return writeError(c, err)
	}
	results, total := s.state.listProducts(f)
	page := api.Page[catalog.Product]{Count: total, Results: results}

	current := max(f.Page, 1)
	if _, end := pageWindow(current, f.PageSize, total); end < total {
		page.Next = s.pageURL(c, f, current+1)
	}
	if current > 1 {
		page.Previous = s.pageURL(c, f, current-1)
	}
	return c.JSON(page)
}

func (s *Server) pageURL(c *fiber.Ctx, f catalog.Filter, n int) string {
	f.Page = n
	u := url.URL{Path: c.Path(), RawQuery: f.Query().Encode()}
	return c.BaseURL() + u.String()
}

func (s *Server) getProduct(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	p, ok := s.state.product(id)
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	return c.JSON(p)
}

// Cart

func ownerOf(c *fiber.Ctx) (owner, bool) {
	o := owner{userID: userIDOf(c), sessionKey: strings.Clone(c.Get(api.SessionKeyHeader))}
	return o, o.userID != 0 || o.sessionKey != ""
}

func (s *Server) getCart(c *fiber.Ctx) error {
	o, ok := ownerOf(c)
	if !ok {
		return c.JSON(emptyCart())
	}
	return c.JSON(s.state.cart(o))
}

func (s *Server) clearCart(c *fiber.Ctx) error {
	o, ok := ownerOf(c)
	if !ok {
		return c.JSON(emptyCart())
	}
	return c.JSON(s.state.clearCart(o))
}

func (s *Server) addCartItem(c *fiber.Ctx) error {
	o, ok := ownerOf(c)
	if !ok {
		return detail(c, fiber.StatusBadRequest, "Session key required.")
	}
	var body struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
		Quantity  int   `json:"quantity" validate:"gte=0"`
	}
	if ok, err := s.bind(c, "cart.items.create", &body); !ok {
		return err
	}
	if body.Quantity == 0 {
		body.Quantity = 1
	}
	ct, err := s.state.addItem(o, body.ProductID, body.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(ct)
}

func (s *Server) updateCartItem(c *fiber.Ctx) error {
	o, ok := ownerOf(c)
	if !ok {
		return detail(c, fiber.StatusBadRequest, "Session key required.")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	var body struct {
		Quantity int `json:"quantity" validate:"required,gte=1"`
	}
	if ok, err := s.bind(c, "cart.items.patch", &body); !ok {
		return err
	}
	ct, err := s.state.updateItem(o, id, body.Quantity)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ct)
}

func (s *Server) removeCartItem(c *fiber.Ctx) error {
	o, ok := ownerOf(c)
	if !ok {
		return detail(c, fiber.StatusBadRequest, "Session key required.")
	}
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	ct, err := s.state.removeItem(o, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(ct)
}

// Favorites

func (s *Server) listFavorites(c *fiber.Ctx) error {
	return c.JSON(s.state.listFavorites(userIDOf(c)))
}

func (s *Server) addFavorite(c *fiber.Ctx) error {
	var body struct {
		ProductID int64 `json:"product_id" validate:"required,gt=0"`
	}
	if ok, err := s.bind(c, "favorites.create", &body); !ok {
		return err
	}
	f, err := s.state.addFavorite(userIDOf(c), body.ProductID)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

func (s *Server) removeFavorite(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	if err := s.state.removeFavorite(userIDOf(c), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) checkFavorite(c *fiber.Ctx) error {
	id, ok := pathID(c, "product")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	return c.JSON(s.state.checkFavorite(userIDOf(c), id))
}

// Orders

func (s *Server) checkout(c *fiber.Ctx) error {
	var req orders.CheckoutRequest
	if ok, err := s.bind(c, "orders.create", &req); !ok {
		return err
	}
	o, err := s.state.placeOrder(userIDOf(c), req)
	if err != nil {
		return writeError(c, err)
	}
	s.logger.Info().Int64("user", userIDOf(c)).Str("order", o.Number).Msg("order placed")
	return c.Status(fiber.StatusCreated).JSON(o)
}

func (s *Server) listOrders(c *fiber.Ctx) error {
	list := s.state.listOrders(userIDOf(c))
	return c.JSON(api.Page[orders.Order]{Count: len(list), Results: list})
}

func (s *Server) getOrder(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	o, err := s.state.order(userIDOf(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(o)
}

// Courses

func (s *Server) listCourses(c *fiber.Ctx) error {
	return c.JSON(s.state.listCourses())
}

func (s *Server) getCourse(c *fiber.Ctx) error {
	id, ok := pathID(c, "id")
	if !ok {
		return detail(c, fiber.StatusNotFound, "Not found.")
	}
	course, err := s.state.course(id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(course)
}

func (s *Server) applyToCourse(c *fiber.Ctx) error {
	var app courses.Application
	if ok, err := s.bind(c, "courses.applications.create", &app); !ok {
		return err
	}
	res, err := s.state.apply(app)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}
