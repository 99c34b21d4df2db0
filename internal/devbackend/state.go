package devbackend

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/p-blackswan/agrostore/internal/account"
	"github.com/p-blackswan/agrostore/internal/cart"
	"github.com/p-blackswan/agrostore/internal/catalog"
	"github.com/p-blackswan/agrostore/internal/courses"
	"github.com/p-blackswan/agrostore/internal/favorites"
	"github.com/p-blackswan/agrostore/internal/orders"
)

// fieldError is a rejected write, rendered as a 400 with per-field messages.
type fieldError struct {
	field   string
	message string
}

func (e *fieldError) Error() string { return e.field + ": " + e.message }

// notFoundError is rendered as a 404.
type notFoundError struct{ what string }

func (e *notFoundError) Error() string { return e.what + " not found" }

type user struct {
	profile account.Profile
	hash    string
}

type line struct {
	ID        int64
	ProductID int64
	Quantity  int
}

// owner identifies a cart: a signed-in user, or a guest by session key.
type owner struct {
	userID     int64
	sessionKey string
}

func (o owner) guest() bool { return o.userID == 0 }

// state is the backend's whole dataset, guarded by one mutex.
type state struct {
	mu sync.Mutex

	categories []catalog.Category
	products   map[int64]*catalog.Product
	courses    map[int64]*courses.Course

	users   map[int64]*user
	byEmail map[string]int64

	carts  map[int64][]line
	guests *cache.Cache

	favorites    map[int64][]favorites.Favorite
	orders       map[int64][]orders.Order
	applications []courses.ApplicationResult

	nextUser, nextLine, nextFavorite, nextOrder, nextApplication int64

	now func() time.Time
}

func newState(seed Seed, guestCartTTL time.Duration) (*state, error) {
	s := &state{
		categories: seed.Categories,
		products:   make(map[int64]*catalog.Product, len(seed.Products)),
		courses:    make(map[int64]*courses.Course, len(seed.Courses)),
		users:      make(map[int64]*user),
		byEmail:    make(map[string]int64),
		carts:      make(map[int64][]line),
		guests:     cache.New(guestCartTTL, 10*time.Minute),
		favorites:  make(map[int64][]favorites.Favorite),
		orders:     make(map[int64][]orders.Order),
		now:        time.Now,
	}
	for i := range seed.Products {
		p := seed.Products[i]
		s.products[p.ID] = &p
	}
	for i := range seed.Courses {
		c := seed.Courses[i]
		s.courses[c.ID] = &c
	}
	for _, u := range seed.Users {
		reg := account.Registration{Email: u.Email, Password: u.Password, FirstName: u.FirstName, LastName: u.LastName, Phone: u.Phone}
		if _, err := s.register(reg); err != nil {
			return nil, fmt.Errorf("seeding user %s: %w", u.Email, err)
		}
	}
	return s, nil
}

// Accounts

func (s *state) register(reg account.Registration) (account.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	hash, err := hashPassword(reg.Password)
	if err != nil {
		return account.Profile{}, fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[email]; taken {
		return account.Profile{}, &fieldError{"email", "User with this email already exists."}
	}
	s.nextUser++
	p := account.Profile{ID: s.nextUser, Email: email, FirstName: reg.FirstName, LastName: reg.LastName, Phone: reg.Phone}
	s.users[p.ID] = &user{profile: p, hash: hash}
	s.byEmail[email] = p.ID
	return p, nil
}

func (s *state) authenticate(email, password string) (account.Profile, bool) {
	s.mu.Lock()
	u, ok := s.users[s.byEmail[strings.ToLower(strings.TrimSpace(email))]]
	s.mu.Unlock()
	if !ok {
		return account.Profile{}, false
	}
	match, err := verifyPassword(password, u.hash)
	if err != nil || !match {
		return account.Profile{}, false
	}
	return u.profile, true
}

func (s *state) profile(userID int64) (account.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return account.Profile{}, false
	}
	return u.profile, true
}

// Catalog

func (s *state) listCategories() []catalog.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Category(nil), s.categories...)
}

func (s *state) product(id int64) (catalog.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return catalog.Product{}, false
	}
	return *p, true
}

// listProducts applies the catalog filter and returns one page plus the total.
func (s *state) listProducts(f catalog.Filter) ([]catalog.Product, int) {
	s.mu.Lock()
	var out []catalog.Product
	search := strings.ToLower(f.Search)
	for _, p := range s.products {
		if f.Category > 0 && p.Category != f.Category && s.parentOf(p.Category) != f.Category {
			continue
		}
		if f.InStock && !p.InStock {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.Description), search) {
			continue
		}
		out = append(out, *p)
	}
	s.mu.Unlock()

	sortProducts(out, f.Ordering)

	total := len(out)
	start, end := pageWindow(f.Page, f.PageSize, total)
	return out[start:end], total
}

// pageWindow returns the bounds of a 1-based page within total results. Page
// and size are clamped; pages past the end are empty.
func pageWindow(page, size, total int) (start, end int) {
	if size <= 0 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)
	page = max(page, 1)
	if page-1 >= (total+size-1)/size {
		return total, total
	}
	start = (page - 1) * size
	return start, min(start+size, total)
}

func (s *state) parentOf(categoryID int64) int64 {
	for _, c := range s.categories {
		if c.ID == categoryID {
			return c.Parent
		}
	}
	return 0
}

func sortProducts(ps []catalog.Product, ordering string) {
	desc := strings.HasPrefix(ordering, "-")
	field := strings.TrimPrefix(ordering, "-")
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if desc {
			a, b = b, a
		}
		switch field {
		case "price":
			return a.Price < b.Price
		case "name":
			return a.Name < b.Name
		default:
			return a.ID < b.ID
		}
	})
}

// Cart

func (s *state) linesLocked(o owner) []line {
	if !o.guest() {
		return s.carts[o.userID]
	}
	if v, ok := s.guests.Get(o.sessionKey); ok {
		return v.([]line)
	}
	return nil
}

func (s *state) storeLinesLocked(o owner, lines []line) {
	if !o.guest() {
		s.carts[o.userID] = lines
		return
	}
	s.guests.Set(o.sessionKey, lines, cache.DefaultExpiration)
}

func emptyCart() cart.Cart {
	return cart.Cart{Items: []cart.Item{}}
}

func (s *state) renderLocked(lines []line) cart.Cart {
	c := emptyCart()
	for _, l := range lines {
		p := s.products[l.ProductID]
		total := p.Price.Mul(l.Quantity)
		c.Items = append(c.Items, cart.Item{
			ID:          l.ID,
			ProductID:   l.ProductID,
			ProductName: p.Name,
			Quantity:    l.Quantity,
			UnitPrice:   p.Price,
			TotalPrice:  total,
		})
		c.TotalItems += l.Quantity
		c.TotalPrice += total
	}
	return c
}

func (s *state) cart(o owner) cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renderLocked(s.linesLocked(o))
}

func (s *state) addItem(o owner, productID int64, quantity int) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return cart.Cart{}, &fieldError{"product_id", fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", productID)}
	}
	lines := append([]line(nil), s.linesLocked(o)...)
	idx := -1
	for i, l := range lines {
		if l.ProductID == productID {
			idx = i
			break
		}
	}
	want := quantity
	if idx >= 0 {
		want += lines[idx].Quantity
	}
	if want > p.Stock {
		return cart.Cart{}, stockError(p)
	}
	if idx >= 0 {
		lines[idx].Quantity = want
	} else {
		s.nextLine++
		lines = append(lines, line{ID: s.nextLine, ProductID: productID, Quantity: quantity})
	}
	s.storeLinesLocked(o, lines)
	return s.renderLocked(lines), nil
}

func (s *state) updateItem(o owner, itemID int64, quantity int) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := append([]line(nil), s.linesLocked(o)...)
	for i, l := range lines {
		if l.ID != itemID {
			continue
		}
		if p := s.products[l.ProductID]; quantity > p.Stock {
			return cart.Cart{}, stockError(p)
		}
		lines[i].Quantity = quantity
		s.storeLinesLocked(o, lines)
		return s.renderLocked(lines), nil
	}
	return cart.Cart{}, &notFoundError{"cart item"}
}

func (s *state) removeItem(o owner, itemID int64) (cart.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.linesLocked(o)
	kept := make([]line, 0, len(lines))
	for _, l := range lines {
		if l.ID != itemID {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(lines) {
		return cart.Cart{}, &notFoundError{"cart item"}
	}
	s.storeLinesLocked(o, kept)
	return s.renderLocked(kept), nil
}

func (s *state) clearCart(o owner) cart.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeLinesLocked(o, nil)
	return s.renderLocked(nil)
}

// mergeGuestCart moves a guest cart into the user's cart on sign-in,
// capping each line at the available stock.
func (s *state) mergeGuestCart(sessionKey string, userID int64) int {
	if sessionKey == "" {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.guests.Get(sessionKey)
	if !ok {
		return 0
	}
	s.guests.Delete(sessionKey)

	lines := append([]line(nil), s.carts[userID]...)
	merged := 0
	for _, g := range v.([]line) {
		found := false
		for i := range lines {
			if lines[i].ProductID == g.ProductID {
				lines[i].Quantity = min(lines[i].Quantity+g.Quantity, s.products[g.ProductID].Stock)
				found = true
				break
			}
		}
		if !found {
			lines = append(lines, g)
		}
		merged++
	}
	s.carts[userID] = lines
	return merged
}

func stockError(p *catalog.Product) *fieldError {
	if p.Stock == 0 {
		return &fieldError{"quantity", "Product is out of stock."}
	}
	return &fieldError{"quantity", fmt.Sprintf("Only %d left in stock.", p.Stock)}
}

// Favorites

func (s *state) listFavorites(userID int64) []favorites.Favorite {
	s.mu.Lock()
	defer s.mu.Unlock()
	favs := s.favorites[userID]
	out := make([]favorites.Favorite, 0, len(favs))
	for _, f := range favs {
		if p, ok := s.products[f.ProductID]; ok {
			cp := *p
			f.Product = &cp
		}
		out = append(out, f)
	}
	return out
}

func (s *state) addFavorite(userID, productID int64) (favorites.Favorite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[productID]; !ok {
		return favorites.Favorite{}, &fieldError{"product_id", fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", productID)}
	}
	for _, f := range s.favorites[userID] {
		if f.ProductID == productID {
			return favorites.Favorite{}, &fieldError{"product_id", "Product is already in favorites."}
		}
	}
	s.nextFavorite++
	f := favorites.Favorite{ID: s.nextFavorite, ProductID: productID, CreatedAt: s.now().UTC()}
	s.favorites[userID] = append(s.favorites[userID], f)
	return f, nil
}

func (s *state) removeFavorite(userID, favoriteID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	favs := s.favorites[userID]
	for i, f := range favs {
		if f.ID == favoriteID {
			s.favorites[userID] = append(favs[:i:i], favs[i+1:]...)
			return nil
		}
	}
	return &notFoundError{"favorite"}
}

func (s *state) checkFavorite(userID, productID int64) favorites.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.favorites[userID] {
		if f.ProductID == productID {
			return favorites.State{IsFavorited: true, FavoriteID: f.ID}
		}
	}
	return favorites.State{}
}

// Orders

// placeOrder turns the user's cart into an order, taking stock and
// emptying the cart.
func (s *state) placeOrder(userID int64, req orders.CheckoutRequest) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := s.carts[userID]
	if len(lines) == 0 {
		return orders.Order{}, &fieldError{"items", "Cart is empty."}
	}
	for _, l := range lines {
		if p := s.products[l.ProductID]; l.Quantity > p.Stock {
			return orders.Order{}, &fieldError{"items", fmt.Sprintf("Not enough %s in stock.", p.Name)}
		}
	}

	rendered := s.renderLocked(lines)
	s.nextOrder++
	o := orders.Order{
		ID:             s.nextOrder,
		Number:         fmt.Sprintf("AG-%04d", s.nextOrder),
		Status:         "new",
		TotalPrice:     rendered.TotalPrice,
		DeliveryMethod: req.DeliveryMethod,
		PaymentMethod:  req.PaymentMethod,
		Address:        req.Address,
		CreatedAt:      s.now().UTC(),
	}
	for _, it := range rendered.Items {
		o.Items = append(o.Items, orders.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
		})
		p := s.products[it.ProductID]
		p.Stock -= it.Quantity
		p.InStock = p.Stock > 0
	}
	s.orders[userID] = append(s.orders[userID], o)
	delete(s.carts, userID)
	return o, nil
}

func (s *state) listOrders(userID int64) []orders.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]orders.Order(nil), s.orders[userID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *state) order(userID, orderID int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders[userID] {
		if o.ID == orderID {
			return o, nil
		}
	}
	return orders.Order{}, &notFoundError{"order"}
}

// Courses

func (s *state) listCourses() []courses.Course {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]courses.Course, 0, len(s.courses))
	for _, c := range s.courses {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) course(id int64) (courses.Course, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.courses[id]
	if !ok {
		return courses.Course{}, &notFoundError{"course"}
	}
	return *c, nil
}

func (s *state) apply(app courses.Application) (courses.ApplicationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.courses[app.CourseID]
	if !ok {
		return courses.ApplicationResult{}, &fieldError{"course", fmt.Sprintf("Invalid pk \"%d\" - object does not exist.", app.CourseID)}
	}
	if c.SeatsLeft <= 0 {
		return courses.ApplicationResult{}, &fieldError{nonFieldErrors, "No seats left on this course."}
	}
	c.SeatsLeft--
	s.nextApplication++
	res := courses.ApplicationResult{ID: s.nextApplication, CourseID: c.ID, Status: "pending", CreatedAt: s.now().UTC()}
	s.applications = append(s.applications, res)
	return res, nil
}
