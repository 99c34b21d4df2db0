package favorites

import (
	"context"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/metrics"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/optimistic"
)

// Container holds favorite state per product. Entries are created the first
// time a product is checked or toggled.
type Container struct {
	api      *API
	states   *optimistic.Map[int64, State]
	checks   singleflight.Group
	notifier notify.Notifier

	mu   sync.Mutex
	adds map[int64]*pendingAdd
	logger   zerolog.Logger
}

// Option configures a Container.
type Option func(*Container)

// WithNotifier sets where failures are reported.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Container) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Container) { c.logger = logger.With().Str("component", "favorites").Logger() }
}

// NewContainer creates an empty container.
func NewContainer(a *API, m *metrics.Metrics, opts ...Option) *Container {
	c := &Container{
		api:      a,
		states:   optimistic.NewMap[int64, State]("favorites", m),
		adds:     make(map[int64]*pendingAdd),
		notifier: notify.Nop{},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check returns the state of productID. The server is asked at most once per
// product; concurrent first checks share one call.
func (c *Container) Check(ctx context.Context, productID int64) (State, error) {
	if st, ok := c.states.Lookup(productID); ok {
		return st, nil
	}
	v, err, _ := c.checks.Do(strconv.FormatInt(productID, 10), func() (any, error) {
		if st, ok := c.states.Lookup(productID); ok {
			return st, nil
		}
		st, err := c.api.Check(ctx, productID)
		if err != nil {
			return State{}, err
		}
		c.states.Set(productID, st)
		return st, nil
	})
	if err != nil {
		c.report(ctx, "favorites.check", err)
		return State{}, err
	}
	return v.(State), nil
}

// pendingAdd is an add the server has not answered yet. A removal issued
// meanwhile waits on done and deletes the favorite the add created.
type pendingAdd struct {
	done chan struct{}
	id   int64
	err  error
}

// Toggle flips productID immediately and reconciles with the server. On
// failure the product shows its last confirmed state again.
func (c *Container) Toggle(ctx context.Context, productID int64) (State, error) {
	const op = "favorites.toggle"
	if _, err := c.Check(ctx, productID); err != nil {
		return State{}, err
	}

	var (
		was   State
		add   *pendingAdd
		after *pendingAdd
	)
	st, err := c.states.Mutate(ctx, productID, func(cur State) State {
		was = cur
		c.mu.Lock()
		if !cur.IsFavorited {
			add = &pendingAdd{done: make(chan struct{})}
			c.adds[productID] = add
		} else if cur.FavoriteID == 0 {
			after = c.adds[productID]
		}
		c.mu.Unlock()
		return State{IsFavorited: !cur.IsFavorited, FavoriteID: cur.FavoriteID}
	}, func(ctx context.Context) (State, error) {
		if add != nil {
			return c.add(ctx, productID, add)
		}
		return c.remove(ctx, productID, was.FavoriteID, after)
	})
	if err != nil {
		c.report(ctx, op, err)
		current, _ := c.states.Lookup(productID)
		return current, err
	}
	return st, nil
}

func (c *Container) add(ctx context.Context, productID int64, p *pendingAdd) (State, error) {
	fav, err := c.api.Add(ctx, productID)
	if err == nil {
		p.id = fav.ID
	}
	p.err = err
	close(p.done)

	c.mu.Lock()
	if c.adds[productID] == p {
		delete(c.adds, productID)
	}
	c.mu.Unlock()

	if err != nil {
		return State{}, err
	}
	return State{IsFavorited: true, FavoriteID: fav.ID}, nil
}

// remove deletes the favorite. When the shown state came from an add that
// has not settled, that add is awaited and the favorite it created is
// removed; a failed add left nothing to remove.
func (c *Container) remove(ctx context.Context, productID, favoriteID int64, after *pendingAdd) (State, error) {
	if favoriteID == 0 && after != nil {
		select {
		case <-after.done:
		case <-ctx.Done():
			return State{}, perrors.FromTransport("favorites.toggle", ctx.Err())
		}
		if after.err != nil {
			return State{}, nil
		}
		favoriteID = after.id
	}
	if favoriteID == 0 {
		st, err := c.api.Check(ctx, productID)
		if err != nil {
			return State{}, err
		}
		if !st.IsFavorited {
			return State{}, nil
		}
		favoriteID = st.FavoriteID
	}
	if err := c.api.Remove(ctx, favoriteID); err != nil {
		return State{}, err
	}
	return State{}, nil
}

// IsFavorited reports the displayed state; unknown products are not favorites.
func (c *Container) IsFavorited(productID int64) bool {
	st, _ := c.states.Lookup(productID)
	return st.IsFavorited
}

// Load replaces all known state with the server's favorites list.
func (c *Container) Load(ctx context.Context) ([]Favorite, error) {
	favs, err := c.api.List(ctx)
	if err != nil {
		c.report(ctx, "favorites.list", err)
		return nil, err
	}
	c.states.Reset()
	for _, f := range favs {
		c.states.Set(f.ProductID, State{IsFavorited: true, FavoriteID: f.ID})
	}
	return favs, nil
}

// Favorited returns the ids of products currently shown as favorites.
func (c *Container) Favorited() []int64 {
	var ids []int64
	for id, st := range c.states.Snapshot() {
		if st.IsFavorited {
			ids = append(ids, id)
		}
	}
	return ids
}

// Pending reports unsettled toggles for productID.
func (c *Container) Pending(productID int64) int {
	return c.states.Pending(productID)
}

func (c *Container) report(ctx context.Context, op string, err error) {
	c.logger.Warn().Err(err).Str("op", op).Str("kind", string(perrors.KindOf(err))).Msg("favorites operation failed")
	if nerr := c.notifier.Notify(ctx, notify.ForError(op, err)); nerr != nil {
		c.logger.Error().Err(nerr).Msg("failed to deliver notification")
	}
}
