// Package catalog is a read-through cache of the product collection. It never writes products;
// edits made elsewhere are picked up by Refresh or by watching change notifications.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/syncstate"
	"github.com/c0deZ3R0/go-storefront-sync/transport/sse"
)

const component = "catalog"

// MsgLoadFailed is what Err reports after a failed fetch.
const MsgLoadFailed = "Failed to load products. Please try again later."

// Subscriber delivers change notifications. *sse.Client implements it.
type Subscriber interface {
	SubscribeWithReconnect(ctx context.Context, handler sse.Handler) error
}

// Catalog caches products in server order.
type Catalog struct {
	store   remote.Store
	logger  *logging.Logger
	metrics metrics.Collector

	group   singleflight.Group
	tracker syncstate.Tracker
	reads   atomic.Uint64

	mu       sync.RWMutex
	products []model.Product
	index    map[string]int
	errMsg   string
	applied  uint64 // sequence of the read the cache reflects

	listeners syncstate.Listeners[[]model.Product]
}

type Option func(*Catalog)

func WithLogger(l *logging.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.logger = l.WithComponent(component)
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Catalog) {
		if m != nil {
			c.metrics = m
		}
	}
}

func New(store remote.Store, opts ...Option) *Catalog {
	c := &Catalog{
		store:   store,
		logger:  logging.WithComponent(component),
		metrics: metrics.NoOp{},
		index:   map[string]int{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch reads the whole product collection and replaces the cache. Concurrent calls share one
// request. On failure the cache keeps its last contents and Err reports MsgLoadFailed.
func (c *Catalog) Fetch(ctx context.Context) error {
	_, err, _ := c.group.Do(remote.Products, func() (interface{}, error) {
		return nil, c.fetch(ctx)
	})
	return err
}

// Refresh re-reads the catalog, e.g. after an admin edit. It never joins a read that started
// before the call; later Fetch calls join the refresh instead.
func (c *Catalog) Refresh(ctx context.Context) error {
	c.group.Forget(remote.Products)
	return c.Fetch(ctx)
}

func (c *Catalog) fetch(ctx context.Context) (err error) {
	end := c.tracker.Begin()
	defer func() { end(err) }()
	defer metrics.Since(c.metrics, component, string(syncErrors.OpFetchProducts), time.Now(), &err)

	seq := c.reads.Add(1)
	docs, err := c.store.List(ctx, remote.Products)
	if err == nil {
		var products []model.Product
		products, err = remote.DecodeAll[model.Product](docs)
		if err == nil {
			c.replace(seq, products)
			return nil
		}
	}

	err = syncErrors.E(syncErrors.OpFetchProducts, syncErrors.Component(component), err)
	c.logger.LogError(ctx, err, "error fetching products")
	c.mu.Lock()
	if seq > c.applied {
		c.errMsg = MsgLoadFailed
	}
	c.mu.Unlock()
	return err
}

// replace installs the result of read seq unless a later read already landed.
func (c *Catalog) replace(seq uint64, products []model.Product) {
	index := make(map[string]int, len(products))
	for i, p := range products {
		if p.ID != "" {
			index[p.ID] = i
		}
	}
	c.mu.Lock()
	if seq < c.applied {
		c.mu.Unlock()
		c.logger.Debug("discarding product read overtaken by a later one")
		return
	}
	c.applied = seq
	c.products = products
	c.index = index
	c.errMsg = ""
	c.mu.Unlock()

	c.metrics.SetItems(component, len(products))
	c.listeners.Notify(c.Products())
}

// Products returns a copy of the cached products.
func (c *Catalog) Products() []model.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Product(nil), c.products...)
}

// Product looks up one cached product.
func (c *Catalog) Product(id string) (model.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.index[id]
	if !ok {
		return model.Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) Loading() bool {
	return c.tracker.Loading()
}

// Err returns the user-facing message of the last fetch, or "" if it succeeded.
func (c *Catalog) Err() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.errMsg
}

func (c *Catalog) Phase() syncstate.Phase {
	return c.tracker.Phase()
}

// Subscribe registers fn to receive the product list after every successful fetch.
func (c *Catalog) Subscribe(fn func([]model.Product)) (cancel func()) {
	return c.listeners.Add(fn)
}

// Featured reads the hero items. They are not cached.
func (c *Catalog) Featured(ctx context.Context) ([]model.Product, error) {
	docs, err := c.store.List(ctx, remote.Thermos)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpFetch, syncErrors.Component(component), "fetch featured", err)
	}
	return remote.DecodeAll[model.Product](docs)
}

// FreshenCartLine overlays live product data on a cart line's snapshot. Lines of products that
// are not cached are returned as they are.
func (c *Catalog) FreshenCartLine(line model.CartLine) model.CartLine {
	p, ok := c.Product(line.ProductID)
	if !ok {
		return line
	}
	line.Name = p.Name
	line.Image = p.Image
	line.Color = p.Color
	line.Price = p.EffectivePrice()
	return line
}

// FreshenWishlistEntry overlays live product data on a wishlist entry's snapshot.
func (c *Catalog) FreshenWishlistEntry(entry model.WishlistEntry) model.WishlistEntry {
	p, ok := c.Product(entry.ProductID)
	if !ok {
		return entry
	}
	entry.Name = p.Name
	entry.Image = p.Image
	entry.Color = p.Color
	entry.Tagline = p.Tagline
	entry.Price = p.EffectivePrice()
	entry.InStock = p.Available()
	return entry
}

// Watch refreshes the cache whenever a product changes, until ctx ends. Failed refreshes are
// logged and the watch continues.
func (c *Catalog) Watch(ctx context.Context, sub Subscriber) error {
	return sub.SubscribeWithReconnect(ctx, func(n sse.Notification) error {
		if n.Collection != remote.Products {
			return nil
		}
		c.logger.Debug("product changed", slog.String("action", string(n.Action)), slog.String("id", n.ID))
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("refresh after change failed", slog.String("error", err.Error()))
		}
		return nil
	})
}
