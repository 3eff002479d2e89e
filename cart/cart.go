// Package cart keeps the signed-in user's cart lines in step with the cart collection of the
// remote store.
//
// The remote store is the source of truth. Additions re-read the cart so every held line carries
// its server id; removals and quantity changes are applied locally once the remote call has
// succeeded. A failed call never changes local state.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/syncstate"
)

const component = "cart"

// User-facing notices.
const (
	MsgLoginRequired = "Please log in to add items to your cart."
	MsgAddFailed     = "Failed to add item to cart."
	MsgRemoved       = "Item removed from cart."
	MsgRemoveFailed  = "Failed to remove item."
	MsgUpdateFailed  = "Failed to update quantity."
	MsgCleared       = "Cart cleared."
	MsgClearFailed   = "Failed to clear cart."
)

// MsgAdded is the notice for a product added as a new line.
func MsgAdded(name string) string { return fmt.Sprintf("%s added to cart!", name) }

// MsgQuantityUpdated is the notice for a product merged into an existing line.
func MsgQuantityUpdated(name string) string { return fmt.Sprintf("Updated quantity for %s", name) }

// Session tells whose cart to hold. *identity.Provider implements it.
type Session interface {
	Email() string
}

// Cart holds the lines of the signed-in user. It is safe for concurrent use.
type Cart struct {
	store    remote.Store
	session  Session
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  metrics.Collector

	// clearLimit bounds concurrent deletes in ClearCart.
	clearLimit int

	fetches singleflight.Group
	keys    syncstate.KeyedMutex
	tracker syncstate.Tracker

	mu    sync.RWMutex
	owner string
	lines []model.CartLine
	// gen counts changes applied to lines. A fetch applies its result only if gen is unchanged
	// since the fetch started.
	gen uint64

	listeners syncstate.Listeners[[]model.CartLine]
}

type Option func(*Cart)

func WithNotifier(n notify.Notifier) Option {
	return func(c *Cart) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Cart) {
		if l != nil {
			c.logger = l.WithComponent(component)
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Cart) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClearConcurrency bounds the deletes ClearCart runs at once. n <= 0 means unbounded.
func WithClearConcurrency(n int) Option {
	return func(c *Cart) { c.clearLimit = n }
}

func New(store remote.Store, session Session, opts ...Option) *Cart {
	c := &Cart{
		store:      store,
		session:    session,
		notifier:   notify.Nop{},
		logger:     logging.WithComponent(component),
		metrics:    metrics.NoOp{},
		clearLimit: 8,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchCart replaces the held lines with the signed-in user's rows. The cart collection is read
// in full and filtered here. Signed out, the cart is emptied without a remote call. On failure
// the held lines are kept.
func (c *Cart) FetchCart(ctx context.Context) error {
	email := c.session.Email()
	if email == "" {
		c.set("", nil)
		return nil
	}
	_, err, _ := c.fetches.Do(email, func() (interface{}, error) {
		return nil, c.fetch(ctx, email)
	})
	return err
}

func (c *Cart) fetch(ctx context.Context, email string) (err error) {
	end := c.tracker.Begin()
	defer func() { end(err) }()
	defer metrics.Since(c.metrics, component, string(syncErrors.OpFetchCart), time.Now(), &err)

	since := c.generation()
	docs, err := c.store.List(ctx, remote.Cart)
	if err != nil {
		err = syncErrors.E(syncErrors.OpFetchCart, syncErrors.Component(component), err)
		c.logger.LogError(ctx, err, "error fetching cart", slog.String("email", email))
		return err
	}

	lines := make([]model.CartLine, 0, len(docs))
	for _, doc := range docs {
		line, err := remote.Decode[model.CartLine](doc)
		if err != nil {
			c.logger.Warn("skipping malformed cart row", slog.String("error", err.Error()))
			continue
		}
		if strings.EqualFold(line.OwnerEmail, email) {
			lines = append(lines, line)
		}
	}

	if c.session.Email() != email {
		// signed out or switched while the read ran
		return nil
	}
	if !c.apply(email, lines, since) {
		c.logger.Debug("discarding cart read overtaken by a local change", slog.String("email", email))
	}
	return nil
}

// AddToCart adds quantity of product. A product already in the cart has its line's quantity
// increased instead of getting a second line. Calls for the same user and product run one at a
// time. A quantity below 1 adds one.
func (c *Cart) AddToCart(ctx context.Context, product model.Product, quantity int) (err error) {
	defer metrics.Since(c.metrics, component, string(syncErrors.OpAddToCart), time.Now(), &err)

	email := c.session.Email()
	if email == "" {
		c.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpAddToCart, component)
	}
	if product.ID == "" {
		c.notifier.Failure(ctx, MsgAddFailed)
		return syncErrors.NewValidationError(syncErrors.OpAddToCart, fmt.Errorf("product has no id"))
	}
	if quantity < 1 {
		quantity = 1
	}

	unlock, err := c.keys.Lock(ctx, lineKey(email, product.ID))
	if err != nil {
		return syncErrors.E(syncErrors.OpAddToCart, syncErrors.Component(component), err)
	}
	defer unlock()

	if existing, ok := c.lineFor(email, product.ID); ok {
		if err := c.updateQuantity(ctx, syncErrors.OpAddToCart, email, existing.ID, existing.EffectiveQuantity()+quantity); err != nil {
			return err
		}
		c.notifier.Success(ctx, MsgQuantityUpdated(product.Name))
		return nil
	}

	end := c.tracker.Begin()
	line := model.NewCartLine(email, product, quantity)
	id, err := c.store.Create(ctx, remote.Cart, line)
	end(err)
	if err != nil {
		err = syncErrors.E(syncErrors.OpAddToCart, syncErrors.Component(component), err)
		c.logger.LogError(ctx, err, "error adding to cart", slog.String("product_id", product.ID))
		c.notifier.Failure(ctx, MsgAddFailed)
		return err
	}
	// reads that started before the create must not replace what follows
	c.touch(email)

	// re-read so the held line carries its server id
	if ferr := c.fetch(ctx, email); ferr != nil && id != "" {
		line.ID = id
		c.insert(email, line)
	} else if _, ok := c.lineFor(email, product.ID); !ok && id != "" {
		line.ID = id
		c.insert(email, line)
	}
	c.notifier.Success(ctx, MsgAdded(product.Name))
	return nil
}

// RemoveFromCart deletes a held line by its server id and then drops it locally. A line the
// store no longer has is dropped as well.
func (c *Cart) RemoveFromCart(ctx context.Context, lineID string) (err error) {
	defer metrics.Since(c.metrics, component, string(syncErrors.OpRemoveFromCart), time.Now(), &err)

	email := c.session.Email()
	if email == "" {
		c.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpRemoveFromCart, component)
	}
	line, ok := c.line(email, lineID)
	if !ok {
		c.notifier.Failure(ctx, MsgRemoveFailed)
		return syncErrors.E(syncErrors.OpRemoveFromCart, syncErrors.Component(component), syncErrors.KindNotFound,
			fmt.Sprintf("no cart line %q", lineID))
	}

	unlock, err := c.keys.Lock(ctx, lineKey(email, line.ProductID))
	if err != nil {
		return syncErrors.E(syncErrors.OpRemoveFromCart, syncErrors.Component(component), err)
	}
	defer unlock()

	end := c.tracker.Begin()
	err = c.store.Delete(ctx, remote.Cart, lineID)
	if syncErrors.IsKind(err, syncErrors.KindNotFound) {
		c.logger.Debug("cart line already gone", slog.String("line_id", lineID))
		err = nil
	}
	end(err)
	if err != nil {
		err = syncErrors.E(syncErrors.OpRemoveFromCart, syncErrors.Component(component), err)
		c.logger.LogError(ctx, err, "error removing from cart", slog.String("line_id", lineID))
		c.notifier.Failure(ctx, MsgRemoveFailed)
		return err
	}

	c.drop(email, lineID)
	c.notifier.Success(ctx, MsgRemoved)
	return nil
}

// UpdateQuantity sets a held line's quantity. Quantities below 1 are ignored: no remote call is
// made and nothing changes.
func (c *Cart) UpdateQuantity(ctx context.Context, lineID string, quantity int) (err error) {
	if quantity < 1 {
		return nil
	}
	defer metrics.Since(c.metrics, component, string(syncErrors.OpUpdateQuantity), time.Now(), &err)

	email := c.session.Email()
	if email == "" {
		c.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpUpdateQuantity, component)
	}
	line, ok := c.line(email, lineID)
	if !ok {
		c.notifier.Failure(ctx, MsgUpdateFailed)
		return syncErrors.E(syncErrors.OpUpdateQuantity, syncErrors.Component(component), syncErrors.KindNotFound,
			fmt.Sprintf("no cart line %q", lineID))
	}

	unlock, err := c.keys.Lock(ctx, lineKey(email, line.ProductID))
	if err != nil {
		return syncErrors.E(syncErrors.OpUpdateQuantity, syncErrors.Component(component), err)
	}
	defer unlock()

	return c.updateQuantity(ctx, syncErrors.OpUpdateQuantity, email, lineID, quantity)
}

// updateQuantity writes the quantity field only and mirrors it locally on success. Callers hold
// the line's key.
func (c *Cart) updateQuantity(ctx context.Context, op syncErrors.Operation, email, lineID string, quantity int) error {
	end := c.tracker.Begin()
	err := c.store.Update(ctx, remote.Cart, lineID, map[string]any{"quantity": quantity})
	end(err)
	if err != nil {
		err = syncErrors.E(op, syncErrors.Component(component), err)
		c.logger.LogError(ctx, err, "error updating quantity", slog.String("line_id", lineID), slog.Int("quantity", quantity))
		c.notifier.Failure(ctx, MsgUpdateFailed)
		return err
	}

	c.mu.Lock()
	changed := false
	if c.owner == email {
		for i := range c.lines {
			if c.lines[i].ID == lineID {
				c.lines[i].Quantity = quantity
				changed = true
			}
		}
		c.gen++
	}
	c.mu.Unlock()
	if changed {
		c.changed()
	}
	return nil
}

// ClearCart deletes every held line concurrently. Lines whose delete succeeded are dropped even
// when others fail; the failures are reported as a *errors.BatchError.
func (c *Cart) ClearCart(ctx context.Context) (err error) {
	defer metrics.Since(c.metrics, component, string(syncErrors.OpClearCart), time.Now(), &err)

	email := c.session.Email()
	if email == "" {
		c.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpClearCart, component)
	}
	lines := c.Lines()

	end := c.tracker.Begin()
	var (
		mu        sync.Mutex
		succeeded []string
		failures  = make(map[string]error)
	)
	var g errgroup.Group
	if c.clearLimit > 0 {
		g.SetLimit(c.clearLimit)
	}
	for _, line := range lines {
		id := line.ID
		g.Go(func() error {
			err := c.store.Delete(ctx, remote.Cart, id)
			if syncErrors.IsKind(err, syncErrors.KindNotFound) {
				err = nil
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[id] = err
			} else {
				succeeded = append(succeeded, id)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.dropAll(email, succeeded)

	if len(failures) > 0 {
		batch := &syncErrors.BatchError{Op: syncErrors.OpClearCart, Failures: failures, Succeeded: succeeded}
		err = syncErrors.E(syncErrors.OpClearCart, syncErrors.Component(component), syncErrors.ErrCodePartialBatchFailure, batch)
		end(err)
		c.logger.LogError(ctx, err, "error clearing cart", slog.Int("failed", len(failures)), slog.Int("deleted", len(succeeded)))
		c.notifier.Failure(ctx, MsgClearFailed)
		return err
	}
	end(nil)
	c.notifier.Success(ctx, MsgCleared)
	return nil
}

// Lines returns a copy of the held lines. It is empty while signed out or while the lines held
// belong to a previous identity.
func (c *Cart) Lines() []model.CartLine {
	email := c.session.Email()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if email == "" || c.owner != email {
		return []model.CartLine{}
	}
	return append([]model.CartLine{}, c.lines...)
}

// Count is the total quantity across held lines.
func (c *Cart) Count() int {
	n := 0
	for _, l := range c.Lines() {
		n += l.EffectiveQuantity()
	}
	return n
}

// Subtotal sums price times quantity over the held lines' snapshots.
func (c *Cart) Subtotal() model.Price {
	var total model.Price
	for _, l := range c.Lines() {
		total = total.Plus(l.Subtotal())
	}
	return total
}

func (c *Cart) Loading() bool {
	return c.tracker.Loading()
}

func (c *Cart) Phase() syncstate.Phase {
	return c.tracker.Phase()
}

// Subscribe registers fn to receive the lines after every change.
func (c *Cart) Subscribe(fn func([]model.CartLine)) (cancel func()) {
	return c.listeners.Add(fn)
}

func lineKey(email, productID string) string {
	return email + "|" + productID
}

func (c *Cart) line(email, lineID string) (model.CartLine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.owner != email {
		return model.CartLine{}, false
	}
	for _, l := range c.lines {
		if l.ID == lineID && lineID != "" {
			return l, true
		}
	}
	return model.CartLine{}, false
}

func (c *Cart) lineFor(email, productID string) (model.CartLine, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.owner != email {
		return model.CartLine{}, false
	}
	for _, l := range c.lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return model.CartLine{}, false
}

func (c *Cart) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// touch records a remote change for email that is not reflected in lines yet.
func (c *Cart) touch(email string) {
	c.mu.Lock()
	if c.owner == email {
		c.gen++
	}
	c.mu.Unlock()
}

func (c *Cart) set(email string, lines []model.CartLine) {
	c.mu.Lock()
	c.owner = email
	c.lines = lines
	c.gen++
	c.mu.Unlock()
	c.changed()
}

// apply is set for a fetch that started at generation since. It reports false, changing
// nothing, when lines changed in the meantime.
func (c *Cart) apply(email string, lines []model.CartLine, since uint64) bool {
	c.mu.Lock()
	if c.gen != since {
		c.mu.Unlock()
		return false
	}
	c.owner = email
	c.lines = lines
	c.gen++
	c.mu.Unlock()
	c.changed()
	return true
}

func (c *Cart) insert(email string, line model.CartLine) {
	current := c.session.Email()
	c.mu.Lock()
	if c.owner != email {
		if current != email {
			// the identity moved on; its next fetch will pick the line up
			c.mu.Unlock()
			return
		}
		// nothing was fetched for this identity yet
		c.owner = email
		c.lines = nil
	}
	c.lines = append(c.lines, line)
	c.gen++
	c.mu.Unlock()
	c.changed()
}

func (c *Cart) drop(email, lineID string) {
	c.dropAll(email, []string{lineID})
}

func (c *Cart) dropAll(email string, ids []string) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	c.mu.Lock()
	if c.owner != email {
		c.mu.Unlock()
		return
	}
	kept := c.lines[:0:0]
	for _, l := range c.lines {
		if !gone[l.ID] {
			kept = append(kept, l)
		}
	}
	c.lines = kept
	c.gen++
	c.mu.Unlock()
	c.changed()
}

func (c *Cart) changed() {
	lines := c.Lines()
	n := 0
	for _, l := range lines {
		n += l.EffectiveQuantity()
	}
	c.metrics.SetItems(component, n)
	c.listeners.Notify(lines)
}
