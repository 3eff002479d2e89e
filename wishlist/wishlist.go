// Package wishlist keeps the signed-in user's wishlist in step with the wishlist collection of
// the remote store. Entries are keyed by product id; adding a product that is already on the
// list takes it off.
package wishlist

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

const component = "wishlist"

const (
	MsgLoginRequired = "Please log in to add items to your wishlist."
	MsgAddFailed     = "Failed to add to wishlist."
	MsgRemoved       = "Removed from wishlist."
	MsgRemoveFailed  = "Failed to remove from wishlist."
	MsgCleared       = "Wishlist cleared."
	MsgClearFailed   = "Failed to clear wishlist."
)

func MsgAdded(name string) string { return fmt.Sprintf("%s added to wishlist!", name) }

// Session tells whose wishlist to hold.
type Session interface {
	Email() string
}

// Wishlist holds the entries of the signed-in user. It is safe for concurrent use.
type Wishlist struct {
	store    remote.Store
	session  Session
	notifier notify.Notifier
	logger   *logging.Logger
	metrics  metrics.Collector

	clearLimit int

	fetches singleflight.Group
	keys    syncstate.KeyedMutex
	tracker syncstate.Tracker

	mu      sync.RWMutex
	owner   string
	entries []model.WishlistEntry
	gen     uint64 // bumped on every applied change; see apply

	listeners syncstate.Listeners[[]model.WishlistEntry]
}

type Option func(*Wishlist)

func WithNotifier(n notify.Notifier) Option {
	return func(w *Wishlist) {
		if n != nil {
			w.notifier = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(w *Wishlist) {
		if l != nil {
			w.logger = l.WithComponent(component)
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(w *Wishlist) {
		if m != nil {
			w.metrics = m
		}
	}
}

func WithClearConcurrency(n int) Option {
	return func(w *Wishlist) { w.clearLimit = n }
}

func New(store remote.Store, session Session, opts ...Option) *Wishlist {
	w := &Wishlist{
		store:      store,
		session:    session,
		notifier:   notify.Nop{},
		logger:     logging.WithComponent(component),
		metrics:    metrics.NoOp{},
		clearLimit: 8,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FetchWishlist reads the signed-in user's entries through the email-scoped read. A not-found
// answer means an empty wishlist. Other failures keep the held entries.
func (w *Wishlist) FetchWishlist(ctx context.Context) error {
	email := w.session.Email()
	if email == "" {
		w.set("", nil)
		return nil
	}
	_, err, _ := w.fetches.Do(email, func() (interface{}, error) {
		return nil, w.fetch(ctx, email)
	})
	return err
}

func (w *Wishlist) fetch(ctx context.Context, email string) (err error) {
	end := w.tracker.Begin()
	defer func() { end(err) }()
	defer metrics.Since(w.metrics, component, string(syncErrors.OpFetchWishlist), time.Now(), &err)

	since := w.generation()
	docs, err := w.store.ListScoped(ctx, remote.Wishlist, email)
	if syncErrors.IsKind(err, syncErrors.KindNotFound) {
		docs, err = nil, nil
	}
	if err != nil {
		err = syncErrors.E(syncErrors.OpFetchWishlist, syncErrors.Component(component), err)
		w.logger.LogError(ctx, err, "error fetching wishlist", slog.String("email", email))
		return err
	}

	entries := make([]model.WishlistEntry, 0, len(docs))
	for _, doc := range docs {
		e, err := remote.Decode[model.WishlistEntry](doc)
		if err != nil {
			w.logger.Warn("skipping malformed wishlist row", slog.String("error", err.Error()))
			continue
		}
		if e.OwnerEmail != "" && !strings.EqualFold(e.OwnerEmail, email) {
			continue
		}
		entries = append(entries, e)
	}

	if w.session.Email() != email {
		return nil
	}
	if !w.apply(email, entries, since) {
		w.logger.Debug("discarding wishlist read overtaken by a local change", slog.String("email", email))
	}
	return nil
}

// AddToWishlist toggles product: it is added when absent and removed when present. The result
// reports whether the product is on the wishlist afterwards.
func (w *Wishlist) AddToWishlist(ctx context.Context, product model.Product) (added bool, err error) {
	defer metrics.Since(w.metrics, component, string(syncErrors.OpAddToWishlist), time.Now(), &err)

	email := w.session.Email()
	if email == "" {
		w.notifier.Failure(ctx, MsgLoginRequired)
		return false, syncErrors.NewUnauthenticatedError(syncErrors.OpAddToWishlist, component)
	}
	if product.ID == "" {
		w.notifier.Failure(ctx, MsgAddFailed)
		return false, syncErrors.NewValidationError(syncErrors.OpAddToWishlist, fmt.Errorf("product has no id"))
	}

	unlock, err := w.keys.Lock(ctx, email+"|"+product.ID)
	if err != nil {
		return false, syncErrors.E(syncErrors.OpAddToWishlist, syncErrors.Component(component), err)
	}
	defer unlock()

	if existing, ok := w.entryFor(email, product.ID); ok {
		if err := w.remove(ctx, email, existing); err != nil {
			return true, err
		}
		return false, nil
	}

	entry := model.NewWishlistEntry(email, product)
	end := w.tracker.Begin()
	id, err := w.store.Create(ctx, remote.Wishlist, entry)
	end(err)
	if err != nil {
		err = syncErrors.E(syncErrors.OpAddToWishlist, syncErrors.Component(component), err)
		w.logger.LogError(ctx, err, "error adding to wishlist", slog.String("product_id", product.ID))
		w.notifier.Failure(ctx, MsgAddFailed)
		return false, err
	}
	w.touch(email)

	if id != "" {
		entry.ID = id
		w.insert(email, entry)
	} else if ferr := w.fetch(ctx, email); ferr != nil {
		// created but unaddressable until the next successful fetch
		w.logger.Warn("wishlist entry created without id", slog.String("product_id", product.ID))
	}
	w.notifier.Success(ctx, MsgAdded(product.Name))
	return true, nil
}

// IsWishlisted reports whether a product is on the held wishlist.
func (w *Wishlist) IsWishlisted(productID string) bool {
	_, ok := w.entryFor(w.session.Email(), productID)
	return ok
}

// RemoveFromWishlist takes a product off the wishlist. Products that are not held are reported
// as not found without a remote call.
func (w *Wishlist) RemoveFromWishlist(ctx context.Context, productID string) (err error) {
	defer metrics.Since(w.metrics, component, string(syncErrors.OpRemoveFromWishlist), time.Now(), &err)

	email := w.session.Email()
	if email == "" {
		w.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpRemoveFromWishlist, component)
	}
	unlock, err := w.keys.Lock(ctx, email+"|"+productID)
	if err != nil {
		return syncErrors.E(syncErrors.OpRemoveFromWishlist, syncErrors.Component(component), err)
	}
	defer unlock()

	entry, ok := w.entryFor(email, productID)
	if !ok {
		return syncErrors.E(syncErrors.OpRemoveFromWishlist, syncErrors.Component(component), syncErrors.KindNotFound,
			fmt.Sprintf("product %q is not on the wishlist", productID))
	}
	return w.remove(ctx, email, entry)
}

// remove deletes entry remotely and then drops it. Callers hold the product's key.
func (w *Wishlist) remove(ctx context.Context, email string, entry model.WishlistEntry) error {
	if entry.ID == "" {
		w.notifier.Failure(ctx, MsgRemoveFailed)
		return syncErrors.E(syncErrors.OpRemoveFromWishlist, syncErrors.Component(component), syncErrors.KindInvalid,
			fmt.Sprintf("wishlist entry for %q has no id; fetch the wishlist first", entry.ProductID))
	}

	end := w.tracker.Begin()
	err := w.store.Delete(ctx, remote.Wishlist, entry.ID)
	if syncErrors.IsKind(err, syncErrors.KindNotFound) {
		err = nil
	}
	end(err)
	if err != nil {
		err = syncErrors.E(syncErrors.OpRemoveFromWishlist, syncErrors.Component(component), err)
		w.logger.LogError(ctx, err, "error removing from wishlist", slog.String("entry_id", entry.ID))
		w.notifier.Failure(ctx, MsgRemoveFailed)
		return err
	}

	w.dropAll(email, []string{entry.ID})
	w.notifier.Success(ctx, MsgRemoved)
	return nil
}

// ClearWishlist deletes every held entry concurrently. Entries whose delete succeeded are
// dropped even when others fail; the failures are reported as a *errors.BatchError.
func (w *Wishlist) ClearWishlist(ctx context.Context) (err error) {
	defer metrics.Since(w.metrics, component, string(syncErrors.OpClearWishlist), time.Now(), &err)

	email := w.session.Email()
	if email == "" {
		w.notifier.Failure(ctx, MsgLoginRequired)
		return syncErrors.NewUnauthenticatedError(syncErrors.OpClearWishlist, component)
	}

	end := w.tracker.Begin()
	var (
		mu        sync.Mutex
		succeeded []string
		failures  = make(map[string]error)
	)
	var g errgroup.Group
	if w.clearLimit > 0 {
		g.SetLimit(w.clearLimit)
	}
	for _, e := range w.Entries() {
		id := e.ID
		g.Go(func() error {
			err := w.store.Delete(ctx, remote.Wishlist, id)
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

	w.dropAll(email, succeeded)

	if len(failures) > 0 {
		batch := &syncErrors.BatchError{Op: syncErrors.OpClearWishlist, Failures: failures, Succeeded: succeeded}
		err = syncErrors.E(syncErrors.OpClearWishlist, syncErrors.Component(component), syncErrors.ErrCodePartialBatchFailure, batch)
		end(err)
		w.logger.LogError(ctx, err, "error clearing wishlist", slog.Int("failed", len(failures)))
		w.notifier.Failure(ctx, MsgClearFailed)
		return err
	}
	end(nil)
	w.notifier.Success(ctx, MsgCleared)
	return nil
}

// Entries returns a copy of the held entries.
func (w *Wishlist) Entries() []model.WishlistEntry {
	email := w.session.Email()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if email == "" || w.owner != email {
		return []model.WishlistEntry{}
	}
	return append([]model.WishlistEntry{}, w.entries...)
}

func (w *Wishlist) Count() int {
	return len(w.Entries())
}

func (w *Wishlist) Loading() bool {
	return w.tracker.Loading()
}

func (w *Wishlist) Phase() syncstate.Phase {
	return w.tracker.Phase()
}

func (w *Wishlist) Subscribe(fn func([]model.WishlistEntry)) (cancel func()) {
	return w.listeners.Add(fn)
}

func (w *Wishlist) entryFor(email, productID string) (model.WishlistEntry, bool) {
	if email == "" || productID == "" {
		return model.WishlistEntry{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.owner != email {
		return model.WishlistEntry{}, false
	}
	for _, e := range w.entries {
		if e.ProductID == productID {
			return e, true
		}
	}
	return model.WishlistEntry{}, false
}

func (w *Wishlist) generation() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gen
}

// touch marks a remote change for email made after any read already in flight.
func (w *Wishlist) touch(email string) {
	w.mu.Lock()
	if w.owner == email {
		w.gen++
	}
	w.mu.Unlock()
}

func (w *Wishlist) set(email string, entries []model.WishlistEntry) {
	w.mu.Lock()
	w.owner = email
	w.entries = entries
	w.gen++
	w.mu.Unlock()
	w.changed()
}

// apply installs the result of a fetch that started at generation since, unless entries
// changed in the meantime.
func (w *Wishlist) apply(email string, entries []model.WishlistEntry, since uint64) bool {
	w.mu.Lock()
	if w.gen != since {
		w.mu.Unlock()
		return false
	}
	w.owner = email
	w.entries = entries
	w.gen++
	w.mu.Unlock()
	w.changed()
	return true
}

func (w *Wishlist) insert(email string, e model.WishlistEntry) {
	current := w.session.Email()
	w.mu.Lock()
	if w.owner != email {
		if current != email {
			w.mu.Unlock()
			return
		}
		w.owner = email
		w.entries = nil
	}
	w.entries = append(w.entries, e)
	w.gen++
	w.mu.Unlock()
	w.changed()
}

func (w *Wishlist) dropAll(email string, ids []string) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	w.mu.Lock()
	if w.owner != email {
		w.mu.Unlock()
		return
	}
	kept := w.entries[:0:0]
	for _, e := range w.entries {
		if !gone[e.ID] {
			kept = append(kept, e)
		}
	}
	w.entries = kept
	w.gen++
	w.mu.Unlock()
	w.changed()
}

func (w *Wishlist) changed() {
	entries := w.Entries()
	w.metrics.SetItems(component, len(entries))
	w.listeners.Notify(entries)
}
