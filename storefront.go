// Package storefront assembles the identity session, product catalog, cart, wishlist and
// checkout of one shopper around a single remote store.
//
// Components are wired explicitly: the cart and wishlist read the signed-in email from the
// identity provider, and every identity change re-reads both collections for the new user.
package storefront

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c0deZ3R0/go-storefront-sync/cart"
	"github.com/c0deZ3R0/go-storefront-sync/catalog"
	"github.com/c0deZ3R0/go-storefront-sync/checkout"
	"github.com/c0deZ3R0/go-storefront-sync/identity"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
	"github.com/c0deZ3R0/go-storefront-sync/wishlist"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("storefront is closed")

// DefaultReconcileTimeout bounds the cart and wishlist reload that follows an identity change.
const DefaultReconcileTimeout = 30 * time.Second

// Storefront is the client state of one shopper.
type Storefront struct {
	Identity *identity.Provider
	Catalog  *catalog.Catalog
	Cart     *cart.Cart
	Wishlist *wishlist.Wishlist
	Checkout *checkout.Checkout

	store    remote.Store
	logger   *logging.Logger
	options  *options
	unlisten func()

	mu        sync.Mutex
	lastEmail string
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
	watchers  sync.WaitGroup
}

// New wires the components around the store given with WithStore.
func New(opts ...Option) (*Storefront, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		return nil, fmt.Errorf("storefront: a remote store is required")
	}
	if o.auth == nil {
		o.auth = identity.NewStaticAuthenticator(true)
	}
	return build(o), nil
}

func build(o *options) *Storefront {
	logger := o.logger
	ctx, cancel := context.WithCancel(context.Background())
	s := &Storefront{
		store:   o.store,
		logger:  logger.WithComponent("storefront"),
		options: o,
		ctx:     ctx,
		cancel:  cancel,
	}

	s.Identity = identity.NewProvider(o.auth, o.store,
		identity.WithNotifier(o.notifier),
		identity.WithLogger(logger),
		identity.WithMetrics(o.metrics))
	s.Catalog = catalog.New(o.store,
		catalog.WithLogger(logger),
		catalog.WithMetrics(o.metrics))
	s.Cart = cart.New(o.store, s.Identity,
		cart.WithNotifier(o.notifier),
		cart.WithLogger(logger),
		cart.WithMetrics(o.metrics),
		cart.WithClearConcurrency(o.clearConcurrency))
	s.Wishlist = wishlist.New(o.store, s.Identity,
		wishlist.WithNotifier(o.notifier),
		wishlist.WithLogger(logger),
		wishlist.WithMetrics(o.metrics),
		wishlist.WithClearConcurrency(o.clearConcurrency))
	s.Checkout = checkout.New(o.store, s.Cart, s.Identity,
		checkout.WithShippingFee(o.shippingFee),
		checkout.WithNotifier(o.notifier),
		checkout.WithLogger(logger),
		checkout.WithMetrics(o.metrics))

	s.unlisten = s.Identity.OnChange(s.identityChanged)
	return s
}

// identityChanged reloads the cart and wishlist when the signed-in email changes. Profile edits
// that keep the email do not reload anything.
func (s *Storefront) identityChanged(profile *model.Identity) {
	email := ""
	if profile != nil {
		email = s.Identity.Email()
	}
	s.mu.Lock()
	if s.closed || strings.EqualFold(email, s.lastEmail) {
		s.mu.Unlock()
		return
	}
	s.lastEmail = email
	base := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(base, s.options.reconcileTimeout)
	defer cancel()
	// failures are logged by Reconcile; the session stays signed in
	_ = s.Reconcile(ctx)
}

// Reconcile re-reads the cart and the wishlist of the signed-in user. Signed out, both are
// emptied without remote calls.
func (s *Storefront) Reconcile(ctx context.Context) error {
	return s.logger.WithUser(s.Identity.Email()).LogOperation(ctx, "reconcile", "storefront", func() error {
		var g errgroup.Group
		g.Go(func() error { return s.Cart.FetchCart(ctx) })
		g.Go(func() error { return s.Wishlist.FetchWishlist(ctx) })
		return g.Wait()
	})
}

// Start loads the product catalog and, when a change subscriber is configured, keeps it fresh
// until Close. A failed initial load is returned; the catalog keeps its error message and can
// be retried with Catalog.Refresh.
func (s *Storefront) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	base := s.ctx
	s.mu.Unlock()

	if sub := s.options.subscriber; sub != nil {
		s.watchers.Add(1)
		go func() {
			defer s.watchers.Done()
			if err := s.Catalog.Watch(base, sub); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("product watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	if err := s.Catalog.Fetch(ctx); err != nil {
		return fmt.Errorf("initial product load: %w", err)
	}
	s.logger.Info("storefront started", slog.Int("products", len(s.Catalog.Products())))
	return nil
}

// Token returns the ID token of the session. It is the bearer token source of the REST client.
func (s *Storefront) Token(ctx context.Context) (string, error) {
	if s == nil || s.Identity == nil {
		return "", nil
	}
	return s.Identity.Token(ctx)
}

// Store returns the remote store the components share.
func (s *Storefront) Store() remote.Store { return s.store }

// Close stops background watches and releases the store and other registered resources.
// Calling it more than once is safe.
func (s *Storefront) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.unlisten()
	s.watchers.Wait()

	var errs []error
	for i := len(s.options.closers) - 1; i >= 0; i-- {
		if err := s.options.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

type options struct {
	store            remote.Store
	auth             identity.Authenticator
	notifier         notify.Notifier
	logger           *logging.Logger
	metrics          metrics.Collector
	subscriber       catalog.Subscriber
	shippingFee      model.Price
	clearConcurrency int
	reconcileTimeout time.Duration
	closers          []io.Closer
}

func defaultOptions() *options {
	return &options{
		notifier:         notify.Nop{},
		logger:           logging.Default(),
		metrics:          metrics.NoOp{},
		shippingFee:      checkout.DefaultShippingFee,
		clearConcurrency: 8,
		reconcileTimeout: DefaultReconcileTimeout,
	}
}

// Option configures a Storefront.
type Option func(*options)

// WithStore sets the remote store. It is required.
func WithStore(store remote.Store) Option {
	return func(o *options) { o.store = store }
}

// WithAuthenticator sets the identity backend. The default accepts any email as a token.
func WithAuthenticator(auth identity.Authenticator) Option {
	return func(o *options) { o.auth = auth }
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSubscriber makes Start watch the catalog for product changes.
func WithSubscriber(sub catalog.Subscriber) Option {
	return func(o *options) { o.subscriber = sub }
}

func WithShippingFee(fee model.Price) Option {
	return func(o *options) { o.shippingFee = fee }
}

// WithClearConcurrency bounds the deletes ClearCart and ClearWishlist run at once.
func WithClearConcurrency(n int) Option {
	return func(o *options) { o.clearConcurrency = n }
}

func WithReconcileTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.reconcileTimeout = d
		}
	}
}

// WithCloser registers c to be closed by Close, in reverse registration order.
func WithCloser(c io.Closer) Option {
	return func(o *options) {
		if c != nil {
			o.closers = append(o.closers, c)
		}
	}
}
