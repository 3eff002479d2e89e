// Package checkout turns the signed-in user's cart into an order row. Payment is recorded as the
// user reports it (cash on delivery, a mobile-wallet transaction id or a bank transfer) and is
// never processed.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/metrics"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

const component = "checkout"

const (
	MsgLoginRequired    = "Please log in to place an order."
	MsgCartEmpty        = "Your cart is empty."
	MsgShippingRequired = "Please fill in all shipping details."
	MsgPaymentRequired  = "Please provide payment details."
	MsgOrderPlaced      = "Order placed successfully! Check your email for confirmation."
	MsgOrderFailed      = "Failed to place order. Please try again."
)

// DefaultShippingFee is the flat fee added to every order.
var DefaultShippingFee = model.NewPrice(60)

// Details is what the user enters at checkout.
type Details struct {
	Shipping model.Shipping
	Payment  model.Payment
}

// Cart is the part of the cart core checkout needs. *cart.Cart implements it.
type Cart interface {
	Lines() []model.CartLine
	ClearCart(ctx context.Context) error
}

// Session tells who is ordering.
type Session interface {
	Email() string
}

type Checkout struct {
	store       remote.Store
	cart        Cart
	session     Session
	notifier    notify.Notifier
	logger      *logging.Logger
	metrics     metrics.Collector
	shippingFee model.Price
	now         func() time.Time
}

type Option func(*Checkout)

func WithShippingFee(fee model.Price) Option {
	return func(c *Checkout) { c.shippingFee = fee }
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *Checkout) {
		if n != nil {
			c.notifier = n
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(c *Checkout) {
		if l != nil {
			c.logger = l.WithComponent(component)
		}
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Checkout) {
		if m != nil {
			c.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Checkout) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store remote.Store, cart Cart, session Session, opts ...Option) *Checkout {
	c := &Checkout{
		store:       store,
		cart:        cart,
		session:     session,
		notifier:    notify.Nop{},
		logger:      logging.WithComponent(component),
		metrics:     metrics.NoOp{},
		shippingFee: DefaultShippingFee,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate checks details the way PlaceOrder does and returns the user-facing message of the
// first problem, or "".
func Validate(d Details) string {
	s := d.Shipping
	if blank(s.FullName) || blank(s.Phone) || blank(s.Address) {
		return MsgShippingRequired
	}
	method := d.Payment.Method
	if method == "" {
		method = model.PaymentCOD
	}
	if !method.Valid() {
		return MsgPaymentRequired
	}
	if method.Wallet() && (blank(d.Payment.SenderPhone) || blank(d.Payment.TrxID)) {
		return MsgPaymentRequired
	}
	return ""
}

// PlaceOrder writes an order for the held cart lines and then clears the cart. An order whose
// cart could not be cleared is still placed; the cart reports its own failure.
func (c *Checkout) PlaceOrder(ctx context.Context, d Details) (order model.Order, err error) {
	defer metrics.Since(c.metrics, component, string(syncErrors.OpPlaceOrder), time.Now(), &err)

	email := c.session.Email()
	if email == "" {
		c.notifier.Failure(ctx, MsgLoginRequired)
		return model.Order{}, syncErrors.NewUnauthenticatedError(syncErrors.OpPlaceOrder, component)
	}
	if msg := Validate(d); msg != "" {
		c.notifier.Failure(ctx, msg)
		return model.Order{}, syncErrors.NewValidationError(syncErrors.OpPlaceOrder, fmt.Errorf("%s", strings.TrimSuffix(msg, ".")))
	}
	lines := c.cart.Lines()
	if len(lines) == 0 {
		c.notifier.Failure(ctx, MsgCartEmpty)
		return model.Order{}, syncErrors.NewValidationError(syncErrors.OpPlaceOrder, fmt.Errorf("cart is empty"))
	}

	order = c.build(email, d, lines)
	id, err := c.store.Create(ctx, remote.Orders, order)
	if err != nil {
		err = syncErrors.E(syncErrors.OpPlaceOrder, syncErrors.Component(component), err)
		c.logger.LogError(ctx, err, "error placing order", slog.Int("items", len(order.Items)))
		c.notifier.Failure(ctx, MsgOrderFailed)
		return model.Order{}, err
	}
	order.ID = id

	if cerr := c.cart.ClearCart(ctx); cerr != nil {
		c.logger.Warn("order placed but cart not cleared", slog.String("order_id", id), slog.String("error", cerr.Error()))
	}
	c.logger.InfoContext(ctx, "order placed",
		slog.String("order_id", id),
		slog.String("total", order.Total.String()),
		slog.String("payment", string(order.Payment.Method)))
	c.notifier.Success(ctx, MsgOrderPlaced)
	return order, nil
}

func (c *Checkout) build(email string, d Details, lines []model.CartLine) model.Order {
	items := make([]model.OrderItem, 0, len(lines))
	var subtotal model.Price
	for _, l := range lines {
		items = append(items, model.OrderItemFromLine(l))
		subtotal = subtotal.Plus(l.Subtotal())
	}
	payment := d.Payment
	if payment.Method == "" {
		payment.Method = model.PaymentCOD
	}
	return model.Order{
		OwnerEmail: email,
		Items:      items,
		Shipping:   trimShipping(d.Shipping),
		Payment:    payment,
		Subtotal:   subtotal,
		ShipFee:    c.shippingFee,
		Total:      subtotal.Plus(c.shippingFee),
		Status:     model.OrderPending,
		CreatedAt:  model.Timestamp{Time: c.now().UTC().Truncate(time.Millisecond)},
	}
}

// Orders lists the signed-in user's orders, newest first.
func (c *Checkout) Orders(ctx context.Context) ([]model.Order, error) {
	email := c.session.Email()
	if email == "" {
		return nil, syncErrors.NewUnauthenticatedError(syncErrors.OpFetch, component)
	}
	docs, err := c.store.List(ctx, remote.Orders)
	if err != nil {
		return nil, syncErrors.E(syncErrors.OpFetch, syncErrors.Component(component), "fetch orders", err)
	}
	orders := make([]model.Order, 0, len(docs))
	for _, doc := range docs {
		o, err := remote.Decode[model.Order](doc)
		if err != nil {
			c.logger.Warn("skipping malformed order", slog.String("error", err.Error()))
			continue
		}
		if strings.EqualFold(o.OwnerEmail, email) {
			orders = append(orders, o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt.Time)
	})
	return orders, nil
}

func trimShipping(s model.Shipping) model.Shipping {
	return model.Shipping{
		FullName: strings.TrimSpace(s.FullName),
		Phone:    strings.TrimSpace(s.Phone),
		Address:  strings.TrimSpace(s.Address),
		City:     strings.TrimSpace(s.City),
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
