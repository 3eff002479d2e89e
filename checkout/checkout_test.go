package checkout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-storefront-sync/cart"
	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/internal/memremote"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/model"
	"github.com/c0deZ3R0/go-storefront-sync/notify"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

type session string

func (s session) Email() string { return string(s) }

var (
	flask = model.Product{ID: "p1", Name: "Flask", Price: model.NewPrice(30)}
	mug   = model.Product{ID: "p2", Name: "Mug"}

	fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

type fixture struct {
	checkout *Checkout
	cart     *cart.Cart
	store    *memremote.Store
	rec      *notify.Recorder
}

func newFixture(t *testing.T, email string) fixture {
	t.Helper()
	store := memremote.New()
	rec := &notify.Recorder{}
	sess := session(email)
	c := cart.New(store, sess, cart.WithLogger(logging.Discard()))
	co := New(store, c, sess,
		WithNotifier(rec),
		WithLogger(logging.Discard()),
		WithClock(func() time.Time { return fixedNow }))
	return fixture{checkout: co, cart: c, store: store, rec: rec}
}

func (f fixture) fill(t *testing.T) {
	t.Helper()
	f.store.Seed(remote.Cart,
		model.NewCartLine("user1@x.com", flask, 2),
		model.NewCartLine("user1@x.com", mug, 1),
	)
	require.NoError(t, f.cart.FetchCart(context.Background()))
	require.Len(t, f.cart.Lines(), 2)
}

func validDetails() Details {
	return Details{
		Shipping: model.Shipping{FullName: " Rahim Uddin ", Phone: "01700000000", Address: "12 Lake Rd", City: "Dhaka"},
		Payment:  model.Payment{Method: model.PaymentBkash, SenderPhone: "01800000000", TrxID: "TX123"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Details)
		want string
	}{
		{"complete", func(*Details) {}, ""},
		{"missing name", func(d *Details) { d.Shipping.FullName = "  " }, MsgShippingRequired},
		{"missing address", func(d *Details) { d.Shipping.Address = "" }, MsgShippingRequired},
		{"city optional", func(d *Details) { d.Shipping.City = "" }, ""},
		{"wallet without trx", func(d *Details) { d.Payment.TrxID = "" }, MsgPaymentRequired},
		{"wallet without sender", func(d *Details) { d.Payment.SenderPhone = "" }, MsgPaymentRequired},
		{"bank needs nothing", func(d *Details) { d.Payment = model.Payment{Method: model.PaymentBank} }, ""},
		{"empty method is cod", func(d *Details) { d.Payment = model.Payment{} }, ""},
		{"unknown method", func(d *Details) { d.Payment.Method = "paypal" }, MsgPaymentRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDetails()
			tt.edit(&d)
			assert.Equal(t, tt.want, Validate(d))
		})
	}
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t, "user1@x.com")
	f.fill(t)

	order, err := f.checkout.PlaceOrder(context.Background(), validDetails())
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "user1@x.com", order.OwnerEmail)
	require.Len(t, order.Items, 2)
	// 30*2 + 45 default price
	assert.Equal(t, "105.00", order.Subtotal.String())
	assert.Equal(t, "60.00", order.ShipFee.String())
	assert.Equal(t, "165.00", order.Total.String())
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, "Rahim Uddin", order.Shipping.FullName)
	assert.True(t, order.CreatedAt.Equal(fixedNow))

	docs := f.store.Docs(remote.Orders)
	require.Len(t, docs, 1)
	assert.Equal(t, order.ID, docs[0]["_id"])
	assert.Equal(t, "bkash", docs[0]["payment"].(map[string]any)["method"])

	assert.Empty(t, f.cart.Lines())
	assert.Zero(t, f.store.Len(remote.Cart))
	n, ok := f.rec.Last()
	require.True(t, ok)
	assert.Equal(t, MsgOrderPlaced, n.Message)
}

func TestPlaceOrder_CustomShippingFee(t *testing.T) {
	f := newFixture(t, "user1@x.com")
	f.fill(t)
	WithShippingFee(model.NewPrice(0))(f.checkout)

	order, err := f.checkout.PlaceOrder(context.Background(), validDetails())
	require.NoError(t, err)
	assert.Equal(t, "105.00", order.Total.String())
}

func TestPlaceOrder_Guards(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		f := newFixture(t, "")
		_, err := f.checkout.PlaceOrder(context.Background(), validDetails())
		assert.True(t, syncErrors.IsKind(err, syncErrors.KindUnauthenticated))
		assert.Zero(t, f.store.TotalCalls())
		n, _ := f.rec.Last()
		assert.Equal(t, MsgLoginRequired, n.Message)
	})

	t.Run("invalid details", func(t *testing.T) {
		f := newFixture(t, "user1@x.com")
		f.fill(t)
		f.store.ResetCalls()
		d := validDetails()
		d.Shipping.Phone = ""
		_, err := f.checkout.PlaceOrder(context.Background(), d)
		assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))
		assert.Zero(t, f.store.TotalCalls())
		assert.Len(t, f.cart.Lines(), 2)
		n, _ := f.rec.Last()
		assert.Equal(t, MsgShippingRequired, n.Message)
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t, "user1@x.com")
		_, err := f.checkout.PlaceOrder(context.Background(), validDetails())
		assert.True(t, syncErrors.IsKind(err, syncErrors.KindInvalid))
		assert.Zero(t, f.store.Len(remote.Orders))
		n, _ := f.rec.Last()
		assert.Equal(t, MsgCartEmpty, n.Message)
	})
}

func TestPlaceOrder_CreateFailureKeepsCart(t *testing.T) {
	f := newFixture(t, "user1@x.com")
	f.fill(t)
	f.store.Fail(memremote.MethodCreate, remote.Orders,
		syncErrors.NewNetworkError(syncErrors.OpTransport, errors.New("connection refused")))

	_, err := f.checkout.PlaceOrder(context.Background(), validDetails())
	require.Error(t, err)
	assert.True(t, syncErrors.IsRetryable(err))
	assert.Len(t, f.cart.Lines(), 2)
	assert.Zero(t, f.store.Calls(memremote.MethodDelete))
	n, _ := f.rec.Last()
	assert.Equal(t, MsgOrderFailed, n.Message)
}

func TestPlaceOrder_ClearFailureStillPlaces(t *testing.T) {
	f := newFixture(t, "user1@x.com")
	f.fill(t)
	f.store.Fail(memremote.MethodDelete, remote.Cart, errors.New("boom"))

	order, err := f.checkout.PlaceOrder(context.Background(), validDetails())
	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, 1, f.store.Len(remote.Orders))
	assert.Len(t, f.cart.Lines(), 2)
	n, _ := f.rec.Last()
	assert.Equal(t, MsgOrderPlaced, n.Message)
}

func TestOrders(t *testing.T) {
	f := newFixture(t, "user1@x.com")
	older := model.Order{OwnerEmail: "user1@x.com", Status: model.OrderPending,
		CreatedAt: model.Timestamp{Time: fixedNow.Add(-time.Hour)}}
	newer := model.Order{OwnerEmail: "USER1@x.com", Status: model.OrderPending,
		CreatedAt: model.Timestamp{Time: fixedNow}}
	other := model.Order{OwnerEmail: "user2@x.com", Status: model.OrderPending,
		CreatedAt: model.Timestamp{Time: fixedNow}}
	ids := f.store.Seed(remote.Orders, older, other, newer)

	orders, err := f.checkout.Orders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, ids[2], orders[0].ID)
	assert.Equal(t, ids[0], orders[1].ID)
}

func TestOrders_RequiresSignIn(t *testing.T) {
	f := newFixture(t, "")
	_, err := f.checkout.Orders(context.Background())
	assert.True(t, syncErrors.IsKind(err, syncErrors.KindUnauthenticated))
	assert.Zero(t, f.store.TotalCalls())
}
