package sse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-storefront-sync/backoff"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

func newBrokerServer(t *testing.T) (*Broker, *httptest.Server) {
	t.Helper()
	broker := NewBroker(logging.Discard())
	mux := http.NewServeMux()
	mux.Handle("/events", broker.Handler())
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		broker.Close()
		server.Close()
	})
	return broker, server
}

func waitForSubscribers(t *testing.T, b *Broker, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return b.Subscribers() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestBroker_DeliversNotifications(t *testing.T) {
	broker, server := newBrokerServer(t)
	client := NewClient(server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 4)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(n Notification) error {
			received <- n
			return nil
		})
	}()

	waitForSubscribers(t, broker, 1)
	broker.Publish(Notification{Collection: "products", Action: Updated, ID: "p1"})

	select {
	case n := <-received:
		assert.Equal(t, "products", n.Collection)
		assert.Equal(t, Updated, n.Action)
		assert.Equal(t, "p1", n.ID)
		assert.False(t, n.At.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancellation")
	}
	waitForSubscribers(t, broker, 0)
}

func TestBroker_CollectionFilter(t *testing.T) {
	broker, server := newBrokerServer(t)
	client := NewClient(server.URL, nil)
	client.Collections = []string{"products"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Notification, 4)
	go func() {
		_ = client.Subscribe(ctx, func(n Notification) error {
			received <- n
			return nil
		})
	}()

	waitForSubscribers(t, broker, 1)
	broker.Publish(Notification{Collection: "cart", Action: Created, ID: "c1"})
	broker.Publish(Notification{Collection: "products", Action: Deleted, ID: "p2"})

	select {
	case n := <-received:
		assert.Equal(t, "products", n.Collection, "cart notification should be filtered out")
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestSubscribe_HandlerErrorEndsSubscription(t *testing.T) {
	broker, server := newBrokerServer(t)
	client := NewClient(server.URL, nil)

	done := make(chan error, 1)
	go func() {
		done <- client.SubscribeWithReconnect(context.Background(), func(Notification) error {
			return fmt.Errorf("boom")
		})
	}()

	waitForSubscribers(t, broker, 1)
	broker.Publish(Notification{Collection: "products", Action: Created})

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "boom")
	case <-time.After(2 * time.Second):
		t.Fatal("handler error did not end the subscription")
	}
}

func TestSubscribe_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := client.Subscribe(ctx, func(Notification) error {
		t.Error("handler should not be called")
		return nil
	})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubscribeWithReconnect_RetriesUntilServerRecovers(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: change\ndata: {\"collection\":\"products\",\"action\":\"updated\",\"id\":\"p1\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := NewClient(server.URL, nil)
	client.Backoff = &backoff.Exponential{Initial: 10 * time.Millisecond, Max: 50 * time.Millisecond, Multiplier: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	received := make(chan Notification, 1)
	go func() {
		_ = client.SubscribeWithReconnect(ctx, func(n Notification) error {
			select {
			case received <- n:
			default:
			}
			return nil
		})
	}()

	select {
	case n := <-received:
		assert.Equal(t, "p1", n.ID)
	case <-ctx.Done():
		t.Fatal("notification not received after reconnect")
	}
	assert.GreaterOrEqual(t, attempts.Load(), int32(3))
}

func TestBroker_CloseRejectsNewStreams(t *testing.T) {
	broker := NewBroker(logging.Discard())
	broker.Close()

	rec := httptest.NewRecorder()
	broker.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
