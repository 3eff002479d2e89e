package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// Broker fans notifications out to every connected stream. A subscriber that cannot keep up
// loses notifications instead of blocking publishers.
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan Notification]struct{}
	closed      bool

	BufferSize int
	Heartbeat  time.Duration
	Logger     *logging.Logger
}

// NewBroker creates a broker with default settings
func NewBroker(logger *logging.Logger) *Broker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Broker{
		subscribers: make(map[chan Notification]struct{}),
		BufferSize:  32,
		Heartbeat:   15 * time.Second,
		Logger:      logger.WithComponent("sse-broker"),
	}
}

var _ Publisher = (*Broker)(nil)

// Publish delivers n to every subscriber without blocking.
func (b *Broker) Publish(n Notification) {
	if n.At.IsZero() {
		n.At = time.Now().UTC()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			b.Logger.Warn("dropping notification for slow subscriber",
				slog.String("collection", n.Collection),
				slog.String("id", n.ID))
		}
	}
}

// Subscribers returns the number of connected streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broker) subscribe() (chan Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	ch := make(chan Notification, b.BufferSize)
	b.subscribers[ch] = struct{}{}
	return ch, true
}

func (b *Broker) unsubscribe(ch chan Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Close disconnects every stream and rejects new ones.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
}

// Handler serves the stream. ?collection=a,b restricts it to those collections.
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var collections []string
		if q := r.URL.Query().Get("collection"); q != "" {
			collections = strings.Split(q, ",")
		}

		ch, ok := b.subscribe()
		if !ok {
			http.Error(w, "broker closed", http.StatusServiceUnavailable)
			return
		}
		defer b.unsubscribe(ch)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		heartbeat := b.Heartbeat
		if heartbeat <= 0 {
			heartbeat = 15 * time.Second
		}
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case n, open := <-ch:
				if !open {
					return
				}
				if !matches(n, collections) {
					continue
				}
				data, err := json.Marshal(n)
				if err != nil {
					b.Logger.Error("failed to encode notification", slog.String("error", err.Error()))
					continue
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	})
}
