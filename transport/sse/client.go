package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/c0deZ3R0/go-storefront-sync/backoff"
	kiterr "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

var errStreamClosed = errors.New("event stream closed by server")

// Client subscribes to a Broker over HTTP.
type Client struct {
	BaseURL     string
	Path        string
	Collections []string
	Client      *http.Client
	Backoff     backoff.Strategy
	Logger      *logging.Logger
}

// NewClient creates a new SSE client for the stream at baseURL + "/events"
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    "/events",
		Client:  httpClient,
		Backoff: &backoff.Exponential{Initial: 250 * time.Millisecond, Max: 30 * time.Second, Multiplier: 2},
		Logger:  logging.Default().WithComponent("sse-client"),
	}
}

func (c *Client) streamURL() string {
	u := c.BaseURL + c.Path
	if len(c.Collections) > 0 {
		u += "?collection=" + url.QueryEscape(strings.Join(c.Collections, ","))
	}
	return u
}

// Subscribe reads one stream until it ends, ctx is cancelled or handler fails. A cancelled ctx
// is reported as ctx.Err().
func (c *Client) Subscribe(ctx context.Context, handler Handler) error {
	_, err := c.subscribe(ctx, handler)
	return err
}

func (c *Client) subscribe(ctx context.Context, handler Handler) (connected bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.streamURL(), nil)
	if err != nil {
		return false, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindInvalid, err, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindUnavailable, err, "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindUnavailable,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		var n Notification
		if err := json.Unmarshal(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:"))), &n); err != nil {
			return true, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindInvalid, err, "decode notification")
		}
		if err := handler(n); err != nil {
			return true, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindInternal, err, "handler")
		}
	}
	if ctx.Err() != nil {
		return true, ctx.Err()
	}
	if err := sc.Err(); err != nil {
		return true, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindUnavailable, err, "scan")
	}
	return true, kiterr.E(kiterr.Op("sse.Subscribe"), kiterr.Component("transport/sse"), kiterr.KindUnavailable, errStreamClosed)
}

// SubscribeWithReconnect keeps a subscription alive until ctx ends, waiting per the backoff
// strategy between attempts. Handler and decode failures are returned.
func (c *Client) SubscribeWithReconnect(ctx context.Context, handler Handler) error {
	strategy := c.Backoff
	if strategy == nil {
		strategy = backoff.Default()
	}
	attempt := 0
	for {
		connected, err := c.subscribe(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !kiterr.IsRetryable(err) {
			return err
		}
		if connected {
			strategy.Reset()
			attempt = 0
		}

		delay := strategy.Delay(attempt)
		attempt++
		c.Logger.Debug("reconnecting to event stream",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
