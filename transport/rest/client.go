// Package rest implements the remote document store over JSON/HTTP and a development server
// that speaks the same protocol.
package rest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c0deZ3R0/go-storefront-sync/backoff"
	syncErrors "github.com/c0deZ3R0/go-storefront-sync/errors"
	"github.com/c0deZ3R0/go-storefront-sync/logging"
	"github.com/c0deZ3R0/go-storefront-sync/remote"
)

const component = syncErrors.Component("rest-client")

// Client implements remote.Store against a JSON CRUD service laid out as
// /{collection} and /{collection}/{id}.
type Client struct {
	baseURL string
	http    *http.Client
	options *ClientOptions
	tokens  TokenSource
	logger  *logging.Logger
}

var _ remote.Store = (*Client)(nil)

// NewClient creates a client for the service rooted at baseURL, e.g. "http://localhost:4000".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, fmt.Errorf("invalid base URL %q", baseURL))
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		options: DefaultClientOptions(),
		logger:  logging.Default().WithComponent("rest-client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := ValidateClientOptions(c.options); err != nil {
		return nil, syncErrors.NewValidationError(syncErrors.OpTransport, err)
	}
	if c.http == nil {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		// we decode gzip ourselves so the decompressed size can be bounded
		tr.DisableCompression = true
		c.http = &http.Client{Transport: tr}
	}
	return c, nil
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) List(ctx context.Context, collection string) ([]json.RawMessage, error) {
	body, err := c.do(ctx, syncErrors.OpFetch, http.MethodGet, c.path(collection), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(body), nil
}

func (c *Client) ListScoped(ctx context.Context, collection, key string) ([]json.RawMessage, error) {
	body, err := c.do(ctx, syncErrors.OpFetch, http.MethodGet, c.path(collection, key), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(body), nil
}

func (c *Client) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	body, err := c.do(ctx, syncErrors.OpFetch, http.MethodGet, c.path(collection, id), nil)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

func (c *Client) Create(ctx context.Context, collection string, doc any) (string, error) {
	body, err := c.do(ctx, syncErrors.OpCreate, http.MethodPost, c.path(collection), doc)
	if err != nil {
		return "", err
	}
	return remote.ExtractID(body), nil
}

func (c *Client) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	_, err := c.do(ctx, syncErrors.OpUpdate, http.MethodPut, c.path(collection, id), fields)
	return err
}

func (c *Client) Delete(ctx context.Context, collection, id string) error {
	_, err := c.do(ctx, syncErrors.OpDelete, http.MethodDelete, c.path(collection, id), nil)
	return err
}

func (c *Client) path(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

// decodeList accepts only a JSON array. Anything else (null, an error object) is an empty list.
func decodeList(body []byte) []json.RawMessage {
	var docs []json.RawMessage
	if err := json.Unmarshal(body, &docs); err != nil {
		return []json.RawMessage{}
	}
	if docs == nil {
		docs = []json.RawMessage{}
	}
	return docs
}

// do performs one logical call. Only GET, PUT and DELETE are retried, and only when the failure
// is retryable (network errors, 429 and 5xx).
func (c *Client) do(ctx context.Context, op syncErrors.Operation, method, target string, payload any) ([]byte, error) {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return nil, syncErrors.E(op, component, syncErrors.KindInvalid, "marshal request body", err)
		}
	}

	if c.options.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()
	}

	requestID := logging.RequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	attempts := 1
	if method != http.MethodPost {
		attempts += c.options.RetryMax
	}
	policy := &backoff.Exponential{Initial: c.options.RetryWaitMin, Max: c.options.RetryWaitMax, Multiplier: 2}

	var out []byte
	err := backoff.Retry(ctx, policy, attempts, func(ctx context.Context) error {
		var err error
		out, err = c.roundTrip(ctx, op, method, target, raw, requestID)
		return err
	})
	return out, err
}

func (c *Client) roundTrip(ctx context.Context, op syncErrors.Operation, method, target string, payload []byte, requestID string) ([]byte, error) {
	start := time.Now()

	var body io.Reader
	encoded := false
	if payload != nil {
		body = bytes.NewReader(payload)
		if c.options.CompressionEnabled && c.options.GzipMinBytes > 0 && len(payload) > c.options.GzipMinBytes {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			if _, err := gw.Write(payload); err != nil {
				return nil, syncErrors.E(op, component, syncErrors.KindInternal, "compress request", err)
			}
			if err := gw.Close(); err != nil {
				return nil, syncErrors.E(op, component, syncErrors.KindInternal, "compress request", err)
			}
			body = &buf
			encoded = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, syncErrors.E(op, component, syncErrors.KindInvalid, "create request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoded {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if c.options.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
	}
	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return nil, syncErrors.E(op, component, syncErrors.KindUnauthenticated, "obtain token", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed",
			slog.String("method", method),
			slog.String("url", target),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		if ctxErr := ctx.Err(); ctxErr != nil {
			// cancelled or timed out: an ordinary failure, never retried
			return nil, &syncErrors.SyncError{
				Op:        op,
				Component: string(component),
				Kind:      syncErrors.KindUnavailable,
				Code:      syncErrors.ErrCodeNetworkFailure,
				Err:       ctxErr,
			}
		}
		return nil, &syncErrors.SyncError{
			Op:        op,
			Component: string(component),
			Kind:      syncErrors.KindUnavailable,
			Code:      syncErrors.ErrCodeNetworkFailure,
			Err:       fmt.Errorf("%s %s: %w", method, target, err),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	reader, cleanup, err := createSafeResponseReader(resp, c.options)
	if err != nil {
		return nil, syncErrors.E(op, component, syncErrors.KindInvalid, "read response", err)
	}
	defer cleanup()

	data, err := io.ReadAll(reader)
	if err != nil {
		if errors.Is(err, errResponseTooLarge) || errors.Is(err, errDecompressedTooLarge) {
			return nil, syncErrors.E(op, component, syncErrors.KindInvalid, "read response", err)
		}
		return nil, syncErrors.NewNetworkError(op, fmt.Errorf("read response: %w", err))
	}

	c.logger.Debug("request completed",
		slog.String("method", method),
		slog.String("url", target),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, statusError(op, method, target, resp.StatusCode, data)
}

func statusError(op syncErrors.Operation, method, target string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			msg = payload.Error
		} else if payload.Message != "" {
			msg = payload.Message
		}
	}
	cause := fmt.Errorf("%s %s: status %d: %s", method, target, status, msg)

	switch {
	case status == http.StatusNotFound:
		return syncErrors.E(op, component, syncErrors.KindNotFound, cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return syncErrors.E(op, component, syncErrors.KindUnauthenticated, syncErrors.ErrCodeUnauthenticated, cause)
	case status == http.StatusMethodNotAllowed:
		return syncErrors.E(op, component, syncErrors.KindMethodNotAllowed, cause)
	case status == http.StatusTooManyRequests || status >= 500:
		return syncErrors.E(op, component, syncErrors.KindUnavailable, syncErrors.ErrCodeNetworkFailure, cause)
	default:
		return syncErrors.E(op, component, syncErrors.KindInvalid, syncErrors.ErrCodeValidationFailure, cause)
	}
}
