package rest

import (
	"net/http"
	"time"

	"github.com/c0deZ3R0/go-storefront-sync/logging"
)

// ServerOption is a function that configures a ServerOptions struct
type ServerOption func(*ServerOptions)

// WithMaxRequestSize sets the maximum allowed size of incoming request bodies
func WithMaxRequestSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxRequestSize = size
	}
}

// WithMaxDecompressedSize sets the maximum allowed size of decompressed request bodies
func WithMaxDecompressedSize(size int64) ServerOption {
	return func(opts *ServerOptions) {
		opts.MaxDecompressedSize = size
	}
}

// WithCompression enables or disables response compression
func WithCompression(enabled bool) ServerOption {
	return func(opts *ServerOptions) {
		opts.CompressionEnabled = enabled
	}
}

// WithRequestTimeout sets the maximum duration for request processing
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(opts *ServerOptions) {
		opts.RequestTimeout = timeout
	}
}

// WithAllowedOrigins restricts CORS to the given origins
func WithAllowedOrigins(origins ...string) ServerOption {
	return func(opts *ServerOptions) {
		opts.AllowedOrigins = origins
	}
}

// WithScopedCollection makes GET /{collection}/{key} list documents whose field equals key
func WithScopedCollection(collection, field string) ServerOption {
	return func(opts *ServerOptions) {
		if opts.ScopedCollections == nil {
			opts.ScopedCollections = map[string]string{}
		}
		opts.ScopedCollections[collection] = field
	}
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		c.http = cl
	}
}

// WithClientCompression enables or disables request/response compression
func WithClientCompression(enabled bool) ClientOption {
	return func(c *Client) {
		c.options.CompressionEnabled = enabled
	}
}

// WithMaxResponseSize sets the maximum allowed size of response bodies
func WithMaxResponseSize(size int64) ClientOption {
	return func(c *Client) {
		c.options.MaxResponseSize = size
	}
}

// WithRetryConfig enables retries of failed idempotent requests
func WithRetryConfig(maxRetries int, waitMin, waitMax time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RetryMax = maxRetries
		c.options.RetryWaitMin = waitMin
		c.options.RetryWaitMax = waitMax
	}
}

// WithClientTimeout sets the timeout for all requests
func WithClientTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.options.RequestTimeout = timeout
	}
}

// WithTokenSource attaches a bearer token to every request
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger sets the client logger
func WithLogger(logger *logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// applyServerOptions creates a new ServerOptions with the given options applied
func applyServerOptions(opts ...ServerOption) *ServerOptions {
	options := DefaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
