package rest

import (
	"context"
	"fmt"
	"time"
)

// ServerOptions configures the dev REST server behavior
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies in bytes (compressed)
	// If 0, defaults to 1MB
	MaxRequestSize int64

	// MaxDecompressedSize is the maximum allowed size of decompressed request bodies in bytes
	// If 0, defaults to 4MB
	MaxDecompressedSize int64

	// CompressionEnabled gzips JSON responses of the collection routes for clients that accept it
	CompressionEnabled bool

	// RequestTimeout is the maximum duration for processing a single request
	RequestTimeout time.Duration

	// AllowedOrigins feeds the CORS middleware. Empty means any origin.
	AllowedOrigins []string

	// ScopedCollections maps a collection to the field that GET /{collection}/{key} filters on.
	// Collections not listed here treat the second path segment as a document id.
	ScopedCollections map[string]string
}

// DefaultScopedCollections matches the wishlist route of the storefront backend, which lists a
// user's entries under GET /wishlist/{email}.
func DefaultScopedCollections() map[string]string {
	return map[string]string{"wishlist": "email"}
}

// DefaultServerOptions returns the default server options
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:      1 << 20, // 1MB
		MaxDecompressedSize: 4 << 20, // 4MB
		CompressionEnabled:  true,
		RequestTimeout:      30 * time.Second,
		ScopedCollections:   DefaultScopedCollections(),
	}
}

// ClientOptions configures the REST client behavior
type ClientOptions struct {
	// CompressionEnabled requests gzip responses and gzips request bodies above GzipMinBytes
	CompressionEnabled bool

	// GzipMinBytes is the smallest request body that gets compressed
	GzipMinBytes int

	// MaxResponseSize is the maximum allowed size of response bodies in bytes (compressed)
	MaxResponseSize int64

	// MaxDecompressedResponseSize bounds gzip responses after decompression
	MaxDecompressedResponseSize int64

	// RequestTimeout is the maximum duration for a single request including retries
	RequestTimeout time.Duration

	// RetryMax is the number of retries after the first attempt. Zero disables retries,
	// which is the default: failed calls surface to the caller immediately.
	RetryMax int

	// RetryWaitMin is the wait before the first retry
	RetryWaitMin time.Duration

	// RetryWaitMax caps the wait between retries
	RetryWaitMax time.Duration
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,
		MaxResponseSize:             10 << 20, // 10MB
		MaxDecompressedResponseSize: 20 << 20, // 20MB
		RequestTimeout:              15 * time.Second,
		RetryMax:                    0,
		RetryWaitMin:                200 * time.Millisecond,
		RetryWaitMax:                2 * time.Second,
	}
}

// ValidateClientOptions rejects inconsistent limits
func ValidateClientOptions(opts *ClientOptions) error {
	if opts.MaxResponseSize < 0 || opts.MaxDecompressedResponseSize < 0 {
		return fmt.Errorf("response size limits must not be negative")
	}
	if opts.MaxDecompressedResponseSize > 0 && opts.MaxDecompressedResponseSize < opts.MaxResponseSize {
		return fmt.Errorf("max decompressed response size (%d) is smaller than max response size (%d)",
			opts.MaxDecompressedResponseSize, opts.MaxResponseSize)
	}
	if opts.RetryMax < 0 {
		return fmt.Errorf("retry max must not be negative")
	}
	if opts.RetryWaitMax > 0 && opts.RetryWaitMin > opts.RetryWaitMax {
		return fmt.Errorf("retry wait min (%s) exceeds retry wait max (%s)", opts.RetryWaitMin, opts.RetryWaitMax)
	}
	return nil
}

// TokenSource returns the bearer token to attach to a request, or "" for none.
type TokenSource func(ctx context.Context) (string, error)
