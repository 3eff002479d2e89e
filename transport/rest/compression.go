package rest

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")
	errResponseTooLarge     = errors.New("response body exceeds maximum size limit")
	errUnsupportedMedia     = errors.New("unsupported media type")
	errUnsupportedEncoding  = errors.New("unsupported content encoding")
	errInvalidGzip          = errors.New("invalid gzip data")
)

// maxDecompressedReader wraps an io.Reader to enforce a size limit
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
	tooLarge error
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		// one more byte means the limit was exceeded rather than met exactly
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, r.tooLarge
		}
		return 0, io.EOF
	}

	maxRead := r.limit - r.consumed
	if int64(len(p)) > maxRead {
		p = p[:maxRead]
	}

	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// createSafeRequestReader creates a reader that enforces both compressed and decompressed size limits
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	maxRequestSize := options.MaxRequestSize
	if maxRequestSize == 0 {
		maxRequestSize = 1 << 20
	}
	maxDecompressedSize := options.MaxDecompressedSize
	if maxDecompressedSize == 0 {
		maxDecompressedSize = 4 << 20
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, func() {}, fmt.Errorf("%w: %s", errUnsupportedMedia, contentType)
	}

	limitedReader := http.MaxBytesReader(w, r.Body, maxRequestSize)

	contentEncoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch contentEncoding {
	case "":
		return limitedReader, func() {}, nil
	case "gzip":
	default:
		return nil, func() {}, fmt.Errorf("%w: %s (only gzip is supported)", errUnsupportedEncoding, contentEncoding)
	}

	gzReader, err := gzip.NewReader(limitedReader)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %v", errInvalidGzip, err)
	}

	reader := &maxDecompressedReader{
		reader:   gzReader,
		limit:    maxDecompressedSize,
		tooLarge: errDecompressedTooLarge,
	}
	return reader, func() { gzReader.Close() }, nil
}

// createSafeResponseReader bounds a response body and transparently gunzips it when the server
// compressed it.
func createSafeResponseReader(resp *http.Response, options *ClientOptions) (io.Reader, func(), error) {
	maxSize := options.MaxResponseSize
	if maxSize <= 0 {
		maxSize = 10 << 20
	}
	maxDecompressed := options.MaxDecompressedResponseSize
	if maxDecompressed <= 0 {
		maxDecompressed = 20 << 20
	}

	limited := &maxDecompressedReader{reader: resp.Body, limit: maxSize, tooLarge: errResponseTooLarge}

	if !strings.EqualFold(strings.TrimSpace(resp.Header.Get("Content-Encoding")), "gzip") {
		return limited, func() {}, nil
	}

	gzReader, err := gzip.NewReader(limited)
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: %v", errInvalidGzip, err)
	}
	reader := &maxDecompressedReader{reader: gzReader, limit: maxDecompressed, tooLarge: errDecompressedTooLarge}
	return reader, func() { gzReader.Close() }, nil
}

// mapErrorToHTTPStatus maps request body errors to HTTP status codes
func mapErrorToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, errDecompressedTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	if errors.Is(err, errUnsupportedMedia) || errors.Is(err, errUnsupportedEncoding) {
		return http.StatusUnsupportedMediaType
	}
	return http.StatusBadRequest
}
