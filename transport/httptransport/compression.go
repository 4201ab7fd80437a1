package httptransport

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errDecompressedTooLarge is a sentinel error for decompressed size limit violations
var errDecompressedTooLarge = errors.New("decompressed data exceeds maximum size limit")

// maxDecompressedReader wraps an io.Reader to enforce decompressed size limits
type maxDecompressedReader struct {
	reader   io.Reader
	limit    int64
	consumed int64
}

func (r *maxDecompressedReader) Read(p []byte) (int, error) {
	if r.consumed >= r.limit {
		var probe [1]byte
		if n, _ := r.reader.Read(probe[:]); n > 0 {
			return 0, errDecompressedTooLarge
		}
		return 0, io.EOF
	}
	if remaining := r.limit - r.consumed; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := r.reader.Read(p)
	r.consumed += int64(n)
	return n, err
}

// gzipBody compresses payload.
func gzipBody(payload []byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to compress request: %w", err)
	}
	if err := gw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return &buf, nil
}

// readResponseBody reads resp.Body within the configured limits. Gzip
// bodies are only seen here when the transport did not decompress them.
func readResponseBody(resp *http.Response, opts *ClientOptions) ([]byte, error) {
	limited := io.LimitReader(resp.Body, opts.MaxResponseSize+1)
	var r io.Reader = limited
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip response: %w", err)
		}
		defer gz.Close()
		r = &maxDecompressedReader{reader: gz, limit: opts.MaxDecompressedResponseSize}
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") && int64(len(body)) > opts.MaxResponseSize {
		return nil, fmt.Errorf("response body exceeds %d bytes", opts.MaxResponseSize)
	}
	return body, nil
}

// createSafeRequestReader returns a reader over r.Body that enforces both
// the compressed and the decompressed size limit.
func createSafeRequestReader(w http.ResponseWriter, r *http.Request, options *ServerOptions) (io.Reader, func(), error) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/json") {
		return nil, func() {}, fmt.Errorf("unsupported media type: %s", contentType)
	}
	if r.ContentLength > options.MaxRequestSize {
		return nil, func() {}, fmt.Errorf("compressed request body too large: %d bytes (max %d)", r.ContentLength, options.MaxRequestSize)
	}

	limited := http.MaxBytesReader(w, r.Body, options.MaxRequestSize)
	encoding := strings.TrimSpace(strings.ToLower(r.Header.Get("Content-Encoding")))
	switch encoding {
	case "":
		return limited, func() {}, nil
	case "gzip":
		gz, err := gzip.NewReader(limited)
		if err != nil {
			return nil, func() {}, fmt.Errorf("invalid gzip data: %w", err)
		}
		return &maxDecompressedReader{reader: gz, limit: options.MaxDecompressedSize}, func() { gz.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unsupported content encoding: %s (only gzip is supported)", encoding)
	}
}

// requestStatus maps a request decoding error to an HTTP status.
func requestStatus(err error) int {
	if errors.Is(err, errDecompressedTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return http.StatusRequestEntityTooLarge
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported media type"), strings.Contains(msg, "unsupported content encoding"):
		return http.StatusUnsupportedMediaType
	case strings.Contains(msg, "compressed request body too large"):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
