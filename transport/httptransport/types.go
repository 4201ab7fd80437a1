package httptransport

import (
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// ClientOptions configures the HTTP client behavior
type ClientOptions struct {
	// CompressionEnabled gzips request bodies larger than GzipMinBytes and
	// advertises gzip support for responses.
	CompressionEnabled bool

	// GzipMinBytes is the smallest request body that is compressed.
	GzipMinBytes int

	// MaxResponseSize is the maximum allowed size of response bodies in bytes (compressed)
	MaxResponseSize int64

	// MaxDecompressedResponseSize bounds gzip responses after decompression.
	MaxDecompressedResponseSize int64

	// RequestTimeout is the timeout of the default http.Client.
	RequestTimeout time.Duration

	// RateLimit caps outgoing requests per second; zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size. Defaults to 1 when RateLimit is set.
	Burst int
}

// DefaultClientOptions returns the default client options
func DefaultClientOptions() *ClientOptions {
	return &ClientOptions{
		CompressionEnabled:          true,
		GzipMinBytes:                1024,
		MaxResponseSize:             10 * 1024 * 1024, // 10MB
		MaxDecompressedResponseSize: 20 * 1024 * 1024, // 20MB
		RequestTimeout:              30 * time.Second,
	}
}

// ServerOptions configures the HTTP handler behavior
type ServerOptions struct {
	// MaxRequestSize is the maximum allowed size of incoming request bodies in bytes (compressed)
	MaxRequestSize int64

	// MaxDecompressedSize bounds gzip request bodies after decompression.
	MaxDecompressedSize int64

	// CompressionEnabled gzips responses of at least CompressionThreshold
	// bytes for clients that accept it.
	CompressionEnabled bool

	CompressionThreshold int64
}

// DefaultServerOptions returns the default server options
func DefaultServerOptions() *ServerOptions {
	return &ServerOptions{
		MaxRequestSize:       10 * 1024 * 1024, // 10MB
		MaxDecompressedSize:  20 * 1024 * 1024, // 20MB
		CompressionEnabled:   true,
		CompressionThreshold: 1024,
	}
}

// MoveRequest is the wire form of a coordinator.Command.
type MoveRequest struct {
	MoveID            string       `json:"move_id"`
	ItemID            string       `json:"item_id"`
	TargetContainerID string       `json:"target_container_id"`
	Key               orderkey.Key `json:"key"`
	ValidateOrdering  bool         `json:"validate_ordering,omitempty"`
}

// MoveResponse carries the authoritative item after a move.
type MoveResponse struct {
	Item board.Item `json:"item"`
}

// BatchMoveRequest submits several moves for atomic application.
type BatchMoveRequest struct {
	Moves []MoveRequest `json:"moves"`
}

// BatchMoveResponse carries the authoritative items of a batch.
type BatchMoveResponse struct {
	Items []board.Item `json:"items"`
}

// SnapshotResponse lists the items of one container.
type SnapshotResponse struct {
	ContainerID string       `json:"container_id"`
	Items       []board.Item `json:"items"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
