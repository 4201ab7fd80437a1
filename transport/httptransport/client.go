// Package httptransport talks to the mutation authority over HTTP/JSON.
//
// Client implements coordinator.Authority, coordinator.BatchAuthority and
// coordinator.SnapshotSource. Failures are classified for the coordinator's
// retry policy: connection errors, timeouts, 408, 429 and 5xx responses are
// transient; every other non-2xx response is terminal. Handler serves the
// same API in front of any backend.
package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
)

const component = kiterr.Component("transport/http")

// Client is an HTTP mutation authority client.
type Client struct {
	baseURL string
	http    *http.Client
	options *ClientOptions
	limiter *rate.Limiter
	logger  *logging.Logger
}

var (
	_ coordinator.Authority      = (*Client)(nil)
	_ coordinator.BatchAuthority = (*Client)(nil)
	_ coordinator.SnapshotSource = (*Client)(nil)
)

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		options: DefaultClientOptions(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.options.MaxResponseSize <= 0 {
		c.options.MaxResponseSize = DefaultClientOptions().MaxResponseSize
	}
	if c.options.MaxDecompressedResponseSize <= 0 {
		c.options.MaxDecompressedResponseSize = DefaultClientOptions().MaxDecompressedResponseSize
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.options.RequestTimeout}
	}
	if c.options.RateLimit > 0 {
		burst := c.options.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(c.options.RateLimit), burst)
	}
	c.logger = logging.OrDiscard(c.logger).WithComponent(logging.Component("http-client"))
	return c
}

// BaseURL returns the base URL for the client
func (c *Client) BaseURL() string { return c.baseURL }

// Move submits one move.
func (c *Client) Move(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
	var out MoveResponse
	if err := c.do(ctx, kiterr.OpMove, http.MethodPost, "/moves", toMoveRequest(cmd), &out); err != nil {
		return board.Item{}, err
	}
	return out.Item, nil
}

// MoveBatch submits several moves in one request.
func (c *Client) MoveBatch(ctx context.Context, cmds []coordinator.Command) ([]board.Item, error) {
	req := BatchMoveRequest{Moves: make([]MoveRequest, len(cmds))}
	for i, cmd := range cmds {
		req.Moves[i] = toMoveRequest(cmd)
	}
	var out BatchMoveResponse
	if err := c.do(ctx, kiterr.OpBatchMove, http.MethodPost, "/moves/batch", req, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Snapshot fetches the items of a container.
func (c *Client) Snapshot(ctx context.Context, containerID string) ([]board.Item, error) {
	var out SnapshotResponse
	path := "/containers/" + url.PathEscape(containerID) + "/items"
	if err := c.do(ctx, kiterr.OpSnapshot, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func toMoveRequest(cmd coordinator.Command) MoveRequest {
	return MoveRequest{
		MoveID:            cmd.MoveID,
		ItemID:            cmd.ItemID,
		TargetContainerID: cmd.TargetContainerID,
		Key:               cmd.Key,
		ValidateOrdering:  cmd.ValidateOrdering,
	}
}

func (c *Client) do(ctx context.Context, op kiterr.Operation, method, path string, in, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return kiterr.Classify(op, ctx.Err())
			}
			return kiterr.NewTransientError(op, fmt.Errorf("rate limited: %w", err))
		}
	}

	var body io.Reader
	encoding := ""
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return kiterr.E(op, component, kiterr.ErrCodeTerminal, fmt.Errorf("failed to marshal request: %w", err))
		}
		body = bytes.NewReader(payload)
		if c.options.CompressionEnabled && len(payload) > c.options.GzipMinBytes {
			buf, err := gzipBody(payload)
			if err != nil {
				return kiterr.E(op, component, kiterr.ErrCodeTerminal, err)
			}
			body, encoding = buf, "gzip"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return kiterr.E(op, component, kiterr.ErrCodeTerminal, fmt.Errorf("failed to create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}
	if c.options.CompressionEnabled {
		req.Header.Set("Accept-Encoding", "gzip")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "request failed", slog.String("url", req.URL.String()), slog.String("error", err.Error()))
		return kiterr.E(op, component, kiterr.Classify(op, err))
	}
	defer resp.Body.Close()

	data, err := readResponseBody(resp, c.options)
	if err != nil {
		return kiterr.E(op, component, kiterr.Classify(op, fmt.Errorf("read response: %w", err)))
	}
	c.logger.DebugContext(ctx, "request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(op, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return kiterr.E(op, component, kiterr.ErrCodeTerminal, kiterr.KindInternal, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// statusError classifies a non-2xx response.
func statusError(op kiterr.Operation, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var er ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	cause := fmt.Errorf("server error (status %d): %s", status, msg)

	code := kiterr.ErrCodeTerminal
	if transientStatus(status) {
		code = kiterr.ErrCodeTransient
	}
	return (&kiterr.OrderError{
		Op:        op,
		Component: string(component),
		Code:      code,
		Kind:      statusKind(status),
		Retryable: code == kiterr.ErrCodeTransient,
		Err:       cause,
	}).WithMetadata("status", status)
}

func transientStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}

func statusKind(status int) kiterr.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return kiterr.KindInvalid
	case http.StatusNotFound:
		return kiterr.KindNotFound
	case http.StatusConflict, http.StatusPreconditionFailed:
		return kiterr.KindConflict
	case http.StatusUnauthorized, http.StatusForbidden:
		return kiterr.KindRejected
	case http.StatusMethodNotAllowed:
		return kiterr.KindMethodNotAllowed
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout, http.StatusTooManyRequests, http.StatusRequestTimeout:
		return kiterr.KindUnavailable
	}
	if status >= 500 {
		return kiterr.KindInternal
	}
	return kiterr.KindOther
}
