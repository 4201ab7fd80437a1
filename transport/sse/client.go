package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
)

// Client subscribes to a Broker stream.
type Client struct {
	url          string
	client       *http.Client
	logger       *logging.Logger
	minReconnect time.Duration
	maxReconnect time.Duration

	mu     stdSync.Mutex
	lastID string
}

var _ coordinator.Feed = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. It must not have a Timeout, which
// would cut every stream short.
func WithHTTPClient(cl *http.Client) ClientOption {
	return func(c *Client) {
		if cl != nil {
			c.client = cl
		}
	}
}

// WithReconnectInterval sets the backoff bounds between connection attempts.
func WithReconnectInterval(min, max time.Duration) ClientOption {
	return func(c *Client) {
		c.minReconnect, c.maxReconnect = min, max
	}
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithContainer limits the stream to events for one container.
func WithContainer(containerID string) ClientOption {
	return func(c *Client) {
		u, err := url.Parse(c.url)
		if err != nil {
			return
		}
		q := u.Query()
		q.Set("container", containerID)
		u.RawQuery = q.Encode()
		c.url = u.String()
	}
}

// NewClient creates a client for the stream served at streamURL.
func NewClient(streamURL string, opts ...ClientOption) *Client {
	c := &Client{
		url:          streamURL,
		client:       http.DefaultClient,
		minReconnect: defaultMinReconnect,
		maxReconnect: defaultMaxReconnect,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.minReconnect <= 0 {
		c.minReconnect = defaultMinReconnect
	}
	if c.maxReconnect < c.minReconnect {
		c.maxReconnect = c.minReconnect
	}
	c.logger = logging.OrDiscard(c.logger).WithComponent(logging.Component("sse-client"))
	return c
}

// LastEventID returns the id of the last event delivered to a handler.
func (c *Client) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastID
}

type handlerError struct{ err error }

func (e handlerError) Error() string { return e.err.Error() }
func (e handlerError) Unwrap() error { return e.err }

// Subscribe delivers events to handler until ctx is done, the handler
// fails, or the server answers with a terminal status. Dropped streams are
// reopened with Last-Event-ID after an exponential backoff that resets
// whenever a stream delivered something.
func (c *Client) Subscribe(ctx context.Context, handler func(coordinator.Event) error) error {
	delay := c.minReconnect
	for {
		delivered, err := c.stream(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var he handlerError
		if errors.As(err, &he) {
			return kiterr.E(kiterr.OpSubscribe, component, he.err, "handler")
		}
		if err != nil && kiterr.IsTerminal(err) {
			return err
		}
		if delivered {
			delay = c.minReconnect
		}
		c.logger.WarnContext(ctx, "event stream interrupted, reconnecting",
			slog.Duration("delay", delay), slog.Any("error", err))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > c.maxReconnect {
			delay = c.maxReconnect
		}
	}
}

// stream runs one connection. It reports whether any event was delivered.
func (c *Client) stream(ctx context.Context, handler func(coordinator.Event) error) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, kiterr.KindInvalid, err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if id := c.LastEventID(); id != "" {
		req.Header.Set("Last-Event-ID", id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, kiterr.E(kiterr.OpSubscribe, component, kiterr.Classify(kiterr.OpSubscribe, err), "http request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		cause := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
			return false, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTransient, kiterr.KindUnavailable, cause)
		}
		return false, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, kiterr.KindRejected, cause)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "text/event-stream" {
		return false, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, kiterr.KindInvalid,
			fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type")))
	}

	delivered := false
	var p parser
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 10<<20)
	for sc.Scan() {
		f, ok := p.line([]byte(strings.TrimSuffix(sc.Text(), "\r")))
		if !ok {
			continue
		}
		var ev coordinator.Event
		if err := json.Unmarshal(f.data, &ev); err != nil {
			c.logger.WarnContext(ctx, "skipping undecodable event", slog.String("id", f.id), slog.String("error", err.Error()))
			continue
		}
		if ev.Type == "" {
			ev.Type = f.event
		}
		if err := handler(ev); err != nil {
			return delivered, handlerError{err}
		}
		delivered = true
		if f.id != "" {
			c.mu.Lock()
			c.lastID = f.id
			c.mu.Unlock()
		}
	}
	if err := sc.Err(); err != nil {
		return delivered, kiterr.E(kiterr.OpSubscribe, component, kiterr.Classify(kiterr.OpSubscribe, err), "scan")
	}
	return delivered, kiterr.NewTransientError(kiterr.OpSubscribe, errors.New("stream closed by server"))
}
