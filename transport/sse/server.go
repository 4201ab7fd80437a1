package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
)

// BrokerOptions configures a Broker.
type BrokerOptions struct {
	// HistorySize is how many recent events are kept for replay.
	HistorySize int
	// BufferSize is the per-subscriber queue. A subscriber that falls this
	// far behind is disconnected and has to resume from history.
	BufferSize int
	// KeepAlive is the interval of comment lines on idle streams.
	KeepAlive time.Duration
	Logger    *logging.Logger
}

type subscriber struct {
	container string
	ch        chan frame
	done      chan struct{}
}

// Broker fans events out to SSE subscribers.
type Broker struct {
	opts BrokerOptions

	mu      stdSync.Mutex
	seq     uint64
	history []published
	subs    map[*subscriber]struct{}
	closed  bool
}

type published struct {
	container string
	frame     frame
}

// NewBroker creates a broker. A nil opts uses the defaults.
func NewBroker(opts *BrokerOptions) *Broker {
	var o BrokerOptions
	if opts != nil {
		o = *opts
	}
	if o.HistorySize <= 0 {
		o.HistorySize = defaultHistorySize
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = defaultKeepAlive
	}
	o.Logger = logging.OrDiscard(o.Logger).WithComponent(logging.Component("sse-broker"))
	return &Broker{opts: o, subs: make(map[*subscriber]struct{})}
}

// Publish assigns ev the next sequence number and delivers it to every
// matching subscriber.
func (b *Broker) Publish(ev coordinator.Event) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, err, "encode event")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, kiterr.KindUnavailable, "broker closed")
	}
	b.seq++
	p := published{
		container: ev.Item.ContainerID,
		frame:     frame{id: strconv.FormatUint(b.seq, 10), event: eventName(ev), data: data},
	}
	b.history = append(b.history, p)
	if over := len(b.history) - b.opts.HistorySize; over > 0 {
		b.history = append(b.history[:0:0], b.history[over:]...)
	}
	for s := range b.subs {
		if s.container != "" && s.container != p.container {
			continue
		}
		select {
		case s.ch <- p.frame:
		default:
			b.opts.Logger.Warn("dropping slow subscriber", slog.String("container", s.container))
			b.removeLocked(s)
		}
	}
	return b.seq, nil
}

// Subscribers returns the number of connected streams.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close disconnects every subscriber and rejects further publishes.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		b.removeLocked(s)
	}
}

func (b *Broker) removeLocked(s *subscriber) {
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.done)
	}
}

// subscribe registers a subscriber and returns the history it missed.
func (b *Broker) subscribe(container string, lastID uint64, resume bool) (*subscriber, []frame, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, fmt.Errorf("broker closed")
	}
	s := &subscriber{container: container, ch: make(chan frame, b.opts.BufferSize), done: make(chan struct{})}
	b.subs[s] = struct{}{}

	var replay []frame
	if resume {
		for _, p := range b.history {
			seq, _ := p.frame.seq()
			if seq <= lastID || (container != "" && p.container != container) {
				continue
			}
			replay = append(replay, p.frame)
		}
	}
	return s, replay, nil
}

func (b *Broker) unsubscribe(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s)
}

// Handler streams events. The optional "container" query parameter filters
// by container; Last-Event-ID resumes after the given event.
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		lastID := r.Header.Get("Last-Event-ID")
		if lastID == "" {
			lastID = r.URL.Query().Get("last_event_id")
		}
		var since uint64
		if lastID != "" {
			n, err := strconv.ParseUint(lastID, 10, 64)
			if err != nil {
				http.Error(w, "bad Last-Event-ID", http.StatusBadRequest)
				return
			}
			since = n
		}

		s, replay, err := b.subscribe(r.URL.Query().Get("container"), since, lastID != "")
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer b.unsubscribe(s)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		ctx := r.Context()
		b.opts.Logger.DebugContext(ctx, "subscriber connected",
			slog.String("container", s.container), slog.Int("replay", len(replay)))
		for _, f := range replay {
			if writeFrame(w, f) != nil {
				return
			}
		}
		flusher.Flush()

		ticker := time.NewTicker(b.opts.KeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case f := <-s.ch:
				if writeFrame(w, f) != nil {
					return
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}

func writeFrame(w http.ResponseWriter, f frame) error {
	_, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", f.id, f.event, f.data)
	return err
}

// PublishingAuthority publishes an item_moved event for every item the
// wrapped authority confirms.
type PublishingAuthority struct {
	inner  coordinator.Authority
	broker *Broker
}

var (
	_ coordinator.Authority      = (*PublishingAuthority)(nil)
	_ coordinator.BatchAuthority = (*PublishingAuthority)(nil)
	_ coordinator.SnapshotSource = (*PublishingAuthority)(nil)
)

// Publishing wraps inner so that its confirmed moves reach b's subscribers.
func (b *Broker) Publishing(inner coordinator.Authority) *PublishingAuthority {
	return &PublishingAuthority{inner: inner, broker: b}
}

func (p *PublishingAuthority) Move(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
	it, err := p.inner.Move(ctx, cmd)
	if err != nil {
		return board.Item{}, err
	}
	p.publish(ctx, it)
	return it, nil
}

// MoveBatch fails with KindMethodNotAllowed when the wrapped authority has
// no batch support.
func (p *PublishingAuthority) MoveBatch(ctx context.Context, cmds []coordinator.Command) ([]board.Item, error) {
	batch, ok := p.inner.(coordinator.BatchAuthority)
	if !ok {
		return nil, kiterr.E(kiterr.OpBatchMove, component, kiterr.ErrCodeTerminal, kiterr.KindMethodNotAllowed, "batch moves are not supported")
	}
	items, err := batch.MoveBatch(ctx, cmds)
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		p.publish(ctx, it)
	}
	return items, nil
}

// Snapshot delegates to the wrapped authority when it is a SnapshotSource.
func (p *PublishingAuthority) Snapshot(ctx context.Context, containerID string) ([]board.Item, error) {
	src, ok := p.inner.(coordinator.SnapshotSource)
	if !ok {
		return nil, kiterr.E(kiterr.OpSnapshot, component, kiterr.ErrCodeTerminal, kiterr.KindMethodNotAllowed, "snapshots are not supported")
	}
	return src.Snapshot(ctx, containerID)
}

func (p *PublishingAuthority) publish(ctx context.Context, it board.Item) {
	if _, err := p.broker.Publish(coordinator.Event{Type: coordinator.EventItemMoved, Item: it}); err != nil {
		p.broker.opts.Logger.LogError(ctx, err, "failed to publish move", slog.String("item_id", it.ID))
	}
}
