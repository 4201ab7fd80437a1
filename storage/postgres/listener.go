package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	stdSync "sync"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
)

// DefaultChannel is the NOTIFY channel item moves are published on.
const DefaultChannel = "items_moved"

// NotificationPayload is the JSON body of an item notification.
type NotificationPayload struct {
	Type string     `json:"type"`
	Item board.Item `json:"item"`
}

// EncodeNotification renders ev as a NOTIFY payload.
func EncodeNotification(ev coordinator.Event) (string, error) {
	if ev.Type == "" {
		ev.Type = coordinator.EventItemMoved
	}
	b, err := json.Marshal(NotificationPayload{Type: ev.Type, Item: ev.Item})
	if err != nil {
		return "", err
	}
	// NOTIFY payloads are limited to 8000 bytes.
	if len(b) >= 8000 {
		return "", fmt.Errorf("notification for item %q is %d bytes, limit is 8000", ev.Item.ID, len(b))
	}
	return string(b), nil
}

// DecodeNotification parses a NOTIFY payload into an event.
func DecodeNotification(payload string) (coordinator.Event, error) {
	var p NotificationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return coordinator.Event{}, fmt.Errorf("failed to parse notification payload: %w", err)
	}
	return coordinator.Event{Type: p.Type, Item: p.Item}, nil
}

// notificationSource is the part of *pq.Listener the Listener uses.
type notificationSource interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// Listener delivers item notifications from PostgreSQL LISTEN/NOTIFY as
// coordinator events. It implements coordinator.Feed.
type Listener struct {
	source       notificationSource
	channel      string
	pingInterval time.Duration
	logger       *logging.Logger
	closed       int32 // atomic

	mu          stdSync.Mutex
	onReconnect func()
}

var _ coordinator.Feed = (*Listener)(nil)

// NewListener opens a pq.Listener for config.ConnectionString.
func NewListener(config *Config) (*Listener, error) {
	if config == nil {
		return nil, kiterr.E(kiterr.OpSubscribe, component, kiterr.KindInvalid, "config cannot be nil")
	}
	config.setDefaults()
	if config.ConnectionString == "" {
		return nil, kiterr.E(kiterr.OpSubscribe, component, kiterr.KindInvalid, "connection string cannot be empty")
	}

	l := &Listener{
		channel:      config.Channel,
		pingInterval: config.PingInterval,
		logger:       config.Logger.WithComponent(logging.Component("pg-listener")),
	}
	l.source = pq.NewListener(config.ConnectionString, config.MinReconnectInterval, config.MaxReconnectInterval, l.eventCallback)
	return l, nil
}

func newListenerWithSource(src notificationSource, channel string, pingInterval time.Duration, logger *logging.Logger) *Listener {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Listener{
		source:       src,
		channel:      channel,
		pingInterval: pingInterval,
		logger:       logging.OrDiscard(logger),
	}
}

// OnReconnect registers fn to run after the connection was re-established.
// Notifications sent while disconnected are lost, so fn typically refreshes
// the affected containers from a snapshot.
func (l *Listener) OnReconnect(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onReconnect = fn
}

// eventCallback handles pq.Listener events
func (l *Listener) eventCallback(event pq.ListenerEventType, err error) {
	ctx := context.Background()
	switch event {
	case pq.ListenerEventConnected:
		l.logger.InfoContext(ctx, "connected to PostgreSQL for LISTEN/NOTIFY")
	case pq.ListenerEventDisconnected:
		l.logger.WarnContext(ctx, "disconnected from PostgreSQL", "error", err)
	case pq.ListenerEventReconnected:
		l.logger.InfoContext(ctx, "reconnected to PostgreSQL")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.WarnContext(ctx, "connection attempt failed", "error", err)
	}
}

// Subscribe listens on the configured channel and calls handle for every
// notification until ctx is done, the listener is closed, or handle fails.
// Undecodable payloads are logged and skipped.
func (l *Listener) Subscribe(ctx context.Context, handle func(coordinator.Event) error) error {
	if atomic.LoadInt32(&l.closed) == 1 {
		return kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, "listener is closed")
	}
	if err := l.source.Listen(l.channel); err != nil && err != pq.ErrChannelAlreadyOpen {
		return kiterr.Classify(kiterr.OpSubscribe, fmt.Errorf("failed to listen to channel %s: %w", l.channel, err))
	}
	l.logger.DebugContext(ctx, "listening", slog.String("channel", l.channel))

	notifications := l.source.NotificationChannel()
	idle := time.NewTimer(l.pingInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-notifications:
			if !ok {
				return kiterr.E(kiterr.OpSubscribe, component, kiterr.ErrCodeTerminal, "listener is closed")
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(l.pingInterval)

			if n == nil {
				// pq sends nil after a reconnect.
				l.reconnected()
				continue
			}
			if n.Channel != l.channel {
				continue
			}
			ev, err := DecodeNotification(n.Extra)
			if err != nil {
				l.logger.LogError(ctx, err, "error handling notification", slog.String("channel", n.Channel))
				continue
			}
			if err := handle(ev); err != nil {
				return err
			}
		case <-idle.C:
			go func() {
				if err := l.source.Ping(); err != nil {
					l.logger.WarnContext(ctx, "ping failed", "error", err)
				}
			}()
			idle.Reset(l.pingInterval)
		}
	}
}

func (l *Listener) reconnected() {
	l.mu.Lock()
	fn := l.onReconnect
	l.mu.Unlock()
	l.logger.Info("notifications may have been missed during reconnect")
	if fn != nil {
		fn()
	}
}

// Close shuts down the listener.
func (l *Listener) Close() error {
	if !atomic.CompareAndSwapInt32(&l.closed, 0, 1) {
		return nil
	}
	if err := l.source.Close(); err != nil {
		return kiterr.E(kiterr.OpClose, component, err)
	}
	return nil
}
