package postgres

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

type fakeSource struct {
	mu        sync.Mutex
	listened  []string
	listenErr error
	pings     int
	closed    bool
	ch        chan *pq.Notification
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan *pq.Notification, 16)}
}

func (f *fakeSource) Listen(channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listened = append(f.listened, channel)
	return f.listenErr
}

func (f *fakeSource) NotificationChannel() <-chan *pq.Notification { return f.ch }

func (f *fakeSource) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func notification(t *testing.T, channel string, it board.Item) *pq.Notification {
	t.Helper()
	payload, err := EncodeNotification(coordinator.Event{Item: it})
	require.NoError(t, err)
	return &pq.Notification{Channel: channel, Extra: payload}
}

var moved = board.Item{
	ID:          "x",
	ContainerID: "l2",
	Key:         "n",
	ModifiedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	ModifiedBy:  "bob",
}

func TestNotificationRoundTrip(t *testing.T) {
	payload, err := EncodeNotification(coordinator.Event{Item: moved})
	require.NoError(t, err)
	assert.Contains(t, payload, `"type":"item_moved"`)

	ev, err := DecodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, coordinator.EventItemMoved, ev.Type)
	assert.Equal(t, moved, ev.Item)

	_, err = DecodeNotification("{not json")
	assert.Error(t, err)

	big := moved
	big.Payload = []byte(`"` + strings.Repeat("a", 8000) + `"`)
	_, err = EncodeNotification(coordinator.Event{Item: big})
	assert.Error(t, err)
}

func TestListenerDeliversEvents(t *testing.T) {
	src := newFakeSource()
	l := newListenerWithSource(src, DefaultChannel, time.Hour, nil)

	reconnects := 0
	l.OnReconnect(func() { reconnects++ })

	src.ch <- notification(t, DefaultChannel, moved)
	src.ch <- &pq.Notification{Channel: DefaultChannel, Extra: "garbage"}
	src.ch <- notification(t, "other_channel", moved)
	src.ch <- nil
	second := moved
	second.ID = "y"
	src.ch <- notification(t, DefaultChannel, second)

	stop := errors.New("enough")
	var got []coordinator.Event
	err := l.Subscribe(context.Background(), func(ev coordinator.Event) error {
		got = append(got, ev)
		if len(got) == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	require.Len(t, got, 2)
	assert.Equal(t, "x", got[0].Item.ID)
	assert.Equal(t, "y", got[1].Item.ID)
	assert.Equal(t, 1, reconnects)
	assert.Equal(t, []string{DefaultChannel}, src.listened)
}

func TestListenerStopsOnContext(t *testing.T) {
	src := newFakeSource()
	l := newListenerWithSource(src, DefaultChannel, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Subscribe(ctx, func(coordinator.Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListenerPingsWhenIdle(t *testing.T) {
	src := newFakeSource()
	l := newListenerWithSource(src, DefaultChannel, 5*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Subscribe(ctx, func(coordinator.Event) error { return nil }) }()

	require.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.pings > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestListenerErrors(t *testing.T) {
	src := newFakeSource()
	src.listenErr = errors.New("permission denied")
	l := newListenerWithSource(src, DefaultChannel, time.Hour, nil)
	err := l.Subscribe(context.Background(), func(coordinator.Event) error { return nil })
	assert.True(t, kiterr.IsTerminal(err))

	src = newFakeSource()
	src.listenErr = pq.ErrChannelAlreadyOpen
	close(src.ch)
	l = newListenerWithSource(src, DefaultChannel, time.Hour, nil)
	err = l.Subscribe(context.Background(), func(coordinator.Event) error { return nil })
	assert.True(t, kiterr.IsTerminal(err), "closed notification channel")

	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
	assert.True(t, src.closed)
	err = l.Subscribe(context.Background(), func(coordinator.Event) error { return nil })
	assert.Error(t, err)
}

func TestListenerFeedsCoordinator(t *testing.T) {
	src := newFakeSource()
	l := newListenerWithSource(src, DefaultChannel, time.Hour, nil)

	auth := coordinator.AuthorityFunc(func(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
		return board.Item{}, nil
	})
	c, err := coordinator.New(auth, config.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, l) }()

	src.ch <- notification(t, DefaultChannel, moved)
	require.Eventually(t, func() bool {
		_, ok := c.Item("x")
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}

func TestNewListenerValidates(t *testing.T) {
	_, err := NewListener(nil)
	assert.Error(t, err)
	_, err = NewListener(&Config{})
	assert.Error(t, err)
}
