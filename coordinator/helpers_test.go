package coordinator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

var (
	errTransient = io.ErrUnexpectedEOF
	t0           = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *fakeClock { return &fakeClock{t: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
	hook   func(ctx context.Context) error
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	hook := s.hook
	s.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// scriptedAuthority returns the scripted errors in order, then succeeds.
// A non-empty rekey replaces the submitted key in the response.
type scriptedAuthority struct {
	mu     sync.Mutex
	script []error
	rekey  orderkey.Key
	calls  []Command
}

func (a *scriptedAuthority) Move(ctx context.Context, cmd Command) (board.Item, error) {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, cmd)
	var err error
	if n < len(a.script) {
		err = a.script[n]
	}
	rekey := a.rekey
	a.mu.Unlock()

	if err != nil {
		return board.Item{}, err
	}
	key := cmd.Key
	if rekey != "" {
		key = rekey
	}
	return board.Item{ID: cmd.ItemID, ContainerID: cmd.TargetContainerID, Key: key}, nil
}

func (a *scriptedAuthority) Calls() []Command {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Command(nil), a.calls...)
}

type batchFunc func(ctx context.Context, cmds []Command) ([]board.Item, error)

func (f batchFunc) MoveBatch(ctx context.Context, cmds []Command) ([]board.Item, error) {
	return f(ctx, cmds)
}

type recordingMetrics struct {
	mu        sync.Mutex
	outcomes  map[Status]int
	retries   []int
	conflicts []string
	pending   int
	durations int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{outcomes: make(map[Status]int)}
}

func (m *recordingMetrics) RecordMoveDuration(string, time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.durations++
}

func (m *recordingMetrics) RecordMoveOutcome(_ string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[status]++
}

func (m *recordingMetrics) RecordRetry(_ string, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries = append(m.retries, attempt)
}

func (m *recordingMetrics) RecordConflict(_ string, winner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = append(m.conflicts, winner)
}

func (m *recordingMetrics) RecordPending(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = n
}

type harness struct {
	c       *Coordinator
	clock   *fakeClock
	sleeps  *sleepRecorder
	journal *MemoryJournal
	metrics *recordingMetrics
}

func testConfig() config.Ordering {
	cfg := config.Default()
	cfg.Retry.BaseDelay = config.Duration(100 * time.Millisecond)
	cfg.Retry.MaxAttempts = 3
	return cfg
}

func newHarness(t *testing.T, auth Authority, cfg config.Ordering, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		clock:   newClock(),
		sleeps:  &sleepRecorder{},
		journal: NewMemoryJournal(),
		metrics: newRecordingMetrics(),
	}
	base := []Option{
		WithClock(h.clock.Now),
		WithSleep(h.sleeps.Sleep),
		WithJournal(h.journal),
		WithMetrics(h.metrics),
		WithSession("me"),
	}
	c, err := New(auth, cfg, append(base, opts...)...)
	require.NoError(t, err)
	h.c = c
	return h
}

func (h *harness) seed(t *testing.T, items ...board.Item) {
	t.Helper()
	require.NoError(t, h.c.Seed(items...))
}

func (h *harness) events(t *testing.T, itemID string) []JournalEvent {
	t.Helper()
	entries, err := h.journal.History(context.Background(), itemID)
	require.NoError(t, err)
	out := make([]JournalEvent, len(entries))
	for i, e := range entries {
		out[i] = e.Event
	}
	return out
}

func it(id, container string, key orderkey.Key) board.Item {
	return board.Item{ID: id, ContainerID: container, Key: key, ModifiedAt: t0.Add(-time.Hour), ModifiedBy: "seed"}
}

func ids(items []board.Item) []string {
	out := make([]string, len(items))
	for i, x := range items {
		out[i] = x.ID
	}
	return out
}
