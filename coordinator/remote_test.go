package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/board"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

func remoteMove(id, container string, key orderkey.Key, at time.Time) Event {
	return Event{Type: EventItemMoved, Item: board.Item{ID: id, ContainerID: container, Key: key, ModifiedAt: at, ModifiedBy: "peer"}}
}

func failedMove(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, &scriptedAuthority{script: []error{errors.New("rejected")}}, testConfig())
	h.seed(t, it("x", "l1", "g"))
	_, err := h.c.BeginMove(context.Background(), Request{ItemID: "x", TargetContainerID: "l2"})
	require.Error(t, err)
	return h
}

func TestApplyRemoteOlderThanPendingKeepsLocal(t *testing.T) {
	h := failedMove(t)

	got, err := h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "l2", got.ContainerID)

	local, _ := h.c.Item("x")
	assert.Equal(t, "l2", local.ContainerID)
	_, open := h.c.Pending("x")
	assert.True(t, open)
	assert.Equal(t, []string{"local"}, h.metrics.conflicts)
	assert.Equal(t, []JournalEvent{JournalFailed, JournalConflict}, h.events(t, "x"))
}

func TestApplyRemoteNewerThanPendingWins(t *testing.T) {
	h := failedMove(t)

	got, err := h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "l3", got.ContainerID)

	local, _ := h.c.Item("x")
	assert.Equal(t, "l3", local.ContainerID)
	_, open := h.c.Pending("x")
	assert.False(t, open)
	assert.Equal(t, []string{"remote"}, h.metrics.conflicts)

	_, err = h.c.Rollback(context.Background(), "x")
	assert.True(t, kiterr.IsRollbackNotFound(err))

	entries, err := h.journal.History(context.Background(), "x")
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, JournalConflict, last.Event)
	assert.Equal(t, "timestamp", last.Strategy)
	assert.Equal(t, "remote newer", last.Reason)
	assert.NotEmpty(t, last.MoveID)
}

func TestApplyRemoteEchoIsNoop(t *testing.T) {
	h := failedMove(t)
	pm, _ := h.c.Pending("x")

	got, err := h.c.ApplyRemote(context.Background(), remoteMove("x", pm.After.ContainerID, pm.After.Key, t0.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, pm.After, got)
	assert.Empty(t, h.metrics.conflicts)
	_, open := h.c.Pending("x")
	assert.True(t, open)
}

func TestLateResponseAfterRemoteWinIsIgnored(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	auth := AuthorityFunc(func(ctx context.Context, cmd Command) (board.Item, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
		}
		<-release
		return board.Item{ID: cmd.ItemID, ContainerID: cmd.TargetContainerID, Key: cmd.Key}, nil
	})
	h := newHarness(t, auth, testConfig())
	h.seed(t, it("x", "l1", "g"))

	done := make(chan error, 1)
	go func() {
		_, err := h.c.BeginMove(context.Background(), Request{ItemID: "x", TargetContainerID: "l2"})
		done <- err
	}()
	<-entered

	_, err := h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(time.Minute)))
	require.NoError(t, err)

	close(release)
	assert.True(t, kiterr.IsSuperseded(<-done))
	local, _ := h.c.Item("x")
	assert.Equal(t, "l3", local.ContainerID)
	assert.Empty(t, h.c.PendingMoves())
}

func TestApplyRemoteAgainstSettledVersion(t *testing.T) {
	h := newHarness(t, &scriptedAuthority{}, testConfig())
	h.seed(t, it("x", "l1", "g"))
	_, err := h.c.BeginMove(context.Background(), Request{ItemID: "x", TargetContainerID: "l2"})
	require.NoError(t, err)

	// A delayed event from before our confirmed move loses.
	got, err := h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(-time.Second)))
	require.NoError(t, err)
	assert.Equal(t, "l2", got.ContainerID)
	assert.Equal(t, []string{"local"}, h.metrics.conflicts)

	got, err = h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, "l3", got.ContainerID)
	local, _ := h.c.Item("x")
	assert.Equal(t, "l3", local.ContainerID)
}

func TestApplyRemoteServerWins(t *testing.T) {
	cfg := testConfig()
	cfg.ConflictStrategy = "server_wins"
	h := newHarness(t, &scriptedAuthority{script: []error{errors.New("rejected")}}, cfg)
	h.seed(t, it("x", "l1", "g"))
	_, _ = h.c.BeginMove(context.Background(), Request{ItemID: "x", TargetContainerID: "l2"})

	got, err := h.c.ApplyRemote(context.Background(), remoteMove("x", "l3", "n", t0.Add(-time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, "l3", got.ContainerID)
	assert.Empty(t, h.c.PendingMoves())
}

func TestApplyRemoteUncontested(t *testing.T) {
	h := newHarness(t, &scriptedAuthority{}, testConfig())
	h.seed(t, it("y", "l1", "g"))
	ctx := context.Background()

	got, err := h.c.ApplyRemote(ctx, remoteMove("y", "l2", "t", t0))
	require.NoError(t, err)
	assert.Equal(t, "l2", got.ContainerID)

	// Stale events are dropped.
	got, err = h.c.ApplyRemote(ctx, remoteMove("y", "l1", "a", t0.Add(-time.Hour*2)))
	require.NoError(t, err)
	assert.Equal(t, "l2", got.ContainerID)
	local, _ := h.c.Item("y")
	assert.Equal(t, orderkey.Key("t"), local.Key)

	// Unknown items are inserted.
	_, err = h.c.ApplyRemote(ctx, remoteMove("z", "l2", "c", t0))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "y"}, ids(h.c.Container("l2")))
	assert.Empty(t, h.metrics.conflicts)
}

func TestApplyRemoteRejectsInvalidItems(t *testing.T) {
	h := newHarness(t, &scriptedAuthority{}, testConfig())
	ctx := context.Background()

	for _, ev := range []Event{
		remoteMove("", "l1", "n", t0),
		remoteMove("x", "", "n", t0),
		remoteMove("x", "l1", "N!", t0),
		remoteMove("x", "l1", "", t0),
	} {
		_, err := h.c.ApplyRemote(ctx, ev)
		assert.True(t, kiterr.HasCode(err, kiterr.ErrCodeValidation), "event %+v", ev.Item)
	}
	assert.Empty(t, h.c.Items())
}

func TestApplyRemoteIgnoresUnknownEventTypes(t *testing.T) {
	h := newHarness(t, &scriptedAuthority{}, testConfig())
	ev := remoteMove("x", "l1", "n", t0)
	ev.Type = "item_archived"

	got, err := h.c.ApplyRemote(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, board.Item{}, got)
	assert.Empty(t, h.c.Items())
}

type sliceFeed struct {
	events []Event
	err    error
}

func (f sliceFeed) Subscribe(ctx context.Context, handle func(Event) error) error {
	for _, ev := range f.events {
		if err := handle(ev); err != nil {
			return err
		}
	}
	return f.err
}

func TestConsume(t *testing.T) {
	h := newHarness(t, &scriptedAuthority{}, testConfig())
	feed := sliceFeed{
		events: []Event{
			remoteMove("a", "l1", "g", t0),
			remoteMove("b", "l1", "??", t0),
			remoteMove("c", "l1", "t", t0),
		},
		err: context.Canceled,
	}

	require.NoError(t, h.c.Consume(context.Background(), feed))
	assert.Equal(t, []string{"a", "c"}, ids(h.c.Container("l1")))

	err := h.c.Consume(context.Background(), sliceFeed{err: errors.New("stream reset")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream reset")

	assert.Error(t, h.c.Consume(context.Background(), nil))
}

type snapshotFunc func(ctx context.Context, containerID string) ([]board.Item, error)

func (f snapshotFunc) Snapshot(ctx context.Context, containerID string) ([]board.Item, error) {
	return f(ctx, containerID)
}

func TestRefresh(t *testing.T) {
	h := failedMove(t)
	src := snapshotFunc(func(ctx context.Context, containerID string) ([]board.Item, error) {
		return []board.Item{
			{ID: "a", Key: "c"},
			{ID: "b", ContainerID: containerID, Key: "BAD"},
			{ID: "x", ContainerID: containerID, Key: "z"},
		}, nil
	})

	n, err := h.c.Refresh(context.Background(), src, "l2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, ok := h.c.Item("a")
	require.True(t, ok)
	assert.Equal(t, "l2", a.ContainerID)
	_, ok = h.c.Item("b")
	assert.False(t, ok)
	x, _ := h.c.Item("x")
	assert.Equal(t, orderkey.Key("n"), x.Key, "open move keeps its optimistic version")

	_, err = h.c.Refresh(context.Background(), snapshotFunc(func(context.Context, string) ([]board.Item, error) {
		return nil, errTransient
	}), "l2")
	assert.True(t, kiterr.IsTransient(err))

	_, err = h.c.Refresh(context.Background(), nil, "l2")
	assert.Error(t, err)
}
