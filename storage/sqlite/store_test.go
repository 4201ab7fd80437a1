package sqlite

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewWithDataSource(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func item(id, container string, key orderkey.Key) board.Item {
	return board.Item{ID: id, ContainerID: container, Key: key, ModifiedAt: t0, ModifiedBy: "alice"}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig("file:board.db")
	cfg.setDefaults()
	assert.Equal(t, "file:board.db?_journal_mode=WAL", cfg.DataSourceName)
	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 5, cfg.MaxIdleConns)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, orderkey.Default, cfg.Alphabet)

	cfg = DefaultConfig("file:board.db?cache=shared")
	cfg.setDefaults()
	assert.Equal(t, "file:board.db?cache=shared&_journal_mode=WAL", cfg.DataSourceName)

	cfg = DefaultConfig(":memory:")
	cfg.setDefaults()
	assert.Equal(t, ":memory:", cfg.DataSourceName)
	assert.Equal(t, 1, cfg.MaxOpenConns)

	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{})
	assert.Error(t, err)
}

func TestPutItemsAndSnapshot(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	withPayload := item("c", "l1", "t")
	withPayload.Payload = json.RawMessage(`{"title":"ship it"}`)
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "n"), item("b", "l1", "g"), withPayload, item("d", "l2", "n")))

	items, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, item("b", "l1", "g"), items[0])
	assert.JSONEq(t, `{"title":"ship it"}`, string(items[2].Payload))

	// Upsert moves the item.
	moved := item("a", "l2", "a")
	moved.ModifiedAt = t0.Add(time.Minute)
	require.NoError(t, store.PutItems(ctx, moved))
	got, ok, err := store.Item(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, moved, got)

	containers, err := store.Containers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"l1", "l2"}, containers)

	require.NoError(t, store.DeleteItem(ctx, "a"))
	_, ok, err = store.Item(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	empty, err := store.Snapshot(ctx, "nowhere")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshotOrdersLegacyKeys(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("ten", "l1", "10"), item("nine", "l1", "9"), item("frac", "l1", "zz")))

	items, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	assert.Equal(t, []string{"nine", "ten", "frac"}, ids)
}

func TestPutItemsRejectsInvalidKeys(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	err := store.PutItems(ctx, item("a", "l1", "n"), item("b", "l1", "N"))
	assert.True(t, kiterr.HasCode(err, kiterr.ErrCodeValidation))

	items, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	assert.Empty(t, items, "nothing is written when one item is invalid")
}

func TestClosedStore(t *testing.T) {
	store, err := NewWithDataSource(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.PutItems(ctx, item("a", "l1", "n")), ErrStoreClosed)
	_, err = store.Snapshot(ctx, "l1")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = store.History(ctx, "")
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.Equal(t, 0, store.Stats().OpenConnections)
}

func TestJournal(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	before := item("x", "l1", "g")
	after := before.Moved("l2", "n", t0.Add(time.Second), "me")
	after.Payload = json.RawMessage(`{"k":1}`)
	entries := []coordinator.JournalEntry{
		{ID: "e2", MoveID: "m1", ItemID: "x", Event: coordinator.JournalConfirmed, Before: before, After: after, Reason: "confirmed", At: t0.Add(2 * time.Second)},
		{ID: "e1", MoveID: "m1", ItemID: "x", Event: coordinator.JournalFailed, Before: before, After: after, Error: "boom", At: t0.Add(time.Second)},
		{ID: "e3", ItemID: "y", Event: coordinator.JournalConflict, Strategy: "timestamp", At: t0},
	}
	for _, e := range entries {
		require.NoError(t, store.Record(ctx, e))
	}

	history, err := store.History(ctx, "x")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entries[1], history[0])
	assert.Equal(t, entries[0], history[1])

	all, err := store.History(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "e3", all[0].ID)

	assert.Error(t, store.Record(ctx, entries[0]), "ids are unique")
}

func TestMigrateLegacy(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutLegacy(ctx, "p3", "l1", 3))
	require.NoError(t, store.PutLegacy(ctx, "p1", "l1", 1))
	require.NoError(t, store.PutLegacy(ctx, "p20", "l1", 20))
	require.NoError(t, store.PutItems(ctx, item("digits", "l1", "7"), item("frac", "l1", "zz")))

	before, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	assert.Len(t, before, 2, "unmigrated rows are not served")

	n, err := store.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	items, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	var ids []string
	for _, it := range items {
		ids = append(ids, it.ID)
		assert.False(t, orderkey.Default.IsLegacy(it.Key), "item %s kept legacy key %q", it.ID, it.Key)
	}
	assert.Equal(t, []string{"p1", "p3", "digits", "p20", "frac"}, ids)

	p1, _, err := store.Item(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, orderkey.FromLegacyNumeric(1), p1.Key)

	n, err = store.MigrateLegacy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestStoreServesCoordinator(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "g"), item("b", "l1", "t")))

	auth := coordinator.AuthorityFunc(func(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
		return board.Item{ID: cmd.ItemID, ContainerID: cmd.TargetContainerID, Key: cmd.Key}, nil
	})
	c, err := coordinator.New(auth, config.Default(), coordinator.WithJournal(store))
	require.NoError(t, err)

	n, err := c.Refresh(ctx, store, "l1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	moved, err := c.BeginMove(ctx, coordinator.Request{ItemID: "b", TargetContainerID: "l1", DropIndex: 0})
	require.NoError(t, err)
	require.NoError(t, store.PutItems(ctx, moved))

	snap, err := store.Snapshot(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, "b", snap[0].ID)

	history, err := store.History(ctx, "b")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, coordinator.JournalConfirmed, history[0].Event)
}

func TestFileStoreUsesWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.db")
	store, err := NewWithDataSource(path)
	require.NoError(t, err)
	require.NoError(t, store.PutItems(context.Background(), item("a", "l1", "n")))

	var mode string
	require.NoError(t, store.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", mode)
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err)

	reopened, err := NewWithDataSource(path)
	require.NoError(t, err)
	defer reopened.Close()
	got, ok, err := reopened.Item(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderkey.Key("n"), got.Key)
}
