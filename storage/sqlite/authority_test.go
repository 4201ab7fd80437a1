package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

func TestAuthorityMove(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "g"), item("b", "l1", "t")))
	at := t0.Add(time.Minute)
	auth := NewAuthority(store, WithAuthorityClock(func() time.Time { return at }), WithAuthorityName("srv"))

	got, err := auth.Move(ctx, coordinator.Command{MoveID: "m1", ItemID: "a", TargetContainerID: "l2", Key: "n"})
	require.NoError(t, err)
	assert.Equal(t, "l2", got.ContainerID)
	assert.Equal(t, orderkey.Key("n"), got.Key)
	assert.Equal(t, "srv", got.ModifiedBy)
	assert.True(t, at.Equal(got.ModifiedAt))

	stored, ok, err := store.Item(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got, stored)

	// Repeating the command changes nothing.
	again, err := auth.Move(ctx, coordinator.Command{MoveID: "m1", ItemID: "a", TargetContainerID: "l2", Key: "n"})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestAuthorityRejects(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "g"), item("b", "l2", "n")))
	auth := NewAuthority(store)

	_, err := auth.Move(ctx, coordinator.Command{ItemID: "zz", TargetContainerID: "l1", Key: "n"})
	assert.Equal(t, kiterr.KindNotFound, kiterr.KindOf(err))
	assert.True(t, kiterr.IsTerminal(err))

	_, err = auth.Move(ctx, coordinator.Command{ItemID: "a", TargetContainerID: "l1", Key: "N!"})
	assert.Equal(t, kiterr.KindInvalid, kiterr.KindOf(err))

	_, err = auth.Move(ctx, coordinator.Command{ItemID: "a", TargetContainerID: "l2", Key: "n", ValidateOrdering: true})
	assert.Equal(t, kiterr.KindConflict, kiterr.KindOf(err))

	// Without validation the duplicate key is accepted; ids break the tie.
	_, err = auth.Move(ctx, coordinator.Command{ItemID: "a", TargetContainerID: "l2", Key: "n"})
	assert.NoError(t, err)
}

func TestAuthorityBatchIsAllOrNothing(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "g"), item("b", "l1", "t")))
	auth := NewAuthority(store)

	_, err := auth.MoveBatch(ctx, []coordinator.Command{
		{ItemID: "a", TargetContainerID: "l2", Key: "g"},
		{ItemID: "missing", TargetContainerID: "l2", Key: "t"},
	})
	require.Error(t, err)
	items, err := store.Snapshot(ctx, "l2")
	require.NoError(t, err)
	assert.Empty(t, items)

	out, err := auth.MoveBatch(ctx, []coordinator.Command{
		{ItemID: "b", TargetContainerID: "l2", Key: "g"},
		{ItemID: "a", TargetContainerID: "l2", Key: "t"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].ID)

	items, err = auth.Snapshot(ctx, "l2")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "a", items[1].ID)
}

func TestAuthorityBatchValidatesAgainstEarlierCommands(t *testing.T) {
	store := newMemoryStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutItems(ctx, item("a", "l1", "g"), item("b", "l1", "t"), item("c", "l2", "n")))
	auth := NewAuthority(store)

	// Two commands of one batch claim the same key.
	_, err := auth.MoveBatch(ctx, []coordinator.Command{
		{ItemID: "a", TargetContainerID: "l2", Key: "q", ValidateOrdering: true},
		{ItemID: "b", TargetContainerID: "l2", Key: "q", ValidateOrdering: true},
	})
	require.Error(t, err)
	assert.Equal(t, kiterr.KindConflict, kiterr.KindOf(err))
	items, err := store.Snapshot(ctx, "l2")
	require.NoError(t, err)
	require.Len(t, items, 1)

	// A key vacated earlier in the batch is free for a later command.
	out, err := auth.MoveBatch(ctx, []coordinator.Command{
		{ItemID: "c", TargetContainerID: "l1", Key: "c", ValidateOrdering: true},
		{ItemID: "a", TargetContainerID: "l2", Key: "n", ValidateOrdering: true},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	items, err = store.Snapshot(ctx, "l2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "a", items[0].ID)
}
