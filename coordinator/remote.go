package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/c0deZ3R0/go-order-kit/board"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// ApplyRemote merges a remote-origin event into local state. When the item
// has an open move or a recently settled version, the two versions go
// through the configured conflict resolver; a remote win discards the open
// move so its eventual response is ignored. Otherwise the remote version is
// applied unless it is older than the local one. It returns the version that
// local state now holds.
func (c *Coordinator) ApplyRemote(ctx context.Context, ev Event) (board.Item, error) {
	if ev.Type != "" && ev.Type != EventItemMoved {
		c.logger.DebugContext(ctx, "ignoring remote event", "type", ev.Type)
		return board.Item{}, nil
	}
	remote := ev.Item
	if remote.ID == "" || remote.ContainerID == "" || !c.alphabet.IsValid(remote.Key) {
		return board.Item{}, kiterr.E(kiterr.OpApplyRemote, kiterr.Component("coordinator"),
			kiterr.ErrCodeValidation, kiterr.KindInvalid,
			fmt.Sprintf("invalid remote item %q (container %q, key %q)", remote.ID, remote.ContainerID, remote.Key))
	}

	c.mu.Lock()
	local, pm, contested := c.localVersion(remote.ID)
	if !contested {
		current, exists := c.state.Get(remote.ID)
		if exists && remote.ModifiedAt.Before(current.ModifiedAt) {
			c.mu.Unlock()
			c.logger.DebugContext(ctx, "dropping stale remote event", "remote", remote, "local", current)
			return current, nil
		}
		c.state.Put(remote)
		c.mu.Unlock()
		return remote, nil
	}
	if local.ContainerID == remote.ContainerID && local.Key == remote.Key {
		// Same placement: usually the echo of our own move.
		c.mu.Unlock()
		return local, nil
	}

	d := c.resolver.Resolve(local, remote)
	entry := JournalEntry{
		ID:       c.newID(),
		ItemID:   remote.ID,
		Event:    JournalConflict,
		Before:   local,
		After:    d.Winner,
		Strategy: string(c.resolver.Strategy()),
		Reason:   d.Reason,
		At:       c.now(),
	}
	if pm != nil {
		entry.MoveID = pm.ID
	}
	if !d.KeepLocal {
		c.state.Put(d.Winner)
		if pm != nil {
			pm.Status = StatusSuperseded
			delete(c.pending, pm.ItemID)
			c.metrics.RecordPending(len(c.pending))
		}
		c.settled[remote.ID] = settledVersion{item: d.Winner, at: c.now()}
	}
	c.mu.Unlock()

	winner := "local"
	if !d.KeepLocal {
		winner = "remote"
	}
	c.metrics.RecordConflict(string(c.resolver.Strategy()), winner)
	c.record(ctx, entry)
	c.logger.InfoContext(ctx, "conflict resolved",
		"item_id", remote.ID, "winner", winner, "reason", d.Reason, "strategy", c.resolver.Strategy())
	return d.Winner, nil
}

// localVersion returns the local version a remote update conflicts with.
// Callers hold c.mu.
func (c *Coordinator) localVersion(itemID string) (board.Item, *PendingMove, bool) {
	if pm, ok := c.pending[itemID]; ok && pm.open() {
		return pm.After, pm, true
	}
	if s, ok := c.settled[itemID]; ok {
		return s.item, nil, true
	}
	return board.Item{}, nil, false
}

// Consume subscribes to feed and applies every event until ctx is done or
// the feed fails. Invalid events are logged and skipped.
func (c *Coordinator) Consume(ctx context.Context, feed Feed) error {
	if feed == nil {
		return kiterr.E(kiterr.OpSubscribe, kiterr.Component("coordinator"), kiterr.KindInvalid, "feed is required")
	}
	err := feed.Subscribe(ctx, func(ev Event) error {
		if _, err := c.ApplyRemote(ctx, ev); err != nil {
			c.logger.LogError(ctx, err, "remote event rejected")
		}
		return nil
	})
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return kiterr.E(kiterr.OpSubscribe, kiterr.Component("coordinator"), err)
}

// Refresh seeds local state from a container snapshot. Items with an open
// move keep their optimistic version; items with invalid keys are skipped.
// It returns the number of items applied.
func (c *Coordinator) Refresh(ctx context.Context, src SnapshotSource, containerID string) (int, error) {
	if src == nil {
		return 0, kiterr.E(kiterr.OpSnapshot, kiterr.Component("coordinator"), kiterr.KindInvalid, "snapshot source is required")
	}
	items, err := src.Snapshot(ctx, containerID)
	if err != nil {
		return 0, kiterr.Classify(kiterr.OpSnapshot, err)
	}

	applied, skipped := 0, 0
	c.mu.Lock()
	for _, it := range items {
		if it.ContainerID == "" {
			it.ContainerID = containerID
		}
		if it.ID == "" || !c.alphabet.IsValid(it.Key) {
			skipped++
			continue
		}
		if pm, ok := c.pending[it.ID]; ok && pm.open() {
			continue
		}
		c.state.Put(it)
		applied++
	}
	c.mu.Unlock()

	if skipped > 0 {
		c.logger.WarnContext(ctx, "snapshot contained invalid items", "container_id", containerID, "skipped", skipped)
	}
	c.logger.DebugContext(ctx, "snapshot applied", "container_id", containerID, "applied", applied)
	return applied, nil
}
