package sqlite

import (
	"context"
	"fmt"
	"log/slog"
	stdSync "sync"
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// Authority applies moves directly to a Store. It is the canonical source
// of truth for a single-node deployment and for tests of the HTTP handler.
type Authority struct {
	store *Store
	name  string
	now   func() time.Time
	mu    stdSync.Mutex
}

var (
	_ coordinator.Authority      = (*Authority)(nil)
	_ coordinator.BatchAuthority = (*Authority)(nil)
	_ coordinator.SnapshotSource = (*Authority)(nil)
)

// AuthorityOption configures an Authority.
type AuthorityOption func(*Authority)

// WithAuthorityClock replaces time.Now for ModifiedAt stamps.
func WithAuthorityClock(now func() time.Time) AuthorityOption {
	return func(a *Authority) { a.now = now }
}

// WithAuthorityName sets the ModifiedBy stamp of applied moves.
func WithAuthorityName(name string) AuthorityOption {
	return func(a *Authority) { a.name = name }
}

// NewAuthority creates an authority over store.
func NewAuthority(store *Store, opts ...AuthorityOption) *Authority {
	a := &Authority{store: store, name: "authority", now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Move applies one move. Repeating a command yields the same placement.
func (a *Authority) Move(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
	out, err := a.MoveBatch(ctx, []coordinator.Command{cmd})
	if err != nil {
		return board.Item{}, kiterr.E(kiterr.OpMove, err)
	}
	return out[0], nil
}

// MoveBatch validates every command before writing any of them, then
// applies the batch in one transaction.
func (a *Authority) MoveBatch(ctx context.Context, cmds []coordinator.Command) ([]board.Item, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := a.now().UTC()
	out := make([]board.Item, len(cmds))
	staged := make(map[string]board.Item, len(cmds))
	for i, cmd := range cmds {
		it, err := a.apply(ctx, cmd, at, staged)
		if err != nil {
			return nil, err
		}
		out[i] = it
		staged[it.ID] = it
	}
	if err := a.store.PutItems(ctx, out...); err != nil {
		return nil, kiterr.E(kiterr.OpBatchMove, component, kiterr.ErrCodeTerminal, err)
	}
	a.store.logger.DebugContext(ctx, "moves applied", slog.Int("count", len(out)))
	return out, nil
}

// apply checks cmd against the store overlaid with the items staged by
// earlier commands of the same batch.
func (a *Authority) apply(ctx context.Context, cmd coordinator.Command, at time.Time, staged map[string]board.Item) (board.Item, error) {
	if cmd.TargetContainerID == "" || !a.store.alphabet.IsValid(cmd.Key) {
		return board.Item{}, kiterr.E(kiterr.OpBatchMove, component, kiterr.ErrCodeTerminal, kiterr.KindInvalid,
			fmt.Sprintf("invalid move of %q to %q at key %q", cmd.ItemID, cmd.TargetContainerID, cmd.Key))
	}
	it, ok := staged[cmd.ItemID]
	if !ok {
		var err error
		if it, ok, err = a.store.Item(ctx, cmd.ItemID); err != nil {
			return board.Item{}, err
		}
	}
	if !ok {
		return board.Item{}, kiterr.E(kiterr.OpBatchMove, component, kiterr.ErrCodeTerminal, kiterr.KindNotFound,
			fmt.Sprintf("item %q not found", cmd.ItemID))
	}
	if it.ContainerID == cmd.TargetContainerID && it.Key == cmd.Key {
		return it, nil
	}
	if cmd.ValidateOrdering {
		siblings, err := a.siblings(ctx, cmd.TargetContainerID, staged)
		if err != nil {
			return board.Item{}, err
		}
		for _, s := range siblings {
			if s.ID != it.ID && a.store.alphabet.Compare(s.Key, cmd.Key) == 0 {
				return board.Item{}, kiterr.E(kiterr.OpBatchMove, component, kiterr.ErrCodeTerminal, kiterr.KindConflict,
					fmt.Sprintf("key %q already used by %q in %q", cmd.Key, s.ID, cmd.TargetContainerID))
			}
		}
	}
	return it.Moved(cmd.TargetContainerID, cmd.Key, at, a.name), nil
}

// siblings returns the container as it will look once staged is written.
func (a *Authority) siblings(ctx context.Context, containerID string, staged map[string]board.Item) ([]board.Item, error) {
	stored, err := a.store.Snapshot(ctx, containerID)
	if err != nil {
		return nil, err
	}
	out := make([]board.Item, 0, len(stored)+len(staged))
	for _, s := range stored {
		if _, moved := staged[s.ID]; !moved {
			out = append(out, s)
		}
	}
	for _, s := range staged {
		if s.ContainerID == containerID {
			out = append(out, s)
		}
	}
	return out, nil
}

// Snapshot returns the items of a container.
func (a *Authority) Snapshot(ctx context.Context, containerID string) ([]board.Item, error) {
	return a.store.Snapshot(ctx, containerID)
}
