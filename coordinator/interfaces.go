package coordinator

import (
	"context"
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// Command is one move submitted to the authority.
type Command struct {
	MoveID            string       `json:"move_id"`
	ItemID            string       `json:"item_id"`
	TargetContainerID string       `json:"target_container_id"`
	Key               orderkey.Key `json:"key"`
	// ValidateOrdering asks the authority to double-check the key server-side.
	ValidateOrdering bool `json:"validate_ordering,omitempty"`
}

// Authority applies moves and returns the canonical item, whose key may
// differ from the submitted one if the server rebalanced. Calls must be safe
// to repeat with the same command.
type Authority interface {
	Move(ctx context.Context, cmd Command) (board.Item, error)
}

// BatchAuthority applies a set of moves atomically, returning the canonical
// items in command order.
type BatchAuthority interface {
	MoveBatch(ctx context.Context, cmds []Command) ([]board.Item, error)
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, cmd Command) (board.Item, error)

func (f AuthorityFunc) Move(ctx context.Context, cmd Command) (board.Item, error) { return f(ctx, cmd) }

// EventItemMoved is the only event type the feed delivers.
const EventItemMoved = "item_moved"

// Event is a remote-origin change notification.
type Event struct {
	Type string     `json:"type"`
	Item board.Item `json:"item"`
}

// Feed delivers remote events at least once and in no particular order
// relative to local moves. Subscribe blocks until ctx is done or the
// handler returns an error.
type Feed interface {
	Subscribe(ctx context.Context, handler func(Event) error) error
}

// SnapshotSource returns the current items of a container. The result is
// eventually consistent.
type SnapshotSource interface {
	Snapshot(ctx context.Context, containerID string) ([]board.Item, error)
}

// MetricsCollector provides hooks for collecting move metrics.
type MetricsCollector interface {
	// RecordMoveDuration records how long a move took to settle
	RecordMoveDuration(operation string, duration time.Duration)

	// RecordMoveOutcome records the final status of a move
	RecordMoveOutcome(operation string, status Status)

	// RecordRetry records a retry of the authority call
	RecordRetry(operation string, attempt int)

	// RecordConflict records a conflict decision
	RecordConflict(strategy string, winner string)

	// RecordPending records the size of the pending-move table
	RecordPending(count int)
}

// NoOpMetricsCollector is a default implementation that does nothing
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordMoveDuration(operation string, duration time.Duration) {}
func (NoOpMetricsCollector) RecordMoveOutcome(operation string, status Status)          {}
func (NoOpMetricsCollector) RecordRetry(operation string, attempt int)                  {}
func (NoOpMetricsCollector) RecordConflict(strategy string, winner string)              {}
func (NoOpMetricsCollector) RecordPending(count int)                                    {}
