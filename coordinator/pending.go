package coordinator

import (
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
)

// Status is the lifecycle state of a PendingMove.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
	StatusSuperseded Status = "superseded"
)

// PendingMove tracks one optimistic move until it settles.
type PendingMove struct {
	ID         string
	BatchID    string
	ItemID     string
	Before     board.Item // restored by Rollback
	After      board.Item // the optimistic item
	CreatedAt  time.Time
	Confidence board.Confidence
	RetryCount int
	Status     Status
}

// open reports whether the move still awaits an outcome or a decision.
func (p *PendingMove) open() bool {
	return p.Status == StatusPending || p.Status == StatusFailed
}

// Request asks for an item to be dropped at an index of a container.
type Request struct {
	ItemID            string
	TargetContainerID string
	DropIndex         int
}
