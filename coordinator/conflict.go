package coordinator

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// Decision is the outcome of a conflict between a local and a remote version
// of the same item.
type Decision struct {
	Winner    board.Item
	KeepLocal bool
	Reason    string
}

// ConflictResolver is the Strategy interface for conflict resolution.
type ConflictResolver interface {
	Resolve(local, remote board.Item) Decision
	Strategy() config.Strategy
}

var (
	_ ConflictResolver = TimestampResolver{}
	_ ConflictResolver = ServerWinsResolver{}
	_ ConflictResolver = ClientWinsResolver{}
	_ ConflictResolver = UserPriorityResolver{}
)

// NewConflictResolver returns the resolver for strategy. priorities is only
// used by user_priority.
func NewConflictResolver(strategy config.Strategy, priorities map[string]int) (ConflictResolver, error) {
	switch strategy {
	case config.StrategyTimestamp, "":
		return TimestampResolver{}, nil
	case config.StrategyServerWins:
		return ServerWinsResolver{}, nil
	case config.StrategyClientWins:
		return ClientWinsResolver{}, nil
	case config.StrategyUserPriority:
		return UserPriorityResolver{Priorities: priorities}, nil
	}
	return nil, kiterr.NewValidationError(kiterr.OpConflictResolve, fmt.Errorf("unknown conflict strategy %q", strategy))
}

// ResolveConflict resolves local against remote under strategy without
// priority data, so user_priority degrades to timestamp.
func ResolveConflict(local, remote board.Item, strategy config.Strategy) (Decision, error) {
	r, err := NewConflictResolver(strategy, nil)
	if err != nil {
		return Decision{}, err
	}
	return r.Resolve(local, remote), nil
}

// TimestampResolver keeps the later modification. Exact ties are broken by
// comparing id, author, container, key and payload, so every peer picks the
// same winner regardless of which side is local.
type TimestampResolver struct{}

func (TimestampResolver) Strategy() config.Strategy { return config.StrategyTimestamp }

func (TimestampResolver) Resolve(local, remote board.Item) Decision {
	switch {
	case local.ModifiedAt.After(remote.ModifiedAt):
		return Decision{Winner: local, KeepLocal: true, Reason: "local newer"}
	case remote.ModifiedAt.After(local.ModifiedAt):
		return Decision{Winner: remote, Reason: "remote newer"}
	}
	if tieBreak(local, remote) >= 0 {
		return Decision{Winner: local, KeepLocal: true, Reason: "equal timestamps, local wins tie-break"}
	}
	return Decision{Winner: remote, Reason: "equal timestamps, remote wins tie-break"}
}

func tieBreak(a, b board.Item) int {
	for _, pair := range [][2]string{
		{a.ID, b.ID},
		{a.ModifiedBy, b.ModifiedBy},
		{a.ContainerID, b.ContainerID},
		{string(a.Key), string(b.Key)},
	} {
		if c := strings.Compare(pair[0], pair[1]); c != 0 {
			return c
		}
	}
	return bytes.Compare(a.Payload, b.Payload)
}

type ServerWinsResolver struct{}

func (ServerWinsResolver) Strategy() config.Strategy { return config.StrategyServerWins }

func (ServerWinsResolver) Resolve(local, remote board.Item) Decision {
	return Decision{Winner: remote, Reason: "server wins"}
}

type ClientWinsResolver struct{}

func (ClientWinsResolver) Strategy() config.Strategy { return config.StrategyClientWins }

func (ClientWinsResolver) Resolve(local, remote board.Item) Decision {
	return Decision{Winner: local, KeepLocal: true, Reason: "client wins"}
}

// UserPriorityResolver keeps the version authored by the higher-priority
// user. Unknown users rank 0. Without priority data, or on equal priority,
// it falls back to TimestampResolver.
type UserPriorityResolver struct {
	Priorities map[string]int
}

func (UserPriorityResolver) Strategy() config.Strategy { return config.StrategyUserPriority }

func (r UserPriorityResolver) Resolve(local, remote board.Item) Decision {
	if len(r.Priorities) > 0 {
		pl, pr := r.Priorities[local.ModifiedBy], r.Priorities[remote.ModifiedBy]
		switch {
		case pl > pr:
			return Decision{Winner: local, KeepLocal: true, Reason: "local user has priority"}
		case pr > pl:
			return Decision{Winner: remote, Reason: "remote user has priority"}
		}
	}
	d := TimestampResolver{}.Resolve(local, remote)
	d.Reason = "no priority decision, " + d.Reason
	return d
}
