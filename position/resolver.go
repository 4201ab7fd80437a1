// Package position turns drop gestures into order keys: a discrete drop
// index into a key for the moved item, and a pointer offset over a
// container layout into a drop index.
package position

import (
	"fmt"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// Drop is the outcome of resolving a drop index.
type Drop struct {
	Key        orderkey.Key
	Index      int // clamped index among the remaining items
	Confidence board.Confidence
	// NeedsServerValidation asks the authority to double-check ordering.
	NeedsServerValidation bool
}

// Resolver computes drop keys for one alphabet and configuration.
type Resolver struct {
	alphabet *orderkey.Alphabet
	cfg      config.Ordering
}

// NewResolver returns a Resolver. A nil alphabet is built from cfg.
func NewResolver(a *orderkey.Alphabet, cfg config.Ordering) (*Resolver, error) {
	if a == nil {
		var err error
		if a, err = cfg.NewAlphabet(); err != nil {
			return nil, err
		}
	}
	return &Resolver{alphabet: a, cfg: cfg}, nil
}

// Alphabet returns the resolver's alphabet.
func (r *Resolver) Alphabet() *orderkey.Alphabet { return r.alphabet }

// ResolveDropKey computes the key for an item dropped at dropIndex among
// items. The item identified by excludeID is ignored, so moving within the
// same container works on the remaining siblings. dropIndex is clamped into
// [0, N].
func (r *Resolver) ResolveDropKey(items []board.Item, dropIndex int, excludeID string) (Drop, error) {
	rest := make([]board.Item, 0, len(items))
	for _, it := range items {
		if it.ID != excludeID {
			rest = append(rest, it)
		}
	}
	board.Sort(rest, r.alphabet)

	n := len(rest)
	switch {
	case dropIndex < 0:
		dropIndex = 0
	case dropIndex > n:
		dropIndex = n
	}

	drop := Drop{Index: dropIndex}
	var err error
	switch {
	case n == 0:
		drop.Key = r.alphabet.First()
		drop.Confidence = board.ConfidenceHigh
	case dropIndex == 0:
		next := rest[0].Key
		drop.Key, err = r.alphabet.Before(next)
		drop.Confidence = r.edgeConfidence(next, drop.Key)
	case dropIndex == n:
		prev := rest[n-1].Key
		drop.Key, err = r.alphabet.After(prev)
		drop.Confidence = r.edgeConfidence(prev, drop.Key)
	case r.alphabet.Compare(rest[dropIndex-1].Key, rest[dropIndex].Key) == 0:
		drop, err = r.pastTie(rest, dropIndex)
	default:
		lo, hi := rest[dropIndex-1].Key, rest[dropIndex].Key
		drop.Key, err = r.alphabet.Between(lo, hi)
		drop.Confidence = r.gapConfidence(r.alphabet.FreeSlots(lo, hi))
	}
	if err != nil {
		return Drop{}, kiterr.E(kiterr.OpResolveDrop, kiterr.Component("position"), err,
			fmt.Sprintf("drop at index %d of %d", dropIndex, n))
	}

	drop.NeedsServerValidation = len(drop.Key) > r.cfg.MaxKeyLength || drop.Confidence == board.ConfidenceLow
	return drop, nil
}

// pastTie places a drop that lands between two siblings sharing a key.
// No key sorts strictly between them, so the item goes right after the run
// of equal keys and the authority is asked to validate the result.
func (r *Resolver) pastTie(rest []board.Item, dropIndex int) (Drop, error) {
	lo := rest[dropIndex-1].Key
	j := dropIndex
	for j < len(rest) && r.alphabet.Compare(rest[j].Key, lo) == 0 {
		j++
	}
	drop := Drop{Index: j, Confidence: board.ConfidenceLow}
	var err error
	if j == len(rest) {
		drop.Key, err = r.alphabet.After(lo)
	} else {
		drop.Key, err = r.alphabet.Between(lo, rest[j].Key)
	}
	return drop, err
}

// edgeConfidence is medium when inserting at an edge had to grow the key.
func (r *Resolver) edgeConfidence(neighbour, key orderkey.Key) board.Confidence {
	width := len(neighbour)
	if r.alphabet.IsLegacy(neighbour) {
		width = r.alphabet.LegacyWidth() + 1
	}
	if len(key) > width {
		return board.ConfidenceMedium
	}
	return board.ConfidenceHigh
}

func (r *Resolver) gapConfidence(free uint64) board.Confidence {
	switch {
	case free == 0:
		return board.ConfidenceLow
	case free < r.cfg.MediumGapSlots:
		return board.ConfidenceMedium
	}
	return board.ConfidenceHigh
}

// NeedsRebalancing reports whether the container's keys are degenerating:
// a key is invalid or longer than MaxKeyLength, or two neighbours are at
// most MinGap apart.
func (r *Resolver) NeedsRebalancing(items []board.Item) bool {
	sorted := append([]board.Item(nil), items...)
	board.Sort(sorted, r.alphabet)
	for i, it := range sorted {
		if !r.alphabet.IsValid(it.Key) || len(it.Key) > r.cfg.MaxKeyLength {
			return true
		}
		if i > 0 && r.alphabet.Gap(sorted[i-1].Key, it.Key) <= r.cfg.MinGap {
			return true
		}
	}
	return false
}

// Rebalance returns replacement keys for the container when
// NeedsRebalancing holds, and nil otherwise.
func (r *Resolver) Rebalance(items []board.Item) map[string]orderkey.Key {
	if len(items) == 0 || !r.NeedsRebalancing(items) {
		return nil
	}
	return r.alphabet.Distribute(board.Entries(items))
}
