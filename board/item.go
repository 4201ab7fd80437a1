// Package board holds the data model shared by the ordering components:
// items, the derived per-container view, and the item-by-id state arena the
// coordinator mutates.
package board

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/c0deZ3R0/go-order-kit/orderkey"
)

// Item is a movable entry owned by exactly one container.
type Item struct {
	ID          string          `json:"id"`
	ContainerID string          `json:"container_id"`
	Key         orderkey.Key    `json:"key"`
	ModifiedAt  time.Time       `json:"modified_at"`
	ModifiedBy  string          `json:"modified_by,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// LogValue keeps payloads out of log lines.
func (i Item) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", i.ID),
		slog.String("container_id", i.ContainerID),
		slog.String("key", string(i.Key)),
		slog.Time("modified_at", i.ModifiedAt),
	)
}

// Moved returns a copy of i re-keyed into container at key.
func (i Item) Moved(container string, key orderkey.Key, at time.Time, by string) Item {
	out := i
	out.ContainerID = container
	out.Key = key
	out.ModifiedAt = at
	out.ModifiedBy = by
	return out
}

// Confidence estimates how likely a freshly generated key is to need
// rebalancing soon.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Sort orders items by key under alphabet a, ties broken by id.
func Sort(items []Item, a *orderkey.Alphabet) {
	if a == nil {
		a = orderkey.Default
	}
	sort.SliceStable(items, func(x, y int) bool {
		if c := a.Compare(items[x].Key, items[y].Key); c != 0 {
			return c < 0
		}
		return items[x].ID < items[y].ID
	})
}

// Entries projects items onto the key-only form used by rebalancing.
func Entries(items []Item) []orderkey.Entry {
	out := make([]orderkey.Entry, len(items))
	for i, it := range items {
		out[i] = orderkey.Entry{ID: it.ID, Key: it.Key}
	}
	return out
}
