package coordinator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-order-kit/board"
)

// JournalEvent names what a journal entry records.
type JournalEvent string

const (
	JournalConfirmed  JournalEvent = "confirmed"
	JournalFailed     JournalEvent = "failed"
	JournalRolledBack JournalEvent = "rolled_back"
	JournalSuperseded JournalEvent = "superseded"
	JournalExpired    JournalEvent = "expired"
	JournalConflict   JournalEvent = "conflict"
)

// JournalEntry is an audit record of a settled move or a conflict decision.
// Before is the pre-move (or local) version, After the resulting one.
type JournalEntry struct {
	ID       string       `json:"id"`
	MoveID   string       `json:"move_id,omitempty"`
	ItemID   string       `json:"item_id"`
	Event    JournalEvent `json:"event"`
	Before   board.Item   `json:"before"`
	After    board.Item   `json:"after"`
	Strategy string       `json:"strategy,omitempty"`
	Reason   string       `json:"reason,omitempty"`
	Error    string       `json:"error,omitempty"`
	At       time.Time    `json:"at"`
}

// Journal stores the audit trail.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
	History(ctx context.Context, itemID string) ([]JournalEntry, error)
}

// MemoryJournal is an in-memory Journal.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Record(ctx context.Context, entry JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

// History returns the entries for itemID oldest first. An empty itemID
// returns every entry.
func (j *MemoryJournal) History(ctx context.Context, itemID string) ([]JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []JournalEntry
	for _, e := range j.entries {
		if itemID == "" || e.ItemID == itemID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].At.Before(out[b].At) })
	return out, nil
}

type nopJournal struct{}

func (nopJournal) Record(context.Context, JournalEntry) error { return nil }
func (nopJournal) History(context.Context, string) ([]JournalEntry, error) {
	return nil, nil
}
