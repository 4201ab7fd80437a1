package orderkey

import (
	"sort"
	"strings"
)

// Entry pairs an item identifier with its key.
type Entry struct {
	ID  string
	Key Key
}

// SortEntries orders entries by key, breaking ties by id.
func (a *Alphabet) SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := a.Compare(entries[i].Key, entries[j].Key); c != 0 {
			return c < 0
		}
		return entries[i].ID < entries[j].ID
	})
}

// NeedsRebalance reports whether any key is invalid, longer than maxLength
// (ignored when maxLength <= 0), or leaves no free slot to its successor.
func (a *Alphabet) NeedsRebalance(entries []Entry, maxLength int) bool {
	sorted := append([]Entry(nil), entries...)
	a.SortEntries(sorted)
	for i, e := range sorted {
		if !a.IsValid(e.Key) {
			return true
		}
		if maxLength > 0 && len(e.Key) > maxLength {
			return true
		}
		if i > 0 && a.FreeSlots(sorted[i-1].Key, e.Key) == 0 {
			return true
		}
	}
	return false
}

// Rebalance returns fresh, evenly spaced keys for every entry when
// NeedsRebalance holds, and nil otherwise. The existing relative order is
// preserved and neighbouring keys end up at least Base units apart, so none
// of them needs rebalancing again straight away.
func (a *Alphabet) Rebalance(entries []Entry, maxLength int) map[string]Key {
	if len(entries) == 0 || !a.NeedsRebalance(entries, maxLength) {
		return nil
	}
	return a.Distribute(entries)
}

// Distribute unconditionally assigns evenly spaced keys in the current order.
func (a *Alphabet) Distribute(entries []Entry) map[string]Key {
	sorted := append([]Entry(nil), entries...)
	a.SortEntries(sorted)

	base := uint64(len(a.chars))
	slots := uint64(len(sorted)) + 1
	need := slots * base
	width, span := 1, base
	for span < need {
		span *= base
		width++
	}
	step := span / slots

	out := make(map[string]Key, len(sorted))
	buf := make([]byte, width)
	for i, e := range sorted {
		a.encode(buf, uint64(i+1)*step)
		out[e.ID] = Key(strings.TrimRight(string(buf), string(a.chars[0])))
	}
	return out
}
