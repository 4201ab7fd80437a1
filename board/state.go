package board

import "github.com/c0deZ3R0/go-order-kit/orderkey"

// State is an item-by-id map stored as an arena slice plus an index. Each
// item has a single record, so moving it between containers is one Put and
// an item can never be listed in two containers at once.
//
// State is not safe for concurrent use; the coordinator guards it.
type State struct {
	alphabet *orderkey.Alphabet
	items    []Item
	index    map[string]int
}

// NewState returns a State seeded with items. Later duplicates replace
// earlier ones.
func NewState(a *orderkey.Alphabet, items ...Item) *State {
	if a == nil {
		a = orderkey.Default
	}
	s := &State{alphabet: a, index: make(map[string]int, len(items))}
	for _, it := range items {
		s.Put(it)
	}
	return s
}

// Alphabet returns the alphabet used for sorting.
func (s *State) Alphabet() *orderkey.Alphabet { return s.alphabet }

// Get returns the item with id.
func (s *State) Get(id string) (Item, bool) {
	i, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	return s.items[i], true
}

// Put inserts or replaces an item and returns the previous record, if any.
func (s *State) Put(it Item) (Item, bool) {
	if i, ok := s.index[it.ID]; ok {
		prev := s.items[i]
		s.items[i] = it
		return prev, true
	}
	s.index[it.ID] = len(s.items)
	s.items = append(s.items, it)
	return Item{}, false
}

// Delete removes the item with id, swapping the last arena slot into its place.
func (s *State) Delete(id string) (Item, bool) {
	i, ok := s.index[id]
	if !ok {
		return Item{}, false
	}
	prev := s.items[i]
	last := len(s.items) - 1
	if i != last {
		s.items[i] = s.items[last]
		s.index[s.items[i].ID] = i
	}
	s.items = s.items[:last]
	delete(s.index, id)
	return prev, true
}

// Container returns the sorted view of a container's items.
func (s *State) Container(id string) []Item {
	var out []Item
	for _, it := range s.items {
		if it.ContainerID == id {
			out = append(out, it)
		}
	}
	Sort(out, s.alphabet)
	return out
}

// Containers returns the distinct container ids present in the state.
func (s *State) Containers() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, it := range s.items {
		if _, ok := seen[it.ContainerID]; ok {
			continue
		}
		seen[it.ContainerID] = struct{}{}
		out = append(out, it.ContainerID)
	}
	return out
}

// Items returns a copy of every item in insertion order.
func (s *State) Items() []Item {
	return append([]Item(nil), s.items...)
}

// Len is the number of items.
func (s *State) Len() int { return len(s.items) }

// Clone returns an independent copy of the state.
func (s *State) Clone() *State {
	c := &State{
		alphabet: s.alphabet,
		items:    append([]Item(nil), s.items...),
		index:    make(map[string]int, len(s.index)),
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	return c
}
