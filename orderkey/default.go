package orderkey

// First returns Default.First().
func First() Key { return Default.First() }

// Before returns Default.Before(k).
func Before(k Key) (Key, error) { return Default.Before(k) }

// After returns Default.After(k).
func After(k Key) (Key, error) { return Default.After(k) }

// Between returns Default.Between(lo, hi).
func Between(lo, hi Key) (Key, error) { return Default.Between(lo, hi) }

// Compare returns Default.Compare(x, y).
func Compare(x, y Key) int { return Default.Compare(x, y) }

// Less returns Default.Less(x, y).
func Less(x, y Key) bool { return Default.Less(x, y) }

// IsValid returns Default.IsValid(k).
func IsValid(k Key) bool { return Default.IsValid(k) }

// Rebalance returns Default.Rebalance(entries, maxLength).
func Rebalance(entries []Entry, maxLength int) map[string]Key {
	return Default.Rebalance(entries, maxLength)
}

// ToLegacyNumeric returns Default.ToLegacyNumeric(k).
func ToLegacyNumeric(k Key) uint64 { return Default.ToLegacyNumeric(k) }

// FromLegacyNumeric returns Default.FromLegacyNumeric(n).
func FromLegacyNumeric(n uint64) Key { return Default.FromLegacyNumeric(n) }
