package orderkey

import (
	"fmt"
	"strings"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// gapCeiling bounds Gap so it cannot overflow on very long keys.
const gapCeiling = 1 << 50

// First returns the key used for the first item of an empty container.
func (a *Alphabet) First() Key {
	return Key(a.chars[len(a.chars)/2 : len(a.chars)/2+1])
}

// IsValid reports whether k is non-empty and is either all decimal digits
// (a legacy position) or all alphabet characters.
func (a *Alphabet) IsValid(k Key) bool {
	if k == "" {
		return false
	}
	if a.IsLegacy(k) {
		return true
	}
	for i := 0; i < len(k); i++ {
		if a.rank[k[i]] < 0 {
			return false
		}
	}
	return true
}

// IsLegacy reports whether k is a legacy integer position.
func (a *Alphabet) IsLegacy(k Key) bool {
	if k == "" {
		return false
	}
	for i := 0; i < len(k); i++ {
		if !isDigit(k[i]) {
			return false
		}
	}
	return true
}

// Compare returns -1, 0 or 1. Two legacy keys compare numerically; all other
// pairs compare by alphabet rank after projecting legacy keys.
func (a *Alphabet) Compare(x, y Key) int {
	if x == y {
		return 0
	}
	xl, yl := a.IsLegacy(x), a.IsLegacy(y)
	if xl && yl {
		return compareDecimal(string(x), string(y))
	}
	if c := a.compareRanks(a.fractional(x), a.fractional(y)); c != 0 {
		return c
	}
	switch {
	case xl && !yl:
		return -1
	case !xl && yl:
		return 1
	}
	return strings.Compare(string(x), string(y))
}

// Less reports whether x sorts before y.
func (a *Alphabet) Less(x, y Key) bool { return a.Compare(x, y) < 0 }

func (a *Alphabet) compareRanks(x, y string) int {
	n := len(x)
	if len(y) < n {
		n = len(y)
	}
	for i := 0; i < n; i++ {
		rx, ry := a.rank[x[i]], a.rank[y[i]]
		if rx != ry {
			if rx < ry {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(x) < len(y):
		return -1
	case len(x) > len(y):
		return 1
	}
	return 0
}

// compareDecimal compares digit strings by value without converting them to
// integers. Equal values fall back to the raw text so distinct keys never tie.
func compareDecimal(x, y string) int {
	tx, ty := strings.TrimLeft(x, "0"), strings.TrimLeft(y, "0")
	switch {
	case len(tx) < len(ty):
		return -1
	case len(tx) > len(ty):
		return 1
	}
	if c := strings.Compare(tx, ty); c != 0 {
		return c
	}
	return strings.Compare(x, y)
}

// fractional returns the alphabet form of k, projecting legacy positions.
func (a *Alphabet) fractional(k Key) string {
	if a.IsLegacy(k) {
		return string(a.FromLegacyNumeric(a.parseLegacy(string(k))))
	}
	return string(k)
}

// Before returns a key strictly less than k. The first character is
// decremented when possible; a leading minimum is kept and the remainder is
// decremented instead.
func (a *Alphabet) Before(k Key) (Key, error) {
	if !a.IsValid(k) {
		return "", kiterr.NewOrderingError(kiterr.OpBefore, fmt.Errorf("invalid key %q", k))
	}
	s, ok := a.before(a.fractional(k))
	if !ok {
		return "", kiterr.NewOrderingError(kiterr.OpBefore, fmt.Errorf("no key sorts before %q", k))
	}
	return Key(s), nil
}

func (a *Alphabet) before(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	r := a.rank[s[0]]
	switch {
	case r > 1:
		return string(a.chars[r-1]), true
	case r == 1:
		return string([]byte{a.chars[0], a.Mid()}), true
	}
	rest, ok := a.before(s[1:])
	if !ok {
		return "", false
	}
	return string(a.chars[0]) + rest, true
}

// After returns a key strictly greater than k. The last character is
// incremented when possible; otherwise the midpoint character is appended.
func (a *Alphabet) After(k Key) (Key, error) {
	if !a.IsValid(k) {
		return "", kiterr.NewOrderingError(kiterr.OpAfter, fmt.Errorf("invalid key %q", k))
	}
	s := a.fractional(k)
	last := a.rank[s[len(s)-1]]
	if last < len(a.chars)-1 {
		return Key(s[:len(s)-1] + string(a.chars[last+1])), nil
	}
	return Key(s + string(a.Mid())), nil
}

// Between returns a key strictly between lo and hi. lo must sort before hi;
// anything else is an ordering error.
func (a *Alphabet) Between(lo, hi Key) (Key, error) {
	if !a.IsValid(lo) || !a.IsValid(hi) {
		return "", kiterr.NewOrderingError(kiterr.OpBetween, fmt.Errorf("invalid bounds %q, %q", lo, hi))
	}
	if a.Compare(lo, hi) >= 0 {
		return "", kiterr.NewOrderingError(kiterr.OpBetween, fmt.Errorf("lower bound %q does not sort before upper bound %q", lo, hi))
	}
	s, ok := a.midpoint(a.fractional(lo), a.fractional(hi))
	if !ok {
		return "", kiterr.NewOrderingError(kiterr.OpBetween, fmt.Errorf("no key exists between %q and %q", lo, hi))
	}
	return Key(s), nil
}

// midpoint returns a key strictly between lo and hi in rank order. An empty
// lo is the bottom of the key space and an empty hi is the top.
func (a *Alphabet) midpoint(lo, hi string) (string, bool) {
	if hi != "" {
		n := 0
		for n < len(hi) && a.digitAt(lo, n) == a.rank[hi[n]] {
			n++
		}
		if n == len(hi) {
			// hi equals lo padded with minimums: nothing fits in between.
			return "", false
		}
		if n > 0 {
			rest, ok := a.midpoint(suffix(lo, n), hi[n:])
			if !ok {
				return "", false
			}
			return hi[:n] + rest, true
		}
	}

	dLo := a.digitAt(lo, 0)
	dHi := len(a.chars)
	if hi != "" {
		dHi = a.rank[hi[0]]
	}
	if dHi <= dLo {
		return "", false
	}
	if dHi-dLo > 1 {
		return string(a.chars[(dLo+dHi)/2]), true
	}
	// Adjacent digits: shorten hi if it has a tail, otherwise extend lo.
	if len(hi) > 1 {
		return hi[:1], true
	}
	rest, ok := a.midpoint(suffix(lo, 1), "")
	if !ok {
		return "", false
	}
	return string(a.chars[dLo]) + rest, true
}

func suffix(s string, n int) string {
	if n >= len(s) {
		return ""
	}
	return s[n:]
}

// Gap estimates the distance from lo to hi by reading both as base-N
// fractions at the precision of the longer key. It returns 0 when lo does not
// sort before hi and saturates for very distant keys.
func (a *Alphabet) Gap(lo, hi Key) uint64 {
	fl, fh := a.fractional(lo), a.fractional(hi)
	width := len(fl)
	if len(fh) > width {
		width = len(fh)
	}
	base := int64(len(a.chars))
	var gap int64
	started := false
	for i := 0; i < width; i++ {
		d := int64(a.digitAt(fh, i) - a.digitAt(fl, i))
		if !started {
			if d == 0 {
				continue
			}
			if d < 0 {
				return 0
			}
			started = true
			gap = d
			continue
		}
		if gap > gapCeiling/base {
			return gapCeiling
		}
		gap = gap*base + d
	}
	if gap < 0 {
		return 0
	}
	return uint64(gap)
}

// FreeSlots is the number of keys of the same precision that fit strictly
// between lo and hi. Zero means Between has to grow the key.
func (a *Alphabet) FreeSlots(lo, hi Key) uint64 {
	g := a.Gap(lo, hi)
	if g == 0 {
		return 0
	}
	return g - 1
}
