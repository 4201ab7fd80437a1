// Package orderkey implements fractional-indexing order keys: strings over a
// fixed alphabet, read as base-N fractions, such that a new key can be
// generated between any two existing keys without renumbering siblings.
//
// Keys made only of decimal digits are legacy integer positions. They are
// accepted everywhere a key is accepted and compare numerically among
// themselves. Against alphabet keys they are projected with
// FromLegacyNumeric, so Compare stays a strict total order over both forms.
package orderkey

import (
	"fmt"

	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// Key is an opaque, immutable order key.
type Key string

func (k Key) String() string { return string(k) }

const (
	// Lowercase is the default alphabet; its midpoint is "n".
	Lowercase = "abcdefghijklmnopqrstuvwxyz"

	// Letters is a base-52 alphabet in rank order.
	Letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// DefaultLegacyWidth is the number of digits used to project legacy
	// integer positions into the fractional key space.
	DefaultLegacyWidth = 6
)

// Default is the lowercase alphabet with the default legacy width.
var Default = MustAlphabet(Lowercase)

// Alphabet is a positional numeral system for keys. Ranks are looked up by
// table and never derived from character codes.
type Alphabet struct {
	chars       string
	rank        [256]int
	legacyWidth int
	legacyMax   uint64
}

// Option configures an Alphabet.
type Option func(*Alphabet)

// WithLegacyWidth sets the number of digits legacy positions occupy.
func WithLegacyWidth(width int) Option {
	return func(a *Alphabet) { a.legacyWidth = width }
}

// NewAlphabet validates chars and builds the rank table. chars must hold at
// least four distinct printable ASCII characters in ascending rank order and
// no decimal digits, which are reserved for legacy positions.
func NewAlphabet(chars string, opts ...Option) (*Alphabet, error) {
	const op = "orderkey.NewAlphabet"

	if len(chars) < 4 {
		return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
			fmt.Sprintf("alphabet %q must have at least 4 characters", chars))
	}
	a := &Alphabet{chars: chars, legacyWidth: DefaultLegacyWidth}
	for i := range a.rank {
		a.rank[i] = -1
	}
	for i := 0; i < len(chars); i++ {
		c := chars[i]
		switch {
		case c <= ' ' || c > '~':
			return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
				fmt.Sprintf("alphabet character %q is not printable ASCII", c))
		case isDigit(c):
			return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
				fmt.Sprintf("alphabet character %q is a decimal digit", c))
		case a.rank[c] >= 0:
			return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
				fmt.Sprintf("alphabet character %q is repeated", c))
		}
		a.rank[c] = i
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.legacyWidth < 1 {
		return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
			fmt.Sprintf("legacy width %d must be positive", a.legacyWidth))
	}

	span := uint64(1)
	for i := 0; i < a.legacyWidth; i++ {
		if span > (1<<63)/uint64(len(chars)) {
			return nil, kiterr.E(kiterr.Op(op), kiterr.Component("orderkey"), kiterr.KindInvalid,
				fmt.Sprintf("legacy width %d overflows base %d", a.legacyWidth, len(chars)))
		}
		span *= uint64(len(chars))
	}
	a.legacyMax = span - 1
	return a, nil
}

// MustAlphabet is NewAlphabet that panics on error.
func MustAlphabet(chars string, opts ...Option) *Alphabet {
	a, err := NewAlphabet(chars, opts...)
	if err != nil {
		panic(err)
	}
	return a
}

// Chars returns the alphabet in rank order.
func (a *Alphabet) Chars() string { return a.chars }

// Base is the number of characters in the alphabet.
func (a *Alphabet) Base() int { return len(a.chars) }

// Min is the lowest-ranked character.
func (a *Alphabet) Min() byte { return a.chars[0] }

// Max is the highest-ranked character.
func (a *Alphabet) Max() byte { return a.chars[len(a.chars)-1] }

// Mid is the canonical middle character.
func (a *Alphabet) Mid() byte { return a.chars[len(a.chars)/2] }

// LegacyWidth is the digit count of projected legacy positions.
func (a *Alphabet) LegacyWidth() int { return a.legacyWidth }

// LegacyMax is the largest legacy position that projects without clamping.
func (a *Alphabet) LegacyMax() uint64 { return a.legacyMax }

// Rank returns the rank of c, or -1 when c is not in the alphabet.
func (a *Alphabet) Rank(c byte) int { return a.rank[c] }

// digitAt returns the rank at position i, treating positions past the end
// as the minimum (trailing zeros of the fraction).
func (a *Alphabet) digitAt(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	return a.rank[s[i]]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
