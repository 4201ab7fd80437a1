package orderkey

// FromLegacyNumeric projects a legacy integer position into the key space.
// Positions above LegacyMax are clamped, so the mapping is monotone but not
// injective beyond that bound.
func (a *Alphabet) FromLegacyNumeric(n uint64) Key {
	if n > a.legacyMax {
		n = a.legacyMax
	}
	buf := make([]byte, a.legacyWidth+1)
	a.encode(buf[:a.legacyWidth], n)
	buf[a.legacyWidth] = a.Mid()
	return Key(buf)
}

// ToLegacyNumeric maps k onto the bounded integer range [0, LegacyMax]. It
// reads the first LegacyWidth digits of the key, so it is monotone but lossy:
// keys sharing that prefix map to the same number.
func (a *Alphabet) ToLegacyNumeric(k Key) uint64 {
	if a.IsLegacy(k) {
		return a.parseLegacy(string(k))
	}
	base := uint64(len(a.chars))
	var n uint64
	for i := 0; i < a.legacyWidth; i++ {
		d := a.digitAt(string(k), i)
		if d < 0 {
			d = 0
		}
		n = n*base + uint64(d)
	}
	return n
}

// parseLegacy reads a digit string, clamping at LegacyMax.
func (a *Alphabet) parseLegacy(s string) uint64 {
	var n uint64
	for i := 0; i < len(s); i++ {
		d := uint64(s[i] - '0')
		if d > a.legacyMax || n > (a.legacyMax-d)/10 {
			return a.legacyMax
		}
		n = n*10 + d
	}
	return n
}

// encode writes v into buf as fixed-width base-N digits, most significant first.
func (a *Alphabet) encode(buf []byte, v uint64) {
	base := uint64(len(a.chars))
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = a.chars[v%base]
		v /= base
	}
}
