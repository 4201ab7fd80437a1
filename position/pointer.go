package position

// Layout is a snapshot of a scrollable container along its main axis.
type Layout struct {
	// ScrollOffset is how far the content is scrolled.
	ScrollOffset float64
	// LeadingInset is padding before the first item, in viewport units.
	LeadingInset float64
}

// Extent is an item's span in content coordinates.
type Extent struct {
	Start float64
	Size  float64
}

// Center is the midpoint of the extent.
func (e Extent) Center() float64 { return e.Start + e.Size/2 }

// ResolveDropIndexFromPointer maps a pointer offset within the viewport to a
// drop index. It finds the item whose center is closest to the pointer and
// drops before it when the pointer is above that center, after it otherwise.
// Extents are expected in display order.
func ResolveDropIndexFromPointer(offset float64, layout Layout, extents []Extent) int {
	if len(extents) == 0 {
		return 0
	}
	pos := offset + layout.ScrollOffset - layout.LeadingInset

	closest, best := 0, -1.0
	for i, e := range extents {
		d := pos - e.Center()
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			closest, best = i, d
		}
	}
	if pos < extents[closest].Center() {
		return closest
	}
	return closest + 1
}
